package store

import (
	"errors"
	"fmt"
)

var (
	ErrValidation = errors.New("validation failed")

	ErrClinicNotFound  = errors.New("clinic not found")
	ErrDoctorNotFound  = errors.New("doctor not found")
	ErrPatientNotFound = errors.New("patient not found")
	ErrTicketNotFound  = errors.New("ticket not found")

	ErrClinicClosed      = errors.New("clinic is currently closed")
	ErrOutsideHours      = errors.New("clinic is outside operating hours")
	ErrDoctorUnavailable = errors.New("doctor is not available")
	ErrAlreadyQueued     = errors.New("patient already has an active queue")
	ErrQueueFull         = errors.New("queue is full")
	ErrEmailTaken        = errors.New("email already registered")
	ErrPhoneTaken        = errors.New("phone number already registered")

	ErrNoMoreInScope              = errors.New("no more patients to serve")
	ErrNotFoundOrAlreadyProcessed = errors.New("queue not found or already processed")
	ErrInvalidState               = errors.New("invalid ticket state")
	ErrConflictRace               = errors.New("concurrent queue update detected")
	ErrUnavailable                = errors.New("store unavailable")
)

// Unavailable wraps an unexpected backend failure so callers can classify it.
// Known sentinels pass through unchanged.
func Unavailable(err error) error {
	if err == nil || IsKnown(err) {
		return err
	}
	return fmt.Errorf("%w: %w", ErrUnavailable, err)
}

func IsKnown(err error) bool {
	for _, known := range []error{
		ErrClinicNotFound, ErrDoctorNotFound, ErrPatientNotFound, ErrTicketNotFound,
		ErrValidation, ErrClinicClosed, ErrOutsideHours, ErrDoctorUnavailable, ErrAlreadyQueued, ErrQueueFull,
		ErrEmailTaken, ErrPhoneTaken, ErrNoMoreInScope, ErrNotFoundOrAlreadyProcessed,
		ErrInvalidState, ErrConflictRace, ErrUnavailable,
	} {
		if errors.Is(err, known) {
			return true
		}
	}
	return false
}
