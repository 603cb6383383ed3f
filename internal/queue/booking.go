package queue

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"

	"clinicq/internal/models"
	"clinicq/internal/store"
)

type BookInput struct {
	ClinicID  string
	DoctorID  string
	PatientID string
}

type BookResult struct {
	Ticket        models.Ticket   `json:"ticket"`
	EstimatedWait int             `json:"estimated_wait"`
	Snapshot      models.Snapshot `json:"-"`
}

// BookTicket issues the next ticket number in the doctor's queue.
func (s *Service) BookTicket(ctx context.Context, in BookInput) (BookResult, error) {
	ctx, span := s.startSpan(ctx, "BookTicket",
		attribute.String("clinic_id", in.ClinicID), attribute.String("doctor_id", in.DoctorID))
	defer span.End()

	if in.ClinicID == "" || in.DoctorID == "" || in.PatientID == "" {
		return BookResult{}, s.fail(span, fmt.Errorf("%w: clinic, doctor and patient are required", store.ErrValidation))
	}

	scope := models.Scope{ClinicID: in.ClinicID, DoctorID: in.DoctorID}
	now := s.clock()
	var result BookResult
	err := s.store.WithScope(ctx, scope, func(l store.Ledger) error {
		clinic, err := l.GetClinic(ctx, in.ClinicID)
		if err != nil {
			return err
		}
		if !clinic.IsOpen {
			return store.ErrClinicClosed
		}
		if !clinic.OperatingHours.Contains(now) {
			return store.ErrOutsideHours
		}
		doctor, err := l.GetDoctor(ctx, in.DoctorID)
		if err != nil {
			return err
		}
		if doctor.ClinicID != clinic.ClinicID {
			return store.ErrDoctorNotFound
		}
		if !doctor.AcceptsBookings() {
			return store.ErrDoctorUnavailable
		}
		patient, err := l.GetPatient(ctx, in.PatientID)
		if err != nil {
			return err
		}
		if patient.CurrentTicketID != nil {
			return store.ErrAlreadyQueued
		}

		number, fresh, err := s.policy.Next(ctx, l, clinic, scope, now)
		if err != nil {
			return err
		}
		current := 0
		if fresh {
			if err := l.SetCounter(ctx, scope.Key(), 0, now); err != nil {
				return err
			}
		} else if current, err = currentIn(ctx, l, scope.Key(), now); err != nil {
			return err
		}

		if clinic.MaxActiveQueues > 0 {
			waiting, err := l.CountTickets(ctx, store.WaitingAfter(scope, 0, 0))
			if err != nil {
				return err
			}
			if waiting >= clinic.MaxActiveQueues {
				return store.ErrQueueFull
			}
		}

		ticket := models.Ticket{
			TicketID:  uuid.NewString(),
			ClinicID:  clinic.ClinicID,
			DoctorID:  doctor.DoctorID,
			PatientID: patient.PatientID,
			Number:    number,
			Status:    models.StatusWaiting,
			BookedAt:  now,
		}
		if err := l.CreateTicket(ctx, ticket); err != nil {
			return err
		}
		ticket.PatientName = patient.Name
		ticket.PatientPhone = patient.Phone

		snap, err := s.buildSnapshot(ctx, l, clinic, scope, current)
		if err != nil {
			return err
		}
		result = BookResult{Ticket: ticket, EstimatedWait: snap.EstimatedWait, Snapshot: snap}
		return nil
	})
	if err != nil {
		return BookResult{}, s.fail(span, err)
	}

	bookingsTotal.Add(1)
	s.announce(ctx, scope, nil)
	s.notify(ctx, result.Ticket.PatientID, "Booking Confirmed", fmt.Sprintf("Your queue number is %d", result.Ticket.Number))
	s.logger.Info().
		Str("clinic_id", in.ClinicID).
		Str("doctor_id", in.DoctorID).
		Int("number", result.Ticket.Number).
		Msg("ticket booked")
	return result, nil
}

type RegisterAndBookInput struct {
	ClinicID string
	DoctorID string
	Name     string
	Phone    string
}

// RegisterAndBook finds the patient by phone, creating them when absent, and
// books a ticket for them.
func (s *Service) RegisterAndBook(ctx context.Context, in RegisterAndBookInput) (models.Patient, BookResult, error) {
	phone := strings.TrimSpace(in.Phone)
	if phone == "" || strings.TrimSpace(in.Name) == "" {
		return models.Patient{}, BookResult{}, fmt.Errorf("%w: name and phone are required", store.ErrValidation)
	}

	clinic, err := s.store.GetClinic(ctx, in.ClinicID)
	if err != nil {
		return models.Patient{}, BookResult{}, store.Unavailable(err)
	}
	if !clinic.IsOpen {
		return models.Patient{}, BookResult{}, store.ErrClinicClosed
	}

	patient, err := s.store.GetPatientByPhone(ctx, phone)
	if errors.Is(err, store.ErrPatientNotFound) {
		patient, err = s.store.CreatePatient(ctx, models.Patient{Name: strings.TrimSpace(in.Name), Phone: phone})
		if errors.Is(err, store.ErrPhoneTaken) {
			patient, err = s.store.GetPatientByPhone(ctx, phone)
		}
	}
	if err != nil {
		return models.Patient{}, BookResult{}, store.Unavailable(err)
	}

	result, err := s.BookTicket(ctx, BookInput{ClinicID: in.ClinicID, DoctorID: in.DoctorID, PatientID: patient.PatientID})
	if err != nil {
		return patient, BookResult{}, err
	}
	ticketID := result.Ticket.TicketID
	patient.CurrentTicketID = &ticketID
	return patient, result, nil
}
