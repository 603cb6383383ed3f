package queue

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"clinicq/internal/models"
	"clinicq/internal/store"
)

type ClinicStatusView struct {
	ClinicID               string                `json:"clinic_id"`
	IsOpen                 bool                  `json:"is_open"`
	OperatingHours         models.OperatingHours `json:"operating_hours"`
	IsWithinOperatingHours bool                  `json:"is_within_operating_hours"`
	CurrentTime            string                `json:"current_time"`
	LastStatusChange       time.Time             `json:"last_status_change"`
	AutoClosed             bool                  `json:"auto_closed,omitempty"`
}

type clinicStatusEvent struct {
	ClinicID         string                `json:"clinic_id"`
	IsOpen           bool                  `json:"is_open"`
	OperatingHours   models.OperatingHours `json:"operating_hours"`
	LastStatusChange time.Time             `json:"last_status_change"`
}

// ToggleClinicStatus flips the clinic between open and closed. Opening starts
// a fresh session: waiting tickets are cancelled and every doctor's counter
// returns to 0.
func (s *Service) ToggleClinicStatus(ctx context.Context, clinicID string) (models.Clinic, error) {
	ctx, span := s.startSpan(ctx, "ToggleClinicStatus", attribute.String("clinic_id", clinicID))
	defer span.End()

	now := s.clock()
	var clinic models.Clinic
	var reset []string
	err := s.store.WithScope(ctx, models.Scope{ClinicID: clinicID}, func(l store.Ledger) error {
		current, err := l.GetClinic(ctx, clinicID)
		if err != nil {
			return err
		}
		open := !current.IsOpen
		if open && !current.OperatingHours.Contains(now) {
			return store.ErrOutsideHours
		}
		clinic, err = l.SetClinicOpen(ctx, clinicID, open, now)
		if err != nil {
			return err
		}
		if open {
			reset, err = s.resetClinic(ctx, l, clinicID, now)
		}
		return err
	})
	if err != nil {
		return models.Clinic{}, s.fail(span, err)
	}

	s.afterClinicChange(ctx, clinic, reset)
	s.logger.Info().Str("clinic_id", clinicID).Bool("is_open", clinic.IsOpen).Msg("clinic status changed")
	return clinic, nil
}

// ClinicStatus reports the clinic's state, closing it first when it is open
// outside its operating hours.
func (s *Service) ClinicStatus(ctx context.Context, clinicID string) (ClinicStatusView, error) {
	clinic, err := s.store.GetClinic(ctx, clinicID)
	if err != nil {
		return ClinicStatusView{}, store.Unavailable(err)
	}
	now := s.clock()
	within := clinic.OperatingHours.Contains(now)
	autoClosed := false
	if clinic.IsOpen && !within {
		closed, changed, err := s.autoClose(ctx, clinicID)
		if err != nil {
			return ClinicStatusView{}, err
		}
		clinic, autoClosed = closed, changed
	}
	return ClinicStatusView{
		ClinicID:               clinic.ClinicID,
		IsOpen:                 clinic.IsOpen,
		OperatingHours:         clinic.OperatingHours,
		IsWithinOperatingHours: within,
		CurrentTime:            now.Format("15:04"),
		LastStatusChange:       clinic.LastStatusChange,
		AutoClosed:             autoClosed,
	}, nil
}

// autoClose closes an open clinic that is outside its hours and resets its
// queues. It reports whether anything changed.
func (s *Service) autoClose(ctx context.Context, clinicID string) (models.Clinic, bool, error) {
	ctx, span := s.startSpan(ctx, "AutoClose", attribute.String("clinic_id", clinicID))
	defer span.End()

	now := s.clock()
	var clinic models.Clinic
	var reset []string
	changed := false
	err := s.store.WithScope(ctx, models.Scope{ClinicID: clinicID}, func(l store.Ledger) error {
		current, err := l.GetClinic(ctx, clinicID)
		if err != nil {
			return err
		}
		clinic = current
		if !current.IsOpen || current.OperatingHours.Contains(now) {
			return nil
		}
		clinic, err = l.SetClinicOpen(ctx, clinicID, false, now)
		if err != nil {
			return err
		}
		changed = true
		reset, err = s.resetClinic(ctx, l, clinicID, now)
		return err
	})
	if err != nil {
		return models.Clinic{}, false, s.fail(span, err)
	}
	if changed {
		s.afterClinicChange(ctx, clinic, reset)
		s.logger.Info().Str("clinic_id", clinicID).Msg("clinic auto-closed outside operating hours")
	}
	return clinic, changed, nil
}

// resetClinic cancels every waiting ticket of the clinic and zeroes the
// counters of all its scopes. It returns the doctor ids that were reset.
func (s *Service) resetClinic(ctx context.Context, l store.Ledger, clinicID string, now time.Time) ([]string, error) {
	filter := store.TicketFilter{ClinicID: clinicID}
	if _, err := l.Transition(ctx, store.TransitionInput{Filter: filter, To: models.StatusCancelled, At: now}); err != nil {
		return nil, err
	}
	if err := l.SetCounter(ctx, models.Scope{ClinicID: clinicID}.Key(), 0, now); err != nil {
		return nil, err
	}
	doctors, err := l.ListDoctors(ctx, clinicID, false)
	if err != nil {
		return nil, err
	}
	ids := make([]string, 0, len(doctors))
	for _, doctor := range doctors {
		scope := models.Scope{ClinicID: clinicID, DoctorID: doctor.DoctorID}
		if err := l.SetCounter(ctx, scope.Key(), 0, now); err != nil {
			return nil, err
		}
		ids = append(ids, doctor.DoctorID)
	}
	return ids, nil
}

func (s *Service) afterClinicChange(ctx context.Context, clinic models.Clinic, resetDoctors []string) {
	s.announceClinic(ctx, clinic.ClinicID)
	for _, doctorID := range resetDoctors {
		s.announce(ctx, models.Scope{ClinicID: clinic.ClinicID, DoctorID: doctorID}, nil)
	}
}

type AvailabilityResult struct {
	Doctor    models.Doctor `json:"doctor"`
	Cancelled int           `json:"cancelled"`
}

// SetDoctorAvailability sets (or, with a nil value, toggles) the doctor's
// real-time availability. Going unavailable cancels the doctor's waiting
// tickets and returns the counter to 0.
func (s *Service) SetDoctorAvailability(ctx context.Context, clinicID, doctorID string, available *bool) (AvailabilityResult, error) {
	ctx, span := s.startSpan(ctx, "SetDoctorAvailability", attribute.String("doctor_id", doctorID))
	defer span.End()

	scope := models.Scope{ClinicID: clinicID, DoctorID: doctorID}
	now := s.clock()
	var result AvailabilityResult
	var cancelled []models.Ticket
	err := s.store.WithScope(ctx, scope, func(l store.Ledger) error {
		doctor, err := l.GetDoctor(ctx, doctorID)
		if err != nil {
			return err
		}
		if doctor.ClinicID != clinicID {
			return store.ErrDoctorNotFound
		}
		next := !doctor.IsAvailable
		if available != nil {
			next = *available
		}
		doctor, err = l.SetDoctorAvailable(ctx, doctorID, next, now)
		if err != nil {
			return err
		}
		current := 0
		if !next {
			cancelled, err = l.Transition(ctx, store.TransitionInput{Filter: store.ScopeFilter(scope), To: models.StatusCancelled, At: now})
			if err != nil {
				return err
			}
			if err := l.SetCounter(ctx, scope.Key(), 0, now); err != nil {
				return err
			}
		} else if current, err = currentIn(ctx, l, scope.Key(), now); err != nil {
			return err
		}

		clinic, err := l.GetClinic(ctx, clinicID)
		if err != nil {
			return err
		}
		_, err = s.buildSnapshot(ctx, l, clinic, scope, current)
		if err != nil {
			return err
		}
		result = AvailabilityResult{Doctor: doctor, Cancelled: len(cancelled)}
		return nil
	})
	if err != nil {
		return AvailabilityResult{}, s.fail(span, err)
	}

	s.announce(ctx, scope, nil)
	for _, ticket := range cancelled {
		s.notify(ctx, ticket.PatientID, "Queue Cancelled", "Your doctor is no longer available today. Please book again later.")
	}
	s.logger.Info().Str("doctor_id", doctorID).Bool("is_available", result.Doctor.IsAvailable).Int("cancelled", result.Cancelled).Msg("doctor availability changed")
	return result, nil
}

// RemoveDoctor deletes a clinic's doctor. Their waiting tickets are cancelled
// in the same section so no patient is left holding a ticket in a queue that
// no longer exists.
func (s *Service) RemoveDoctor(ctx context.Context, clinicID, doctorID string) (int, error) {
	ctx, span := s.startSpan(ctx, "RemoveDoctor", attribute.String("doctor_id", doctorID))
	defer span.End()

	scope := models.Scope{ClinicID: clinicID, DoctorID: doctorID}
	now := s.clock()
	var cancelled []models.Ticket
	err := s.store.WithScope(ctx, scope, func(l store.Ledger) error {
		doctor, err := l.GetDoctor(ctx, doctorID)
		if err != nil {
			return err
		}
		if doctor.ClinicID != clinicID {
			return store.ErrDoctorNotFound
		}
		cancelled, err = l.Transition(ctx, store.TransitionInput{Filter: store.ScopeFilter(scope), To: models.StatusCancelled, At: now})
		if err != nil {
			return err
		}
		return l.DeleteDoctor(ctx, doctorID)
	})
	if err != nil {
		return 0, s.fail(span, err)
	}

	cancellationTotal.Add(int64(len(cancelled)))
	s.announce(ctx, scope, nil)
	for _, ticket := range cancelled {
		s.notify(ctx, ticket.PatientID, "Queue Cancelled", "Your doctor is no longer available at this clinic. Please book again.")
	}
	s.logger.Info().Str("doctor_id", doctorID).Int("cancelled", len(cancelled)).Msg("doctor removed")
	return len(cancelled), nil
}
