package queue

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel/attribute"

	"clinicq/internal/models"
	"clinicq/internal/store"
)

const (
	ActionNext     = "next"
	ActionSpecific = "specific"
)

type AdvanceInput struct {
	// ClinicID, when set, must own the doctor.
	ClinicID string
	DoctorID string
	Action   string
	Number   int
}

type AdvanceResult struct {
	CurrentNumber  int             `json:"current_number"`
	PreviousNumber int             `json:"previous_number"`
	ServedCount    int             `json:"served_count"`
	MissedCount    int             `json:"missed_count"`
	Served         []models.Ticket `json:"served"`
	Missed         []models.Ticket `json:"missed"`
	Upcoming       []models.Ticket `json:"upcoming"`
	TotalWaiting   int             `json:"total_waiting"`
	EstimatedWait  int             `json:"estimated_wait"`
	HasNextPatient bool            `json:"has_next_patient"`
	Snapshot       models.Snapshot `json:"-"`
}

// AdvanceQueue moves the doctor's serving number forward. Waiting tickets
// strictly between the previous and new number become missed; every other
// waiting ticket at or below the new number becomes served. The counter write
// and every status change commit together.
func (s *Service) AdvanceQueue(ctx context.Context, in AdvanceInput) (AdvanceResult, error) {
	ctx, span := s.startSpan(ctx, "AdvanceQueue",
		attribute.String("doctor_id", in.DoctorID), attribute.String("action", in.Action))
	defer span.End()

	if in.DoctorID == "" {
		return AdvanceResult{}, s.fail(span, fmt.Errorf("%w: doctor is required", store.ErrValidation))
	}
	switch in.Action {
	case ActionNext:
	case ActionSpecific:
		if in.Number <= 0 {
			return AdvanceResult{}, s.fail(span, fmt.Errorf("%w: number must be positive", store.ErrValidation))
		}
	default:
		return AdvanceResult{}, s.fail(span, fmt.Errorf("%w: action must be %q or %q", store.ErrValidation, ActionNext, ActionSpecific))
	}

	doctor, err := s.store.GetDoctor(ctx, in.DoctorID)
	if err != nil {
		return AdvanceResult{}, s.fail(span, err)
	}
	if in.ClinicID != "" && doctor.ClinicID != in.ClinicID {
		return AdvanceResult{}, s.fail(span, store.ErrDoctorNotFound)
	}

	scope := models.Scope{ClinicID: doctor.ClinicID, DoctorID: doctor.DoctorID}
	now := s.clock()
	var result AdvanceResult
	err = s.store.WithScope(ctx, scope, func(l store.Ledger) error {
		clinic, err := l.GetClinic(ctx, scope.ClinicID)
		if err != nil {
			return err
		}
		if _, err := l.GetDoctor(ctx, scope.DoctorID); err != nil {
			return err
		}
		previous, err := currentIn(ctx, l, scope.Key(), now)
		if err != nil {
			return err
		}

		target := in.Number
		if in.Action == ActionNext {
			next, err := l.ListTickets(ctx, store.WaitingAfter(scope, previous, 1))
			if err != nil {
				return err
			}
			if len(next) == 0 {
				return store.ErrNoMoreInScope
			}
			target = next[0].Number
		}

		if err := l.SetCounter(ctx, scope.Key(), target, now); err != nil {
			return err
		}

		missedFilter := store.ScopeFilter(scope)
		missedFilter.AfterNumber = previous
		missedFilter.BeforeNumber = target
		missed, err := l.Transition(ctx, store.TransitionInput{Filter: missedFilter, To: models.StatusMissed, At: now})
		if err != nil {
			return err
		}

		servedFilter := store.ScopeFilter(scope)
		servedFilter.BeforeNumber = target + 1
		served, err := l.Transition(ctx, store.TransitionInput{Filter: servedFilter, To: models.StatusServed, At: now})
		if err != nil {
			return err
		}

		snap, err := s.buildSnapshot(ctx, l, clinic, scope, target)
		if err != nil {
			return err
		}
		result = AdvanceResult{
			CurrentNumber:  target,
			PreviousNumber: previous,
			ServedCount:    len(served),
			MissedCount:    len(missed),
			Served:         served,
			Missed:         missed,
			Upcoming:       snap.Upcoming,
			TotalWaiting:   snap.TotalWaiting,
			EstimatedWait:  snap.EstimatedWait,
			HasNextPatient: snap.HasNextPatient,
			Snapshot:       snap,
		}
		return nil
	})
	if err != nil {
		return AdvanceResult{}, s.fail(span, err)
	}

	advancesTotal.Add(1)
	s.announce(ctx, scope, nil)
	for i, ticket := range result.Upcoming {
		if i >= s.notifyAhead {
			break
		}
		s.notify(ctx, ticket.PatientID, "Queue Update", fmt.Sprintf("Your turn is coming up! Position: %d", i+1))
	}
	s.logger.Info().
		Str("doctor_id", scope.DoctorID).
		Int("previous", result.PreviousNumber).
		Int("current", result.CurrentNumber).
		Int("served", result.ServedCount).
		Int("missed", result.MissedCount).
		Msg("queue advanced")
	return result, nil
}
