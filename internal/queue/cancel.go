package queue

import (
	"context"
	"errors"
	"fmt"

	"go.opentelemetry.io/otel/attribute"

	"clinicq/internal/models"
	"clinicq/internal/store"
)

type CancelInput struct {
	TicketID string
	// PatientID or ClinicID names the caller; the ticket must belong to it.
	PatientID string
	ClinicID  string
}

// CancelTicket cancels a waiting ticket. Tickets that are missing, owned by
// someone else or already terminal all fail with ErrNotFoundOrAlreadyProcessed.
func (s *Service) CancelTicket(ctx context.Context, in CancelInput) (models.Ticket, error) {
	ctx, span := s.startSpan(ctx, "CancelTicket", attribute.String("ticket_id", in.TicketID))
	defer span.End()

	if in.TicketID == "" || (in.PatientID == "" && in.ClinicID == "") {
		return models.Ticket{}, s.fail(span, fmt.Errorf("%w: ticket and owner are required", store.ErrValidation))
	}

	ticket, err := s.store.GetTicket(ctx, in.TicketID)
	if errors.Is(err, store.ErrTicketNotFound) {
		return models.Ticket{}, s.fail(span, store.ErrNotFoundOrAlreadyProcessed)
	}
	if err != nil {
		return models.Ticket{}, s.fail(span, err)
	}

	scope := ticket.Scope()
	now := s.clock()
	var cancelled models.Ticket
	var snap models.Snapshot
	err = s.store.WithScope(ctx, scope, func(l store.Ledger) error {
		filter := store.TicketFilter{TicketID: in.TicketID, PatientID: in.PatientID, ClinicID: in.ClinicID}
		moved, err := l.Transition(ctx, store.TransitionInput{Filter: filter, To: models.StatusCancelled, At: now})
		if err != nil {
			return err
		}
		if len(moved) == 0 {
			return store.ErrNotFoundOrAlreadyProcessed
		}
		cancelled = moved[0]

		clinic, err := l.GetClinic(ctx, scope.ClinicID)
		if err != nil {
			return err
		}
		current, _, err := l.GetCounter(ctx, scope.Key())
		if err != nil {
			return err
		}
		snap, err = s.buildSnapshot(ctx, l, clinic, scope, current)
		if err != nil {
			return err
		}
		number := cancelled.Number
		snap.CancelledNumber = &number
		return nil
	})
	if err != nil {
		return models.Ticket{}, s.fail(span, err)
	}

	cancellationTotal.Add(1)
	s.announce(ctx, scope, snap.CancelledNumber)
	s.logger.Info().Str("ticket_id", cancelled.TicketID).Int("number", cancelled.Number).Msg("ticket cancelled")
	return cancelled, nil
}

// CancelCurrentBooking cancels the patient's active ticket, if any.
func (s *Service) CancelCurrentBooking(ctx context.Context, patientID string) (models.Ticket, error) {
	patient, err := s.store.GetPatient(ctx, patientID)
	if err != nil {
		return models.Ticket{}, store.Unavailable(err)
	}
	if patient.CurrentTicketID == nil {
		return models.Ticket{}, store.ErrNotFoundOrAlreadyProcessed
	}
	return s.CancelTicket(ctx, CancelInput{TicketID: *patient.CurrentTicketID, PatientID: patientID})
}
