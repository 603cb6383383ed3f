package queue

import (
	"context"

	"golang.org/x/sync/errgroup"

	"clinicq/internal/models"
	"clinicq/internal/store"
)

// GetSnapshot returns the live view of a doctor's queue, or of the whole
// clinic when doctorID is empty. It reads the ledger directly and never
// mutates state.
func (s *Service) GetSnapshot(ctx context.Context, clinicID, doctorID string) (models.Snapshot, error) {
	scope := models.Scope{ClinicID: clinicID, DoctorID: doctorID}
	if scope.IsDoctor() {
		doctor, err := s.store.GetDoctor(ctx, doctorID)
		if err != nil {
			return models.Snapshot{}, store.Unavailable(err)
		}
		if doctor.ClinicID != clinicID {
			return models.Snapshot{}, store.ErrDoctorNotFound
		}
	}
	snap, err := s.readSnapshot(ctx, scope)
	if err != nil {
		return models.Snapshot{}, store.Unavailable(err)
	}
	return snap, nil
}

// PatientStatus describes the patient's active ticket.
func (s *Service) PatientStatus(ctx context.Context, patientID string) (models.PatientQueueStatus, error) {
	patient, err := s.store.GetPatient(ctx, patientID)
	if err != nil {
		return models.PatientQueueStatus{}, store.Unavailable(err)
	}
	if patient.CurrentTicketID == nil {
		return models.PatientQueueStatus{}, store.ErrTicketNotFound
	}
	ticket, err := s.store.GetTicket(ctx, *patient.CurrentTicketID)
	if err != nil {
		return models.PatientQueueStatus{}, store.Unavailable(err)
	}
	var clinic models.Clinic
	var current int
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		clinic, err = s.store.GetClinic(gctx, ticket.ClinicID)
		return err
	})
	g.Go(func() error {
		var err error
		current, _, err = s.store.GetCounter(gctx, ticket.Scope().Key())
		return err
	})
	if err := g.Wait(); err != nil {
		return models.PatientQueueStatus{}, store.Unavailable(err)
	}

	position := ticket.Number - current
	if position < 0 {
		position = 0
	}
	return models.PatientQueueStatus{
		TicketID:       ticket.TicketID,
		ClinicID:       clinic.ClinicID,
		ClinicName:     clinic.Name,
		ClinicAddress:  clinic.Address,
		DoctorID:       ticket.DoctorID,
		QueueNumber:    ticket.Number,
		CurrentServing: current,
		Position:       position,
		EstimatedWait:  EstimateWait(position, clinic.AverageProcessTime),
		Status:         ticket.Status,
	}, nil
}

// PatientHistory lists the patient's finished tickets, newest first.
func (s *Service) PatientHistory(ctx context.Context, patientID string) ([]models.Ticket, error) {
	if _, err := s.store.GetPatient(ctx, patientID); err != nil {
		return nil, store.Unavailable(err)
	}
	tickets, err := s.store.ListTickets(ctx, store.TicketFilter{
		PatientID:   patientID,
		Statuses:    []string{models.StatusServed, models.StatusMissed, models.StatusCancelled},
		NewestFirst: true,
	})
	if err != nil {
		return nil, store.Unavailable(err)
	}
	return tickets, nil
}

const analyticsLimit = 50

type Analytics struct {
	Waiting   []models.Ticket `json:"waiting"`
	Served    []models.Ticket `json:"served"`
	Missed    []models.Ticket `json:"missed"`
	Cancelled []models.Ticket `json:"cancelled"`
	Counts    map[string]int  `json:"counts"`
}

// ClinicAnalytics returns the most recent tickets of the clinic per status.
func (s *Service) ClinicAnalytics(ctx context.Context, clinicID string) (Analytics, error) {
	if _, err := s.store.GetClinic(ctx, clinicID); err != nil {
		return Analytics{}, store.Unavailable(err)
	}

	statuses := []string{models.StatusWaiting, models.StatusServed, models.StatusMissed, models.StatusCancelled}
	lists := make([][]models.Ticket, len(statuses))
	counts := make([]int, len(statuses))
	g, gctx := errgroup.WithContext(ctx)
	for i, status := range statuses {
		i, status := i, status
		filter := store.TicketFilter{ClinicID: clinicID, Statuses: []string{status}}
		g.Go(func() error {
			recent := filter
			recent.Limit = analyticsLimit
			recent.NewestFirst = true
			tickets, err := s.store.ListTickets(gctx, recent)
			if err != nil {
				return err
			}
			count, err := s.store.CountTickets(gctx, filter)
			if err != nil {
				return err
			}
			lists[i], counts[i] = tickets, count
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return Analytics{}, store.Unavailable(err)
	}

	out := Analytics{
		Waiting:   lists[0],
		Served:    lists[1],
		Missed:    lists[2],
		Cancelled: lists[3],
		Counts:    make(map[string]int, len(statuses)),
	}
	for i, status := range statuses {
		out.Counts[status] = counts[i]
	}
	return out, nil
}
