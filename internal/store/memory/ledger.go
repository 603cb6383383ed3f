package memory

import (
	"context"
	"time"

	"clinicq/internal/models"
	"clinicq/internal/store"
)

type ledger struct {
	state *state
}

func (l *ledger) GetClinic(ctx context.Context, clinicID string) (models.Clinic, error) {
	return l.state.getClinic(clinicID)
}

func (l *ledger) GetDoctor(ctx context.Context, doctorID string) (models.Doctor, error) {
	return l.state.getDoctor(doctorID)
}

func (l *ledger) GetPatient(ctx context.Context, patientID string) (models.Patient, error) {
	return l.state.getPatient(patientID)
}

func (l *ledger) GetTicket(ctx context.Context, ticketID string) (models.Ticket, error) {
	return l.state.getTicket(ticketID)
}

func (l *ledger) ListDoctors(ctx context.Context, clinicID string, activeOnly bool) ([]models.Doctor, error) {
	return l.state.listDoctors(clinicID, activeOnly), nil
}

func (l *ledger) ListTickets(ctx context.Context, filter store.TicketFilter) ([]models.Ticket, error) {
	return l.state.listTickets(filter), nil
}

func (l *ledger) CountTickets(ctx context.Context, filter store.TicketFilter) (int, error) {
	filter.Limit = 0
	return len(l.state.listTickets(filter)), nil
}

func (l *ledger) MaxNumber(ctx context.Context, filter store.TicketFilter) (int, error) {
	max := 0
	for _, ticket := range l.state.tickets {
		if filter.Match(ticket) && ticket.Number > max {
			max = ticket.Number
		}
	}
	return max, nil
}

func (l *ledger) GetCounter(ctx context.Context, key string) (int, bool, error) {
	value, ok := l.state.counters[key]
	return value, ok, nil
}

func (l *ledger) SetCounter(ctx context.Context, key string, value int, at time.Time) error {
	l.state.counters[key] = value
	return nil
}

func (l *ledger) DeleteDoctor(ctx context.Context, doctorID string) error {
	doctor, err := l.state.getDoctor(doctorID)
	if err != nil {
		return err
	}
	delete(l.state.doctors, doctorID)
	delete(l.state.counters, models.Scope{ClinicID: doctor.ClinicID, DoctorID: doctorID}.Key())
	for id, ticket := range l.state.tickets {
		if ticket.DoctorID == doctorID {
			ticket.DoctorID = ""
			l.state.tickets[id] = ticket
		}
	}
	return nil
}

func (l *ledger) SetClinicOpen(ctx context.Context, clinicID string, open bool, at time.Time) (models.Clinic, error) {
	clinic, err := l.state.getClinic(clinicID)
	if err != nil {
		return models.Clinic{}, err
	}
	clinic.IsOpen = open
	clinic.LastStatusChange = at
	l.state.clinics[clinicID] = clinic
	return clinic, nil
}

func (l *ledger) SetDoctorAvailable(ctx context.Context, doctorID string, available bool, at time.Time) (models.Doctor, error) {
	doctor, err := l.state.getDoctor(doctorID)
	if err != nil {
		return models.Doctor{}, err
	}
	doctor.IsAvailable = available
	doctor.LastStatusChange = at
	l.state.doctors[doctorID] = doctor
	return doctor, nil
}

func (l *ledger) CreateTicket(ctx context.Context, ticket models.Ticket) error {
	patient, err := l.state.getPatient(ticket.PatientID)
	if err != nil {
		return err
	}
	if patient.CurrentTicketID != nil {
		return store.ErrAlreadyQueued
	}
	for _, existing := range l.state.tickets {
		if existing.Status == models.StatusWaiting && existing.Scope() == ticket.Scope() && existing.Number == ticket.Number {
			return store.ErrConflictRace
		}
	}
	ticket.Status = models.StatusWaiting
	ticket.PatientName = ""
	ticket.PatientPhone = ""
	l.state.tickets[ticket.TicketID] = ticket

	ticketID := ticket.TicketID
	patient.CurrentTicketID = &ticketID
	l.state.patients[patient.PatientID] = patient
	return l.state.appendEvent(ticket, ticket.BookedAt)
}

func (l *ledger) Transition(ctx context.Context, input store.TransitionInput) ([]models.Ticket, error) {
	if !store.ValidTransition(input.To, models.StatusWaiting) {
		return nil, store.ErrInvalidState
	}
	filter := input.Filter
	filter.Statuses = []string{models.StatusWaiting}
	matched := l.state.listTickets(filter)

	moved := make([]models.Ticket, 0, len(matched))
	for _, ticket := range matched {
		stored := l.state.tickets[ticket.TicketID]
		stored.Stamp(input.To, input.At)
		l.state.tickets[stored.TicketID] = stored

		if patient, ok := l.state.patients[stored.PatientID]; ok {
			if patient.CurrentTicketID != nil && *patient.CurrentTicketID == stored.TicketID {
				patient.CurrentTicketID = nil
			}
			if !containsID(patient.History, stored.TicketID) {
				patient.History = append(patient.History, stored.TicketID)
			}
			l.state.patients[patient.PatientID] = patient
		}
		if err := l.state.appendEvent(stored, input.At); err != nil {
			return nil, err
		}
		moved = append(moved, l.state.populate(stored))
	}
	return moved, nil
}

func containsID(ids []string, id string) bool {
	for _, existing := range ids {
		if existing == id {
			return true
		}
	}
	return false
}
