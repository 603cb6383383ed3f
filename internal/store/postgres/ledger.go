package postgres

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"

	"clinicq/internal/models"
	"clinicq/internal/store"
)

type ledger struct {
	tx pgx.Tx
}

func (l *ledger) GetClinic(ctx context.Context, clinicID string) (models.Clinic, error) {
	return getClinic(ctx, l.tx, clinicID, false)
}

func (l *ledger) GetDoctor(ctx context.Context, doctorID string) (models.Doctor, error) {
	return scanDoctor(l.tx.QueryRow(ctx, `SELECT `+doctorColumns+` FROM doctors WHERE doctor_id = $1`, doctorID))
}

func (l *ledger) GetPatient(ctx context.Context, patientID string) (models.Patient, error) {
	return getPatient(ctx, l.tx, patientID)
}

func (l *ledger) GetTicket(ctx context.Context, ticketID string) (models.Ticket, error) {
	return getTicket(ctx, l.tx, ticketID)
}

func (l *ledger) ListDoctors(ctx context.Context, clinicID string, activeOnly bool) ([]models.Doctor, error) {
	return listDoctors(ctx, l.tx, clinicID, activeOnly)
}

func (l *ledger) ListTickets(ctx context.Context, filter store.TicketFilter) ([]models.Ticket, error) {
	return listTickets(ctx, l.tx, filter)
}

func (l *ledger) CountTickets(ctx context.Context, filter store.TicketFilter) (int, error) {
	return countTickets(ctx, l.tx, filter)
}

func (l *ledger) MaxNumber(ctx context.Context, filter store.TicketFilter) (int, error) {
	return maxNumber(ctx, l.tx, filter)
}

func (l *ledger) GetCounter(ctx context.Context, key string) (int, bool, error) {
	return getCounter(ctx, l.tx, key)
}

func (l *ledger) SetCounter(ctx context.Context, key string, value int, at time.Time) error {
	_, err := l.tx.Exec(ctx, `
		INSERT INTO serving_counters (scope_key, current_number, updated_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (scope_key)
		DO UPDATE SET current_number = EXCLUDED.current_number, updated_at = EXCLUDED.updated_at
	`, key, value, at)
	return err
}

func (l *ledger) DeleteDoctor(ctx context.Context, doctorID string) error {
	var clinicID string
	err := l.tx.QueryRow(ctx, `DELETE FROM doctors WHERE doctor_id = $1 RETURNING clinic_id`, doctorID).Scan(&clinicID)
	if errors.Is(err, pgx.ErrNoRows) {
		return store.ErrDoctorNotFound
	}
	if err != nil {
		return err
	}
	_, err = l.tx.Exec(ctx, `DELETE FROM serving_counters WHERE scope_key = $1`, models.Scope{ClinicID: clinicID, DoctorID: doctorID}.Key())
	return err
}

func (l *ledger) SetClinicOpen(ctx context.Context, clinicID string, open bool, at time.Time) (models.Clinic, error) {
	return scanClinic(l.tx.QueryRow(ctx, `
		UPDATE clinics SET is_open = $2, last_status_change = $3
		WHERE clinic_id = $1
		RETURNING `+clinicColumns, clinicID, open, at))
}

func (l *ledger) SetDoctorAvailable(ctx context.Context, doctorID string, available bool, at time.Time) (models.Doctor, error) {
	return scanDoctor(l.tx.QueryRow(ctx, `
		UPDATE doctors SET is_available = $2, last_status_change = $3
		WHERE doctor_id = $1
		RETURNING `+doctorColumns, doctorID, available, at))
}

func (l *ledger) CreateTicket(ctx context.Context, ticket models.Ticket) error {
	ticket.Status = models.StatusWaiting
	_, err := l.tx.Exec(ctx, `
		INSERT INTO tickets (ticket_id, clinic_id, doctor_id, patient_id, scope_key, number, status, booked_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`, ticket.TicketID, ticket.ClinicID, nullIfEmpty(ticket.DoctorID), ticket.PatientID, ticket.Scope().Key(),
		ticket.Number, ticket.Status, ticket.BookedAt)
	if err != nil {
		return translate(err)
	}

	tag, err := l.tx.Exec(ctx, `
		UPDATE patients SET current_ticket_id = $2
		WHERE patient_id = $1 AND current_ticket_id IS NULL
	`, ticket.PatientID, ticket.TicketID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		if _, err := getPatient(ctx, l.tx, ticket.PatientID); err != nil {
			return err
		}
		return store.ErrAlreadyQueued
	}
	return insertTicketEvent(ctx, l.tx, ticket, ticket.BookedAt)
}

func (l *ledger) Transition(ctx context.Context, input store.TransitionInput) ([]models.Ticket, error) {
	if !store.ValidTransition(input.To, models.StatusWaiting) {
		return nil, store.ErrInvalidState
	}
	filter := input.Filter
	filter.Statuses = []string{models.StatusWaiting}
	conds, args := ticketConditions(filter, []any{input.To, input.At})

	rows, err := l.tx.Query(ctx, `
		UPDATE tickets AS t SET
			status = $1,
			served_at = CASE WHEN $1 = 'served' THEN $2 ELSE t.served_at END,
			missed_at = CASE WHEN $1 = 'missed' THEN $2 ELSE t.missed_at END,
			cancelled_at = CASE WHEN $1 = 'cancelled' THEN $2 ELSE t.cancelled_at END
		FROM patients p
		WHERE p.patient_id = t.patient_id AND `+strings.Join(conds, " AND ")+`
		RETURNING `+ticketColumns, args...)
	if err != nil {
		return nil, err
	}
	moved := make([]models.Ticket, 0)
	for rows.Next() {
		ticket, err := scanTicket(rows)
		if err != nil {
			rows.Close()
			return nil, err
		}
		moved = append(moved, ticket)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}
	sortByNumber(moved)

	if len(moved) == 0 {
		return moved, nil
	}

	batch := &pgx.Batch{}
	for _, ticket := range moved {
		batch.Queue(`UPDATE patients SET current_ticket_id = NULL WHERE patient_id = $1 AND current_ticket_id = $2`, ticket.PatientID, ticket.TicketID)
		batch.Queue(`
			INSERT INTO patient_history (patient_id, ticket_id, added_at)
			VALUES ($1, $2, $3)
			ON CONFLICT (patient_id, ticket_id) DO NOTHING
		`, ticket.PatientID, ticket.TicketID, input.At)
	}
	if err := l.tx.SendBatch(ctx, batch).Close(); err != nil {
		return nil, err
	}

	for _, ticket := range moved {
		if err := insertTicketEvent(ctx, l.tx, ticket, input.At); err != nil {
			return nil, err
		}
	}
	return moved, nil
}
