package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"clinicq/internal/models"
	"clinicq/internal/store"
)

// querier is satisfied by both the pool and an open transaction.
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

const ticketColumns = `
	t.ticket_id, t.clinic_id, COALESCE(t.doctor_id, ''), t.patient_id, t.number, t.status,
	t.booked_at, t.served_at, t.missed_at, t.cancelled_at, COALESCE(p.name, ''), COALESCE(p.phone, '')`

// ticketConditions renders filter as SQL predicates over alias t, appending
// the bind values to args.
func ticketConditions(filter store.TicketFilter, args []any) ([]string, []any) {
	var conds []string
	add := func(format string, value any) {
		args = append(args, value)
		conds = append(conds, fmt.Sprintf(format, len(args)))
	}
	if filter.ClinicID != "" {
		add("t.clinic_id = $%d", filter.ClinicID)
	}
	if filter.DoctorID != "" {
		add("t.doctor_id = $%d", filter.DoctorID)
	}
	if filter.TicketID != "" {
		add("t.ticket_id = $%d", filter.TicketID)
	}
	if filter.PatientID != "" {
		add("t.patient_id = $%d", filter.PatientID)
	}
	if len(filter.Statuses) > 0 {
		add("t.status = ANY($%d)", filter.Statuses)
	}
	if filter.AfterNumber > 0 {
		add("t.number > $%d", filter.AfterNumber)
	}
	if filter.BeforeNumber > 0 {
		add("t.number < $%d", filter.BeforeNumber)
	}
	if !filter.BookedSince.IsZero() {
		add("t.booked_at >= $%d", filter.BookedSince)
	}
	if !filter.BookedBefore.IsZero() {
		add("t.booked_at < $%d", filter.BookedBefore)
	}
	if len(conds) == 0 {
		conds = append(conds, "TRUE")
	}
	return conds, args
}

func listTickets(ctx context.Context, q querier, filter store.TicketFilter) ([]models.Ticket, error) {
	conds, args := ticketConditions(filter, nil)
	query := `SELECT ` + ticketColumns + `
		FROM tickets t
		LEFT JOIN patients p ON p.patient_id = t.patient_id
		WHERE ` + strings.Join(conds, " AND ")
	if filter.NewestFirst {
		query += ` ORDER BY t.booked_at DESC`
	} else {
		query += ` ORDER BY t.number ASC, t.booked_at ASC`
	}
	if filter.Limit > 0 {
		args = append(args, filter.Limit)
		query += fmt.Sprintf(` LIMIT $%d`, len(args))
	}

	rows, err := q.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	tickets := make([]models.Ticket, 0)
	for rows.Next() {
		ticket, err := scanTicket(rows)
		if err != nil {
			return nil, err
		}
		tickets = append(tickets, ticket)
	}
	return tickets, rows.Err()
}

func countTickets(ctx context.Context, q querier, filter store.TicketFilter) (int, error) {
	conds, args := ticketConditions(filter, nil)
	var count int
	err := q.QueryRow(ctx, `SELECT COUNT(*) FROM tickets t WHERE `+strings.Join(conds, " AND "), args...).Scan(&count)
	return count, err
}

func maxNumber(ctx context.Context, q querier, filter store.TicketFilter) (int, error) {
	conds, args := ticketConditions(filter, nil)
	var max int
	err := q.QueryRow(ctx, `SELECT COALESCE(MAX(t.number), 0) FROM tickets t WHERE `+strings.Join(conds, " AND "), args...).Scan(&max)
	return max, err
}

func getTicket(ctx context.Context, q querier, ticketID string) (models.Ticket, error) {
	row := q.QueryRow(ctx, `SELECT `+ticketColumns+`
		FROM tickets t
		LEFT JOIN patients p ON p.patient_id = t.patient_id
		WHERE t.ticket_id = $1
	`, ticketID)
	ticket, err := scanTicket(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.Ticket{}, store.ErrTicketNotFound
		}
		return models.Ticket{}, err
	}
	return ticket, nil
}

func getCounter(ctx context.Context, q querier, key string) (int, bool, error) {
	var value int
	err := q.QueryRow(ctx, `SELECT current_number FROM serving_counters WHERE scope_key = $1`, key).Scan(&value)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, false, nil
		}
		return 0, false, err
	}
	return value, true, nil
}

func scanTicket(row pgx.Row) (models.Ticket, error) {
	var ticket models.Ticket
	var servedAt, missedAt, cancelledAt sql.NullTime
	if err := row.Scan(
		&ticket.TicketID, &ticket.ClinicID, &ticket.DoctorID, &ticket.PatientID, &ticket.Number, &ticket.Status,
		&ticket.BookedAt, &servedAt, &missedAt, &cancelledAt, &ticket.PatientName, &ticket.PatientPhone,
	); err != nil {
		return models.Ticket{}, err
	}
	ticket.ServedAt = nullTimePtr(servedAt)
	ticket.MissedAt = nullTimePtr(missedAt)
	ticket.CancelledAt = nullTimePtr(cancelledAt)
	return ticket, nil
}

func insertTicketEvent(ctx context.Context, tx pgx.Tx, ticket models.Ticket, at time.Time) error {
	var prev *store.TicketEvent
	var last store.TicketEvent
	err := tx.QueryRow(ctx, `
		SELECT ticket_seq, hash
		FROM ticket_events
		WHERE ticket_id = $1
		ORDER BY ticket_seq DESC
		LIMIT 1
		FOR UPDATE
	`, ticket.TicketID).Scan(&last.TicketSeq, &last.Hash)
	switch {
	case err == nil:
		prev = &last
	case !errors.Is(err, pgx.ErrNoRows):
		return err
	}

	event, err := store.NextTicketEvent(prev, ticket, at)
	if err != nil {
		return err
	}
	_, err = tx.Exec(ctx, `
		INSERT INTO ticket_events (ticket_id, ticket_seq, type, payload, created_at, prev_hash, hash)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, event.TicketID, event.TicketSeq, event.Type, []byte(event.Payload), event.CreatedAt, event.PrevHash, event.Hash)
	return err
}

func sortByNumber(tickets []models.Ticket) {
	sort.Slice(tickets, func(i, j int) bool { return tickets[i].Number < tickets[j].Number })
}

func nullTimePtr(value sql.NullTime) *time.Time {
	if !value.Valid {
		return nil
	}
	return &value.Time
}

func nullStringPtr(value sql.NullString) *string {
	if !value.Valid {
		return nil
	}
	return &value.String
}

func nullIfEmpty(value string) any {
	if value == "" {
		return nil
	}
	return value
}

// translate maps constraint violations onto the store's sentinel errors.
func translate(err error) error {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) || pgErr.Code != "23505" {
		return err
	}
	switch pgErr.ConstraintName {
	case "clinics_email_key":
		return store.ErrEmailTaken
	case "patients_phone_key":
		return store.ErrPhoneTaken
	case "tickets_waiting_number_idx":
		return store.ErrConflictRace
	}
	return err
}
