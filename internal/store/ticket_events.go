package store

import (
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"time"

	"clinicq/internal/models"
)

const (
	EventTicketBooked = "ticket.booked"
	EventTicketServed = "ticket.served"
	EventTicketMissed = "ticket.missed"
	EventTicketCancel = "ticket.cancelled"
)

type TicketEvent struct {
	TicketID  string          `json:"ticket_id"`
	TicketSeq int             `json:"ticket_seq"`
	Type      string          `json:"type"`
	Payload   json.RawMessage `json:"payload"`
	CreatedAt time.Time       `json:"created_at"`
	PrevHash  string          `json:"prev_hash"`
	Hash      string          `json:"hash"`
}

type eventPayload struct {
	TicketID    string     `json:"ticket_id"`
	ClinicID    string     `json:"clinic_id"`
	DoctorID    string     `json:"doctor_id"`
	PatientID   string     `json:"patient_id"`
	Number      int        `json:"number"`
	Status      string     `json:"status"`
	BookedAt    *time.Time `json:"booked_at"`
	ServedAt    *time.Time `json:"served_at"`
	MissedAt    *time.Time `json:"missed_at"`
	CancelledAt *time.Time `json:"cancelled_at"`
}

func EventTypeFor(status string) string {
	switch status {
	case models.StatusServed:
		return EventTicketServed
	case models.StatusMissed:
		return EventTicketMissed
	case models.StatusCancelled:
		return EventTicketCancel
	default:
		return EventTicketBooked
	}
}

func TicketEventPayload(ticket models.Ticket) (json.RawMessage, error) {
	payload := eventPayload{
		TicketID:    ticket.TicketID,
		ClinicID:    ticket.ClinicID,
		DoctorID:    ticket.DoctorID,
		PatientID:   ticket.PatientID,
		Number:      ticket.Number,
		Status:      ticket.Status,
		ServedAt:    ticket.ServedAt,
		MissedAt:    ticket.MissedAt,
		CancelledAt: ticket.CancelledAt,
	}
	if ticket.Status == models.StatusWaiting {
		booked := ticket.BookedAt
		payload.BookedAt = &booked
	}
	return json.Marshal(payload)
}

// NextTicketEvent builds the event that follows prev in a ticket's chain.
func NextTicketEvent(prev *TicketEvent, ticket models.Ticket, at time.Time) (TicketEvent, error) {
	payload, err := TicketEventPayload(ticket)
	if err != nil {
		return TicketEvent{}, err
	}
	event := TicketEvent{
		TicketID:  ticket.TicketID,
		TicketSeq: 1,
		Type:      EventTypeFor(ticket.Status),
		Payload:   payload,
		CreatedAt: at.UTC(),
	}
	if prev != nil {
		event.TicketSeq = prev.TicketSeq + 1
		event.PrevHash = prev.Hash
	}
	event.Hash = ComputeTicketEventHash(event.PrevHash, event.TicketID, event.Type, event.Payload, event.CreatedAt, event.TicketSeq)
	return event, nil
}

func ComputeTicketEventHash(prevHash, ticketID, eventType string, payload json.RawMessage, createdAt time.Time, seq int) string {
	raw := fmt.Sprintf("%s|%s|%s|%s|%d|%s", prevHash, ticketID, eventType, createdAt.UTC().Format(time.RFC3339Nano), seq, payload)
	sum := sha256.Sum256([]byte(raw))
	return fmt.Sprintf("%x", sum)
}

// VerifyTicketEvents checks sequence numbers and hash links of one ticket's chain.
func VerifyTicketEvents(events []TicketEvent) error {
	prevHash := ""
	for i, event := range events {
		if event.TicketSeq != i+1 {
			return fmt.Errorf("ticket event %d: unexpected sequence %d", i, event.TicketSeq)
		}
		if event.PrevHash != prevHash {
			return fmt.Errorf("ticket event %d: broken chain", event.TicketSeq)
		}
		want := ComputeTicketEventHash(event.PrevHash, event.TicketID, event.Type, event.Payload, event.CreatedAt, event.TicketSeq)
		if event.Hash != want {
			return fmt.Errorf("ticket event %d: hash mismatch", event.TicketSeq)
		}
		prevHash = event.Hash
	}
	return nil
}

func RehydrateTicket(events []TicketEvent) (models.Ticket, error) {
	var ticket models.Ticket
	for _, event := range events {
		if len(event.Payload) == 0 {
			continue
		}
		var payload eventPayload
		if err := json.Unmarshal(event.Payload, &payload); err != nil {
			return models.Ticket{}, err
		}
		if payload.TicketID != "" {
			ticket.TicketID = payload.TicketID
		}
		if payload.ClinicID != "" {
			ticket.ClinicID = payload.ClinicID
		}
		if payload.DoctorID != "" {
			ticket.DoctorID = payload.DoctorID
		}
		if payload.PatientID != "" {
			ticket.PatientID = payload.PatientID
		}
		if payload.Number != 0 {
			ticket.Number = payload.Number
		}
		if payload.Status != "" {
			ticket.Status = payload.Status
		}
		if payload.BookedAt != nil {
			ticket.BookedAt = *payload.BookedAt
		}
		if payload.ServedAt != nil {
			ticket.ServedAt = payload.ServedAt
		}
		if payload.MissedAt != nil {
			ticket.MissedAt = payload.MissedAt
		}
		if payload.CancelledAt != nil {
			ticket.CancelledAt = payload.CancelledAt
		}
	}
	return ticket, nil
}
