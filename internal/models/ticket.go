package models

import "time"

type Ticket struct {
	TicketID     string     `json:"ticket_id"`
	ClinicID     string     `json:"clinic_id"`
	DoctorID     string     `json:"doctor_id,omitempty"`
	PatientID    string     `json:"patient_id"`
	Number       int        `json:"number"`
	Status       string     `json:"status"`
	BookedAt     time.Time  `json:"booked_at"`
	ServedAt     *time.Time `json:"served_at,omitempty"`
	MissedAt     *time.Time `json:"missed_at,omitempty"`
	CancelledAt  *time.Time `json:"cancelled_at,omitempty"`
	PatientName  string     `json:"patient_name,omitempty"`
	PatientPhone string     `json:"patient_phone,omitempty"`
}

const (
	StatusWaiting   = "waiting"
	StatusServed    = "served"
	StatusMissed    = "missed"
	StatusCancelled = "cancelled"
)

func (t Ticket) Scope() Scope {
	return Scope{ClinicID: t.ClinicID, DoctorID: t.DoctorID}
}

// Stamp sets the timestamp that belongs to status.
func (t *Ticket) Stamp(status string, at time.Time) {
	stamped := at
	switch status {
	case StatusServed:
		t.ServedAt = &stamped
	case StatusMissed:
		t.MissedAt = &stamped
	case StatusCancelled:
		t.CancelledAt = &stamped
	}
	t.Status = status
}
