package store

import (
	"time"

	"clinicq/internal/models"
)

// TicketFilter selects ledger entries. Zero values leave a field unconstrained;
// AfterNumber and BeforeNumber are exclusive bounds.
type TicketFilter struct {
	ClinicID     string
	DoctorID     string
	TicketID     string
	PatientID    string
	Statuses     []string
	AfterNumber  int
	BeforeNumber int
	BookedSince  time.Time
	BookedBefore time.Time
	Limit        int
	NewestFirst  bool
}

func ScopeFilter(scope models.Scope) TicketFilter {
	return TicketFilter{ClinicID: scope.ClinicID, DoctorID: scope.DoctorID}
}

func WaitingAfter(scope models.Scope, after, limit int) TicketFilter {
	filter := ScopeFilter(scope)
	filter.Statuses = []string{models.StatusWaiting}
	filter.AfterNumber = after
	filter.Limit = limit
	return filter
}

// Numbered lists the statuses that hold a ticket number within a session.
var Numbered = []string{models.StatusWaiting, models.StatusServed, models.StatusMissed}

func (f TicketFilter) Match(ticket models.Ticket) bool {
	if f.ClinicID != "" && ticket.ClinicID != f.ClinicID {
		return false
	}
	if f.DoctorID != "" && ticket.DoctorID != f.DoctorID {
		return false
	}
	if f.TicketID != "" && ticket.TicketID != f.TicketID {
		return false
	}
	if f.PatientID != "" && ticket.PatientID != f.PatientID {
		return false
	}
	if len(f.Statuses) > 0 && !contains(f.Statuses, ticket.Status) {
		return false
	}
	if ticket.Number <= f.AfterNumber {
		return false
	}
	if f.BeforeNumber > 0 && ticket.Number >= f.BeforeNumber {
		return false
	}
	if !f.BookedSince.IsZero() && ticket.BookedAt.Before(f.BookedSince) {
		return false
	}
	if !f.BookedBefore.IsZero() && !ticket.BookedAt.Before(f.BookedBefore) {
		return false
	}
	return true
}

func contains(values []string, value string) bool {
	for _, v := range values {
		if v == value {
			return true
		}
	}
	return false
}
