package queue

import (
	"context"
	"fmt"
	"strings"
	"time"

	"clinicq/internal/models"
	"clinicq/internal/store"
)

type ResetMode string

const (
	// ResetSession restarts numbering whenever the clinic changes open state.
	ResetSession ResetMode = "session"
	// ResetDaily additionally restarts numbering at local midnight.
	ResetDaily ResetMode = "daily"
)

func ParseResetMode(value string) (ResetMode, error) {
	switch ResetMode(strings.ToLower(strings.TrimSpace(value))) {
	case "", ResetSession:
		return ResetSession, nil
	case ResetDaily:
		return ResetDaily, nil
	default:
		return "", fmt.Errorf("unknown queue reset policy %q", value)
	}
}

// NumberingPolicy assigns ticket numbers. Cancelled tickets never count
// toward the session or the running maximum.
type NumberingPolicy struct {
	Reset    ResetMode
	Location *time.Location
}

func (p NumberingPolicy) location() *time.Location {
	if p.Location == nil {
		return time.Local
	}
	return p.Location
}

func (p NumberingPolicy) StartOfDay(now time.Time) time.Time {
	local := now.In(p.location())
	return time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, p.location())
}

// SessionStart is the instant from which bookings count toward numbering.
func (p NumberingPolicy) SessionStart(clinic models.Clinic, now time.Time) time.Time {
	start := clinic.LastStatusChange
	if p.Reset == ResetDaily {
		if midnight := p.StartOfDay(now); midnight.After(start) {
			start = midnight
		}
	}
	return start
}

// Next returns the number for the next booking in scope and whether it opens
// a fresh session.
func (p NumberingPolicy) Next(ctx context.Context, l store.Ledger, clinic models.Clinic, scope models.Scope, now time.Time) (int, bool, error) {
	filter := store.ScopeFilter(scope)
	filter.Statuses = store.Numbered
	filter.BookedSince = p.SessionStart(clinic, now)

	max, err := l.MaxNumber(ctx, filter)
	if err != nil {
		return 0, false, err
	}
	if max == 0 {
		return 1, true, nil
	}
	return max + 1, false, nil
}
