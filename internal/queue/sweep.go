package queue

import (
	"context"
	"time"

	"clinicq/internal/models"
	"clinicq/internal/store"
)

type SweepReport struct {
	Closed  int
	Expired int
}

// Sweep closes clinics that are open outside their hours and, under the daily
// reset policy, cancels tickets left waiting from earlier days.
func (s *Service) Sweep(ctx context.Context) (SweepReport, error) {
	ctx, span := s.startSpan(ctx, "Sweep")
	defer span.End()

	clinics, err := s.store.ListClinics(ctx)
	if err != nil {
		return SweepReport{}, s.fail(span, err)
	}

	var report SweepReport
	now := s.clock()
	for _, clinic := range clinics {
		if clinic.IsOpen && !clinic.OperatingHours.Contains(now) {
			_, changed, err := s.autoClose(ctx, clinic.ClinicID)
			if err != nil {
				return report, err
			}
			if changed {
				report.Closed++
				continue
			}
		}
		if s.policy.Reset == ResetDaily {
			expired, err := s.expireStale(ctx, clinic.ClinicID, s.policy.StartOfDay(now))
			if err != nil {
				return report, err
			}
			report.Expired += expired
		}
	}
	return report, nil
}

func (s *Service) expireStale(ctx context.Context, clinicID string, midnight time.Time) (int, error) {
	now := s.clock()
	var moved []models.Ticket
	err := s.store.WithScope(ctx, models.Scope{ClinicID: clinicID}, func(l store.Ledger) error {
		var err error
		filter := store.TicketFilter{ClinicID: clinicID, BookedBefore: midnight}
		moved, err = l.Transition(ctx, store.TransitionInput{Filter: filter, To: models.StatusCancelled, At: now})
		if err != nil {
			return err
		}
		seen := make(map[string]bool)
		for _, ticket := range moved {
			key := ticket.Scope().Key()
			if seen[key] {
				continue
			}
			seen[key] = true
			if err := l.SetCounter(ctx, key, 0, now); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return 0, store.Unavailable(err)
	}
	announced := make(map[string]bool)
	for _, ticket := range moved {
		scope := ticket.Scope()
		if !announced[scope.Key()] {
			announced[scope.Key()] = true
			s.announce(ctx, scope, nil)
		}
	}
	return len(moved), nil
}

// RunSweeper calls Sweep every interval until ctx is done.
func (s *Service) RunSweeper(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			runCtx, cancel := context.WithTimeout(ctx, interval)
			report, err := s.Sweep(runCtx)
			cancel()
			if err != nil {
				s.logger.Error().Err(err).Msg("queue sweep failed")
				continue
			}
			if report.Closed > 0 || report.Expired > 0 {
				s.logger.Info().Int("closed", report.Closed).Int("expired", report.Expired).Msg("queue sweep")
			}
		}
	}
}
