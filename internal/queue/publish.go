package queue

import (
	"context"

	"clinicq/internal/broadcast"
	"clinicq/internal/models"
	"clinicq/internal/store"
)

// lane holds the pending publications of one scope. A single goroutine drains
// it, so a scope's events reach the publisher one at a time and in order.
type lane struct {
	jobs []laneJob
}

type laneJob struct {
	ctx context.Context
	run func(ctx context.Context)
}

// enqueue appends job to the scope's lane, starting its drainer when idle.
func (s *Service) enqueue(ctx context.Context, scope models.Scope, job func(ctx context.Context)) {
	key := scope.Key()

	s.laneMu.Lock()
	l, running := s.lanes[key]
	if !running {
		l = &lane{}
		s.lanes[key] = l
		s.pending.Add(1)
	}
	l.jobs = append(l.jobs, laneJob{ctx: context.WithoutCancel(ctx), run: job})
	s.laneMu.Unlock()

	if !running {
		go s.drainLane(key, l)
	}
}

func (s *Service) drainLane(key string, l *lane) {
	defer s.pending.Done()
	for {
		s.laneMu.Lock()
		if len(l.jobs) == 0 {
			delete(s.lanes, key)
			s.laneMu.Unlock()
			return
		}
		job := l.jobs[0]
		l.jobs = l.jobs[1:]
		s.laneMu.Unlock()

		ctx, cancel := context.WithTimeout(job.ctx, s.publishTimeout)
		job.run(ctx)
		cancel()
	}
}

// announce publishes the scope's committed state. The snapshot is read when
// the lane reaches the job, never taken from the writer, so the last
// publication for a scope always matches the ledger.
func (s *Service) announce(ctx context.Context, scope models.Scope, cancelled *int) {
	s.enqueue(ctx, scope, func(ctx context.Context) {
		snap, err := s.readSnapshot(ctx, scope)
		if err != nil {
			broadcastFailures.Add(1)
			s.logger.Warn().Err(err).Str("scope", scope.Key()).Msg("snapshot read for broadcast failed")
			return
		}
		snap.CancelledNumber = cancelled
		s.publishSnapshot(ctx, snap)
	})
}

// announceClinic publishes the clinic's committed open/closed state on the
// clinic lane.
func (s *Service) announceClinic(ctx context.Context, clinicID string) {
	s.enqueue(ctx, models.Scope{ClinicID: clinicID}, func(ctx context.Context) {
		clinic, err := s.store.GetClinic(ctx, clinicID)
		if err != nil {
			broadcastFailures.Add(1)
			s.logger.Warn().Err(err).Str("clinic_id", clinicID).Msg("clinic read for broadcast failed")
			return
		}
		event := clinicStatusEvent{
			ClinicID:         clinic.ClinicID,
			IsOpen:           clinic.IsOpen,
			OperatingHours:   clinic.OperatingHours,
			LastStatusChange: clinic.LastStatusChange,
		}
		s.publish(ctx, broadcast.ClinicChannel(clinic.ClinicID), broadcast.EventClinicStatus, event)
		s.publish(ctx, broadcast.PublicClinicChannel(clinic.ClinicID), broadcast.EventClinicStatus, models.ClinicStatus{IsOpen: clinic.IsOpen})
	})
}

// readSnapshot builds the scope's snapshot from one consistent view of the
// ledger.
func (s *Service) readSnapshot(ctx context.Context, scope models.Scope) (models.Snapshot, error) {
	var snap models.Snapshot
	err := s.store.View(ctx, func(r store.Reader) error {
		clinic, err := r.GetClinic(ctx, scope.ClinicID)
		if err != nil {
			return err
		}
		current, _, err := r.GetCounter(ctx, scope.Key())
		if err != nil {
			return err
		}
		snap, err = s.buildSnapshot(ctx, r, clinic, scope, current)
		return err
	})
	return snap, err
}

// publishSnapshot sends snap to the scope's presence and public channels.
// Doctor snapshots are mirrored to the owning clinic's channels.
func (s *Service) publishSnapshot(ctx context.Context, snap models.Snapshot) {
	public := snap.Public()
	type target struct {
		channel string
		payload models.Snapshot
	}
	targets := []target{
		{broadcast.ClinicChannel(snap.ClinicID), snap},
		{broadcast.PublicClinicChannel(snap.ClinicID), public},
	}
	if snap.IsDoctorQueue {
		targets = append(targets,
			target{broadcast.DoctorChannel(snap.DoctorID), snap},
			target{broadcast.PublicDoctorChannel(snap.DoctorID), public},
		)
	}
	for _, t := range targets {
		s.publish(ctx, t.channel, broadcast.EventQueueUpdate, t.payload)
	}
}
