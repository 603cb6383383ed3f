// Package queue is the clinic queue engine: ticket numbering, progression of
// the serving counter, cancellations, clinic and doctor status changes, and
// the snapshots broadcast after each of them.
package queue

import (
	"context"
	"expvar"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"clinicq/internal/broadcast"
	"clinicq/internal/models"
	"clinicq/internal/notify"
	"clinicq/internal/store"
)

var (
	bookingsTotal     = expvar.NewInt("queue_bookings_total")
	advancesTotal     = expvar.NewInt("queue_advances_total")
	cancellationTotal = expvar.NewInt("queue_cancellations_total")
	broadcastFailures = expvar.NewInt("queue_broadcast_failures_total")
)

const (
	defaultUpcomingLimit  = 10
	defaultNotifyAhead    = 5
	defaultPublishTimeout = 5 * time.Second
)

type Options struct {
	Policy         NumberingPolicy
	UpcomingLimit  int
	NotifyAhead    int
	PublishTimeout time.Duration
	Now            func() time.Time
	Logger         zerolog.Logger
}

type Service struct {
	store          store.Store
	publisher      broadcast.Publisher
	notifier       notify.Notifier
	policy         NumberingPolicy
	upcomingLimit  int
	notifyAhead    int
	publishTimeout time.Duration
	now            func() time.Time
	logger         zerolog.Logger
	tracer         trace.Tracer
	pending        sync.WaitGroup

	laneMu sync.Mutex
	lanes  map[string]*lane
}

func New(st store.Store, publisher broadcast.Publisher, notifier notify.Notifier, opts Options) *Service {
	if opts.UpcomingLimit <= 0 {
		opts.UpcomingLimit = defaultUpcomingLimit
	}
	if opts.NotifyAhead <= 0 {
		opts.NotifyAhead = defaultNotifyAhead
	}
	if opts.PublishTimeout <= 0 {
		opts.PublishTimeout = defaultPublishTimeout
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Policy.Reset == "" {
		opts.Policy.Reset = ResetSession
	}
	if notifier == nil {
		notifier = notify.Nop{}
	}
	return &Service{
		store:          st,
		publisher:      publisher,
		notifier:       notifier,
		policy:         opts.Policy,
		upcomingLimit:  opts.UpcomingLimit,
		notifyAhead:    opts.NotifyAhead,
		publishTimeout: opts.PublishTimeout,
		now:            opts.Now,
		logger:         opts.Logger,
		tracer:         otel.Tracer("clinicq/queue"),
		lanes:          make(map[string]*lane),
	}
}

func (s *Service) Policy() NumberingPolicy {
	return s.policy
}

// clock returns the current time in the clinics' local zone.
func (s *Service) clock() time.Time {
	return s.now().In(s.policy.location())
}

// Drain blocks until every in-flight broadcast and notification has finished.
func (s *Service) Drain() {
	s.pending.Wait()
}

// background runs fn detached from the caller's cancellation, bounded by the
// publish timeout.
func (s *Service) background(ctx context.Context, fn func(ctx context.Context)) {
	s.pending.Add(1)
	go func() {
		defer s.pending.Done()
		bg, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.publishTimeout)
		defer cancel()
		fn(bg)
	}()
}

func (s *Service) startSpan(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return s.tracer.Start(ctx, "queue."+name, trace.WithAttributes(attrs...))
}

// fail classifies err for callers and records it on the span.
func (s *Service) fail(span trace.Span, err error) error {
	err = store.Unavailable(err)
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	return err
}

func (s *Service) publish(ctx context.Context, channel, event string, payload any) {
	if s.publisher == nil {
		return
	}
	if err := s.publisher.Publish(ctx, channel, event, payload); err != nil {
		broadcastFailures.Add(1)
		s.logger.Warn().Err(err).Str("channel", channel).Str("event", event).Msg("broadcast failed")
	}
}

func (s *Service) notify(ctx context.Context, patientID, title, body string) {
	s.background(ctx, func(ctx context.Context) {
		s.notifier.Notify(ctx, patientID, title, body)
	})
}

// buildSnapshot reads the scope's waiting tickets above current through r.
func (s *Service) buildSnapshot(ctx context.Context, r store.TicketReader, clinic models.Clinic, scope models.Scope, current int) (models.Snapshot, error) {
	upcoming, err := r.ListTickets(ctx, store.WaitingAfter(scope, current, s.upcomingLimit))
	if err != nil {
		return models.Snapshot{}, err
	}
	total, err := r.CountTickets(ctx, store.WaitingAfter(scope, current, 0))
	if err != nil {
		return models.Snapshot{}, err
	}
	hours := clinic.OperatingHours
	return models.Snapshot{
		ClinicID:       clinic.ClinicID,
		DoctorID:       scope.DoctorID,
		IsDoctorQueue:  scope.IsDoctor(),
		CurrentNumber:  current,
		Upcoming:       upcoming,
		TotalWaiting:   total,
		AvgWaitTime:    clinic.AverageProcessTime,
		EstimatedWait:  EstimateWait(total, clinic.AverageProcessTime),
		HasNextPatient: total > 0,
		ClinicStatus:   models.ClinicStatus{IsOpen: clinic.IsOpen, OperatingHours: &hours},
	}, nil
}

// currentIn reads the scope's serving number inside a section, creating the
// counter row at 0 when it is missing.
func currentIn(ctx context.Context, l store.Ledger, key string, now time.Time) (int, error) {
	current, found, err := l.GetCounter(ctx, key)
	if err != nil {
		return 0, err
	}
	if !found {
		if err := l.SetCounter(ctx, key, 0, now); err != nil {
			return 0, err
		}
	}
	return current, nil
}
