// Package broadcast delivers queue snapshots to pub/sub channels.
package broadcast

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
)

const (
	EventQueueUpdate  = "queue-update"
	EventClinicStatus = "clinic-status-update"

	presencePrefix = "presence-"
	publicPrefix   = "public-"
)

type Publisher interface {
	Publish(ctx context.Context, channel, event string, payload any) error
}

// Envelope is the wire form of every published event.
type Envelope struct {
	Channel string          `json:"channel"`
	Event   string          `json:"event"`
	Data    json.RawMessage `json:"data"`
	SentAt  time.Time       `json:"sent_at"`
}

func NewEnvelope(channel, event string, payload any) (Envelope, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return Envelope{}, err
	}
	return Envelope{Channel: channel, Event: event, Data: data, SentAt: time.Now().UTC()}, nil
}

func ClinicChannel(clinicID string) string       { return presencePrefix + "clinic-" + clinicID }
func DoctorChannel(doctorID string) string       { return presencePrefix + "doctor-" + doctorID }
func PublicClinicChannel(clinicID string) string { return publicPrefix + "clinic-" + clinicID }
func PublicDoctorChannel(doctorID string) string { return publicPrefix + "doctor-" + doctorID }

func IsPublic(channel string) bool {
	return strings.HasPrefix(channel, publicPrefix)
}

// Fanout publishes to every publisher concurrently and joins their errors.
type Fanout []Publisher

func (f Fanout) Publish(ctx context.Context, channel, event string, payload any) error {
	var (
		g    errgroup.Group
		mu   sync.Mutex
		errs []error
	)
	for _, p := range f {
		p := p
		g.Go(func() error {
			if err := p.Publish(ctx, channel, event, payload); err != nil {
				mu.Lock()
				errs = append(errs, err)
				mu.Unlock()
			}
			return nil
		})
	}
	_ = g.Wait()
	return errors.Join(errs...)
}

type Recorded struct {
	Channel string
	Event   string
	Payload any
}

// Recorder keeps every publication in memory.
type Recorder struct {
	mu     sync.Mutex
	events []Recorded
	Err    error
}

func (r *Recorder) Publish(ctx context.Context, channel, event string, payload any) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, Recorded{Channel: channel, Event: event, Payload: payload})
	return r.Err
}

func (r *Recorder) Events() []Recorded {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Recorded(nil), r.events...)
}

func (r *Recorder) OnChannel(channel string) []Recorded {
	var out []Recorded
	for _, e := range r.Events() {
		if e.Channel == channel {
			out = append(out, e)
		}
	}
	return out
}

func (r *Recorder) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = nil
}
