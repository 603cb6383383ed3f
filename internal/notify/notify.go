// Package notify delivers patient notifications. Delivery failures are logged
// and never reach the caller.
package notify

import (
	"context"

	"github.com/rs/zerolog"

	"clinicq/internal/models"
)

type Notifier interface {
	Notify(ctx context.Context, patientID, title, body string)
}

type Message struct {
	Title string `json:"title"`
	Body  string `json:"body"`
}

type PatientLookup interface {
	GetPatient(ctx context.Context, patientID string) (models.Patient, error)
}

// Dispatcher sends push notifications to patients with a device token and
// falls back to SMS on their phone number otherwise.
type Dispatcher struct {
	patients PatientLookup
	push     Provider
	sms      Provider
	logger   zerolog.Logger
}

func NewDispatcher(patients PatientLookup, push, sms Provider, logger zerolog.Logger) *Dispatcher {
	return &Dispatcher{patients: patients, push: push, sms: sms, logger: logger}
}

func (d *Dispatcher) Notify(ctx context.Context, patientID, title, body string) {
	patient, err := d.patients.GetPatient(ctx, patientID)
	if err != nil {
		d.logger.Warn().Err(err).Str("patient_id", patientID).Msg("notify: patient lookup failed")
		return
	}

	msg := Message{Title: title, Body: body}
	provider, recipient, channel := d.sms, patient.Phone, "sms"
	if patient.DeviceToken != "" {
		provider, recipient, channel = d.push, patient.DeviceToken, "push"
	}
	if recipient == "" {
		return
	}
	if err := provider.Send(ctx, msg, recipient); err != nil {
		d.logger.Warn().Err(err).Str("patient_id", patientID).Str("channel", channel).Msg("notify: delivery failed")
	}
}

// Nop discards every notification.
type Nop struct{}

func (Nop) Notify(ctx context.Context, patientID, title, body string) {}
