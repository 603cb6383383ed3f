package broadcast

import (
	"context"
	"encoding/json"

	"clinicq/internal/hub"
)

// HubPublisher delivers events to clients connected to this process.
type HubPublisher struct {
	hub *hub.Hub
}

func NewHubPublisher(h *hub.Hub) *HubPublisher {
	return &HubPublisher{hub: h}
}

func (p *HubPublisher) Publish(ctx context.Context, channel, event string, payload any) error {
	envelope, err := NewEnvelope(channel, event, payload)
	if err != nil {
		return err
	}
	return p.Deliver(envelope)
}

func (p *HubPublisher) Deliver(envelope Envelope) error {
	raw, err := json.Marshal(envelope)
	if err != nil {
		return err
	}
	p.hub.Broadcast(envelope.Channel, raw)
	return nil
}
