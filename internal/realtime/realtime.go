// Package realtime exposes the subscription hub to browsers: a sockjs endpoint
// for clinic dashboards and a plain websocket feed for public displays.
package realtime

import (
	"encoding/json"
	"errors"
	"expvar"

	"github.com/rs/zerolog"

	"clinicq/internal/auth"
	"clinicq/internal/broadcast"
	"clinicq/internal/hub"
)

var (
	sessionsOpened     = expvar.NewInt("realtime_sessions_opened_total")
	subscriptionDenied = expvar.NewInt("realtime_subscriptions_denied_total")
)

const (
	sendBuffer = 32

	closeForbidden = 4003
)

var errPresenceNotAllowed = errors.New("presence channels are not served on this endpoint")

type Server struct {
	hub    *hub.Hub
	issuer *auth.Issuer
	logger zerolog.Logger
}

func New(h *hub.Hub, issuer *auth.Issuer, logger zerolog.Logger) *Server {
	return &Server{hub: h, issuer: issuer, logger: logger}
}

type reply struct {
	Event   string `json:"event"`
	Channel string `json:"channel"`
	Error   string `json:"error,omitempty"`
}

func encodeReply(event, channel string, err error) []byte {
	r := reply{Event: event, Channel: channel}
	if err != nil {
		r.Error = err.Error()
	}
	raw, _ := json.Marshal(r)
	return raw
}

// authorizeSubscribe checks a subscription request from socketID. Public
// channels are open; presence channels need a channel token issued for this
// socket and channel.
func (s *Server) authorizeSubscribe(socketID string, msg hub.SubscribeMessage) error {
	if broadcast.IsPublic(msg.Channel) {
		return nil
	}
	if msg.Auth == "" {
		return broadcast.ErrChannelForbidden
	}
	if err := s.issuer.VerifyChannel(msg.Auth, socketID, msg.Channel); err != nil {
		return broadcast.ErrChannelForbidden
	}
	return nil
}

// apply performs a parsed subscribe or unsubscribe for client.
func (s *Server) apply(client *hub.Client, socketID string, msg hub.SubscribeMessage, publicOnly bool) error {
	if msg.Action == "unsubscribe" {
		s.hub.Unsubscribe(client, msg.Channel)
		return nil
	}
	if publicOnly && !broadcast.IsPublic(msg.Channel) {
		subscriptionDenied.Add(1)
		return errPresenceNotAllowed
	}
	if err := s.authorizeSubscribe(socketID, msg); err != nil {
		subscriptionDenied.Add(1)
		return err
	}
	s.hub.Subscribe(client, msg.Channel)
	return nil
}
