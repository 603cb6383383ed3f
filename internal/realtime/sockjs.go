package realtime

import (
	"net/http"

	"github.com/igm/sockjs-go/sockjs"

	"clinicq/internal/hub"
)

// SockJSHandler serves dashboard sessions under prefix. Clients send
// {"action":"subscribe","channel":...,"auth":...}; presence channels need the
// token from POST /api/realtime/auth bound to the session id.
func (s *Server) SockJSHandler(prefix string) http.Handler {
	return sockjs.NewHandler(prefix, sockjs.DefaultOptions, s.handleSession)
}

func (s *Server) handleSession(session sockjs.Session) {
	sessionsOpened.Add(1)
	client := hub.NewClient(session.ID(), sendBuffer)
	s.hub.Register(client)
	defer s.hub.Unregister(client)

	go func() {
		for msg := range client.Send {
			if err := session.Send(string(msg)); err != nil {
				return
			}
		}
	}()

	_ = session.Send(string(encodeReply("connection_established", session.ID(), nil)))
	for {
		raw, err := session.Recv()
		if err != nil {
			return
		}
		msg, ok := hub.ParseSubscribe([]byte(raw))
		if !ok {
			continue
		}
		if err := s.apply(client, session.ID(), msg, false); err != nil {
			s.logger.Warn().Str("session_id", session.ID()).Str("channel", msg.Channel).Msg("subscription denied")
			_ = session.Close(closeForbidden, "access denied")
			return
		}
		_ = session.Send(string(encodeReply(msg.Action+"d", msg.Channel, nil)))
	}
}
