package realtime

import (
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"clinicq/internal/broadcast"
	"clinicq/internal/hub"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 4096
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// DisplayHandler serves the public display feed. Channels come from repeated
// ?channel= parameters and later subscribe messages; only public channels
// are accepted.
func (s *Server) DisplayHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		channels := r.URL.Query()["channel"]
		for _, channel := range channels {
			if !broadcast.IsPublic(channel) {
				subscriptionDenied.Add(1)
				http.Error(w, "only public channels are available", http.StatusForbidden)
				return
			}
		}

		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			s.logger.Warn().Err(err).Msg("websocket upgrade failed")
			return
		}
		sessionsOpened.Add(1)

		client := hub.NewClient(uuid.NewString(), sendBuffer)
		s.hub.Register(client)
		for _, channel := range channels {
			s.hub.Subscribe(client, channel)
		}

		go s.writePump(client, conn)
		s.readPump(client, conn)
	})
}

func (s *Server) readPump(client *hub.Client, conn *websocket.Conn) {
	defer func() {
		s.hub.Unregister(client)
		conn.Close()
	}()

	conn.SetReadLimit(maxMessageSize)
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			return
		}
		msg, ok := hub.ParseSubscribe(raw)
		if !ok {
			continue
		}
		if err := s.apply(client, client.ID, msg, true); err != nil {
			s.send(client, encodeReply("subscription_error", msg.Channel, err))
			continue
		}
		s.send(client, encodeReply(msg.Action+"d", msg.Channel, nil))
	}
}

// send queues a control reply without blocking the read loop.
func (s *Server) send(client *hub.Client, payload []byte) {
	select {
	case client.Send <- payload:
	default:
	}
}

func (s *Server) writePump(client *hub.Client, conn *websocket.Conn) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		conn.Close()
	}()

	for {
		select {
		case message, ok := <-client.Send:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}
		case <-ticker.C:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
