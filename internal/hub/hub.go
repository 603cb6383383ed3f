package hub

import (
	"encoding/json"
	"strings"
	"sync"

	"github.com/rs/zerolog"
)

type Client struct {
	ID       string
	Send     chan []byte
	channels map[string]struct{}
}

func NewClient(id string, buffer int) *Client {
	return &Client{ID: id, Send: make(chan []byte, buffer), channels: make(map[string]struct{})}
}

type Hub struct {
	mu      sync.RWMutex
	clients map[string]*Client
	logger  zerolog.Logger
}

type SubscribeMessage struct {
	Action  string `json:"action"`
	Channel string `json:"channel"`
	Auth    string `json:"auth,omitempty"`
}

func New(logger zerolog.Logger) *Hub {
	return &Hub{clients: make(map[string]*Client), logger: logger}
}

func (h *Hub) Register(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.clients[client.ID] = client
}

func (h *Hub) Unregister(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.clients[client.ID]; !ok {
		return
	}
	delete(h.clients, client.ID)
	close(client.Send)
}

func (h *Hub) Subscribe(client *Client, channel string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	client.channels[channel] = struct{}{}
}

func (h *Hub) Unsubscribe(client *Client, channel string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(client.channels, channel)
}

// Broadcast queues payload for every client subscribed to channel and returns
// how many clients received it. Slow clients are skipped, never waited on.
func (h *Hub) Broadcast(channel string, payload []byte) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	delivered := 0
	for _, client := range h.clients {
		if _, ok := client.channels[channel]; !ok {
			continue
		}
		select {
		case client.Send <- payload:
			delivered++
		default:
			h.logger.Warn().Str("client_id", client.ID).Str("channel", channel).Msg("drop message for slow client")
		}
	}
	return delivered
}

func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

func (h *Hub) ChannelCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	channels := make(map[string]struct{})
	for _, client := range h.clients {
		for channel := range client.channels {
			channels[channel] = struct{}{}
		}
	}
	return len(channels)
}

func ParseSubscribe(data []byte) (SubscribeMessage, bool) {
	var msg SubscribeMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return SubscribeMessage{}, false
	}
	if msg.Action != "subscribe" && msg.Action != "unsubscribe" {
		return SubscribeMessage{}, false
	}
	msg.Channel = strings.TrimSpace(msg.Channel)
	if msg.Channel == "" {
		return SubscribeMessage{}, false
	}
	return msg, true
}
