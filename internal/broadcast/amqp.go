package broadcast

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/rs/zerolog"
)

// AMQPPublisher publishes events to a topic exchange keyed by channel name so
// every instance's Relay can feed its own hub.
type AMQPPublisher struct {
	mu       sync.Mutex
	conn     *amqp.Connection
	channel  *amqp.Channel
	exchange string
}

func DialAMQP(url, exchange string) (*AMQPPublisher, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("amqp dial: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("amqp channel: %w", err)
	}
	if err := ch.ExchangeDeclare(exchange, amqp.ExchangeTopic, true, false, false, false, nil); err != nil {
		ch.Close()
		conn.Close()
		return nil, fmt.Errorf("amqp exchange declare: %w", err)
	}
	return &AMQPPublisher{conn: conn, channel: ch, exchange: exchange}, nil
}

func (p *AMQPPublisher) Publish(ctx context.Context, channel, event string, payload any) error {
	envelope, err := NewEnvelope(channel, event, payload)
	if err != nil {
		return err
	}
	body, err := json.Marshal(envelope)
	if err != nil {
		return err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.channel.PublishWithContext(ctx, p.exchange, channel, false, false, amqp.Publishing{
		ContentType: "application/json",
		Type:        event,
		Timestamp:   envelope.SentAt,
		Body:        body,
	})
}

func (p *AMQPPublisher) Close() error {
	if p == nil || p.channel == nil {
		return nil
	}
	if err := p.channel.Close(); err != nil {
		return err
	}
	return p.conn.Close()
}

// Relay consumes the exchange through an exclusive queue and hands every
// envelope to the local hub.
type Relay struct {
	conn     *amqp.Connection
	channel  *amqp.Channel
	exchange string
	local    *HubPublisher
	logger   zerolog.Logger
}

func NewRelay(url, exchange string, local *HubPublisher, logger zerolog.Logger) (*Relay, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("amqp dial: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("amqp channel: %w", err)
	}
	return &Relay{conn: conn, channel: ch, exchange: exchange, local: local, logger: logger}, nil
}

func (r *Relay) Start(ctx context.Context) error {
	if err := r.channel.ExchangeDeclare(r.exchange, amqp.ExchangeTopic, true, false, false, false, nil); err != nil {
		return err
	}
	queue, err := r.channel.QueueDeclare("", false, true, true, false, nil)
	if err != nil {
		return err
	}
	if err := r.channel.QueueBind(queue.Name, "#", r.exchange, false, nil); err != nil {
		return err
	}
	msgs, err := r.channel.Consume(queue.Name, "", true, true, false, false, nil)
	if err != nil {
		return err
	}

	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-msgs:
				if !ok {
					r.logger.Warn().Msg("amqp relay delivery channel closed")
					return
				}
				r.handle(msg.Body)
			}
		}
	}()
	return nil
}

func (r *Relay) handle(body []byte) {
	var envelope Envelope
	if err := json.Unmarshal(body, &envelope); err != nil {
		r.logger.Warn().Err(err).Msg("amqp relay: malformed envelope")
		return
	}
	if err := r.local.Deliver(envelope); err != nil {
		r.logger.Warn().Err(err).Str("channel", envelope.Channel).Msg("amqp relay: deliver failed")
	}
}

func (r *Relay) Stop() error {
	if r == nil || r.channel == nil {
		return nil
	}
	if err := r.channel.Close(); err != nil {
		return err
	}
	return r.conn.Close()
}
