package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

type Provider interface {
	Send(ctx context.Context, msg Message, recipient string) error
}

type ProviderConfig struct {
	Kind       string
	Channel    string
	WebhookURL string
	Token      string
}

func NewProvider(cfg ProviderConfig, logger zerolog.Logger) Provider {
	switch cfg.Kind {
	case "", "log":
		return logProvider{channel: cfg.Channel, logger: logger}
	case "noop":
		return noopProvider{}
	case "webhook":
		if cfg.WebhookURL == "" {
			return logProvider{channel: cfg.Channel, logger: logger}
		}
		return webhookProvider{channel: cfg.Channel, url: cfg.WebhookURL, token: cfg.Token, client: &http.Client{Timeout: 5 * time.Second}}
	default:
		if strings.HasPrefix(cfg.Kind, "http://") || strings.HasPrefix(cfg.Kind, "https://") {
			return webhookProvider{channel: cfg.Channel, url: cfg.Kind, client: &http.Client{Timeout: 5 * time.Second}}
		}
		return logProvider{channel: cfg.Channel, logger: logger}
	}
}

type logProvider struct {
	channel string
	logger  zerolog.Logger
}

func (p logProvider) Send(ctx context.Context, msg Message, recipient string) error {
	p.logger.Info().Str("channel", p.channel).Str("recipient", recipient).Str("title", msg.Title).Msg(msg.Body)
	return nil
}

type noopProvider struct{}

func (noopProvider) Send(ctx context.Context, msg Message, recipient string) error {
	return nil
}

type webhookProvider struct {
	channel string
	url     string
	token   string
	client  *http.Client
}

func (p webhookProvider) Send(ctx context.Context, msg Message, recipient string) error {
	body, err := json.Marshal(map[string]string{
		"channel":   p.channel,
		"recipient": recipient,
		"title":     msg.Title,
		"message":   msg.Body,
	})
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if p.token != "" {
		req.Header.Set("Authorization", "Bearer "+p.token)
	}
	resp, err := p.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return fmt.Errorf("provider rejected request: %d", resp.StatusCode)
	}
	return nil
}
