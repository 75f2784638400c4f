package webhook

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/chinmina/xert-bridge/internal/config"
	json "github.com/goccy/go-json"
	"github.com/rs/zerolog/log"
)

// Event types emitted to Home Assistant, before any configured prefix.
const (
	EventTrainingInfo = "training_info_update"
	EventActivityList = "activity_list_update"
)

// DeliveryError is returned when the webhook answers with anything other
// than 200.
type DeliveryError struct {
	EventType  string
	StatusCode int
	Body       string
}

func (e *DeliveryError) Error() string {
	return fmt.Sprintf("webhook delivery of %s failed: %d - %s", e.EventType, e.StatusCode, e.Body)
}

// Client posts change notifications to a Home Assistant webhook.
type Client struct {
	url    string
	token  string
	prefix string
	client *http.Client
}

type Option func(*Client)

// WithHTTPClient sets the client used for deliveries.
func WithHTTPClient(client *http.Client) Option {
	return func(c *Client) {
		c.client = client
	}
}

func New(cfg config.HomeAssistantConfig, opts ...Option) *Client {
	c := &Client{
		url:    strings.TrimSuffix(cfg.URL, "/") + "/api/webhook/" + cfg.WebhookID,
		token:  cfg.Token,
		prefix: cfg.EventPrefix,
		client: http.DefaultClient,
	}

	for _, opt := range opts {
		opt(c)
	}

	return c
}

// URL is the webhook endpoint deliveries are posted to.
func (c *Client) URL() string {
	return c.url
}

type envelope struct {
	EventType string `json:"event_type"`
	Data      data   `json:"data"`
}

type data struct {
	Available bool           `json:"available"`
	Parsed    map[string]any `json:"parsed"`
}

// Deliver posts payload as the given event. The payload's "success" flag is
// surfaced as data.available; a missing flag means unavailable.
func (c *Client) Deliver(ctx context.Context, eventType string, payload map[string]any) error {
	eventType = c.prefix + eventType

	available, _ := payload["success"].(bool)
	body, err := json.Marshal(envelope{
		EventType: eventType,
		Data: data{
			Available: available,
			Parsed:    payload,
		},
	})
	if err != nil {
		return fmt.Errorf("could not encode %s payload: %w", eventType, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("could not create webhook request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("webhook delivery of %s failed: %w", eventType, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		excerpt, _ := io.ReadAll(io.LimitReader(resp.Body, 200))
		return &DeliveryError{
			EventType:  eventType,
			StatusCode: resp.StatusCode,
			Body:       string(excerpt),
		}
	}

	log.Info().Str("event", eventType).Msg("webhook delivered")

	return nil
}
