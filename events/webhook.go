package events

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

type (
	// WebhookSubscriber delivers events as JSON POST requests to an HTTP
	// endpoint. A non-2xx response is a delivery failure and counts against
	// the subscription's circuit breaker, which gives flaky endpoints
	// automatic backoff.
	WebhookSubscriber struct {
		id      string
		url     string
		client  *http.Client
		headers map[string]string
	}

	// WebhookOption configures a WebhookSubscriber.
	WebhookOption func(*WebhookSubscriber)

	// webhookEnvelope is the wire format posted to the endpoint.
	webhookEnvelope struct {
		ID        string    `json:"id"`
		Type      string    `json:"type"`
		Payload   any       `json:"payload"`
		Timestamp time.Time `json:"timestamp"`
		Sequence  uint64    `json:"sequence"`
		Source    string    `json:"source,omitempty"`
		Replay    bool      `json:"replay,omitempty"`
	}
)

// WithHTTPClient overrides the HTTP client used for deliveries.
func WithHTTPClient(c *http.Client) WebhookOption {
	return func(w *WebhookSubscriber) { w.client = c }
}

// WithHeader adds a header to every delivery request, e.g. an
// authorization token.
func WithHeader(key, value string) WebhookOption {
	return func(w *WebhookSubscriber) { w.headers[key] = value }
}

// NewWebhookSubscriber builds a subscriber that posts events to url. The
// delivery timeout comes from the subscription, so the default client has
// none of its own.
func NewWebhookSubscriber(id, url string, opts ...WebhookOption) *WebhookSubscriber {
	w := &WebhookSubscriber{
		id:      id,
		url:     url,
		client:  http.DefaultClient,
		headers: make(map[string]string),
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// ID returns the subscriber identifier.
func (w *WebhookSubscriber) ID() string { return w.id }

// Deliver posts the event to the endpoint as JSON.
func (w *WebhookSubscriber) Deliver(ctx context.Context, evt Event) error {
	body, err := json.Marshal(webhookEnvelope{
		ID:        evt.ID,
		Type:      evt.Type,
		Payload:   evt.Payload,
		Timestamp: evt.Timestamp,
		Sequence:  evt.Sequence,
		Source:    evt.Source,
		Replay:    evt.Replay,
	})
	if err != nil {
		return fmt.Errorf("encode webhook payload: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build webhook request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range w.headers {
		req.Header.Set(k, v)
	}
	resp, err := w.client.Do(req)
	if err != nil {
		return fmt.Errorf("post webhook: %w", err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, io.LimitReader(resp.Body, 4096)) //nolint:errcheck
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("webhook returned status %d", resp.StatusCode)
	}
	return nil
}
