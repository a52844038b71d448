package sink

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"
)

// Webhook POSTs each event envelope to a URL. Network errors and 5xx
// answers are retried with doubling backoff; 4xx answers are final.
type Webhook struct {
	url     string
	client  *http.Client
	retries int
	backoff time.Duration
	logger  *slog.Logger
}

// WebhookOption configures a Webhook sink.
type WebhookOption func(*Webhook)

// WithWebhookRetries sets how many times a failed POST is repeated. Default: 3.
func WithWebhookRetries(n int) WebhookOption { return func(w *Webhook) { w.retries = n } }

// WithWebhookBackoff sets the first retry delay. Default: 1s.
func WithWebhookBackoff(d time.Duration) WebhookOption { return func(w *Webhook) { w.backoff = d } }

// WithWebhookLogger sets the logger for failed attempts.
func WithWebhookLogger(l *slog.Logger) WebhookOption { return func(w *Webhook) { w.logger = l } }

// NewWebhook creates a Webhook sink targeting url.
func NewWebhook(url string, opts ...WebhookOption) *Webhook {
	w := &Webhook{
		url:     url,
		client:  &http.Client{Timeout: 10 * time.Second},
		retries: 3,
		backoff: time.Second,
		logger:  slog.Default(),
	}
	for _, o := range opts {
		o(w)
	}
	return w
}

// permanentError is a delivery failure retrying cannot fix.
type permanentError struct{ err error }

func (e permanentError) Error() string { return e.err.Error() }
func (e permanentError) Unwrap() error { return e.err }

func (w *Webhook) Emit(ctx context.Context, ev Event) error {
	body, err := json.Marshal(wrap(ev))
	if err != nil {
		return fmt.Errorf("webhook: marshal: %w", err)
	}

	delay := w.backoff
	for attempt := 1; ; attempt++ {
		err = w.post(ctx, ev, body)
		if err == nil {
			return nil
		}
		if _, ok := err.(permanentError); ok {
			return err
		}
		if attempt > w.retries {
			return fmt.Errorf("webhook: gave up after %d attempts: %w", attempt, err)
		}
		w.logger.Warn("webhook: delivery failed", "event", ev.ID, "attempt", attempt, "error", err)
		select {
		case <-time.After(delay):
			delay *= 2
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func (w *Webhook) post(ctx context.Context, ev Event, body []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.url, bytes.NewReader(body))
	if err != nil {
		return permanentError{fmt.Errorf("webhook: new request: %w", err)}
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Domguard-Event", ev.ID)
	req.Header.Set("X-Domguard-Page", ev.PageID)

	resp, err := w.client.Do(req)
	if err != nil {
		return err
	}
	resp.Body.Close()
	switch {
	case resp.StatusCode < 300:
		return nil
	case resp.StatusCode < 500:
		return permanentError{fmt.Errorf("webhook: status %d", resp.StatusCode)}
	default:
		return fmt.Errorf("webhook: status %d", resp.StatusCode)
	}
}

func (w *Webhook) Close() error { return nil }
