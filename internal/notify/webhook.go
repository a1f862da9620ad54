package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"solar_monitor/internal/domain"
)

type webhookPayload struct {
	Event          string         `json:"event"`
	Unacknowledged int            `json:"unacknowledged"`
	Alerts         []domain.Alert `json:"alerts"`
	SentAt         time.Time      `json:"sent_at"`
}

// WebhookSink posts new alerts to an HTTP endpoint
type WebhookSink struct {
	url    string
	client *http.Client
}

// WebhookOption configures the webhook sink
type WebhookOption func(*WebhookSink)

func WithHTTPClient(client *http.Client) WebhookOption {
	return func(w *WebhookSink) {
		if client != nil {
			w.client = client
		}
	}
}

func NewWebhookSink(url string, opts ...WebhookOption) (*WebhookSink, error) {
	if url == "" {
		return nil, errors.New("webhook sink: empty url")
	}
	w := &WebhookSink{
		url:    url,
		client: &http.Client{Timeout: 5 * time.Second},
	}
	for _, opt := range opts {
		opt(w)
	}
	return w, nil
}

func (w *WebhookSink) Name() string { return "webhook" }

// Notify posts only when the event carries new alerts
func (w *WebhookSink) Notify(ctx context.Context, ev Event) error {
	if len(ev.New) == 0 {
		return nil
	}
	body, err := json.Marshal(webhookPayload{
		Event:          "alerts.new",
		Unacknowledged: len(ev.Unacknowledged),
		Alerts:         ev.New,
		SentAt:         ev.At,
	})
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := w.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return fmt.Errorf("webhook sink: non-2xx response %d", resp.StatusCode)
	}
	return nil
}
