package alerting

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"metrion-backend/internal/indicator"
)

// WebhookSink posts alerts as JSON to an HTTP endpoint.
type WebhookSink struct {
	url    string
	client *http.Client
}

type WebhookOption func(*WebhookSink)

func WithHTTPClient(client *http.Client) WebhookOption {
	return func(s *WebhookSink) {
		if client != nil {
			s.client = client
		}
	}
}

func NewWebhookSink(url string, opts ...WebhookOption) (*WebhookSink, error) {
	if url == "" {
		return nil, errors.New("alerting: empty webhook url")
	}
	sink := &WebhookSink{
		url:    url,
		client: &http.Client{Timeout: 10 * time.Second},
	}
	for _, opt := range opts {
		opt(sink)
	}
	return sink, nil
}

type webhookPayload struct {
	AlertID     string    `json:"alert_id"`
	IndicatorID string    `json:"indicator_id"`
	ExecutionID string    `json:"execution_id"`
	Message     string    `json:"message"`
	RaisedAt    time.Time `json:"raised_at"`
}

func (s *WebhookSink) RaiseAlert(ctx context.Context, alert indicator.Alert) error {
	body, err := json.Marshal(webhookPayload{
		AlertID:     alert.ID,
		IndicatorID: alert.IndicatorID,
		ExecutionID: alert.ExecutionID,
		Message:     alert.Message,
		RaisedAt:    alert.RaisedAt,
	})
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := s.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return fmt.Errorf("alerting: webhook responded %d", resp.StatusCode)
	}
	return nil
}
