package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/visionward/sitewatch/internal/logger"
)

// Sender delivers one notification attempt
type Sender interface {
	Send(ctx context.Context, job Job) error
}

// WebhookConfig configures the HTTP notification sender
type WebhookConfig struct {
	// DefaultEndpoint receives jobs that carry no endpoint of their own
	DefaultEndpoint string

	// Timeout bounds one delivery attempt. Defaults to 10 seconds.
	Timeout time.Duration
}

// WebhookSender posts payloads as JSON to a webhook endpoint
type WebhookSender struct {
	defaultEndpoint string
	httpClient      *http.Client
	logger          *logger.Logger
}

// NewWebhookSender creates a webhook sender
func NewWebhookSender(cfg WebhookConfig, log *logger.Logger) *WebhookSender {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &WebhookSender{
		defaultEndpoint: cfg.DefaultEndpoint,
		httpClient:      &http.Client{Timeout: timeout},
		logger:          log,
	}
}

// Send posts the job payload. Any non-2xx status is a delivery failure.
func (s *WebhookSender) Send(ctx context.Context, job Job) error {
	endpoint := job.Endpoint
	if endpoint == "" {
		endpoint = s.defaultEndpoint
	}
	if endpoint == "" {
		return fmt.Errorf("no notification endpoint configured")
	}

	body, err := json.Marshal(job.Payload)
	if err != nil {
		return fmt.Errorf("failed to encode payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("delivery failed: %w", err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("endpoint returned %d", resp.StatusCode)
	}
	return nil
}

// Probe checks endpoint reachability without sending an alert. It is
// independent of the delivery path and meant for health checks.
func (s *WebhookSender) Probe(ctx context.Context) error {
	if s.defaultEndpoint == "" {
		return fmt.Errorf("no notification endpoint configured")
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, s.defaultEndpoint, nil)
	if err != nil {
		return err
	}
	resp, err := s.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("probe failed: %w", err)
	}
	resp.Body.Close()
	if resp.StatusCode >= 500 {
		return fmt.Errorf("endpoint unhealthy: %d", resp.StatusCode)
	}
	return nil
}
