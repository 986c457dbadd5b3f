package violation

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

// Sink receives accepted violation records. Only success or failure
// matters to the caller; throttle state is never rolled back on a
// failed write.
type Sink interface {
	CreateViolation(ctx context.Context, record Record) error
}

// SinkFunc adapts a function to the Sink interface
type SinkFunc func(ctx context.Context, record Record) error

func (f SinkFunc) CreateViolation(ctx context.Context, record Record) error {
	return f(ctx, record)
}

// HTTPSinkConfig configures the HTTP violation sink
type HTTPSinkConfig struct {
	// Endpoint receives violation records as JSON POSTs
	Endpoint string

	// APIToken, when set, goes out as a bearer token
	APIToken string

	// Timeout bounds one write. Defaults to 10 seconds.
	Timeout time.Duration
}

// HTTPSink posts records to the external violation backend
type HTTPSink struct {
	endpoint   string
	apiToken   string
	httpClient *http.Client
	logger     *logger.Logger
}

// NewHTTPSink creates an HTTP violation sink
func NewHTTPSink(cfg HTTPSinkConfig, log *logger.Logger) *HTTPSink {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &HTTPSink{
		endpoint:   cfg.Endpoint,
		apiToken:   cfg.APIToken,
		httpClient: &http.Client{Timeout: timeout},
		logger:     log,
	}
}

// CreateViolation posts one record
func (s *HTTPSink) CreateViolation(ctx context.Context, record Record) error {
	if s.endpoint == "" {
		return fmt.Errorf("violation endpoint not configured")
	}

	body, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("failed to encode violation: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if s.apiToken != "" {
		req.Header.Set("Authorization", "Bearer "+s.apiToken)
	}

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("violation write failed: %w", err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("violation sink returned %d", resp.StatusCode)
	}
	return nil
}
