package detect

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/visionward/sitewatch/internal/logger"
	"github.com/visionward/sitewatch/internal/media"
)

// RemoteConfig configures a detector backed by an external inference
// service
type RemoteConfig struct {
	// ServiceURL is the inference service base URL
	ServiceURL string

	// Timeout bounds one detection request
	Timeout time.Duration

	// MinConfidence drops detections below this floor before they
	// reach the rule engine. Zero keeps everything.
	MinConfidence float64
}

// RemoteDetector calls an external inference service over HTTP. One
// instance serves one category; the frame JPEG goes in the request
// body and detections come back as JSON.
type RemoteDetector struct {
	category      Category
	serviceURL    string
	minConfidence float64
	httpClient    *http.Client
	logger        *logger.Logger
}

// remoteDetection is the service's wire shape for one detection
type remoteDetection struct {
	Confidence float64           `json:"confidence"`
	Box        []float64         `json:"box"`
	SubjectID  string            `json:"subject_id"`
	Attributes map[string]string `json:"attributes"`
}

type remoteResponse struct {
	Detections []remoteDetection `json:"detections"`
}

// NewRemoteDetector creates a detector for one category
func NewRemoteDetector(category Category, cfg RemoteConfig, log *logger.Logger) *RemoteDetector {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &RemoteDetector{
		category:      category,
		serviceURL:    cfg.ServiceURL,
		minConfidence: cfg.MinConfidence,
		httpClient:    &http.Client{Timeout: timeout},
		logger:        log,
	}
}

// Category returns the event class this detector produces
func (d *RemoteDetector) Category() Category {
	return d.category
}

// Detect posts the frame to the inference service and maps the
// response to detection events
func (d *RemoteDetector) Detect(ctx context.Context, frame *media.Frame) ([]Event, error) {
	if frame == nil || len(frame.Data) == 0 {
		return nil, fmt.Errorf("empty frame")
	}

	url := fmt.Sprintf("%s/detect/%s", d.serviceURL, d.category)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(frame.Data))
	if err != nil {
		return nil, fmt.Errorf("failed to build detect request: %w", err)
	}
	req.Header.Set("Content-Type", "image/jpeg")
	req.Header.Set("X-Stream-ID", frame.StreamID)

	resp, err := d.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("detect request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("detect service returned %d: %s", resp.StatusCode, body)
	}

	var parsed remoteResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, fmt.Errorf("failed to decode detect response: %w", err)
	}

	events := make([]Event, 0, len(parsed.Detections))
	for _, det := range parsed.Detections {
		if det.Confidence < d.minConfidence {
			continue
		}
		event := Event{
			Category:   d.category,
			Confidence: det.Confidence,
			SubjectID:  det.SubjectID,
			Attributes: det.Attributes,
			Timestamp:  frame.Timestamp,
		}
		if len(det.Box) == 4 {
			event.Box = media.Box{X1: det.Box[0], Y1: det.Box[1], X2: det.Box[2], Y2: det.Box[3]}
		}
		events = append(events, event)
	}
	return events, nil
}
