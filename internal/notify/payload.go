package notify

import (
	"time"

	"github.com/visionward/sitewatch/internal/detect"
	"github.com/visionward/sitewatch/internal/media"
)

// Payload is the structured alert body posted to the notification
// endpoint
type Payload struct {
	Timestamp     time.Time       `json:"timestamp"`
	CameraID      string          `json:"camera_id"`
	Category      detect.Category `json:"category"`
	SubjectID     string          `json:"subject_id,omitempty"`
	Confidence    float64         `json:"confidence"`
	ScreenshotRef string          `json:"screenshot_ref,omitempty"`
	Box           media.Box       `json:"box"`
}

// Job is one pending notification. Only the dispatcher worker mutates
// the attempt state.
type Job struct {
	Payload  Payload
	Endpoint string

	Attempts  int
	LastError string
}
