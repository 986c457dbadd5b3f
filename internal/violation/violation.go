package violation

import (
	"time"

	"github.com/google/uuid"

	"github.com/visionward/sitewatch/internal/detect"
	"github.com/visionward/sitewatch/internal/media"
)

// Severity ranks how urgent a violation is for downstream consumers
type Severity string

const (
	SeverityHigh   Severity = "high"
	SeverityMedium Severity = "medium"
)

// SeverityFor maps a category to its severity. Safety-equipment and
// drowsiness violations outrank presence alerts.
func SeverityFor(category detect.Category) Severity {
	switch category {
	case detect.CategoryHelmet, detect.CategoryDrowsiness:
		return SeverityHigh
	}
	return SeverityMedium
}

// Record is one accepted violation handed to the external sink. The
// core never mutates a record after creating it and keeps no history
// of them.
type Record struct {
	ID            string          `json:"id"`
	CameraID      string          `json:"camera_id"`
	Category      detect.Category `json:"category"`
	Confidence    float64         `json:"confidence"`
	SubjectID     string          `json:"subject_id,omitempty"`
	Box           media.Box       `json:"box"`
	ScreenshotRef string          `json:"screenshot_ref,omitempty"`
	Severity      Severity        `json:"severity"`
	Geolocation   string          `json:"geolocation,omitempty"`
	Timestamp     time.Time       `json:"timestamp"`
}

// NewRecord builds a record from a detection on a camera
func NewRecord(cameraID string, event detect.Event, screenshotRef, geolocation string) Record {
	return Record{
		ID:            uuid.New().String(),
		CameraID:      cameraID,
		Category:      event.Category,
		Confidence:    event.Confidence,
		SubjectID:     event.SubjectID,
		Box:           event.Box,
		ScreenshotRef: screenshotRef,
		Severity:      SeverityFor(event.Category),
		Geolocation:   geolocation,
		Timestamp:     event.Timestamp,
	}
}
