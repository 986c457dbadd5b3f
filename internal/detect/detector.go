package detect

import (
	"context"
	"time"

	"github.com/visionward/sitewatch/internal/media"
)

// Category is a named class of detectable event
type Category string

const (
	CategoryFace       Category = "face"
	CategoryHelmet     Category = "helmet"
	CategoryDrowsiness Category = "drowsiness"
	CategoryInactivity Category = "inactivity"
)

// SubjectUnknown is the subject id detectors report for faces they
// could not resolve to an enrolled identity
const SubjectUnknown = "unknown"

// NeedsSubjects reports whether a category's violations are attributed
// to subject detections from the same frame
func (c Category) NeedsSubjects() bool {
	switch c {
	case CategoryHelmet, CategoryDrowsiness:
		return true
	}
	return false
}

// Event is one detection produced by a detector capability
type Event struct {
	Category   Category          `json:"category"`
	Confidence float64           `json:"confidence"`
	Box        media.Box         `json:"box"`
	SubjectID  string            `json:"subject_id,omitempty"`
	Attributes map[string]string `json:"attributes,omitempty"`
	Timestamp  time.Time         `json:"timestamp"`
}

// Detector is the pluggable capability contract. Implementations are
// external; the core never depends on a specific algorithm.
type Detector interface {
	// Category returns the event class this detector produces
	Category() Category

	// Detect runs the capability against one frame
	Detect(ctx context.Context, frame *media.Frame) ([]Event, error)
}
