package throttle

import (
	"time"

	"github.com/visionward/sitewatch/internal/detect"
	"github.com/visionward/sitewatch/internal/logger"
)

// HelmetConfig configures the helmet violation throttle
type HelmetConfig struct {
	// Cooldown between accepted events per attributed subject.
	// Defaults to 20 seconds.
	Cooldown time.Duration

	// AttributionThreshold is the minimum overlap fraction between the
	// violation box and a face box for the attribution to stick.
	// Defaults to 0.3.
	AttributionThreshold float64
}

// HelmetThrottle attributes a helmet violation to the face detection
// it overlaps most, then rate-limits per attributed subject. A
// violation that cannot be attributed to any face is discarded rather
// than alerted anonymously.
type HelmetThrottle struct {
	cooldown  *Cooldown
	threshold float64
	logger    *logger.Logger
}

// NewHelmetThrottle creates a helmet throttle
func NewHelmetThrottle(cfg HelmetConfig, log *logger.Logger) *HelmetThrottle {
	window := cfg.Cooldown
	if window <= 0 {
		window = 20 * time.Second
	}
	threshold := cfg.AttributionThreshold
	if threshold <= 0 {
		threshold = 0.3
	}
	return &HelmetThrottle{
		cooldown:  NewCooldown(window),
		threshold: threshold,
		logger:    log,
	}
}

// Attribute finds the face whose box overlaps the violation box most.
// Returns nil when no face reaches the attribution threshold.
func (t *HelmetThrottle) Attribute(violation detect.Event, faces []detect.Event) *detect.Event {
	var best *detect.Event
	bestRatio := 0.0
	for i := range faces {
		ratio := violation.Box.OverlapRatio(faces[i].Box)
		if ratio > bestRatio {
			bestRatio = ratio
			best = &faces[i]
		}
	}
	if best == nil || bestRatio <= t.threshold {
		return nil
	}
	return best
}

// AttributeSubject resolves the violation to a subject id without
// touching any throttle state. Returns "" for violations that cannot
// be attributed to a resolved identity.
func (t *HelmetThrottle) AttributeSubject(violation detect.Event, faces []detect.Event) string {
	if len(faces) == 0 {
		return ""
	}

	face := t.Attribute(violation, faces)
	if face == nil {
		t.logger.Debug("Discarding unattributable helmet violation",
			"faces", len(faces), "box", violation.Box)
		return ""
	}

	subject := face.SubjectID
	if subject == "" || subject == detect.SubjectUnknown {
		t.logger.Debug("Discarding helmet violation on unresolved identity")
		return ""
	}
	return subject
}

// Allow runs the subject through the cooldown. Callers resolve the
// subject first so a violation rejected upstream never consumes the
// cooldown slot.
func (t *HelmetThrottle) Allow(subject string, now time.Time) bool {
	return t.cooldown.Decide(subject, now)
}

// Decide attributes the violation and runs the attributed subject
// through the cooldown. Unattributable violations and violations
// attributed to an unresolved identity are discarded.
func (t *HelmetThrottle) Decide(violation detect.Event, faces []detect.Event, now time.Time) (string, bool) {
	subject := t.AttributeSubject(violation, faces)
	if subject == "" {
		return "", false
	}
	return subject, t.cooldown.Decide(subject, now)
}

// Stats returns the underlying cooldown counters
func (t *HelmetThrottle) Stats() Stats {
	return t.cooldown.Stats()
}
