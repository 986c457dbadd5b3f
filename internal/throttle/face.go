package throttle

import (
	"time"

	"github.com/visionward/sitewatch/internal/detect"
	"github.com/visionward/sitewatch/internal/logger"
)

// FaceConfig configures the face violation throttle
type FaceConfig struct {
	// Cooldown between accepted events per recognized identity.
	// Defaults to 10 seconds.
	Cooldown time.Duration
}

// FaceThrottle rate-limits face violations per recognized identity.
// Unresolved identities never trigger: an unknown face is not a
// subject we can meaningfully alert on twice, so it is not a subject
// we alert on at all.
type FaceThrottle struct {
	cooldown *Cooldown
	logger   *logger.Logger
}

// NewFaceThrottle creates a face throttle
func NewFaceThrottle(cfg FaceConfig, log *logger.Logger) *FaceThrottle {
	window := cfg.Cooldown
	if window <= 0 {
		window = 10 * time.Second
	}
	return &FaceThrottle{
		cooldown: NewCooldown(window),
		logger:   log,
	}
}

// Decide reports whether a face detection should produce an alert.
// The returned subject key is the recognized identity.
func (t *FaceThrottle) Decide(event detect.Event, now time.Time) (string, bool) {
	subject := event.SubjectID
	if subject == "" || subject == detect.SubjectUnknown {
		t.logger.Debug("Skipping unresolved face identity")
		return "", false
	}
	return subject, t.cooldown.Decide(subject, now)
}

// Stats returns the underlying cooldown counters
func (t *FaceThrottle) Stats() Stats {
	return t.cooldown.Stats()
}
