package throttle

import (
	"sync"
	"time"

	"github.com/visionward/sitewatch/internal/logger"
)

// InactivityConfig configures the inactivity monitor
type InactivityConfig struct {
	// Threshold is how long a camera must be both subject-free and
	// motion-free before an event is raised. Defaults to 30 seconds.
	Threshold time.Duration

	// CheckInterval is the minimum spacing between raised events for
	// one camera, so a static scene does not alert continuously.
	// Defaults to the threshold.
	CheckInterval time.Duration

	// MotionCutoff is the motion score below which the scene counts as
	// still. Defaults to 1.0 (percent of changed pixels).
	MotionCutoff float64
}

// cameraActivity tracks one camera's recent activity
type cameraActivity struct {
	lastSubject time.Time
	lastMotion  time.Time
	lastEvent   time.Time
	eventRaised bool
}

// InactivityThrottle raises an event when a camera has seen neither a
// subject nor meaningful motion for the threshold duration. It is
// keyed per camera, not per subject, and raises at most one event per
// check interval.
type InactivityThrottle struct {
	threshold     time.Duration
	checkInterval time.Duration
	motionCutoff  float64
	logger        *logger.Logger

	mu      sync.Mutex
	cameras map[string]*cameraActivity
	raised  uint64
}

// NewInactivityThrottle creates an inactivity monitor
func NewInactivityThrottle(cfg InactivityConfig, log *logger.Logger) *InactivityThrottle {
	threshold := cfg.Threshold
	if threshold <= 0 {
		threshold = 30 * time.Second
	}
	checkInterval := cfg.CheckInterval
	if checkInterval <= 0 {
		checkInterval = threshold
	}
	cutoff := cfg.MotionCutoff
	if cutoff <= 0 {
		cutoff = 1.0
	}
	return &InactivityThrottle{
		threshold:     threshold,
		checkInterval: checkInterval,
		motionCutoff:  cutoff,
		logger:        log,
		cameras:       make(map[string]*cameraActivity),
	}
}

// Track feeds one sampled frame's analysis for a camera without
// consuming the event slot. Used when no rule currently admits an
// inactivity event, so activity tracking stays continuous.
func (t *InactivityThrottle) Track(cameraID string, subjectPresent bool, motionScore float64, now time.Time) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.trackLocked(cameraID, subjectPresent, motionScore, now)
}

func (t *InactivityThrottle) trackLocked(cameraID string, subjectPresent bool, motionScore float64, now time.Time) *cameraActivity {
	cam, ok := t.cameras[cameraID]
	if !ok {
		// Observation starts now; the quiet period is measured from the
		// first frame, not from process start.
		cam = &cameraActivity{lastSubject: now, lastMotion: now}
		t.cameras[cameraID] = cam
	}

	if subjectPresent {
		cam.lastSubject = now
	}
	if motionScore >= t.motionCutoff {
		cam.lastMotion = now
	}
	return cam
}

// Observe feeds one sampled frame's analysis for a camera and reports
// whether an inactivity event fires now. subjectPresent means at least
// one subject detection existed in the frame; motionScore is the
// rolling motion percentage for the frame.
func (t *InactivityThrottle) Observe(cameraID string, subjectPresent bool, motionScore float64, now time.Time) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	cam := t.trackLocked(cameraID, subjectPresent, motionScore, now)

	quietSubject := now.Sub(cam.lastSubject) >= t.threshold
	quietMotion := now.Sub(cam.lastMotion) >= t.threshold
	if !quietSubject || !quietMotion {
		return false
	}

	if cam.eventRaised && now.Sub(cam.lastEvent) < t.checkInterval {
		return false
	}

	cam.lastEvent = now
	cam.eventRaised = true
	t.raised++
	t.logger.Debug("Inactivity detected", "camera_id", cameraID,
		"quiet_for", now.Sub(cam.lastSubject))
	return true
}

// Forget drops a camera's tracking state, for stream removal
func (t *InactivityThrottle) Forget(cameraID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.cameras, cameraID)
}

// Raised returns the total number of events raised
func (t *InactivityThrottle) Raised() uint64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.raised
}
