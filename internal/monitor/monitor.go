package monitor

import (
	"context"
	"sync"
	"time"

	"github.com/visionward/sitewatch/internal/detect"
	"github.com/visionward/sitewatch/internal/logger"
	"github.com/visionward/sitewatch/internal/media"
	"github.com/visionward/sitewatch/internal/metrics"
	"github.com/visionward/sitewatch/internal/notify"
	"github.com/visionward/sitewatch/internal/registry"
	"github.com/visionward/sitewatch/internal/rules"
	"github.com/visionward/sitewatch/internal/screenshot"
	"github.com/visionward/sitewatch/internal/service"
	"github.com/visionward/sitewatch/internal/stream"
	"github.com/visionward/sitewatch/internal/throttle"
	"github.com/visionward/sitewatch/internal/violation"
)

// Config tunes the orchestrator
type Config struct {
	// DrowsinessCooldown between accepted drowsiness events per
	// subject. Defaults to 20 seconds.
	DrowsinessCooldown time.Duration

	// ScreenshotQuality is the JPEG quality for annotated screenshots
	ScreenshotQuality int
}

// Deps are the collaborators the orchestrator composes. All are
// required except Metrics.
type Deps struct {
	Engine      *rules.Engine
	Provider    *detect.Provider
	Registry    *registry.Registry
	Dispatcher  *notify.Dispatcher
	Sink        violation.Sink
	Screenshots screenshot.Store
	Face        *throttle.FaceThrottle
	Helmet      *throttle.HelmetThrottle
	Inactivity  *throttle.InactivityThrottle
	Metrics     *metrics.Metrics
}

// Monitor drives the per-frame pipeline: rule lookup, detector
// invocation, throttling, and emission of screenshots, violation
// records, and notification jobs. It attaches itself to the registry
// as the default frame handler.
type Monitor struct {
	*service.ServiceBase
	cfg  Config
	deps Deps

	drowsiness *throttle.Cooldown

	mu     sync.Mutex
	motion map[string]*media.MotionScorer
}

// New creates the orchestrator
func New(cfg Config, deps Deps, log *logger.Logger) *Monitor {
	drowsyWindow := cfg.DrowsinessCooldown
	if drowsyWindow <= 0 {
		drowsyWindow = 20 * time.Second
	}
	if cfg.ScreenshotQuality < 1 || cfg.ScreenshotQuality > 100 {
		cfg.ScreenshotQuality = 85
	}
	return &Monitor{
		ServiceBase: service.NewServiceBase("monitor", log),
		cfg:         cfg,
		deps:        deps,
		drowsiness:  throttle.NewCooldown(drowsyWindow),
		motion:      make(map[string]*media.MotionScorer),
	}
}

// Start attaches the frame handler. It must run before the registry
// starts so no sampled frame is dropped on the floor.
func (m *Monitor) Start(ctx context.Context) error {
	m.GetStatus().SetStatus(service.StatusStarting)
	m.deps.Registry.SetDefaultHandler(m.HandleFrame)
	m.GetStatus().SetStatus(service.StatusRunning)
	m.LogInfo("Monitor started")
	return nil
}

// Stop detaches the frame handler
func (m *Monitor) Stop(ctx context.Context) error {
	m.GetStatus().SetStatus(service.StatusStopping)
	m.deps.Registry.SetDefaultHandler(nil)
	m.GetStatus().SetStatus(service.StatusStopped)
	return nil
}

// HandleFrame runs the detection pipeline for one sampled frame
func (m *Monitor) HandleFrame(ctx context.Context, frame *media.Frame) {
	client, ok := m.deps.Registry.Client(frame.StreamID)
	if !ok {
		return
	}
	desc := client.Descriptor()
	streamKind := string(desc.Protocol)

	categories := m.deps.Engine.EnabledCategories(ctx, frame.StreamID, streamKind)
	if len(categories) == 0 {
		return
	}
	m.countSampled(frame.StreamID)

	now := time.Now()

	// The face detector runs first whenever any enabled category
	// depends on its output, even if "face" itself is not enabled:
	// helmet and drowsiness attribute violations to faces, and
	// inactivity needs to know whether anyone is in frame.
	var faces []detect.Event
	if needsFaces(categories) {
		faces = m.detect(ctx, detect.CategoryFace, frame)
	}

	for _, category := range categories {
		switch category {
		case detect.CategoryFace:
			m.handleFace(ctx, frame, desc, faces, now)
		case detect.CategoryHelmet:
			m.handleHelmet(ctx, frame, desc, faces, now)
		case detect.CategoryDrowsiness:
			m.handleDrowsiness(ctx, frame, desc, now)
		case detect.CategoryInactivity:
			m.handleInactivity(ctx, frame, desc, faces, now)
		}
	}
}

// needsFaces reports whether the face detector must run for this
// category set
func needsFaces(categories []detect.Category) bool {
	for _, c := range categories {
		if c == detect.CategoryFace || c == detect.CategoryInactivity || c.NeedsSubjects() {
			return true
		}
	}
	return false
}

// detect runs one category's detector against the frame. A detector
// failure is logged and treated as no detections; it never stops the
// dispatch loop.
func (m *Monitor) detect(ctx context.Context, category detect.Category, frame *media.Frame) []detect.Event {
	detector, err := m.deps.Provider.Get(category)
	if err != nil {
		m.LogError("Detector unavailable", err, "category", category)
		m.countDetectorFailure(category)
		return nil
	}
	events, err := detector.Detect(ctx, frame)
	if err != nil {
		m.LogWarn("Detection failed",
			"category", category, "stream_id", frame.StreamID, "error", err)
		m.countDetectorFailure(category)
		return nil
	}
	m.countDetections(category, len(events))
	return events
}

func (m *Monitor) handleFace(ctx context.Context, frame *media.Frame, desc stream.Descriptor, faces []detect.Event, now time.Time) {
	for _, event := range faces {
		ok, rule := m.deps.Engine.ShouldTrigger(ctx, frame.StreamID, string(desc.Protocol),
			detect.CategoryFace, event.Confidence, event.SubjectID)
		if !ok {
			continue
		}
		subject, accepted := m.deps.Face.Decide(event, now)
		if !accepted {
			m.countThrottled(detect.CategoryFace)
			continue
		}
		event.SubjectID = subject
		m.emit(ctx, frame, desc, event, rule)
	}
}

func (m *Monitor) handleHelmet(ctx context.Context, frame *media.Frame, desc stream.Descriptor, faces []detect.Event, now time.Time) {
	violations := m.detect(ctx, detect.CategoryHelmet, frame)
	for _, event := range violations {
		// Attribution is stateless; the cooldown runs only after the
		// rule gate so a rejected detection never consumes the slot.
		subject := m.deps.Helmet.AttributeSubject(event, faces)
		if subject == "" {
			continue
		}
		ok, rule := m.deps.Engine.ShouldTrigger(ctx, frame.StreamID, string(desc.Protocol),
			detect.CategoryHelmet, event.Confidence, subject)
		if !ok {
			continue
		}
		if !m.deps.Helmet.Allow(subject, now) {
			m.countThrottled(detect.CategoryHelmet)
			continue
		}
		event.SubjectID = subject
		m.emit(ctx, frame, desc, event, rule)
	}
}

func (m *Monitor) handleDrowsiness(ctx context.Context, frame *media.Frame, desc stream.Descriptor, now time.Time) {
	events := m.detect(ctx, detect.CategoryDrowsiness, frame)
	for _, event := range events {
		subject := event.SubjectID
		if subject == "" || subject == detect.SubjectUnknown {
			continue
		}
		ok, rule := m.deps.Engine.ShouldTrigger(ctx, frame.StreamID, string(desc.Protocol),
			detect.CategoryDrowsiness, event.Confidence, subject)
		if !ok {
			continue
		}
		if !m.drowsiness.Decide(subject, now) {
			m.countThrottled(detect.CategoryDrowsiness)
			continue
		}
		m.emit(ctx, frame, desc, event, rule)
	}
}

func (m *Monitor) handleInactivity(ctx context.Context, frame *media.Frame, desc stream.Descriptor, faces []detect.Event, now time.Time) {
	score := m.motionScore(frame)

	// Rule gate first: when no rule admits the event, activity is
	// still tracked but the once-per-interval event slot stays free.
	ok, rule := m.deps.Engine.ShouldTrigger(ctx, frame.StreamID, string(desc.Protocol),
		detect.CategoryInactivity, 1.0, "")
	if !ok {
		m.deps.Inactivity.Track(frame.StreamID, len(faces) > 0, score, now)
		return
	}

	if !m.deps.Inactivity.Observe(frame.StreamID, len(faces) > 0, score, now) {
		return
	}

	event := detect.Event{
		Category:   detect.CategoryInactivity,
		Confidence: 1.0,
		Timestamp:  frame.Timestamp,
		Attributes: map[string]string{"motion_score": formatScore(score)},
	}
	m.emit(ctx, frame, desc, event, rule)
}

// motionScore feeds the frame to the stream's rolling motion scorer
func (m *Monitor) motionScore(frame *media.Frame) float64 {
	m.mu.Lock()
	scorer, ok := m.motion[frame.StreamID]
	if !ok {
		scorer = media.NewMotionScorer()
		m.motion[frame.StreamID] = scorer
	}
	m.mu.Unlock()

	score, err := scorer.Score(frame)
	if err != nil {
		m.LogDebug("Motion scoring failed",
			"stream_id", frame.StreamID, "error", err)
		return 0
	}
	return score
}

// emit produces the screenshot, violation record, and notification job
// for one accepted detection. Sink and screenshot failures are logged;
// throttle state is never rolled back, a missed write must not cause a
// duplicate-alert storm.
func (m *Monitor) emit(ctx context.Context, frame *media.Frame, desc stream.Descriptor, event detect.Event, rule *rules.Rule) {
	m.countAccepted(event.Category)

	ref := m.saveScreenshot(ctx, frame, event)

	record := violation.NewRecord(frame.StreamID, event, ref, desc.Location)
	if err := m.deps.Sink.CreateViolation(ctx, record); err != nil {
		m.LogError("Violation write failed", err,
			"stream_id", frame.StreamID, "category", event.Category)
	}

	if rule != nil && rule.Notify.Enabled {
		job := notify.Job{
			Payload: notify.Payload{
				Timestamp:     event.Timestamp,
				CameraID:      frame.StreamID,
				Category:      event.Category,
				SubjectID:     event.SubjectID,
				Confidence:    event.Confidence,
				ScreenshotRef: ref,
				Box:           event.Box,
			},
			Endpoint: rule.Notify.Endpoint,
		}
		if err := m.deps.Dispatcher.Submit(ctx, job); err != nil {
			m.LogWarn("Notification submit failed", "error", err)
		}
	}

	m.PublishEvent(service.EventTypeViolationAccepted, map[string]interface{}{
		"stream_id": frame.StreamID,
		"category":  string(event.Category),
		"subject":   event.SubjectID,
	})
}

// saveScreenshot annotates and stores the frame, returning the
// reference or "" when anything fails
func (m *Monitor) saveScreenshot(ctx context.Context, frame *media.Frame, event detect.Event) string {
	if m.deps.Screenshots == nil {
		return ""
	}
	annotated, err := screenshot.Annotate(frame.Data, screenshot.Annotation{
		Category: event.Category,
		Boxes:    []media.Box{event.Box},
	}, m.cfg.ScreenshotQuality)
	if err != nil {
		m.LogWarn("Screenshot annotation failed",
			"stream_id", frame.StreamID, "error", err)
		return ""
	}
	ref, err := m.deps.Screenshots.Save(ctx, frame.StreamID, string(event.Category), annotated)
	if err != nil {
		m.LogWarn("Screenshot save failed",
			"stream_id", frame.StreamID, "error", err)
		return ""
	}
	return ref
}
