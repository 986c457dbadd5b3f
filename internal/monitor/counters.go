package monitor

import (
	"strconv"

	"github.com/visionward/sitewatch/internal/detect"
)

// Metric helpers tolerate a nil metrics handle so tests and minimal
// deployments can run without an exporter.

func (m *Monitor) countSampled(streamID string) {
	if m.deps.Metrics == nil {
		return
	}
	m.deps.Metrics.FramesSampled.WithLabelValues(streamID).Inc()
}

func (m *Monitor) countDetections(category detect.Category, n int) {
	if m.deps.Metrics == nil || n == 0 {
		return
	}
	m.deps.Metrics.Detections.WithLabelValues(string(category)).Add(float64(n))
}

func (m *Monitor) countDetectorFailure(category detect.Category) {
	if m.deps.Metrics == nil {
		return
	}
	m.deps.Metrics.DetectorFails.WithLabelValues(string(category)).Inc()
}

func (m *Monitor) countAccepted(category detect.Category) {
	if m.deps.Metrics == nil {
		return
	}
	m.deps.Metrics.ViolationsAccepted.WithLabelValues(string(category)).Inc()
}

func (m *Monitor) countThrottled(category detect.Category) {
	if m.deps.Metrics == nil {
		return
	}
	m.deps.Metrics.ViolationsThrottled.WithLabelValues(string(category)).Inc()
}

func formatScore(score float64) string {
	return strconv.FormatFloat(score, 'f', 2, 64)
}
