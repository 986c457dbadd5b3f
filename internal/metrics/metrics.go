package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the monitoring pipeline's Prometheus collectors. One
// instance per process; collectors register on the default registry.
type Metrics struct {
	FramesSampled *prometheus.CounterVec
	Detections    *prometheus.CounterVec
	DetectorFails *prometheus.CounterVec

	ViolationsAccepted  *prometheus.CounterVec
	ViolationsThrottled *prometheus.CounterVec

	NotificationsDelivered prometheus.Counter
	NotificationsFailed    prometheus.Counter

	StreamsConnected prometheus.Gauge
}

// New registers and returns the pipeline metrics
func New() *Metrics {
	return &Metrics{
		FramesSampled: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "sitewatch_frames_sampled_total",
			Help: "Frames handed to the detection pipeline",
		}, []string{"stream_id"}),

		Detections: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "sitewatch_detections_total",
			Help: "Detection events produced, by category",
		}, []string{"category"}),

		DetectorFails: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "sitewatch_detector_failures_total",
			Help: "Detector invocations that returned an error",
		}, []string{"category"}),

		ViolationsAccepted: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "sitewatch_violations_accepted_total",
			Help: "Violations that passed throttling, by category",
		}, []string{"category"}),

		ViolationsThrottled: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "sitewatch_violations_throttled_total",
			Help: "Violations suppressed by cooldown or attribution, by category",
		}, []string{"category"}),

		NotificationsDelivered: promauto.NewCounter(prometheus.CounterOpts{
			Name: "sitewatch_notifications_delivered_total",
			Help: "Notification jobs delivered successfully",
		}),

		NotificationsFailed: promauto.NewCounter(prometheus.CounterOpts{
			Name: "sitewatch_notifications_failed_total",
			Help: "Notification jobs dropped after exhausting retries",
		}),

		StreamsConnected: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "sitewatch_streams_connected",
			Help: "Streams currently in the connected state",
		}),
	}
}
