package telemetry

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"geowatch/internal/types"
)

// PrometheusRecorder exposes engine and delivery counters for scraping.
type PrometheusRecorder struct {
	reports    *prometheus.CounterVec
	detected   *prometheus.CounterVec
	suppressed *prometheus.CounterVec
	alerts     *prometheus.CounterVec
	deliveries *prometheus.CounterVec
	latency    *prometheus.HistogramVec
}

var _ types.MetricsRecorder = (*PrometheusRecorder)(nil)

// NewPrometheusRecorder creates the collectors and registers them on reg.
// Pass prometheus.DefaultRegisterer in production.
func NewPrometheusRecorder(reg prometheus.Registerer) *PrometheusRecorder {
	r := &PrometheusRecorder{
		reports: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "geowatch_reports_processed_total",
				Help: "Total number of location reports processed, by outcome",
			},
			[]string{"outcome"},
		),
		detected: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "geowatch_events_detected_total",
				Help: "Total number of geofence events detected before deduplication",
			},
			[]string{"event_type"},
		),
		suppressed: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "geowatch_events_suppressed_total",
				Help: "Total number of events dropped by the cooldown window",
			},
			[]string{"event_type"},
		),
		alerts: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "geowatch_alerts_created_total",
				Help: "Total number of alerts persisted",
			},
			[]string{"level"},
		),
		deliveries: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "geowatch_delivery_attempts_total",
				Help: "Total number of notification delivery attempts",
			},
			[]string{"channel", "outcome"},
		),
		latency: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "geowatch_delivery_duration_seconds",
				Help:    "Duration of notification delivery attempts",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"channel"},
		),
	}
	reg.MustRegister(r.reports, r.detected, r.suppressed, r.alerts, r.deliveries, r.latency)
	return r
}

func (r *PrometheusRecorder) ReportProcessed(outcome string) {
	r.reports.WithLabelValues(outcome).Inc()
}

func (r *PrometheusRecorder) EventDetected(kind types.EventKind) {
	r.detected.WithLabelValues(string(kind)).Inc()
}

func (r *PrometheusRecorder) EventSuppressed(kind types.EventKind) {
	r.suppressed.WithLabelValues(string(kind)).Inc()
}

func (r *PrometheusRecorder) AlertCreated(level types.AlertLevel) {
	r.alerts.WithLabelValues(levelLabel(level)).Inc()
}

func (r *PrometheusRecorder) DeliveryAttempt(channel types.ChannelType, success bool, latency time.Duration) {
	r.deliveries.WithLabelValues(string(channel), outcomeLabel(success)).Inc()
	r.latency.WithLabelValues(string(channel)).Observe(latency.Seconds())
}
