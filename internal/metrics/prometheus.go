package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// PrometheusMetrics contains all Prometheus metrics for the modlog listener
type PrometheusMetrics struct {
	// Reconciliation cycle metrics
	CyclesTotal        *prometheus.CounterVec
	CycleDuration      prometheus.Histogram
	RecordsParsedTotal prometheus.Counter
	RecordsFiltered    prometheus.Counter
	RecordsInserted    prometheus.Counter
	RecordsReported    prometheus.Counter

	// Upstream metrics
	FetchFailuresTotal prometheus.Counter

	// Watermark metrics
	WatermarkTimestamp      prometheus.Gauge
	WatermarkAnomaliesTotal *prometheus.CounterVec

	// Notification metrics
	NotificationsSentTotal    prometheus.Counter
	NotificationFailuresTotal prometheus.Counter

	// Application health metrics
	ApplicationUptime prometheus.Gauge
	MemoryUsage       prometheus.Gauge
	GoroutineCount    prometheus.Gauge
}

// NewPrometheusMetrics creates and registers all Prometheus metrics
func NewPrometheusMetrics() *PrometheusMetrics {
	return &PrometheusMetrics{
		CyclesTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "modlog_cycles_total",
				Help: "Total number of reconciliation cycles run",
			},
			[]string{"status"},
		),

		CycleDuration: promauto.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "modlog_cycle_duration_seconds",
				Help:    "Time spent on individual reconciliation cycles",
				Buckets: prometheus.DefBuckets,
			},
		),

		RecordsParsedTotal: promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "modlog_records_parsed_total",
				Help: "Total number of records parsed from upstream payloads",
			},
		),

		RecordsFiltered: promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "modlog_records_filtered_total",
				Help: "Total number of records dropped as excluded action types",
			},
		),

		RecordsInserted: promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "modlog_records_inserted_total",
				Help: "Total number of records persisted to the store",
			},
		),

		RecordsReported: promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "modlog_records_reported_total",
				Help: "Total number of new records handed to the notification sink",
			},
		),

		FetchFailuresTotal: promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "modlog_fetch_failures_total",
				Help: "Total number of cycles abandoned after exhausting the fetch retry budget",
			},
		),

		WatermarkTimestamp: promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "modlog_watermark_timestamp",
				Help: "Unix timestamp of the newest-seen mod action",
			},
		),

		WatermarkAnomaliesTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "modlog_watermark_anomalies_total",
				Help: "Total number of watermark anomalies observed",
			},
			[]string{"kind"},
		),

		NotificationsSentTotal: promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "modlog_notifications_sent_total",
				Help: "Total number of display lines delivered to the sink",
			},
		),

		NotificationFailuresTotal: promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "modlog_notification_failures_total",
				Help: "Total number of failed notification deliveries",
			},
		),

		ApplicationUptime: promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "modlog_application_uptime_seconds",
				Help: "Seconds since the listener started",
			},
		),

		MemoryUsage: promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "modlog_memory_usage_bytes",
				Help: "Current heap allocation",
			},
		),

		GoroutineCount: promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "modlog_goroutine_count",
				Help: "Current number of goroutines",
			},
		),
	}
}

// RecordCycle records the outcome and duration of one cycle
func (m *PrometheusMetrics) RecordCycle(status string, duration time.Duration) {
	m.CyclesTotal.WithLabelValues(status).Inc()
	m.CycleDuration.Observe(duration.Seconds())
}

// RecordWatermarkAnomaly counts a watermark anomaly by kind
func (m *PrometheusMetrics) RecordWatermarkAnomaly(kind string) {
	m.WatermarkAnomaliesTotal.WithLabelValues(kind).Inc()
}

// UpdateWatermark publishes the current watermark timestamp
func (m *PrometheusMetrics) UpdateWatermark(ts int64) {
	m.WatermarkTimestamp.Set(float64(ts))
}
