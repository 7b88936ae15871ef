package metrics

import (
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics for the bridge.
type Metrics struct {
	registry *prometheus.Registry

	// Backend metrics
	BackendRequestsTotal   *prometheus.CounterVec
	BackendRequestDuration *prometheus.HistogramVec
	BackendStreamChunks    prometheus.Counter

	// Session store metrics
	SessionRecords     prometheus.Gauge
	StateFlushesTotal  *prometheus.CounterVec
	StateFlushDuration prometheus.Histogram
	StateSweepDeleted  prometheus.Counter

	// Telegram metrics
	TelegramUpdatesTotal  *prometheus.CounterVec
	TelegramEditsTotal    prometheus.Counter
	TelegramErrorsTotal   prometheus.Counter
	TelegramDupesDropped  prometheus.Counter

	// Lane queue metrics
	LaneQueueDepth *prometheus.GaugeVec
	LaneTasksTotal *prometheus.CounterVec
}

var (
	metricsOnce sync.Once
	metricsInst *Metrics
)

// Default returns the process-wide metrics instance, creating and
// registering it on first use.
func Default() *Metrics {
	metricsOnce.Do(func() {
		metricsInst = New()
	})
	return metricsInst
}

// New creates a Metrics set backed by its own registry.
func New() *Metrics {
	registry := prometheus.NewRegistry()

	m := &Metrics{
		registry: registry,

		BackendRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "backend_requests_total",
				Help: "Total backend API requests by endpoint and outcome.",
			},
			[]string{"endpoint", "outcome"},
		),
		BackendRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "backend_request_duration_seconds",
				Help:    "Backend API request duration in seconds by endpoint.",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"endpoint"},
		),
		BackendStreamChunks: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "backend_stream_chunks_total",
				Help: "Total streamed chat chunks received from the backend.",
			},
		),

		SessionRecords: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "session_records",
				Help: "Current number of session records in the store.",
			},
		),
		StateFlushesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "state_flushes_total",
				Help: "Total session state flushes by status.",
			},
			[]string{"status"},
		),
		StateFlushDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "state_flush_duration_seconds",
				Help:    "Session state flush duration in seconds.",
				Buckets: prometheus.DefBuckets,
			},
		),
		StateSweepDeleted: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "state_sweep_deleted_total",
				Help: "Total session records deleted by the retention sweep.",
			},
		),

		TelegramUpdatesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "telegram_updates_total",
				Help: "Total Telegram updates received by kind.",
			},
			[]string{"kind"},
		),
		TelegramEditsTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "telegram_stream_edits_total",
				Help: "Total streamed message edits sent to Telegram.",
			},
		),
		TelegramErrorsTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "telegram_errors_total",
				Help: "Total Telegram API errors.",
			},
		),
		TelegramDupesDropped: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "telegram_duplicate_updates_dropped_total",
				Help: "Total duplicate Telegram updates dropped by the dedupe cache.",
			},
		),

		LaneQueueDepth: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "lane_queue_depth",
				Help: "Current queued tasks by lane.",
			},
			[]string{"lane"},
		),
		LaneTasksTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "lane_tasks_total",
				Help: "Total lane tasks executed by status.",
			},
			[]string{"status"},
		),
	}

	m.registerMetrics()

	return m
}

// registerMetrics registers all metrics with the registry
func (m *Metrics) registerMetrics() {
	m.registry.MustRegister(m.BackendRequestsTotal)
	m.registry.MustRegister(m.BackendRequestDuration)
	m.registry.MustRegister(m.BackendStreamChunks)

	m.registry.MustRegister(m.SessionRecords)
	m.registry.MustRegister(m.StateFlushesTotal)
	m.registry.MustRegister(m.StateFlushDuration)
	m.registry.MustRegister(m.StateSweepDeleted)

	m.registry.MustRegister(m.TelegramUpdatesTotal)
	m.registry.MustRegister(m.TelegramEditsTotal)
	m.registry.MustRegister(m.TelegramErrorsTotal)
	m.registry.MustRegister(m.TelegramDupesDropped)

	m.registry.MustRegister(m.LaneQueueDepth)
	m.registry.MustRegister(m.LaneTasksTotal)
}

// Handler returns an HTTP handler for the metrics endpoint
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{
		EnableOpenMetrics: true,
	})
}

// Registry returns the Prometheus registry
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Package-level helpers record into the Default instance so low-level
// packages do not need a Metrics handle threaded through them.

func RecordBackendRequest(endpoint, outcome string, duration time.Duration) {
	m := Default()
	m.BackendRequestsTotal.WithLabelValues(endpoint, outcome).Inc()
	m.BackendRequestDuration.WithLabelValues(endpoint).Observe(duration.Seconds())
}

func RecordStreamChunk() {
	Default().BackendStreamChunks.Inc()
}

func SetSessionRecords(count int) {
	Default().SessionRecords.Set(float64(count))
}

func RecordStateFlush(duration time.Duration, success bool) {
	m := Default()
	status := "error"
	if success {
		status = "success"
	}
	m.StateFlushesTotal.WithLabelValues(status).Inc()
	m.StateFlushDuration.Observe(duration.Seconds())
}

func RecordSweepDeleted(count int) {
	Default().StateSweepDeleted.Add(float64(count))
}

func RecordTelegramUpdate(kind string) {
	Default().TelegramUpdatesTotal.WithLabelValues(kind).Inc()
}

func RecordStreamEdit() {
	Default().TelegramEditsTotal.Inc()
}

func RecordTelegramError() {
	Default().TelegramErrorsTotal.Inc()
}

func RecordDuplicateDropped() {
	Default().TelegramDupesDropped.Inc()
}

func SetLaneDepth(lane string, depth int) {
	Default().LaneQueueDepth.WithLabelValues(lane).Set(float64(depth))
}

func RecordLaneTask(success bool) {
	status := "error"
	if success {
		status = "success"
	}
	Default().LaneTasksTotal.WithLabelValues(status).Inc()
}
