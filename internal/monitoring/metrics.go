package monitoring

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics
type Metrics struct {
	// HTTP metrics
	RequestsTotal   *prometheus.CounterVec
	RequestDuration *prometheus.HistogramVec

	// Persistence metrics
	WritesPersisted prometheus.Counter
	WritesCoalesced prometheus.Counter
	WritesDropped   prometheus.Counter
	WriteFailures   prometheus.Counter
	FlushDuration   prometheus.Histogram
	TierReads       *prometheus.CounterVec

	// Session metrics
	SessionsActive  prometheus.Gauge
	SessionsCreated prometheus.Counter
	SessionSwitches prometheus.Counter

	// Image lifecycle metrics
	ImageDeletions *prometheus.CounterVec
	StateUpdates   *prometheus.CounterVec

	// WebSocket metrics
	WSConnections prometheus.Gauge
	WSMessages    *prometheus.CounterVec

	// System metrics
	Uptime    prometheus.Gauge
	startTime time.Time
}

// NewMetrics creates a new metrics collector
func NewMetrics() *Metrics {
	m := &Metrics{
		startTime: time.Now(),

		RequestsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "pixelmuse_http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "path", "status"},
		),
		RequestDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "pixelmuse_http_request_duration_seconds",
				Help:    "HTTP request duration in seconds",
				Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
			},
			[]string{"method", "path"},
		),

		WritesPersisted: promauto.NewCounter(prometheus.CounterOpts{
			Name: "pixelmuse_session_writes_persisted_total",
			Help: "Session writes that reached durable storage",
		}),
		WritesCoalesced: promauto.NewCounter(prometheus.CounterOpts{
			Name: "pixelmuse_session_writes_coalesced_total",
			Help: "Scheduled session writes superseded before firing",
		}),
		WritesDropped: promauto.NewCounter(prometheus.CounterOpts{
			Name: "pixelmuse_session_writes_dropped_total",
			Help: "Session writes dropped by the debounce kill switch",
		}),
		WriteFailures: promauto.NewCounter(prometheus.CounterOpts{
			Name: "pixelmuse_session_write_failures_total",
			Help: "Session writes that failed at the storage layer",
		}),
		FlushDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "pixelmuse_session_flush_duration_seconds",
			Help:    "Duration of session flush operations",
			Buckets: []float64{.0001, .0005, .001, .005, .01, .05, .1, .5, 1},
		}),
		TierReads: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "pixelmuse_storage_tier_reads_total",
				Help: "Storage tier read attempts by tier and outcome",
			},
			[]string{"tier", "outcome"},
		),

		SessionsActive: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "pixelmuse_sessions_active",
			Help: "Number of sessions known to the store",
		}),
		SessionsCreated: promauto.NewCounter(prometheus.CounterOpts{
			Name: "pixelmuse_sessions_created_total",
			Help: "Total number of sessions created",
		}),
		SessionSwitches: promauto.NewCounter(prometheus.CounterOpts{
			Name: "pixelmuse_session_switches_total",
			Help: "Total number of session switches",
		}),

		ImageDeletions: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "pixelmuse_image_deletions_total",
				Help: "Image file deletions by outcome",
			},
			[]string{"outcome"},
		),
		StateUpdates: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "pixelmuse_image_state_updates_total",
				Help: "Image state updates by outcome (applied, duplicate)",
			},
			[]string{"outcome"},
		),

		WSConnections: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "pixelmuse_ws_connections",
			Help: "Active WebSocket connections",
		}),
		WSMessages: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "pixelmuse_ws_messages_total",
				Help: "WebSocket messages by command type",
			},
			[]string{"type"},
		),

		Uptime: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "pixelmuse_uptime_seconds",
			Help: "Process uptime in seconds",
		}),
	}

	return m
}

// RecordHTTPRequest records metrics for a completed HTTP request
func (m *Metrics) RecordHTTPRequest(method, path, status string, duration time.Duration) {
	m.RequestsTotal.WithLabelValues(method, path, status).Inc()
	m.RequestDuration.WithLabelValues(method, path).Observe(duration.Seconds())
}

// RecordTierRead records a storage tier read attempt
func (m *Metrics) RecordTierRead(tier, outcome string) {
	m.TierReads.WithLabelValues(tier, outcome).Inc()
}

// UpdateUptime refreshes the uptime gauge
func (m *Metrics) UpdateUptime() {
	m.Uptime.Set(time.Since(m.startTime).Seconds())
}
