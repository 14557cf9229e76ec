// Package observability provides Prometheus metrics and component health.
package observability

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics for the service. Each instance owns its
// registry so several can coexist in one process.
type Metrics struct {
	registry *prometheus.Registry

	// Feed metrics
	FeedMessages   *prometheus.CounterVec
	FeedErrors     *prometheus.CounterVec
	FeedReconnects prometheus.Counter

	// Engine metrics
	SnapshotsApplied *prometheus.CounterVec
	BatchDuration    prometheus.Histogram
	Entries          *prometheus.CounterVec
	Exits            *prometheus.CounterVec
	TrackedTokens    prometheus.Gauge
	OpenPositions    prometheus.Gauge
	SolPriceUSD      prometheus.Gauge

	// Sink metrics
	Notifications   *prometheus.CounterVec
	NotifyAttempts  prometheus.Counter
	HistoryEntries  prometheus.Gauge
	PublishErrors   *prometheus.CounterVec
	PersistErrors   *prometheus.CounterVec
	AnalyticsRows   prometheus.Counter
	AnalyticsErrors prometheus.Counter
}

// NewMetrics creates a Metrics instance with every metric registered.
func NewMetrics(namespace string) *Metrics {
	if namespace == "" {
		namespace = "axbot"
	}
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	f := promauto.With(reg)

	return &Metrics{
		registry: reg,

		FeedMessages: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "feed",
			Name:      "messages_total",
			Help:      "Feed messages received by room",
		}, []string{"room"}),
		FeedErrors: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "feed",
			Name:      "errors_total",
			Help:      "Feed messages that could not be handled by kind",
		}, []string{"kind"}),
		FeedReconnects: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "feed",
			Name:      "reconnects_total",
			Help:      "Relay reconnect attempts",
		}),

		SnapshotsApplied: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "engine",
			Name:      "snapshots_applied_total",
			Help:      "Snapshots merged into the token store by merge kind",
		}, []string{"kind"}),
		BatchDuration: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "engine",
			Name:      "batch_duration_seconds",
			Help:      "Time to apply one snapshot batch",
			Buckets:   prometheus.ExponentialBuckets(0.0001, 4, 8),
		}),
		Entries: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "engine",
			Name:      "entries_total",
			Help:      "Entry decisions by status and guard",
		}, []string{"status", "guard"}),
		Exits: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "engine",
			Name:      "exits_total",
			Help:      "Closed positions by exit reason",
		}, []string{"reason"}),
		TrackedTokens: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "engine",
			Name:      "tracked_tokens",
			Help:      "Tokens currently tracked",
		}),
		OpenPositions: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "engine",
			Name:      "open_positions",
			Help:      "Tokens with an open simulated position",
		}),
		SolPriceUSD: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "engine",
			Name:      "sol_price_usd",
			Help:      "Latest SOL/USD price",
		}),

		Notifications: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "notify",
			Name:      "commands_total",
			Help:      "Bot commands by action and result",
		}, []string{"action", "result"}),
		NotifyAttempts: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "notify",
			Name:      "attempts_total",
			Help:      "Delivery attempts including retries",
		}),
		HistoryEntries: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "audit",
			Name:      "history_entries",
			Help:      "Entries held in the history log",
		}),
		PublishErrors: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "bus",
			Name:      "publish_errors_total",
			Help:      "Bus publish failures by topic",
		}, []string{"topic"}),
		PersistErrors: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "persist",
			Name:      "errors_total",
			Help:      "State slice save failures by slice",
		}, []string{"slice"}),
		AnalyticsRows: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "clickhouse",
			Name:      "rows_written_total",
			Help:      "History rows flushed to ClickHouse",
		}),
		AnalyticsErrors: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "clickhouse",
			Name:      "flush_errors_total",
			Help:      "Failed ClickHouse batch flushes",
		}),
	}
}

// Registry returns the registry the metrics are registered with.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler returns an HTTP handler exposing the metrics.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}
