package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for the liquidator.
type Metrics struct {
	// --- Ingestion ---
	EventsIngested *prometheus.CounterVec
	DecodeErrors   *prometheus.CounterVec
	UnmatchedLogs  prometheus.Counter
	DuplicateLogs  prometheus.Counter
	TicksDropped   *prometheus.CounterVec
	FeedRestarts   *prometheus.CounterVec

	// --- Engine ---
	EventsApplied  *prometheus.CounterVec
	ApplyDuration  prometheus.Histogram
	IntentsEmitted prometheus.Counter
	OpenPositions  prometheus.Gauge
	LogicalClock   prometheus.Gauge

	// --- Dispatch ---
	DispatchTotal    *prometheus.CounterVec
	DispatchDuration prometheus.Histogram
	RecorderErrors   *prometheus.CounterVec

	// --- Persistence ---
	AuditRowsWritten prometheus.Counter
	AuditFlushErrors prometheus.Counter

	// --- Channels ---
	ChannelSize     *prometheus.GaugeVec
	ChannelCapacity *prometheus.GaugeVec
}

// NewMetrics registers every metric on reg. Pass prometheus.DefaultRegisterer
// in production and a fresh registry in tests.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)

	return &Metrics{
		EventsIngested: f.NewCounterVec(prometheus.CounterOpts{
			Name: "liquidator_events_total",
			Help: "Canonical events forwarded by a feed",
		}, []string{"source", "type"}),
		DecodeErrors: f.NewCounterVec(prometheus.CounterOpts{
			Name: "liquidator_decode_errors_total",
			Help: "Matched inputs that failed to decode",
		}, []string{"source"}),
		UnmatchedLogs: f.NewCounter(prometheus.CounterOpts{
			Name: "liquidator_unmatched_logs_total",
			Help: "Chain logs whose first topic is not a known event",
		}),
		DuplicateLogs: f.NewCounter(prometheus.CounterOpts{
			Name: "liquidator_duplicate_logs_total",
			Help: "Chain logs suppressed because they were already forwarded",
		}),
		TicksDropped: f.NewCounterVec(prometheus.CounterOpts{
			Name: "liquidator_ticks_dropped_total",
			Help: "Ticker frames dropped before reaching the engine",
		}, []string{"reason"}),
		FeedRestarts: f.NewCounterVec(prometheus.CounterOpts{
			Name: "liquidator_feed_restarts_total",
			Help: "Supervised task restarts after a failure",
		}, []string{"feed"}),

		EventsApplied: f.NewCounterVec(prometheus.CounterOpts{
			Name: "liquidator_engine_events_applied_total",
			Help: "Events folded into engine state",
		}, []string{"type"}),
		ApplyDuration: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "liquidator_apply_duration_seconds",
			Help:    "Time to apply one event",
			Buckets: []float64{0.00001, 0.00005, 0.0001, 0.0005, 0.001, 0.005, 0.01, 0.05},
		}),
		IntentsEmitted: f.NewCounter(prometheus.CounterOpts{
			Name: "liquidator_intents_total",
			Help: "Liquidation intents emitted by the engine",
		}),
		OpenPositions: f.NewGauge(prometheus.GaugeOpts{
			Name: "liquidator_open_positions",
			Help: "Live positions tracked by the engine",
		}),
		LogicalClock: f.NewGauge(prometheus.GaugeOpts{
			Name: "liquidator_logical_clock_seconds",
			Help: "Timestamp of the latest block header applied",
		}),

		DispatchTotal: f.NewCounterVec(prometheus.CounterOpts{
			Name: "liquidator_dispatch_total",
			Help: "Dispatched intents by outcome",
		}, []string{"result"}),
		DispatchDuration: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "liquidator_dispatch_duration_seconds",
			Help:    "Submission plus confirmation wait per intent",
			Buckets: prometheus.ExponentialBuckets(0.5, 2, 10),
		}),
		RecorderErrors: f.NewCounterVec(prometheus.CounterOpts{
			Name: "liquidator_recorder_errors_total",
			Help: "Outcome recorder failures",
		}, []string{"recorder"}),

		AuditRowsWritten: f.NewCounter(prometheus.CounterOpts{
			Name: "liquidator_audit_rows_written_total",
			Help: "Dispatch outcomes written to Postgres",
		}),
		AuditFlushErrors: f.NewCounter(prometheus.CounterOpts{
			Name: "liquidator_audit_flush_errors_total",
			Help: "Failed audit batch flush attempts",
		}),

		ChannelSize: f.NewGaugeVec(prometheus.GaugeOpts{
			Name: "liquidator_channel_size",
			Help: "Current number of buffered items",
		}, []string{"channel"}),
		ChannelCapacity: f.NewGaugeVec(prometheus.GaugeOpts{
			Name: "liquidator_channel_capacity",
			Help: "Channel buffer capacity",
		}, []string{"channel"}),
	}
}

// SetChannelMetrics updates channel size and capacity gauges.
func (m *Metrics) SetChannelMetrics(name string, size, capacity int) {
	m.ChannelSize.WithLabelValues(name).Set(float64(size))
	m.ChannelCapacity.WithLabelValues(name).Set(float64(capacity))
}
