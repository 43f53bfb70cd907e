package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for the curve ledger.
type Metrics struct {
	// --- Engine ---
	TradesApplied  *prometheus.CounterVec
	TradesRejected *prometheus.CounterVec
	TradeApplyDur  prometheus.Histogram
	TokensCreated  prometheus.Counter
	Graduations    prometheus.Counter
	BandCrossings  *prometheus.CounterVec
	EngineLastSeq  *prometheus.GaugeVec

	// --- Channels & backpressure ---
	ChannelSize         *prometheus.GaugeVec
	ChannelCapacity     *prometheus.GaugeVec
	ChannelUtilization  *prometheus.GaugeVec
	PublishDrops        prometheus.Counter
	PersistBackpressure prometheus.Counter

	// --- Persistence ---
	PersistTradesWritten prometheus.Counter
	PersistBatchDur      prometheus.Histogram
	PersistBatchSize     prometheus.Histogram
	PersistErrors        *prometheus.CounterVec
	PersistRetry         prometheus.Counter
	PersistLastSeq       prometheus.Gauge
	ReplayTradesTotal    prometheus.Counter
	ReplayDuration       prometheus.Gauge

	// --- Projection ---
	ProjectionUpdateDur prometheus.Histogram
	ProjectionErrors    prometheus.Counter

	// --- Query ---
	QueryRequests *prometheus.CounterVec
	QueryDuration *prometheus.HistogramVec

	// --- Market feed ---
	FeedClients    prometheus.Gauge
	FeedBroadcasts *prometheus.CounterVec
	FeedSlowDrops  prometheus.Counter
}

// NewMetrics creates and registers all Prometheus metrics.
func NewMetrics() *Metrics {
	latencyBuckets := []float64{
		0.000001, 0.000005, 0.00001, 0.000025, 0.00005,
		0.0001, 0.00025, 0.0005, 0.001, 0.002, 0.005, 0.01,
	}

	return &Metrics{
		TradesApplied: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "curve_trades_applied_total",
			Help: "Trades appended to the ledger",
		}, []string{"side"}),

		TradesRejected: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "curve_trades_rejected_total",
			Help: "Trades rejected (duplicate, out-of-order, reserve mismatch)",
		}, []string{"reason"}),

		TradeApplyDur: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "curve_trade_apply_duration_seconds",
			Help:    "Time to validate, append, and derive for one trade",
			Buckets: latencyBuckets,
		}),

		TokensCreated: promauto.NewCounter(prometheus.CounterOpts{
			Name: "curve_tokens_created_total",
			Help: "Token configs registered",
		}),

		Graduations: promauto.NewCounter(prometheus.CounterOpts{
			Name: "curve_graduations_total",
			Help: "Tokens that crossed the raise threshold",
		}),

		BandCrossings: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "curve_band_crossings_total",
			Help: "Completion band transitions",
		}, []string{"band"}),

		EngineLastSeq: promauto.NewGaugeVec(prometheus.GaugeOpts{
			Name: "curve_engine_last_sequence",
			Help: "Latest applied sequence per token",
		}, []string{"token_id"}),

		ChannelSize: promauto.NewGaugeVec(prometheus.GaugeOpts{
			Name: "curve_channel_size",
			Help: "Current items in channel",
		}, []string{"name"}),

		ChannelCapacity: promauto.NewGaugeVec(prometheus.GaugeOpts{
			Name: "curve_channel_capacity",
			Help: "Channel capacity (constant)",
		}, []string{"name"}),

		ChannelUtilization: promauto.NewGaugeVec(prometheus.GaugeOpts{
			Name: "curve_channel_utilization",
			Help: "Channel size / capacity (0.0-1.0)",
		}, []string{"name"}),

		PublishDrops: promauto.NewCounter(prometheus.CounterOpts{
			Name: "curve_publish_drops_total",
			Help: "Notifications dropped due to full publish channel",
		}),

		PersistBackpressure: promauto.NewCounter(prometheus.CounterOpts{
			Name: "curve_persist_backpressure_total",
			Help: "Times the engine blocked on the persist channel",
		}),

		PersistTradesWritten: promauto.NewCounter(prometheus.CounterOpts{
			Name: "curve_persist_trades_written_total",
			Help: "Trades written to Postgres",
		}),

		PersistBatchDur: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "curve_persist_batch_duration_seconds",
			Help:    "Postgres batch write duration",
			Buckets: []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25},
		}),

		PersistBatchSize: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "curve_persist_batch_size",
			Help:    "Trades per batch",
			Buckets: []float64{1, 5, 10, 25, 50, 100, 250, 500},
		}),

		PersistErrors: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "curve_persist_errors_total",
			Help: "Persistence errors",
		}, []string{"error_type"}),

		PersistRetry: promauto.NewCounter(prometheus.CounterOpts{
			Name: "curve_persist_retry_total",
			Help: "Persistence retries",
		}),

		PersistLastSeq: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "curve_persist_last_sequence",
			Help: "Last persisted sequence",
		}),

		ReplayTradesTotal: promauto.NewCounter(prometheus.CounterOpts{
			Name: "curve_replay_trades_total",
			Help: "Trades replayed on startup",
		}),

		ReplayDuration: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "curve_replay_duration_seconds",
			Help: "Total replay time",
		}),

		ProjectionUpdateDur: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "curve_projection_update_duration_seconds",
			Help:    "Token stats projection update duration",
			Buckets: []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.025, 0.05, 0.1},
		}),

		ProjectionErrors: promauto.NewCounter(prometheus.CounterOpts{
			Name: "curve_projection_errors_total",
			Help: "Projection update failures",
		}),

		QueryRequests: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "curve_query_requests_total",
			Help: "Query requests",
		}, []string{"endpoint", "status"}),

		QueryDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "curve_query_duration_seconds",
			Help:    "Query latency",
			Buckets: []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5},
		}, []string{"endpoint"}),

		FeedClients: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "curve_feed_clients",
			Help: "Connected websocket clients",
		}),

		FeedBroadcasts: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "curve_feed_broadcasts_total",
			Help: "Messages broadcast to the market feed",
		}, []string{"kind"}),

		FeedSlowDrops: promauto.NewCounter(prometheus.CounterOpts{
			Name: "curve_feed_slow_drops_total",
			Help: "Clients dropped for not draining their send buffer",
		}),
	}
}

// SetChannelMetrics updates channel utilization metrics.
func (m *Metrics) SetChannelMetrics(name string, size, capacity int) {
	m.ChannelSize.WithLabelValues(name).Set(float64(size))
	m.ChannelCapacity.WithLabelValues(name).Set(float64(capacity))
	if capacity > 0 {
		m.ChannelUtilization.WithLabelValues(name).Set(float64(size) / float64(capacity))
	}
}
