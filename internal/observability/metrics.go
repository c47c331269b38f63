// Package observability provides Prometheus metrics for monitoring.
package observability

import (
	"math/big"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics for the engine.
type Metrics struct {
	// Engine metrics
	EpochsAdvanced prometheus.Counter
	SwapsExecuted  prometheus.Counter
	SwapFailures   prometheus.Counter
	DLPShareErrors prometheus.Counter
	BurnedTotal    prometheus.Counter
	SkimmedTotal   prometheus.Counter

	// Payments feed metrics
	FundsReceived  prometheus.Counter
	FeedMessages   prometheus.Counter
	FeedReconnects prometheus.Counter

	// Rewards metrics
	RewardDistributions prometheus.Counter
	EpochsFinalized     prometheus.Counter

	// Database metrics
	DBQueryDuration *prometheus.HistogramVec
	DBQueryErrors   *prometheus.CounterVec

	// Health metrics
	LastSuccessfulExecution prometheus.Gauge
}

// NewMetrics creates a new Metrics instance with all metrics registered.
func NewMetrics(namespace string) *Metrics {
	if namespace == "" {
		namespace = "databurn"
	}

	return &Metrics{
		// Engine metrics
		EpochsAdvanced: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "engine",
			Name:      "epochs_advanced_total",
			Help:      "Total number of epochs advanced by protocol-share executions",
		}),
		SwapsExecuted: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "engine",
			Name:      "swaps_executed_total",
			Help:      "Total number of swaps executed",
		}),
		SwapFailures: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "engine",
			Name:      "swap_failures_total",
			Help:      "Total number of failed swap attempts",
		}),
		DLPShareErrors: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "engine",
			Name:      "dlp_share_errors_total",
			Help:      "Total number of per-entity failures during DLP-share batches",
		}),
		BurnedTotal: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "engine",
			Name:      "burned_units_total",
			Help:      "Total token units sent to the burn address",
		}),
		SkimmedTotal: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "engine",
			Name:      "skimmed_units_total",
			Help:      "Total token units diverted to the compute sink",
		}),

		// Payments feed metrics
		FundsReceived: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "feed",
			Name:      "funds_received_total",
			Help:      "Total number of payments credited to the ledger",
		}),
		FeedMessages: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "feed",
			Name:      "messages_total",
			Help:      "Total number of WebSocket messages received",
		}),
		FeedReconnects: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "feed",
			Name:      "reconnects_total",
			Help:      "Total number of WebSocket reconnect attempts",
		}),

		// Rewards metrics
		RewardDistributions: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "rewards",
			Name:      "distributions_total",
			Help:      "Total number of epoch reward distributions",
		}),
		EpochsFinalized: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "rewards",
			Name:      "epochs_finalized_total",
			Help:      "Total number of epochs finalized",
		}),

		// Database metrics
		DBQueryDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "database",
			Name:      "query_duration_seconds",
			Help:      "Database query duration in seconds",
			Buckets:   prometheus.DefBuckets,
		}, []string{"database", "operation"}),
		DBQueryErrors: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "database",
			Name:      "query_errors_total",
			Help:      "Total number of database query errors",
		}, []string{"database", "operation"}),

		// Health metrics
		LastSuccessfulExecution: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "health",
			Name:      "last_successful_execution_timestamp",
			Help:      "Unix timestamp of the last successful protocol-share execution",
		}),
	}
}

// ObserveBurn adds a burn outcome to the burned and skimmed counters. Amounts
// above float precision lose accuracy here; the audit log keeps exact values.
func (m *Metrics) ObserveBurn(burned, skimmed *big.Int) {
	if burned != nil {
		f, _ := new(big.Float).SetInt(burned).Float64()
		m.BurnedTotal.Add(f)
	}
	if skimmed != nil {
		f, _ := new(big.Float).SetInt(skimmed).Float64()
		m.SkimmedTotal.Add(f)
	}
}

// RecordDBQuery records database query metrics.
func (m *Metrics) RecordDBQuery(database, operation string, seconds float64, err error) {
	m.DBQueryDuration.WithLabelValues(database, operation).Observe(seconds)
	if err != nil {
		m.DBQueryErrors.WithLabelValues(database, operation).Inc()
	}
}

// Handler returns an HTTP handler for the /metrics endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}
