// Package observability provides Prometheus metrics for monitoring.
package observability

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics for the application.
type Metrics struct {
	// Join metrics
	EntriesCreated  *prometheus.CounterVec
	JoinsRejected   *prometheus.CounterVec
	JoinRateLimited *prometheus.CounterVec

	// Round lifecycle metrics
	RoundsCreated prometheus.Counter
	RoundsLocked  prometheus.Counter
	RoundsSettled *prometheus.CounterVec

	// Settlement metrics
	TransfersSubmitted  prometheus.Counter
	TransfersRecovered  prometheus.Counter
	SettlementDeferred  prometheus.Counter
	SettlementLagMs     prometheus.Gauge
	PendingDueRounds    prometheus.Gauge
	SettlementDuration prometheus.Histogram
	OracleFetchErrors  *prometheus.CounterVec

	// Keeper metrics
	KeeperTicks      prometheus.Counter
	KeeperStepErrors *prometheus.CounterVec
}

// NewMetrics creates a new Metrics instance with all metrics registered.
func NewMetrics(namespace string) *Metrics {
	if namespace == "" {
		namespace = "pancho_pvp"
	}

	return &Metrics{
		EntriesCreated: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "join",
			Name:      "entries_created_total",
			Help:      "Total number of entries created by market and side",
		}, []string{"market", "side"}),
		JoinsRejected: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "join",
			Name:      "rejected_total",
			Help:      "Total number of rejected submissions by reason",
		}, []string{"reason"}),
		JoinRateLimited: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "join",
			Name:      "rate_limited_total",
			Help:      "Total number of rate-limited submissions by scope",
		}, []string{"scope"}),

		RoundsCreated: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "rounds",
			Name:      "created_total",
			Help:      "Total number of rounds created",
		}),
		RoundsLocked: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "rounds",
			Name:      "locked_total",
			Help:      "Total number of rounds locked",
		}),
		RoundsSettled: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "rounds",
			Name:      "settled_total",
			Help:      "Total number of rounds settled by mode",
		}, []string{"mode"}),

		TransfersSubmitted: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "settlement",
			Name:      "transfers_submitted_total",
			Help:      "Total number of transfers submitted to the external ledger",
		}),
		TransfersRecovered: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "settlement",
			Name:      "transfers_recovered_total",
			Help:      "Total number of transfers recovered from the signature index instead of re-submitted",
		}),
		SettlementDeferred: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "settlement",
			Name:      "deferred_total",
			Help:      "Total number of settlement attempts deferred to a later tick",
		}),
		SettlementLagMs: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "settlement",
			Name:      "lag_ms",
			Help:      "Age of the oldest unsettled due round in milliseconds",
		}),
		PendingDueRounds: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "settlement",
			Name:      "pending_due_rounds",
			Help:      "Number of due rounds awaiting settlement",
		}),
		SettlementDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "settlement",
			Name:      "duration_seconds",
			Help:      "Duration of settlement sweeps",
			Buckets:   prometheus.DefBuckets,
		}),
		OracleFetchErrors: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "oracle",
			Name:      "fetch_errors_total",
			Help:      "Total number of oracle fetch errors by class",
		}, []string{"class"}),

		KeeperTicks: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "keeper",
			Name:      "ticks_total",
			Help:      "Total number of keeper ticks",
		}),
		KeeperStepErrors: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "keeper",
			Name:      "step_errors_total",
			Help:      "Total number of keeper step errors by step",
		}, []string{"step"}),
	}
}

// Handler returns the Prometheus scrape handler.
func Handler() http.Handler {
	return promhttp.Handler()
}
