// Package metrics exposes Prometheus instrumentation for the simulation
// loop. Counters are process-global; labels separate strategies so
// concurrent parameter-sweep runs stay distinguishable.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	BarsProcessed = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "backtest_bars_processed_total",
			Help: "Total number of bars stepped through (by strategy).",
		},
		[]string{"strategy"},
	)

	OrdersSubmitted = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "backtest_orders_submitted_total",
			Help: "Total number of orders accepted and settled (by strategy).",
		},
		[]string{"strategy"},
	)

	OrdersRejected = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "backtest_orders_rejected_total",
			Help: "Total number of orders rejected by the risk manager (by strategy and reason).",
		},
		[]string{"strategy", "reason"},
	)

	ForcedExits = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "backtest_forced_exits_total",
			Help: "Total number of stop-loss/take-profit exits (by strategy and reason).",
		},
		[]string{"strategy", "reason"},
	)

	RunsCompleted = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "backtest_runs_completed_total",
			Help: "Total number of finished runs (by strategy and outcome).",
		},
		[]string{"strategy", "outcome"},
	)

	RunDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "backtest_run_duration_seconds",
			Help:    "Wall-clock duration of completed runs.",
			Buckets: prometheus.ExponentialBuckets(0.01, 4, 8),
		},
		[]string{"strategy"},
	)

	EquityGauge = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "backtest_equity",
			Help: "Marked portfolio value of the most recent bar (by strategy).",
		},
		[]string{"strategy"},
	)
)

func init() {
	prometheus.MustRegister(
		BarsProcessed,
		OrdersSubmitted,
		OrdersRejected,
		ForcedExits,
		RunsCompleted,
		RunDuration,
		EquityGauge,
	)
}
