// Package metrics exposes Prometheus instrumentation for the trading engine.
// Collectors are registered on the default registry at init time and served
// by the dashboard under /metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	TicksProcessed = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "trader_ticks_processed_total",
			Help: "Total number of minute ticks processed.",
		},
	)

	SymbolsEvaluated = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "trader_symbols_evaluated_total",
			Help: "Total number of per-symbol strategy evaluations.",
		},
	)

	StrategyErrors = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "trader_strategy_errors_total",
			Help: "Total number of strategy evaluation failures.",
		},
	)

	FetchErrors = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "trader_fetch_errors_total",
			Help: "Total number of failed market data requests.",
		},
	)

	Decisions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "trader_decisions_total",
			Help: "Total number of buy/sell decisions emitted by the strategy.",
		},
		[]string{"action"},
	)

	OrdersSubmitted = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "trader_orders_submitted_total",
			Help: "Total number of orders submitted to the broker (by side).",
		},
		[]string{"side"},
	)

	OrdersFilled = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "trader_orders_filled_total",
			Help: "Total number of confirmed order fills (by side).",
		},
		[]string{"side"},
	)

	OrdersRejected = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "trader_orders_rejected_total",
			Help: "Total number of orders refused before submission.",
		},
	)

	TickDuration = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "trader_tick_duration_seconds",
			Help: "Wall time spent processing the most recent tick.",
		},
	)

	EquityGauge = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "trader_equity",
			Help: "Current total account value (cash plus positions).",
		},
	)

	PositionsOpen = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "trader_positions_open",
			Help: "Current number of open positions.",
		},
	)
)

func init() {
	prometheus.MustRegister(
		TicksProcessed,
		SymbolsEvaluated,
		StrategyErrors,
		FetchErrors,
		Decisions,
		OrdersSubmitted,
		OrdersFilled,
		OrdersRejected,
		TickDuration,
		EquityGauge,
		PositionsOpen,
	)
}
