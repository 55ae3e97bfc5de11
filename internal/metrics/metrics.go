// Package metrics exposes the ladder bot's Prometheus collectors.
//
//   - ladder_orders_total{symbol,kind}        orders submitted (entry|ladder|profit|stop|emergency)
//   - ladder_order_errors_total{symbol,kind}  failed submissions
//   - ladder_closures_total{symbol,reason}    positions closed (protective_fill|inferred_fill|manual_or_external|emergency)
//   - ladder_active_level{symbol}             inferred ladder depth of the open position
//   - ladder_balance_quote                    total balance read at the start of the last cycle
//   - ladder_poll_errors_total{symbol}        per-symbol poll failures
//   - ladder_cycle_seconds                    duration of a full cycle
//
// Collectors are registered on the default registry in init() and served by
// the web server at /metrics.
package metrics

import "github.com/prometheus/client_golang/prometheus"

var (
	ordersTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ladder_orders_total",
			Help: "Orders submitted by the ladder engine",
		},
		[]string{"symbol", "kind"},
	)

	orderErrors = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ladder_order_errors_total",
			Help: "Order submissions rejected or failed",
		},
		[]string{"symbol", "kind"},
	)

	closuresTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ladder_closures_total",
			Help: "Position closures split by detected reason",
		},
		[]string{"symbol", "reason"},
	)

	activeLevel = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "ladder_active_level",
			Help: "Inferred ladder level of the open position (0 when flat)",
		},
		[]string{"symbol"},
	)

	balance = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "ladder_balance_quote",
			Help: "Total quote balance read at the start of the last cycle",
		},
	)

	pollErrors = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ladder_poll_errors_total",
			Help: "Per-symbol poll failures",
		},
		[]string{"symbol"},
	)

	cycleSeconds = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "ladder_cycle_seconds",
			Help:    "Duration of one pass over all symbols",
			Buckets: prometheus.ExponentialBuckets(0.5, 2, 8),
		},
	)
)

func init() {
	prometheus.MustRegister(ordersTotal, orderErrors, closuresTotal)
	prometheus.MustRegister(activeLevel, balance)
	prometheus.MustRegister(pollErrors, cycleSeconds)
}

func IncOrder(symbol, kind string)      { ordersTotal.WithLabelValues(symbol, kind).Inc() }
func IncOrderError(symbol, kind string) { orderErrors.WithLabelValues(symbol, kind).Inc() }
func IncClosure(symbol, reason string)  { closuresTotal.WithLabelValues(symbol, reason).Inc() }
func SetActiveLevel(symbol string, l int) {
	activeLevel.WithLabelValues(symbol).Set(float64(l))
}
func SetBalance(v float64)         { balance.Set(v) }
func IncPollError(symbol string)   { pollErrors.WithLabelValues(symbol).Inc() }
func ObserveCycle(seconds float64) { cycleSeconds.Observe(seconds) }
