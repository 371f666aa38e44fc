package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Engine counters and gauges, registered on the default registry and
// served by the dashboard at /metrics.

var (
	TicksProcessed = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "orbgate",
		Name:      "ticks_processed_total",
		Help:      "Trade ticks folded into candles.",
	})

	BarsCompleted = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "orbgate",
		Name:      "bars_completed_total",
		Help:      "Completed 1-minute bars emitted by the aggregator.",
	})

	OrdersPlaced = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "orbgate",
		Name:      "orders_placed_total",
		Help:      "Orders accepted by the broker, by side.",
	}, []string{"side"})

	OrderFailures = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "orbgate",
		Name:      "order_failures_total",
		Help:      "Order placements rejected or failed.",
	})

	OpenPositions = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "orbgate",
		Name:      "open_positions",
		Help:      "Symbols currently in position.",
	})

	Candidates = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "orbgate",
		Name:      "candidates",
		Help:      "Symbols on the screener watchlist.",
	})

	ScreeningRuns = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "orbgate",
		Name:      "screening_runs_total",
		Help:      "Completed screening cycles.",
	})

	StreamReconnects = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "orbgate",
		Name:      "stream_reconnects_total",
		Help:      "Realtime stream connect events after the first.",
	})

	TradesClosed = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "orbgate",
		Name:      "trades_closed_total",
		Help:      "Completed exit cycles written to the journal.",
	})
)

// Handler serves the default registry.
func Handler() http.Handler {
	return promhttp.Handler()
}
