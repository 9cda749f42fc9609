// Package metrics provides Prometheus metrics for the signal trader.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "signal_trader"

var (
	// SignalsReceived counts parsed signals accepted from a source.
	SignalsReceived = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "signals_received_total",
		Help:      "Parsed trade signals received, by source and asset kind.",
	}, []string{"source", "kind"})

	// SignalsUnrecognized counts messages from tracked authors that did not parse.
	SignalsUnrecognized = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "signals_unrecognized_total",
		Help:      "Messages from tracked authors that matched no signal grammar.",
	}, []string{"source"})

	// SignalsRejected counts signals dropped before submission.
	SignalsRejected = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "signals_rejected_total",
		Help:      "Signals rejected before order submission, by reason.",
	}, []string{"reason"})

	// OrdersTotal counts order lifecycle outcomes.
	OrdersTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "orders_total",
		Help:      "Orders by side and lifecycle outcome.",
	}, []string{"side", "status"})

	// FillsTotal counts fills committed to the ledger.
	FillsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "fills_committed_total",
		Help:      "Fills committed to the position ledger.",
	}, []string{"kind", "side"})

	// MarketConversions counts sell limit orders converted to market orders.
	MarketConversions = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "market_conversions_total",
		Help:      "Unfilled sell limit remainders resubmitted as market orders.",
	})

	// ResyncsTotal counts ledger resyncs against the broker.
	ResyncsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "resyncs_total",
		Help:      "Ledger resyncs against broker positions, by result.",
	}, []string{"result"})

	// RealizedPLToday is today's realized profit/loss.
	RealizedPLToday = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "realized_pl_today",
		Help:      "Realized profit/loss booked today.",
	})

	// HoldingsOpen is the number of holdings in the ledger.
	HoldingsOpen = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "holdings_open",
		Help:      "Number of holdings in the position ledger.",
	})

	// PollLatency is the time from submission until an order is terminal or times out.
	PollLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "order_poll_seconds",
		Help:      "Time spent polling an order until terminal status or timeout.",
		Buckets:   []float64{0.5, 1, 2, 5, 10, 20, 30, 60, 120},
	})

	// BrokerConnected is 1 when the brokerage client is connected.
	BrokerConnected = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "broker_connected",
		Help:      "Broker connection status (1 connected, 0 disconnected).",
	})

	// SourceConnected is 1 when a message source is connected.
	SourceConnected = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "source_connected",
		Help:      "Message source connection status (1 connected, 0 disconnected).",
	}, []string{"source"})

	// HeartbeatTimestamp is the unix time of the last dispatch loop tick.
	HeartbeatTimestamp = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "heartbeat_timestamp_seconds",
		Help:      "Unix timestamp of the last dispatch loop heartbeat.",
	})

	// ErrorsTotal counts swallowed errors by type.
	ErrorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "errors_total",
		Help:      "Best-effort failures that were logged and not propagated.",
	}, []string{"type"})

	// BuildInfo exposes build metadata.
	BuildInfo = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "build_info",
		Help:      "Build information.",
	}, []string{"version", "commit", "build_date"})
)

// SetBuildInfo publishes build metadata.
func SetBuildInfo(version, commit, buildDate string) {
	BuildInfo.WithLabelValues(version, commit, buildDate).Set(1)
}
