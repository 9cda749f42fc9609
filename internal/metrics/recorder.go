package metrics

import (
	"time"

	"github.com/shopspring/decimal"
)

// Recorder provides methods for recording metrics.
type Recorder struct{}

// NewRecorder creates a new metrics recorder.
func NewRecorder() *Recorder {
	return &Recorder{}
}

// RecordSignal records a parsed signal from a source.
func (r *Recorder) RecordSignal(source, kind string) {
	SignalsReceived.WithLabelValues(source, kind).Inc()
}

// RecordUnrecognized records a tracked message that did not parse.
func (r *Recorder) RecordUnrecognized(source string) {
	SignalsUnrecognized.WithLabelValues(source).Inc()
}

// RecordSignalRejected records a signal being rejected.
func (r *Recorder) RecordSignalRejected(reason string) {
	SignalsRejected.WithLabelValues(reason).Inc()
}

// RecordOrder records an order lifecycle outcome.
func (r *Recorder) RecordOrder(side, status string) {
	OrdersTotal.WithLabelValues(side, status).Inc()
}

// RecordFill records a fill committed to the ledger.
func (r *Recorder) RecordFill(kind, side string) {
	FillsTotal.WithLabelValues(kind, side).Inc()
}

// RecordMarketConversion records a sell remainder resubmitted at market.
func (r *Recorder) RecordMarketConversion() {
	MarketConversions.Inc()
}

// RecordResync records a resync attempt.
func (r *Recorder) RecordResync(ok bool) {
	result := "ok"
	if !ok {
		result = "failed"
	}
	ResyncsTotal.WithLabelValues(result).Inc()
}

// RecordLedger records ledger gauges.
func (r *Recorder) RecordLedger(holdings int, realizedToday decimal.Decimal) {
	HoldingsOpen.Set(float64(holdings))
	RealizedPLToday.Set(realizedToday.InexactFloat64())
}

// RecordPollLatency records how long an order was polled.
func (r *Recorder) RecordPollLatency(duration time.Duration) {
	PollLatency.Observe(duration.Seconds())
}

// RecordHeartbeat records a heartbeat.
func (r *Recorder) RecordHeartbeat() {
	HeartbeatTimestamp.Set(float64(time.Now().Unix()))
}

// RecordBrokerStatus records broker connection status.
func (r *Recorder) RecordBrokerStatus(connected bool) {
	BrokerConnected.Set(boolGauge(connected))
}

// RecordSourceStatus records a message source's connection status.
func (r *Recorder) RecordSourceStatus(source string, connected bool) {
	SourceConnected.WithLabelValues(source).Set(boolGauge(connected))
}

// RecordError records an error.
func (r *Recorder) RecordError(errorType string) {
	ErrorsTotal.WithLabelValues(errorType).Inc()
}

func boolGauge(b bool) float64 {
	if b {
		return 1
	}
	return 0
}

// Timer is a helper for measuring latency.
type Timer struct {
	start time.Time
}

// NewTimer creates a new timer.
func NewTimer() *Timer {
	return &Timer{start: time.Now()}
}

// Elapsed returns the elapsed duration.
func (t *Timer) Elapsed() time.Duration {
	return time.Since(t.start)
}

// ObservePoll observes the elapsed time as poll latency.
func (t *Timer) ObservePoll() {
	PollLatency.Observe(t.Elapsed().Seconds())
}
