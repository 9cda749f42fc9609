// Package alerting delivers trade and lifecycle events to operators.
package alerting

import (
	"context"
	"fmt"
	"strings"
	"time"
)

// Severity represents the alert severity level.
type Severity int

const (
	SeverityInfo Severity = iota
	SeverityWarning
	SeverityHigh
	SeverityCritical
)

func (s Severity) String() string {
	switch s {
	case SeverityInfo:
		return "INFO"
	case SeverityWarning:
		return "WARNING"
	case SeverityHigh:
		return "HIGH"
	case SeverityCritical:
		return "CRITICAL"
	default:
		return "UNKNOWN"
	}
}

// Emoji returns an emoji for the severity level.
func (s Severity) Emoji() string {
	switch s {
	case SeverityInfo:
		return "ℹ️"
	case SeverityWarning:
		return "⚠️"
	case SeverityHigh:
		return "🔴"
	case SeverityCritical:
		return "🚨"
	default:
		return "❓"
	}
}

// AlertEvent identifies what happened. Config `alerting.events` lists these names.
type AlertEvent string

const (
	EventOrderPlaced        AlertEvent = "order_placed"
	EventOrderRejected      AlertEvent = "order_rejected"
	EventFillCommitted      AlertEvent = "fill_committed"
	EventMarketConversion   AlertEvent = "market_conversion"
	EventOrderAbandoned     AlertEvent = "order_abandoned"
	EventResyncFailed       AlertEvent = "resync_failed"
	EventSourceDisconnected AlertEvent = "source_disconnected"
	EventDailySummary       AlertEvent = "daily_summary"
	EventBotStarted         AlertEvent = "bot_started"
	EventBotStopped         AlertEvent = "bot_stopped"
)

// Title is the human readable headline for the event.
func (e AlertEvent) Title() string {
	switch e {
	case EventOrderPlaced:
		return "Order placed"
	case EventOrderRejected:
		return "Signal rejected"
	case EventFillCommitted:
		return "Fill committed"
	case EventMarketConversion:
		return "Sell converted to market"
	case EventOrderAbandoned:
		return "Order abandoned"
	case EventResyncFailed:
		return "Holdings resync failed"
	case EventSourceDisconnected:
		return "Message source disconnected"
	case EventDailySummary:
		return "Daily realized P/L"
	case EventBotStarted:
		return "Signal trader started"
	case EventBotStopped:
		return "Signal trader stopped"
	default:
		return strings.ReplaceAll(string(e), "_", " ")
	}
}

// EventSeverity returns the default severity for an event.
func EventSeverity(event AlertEvent) Severity {
	switch event {
	case EventOrderAbandoned, EventResyncFailed:
		return SeverityHigh
	case EventOrderRejected, EventMarketConversion, EventSourceDisconnected:
		return SeverityWarning
	default:
		return SeverityInfo
	}
}

// Alert is one delivered event. Fields are slog-style key/value pairs carrying
// the signal and order context (asset, order_id, qty, price, ...).
type Alert struct {
	Event    AlertEvent
	Severity Severity
	Message  string
	Fields   []any
	Time     time.Time
}

// Field returns the value of the first field named key.
func (a Alert) Field(key string) (any, bool) {
	for i := 0; i+1 < len(a.Fields); i += 2 {
		if k, ok := a.Fields[i].(string); ok && k == key {
			return a.Fields[i+1], true
		}
	}
	return nil, false
}

// Alerter delivers alerts to one channel.
type Alerter interface {
	Send(ctx context.Context, alert Alert) error
	Name() string
}

// FormatFields renders key/value pairs one per line. Non-string keys and a
// trailing key without value are skipped.
func FormatFields(fields ...any) string {
	var b strings.Builder
	for i := 0; i+1 < len(fields); i += 2 {
		key, ok := fields[i].(string)
		if !ok {
			continue
		}
		if b.Len() > 0 {
			b.WriteByte('\n')
		}
		fmt.Fprintf(&b, "• %s: %v", key, fields[i+1])
	}
	return b.String()
}
