package alerting

import (
	"context"
	"log/slog"
)

// ConsoleAlerter writes alerts to the structured log.
type ConsoleAlerter struct {
	logger *slog.Logger
}

// NewConsoleAlerter creates a new console alerter.
func NewConsoleAlerter(logger *slog.Logger) *ConsoleAlerter {
	if logger == nil {
		logger = slog.Default()
	}
	return &ConsoleAlerter{logger: logger.With("component", "alert")}
}

func (c *ConsoleAlerter) Name() string {
	return "console"
}

// Send logs the alert under its event title. Abandoned orders and failed
// resyncs log at error, rejections and degraded paths at warn.
func (c *ConsoleAlerter) Send(ctx context.Context, a Alert) error {
	attrs := make([]any, 0, len(a.Fields)+6)
	attrs = append(attrs, "event", string(a.Event), "severity", a.Severity.String())
	if a.Message != "" && a.Message != a.Event.Title() {
		attrs = append(attrs, "detail", a.Message)
	}
	attrs = append(attrs, a.Fields...)

	c.logger.Log(ctx, eventLevel(a.Event), a.Event.Title(), attrs...)
	return nil
}

func eventLevel(e AlertEvent) slog.Level {
	switch e {
	case EventOrderAbandoned, EventResyncFailed:
		return slog.LevelError
	case EventOrderRejected, EventMarketConversion, EventSourceDisconnected:
		return slog.LevelWarn
	default:
		return slog.LevelInfo
	}
}
