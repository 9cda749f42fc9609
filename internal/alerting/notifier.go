package alerting

import (
	"context"
	"log/slog"
	"slices"
	"time"
)

// Notifier sends predefined events to an Alerter, dropping events that are not enabled.
// A nil *Notifier discards everything.
type Notifier struct {
	alerter Alerter
	enabled map[AlertEvent]bool // nil enables every event
	logger  *slog.Logger
	now     func() time.Time
}

// NewNotifier creates a notifier. An empty events list, or one containing "all", enables all events.
func NewNotifier(alerter Alerter, events []string, logger *slog.Logger) *Notifier {
	if logger == nil {
		logger = slog.Default()
	}

	n := &Notifier{alerter: alerter, logger: logger, now: time.Now}
	if len(events) > 0 && !slices.Contains(events, "all") {
		n.enabled = make(map[AlertEvent]bool, len(events))
		for _, e := range events {
			n.enabled[AlertEvent(e)] = true
		}
	}
	return n
}

// Enabled reports whether event would be sent.
func (n *Notifier) Enabled(event AlertEvent) bool {
	if n == nil || n.alerter == nil {
		return false
	}
	return n.enabled == nil || n.enabled[event]
}

// Notify sends event with its default severity. Delivery failures are logged, not returned.
func (n *Notifier) Notify(ctx context.Context, event AlertEvent, message string, fields ...any) {
	if !n.Enabled(event) {
		return
	}

	alert := Alert{
		Event:    event,
		Severity: EventSeverity(event),
		Message:  message,
		Fields:   fields,
		Time:     n.now(),
	}
	if err := n.alerter.Send(ctx, alert); err != nil {
		n.logger.Warn("alert delivery failed",
			"alerter", n.alerter.Name(),
			"event", string(event),
			"err", err,
		)
	}
}
