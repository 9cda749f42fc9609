package alerting

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"strings"
	"testing"
	"time"
)

func TestEventSeverity(t *testing.T) {
	tests := []struct {
		event AlertEvent
		want  Severity
	}{
		{EventOrderAbandoned, SeverityHigh},
		{EventResyncFailed, SeverityHigh},
		{EventOrderRejected, SeverityWarning},
		{EventMarketConversion, SeverityWarning},
		{EventSourceDisconnected, SeverityWarning},
		{EventOrderPlaced, SeverityInfo},
		{EventFillCommitted, SeverityInfo},
		{EventDailySummary, SeverityInfo},
		{AlertEvent("unknown"), SeverityInfo},
	}

	for _, tt := range tests {
		t.Run(string(tt.event), func(t *testing.T) {
			if got := EventSeverity(tt.event); got != tt.want {
				t.Errorf("EventSeverity(%s) = %v, want %v", tt.event, got, tt.want)
			}
		})
	}
}

func TestAlertEvent_Title(t *testing.T) {
	if got := EventMarketConversion.Title(); got != "Sell converted to market" {
		t.Errorf("Title() = %q", got)
	}
	if got := AlertEvent("custom_thing").Title(); got != "custom thing" {
		t.Errorf("Title() = %q", got)
	}
}

func TestAlert_Field(t *testing.T) {
	a := Alert{Fields: []any{"asset", "AAPL", 7, "skipped", "order_id", "ORD-1", "dangling"}}

	if v, ok := a.Field("order_id"); !ok || v != "ORD-1" {
		t.Errorf("Field(order_id) = %v, %v", v, ok)
	}
	if _, ok := a.Field("dangling"); ok {
		t.Error("a key without value should not be found")
	}
}

func TestFormatFields(t *testing.T) {
	tests := []struct {
		name   string
		fields []any
		want   string
	}{
		{"empty", nil, ""},
		{"single", []any{"asset", "AAPL"}, "• asset: AAPL"},
		{"multiple", []any{"asset", "AAPL", "qty", 10}, "• asset: AAPL\n• qty: 10"},
		{"odd count", []any{"asset", "AAPL", "orphan"}, "• asset: AAPL"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := FormatFields(tt.fields...); got != tt.want {
				t.Errorf("FormatFields() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestConsoleAlerter_LevelAndMessageFromEvent(t *testing.T) {
	tests := []struct {
		event   AlertEvent
		message string
		level   string
		detail  bool
	}{
		{EventOrderAbandoned, "Market fallback not fully filled", "ERROR", true},
		{EventResyncFailed, "Holdings resync failed", "ERROR", false},
		{EventMarketConversion, "Sell limit converted to market", "WARN", true},
		{EventOrderRejected, "Signal rejected", "WARN", false},
		{EventFillCommitted, "Buy filled", "INFO", true},
	}

	for _, tt := range tests {
		t.Run(string(tt.event), func(t *testing.T) {
			var buf bytes.Buffer
			c := NewConsoleAlerter(slog.New(slog.NewJSONHandler(&buf, nil)))

			err := c.Send(context.Background(), Alert{
				Event:    tt.event,
				Severity: EventSeverity(tt.event),
				Message:  tt.message,
				Fields:   []any{"asset", "AAPL", "order_id", "ORD-1"},
			})
			if err != nil {
				t.Fatalf("Send() error = %v", err)
			}

			var rec map[string]any
			if err := json.Unmarshal(buf.Bytes(), &rec); err != nil {
				t.Fatalf("decode log line %q: %v", buf.String(), err)
			}
			if rec["level"] != tt.level {
				t.Errorf("level = %v, want %s", rec["level"], tt.level)
			}
			if rec["msg"] != tt.event.Title() {
				t.Errorf("msg = %v, want %q", rec["msg"], tt.event.Title())
			}
			if rec["event"] != string(tt.event) || rec["asset"] != "AAPL" || rec["order_id"] != "ORD-1" {
				t.Errorf("record = %v", rec)
			}
			if _, ok := rec["detail"]; ok != tt.detail {
				t.Errorf("detail present = %v, want %v", ok, tt.detail)
			}
		})
	}
}

func TestMockAlerter(t *testing.T) {
	mock := NewMockAlerter()
	ctx := context.Background()

	if mock.Count() != 0 || mock.LastAlert() != nil {
		t.Fatal("expected an empty mock")
	}

	_ = mock.Send(ctx, Alert{Event: EventOrderPlaced, Message: "placed"})
	_ = mock.Send(ctx, Alert{Event: EventFillCommitted, Message: "Buy filled"})
	_ = mock.Send(ctx, Alert{Event: EventFillCommitted, Message: "Sell filled"})

	if got := mock.Events(); len(got) != 3 || got[0] != EventOrderPlaced {
		t.Errorf("Events() = %v", got)
	}
	if !mock.HasEvent(EventFillCommitted) || mock.HasEvent(EventOrderAbandoned) {
		t.Error("HasEvent mismatch")
	}
	if fills := mock.ByEvent(EventFillCommitted); len(fills) != 2 || fills[1].Message != "Sell filled" {
		t.Errorf("ByEvent() = %+v", fills)
	}
	if last := mock.LastAlert(); last.Message != "Sell filled" {
		t.Errorf("LastAlert() = %+v", last)
	}

	boom := errors.New("boom")
	mock.FailWith(boom)
	if err := mock.Send(ctx, Alert{Event: EventBotStopped}); !errors.Is(err, boom) {
		t.Errorf("Send() error = %v, want boom", err)
	}
	if mock.Count() != 4 {
		t.Errorf("Count() = %d, want 4", mock.Count())
	}
}

func TestMultiAlerter_FansOutAndJoinsErrors(t *testing.T) {
	ok := NewMockAlerter()
	failing := NewMockAlerter()
	failing.FailWith(errors.New("chat not found"))

	multi := NewMultiAlerter(nil, ok, failing)
	if multi.Name() != "multi" {
		t.Errorf("Name() = %q", multi.Name())
	}

	alert := Alert{Event: EventMarketConversion, Severity: SeverityWarning, Time: time.Now()}
	err := multi.Send(context.Background(), alert)
	if err == nil || !strings.Contains(err.Error(), "mock: chat not found") {
		t.Errorf("Send() error = %v", err)
	}

	if !ok.HasEvent(EventMarketConversion) || !failing.HasEvent(EventMarketConversion) {
		t.Error("every channel should receive the alert")
	}
}

func TestMultiAlerter_Empty(t *testing.T) {
	if err := NewMultiAlerter(nil).Send(context.Background(), Alert{Event: EventBotStarted}); err != nil {
		t.Errorf("Send() error = %v", err)
	}
}
