package alerting

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func TestNotifier_AllEventsByDefault(t *testing.T) {
	mock := NewMockAlerter()
	n := NewNotifier(mock, nil, nil)
	at := time.Date(2026, 10, 15, 9, 30, 0, 0, time.UTC)
	n.now = func() time.Time { return at }

	n.Notify(context.Background(), EventFillCommitted, "Buy filled", "asset", "AAPL")
	n.Notify(context.Background(), EventResyncFailed, "Holdings resync failed")

	if got := mock.Events(); len(got) != 2 || got[0] != EventFillCommitted || got[1] != EventResyncFailed {
		t.Fatalf("events = %v", got)
	}
	last := mock.LastAlert()
	if last.Severity != SeverityHigh || !last.Time.Equal(at) {
		t.Errorf("alert = %+v", last)
	}
	fill := mock.ByEvent(EventFillCommitted)[0]
	if v, _ := fill.Field("asset"); v != "AAPL" {
		t.Errorf("fields = %v", fill.Fields)
	}
}

func TestNotifier_FiltersEvents(t *testing.T) {
	mock := NewMockAlerter()
	n := NewNotifier(mock, []string{"order_rejected"}, nil)

	n.Notify(context.Background(), EventFillCommitted, "Buy filled")
	n.Notify(context.Background(), EventOrderRejected, "Signal rejected")

	if got := mock.Events(); len(got) != 1 || got[0] != EventOrderRejected {
		t.Errorf("events = %v", got)
	}
	if n.Enabled(EventFillCommitted) {
		t.Error("fill_committed should be disabled")
	}
}

func TestNotifier_AllKeyword(t *testing.T) {
	n := NewNotifier(NewMockAlerter(), []string{"order_placed", "all"}, nil)
	if !n.Enabled(EventResyncFailed) {
		t.Error("all should enable every event")
	}
}

func TestNotifier_NilSafe(t *testing.T) {
	var n *Notifier
	n.Notify(context.Background(), EventBotStarted, "started")

	if n.Enabled(EventBotStarted) {
		t.Error("nil notifier should not be enabled")
	}
	if NewNotifier(nil, nil, nil).Enabled(EventBotStarted) {
		t.Error("notifier without alerter should not be enabled")
	}
}

func TestNotifier_SwallowsDeliveryErrors(t *testing.T) {
	mock := NewMockAlerter()
	mock.FailWith(errors.New("boom"))

	NewNotifier(mock, nil, nil).Notify(context.Background(), EventOrderPlaced, "Order placed")

	if mock.Count() != 1 {
		t.Errorf("Count() = %d, want 1", mock.Count())
	}
}

func TestTelegramAlerter(t *testing.T) {
	var got telegramMessage
	var path string

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		path = r.URL.Path
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Errorf("decode: %v", err)
		}
		_, _ = w.Write([]byte(`{"ok": true}`))
	}))
	defer srv.Close()

	alerter := NewTelegramAlerter(TelegramConfig{BotToken: "TOKEN", ChatID: "42", APIURL: srv.URL})

	if alerter.Name() != "telegram" {
		t.Errorf("Name() = %q", alerter.Name())
	}

	err := alerter.Send(context.Background(), Alert{
		Event:    EventOrderRejected,
		Severity: SeverityWarning,
		Message:  "limit <150> exceeds cap",
		Fields:   []any{"asset", "AAPL"},
		Time:     time.Now(),
	})
	if err != nil {
		t.Fatalf("Send() error = %v", err)
	}

	if path != "/botTOKEN/sendMessage" {
		t.Errorf("path = %s", path)
	}
	if got.ChatID != "42" || got.ParseMode != "HTML" {
		t.Errorf("message = %+v", got)
	}
	for _, want := range []string{"<b>Signal rejected</b>", "limit &lt;150&gt; exceeds cap", "asset: AAPL"} {
		if !strings.Contains(got.Text, want) {
			t.Errorf("text missing %q: %q", want, got.Text)
		}
	}

	summary := NewDailySummary("2026-10-15", nil, 0)
	if err := alerter.Send(context.Background(), Alert{Event: EventDailySummary, Message: summary.Text()}); err != nil {
		t.Fatalf("Send(summary) error = %v", err)
	}
	if !strings.Contains(got.Text, "Daily realized P/L") || !strings.Contains(got.Text, "<pre>") {
		t.Errorf("summary text = %q", got.Text)
	}
}

func TestTelegramAlerter_APIError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"ok": false, "description": "chat not found"}`))
	}))
	defer srv.Close()

	alerter := NewTelegramAlerter(TelegramConfig{BotToken: "T", ChatID: "1", APIURL: srv.URL})

	err := alerter.Send(context.Background(), Alert{Event: EventBotStarted})
	if err == nil || !strings.Contains(err.Error(), "chat not found") {
		t.Errorf("Send() error = %v, want API error", err)
	}
}
