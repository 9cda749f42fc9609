package source

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/tathienbao/signal-trader/internal/types"
)

func wsURL(srv *httptest.Server) string {
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

func dispatchFrame(t *testing.T, seq int64, event string, d any) map[string]any {
	t.Helper()
	raw, err := json.Marshal(d)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	return map[string]any{"op": opDispatch, "s": seq, "t": event, "d": json.RawMessage(raw)}
}

func message(author, channel, content string) map[string]any {
	return map[string]any{
		"channel_id": channel,
		"content":    content,
		"author":     map[string]any{"username": author},
	}
}

func TestDiscordGateway_RoutesMessages(t *testing.T) {
	upgrader := websocket.Upgrader{}
	identified := make(chan identifyData, 1)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Errorf("upgrade: %v", err)
			return
		}
		defer conn.Close()

		_ = conn.WriteJSON(map[string]any{"op": opHello, "d": map[string]any{"heartbeat_interval": 45000}})

		var ident struct {
			Op int          `json:"op"`
			D  identifyData `json:"d"`
		}
		if err := conn.ReadJSON(&ident); err != nil || ident.Op != opIdentify {
			t.Errorf("identify: op=%d err=%v", ident.Op, err)
			return
		}
		identified <- ident.D

		_ = conn.WriteJSON(dispatchFrame(t, 1, "READY", map[string]any{"user": map[string]any{"username": "me"}}))
		_ = conn.WriteJSON(dispatchFrame(t, 2, "MESSAGE_CREATE", message("random", "111", "BTO 5 TSLA @ m")))
		_ = conn.WriteJSON(dispatchFrame(t, 3, "MESSAGE_CREATE", message("alpha", "999", "BTO 5 TSLA @ m")))
		_ = conn.WriteJSON(dispatchFrame(t, 4, "MESSAGE_CREATE", message("alpha", "111", "STC 2 AAPL 150C 08/16 @ 2.50")))

		// Hold the session open until the client goes away.
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}))
	defer srv.Close()

	out := make(chan types.SignalEnvelope, 4)
	router := NewRouter(NewFilter([]string{"111"}, []string{"alpha"}), out, nil)
	gw := NewDiscordGateway(DiscordConfig{GatewayURL: wsURL(srv), Token: "tok"}, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- gw.Run(ctx, router) }()

	select {
	case id := <-identified:
		if id.Token != "tok" || id.Intents != DefaultIntents {
			t.Errorf("identify = %+v", id)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("no identify received")
	}

	select {
	case env := <-out:
		if env.Author != "alpha" || env.Signal.Kind != types.AssetOption || env.Signal.Action != types.ActionSellToClose {
			t.Errorf("envelope = %+v", env)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("no signal routed")
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Run() error = %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not stop on cancel")
	}

	if len(out) != 0 {
		t.Errorf("filtered messages leaked: %d", len(out))
	}
}

func TestDiscordGateway_ReconnectsOnRequest(t *testing.T) {
	upgrader := websocket.Upgrader{}
	var sessions atomic.Int32

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		n := sessions.Add(1)
		_ = conn.WriteJSON(map[string]any{"op": opHello, "d": map[string]any{"heartbeat_interval": 45000}})
		var ident map[string]any
		if err := conn.ReadJSON(&ident); err != nil {
			return
		}

		if n == 1 {
			_ = conn.WriteJSON(map[string]any{"op": opReconnect})
			return
		}
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}))
	defer srv.Close()

	gw := NewDiscordGateway(DiscordConfig{GatewayURL: wsURL(srv)}, nil)
	gw.reconnectDelay = time.Millisecond

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- gw.Run(ctx, NewRouter(NewFilter(nil, nil), make(chan types.SignalEnvelope), nil)) }()

	deadline := time.Now().Add(2 * time.Second)
	for sessions.Load() < 2 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	cancel()
	<-done

	if got := sessions.Load(); got < 2 {
		t.Errorf("sessions = %d, want a reconnect", got)
	}
}

func TestDiscordGateway_RejectsBadHello(t *testing.T) {
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		_ = conn.WriteJSON(map[string]any{"op": opDispatch})
	}))
	defer srv.Close()

	gw := NewDiscordGateway(DiscordConfig{GatewayURL: wsURL(srv)}, nil)
	err := gw.session(context.Background(), NewRouter(NewFilter(nil, nil), nil, nil))
	if err == nil || !strings.Contains(err.Error(), "expected hello") {
		t.Errorf("session() error = %v, want hello error", err)
	}
}

func TestNewDiscordGateway_Defaults(t *testing.T) {
	gw := NewDiscordGateway(DiscordConfig{}, nil)
	if gw.cfg.GatewayURL != DefaultGatewayURL || gw.cfg.Intents != DefaultIntents {
		t.Errorf("cfg = %+v", gw.cfg)
	}
	if gw.Name() != "discord" {
		t.Errorf("Name() = %q", gw.Name())
	}
}
