package rest

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/shopspring/decimal"

	"github.com/tathienbao/signal-trader/internal/broker"
	"github.com/tathienbao/signal-trader/internal/types"
)

// fakeAPI is an in-process broker API.
type fakeAPI struct {
	mu        sync.Mutex
	orders    []map[string]any
	placed    []orderRequest
	canceled  []string
	positions string
	quote     string
	authFail  bool
}

func (f *fakeAPI) handler(t *testing.T) http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /v1/accounts/ACC1", func(w http.ResponseWriter, r *http.Request) {
		if f.authFail || r.Header.Get("Authorization") != "Bearer secret" {
			http.Error(w, `{"msg":"bad token"}`, http.StatusUnauthorized)
			return
		}
		_, _ = w.Write([]byte(`{"accountId":"ACC1"}`))
	})

	mux.HandleFunc("GET /v1/instruments", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("symbol") == "NONE" {
			_, _ = w.Write([]byte(`[]`))
			return
		}
		_, _ = w.Write([]byte(`[{"tickerId": 913256135, "symbol": "AAPL"}, {"tickerId": 1, "symbol": "AAPL.X"}]`))
	})

	mux.HandleFunc("GET /v1/options", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`[
			{"tickerId": 100, "optionType": "put",  "strikePrice": 150,   "expirationDate": "2025-08-16"},
			{"tickerId": 101, "optionType": "call", "strikePrice": 150.5, "expirationDate": "2025-08-16"},
			{"tickerId": 102, "optionType": "call", "strikePrice": 150,   "expirationDate": "2025-09-20"},
			{"tickerId": 103, "optionType": "call", "strikePrice": "150.0", "expirationDate": "2025-08-16"}
		]`))
	})

	mux.HandleFunc("GET /v1/quotes/{id}", func(w http.ResponseWriter, r *http.Request) {
		if f.quote == "" {
			http.Error(w, "no quote", http.StatusServiceUnavailable)
			return
		}
		_, _ = w.Write([]byte(f.quote))
	})

	mux.HandleFunc("POST /v1/accounts/ACC1/orders", func(w http.ResponseWriter, r *http.Request) {
		var req orderRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decode order: %v", err)
		}
		if req.Quantity == "0" {
			http.Error(w, `{"msg":"invalid quantity"}`, http.StatusBadRequest)
			return
		}
		f.mu.Lock()
		f.placed = append(f.placed, req)
		f.mu.Unlock()
		_, _ = w.Write([]byte(`{"orderId": 5550001}`))
	})

	mux.HandleFunc("DELETE /v1/accounts/ACC1/orders/{id}", func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		f.canceled = append(f.canceled, r.PathValue("id"))
		f.mu.Unlock()
		w.WriteHeader(http.StatusNoContent)
	})

	mux.HandleFunc("GET /v1/accounts/ACC1/orders", func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		defer f.mu.Unlock()
		_ = json.NewEncoder(w).Encode(f.orders)
	})

	mux.HandleFunc("GET /v1/accounts/ACC1/positions", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(f.positions))
	})

	return mux
}

func newTestClient(t *testing.T, api *fakeAPI) *Client {
	t.Helper()

	srv := httptest.NewServer(api.handler(t))
	t.Cleanup(srv.Close)

	cfg := DefaultConfig()
	cfg.BaseURL = srv.URL + "/v1/"
	cfg.APIKey = "secret"
	cfg.AccountID = "ACC1"
	cfg.RateLimitPerSecond = 1000

	return NewClient(cfg, nil)
}

// TestNewClient tests client constructor.
func TestNewClient(t *testing.T) {
	client := NewClient(Config{}, nil)

	if client.State() != broker.StateDisconnected {
		t.Errorf("expected state Disconnected, got %v", client.State())
	}
	if client.IsConnected() {
		t.Error("expected client to not be connected initially")
	}
	if client.cfg.RateLimitPerSecond != DefaultConfig().RateLimitPerSecond {
		t.Errorf("rate limit = %d, want default", client.cfg.RateLimitPerSecond)
	}
}

func TestClient_Connect(t *testing.T) {
	api := &fakeAPI{}
	client := newTestClient(t, api)

	if err := client.Connect(context.Background()); err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	if !client.IsConnected() {
		t.Error("expected connected state")
	}

	api.authFail = true
	err := client.Connect(context.Background())
	if !errors.Is(err, broker.ErrUnauthorized) {
		t.Errorf("Connect() error = %v, want ErrUnauthorized", err)
	}
	if client.State() != broker.StateError {
		t.Errorf("state = %v, want error", client.State())
	}
}

func TestClient_FindInstrument(t *testing.T) {
	client := newTestClient(t, &fakeAPI{})
	ctx := context.Background()

	inst, err := client.FindInstrument(ctx, "AAPL")
	if err != nil {
		t.Fatalf("FindInstrument() error = %v", err)
	}
	if inst.ID != "913256135" || inst.Kind != types.AssetStock {
		t.Errorf("instrument = %+v, want first match 913256135", inst)
	}

	_, err = client.FindInstrument(ctx, "NONE")
	if !errors.Is(err, types.ErrInstrumentNotFound) {
		t.Errorf("FindInstrument(NONE) error = %v, want ErrInstrumentNotFound", err)
	}
}

func TestClient_FindOptionContract(t *testing.T) {
	client := newTestClient(t, &fakeAPI{})
	ctx := context.Background()

	spec := types.OptionSpec{Strike: decimal.NewFromInt(150), CallPut: types.Call, Expiry: "08/16"}
	inst, err := client.FindOptionContract(ctx, "AAPL", spec)
	if err != nil {
		t.Fatalf("FindOptionContract() error = %v", err)
	}
	if inst.ID != "103" {
		t.Errorf("instrument id = %s, want 103", inst.ID)
	}
	if inst.Kind != types.AssetOption || !inst.Option.Matches(spec) {
		t.Errorf("instrument = %+v", inst)
	}

	spec.Expiry = "10/18"
	if _, err := client.FindOptionContract(ctx, "AAPL", spec); !errors.Is(err, types.ErrInstrumentNotFound) {
		t.Errorf("error = %v, want ErrInstrumentNotFound", err)
	}

	spec.Expiry = "8/1"
	if _, err := client.FindOptionContract(ctx, "AAPL", spec); !errors.Is(err, types.ErrInvalidExpiry) {
		t.Errorf("error = %v, want ErrInvalidExpiry", err)
	}
}

func TestClient_QuoteMid(t *testing.T) {
	tests := []struct {
		name  string
		quote string
		want  string
	}{
		{"mid", `{"bid": 10.00, "ask": 10.50, "close": 9}`, "10.25"},
		{"zero bid falls back to close", `{"bid": 0, "ask": 10.50, "close": 9.75}`, "9.75"},
		{"no bid ask", `{"close": "8.5"}`, "8.5"},
		{"unavailable", "", "0"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client := newTestClient(t, &fakeAPI{quote: tt.quote})
			got := client.QuoteMid(context.Background(), broker.Instrument{ID: "1", Symbol: "AAPL"})
			if !got.Equal(decimal.RequireFromString(tt.want)) {
				t.Errorf("QuoteMid() = %s, want %s", got, tt.want)
			}
		})
	}
}

func TestClient_PlaceOrders(t *testing.T) {
	api := &fakeAPI{}
	client := newTestClient(t, api)
	ctx := context.Background()
	inst := broker.Instrument{ID: "913256135", Symbol: "AAPL"}

	id, err := client.PlaceLimitOrder(ctx, inst, decimal.NewFromInt(10), types.SideBuy, decimal.RequireFromString("2.5"), types.TIFGoodTillCancel)
	if err != nil {
		t.Fatalf("PlaceLimitOrder() error = %v", err)
	}
	if id != "5550001" {
		t.Errorf("order id = %s, want 5550001", id)
	}

	if _, err := client.PlaceMarketOrder(ctx, inst, decimal.RequireFromString("0.5"), types.SideSell, types.TIFDay); err != nil {
		t.Fatalf("PlaceMarketOrder() error = %v", err)
	}

	_, err = client.PlaceMarketOrder(ctx, inst, decimal.Zero, types.SideSell, types.TIFDay)
	if !errors.Is(err, types.ErrOrderRejected) {
		t.Errorf("zero qty error = %v, want ErrOrderRejected", err)
	}

	if len(api.placed) != 2 {
		t.Fatalf("placed = %d, want 2", len(api.placed))
	}
	lmt := api.placed[0]
	if lmt.OrderType != "LMT" || lmt.LmtPrice != "2.50" || lmt.Action != "BUY" || lmt.TimeInForce != "GTC" || lmt.Quantity != "10" {
		t.Errorf("limit request = %+v", lmt)
	}
	if lmt.SerialID == "" || lmt.SerialID == api.placed[1].SerialID {
		t.Error("serial ids should be unique per order")
	}
	mkt := api.placed[1]
	if mkt.OrderType != "MKT" || mkt.LmtPrice != "" || mkt.Action != "SELL" || mkt.TimeInForce != "DAY" || mkt.Quantity != "0.5" {
		t.Errorf("market request = %+v", mkt)
	}
}

func TestClient_CancelOrder(t *testing.T) {
	api := &fakeAPI{}
	client := newTestClient(t, api)

	if err := client.CancelOrder(context.Background(), "42"); err != nil {
		t.Fatalf("CancelOrder() error = %v", err)
	}
	if len(api.canceled) != 1 || api.canceled[0] != "42" {
		t.Errorf("canceled = %v", api.canceled)
	}
}

func TestClient_GetOrderStatus(t *testing.T) {
	api := &fakeAPI{orders: []map[string]any{
		{"orderId": 1, "status": "Working"},
		{"orderId": "2", "statusStr": "x", "orderStatus": "PARTIALLY_FILLED", "filledQuantity": 4, "avgFillPrice": "2.45"},
		{"order_id": "3", "status": "Filled", "filled_quantity": 10, "filledAvgPrice": 101.5},
		{"orderIdStr": "4", "status": "EXPIRED"},
	}}
	client := newTestClient(t, api)
	ctx := context.Background()

	tests := []struct {
		id       string
		status   types.OrderStatus
		raw      string
		filled   string
		avgPrice string
	}{
		{"1", types.OrderStatusWorking, "WORKING", "0", "0"},
		{"2", types.OrderStatusPartiallyFilled, "PARTIALLY_FILLED", "4", "2.45"},
		{"3", types.OrderStatusFilled, "FILLED", "10", "101.5"},
		{"4", types.OrderStatusUnknown, "EXPIRED", "0", "0"},
		{"missing", types.OrderStatusUnknown, "UNKNOWN", "0", "0"},
	}

	for _, tt := range tests {
		t.Run(tt.id, func(t *testing.T) {
			info, err := client.GetOrderStatus(ctx, tt.id)
			if err != nil {
				t.Fatalf("GetOrderStatus() error = %v", err)
			}
			if info.Status != tt.status || info.RawStatus != tt.raw {
				t.Errorf("status = %v (%s), want %v (%s)", info.Status, info.RawStatus, tt.status, tt.raw)
			}
			if !info.FilledQty.Equal(decimal.RequireFromString(tt.filled)) {
				t.Errorf("filled = %s, want %s", info.FilledQty, tt.filled)
			}
			if !info.AvgFillPrice.Equal(decimal.RequireFromString(tt.avgPrice)) {
				t.Errorf("avg = %s, want %s", info.AvgFillPrice, tt.avgPrice)
			}
		})
	}
}

func TestClient_ListPositions(t *testing.T) {
	api := &fakeAPI{positions: `[
		{"ticker": {"symbol": "AAPL"}, "position": 10.5, "cost": 187.25},
		{"ticker": {"symbol": "MSFT"}, "position": 3, "avgPrice": "400"},
		{"underlyingSymbol": "TSLA", "strikePrice": 200, "callOrPut": "put", "expireDate": "2025-09-20", "position": 2, "cost": 4.1},
		{"symbol": "SPY", "strike": "450.5", "putCall": "CALL", "expirationDate": "20251201", "position": 1, "avgPrice": 1.05},
		{"underlyingSymbol": "BAD", "strikePrice": 10, "position": 1}
	]`}
	client := newTestClient(t, api)

	holdings, err := client.ListPositions(context.Background())
	if err != nil {
		t.Fatalf("ListPositions() error = %v", err)
	}
	if len(holdings) != 4 {
		t.Fatalf("holdings = %d, want 4 (incomplete option skipped)", len(holdings))
	}

	aapl := holdings[0]
	if aapl.Kind != types.AssetStock || aapl.Symbol != "AAPL" || !aapl.Shares.Equal(decimal.RequireFromString("10.5")) || !aapl.AvgCost.Equal(decimal.RequireFromString("187.25")) {
		t.Errorf("AAPL = %+v", aapl)
	}
	if !holdings[1].AvgCost.Equal(decimal.NewFromInt(400)) {
		t.Errorf("MSFT avg = %s, want 400 from avgPrice", holdings[1].AvgCost)
	}

	tsla := holdings[2]
	if tsla.Kind != types.AssetOption || tsla.Contracts != 2 || tsla.Option.CallPut != types.Put || tsla.Option.Expiry != "0920" {
		t.Errorf("TSLA = %+v %+v", tsla, tsla.Option)
	}

	spy := holdings[3]
	if spy.Symbol != "SPY" || spy.Option.Expiry != "1201" || !spy.Option.Strike.Equal(decimal.RequireFromString("450.5")) {
		t.Errorf("SPY = %+v %+v", spy, spy.Option)
	}
}

func TestClient_RateLimitedResponse(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	client := NewClient(Config{BaseURL: srv.URL, AccountID: "A", RateLimitPerSecond: 100}, nil)

	_, err := client.GetOrderStatus(context.Background(), "1")
	if !errors.Is(err, broker.ErrRateLimited) {
		t.Errorf("error = %v, want ErrRateLimited", err)
	}
}
