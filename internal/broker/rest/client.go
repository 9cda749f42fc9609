package rest

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync/atomic"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"golang.org/x/time/rate"

	"github.com/tathienbao/signal-trader/internal/broker"
	"github.com/tathienbao/signal-trader/internal/types"
)

// APIError is a non-2xx response from the broker.
type APIError struct {
	Method     string
	Path       string
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("%s %s: status %d: %s", e.Method, e.Path, e.StatusCode, e.Body)
}

// Client implements broker.Brokerage over a JSON HTTP API.
// Every request waits on a shared rate limiter.
type Client struct {
	cfg     Config
	http    *http.Client
	limiter *rate.Limiter
	logger  *slog.Logger
	state   atomic.Int32
}

// NewClient creates a new REST brokerage client.
func NewClient(cfg Config, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.RateLimitPerSecond <= 0 {
		cfg.RateLimitPerSecond = DefaultConfig().RateLimitPerSecond
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = DefaultConfig().RequestTimeout
	}

	c := &Client{
		cfg:     cfg,
		http:    &http.Client{Timeout: cfg.RequestTimeout},
		limiter: rate.NewLimiter(rate.Limit(cfg.RateLimitPerSecond), cfg.RateLimitPerSecond),
		logger:  logger,
	}
	c.state.Store(int32(broker.StateDisconnected))

	return c
}

// Connect verifies credentials against the account endpoint.
func (c *Client) Connect(ctx context.Context) error {
	c.state.Store(int32(broker.StateConnecting))

	var account map[string]any
	if err := c.do(ctx, http.MethodGet, c.accountPath(""), nil, nil, &account); err != nil {
		c.state.Store(int32(broker.StateError))
		return fmt.Errorf("verify account: %w", err)
	}

	c.state.Store(int32(broker.StateConnected))
	c.logger.Info("broker connected",
		"account", maskAccount(c.cfg.AccountID),
		"live", c.cfg.Live,
	)
	return nil
}

// State returns connection state.
func (c *Client) State() broker.ConnectionState {
	return broker.ConnectionState(c.state.Load())
}

// IsConnected returns true if connected.
func (c *Client) IsConnected() bool {
	return c.State() == broker.StateConnected
}

// FindInstrument resolves a stock ticker to the first match.
func (c *Client) FindInstrument(ctx context.Context, symbol string) (broker.Instrument, error) {
	var found []map[string]any
	q := url.Values{"symbol": {symbol}}
	if err := c.do(ctx, http.MethodGet, "/instruments", q, nil, &found); err != nil {
		return broker.Instrument{}, fmt.Errorf("find instrument %s: %w", symbol, err)
	}
	if len(found) == 0 {
		return broker.Instrument{}, fmt.Errorf("%w: %s", types.ErrInstrumentNotFound, symbol)
	}

	id, ok := str(found[0], "tickerId", "id")
	if !ok {
		return broker.Instrument{}, fmt.Errorf("%w: %s has no id", types.ErrInstrumentNotFound, symbol)
	}

	return broker.Instrument{ID: id, Symbol: symbol, Kind: types.AssetStock}, nil
}

// FindOptionContract scans the option chain for a matching right, strike and expiry.
func (c *Client) FindOptionContract(ctx context.Context, symbol string, spec types.OptionSpec) (broker.Instrument, error) {
	want := types.ExpiryDigits(spec.Expiry)
	if len(want) != 4 {
		return broker.Instrument{}, fmt.Errorf("%w: %q", types.ErrInvalidExpiry, spec.Expiry)
	}

	var chain []map[string]any
	q := url.Values{"symbol": {symbol}}
	if err := c.do(ctx, http.MethodGet, "/options", q, nil, &chain); err != nil {
		return broker.Instrument{}, fmt.Errorf("option chain %s: %w", symbol, err)
	}

	right := "PUT"
	if spec.CallPut == types.Call {
		right = "CALL"
	}

	for _, contract := range chain {
		kind, _ := str(contract, "optionType", "direction")
		if !strings.EqualFold(kind, right) {
			continue
		}
		strike, ok := num(contract, "strikePrice", "strike")
		if !ok || strike.Sub(spec.Strike).Abs().GreaterThanOrEqual(types.StrikeTolerance) {
			continue
		}
		exp, _ := str(contract, "expirationDate", "expireDate")
		if last4Digits(exp) != want {
			continue
		}
		id, ok := str(contract, "tickerId", "id")
		if !ok {
			continue
		}
		return broker.Instrument{ID: id, Symbol: symbol, Kind: types.AssetOption, Option: spec}, nil
	}

	return broker.Instrument{}, fmt.Errorf("%w: %s %s", types.ErrInstrumentNotFound, symbol, spec)
}

// QuoteMid returns the bid/ask mid, falling back to the last close, or zero on failure.
func (c *Client) QuoteMid(ctx context.Context, inst broker.Instrument) decimal.Decimal {
	var quote map[string]any
	if err := c.do(ctx, http.MethodGet, "/quotes/"+url.PathEscape(inst.ID), nil, nil, &quote); err != nil {
		c.logger.Warn("quote unavailable", "symbol", inst.Symbol, "instrument", inst.ID, "error", err)
		return decimal.Zero
	}

	bid, okBid := num(quote, "bid", "bidPrice")
	ask, okAsk := num(quote, "ask", "askPrice")
	if okBid && okAsk && bid.IsPositive() && ask.IsPositive() {
		return bid.Add(ask).Div(decimal.NewFromInt(2))
	}

	last, _ := num(quote, "close", "lastPrice")
	return last
}

type orderRequest struct {
	TickerID    string `json:"tickerId"`
	Action      string `json:"action"`
	OrderType   string `json:"orderType"`
	LmtPrice    string `json:"lmtPrice,omitempty"`
	Quantity    string `json:"quantity"`
	TimeInForce string `json:"timeInForce"`
	SerialID    string `json:"serialId"`
}

// PlaceMarketOrder submits a market order and returns the broker order id.
func (c *Client) PlaceMarketOrder(ctx context.Context, inst broker.Instrument, qty decimal.Decimal, side types.Side, tif types.TimeInForce) (string, error) {
	return c.placeOrder(ctx, orderRequest{
		TickerID:    inst.ID,
		Action:      side.String(),
		OrderType:   "MKT",
		Quantity:    qty.String(),
		TimeInForce: tif.String(),
		SerialID:    uuid.NewString(),
	})
}

// PlaceLimitOrder submits a limit order and returns the broker order id.
func (c *Client) PlaceLimitOrder(ctx context.Context, inst broker.Instrument, qty decimal.Decimal, side types.Side, limit decimal.Decimal, tif types.TimeInForce) (string, error) {
	return c.placeOrder(ctx, orderRequest{
		TickerID:    inst.ID,
		Action:      side.String(),
		OrderType:   "LMT",
		LmtPrice:    limit.StringFixed(2),
		Quantity:    qty.String(),
		TimeInForce: tif.String(),
		SerialID:    uuid.NewString(),
	})
}

func (c *Client) placeOrder(ctx context.Context, req orderRequest) (string, error) {
	var resp map[string]any
	if err := c.do(ctx, http.MethodPost, c.accountPath("/orders"), nil, req, &resp); err != nil {
		var apiErr *APIError
		if errors.As(err, &apiErr) && apiErr.StatusCode < 500 {
			return "", fmt.Errorf("%w: %v", types.ErrOrderRejected, err)
		}
		return "", fmt.Errorf("place order: %w", err)
	}

	id, ok := str(resp, "orderId", "order_id", "id")
	if !ok {
		return "", fmt.Errorf("%w: response has no order id", types.ErrOrderRejected)
	}

	c.logger.Debug("order submitted",
		"order_id", id,
		"instrument", req.TickerID,
		"side", req.Action,
		"type", req.OrderType,
		"qty", req.Quantity,
		"serial_id", req.SerialID,
	)
	return id, nil
}

// CancelOrder requests cancellation of an order.
func (c *Client) CancelOrder(ctx context.Context, orderID string) error {
	if err := c.do(ctx, http.MethodDelete, c.accountPath("/orders/"+url.PathEscape(orderID)), nil, nil, nil); err != nil {
		return fmt.Errorf("cancel order %s: %w", orderID, err)
	}
	return nil
}

// GetOrderStatus finds the order in the account's order list and normalizes its status.
// An order missing from the list reports OrderStatusUnknown.
func (c *Client) GetOrderStatus(ctx context.Context, orderID string) (types.OrderInfo, error) {
	var orders []map[string]any
	if err := c.do(ctx, http.MethodGet, c.accountPath("/orders"), nil, nil, &orders); err != nil {
		return types.OrderInfo{}, fmt.Errorf("list orders: %w", err)
	}

	info := types.OrderInfo{OrderID: orderID, Status: types.OrderStatusUnknown, RawStatus: "UNKNOWN"}

	for _, o := range orders {
		id, _ := str(o, "orderId", "order_id", "orderIdStr")
		if id != orderID {
			continue
		}
		if raw, ok := str(o, "status", "orderStatus"); ok {
			info.RawStatus = strings.ToUpper(raw)
			info.Status = broker.NormalizeStatus(raw)
		}
		info.FilledQty, _ = num(o, "filledQuantity", "filledQty", "filled_quantity")
		info.AvgFillPrice, _ = num(o, "filledAvgPrice", "avgFillPrice", "avg_fill_price")
		break
	}

	return info, nil
}

// ListPositions returns the account's holdings.
func (c *Client) ListPositions(ctx context.Context) ([]types.Holding, error) {
	var raw []map[string]any
	if err := c.do(ctx, http.MethodGet, c.accountPath("/positions"), nil, nil, &raw); err != nil {
		return nil, fmt.Errorf("list positions: %w", err)
	}
	return parsePositions(raw), nil
}

// parsePositions converts broker position records. Records with a ticker.symbol are stocks;
// the rest are options and are skipped unless underlying, strike, right and expiry are all present.
func parsePositions(raw []map[string]any) []types.Holding {
	out := []types.Holding{}

	for _, it := range raw {
		avg, _ := num(it, "cost", "avgPrice")

		if ticker, ok := it["ticker"].(map[string]any); ok {
			if sym, ok := str(ticker, "symbol"); ok {
				qty, _ := num(it, "position")
				out = append(out, types.NewStockHolding(sym, qty, avg))
				continue
			}
		}

		under, ok1 := str(it, "underlyingSymbol", "symbol")
		strike, ok2 := num(it, "strikePrice", "strike")
		cpRaw, ok3 := str(it, "callOrPut", "putCall")
		exp, ok4 := str(it, "expireDate", "expirationDate", "expire_date")
		if !ok1 || !ok2 || !ok3 || !ok4 {
			continue
		}
		cp, ok := types.ParseCallPut(cpRaw)
		if !ok {
			continue
		}

		qty, _ := num(it, "position")
		mmdd := last4Digits(exp)
		if mmdd == "" {
			mmdd = "0000"
		}

		spec := types.OptionSpec{Strike: strike, CallPut: cp, Expiry: mmdd}
		out = append(out, types.NewOptionHolding(under, spec, int(qty.IntPart()), avg))
	}

	return out
}

func (c *Client) accountPath(suffix string) string {
	return "/accounts/" + url.PathEscape(c.cfg.AccountID) + suffix
}

func (c *Client) do(ctx context.Context, method, path string, query url.Values, body, out any) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("rate limiter: %w", err)
	}

	u := strings.TrimRight(c.cfg.BaseURL, "/") + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}

	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, u, reader)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.cfg.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	}
	if !c.cfg.Live {
		req.Header.Set("X-Paper-Trading", "true")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", types.ErrConnectionLost, err)
	}
	defer func() { _ = resp.Body.Close() }()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}

	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return fmt.Errorf("%w: %w", broker.ErrUnauthorized, apiError(method, path, resp.StatusCode, data))
	case resp.StatusCode == http.StatusTooManyRequests:
		return fmt.Errorf("%w: %w", broker.ErrRateLimited, apiError(method, path, resp.StatusCode, data))
	case resp.StatusCode >= 300:
		return apiError(method, path, resp.StatusCode, data)
	}

	if out == nil || len(bytes.TrimSpace(data)) == 0 {
		return nil
	}

	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	if err := dec.Decode(out); err != nil {
		return fmt.Errorf("decode %s %s: %w", method, path, err)
	}
	return nil
}

func apiError(method, path string, status int, body []byte) *APIError {
	return &APIError{Method: method, Path: path, StatusCode: status, Body: strings.TrimSpace(string(body))}
}

// str returns the first present key as a string; numbers are formatted.
func str(m map[string]any, keys ...string) (string, bool) {
	for _, k := range keys {
		switch v := m[k].(type) {
		case string:
			return v, true
		case json.Number:
			return v.String(), true
		}
	}
	return "", false
}

// num returns the first present key as a decimal; numeric strings are accepted.
func num(m map[string]any, keys ...string) (decimal.Decimal, bool) {
	for _, k := range keys {
		var s string
		switch v := m[k].(type) {
		case json.Number:
			s = v.String()
		case string:
			s = v
		default:
			continue
		}
		if d, err := decimal.NewFromString(s); err == nil {
			return d, true
		}
	}
	return decimal.Zero, false
}

func last4Digits(s string) string {
	d := types.ExpiryDigits(s)
	if len(d) < 4 {
		return ""
	}
	return d[len(d)-4:]
}

func maskAccount(id string) string {
	if len(id) <= 4 {
		return "****"
	}
	return "****" + id[len(id)-4:]
}

// Ensure Client implements broker.Brokerage
var _ broker.Brokerage = (*Client)(nil)
