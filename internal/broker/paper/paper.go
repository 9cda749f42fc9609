// Package paper provides a simulated brokerage for paper trading.
package paper

import (
	"context"
	"fmt"
	"log/slog"
	"maps"
	"slices"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/shopspring/decimal"

	"github.com/tathienbao/signal-trader/internal/broker"
	"github.com/tathienbao/signal-trader/internal/types"
)

// Config holds paper trading configuration.
type Config struct {
	FillDelay time.Duration
	// FillRatio is the fraction of each order that fills. Options round down to whole contracts.
	FillRatio decimal.Decimal
}

// DefaultConfig returns default paper trading config.
func DefaultConfig() Config {
	return Config{
		FillDelay: 50 * time.Millisecond,
		FillRatio: decimal.NewFromInt(1),
	}
}

type order struct {
	info  types.OrderInfo
	inst  broker.Instrument
	side  types.Side
	qty   decimal.Decimal
	limit decimal.NullDecimal
}

// Broker implements broker.Brokerage against in-memory quotes and positions.
type Broker struct {
	cfg    Config
	logger *slog.Logger

	state atomic.Int32

	// Quotes keyed by instrument id
	quotesMu sync.RWMutex
	quotes   map[string]decimal.Decimal

	// Positions keyed by instrument id
	positionsMu sync.RWMutex
	positions   map[string]types.Holding

	// Orders
	ordersMu    sync.RWMutex
	orders      map[string]*order
	nextOrderID atomic.Int64

	// Shutdown
	done     chan struct{}
	doneOnce sync.Once
	wg       sync.WaitGroup
}

// NewBroker creates a new paper trading broker.
func NewBroker(cfg Config, logger *slog.Logger) *Broker {
	if logger == nil {
		logger = slog.Default()
	}
	if !cfg.FillRatio.IsPositive() || cfg.FillRatio.GreaterThan(decimal.NewFromInt(1)) {
		cfg.FillRatio = decimal.NewFromInt(1)
	}

	b := &Broker{
		cfg:       cfg,
		logger:    logger,
		quotes:    make(map[string]decimal.Decimal),
		positions: make(map[string]types.Holding),
		orders:    make(map[string]*order),
		done:      make(chan struct{}),
	}

	b.state.Store(int32(broker.StateDisconnected))
	b.nextOrderID.Store(1000)

	return b
}

// Connect simulates connecting to broker.
func (b *Broker) Connect(ctx context.Context) error {
	b.state.Store(int32(broker.StateConnected))
	b.logger.Info("paper broker connected", "fill_delay", b.cfg.FillDelay)
	return nil
}

// Disconnect stops pending fills and waits for them to exit.
func (b *Broker) Disconnect() error {
	b.state.Store(int32(broker.StateDisconnected))
	b.doneOnce.Do(func() { close(b.done) })
	b.wg.Wait()
	b.logger.Info("paper broker disconnected")
	return nil
}

// State returns connection state.
func (b *Broker) State() broker.ConnectionState {
	return broker.ConnectionState(b.state.Load())
}

// IsConnected returns true if connected.
func (b *Broker) IsConnected() bool {
	return b.State() == broker.StateConnected
}

func stockID(symbol string) string {
	return strings.ToUpper(symbol)
}

func optionID(symbol string, spec types.OptionSpec) string {
	return fmt.Sprintf("%s:%s%s:%s", strings.ToUpper(symbol), spec.Strike.String(), spec.CallPut, types.ExpiryDigits(spec.Expiry))
}

// SetQuote sets the mid price for a stock.
func (b *Broker) SetQuote(symbol string, price decimal.Decimal) {
	b.quotesMu.Lock()
	b.quotes[stockID(symbol)] = price
	b.quotesMu.Unlock()
}

// SetOptionQuote sets the mid premium for an option contract.
func (b *Broker) SetOptionQuote(symbol string, spec types.OptionSpec, premium decimal.Decimal) {
	b.quotesMu.Lock()
	b.quotes[optionID(symbol, spec)] = premium
	b.quotesMu.Unlock()
}

// SeedPosition installs a holding as if it had been bought earlier.
func (b *Broker) SeedPosition(h types.Holding) {
	id := stockID(h.Symbol)
	if h.Kind == types.AssetOption && h.Option != nil {
		id = optionID(h.Symbol, *h.Option)
	}

	b.positionsMu.Lock()
	b.positions[id] = h
	b.positionsMu.Unlock()
}

// FindInstrument resolves any well-formed symbol.
func (b *Broker) FindInstrument(ctx context.Context, symbol string) (broker.Instrument, error) {
	if symbol == "" {
		return broker.Instrument{}, fmt.Errorf("%w: empty symbol", types.ErrInstrumentNotFound)
	}
	return broker.Instrument{ID: stockID(symbol), Symbol: symbol, Kind: types.AssetStock}, nil
}

// FindOptionContract resolves a contract only if a quote has been set for it.
func (b *Broker) FindOptionContract(ctx context.Context, symbol string, spec types.OptionSpec) (broker.Instrument, error) {
	if len(types.ExpiryDigits(spec.Expiry)) != 4 {
		return broker.Instrument{}, fmt.Errorf("%w: %q", types.ErrInvalidExpiry, spec.Expiry)
	}

	id := optionID(symbol, spec)

	b.quotesMu.RLock()
	_, ok := b.quotes[id]
	b.quotesMu.RUnlock()

	if !ok {
		return broker.Instrument{}, fmt.Errorf("%w: %s %s", types.ErrInstrumentNotFound, symbol, spec)
	}
	return broker.Instrument{ID: id, Symbol: symbol, Kind: types.AssetOption, Option: spec}, nil
}

// QuoteMid returns the configured quote or zero.
func (b *Broker) QuoteMid(ctx context.Context, inst broker.Instrument) decimal.Decimal {
	b.quotesMu.RLock()
	defer b.quotesMu.RUnlock()
	return b.quotes[inst.ID]
}

// PlaceMarketOrder simulates a market order.
func (b *Broker) PlaceMarketOrder(ctx context.Context, inst broker.Instrument, qty decimal.Decimal, side types.Side, tif types.TimeInForce) (string, error) {
	return b.place(inst, qty, side, decimal.NullDecimal{})
}

// PlaceLimitOrder simulates a limit order.
func (b *Broker) PlaceLimitOrder(ctx context.Context, inst broker.Instrument, qty decimal.Decimal, side types.Side, limit decimal.Decimal, tif types.TimeInForce) (string, error) {
	return b.place(inst, qty, side, decimal.NewNullDecimal(limit))
}

func (b *Broker) place(inst broker.Instrument, qty decimal.Decimal, side types.Side, limit decimal.NullDecimal) (string, error) {
	if !b.IsConnected() {
		return "", broker.ErrNotConnected
	}
	if !qty.IsPositive() {
		return "", fmt.Errorf("%w: quantity %s", types.ErrOrderRejected, qty)
	}

	orderID := fmt.Sprintf("PAPER-%d", b.nextOrderID.Add(1))

	o := &order{
		info: types.OrderInfo{
			OrderID:   orderID,
			Status:    types.OrderStatusWorking,
			RawStatus: types.OrderStatusWorking.String(),
		},
		inst:  inst,
		side:  side,
		qty:   qty,
		limit: limit,
	}

	b.ordersMu.Lock()
	b.orders[orderID] = o
	b.ordersMu.Unlock()

	b.logger.Info("paper order placed",
		"order_id", orderID,
		"instrument", inst.ID,
		"side", side,
		"qty", qty,
		"limit", limit,
	)

	// Simulate fill after delay
	b.wg.Add(1)
	go func() {
		defer b.wg.Done()
		b.simulateFill(o)
	}()

	return orderID, nil
}

// simulateFill fills marketable orders once FillDelay has elapsed.
// Limit orders fill at their limit; resting limit orders stay working.
func (b *Broker) simulateFill(o *order) {
	select {
	case <-b.done:
		return
	case <-time.After(b.cfg.FillDelay):
	}

	b.quotesMu.RLock()
	quote, hasQuote := b.quotes[o.inst.ID]
	b.quotesMu.RUnlock()
	hasQuote = hasQuote && quote.IsPositive()

	var price decimal.Decimal
	switch {
	case o.limit.Valid:
		marketable := !hasQuote ||
			(o.side == types.SideBuy && quote.LessThanOrEqual(o.limit.Decimal)) ||
			(o.side == types.SideSell && quote.GreaterThanOrEqual(o.limit.Decimal))
		if !marketable {
			b.logger.Debug("paper limit order resting", "order_id", o.info.OrderID, "quote", quote, "limit", o.limit.Decimal)
			return
		}
		price = o.limit.Decimal
	case hasQuote:
		price = quote
	default:
		b.ordersMu.Lock()
		if o.info.Status == types.OrderStatusWorking {
			o.info.Status = types.OrderStatusRejected
			o.info.RawStatus = types.OrderStatusRejected.String()
		}
		b.ordersMu.Unlock()
		b.logger.Warn("paper market order rejected: no quote", "order_id", o.info.OrderID, "instrument", o.inst.ID)
		return
	}

	filled := o.qty.Mul(b.cfg.FillRatio)
	if o.inst.Kind == types.AssetOption {
		filled = filled.Floor()
	}

	b.ordersMu.Lock()
	if o.info.Status != types.OrderStatusWorking {
		b.ordersMu.Unlock()
		return
	}
	o.info.FilledQty = filled
	o.info.AvgFillPrice = price
	switch {
	case filled.GreaterThanOrEqual(o.qty):
		o.info.Status = types.OrderStatusFilled
	case filled.IsPositive():
		o.info.Status = types.OrderStatusPartiallyFilled
	}
	o.info.RawStatus = o.info.Status.String()
	b.ordersMu.Unlock()

	if filled.IsPositive() {
		b.updatePosition(o.inst, o.side, filled, price)
	}

	b.logger.Info("paper order filled",
		"order_id", o.info.OrderID,
		"instrument", o.inst.ID,
		"side", o.side,
		"filled", filled,
		"price", price,
	)
}

// updatePosition applies a fill with weighted-average cost on buys.
func (b *Broker) updatePosition(inst broker.Instrument, side types.Side, qty, price decimal.Decimal) {
	b.positionsMu.Lock()
	defer b.positionsMu.Unlock()

	pos, exists := b.positions[inst.ID]

	if side == types.SideBuy {
		if !exists {
			if inst.Kind == types.AssetOption {
				b.positions[inst.ID] = types.NewOptionHolding(inst.Symbol, inst.Option, int(qty.IntPart()), price)
			} else {
				b.positions[inst.ID] = types.NewStockHolding(inst.Symbol, qty, price)
			}
			return
		}

		held := pos.Quantity()
		total := held.Add(qty)
		pos.AvgCost = pos.AvgCost.Mul(held).Add(price.Mul(qty)).Div(total)
		if pos.Kind == types.AssetOption {
			pos.Contracts = int(total.IntPart())
		} else {
			pos.Shares = total
		}
		b.positions[inst.ID] = pos
		return
	}

	if !exists {
		return
	}

	left := pos.Quantity().Sub(qty)
	if left.LessThanOrEqual(types.QuantityEpsilon) {
		delete(b.positions, inst.ID)
		return
	}
	if pos.Kind == types.AssetOption {
		pos.Contracts = int(left.IntPart())
	} else {
		pos.Shares = left
	}
	b.positions[inst.ID] = pos
}

// CancelOrder cancels a working order. Unknown and terminal orders are left alone.
func (b *Broker) CancelOrder(ctx context.Context, orderID string) error {
	b.ordersMu.Lock()
	defer b.ordersMu.Unlock()

	o, ok := b.orders[orderID]
	if !ok {
		return nil
	}

	if o.info.Status == types.OrderStatusWorking || o.info.Status == types.OrderStatusPartiallyFilled {
		o.info.Status = types.OrderStatusCanceled
		o.info.RawStatus = types.OrderStatusCanceled.String()
	}

	return nil
}

// GetOrderStatus returns the order's current status. Unknown ids report OrderStatusUnknown.
func (b *Broker) GetOrderStatus(ctx context.Context, orderID string) (types.OrderInfo, error) {
	b.ordersMu.RLock()
	defer b.ordersMu.RUnlock()

	o, ok := b.orders[orderID]
	if !ok {
		return types.OrderInfo{OrderID: orderID, Status: types.OrderStatusUnknown, RawStatus: "UNKNOWN"}, nil
	}
	return o.info, nil
}

// ListPositions returns all positions ordered by instrument id.
func (b *Broker) ListPositions(ctx context.Context) ([]types.Holding, error) {
	b.positionsMu.RLock()
	defer b.positionsMu.RUnlock()

	ids := slices.Sorted(maps.Keys(b.positions))
	out := make([]types.Holding, 0, len(ids))
	for _, id := range ids {
		out = append(out, b.positions[id])
	}

	return out, nil
}

// Ensure Broker implements broker.Brokerage
var _ broker.Brokerage = (*Broker)(nil)
