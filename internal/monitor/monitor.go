// Package monitor follows submitted orders to settlement and commits their fills to the ledger.
package monitor

import (
	"cmp"
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/tathienbao/signal-trader/internal/alerting"
	"github.com/tathienbao/signal-trader/internal/broker"
	"github.com/tathienbao/signal-trader/internal/ledger"
	"github.com/tathienbao/signal-trader/internal/metrics"
	"github.com/tathienbao/signal-trader/internal/persistence"
	"github.com/tathienbao/signal-trader/internal/types"
)

// Config holds monitor configuration.
type Config struct {
	PollInterval time.Duration
	BuyTimeout   time.Duration
	SellTimeout  time.Duration
	// TIF is used for the market order that replaces an unfilled sell limit.
	TIF types.TimeInForce
}

// DefaultConfig returns default monitor config.
func DefaultConfig() Config {
	return Config{
		PollInterval: 800 * time.Millisecond,
		BuyTimeout:   30 * time.Second,
		SellTimeout:  30 * time.Second,
		TIF:          types.TIFDay,
	}
}

// Journal is the subset of the order journal the monitor writes to.
type Journal interface {
	RecordOrder(ctx context.Context, order persistence.OrderRecord) error
	UpdateOrder(ctx context.Context, brokerOrderID string, status types.OrderStatus, filledQty, avgPrice decimal.Decimal) error
}

// Ticket describes a submitted order to follow.
type Ticket struct {
	Signal     types.TradeSignal
	Instrument broker.Instrument
	OrderID    string
	Quantity   decimal.Decimal // as submitted
	Price      decimal.Decimal // limit or estimated price at submission; used when the broker reports no fill price
	Market     bool            // submitted as a market order
}

func (t Ticket) logAttrs() []any {
	return []any{
		"order_id", t.OrderID,
		"action", t.Signal.Action.String(),
		"kind", t.Signal.Kind.String(),
		"symbol", t.Instrument.Symbol,
		"asset", t.Signal.Asset(),
		"qty", t.Quantity,
	}
}

// Monitor polls orders and applies the buy and sell settlement rules.
// The ledger is never locked across a broker call.
type Monitor struct {
	cfg      Config
	broker   broker.Brokerage
	book     *ledger.Book
	journal  Journal
	notifier *alerting.Notifier
	recorder *metrics.Recorder
	logger   *slog.Logger
	now      func() time.Time
}

// NewMonitor creates a monitor. journal and notifier may be nil.
func NewMonitor(
	cfg Config,
	brk broker.Brokerage,
	book *ledger.Book,
	journal Journal,
	notifier *alerting.Notifier,
	logger *slog.Logger,
) *Monitor {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = DefaultConfig().PollInterval
	}

	return &Monitor{
		cfg:      cfg,
		broker:   brk,
		book:     book,
		journal:  journal,
		notifier: notifier,
		recorder: metrics.NewRecorder(),
		logger:   logger,
		now:      time.Now,
	}
}

// Poll queries the order every PollInterval until it is terminal or timeout elapses,
// and returns the last status seen. Reaching the timeout is not an error. Failed
// queries are retried; an error is returned only if no status was ever obtained.
func (m *Monitor) Poll(ctx context.Context, orderID string, timeout time.Duration) (types.OrderInfo, error) {
	deadline := time.Now().Add(timeout)

	var (
		last    types.OrderInfo
		have    bool
		lastErr error
	)

	for {
		info, err := m.broker.GetOrderStatus(ctx, orderID)
		if err != nil {
			lastErr = err
			m.logger.Debug("order status query failed", "order_id", orderID, "err", err)
		} else {
			last, have = info, true
			if info.Status.IsFinal() {
				return info, nil
			}
		}

		if !time.Now().Before(deadline) {
			break
		}

		select {
		case <-ctx.Done():
			if have {
				return last, nil
			}
			return types.OrderInfo{OrderID: orderID}, fmt.Errorf("poll order %s: %w", orderID, cmp.Or(lastErr, ctx.Err()))
		case <-time.After(m.cfg.PollInterval):
		}
	}

	if !have {
		return types.OrderInfo{OrderID: orderID}, fmt.Errorf("poll order %s: %w", orderID, lastErr)
	}
	return last, nil
}

// Run follows the ticket's order to completion. It never returns an error;
// every anomaly is logged.
func (m *Monitor) Run(ctx context.Context, t Ticket) {
	switch t.Signal.Action {
	case types.ActionBuyToOpen:
		m.runBuy(ctx, t)
	case types.ActionSellToClose:
		m.runSell(ctx, t)
	}
}

func (m *Monitor) runBuy(ctx context.Context, t Ticket) {
	info, ok := m.poll(ctx, t, t.OrderID, m.cfg.BuyTimeout)
	if !ok {
		return
	}

	switch info.Status {
	case types.OrderStatusFilled:
		m.commitBuy(ctx, t, filledQty(info, t.Quantity), fillPrice(info, t))

	case types.OrderStatusPartiallyFilled:
		if info.FilledQty.IsPositive() {
			m.commitBuy(ctx, t, info.FilledQty, fillPrice(info, t))
		}
		m.cancel(ctx, t, t.OrderID)
		m.logger.Info("buy partially filled at timeout, remainder canceled",
			append(t.logAttrs(), "filled", info.FilledQty)...)

	case types.OrderStatusWorking, types.OrderStatusUnknown:
		m.cancel(ctx, t, t.OrderID)
		m.logger.Info("buy timed out, order canceled",
			append(t.logAttrs(), "status", info.RawStatus)...)

	default:
		m.logger.Info("buy order closed without fill",
			append(t.logAttrs(), "status", info.Status.String())...)
	}
}

func (m *Monitor) runSell(ctx context.Context, t Ticket) {
	info, ok := m.poll(ctx, t, t.OrderID, m.cfg.SellTimeout)
	if !ok {
		return
	}

	switch info.Status {
	case types.OrderStatusFilled:
		m.commitSell(ctx, t, t.Quantity, fillPrice(info, t))
		return

	case types.OrderStatusCanceled, types.OrderStatusRejected:
		m.logger.Info("sell order closed without fill",
			append(t.logAttrs(), "status", info.Status.String())...)
		return
	}

	// Partially filled, working or unknown at the deadline.
	filled := info.FilledQty
	if filled.IsPositive() {
		m.commitSell(ctx, t, filled, fillPrice(info, t))
	}

	if t.Market {
		m.logger.Info("market sell still open at timeout, leaving it to resolve",
			append(t.logAttrs(), "filled", filled, "status", info.RawStatus)...)
		return
	}

	m.cancel(ctx, t, t.OrderID)

	remaining := decimal.Max(t.Quantity.Sub(filled), decimal.Zero)
	if t.Signal.Kind == types.AssetOption {
		remaining = remaining.Floor()
	}
	if !remaining.IsPositive() {
		return
	}

	m.convertToMarket(ctx, t, remaining)
}

// convertToMarket resubmits an unfilled sell remainder at market, once, reusing
// the instrument resolved at dispatch.
func (m *Monitor) convertToMarket(ctx context.Context, t Ticket, remaining decimal.Decimal) {
	orderID, err := m.broker.PlaceMarketOrder(ctx, t.Instrument, remaining, types.SideSell, m.cfg.TIF)
	if err != nil {
		m.logger.Error("market conversion failed",
			append(t.logAttrs(), "remaining", remaining, "err", err)...)
		m.recorder.RecordError("market_conversion")
		m.notifier.Notify(ctx, alerting.EventOrderAbandoned, "Sell remainder could not be converted to market",
			"asset", t.Signal.Asset(), "remaining", remaining.String(), "error", err.Error())
		return
	}

	m.logger.Info("sell timed out, remainder converted to market",
		append(t.logAttrs(), "remaining", remaining, "market_order_id", orderID)...)
	m.recorder.RecordMarketConversion()
	m.recorder.RecordOrder(types.SideSell.String(), "placed")
	m.notifier.Notify(ctx, alerting.EventMarketConversion, "Sell limit converted to market",
		"asset", t.Signal.Asset(), "remaining", remaining.String(), "order_id", orderID)

	if m.journal != nil {
		rec := persistence.OrderRecord{
			ClientOrderID: uuid.NewString(),
			BrokerOrderID: orderID,
			Asset:         t.Signal.Asset(),
			Kind:          t.Signal.Kind,
			Side:          types.SideSell,
			OrderType:     types.OrderTypeMarket,
			Quantity:      remaining,
			Status:        types.OrderStatusWorking,
			Fallback:      true,
		}
		if err := m.journal.RecordOrder(ctx, rec); err != nil {
			m.logger.Warn("journal record failed", "order_id", orderID, "err", err)
		}
	}

	fallback := t
	fallback.OrderID = orderID
	fallback.Quantity = remaining
	fallback.Market = true

	info, ok := m.poll(ctx, fallback, orderID, m.cfg.SellTimeout)
	if !ok {
		return
	}

	// Only what the market order reports as filled is booked.
	qty := info.FilledQty
	if qty.IsPositive() {
		m.commitSell(ctx, fallback, qty, fillPrice(info, fallback))
	}
	if !info.Status.IsFinal() || qty.LessThan(remaining) {
		m.logger.Warn("market fallback not fully filled, abandoning",
			append(fallback.logAttrs(), "filled", qty, "status", info.RawStatus)...)
		m.notifier.Notify(ctx, alerting.EventOrderAbandoned, "Market fallback not fully filled",
			"asset", t.Signal.Asset(), "order_id", orderID, "filled", qty.String(), "remaining", remaining.String())
	}
}

// poll wraps Poll with latency, journal and abandonment handling.
func (m *Monitor) poll(ctx context.Context, t Ticket, orderID string, timeout time.Duration) (types.OrderInfo, bool) {
	timer := metrics.NewTimer()
	info, err := m.Poll(ctx, orderID, timeout)
	m.recorder.RecordPollLatency(timer.Elapsed())

	if err != nil {
		m.logger.Error("order status unavailable, abandoning order", append(t.logAttrs(), "err", err)...)
		m.recorder.RecordError("poll")
		m.notifier.Notify(ctx, alerting.EventOrderAbandoned, "Order status unavailable",
			"asset", t.Signal.Asset(), "order_id", orderID, "error", err.Error())
		return info, false
	}

	m.recorder.RecordOrder(t.Signal.Action.Side().String(), info.Status.String())

	if m.journal != nil {
		if err := m.journal.UpdateOrder(ctx, orderID, info.Status, info.FilledQty, info.AvgFillPrice); err != nil {
			m.logger.Warn("journal update failed", "order_id", orderID, "err", err)
		}
	}

	return info, true
}

func (m *Monitor) commitBuy(ctx context.Context, t Ticket, qty, price decimal.Decimal) {
	qty, ok := m.bookable(t, qty)
	if !ok {
		return
	}

	switch t.Signal.Kind {
	case types.AssetOption:
		m.book.ApplyOptionBuy(ctx, t.Instrument.Symbol, t.Signal.Option, int(qty.IntPart()), price)
	default:
		m.book.ApplyStockBuy(ctx, t.Instrument.Symbol, qty, price)
	}

	m.logger.Info("buy fill committed", append(t.logAttrs(), "filled", qty, "price", price)...)
	m.recorder.RecordFill(t.Signal.Kind.String(), types.SideBuy.String())
	m.recordLedger()
	m.notifier.Notify(ctx, alerting.EventFillCommitted, "Buy filled",
		"asset", t.Signal.Asset(), "qty", qty.String(), "price", price.String())
}

func (m *Monitor) commitSell(ctx context.Context, t Ticket, qty, price decimal.Decimal) {
	qty, ok := m.bookable(t, qty)
	if !ok {
		return
	}
	date := types.DateOf(m.now())

	var (
		realized decimal.Decimal
		found    bool
	)
	switch t.Signal.Kind {
	case types.AssetOption:
		realized, found = m.book.RealizeOptionSell(ctx, t.Instrument.Symbol, t.Signal.Option, int(qty.IntPart()), price, date)
	default:
		realized, found = m.book.RealizeStockSell(ctx, t.Instrument.Symbol, qty, price, date)
	}

	if !found {
		m.logger.Warn("sell fill has no matching holding, nothing realized",
			append(t.logAttrs(), "filled", qty, "price", price)...)
		return
	}

	m.logger.Info("sell fill committed", append(t.logAttrs(), "filled", qty, "price", price, "realized_pl", realized)...)
	m.recorder.RecordFill(t.Signal.Kind.String(), types.SideSell.String())
	m.recordLedger()
	m.notifier.Notify(ctx, alerting.EventFillCommitted, "Sell filled",
		"asset", t.Signal.Asset(), "qty", qty.String(), "price", price.String(), "realized_pl", realized.StringFixed(2))
}

// bookable rounds option fills down to whole contracts and reports whether
// anything is left to write to the ledger.
func (m *Monitor) bookable(t Ticket, qty decimal.Decimal) (decimal.Decimal, bool) {
	whole := qty
	if t.Signal.Kind == types.AssetOption {
		whole = qty.Floor()
	}
	if !whole.IsPositive() {
		m.logger.Warn("fill below one contract, nothing committed", append(t.logAttrs(), "filled", qty)...)
		return whole, false
	}
	return whole, true
}

// cancel is best effort.
func (m *Monitor) cancel(ctx context.Context, t Ticket, orderID string) {
	if err := m.broker.CancelOrder(ctx, orderID); err != nil {
		m.logger.Warn("cancel failed", append(t.logAttrs(), "cancel_order_id", orderID, "err", err)...)
		m.recorder.RecordError("cancel")
	}
}

func (m *Monitor) recordLedger() {
	today := types.DateOf(m.now())
	m.book.View(func(s *ledger.State) {
		m.recorder.RecordLedger(len(s.Holdings), s.RealizedOn(today))
	})
}

// filledQty returns the reported fill, or requested when a Filled order reports none.
func filledQty(info types.OrderInfo, requested decimal.Decimal) decimal.Decimal {
	if info.Status == types.OrderStatusFilled && !info.FilledQty.IsPositive() {
		return requested
	}
	return info.FilledQty
}

// fillPrice returns the reported average fill price, or the submission price when none was reported.
func fillPrice(info types.OrderInfo, t Ticket) decimal.Decimal {
	if info.AvgFillPrice.IsPositive() {
		return info.AvgFillPrice
	}
	return t.Price
}
