// Package engine provides the signal dispatch loop.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/tathienbao/signal-trader/internal/alerting"
	"github.com/tathienbao/signal-trader/internal/broker"
	"github.com/tathienbao/signal-trader/internal/ledger"
	"github.com/tathienbao/signal-trader/internal/metrics"
	"github.com/tathienbao/signal-trader/internal/monitor"
	"github.com/tathienbao/signal-trader/internal/persistence"
	"github.com/tathienbao/signal-trader/internal/risk"
	"github.com/tathienbao/signal-trader/internal/types"
)

// Config holds engine configuration.
type Config struct {
	DryRun bool
	TIF    types.TimeInForce
	// BuyMode and SellMode choose the placed order type regardless of the signal's.
	BuyMode  types.OrderType
	SellMode types.OrderType
	// Limit prices are adjusted by these fractions: buys up, sells down.
	BuySlippagePct  decimal.Decimal
	SellSlippagePct decimal.Decimal
	// ResyncInterval is how often holdings are resynced from the broker and the ledger flushed.
	ResyncInterval time.Duration
}

// DefaultConfig returns default engine config.
func DefaultConfig() Config {
	return Config{
		TIF:            types.TIFDay,
		BuyMode:        types.OrderTypeLimit,
		SellMode:       types.OrderTypeLimit,
		ResyncInterval: 60 * time.Second,
	}
}

// Engine turns signals into orders and hands each order to a monitor.
type Engine struct {
	cfg      Config
	logger   *slog.Logger
	broker   broker.Brokerage
	risk     *risk.Engine
	book     *ledger.Book
	monitor  *monitor.Monitor
	journal  monitor.Journal
	notifier *alerting.Notifier
	recorder *metrics.Recorder
	now      func() time.Time

	// In-flight monitors
	wg sync.WaitGroup
}

// NewEngine creates a new dispatch engine. journal and notifier may be nil.
func NewEngine(
	cfg Config,
	brk broker.Brokerage,
	riskEngine *risk.Engine,
	book *ledger.Book,
	mon *monitor.Monitor,
	journal monitor.Journal,
	notifier *alerting.Notifier,
	logger *slog.Logger,
) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.ResyncInterval <= 0 {
		cfg.ResyncInterval = DefaultConfig().ResyncInterval
	}

	return &Engine{
		cfg:      cfg,
		logger:   logger,
		broker:   brk,
		risk:     riskEngine,
		book:     book,
		monitor:  mon,
		journal:  journal,
		notifier: notifier,
		recorder: metrics.NewRecorder(),
		now:      time.Now,
	}
}

// Run resyncs holdings, then processes signals and the resync timer until ctx is
// canceled or signals is closed. A failing signal never stops the loop.
func (e *Engine) Run(ctx context.Context, signals <-chan types.SignalEnvelope) error {
	e.logger.Info("dispatch loop started",
		"dry_run", e.cfg.DryRun,
		"tif", e.cfg.TIF.String(),
		"buy_mode", e.cfg.BuyMode.String(),
		"sell_mode", e.cfg.SellMode.String(),
		"resync_interval", e.cfg.ResyncInterval,
	)

	e.Resync(ctx)

	ticker := time.NewTicker(e.cfg.ResyncInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			e.logger.Info("dispatch loop stopped: context cancelled")
			return nil

		case env, ok := <-signals:
			if !ok {
				e.logger.Warn("signal channel closed")
				return nil
			}
			// Errors are logged inside
			_ = e.HandleSignal(ctx, env)

		case <-ticker.C:
			e.recorder.RecordHeartbeat()
			e.Resync(ctx)
			if err := e.book.Flush(ctx); err != nil {
				e.logger.Error("ledger flush failed", "err", err)
				e.recorder.RecordError("flush")
			}
		}
	}
}

// HandleSignal prices, risk-checks and submits one signal, then starts its monitor.
// The returned error is already logged.
func (e *Engine) HandleSignal(ctx context.Context, env types.SignalEnvelope) error {
	sig := env.Signal
	attrs := []any{
		"author", env.Author,
		"action", sig.Action.String(),
		"kind", sig.Kind.String(),
		"symbol", sig.Symbol,
		"asset", sig.Asset(),
		"qty", sig.Quantity,
	}

	symbol := broker.SanitizeSymbol(sig.Symbol)
	if symbol == "" {
		return e.reject(ctx, "invalid_symbol", fmt.Errorf("%w: %q", types.ErrInvalidSymbol, sig.Symbol), attrs)
	}
	sig.Symbol = symbol

	inst, err := e.resolve(ctx, symbol, sig)
	if err != nil {
		return e.reject(ctx, "resolution", err, attrs)
	}

	est := e.estimatePrice(ctx, sig, inst)
	attrs = append(attrs, "est_price", est)

	var riskErr error
	e.book.View(func(s *ledger.State) {
		riskErr = e.risk.Check(sig, est, s)
	})
	if riskErr != nil {
		return e.reject(ctx, rejectReason(riskErr), riskErr, attrs)
	}

	side := sig.Action.Side()
	orderType, limit := e.orderPlan(sig, est)
	qty := decimal.NewFromInt(int64(sig.Quantity))
	if orderType == types.OrderTypeLimit {
		est = limit
	}
	attrs = append(attrs, "order_type", orderType.String(), "limit", limit)

	if e.cfg.DryRun {
		e.logger.Info("dry run: order not submitted", attrs...)
		return nil
	}

	var orderID string
	if orderType == types.OrderTypeMarket {
		orderID, err = e.broker.PlaceMarketOrder(ctx, inst, qty, side, e.cfg.TIF)
	} else {
		orderID, err = e.broker.PlaceLimitOrder(ctx, inst, qty, side, limit, e.cfg.TIF)
	}
	if err != nil {
		e.recorder.RecordOrder(side.String(), "failed")
		return e.reject(ctx, "submission", fmt.Errorf("place order: %w", err), attrs)
	}

	attrs = append(attrs, "order_id", orderID)
	e.logger.Info("order placed", attrs...)
	e.recorder.RecordOrder(side.String(), "placed")
	e.notifier.Notify(ctx, alerting.EventOrderPlaced, "Order placed",
		"order_id", orderID,
		"asset", sig.Asset(),
		"side", side.String(),
		"qty", sig.Quantity,
		"type", orderType.String(),
		"limit", limit.String(),
	)

	e.journalOrder(ctx, orderID, sig, side, orderType, qty, limit)

	ticket := monitor.Ticket{
		Signal:     sig,
		Instrument: inst,
		OrderID:    orderID,
		Quantity:   qty,
		Price:      est,
		Market:     orderType == types.OrderTypeMarket,
	}

	// Monitors outlive the signal's context and run their protocol to completion.
	monitorCtx := context.WithoutCancel(ctx)
	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		e.monitor.Run(monitorCtx, ticket)
	}()

	return nil
}

func (e *Engine) resolve(ctx context.Context, symbol string, sig types.TradeSignal) (broker.Instrument, error) {
	switch sig.Kind {
	case types.AssetOption:
		return e.broker.FindOptionContract(ctx, symbol, sig.Option)
	default:
		return e.broker.FindInstrument(ctx, symbol)
	}
}

// estimatePrice is the signal's limit price, else the broker mid (zero when unavailable).
func (e *Engine) estimatePrice(ctx context.Context, sig types.TradeSignal, inst broker.Instrument) decimal.Decimal {
	if sig.OrderType == types.OrderTypeLimit && sig.LimitPrice.Valid {
		return sig.LimitPrice.Decimal
	}
	return e.broker.QuoteMid(ctx, inst)
}

// orderPlan applies the configured buy/sell mode. In limit mode the price is the
// estimate adjusted by slippage and rounded to cents.
func (e *Engine) orderPlan(sig types.TradeSignal, est decimal.Decimal) (types.OrderType, decimal.Decimal) {
	mode, adj := e.cfg.BuyMode, decimal.NewFromInt(1).Add(e.cfg.BuySlippagePct)
	if sig.Action == types.ActionSellToClose {
		mode, adj = e.cfg.SellMode, decimal.NewFromInt(1).Sub(e.cfg.SellSlippagePct)
	}

	if mode == types.OrderTypeMarket {
		return types.OrderTypeMarket, decimal.Zero
	}
	return types.OrderTypeLimit, est.Mul(adj).Round(2)
}

func (e *Engine) journalOrder(ctx context.Context, orderID string, sig types.TradeSignal, side types.Side, orderType types.OrderType, qty, limit decimal.Decimal) {
	if e.journal == nil {
		return
	}

	rec := persistence.OrderRecord{
		ClientOrderID: uuid.NewString(),
		BrokerOrderID: orderID,
		Asset:         sig.Asset(),
		Kind:          sig.Kind,
		Side:          side,
		OrderType:     orderType,
		Quantity:      qty,
		LimitPrice:    limit,
		Status:        types.OrderStatusWorking,
	}
	if err := e.journal.RecordOrder(ctx, rec); err != nil {
		e.logger.Warn("journal record failed", "order_id", orderID, "err", err)
	}
}

func (e *Engine) reject(ctx context.Context, reason string, err error, attrs []any) error {
	e.logger.Warn("signal rejected", append(attrs, "reason", reason, "err", err)...)
	e.recorder.RecordSignalRejected(reason)
	e.notifier.Notify(ctx, alerting.EventOrderRejected, "Signal rejected",
		append(attrs, "reason", reason, "error", err.Error())...)
	return err
}

func rejectReason(err error) string {
	switch {
	case errors.Is(err, types.ErrUnpricedSignal):
		return "unpriced"
	case errors.Is(err, types.ErrNotionalExceeded):
		return "notional_exceeded"
	case errors.Is(err, types.ErrInsufficientPosition):
		return "insufficient_position"
	default:
		return "risk"
	}
}

// Resync replaces ledger holdings with the broker's positions. Failures are logged only.
func (e *Engine) Resync(ctx context.Context) {
	holdings, err := e.broker.ListPositions(ctx)
	e.recorder.RecordBrokerStatus(err == nil)
	if err != nil {
		e.logger.Error("holdings resync failed", "err", err)
		e.recorder.RecordResync(false)
		e.notifier.Notify(ctx, alerting.EventResyncFailed, "Holdings resync failed", "error", err.Error())
		return
	}

	e.book.SetHoldings(ctx, holdings)
	e.recorder.RecordResync(true)
	e.logger.Info("holdings synced from broker", "holdings", len(holdings))

	today := types.DateOf(e.now())
	e.book.View(func(s *ledger.State) {
		e.recorder.RecordLedger(len(s.Holdings), s.RealizedOn(today))
	})
}

// Wait blocks until every in-flight monitor finishes or ctx is done.
func (e *Engine) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		e.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("waiting for monitors: %w", ctx.Err())
	}
}

// DailySummary summarizes today's realized P/L from the ledger.
func (e *Engine) DailySummary() alerting.DailySummary {
	snap := e.book.Snapshot()
	return alerting.NewDailySummary(types.DateOf(e.now()), snap.DailyPL, len(snap.Holdings))
}

// SendDailySummary logs today's summary and sends it as an alert.
func (e *Engine) SendDailySummary(ctx context.Context) {
	s := e.DailySummary()
	e.logger.Info("daily summary",
		"date", s.Date,
		"realized_pl", s.RealizedPL.StringFixed(2),
		"closes", s.Entries,
		"open_holdings", s.OpenHoldings,
	)
	e.notifier.Notify(ctx, alerting.EventDailySummary, s.Text(),
		"date", s.Date,
		"realized_pl", s.RealizedPL.StringFixed(2),
		"closes", s.Entries,
	)
}
