package risk

import (
	"fmt"
	"log/slog"

	"github.com/shopspring/decimal"
	"github.com/tathienbao/signal-trader/internal/types"
)

// Config holds the risk engine configuration.
type Config struct {
	MaxPositionValue decimal.Decimal // notional cap per order, in account currency
	RejectUnpriced   bool            // reject signals whose estimated price is zero
}

// DefaultConfig returns a conservative default configuration.
func DefaultConfig() Config {
	return Config{
		MaxPositionValue: decimal.NewFromInt(5000),
		RejectUnpriced:   true,
	}
}

// Positions is the read-only ledger view the engine checks closes against.
type Positions interface {
	PositionQtyStock(symbol string) decimal.Decimal
	PositionQtyOption(symbol string, spec types.OptionSpec) int
}

// Engine performs pre-trade checks.
// It holds no mutable state; callers serialize access to the Positions they pass.
type Engine struct {
	cfg    Config
	logger *slog.Logger
}

// NewEngine creates a new risk engine.
func NewEngine(cfg Config, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}

	return &Engine{
		cfg:    cfg,
		logger: logger,
	}
}

// Check validates a signal against the notional cap and, for closes, the held quantity.
// Rejections wrap types.ErrRiskRejected together with the specific reason.
func (e *Engine) Check(sig types.TradeSignal, estPrice decimal.Decimal, pos Positions) error {
	if e.cfg.RejectUnpriced && !estPrice.IsPositive() {
		return fmt.Errorf("%w: %w: %s", types.ErrRiskRejected, types.ErrUnpricedSignal, sig.Asset())
	}

	notional := Notional(sig, estPrice)
	if notional.GreaterThan(e.cfg.MaxPositionValue) {
		return fmt.Errorf("%w: %w: notional %s > max %s",
			types.ErrRiskRejected, types.ErrNotionalExceeded,
			notional.StringFixed(2), e.cfg.MaxPositionValue.StringFixed(2))
	}

	if sig.Action == types.ActionSellToClose {
		if err := checkHeld(sig, pos); err != nil {
			return err
		}
	}

	e.logger.Debug("risk check passed",
		"symbol", sig.Symbol,
		"action", sig.Action,
		"notional", notional,
	)
	return nil
}

// Notional returns price x quantity, times the contract multiplier for options.
func Notional(sig types.TradeSignal, price decimal.Decimal) decimal.Decimal {
	return price.Mul(decimal.NewFromInt(int64(sig.Quantity))).Mul(sig.Multiplier())
}

func checkHeld(sig types.TradeSignal, pos Positions) error {
	switch sig.Kind {
	case types.AssetStock:
		held := pos.PositionQtyStock(sig.Symbol)
		want := decimal.NewFromInt(int64(sig.Quantity))
		if held.Add(types.QuantityEpsilon).LessThan(want) {
			return fmt.Errorf("%w: %w: hold %s %s, want to sell %s",
				types.ErrRiskRejected, types.ErrInsufficientPosition, held, sig.Symbol, want)
		}
	case types.AssetOption:
		held := pos.PositionQtyOption(sig.Symbol, sig.Option)
		if held < sig.Quantity {
			return fmt.Errorf("%w: %w: hold %d %s, want to sell %d",
				types.ErrRiskRejected, types.ErrInsufficientPosition, held, sig.Asset(), sig.Quantity)
		}
	default:
		return fmt.Errorf("%w: unknown asset kind %v", types.ErrRiskRejected, sig.Kind)
	}
	return nil
}
