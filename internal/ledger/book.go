package ledger

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"github.com/shopspring/decimal"
	"github.com/tathienbao/signal-trader/internal/types"
)

// Store persists ledger snapshots.
type Store interface {
	// Load returns the last saved state, or an error wrapping types.ErrStateNotFound.
	Load(ctx context.Context) (*State, error)
	// Save writes the full state. It must not retain s.
	Save(ctx context.Context, s *State) error
	Close() error
}

// Book is the shared ledger. Every read and write takes a single lock held only
// for that operation, and every mutation is persisted before the lock is released.
// Persistence failures are logged; the in-memory state stays authoritative.
type Book struct {
	mu     sync.Mutex
	state  *State
	store  Store
	logger *slog.Logger
}

// NewBook wraps an existing state. store may be nil for an in-memory ledger.
func NewBook(state *State, store Store, logger *slog.Logger) *Book {
	if logger == nil {
		logger = slog.Default()
	}
	if state == nil {
		state = NewState()
	}

	return &Book{
		state:  state,
		store:  store,
		logger: logger,
	}
}

// Open loads the ledger from store. A missing or unreadable snapshot yields an empty ledger.
func Open(ctx context.Context, store Store, logger *slog.Logger) *Book {
	if logger == nil {
		logger = slog.Default()
	}

	state, err := store.Load(ctx)
	switch {
	case errors.Is(err, types.ErrStateNotFound), err == nil && state == nil:
		logger.Info("no saved ledger, starting empty")
		state = NewState()
	case err != nil:
		logger.Warn("ledger unreadable, starting empty", "error", err)
		state = NewState()
	default:
		logger.Info("ledger loaded",
			"holdings", len(state.Holdings),
			"pl_entries", len(state.DailyPL),
		)
	}

	return NewBook(state, store, logger)
}

// View runs fn with the lock held. fn must not retain s or call back into the Book.
func (b *Book) View(fn func(s *State)) {
	b.mu.Lock()
	defer b.mu.Unlock()
	fn(b.state)
}

// Snapshot returns a deep copy of the current state.
func (b *Book) Snapshot() *State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state.Clone()
}

// ApplyStockBuy records a stock buy fill.
func (b *Book) ApplyStockBuy(ctx context.Context, symbol string, qty, price decimal.Decimal) {
	b.mutate(ctx, func(s *State) {
		s.UpsertStockBuy(symbol, qty, price)
	})
}

// ApplyOptionBuy records an option buy fill.
func (b *Book) ApplyOptionBuy(ctx context.Context, symbol string, spec types.OptionSpec, qty int, price decimal.Decimal) {
	b.mutate(ctx, func(s *State) {
		s.UpsertOptionBuy(symbol, spec, qty, price)
	})
}

// RealizeStockSell records a stock sell fill and returns the realized P/L.
func (b *Book) RealizeStockSell(ctx context.Context, symbol string, qty, price decimal.Decimal, date string) (decimal.Decimal, bool) {
	var (
		realized decimal.Decimal
		found    bool
	)
	b.mutate(ctx, func(s *State) {
		realized, found = s.RealizeStockSell(symbol, qty, price, date)
	})
	return realized, found
}

// RealizeOptionSell records an option sell fill and returns the realized P/L.
func (b *Book) RealizeOptionSell(ctx context.Context, symbol string, spec types.OptionSpec, qty int, price decimal.Decimal, date string) (decimal.Decimal, bool) {
	var (
		realized decimal.Decimal
		found    bool
	)
	b.mutate(ctx, func(s *State) {
		realized, found = s.RealizeOptionSell(symbol, spec, qty, price, date)
	})
	return realized, found
}

// SetHoldings replaces all holdings with a broker snapshot.
func (b *Book) SetHoldings(ctx context.Context, holdings []types.Holding) {
	b.mutate(ctx, func(s *State) {
		s.SetHoldings(holdings)
	})
}

// Flush persists the current state.
func (b *Book) Flush(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.store == nil {
		return nil
	}
	return b.store.Save(ctx, b.state)
}

func (b *Book) mutate(ctx context.Context, fn func(s *State)) {
	b.mu.Lock()
	defer b.mu.Unlock()

	fn(b.state)

	if b.store == nil {
		return
	}
	if err := b.store.Save(ctx, b.state); err != nil {
		b.logger.Error("failed to persist ledger", "error", err)
	}
}
