// Package ledger holds the position ledger: holdings with weighted-average cost
// and the append-only realized P/L history.
package ledger

import (
	"strings"

	"github.com/shopspring/decimal"
	"github.com/tathienbao/signal-trader/internal/types"
)

// State is the full ledger. It is not safe for concurrent use; see Book.
type State struct {
	Holdings []types.Holding `json:"holdings"`
	DailyPL  []types.PlEntry `json:"daily_pl"`
}

// NewState returns an empty ledger.
func NewState() *State {
	return &State{
		Holdings: []types.Holding{},
		DailyPL:  []types.PlEntry{},
	}
}

// Clone returns a deep copy.
func (s *State) Clone() *State {
	out := &State{
		Holdings: make([]types.Holding, len(s.Holdings)),
		DailyPL:  make([]types.PlEntry, len(s.DailyPL)),
	}
	for i, h := range s.Holdings {
		if h.Option != nil {
			spec := *h.Option
			h.Option = &spec
		}
		out.Holdings[i] = h
	}
	copy(out.DailyPL, s.DailyPL)
	return out
}

// PositionQtyStock sums shares across every stock holding for symbol.
func (s *State) PositionQtyStock(symbol string) decimal.Decimal {
	total := decimal.Zero
	for _, h := range s.Holdings {
		if h.IsStock(symbol) {
			total = total.Add(h.Shares)
		}
	}
	return total
}

// PositionQtyOption sums contracts across every holding of the given contract.
func (s *State) PositionQtyOption(symbol string, spec types.OptionSpec) int {
	total := 0
	for _, h := range s.Holdings {
		if h.IsOption(symbol, spec) {
			total += h.Contracts
		}
	}
	return total
}

// UpsertStockBuy adds a buy fill, folding it into the weighted-average cost.
// Non-positive quantities are ignored.
func (s *State) UpsertStockBuy(symbol string, qty, price decimal.Decimal) {
	if !qty.IsPositive() {
		return
	}
	for i := range s.Holdings {
		h := &s.Holdings[i]
		if !h.IsStock(symbol) {
			continue
		}
		total := h.Shares.Add(qty)
		if total.IsPositive() {
			h.AvgCost = h.AvgCost.Mul(h.Shares).Add(price.Mul(qty)).Div(total)
		}
		h.Shares = total
		return
	}
	s.Holdings = append(s.Holdings, types.NewStockHolding(strings.ToUpper(symbol), qty, price))
}

// UpsertOptionBuy adds a buy fill of whole contracts for the given contract.
// Non-positive quantities are ignored.
func (s *State) UpsertOptionBuy(symbol string, spec types.OptionSpec, qty int, price decimal.Decimal) {
	if qty <= 0 {
		return
	}
	for i := range s.Holdings {
		h := &s.Holdings[i]
		if !h.IsOption(symbol, spec) {
			continue
		}
		total := h.Contracts + qty
		if total > 0 {
			old := decimal.NewFromInt(int64(h.Contracts))
			add := decimal.NewFromInt(int64(qty))
			h.AvgCost = h.AvgCost.Mul(old).Add(price.Mul(add)).Div(decimal.NewFromInt(int64(total)))
		}
		h.Contracts = total
		return
	}
	s.Holdings = append(s.Holdings, types.NewOptionHolding(strings.ToUpper(symbol), spec, qty, price))
}

// RealizeStockSell reduces the first matching stock holding and records realized P/L.
// It returns false, and changes nothing, when no holding matches.
func (s *State) RealizeStockSell(symbol string, qty, price decimal.Decimal, date string) (decimal.Decimal, bool) {
	for i := range s.Holdings {
		h := &s.Holdings[i]
		if !h.IsStock(symbol) {
			continue
		}
		q := decimal.Min(qty, h.Shares)
		realized := price.Sub(h.AvgCost).Mul(q)
		h.Shares = h.Shares.Sub(q)
		asset := h.Symbol
		if h.Shares.LessThanOrEqual(types.QuantityEpsilon) {
			s.remove(i)
		}
		s.DailyPL = append(s.DailyPL, types.PlEntry{
			Date:       date,
			Asset:      asset,
			Qty:        q,
			RealizedPL: realized,
		})
		return realized, true
	}
	return decimal.Zero, false
}

// RealizeOptionSell reduces the first matching option holding and records realized P/L x100.
func (s *State) RealizeOptionSell(symbol string, spec types.OptionSpec, qty int, price decimal.Decimal, date string) (decimal.Decimal, bool) {
	for i := range s.Holdings {
		h := &s.Holdings[i]
		if !h.IsOption(symbol, spec) {
			continue
		}
		q := min(qty, h.Contracts)
		realized := price.Sub(h.AvgCost).Mul(decimal.NewFromInt(int64(q))).Mul(types.OptionMultiplier)
		h.Contracts -= q
		asset := h.Asset()
		if h.Contracts <= 0 {
			s.remove(i)
		}
		s.DailyPL = append(s.DailyPL, types.PlEntry{
			Date:       date,
			Asset:      asset,
			Qty:        decimal.NewFromInt(int64(q)),
			RealizedPL: realized,
		})
		return realized, true
	}
	return decimal.Zero, false
}

// SetHoldings replaces every holding with an authoritative snapshot. DailyPL is kept.
func (s *State) SetHoldings(holdings []types.Holding) {
	s.Holdings = append([]types.Holding(nil), holdings...)
	if s.Holdings == nil {
		s.Holdings = []types.Holding{}
	}
}

// RealizedOn sums realized P/L for entries dated date.
func (s *State) RealizedOn(date string) decimal.Decimal {
	total := decimal.Zero
	for _, e := range s.DailyPL {
		if e.Date == date {
			total = total.Add(e.RealizedPL)
		}
	}
	return total
}

func (s *State) remove(i int) {
	s.Holdings = append(s.Holdings[:i], s.Holdings[i+1:]...)
}
