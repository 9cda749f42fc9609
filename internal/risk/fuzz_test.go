package risk

import (
	"errors"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/tathienbao/signal-trader/internal/types"
)

// FuzzCheckNotional tests that every buy over the cap is rejected and every buy under it passes.
func FuzzCheckNotional(f *testing.F) {
	f.Add("150.00", 10, "5000", true)
	f.Add("2.50", 3, "1000", false)
	f.Add("0.01", 1, "0.01", true)
	f.Add("999999.99", 100, "1", false)

	f.Fuzz(func(t *testing.T, priceStr string, qty int, capStr string, option bool) {
		price, err := decimal.NewFromString(priceStr)
		if err != nil || !price.IsPositive() {
			return
		}
		maxValue, err := decimal.NewFromString(capStr)
		if err != nil || maxValue.IsNegative() {
			return
		}
		if qty <= 0 || qty > 1_000_000 {
			return
		}

		sig := stockSignal(types.ActionBuyToOpen, qty)
		if option {
			sig = optionSignal(types.ActionBuyToOpen, qty)
		}

		engine := NewEngine(Config{MaxPositionValue: maxValue, RejectUnpriced: true}, nil)
		err = engine.Check(sig, price, stubPositions{})

		over := Notional(sig, price).GreaterThan(maxValue)
		if over && !errors.Is(err, types.ErrNotionalExceeded) {
			t.Errorf("notional over cap accepted: price=%s qty=%d cap=%s", price, qty, maxValue)
		}
		if !over && err != nil {
			t.Errorf("notional under cap rejected: %v", err)
		}
	})
}
