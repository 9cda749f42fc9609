package alerting

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/tathienbao/signal-trader/internal/types"
)

// DailySummary contains the realized P/L statistics for one trading day.
type DailySummary struct {
	Date         string
	RealizedPL   decimal.Decimal
	Entries      int
	Winners      int
	Losers       int
	WinRate      decimal.Decimal
	Best         types.PlEntry
	Worst        types.PlEntry
	OpenHoldings int
}

// NewDailySummary summarizes the entries booked on date.
func NewDailySummary(date string, entries []types.PlEntry, openHoldings int) DailySummary {
	s := DailySummary{Date: date, OpenHoldings: openHoldings}

	for _, e := range entries {
		if e.Date != date {
			continue
		}
		if s.Entries == 0 || e.RealizedPL.GreaterThan(s.Best.RealizedPL) {
			s.Best = e
		}
		if s.Entries == 0 || e.RealizedPL.LessThan(s.Worst.RealizedPL) {
			s.Worst = e
		}
		s.Entries++
		s.RealizedPL = s.RealizedPL.Add(e.RealizedPL)

		switch {
		case e.RealizedPL.IsPositive():
			s.Winners++
		case e.RealizedPL.IsNegative():
			s.Losers++
		}
	}

	if s.Entries > 0 {
		s.WinRate = decimal.NewFromInt(int64(s.Winners)).
			Div(decimal.NewFromInt(int64(s.Entries))).
			Mul(decimal.NewFromInt(100))
	}

	return s
}

// Text renders the summary as plain text.
func (s DailySummary) Text() string {
	var b strings.Builder
	fmt.Fprintf(&b, "Daily summary %s\n", s.Date)
	fmt.Fprintf(&b, "Realized P/L: $%s\n", s.RealizedPL.StringFixed(2))
	fmt.Fprintf(&b, "Closes: %d (wins %d, losses %d, win rate %s%%)\n", s.Entries, s.Winners, s.Losers, s.WinRate.StringFixed(1))
	if s.Entries > 0 {
		fmt.Fprintf(&b, "Best: %s $%s\n", s.Best.Asset, s.Best.RealizedPL.StringFixed(2))
		fmt.Fprintf(&b, "Worst: %s $%s\n", s.Worst.Asset, s.Worst.RealizedPL.StringFixed(2))
	}
	fmt.Fprintf(&b, "Open holdings: %d", s.OpenHoldings)
	return b.String()
}
