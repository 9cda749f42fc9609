package alerting

import (
	"strings"
	"testing"

	"github.com/shopspring/decimal"

	"github.com/tathienbao/signal-trader/internal/types"
)

func entry(date, asset, pl string) types.PlEntry {
	return types.PlEntry{
		Date:       date,
		Asset:      asset,
		Qty:        decimal.NewFromInt(1),
		RealizedPL: decimal.RequireFromString(pl),
	}
}

func TestNewDailySummary(t *testing.T) {
	entries := []types.PlEntry{
		entry("2026-10-14", "OLD", "999"),
		entry("2026-10-15", "AAPL", "80"),
		entry("2026-10-15", "NVDA", "-30.5"),
		entry("2026-10-15", "AAPL 150C 08/16", "120"),
		entry("2026-10-15", "MSFT", "0"),
	}

	summary := NewDailySummary("2026-10-15", entries, 2)

	if summary.Entries != 4 {
		t.Errorf("Entries = %d, want 4", summary.Entries)
	}
	if !summary.RealizedPL.Equal(decimal.RequireFromString("169.5")) {
		t.Errorf("RealizedPL = %s, want 169.5", summary.RealizedPL)
	}
	if summary.Winners != 2 || summary.Losers != 1 {
		t.Errorf("winners/losers = %d/%d, want 2/1", summary.Winners, summary.Losers)
	}
	if !summary.WinRate.Equal(decimal.NewFromInt(50)) {
		t.Errorf("WinRate = %s, want 50", summary.WinRate)
	}
	if summary.Best.Asset != "AAPL 150C 08/16" {
		t.Errorf("Best = %s", summary.Best.Asset)
	}
	if summary.Worst.Asset != "NVDA" {
		t.Errorf("Worst = %s", summary.Worst.Asset)
	}
	if summary.OpenHoldings != 2 {
		t.Errorf("OpenHoldings = %d, want 2", summary.OpenHoldings)
	}

	text := summary.Text()
	for _, want := range []string{"2026-10-15", "$169.50", "wins 2, losses 1", "Best: AAPL 150C 08/16 $120.00", "Open holdings: 2"} {
		if !strings.Contains(text, want) {
			t.Errorf("Text() missing %q:\n%s", want, text)
		}
	}
}

func TestNewDailySummary_NoEntries(t *testing.T) {
	summary := NewDailySummary("2026-10-15", nil, 0)

	if summary.Entries != 0 {
		t.Errorf("Entries = %d, want 0", summary.Entries)
	}
	if !summary.RealizedPL.IsZero() || !summary.WinRate.IsZero() {
		t.Errorf("expected zero P/L and win rate, got %s / %s", summary.RealizedPL, summary.WinRate)
	}
	if strings.Contains(summary.Text(), "Best:") {
		t.Error("Text() should omit best/worst without entries")
	}
}

func TestNewDailySummary_NegativeDay(t *testing.T) {
	entries := []types.PlEntry{
		entry("2026-10-15", "TSLA", "-200"),
		entry("2026-10-15", "SPY", "-15"),
	}

	summary := NewDailySummary("2026-10-15", entries, 0)

	if !summary.RealizedPL.Equal(decimal.NewFromInt(-215)) {
		t.Errorf("RealizedPL = %s, want -215", summary.RealizedPL)
	}
	if summary.Best.Asset != "SPY" || summary.Worst.Asset != "TSLA" {
		t.Errorf("best/worst = %s/%s, want SPY/TSLA", summary.Best.Asset, summary.Worst.Asset)
	}
	if !strings.Contains(formatDailySummary(Alert{Event: EventDailySummary, Message: summary.Text()}), "📉") {
		t.Error("negative day should use the down emoji")
	}
}
