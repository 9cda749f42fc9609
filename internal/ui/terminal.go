// Package ui renders colored terminal output for the CLI.
package ui

import (
	"os"

	"github.com/shopspring/decimal"
	"golang.org/x/term"

	"github.com/tathienbao/signal-trader/internal/types"
)

// ANSI escape codes
const (
	ColorReset  = "\033[0m"
	ColorGreen  = "\033[32m"
	ColorRed    = "\033[31m"
	ColorYellow = "\033[33m"
	ColorDim    = "\033[2m"
	ColorBold   = "\033[1m"
)

// Painter wraps text in ANSI colors when enabled.
type Painter struct {
	enabled bool
}

// NewPainter enables colors when f is a terminal and NO_COLOR is unset.
func NewPainter(f *os.File) Painter {
	_, noColor := os.LookupEnv("NO_COLOR")
	return Painter{enabled: !noColor && term.IsTerminal(int(f.Fd()))}
}

// NewPainterEnabled returns a painter with colors forced on or off.
func NewPainterEnabled(enabled bool) Painter {
	return Painter{enabled: enabled}
}

func (p Painter) paint(color, s string) string {
	if !p.enabled {
		return s
	}
	return color + s + ColorReset
}

// Bold renders s in bold.
func (p Painter) Bold(s string) string { return p.paint(ColorBold, s) }

// PL renders a dollar amount, green when positive and red when negative.
func (p Painter) PL(v decimal.Decimal) string {
	s := "$" + v.StringFixed(2)
	switch {
	case v.IsPositive():
		return p.paint(ColorGreen, "+"+s)
	case v.IsNegative():
		return p.paint(ColorRed, "-$"+v.Abs().StringFixed(2))
	default:
		return s
	}
}

// Status renders an order status: filled green, canceled or rejected red, in-flight yellow.
func (p Painter) Status(s types.OrderStatus) string {
	switch s {
	case types.OrderStatusFilled:
		return p.paint(ColorGreen, s.String())
	case types.OrderStatusCanceled, types.OrderStatusRejected:
		return p.paint(ColorRed, s.String())
	case types.OrderStatusWorking, types.OrderStatusPartiallyFilled:
		return p.paint(ColorYellow, s.String())
	default:
		return p.paint(ColorDim, s.String())
	}
}
