// Package parser turns free-form chat messages into trade signals.
package parser

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/tathienbao/signal-trader/internal/types"
)

// Grammar, case-insensitive, whole message after trimming:
//
//	ACTION [QTY] SYMBOL STRIKE C|P MM/DD @ PRICE
//	ACTION [QTY] SYMBOL @ PRICE
//
// PRICE is "m" for market or a decimal limit. QTY defaults to 1.
var (
	optionWithQty = regexp.MustCompile(`(?i)^(BTO|STC)\s+(\d+)\s+([A-Z]{1,6})\s+(\d+(?:\.\d+)?)\s*([CP])\s+(\d{2}/\d{2})\s+@\s*(m|[\d.]+)$`)
	optionNoQty   = regexp.MustCompile(`(?i)^(BTO|STC)\s+([A-Z]{1,6})\s+(\d+(?:\.\d+)?)\s*([CP])\s+(\d{2}/\d{2})\s+@\s*(m|[\d.]+)$`)
	stockWithQty  = regexp.MustCompile(`(?i)^(BTO|STC)\s+(\d+)\s+([A-Z]{1,6})\s+@\s*(m|[\d.]+)$`)
	stockNoQty    = regexp.MustCompile(`(?i)^(BTO|STC)\s+([A-Z]{1,6})\s+@\s*(m|[\d.]+)$`)
)

// Parse recognizes a trade signal in text. It returns false for anything that
// does not match the grammar, including prices or quantities that fail to parse.
// The symbol keeps the case it was written in.
func Parse(text string) (types.TradeSignal, bool) {
	text = strings.TrimSpace(text)

	if m := optionWithQty.FindStringSubmatch(text); m != nil {
		return buildOption(m[1], m[2], m[3], m[4], m[5], m[6], m[7])
	}
	if m := optionNoQty.FindStringSubmatch(text); m != nil {
		return buildOption(m[1], "", m[2], m[3], m[4], m[5], m[6])
	}
	if m := stockWithQty.FindStringSubmatch(text); m != nil {
		return buildStock(m[1], m[2], m[3], m[4])
	}
	if m := stockNoQty.FindStringSubmatch(text); m != nil {
		return buildStock(m[1], "", m[2], m[3])
	}
	return types.TradeSignal{}, false
}

func buildStock(action, qty, symbol, price string) (types.TradeSignal, bool) {
	sig, ok := base(action, qty, symbol, price)
	if !ok {
		return types.TradeSignal{}, false
	}
	sig.Kind = types.AssetStock
	return sig, true
}

func buildOption(action, qty, symbol, strike, cp, expiry, price string) (types.TradeSignal, bool) {
	sig, ok := base(action, qty, symbol, price)
	if !ok {
		return types.TradeSignal{}, false
	}

	k, err := decimal.NewFromString(strike)
	if err != nil {
		return types.TradeSignal{}, false
	}
	right, ok := types.ParseCallPut(cp)
	if !ok {
		return types.TradeSignal{}, false
	}

	sig.Kind = types.AssetOption
	sig.Option = types.OptionSpec{Strike: k, CallPut: right, Expiry: expiry}
	return sig, true
}

func base(action, qty, symbol, price string) (types.TradeSignal, bool) {
	var sig types.TradeSignal

	switch strings.ToUpper(action) {
	case "BTO":
		sig.Action = types.ActionBuyToOpen
	case "STC":
		sig.Action = types.ActionSellToClose
	default:
		return sig, false
	}

	sig.Quantity = 1
	if qty != "" {
		n, err := strconv.Atoi(qty)
		if err != nil || n <= 0 {
			return sig, false
		}
		sig.Quantity = n
	}

	sig.Symbol = symbol

	if strings.EqualFold(price, "m") {
		sig.OrderType = types.OrderTypeMarket
		return sig, true
	}

	p, err := decimal.NewFromString(price)
	if err != nil {
		return sig, false
	}
	sig.OrderType = types.OrderTypeLimit
	sig.LimitPrice = decimal.NewNullDecimal(p)
	return sig, true
}
