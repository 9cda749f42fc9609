// Package types defines shared types used across the trading system.
package types

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Numeric tolerances used when matching and reducing positions.
var (
	// StrikeTolerance is the maximum strike difference for two option keys to match.
	StrikeTolerance = decimal.New(1, -6)
	// QuantityEpsilon is the remaining share quantity at or below which a stock holding is removed.
	QuantityEpsilon = decimal.New(1, -9)
	// OptionMultiplier is the number of shares per option contract.
	OptionMultiplier = decimal.NewFromInt(100)
)

// Action represents the trading intent of a signal.
type Action int

const (
	ActionBuyToOpen Action = iota
	ActionSellToClose
)

func (a Action) String() string {
	switch a {
	case ActionBuyToOpen:
		return "BTO"
	case ActionSellToClose:
		return "STC"
	default:
		return "UNKNOWN"
	}
}

// Side returns the order side that executes the action.
func (a Action) Side() Side {
	if a == ActionSellToClose {
		return SideSell
	}
	return SideBuy
}

// Side represents the direction of an order.
type Side int

const (
	SideBuy Side = iota
	SideSell
)

func (s Side) String() string {
	switch s {
	case SideBuy:
		return "BUY"
	case SideSell:
		return "SELL"
	default:
		return "UNKNOWN"
	}
}

// OrderType represents how an order is priced.
type OrderType int

const (
	OrderTypeMarket OrderType = iota
	OrderTypeLimit
)

func (t OrderType) String() string {
	switch t {
	case OrderTypeMarket:
		return "MARKET"
	case OrderTypeLimit:
		return "LIMIT"
	default:
		return "UNKNOWN"
	}
}

// TimeInForce is the order validity policy.
type TimeInForce int

const (
	TIFDay TimeInForce = iota
	TIFGoodTillCancel
)

func (t TimeInForce) String() string {
	if t == TIFGoodTillCancel {
		return "GTC"
	}
	return "DAY"
}

// ParseTimeInForce maps "GTC" (any case) to TIFGoodTillCancel and anything else to TIFDay.
func ParseTimeInForce(s string) TimeInForce {
	if strings.EqualFold(strings.TrimSpace(s), "GTC") {
		return TIFGoodTillCancel
	}
	return TIFDay
}

// AssetKind tags the variant of a signal or holding.
type AssetKind int

const (
	AssetStock AssetKind = iota
	AssetOption
)

func (k AssetKind) String() string {
	switch k {
	case AssetStock:
		return "stock"
	case AssetOption:
		return "option"
	default:
		return "unknown"
	}
}

// MarshalText implements encoding.TextMarshaler.
func (k AssetKind) MarshalText() ([]byte, error) {
	switch k {
	case AssetStock, AssetOption:
		return []byte(k.String()), nil
	default:
		return nil, fmt.Errorf("invalid asset kind %d", int(k))
	}
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (k *AssetKind) UnmarshalText(b []byte) error {
	switch strings.ToLower(string(b)) {
	case "stock":
		*k = AssetStock
	case "option":
		*k = AssetOption
	default:
		return fmt.Errorf("invalid asset kind %q", string(b))
	}
	return nil
}

// CallPut is the option right, always stored upper case.
type CallPut byte

const (
	Call CallPut = 'C'
	Put  CallPut = 'P'
)

func (c CallPut) String() string {
	return string(rune(c))
}

// ParseCallPut accepts "C", "P", "CALL", "PUT" in any case.
func ParseCallPut(s string) (CallPut, bool) {
	s = strings.ToUpper(strings.TrimSpace(s))
	if s == "" {
		return 0, false
	}
	switch s[0] {
	case 'C':
		return Call, true
	case 'P':
		return Put, true
	default:
		return 0, false
	}
}

// MarshalText implements encoding.TextMarshaler.
func (c CallPut) MarshalText() ([]byte, error) {
	if c != Call && c != Put {
		return nil, fmt.Errorf("invalid call/put %q", rune(c))
	}
	return []byte{byte(c)}, nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (c *CallPut) UnmarshalText(b []byte) error {
	cp, ok := ParseCallPut(string(b))
	if !ok {
		return fmt.Errorf("invalid call/put %q", string(b))
	}
	*c = cp
	return nil
}

// OptionSpec identifies an option contract on an underlying.
type OptionSpec struct {
	Strike  decimal.Decimal `json:"strike"`
	CallPut CallPut         `json:"call_put"`
	Expiry  string          `json:"expiry"` // MM/DD as captured, or MMDD from the broker
}

// Matches reports whether two specs name the same contract.
// Strikes compare within StrikeTolerance and expiries compare by their digits.
func (o OptionSpec) Matches(other OptionSpec) bool {
	return o.Strike.Sub(other.Strike).Abs().LessThan(StrikeTolerance) &&
		o.CallPut == other.CallPut &&
		ExpiryDigits(o.Expiry) == ExpiryDigits(other.Expiry)
}

func (o OptionSpec) String() string {
	return fmt.Sprintf("%s%s %s", o.Strike.String(), o.CallPut, o.Expiry)
}

// ExpiryDigits strips everything but digits, so "08/16" and "0816" compare equal.
func ExpiryDigits(s string) string {
	var b strings.Builder
	for _, r := range s {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// TradeSignal is a parsed order instruction. Option is meaningful only when Kind is AssetOption.
type TradeSignal struct {
	Kind       AssetKind
	Action     Action
	Symbol     string
	Quantity   int
	OrderType  OrderType
	LimitPrice decimal.NullDecimal // Valid iff OrderType is OrderTypeLimit
	Option     OptionSpec
}

// Multiplier returns the notional multiplier for the signal's asset kind.
func (s TradeSignal) Multiplier() decimal.Decimal {
	switch s.Kind {
	case AssetOption:
		return OptionMultiplier
	default:
		return decimal.NewFromInt(1)
	}
}

// Asset returns a human readable instrument label, e.g. "AAPL" or "AAPL 150C 08/16".
func (s TradeSignal) Asset() string {
	switch s.Kind {
	case AssetOption:
		return s.Symbol + " " + s.Option.String()
	default:
		return s.Symbol
	}
}

func (s TradeSignal) String() string {
	price := "m"
	if s.LimitPrice.Valid {
		price = s.LimitPrice.Decimal.String()
	}
	return fmt.Sprintf("%s %d %s @ %s", s.Action, s.Quantity, s.Asset(), price)
}

// SignalEnvelope carries a parsed signal from a message source to the dispatcher.
type SignalEnvelope struct {
	Author     string
	ChannelID  string
	Signal     TradeSignal
	ReceivedAt time.Time
}

// Holding is a position in the ledger. Shares is used for stocks, Contracts and Option for options.
type Holding struct {
	Kind      AssetKind       `json:"kind"`
	Symbol    string          `json:"symbol"`
	Shares    decimal.Decimal `json:"shares,omitzero"`
	Contracts int             `json:"contracts,omitempty"`
	Option    *OptionSpec     `json:"option,omitempty"`
	AvgCost   decimal.Decimal `json:"avg_cost"` // per share, or premium per contract (not x100)
}

// NewStockHolding returns a stock holding.
func NewStockHolding(symbol string, shares, avgCost decimal.Decimal) Holding {
	return Holding{Kind: AssetStock, Symbol: symbol, Shares: shares, AvgCost: avgCost}
}

// NewOptionHolding returns an option holding.
func NewOptionHolding(symbol string, spec OptionSpec, contracts int, avgCost decimal.Decimal) Holding {
	return Holding{Kind: AssetOption, Symbol: symbol, Contracts: contracts, Option: &spec, AvgCost: avgCost}
}

// Quantity returns shares for stocks and contracts for options.
func (h Holding) Quantity() decimal.Decimal {
	switch h.Kind {
	case AssetOption:
		return decimal.NewFromInt(int64(h.Contracts))
	default:
		return h.Shares
	}
}

// IsStock reports whether h is a stock holding for symbol (case-insensitive).
func (h Holding) IsStock(symbol string) bool {
	return h.Kind == AssetStock && strings.EqualFold(h.Symbol, symbol)
}

// IsOption reports whether h is an option holding for the given contract key.
func (h Holding) IsOption(symbol string, spec OptionSpec) bool {
	return h.Kind == AssetOption && h.Option != nil &&
		strings.EqualFold(h.Symbol, symbol) && h.Option.Matches(spec)
}

// Asset returns a human readable label for the holding.
func (h Holding) Asset() string {
	if h.Kind == AssetOption && h.Option != nil {
		return h.Symbol + " " + h.Option.String()
	}
	return h.Symbol
}

// PlEntry is an append-only realized profit/loss record.
type PlEntry struct {
	Date       string          `json:"date"` // YYYY-MM-DD, local time
	Asset      string          `json:"asset"`
	Qty        decimal.Decimal `json:"qty"`
	RealizedPL decimal.Decimal `json:"realized_pl"` // options already x100
}

// DateOf formats t as a PlEntry date.
func DateOf(t time.Time) string {
	return t.Format(time.DateOnly)
}

// OrderStatus is the normalized status of a brokerage order.
type OrderStatus int

const (
	OrderStatusUnknown OrderStatus = iota
	OrderStatusWorking
	OrderStatusPartiallyFilled
	OrderStatusFilled
	OrderStatusCanceled
	OrderStatusRejected
)

func (s OrderStatus) String() string {
	switch s {
	case OrderStatusWorking:
		return "WORKING"
	case OrderStatusPartiallyFilled:
		return "PARTIALLY_FILLED"
	case OrderStatusFilled:
		return "FILLED"
	case OrderStatusCanceled:
		return "CANCELED"
	case OrderStatusRejected:
		return "REJECTED"
	default:
		return "UNKNOWN"
	}
}

// IsFinal returns true if the order is in a terminal state.
func (s OrderStatus) IsFinal() bool {
	switch s {
	case OrderStatusFilled, OrderStatusCanceled, OrderStatusRejected:
		return true
	default:
		return false
	}
}

// OrderInfo is a point-in-time view of an order's status and fills.
type OrderInfo struct {
	OrderID      string
	Status       OrderStatus
	RawStatus    string // broker code, kept for Unknown statuses
	FilledQty    decimal.Decimal
	AvgFillPrice decimal.Decimal
}
