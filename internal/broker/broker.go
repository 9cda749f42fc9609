// Package broker defines the brokerage collaborator the dispatcher and monitors depend on.
package broker

import (
	"context"
	"errors"
	"strings"

	"github.com/shopspring/decimal"
	"github.com/tathienbao/signal-trader/internal/types"
)

// Common broker errors.
var (
	ErrNotConnected = errors.New("broker not connected")
	ErrUnauthorized = errors.New("broker rejected credentials")
	ErrRateLimited  = errors.New("rate limited by broker")
)

// ConnectionState represents the broker connection state.
type ConnectionState int

const (
	StateDisconnected ConnectionState = iota
	StateConnecting
	StateConnected
	StateError
)

func (s ConnectionState) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateError:
		return "error"
	default:
		return "unknown"
	}
}

// Instrument is a resolved, tradeable handle. Option is set for option contracts.
type Instrument struct {
	ID     string
	Symbol string
	Kind   types.AssetKind
	Option types.OptionSpec
}

// Brokerage is the set of operations the core needs from a broker.
type Brokerage interface {
	// FindInstrument resolves a stock symbol. Fails with types.ErrInstrumentNotFound.
	FindInstrument(ctx context.Context, symbol string) (Instrument, error)
	// FindOptionContract resolves an option contract. Fails with types.ErrInstrumentNotFound.
	FindOptionContract(ctx context.Context, symbol string, spec types.OptionSpec) (Instrument, error)
	// QuoteMid returns the bid/ask mid, or last close; zero if nothing is available. It never fails.
	QuoteMid(ctx context.Context, inst Instrument) decimal.Decimal

	PlaceMarketOrder(ctx context.Context, inst Instrument, qty decimal.Decimal, side types.Side, tif types.TimeInForce) (string, error)
	PlaceLimitOrder(ctx context.Context, inst Instrument, qty decimal.Decimal, side types.Side, limit decimal.Decimal, tif types.TimeInForce) (string, error)
	CancelOrder(ctx context.Context, orderID string) error
	GetOrderStatus(ctx context.Context, orderID string) (types.OrderInfo, error)

	// ListPositions returns the broker's authoritative holdings.
	ListPositions(ctx context.Context) ([]types.Holding, error)
}

// NormalizeStatus maps a raw broker status code to the order state machine.
// Unrecognized codes map to OrderStatusUnknown.
func NormalizeStatus(raw string) types.OrderStatus {
	switch strings.ToUpper(strings.TrimSpace(raw)) {
	case "WORKING", "OPEN", "PENDING", "SUBMITTED":
		return types.OrderStatusWorking
	case "PARTIALLY_FILLED", "PARTIAL":
		return types.OrderStatusPartiallyFilled
	case "FILLED":
		return types.OrderStatusFilled
	case "CANCELED", "CANCELLED":
		return types.OrderStatusCanceled
	case "REJECTED", "FAILED":
		return types.OrderStatusRejected
	default:
		return types.OrderStatusUnknown
	}
}

// SanitizeSymbol trims and upper-cases a ticker before resolution.
func SanitizeSymbol(symbol string) string {
	return strings.ToUpper(strings.TrimSpace(symbol))
}
