// Package persistence provides ledger stores and the order journal.
package persistence

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/tathienbao/signal-trader/internal/ledger"
	"github.com/tathienbao/signal-trader/internal/types"
)

// Journal records every order the bot submits and its last observed outcome.
type Journal interface {
	RecordOrder(ctx context.Context, order OrderRecord) error
	UpdateOrder(ctx context.Context, brokerOrderID string, status types.OrderStatus, filledQty, avgPrice decimal.Decimal) error
	RecentOrders(ctx context.Context, limit int) ([]OrderRecord, error)
}

// OrderRecord represents a journaled order.
type OrderRecord struct {
	ID            int64
	ClientOrderID string
	BrokerOrderID string
	Asset         string
	Kind          types.AssetKind
	Side          types.Side
	OrderType     types.OrderType
	Quantity      decimal.Decimal
	LimitPrice    decimal.Decimal
	Status        types.OrderStatus
	FilledQty     decimal.Decimal
	AvgFillPrice  decimal.Decimal
	Fallback      bool // market order submitted after a sell limit timed out
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// Config selects and configures a backend.
type Config struct {
	Type string // json, sqlite or postgres
	Path string // file path for json and sqlite
	DSN  string // postgres connection string
}

// Open returns the configured ledger store and, for database backends, the order journal.
// The journal is nil for the JSON backend.
func Open(ctx context.Context, cfg Config) (ledger.Store, Journal, error) {
	switch strings.ToLower(cfg.Type) {
	case "", "json":
		return NewJSONFileStore(cfg.Path), nil, nil
	case "sqlite":
		s, err := NewSQLiteStore(cfg.Path)
		if err != nil {
			return nil, nil, err
		}
		return s, s, nil
	case "postgres":
		s, err := NewPostgresStore(ctx, cfg.DSN)
		if err != nil {
			return nil, nil, err
		}
		return s, s, nil
	default:
		return nil, nil, fmt.Errorf("%w: unknown persistence type %q", types.ErrInvalidConfig, cfg.Type)
	}
}
