package persistence

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
	"github.com/tathienbao/signal-trader/internal/ledger"
	"github.com/tathienbao/signal-trader/internal/types"
)

// PostgresStore implements ledger.Store and Journal using PostgreSQL.
// The ledger is kept as a single JSONB snapshot row.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore connects to dsn and migrates the schema.
func NewPostgresStore(ctx context.Context, dsn string) (*PostgresStore, error) {
	poolCfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("postgres: parse config: %w", err)
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("postgres: connect: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres: ping: %w", err)
	}

	store := &PostgresStore{pool: pool}
	if err := store.Migrate(ctx); err != nil {
		pool.Close()
		return nil, err
	}

	return store, nil
}

// Migrate creates the tables if they do not exist.
func (s *PostgresStore) Migrate(ctx context.Context) error {
	migrations := []string{
		`CREATE TABLE IF NOT EXISTS ledger_snapshot (
			id INTEGER PRIMARY KEY CHECK (id = 1),
			holdings JSONB NOT NULL,
			daily_pl JSONB NOT NULL,
			saved_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`,
		`CREATE TABLE IF NOT EXISTS orders (
			id BIGSERIAL PRIMARY KEY,
			client_order_id TEXT UNIQUE NOT NULL,
			broker_order_id TEXT NOT NULL,
			asset TEXT NOT NULL,
			kind TEXT NOT NULL,
			side INTEGER NOT NULL,
			order_type INTEGER NOT NULL,
			quantity TEXT NOT NULL,
			limit_price TEXT NOT NULL DEFAULT '0',
			status INTEGER NOT NULL,
			filled_qty TEXT NOT NULL DEFAULT '0',
			avg_fill_price TEXT NOT NULL DEFAULT '0',
			fallback BOOLEAN NOT NULL DEFAULT FALSE,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`,
		`CREATE INDEX IF NOT EXISTS idx_orders_broker_order_id ON orders(broker_order_id)`,
	}

	for _, m := range migrations {
		if _, err := s.pool.Exec(ctx, m); err != nil {
			return fmt.Errorf("postgres: migrate: %w", err)
		}
	}
	return nil
}

// Load reads the ledger snapshot.
func (s *PostgresStore) Load(ctx context.Context) (*ledger.State, error) {
	var holdings, dailyPL []byte
	err := s.pool.QueryRow(ctx, `SELECT holdings, daily_pl FROM ledger_snapshot WHERE id = 1`).Scan(&holdings, &dailyPL)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("postgres: load ledger: %w", types.ErrStateNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("postgres: load ledger: %w", err)
	}

	state := ledger.NewState()
	if err := json.Unmarshal(holdings, &state.Holdings); err != nil {
		return nil, fmt.Errorf("postgres: decode holdings: %w", err)
	}
	if err := json.Unmarshal(dailyPL, &state.DailyPL); err != nil {
		return nil, fmt.Errorf("postgres: decode daily pl: %w", err)
	}
	if state.Holdings == nil {
		state.Holdings = []types.Holding{}
	}
	if state.DailyPL == nil {
		state.DailyPL = []types.PlEntry{}
	}

	return state, nil
}

// Save upserts the ledger snapshot.
func (s *PostgresStore) Save(ctx context.Context, state *ledger.State) error {
	holdings, err := json.Marshal(state.Holdings)
	if err != nil {
		return fmt.Errorf("postgres: encode holdings: %w", err)
	}
	dailyPL, err := json.Marshal(state.DailyPL)
	if err != nil {
		return fmt.Errorf("postgres: encode daily pl: %w", err)
	}

	const query = `
		INSERT INTO ledger_snapshot (id, holdings, daily_pl, saved_at)
		VALUES (1, $1, $2, NOW())
		ON CONFLICT (id) DO UPDATE SET
			holdings = EXCLUDED.holdings,
			daily_pl = EXCLUDED.daily_pl,
			saved_at = NOW()`

	if _, err := s.pool.Exec(ctx, query, holdings, dailyPL); err != nil {
		return fmt.Errorf("postgres: save ledger: %w", err)
	}
	return nil
}

// RecordOrder journals a submitted order.
func (s *PostgresStore) RecordOrder(ctx context.Context, o OrderRecord) error {
	const query = `
		INSERT INTO orders (
			client_order_id, broker_order_id, asset, kind, side, order_type,
			quantity, limit_price, status, filled_qty, avg_fill_price, fallback
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`

	_, err := s.pool.Exec(ctx, query,
		o.ClientOrderID, o.BrokerOrderID, o.Asset, o.Kind.String(), int(o.Side), int(o.OrderType),
		o.Quantity.String(), o.LimitPrice.String(), int(o.Status),
		o.FilledQty.String(), o.AvgFillPrice.String(), o.Fallback,
	)
	if err != nil {
		return fmt.Errorf("postgres: insert order: %w", err)
	}
	return nil
}

// UpdateOrder stores the last observed status and fill of an order.
func (s *PostgresStore) UpdateOrder(ctx context.Context, brokerOrderID string, status types.OrderStatus, filledQty, avgPrice decimal.Decimal) error {
	const query = `
		UPDATE orders SET status = $1, filled_qty = $2, avg_fill_price = $3, updated_at = NOW()
		WHERE broker_order_id = $4`

	tag, err := s.pool.Exec(ctx, query, int(status), filledQty.String(), avgPrice.String(), brokerOrderID)
	if err != nil {
		return fmt.Errorf("postgres: update order: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("postgres: update order %s: %w", brokerOrderID, types.ErrOrderNotFound)
	}
	return nil
}

// RecentOrders returns the newest orders first.
func (s *PostgresStore) RecentOrders(ctx context.Context, limit int) ([]OrderRecord, error) {
	const query = `
		SELECT id, client_order_id, broker_order_id, asset, kind, side, order_type,
			quantity, limit_price, status, filled_qty, avg_fill_price,
			fallback, created_at, updated_at
		FROM orders ORDER BY id DESC LIMIT $1`

	rows, err := s.pool.Query(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("postgres: query orders: %w", err)
	}
	defer rows.Close()

	var orders []OrderRecord
	for rows.Next() {
		var o OrderRecord
		var kind, qty, limitPrice, filledQty, avgPrice string
		var side, orderType, status int

		if err := rows.Scan(&o.ID, &o.ClientOrderID, &o.BrokerOrderID, &o.Asset, &kind, &side, &orderType,
			&qty, &limitPrice, &status, &filledQty, &avgPrice, &o.Fallback, &o.CreatedAt, &o.UpdatedAt); err != nil {
			return nil, fmt.Errorf("postgres: scan order: %w", err)
		}

		_ = o.Kind.UnmarshalText([]byte(kind))
		o.Side = types.Side(side)
		o.OrderType = types.OrderType(orderType)
		o.Status = types.OrderStatus(status)
		o.Quantity, _ = decimal.NewFromString(qty)
		o.LimitPrice, _ = decimal.NewFromString(limitPrice)
		o.FilledQty, _ = decimal.NewFromString(filledQty)
		o.AvgFillPrice, _ = decimal.NewFromString(avgPrice)

		orders = append(orders, o)
	}

	return orders, rows.Err()
}

// Close shuts down the connection pool.
func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}
