package persistence

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"github.com/tathienbao/signal-trader/internal/ledger"
	"github.com/tathienbao/signal-trader/internal/types"

	_ "github.com/mattn/go-sqlite3" // SQLite driver
)

// SQLiteStore implements ledger.Store and Journal using SQLite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens (or creates) the database at path and migrates it.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	// Test connection
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	store := &SQLiteStore{db: db}

	if err := store.Migrate(context.Background()); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}

	return store, nil
}

// Migrate runs database migrations.
func (r *SQLiteStore) Migrate(ctx context.Context) error {
	migrations := []string{
		`CREATE TABLE IF NOT EXISTS ledger_meta (
			id INTEGER PRIMARY KEY CHECK (id = 1),
			saved_at DATETIME NOT NULL
		)`,

		`CREATE TABLE IF NOT EXISTS holdings (
			position INTEGER PRIMARY KEY,
			kind TEXT NOT NULL,
			symbol TEXT NOT NULL,
			shares TEXT NOT NULL DEFAULT '0',
			contracts INTEGER NOT NULL DEFAULT 0,
			strike TEXT,
			call_put TEXT,
			expiry TEXT,
			avg_cost TEXT NOT NULL
		)`,

		`CREATE TABLE IF NOT EXISTS pl_entries (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			date TEXT NOT NULL,
			asset TEXT NOT NULL,
			qty TEXT NOT NULL,
			realized_pl TEXT NOT NULL,
			created_at DATETIME DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE INDEX IF NOT EXISTS idx_pl_entries_date ON pl_entries(date)`,

		`CREATE TABLE IF NOT EXISTS orders (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
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
			fallback INTEGER NOT NULL DEFAULT 0,
			created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
			updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE INDEX IF NOT EXISTS idx_orders_broker_order_id ON orders(broker_order_id)`,
	}

	for _, migration := range migrations {
		if _, err := r.db.ExecContext(ctx, migration); err != nil {
			return fmt.Errorf("execute migration: %w", err)
		}
	}

	return nil
}

// Load reads the last saved ledger.
func (r *SQLiteStore) Load(ctx context.Context) (*ledger.State, error) {
	var savedAt time.Time
	err := r.db.QueryRowContext(ctx, `SELECT saved_at FROM ledger_meta WHERE id = 1`).Scan(&savedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("query ledger meta: %w", types.ErrStateNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("query ledger meta: %w", err)
	}

	state := ledger.NewState()

	holdings, err := r.loadHoldings(ctx)
	if err != nil {
		return nil, err
	}
	state.Holdings = holdings

	entries, err := r.loadPL(ctx)
	if err != nil {
		return nil, err
	}
	state.DailyPL = entries

	return state, nil
}

func (r *SQLiteStore) loadHoldings(ctx context.Context) ([]types.Holding, error) {
	query := `SELECT kind, symbol, shares, contracts, strike, call_put, expiry, avg_cost
		FROM holdings ORDER BY position`

	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("query holdings: %w", err)
	}
	defer func() { _ = rows.Close() }()

	holdings := []types.Holding{}
	for rows.Next() {
		var h types.Holding
		var kind, shares, avgCost string
		var strike, callPut, expiry sql.NullString

		if err := rows.Scan(&kind, &h.Symbol, &shares, &h.Contracts, &strike, &callPut, &expiry, &avgCost); err != nil {
			return nil, fmt.Errorf("scan holding: %w", err)
		}
		if err := h.Kind.UnmarshalText([]byte(kind)); err != nil {
			return nil, fmt.Errorf("scan holding: %w", err)
		}
		h.Shares, _ = decimal.NewFromString(shares)
		h.AvgCost, _ = decimal.NewFromString(avgCost)

		if h.Kind == types.AssetOption {
			spec := types.OptionSpec{Expiry: expiry.String}
			spec.Strike, _ = decimal.NewFromString(strike.String)
			if err := spec.CallPut.UnmarshalText([]byte(callPut.String)); err != nil {
				return nil, fmt.Errorf("scan holding: %w", err)
			}
			h.Option = &spec
			h.Shares = decimal.Zero
		}

		holdings = append(holdings, h)
	}

	return holdings, rows.Err()
}

func (r *SQLiteStore) loadPL(ctx context.Context) ([]types.PlEntry, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT date, asset, qty, realized_pl FROM pl_entries ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("query pl entries: %w", err)
	}
	defer func() { _ = rows.Close() }()

	entries := []types.PlEntry{}
	for rows.Next() {
		var e types.PlEntry
		var qty, pl string
		if err := rows.Scan(&e.Date, &e.Asset, &qty, &pl); err != nil {
			return nil, fmt.Errorf("scan pl entry: %w", err)
		}
		e.Qty, _ = decimal.NewFromString(qty)
		e.RealizedPL, _ = decimal.NewFromString(pl)
		entries = append(entries, e)
	}

	return entries, rows.Err()
}

// Save replaces the holdings table and appends any P/L entries not yet stored.
func (r *SQLiteStore) Save(ctx context.Context, state *ledger.State) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `DELETE FROM holdings`); err != nil {
		return fmt.Errorf("clear holdings: %w", err)
	}

	insertHolding := `INSERT INTO holdings (position, kind, symbol, shares, contracts, strike, call_put, expiry, avg_cost)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`

	for i, h := range state.Holdings {
		var strike, callPut, expiry any
		if h.Option != nil {
			strike = h.Option.Strike.String()
			callPut = h.Option.CallPut.String()
			expiry = h.Option.Expiry
		}
		if _, err := tx.ExecContext(ctx, insertHolding,
			i,
			h.Kind.String(),
			h.Symbol,
			h.Shares.String(),
			h.Contracts,
			strike,
			callPut,
			expiry,
			h.AvgCost.String(),
		); err != nil {
			return fmt.Errorf("insert holding: %w", err)
		}
	}

	var stored int
	if err := tx.QueryRowContext(ctx, `SELECT COUNT(*) FROM pl_entries`).Scan(&stored); err != nil {
		return fmt.Errorf("count pl entries: %w", err)
	}
	if stored > len(state.DailyPL) {
		// History in the database is not a prefix of ours; rewrite it.
		if _, err := tx.ExecContext(ctx, `DELETE FROM pl_entries`); err != nil {
			return fmt.Errorf("clear pl entries: %w", err)
		}
		stored = 0
	}

	insertPL := `INSERT INTO pl_entries (date, asset, qty, realized_pl) VALUES (?, ?, ?, ?)`
	for _, e := range state.DailyPL[stored:] {
		if _, err := tx.ExecContext(ctx, insertPL, e.Date, e.Asset, e.Qty.String(), e.RealizedPL.String()); err != nil {
			return fmt.Errorf("insert pl entry: %w", err)
		}
	}

	upsertMeta := `INSERT INTO ledger_meta (id, saved_at) VALUES (1, ?)
		ON CONFLICT(id) DO UPDATE SET saved_at = excluded.saved_at`
	if _, err := tx.ExecContext(ctx, upsertMeta, time.Now().UTC()); err != nil {
		return fmt.Errorf("update ledger meta: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

// RecordOrder journals a submitted order.
func (r *SQLiteStore) RecordOrder(ctx context.Context, order OrderRecord) error {
	query := `INSERT INTO orders (client_order_id, broker_order_id, asset, kind, side, order_type, quantity, limit_price, status, filled_qty, avg_fill_price, fallback)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	_, err := r.db.ExecContext(ctx, query,
		order.ClientOrderID,
		order.BrokerOrderID,
		order.Asset,
		order.Kind.String(),
		order.Side,
		order.OrderType,
		order.Quantity.String(),
		order.LimitPrice.String(),
		order.Status,
		order.FilledQty.String(),
		order.AvgFillPrice.String(),
		boolToInt(order.Fallback),
	)
	if err != nil {
		return fmt.Errorf("insert order: %w", err)
	}

	return nil
}

// UpdateOrder stores the last observed status and fill of an order.
func (r *SQLiteStore) UpdateOrder(ctx context.Context, brokerOrderID string, status types.OrderStatus, filledQty, avgPrice decimal.Decimal) error {
	query := `UPDATE orders SET status = ?, filled_qty = ?, avg_fill_price = ?, updated_at = CURRENT_TIMESTAMP
		WHERE broker_order_id = ?`

	res, err := r.db.ExecContext(ctx, query, status, filledQty.String(), avgPrice.String(), brokerOrderID)
	if err != nil {
		return fmt.Errorf("update order: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("update order %s: %w", brokerOrderID, types.ErrOrderNotFound)
	}

	return nil
}

// RecentOrders returns the newest orders first.
func (r *SQLiteStore) RecentOrders(ctx context.Context, limit int) ([]OrderRecord, error) {
	query := `SELECT id, client_order_id, broker_order_id, asset, kind, side, order_type, quantity, limit_price,
		status, filled_qty, avg_fill_price, fallback, created_at, updated_at
		FROM orders ORDER BY id DESC LIMIT ?`

	rows, err := r.db.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("query orders: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var orders []OrderRecord
	for rows.Next() {
		var o OrderRecord
		var kind, qty, limitPrice, filledQty, avgPrice string
		var fallback int

		if err := rows.Scan(&o.ID, &o.ClientOrderID, &o.BrokerOrderID, &o.Asset, &kind, &o.Side, &o.OrderType,
			&qty, &limitPrice, &o.Status, &filledQty, &avgPrice, &fallback, &o.CreatedAt, &o.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan order: %w", err)
		}

		_ = o.Kind.UnmarshalText([]byte(kind))
		o.Quantity, _ = decimal.NewFromString(qty)
		o.LimitPrice, _ = decimal.NewFromString(limitPrice)
		o.FilledQty, _ = decimal.NewFromString(filledQty)
		o.AvgFillPrice, _ = decimal.NewFromString(avgPrice)
		o.Fallback = fallback != 0

		orders = append(orders, o)
	}

	return orders, rows.Err()
}

// Close closes the database connection.
func (r *SQLiteStore) Close() error {
	return r.db.Close()
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
