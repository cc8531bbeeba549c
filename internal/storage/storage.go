// Package storage keeps the SQLite order journal: one row per order the bot ever
// placed, updated as it fills or is cancelled, plus the latest stats per symbol.
package storage

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"grid-trading-bot-go/internal/models"

	_ "github.com/mattn/go-sqlite3" // Import the sqlite3 driver
)

// Journal order statuses.
const (
	StatusPlaced     = "placed"
	StatusFilled     = "filled"
	StatusCancelled  = "cancelled"
	StatusRolledBack = "rolled_back"
)

// OrderRecord is one journal row.
type OrderRecord struct {
	OrderID   string
	Symbol    string
	Side      models.Side
	Price     float64
	Quantity  float64
	Filled    float64
	Status    string
	Reason    string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Journal is the SQLite-backed order history.
type Journal struct {
	db *sql.DB
}

// OpenJournal opens the database and creates the tables. ":memory:" is accepted.
func OpenJournal(dataSourceName string) (*Journal, error) {
	db, err := sql.Open("sqlite3", dataSourceName)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// One connection keeps ":memory:" databases shared and serializes writers.
	db.SetMaxOpenConns(1)

	if err = db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	if err = createTables(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create tables: %w", err)
	}
	return &Journal{db: db}, nil
}

// createTables creates the necessary database tables if they don't exist.
func createTables(db *sql.DB) error {
	createOrdersTableSQL := `
	CREATE TABLE IF NOT EXISTS grid_orders (
		order_id TEXT PRIMARY KEY,
		symbol TEXT NOT NULL,
		side TEXT NOT NULL,
		price REAL NOT NULL,
		quantity REAL NOT NULL,
		filled REAL NOT NULL DEFAULT 0,
		status TEXT NOT NULL,
		reason TEXT NOT NULL DEFAULT '',
		created_at INTEGER NOT NULL,
		updated_at INTEGER NOT NULL
	);`
	if _, err := db.Exec(createOrdersTableSQL); err != nil {
		return err
	}
	if _, err := db.Exec(`CREATE INDEX IF NOT EXISTS idx_grid_orders_symbol ON grid_orders (symbol, created_at);`); err != nil {
		return err
	}

	createStatsTableSQL := `
	CREATE TABLE IF NOT EXISTS grid_stats (
		symbol TEXT PRIMARY KEY,
		total_profit REAL NOT NULL,
		total_trades INTEGER NOT NULL,
		profitable_trades INTEGER NOT NULL,
		highest_price REAL NOT NULL,
		lowest_price REAL NOT NULL,
		volume_24h REAL NOT NULL,
		updated_at INTEGER NOT NULL
	);`
	_, err := db.Exec(createStatsTableSQL)
	return err
}

// RecordPlaced inserts a freshly placed order.
func (j *Journal) RecordPlaced(ctx context.Context, order models.TrackedOrder) error {
	at := order.PlacedAt
	if at.IsZero() {
		at = time.Now()
	}
	query := `
	INSERT OR REPLACE INTO grid_orders (order_id, symbol, side, price, quantity, filled, status, reason, created_at, updated_at)
	VALUES (?, ?, ?, ?, ?, 0, ?, '', ?, ?)`
	_, err := j.db.ExecContext(ctx, query,
		order.OrderID, order.Symbol, string(order.Side), order.Price, order.Quantity,
		StatusPlaced, at.UnixMilli(), at.UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("failed to insert order %s: %w", order.OrderID, err)
	}
	return nil
}

// MarkFilled records a fill of quantity.
func (j *Journal) MarkFilled(ctx context.Context, orderID string, quantity float64, at time.Time) error {
	return j.update(ctx, `UPDATE grid_orders SET status = ?, filled = ?, updated_at = ? WHERE order_id = ?`,
		orderID, StatusFilled, quantity, at.UnixMilli(), orderID)
}

// MarkCancelled records a cancel. A reason of "rollback" marks orders undone by a failed start or recentre.
func (j *Journal) MarkCancelled(ctx context.Context, orderID, reason string, at time.Time) error {
	status := StatusCancelled
	if reason == "rollback" {
		status = StatusRolledBack
	}
	return j.update(ctx, `UPDATE grid_orders SET status = ?, reason = ?, updated_at = ? WHERE order_id = ?`,
		orderID, status, reason, at.UnixMilli(), orderID)
}

func (j *Journal) update(ctx context.Context, query, orderID string, args ...any) error {
	if _, err := j.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("failed to update order %s: %w", orderID, err)
	}
	return nil
}

// Orders returns the most recent journal rows of symbol, newest first.
func (j *Journal) Orders(ctx context.Context, symbol string, limit int) ([]OrderRecord, error) {
	if limit <= 0 {
		limit = 100
	}
	query := `
	SELECT order_id, symbol, side, price, quantity, filled, status, reason, created_at, updated_at
	FROM grid_orders
	WHERE symbol = ?
	ORDER BY created_at DESC, order_id DESC
	LIMIT ?`

	rows, err := j.db.QueryContext(ctx, query, symbol, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query orders: %w", err)
	}
	defer rows.Close()

	var records []OrderRecord
	for rows.Next() {
		var rec OrderRecord
		var side string
		var created, updated int64
		if err := rows.Scan(&rec.OrderID, &rec.Symbol, &side, &rec.Price, &rec.Quantity, &rec.Filled,
			&rec.Status, &rec.Reason, &created, &updated); err != nil {
			return nil, fmt.Errorf("failed to scan order row: %w", err)
		}
		rec.Side = models.Side(side)
		rec.CreatedAt = time.UnixMilli(created).UTC()
		rec.UpdatedAt = time.UnixMilli(updated).UTC()
		records = append(records, rec)
	}
	return records, rows.Err()
}

// SaveStats upserts the latest snapshot of symbol.
func (j *Journal) SaveStats(ctx context.Context, symbol string, snap models.PerformanceSnapshot) error {
	query := `
	INSERT INTO grid_stats (symbol, total_profit, total_trades, profitable_trades, highest_price, lowest_price, volume_24h, updated_at)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT(symbol) DO UPDATE SET
		total_profit = excluded.total_profit,
		total_trades = excluded.total_trades,
		profitable_trades = excluded.profitable_trades,
		highest_price = excluded.highest_price,
		lowest_price = excluded.lowest_price,
		volume_24h = excluded.volume_24h,
		updated_at = excluded.updated_at;`
	updated := snap.UpdatedAt
	if updated.IsZero() {
		updated = time.Now()
	}
	_, err := j.db.ExecContext(ctx, query, symbol, snap.TotalProfit, snap.TotalTrades, snap.ProfitableTrades,
		snap.HighestPrice, snap.LowestPrice, snap.Volume24h, updated.UnixMilli())
	if err != nil {
		return fmt.Errorf("failed to save stats for %s: %w", symbol, err)
	}
	return nil
}

// LoadStats returns the journal's copy of symbol's stats.
// It returns (nil, nil) if no row is found.
func (j *Journal) LoadStats(ctx context.Context, symbol string) (*models.PerformanceSnapshot, error) {
	query := `
	SELECT total_profit, total_trades, profitable_trades, highest_price, lowest_price, volume_24h, updated_at
	FROM grid_stats WHERE symbol = ?`
	var snap models.PerformanceSnapshot
	var updated int64
	err := j.db.QueryRowContext(ctx, query, symbol).Scan(&snap.TotalProfit, &snap.TotalTrades, &snap.ProfitableTrades,
		&snap.HighestPrice, &snap.LowestPrice, &snap.Volume24h, &updated)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load stats for %s: %w", symbol, err)
	}
	snap.UpdatedAt = time.UnixMilli(updated).UTC()
	return &snap, nil
}

// Close gracefully closes the database.
func (j *Journal) Close() error {
	return j.db.Close()
}
