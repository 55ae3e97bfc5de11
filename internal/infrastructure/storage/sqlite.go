package storage

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/vitos/crypto_trade_ladder/internal/domain"
)

type SQLiteStore struct {
	db *sql.DB
}

func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, err
	}
	if dbPath == ":memory:" {
		// every new connection would get its own empty database
		db.SetMaxOpenConns(1)
	}

	store := &SQLiteStore{db: db}
	if err := store.initSchema(); err != nil {
		db.Close()
		return nil, err
	}

	return store, nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) initSchema() error {
	queries := []string{
		`CREATE TABLE IF NOT EXISTS trades (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			order_id TEXT NOT NULL,
			symbol TEXT NOT NULL,
			level INTEGER NOT NULL,
			kind TEXT NOT NULL,
			side TEXT NOT NULL,
			price REAL NOT NULL,
			amount REAL NOT NULL,
			created_at DATETIME NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_trades_symbol ON trades(symbol);`,
		`CREATE TABLE IF NOT EXISTS position_history (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			symbol TEXT NOT NULL,
			side TEXT NOT NULL,
			amount REAL NOT NULL,
			entry_price REAL NOT NULL,
			exit_price REAL NOT NULL,
			max_level INTEGER NOT NULL,
			reason TEXT NOT NULL,
			realized_pnl REAL NOT NULL,
			closed_at DATETIME NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS status_snapshots (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			taken_at DATETIME NOT NULL,
			balance REAL NOT NULL,
			symbol TEXT NOT NULL,
			phase TEXT NOT NULL,
			price REAL NOT NULL,
			position_amount REAL NOT NULL,
			entry_price REAL NOT NULL,
			unrealized_pnl REAL NOT NULL,
			active_level INTEGER NOT NULL,
			exit_price REAL NOT NULL,
			exit_kind TEXT NOT NULL,
			stop_activated BOOLEAN NOT NULL,
			open_orders INTEGER NOT NULL
		);`,
	}

	for _, q := range queries {
		if _, err := s.db.Exec(q); err != nil {
			return fmt.Errorf("failed to exec query %s: %w", q, err)
		}
	}

	// Migration: columns added after the first release, error ignored if present
	_, _ = s.db.Exec(`ALTER TABLE status_snapshots ADD COLUMN cooldown_remaining_ms INTEGER NOT NULL DEFAULT 0`)

	return nil
}

// TradeRepository Implementation

func (s *SQLiteStore) SaveTrade(ctx context.Context, t *domain.TradeRecord) error {
	query := `INSERT INTO trades (order_id, symbol, level, kind, side, price, amount, created_at)
			  VALUES (?, ?, ?, ?, ?, ?, ?, ?)`
	res, err := s.db.ExecContext(ctx, query,
		t.OrderID, t.Symbol, t.Level, t.Kind, string(t.Side), t.Price, t.Amount, t.CreatedAt.UTC())
	if err != nil {
		return err
	}
	t.ID, _ = res.LastInsertId()
	return nil
}

func (s *SQLiteStore) ListTrades(ctx context.Context, limit int) ([]*domain.TradeRecord, error) {
	query := `SELECT id, order_id, symbol, level, kind, side, price, amount, created_at FROM trades ORDER BY id DESC LIMIT ?`
	rows, err := s.db.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var trades []*domain.TradeRecord
	for rows.Next() {
		var t domain.TradeRecord
		var side string
		if err := rows.Scan(&t.ID, &t.OrderID, &t.Symbol, &t.Level, &t.Kind, &side, &t.Price, &t.Amount, &t.CreatedAt); err != nil {
			return nil, err
		}
		t.Side = domain.OrderSide(side)
		trades = append(trades, &t)
	}
	return trades, rows.Err()
}

func (s *SQLiteStore) SavePositionHistory(ctx context.Context, h *domain.PositionHistory) error {
	query := `INSERT INTO position_history (symbol, side, amount, entry_price, exit_price, max_level, reason, realized_pnl, closed_at)
			  VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`
	res, err := s.db.ExecContext(ctx, query,
		h.Symbol, string(h.Side), h.Amount, h.EntryPrice, h.ExitPrice, h.MaxLevel, h.Reason, h.RealizedPnL, h.ClosedAt.UTC())
	if err != nil {
		return err
	}
	h.ID, _ = res.LastInsertId()
	return nil
}

func (s *SQLiteStore) ListPositionHistory(ctx context.Context, limit int) ([]*domain.PositionHistory, error) {
	query := `SELECT id, symbol, side, amount, entry_price, exit_price, max_level, reason, realized_pnl, closed_at
			  FROM position_history ORDER BY id DESC LIMIT ?`
	rows, err := s.db.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var history []*domain.PositionHistory
	for rows.Next() {
		var h domain.PositionHistory
		var side string
		if err := rows.Scan(&h.ID, &h.Symbol, &side, &h.Amount, &h.EntryPrice, &h.ExitPrice, &h.MaxLevel, &h.Reason, &h.RealizedPnL, &h.ClosedAt); err != nil {
			return nil, err
		}
		h.Side = domain.Side(side)
		history = append(history, &h)
	}
	return history, rows.Err()
}

// SaveStatusSnapshots writes one row per symbol in a single transaction.
func (s *SQLiteStore) SaveStatusSnapshots(ctx context.Context, balance float64, snaps []domain.StatusSnapshot) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `INSERT INTO status_snapshots
		(taken_at, balance, symbol, phase, price, position_amount, entry_price, unrealized_pnl, active_level, exit_price, exit_kind, stop_activated, open_orders, cooldown_remaining_ms)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, snap := range snaps {
		var amount, entry, pnl float64
		if p := snap.Position; p != nil {
			amount, entry, pnl = p.Amount, p.EntryPrice, p.UnrealizedPnL
		}
		takenAt := snap.TakenAt
		if takenAt.IsZero() {
			takenAt = time.Now()
		}
		if _, err := stmt.ExecContext(ctx, takenAt.UTC(), balance, snap.Symbol, snap.Phase, snap.Price,
			amount, entry, pnl, snap.ActiveLevel, snap.ExitPrice, snap.ExitKind, snap.StopActivated,
			snap.OpenOrders, snap.CooldownRemaining.Milliseconds()); err != nil {
			return fmt.Errorf("insert snapshot %s: %w", snap.Symbol, err)
		}
	}
	return tx.Commit()
}

// CountStatusSnapshots returns the number of stored snapshot rows for symbol.
func (s *SQLiteStore) CountStatusSnapshots(ctx context.Context, symbol string) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM status_snapshots WHERE symbol = ?`, symbol).Scan(&n)
	return n, err
}
