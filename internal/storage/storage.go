// Package storage provides the key-value byte store behind the experience memory,
// session summary and model weights, plus a capped journal of evaluated trades.
package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/rewired-gh/neurotrader/internal/models"
	_ "modernc.org/sqlite"
)

// ErrNotFound is returned by Get when a key has never been written.
var ErrNotFound = errors.New("key not found")

// Store is the persistence boundary shared by the SQLite and Redis backends.
type Store interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte) error
	Delete(ctx context.Context, key string) error
	AddTrade(ctx context.Context, d *models.Decision) error
	RecentTrades(ctx context.Context, k int) ([]models.Decision, error)
	ClearTrades(ctx context.Context) error
	Close() error
}

// SQLite wraps a SQLite database for all persistence operations.
type SQLite struct {
	db         *sql.DB
	maxJournal int
}

var _ Store = (*SQLite)(nil)

// NewSQLite opens or creates the SQLite database at dbPath.
// An empty dbPath defaults to $TMPDIR/neurotrader/data.db.
func NewSQLite(maxJournal int, dbPath string) (*SQLite, error) {
	if dbPath == "" {
		dbPath = filepath.Join(os.TempDir(), "neurotrader", "data.db")
	}
	if dbPath != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
			return nil, fmt.Errorf("failed to create data directory: %w", err)
		}
	}
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(1) // single writer; WAL allows concurrent readers
	if _, err := db.Exec(`PRAGMA journal_mode=WAL`); err != nil {
		return nil, fmt.Errorf("failed to set WAL mode: %w", err)
	}
	s := &SQLite{db: db, maxJournal: maxJournal}
	if err := s.createTables(); err != nil {
		return nil, fmt.Errorf("failed to create tables: %w", err)
	}
	return s, nil
}

// Close closes the underlying database connection.
func (s *SQLite) Close() error {
	return s.db.Close()
}

func (s *SQLite) createTables() error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS kv (
			key        TEXT PRIMARY KEY,
			value      BLOB NOT NULL,
			updated_at INTEGER NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS trades (
			id             TEXT PRIMARY KEY,
			symbol         TEXT,
			side           TEXT NOT NULL,
			price          REAL NOT NULL,
			probability    REAL NOT NULL,
			threshold      REAL NOT NULL,
			bet_size       REAL NOT NULL,
			risk_factor    REAL NOT NULL,
			market_context TEXT NOT NULL DEFAULT '{}',
			forced         INTEGER NOT NULL DEFAULT 0,
			actual_price   REAL NOT NULL,
			is_correct     INTEGER NOT NULL,
			profit         REAL NOT NULL,
			decided_at     INTEGER NOT NULL,
			evaluated_at   INTEGER NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_trades_evaluated_at ON trades(evaluated_at)`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.Exec(stmt); err != nil {
			return err
		}
	}
	return nil
}

func (s *SQLite) Get(ctx context.Context, key string) ([]byte, error) {
	var value []byte
	err := s.db.QueryRowContext(ctx, `SELECT value FROM kv WHERE key = ?`, key).Scan(&value)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, key)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get %s: %w", key, err)
	}
	return value, nil
}

func (s *SQLite) Set(ctx context.Context, key string, value []byte) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT OR REPLACE INTO kv (key, value, updated_at) VALUES (?,?,?)`,
		key, value, time.Now().UnixNano(),
	)
	if err != nil {
		return fmt.Errorf("failed to set %s: %w", key, err)
	}
	return nil
}

func (s *SQLite) Delete(ctx context.Context, key string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM kv WHERE key = ?`, key); err != nil {
		return fmt.Errorf("failed to delete %s: %w", key, err)
	}
	return nil
}

// AddTrade journals an evaluated decision and keeps at most maxJournal newest rows.
func (s *SQLite) AddTrade(ctx context.Context, d *models.Decision) error {
	if err := d.Validate(); err != nil {
		return fmt.Errorf("invalid decision: %w", err)
	}
	if d.Result == nil {
		return fmt.Errorf("decision %s has not been evaluated", d.ID)
	}
	ctxJSON, err := json.Marshal(d.MarketContext)
	if err != nil {
		return fmt.Errorf("failed to marshal market context: %w", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	_, err = tx.ExecContext(ctx, `
		INSERT INTO trades
			(id, symbol, side, price, probability, threshold, bet_size, risk_factor,
			 market_context, forced, actual_price, is_correct, profit, decided_at, evaluated_at)
		VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)`,
		d.ID, d.Symbol, string(d.Side), d.Price, d.Probability, d.DynamicThreshold,
		d.Result.BetSize, d.Result.RiskFactor, string(ctxJSON), boolToInt(d.Forced),
		d.Result.ActualPrice, boolToInt(d.Result.IsCorrect), d.Result.Profit,
		d.Time.UnixNano(), d.Result.Time.UnixNano(),
	)
	if err != nil {
		return fmt.Errorf("failed to insert trade: %w", err)
	}

	if _, err = tx.ExecContext(ctx, `
		DELETE FROM trades WHERE id NOT IN (
			SELECT id FROM trades ORDER BY evaluated_at DESC LIMIT ?
		)`, s.maxJournal); err != nil {
		return fmt.Errorf("failed to enforce journal cap: %w", err)
	}

	return tx.Commit()
}

// RecentTrades returns up to k journaled trades, newest first.
func (s *SQLite) RecentTrades(ctx context.Context, k int) ([]models.Decision, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+tradeCols+` FROM trades ORDER BY evaluated_at DESC LIMIT ?`, k)
	if err != nil {
		return nil, fmt.Errorf("failed to query trades: %w", err)
	}
	defer rows.Close()

	trades := []models.Decision{}
	for rows.Next() {
		d, err := scanTrade(rows.Scan)
		if err != nil {
			return nil, fmt.Errorf("failed to scan trade: %w", err)
		}
		trades = append(trades, *d)
	}
	return trades, rows.Err()
}

func (s *SQLite) ClearTrades(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM trades`); err != nil {
		return fmt.Errorf("failed to clear trades: %w", err)
	}
	return nil
}

const tradeCols = `id, symbol, side, price, probability, threshold, bet_size, risk_factor,
	market_context, forced, actual_price, is_correct, profit, decided_at, evaluated_at`

func scanTrade(scan func(...any) error) (*models.Decision, error) {
	var d models.Decision
	var r models.Result
	var side, ctxJSON string
	var forced, correct int
	var decidedNano, evaluatedNano int64
	err := scan(
		&d.ID, &d.Symbol, &side, &d.Price, &d.Probability, &d.DynamicThreshold,
		&r.BetSize, &r.RiskFactor, &ctxJSON, &forced,
		&r.ActualPrice, &correct, &r.Profit, &decidedNano, &evaluatedNano,
	)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(ctxJSON), &d.MarketContext); err != nil {
		return nil, fmt.Errorf("failed to unmarshal market context: %w", err)
	}
	d.Side = models.Side(side)
	d.Forced = forced != 0
	d.Time = time.Unix(0, decidedNano)
	d.AdjustedBetSize = r.BetSize
	d.RiskFactor = r.RiskFactor
	r.IsCorrect = correct != 0
	r.Time = time.Unix(0, evaluatedNano)
	r.PriceChange = r.ActualPrice - d.Price
	r.PriceChangePercent = r.PriceChange / d.Price * 100
	d.Result = &r
	return &d, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
