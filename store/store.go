// Package store persists configuration, the closed-trade journal and the
// Adaptive Controller's state. Grounded on the teacher's store/strategy.go:
// database/sql against a single *sql.DB, a hand-rolled schema migration run
// once at Open, JSON-blob columns for nested config. The driver here is
// modernc.org/sqlite (pure Go, matching the teacher's own choice, no cgo).
package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"scalper/types"
)

// Store owns the sqlite connection and every table the engine persists to.
type Store struct {
	db *sql.DB
}

// Open creates (if needed) and migrates the sqlite database at path.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("store: open %s: %w", path, err)
	}
	db.SetMaxOpenConns(1) // sqlite: one writer at a time, matching store/strategy.go

	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("store: migrate: %w", err)
	}
	return s, nil
}

// Close releases the underlying connection.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) migrate() error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS strategy_config (
			id         TEXT PRIMARY KEY,
			name       TEXT NOT NULL,
			is_active  INTEGER NOT NULL DEFAULT 0,
			config     TEXT NOT NULL,
			created_at DATETIME NOT NULL,
			updated_at DATETIME NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS trades (
			id          TEXT PRIMARY KEY,
			underlying  TEXT NOT NULL,
			option_type TEXT NOT NULL,
			strike      REAL NOT NULL,
			quantity    INTEGER NOT NULL,
			entry_price REAL NOT NULL,
			entry_time  DATETIME NOT NULL,
			exit_price  REAL,
			exit_time   DATETIME,
			exit_reason TEXT,
			pnl         REAL NOT NULL DEFAULT 0,
			status      TEXT NOT NULL,
			payload     TEXT NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS bucket_performance (
			bucket               TEXT PRIMARY KEY,
			total_trades         INTEGER NOT NULL,
			wins                 INTEGER NOT NULL,
			losses               INTEGER NOT NULL,
			win_rate             REAL NOT NULL,
			total_pnl            REAL NOT NULL,
			sample_size_adequate INTEGER NOT NULL,
			updated_at           DATETIME NOT NULL
		)`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.Exec(stmt); err != nil {
			return err
		}
	}
	return nil
}

// SaveStrategyConfig upserts the named strategy config row, encoding cfg as
// a JSON blob the way store/strategy.go does for StrategyConfig.
func (s *Store) SaveStrategyConfig(id, name string, active bool, cfg interface{}, now time.Time) error {
	blob, err := json.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("store: marshal strategy config: %w", err)
	}
	_, err = s.db.Exec(`
		INSERT INTO strategy_config (id, name, is_active, config, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET name=excluded.name, is_active=excluded.is_active,
			config=excluded.config, updated_at=excluded.updated_at`,
		id, name, boolToInt(active), string(blob), now, now)
	return err
}

// LoadStrategyConfig reads back a strategy config row and unmarshals its
// JSON blob into out.
func (s *Store) LoadStrategyConfig(id string, out interface{}) error {
	var blob string
	err := s.db.QueryRow(`SELECT config FROM strategy_config WHERE id = ?`, id).Scan(&blob)
	if err != nil {
		return fmt.Errorf("store: load strategy config %s: %w", id, err)
	}
	return json.Unmarshal([]byte(blob), out)
}

// SaveTrade mirrors a closed Trade into the sqlite journal, query-able via
// /api/trades (spec §6.5's "both additionally mirrored into the sqlite
// store" requirement).
func (s *Store) SaveTrade(t types.Trade) error {
	payload, err := json.Marshal(t)
	if err != nil {
		return fmt.Errorf("store: marshal trade %s: %w", t.ID, err)
	}
	var exitPrice *float64
	var exitTime *time.Time
	if t.ExitPrice != nil {
		exitPrice = t.ExitPrice
	}
	if t.ExitTime != nil {
		exitTime = t.ExitTime
	}
	_, err = s.db.Exec(`
		INSERT INTO trades (id, underlying, option_type, strike, quantity, entry_price,
			entry_time, exit_price, exit_time, exit_reason, pnl, status, payload)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET exit_price=excluded.exit_price, exit_time=excluded.exit_time,
			exit_reason=excluded.exit_reason, pnl=excluded.pnl, status=excluded.status,
			payload=excluded.payload`,
		t.ID, t.Underlying, string(t.OptionType), t.Strike, t.Quantity, t.EntryPrice,
		t.EntryTime, exitPrice, exitTime, t.ExitReason, t.PnL, string(t.Status), string(payload))
	return err
}

// Trades returns up to limit most-recent trades, newest first.
func (s *Store) Trades(limit int) ([]types.Trade, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.Query(`SELECT payload FROM trades ORDER BY entry_time DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("store: query trades: %w", err)
	}
	defer rows.Close()

	var out []types.Trade
	for rows.Next() {
		var payload string
		if err := rows.Scan(&payload); err != nil {
			return nil, err
		}
		var t types.Trade
		if err := json.Unmarshal([]byte(payload), &t); err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

// SaveBucketPerformance upserts one bucket's learning snapshot. The Learning
// Engine does not call it and nothing reads the table back at startup, so
// sample-adequacy counts do not survive a restart.
func (s *Store) SaveBucketPerformance(bp types.BucketPerformance, now time.Time) error {
	_, err := s.db.Exec(`
		INSERT INTO bucket_performance (bucket, total_trades, wins, losses, win_rate, total_pnl, sample_size_adequate, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(bucket) DO UPDATE SET total_trades=excluded.total_trades, wins=excluded.wins,
			losses=excluded.losses, win_rate=excluded.win_rate, total_pnl=excluded.total_pnl,
			sample_size_adequate=excluded.sample_size_adequate, updated_at=excluded.updated_at`,
		bp.Bucket, bp.TotalTrades, bp.Wins, bp.Losses, bp.WinRate, bp.TotalPnL, boolToInt(bp.SampleSizeAdequate), now)
	return err
}

// BucketPerformanceAll returns every persisted per-bucket snapshot.
func (s *Store) BucketPerformanceAll() ([]types.BucketPerformance, error) {
	rows, err := s.db.Query(`SELECT bucket, total_trades, wins, losses, win_rate, total_pnl, sample_size_adequate FROM bucket_performance`)
	if err != nil {
		return nil, fmt.Errorf("store: query bucket performance: %w", err)
	}
	defer rows.Close()

	var out []types.BucketPerformance
	for rows.Next() {
		var bp types.BucketPerformance
		var adequate int
		if err := rows.Scan(&bp.Bucket, &bp.TotalTrades, &bp.Wins, &bp.Losses, &bp.WinRate, &bp.TotalPnL, &adequate); err != nil {
			return nil, err
		}
		bp.SampleSizeAdequate = adequate != 0
		out = append(out, bp)
	}
	return out, rows.Err()
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
