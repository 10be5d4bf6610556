// Package store persists fetched levels and trades per symbol, and the user's settings, in a
// local sqlite file.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"levelbridge/internal/market"
)

type Store struct {
	db *sql.DB
}

// Open creates the parent directory, opens the database and ensures the schema.
func Open(ctx context.Context, path string) (*Store, error) {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create cache dir %s: %w", dir, err)
		}
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open cache %s: %w", path, err)
	}
	db.SetMaxOpenConns(1)
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping cache %s: %w", path, err)
	}
	s := &Store{db: db}
	if err := s.init(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) init(ctx context.Context) error {
	const schema = `
	PRAGMA journal_mode = WAL;
	CREATE TABLE IF NOT EXISTS levels (
		symbol     TEXT NOT NULL,
		seq        INTEGER NOT NULL,
		price      REAL NOT NULL,
		rank       INTEGER NULL,
		dollars    REAL NULL,
		volume     INTEGER NULL,
		trades     INTEGER NULL,
		start_date TEXT NULL,
		end_date   TEXT NULL,
		created_at INTEGER NOT NULL,
		source     TEXT NOT NULL,
		PRIMARY KEY (symbol, price)
	);
	CREATE TABLE IF NOT EXISTS trades (
		symbol       TEXT NOT NULL,
		seq          INTEGER NOT NULL,
		price        REAL NOT NULL,
		ts           INTEGER NULL,
		rank         INTEGER NULL,
		dollars      REAL NOT NULL,
		volume       INTEGER NOT NULL,
		dark_pool    INTEGER NOT NULL,
		source       TEXT NOT NULL,
		PRIMARY KEY (symbol, seq)
	);
	CREATE TABLE IF NOT EXISTS settings (
		key   TEXT PRIMARY KEY,
		value TEXT NOT NULL
	);`
	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("init cache schema: %w", err)
	}
	return nil
}

func (s *Store) Close() error { return s.db.Close() }

func key(symbol string) string { return strings.ToUpper(strings.TrimSpace(symbol)) }

// SaveLevels replaces the stored levels for symbol. Rows repeating an already saved price are
// skipped, so the stored set never holds two levels at one price.
func (s *Store) SaveLevels(ctx context.Context, symbol string, levels []market.Level) error {
	sym := key(symbol)
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM levels WHERE symbol = ?`, sym); err != nil {
		return fmt.Errorf("clear levels for %s: %w", sym, err)
	}
	const q = `INSERT OR IGNORE INTO levels
		(symbol, seq, price, rank, dollars, volume, trades, start_date, end_date, created_at, source)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
	for i, l := range levels {
		var start, end sql.NullString
		if l.Dates != nil {
			start = sql.NullString{String: l.Dates.StartString(), Valid: true}
			end = sql.NullString{String: l.Dates.EndString(), Valid: true}
		}
		_, err := tx.ExecContext(ctx, q, sym, i, l.Price,
			nullInt(l.Rank), nullFloat(l.Dollars), nullInt64(l.Volume), nullInt64(l.Trades),
			start, end, l.CreatedAt.UnixMilli(), l.Source)
		if err != nil {
			return fmt.Errorf("insert level %s@%v: %w", sym, l.Price, err)
		}
	}
	return tx.Commit()
}

// Levels returns the stored levels for symbol in the order they were saved.
func (s *Store) Levels(ctx context.Context, symbol string) ([]market.Level, error) {
	sym := key(symbol)
	rows, err := s.db.QueryContext(ctx, `
		SELECT price, rank, dollars, volume, trades, start_date, end_date, created_at, source
		FROM levels WHERE symbol = ? ORDER BY seq`, sym)
	if err != nil {
		return nil, fmt.Errorf("query levels for %s: %w", sym, err)
	}
	defer rows.Close()

	var out []market.Level
	for rows.Next() {
		var (
			l          market.Level
			rank       sql.NullInt64
			dollars    sql.NullFloat64
			vol, tr    sql.NullInt64
			start, end sql.NullString
			created    int64
		)
		if err := rows.Scan(&l.Price, &rank, &dollars, &vol, &tr, &start, &end, &created, &l.Source); err != nil {
			return nil, fmt.Errorf("scan level: %w", err)
		}
		l.Symbol = sym
		l.CreatedAt = time.UnixMilli(created)
		if rank.Valid {
			r := int(rank.Int64)
			l.Rank = &r
		}
		if dollars.Valid {
			l.Dollars = &dollars.Float64
		}
		if vol.Valid {
			l.Volume = &vol.Int64
		}
		if tr.Valid {
			l.Trades = &tr.Int64
		}
		if start.Valid && end.Valid {
			from, err1 := time.Parse(market.DateLayout, start.String)
			to, err2 := time.Parse(market.DateLayout, end.String)
			if err1 == nil && err2 == nil {
				l.Dates = &market.DateRange{Start: from, End: to}
			}
		}
		out = append(out, l)
	}
	return out, rows.Err()
}

// SaveTrades replaces the stored trades for symbol.
func (s *Store) SaveTrades(ctx context.Context, symbol string, trades []market.Trade) error {
	sym := key(symbol)
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM trades WHERE symbol = ?`, sym); err != nil {
		return fmt.Errorf("clear trades for %s: %w", sym, err)
	}
	const q = `INSERT INTO trades (symbol, seq, price, ts, rank, dollars, volume, dark_pool, source)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`
	for i, t := range trades {
		if _, err := tx.ExecContext(ctx, q, sym, i, t.Price, nullInt64(t.Timestamp), nullInt(t.Rank),
			t.Dollars, t.Volume, t.IsDarkPool, t.Source); err != nil {
			return fmt.Errorf("insert trade %s@%v: %w", sym, t.Price, err)
		}
	}
	return tx.Commit()
}

// Trades returns the stored trades for symbol in saved order.
func (s *Store) Trades(ctx context.Context, symbol string) ([]market.Trade, error) {
	sym := key(symbol)
	rows, err := s.db.QueryContext(ctx, `
		SELECT price, ts, rank, dollars, volume, dark_pool, source
		FROM trades WHERE symbol = ? ORDER BY seq`, sym)
	if err != nil {
		return nil, fmt.Errorf("query trades for %s: %w", sym, err)
	}
	defer rows.Close()

	var out []market.Trade
	for rows.Next() {
		var (
			t        market.Trade
			ts, rank sql.NullInt64
		)
		if err := rows.Scan(&t.Price, &ts, &rank, &t.Dollars, &t.Volume, &t.IsDarkPool, &t.Source); err != nil {
			return nil, fmt.Errorf("scan trade: %w", err)
		}
		t.Ticker = sym
		if ts.Valid {
			t.Timestamp = &ts.Int64
		}
		if rank.Valid {
			r := int(rank.Int64)
			t.Rank = &r
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

func nullInt(p *int) sql.NullInt64 {
	if p == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: int64(*p), Valid: true}
}

func nullInt64(p *int64) sql.NullInt64 {
	if p == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: *p, Valid: true}
}

func nullFloat(p *float64) sql.NullFloat64 {
	if p == nil {
		return sql.NullFloat64{}
	}
	return sql.NullFloat64{Float64: *p, Valid: true}
}
