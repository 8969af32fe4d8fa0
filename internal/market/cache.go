package market

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"github.com/neuralprobe/D4/internal/models"
)

// CachedProvider wraps another Provider with a SQLite bar cache so repeated
// backtests over the same period hit the data API only once. A symbol with
// no cached rows in the requested window counts as a miss even when the
// feed genuinely has no data there; such symbols are refetched each run.
type CachedProvider struct {
	inner Provider
	db    *sql.DB
}

var _ Provider = (*CachedProvider)(nil)

// NewCachedProvider opens (or creates) the cache database at path and
// applies the schema.
func NewCachedProvider(inner Provider, path string) (*CachedProvider, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("creating cache directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("opening bar cache: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("pinging bar cache: %w", err)
	}
	if err := migrate(db); err != nil {
		db.Close()
		return nil, err
	}
	return &CachedProvider{inner: inner, db: db}, nil
}

func migrate(db *sql.DB) error {
	const schema = `
CREATE TABLE IF NOT EXISTS bars (
	symbol      TEXT    NOT NULL,
	timeframe   TEXT    NOT NULL,
	ts          INTEGER NOT NULL,
	open        REAL    NOT NULL,
	high        REAL    NOT NULL,
	low         REAL    NOT NULL,
	close       REAL    NOT NULL,
	volume      REAL    NOT NULL,
	trade_count REAL    NOT NULL,
	vwap        REAL    NOT NULL,
	PRIMARY KEY (symbol, timeframe, ts)
);`
	if _, err := db.Exec(schema); err != nil {
		return fmt.Errorf("migrating bar cache: %w", err)
	}
	return nil
}

// GetBars serves each symbol from the cache when possible and fetches the
// misses from the inner provider in one call, persisting whatever comes back.
func (c *CachedProvider) GetBars(ctx context.Context, symbols []string, tf Timeframe, start, end time.Time) (map[string][]models.Bar, error) {
	result := make(map[string][]models.Bar, len(symbols))
	var missing []string
	for _, symbol := range symbols {
		bars, err := c.load(ctx, symbol, tf, start, end)
		if err != nil {
			return nil, err
		}
		if len(bars) == 0 {
			missing = append(missing, symbol)
			continue
		}
		result[symbol] = bars
	}
	if len(missing) == 0 {
		return result, nil
	}

	fetched, err := c.inner.GetBars(ctx, missing, tf, start, end)
	if err != nil {
		return nil, err
	}
	if err := c.store(ctx, fetched, tf); err != nil {
		return nil, err
	}
	for symbol, bars := range fetched {
		if len(bars) > 0 {
			result[symbol] = bars
		}
	}
	return result, nil
}

// Close releases the underlying database handle.
func (c *CachedProvider) Close() error {
	return c.db.Close()
}

func (c *CachedProvider) load(ctx context.Context, symbol string, tf Timeframe, start, end time.Time) ([]models.Bar, error) {
	rows, err := c.db.QueryContext(ctx, `
		SELECT ts, open, high, low, close, volume, trade_count, vwap
		FROM bars
		WHERE symbol = ? AND timeframe = ? AND ts >= ? AND ts < ?
		ORDER BY ts`,
		symbol, string(tf), start.Unix(), end.Unix())
	if err != nil {
		return nil, fmt.Errorf("querying bar cache for %s: %w", symbol, err)
	}
	defer rows.Close()

	var bars []models.Bar
	for rows.Next() {
		var ts int64
		var b models.Bar
		if err := rows.Scan(&ts, &b.Open, &b.High, &b.Low, &b.Close, &b.Volume, &b.TradeCount, &b.VWAP); err != nil {
			return nil, fmt.Errorf("scanning cached bar for %s: %w", symbol, err)
		}
		b.Timestamp = time.Unix(ts, 0).UTC()
		b.ComputeTradingValue()
		bars = append(bars, b)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("reading cached bars for %s: %w", symbol, err)
	}
	return bars, nil
}

func (c *CachedProvider) store(ctx context.Context, fetched map[string][]models.Bar, tf Timeframe) error {
	if len(fetched) == 0 {
		return nil
	}

	tx, err := c.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning cache transaction: %w", err)
	}
	stmt, err := tx.PrepareContext(ctx, `
		INSERT OR REPLACE INTO bars
		(symbol, timeframe, ts, open, high, low, close, volume, trade_count, vwap)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		tx.Rollback()
		return fmt.Errorf("preparing cache insert: %w", err)
	}
	defer stmt.Close()

	for symbol, bars := range fetched {
		for _, b := range bars {
			if _, err := stmt.ExecContext(ctx, symbol, string(tf), b.Timestamp.Unix(),
				b.Open, b.High, b.Low, b.Close, b.Volume, b.TradeCount, b.VWAP); err != nil {
				tx.Rollback()
				return fmt.Errorf("caching bar for %s: %w", symbol, err)
			}
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing cache transaction: %w", err)
	}
	return nil
}
