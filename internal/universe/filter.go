// Package universe selects the day's tradable symbol set: US equities
// ranked by mean daily trading value, with the top slice kept. The
// ranked list is cached per day so restarts and backtest reruns skip
// the listing scan.
package universe

import (
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/neuralprobe/D4/internal/broker"
	"github.com/neuralprobe/D4/internal/config"
	"github.com/neuralprobe/D4/internal/market"
	"github.com/neuralprobe/D4/internal/metrics"
)

// requestBatch bounds symbols per multi-bar request; the data API
// rejects much larger lists.
const requestBatch = 1024

// AssetLister is the slice of the broker the filter needs.
type AssetLister interface {
	ListAssets() ([]broker.Asset, error)
}

// EquityFilter ranks tradable US equities by mean trading value over the
// trailing daily bars and keeps the most liquid fraction.
type EquityFilter struct {
	assets   AssetLister
	provider market.Provider
	config   config.UniverseConfig
	logger   *log.Logger
}

// NewEquityFilter wires the filter to the venue listing and the bar
// provider.
func NewEquityFilter(assets AssetLister, provider market.Provider, cfg config.UniverseConfig, logger *log.Logger) *EquityFilter {
	if assets == nil {
		panic("universe.NewEquityFilter: asset lister must not be nil")
	}
	if provider == nil {
		panic("universe.NewEquityFilter: provider must not be nil")
	}
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}
	return &EquityFilter{assets: assets, provider: provider, config: cfg, logger: logger}
}

// Symbols returns the trading universe for the day asOf falls on. The
// ranked list is cached as a dated CSV and reused within the day; renew
// forces a rebuild even when the cache is fresh.
func (f *EquityFilter) Symbols(ctx context.Context, asOf time.Time, renew bool) ([]string, error) {
	path := f.cachePath(asOf)
	if !renew {
		if symbols, err := readSymbolCache(path); err == nil && len(symbols) > 0 {
			f.logger.Printf("Universe: %d symbols from cache %s", len(symbols), path)
			return symbols, nil
		}
	}

	symbols, err := f.build(ctx, asOf)
	if err != nil {
		return nil, err
	}
	if err := writeSymbolCache(path, symbols); err != nil {
		// The list itself is good; the cache only saves the next scan.
		f.logger.Printf("Universe cache write: %v", err)
	}
	f.logger.Printf("Universe: %d symbols selected of %s", len(symbols), asOf.Format("2006-01-02"))
	return symbols, nil
}

func (f *EquityFilter) build(ctx context.Context, asOf time.Time) ([]string, error) {
	listed, err := f.assets.ListAssets()
	if err != nil {
		return nil, fmt.Errorf("listing assets: %w", err)
	}
	candidates := make([]string, 0, len(listed))
	for _, asset := range listed {
		if asset.Tradable {
			candidates = append(candidates, asset.Symbol)
		}
	}
	if len(candidates) == 0 {
		return nil, fmt.Errorf("no tradable assets listed")
	}

	// Fetch twice the ranking window so holidays and halts still leave
	// enough trailing rows.
	start := asOf.AddDate(0, 0, -2*f.config.LookbackDays)
	means := make(map[string]float64, len(candidates))
	for _, batch := range chunk(candidates, requestBatch) {
		bars, err := f.provider.GetBars(ctx, batch, market.TimeframeDay, start, asOf)
		if err != nil {
			metrics.FetchErrors.Inc()
			return nil, fmt.Errorf("fetching daily bars: %w", err)
		}
		for symbol, rows := range bars {
			if len(rows) > f.config.LookbackDays {
				rows = rows[len(rows)-f.config.LookbackDays:]
			}
			if len(rows) == 0 {
				continue
			}
			var sum float64
			for i := range rows {
				sum += rows[i].TradingValue
			}
			means[symbol] = sum / float64(len(rows))
		}
	}

	ranked := make([]string, 0, len(means))
	for symbol := range means {
		ranked = append(ranked, symbol)
	}
	sort.Slice(ranked, func(i, j int) bool {
		if means[ranked[i]] == means[ranked[j]] {
			return ranked[i] < ranked[j]
		}
		return means[ranked[i]] > means[ranked[j]]
	})

	keep := int(float64(len(ranked)) * f.config.TopFraction)
	if keep > len(ranked) {
		keep = len(ranked)
	}
	if f.config.MaxSymbols > 0 && keep > f.config.MaxSymbols {
		keep = f.config.MaxSymbols
	}
	return ranked[:keep], nil
}

func (f *EquityFilter) cachePath(asOf time.Time) string {
	name := fmt.Sprintf("top_symbols_us_%s.csv", asOf.Format("2006-01-02"))
	return filepath.Join(f.config.CacheDir, name)
}

func readSymbolCache(path string) ([]string, error) {
	file, err := os.Open(path) // #nosec G304 -- path is built from config
	if err != nil {
		return nil, err
	}
	defer func() { _ = file.Close() }()

	rows, err := csv.NewReader(file).ReadAll()
	if err != nil {
		return nil, fmt.Errorf("reading universe cache %s: %w", path, err)
	}
	symbols := make([]string, 0, len(rows))
	for _, row := range rows {
		if len(row) > 0 && row[0] != "" {
			symbols = append(symbols, row[0])
		}
	}
	return symbols, nil
}

func writeSymbolCache(path string, symbols []string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return fmt.Errorf("creating universe cache dir: %w", err)
	}
	tmp := path + ".tmp"
	file, err := os.Create(tmp) // #nosec G304 -- path is built from config
	if err != nil {
		return fmt.Errorf("creating universe cache: %w", err)
	}
	w := csv.NewWriter(file)
	for _, symbol := range symbols {
		if err := w.Write([]string{symbol}); err != nil {
			_ = file.Close()
			return fmt.Errorf("writing universe cache: %w", err)
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		_ = file.Close()
		return fmt.Errorf("flushing universe cache: %w", err)
	}
	if err := file.Close(); err != nil {
		return fmt.Errorf("closing universe cache: %w", err)
	}
	return os.Rename(tmp, path)
}

func chunk(symbols []string, size int) [][]string {
	if size <= 0 {
		size = requestBatch
	}
	var out [][]string
	for start := 0; start < len(symbols); start += size {
		end := start + size
		if end > len(symbols) {
			end = len(symbols)
		}
		out = append(out, symbols[start:end])
	}
	return out
}
