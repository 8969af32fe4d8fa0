package universe

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/neuralprobe/D4/internal/broker"
	"github.com/neuralprobe/D4/internal/config"
	"github.com/neuralprobe/D4/internal/market"
	"github.com/neuralprobe/D4/internal/models"
)

var filterDay = time.Date(2024, 7, 1, 6, 0, 0, 0, time.UTC)

type fakeLister struct {
	assets []broker.Asset
	err    error
	calls  int
}

func (f *fakeLister) ListAssets() ([]broker.Asset, error) {
	f.calls++
	return f.assets, f.err
}

type fakeDailyProvider struct {
	bars  map[string][]models.Bar
	err   error
	calls int
}

func (f *fakeDailyProvider) GetBars(_ context.Context, symbols []string, tf market.Timeframe, _, _ time.Time) (map[string][]models.Bar, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	if tf != market.TimeframeDay {
		return nil, fmt.Errorf("unexpected timeframe %s", tf)
	}
	out := make(map[string][]models.Bar, len(symbols))
	for _, symbol := range symbols {
		if bars, ok := f.bars[symbol]; ok {
			out[symbol] = bars
		}
	}
	return out, nil
}

func tradable(symbols ...string) []broker.Asset {
	out := make([]broker.Asset, 0, len(symbols))
	for _, s := range symbols {
		out = append(out, broker.Asset{Symbol: s, Tradable: true})
	}
	return out
}

// flatDays builds count daily bars all carrying the same trading value.
func flatDays(count int, tradingValue float64) []models.Bar {
	bars := make([]models.Bar, 0, count)
	for i := 0; i < count; i++ {
		bars = append(bars, models.Bar{
			Timestamp:    filterDay.AddDate(0, 0, i-count),
			Close:        10,
			Volume:       1,
			VWAP:         tradingValue,
			TradingValue: tradingValue,
		})
	}
	return bars
}

func testFilterConfig(t *testing.T) config.UniverseConfig {
	t.Helper()
	return config.UniverseConfig{
		TopFraction:  0.5,
		LookbackDays: 5,
		CacheDir:     t.TempDir(),
	}
}

func TestSymbolsRanksByMeanTradingValue(t *testing.T) {
	lister := &fakeLister{assets: tradable("AAA", "BBB", "CCC", "DDD")}
	provider := &fakeDailyProvider{bars: map[string][]models.Bar{
		"AAA": flatDays(5, 100),
		"BBB": flatDays(5, 400),
		"CCC": flatDays(5, 300),
		"DDD": flatDays(5, 200),
	}}
	filter := NewEquityFilter(lister, provider, testFilterConfig(t), nil)

	symbols, err := filter.Symbols(context.Background(), filterDay, true)
	require.NoError(t, err)
	assert.Equal(t, []string{"BBB", "CCC"}, symbols, "top half by mean trading value")
}

func TestSymbolsIgnoresUntradableListings(t *testing.T) {
	lister := &fakeLister{assets: []broker.Asset{
		{Symbol: "LIVE", Tradable: true},
		{Symbol: "HALT", Tradable: false},
	}}
	provider := &fakeDailyProvider{bars: map[string][]models.Bar{
		"LIVE": flatDays(5, 100),
		"HALT": flatDays(5, 900),
	}}
	cfg := testFilterConfig(t)
	cfg.TopFraction = 1.0
	filter := NewEquityFilter(lister, provider, cfg, nil)

	symbols, err := filter.Symbols(context.Background(), filterDay, true)
	require.NoError(t, err)
	assert.Equal(t, []string{"LIVE"}, symbols)
}

func TestSymbolsRanksOnTrailingRowsOnly(t *testing.T) {
	// SPIKE's huge turnover sits outside the trailing window; QUIET wins
	// on recent rows.
	spike := append(flatDays(3, 1e9), flatDays(5, 10)...)
	lister := &fakeLister{assets: tradable("SPIKE", "QUIET")}
	provider := &fakeDailyProvider{bars: map[string][]models.Bar{
		"SPIKE": spike,
		"QUIET": flatDays(5, 100),
	}}
	filter := NewEquityFilter(lister, provider, testFilterConfig(t), nil)

	symbols, err := filter.Symbols(context.Background(), filterDay, true)
	require.NoError(t, err)
	assert.Equal(t, []string{"QUIET"}, symbols)
}

func TestSymbolsCapsAtMaxSymbols(t *testing.T) {
	lister := &fakeLister{assets: tradable("AAA", "BBB", "CCC", "DDD")}
	provider := &fakeDailyProvider{bars: map[string][]models.Bar{
		"AAA": flatDays(5, 100),
		"BBB": flatDays(5, 400),
		"CCC": flatDays(5, 300),
		"DDD": flatDays(5, 200),
	}}
	cfg := testFilterConfig(t)
	cfg.MaxSymbols = 1
	filter := NewEquityFilter(lister, provider, cfg, nil)

	symbols, err := filter.Symbols(context.Background(), filterDay, true)
	require.NoError(t, err)
	assert.Equal(t, []string{"BBB"}, symbols)
}

func TestSymbolsReusesSameDayCache(t *testing.T) {
	lister := &fakeLister{assets: tradable("AAA", "BBB")}
	provider := &fakeDailyProvider{bars: map[string][]models.Bar{
		"AAA": flatDays(5, 100),
		"BBB": flatDays(5, 400),
	}}
	cfg := testFilterConfig(t)
	cfg.TopFraction = 1.0
	filter := NewEquityFilter(lister, provider, cfg, nil)

	first, err := filter.Symbols(context.Background(), filterDay, false)
	require.NoError(t, err)
	require.Equal(t, []string{"BBB", "AAA"}, first)
	require.Equal(t, 1, lister.calls)

	// Same day again: served from the dated CSV, no listing scan.
	second, err := filter.Symbols(context.Background(), filterDay.Add(4*time.Hour), false)
	require.NoError(t, err)
	assert.Equal(t, first, second)
	assert.Equal(t, 1, lister.calls)

	// renew bypasses the cache.
	_, err = filter.Symbols(context.Background(), filterDay, true)
	require.NoError(t, err)
	assert.Equal(t, 2, lister.calls)

	// A new day misses the dated cache and rebuilds.
	_, err = filter.Symbols(context.Background(), filterDay.AddDate(0, 0, 1), false)
	require.NoError(t, err)
	assert.Equal(t, 3, lister.calls)
}

func TestSymbolsPropagatesFetchFailure(t *testing.T) {
	lister := &fakeLister{assets: tradable("AAA")}
	provider := &fakeDailyProvider{err: fmt.Errorf("api down")}
	filter := NewEquityFilter(lister, provider, testFilterConfig(t), nil)

	_, err := filter.Symbols(context.Background(), filterDay, true)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "api down")
}
