// Package mock generates deterministic synthetic market data so
// backtests and demos can run without data-API credentials. The same
// symbol and window always produce the same tape.
package mock

import (
	"context"
	"hash/fnv"
	"math"
	"time"

	"github.com/neuralprobe/D4/internal/market"
	"github.com/neuralprobe/D4/internal/models"
)

// Provider synthesizes OHLCV bars from a per-symbol sine walk. The
// waveform is keyed off the symbol name, so every symbol gets its own
// base price, phase and volume.
type Provider struct {
	amplitude float64
	period    time.Duration
}

var _ market.Provider = (*Provider)(nil)

// NewProvider returns a provider with a 3% swing over a four-hour
// cycle, enough movement to exercise every indicator in the stack.
func NewProvider() *Provider {
	return &Provider{amplitude: 0.03, period: 4 * time.Hour}
}

// GetBars synthesizes bars at the timeframe's cadence for the half-open
// window [start, end).
func (p *Provider) GetBars(_ context.Context, symbols []string, tf market.Timeframe, start, end time.Time) (map[string][]models.Bar, error) {
	step := cadence(tf)
	out := make(map[string][]models.Bar, len(symbols))
	for _, symbol := range symbols {
		var series []models.Bar
		ts := start.Truncate(step)
		if ts.Before(start) {
			ts = ts.Add(step)
		}
		for ; ts.Before(end); ts = ts.Add(step) {
			series = append(series, p.bar(symbol, ts, step))
		}
		if len(series) > 0 {
			out[symbol] = series
		}
	}
	return out, nil
}

func (p *Provider) bar(symbol string, ts time.Time, step time.Duration) models.Bar {
	openPx := p.priceAt(symbol, ts)
	closePx := p.priceAt(symbol, ts.Add(step))
	b := models.Bar{
		Timestamp:  ts,
		Open:       openPx,
		High:       math.Max(openPx, closePx) * 1.001,
		Low:        math.Min(openPx, closePx) * 0.999,
		Close:      closePx,
		Volume:     float64(10_000 + seed(symbol)%90_000),
		TradeCount: 100,
		VWAP:       (openPx + closePx) / 2,
	}
	b.ComputeTradingValue()
	return b
}

// priceAt samples the symbol's waveform at one instant.
func (p *Provider) priceAt(symbol string, ts time.Time) float64 {
	s := seed(symbol)
	base := 20 + float64(s%2000)/10
	phase := float64(s%360) / 360 * 2 * math.Pi
	omega := 2 * math.Pi / p.period.Seconds()
	return base * (1 + p.amplitude*math.Sin(omega*float64(ts.Unix())+phase))
}

func seed(symbol string) uint64 {
	h := fnv.New64a()
	_, _ = h.Write([]byte(symbol))
	return h.Sum64()
}

func cadence(tf market.Timeframe) time.Duration {
	switch tf {
	case market.TimeframeMinute:
		return time.Minute
	case market.TimeframeDay:
		return 24 * time.Hour
	default:
		return time.Hour
	}
}

// WeekdayCalendar approximates the exchange calendar with plain
// weekdays. Synthetic sessions only need open minutes to exist, so
// holidays are not modeled.
type WeekdayCalendar struct{}

// TradingDates returns every weekday from start through end.
func (WeekdayCalendar) TradingDates(_ context.Context, start, end time.Time) ([]time.Time, error) {
	var dates []time.Time
	day := time.Date(start.Year(), start.Month(), start.Day(), 0, 0, 0, 0, start.Location())
	for !day.After(end) {
		switch day.Weekday() {
		case time.Saturday, time.Sunday:
		default:
			dates = append(dates, day)
		}
		day = day.AddDate(0, 0, 1)
	}
	return dates, nil
}
