// Package market fetches minute, hourly and daily bars from the Alpaca
// data API and shapes them into the engine's bar model. A Service layers
// batching and bounded concurrency on top of the raw Provider, and a
// CachedProvider adds a local SQLite cache for backtests.
package market

import (
	"context"
	"fmt"
	"time"

	"github.com/alpacahq/alpaca-trade-api-go/v3/marketdata"

	"github.com/neuralprobe/D4/internal/models"
)

// Timeframe selects the bar aggregation requested from the data API.
type Timeframe string

const (
	TimeframeMinute Timeframe = "1Min"
	TimeframeHour   Timeframe = "1Hour"
	TimeframeDay    Timeframe = "1Day"
)

// Provider returns bars per symbol for the half-open window [start, end):
// the bar stamped at start is included, the bar stamped at end is not.
// Bars are stamped at their opening minute, so the bar covering the minute
// that completes at time T is fetched with start=T-1m, end=T. Symbols with
// no data in the window are simply absent from the result.
type Provider interface {
	GetBars(ctx context.Context, symbols []string, tf Timeframe, start, end time.Time) (map[string][]models.Bar, error)
}

// AlpacaProvider fetches bars from the Alpaca market data API using the
// consolidated SIP feed.
type AlpacaProvider struct {
	client *marketdata.Client
}

var _ Provider = (*AlpacaProvider)(nil)

// NewAlpacaProvider builds a provider from API credentials. dataURL may be
// empty to use the SDK default endpoint.
func NewAlpacaProvider(apiKey, apiSecret, dataURL string) *AlpacaProvider {
	opts := marketdata.ClientOpts{
		APIKey:    apiKey,
		APISecret: apiSecret,
	}
	if dataURL != "" {
		opts.BaseURL = dataURL
	}
	return &AlpacaProvider{client: marketdata.NewClient(opts)}
}

// GetBars requests bars for all symbols in a single multi-bars call.
func (p *AlpacaProvider) GetBars(ctx context.Context, symbols []string, tf Timeframe, start, end time.Time) (map[string][]models.Bar, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if len(symbols) == 0 {
		return map[string][]models.Bar{}, nil
	}

	multiBars, err := p.client.GetMultiBars(symbols, marketdata.GetBarsRequest{
		TimeFrame: sdkTimeframe(tf),
		Start:     start,
		End:       end,
		Feed:      "sip",
	})
	if err != nil {
		return nil, fmt.Errorf("fetching %s bars for %d symbols: %w", tf, len(symbols), err)
	}

	result := make(map[string][]models.Bar, len(multiBars))
	for symbol, bars := range multiBars {
		converted := make([]models.Bar, 0, len(bars))
		for _, ab := range bars {
			bar := models.Bar{
				Timestamp:  ab.Timestamp,
				Open:       ab.Open,
				High:       ab.High,
				Low:        ab.Low,
				Close:      ab.Close,
				Volume:     float64(ab.Volume),
				TradeCount: float64(ab.TradeCount),
				VWAP:       ab.VWAP,
			}
			bar.ComputeTradingValue()
			converted = append(converted, bar)
		}
		result[symbol] = converted
	}
	return result, nil
}

func sdkTimeframe(tf Timeframe) marketdata.TimeFrame {
	switch tf {
	case TimeframeMinute:
		return marketdata.OneMin
	case TimeframeDay:
		return marketdata.OneDay
	default:
		return marketdata.OneHour
	}
}
