package market

import (
	"context"
	"io"
	"log"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/neuralprobe/D4/internal/config"
	"github.com/neuralprobe/D4/internal/metrics"
	"github.com/neuralprobe/D4/internal/models"
)

// Service fetches bars for large symbol sets with bounded concurrency.
// A failed batch drops its symbols from the result instead of aborting
// the whole fetch; the engine treats missing symbols as "no data yet".
type Service struct {
	provider Provider
	cfg      config.HistoryConfig
	logger   *log.Logger
}

func NewService(provider Provider, cfg config.HistoryConfig, logger *log.Logger) *Service {
	if provider == nil {
		panic("market.NewService: provider must not be nil")
	}
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}
	return &Service{
		provider: provider,
		cfg:      cfg,
		logger:   logger,
	}
}

// FetchHistory bootstraps hourly histories for all symbols over the
// configured lookback window ending at asOf. Symbols with fewer than
// MinNumBars hourly rows are dropped so every indicator in the stack can
// warm up before the first evaluation.
func (s *Service) FetchHistory(ctx context.Context, symbols []string, asOf time.Time) (map[string]*models.History, error) {
	start := asOf.Add(-time.Duration(s.cfg.PeriodHours) * time.Hour)
	batches := chunkSymbols(symbols, s.cfg.BatchSize)

	var mu sync.Mutex
	histories := make(map[string]*models.History, len(symbols))
	thin := 0

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.cfg.MaxWorkers)
	for i, batch := range batches {
		i, batch := i, batch
		g.Go(func() error {
			bars, err := s.provider.GetBars(gctx, batch, TimeframeHour, start, asOf)
			if err != nil {
				metrics.FetchErrors.Inc()
				s.logger.Printf("History batch %d/%d (%d symbols) failed: %v", i+1, len(batches), len(batch), err)
				return nil
			}
			mu.Lock()
			defer mu.Unlock()
			for symbol, series := range bars {
				if len(series) < s.cfg.MinNumBars {
					thin++
					continue
				}
				histories[symbol] = models.NewHistory(symbol, s.cfg.PeriodHours, series)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.logger.Printf("Loaded hourly history for %d of %d symbols (%d below %d bars)",
		len(histories), len(symbols), thin, s.cfg.MinNumBars)
	return histories, nil
}

// FetchRecent returns the latest minute bar per symbol for the minute
// ending at asOf. Symbols the feed has no bar for are omitted; a failed
// chunk drops only its own symbols.
func (s *Service) FetchRecent(ctx context.Context, symbols []string, asOf time.Time) (map[string]models.Bar, error) {
	if len(symbols) == 0 {
		return map[string]models.Bar{}, nil
	}

	size := len(symbols) / s.cfg.MaxWorkers
	if size < 1 {
		size = 1
	}
	chunks := chunkSymbols(symbols, size)
	start := asOf.Add(-time.Minute)

	var mu sync.Mutex
	latest := make(map[string]models.Bar, len(symbols))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.cfg.MaxWorkers)
	for _, part := range chunks {
		part := part
		g.Go(func() error {
			bars, err := s.provider.GetBars(gctx, part, TimeframeMinute, start, asOf)
			if err != nil {
				metrics.FetchErrors.Inc()
				s.logger.Printf("Minute fetch for %d symbols failed: %v", len(part), err)
				return nil
			}
			mu.Lock()
			defer mu.Unlock()
			for symbol, series := range bars {
				if len(series) == 0 {
					continue
				}
				latest[symbol] = series[len(series)-1]
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return latest, nil
}

func chunkSymbols(symbols []string, size int) [][]string {
	if size <= 0 {
		size = len(symbols)
	}
	var out [][]string
	for lo := 0; lo < len(symbols); lo += size {
		hi := lo + size
		if hi > len(symbols) {
			hi = len(symbols)
		}
		out = append(out, symbols[lo:hi])
	}
	return out
}
