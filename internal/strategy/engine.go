package strategy

import (
	"context"
	"io"
	"log"
	"sort"

	"golang.org/x/sync/errgroup"

	"github.com/neuralprobe/D4/internal/config"
	"github.com/neuralprobe/D4/internal/metrics"
	"github.com/neuralprobe/D4/internal/models"
)

// noteDepth is how many past records each symbol keeps for the
// keeping/cancellation carry between ticks.
const noteDepth = 3

// Engine fans the evaluator out across the universe, one worker per
// symbol, and owns the per-symbol note rings. Evaluate must only be
// called from the loop thread: workers read immutable snapshots and the
// rings are pushed after the join, so no lock is needed.
type Engine struct {
	eval       *Evaluator
	maxWorkers int
	logger     *log.Logger
	notes      map[string]*models.DecisionRing
}

// NewEngine builds the fan-out engine. A nil logger discards output.
func NewEngine(cfg config.StrategyConfig, trailing float64, logger *log.Logger) *Engine {
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}
	return &Engine{
		eval:       NewEvaluator(cfg, trailing),
		maxWorkers: cfg.MaxWorkers,
		logger:     logger,
		notes:      make(map[string]*models.DecisionRing),
	}
}

// Evaluate scores every symbol that produced a minute bar this tick and
// has a bootstrapped history. Records come back sorted by symbol so
// downstream ordering is deterministic. A symbol whose evaluation fails
// is logged and yields no record; when ctx expires, unstarted symbols
// are skipped and the partial result is returned.
func (s *Engine) Evaluate(ctx context.Context, histories map[string]*models.History, recent map[string]models.Bar, book map[string]models.Position) []models.DecisionRecord {
	symbols := make([]string, 0, len(recent))
	for symbol := range recent {
		if _, ok := histories[symbol]; ok {
			symbols = append(symbols, symbol)
		}
	}
	sort.Strings(symbols)

	results := make([]*models.DecisionRecord, len(symbols))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.maxWorkers)
	for i, symbol := range symbols {
		i, symbol := i, symbol
		g.Go(func() error {
			if gctx.Err() != nil {
				return nil
			}
			in := Input{
				History: histories[symbol],
				Minute:  recent[symbol],
			}
			if pos, ok := book[symbol]; ok {
				cp := pos
				in.Position = &cp
			}
			if ring, ok := s.notes[symbol]; ok {
				if prev, ok := ring.Last(); ok {
					in.Prev = &prev
				}
			}
			rec, err := s.eval.Evaluate(in)
			if err != nil {
				metrics.StrategyErrors.Inc()
				s.logger.Printf("Strategy %s: %v", symbol, err)
				return nil
			}
			results[i] = &rec
			return nil
		})
	}
	_ = g.Wait()

	records := make([]models.DecisionRecord, 0, len(symbols))
	for _, rec := range results {
		if rec == nil {
			continue
		}
		s.ring(rec.Symbol).Push(*rec)
		records = append(records, *rec)
		metrics.SymbolsEvaluated.Inc()
		if rec.Buy {
			metrics.Decisions.WithLabelValues("buy").Inc()
		}
		if rec.Sell {
			metrics.Decisions.WithLabelValues("sell").Inc()
		}
	}
	return records
}

// LastRecords returns the most recent record per symbol, for the status
// endpoints. Call from the loop thread only.
func (s *Engine) LastRecords() []models.DecisionRecord {
	out := make([]models.DecisionRecord, 0, len(s.notes))
	for _, ring := range s.notes {
		if rec, ok := ring.Last(); ok {
			out = append(out, rec)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Symbol < out[j].Symbol })
	return out
}

func (s *Engine) ring(symbol string) *models.DecisionRing {
	ring, ok := s.notes[symbol]
	if !ok {
		ring = models.NewDecisionRing(noteDepth)
		s.notes[symbol] = ring
	}
	return ring
}
