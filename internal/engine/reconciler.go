package engine

import (
	"fmt"
	"io"
	"log"
	"sync"
	"time"

	"github.com/neuralprobe/D4/internal/broker"
	"github.com/neuralprobe/D4/internal/models"
	"github.com/neuralprobe/D4/internal/portfolio"
	"github.com/neuralprobe/D4/internal/storage"
	"github.com/neuralprobe/D4/internal/util"
)

// qtyDriftTolerance absorbs fractional-share rounding when comparing
// local and venue quantities.
const qtyDriftTolerance = 1e-6

// Reconciler rebuilds the position book from the venue before each live
// tick. The venue owns quantity, price and cost; the storage side-table
// owns the stop fields the venue has no home for. Symbols the venue
// reports but the book lacks are admitted with bootstrap stops;
// local-only symbols are dropped; every drift is logged.
type Reconciler struct {
	broker    broker.Broker
	store     storage.Interface
	positions *portfolio.Positions
	trailing  float64
	logger    *log.Logger

	coldStart sync.Once
	nowFunc   func() time.Time
}

// NewReconciler wires a reconciler. trailing seeds the trailing stop
// for positions the venue reports that nothing local remembers.
func NewReconciler(b broker.Broker, store storage.Interface, positions *portfolio.Positions, trailing float64, logger *log.Logger) *Reconciler {
	if b == nil {
		panic("engine.NewReconciler: broker must not be nil")
	}
	if store == nil {
		panic("engine.NewReconciler: storage must not be nil")
	}
	if positions == nil {
		panic("engine.NewReconciler: positions must not be nil")
	}
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}
	return &Reconciler{
		broker:    b,
		store:     store,
		positions: positions,
		trailing:  trailing,
		logger:    logger,
		nowFunc:   time.Now,
	}
}

// Reconcile overwrites the book with the venue's view and re-attaches
// stop state. On a fetch failure the book is left untouched so the tick
// can proceed on the last known view.
func (r *Reconciler) Reconcile() error {
	items, err := r.broker.GetPositions()
	if err != nil {
		return fmt.Errorf("fetching venue positions: %w", err)
	}
	r.coldStart.Do(func() {
		r.logger.Printf("Venue reports %d open positions", len(items))
	})

	previous := r.positions.Snapshot()
	r.positions.Reset()
	active := make(map[string]bool, len(items))
	for _, item := range items {
		if item.Qty <= 0 {
			r.logger.Printf("Ignoring venue position %s with quantity %.4f", item.Symbol, item.Qty)
			continue
		}
		pos := r.rebuild(item, previous)
		if err := r.positions.Add(pos); err != nil {
			r.logger.Printf("Rebuilding %s from the venue: %v", item.Symbol, err)
			continue
		}
		active[item.Symbol] = true
	}
	for symbol, old := range previous {
		if !active[symbol] {
			r.logger.Printf("Dropping %s: %.4f shares held locally but not at the venue", symbol, old.Qty)
		}
	}
	if err := r.store.Prune(active); err != nil {
		r.logger.Printf("Pruning stop states: %v", err)
	}
	return nil
}

// rebuild turns one venue row into a position, carrying stop state from
// the in-memory book first, the storage side-table second, and seeding
// a fresh trailing stop when neither knows the symbol.
func (r *Reconciler) rebuild(item broker.PositionItem, previous map[string]models.Position) *models.Position {
	price := item.CurrentPrice
	if price <= 0 {
		price = item.AvgEntryPrice
	}
	cost := item.CostBasis
	if cost <= 0 {
		cost = item.AvgEntryPrice * item.Qty
	}

	entry := r.nowFunc()
	var stopValue, stopTrailing float64
	var stopKey string
	if old, held := previous[item.Symbol]; held {
		stopValue, stopKey, stopTrailing = old.StopValue, old.StopKey, old.StopTrailing
		entry = old.EntryTime
		if !util.ApproxEqual(old.Qty, item.Qty, qtyDriftTolerance) {
			r.logger.Printf("Quantity drift for %s: local %.4f, venue %.4f", item.Symbol, old.Qty, item.Qty)
		}
	} else if state, known := r.store.GetSymbolState(item.Symbol); known {
		stopValue, stopKey, stopTrailing = state.StopValue, state.StopKey, state.StopTrailing
		if !state.EntryTime.IsZero() {
			entry = state.EntryTime
		}
		r.logger.Printf("Restoring %s from stored stop state (stop %.4f %q, trailing %.4f)",
			item.Symbol, stopValue, stopKey, stopTrailing)
	} else {
		stopTrailing = price * (1 - r.trailing)
		r.logger.Printf("Admitting %s from the venue: %.4f shares at %.2f, seeded trailing stop %.4f",
			item.Symbol, item.Qty, price, stopTrailing)
	}

	pos := models.NewPosition(item.Symbol, entry, item.Qty, price, cost, stopValue, stopKey, stopTrailing)
	if item.MarketValue > 0 {
		pos.MarketValue = item.MarketValue
	}
	return pos
}
