// Package engine drives the minute cadence: fetch the latest bars, fuse
// them into the hourly histories, evaluate the strategy, apply the stop
// ratchets, dispatch orders, and snapshot the account. One Engine value
// owns all mutable trading state; every mutation happens on the loop
// goroutine, so nothing here needs a lock.
package engine

import (
	"context"
	"fmt"
	"io"
	"log"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/neuralprobe/D4/internal/clock"
	"github.com/neuralprobe/D4/internal/logs"
	"github.com/neuralprobe/D4/internal/market"
	"github.com/neuralprobe/D4/internal/metrics"
	"github.com/neuralprobe/D4/internal/models"
	"github.com/neuralprobe/D4/internal/orders"
	"github.com/neuralprobe/D4/internal/portfolio"
	"github.com/neuralprobe/D4/internal/storage"
	"github.com/neuralprobe/D4/internal/strategy"
)

// tickDeadline bounds one cycle of work. A tick that cannot finish
// inside its own minute must yield partial results rather than delay
// the next minute's bar.
const tickDeadline = time.Minute

// stopEpsilon absorbs float noise when checking that stop levels never
// move down between ticks.
const stopEpsilon = 1e-9

// Deps bundles everything the engine drives. Clock, Market, Strategy,
// Orders, Account and Positions are required; Storage, Run and
// Reconciler are optional (backtests run without them).
type Deps struct {
	Clock     *clock.Clock
	Market    *market.Service
	Strategy  *strategy.Engine
	Orders    *orders.Manager
	Account   portfolio.Account
	Positions *portfolio.Positions

	Storage    storage.Interface
	Run        *logs.Run
	Reconciler *Reconciler
	Logger     *log.Logger

	// Trailing is the trailing-stop fraction: every tick a held
	// symbol's trailing stop is raised to price*(1-Trailing) if that
	// is higher than the current level.
	Trailing float64

	// Live marks a session trading against a real venue. It relaxes
	// the negative-cash invariant, which a cached live balance may
	// transiently violate between refreshes.
	Live bool
}

// stopMarks remembers a symbol's stop levels from the previous tick so
// a downward move, which no code path should produce, can be caught.
type stopMarks struct {
	value    float64
	trailing float64
}

// Status is the read model published for the status endpoints. The
// loop rebuilds it at the end of every tick; readers get copies.
type Status struct {
	Time       time.Time               `json:"time"`
	Cash       float64                 `json:"cash"`
	Holdings   float64                 `json:"holdings"`
	TotalValue float64                 `json:"total_value"`
	Positions  []models.Position       `json:"positions"`
	Decisions  []models.DecisionRecord `json:"decisions"`
}

// Engine owns the trading state and runs the minute loop.
type Engine struct {
	clock     *clock.Clock
	market    *market.Service
	strategy  *strategy.Engine
	orders    *orders.Manager
	account   portfolio.Account
	positions *portfolio.Positions

	store      storage.Interface
	run        *logs.Run
	reconciler *Reconciler
	logger     *log.Logger

	trailing float64
	live     bool

	symbols   []string
	histories map[string]*models.History
	prevStops map[string]stopMarks

	statusMu sync.RWMutex
	status   Status

	// nowFunc feeds the live scheduler; tests pin it.
	nowFunc func() time.Time

	// fatalf is the single funnel for invariant violations. The
	// default exits the process; tests capture instead.
	fatalf func(format string, v ...any)
}

// New validates the wiring and returns an engine ready to Bootstrap.
func New(deps Deps) (*Engine, error) {
	switch {
	case deps.Clock == nil:
		return nil, fmt.Errorf("engine: clock is required")
	case deps.Market == nil:
		return nil, fmt.Errorf("engine: market service is required")
	case deps.Strategy == nil:
		return nil, fmt.Errorf("engine: strategy engine is required")
	case deps.Orders == nil:
		return nil, fmt.Errorf("engine: order manager is required")
	case deps.Account == nil:
		return nil, fmt.Errorf("engine: account is required")
	case deps.Positions == nil:
		return nil, fmt.Errorf("engine: position book is required")
	}
	logger := deps.Logger
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}
	e := &Engine{
		clock:      deps.Clock,
		market:     deps.Market,
		strategy:   deps.Strategy,
		orders:     deps.Orders,
		account:    deps.Account,
		positions:  deps.Positions,
		store:      deps.Storage,
		run:        deps.Run,
		reconciler: deps.Reconciler,
		logger:     logger,
		trailing:   deps.Trailing,
		live:       deps.Live,
		histories:  make(map[string]*models.History),
		prevStops:  make(map[string]stopMarks),
		nowFunc:    time.Now,
	}
	e.fatalf = e.logger.Fatalf
	return e, nil
}

// Bootstrap loads the hourly history for the session's universe and, in
// live mode, aligns the local book with the venue. Call once before
// RunBacktest or RunLive.
func (e *Engine) Bootstrap(ctx context.Context, symbols []string) error {
	e.symbols = symbols
	histories, err := e.market.FetchHistory(ctx, symbols, e.clock.Current())
	if err != nil {
		return fmt.Errorf("bootstrapping history: %w", err)
	}
	e.histories = histories
	if e.reconciler != nil {
		if err := e.reconciler.Reconcile(); err != nil {
			return fmt.Errorf("initial reconcile: %w", err)
		}
	}
	if err := e.account.Refresh(); err != nil {
		return fmt.Errorf("initial account refresh: %w", err)
	}
	e.publishStatus(e.clock.Current())
	e.logger.Printf("Bootstrapped %d of %d symbols with enough history", len(e.histories), len(symbols))
	return nil
}

// tick runs one full cycle for the clock's current minute. Failures are
// logged and the cycle degrades to whatever work remains possible; no
// error ever escapes to the scheduler.
func (e *Engine) tick(ctx context.Context) {
	now := e.clock.Current()
	tickCtx, cancel := context.WithTimeout(ctx, tickDeadline)
	defer cancel()

	started := time.Now()
	defer func() {
		metrics.TickDuration.Set(time.Since(started).Seconds())
		metrics.TicksProcessed.Inc()
	}()

	if e.reconciler != nil {
		if err := e.reconciler.Reconcile(); err != nil {
			e.logger.Printf("Reconcile before %s: %v", now.Format("15:04"), err)
		}
	}

	recent, err := e.market.FetchRecent(tickCtx, e.symbols, now)
	if err != nil {
		e.logger.Printf("Tick %s: minute fetch: %v", now.Format("15:04"), err)
		return
	}
	if len(recent) == 0 {
		return
	}

	// Reprice held symbols from the fresh closes, then fuse the
	// minute bars into the hourly tails the indicators read.
	for _, symbol := range e.positions.Symbols() {
		if bar, ok := recent[symbol]; ok {
			e.positions.UpdatePrice(symbol, bar.Close)
		}
	}
	for symbol, bar := range recent {
		if history, ok := e.histories[symbol]; ok {
			history.Fuse(bar)
		}
	}

	prophecy := e.strategy.Evaluate(tickCtx, e.histories, recent, e.positions.Snapshot())

	e.applyStops(prophecy)
	e.logOpinions(now, prophecy)

	result := e.orders.Execute(tickCtx, prophecy)
	if len(result.Sold) > 0 || len(result.Bought) > 0 {
		e.logger.Printf("Tick %s: sold %s, bought %s", now.Format("2006-01-02 15:04"),
			joinOrDash(result.Sold), joinOrDash(result.Bought))
	}

	if err := e.account.Refresh(); err != nil {
		e.logger.Printf("Account refresh: %v", err)
	}

	e.checkInvariants()
	e.persistStops()
	e.snapshotAccount(now)
	e.publishStatus(now)
}

// applyStops installs the floors the evaluation proposed onto the held
// book: the trailing ratchet from the latest price, the tracked
// indicator level under the current stop key, and the keep-profit
// upgrade. Each one only ever raises.
func (e *Engine) applyStops(prophecy []models.DecisionRecord) {
	for i := range prophecy {
		rec := &prophecy[i]
		pos := e.positions.Get(rec.Symbol)
		if pos == nil {
			continue
		}
		pos.RaiseTrailing(pos.Price * (1 - e.trailing))
		if rec.TrackedStop > 0 {
			pos.RaiseStop(rec.TrackedStop, pos.StopKey)
		}
		if rec.KeepProfit && rec.NewStopValue > 0 {
			pos.RaiseStop(rec.NewStopValue, rec.NewStopKey)
		}
	}
}

// opinionHeader is the column order of the trader opinion sink.
func opinionHeader() []string { return []string{"time", "opinion", "symbols"} }

// logOpinions records this minute's buy/sell/keep verdicts. Quiet
// minutes write nothing.
func (e *Engine) logOpinions(now time.Time, prophecy []models.DecisionRecord) {
	var buys, sells, keeps []string
	for i := range prophecy {
		rec := &prophecy[i]
		if rec.Buy {
			buys = append(buys, rec.Symbol)
		}
		if rec.Sell {
			sells = append(sells, rec.Symbol)
		}
		if rec.KeepProfit {
			keeps = append(keeps, rec.Symbol)
		}
	}
	if len(buys)+len(sells)+len(keeps) == 0 {
		return
	}
	e.logger.Printf("Opinions at %s: BUY %s | SELL %s | KEEP %s", now.Format("15:04"),
		joinOrDash(buys), joinOrDash(sells), joinOrDash(keeps))
	if e.run == nil {
		return
	}
	sink := e.run.Trader()
	if err := sink.Header(opinionHeader()); err != nil {
		e.logger.Printf("Trader sink header: %v", err)
		return
	}
	stamp := now.Format(time.RFC3339)
	for _, row := range [][]string{
		{stamp, "BUY", strings.Join(buys, " ")},
		{stamp, "SELL", strings.Join(sells, " ")},
		{stamp, "KEEP", strings.Join(keeps, " ")},
	} {
		if err := sink.Write(row); err != nil {
			e.logger.Printf("Trader sink write: %v", err)
			return
		}
	}
}

// checkInvariants funnels book violations into one fatal exit. Trading
// on a corrupted book compounds the damage, so a negative local balance
// or a stop that moved down stops the process.
func (e *Engine) checkInvariants() {
	if err := e.positions.Validate(); err != nil {
		e.fatalf("Invariant violated: %v", err)
		return
	}
	if !e.live && e.account.Cash() < 0 {
		e.fatalf("Invariant violated: cash balance is negative: %.2f", e.account.Cash())
		return
	}
	held := make(map[string]bool, e.positions.Len())
	for _, symbol := range e.positions.Symbols() {
		held[symbol] = true
		pos := e.positions.Get(symbol)
		marks, seen := e.prevStops[symbol]
		if seen && (pos.StopValue < marks.value-stopEpsilon || pos.StopTrailing < marks.trailing-stopEpsilon) {
			e.fatalf("Invariant violated: stop for %s moved down (value %.4f -> %.4f, trailing %.4f -> %.4f)",
				symbol, marks.value, pos.StopValue, marks.trailing, pos.StopTrailing)
			return
		}
		e.prevStops[symbol] = stopMarks{value: pos.StopValue, trailing: pos.StopTrailing}
	}
	for symbol := range e.prevStops {
		if !held[symbol] {
			delete(e.prevStops, symbol)
		}
	}
}

// persistStops mirrors the held book's stop state into storage so a
// live restart can pick the ratchets back up. Sold symbols are pruned.
func (e *Engine) persistStops() {
	if e.store == nil {
		return
	}
	active := make(map[string]bool, e.positions.Len())
	for _, symbol := range e.positions.Symbols() {
		pos := e.positions.Get(symbol)
		active[symbol] = true
		state := storage.SymbolState{
			StopValue:    pos.StopValue,
			StopKey:      pos.StopKey,
			StopTrailing: pos.StopTrailing,
			EntryTime:    pos.EntryTime,
		}
		if err := e.store.SetSymbolState(symbol, state); err != nil {
			e.logger.Printf("Persisting stop state for %s: %v", symbol, err)
		}
	}
	if err := e.store.Prune(active); err != nil {
		e.logger.Printf("Pruning stop states: %v", err)
	}
}

// accountHeader is the column order of the account snapshot sink.
func accountHeader() []string {
	return []string{"time", "cash", "positions_value", "total_value", "positions"}
}

// snapshotAccount records the post-tick balances and refreshes the
// equity gauges.
func (e *Engine) snapshotAccount(now time.Time) {
	cash := e.account.Cash()
	holdings := e.positions.Value()
	total := e.account.TotalValue()
	metrics.EquityGauge.Set(total)
	metrics.PositionsOpen.Set(float64(e.positions.Len()))
	e.logger.Printf("Total $%.2f, cash $%.2f, holdings $%.2f across %d symbols",
		total, cash, holdings, e.positions.Len())
	if e.run == nil {
		return
	}
	sink := e.run.Account()
	if err := sink.Header(accountHeader()); err != nil {
		e.logger.Printf("Account sink header: %v", err)
		return
	}
	row := []string{
		now.Format(time.RFC3339),
		strconv.FormatFloat(cash, 'f', 2, 64),
		strconv.FormatFloat(holdings, 'f', 2, 64),
		strconv.FormatFloat(total, 'f', 2, 64),
		strconv.Itoa(e.positions.Len()),
	}
	if err := sink.Write(row); err != nil {
		e.logger.Printf("Account sink write: %v", err)
	}
}

// publishStatus rebuilds the read model. Runs on the loop thread; the
// slices are fresh copies, so readers never share memory with the book.
func (e *Engine) publishStatus(now time.Time) {
	snapshot := e.positions.Snapshot()
	positions := make([]models.Position, 0, len(snapshot))
	for _, symbol := range e.positions.Symbols() {
		positions = append(positions, snapshot[symbol])
	}
	status := Status{
		Time:       now,
		Cash:       e.account.Cash(),
		Holdings:   e.positions.Value(),
		TotalValue: e.account.TotalValue(),
		Positions:  positions,
		Decisions:  e.strategy.LastRecords(),
	}
	e.statusMu.Lock()
	e.status = status
	e.statusMu.Unlock()
}

// Status returns the last published read model. Safe from any
// goroutine.
func (e *Engine) Status() Status {
	e.statusMu.RLock()
	defer e.statusMu.RUnlock()
	return e.status
}

// finish flushes the audit sinks and bundles them into the summary
// workbook.
func (e *Engine) finish() error {
	if e.run == nil {
		return nil
	}
	if err := e.run.CloseAll(); err != nil {
		e.logger.Printf("Closing log sinks: %v", err)
	}
	path, err := e.run.Summary()
	if err != nil {
		return fmt.Errorf("writing summary workbook: %w", err)
	}
	e.logger.Printf("Summary workbook written to %s", path)
	return nil
}

func joinOrDash(symbols []string) string {
	if len(symbols) == 0 {
		return "-"
	}
	return strings.Join(symbols, " ")
}
