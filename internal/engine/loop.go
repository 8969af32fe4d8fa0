package engine

import (
	"context"
	"fmt"
	"time"
)

// RunBacktest replays the session range minute by minute against
// recorded data. When the range is exhausted the sinks are closed and
// the summary workbook is written.
func (e *Engine) RunBacktest(ctx context.Context) error {
	e.logger.Printf("Backtest from %s to %s over %d symbols",
		e.clock.Start().Format("2006-01-02 15:04"), e.clock.End().Format("2006-01-02 15:04"), len(e.symbols))
	for !e.clock.Done() {
		if ctx.Err() != nil {
			e.logger.Printf("Backtest interrupted at %s", e.clock.Current().Format("2006-01-02 15:04"))
			break
		}
		open, err := e.clock.IsMarketOpen(ctx)
		if err != nil {
			return fmt.Errorf("trading calendar: %w", err)
		}
		if open {
			e.tick(ctx)
		}
		e.clock.Advance()
	}
	return e.finish()
}

// RunLive paces ticks at second :05 of every wall-clock minute, giving
// the feed a moment to finalize the bar for the minute that just
// closed. The outer loop wakes every second so shutdown and the end of
// the session range are noticed promptly. Tick failures are logged and
// never stop the scheduler.
func (e *Engine) RunLive(ctx context.Context) error {
	e.logger.Printf("Live session until %s", e.clock.End().Format("2006-01-02 15:04"))
	next := nextFire(e.nowFunc())
	for {
		e.clock.Advance()
		if e.clock.Done() {
			e.logger.Printf("Session range ended")
			break
		}
		select {
		case <-ctx.Done():
			e.logger.Printf("Shutdown requested; stopping the scheduler")
			return e.finish()
		case <-time.After(time.Second):
		}
		now := e.nowFunc()
		if now.Before(next) {
			continue
		}
		next = nextFire(now)
		open, err := e.clock.IsMarketOpen(ctx)
		if err != nil {
			e.logger.Printf("Trading calendar: %v", err)
			continue
		}
		if !open {
			continue
		}
		e.tick(ctx)
	}
	return e.finish()
}

// nextFire returns the next second-:05 instant strictly after now.
func nextFire(now time.Time) time.Time {
	fire := now.Truncate(time.Minute).Add(5 * time.Second)
	if !fire.After(now) {
		fire = fire.Add(time.Minute)
	}
	return fire
}
