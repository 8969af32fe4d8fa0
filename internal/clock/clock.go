// Package clock drives the minute cadence of the trading loop. A
// backtest clock replays a date range one minute at a time; a live
// clock re-reads wall time and relies on an external scheduler for
// pacing. Both agree on the exchange session window.
package clock

import (
	"context"
	"fmt"
	"time"
)

// Session window, America/New_York. The first exchange minute (09:30)
// is skipped so the opening bar exists before the first decision; the
// last minute stays in so end-of-day logic can run.
const (
	openHour      = 9
	openMinute    = 31
	closeHour     = 15
	closeMinute   = 59
	dateKeyLayout = "2006-01-02"
)

// Mode selects how the clock advances.
type Mode int

const (
	// Backtest advances current by exactly one minute per tick.
	Backtest Mode = iota
	// Live re-reads the wall clock on each tick.
	Live
)

// CalendarProvider supplies the exchange's valid trading dates.
type CalendarProvider interface {
	TradingDates(ctx context.Context, start, end time.Time) ([]time.Time, error)
}

// Clock tracks the engine's current minute within [start, end].
type Clock struct {
	mode      Mode
	loc       *time.Location
	start     time.Time
	end       time.Time
	current   time.Time
	calendar  CalendarProvider
	openDates map[string]bool
	nowFunc   func() time.Time
}

// Option adjusts clock construction.
type Option func(*Clock)

// WithNowFunc overrides wall-clock reads, for tests.
func WithNowFunc(f func() time.Time) Option {
	return func(c *Clock) { c.nowFunc = f }
}

// New builds a clock for the [startDate, endDate] session range. Dates
// are midnight exchange-time instants; the clock runs through the last
// session minute of endDate.
func New(mode Mode, startDate, endDate time.Time, loc *time.Location, cal CalendarProvider, opts ...Option) *Clock {
	c := &Clock{
		mode:     mode,
		loc:      loc,
		calendar: cal,
		nowFunc:  time.Now,
	}
	c.start = startDate.In(loc)
	c.end = time.Date(endDate.In(loc).Year(), endDate.In(loc).Month(), endDate.In(loc).Day(),
		closeHour, closeMinute, 0, 0, loc)
	c.current = c.start
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Current returns the clock's current minute.
func (c *Clock) Current() time.Time { return c.current }

// Start returns the beginning of the session range.
func (c *Clock) Start() time.Time { return c.start }

// End returns the last session minute of the range.
func (c *Clock) End() time.Time { return c.end }

// Advance moves the clock one tick: one minute forward in backtest,
// the current wall minute in live.
func (c *Clock) Advance() {
	switch c.mode {
	case Backtest:
		c.current = c.current.Add(time.Minute)
	case Live:
		c.current = c.nowFunc().In(c.loc).Truncate(time.Minute)
	}
}

// Done reports whether the clock has moved past the session range.
func (c *Clock) Done() bool { return c.current.After(c.end) }

// IsMarketOpen reports whether current falls on a valid trading date
// inside the session window. The calendar is fetched once, lazily, and
// cached for the whole range.
func (c *Clock) IsMarketOpen(ctx context.Context) (bool, error) {
	if !c.inWindow(c.current) {
		return false, nil
	}
	if err := c.ensureCalendar(ctx); err != nil {
		return false, err
	}
	return c.openDates[c.current.In(c.loc).Format(dateKeyLayout)], nil
}

// AtClosingMinute reports whether current is the last session minute.
func (c *Clock) AtClosingMinute() bool {
	t := c.current.In(c.loc)
	return t.Hour() == closeHour && t.Minute() == closeMinute
}

func (c *Clock) inWindow(t time.Time) bool {
	t = t.In(c.loc)
	minutes := t.Hour()*60 + t.Minute()
	return minutes >= openHour*60+openMinute && minutes <= closeHour*60+closeMinute
}

func (c *Clock) ensureCalendar(ctx context.Context) error {
	if c.openDates != nil {
		return nil
	}
	dates, err := c.calendar.TradingDates(ctx, c.start, c.end)
	if err != nil {
		return fmt.Errorf("loading trading calendar: %w", err)
	}
	c.openDates = make(map[string]bool, len(dates))
	for _, d := range dates {
		c.openDates[d.In(c.loc).Format(dateKeyLayout)] = true
	}
	return nil
}
