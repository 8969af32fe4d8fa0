package models

import "time"

// compactEvery bounds how many appended rows may share a stale backing
// array before History reallocates. Dropping the oldest row re-slices
// from the front, which pins the old array until the next compaction.
const compactEvery = 24

// History holds the rolling hourly bars for one symbol. The trading loop
// is the only writer; strategy workers read it between fusion and
// dispatch, when no mutation happens.
type History struct {
	Symbol string
	Window int
	bars   []Bar
	grown  int
}

// NewHistory wraps an initial hourly series. Window caps the number of
// retained rows; zero or negative means unbounded.
func NewHistory(symbol string, window int, bars []Bar) *History {
	h := &History{Symbol: symbol, Window: window}
	h.bars = make([]Bar, len(bars))
	copy(h.bars, bars)
	h.trim()
	return h
}

// Len returns the number of retained hourly rows.
func (h *History) Len() int { return len(h.bars) }

// Bars returns the retained rows, oldest first. Callers must not mutate
// the returned slice.
func (h *History) Bars() []Bar { return h.bars }

// Last returns the most recent hourly row, false when the history is empty.
func (h *History) Last() (Bar, bool) {
	if len(h.bars) == 0 {
		return Bar{}, false
	}
	return h.bars[len(h.bars)-1], true
}

// At returns the row at index i, oldest first.
func (h *History) At(i int) Bar { return h.bars[i] }

// Closes returns the close column, oldest first.
func (h *History) Closes() []float64 {
	out := make([]float64, len(h.bars))
	for i, b := range h.bars {
		out[i] = b.Close
	}
	return out
}

// Fuse merges one minute bar into the hourly tail. Minute bars at or
// before the latest hourly timestamp are ignored so re-fed feeds cannot
// double-count volume. A minute bar in a newer clock hour starts a fresh
// hourly row stamped with the minute timestamp; otherwise the tail row
// absorbs it in place. Returns true when the bar changed the history.
func (h *History) Fuse(minute Bar) bool {
	if len(h.bars) == 0 {
		h.append(minute)
		return true
	}
	last := &h.bars[len(h.bars)-1]
	if !minute.Timestamp.After(last.Timestamp) {
		return false
	}
	if minute.Timestamp.Truncate(time.Hour).After(last.Timestamp.Truncate(time.Hour)) {
		h.append(minute)
		return true
	}
	if minute.High > last.High {
		last.High = minute.High
	}
	if minute.Low < last.Low {
		last.Low = minute.Low
	}
	last.Close = minute.Close
	last.Volume += minute.Volume
	last.TradeCount += minute.TradeCount
	last.TradingValue += minute.TradingValue
	if last.Volume > 0 {
		last.VWAP = last.TradingValue / last.Volume
	} else {
		last.VWAP = 0
	}
	return true
}

func (h *History) append(b Bar) {
	h.bars = append(h.bars, b)
	h.trim()
	h.grown++
	if h.grown >= compactEvery {
		h.compact()
	}
}

func (h *History) trim() {
	if h.Window > 0 && len(h.bars) > h.Window {
		h.bars = h.bars[len(h.bars)-h.Window:]
	}
}

func (h *History) compact() {
	fresh := make([]Bar, len(h.bars))
	copy(fresh, h.bars)
	h.bars = fresh
	h.grown = 0
}
