// Package strategy turns fused hourly histories into per-symbol trade
// decisions. The evaluator is a pure function of its inputs: it never
// touches the live position book, it works on a copy and reports the
// stop updates it used through the DecisionRecord so the loop thread
// can apply them after the parallel join.
package strategy

import (
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/neuralprobe/D4/internal/config"
	"github.com/neuralprobe/D4/internal/indicator"
	"github.com/neuralprobe/D4/internal/models"
)

// staleAfter is how far the last hourly bar may lag the minute bar
// before breakout detection falls back to the previous close. Beyond
// this gap the bar's low no longer describes the current session.
const staleAfter = 4 * time.Hour

// Input is the immutable snapshot one evaluation consumes.
type Input struct {
	History  *models.History
	Minute   models.Bar
	Position *models.Position       // nil when the symbol is not held
	Prev     *models.DecisionRecord // previous note, nil on the first tick
}

// Evaluator scores one symbol per tick. Safe for concurrent use; all
// state lives in the Input.
type Evaluator struct {
	params    indicator.Params
	bb1Margin float64
	bb2Margin float64
	smaMargin float64
	hillWin   int
	hills     int
	stopScale float64 // 1 - trailing fraction
}

// NewEvaluator builds an evaluator from the strategy settings and the
// trailing-stop fraction used to place price floors.
func NewEvaluator(cfg config.StrategyConfig, trailing float64) *Evaluator {
	return &Evaluator{
		params: indicator.Params{
			BB1Length:  cfg.BB1.Length,
			BB1Mult:    cfg.BB1.Mult,
			BB2Length:  cfg.BB2.Length,
			BB2Mult:    cfg.BB2.Mult,
			POLength:   cfg.PO.Length,
			RSILength:  cfg.RSI.Length,
			SMAPeriods: cfg.SMA.Periods,
		},
		bb1Margin: cfg.BB1.Margin,
		bb2Margin: cfg.BB2.Margin,
		smaMargin: cfg.SMA.Margin,
		hillWin:   cfg.RSI.HillWindow,
		hills:     cfg.RSI.Hills,
		stopScale: 1 - trailing,
	}
}

// Evaluate produces the decision for one symbol at one minute. An error
// means the symbol yields no record this tick; the caller logs and moves
// on. Held positions are read through a local copy: the trailing ratchet
// and the tracked indicator stop are applied to the copy first so the
// stop-loss check sees the floors the loop thread will install.
func (e *Evaluator) Evaluate(in Input) (models.DecisionRecord, error) {
	hist := in.History
	if hist == nil || hist.Len() == 0 {
		return models.DecisionRecord{}, fmt.Errorf("evaluate: no hourly history")
	}
	closes := hist.Closes()
	table := indicator.Compute(closes, e.params)
	hour, _ := hist.Last()
	price := in.Minute.Close

	rec := models.DecisionRecord{
		Symbol:       hist.Symbol,
		Timestamp:    in.Minute.Timestamp,
		Price:        price,
		TradingValue: hour.TradingValue,
	}

	// Stop maintenance runs before any signal so the stop-loss check
	// uses this tick's floors, not last tick's.
	var pos *models.Position
	if in.Position != nil {
		cp := *in.Position
		pos = &cp
		pos.RaiseTrailing(pos.Price * e.stopScale)
		if pos.StopKey != "" {
			if !table.Has(pos.StopKey) {
				return models.DecisionRecord{}, fmt.Errorf("evaluate %s: stop key %q not in indicator table", hist.Symbol, pos.StopKey)
			}
			tracked := table.Last(pos.StopKey)
			if !math.IsNaN(tracked) {
				rec.TrackedStop = tracked
				pos.RaiseStop(tracked, pos.StopKey)
			}
		}
	}

	var prevB1, prevT1, prevB2, prevT2 bool
	if in.Prev != nil {
		prevB1, prevT1 = in.Prev.BreakoutBB1, in.Prev.TouchBB1
		prevB2, prevT2 = in.Prev.BreakoutBB2, in.Prev.TouchBB2
	}
	rec.BreakoutBB1, rec.BreakoutBB1AtMargin, rec.TouchBB1 =
		twoLevelBreakout(table, hour, in.Minute, "bb1_lower", e.bb1Margin, prevB1, prevT1)
	rec.BreakoutBB2, rec.BreakoutBB2AtMargin, rec.TouchBB2 =
		twoLevelBreakout(table, hour, in.Minute, "bb2_lower", e.bb2Margin, prevB2, prevT2)

	rec.PODivergence = poDivergence(closes, table.Column("po"))
	rec.RSICheck = e.rsiCheck(table.Column("rsi"))

	align, err := e.smaAlignment(table)
	if err != nil {
		return models.DecisionRecord{}, fmt.Errorf("evaluate %s: %w", hist.Symbol, err)
	}
	rec.SMAAlignStrength = align
	rec.SMABreakCount, rec.SMABelowClose = e.smaBreakthrough(table, hour, in.Minute)

	e.decideBuy(&rec, table, pos)
	e.decideSell(&rec, table, hour, in.Minute, pos)
	return rec, nil
}

func (e *Evaluator) decideBuy(rec *models.DecisionRecord, table *indicator.Table, pos *models.Position) {
	aligned := rec.SMAAlignStrength > 0.99
	smaBreak := float64(rec.SMABreakCount) > 0.1
	bearish := rec.PODivergence < 0 || rec.RSICheck < 0
	rec.Buy = aligned && (rec.TouchBB1 || rec.TouchBB2 || smaBreak) && !bearish

	var reasons []string
	if rec.TouchBB1 {
		reasons = append(reasons, "bb1")
	}
	if rec.TouchBB2 {
		reasons = append(reasons, "bb2")
	}
	if smaBreak {
		reasons = append(reasons, "sma")
	}
	rec.BuyReason = strings.Join(reasons, "-")
	rec.BuyStrength = boolScore(rec.TouchBB1) + boolScore(rec.TouchBB2) + boolScore(smaBreak) +
		rec.PODivergence + rec.RSICheck

	// Candidate price floors for the entry. The highest wins; a held
	// position's current floor competes so a re-buy never lowers it.
	var values []float64
	var keys []string
	if rec.TouchBB1 {
		values = append(values, table.Last("bb1_lower")*e.stopScale)
		keys = append(keys, "bb1_lower")
	}
	if rec.TouchBB2 {
		values = append(values, table.Last("bb2_lower")*e.stopScale)
		keys = append(keys, "bb2_lower")
	}
	if smaBreak {
		values = append(values, table.Last(rec.SMABelowClose)*e.stopScale)
		keys = append(keys, rec.SMABelowClose)
	}
	if pos != nil {
		values = append(values, pos.StopValue)
		keys = append(keys, pos.StopKey)
	}
	if len(values) > 0 {
		best := 0
		for i, v := range values {
			if v > values[best] {
				best = i
			}
		}
		rec.StopValue = values[best]
		rec.StopKey = keys[best]
	}

	if rec.Buy {
		trail := rec.Price * e.stopScale
		if pos != nil && pos.StopTrailing > trail {
			trail = pos.StopTrailing
		}
		rec.StopTrailing = trail
	}
}

func (e *Evaluator) decideSell(rec *models.DecisionRecord, table *indicator.Table, hour, minute models.Bar, pos *models.Position) {
	if pos == nil {
		return
	}

	rec.StopLoss = rec.Price < math.Max(pos.StopValue, pos.StopTrailing)

	// Resistance scan: any metric above the tracked floor that the
	// price broke upward proposes a higher floor; the highest proposal
	// wins.
	currentStop := 0.0
	if pos.StopKey != "" {
		currentStop = table.Last(pos.StopKey)
	}
	rec.NewStopValue = currentStop
	rec.NewStopKey = pos.StopKey
	resistances := e.resistanceMetrics(table)
	bestResist := math.Inf(-1)
	for _, metric := range resistances {
		value := table.Last(metric)
		if !(value > currentStop) {
			continue
		}
		if !upwardBreakout(table, hour, minute, metric, 0) {
			continue
		}
		rec.ResistanceBreakout = true
		if value > bestResist {
			bestResist = value
			rec.NewStopValue = value * e.stopScale
			rec.NewStopKey = metric
		}
	}

	// Top rejection: the bar high cleared every resistance but the
	// close fell back under at least one.
	high := minute.High
	free, rejected := true, false
	for _, metric := range resistances {
		r := table.Last(metric)
		if !(high > r) {
			free = false
		}
		if high > r && r >= rec.Price {
			rejected = true
		}
	}
	rec.TopResistBreak = free && rejected

	bullish := rec.PODivergence > 0 || rec.RSICheck > 0
	takeProfit := rec.ResistanceBreakout && !bullish
	rec.KeepProfit = rec.ResistanceBreakout && bullish
	eod := sellEndOfDay(minute.Timestamp, pos != nil)

	rec.Sell = (rec.StopLoss || takeProfit || rec.TopResistBreak || eod) && !rec.KeepProfit

	var reasons []string
	if rec.StopLoss {
		reasons = append(reasons, "StopLoss")
	}
	if takeProfit {
		reasons = append(reasons, "TakeProfit")
	}
	if rec.TopResistBreak {
		reasons = append(reasons, "TopResistBreak")
	}
	if eod {
		reasons = append(reasons, "EndMarket")
	}
	if len(reasons) > 0 {
		rec.SellReason = "|" + strings.Join(reasons, "|") + "|"
	}
}

// sellEndOfDay reports the closing-minute cleanup exit. It requires the
// symbol to be absent from the book, and sell signals are only evaluated
// for held symbols, so it never fires.
func sellEndOfDay(ts time.Time, held bool) bool {
	return ts.Hour() == 15 && ts.Minute() == 59 && !held
}

// resistanceMetrics lists the levels a held position sells or re-anchors
// against: every moving average plus both upper bands.
func (e *Evaluator) resistanceMetrics(table *indicator.Table) []string {
	out := make([]string, 0, len(e.params.SMAPeriods)+2)
	out = append(out, table.SMAColumns()...)
	out = append(out, "bb1_upper", "bb2_upper")
	return out
}

// twoLevelBreakout evaluates one band at two thresholds: the raw level
// and the level padded by margin. A breakout survives across ticks while
// price holds above the level ("keeping"), unless the previous tick
// already counted as a touch. Touch requires both levels in one tick.
func twoLevelBreakout(table *indicator.Table, hour, minute models.Bar, metric string, margin float64, prevBreakout, prevTouch bool) (breakout, atMargin, touch bool) {
	breakout = upwardBreakout(table, hour, minute, metric, 0) ||
		keepingBreakout(table, minute, metric, prevBreakout, prevTouch)
	atMargin = upwardBreakout(table, hour, minute, metric, margin)
	touch = breakout && atMargin
	return breakout, atMargin, touch
}

// upwardBreakout reports whether the minute close crossed above the
// metric from at or below it within the current hourly bar. When the
// hourly bar is stale the previous close stands in for the bar low.
// A NaN metric (indicator still warming up) never breaks out.
func upwardBreakout(table *indicator.Table, hour, minute models.Bar, metric string, offset float64) bool {
	threshold := table.Last(metric) + minute.Close*offset
	price := minute.Close
	if hour.Low <= threshold && price > threshold {
		return true
	}
	gap := hour.Timestamp.Sub(minute.Timestamp)
	if gap < 0 {
		gap = -gap
	}
	if gap > staleAfter {
		return hour.Close <= threshold && price > threshold
	}
	return false
}

// keepingBreakout carries last tick's breakout forward while price stays
// above the level. A previous touch consumes the carry.
func keepingBreakout(table *indicator.Table, minute models.Bar, metric string, prevBreakout, prevTouch bool) bool {
	if prevTouch {
		return false
	}
	return minute.Close > table.Last(metric) && prevBreakout
}

// poDivergence compares the last two extremes of the close series with
// the oscillator at the same bars. Disagreement between price making a
// lower low and the oscillator making a higher low (or the mirror on
// highs) yields +1 bullish / -1 bearish; agreement or not enough
// extremes yields 0.
func poDivergence(closes, po []float64) float64 {
	peaks, dips := indicator.PeaksAndDips(closes)
	if len(peaks) == 0 || len(dips) == 0 {
		return 0
	}
	peaks = indicator.LastTwo(peaks)
	dips = indicator.LastTwo(dips)
	peakFirst := peaks[0] < dips[0]
	dipFirst := peaks[0] > dips[0]

	bullish := len(dips) == 2 &&
		divergesBullish(closes[dips[0]], closes[dips[1]], po[dips[0]], po[dips[1]])
	bearish := len(peaks) == 2 &&
		divergesBearish(closes[peaks[0]], closes[peaks[1]], po[peaks[0]], po[peaks[1]])

	switch {
	case bullish && !bearish:
		return 1
	case !bullish && bearish:
		return -1
	case peakFirst:
		if bearish {
			return -1
		}
		return 0
	case dipFirst:
		if bullish {
			return 1
		}
	}
	return 0
}

func divergesBullish(closeOld, closeNew, poOld, poNew float64) bool {
	return (closeOld > closeNew && poOld < poNew) ||
		(closeOld < closeNew && poOld > poNew) ||
		(closeOld == closeNew && poOld > poNew)
}

func divergesBearish(closeOld, closeNew, poOld, poNew float64) bool {
	return (closeOld < closeNew && poOld > poNew) ||
		(closeOld > closeNew && poOld < poNew) ||
		(closeOld == closeNew && poOld > poNew)
}

// rsiCheck counts hills in the trailing window once RSI leaves the
// neutral zone: enough dips under 30 confirm an oversold base (+1),
// enough peaks over 70 confirm an overbought top (-1).
func (e *Evaluator) rsiCheck(rsi []float64) float64 {
	if len(rsi) < e.hillWin {
		return 0
	}
	current := rsi[len(rsi)-1]
	window := rsi[len(rsi)-e.hillWin:]
	switch {
	case current < 30:
		_, dips := indicator.PeaksAndDips(window)
		hills := 0
		for _, i := range dips {
			if window[i] < 30 {
				hills++
			}
		}
		if hills >= e.hills {
			return 1
		}
	case current > 70:
		peaks, _ := indicator.PeaksAndDips(window)
		hills := 0
		for _, i := range peaks {
			if window[i] > 70 {
				hills++
			}
		}
		if hills >= e.hills {
			return -1
		}
	}
	return 0
}

// smaAlignment scores how strictly the moving averages are stacked
// short-over-long, normalized to [-1, 1]. Every configured period must
// have a column; a missing one aborts the evaluation.
func (e *Evaluator) smaAlignment(table *indicator.Table) (float64, error) {
	last := make([]float64, 0, len(e.params.SMAPeriods))
	for _, period := range e.params.SMAPeriods {
		name := indicator.SMAName(period)
		if !table.Has(name) {
			return 0, fmt.Errorf("sma alignment: column %s missing", name)
		}
		last = append(last, table.Last(name))
	}
	score := 0
	for i := 0; i < len(last)-1; i++ {
		if last[i] > last[i+1] {
			score++
		} else {
			score--
		}
	}
	return float64(score) / float64(len(last)-1), nil
}

// smaBreakthrough counts the moving averages the price broke upward
// through this bar (with margin) and remembers the highest one as the
// stop-floor candidate.
func (e *Evaluator) smaBreakthrough(table *indicator.Table, hour, minute models.Bar) (count int, belowClose string) {
	bestValue := 0.0
	for _, period := range e.params.SMAPeriods {
		name := indicator.SMAName(period)
		if !upwardBreakout(table, hour, minute, name, e.smaMargin) {
			continue
		}
		count++
		if value := table.Last(name); value > bestValue {
			bestValue = value
			belowClose = name
		}
	}
	return count, belowClose
}

func boolScore(b bool) float64 {
	if b {
		return 1
	}
	return 0
}
