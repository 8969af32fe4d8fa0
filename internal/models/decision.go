package models

import (
	"strconv"
	"time"

	"github.com/neuralprobe/D4/internal/util"
)

// DecisionRecord is one strategy verdict for one symbol at one minute.
// It carries the final buy/sell calls plus every intermediate signal so
// the prophecy log can be replayed without rerunning the strategy.
type DecisionRecord struct {
	Symbol    string    `json:"symbol"`
	Timestamp time.Time `json:"timestamp"`
	Price     float64   `json:"price"`

	BreakoutBB1         bool `json:"breakout_bb1"`
	BreakoutBB1AtMargin bool `json:"breakout_bb1_at_margin"`
	TouchBB1            bool `json:"touch_bb1"`
	BreakoutBB2         bool `json:"breakout_bb2"`
	BreakoutBB2AtMargin bool `json:"breakout_bb2_at_margin"`
	TouchBB2            bool `json:"touch_bb2"`

	PODivergence     float64 `json:"po_divergence"`
	RSICheck         float64 `json:"rsi_check"`
	SMAAlignStrength float64 `json:"sma_align_strength"`
	SMABreakCount    int     `json:"sma_break_count"`
	SMABelowClose    string  `json:"sma_below_close"`

	Buy         bool    `json:"buy"`
	BuyReason   string  `json:"buy_reason"`
	BuyStrength float64 `json:"buy_strength"`

	StopValue    float64 `json:"stop_value"`
	StopKey      string  `json:"stop_key"`
	StopTrailing float64 `json:"stop_trailing"`
	TrackedStop  float64 `json:"tracked_stop"`
	TradingValue float64 `json:"trading_value"`

	StopLoss           bool    `json:"stoploss"`
	ResistanceBreakout bool    `json:"resistance_breakout"`
	NewStopValue       float64 `json:"new_stop_value"`
	NewStopKey         string  `json:"new_stop_key"`
	TopResistBreak     bool    `json:"top_resist_break"`

	Sell       bool   `json:"sell"`
	SellReason string `json:"sell_reason"`
	KeepProfit bool   `json:"keep_profit"`
}

// DecisionHeader is the column order used by the prophecy CSV sinks.
func DecisionHeader() []string {
	return []string{
		"symbol", "timestamp", "price",
		"breakout_bb1", "breakout_bb1_at_margin", "touch_bb1",
		"breakout_bb2", "breakout_bb2_at_margin", "touch_bb2",
		"po_divergence", "rsi_check",
		"sma_align_strength", "sma_break_count", "sma_below_close",
		"buy", "buy_reason", "buy_strength",
		"stop_value", "stop_key", "stop_trailing", "tracked_stop", "trading_value",
		"stoploss", "resistance_breakout", "new_stop_value", "new_stop_key", "top_resist_break",
		"sell", "sell_reason", "keep_profit",
	}
}

// CSVRow renders the record in DecisionHeader order.
func (d *DecisionRecord) CSVRow() []string {
	return []string{
		d.Symbol,
		d.Timestamp.Format(time.RFC3339),
		formatFloat(d.Price),
		strconv.FormatBool(d.BreakoutBB1),
		strconv.FormatBool(d.BreakoutBB1AtMargin),
		strconv.FormatBool(d.TouchBB1),
		strconv.FormatBool(d.BreakoutBB2),
		strconv.FormatBool(d.BreakoutBB2AtMargin),
		strconv.FormatBool(d.TouchBB2),
		formatFloat(d.PODivergence),
		formatFloat(d.RSICheck),
		formatFloat(d.SMAAlignStrength),
		strconv.Itoa(d.SMABreakCount),
		d.SMABelowClose,
		strconv.FormatBool(d.Buy),
		d.BuyReason,
		formatFloat(d.BuyStrength),
		formatFloat(d.StopValue),
		d.StopKey,
		formatFloat(d.StopTrailing),
		formatFloat(d.TrackedStop),
		formatFloat(d.TradingValue),
		strconv.FormatBool(d.StopLoss),
		strconv.FormatBool(d.ResistanceBreakout),
		formatFloat(d.NewStopValue),
		d.NewStopKey,
		strconv.FormatBool(d.TopResistBreak),
		strconv.FormatBool(d.Sell),
		d.SellReason,
		strconv.FormatBool(d.KeepProfit),
	}
}

// formatFloat renders a column value. Unwarmed indicator levels reach
// the record as NaN; they serialize as 0 so the CSV stays parseable.
func formatFloat(x float64) string {
	return strconv.FormatFloat(util.SanitizeFloat(x), 'f', -1, 64)
}

// DecisionRing keeps the newest records for one symbol so the next tick
// can consult the previous verdict (breakout keeping, touch cancellation).
type DecisionRing struct {
	depth int
	recs  []DecisionRecord
}

// NewDecisionRing returns a ring evicting oldest-first past depth.
func NewDecisionRing(depth int) *DecisionRing {
	if depth < 1 {
		depth = 1
	}
	return &DecisionRing{depth: depth}
}

// Push appends a record, evicting the oldest when the ring is full.
func (r *DecisionRing) Push(rec DecisionRecord) {
	r.recs = append(r.recs, rec)
	if len(r.recs) > r.depth {
		// Copy down instead of re-slicing so the backing array stays small.
		copy(r.recs, r.recs[1:])
		r.recs = r.recs[:r.depth]
	}
}

// Last returns the most recently pushed record, false when empty.
func (r *DecisionRing) Last() (DecisionRecord, bool) {
	if len(r.recs) == 0 {
		return DecisionRecord{}, false
	}
	return r.recs[len(r.recs)-1], true
}

// Len returns the number of retained records.
func (r *DecisionRing) Len() int { return len(r.recs) }

// Records returns retained records oldest first. Callers must not mutate
// the returned slice.
func (r *DecisionRing) Records() []DecisionRecord { return r.recs }
