package models

import (
	"fmt"
	"time"
)

// Position is one held equity entry in the book. Qty and Cost accumulate
// across fills; AvgPrice and MarketValue are derived. The stop fields
// only ever ratchet upward while the position is open.
type Position struct {
	Symbol       string    `json:"symbol"`
	EntryTime    time.Time `json:"entry_time"`
	Qty          float64   `json:"qty"`
	Cost         float64   `json:"cost"`
	AvgPrice     float64   `json:"avg_price"`
	Price        float64   `json:"price"`
	MarketValue  float64   `json:"market_value"`
	StopValue    float64   `json:"stop_value"`
	StopKey      string    `json:"stop_key"`
	StopTrailing float64   `json:"stop_trailing"`
}

// NewPosition builds a position from a fill. Cost is the full purchase
// amount, not the per-share price; the stop fields come from the decision
// that triggered the fill.
func NewPosition(symbol string, t time.Time, qty, price, cost, stopValue float64, stopKey string, stopTrailing float64) *Position {
	p := &Position{
		Symbol:       symbol,
		EntryTime:    t,
		Qty:          qty,
		Cost:         cost,
		Price:        price,
		StopValue:    stopValue,
		StopKey:      stopKey,
		StopTrailing: stopTrailing,
	}
	if qty > 0 {
		p.AvgPrice = cost / qty
	}
	p.MarketValue = price * qty
	return p
}

// Fold absorbs an additional fill for the same symbol. Quantity and cost
// accumulate, the average reprices, and stops fold by max so they never
// ratchet down. The original entry time is kept.
func (p *Position) Fold(fill *Position) {
	p.Qty += fill.Qty
	p.Cost += fill.Cost
	if p.Qty > 0 {
		p.AvgPrice = p.Cost / p.Qty
	}
	p.UpdatePrice(fill.Price)
	p.RaiseStop(fill.StopValue, fill.StopKey)
	p.RaiseTrailing(fill.StopTrailing)
}

// UpdatePrice reprices the position at the latest close.
func (p *Position) UpdatePrice(price float64) {
	p.Price = price
	p.MarketValue = price * p.Qty
}

// RaiseStop lifts the indicator stop to value and records the metric key
// it came from. Values below the current stop are ignored. An equal value
// still swaps the key, which lets a resistance breakout hand the stop to
// a higher metric at the same level.
func (p *Position) RaiseStop(value float64, key string) bool {
	if value < p.StopValue || value <= 0 {
		return false
	}
	p.StopValue = value
	p.StopKey = key
	return true
}

// RaiseTrailing lifts the trailing stop, ignoring lower values.
func (p *Position) RaiseTrailing(value float64) bool {
	if value <= p.StopTrailing {
		return false
	}
	p.StopTrailing = value
	return true
}

// StopLevel is the effective stop: the higher of the indicator stop and
// the trailing stop.
func (p *Position) StopLevel() float64 {
	if p.StopValue > p.StopTrailing {
		return p.StopValue
	}
	return p.StopTrailing
}

// Validate checks the book-keeping invariants.
func (p *Position) Validate() error {
	if p.Symbol == "" {
		return fmt.Errorf("position has empty symbol")
	}
	if p.Qty <= 0 {
		return fmt.Errorf("position %s: non-positive qty %.4f", p.Symbol, p.Qty)
	}
	if p.StopValue < 0 || p.StopTrailing < 0 {
		return fmt.Errorf("position %s: negative stop", p.Symbol)
	}
	return nil
}
