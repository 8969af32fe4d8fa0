package models

import (
	"math"
	"testing"
	"time"
)

func TestNewPositionDerivesAverages(t *testing.T) {
	entry := time.Date(2024, 3, 4, 10, 31, 0, 0, time.UTC)
	p := NewPosition("AAPL", entry, 50, 100, 5000, 0, "", 99)

	if p.AvgPrice != 100 {
		t.Errorf("AvgPrice = %v, want 100", p.AvgPrice)
	}
	if p.MarketValue != 5000 {
		t.Errorf("MarketValue = %v, want 5000", p.MarketValue)
	}
	if p.StopTrailing != 99 {
		t.Errorf("StopTrailing = %v, want 99", p.StopTrailing)
	}
	if err := p.Validate(); err != nil {
		t.Errorf("Validate() = %v, want nil", err)
	}
}

func TestFoldAccumulatesAndRepricesAverage(t *testing.T) {
	entry := time.Date(2024, 3, 4, 10, 31, 0, 0, time.UTC)
	p := NewPosition("AAPL", entry, 10, 100, 1000, 95, "sma20", 99)
	fill := NewPosition("AAPL", entry.Add(time.Minute), 10, 110, 1100, 90, "sma5", 108.9)

	p.Fold(fill)

	if p.Qty != 20 {
		t.Errorf("Qty = %v, want 20", p.Qty)
	}
	if p.Cost != 2100 {
		t.Errorf("Cost = %v, want 2100", p.Cost)
	}
	if math.Abs(p.AvgPrice-105) > 1e-9 {
		t.Errorf("AvgPrice = %v, want 105", p.AvgPrice)
	}
	if p.MarketValue != 110*20 {
		t.Errorf("MarketValue = %v, want %v", p.MarketValue, 110*20.0)
	}
	if !p.EntryTime.Equal(entry) {
		t.Errorf("EntryTime changed to %v, want original %v", p.EntryTime, entry)
	}
	// Stop fold keeps the max of each stop field.
	if p.StopValue != 95 || p.StopKey != "sma20" {
		t.Errorf("stop = %v/%q, want 95/sma20", p.StopValue, p.StopKey)
	}
	if p.StopTrailing != 108.9 {
		t.Errorf("StopTrailing = %v, want 108.9", p.StopTrailing)
	}
}

func TestRaiseStopRatchets(t *testing.T) {
	p := NewPosition("MSFT", time.Now(), 5, 100, 500, 0, "", 0)

	if !p.RaiseStop(95, "sma20") {
		t.Fatal("RaiseStop(95) = false, want true")
	}
	if p.RaiseStop(90, "sma5") {
		t.Error("RaiseStop(90) accepted a lower stop")
	}
	if p.StopValue != 95 || p.StopKey != "sma20" {
		t.Errorf("stop = %v/%q after rejected lower raise, want 95/sma20", p.StopValue, p.StopKey)
	}
	// An equal value still hands the stop to the new metric.
	if !p.RaiseStop(95, "bb1_upper") {
		t.Error("RaiseStop(95) with equal value = false, want true")
	}
	if p.StopKey != "bb1_upper" {
		t.Errorf("StopKey = %q, want bb1_upper", p.StopKey)
	}
}

func TestRaiseTrailingRatchets(t *testing.T) {
	p := NewPosition("MSFT", time.Now(), 5, 100, 500, 0, "", 99)

	if p.RaiseTrailing(98) {
		t.Error("RaiseTrailing(98) accepted a lower trail")
	}
	if !p.RaiseTrailing(108.9) {
		t.Error("RaiseTrailing(108.9) = false, want true")
	}
	if p.StopTrailing != 108.9 {
		t.Errorf("StopTrailing = %v, want 108.9", p.StopTrailing)
	}
}

func TestStopLevelTakesMax(t *testing.T) {
	p := NewPosition("NVDA", time.Now(), 1, 100, 100, 0, "", 0)
	p.RaiseStop(95, "sma20")
	p.RaiseTrailing(99)
	if got := p.StopLevel(); got != 99 {
		t.Errorf("StopLevel() = %v, want 99", got)
	}
	p.RaiseStop(104, "bb2_upper")
	if got := p.StopLevel(); got != 104 {
		t.Errorf("StopLevel() = %v, want 104", got)
	}
}

func TestValidateRejectsBadPositions(t *testing.T) {
	tests := []struct {
		name string
		pos  Position
	}{
		{"empty symbol", Position{Qty: 1}},
		{"zero qty", Position{Symbol: "AAPL"}},
		{"negative qty", Position{Symbol: "AAPL", Qty: -5}},
		{"negative stop", Position{Symbol: "AAPL", Qty: 1, StopValue: -1}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := tt.pos.Validate(); err == nil {
				t.Error("Validate() = nil, want error")
			}
		})
	}
}
