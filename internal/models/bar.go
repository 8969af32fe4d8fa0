package models

import (
	"fmt"
	"time"
)

// Bar is a single OHLCV aggregate for one symbol at one timestamp. The
// same struct carries minute, hourly, and daily aggregates; the owning
// History decides the cadence.
type Bar struct {
	Timestamp    time.Time `json:"timestamp"`
	Open         float64   `json:"open"`
	High         float64   `json:"high"`
	Low          float64   `json:"low"`
	Close        float64   `json:"close"`
	Volume       float64   `json:"volume"`
	TradeCount   float64   `json:"trade_count"`
	VWAP         float64   `json:"vwap"`
	TradingValue float64   `json:"trading_value"`
}

// ComputeTradingValue fills TradingValue from Volume and VWAP. Called once
// at ingest so downstream consumers never recompute it.
func (b *Bar) ComputeTradingValue() {
	b.TradingValue = b.Volume * b.VWAP
}

// Validate checks the OHLC envelope and the non-negative money fields.
func (b *Bar) Validate() error {
	if b.Timestamp.IsZero() {
		return fmt.Errorf("bar has zero timestamp")
	}
	lo := b.Open
	if b.Close < lo {
		lo = b.Close
	}
	hi := b.Open
	if b.Close > hi {
		hi = b.Close
	}
	if b.Low > lo {
		return fmt.Errorf("bar %s: low %.4f above min(open, close) %.4f", b.Timestamp, b.Low, lo)
	}
	if b.High < hi {
		return fmt.Errorf("bar %s: high %.4f below max(open, close) %.4f", b.Timestamp, b.High, hi)
	}
	if b.Volume < 0 {
		return fmt.Errorf("bar %s: negative volume %.2f", b.Timestamp, b.Volume)
	}
	if b.TradingValue < 0 {
		return fmt.Errorf("bar %s: negative trading value %.2f", b.Timestamp, b.TradingValue)
	}
	return nil
}
