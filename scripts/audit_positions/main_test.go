package main

import (
	"testing"
	"time"

	"github.com/neuralprobe/D4/internal/broker"
	"github.com/neuralprobe/D4/internal/storage"
)

func TestMaskKey(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected string
	}{
		{
			name:     "typical API key",
			input:    "PKABCDEF123456",
			expected: "**********3456",
		},
		{
			name:     "exactly 4 chars",
			input:    "1234",
			expected: "1234",
		},
		{
			name:     "shorter than 4 chars",
			input:    "123",
			expected: "123",
		},
		{
			name:     "empty string",
			input:    "",
			expected: "",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := maskKey(tt.input)
			if result != tt.expected {
				t.Errorf("maskKey(%q) = %q, expected %q", tt.input, result, tt.expected)
			}
		})
	}
}

func TestBuildReport(t *testing.T) {
	now := time.Date(2024, 7, 1, 16, 0, 0, 0, time.UTC)
	items := []broker.PositionItem{
		{Symbol: "NVDA", Qty: 10, CurrentPrice: 200, MarketValue: 2000, UnrealizedPL: 100},
		{Symbol: "AAPL", Qty: 5, CurrentPrice: 150, MarketValue: 750, UnrealizedPL: -25},
	}
	states := map[string]storage.SymbolState{
		"AAPL": {StopValue: 140, StopKey: "bb1_lower", StopTrailing: 148.5},
		"GONE": {StopValue: 50, StopKey: "sma5", StopTrailing: 55},
	}

	report := buildReport(items, states, now)

	if report.Summary.VenuePositions != 2 {
		t.Errorf("VenuePositions = %d, expected 2", report.Summary.VenuePositions)
	}
	if report.Summary.TrackedStops != 1 {
		t.Errorf("TrackedStops = %d, expected 1", report.Summary.TrackedStops)
	}
	if report.Summary.MissingStops != 1 {
		t.Errorf("MissingStops = %d, expected 1", report.Summary.MissingStops)
	}
	if len(report.StaleStops) != 1 || report.StaleStops[0] != "GONE" {
		t.Errorf("StaleStops = %v, expected [GONE]", report.StaleStops)
	}
	if report.Summary.MarketValue != 2750 {
		t.Errorf("MarketValue = %.2f, expected 2750", report.Summary.MarketValue)
	}

	// Lines come back sorted by symbol.
	if report.Positions[0].Symbol != "AAPL" || report.Positions[1].Symbol != "NVDA" {
		t.Errorf("positions out of order: %v, %v", report.Positions[0].Symbol, report.Positions[1].Symbol)
	}
	if !report.Positions[0].HasStopState || report.Positions[0].StopKey != "bb1_lower" {
		t.Errorf("AAPL stop state not joined: %+v", report.Positions[0])
	}
	if report.Positions[1].HasStopState {
		t.Errorf("NVDA should have no stop state: %+v", report.Positions[1])
	}
}

func TestBuildReportEmpty(t *testing.T) {
	report := buildReport(nil, nil, time.Now())
	if report.Summary.VenuePositions != 0 || len(report.StaleStops) != 0 {
		t.Errorf("empty inputs produced non-empty report: %+v", report)
	}
}
