package util

import (
	"math"
	"testing"
)

func TestRoundToTick(t *testing.T) {
	tests := []struct {
		name     string
		x        float64
		tick     float64
		expected float64
	}{
		{
			name:     "basic rounding down",
			x:        1.2345,
			tick:     0.01,
			expected: 1.23,
		},
		{
			name:     "tie rounds away from zero",
			x:        1.235,
			tick:     0.01,
			expected: 1.24,
		},
		{
			name:     "negative basic rounding",
			x:        -1.2345,
			tick:     0.01,
			expected: -1.23,
		},
		{
			name:     "larger tick size",
			x:        1.27,
			tick:     0.05,
			expected: 1.25,
		},
		{
			name:     "exact multiple",
			x:        1.25,
			tick:     0.05,
			expected: 1.25,
		},
		{
			name:     "zero tick returns input",
			x:        1.2345,
			tick:     0,
			expected: 1.2345,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := RoundToTick(tt.x, tt.tick)
			if math.Abs(result-tt.expected) > 1e-10 {
				t.Errorf("RoundToTick(%v, %v) = %v, expected %v", tt.x, tt.tick, result, tt.expected)
			}
		})
	}
}

func TestRoundCents(t *testing.T) {
	tests := []struct {
		name     string
		x        float64
		expected float64
	}{
		{name: "sell proceeds", x: 105.0 * 50, expected: 5250.00},
		{name: "fractional cents", x: 99.12345, expected: 99.12},
		{name: "half cent rounds up", x: 10.005, expected: 10.01},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := RoundCents(tt.x)
			if math.Abs(result-tt.expected) > 1e-10 {
				t.Errorf("RoundCents(%v) = %v, expected %v", tt.x, result, tt.expected)
			}
		})
	}
}

func TestApproxEqual(t *testing.T) {
	if !ApproxEqual(1.0, 1.0+1e-12, 1e-9) {
		t.Error("expected values within eps to compare equal")
	}
	if ApproxEqual(1.0, 1.1, 1e-9) {
		t.Error("expected values outside eps to compare unequal")
	}
}

func TestSanitizeFloat(t *testing.T) {
	if got := SanitizeFloat(math.NaN()); got != 0 {
		t.Errorf("SanitizeFloat(NaN) = %v, expected 0", got)
	}
	if got := SanitizeFloat(math.Inf(1)); got != 0 {
		t.Errorf("SanitizeFloat(+Inf) = %v, expected 0", got)
	}
	if got := SanitizeFloat(math.Inf(-1)); got != 0 {
		t.Errorf("SanitizeFloat(-Inf) = %v, expected 0", got)
	}
	if got := SanitizeFloat(42.5); got != 42.5 {
		t.Errorf("SanitizeFloat(42.5) = %v, expected 42.5", got)
	}
}
