// Package util provides common utility functions for price calculations.
package util

import "math"

// RoundToTick rounds x to the nearest tick increment.
// For example, with tick=0.01, 1.2345 becomes 1.23 or 1.24 depending on rounding.
func RoundToTick(x, tick float64) float64 {
	if tick <= 0 {
		return x
	}
	return math.Round(x/tick) * tick
}

// RoundCents rounds a dollar amount to the nearest cent. Sell proceeds are
// settled in cents so local cash stays comparable to broker statements.
func RoundCents(x float64) float64 {
	return RoundToTick(x, 0.01)
}

// ApproxEqual reports whether a and b differ by less than eps.
func ApproxEqual(a, b, eps float64) bool {
	return math.Abs(a-b) < eps
}

// SanitizeFloat replaces NaN and infinities with zero so serialized rows and
// indicator columns never carry unprintable values.
func SanitizeFloat(x float64) float64 {
	if math.IsNaN(x) || math.IsInf(x, 0) {
		return 0
	}
	return x
}
