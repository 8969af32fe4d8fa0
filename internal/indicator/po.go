package indicator

import "math"

// PriceOscillator is the percentage distance of the close from its own
// SMA: 100*(close-sma)/sma. NaN through the SMA warm-up and wherever
// the SMA is zero.
func PriceOscillator(values []float64, length int) []float64 {
	out := nans(len(values))
	sma := SMA(values, length)
	for i, m := range sma {
		if m == 0 || math.IsNaN(m) {
			continue
		}
		out[i] = 100 * (values[i] - m) / m
	}
	return out
}
