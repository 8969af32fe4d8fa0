package indicator

import "math"

// Bollinger computes bands around the SMA of the series: mid plus and
// minus mult standard deviations (sample deviation, matching the usual
// dataframe convention). Bandwidth is 100*(upper-lower)/mid and percent
// is the position of the close inside the band.
func Bollinger(values []float64, length int, mult float64) (lower, mid, upper, bandwidth, percent []float64) {
	n := len(values)
	lower, mid, upper = nans(n), nans(n), nans(n)
	bandwidth, percent = nans(n), nans(n)
	if length <= 1 || n < length {
		return
	}

	var sum, sumsq float64
	for i, v := range values {
		sum += v
		sumsq += v * v
		if i >= length {
			old := values[i-length]
			sum -= old
			sumsq -= old * old
		}
		if i < length-1 {
			continue
		}
		fl := float64(length)
		m := sum / fl
		variance := (sumsq - sum*sum/fl) / (fl - 1)
		if variance < 0 {
			variance = 0
		}
		sd := math.Sqrt(variance)

		mid[i] = m
		upper[i] = m + mult*sd
		lower[i] = m - mult*sd
		if m != 0 {
			bandwidth[i] = 100 * (upper[i] - lower[i]) / m
		}
		if band := upper[i] - lower[i]; band != 0 {
			percent[i] = (v - lower[i]) / band
		}
	}
	return
}
