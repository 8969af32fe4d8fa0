package indicator

// RSI is Wilder's relative strength index: the seed average uses a
// simple mean of the first period deltas, then smooths recursively.
// Values are NaN through index period-1. A window with no losses reads
// 100.
func RSI(values []float64, period int) []float64 {
	out := nans(len(values))
	if period <= 0 || len(values) <= period {
		return out
	}

	var avgGain, avgLoss float64
	for i := 1; i <= period; i++ {
		d := values[i] - values[i-1]
		if d > 0 {
			avgGain += d
		} else {
			avgLoss -= d
		}
	}
	fp := float64(period)
	avgGain /= fp
	avgLoss /= fp
	out[period] = rsiValue(avgGain, avgLoss)

	for i := period + 1; i < len(values); i++ {
		d := values[i] - values[i-1]
		var gain, loss float64
		if d > 0 {
			gain = d
		} else {
			loss = -d
		}
		avgGain = (avgGain*(fp-1) + gain) / fp
		avgLoss = (avgLoss*(fp-1) + loss) / fp
		out[i] = rsiValue(avgGain, avgLoss)
	}
	return out
}

func rsiValue(avgGain, avgLoss float64) float64 {
	if avgLoss == 0 {
		return 100
	}
	rs := avgGain / avgLoss
	return 100 - 100/(1+rs)
}
