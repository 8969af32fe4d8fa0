package indicator

// PeaksAndDips returns the indices of local maxima and minima of the
// series. Interior points must be strictly above (below) both
// neighbours. The final point counts as a peak when it exceeds its
// predecessor and as a dip when it is below, so a move still in
// progress is treated as an extremum.
func PeaksAndDips(values []float64) (peaks, dips []int) {
	n := len(values)
	if n < 2 {
		return nil, nil
	}
	for i := 1; i < n-1; i++ {
		if values[i] > values[i-1] && values[i] > values[i+1] {
			peaks = append(peaks, i)
		}
		if values[i] < values[i-1] && values[i] < values[i+1] {
			dips = append(dips, i)
		}
	}
	if values[n-1] > values[n-2] {
		peaks = append(peaks, n-1)
	}
	if values[n-1] < values[n-2] {
		dips = append(dips, n-1)
	}
	return peaks, dips
}

// LastTwo trims an index list to its final two entries.
func LastTwo(idx []int) []int {
	if len(idx) > 2 {
		return idx[len(idx)-2:]
	}
	return idx
}
