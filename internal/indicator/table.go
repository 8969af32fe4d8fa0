// Package indicator computes the hourly metric columns the strategy
// consumes. Columns are NaN-padded until their warm-up completes, the
// same convention the rest of the engine relies on: comparisons against
// NaN are false, so a cold indicator never fires a signal.
package indicator

import (
	"fmt"
	"math"
)

// Params selects the indicator set computed per symbol.
type Params struct {
	BB1Length  int
	BB1Mult    float64
	BB2Length  int
	BB2Mult    float64
	POLength   int
	RSILength  int
	SMAPeriods []int
}

// DefaultParams mirror the production strategy settings.
func DefaultParams() Params {
	return Params{
		BB1Length:  20,
		BB1Mult:    2,
		BB2Length:  4,
		BB2Mult:    4,
		POLength:   14,
		RSILength:  14,
		SMAPeriods: []int{5, 20, 60, 120, 240, 480},
	}
}

// Table holds named metric columns for one symbol, all aligned to the
// hourly series they were computed from. Iteration order is insertion
// order, which keeps stop-candidate scans deterministic.
type Table struct {
	names []string
	cols  map[string][]float64
	smas  []string
}

// NewTable returns an empty table.
func NewTable() *Table {
	return &Table{cols: make(map[string][]float64)}
}

// Add registers a column under name. Re-adding a name overwrites the
// column but keeps its original position.
func (t *Table) Add(name string, col []float64) {
	if _, ok := t.cols[name]; !ok {
		t.names = append(t.names, name)
	}
	t.cols[name] = col
}

// Has reports whether the named column was computed.
func (t *Table) Has(name string) bool {
	_, ok := t.cols[name]
	return ok
}

// Column returns the named column, nil when absent.
func (t *Table) Column(name string) []float64 { return t.cols[name] }

// Last returns the most recent value of the named column, NaN when the
// column is absent or empty.
func (t *Table) Last(name string) float64 {
	col, ok := t.cols[name]
	if !ok || len(col) == 0 {
		return math.NaN()
	}
	return col[len(col)-1]
}

// Names returns all column names in insertion order.
func (t *Table) Names() []string { return t.names }

// SMAColumns returns the SMA column names in ascending period order.
func (t *Table) SMAColumns() []string { return t.smas }

// SMAName is the column name for an SMA of the given period.
func SMAName(period int) string { return fmt.Sprintf("sma%d", period) }

// Compute builds the full indicator table from an hourly close series.
// SMA columns are added only when the series has at least period
// samples; everything else is always present, NaN-padded through its
// warm-up.
func Compute(closes []float64, p Params) *Table {
	t := NewTable()

	lower, mid, upper, bandwidth, percent := Bollinger(closes, p.BB1Length, p.BB1Mult)
	t.Add("bb1_lower", lower)
	t.Add("bb1_mid", mid)
	t.Add("bb1_upper", upper)
	t.Add("bb1_bandwidth", bandwidth)
	t.Add("bb1_percent", percent)

	lower, mid, upper, bandwidth, percent = Bollinger(closes, p.BB2Length, p.BB2Mult)
	t.Add("bb2_lower", lower)
	t.Add("bb2_mid", mid)
	t.Add("bb2_upper", upper)
	t.Add("bb2_bandwidth", bandwidth)
	t.Add("bb2_percent", percent)

	t.Add("po", PriceOscillator(closes, p.POLength))
	t.Add("rsi", RSI(closes, p.RSILength))

	for _, period := range p.SMAPeriods {
		if len(closes) < period {
			continue
		}
		name := SMAName(period)
		t.Add(name, SMA(closes, period))
		t.smas = append(t.smas, name)
	}
	return t
}

func nans(n int) []float64 {
	out := make([]float64, n)
	nan := math.NaN()
	for i := range out {
		out[i] = nan
	}
	return out
}
