// Package orders turns a tick's decision records into venue orders:
// sells release cash first, then buys run in descending trading-value
// order under the per-minute cap. Local dispatchers settle against the
// simulated ledger immediately; live dispatchers submit market orders
// and mutate the book only on broker-confirmed fills.
package orders

import (
	"context"
	"math"
	"strconv"
	"time"

	"github.com/neuralprobe/D4/internal/broker"
	"github.com/neuralprobe/D4/internal/models"
)

// Buyer opens or extends a position from a buy decision. A nil Fill with
// a nil error means the buy was refused or went unfilled; the ledger is
// untouched either way.
type Buyer interface {
	Buy(ctx context.Context, rec models.DecisionRecord) (*Fill, error)
}

// Seller closes the held position named by a sell decision. A nil Fill
// with a nil error means there was nothing to sell or the venue has not
// confirmed the fill yet.
type Seller interface {
	Sell(ctx context.Context, rec models.DecisionRecord) (*Fill, error)
}

// Fill is the settled outcome of one dispatched order.
type Fill struct {
	Time   time.Time
	Symbol string
	Side   broker.OrderSide
	Qty    float64
	Price  float64
	// Value is the cash moved: cost for buys, proceeds for sells.
	Value float64
}

// OrderHeader is the column order used by the order CSV sink.
func OrderHeader() []string {
	return []string{"time", "symbol", "side", "qty", "price", "value"}
}

// CSVRow renders the fill in OrderHeader order.
func (f *Fill) CSVRow() []string {
	return []string{
		f.Time.Format(time.RFC3339),
		f.Symbol,
		string(f.Side),
		strconv.FormatFloat(f.Qty, 'f', -1, 64),
		strconv.FormatFloat(f.Price, 'f', -1, 64),
		strconv.FormatFloat(f.Value, 'f', -1, 64),
	}
}

// investQty sizes a buy. One tick's budget is a floored fraction of the
// book's total value, and the position can never exceed what cash
// covers; both legs floor to whole shares.
func investQty(totalValue, cash, price, ratio float64) float64 {
	if price <= 0 {
		return 0
	}
	budget := math.Floor(totalValue * ratio)
	qty := math.Min(math.Floor(budget/price), math.Floor(cash/price))
	if qty < 0 {
		return 0
	}
	return qty
}
