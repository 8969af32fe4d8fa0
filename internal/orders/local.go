package orders

import (
	"context"
	"fmt"
	"io"
	"log"

	"github.com/neuralprobe/D4/internal/broker"
	"github.com/neuralprobe/D4/internal/metrics"
	"github.com/neuralprobe/D4/internal/models"
	"github.com/neuralprobe/D4/internal/portfolio"
	"github.com/neuralprobe/D4/internal/util"
)

// LocalBuyer settles buys against the simulated ledger in the same tick
// they are decided. Backtests and paper dry-runs use it.
type LocalBuyer struct {
	account   portfolio.Account
	positions *portfolio.Positions
	ratio     float64
	logger    *log.Logger
}

// NewLocalBuyer wires a buyer to the simulated ledger. ratio is the
// one-time invest fraction of total value per buy.
func NewLocalBuyer(account portfolio.Account, positions *portfolio.Positions, ratio float64, logger *log.Logger) *LocalBuyer {
	if account == nil {
		panic("orders.NewLocalBuyer: account must not be nil")
	}
	if positions == nil {
		panic("orders.NewLocalBuyer: positions must not be nil")
	}
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}
	return &LocalBuyer{account: account, positions: positions, ratio: ratio, logger: logger}
}

// Buy sizes and settles the purchase immediately: the position opens (or
// folds into the held entry) and cash is debited in one step.
func (b *LocalBuyer) Buy(_ context.Context, rec models.DecisionRecord) (*Fill, error) {
	qty := investQty(b.account.TotalValue(), b.account.Cash(), rec.Price, b.ratio)
	if qty == 0 {
		b.logger.Printf("Buy %s refused: zero quantity at %.2f", rec.Symbol, rec.Price)
		metrics.OrdersRejected.Inc()
		return nil, nil
	}
	cost := rec.Price * qty
	if err := b.account.Debit(cost); err != nil {
		return nil, fmt.Errorf("settling buy %s: %w", rec.Symbol, err)
	}
	pos := models.NewPosition(rec.Symbol, rec.Timestamp, qty, rec.Price, cost, rec.StopValue, rec.StopKey, rec.StopTrailing)
	if err := b.positions.Add(pos); err != nil {
		b.account.Credit(cost)
		return nil, fmt.Errorf("booking buy %s: %w", rec.Symbol, err)
	}
	metrics.OrdersSubmitted.WithLabelValues(string(broker.Buy)).Inc()
	metrics.OrdersFilled.WithLabelValues(string(broker.Buy)).Inc()
	b.logger.Printf("Buy %s qty %.0f at %.2f cost %.2f stop %.2f(%s)",
		rec.Symbol, qty, rec.Price, cost, rec.StopValue, rec.StopKey)
	return &Fill{
		Time:   rec.Timestamp,
		Symbol: rec.Symbol,
		Side:   broker.Buy,
		Qty:    qty,
		Price:  rec.Price,
		Value:  cost,
	}, nil
}

// LocalSeller closes positions against the simulated ledger. Proceeds
// are rounded to cents so the cash column matches broker statements.
type LocalSeller struct {
	account   portfolio.Account
	positions *portfolio.Positions
	logger    *log.Logger
}

// NewLocalSeller wires a seller to the simulated ledger.
func NewLocalSeller(account portfolio.Account, positions *portfolio.Positions, logger *log.Logger) *LocalSeller {
	if account == nil {
		panic("orders.NewLocalSeller: account must not be nil")
	}
	if positions == nil {
		panic("orders.NewLocalSeller: positions must not be nil")
	}
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}
	return &LocalSeller{account: account, positions: positions, logger: logger}
}

// Sell liquidates the full held quantity at the decision price. Symbols
// not in the book are a silent no-op.
func (s *LocalSeller) Sell(_ context.Context, rec models.DecisionRecord) (*Fill, error) {
	pos := s.positions.Get(rec.Symbol)
	if pos == nil {
		return nil, nil
	}
	qty := pos.Qty
	proceeds := util.RoundCents(rec.Price * qty)
	s.positions.Remove(rec.Symbol)
	s.account.Credit(proceeds)
	metrics.OrdersSubmitted.WithLabelValues(string(broker.Sell)).Inc()
	metrics.OrdersFilled.WithLabelValues(string(broker.Sell)).Inc()
	s.logger.Printf("Sell %s qty %.0f at %.2f proceeds %.2f pnl %.2f",
		rec.Symbol, qty, rec.Price, proceeds, proceeds-pos.Cost)
	return &Fill{
		Time:   rec.Timestamp,
		Symbol: rec.Symbol,
		Side:   broker.Sell,
		Qty:    qty,
		Price:  rec.Price,
		Value:  proceeds,
	}, nil
}

var (
	_ Buyer  = (*LocalBuyer)(nil)
	_ Seller = (*LocalSeller)(nil)
)
