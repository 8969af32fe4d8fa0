package orders

import (
	"context"
	"fmt"
	"io"
	"log"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/neuralprobe/D4/internal/broker"
	"github.com/neuralprobe/D4/internal/metrics"
	"github.com/neuralprobe/D4/internal/models"
	"github.com/neuralprobe/D4/internal/portfolio"
	"github.com/neuralprobe/D4/internal/util"
)

// LiveBuyer submits DAY market orders to the venue. The book and the
// cached cash only move on a broker-confirmed fill; a buy that does not
// fill inside the poll window is cancelled so no stale bid lingers into
// the next minute.
type LiveBuyer struct {
	broker    broker.Broker
	account   portfolio.Account
	positions *portfolio.Positions
	ratio     float64
	logger    *log.Logger
	config    Config
}

// NewLiveBuyer wires a buyer to the venue. ratio is the one-time invest
// fraction of total value per buy.
func NewLiveBuyer(b broker.Broker, account portfolio.Account, positions *portfolio.Positions, ratio float64, logger *log.Logger, config ...Config) *LiveBuyer {
	if b == nil {
		panic("orders.NewLiveBuyer: broker must not be nil")
	}
	if account == nil {
		panic("orders.NewLiveBuyer: account must not be nil")
	}
	if positions == nil {
		panic("orders.NewLiveBuyer: positions must not be nil")
	}
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}
	return &LiveBuyer{
		broker:    b,
		account:   account,
		positions: positions,
		ratio:     ratio,
		logger:    logger,
		config:    clampConfig(config...),
	}
}

// Buy submits a market buy and waits for the venue to confirm the fill.
// Unfilled orders are cancelled at the end of the window and the tick
// moves on; the reconciler picks up any fill that races the cancel.
func (b *LiveBuyer) Buy(ctx context.Context, rec models.DecisionRecord) (*Fill, error) {
	qty := investQty(b.account.TotalValue(), b.account.Cash(), rec.Price, b.ratio)
	if qty == 0 {
		b.logger.Printf("Buy %s refused: zero quantity at %.2f", rec.Symbol, rec.Price)
		metrics.OrdersRejected.Inc()
		return nil, nil
	}
	clientID := uuid.NewString()
	submitted, err := b.broker.SubmitMarketOrder(broker.OrderRequest{
		Symbol:        rec.Symbol,
		Qty:           qty,
		Side:          broker.Buy,
		ClientOrderID: clientID,
	})
	if err != nil {
		return nil, fmt.Errorf("submitting buy %s: %w", rec.Symbol, err)
	}
	metrics.OrdersSubmitted.WithLabelValues(string(broker.Buy)).Inc()

	order, err := awaitFill(ctx, b.broker, clientID, b.config, b.logger)
	if err != nil {
		metrics.OrdersRejected.Inc()
		return nil, fmt.Errorf("buy %s: %w", rec.Symbol, err)
	}
	if order == nil {
		if cancelErr := b.broker.CancelOrder(submitted.ID); cancelErr != nil {
			b.logger.Printf("Cancelling unfilled buy %s: %v", rec.Symbol, cancelErr)
		}
		b.logger.Printf("Buy %s unfilled after %s; cancelled", rec.Symbol, b.config.FillWait)
		metrics.OrdersRejected.Inc()
		return nil, nil
	}

	price := order.FilledAvgPrice
	filledQty := order.FilledQty
	cost := price * filledQty
	filledAt := rec.Timestamp
	if order.FilledAt != nil {
		filledAt = *order.FilledAt
	}
	if err := b.account.Debit(cost); err != nil {
		return nil, fmt.Errorf("settling buy %s: %w", rec.Symbol, err)
	}
	pos := models.NewPosition(rec.Symbol, filledAt, filledQty, price, cost, rec.StopValue, rec.StopKey, rec.StopTrailing)
	if err := b.positions.Add(pos); err != nil {
		b.account.Credit(cost)
		return nil, fmt.Errorf("booking buy %s: %w", rec.Symbol, err)
	}
	metrics.OrdersFilled.WithLabelValues(string(broker.Buy)).Inc()
	b.logger.Printf("Buy %s filled qty %.0f at %.2f cost %.2f stop %.2f(%s)",
		rec.Symbol, filledQty, price, cost, rec.StopValue, rec.StopKey)
	return &Fill{
		Time:   filledAt,
		Symbol: rec.Symbol,
		Side:   broker.Buy,
		Qty:    filledQty,
		Price:  price,
		Value:  cost,
	}, nil
}

// LiveSeller submits DAY market sells. Sells are never cancelled: an
// order still working when the window lapses stays at the venue, and the
// reconciler removes the position once the fill lands.
type LiveSeller struct {
	broker    broker.Broker
	account   portfolio.Account
	positions *portfolio.Positions
	logger    *log.Logger
	config    Config
}

// NewLiveSeller wires a seller to the venue.
func NewLiveSeller(b broker.Broker, account portfolio.Account, positions *portfolio.Positions, logger *log.Logger, config ...Config) *LiveSeller {
	if b == nil {
		panic("orders.NewLiveSeller: broker must not be nil")
	}
	if account == nil {
		panic("orders.NewLiveSeller: account must not be nil")
	}
	if positions == nil {
		panic("orders.NewLiveSeller: positions must not be nil")
	}
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}
	return &LiveSeller{
		broker:    b,
		account:   account,
		positions: positions,
		logger:    logger,
		config:    clampConfig(config...),
	}
}

// Sell submits a market sell for the full held quantity and waits for
// the fill. Symbols not in the book are a silent no-op.
func (s *LiveSeller) Sell(ctx context.Context, rec models.DecisionRecord) (*Fill, error) {
	pos := s.positions.Get(rec.Symbol)
	if pos == nil {
		return nil, nil
	}
	clientID := uuid.NewString()
	if _, err := s.broker.SubmitMarketOrder(broker.OrderRequest{
		Symbol:        rec.Symbol,
		Qty:           pos.Qty,
		Side:          broker.Sell,
		ClientOrderID: clientID,
	}); err != nil {
		return nil, fmt.Errorf("submitting sell %s: %w", rec.Symbol, err)
	}
	metrics.OrdersSubmitted.WithLabelValues(string(broker.Sell)).Inc()

	order, err := awaitFill(ctx, s.broker, clientID, s.config, s.logger)
	if err != nil {
		return nil, fmt.Errorf("sell %s: %w", rec.Symbol, err)
	}
	if order == nil {
		s.logger.Printf("Sell %s still working after %s; leaving order at the venue", rec.Symbol, s.config.FillWait)
		return nil, nil
	}

	proceeds := util.RoundCents(order.FilledAvgPrice * order.FilledQty)
	filledAt := rec.Timestamp
	if order.FilledAt != nil {
		filledAt = *order.FilledAt
	}
	s.positions.Remove(rec.Symbol)
	s.account.Credit(proceeds)
	metrics.OrdersFilled.WithLabelValues(string(broker.Sell)).Inc()
	s.logger.Printf("Sell %s filled qty %.0f at %.2f proceeds %.2f pnl %.2f",
		rec.Symbol, order.FilledQty, order.FilledAvgPrice, proceeds, proceeds-pos.Cost)
	return &Fill{
		Time:   filledAt,
		Symbol: rec.Symbol,
		Side:   broker.Sell,
		Qty:    order.FilledQty,
		Price:  order.FilledAvgPrice,
		Value:  proceeds,
	}, nil
}

// awaitFill polls the order by client id until the venue confirms a
// complete fill or the wait window lapses. A nil order with a nil error
// means the window (or the tick context) lapsed with the order still
// working; a terminal venue status comes back as an error.
func awaitFill(ctx context.Context, b broker.Broker, clientID string, cfg Config, logger *log.Logger) (*broker.Order, error) {
	waitCtx, cancel := context.WithTimeout(ctx, cfg.FillWait)
	defer cancel()

	ticker := time.NewTicker(cfg.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-waitCtx.Done():
			return nil, nil
		case <-ticker.C:
			order, err := b.GetOrderByClientID(clientID)
			if err != nil {
				logger.Printf("Order status %s: %v", clientID, err)
				continue
			}
			if order == nil {
				continue
			}
			if order.Filled() {
				return order, nil
			}
			switch strings.ToLower(order.Status) {
			case "canceled", "cancelled", "rejected", "expired":
				return nil, fmt.Errorf("order %s ended %s", clientID, order.Status)
			}
		}
	}
}

var (
	_ Buyer  = (*LiveBuyer)(nil)
	_ Seller = (*LiveSeller)(nil)
)
