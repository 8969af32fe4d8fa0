// Package broker abstracts the trading venue: account state, held
// positions, market-order dispatch and session metadata. The live
// implementation sits on Alpaca's trading API; the simulated book in
// the orders package implements the same flows without a venue.
package broker

import (
	"context"
	"errors"
	"log"
	"time"

	"github.com/sony/gobreaker"
)

// Broker defines the interface for interacting with the trading venue.
type Broker interface {
	// Account operations
	GetAccount() (*Account, error)
	GetPositions() ([]PositionItem, error)

	// Session metadata
	GetClock() (*Clock, error)
	TradingDates(ctx context.Context, start, end time.Time) ([]time.Time, error)
	ListAssets() ([]Asset, error)

	// Order lifecycle
	SubmitMarketOrder(req OrderRequest) (*Order, error)
	GetOrderByClientID(clientID string) (*Order, error)
	GetOpenOrders() ([]Order, error)
	CancelOrder(orderID string) error
	CancelAllOpenOrders() (int, error)
}

// Account is the venue's view of the trading account.
type Account struct {
	Equity      float64 `json:"equity"`
	Cash        float64 `json:"cash"`
	BuyingPower float64 `json:"buying_power"`
}

// PositionItem is one held symbol as reported by the venue.
type PositionItem struct {
	Symbol        string  `json:"symbol"`
	Qty           float64 `json:"qty"`
	AvgEntryPrice float64 `json:"avg_entry_price"`
	CurrentPrice  float64 `json:"current_price"`
	MarketValue   float64 `json:"market_value"`
	CostBasis     float64 `json:"cost_basis"`
	UnrealizedPL  float64 `json:"unrealized_pl"`
}

// OrderSide is the direction of an order.
type OrderSide string

const (
	// Buy opens or extends a long position.
	Buy OrderSide = "buy"
	// Sell closes part or all of a long position.
	Sell OrderSide = "sell"
)

// OrderRequest describes a DAY market order. ClientOrderID must be
// unique per submission; it is the engine's handle for reconciliation.
type OrderRequest struct {
	Symbol        string
	Qty           float64
	Side          OrderSide
	ClientOrderID string
}

// Order is the venue's record of a submitted order.
type Order struct {
	ID             string     `json:"id"`
	ClientOrderID  string     `json:"client_order_id"`
	Symbol         string     `json:"symbol"`
	Side           OrderSide  `json:"side"`
	Qty            float64    `json:"qty"`
	Status         string     `json:"status"`
	CreatedAt      time.Time  `json:"created_at"`
	FilledAt       *time.Time `json:"filled_at,omitempty"`
	FilledQty      float64    `json:"filled_qty"`
	FilledAvgPrice float64    `json:"filled_avg_price"`
}

// Filled reports whether the venue confirmed a complete fill.
func (o *Order) Filled() bool { return o != nil && o.FilledAt != nil }

// Asset is a tradable listing on the venue.
type Asset struct {
	Symbol       string `json:"symbol"`
	Name         string `json:"name"`
	Exchange     string `json:"exchange"`
	Tradable     bool   `json:"tradable"`
	Fractionable bool   `json:"fractionable"`
}

// Clock is the venue's session clock.
type Clock struct {
	Timestamp time.Time `json:"timestamp"`
	IsOpen    bool      `json:"is_open"`
	NextOpen  time.Time `json:"next_open"`
	NextClose time.Time `json:"next_close"`
}

// CircuitBreakerBroker wraps a Broker with circuit breaker functionality
type CircuitBreakerBroker struct {
	broker  Broker
	breaker *gobreaker.CircuitBreaker
}

// exec is a generic helper for circuit breaker wrapper methods
func execCircuitBreaker[T any](
	breaker *gobreaker.CircuitBreaker,
	broker Broker,
	fn func(Broker) (T, error),
) (T, error) {
	var zero T
	res, err := breaker.Execute(func() (interface{}, error) { return fn(broker) })
	if err != nil {
		return zero, err
	}
	if res == nil {
		return zero, nil
	}
	v, ok := res.(T)
	if !ok {
		return zero, errors.New("circuit breaker: type assertion failed")
	}
	return v, nil
}

// NewCircuitBreakerBroker creates a new CircuitBreakerBroker with sensible defaults
func NewCircuitBreakerBroker(broker Broker) *CircuitBreakerBroker {
	return NewCircuitBreakerBrokerWithSettings(broker, CircuitBreakerSettings{
		MaxRequests:  3,                // Allow 3 requests when half-open
		Interval:     60 * time.Second, // Reset counts every minute
		Timeout:      30 * time.Second, // Open circuit for 30 seconds
		MinRequests:  5,                // Minimum requests before tripping
		FailureRatio: 0.6,              // Trip if 60% failure rate
	})
}

// CircuitBreakerSettings configures circuit breaker behavior
type CircuitBreakerSettings struct {
	MaxRequests  uint32        // Max requests when half-open
	Interval     time.Duration // Reset counts interval
	Timeout      time.Duration // Open circuit duration
	MinRequests  uint32        // Min requests before tripping
	FailureRatio float64       // Failure ratio threshold
}

// NewCircuitBreakerBrokerWithSettings creates a CircuitBreakerBroker with custom settings
func NewCircuitBreakerBrokerWithSettings(broker Broker, settings CircuitBreakerSettings) *CircuitBreakerBroker {
	gbSettings := gobreaker.Settings{
		Name:        "BrokerCircuitBreaker",
		MaxRequests: settings.MaxRequests,
		Interval:    settings.Interval,
		Timeout:     settings.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			if counts.Requests == 0 || counts.Requests < settings.MinRequests {
				return false
			}
			failureRatio := float64(counts.TotalFailures) / float64(counts.Requests)
			return failureRatio >= settings.FailureRatio
		},
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			log.Printf("Circuit breaker %s state changed from %s to %s", name, from, to)
		},
	}

	return &CircuitBreakerBroker{
		broker:  broker,
		breaker: gobreaker.NewCircuitBreaker(gbSettings),
	}
}

// GetAccount wraps the underlying broker call with circuit breaker
func (c *CircuitBreakerBroker) GetAccount() (*Account, error) {
	return execCircuitBreaker(c.breaker, c.broker, func(b Broker) (*Account, error) { return b.GetAccount() })
}

// GetPositions wraps the underlying broker call with circuit breaker
func (c *CircuitBreakerBroker) GetPositions() ([]PositionItem, error) {
	return execCircuitBreaker(c.breaker, c.broker, func(b Broker) ([]PositionItem, error) { return b.GetPositions() })
}

// GetClock wraps the underlying broker call with circuit breaker
func (c *CircuitBreakerBroker) GetClock() (*Clock, error) {
	return execCircuitBreaker(c.breaker, c.broker, func(b Broker) (*Clock, error) { return b.GetClock() })
}

// TradingDates wraps the underlying broker call with circuit breaker
func (c *CircuitBreakerBroker) TradingDates(ctx context.Context, start, end time.Time) ([]time.Time, error) {
	return execCircuitBreaker(c.breaker, c.broker, func(b Broker) ([]time.Time, error) {
		return b.TradingDates(ctx, start, end)
	})
}

// ListAssets wraps the underlying broker call with circuit breaker
func (c *CircuitBreakerBroker) ListAssets() ([]Asset, error) {
	return execCircuitBreaker(c.breaker, c.broker, func(b Broker) ([]Asset, error) { return b.ListAssets() })
}

// SubmitMarketOrder wraps the underlying broker call with circuit breaker
func (c *CircuitBreakerBroker) SubmitMarketOrder(req OrderRequest) (*Order, error) {
	return execCircuitBreaker(c.breaker, c.broker, func(b Broker) (*Order, error) { return b.SubmitMarketOrder(req) })
}

// GetOrderByClientID wraps the underlying broker call with circuit breaker
func (c *CircuitBreakerBroker) GetOrderByClientID(clientID string) (*Order, error) {
	return execCircuitBreaker(c.breaker, c.broker, func(b Broker) (*Order, error) { return b.GetOrderByClientID(clientID) })
}

// GetOpenOrders wraps the underlying broker call with circuit breaker
func (c *CircuitBreakerBroker) GetOpenOrders() ([]Order, error) {
	return execCircuitBreaker(c.breaker, c.broker, func(b Broker) ([]Order, error) { return b.GetOpenOrders() })
}

// CancelOrder wraps the underlying broker call with circuit breaker
func (c *CircuitBreakerBroker) CancelOrder(orderID string) error {
	_, err := execCircuitBreaker(c.breaker, c.broker, func(b Broker) (struct{}, error) {
		return struct{}{}, b.CancelOrder(orderID)
	})
	return err
}

// CancelAllOpenOrders wraps the underlying broker call with circuit breaker
func (c *CircuitBreakerBroker) CancelAllOpenOrders() (int, error) {
	return execCircuitBreaker(c.breaker, c.broker, func(b Broker) (int, error) { return b.CancelAllOpenOrders() })
}

// Ensure the wrapper implements Broker at compile time.
var _ Broker = (*CircuitBreakerBroker)(nil)
