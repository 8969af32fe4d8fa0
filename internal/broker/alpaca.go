package broker

import (
	"context"
	"fmt"
	"io"
	"log"
	"time"

	"github.com/alpacahq/alpaca-trade-api-go/v3/alpaca"
	"github.com/shopspring/decimal"
)

// AlpacaBroker implements Broker on Alpaca's trading API. All decimal
// amounts are converted to float64 at this boundary; the engine never
// sees SDK types.
type AlpacaBroker struct {
	client *alpaca.Client
	loc    *time.Location
	logger *log.Logger
}

// Ensure AlpacaBroker implements Broker at compile time.
var _ Broker = (*AlpacaBroker)(nil)

// NewAlpacaBroker creates a broker client against the given endpoint.
// Calendar dates are returned as midnight instants in loc.
func NewAlpacaBroker(apiKey, apiSecret, baseURL string, loc *time.Location, logger *log.Logger) *AlpacaBroker {
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}
	return &AlpacaBroker{
		client: alpaca.NewClient(alpaca.ClientOpts{
			APIKey:    apiKey,
			APISecret: apiSecret,
			BaseURL:   baseURL,
		}),
		loc:    loc,
		logger: logger,
	}
}

// GetAccount returns the account's equity, cash and buying power.
func (a *AlpacaBroker) GetAccount() (*Account, error) {
	acct, err := a.client.GetAccount()
	if err != nil {
		return nil, fmt.Errorf("fetching account: %w", err)
	}
	return &Account{
		Equity:      acct.Equity.InexactFloat64(),
		Cash:        acct.Cash.InexactFloat64(),
		BuyingPower: acct.BuyingPower.InexactFloat64(),
	}, nil
}

// GetPositions returns the venue's held positions.
func (a *AlpacaBroker) GetPositions() ([]PositionItem, error) {
	raw, err := a.client.GetPositions()
	if err != nil {
		return nil, fmt.Errorf("fetching positions: %w", err)
	}
	items := make([]PositionItem, 0, len(raw))
	for _, p := range raw {
		item := PositionItem{
			Symbol:        p.Symbol,
			Qty:           p.Qty.InexactFloat64(),
			AvgEntryPrice: p.AvgEntryPrice.InexactFloat64(),
			CostBasis:     p.CostBasis.InexactFloat64(),
		}
		if p.CurrentPrice != nil {
			item.CurrentPrice = p.CurrentPrice.InexactFloat64()
		}
		if p.MarketValue != nil {
			item.MarketValue = p.MarketValue.InexactFloat64()
		}
		if p.UnrealizedPL != nil {
			item.UnrealizedPL = p.UnrealizedPL.InexactFloat64()
		}
		items = append(items, item)
	}
	return items, nil
}

// GetClock returns the venue session clock.
func (a *AlpacaBroker) GetClock() (*Clock, error) {
	c, err := a.client.GetClock()
	if err != nil {
		return nil, fmt.Errorf("fetching clock: %w", err)
	}
	return &Clock{
		Timestamp: c.Timestamp,
		IsOpen:    c.IsOpen,
		NextOpen:  c.NextOpen,
		NextClose: c.NextClose,
	}, nil
}

// TradingDates returns the exchange's valid trading dates in [start, end]
// as midnight instants in the broker's location.
func (a *AlpacaBroker) TradingDates(_ context.Context, start, end time.Time) ([]time.Time, error) {
	days, err := a.client.GetCalendar(alpaca.GetCalendarRequest{Start: start, End: end})
	if err != nil {
		return nil, fmt.Errorf("fetching calendar: %w", err)
	}
	dates := make([]time.Time, 0, len(days))
	for _, d := range days {
		t, err := time.ParseInLocation("2006-01-02", d.Date, a.loc)
		if err != nil {
			return nil, fmt.Errorf("parsing calendar date %q: %w", d.Date, err)
		}
		dates = append(dates, t)
	}
	return dates, nil
}

// ListAssets returns all active US equity listings.
func (a *AlpacaBroker) ListAssets() ([]Asset, error) {
	raw, err := a.client.GetAssets(alpaca.GetAssetsRequest{
		Status:     "active",
		AssetClass: "us_equity",
	})
	if err != nil {
		return nil, fmt.Errorf("fetching assets: %w", err)
	}
	assets := make([]Asset, 0, len(raw))
	for _, as := range raw {
		assets = append(assets, Asset{
			Symbol:       as.Symbol,
			Name:         as.Name,
			Exchange:     as.Exchange,
			Tradable:     as.Tradable,
			Fractionable: as.Fractionable,
		})
	}
	return assets, nil
}

// SubmitMarketOrder places a DAY market order.
func (a *AlpacaBroker) SubmitMarketOrder(req OrderRequest) (*Order, error) {
	if req.Qty <= 0 {
		return nil, fmt.Errorf("submit %s %s: qty must be positive, got %v", req.Side, req.Symbol, req.Qty)
	}
	qty := decimal.NewFromFloat(req.Qty)
	placed, err := a.client.PlaceOrder(alpaca.PlaceOrderRequest{
		Symbol:        req.Symbol,
		Qty:           &qty,
		Side:          alpaca.Side(req.Side),
		Type:          alpaca.Market,
		TimeInForce:   alpaca.Day,
		ClientOrderID: req.ClientOrderID,
	})
	if err != nil {
		return nil, fmt.Errorf("placing %s order for %s: %w", req.Side, req.Symbol, err)
	}
	a.logger.Printf("Submitted %s market order for %s qty=%.0f id=%s", req.Side, req.Symbol, req.Qty, placed.ID)
	return convertOrder(placed), nil
}

// GetOrderByClientID looks an order up by the engine-assigned client id.
func (a *AlpacaBroker) GetOrderByClientID(clientID string) (*Order, error) {
	o, err := a.client.GetOrderByClientOrderID(clientID)
	if err != nil {
		return nil, fmt.Errorf("fetching order %s: %w", clientID, err)
	}
	return convertOrder(o), nil
}

// GetOpenOrders returns all orders the venue still considers open.
func (a *AlpacaBroker) GetOpenOrders() ([]Order, error) {
	raw, err := a.client.GetOrders(alpaca.GetOrdersRequest{
		Status: "open",
		Limit:  100,
	})
	if err != nil {
		return nil, fmt.Errorf("fetching open orders: %w", err)
	}
	orders := make([]Order, 0, len(raw))
	for i := range raw {
		orders = append(orders, *convertOrder(&raw[i]))
	}
	return orders, nil
}

// CancelOrder cancels one order by venue id.
func (a *AlpacaBroker) CancelOrder(orderID string) error {
	if err := a.client.CancelOrder(orderID); err != nil {
		return fmt.Errorf("canceling order %s: %w", orderID, err)
	}
	return nil
}

// CancelAllOpenOrders cancels every open order one by one and returns
// how many were canceled. A failed cancel is logged and skipped so one
// stuck order cannot leave the rest in flight.
func (a *AlpacaBroker) CancelAllOpenOrders() (int, error) {
	open, err := a.GetOpenOrders()
	if err != nil {
		return 0, err
	}
	canceled := 0
	var firstErr error
	for _, o := range open {
		if err := a.client.CancelOrder(o.ID); err != nil {
			a.logger.Printf("Failed to cancel order %s (%s): %v", o.ID, o.Symbol, err)
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		canceled++
	}
	if firstErr != nil {
		return canceled, fmt.Errorf("canceled %d of %d open orders: %w", canceled, len(open), firstErr)
	}
	return canceled, nil
}

func convertOrder(o *alpaca.Order) *Order {
	out := &Order{
		ID:            o.ID,
		ClientOrderID: o.ClientOrderID,
		Symbol:        o.Symbol,
		Side:          OrderSide(o.Side),
		Status:        string(o.Status),
		CreatedAt:     o.CreatedAt,
		FilledAt:      o.FilledAt,
		FilledQty:     o.FilledQty.InexactFloat64(),
	}
	if o.Qty != nil {
		out.Qty = o.Qty.InexactFloat64()
	}
	if o.FilledAvgPrice != nil {
		out.FilledAvgPrice = o.FilledAvgPrice.InexactFloat64()
	}
	return out
}
