package orders

import (
	"context"
	"io"
	"log"
	"sort"
	"time"

	"github.com/neuralprobe/D4/internal/broker"
	"github.com/neuralprobe/D4/internal/config"
	"github.com/neuralprobe/D4/internal/metrics"
	"github.com/neuralprobe/D4/internal/models"
	"github.com/neuralprobe/D4/internal/portfolio"
)

// Config contains sizing limits and live fill-poll tuning.
type Config struct {
	InvestRatio      float64
	MaxBuyPerMin     int
	MaxRatioPerAsset float64
	FillWait         time.Duration
	PollInterval     time.Duration
}

// DefaultConfig mirrors the documented order defaults.
var DefaultConfig = Config{
	InvestRatio:      0.05,
	MaxBuyPerMin:     2,
	MaxRatioPerAsset: 0.10,
	FillWait:         10 * time.Second,
	PollInterval:     time.Second,
}

// FromOrderConfig adapts the yaml order block, falling back to defaults
// for unset knobs.
func FromOrderConfig(cfg config.OrderConfig) Config {
	out := DefaultConfig
	if cfg.OneTimeInvestRatio > 0 {
		out.InvestRatio = cfg.OneTimeInvestRatio
	}
	if cfg.MaxBuyPerMin > 0 {
		out.MaxBuyPerMin = cfg.MaxBuyPerMin
	}
	if cfg.MaxRatioPerAsset > 0 {
		out.MaxRatioPerAsset = cfg.MaxRatioPerAsset
	}
	return out
}

func clampConfig(config ...Config) Config {
	cfg := DefaultConfig
	if len(config) > 0 {
		cfg = config[0]
	}
	if cfg.InvestRatio <= 0 {
		cfg.InvestRatio = DefaultConfig.InvestRatio
	}
	if cfg.MaxBuyPerMin <= 0 {
		cfg.MaxBuyPerMin = DefaultConfig.MaxBuyPerMin
	}
	if cfg.MaxRatioPerAsset <= 0 {
		cfg.MaxRatioPerAsset = DefaultConfig.MaxRatioPerAsset
	}
	if cfg.FillWait <= 0 {
		cfg.FillWait = DefaultConfig.FillWait
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = DefaultConfig.PollInterval
	}
	return cfg
}

// RowWriter is the slice of the log sink the manager writes audit rows
// through. Nil writers disable the corresponding artifact.
type RowWriter interface {
	Header(cols []string) error
	Write(row []string) error
}

// Result summarizes what one Execute pass actually moved.
type Result struct {
	Sold   []string
	Bought []string
}

// Manager walks one tick's decisions and dispatches orders: sells first
// so their proceeds fund the buys, then buys sorted by trading value
// descending, stopping after MaxBuyPerMin confirmed buys. Dispatch
// errors are logged per symbol and never abort the pass.
type Manager struct {
	buyer     Buyer
	seller    Seller
	account   portfolio.Account
	positions *portfolio.Positions
	broker    broker.Broker
	logger    *log.Logger
	config    Config
	prophecy  RowWriter
	orderLog  RowWriter
}

// NewManager creates an order manager. broker may be nil in local mode,
// where there are no venue-side open orders to consult.
func NewManager(
	buyer Buyer,
	seller Seller,
	account portfolio.Account,
	positions *portfolio.Positions,
	b broker.Broker,
	logger *log.Logger,
	config ...Config,
) *Manager {
	if buyer == nil {
		panic("orders.NewManager: buyer must not be nil")
	}
	if seller == nil {
		panic("orders.NewManager: seller must not be nil")
	}
	if account == nil {
		panic("orders.NewManager: account must not be nil")
	}
	if positions == nil {
		panic("orders.NewManager: positions must not be nil")
	}
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}
	return &Manager{
		buyer:     buyer,
		seller:    seller,
		account:   account,
		positions: positions,
		broker:    b,
		logger:    logger,
		config:    clampConfig(config...),
	}
}

// SetAuditSinks attaches the prophecy and order row writers. Executed
// decisions append to the prophecy sink; settled fills to the order sink.
func (m *Manager) SetAuditSinks(prophecy, orderLog RowWriter) {
	m.prophecy = prophecy
	m.orderLog = orderLog
}

// Execute works through one tick's decisions and returns what moved.
func (m *Manager) Execute(ctx context.Context, prophecy []models.DecisionRecord) Result {
	var res Result
	open := m.openOrderSymbols()

	selling := make(map[string]bool, len(prophecy))
	for i := range prophecy {
		if prophecy[i].Sell {
			selling[prophecy[i].Symbol] = true
		}
	}

	// Sells release cash before any buy consumes it.
	for i := range prophecy {
		rec := prophecy[i]
		if !rec.Sell {
			continue
		}
		if open[rec.Symbol] {
			m.logger.Printf("Sell %s skipped: open order at the venue", rec.Symbol)
			continue
		}
		fill, err := m.seller.Sell(ctx, rec)
		if err != nil {
			m.logger.Printf("Sell %s: %v", rec.Symbol, err)
			continue
		}
		if fill == nil {
			continue
		}
		res.Sold = append(res.Sold, rec.Symbol)
		m.record(rec, fill)
	}

	buys := make([]models.DecisionRecord, 0, len(prophecy))
	for i := range prophecy {
		if prophecy[i].Buy {
			buys = append(buys, prophecy[i])
		}
	}
	sort.SliceStable(buys, func(i, j int) bool {
		return buys[i].TradingValue > buys[j].TradingValue
	})

	bought := 0
	for _, rec := range buys {
		if bought >= m.config.MaxBuyPerMin {
			break
		}
		if selling[rec.Symbol] {
			m.logger.Printf("Buy %s skipped: selling this minute", rec.Symbol)
			continue
		}
		if open[rec.Symbol] {
			m.logger.Printf("Buy %s skipped: open order at the venue", rec.Symbol)
			continue
		}
		if !m.affordable(rec) {
			metrics.OrdersRejected.Inc()
			continue
		}
		fill, err := m.buyer.Buy(ctx, rec)
		if err != nil {
			m.logger.Printf("Buy %s: %v", rec.Symbol, err)
			continue
		}
		if fill == nil {
			continue
		}
		bought++
		res.Bought = append(res.Bought, rec.Symbol)
		m.record(rec, fill)
	}
	return res
}

// affordable gates a buy on concentration and cash. The ratio check uses
// the post-buy market value so a position already at the cap cannot grow
// past it.
func (m *Manager) affordable(rec models.DecisionRecord) bool {
	total := m.account.TotalValue()
	cash := m.account.Cash()
	if total <= 0 {
		m.logger.Printf("Buy %s refused: book has no value", rec.Symbol)
		return false
	}
	if cash < 2*rec.Price {
		m.logger.Printf("Buy %s refused: cash %.2f under twice price %.2f", rec.Symbol, cash, rec.Price)
		return false
	}
	qty := investQty(total, cash, rec.Price, m.config.InvestRatio)
	if qty == 0 {
		m.logger.Printf("Buy %s refused: zero quantity at %.2f", rec.Symbol, rec.Price)
		return false
	}
	held := 0.0
	if pos := m.positions.Get(rec.Symbol); pos != nil {
		held = pos.MarketValue
	}
	cost := rec.Price * qty
	if (held+cost)/total > m.config.MaxRatioPerAsset {
		m.logger.Printf("Buy %s refused: %.2f%% of book after buy exceeds cap %.2f%%",
			rec.Symbol, (held+cost)/total*100, m.config.MaxRatioPerAsset*100)
		return false
	}
	return true
}

// openOrderSymbols returns the symbols with an order working at the
// venue. Local mode has no venue, so the set is empty.
func (m *Manager) openOrderSymbols() map[string]bool {
	if m.broker == nil {
		return nil
	}
	orders, err := m.broker.GetOpenOrders()
	if err != nil {
		m.logger.Printf("Refreshing open orders: %v", err)
		return nil
	}
	open := make(map[string]bool, len(orders))
	for i := range orders {
		open[orders[i].Symbol] = true
	}
	return open
}

// record appends the executed decision and its fill to the audit sinks.
// Sink failures are logged; the dispatch already settled and stands.
func (m *Manager) record(rec models.DecisionRecord, fill *Fill) {
	if m.prophecy != nil {
		if err := m.prophecy.Header(models.DecisionHeader()); err != nil {
			m.logger.Printf("Prophecy header: %v", err)
		} else if err := m.prophecy.Write(rec.CSVRow()); err != nil {
			m.logger.Printf("Prophecy row %s: %v", rec.Symbol, err)
		}
	}
	if m.orderLog != nil {
		if err := m.orderLog.Header(OrderHeader()); err != nil {
			m.logger.Printf("Order header: %v", err)
		} else if err := m.orderLog.Write(fill.CSVRow()); err != nil {
			m.logger.Printf("Order row %s: %v", rec.Symbol, err)
		}
	}
}
