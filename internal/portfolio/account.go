package portfolio

import (
	"fmt"
	"io"
	"log"

	"github.com/neuralprobe/D4/internal/broker"
)

// Account is the cash side of the book. TotalValue is always cash plus
// the summed market value of the positions; the live variant re-reads
// cash from the broker on Refresh and lets confirmed fills adjust the
// cached value between refreshes.
type Account interface {
	Cash() float64
	TotalValue() float64
	Debit(amount float64) error
	Credit(amount float64)
	Refresh() error
}

// LocalAccount is the simulated ledger used by backtests and paper
// dry-runs. It is its own source of truth: buys debit, sells credit,
// and the balance going negative means the sizing math is broken.
type LocalAccount struct {
	cash      float64
	positions *Positions
}

// NewLocalAccount funds a ledger with the starting cash.
func NewLocalAccount(cash float64, positions *Positions) *LocalAccount {
	if positions == nil {
		panic("positions cannot be nil")
	}
	return &LocalAccount{cash: cash, positions: positions}
}

// Cash returns the current balance.
func (a *LocalAccount) Cash() float64 { return a.cash }

// TotalValue returns cash plus the positions' market value.
func (a *LocalAccount) TotalValue() float64 {
	return a.cash + a.positions.Value()
}

// Debit spends cash on a buy. An amount the balance cannot cover is a
// sizing bug, not a market condition, so it comes back as an error for
// the caller to escalate.
func (a *LocalAccount) Debit(amount float64) error {
	if amount < 0 {
		return fmt.Errorf("debit of negative amount %.2f", amount)
	}
	if amount > a.cash {
		return fmt.Errorf("debit %.2f exceeds cash %.2f", amount, a.cash)
	}
	a.cash -= amount
	return nil
}

// Credit returns sale proceeds to the balance.
func (a *LocalAccount) Credit(amount float64) {
	a.cash += amount
}

// Refresh is a no-op; the local ledger has no upstream.
func (a *LocalAccount) Refresh() error { return nil }

// LiveAccount mirrors the broker account. Refresh re-reads cash and
// equity; Debit and Credit adjust the cached cash on confirmed fills so
// affordability stays coherent within a tick. The cache may drift from
// the venue between refreshes, which is why the loop refreshes every
// tick.
type LiveAccount struct {
	broker    broker.Broker
	positions *Positions
	logger    *log.Logger
	cash      float64
	equity    float64
}

// NewLiveAccount wraps the broker account. Callers refresh once before
// first use.
func NewLiveAccount(b broker.Broker, positions *Positions, logger *log.Logger) *LiveAccount {
	if b == nil {
		panic("broker cannot be nil")
	}
	if positions == nil {
		panic("positions cannot be nil")
	}
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}
	return &LiveAccount{broker: b, positions: positions, logger: logger}
}

// Cash returns the cached broker cash balance.
func (a *LiveAccount) Cash() float64 { return a.cash }

// Equity returns the broker's own account valuation from the last
// refresh. It can differ from TotalValue when the account holds assets
// this engine does not manage.
func (a *LiveAccount) Equity() float64 { return a.equity }

// TotalValue returns cached cash plus the positions' market value, the
// same definition the local ledger uses.
func (a *LiveAccount) TotalValue() float64 {
	return a.cash + a.positions.Value()
}

// Debit lowers the cached cash after a confirmed buy fill. A transient
// dip below zero is possible when the fill prices above the quoted
// close; the next Refresh restores broker truth, so it is logged rather
// than escalated.
func (a *LiveAccount) Debit(amount float64) error {
	a.cash -= amount
	if a.cash < 0 {
		a.logger.Printf("Cached cash went negative (%.2f) after %.2f debit; awaiting broker refresh", a.cash, amount)
	}
	return nil
}

// Credit raises the cached cash after a confirmed sell fill.
func (a *LiveAccount) Credit(amount float64) {
	a.cash += amount
}

// Refresh re-reads cash and equity from the broker.
func (a *LiveAccount) Refresh() error {
	acct, err := a.broker.GetAccount()
	if err != nil {
		return fmt.Errorf("refreshing account: %w", err)
	}
	a.cash = acct.Cash
	a.equity = acct.Equity
	return nil
}

var (
	_ Account = (*LocalAccount)(nil)
	_ Account = (*LiveAccount)(nil)
)
