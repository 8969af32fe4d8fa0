// Package portfolio tracks the held positions and the cash account that
// backs them. Nothing here is synchronized: the trading loop is the only
// writer, and concurrent readers (strategy workers, the dashboard) only
// ever see copies taken via Snapshot between mutations.
package portfolio

import (
	"fmt"
	"sort"

	"github.com/neuralprobe/D4/internal/models"
)

// Positions is the book of open positions, keyed by symbol.
type Positions struct {
	book map[string]*models.Position
}

// NewPositions returns an empty book.
func NewPositions() *Positions {
	return &Positions{book: make(map[string]*models.Position)}
}

// Add records a fill: a new symbol opens a position, an already-held
// symbol folds the fill into the existing entry (quantity and cost
// accumulate, stops fold by max).
func (p *Positions) Add(fill *models.Position) error {
	if fill == nil {
		return fmt.Errorf("adding nil position")
	}
	if err := fill.Validate(); err != nil {
		return fmt.Errorf("adding position: %w", err)
	}
	if held, ok := p.book[fill.Symbol]; ok {
		held.Fold(fill)
		return nil
	}
	cp := *fill
	p.book[fill.Symbol] = &cp
	return nil
}

// Remove closes the symbol's position entirely. Unknown symbols are a
// no-op.
func (p *Positions) Remove(symbol string) {
	delete(p.book, symbol)
}

// Get returns the held position, nil when the symbol is not held. The
// loop thread may mutate the returned value; snapshot readers must not.
func (p *Positions) Get(symbol string) *models.Position {
	return p.book[symbol]
}

// Has reports whether the symbol is held.
func (p *Positions) Has(symbol string) bool {
	_, ok := p.book[symbol]
	return ok
}

// UpdatePrice reprices one held symbol at the latest close. Unknown
// symbols are a no-op.
func (p *Positions) UpdatePrice(symbol string, price float64) {
	if held, ok := p.book[symbol]; ok {
		held.UpdatePrice(price)
	}
}

// Value returns the summed market value of the held positions.
func (p *Positions) Value() float64 {
	var total float64
	for _, pos := range p.book {
		total += pos.MarketValue
	}
	return total
}

// Len returns the number of held symbols.
func (p *Positions) Len() int { return len(p.book) }

// Symbols returns the held symbols in sorted order.
func (p *Positions) Symbols() []string {
	out := make([]string, 0, len(p.book))
	for symbol := range p.book {
		out = append(out, symbol)
	}
	sort.Strings(out)
	return out
}

// Snapshot deep-copies the book for concurrent readers.
func (p *Positions) Snapshot() map[string]models.Position {
	out := make(map[string]models.Position, len(p.book))
	for symbol, pos := range p.book {
		out[symbol] = *pos
	}
	return out
}

// Reset drops every entry. The live reconciler calls this before
// re-adding the broker's view of the book.
func (p *Positions) Reset() {
	p.book = make(map[string]*models.Position)
}

// Validate checks every held position's book-keeping invariants.
func (p *Positions) Validate() error {
	for symbol, pos := range p.book {
		if err := pos.Validate(); err != nil {
			return fmt.Errorf("position book: %w", err)
		}
		if symbol != pos.Symbol {
			return fmt.Errorf("position book: key %s holds symbol %s", symbol, pos.Symbol)
		}
	}
	return nil
}
