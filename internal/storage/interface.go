package storage

import "time"

// SymbolState is the per-symbol stop bookkeeping that has no home at the
// broker. Live restarts rebuild positions from broker holdings and re-attach
// these states; without them every restart would reset stops to the
// bootstrap level.
type SymbolState struct {
	StopValue    float64   `json:"stop_value"`
	StopKey      string    `json:"stop_key"`
	StopTrailing float64   `json:"stop_trailing"`
	EntryTime    time.Time `json:"entry_time"`
}

// Interface defines the contract for stop-state persistence.
//
// Implementations must be safe for concurrent use - callers can assume all
// methods are goroutine-safe and can safely call these methods from multiple
// goroutines.
//
// The provided JSONStorage implementation uses sync.RWMutex to serialize
// access, ensuring all Interface methods are protected for concurrent
// readers and writers.
type Interface interface {
	// Per-symbol state management
	GetSymbolState(symbol string) (SymbolState, bool)
	SetSymbolState(symbol string, state SymbolState) error
	RemoveSymbolState(symbol string) error
	Symbols() []string

	// Prune drops state for every symbol not present in active, keeping the
	// file aligned with what the broker actually holds.
	Prune(active map[string]bool) error

	// Data persistence
	Save() error
	Load() error
}

// NewStorage creates a new storage implementation (currently JSON-based).
// In the future, this can be extended to support different storage backends.
func NewStorage(path string) (Interface, error) {
	return NewJSONStorage(path)
}

// Ensure JSONStorage implements Interface
var _ Interface = (*JSONStorage)(nil)
