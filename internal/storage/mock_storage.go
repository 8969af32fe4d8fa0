package storage

import (
	"fmt"
	"sort"
	"sync"
)

// MockStorage implements Interface for testing
type MockStorage struct {
	mu            sync.RWMutex
	saveError     error
	loadError     error
	states        map[string]SymbolState
	saveCallCount int
	loadCallCount int
}

// NewMockStorage creates a new mock storage for testing
func NewMockStorage() *MockStorage {
	return &MockStorage{
		states: make(map[string]SymbolState),
	}
}

var _ Interface = (*MockStorage)(nil)

// SetSaveError makes every mutating call fail with err until reset with nil.
func (m *MockStorage) SetSaveError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.saveError = err
}

// SetLoadError makes Load fail with err until reset with nil.
func (m *MockStorage) SetLoadError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.loadError = err
}

func (m *MockStorage) GetSymbolState(symbol string) (SymbolState, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	state, ok := m.states[symbol]
	return state, ok
}

func (m *MockStorage) SetSymbolState(symbol string, state SymbolState) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.saveError != nil {
		return m.saveError
	}
	m.states[symbol] = state
	return nil
}

func (m *MockStorage) RemoveSymbolState(symbol string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.saveError != nil {
		return m.saveError
	}
	if _, ok := m.states[symbol]; !ok {
		return fmt.Errorf("%w: %s", ErrUnknownSymbol, symbol)
	}
	delete(m.states, symbol)
	return nil
}

func (m *MockStorage) Symbols() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	symbols := make([]string, 0, len(m.states))
	for symbol := range m.states {
		symbols = append(symbols, symbol)
	}
	sort.Strings(symbols)
	return symbols
}

func (m *MockStorage) Prune(active map[string]bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.saveError != nil {
		return m.saveError
	}
	for symbol := range m.states {
		if !active[symbol] {
			delete(m.states, symbol)
		}
	}
	return nil
}

// Data persistence methods (mocked)
func (m *MockStorage) Save() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.saveCallCount++
	return m.saveError
}

func (m *MockStorage) Load() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.loadCallCount++
	return m.loadError
}
