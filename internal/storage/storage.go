package storage

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"
)

// JSONStorage persists symbol stop states to a single JSON file. Every
// mutation rewrites the file through a temp-file rename so a crash never
// leaves a half-written state behind.
type JSONStorage struct {
	mu   sync.RWMutex
	path string
	data *storageData
}

type storageData struct {
	AssetsInfo  map[string]SymbolState `json:"assets_info"`
	LastUpdated time.Time              `json:"last_updated"`
}

func NewJSONStorage(path string) (*JSONStorage, error) {
	s := &JSONStorage{
		path: path,
		data: &storageData{
			AssetsInfo: make(map[string]SymbolState),
		},
	}

	// Load existing data if file exists
	if _, err := os.Stat(path); err == nil {
		if err := s.Load(); err != nil {
			return nil, fmt.Errorf("loading storage: %w", err)
		}
	}

	return s, nil
}

func (s *JSONStorage) Load() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	raw, err := os.ReadFile(s.path) // #nosec G304 - path comes from validated config
	if err != nil {
		return err
	}

	loaded := &storageData{}
	if err := json.Unmarshal(raw, loaded); err != nil {
		return err
	}
	if loaded.AssetsInfo == nil {
		loaded.AssetsInfo = make(map[string]SymbolState)
	}
	s.data = loaded

	return nil
}

func (s *JSONStorage) Save() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.saveLocked()
}

// saveLocked writes the current data to disk. Callers must hold s.mu.
func (s *JSONStorage) saveLocked() error {
	s.data.LastUpdated = time.Now()

	raw, err := json.MarshalIndent(s.data, "", "  ")
	if err != nil {
		return err
	}

	if dir := filepath.Dir(s.path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}

	// Write to temp file first
	tmpFile := s.path + ".tmp"
	if err := os.WriteFile(tmpFile, raw, 0o644); err != nil {
		return err
	}

	// Atomic rename
	return os.Rename(tmpFile, s.path)
}

func (s *JSONStorage) GetSymbolState(symbol string) (SymbolState, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	state, ok := s.data.AssetsInfo[symbol]
	return state, ok
}

func (s *JSONStorage) SetSymbolState(symbol string, state SymbolState) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.data.AssetsInfo[symbol] = state
	return s.saveLocked()
}

func (s *JSONStorage) RemoveSymbolState(symbol string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.data.AssetsInfo[symbol]; !ok {
		return fmt.Errorf("%w: %s", ErrUnknownSymbol, symbol)
	}
	delete(s.data.AssetsInfo, symbol)
	return s.saveLocked()
}

func (s *JSONStorage) Symbols() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	symbols := make([]string, 0, len(s.data.AssetsInfo))
	for symbol := range s.data.AssetsInfo {
		symbols = append(symbols, symbol)
	}
	sort.Strings(symbols)
	return symbols
}

func (s *JSONStorage) Prune(active map[string]bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	changed := false
	for symbol := range s.data.AssetsInfo {
		if !active[symbol] {
			delete(s.data.AssetsInfo, symbol)
			changed = true
		}
	}
	if !changed {
		return nil
	}
	return s.saveLocked()
}
