// Package logs owns the run's CSV artifacts: the trader, order, account
// and prophecy files every session appends to, and the Excel workbook
// that bundles them after the run. Sinks are append-only; every row is
// flushed as it is written so a crash loses at most the line in flight.
package logs

import (
	"encoding/csv"
	"fmt"
	"os"
	"sync"
)

// Sink is one append-only CSV file. All writers sharing the sink share
// its mutex, so rows from concurrent goroutines never tear.
type Sink struct {
	mu     sync.Mutex
	path   string
	file   *os.File
	w      *csv.Writer
	headed bool
	closed bool
}

func newSink(path string) (*Sink, error) {
	file, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644) // #nosec G304 -- path is built from config
	if err != nil {
		return nil, fmt.Errorf("opening log sink: %w", err)
	}
	return &Sink{path: path, file: file, w: csv.NewWriter(file)}, nil
}

// Path returns the file this sink appends to.
func (s *Sink) Path() string { return s.path }

// Header writes the column row once; later calls are no-ops so several
// logical writers can all try to initialize the same file.
func (s *Sink) Header(cols []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.headed || s.closed {
		return nil
	}
	s.headed = true
	return s.writeLocked(cols)
}

// Write appends one row and flushes it to disk.
func (s *Sink) Write(row []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return fmt.Errorf("log sink %s: closed", s.path)
	}
	return s.writeLocked(row)
}

func (s *Sink) writeLocked(row []string) error {
	if err := s.w.Write(row); err != nil {
		return fmt.Errorf("writing log row: %w", err)
	}
	s.w.Flush()
	if err := s.w.Error(); err != nil {
		return fmt.Errorf("flushing log row: %w", err)
	}
	return nil
}

// Close flushes and closes the file. Further writes fail.
func (s *Sink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	s.w.Flush()
	if err := s.w.Error(); err != nil {
		_ = s.file.Close()
		return fmt.Errorf("flushing log sink %s: %w", s.path, err)
	}
	if err := s.file.Close(); err != nil {
		return fmt.Errorf("closing log sink %s: %w", s.path, err)
	}
	return nil
}
