package logs

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/neuralprobe/D4/internal/config"
)

// Kind names one CSV artifact of a run.
type Kind string

const (
	KindTrader   Kind = "trader"
	KindOrder    Kind = "order"
	KindAccount  Kind = "account"
	KindProphecy Kind = "prophecy"
)

// kinds in the sheet order the summary workbook uses.
var kinds = []Kind{KindAccount, KindOrder, KindProphecy, KindTrader}

// Run bundles the four sinks of one trading session. File names carry
// the prefix, the kind, the session period and the wall-clock start, so
// the artifacts of one run glob together:
//
//	trader_prophecy_2024-06-01_2024-06-30_2024-07-01 09-31-05.csv
//
// Colons are replaced with dashes to keep the names portable.
type Run struct {
	dir    string
	prefix string
	stamp  string
	sinks  map[Kind]*Sink
}

// NewRun creates the log directory and opens one sink per kind. start
// and end bound the session; now is the wall clock at startup.
func NewRun(cfg config.LogsConfig, start, end, now time.Time) (*Run, error) {
	if err := os.MkdirAll(cfg.Dir, 0o750); err != nil {
		return nil, fmt.Errorf("creating log dir: %w", err)
	}
	r := &Run{
		dir:    cfg.Dir,
		prefix: cfg.Prefix,
		stamp:  sanitize(now.Format("2006-01-02 15:04:05")),
		sinks:  make(map[Kind]*Sink, len(kinds)),
	}
	period := fmt.Sprintf("%s_%s", start.Format("2006-01-02"), end.Format("2006-01-02"))
	for _, kind := range kinds {
		name := fmt.Sprintf("%s_%s_%s_%s.csv", cfg.Prefix, kind, period, r.stamp)
		sink, err := newSink(filepath.Join(cfg.Dir, name))
		if err != nil {
			r.CloseAll()
			return nil, err
		}
		r.sinks[kind] = sink
	}
	return r, nil
}

// Sink returns the sink for kind. Panics on an unknown kind; the set is
// fixed at construction.
func (r *Run) Sink(kind Kind) *Sink {
	sink, ok := r.sinks[kind]
	if !ok {
		panic(fmt.Sprintf("logs: unknown sink kind %q", kind))
	}
	return sink
}

// Trader is the sink for per-tick BUY/SELL/KEEP opinion lines.
func (r *Run) Trader() *Sink { return r.Sink(KindTrader) }

// Order is the sink for dispatched order rows.
func (r *Run) Order() *Sink { return r.Sink(KindOrder) }

// Account is the sink for account snapshot rows.
func (r *Run) Account() *Sink { return r.Sink(KindAccount) }

// Prophecy is the sink for executed decision records.
func (r *Run) Prophecy() *Sink { return r.Sink(KindProphecy) }

// CloseAll closes every sink, keeping the first error.
func (r *Run) CloseAll() error {
	var firstErr error
	for _, sink := range r.sinks {
		if sink == nil {
			continue
		}
		if err := sink.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// Summary writes the run's CSVs into one workbook, one sheet per kind,
// and returns the workbook path. Call after CloseAll.
func (r *Run) Summary() (string, error) {
	name := fmt.Sprintf("%s_summary_%s.xlsx", r.prefix, r.stamp)
	out := filepath.Join(r.dir, name)
	sheets := make([]sheetSource, 0, len(kinds))
	for _, kind := range kinds {
		sheets = append(sheets, sheetSource{name: string(kind), csvPath: r.sinks[kind].Path()})
	}
	if err := writeWorkbook(out, sheets); err != nil {
		return "", err
	}
	return out, nil
}

func sanitize(name string) string {
	return strings.ReplaceAll(name, ":", "-")
}
