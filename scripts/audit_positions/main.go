// audit_positions - A utility to audit venue positions vs local stop state.
// This script shows what a trader restart's reconcile pass would admit,
// restore, or prune, without touching the account or the storage file.
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/neuralprobe/D4/internal/broker"
	"github.com/neuralprobe/D4/internal/config"
	"github.com/neuralprobe/D4/internal/storage"
)

// maskKey masks all but the last 4 characters of an API key so verbose
// output can be pasted into an issue without leaking credentials.
func maskKey(key string) string {
	if len(key) > 4 {
		return strings.Repeat("*", len(key)-4) + key[len(key)-4:]
	}
	return key
}

// Line is one venue position joined with its stored stop state, if any.
type Line struct {
	Symbol       string  `json:"symbol"`
	Qty          float64 `json:"qty"`
	CurrentPrice float64 `json:"current_price"`
	MarketValue  float64 `json:"market_value"`
	UnrealizedPL float64 `json:"unrealized_pl"`
	HasStopState bool    `json:"has_stop_state"`
	StopValue    float64 `json:"stop_value,omitempty"`
	StopKey      string  `json:"stop_key,omitempty"`
	StopTrailing float64 `json:"stop_trailing,omitempty"`
}

// Report is the full drift picture between the venue and local storage.
type Report struct {
	GeneratedAt time.Time `json:"generated_at"`
	Positions   []Line    `json:"positions"`
	StaleStops  []string  `json:"stale_stops"`
	Summary     Summary   `json:"summary"`
}

// Summary aggregates the report for a quick read.
type Summary struct {
	VenuePositions int     `json:"venue_positions"`
	TrackedStops   int     `json:"tracked_stops"`
	MissingStops   int     `json:"missing_stops"`
	StaleStops     int     `json:"stale_stops"`
	MarketValue    float64 `json:"market_value"`
	UnrealizedPL   float64 `json:"unrealized_pl"`
}

func main() {
	var (
		configPath = flag.String("config", "config.yaml", "Path to configuration file")
		jsonOutput = flag.Bool("json", false, "Output results as JSON")
		verbose    = flag.Bool("v", false, "Verbose output")
	)
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	if *verbose {
		fmt.Printf("Using config: %s\n", *configPath)
		fmt.Printf("Environment: %s (%s)\n", cfg.Environment, cfg.Alpaca.BaseURL)
		fmt.Printf("API key: %s\n", maskKey(cfg.Alpaca.APIKey))
		fmt.Printf("Stop state: %s\n", cfg.Storage.Path)
		fmt.Printf("\n")
	}

	logger := log.New(os.Stdout, "", 0)
	b := broker.NewAlpacaBroker(cfg.Alpaca.APIKey, cfg.Alpaca.APISecret, cfg.Alpaca.BaseURL, config.Location(), logger)

	store, err := storage.NewStorage(cfg.Storage.Path)
	if err != nil {
		log.Fatalf("Failed to open stop-state storage: %v", err)
	}

	items, err := b.GetPositions()
	if err != nil {
		log.Fatalf("Failed to fetch venue positions: %v", err)
	}

	states := make(map[string]storage.SymbolState)
	for _, symbol := range store.Symbols() {
		if st, ok := store.GetSymbolState(symbol); ok {
			states[symbol] = st
		}
	}

	report := buildReport(items, states, time.Now())

	if *jsonOutput {
		output, err := json.MarshalIndent(report, "", "  ")
		if err != nil {
			log.Fatalf("Failed to marshal JSON: %v", err)
		}
		fmt.Println(string(output))
		return
	}

	printReport(report)
}

// buildReport joins venue positions with stored stop state. Stored
// symbols the venue no longer holds come back as stale stops.
func buildReport(items []broker.PositionItem, states map[string]storage.SymbolState, now time.Time) Report {
	report := Report{GeneratedAt: now}

	venueHeld := make(map[string]bool, len(items))
	for _, item := range items {
		venueHeld[item.Symbol] = true
		line := Line{
			Symbol:       item.Symbol,
			Qty:          item.Qty,
			CurrentPrice: item.CurrentPrice,
			MarketValue:  item.MarketValue,
			UnrealizedPL: item.UnrealizedPL,
		}
		if st, ok := states[item.Symbol]; ok {
			line.HasStopState = true
			line.StopValue = st.StopValue
			line.StopKey = st.StopKey
			line.StopTrailing = st.StopTrailing
			report.Summary.TrackedStops++
		} else {
			report.Summary.MissingStops++
		}
		report.Positions = append(report.Positions, line)
		report.Summary.MarketValue += item.MarketValue
		report.Summary.UnrealizedPL += item.UnrealizedPL
	}
	sort.Slice(report.Positions, func(i, j int) bool {
		return report.Positions[i].Symbol < report.Positions[j].Symbol
	})

	for symbol := range states {
		if !venueHeld[symbol] {
			report.StaleStops = append(report.StaleStops, symbol)
		}
	}
	sort.Strings(report.StaleStops)

	report.Summary.VenuePositions = len(items)
	report.Summary.StaleStops = len(report.StaleStops)
	return report
}

func printReport(report Report) {
	fmt.Printf("=== VENUE POSITIONS (%d) ===\n", report.Summary.VenuePositions)
	for _, line := range report.Positions {
		fmt.Printf("  %-6s %10.4f @ $%.2f (value $%.2f, P&L $%+.2f)\n",
			line.Symbol, line.Qty, line.CurrentPrice, line.MarketValue, line.UnrealizedPL)
		if line.HasStopState {
			fmt.Printf("         stop %.4f %q, trailing %.4f\n", line.StopValue, line.StopKey, line.StopTrailing)
		} else {
			fmt.Printf("         NO STOP STATE - restart would seed a fresh trailing stop\n")
		}
	}
	if len(report.StaleStops) > 0 {
		fmt.Printf("\n=== STALE STOP STATE (%d) ===\n", len(report.StaleStops))
		for _, symbol := range report.StaleStops {
			fmt.Printf("  %s - stored locally but not held at the venue\n", symbol)
		}
	}

	fmt.Printf("\n=== SUMMARY ===\n")
	fmt.Printf("  Venue positions: %d ($%.2f, P&L $%+.2f)\n",
		report.Summary.VenuePositions, report.Summary.MarketValue, report.Summary.UnrealizedPL)
	fmt.Printf("  Tracked stops:   %d\n", report.Summary.TrackedStops)
	fmt.Printf("  Missing stops:   %d\n", report.Summary.MissingStops)
	fmt.Printf("  Stale stops:     %d\n", report.Summary.StaleStops)

	fmt.Printf("\nNext steps:\n")
	if report.Summary.MissingStops > 0 {
		fmt.Printf("  - %d position(s) carry no stop state; the next trader start seeds trailing stops from the current price\n",
			report.Summary.MissingStops)
	}
	if report.Summary.StaleStops > 0 {
		fmt.Printf("  - %d stale entr(ies) will be pruned on the next reconcile pass\n", report.Summary.StaleStops)
	}
	if report.Summary.MissingStops == 0 && report.Summary.StaleStops == 0 {
		fmt.Printf("  - No drift detected; storage matches the venue.\n")
	}
}
