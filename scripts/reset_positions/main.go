// reset_positions - Rebuild the stop-state file to match venue reality.
// Every symbol the venue holds gets a freshly seeded trailing stop at the
// configured distance under the current price; everything else is pruned.
// Use after manual trading or a corrupted file; running the trader next
// picks the rebuilt state up through its reconcile pass.
package main

import (
	"flag"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/joho/godotenv"

	"github.com/neuralprobe/D4/internal/broker"
	"github.com/neuralprobe/D4/internal/config"
	"github.com/neuralprobe/D4/internal/storage"
)

func main() {
	configPath := flag.String("config", "config.yaml", "Path to configuration file")
	outputPath := flag.String("output", "", "Stop-state file to rebuild (defaults to storage.path from config)")
	dryRun := flag.Bool("dry-run", false, "Show what would be written without touching the file")
	flag.Parse()

	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		log.Printf("Loading .env: %v", err)
	}
	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	path := cfg.Storage.Path
	if *outputPath != "" {
		path = *outputPath
	}

	logger := log.New(os.Stdout, "", 0)
	client := broker.NewAlpacaBroker(cfg.Alpaca.APIKey, cfg.Alpaca.APISecret, cfg.Alpaca.BaseURL, config.Location(), logger)

	fmt.Printf("🔍 Getting venue positions...\n")
	items, err := client.GetPositions()
	if err != nil {
		log.Fatalf("Failed to fetch venue positions: %v", err)
	}
	fmt.Printf("Found %d venue position(s)\n", len(items))

	now := time.Now()
	seeded := make(map[string]storage.SymbolState, len(items))
	active := make(map[string]bool, len(items))
	for _, item := range items {
		if item.Qty <= 0 {
			fmt.Printf("⏭️  Skipping %s: quantity %.4f is not a long position\n", item.Symbol, item.Qty)
			continue
		}
		price := item.CurrentPrice
		if price <= 0 {
			price = item.AvgEntryPrice
		}
		state := storage.SymbolState{
			StopTrailing: price * (1 - cfg.Order.Trailing),
			EntryTime:    now,
		}
		seeded[item.Symbol] = state
		active[item.Symbol] = true
		fmt.Printf("  %s: %.4f shares @ $%.2f -> trailing stop %.4f\n",
			item.Symbol, item.Qty, price, state.StopTrailing)
	}

	if *dryRun {
		fmt.Printf("\n🔎 Dry run: would write %d entr(ies) to %s\n", len(seeded), path)
		return
	}

	store, err := storage.NewStorage(path)
	if err != nil {
		log.Fatalf("Failed to open stop-state storage: %v", err)
	}
	for symbol, state := range seeded {
		if err := store.SetSymbolState(symbol, state); err != nil {
			log.Fatalf("Failed to write state for %s: %v", symbol, err)
		}
	}
	if err := store.Prune(active); err != nil {
		log.Fatalf("Failed to prune stale entries: %v", err)
	}

	fmt.Printf("\n✅ Rebuilt %s with %d entr(ies)\n", path, len(seeded))
	fmt.Println("📝 Stops are seeded at the bootstrap distance; the trader tightens them as prices move")
}
