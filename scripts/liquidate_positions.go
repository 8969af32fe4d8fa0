// Package main provides a liquidation utility for flattening the
// account with market orders through the trading API.
//
// Usage:
//
//	# Option A: credentials from the environment via config expansion
//	export ALPACA_API_KEY="your_key_here"
//	export ALPACA_API_SECRET="your_secret_here"
//	go run scripts/liquidate_positions.go
//
//	# Option B: explicit config
//	go run scripts/liquidate_positions.go -config config.yaml -yes
//
// This tool will:
// 1. Cancel every open order so nothing re-fills behind the sweep
// 2. Place a market sell for each held long position
// 3. Report order placement status
//
// Stored stop state is left alone; the next trader start prunes it once
// the venue confirms the book is flat.
package main

import (
	"flag"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/joho/godotenv"

	"github.com/neuralprobe/D4/internal/broker"
	"github.com/neuralprobe/D4/internal/config"
)

func main() {
	cfgPath := flag.String("config", "config.yaml", "Path to config.yaml")
	yes := flag.Bool("yes", false, "Skip the live-account confirmation pause")
	flag.Parse()

	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		log.Printf("Loading .env: %v", err)
	}
	cfg, err := config.Load(*cfgPath)
	if err != nil {
		log.Fatalf("❌ Failed to load config: %v", err)
	}

	logger := log.New(os.Stdout, "", 0)
	client := broker.NewAlpacaBroker(cfg.Alpaca.APIKey, cfg.Alpaca.APISecret, cfg.Alpaca.BaseURL, config.Location(), logger)

	fmt.Println("💥 LIQUIDATE ALL POSITIONS - MARKET ORDERS 💥")
	fmt.Println("⚠️  WARNING: This will flatten the account using market orders")
	if cfg.IsLive() && !*yes {
		fmt.Println("🔒 Live account: waiting 10 seconds, Ctrl-C to abort (-yes skips this)")
		time.Sleep(10 * time.Second)
	}

	// Cancel ALL pending orders first
	fmt.Println("🔍 Cancelling open orders...")
	cancelled, err := client.CancelAllOpenOrders()
	if err != nil {
		log.Printf("⚠️  Warning: Could not cancel open orders: %v", err)
	} else if cancelled == 0 {
		fmt.Println("✅ No open orders found")
	} else {
		fmt.Printf("✅ Cancelled %d open order(s)\n", cancelled)
	}

	// Get current positions first
	positions, err := client.GetPositions()
	if err != nil {
		log.Fatalf("❌ Failed to get positions: %v", err)
	}
	if len(positions) == 0 {
		fmt.Println("✅ No positions to close")
		return
	}

	fmt.Printf("Found %d position(s) to close:\n", len(positions))
	for i, pos := range positions {
		fmt.Printf("  %d. %s: %.4f shares @ $%.2f (value $%.2f)\n",
			i+1, pos.Symbol, pos.Qty, pos.CurrentPrice, pos.MarketValue)
	}

	// Close each position individually using market orders
	closed := 0
	for _, pos := range positions {
		if pos.Qty <= 0 {
			fmt.Printf("\n⏭️  Skipping %s: quantity %.4f is not a long position\n", pos.Symbol, pos.Qty)
			continue
		}

		fmt.Printf("\n📝 Selling %s (%.4f shares) at market...\n", pos.Symbol, pos.Qty)
		order, err := client.SubmitMarketOrder(broker.OrderRequest{
			Symbol:        pos.Symbol,
			Qty:           pos.Qty,
			Side:          broker.Sell,
			ClientOrderID: "liquidate-" + uuid.NewString(),
		})
		if err != nil {
			fmt.Printf("❌ Failed to close %s: %v\n", pos.Symbol, err)
			continue
		}
		fmt.Printf("✅ Close order placed: %s\n", order.ID)
		closed++
	}

	fmt.Printf("\n🎯 Submitted %d of %d close orders\n", closed, len(positions))
	fmt.Println("⏳ Market orders submitted outside session hours fill at the next open")
	fmt.Println("🔍 Verify with: go run ./scripts/audit_positions")
}
