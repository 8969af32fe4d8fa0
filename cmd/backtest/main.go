// Command backtest replays a session range minute by minute against a
// local simulated account. Bars come from the Alpaca data API through
// an on-disk cache, or from a deterministic synthetic tape when the
// -synthetic flag is set, so strategy changes can be evaluated offline.
package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/neuralprobe/D4/internal/broker"
	"github.com/neuralprobe/D4/internal/clock"
	"github.com/neuralprobe/D4/internal/config"
	"github.com/neuralprobe/D4/internal/engine"
	"github.com/neuralprobe/D4/internal/logs"
	"github.com/neuralprobe/D4/internal/market"
	"github.com/neuralprobe/D4/internal/mock"
	"github.com/neuralprobe/D4/internal/orders"
	"github.com/neuralprobe/D4/internal/portfolio"
	"github.com/neuralprobe/D4/internal/retry"
	"github.com/neuralprobe/D4/internal/strategy"
	"github.com/neuralprobe/D4/internal/universe"
)

func main() {
	var configPath string
	var symbolList string
	var synthetic bool
	var renewUniverse bool
	flag.StringVar(&configPath, "config", "config.yaml", "Path to configuration file")
	flag.StringVar(&symbolList, "symbols", "", "Comma-separated symbols to trade instead of the scanned universe")
	flag.BoolVar(&synthetic, "synthetic", false, "Replay a deterministic synthetic tape instead of venue data")
	flag.BoolVar(&renewUniverse, "renew-universe", false, "Rescan the symbol universe instead of reusing today's cache")
	flag.Parse()

	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		log.Printf("Loading .env: %v", err)
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	if !cfg.IsBacktest() {
		log.Fatalf("Environment %q trades a venue; use the trader binary", cfg.Environment)
	}

	logger := log.New(os.Stdout, "[BACKTEST] ", log.LstdFlags|log.Lshortfile)

	loc := config.Location()
	start, err := cfg.StartDate()
	if err != nil {
		logger.Fatalf("Parsing period.start: %v", err)
	}
	end, err := cfg.EndDate()
	if err != nil {
		logger.Fatalf("Parsing period.end: %v", err)
	}

	symbols := splitSymbols(symbolList)

	var provider market.Provider
	var calendar clock.CalendarProvider
	if synthetic {
		if len(symbols) == 0 {
			logger.Fatalf("-synthetic needs an explicit -symbols list; there is no venue to scan")
		}
		provider = mock.NewProvider()
		calendar = mock.WeekdayCalendar{}
		logger.Printf("Replaying synthetic tape for %s", strings.Join(symbols, " "))
	} else {
		b := broker.NewCircuitBreakerBroker(
			broker.NewAlpacaBroker(cfg.Alpaca.APIKey, cfg.Alpaca.APISecret, cfg.Alpaca.BaseURL, loc, logger))
		calendar = b

		cached, err := market.NewCachedProvider(
			market.NewRetryingProvider(
				market.NewAlpacaProvider(cfg.Alpaca.APIKey, cfg.Alpaca.APISecret, cfg.Alpaca.DataURL),
				retry.NewClient(logger)),
			cfg.Cache.Path)
		if err != nil {
			logger.Fatalf("Opening bar cache: %v", err)
		}
		defer func() {
			if err := cached.Close(); err != nil {
				logger.Printf("Closing bar cache: %v", err)
			}
		}()
		provider = cached

		if len(symbols) == 0 {
			filter := universe.NewEquityFilter(b, provider, cfg.Universe, logger)
			symbols, err = filter.Symbols(context.Background(), start, renewUniverse)
			if err != nil {
				logger.Fatalf("Building universe: %v", err)
			}
		}
	}

	service := market.NewService(provider, cfg.History, logger)
	clk := clock.New(clock.Backtest, start, end, loc, calendar)

	positions := portfolio.NewPositions()
	account := portfolio.NewLocalAccount(cfg.InitialCash, positions)
	manager := orders.NewManager(
		orders.NewLocalBuyer(account, positions, cfg.Order.OneTimeInvestRatio, logger),
		orders.NewLocalSeller(account, positions, logger),
		account, positions, nil, logger, orders.FromOrderConfig(cfg.Order))

	run, err := logs.NewRun(cfg.Logs, start, end, time.Now().In(loc))
	if err != nil {
		logger.Fatalf("Opening log sinks: %v", err)
	}
	manager.SetAuditSinks(run.Prophecy(), run.Order())

	eng, err := engine.New(engine.Deps{
		Clock:     clk,
		Market:    service,
		Strategy:  strategy.NewEngine(cfg.Strategy, cfg.Order.Trailing, logger),
		Orders:    manager,
		Account:   account,
		Positions: positions,
		Run:       run,
		Logger:    logger,
		Trailing:  cfg.Order.Trailing,
	})
	if err != nil {
		logger.Fatalf("Wiring engine: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigChan
		logger.Println("Shutdown signal received, stopping backtest...")
		cancel()
	}()

	if err := eng.Bootstrap(ctx, symbols); err != nil {
		logger.Fatalf("Bootstrap: %v", err)
	}
	if err := eng.RunBacktest(ctx); err != nil {
		logger.Fatalf("Backtest: %v", err)
	}
	logger.Println("Backtest finished")
}

func splitSymbols(list string) []string {
	if strings.TrimSpace(list) == "" {
		return nil
	}
	parts := strings.Split(list, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if s := strings.ToUpper(strings.TrimSpace(p)); s != "" {
			out = append(out, s)
		}
	}
	return out
}
