// Command trader runs the live/paper trading session: it builds the
// day's universe, bootstraps hourly histories, and trades the minute
// loop against the Alpaca venue until the session range ends or a
// shutdown signal arrives.
package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"

	"github.com/neuralprobe/D4/internal/broker"
	"github.com/neuralprobe/D4/internal/clock"
	"github.com/neuralprobe/D4/internal/config"
	"github.com/neuralprobe/D4/internal/dashboard"
	"github.com/neuralprobe/D4/internal/engine"
	"github.com/neuralprobe/D4/internal/logs"
	"github.com/neuralprobe/D4/internal/market"
	"github.com/neuralprobe/D4/internal/orders"
	"github.com/neuralprobe/D4/internal/portfolio"
	"github.com/neuralprobe/D4/internal/retry"
	"github.com/neuralprobe/D4/internal/storage"
	"github.com/neuralprobe/D4/internal/strategy"
	"github.com/neuralprobe/D4/internal/universe"
)

func main() {
	var configPath string
	var renewUniverse bool
	flag.StringVar(&configPath, "config", "config.yaml", "Path to configuration file")
	flag.BoolVar(&renewUniverse, "renew-universe", false, "Rescan the symbol universe instead of reusing today's cache")
	flag.Parse()

	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		log.Printf("Loading .env: %v", err)
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	if cfg.IsBacktest() {
		log.Fatalf("Environment %q replays recorded data; use the backtest binary", cfg.Environment)
	}

	logger := log.New(os.Stdout, "[TRADER] ", log.LstdFlags|log.Lshortfile)
	logger.Printf("Starting trader in %s mode", cfg.Environment)
	if cfg.IsLive() {
		logger.Println("LIVE TRADING - real money at risk. Waiting 10 seconds to confirm...")
		time.Sleep(10 * time.Second)
	}

	loc := config.Location()
	start, err := cfg.StartDate()
	if err != nil {
		logger.Fatalf("Parsing period.start: %v", err)
	}
	end, err := cfg.EndDate()
	if err != nil {
		logger.Fatalf("Parsing period.end: %v", err)
	}

	b := broker.NewCircuitBreakerBroker(
		broker.NewAlpacaBroker(cfg.Alpaca.APIKey, cfg.Alpaca.APISecret, cfg.Alpaca.BaseURL, loc, logger))
	provider := market.NewRetryingProvider(
		market.NewAlpacaProvider(cfg.Alpaca.APIKey, cfg.Alpaca.APISecret, cfg.Alpaca.DataURL),
		retry.NewClient(logger))
	service := market.NewService(provider, cfg.History, logger)

	store, err := storage.NewStorage(cfg.Storage.Path)
	if err != nil {
		logger.Fatalf("Opening position storage: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigChan
		logger.Println("Shutdown signal received, stopping trader...")
		cancel()
	}()

	clk := clock.New(clock.Live, start, end, loc, b)
	clk.Advance() // align to the current wall minute before any as-of reads

	filter := universe.NewEquityFilter(b, provider, cfg.Universe, logger)
	symbols, err := filter.Symbols(ctx, clk.Current(), renewUniverse)
	if err != nil {
		logger.Fatalf("Building universe: %v", err)
	}

	positions := portfolio.NewPositions()
	account := portfolio.NewLiveAccount(b, positions, logger)
	orderCfg := orders.FromOrderConfig(cfg.Order)
	buyer := orders.NewLiveBuyer(b, account, positions, cfg.Order.OneTimeInvestRatio, logger, orderCfg)
	seller := orders.NewLiveSeller(b, account, positions, logger, orderCfg)
	manager := orders.NewManager(buyer, seller, account, positions, b, logger, orderCfg)

	run, err := logs.NewRun(cfg.Logs, start, end, time.Now().In(loc))
	if err != nil {
		logger.Fatalf("Opening log sinks: %v", err)
	}
	manager.SetAuditSinks(run.Prophecy(), run.Order())

	eng, err := engine.New(engine.Deps{
		Clock:      clk,
		Market:     service,
		Strategy:   strategy.NewEngine(cfg.Strategy, cfg.Order.Trailing, logger),
		Orders:     manager,
		Account:    account,
		Positions:  positions,
		Storage:    store,
		Run:        run,
		Reconciler: engine.NewReconciler(b, store, positions, cfg.Order.Trailing, logger),
		Logger:     logger,
		Trailing:   cfg.Order.Trailing,
		Live:       true,
	})
	if err != nil {
		logger.Fatalf("Wiring engine: %v", err)
	}
	if err := eng.Bootstrap(ctx, symbols); err != nil {
		logger.Fatalf("Bootstrap: %v", err)
	}

	if cfg.Dashboard.Enabled {
		srv := dashboard.NewServer(dashboard.Config{
			Port:      cfg.Dashboard.Port,
			AuthToken: cfg.Dashboard.AuthToken,
		}, eng, b, logrus.New())
		go func() {
			if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Printf("Status server: %v", err)
			}
		}()
		defer func() {
			shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer shutdownCancel()
			if err := srv.Shutdown(shutdownCtx); err != nil {
				logger.Printf("Status server shutdown: %v", err)
			}
		}()
	}

	if err := eng.RunLive(ctx); err != nil {
		logger.Fatalf("Live session: %v", err)
	}
	logger.Println("Trader stopped")
}
