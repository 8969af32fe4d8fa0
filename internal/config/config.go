// Package config provides configuration management for the trading engine.
package config

import (
	"fmt"
	"os"
	"sort"
	"strings"
	"time"

	yaml "gopkg.in/yaml.v3"
)

const (
	// defaultHistoryHours is the hourly lookback fetched at bootstrap.
	defaultHistoryHours = 2000
	// defaultMinNumBars drops symbols with too little history to warm
	// up the longest moving average.
	defaultMinNumBars = 480
	// defaultTrailing is the trailing-stop fraction (1% under price).
	defaultTrailing = 0.01
	// defaultInitialCash funds backtest accounts when unset.
	defaultInitialCash = 100_000
)

// Config represents the complete application configuration.
type Config struct {
	Environment string          `yaml:"environment"` // live | paper | backtest
	InitialCash float64         `yaml:"initial_cash"`
	Alpaca      AlpacaConfig    `yaml:"alpaca"`
	Period      PeriodConfig    `yaml:"period"`
	Universe    UniverseConfig  `yaml:"universe"`
	History     HistoryConfig   `yaml:"history"`
	Order       OrderConfig     `yaml:"order"`
	Strategy    StrategyConfig  `yaml:"strategy"`
	Logs        LogsConfig      `yaml:"logs"`
	Storage     StorageConfig   `yaml:"storage"`
	Cache       CacheConfig     `yaml:"cache"`
	Dashboard   DashboardConfig `yaml:"dashboard"`
}

// AlpacaConfig defines broker and data API settings.
type AlpacaConfig struct {
	APIKey    string `yaml:"api_key"`
	APISecret string `yaml:"api_secret"`
	BaseURL   string `yaml:"base_url"`
	DataURL   string `yaml:"data_url"`
}

// PeriodConfig bounds the session, dates in YYYY-MM-DD.
type PeriodConfig struct {
	Start string `yaml:"start"`
	End   string `yaml:"end"`
}

// UniverseConfig controls the tradable-symbol filter.
type UniverseConfig struct {
	TopFraction  float64 `yaml:"top_fraction"`
	LookbackDays int     `yaml:"lookback_days"`
	MaxSymbols   int     `yaml:"max_symbols"`
	CacheDir     string  `yaml:"cache_dir"`
}

// HistoryConfig controls the hourly bootstrap fetch.
type HistoryConfig struct {
	PeriodHours int `yaml:"period_hours"`
	MinNumBars  int `yaml:"min_num_bars"`
	BatchSize   int `yaml:"batch_size"`
	MaxWorkers  int `yaml:"max_workers"`
}

// OrderConfig defines sizing and risk limits for order dispatch.
type OrderConfig struct {
	OneTimeInvestRatio float64 `yaml:"one_time_invest_ratio"`
	MaxBuyPerMin       int     `yaml:"max_buy_per_min"`
	MaxRatioPerAsset   float64 `yaml:"max_ratio_per_asset"`
	Trailing           float64 `yaml:"trailing"`
}

// StrategyConfig defines the indicator parameters.
type StrategyConfig struct {
	BB1        BandConfig `yaml:"bb1"`
	BB2        BandConfig `yaml:"bb2"`
	RSI        RSIConfig  `yaml:"rsi"`
	SMA        SMAConfig  `yaml:"sma"`
	PO         POConfig   `yaml:"po"`
	MaxWorkers int        `yaml:"max_workers"`
}

// BandConfig parameterizes one Bollinger band set.
type BandConfig struct {
	Length int     `yaml:"length"`
	Mult   float64 `yaml:"mult"`
	Margin float64 `yaml:"margin"`
}

// RSIConfig parameterizes the RSI oversold/overbought check.
type RSIConfig struct {
	Length     int `yaml:"length"`
	HillWindow int `yaml:"hill_window"`
	Hills      int `yaml:"hills"`
}

// SMAConfig parameterizes the moving-average ladder.
type SMAConfig struct {
	Periods []int   `yaml:"periods"`
	Margin  float64 `yaml:"margin"`
}

// POConfig parameterizes the price oscillator.
type POConfig struct {
	Length int `yaml:"length"`
}

// LogsConfig defines where the run's CSV artifacts land.
type LogsConfig struct {
	Dir    string `yaml:"dir"`
	Prefix string `yaml:"prefix"`
}

// StorageConfig defines the position side-table location.
type StorageConfig struct {
	Path string `yaml:"path"`
}

// CacheConfig defines the backtest bar cache location.
type CacheConfig struct {
	Path string `yaml:"path"`
}

// DashboardConfig defines the status server settings.
type DashboardConfig struct {
	Enabled   bool   `yaml:"enabled"`
	Port      int    `yaml:"port"`
	AuthToken string `yaml:"auth_token"`
}

// Load reads and parses the configuration file from the specified path.
func Load(configPath string) (*Config, error) {
	if configPath == "" {
		configPath = "config.yaml"
	}

	data, err := os.ReadFile(configPath) // #nosec G304 -- configPath is a user-provided config file path
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	// Expand environment variables
	expanded := os.ExpandEnv(string(data))

	var config Config
	dec := yaml.NewDecoder(strings.NewReader(expanded))
	dec.KnownFields(true)
	if err := dec.Decode(&config); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}

	config.applyDefaults()
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &config, nil
}

// applyDefaults fills unset keys with production defaults.
func (c *Config) applyDefaults() {
	if c.InitialCash == 0 {
		c.InitialCash = defaultInitialCash
	}
	if c.Alpaca.BaseURL == "" {
		c.Alpaca.BaseURL = "https://paper-api.alpaca.markets"
	}
	if c.Alpaca.DataURL == "" {
		c.Alpaca.DataURL = "https://data.alpaca.markets"
	}
	if c.Universe.TopFraction == 0 {
		c.Universe.TopFraction = 0.05
	}
	if c.Universe.LookbackDays == 0 {
		c.Universe.LookbackDays = 60
	}
	if c.Universe.MaxSymbols == 0 {
		c.Universe.MaxSymbols = 50
	}
	if c.Universe.CacheDir == "" {
		c.Universe.CacheDir = "data/universe"
	}
	if c.History.PeriodHours == 0 {
		c.History.PeriodHours = defaultHistoryHours
	}
	if c.History.MinNumBars == 0 {
		c.History.MinNumBars = defaultMinNumBars
	}
	if c.History.BatchSize == 0 {
		c.History.BatchSize = 1024
	}
	if c.History.MaxWorkers == 0 {
		c.History.MaxWorkers = 10
	}
	if c.Order.OneTimeInvestRatio == 0 {
		c.Order.OneTimeInvestRatio = 0.05
	}
	if c.Order.MaxBuyPerMin == 0 {
		c.Order.MaxBuyPerMin = 2
	}
	if c.Order.MaxRatioPerAsset == 0 {
		c.Order.MaxRatioPerAsset = 0.10
	}
	if c.Order.Trailing == 0 {
		c.Order.Trailing = defaultTrailing
	}
	if c.Strategy.BB1.Length == 0 {
		c.Strategy.BB1 = BandConfig{Length: 20, Mult: 2, Margin: 0.01}
	}
	if c.Strategy.BB2.Length == 0 {
		c.Strategy.BB2 = BandConfig{Length: 4, Mult: 4, Margin: 0.01}
	}
	if c.Strategy.RSI.Length == 0 {
		c.Strategy.RSI = RSIConfig{Length: 14, HillWindow: 32, Hills: 3}
	}
	if len(c.Strategy.SMA.Periods) == 0 {
		c.Strategy.SMA.Periods = []int{5, 20, 60, 120, 240, 480}
	}
	if c.Strategy.SMA.Margin == 0 {
		c.Strategy.SMA.Margin = 0.01
	}
	if c.Strategy.PO.Length == 0 {
		c.Strategy.PO.Length = 14
	}
	if c.Strategy.MaxWorkers == 0 {
		c.Strategy.MaxWorkers = 30
	}
	if c.Logs.Dir == "" {
		c.Logs.Dir = "logs"
	}
	if c.Logs.Prefix == "" {
		c.Logs.Prefix = "trader"
	}
	if c.Storage.Path == "" {
		c.Storage.Path = "data/positions.json"
	}
	if c.Cache.Path == "" {
		c.Cache.Path = "data/bars.db"
	}
	if c.Dashboard.Port == 0 {
		c.Dashboard.Port = 8080
	}
}

// Validate checks that all configuration values are valid and consistent.
func (c *Config) Validate() error {
	switch c.Environment {
	case "live", "paper", "backtest":
	default:
		return fmt.Errorf("environment must be 'live', 'paper' or 'backtest'")
	}

	if c.Alpaca.APIKey == "" {
		return fmt.Errorf("alpaca.api_key is required")
	}
	if c.Alpaca.APISecret == "" {
		return fmt.Errorf("alpaca.api_secret is required")
	}

	if c.Period.Start == "" || c.Period.End == "" {
		return fmt.Errorf("period.start and period.end are required")
	}
	start, err := c.StartDate()
	if err != nil {
		return fmt.Errorf("period.start invalid: %w", err)
	}
	end, err := c.EndDate()
	if err != nil {
		return fmt.Errorf("period.end invalid: %w", err)
	}
	if end.Before(start) {
		return fmt.Errorf("period.end (%s) before period.start (%s)", c.Period.End, c.Period.Start)
	}

	if c.InitialCash <= 0 {
		return fmt.Errorf("initial_cash must be > 0")
	}
	if c.Universe.TopFraction <= 0 || c.Universe.TopFraction > 1 {
		return fmt.Errorf("universe.top_fraction must be in (0,1]")
	}
	if c.Universe.LookbackDays <= 0 {
		return fmt.Errorf("universe.lookback_days must be > 0")
	}
	if c.Universe.MaxSymbols < 0 {
		return fmt.Errorf("universe.max_symbols must be >= 0")
	}
	if c.History.PeriodHours <= 0 {
		return fmt.Errorf("history.period_hours must be > 0")
	}
	if c.History.MinNumBars <= 0 {
		return fmt.Errorf("history.min_num_bars must be > 0")
	}
	if c.History.BatchSize <= 0 {
		return fmt.Errorf("history.batch_size must be > 0")
	}
	if c.History.MaxWorkers <= 0 {
		return fmt.Errorf("history.max_workers must be > 0")
	}
	if c.Order.OneTimeInvestRatio <= 0 || c.Order.OneTimeInvestRatio > 1 {
		return fmt.Errorf("order.one_time_invest_ratio must be in (0,1]")
	}
	if c.Order.MaxBuyPerMin < 1 {
		return fmt.Errorf("order.max_buy_per_min must be >= 1")
	}
	if c.Order.MaxRatioPerAsset <= 0 || c.Order.MaxRatioPerAsset > 1 {
		return fmt.Errorf("order.max_ratio_per_asset must be in (0,1]")
	}
	if c.Order.Trailing <= 0 || c.Order.Trailing >= 0.5 {
		return fmt.Errorf("order.trailing must be in (0,0.5)")
	}
	for _, band := range []struct {
		name string
		cfg  BandConfig
	}{{"bb1", c.Strategy.BB1}, {"bb2", c.Strategy.BB2}} {
		if band.cfg.Length < 2 {
			return fmt.Errorf("strategy.%s.length must be >= 2", band.name)
		}
		if band.cfg.Mult <= 0 {
			return fmt.Errorf("strategy.%s.mult must be > 0", band.name)
		}
		if band.cfg.Margin < 0 {
			return fmt.Errorf("strategy.%s.margin must be >= 0", band.name)
		}
	}
	if c.Strategy.RSI.Length <= 0 || c.Strategy.RSI.HillWindow <= 0 || c.Strategy.RSI.Hills < 1 {
		return fmt.Errorf("strategy.rsi settings must be positive")
	}
	if len(c.Strategy.SMA.Periods) < 2 {
		return fmt.Errorf("strategy.sma.periods needs at least 2 entries")
	}
	if !sort.IntsAreSorted(c.Strategy.SMA.Periods) {
		return fmt.Errorf("strategy.sma.periods must be ascending")
	}
	for _, p := range c.Strategy.SMA.Periods {
		if p <= 0 {
			return fmt.Errorf("strategy.sma.periods must be positive")
		}
	}
	if c.Strategy.SMA.Margin < 0 {
		return fmt.Errorf("strategy.sma.margin must be >= 0")
	}
	if c.Strategy.PO.Length <= 0 {
		return fmt.Errorf("strategy.po.length must be > 0")
	}
	if c.Strategy.MaxWorkers < 1 || c.Strategy.MaxWorkers > 30 {
		return fmt.Errorf("strategy.max_workers must be in [1,30]")
	}
	if c.Dashboard.Port < 1 || c.Dashboard.Port > 65535 {
		return fmt.Errorf("dashboard.port must be a valid port")
	}
	return nil
}

// IsBacktest returns true when running against recorded data.
func (c *Config) IsBacktest() bool { return c.Environment == "backtest" }

// IsLive returns true when orders go to a real account.
func (c *Config) IsLive() bool { return c.Environment == "live" }

// Location returns the exchange timezone.
func Location() *time.Location {
	loc, err := time.LoadLocation("America/New_York")
	if err != nil {
		// Fallback for minimal containers
		return time.FixedZone("ET", -5*60*60)
	}
	return loc
}

// StartDate returns period.start at midnight exchange time.
func (c *Config) StartDate() (time.Time, error) {
	return time.ParseInLocation("2006-01-02", c.Period.Start, Location())
}

// EndDate returns period.end at midnight exchange time.
func (c *Config) EndDate() (time.Time, error) {
	return time.ParseInLocation("2006-01-02", c.Period.End, Location())
}
