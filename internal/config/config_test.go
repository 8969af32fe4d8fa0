package config

import (
	"os"
	"path/filepath"
	"testing"
)

const minimalYAML = `environment: backtest
alpaca:
  api_key: test-key
  api_secret: test-secret
period:
  start: "2024-03-04"
  end: "2024-03-08"
`

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("writing config: %v", err)
	}
	return path
}

func TestLoadAppliesDefaults(t *testing.T) {
	cfg, err := Load(writeConfig(t, minimalYAML))
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}

	if !cfg.IsBacktest() {
		t.Error("IsBacktest() = false, want true")
	}
	if cfg.InitialCash != 100_000 {
		t.Errorf("InitialCash = %v, want 100000", cfg.InitialCash)
	}
	if cfg.History.PeriodHours != 2000 || cfg.History.MinNumBars != 480 {
		t.Errorf("history defaults = %d/%d, want 2000/480", cfg.History.PeriodHours, cfg.History.MinNumBars)
	}
	if cfg.History.BatchSize != 1024 {
		t.Errorf("history.batch_size = %d, want 1024", cfg.History.BatchSize)
	}
	if cfg.Order.OneTimeInvestRatio != 0.05 || cfg.Order.MaxBuyPerMin != 2 {
		t.Errorf("order defaults = %v/%d", cfg.Order.OneTimeInvestRatio, cfg.Order.MaxBuyPerMin)
	}
	if cfg.Order.MaxRatioPerAsset != 0.10 || cfg.Order.Trailing != 0.01 {
		t.Errorf("order risk defaults = %v/%v", cfg.Order.MaxRatioPerAsset, cfg.Order.Trailing)
	}
	if cfg.Strategy.BB1.Length != 20 || cfg.Strategy.BB1.Mult != 2 {
		t.Errorf("bb1 defaults = %+v", cfg.Strategy.BB1)
	}
	if cfg.Strategy.BB2.Length != 4 || cfg.Strategy.BB2.Mult != 4 {
		t.Errorf("bb2 defaults = %+v", cfg.Strategy.BB2)
	}
	if cfg.Strategy.RSI.HillWindow != 32 || cfg.Strategy.RSI.Hills != 3 {
		t.Errorf("rsi defaults = %+v", cfg.Strategy.RSI)
	}
	if got := len(cfg.Strategy.SMA.Periods); got != 6 {
		t.Errorf("sma periods = %d entries, want 6", got)
	}
	if cfg.Strategy.MaxWorkers != 30 {
		t.Errorf("strategy.max_workers = %d, want 30", cfg.Strategy.MaxWorkers)
	}
	if cfg.Universe.TopFraction != 0.05 || cfg.Universe.MaxSymbols != 50 {
		t.Errorf("universe defaults = %v/%d", cfg.Universe.TopFraction, cfg.Universe.MaxSymbols)
	}
}

func TestLoadExpandsEnvironment(t *testing.T) {
	t.Setenv("TEST_ALPACA_KEY", "expanded-key")
	body := `environment: paper
alpaca:
  api_key: ${TEST_ALPACA_KEY}
  api_secret: test-secret
period:
  start: "2024-03-04"
  end: "2024-03-08"
`
	cfg, err := Load(writeConfig(t, body))
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if cfg.Alpaca.APIKey != "expanded-key" {
		t.Errorf("APIKey = %q, want expanded-key", cfg.Alpaca.APIKey)
	}
}

func TestLoadRejectsUnknownKeys(t *testing.T) {
	body := minimalYAML + "unknown_key: true\n"
	if _, err := Load(writeConfig(t, body)); err == nil {
		t.Error("Load() accepted unknown key, want error")
	}
}

func TestLoadInvalidPath(t *testing.T) {
	if _, err := Load("nonexistent.yaml"); err == nil {
		t.Error("Expected error when loading nonexistent config file, got nil")
	}
}

func TestValidateRules(t *testing.T) {
	base := func() *Config {
		c := &Config{
			Environment: "backtest",
			Alpaca:      AlpacaConfig{APIKey: "k", APISecret: "s"},
			Period:      PeriodConfig{Start: "2024-03-04", End: "2024-03-08"},
		}
		c.applyDefaults()
		return c
	}

	t.Run("valid base", func(t *testing.T) {
		if err := base().Validate(); err != nil {
			t.Errorf("Validate() = %v, want nil", err)
		}
	})

	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"bad environment", func(c *Config) { c.Environment = "simulated" }},
		{"missing api key", func(c *Config) { c.Alpaca.APIKey = "" }},
		{"missing period", func(c *Config) { c.Period.Start = "" }},
		{"end before start", func(c *Config) { c.Period.End = "2024-03-01" }},
		{"bad invest ratio", func(c *Config) { c.Order.OneTimeInvestRatio = 1.5 }},
		{"bad trailing", func(c *Config) { c.Order.Trailing = 0.9 }},
		{"unsorted sma periods", func(c *Config) { c.Strategy.SMA.Periods = []int{20, 5} }},
		{"too many workers", func(c *Config) { c.Strategy.MaxWorkers = 64 }},
		{"bad top fraction", func(c *Config) { c.Universe.TopFraction = 2 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := base()
			tt.mutate(c)
			if err := c.Validate(); err == nil {
				t.Error("Validate() = nil, want error")
			}
		})
	}
}

func TestPeriodDatesInExchangeTime(t *testing.T) {
	c := &Config{Period: PeriodConfig{Start: "2024-03-04", End: "2024-03-08"}}
	start, err := c.StartDate()
	if err != nil {
		t.Fatalf("StartDate() error: %v", err)
	}
	if start.Hour() != 0 || start.Location() == nil {
		t.Errorf("StartDate() = %v, want midnight exchange time", start)
	}
	end, err := c.EndDate()
	if err != nil {
		t.Fatalf("EndDate() error: %v", err)
	}
	if !end.After(start) {
		t.Errorf("EndDate() %v not after StartDate() %v", end, start)
	}
}
