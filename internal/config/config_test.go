package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	apperrors "papertrader/internal/errors"
	"papertrader/internal/models"
)

func TestLoadWritesTemplateWhenMissing(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "papertrader")

	cfg, err := Load(dir)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if _, err := os.Stat(filepath.Join(dir, "config.toml")); err != nil {
		t.Fatalf("template not written: %v", err)
	}

	if cfg.Engine.WindowSize != 100 || cfg.Engine.MinPoints != 5 || cfg.Engine.ConfidenceThreshold != 50 {
		t.Fatalf("engine %+v", cfg.Engine)
	}
	if cfg.Orchestrator.MaxRunningAgents != 10 || cfg.Orchestrator.MonitorInterval != 5*time.Second {
		t.Fatalf("orchestrator %+v", cfg.Orchestrator)
	}
	if cfg.Store.Driver != "sqlite" || cfg.Store.SQLitePath != filepath.Join(dir, "papertrader.db") {
		t.Fatalf("store %+v", cfg.Store)
	}
	if got := cfg.Feed.Prices()["BTCUSDT"]; got != 45000 {
		t.Fatalf("BTCUSDT base price %v", got)
	}
	if s := cfg.Fees.Schedule["kraken"]; s.TakerRate != "0.26%" {
		t.Fatalf("kraken schedule %+v", s)
	}
	if cfg.Path != filepath.Join(dir, "config.toml") {
		t.Fatalf("path %q", cfg.Path)
	}
}

func TestLoadReadsTemplatesAndTables(t *testing.T) {
	dir := t.TempDir()
	body := `
[feed]
source = "simulated"
interval = "250ms"

[feed.base_prices]
SOLUSDT = 150.0

[store]
driver = "memory"

[[templates]]
name = "Night Owl"
strategy = "meanReversion"
risk_level = "low"
position_size = 8.0
trading_speed = "conservative"
max_drawdown = 5.0
profit_target = 10.0
`
	if err := os.WriteFile(filepath.Join(dir, "config.toml"), []byte(body), 0644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(dir)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	prices := cfg.Feed.Prices()
	if len(prices) != 1 || prices["SOLUSDT"] != 150 {
		t.Fatalf("prices %v", prices)
	}
	if cfg.Feed.Interval != 250*time.Millisecond {
		t.Fatalf("interval %v", cfg.Feed.Interval)
	}
	if len(cfg.Templates) != 1 {
		t.Fatalf("templates %+v", cfg.Templates)
	}
	tpl := cfg.Templates[0]
	if tpl.Name != "Night Owl" || tpl.Strategy != models.StrategyMeanReversion || tpl.PositionSize != 8 || tpl.TradingSpeed != models.SpeedConservative {
		t.Fatalf("template %+v", tpl)
	}
	// Untouched sections keep their defaults.
	if cfg.Server.Addr != ":8080" || cfg.Engine.TradeHistory != 100 {
		t.Fatalf("defaults lost: %+v %+v", cfg.Server, cfg.Engine)
	}
}

func TestEnvironmentOverrides(t *testing.T) {
	t.Setenv("PAPERTRADER_ORCHESTRATOR_MAX_RUNNING_AGENTS", "3")
	t.Setenv("PAPERTRADER_SERVER_ADDR", ":9090")
	t.Setenv("PAPERTRADER_STORE_DRIVER", "memory")

	cfg, err := Load(t.TempDir())
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Orchestrator.MaxRunningAgents != 3 || cfg.Server.Addr != ":9090" || cfg.Store.Driver != "memory" {
		t.Fatalf("overrides not applied: %+v %+v %+v", cfg.Orchestrator, cfg.Server, cfg.Store)
	}
}

func TestLoadRejectsInvalidFile(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "config.toml"), []byte("[store]\ndriver = \"mongo\"\n"), 0644); err != nil {
		t.Fatal(err)
	}
	if _, err := Load(dir); !apperrors.Is(err, apperrors.ErrConfigInvalid) {
		t.Fatalf("expected ErrConfigInvalid, got %v", err)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"min points above window", func(c *Config) { c.Engine.MinPoints = 200 }},
		{"threshold above 100", func(c *Config) { c.Engine.ConfidenceThreshold = 101 }},
		{"zero agent cap", func(c *Config) { c.Orchestrator.MaxRunningAgents = 0 }},
		{"taker of 100%", func(c *Config) { c.Fees.DefaultTaker = 1 }},
		{"postgres without dsn", func(c *Config) { c.Store.Driver = "postgres" }},
		{"replay without path", func(c *Config) { c.Feed.Source = "replay" }},
		{"non-positive price", func(c *Config) { c.Feed.BasePrices = map[string]float64{"btcusdt": 0} }},
		{"unknown notify level", func(c *Config) { c.Notifications.MinLevel = "loud" }},
		{"unnamed template", func(c *Config) { c.Templates = []models.AgentTemplate{{Strategy: models.StrategyWhale}}}},
	}

	if err := Default().Validate(); err != nil {
		t.Fatalf("defaults invalid: %v", err)
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			if err := cfg.Validate(); !apperrors.Is(err, apperrors.ErrConfigInvalid) {
				t.Fatalf("expected ErrConfigInvalid, got %v", err)
			}
		})
	}
}

func TestLoggingConfigConversion(t *testing.T) {
	lc := Default().Logging.LogConfig()
	if lc.Level != "info" || !lc.Console || lc.MaxSize != 50 {
		t.Fatalf("log config %+v", lc)
	}
}
