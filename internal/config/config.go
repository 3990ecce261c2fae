// Package config provides configuration management for the paper trading
// service.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
	apperrors "papertrader/internal/errors"
	"papertrader/internal/logging"
	"papertrader/internal/models"
)

// EnvPrefix prefixes every environment override, e.g.
// PAPERTRADER_STORE_DRIVER=postgres.
const EnvPrefix = "PAPERTRADER"

// Config holds all application configuration.
type Config struct {
	Engine        EngineConfig           `mapstructure:"engine"`
	Orchestrator  OrchestratorConfig     `mapstructure:"orchestrator"`
	Fees          FeesConfig             `mapstructure:"fees"`
	Store         StoreConfig            `mapstructure:"store"`
	Feed          FeedConfig             `mapstructure:"feed"`
	Server        ServerConfig           `mapstructure:"server"`
	Logging       LoggingConfig          `mapstructure:"logging"`
	Notifications NotificationConfig     `mapstructure:"notifications"`
	Templates     []models.AgentTemplate `mapstructure:"templates"`

	// Path is the file the configuration was read from.
	Path string `mapstructure:"-"`
}

// EngineConfig tunes every trading engine.
type EngineConfig struct {
	WindowSize          int     `mapstructure:"window_size"`
	MinPoints           int     `mapstructure:"min_points"`
	ConfidenceThreshold float64 `mapstructure:"confidence_threshold"`
	TradeHistory        int     `mapstructure:"trade_history"`
}

// OrchestratorConfig holds fleet limits.
type OrchestratorConfig struct {
	MaxRunningAgents int           `mapstructure:"max_running_agents"`
	MonitorInterval  time.Duration `mapstructure:"monitor_interval"`
	ActivityLogSize  int           `mapstructure:"activity_log_size"`
}

// FeeSchedule is a static schedule in the fee service's string format.
type FeeSchedule struct {
	MakerRate string `mapstructure:"maker_rate"`
	TakerRate string `mapstructure:"taker_rate"`
	Note      string `mapstructure:"note"`
}

// FeesConfig configures fee resolution.
type FeesConfig struct {
	DefaultMaker float64                `mapstructure:"default_maker"`
	DefaultTaker float64                `mapstructure:"default_taker"`
	BaseURL      string                 `mapstructure:"base_url"`
	Timeout      time.Duration          `mapstructure:"timeout"`
	Schedule     map[string]FeeSchedule `mapstructure:"schedule"`
}

// StoreConfig selects and tunes the persistence backend.
type StoreConfig struct {
	Driver       string        `mapstructure:"driver"` // sqlite, postgres, memory
	SQLitePath   string        `mapstructure:"sqlite_path"`
	PostgresDSN  string        `mapstructure:"postgres_dsn"`
	RedisURL     string        `mapstructure:"redis_url"`
	RedisTTL     time.Duration `mapstructure:"redis_ttl"`
	FallbackPath string        `mapstructure:"fallback_path"`
	QueueSize    int           `mapstructure:"queue_size"`
}

// FeedConfig describes where market data comes from.
type FeedConfig struct {
	Source     string             `mapstructure:"source"` // simulated, replay
	BasePrices map[string]float64 `mapstructure:"base_prices"`
	Interval   time.Duration      `mapstructure:"interval"`
	Volatility float64            `mapstructure:"volatility"`
	Seed       int64              `mapstructure:"seed"`
	ReplayPath string             `mapstructure:"replay_path"`
	Pace       time.Duration      `mapstructure:"pace"`
}

// Prices returns BasePrices keyed by upper-case asset symbol. Viper folds
// table keys to lower case.
func (f FeedConfig) Prices() map[string]float64 {
	out := make(map[string]float64, len(f.BasePrices))
	for asset, price := range f.BasePrices {
		out[strings.ToUpper(asset)] = price
	}
	return out
}

// ServerConfig controls the HTTP API.
type ServerConfig struct {
	Enabled   bool    `mapstructure:"enabled"`
	Addr      string  `mapstructure:"addr"`
	RateLimit float64 `mapstructure:"rate_limit"`
	RateBurst int     `mapstructure:"rate_burst"`
}

// LoggingConfig mirrors logging.LogConfig.
type LoggingConfig struct {
	Level      string `mapstructure:"level"`
	Console    bool   `mapstructure:"console"`
	File       bool   `mapstructure:"file"`
	FilePath   string `mapstructure:"file_path"`
	MaxSize    int    `mapstructure:"max_size"`
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAge     int    `mapstructure:"max_age"`
}

// LogConfig converts to the logger's configuration.
func (l LoggingConfig) LogConfig() logging.LogConfig {
	return logging.LogConfig{
		Level:      l.Level,
		Console:    l.Console,
		File:       l.File,
		FilePath:   l.FilePath,
		MaxSize:    l.MaxSize,
		MaxBackups: l.MaxBackups,
		MaxAge:     l.MaxAge,
	}
}

// NotificationConfig holds notification configuration.
type NotificationConfig struct {
	WebhookURL string        `mapstructure:"webhook_url"`
	Timeout    time.Duration `mapstructure:"timeout"`
	Terminal   bool          `mapstructure:"terminal"`
	MinLevel   string        `mapstructure:"min_level"` // warning, error
}

// DefaultConfigDir returns the default configuration directory.
func DefaultConfigDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".config/papertrader"
	}
	return filepath.Join(home, ".config", "papertrader")
}

// Load reads config.toml from configDir, writing the commented template
// first when the file does not exist. If configDir is empty, uses the
// default config directory. PAPERTRADER_* variables override file values.
func Load(configDir string) (*Config, error) {
	if configDir == "" {
		configDir = DefaultConfigDir()
	}

	v := newViper(configDir)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("loading config.toml: %w", err)
		}
		if err := createTemplateConfig(configDir, "config"); err != nil {
			return nil, err
		}
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("loading config.toml: %w", err)
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("decoding config.toml: %w", err)
	}
	cfg.Path = v.ConfigFileUsed()
	cfg.applyFallbacks(configDir)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}
	return cfg, nil
}

// Default returns the configuration Load produces from an empty file.
func Default() *Config {
	cfg := &Config{}
	// Decoding plain defaults cannot fail.
	_ = newViper("").Unmarshal(cfg)
	cfg.applyFallbacks(DefaultConfigDir())
	return cfg
}

func newViper(configDir string) *viper.Viper {
	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("toml")
	if configDir != "" {
		v.AddConfigPath(configDir)
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	setDefaults(v)
	return v
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("engine.window_size", 100)
	v.SetDefault("engine.min_points", 5)
	v.SetDefault("engine.confidence_threshold", 50.0)
	v.SetDefault("engine.trade_history", 100)

	v.SetDefault("orchestrator.max_running_agents", 10)
	v.SetDefault("orchestrator.monitor_interval", "5s")
	v.SetDefault("orchestrator.activity_log_size", 50)

	v.SetDefault("fees.default_maker", 0.001)
	v.SetDefault("fees.default_taker", 0.001)
	v.SetDefault("fees.base_url", "")
	v.SetDefault("fees.timeout", "5s")

	v.SetDefault("store.driver", "sqlite")
	v.SetDefault("store.sqlite_path", "papertrader.db")
	v.SetDefault("store.postgres_dsn", "")
	v.SetDefault("store.redis_url", "")
	v.SetDefault("store.redis_ttl", "1m")
	v.SetDefault("store.fallback_path", "fallback.json")
	v.SetDefault("store.queue_size", 1024)

	v.SetDefault("feed.source", "simulated")
	v.SetDefault("feed.interval", "1s")
	v.SetDefault("feed.volatility", 0.002)
	v.SetDefault("feed.seed", 0)
	v.SetDefault("feed.replay_path", "")
	v.SetDefault("feed.pace", "100ms")

	v.SetDefault("server.enabled", true)
	v.SetDefault("server.addr", ":8080")
	v.SetDefault("server.rate_limit", 20.0)
	v.SetDefault("server.rate_burst", 40)

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.console", true)
	v.SetDefault("logging.file", false)
	v.SetDefault("logging.file_path", "logs/papertrader.log")
	v.SetDefault("logging.max_size", 50)
	v.SetDefault("logging.max_backups", 5)
	v.SetDefault("logging.max_age", 14)

	v.SetDefault("notifications.webhook_url", "")
	v.SetDefault("notifications.timeout", "5s")
	v.SetDefault("notifications.terminal", false)
	v.SetDefault("notifications.min_level", "warning")
}

// DefaultBasePrices seed the simulated feed when the file lists none.
// Table defaults are not used because viper merges them key by key into
// whatever the file declares.
func DefaultBasePrices() map[string]float64 {
	return map[string]float64{"BTCUSDT": 45000, "ETHUSDT": 2500}
}

// applyFallbacks fills values viper cannot default and anchors relative
// file paths at the config directory.
func (c *Config) applyFallbacks(configDir string) {
	if len(c.Feed.BasePrices) == 0 {
		c.Feed.BasePrices = DefaultBasePrices()
	}
	anchor := func(p string) string {
		if p == "" || filepath.IsAbs(p) {
			return p
		}
		return filepath.Join(configDir, p)
	}
	c.Store.SQLitePath = anchor(c.Store.SQLitePath)
	c.Store.FallbackPath = anchor(c.Store.FallbackPath)
	c.Logging.FilePath = anchor(c.Logging.FilePath)
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if c.Engine.WindowSize < 1 {
		return apperrors.NewValidationError("engine.window_size", c.Engine.WindowSize, "must be positive")
	}
	if c.Engine.MinPoints < 1 || c.Engine.MinPoints > c.Engine.WindowSize {
		return apperrors.NewValidationError("engine.min_points", c.Engine.MinPoints, "must be between 1 and window_size")
	}
	if c.Engine.ConfidenceThreshold < 0 || c.Engine.ConfidenceThreshold > 100 {
		return apperrors.NewValidationError("engine.confidence_threshold", c.Engine.ConfidenceThreshold, "must be between 0 and 100")
	}
	if c.Engine.TradeHistory < 1 {
		return apperrors.NewValidationError("engine.trade_history", c.Engine.TradeHistory, "must be positive")
	}

	if c.Orchestrator.MaxRunningAgents < 1 {
		return apperrors.NewValidationError("orchestrator.max_running_agents", c.Orchestrator.MaxRunningAgents, "must be positive")
	}
	if c.Orchestrator.MonitorInterval <= 0 {
		return apperrors.NewValidationError("orchestrator.monitor_interval", c.Orchestrator.MonitorInterval, "must be positive")
	}

	if c.Fees.DefaultMaker < 0 || c.Fees.DefaultTaker < 0 || c.Fees.DefaultTaker >= 1 || c.Fees.DefaultMaker >= 1 {
		return apperrors.NewValidationError("fees.default_taker", c.Fees.DefaultTaker, "default rates must be fractions in [0, 1)")
	}

	switch c.Store.Driver {
	case "sqlite", "memory":
	case "postgres":
		if c.Store.PostgresDSN == "" {
			return apperrors.NewValidationError("store.postgres_dsn", "", "required for the postgres driver")
		}
	default:
		return apperrors.NewValidationError("store.driver", c.Store.Driver, "must be sqlite, postgres or memory")
	}

	switch c.Feed.Source {
	case "simulated":
		if len(c.Feed.BasePrices) == 0 {
			return apperrors.NewValidationError("feed.base_prices", nil, "at least one asset is required")
		}
		for asset, price := range c.Feed.BasePrices {
			if price <= 0 {
				return apperrors.NewValidationError("feed.base_prices."+asset, price, "must be positive")
			}
		}
		if c.Feed.Interval <= 0 {
			return apperrors.NewValidationError("feed.interval", c.Feed.Interval, "must be positive")
		}
	case "replay":
		if c.Feed.ReplayPath == "" {
			return apperrors.NewValidationError("feed.replay_path", "", "required for the replay source")
		}
	default:
		return apperrors.NewValidationError("feed.source", c.Feed.Source, "must be simulated or replay")
	}

	switch c.Notifications.MinLevel {
	case "", "info", "success", "warning", "error":
	default:
		return apperrors.NewValidationError("notifications.min_level", c.Notifications.MinLevel, "unknown level")
	}

	for _, t := range c.Templates {
		if t.Name == "" {
			return apperrors.NewValidationError("templates.name", "", "template name is required")
		}
	}
	return nil
}
