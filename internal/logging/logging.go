// Package logging provides structured logging functionality.
package logging

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog"
	"gopkg.in/natefinch/lumberjack.v2"
)

// LogConfig holds logging configuration.
type LogConfig struct {
	Level      string
	Console    bool
	File       bool
	FilePath   string
	MaxSize    int // megabytes
	MaxBackups int
	MaxAge     int // days
}

// DefaultLogConfig returns the default logging configuration.
func DefaultLogConfig() LogConfig {
	home, _ := os.UserHomeDir()
	return LogConfig{
		Level:      "info",
		Console:    true,
		File:       false,
		FilePath:   filepath.Join(home, ".config", "papertrader", "logs", "papertrader.log"),
		MaxSize:    50,
		MaxBackups: 5,
		MaxAge:     14,
	}
}

// NewLogger creates a new logger with default configuration.
func NewLogger() zerolog.Logger {
	return NewLoggerWithConfig(DefaultLogConfig())
}

// NewLoggerWithConfig creates a new logger with the specified configuration.
func NewLoggerWithConfig(cfg LogConfig) zerolog.Logger {
	var writers []io.Writer

	if cfg.Console {
		writers = append(writers, zerolog.ConsoleWriter{
			Out:        os.Stderr,
			TimeFormat: time.RFC3339,
			FormatLevel: func(i interface{}) string {
				ll, ok := i.(string)
				if !ok {
					return "???"
				}
				switch ll {
				case "debug":
					return "\033[36mDBG\033[0m"
				case "info":
					return "\033[32mINF\033[0m"
				case "warn":
					return "\033[33mWRN\033[0m"
				case "error":
					return "\033[31mERR\033[0m"
				default:
					return ll
				}
			},
		})
	}

	// Rotated file output
	if cfg.File && cfg.FilePath != "" {
		if err := os.MkdirAll(filepath.Dir(cfg.FilePath), 0755); err == nil {
			writers = append(writers, &lumberjack.Logger{
				Filename:   cfg.FilePath,
				MaxSize:    cfg.MaxSize,
				MaxBackups: cfg.MaxBackups,
				MaxAge:     cfg.MaxAge,
				Compress:   true,
			})
		}
	}

	var writer io.Writer
	switch len(writers) {
	case 0:
		writer = os.Stderr
	case 1:
		writer = writers[0]
	default:
		writer = zerolog.MultiLevelWriter(writers...)
	}

	zerolog.SetGlobalLevel(ParseLevel(cfg.Level))

	return zerolog.New(writer).
		With().
		Timestamp().
		Caller().
		Logger()
}

// ParseLevel maps a level name onto a zerolog level, defaulting to info.
func ParseLevel(level string) zerolog.Level {
	switch level {
	case "debug":
		return zerolog.DebugLevel
	case "info":
		return zerolog.InfoLevel
	case "warn":
		return zerolog.WarnLevel
	case "error":
		return zerolog.ErrorLevel
	default:
		return zerolog.InfoLevel
	}
}

// SetDebugLevel sets the global log level to debug.
func SetDebugLevel() {
	zerolog.SetGlobalLevel(zerolog.DebugLevel)
}

// ContextKey is the type for context keys.
type ContextKey string

const (
	// LoggerKey is the context key for the logger.
	LoggerKey ContextKey = "logger"
)

// WithLogger adds a logger to the context.
func WithLogger(ctx context.Context, logger zerolog.Logger) context.Context {
	return context.WithValue(ctx, LoggerKey, logger)
}

// FromContext retrieves the logger from context.
func FromContext(ctx context.Context) zerolog.Logger {
	if logger, ok := ctx.Value(LoggerKey).(zerolog.Logger); ok {
		return logger
	}
	return zerolog.Nop()
}

// WithAgent scopes the logger to a single agent.
func WithAgent(logger zerolog.Logger, agentID, agentName string) zerolog.Logger {
	return logger.With().Str("agent_id", agentID).Str("agent", agentName).Logger()
}

// WithAsset adds the traded asset to the logger context.
func WithAsset(logger zerolog.Logger, asset string) zerolog.Logger {
	return logger.With().Str("asset", asset).Logger()
}

// WithComponent tags log lines with the emitting component.
func WithComponent(logger zerolog.Logger, component string) zerolog.Logger {
	return logger.With().Str("component", component).Logger()
}

// LogTrade logs a simulated fill.
func LogTrade(logger zerolog.Logger, asset, side string, qty, price, fee, pnl float64) {
	logger.Info().
		Str("event", "trade").
		Str("asset", asset).
		Str("side", side).
		Float64("quantity", qty).
		Float64("price", price).
		Float64("fee", fee).
		Float64("pnl", pnl).
		Msg("Trade executed")
}

// LogDecision logs a strategy verdict.
func LogDecision(logger zerolog.Logger, asset, action string, should bool, confidence float64, reason string) {
	logger.Debug().
		Str("event", "decision").
		Str("asset", asset).
		Str("action", action).
		Bool("should", should).
		Float64("confidence", confidence).
		Str("reason", reason).
		Msg("Strategy decision")
}

// LogRiskStop logs a drawdown-triggered forced stop.
func LogRiskStop(logger zerolog.Logger, agentID string, drawdown, limit float64) {
	logger.Error().
		Str("event", "risk_stop").
		Str("agent_id", agentID).
		Float64("drawdown", drawdown).
		Float64("limit", limit).
		Msg("Agent stopped by drawdown limit")
}

// LogStoreCall logs a persistence round trip.
func LogStoreCall(logger zerolog.Logger, backend, op string, duration time.Duration, err error) {
	event := logger.Debug().
		Str("event", "store_call").
		Str("backend", backend).
		Str("op", op).
		Dur("duration", duration)

	if err != nil {
		event.Err(err).Msg("Store call failed")
	} else {
		event.Msg("Store call completed")
	}
}
