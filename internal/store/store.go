// Package store provides persistence for agent configuration, portfolio
// state, trade history and the activity log.
package store

import (
	"context"
	"time"

	"github.com/rs/zerolog"
	apperrors "papertrader/internal/errors"
	"papertrader/internal/models"
	"papertrader/pkg/utils"
)

const (
	// MaxTrades is the number of trades retained per agent.
	MaxTrades = 100
	// MaxActivity is the number of activity entries retained.
	MaxActivity = 50
)

// Store is the persistence contract. All records are keyed by agent ID.
// Reads of missing records return ErrDataNotFound.
type Store interface {
	// Name identifies the backend in logs and metrics.
	Name() string
	IsAvailable(ctx context.Context) bool

	SaveConfiguration(ctx context.Context, cfg models.AgentConfig) error
	SavePortfolioState(ctx context.Context, agentID string, p models.Portfolio) error
	SaveTrade(ctx context.Context, agentID string, t models.Trade) error
	SaveActivity(ctx context.Context, entry models.ActivityEntry) error

	GetConfiguration(ctx context.Context, agentID string) (*models.AgentConfig, error)
	GetCurrentPortfolio(ctx context.Context, agentID string) (*models.Portfolio, error)
	// GetTrades returns up to limit of the agent's most recent trades,
	// oldest first. A non-positive limit means MaxTrades.
	GetTrades(ctx context.Context, agentID string, limit int) ([]models.Trade, error)
	// GetActivity returns up to limit recent entries, oldest first.
	GetActivity(ctx context.Context, limit int) ([]models.ActivityEntry, error)
	ListAgents(ctx context.Context) ([]models.AgentConfig, error)

	// DeleteAgent removes every record for the agent.
	DeleteAgent(ctx context.Context, agentID string) error
	Close() error
}

// clampLimit normalises a caller-supplied limit against max.
func clampLimit(limit, max int) int {
	if limit <= 0 || limit > max {
		return max
	}
	return limit
}

// SelectConfig controls the startup availability check.
type SelectConfig struct {
	Retry  utils.RetryConfig
	Logger zerolog.Logger
}

// DefaultSelectConfig checks three times with a short backoff.
func DefaultSelectConfig() SelectConfig {
	return SelectConfig{
		Retry: utils.RetryConfig{
			MaxAttempts:   3,
			InitialDelay:  200 * time.Millisecond,
			MaxDelay:      2 * time.Second,
			BackoffFactor: 2,
		},
		Logger: zerolog.Nop(),
	}
}

// Select checks durable once and returns the store the process should use
// for its lifetime. When durable answers, anything left in fallback from a
// previous run is migrated into it and the fallback is cleared. When it
// does not, fallback is returned. A nil durable always selects fallback.
func Select(ctx context.Context, durable Store, fallback *LocalStore, cfg SelectConfig) Store {
	logger := cfg.Logger
	if durable == nil {
		logger.Info().Str("backend", fallback.Name()).Msg("No durable store configured, using local store")
		return fallback
	}

	err := utils.Retry(ctx, cfg.Retry, func() error {
		if !durable.IsAvailable(ctx) {
			return apperrors.ErrBackendUnavailable
		}
		return nil
	})
	if err != nil {
		logger.Warn().Err(err).Str("backend", durable.Name()).Msg("Durable store unavailable, falling back to local store")
		return fallback
	}

	if n, err := Migrate(ctx, fallback, durable); err != nil {
		logger.Warn().Err(err).Int("agents", n).Msg("Migration from local store incomplete, keeping local copy")
	} else if n > 0 {
		logger.Info().Int("agents", n).Str("backend", durable.Name()).Msg("Migrated local store")
	}
	return durable
}

// Migrate copies every agent and activity entry from src into dst and then
// clears src. It returns the number of agents copied. On any error src is
// left intact so the next startup can retry.
func Migrate(ctx context.Context, src *LocalStore, dst Store) (int, error) {
	agents, err := src.ListAgents(ctx)
	if err != nil {
		return 0, err
	}

	copied := 0
	for _, cfg := range agents {
		if err := copyAgent(ctx, src, dst, cfg); err != nil {
			return copied, apperrors.Wrapf(err, "migrating agent %s", cfg.ID)
		}
		copied++
	}

	activity, err := src.GetActivity(ctx, MaxActivity)
	if err != nil {
		return copied, err
	}
	for _, entry := range activity {
		if err := dst.SaveActivity(ctx, entry); err != nil {
			return copied, apperrors.Wrap(err, "migrating activity")
		}
	}

	if copied == 0 && len(activity) == 0 {
		return 0, nil
	}
	return copied, src.Clear()
}

func copyAgent(ctx context.Context, src *LocalStore, dst Store, cfg models.AgentConfig) error {
	if err := dst.SaveConfiguration(ctx, cfg); err != nil {
		return err
	}

	p, err := src.GetCurrentPortfolio(ctx, cfg.ID)
	switch {
	case err == nil:
		if err := dst.SavePortfolioState(ctx, cfg.ID, *p); err != nil {
			return err
		}
	case !apperrors.Is(err, apperrors.ErrDataNotFound):
		return err
	}

	trades, err := src.GetTrades(ctx, cfg.ID, MaxTrades)
	if err != nil {
		return err
	}
	for _, t := range trades {
		if err := dst.SaveTrade(ctx, cfg.ID, t); err != nil {
			return err
		}
	}
	return nil
}

// reverse flips a newest-first query result into chronological order.
func reverse[T any](s []T) {
	for i, j := 0, len(s)-1; i < j; i, j = i+1, j-1 {
		s[i], s[j] = s[j], s[i]
	}
}
