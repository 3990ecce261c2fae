package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"papertrader/internal/models"
)

// CachedStore wraps a primary Store with a Redis read-through cache. Writes
// go to the primary and then refresh or invalidate the cache; reads check
// Redis first and fall back to the primary.
type CachedStore struct {
	primary Store
	rdb     *redis.Client
	ttl     time.Duration
}

// NewCachedStore creates a cached wrapper around a primary store.
func NewCachedStore(primary Store, rdb *redis.Client, ttl time.Duration) *CachedStore {
	return &CachedStore{
		primary: primary,
		rdb:     rdb,
		ttl:     ttl,
	}
}

// NewRedisClient parses a redis:// URL into a client.
func NewRedisClient(url string) (*redis.Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	return redis.NewClient(opts), nil
}

func (s *CachedStore) Name() string { return s.primary.Name() + "+redis" }

// IsAvailable reports the primary's availability; a cold or broken cache
// only costs latency.
func (s *CachedStore) IsAvailable(ctx context.Context) bool {
	return s.primary.IsAvailable(ctx)
}

func (s *CachedStore) Close() error {
	cerr := s.rdb.Close()
	if err := s.primary.Close(); err != nil {
		return err
	}
	return cerr
}

// --- Write-through ---

func (s *CachedStore) SaveConfiguration(ctx context.Context, cfg models.AgentConfig) error {
	if err := s.primary.SaveConfiguration(ctx, cfg); err != nil {
		return err
	}
	s.cache(ctx, configKey(cfg.ID), cfg)
	s.rdb.Del(ctx, agentsKey)
	return nil
}

func (s *CachedStore) SavePortfolioState(ctx context.Context, agentID string, p models.Portfolio) error {
	if err := s.primary.SavePortfolioState(ctx, agentID, p); err != nil {
		return err
	}
	s.cache(ctx, portfolioKey(agentID), p)
	return nil
}

func (s *CachedStore) SaveTrade(ctx context.Context, agentID string, t models.Trade) error {
	if err := s.primary.SaveTrade(ctx, agentID, t); err != nil {
		return err
	}
	// Invalidate; next read re-populates from the trimmed primary copy.
	s.rdb.Del(ctx, tradesKey(agentID))
	return nil
}

func (s *CachedStore) DeleteAgent(ctx context.Context, agentID string) error {
	if err := s.primary.DeleteAgent(ctx, agentID); err != nil {
		return err
	}
	s.rdb.Del(ctx, configKey(agentID), portfolioKey(agentID), tradesKey(agentID), agentsKey)
	return nil
}

// --- Read-through ---

func (s *CachedStore) GetConfiguration(ctx context.Context, agentID string) (*models.AgentConfig, error) {
	var cfg models.AgentConfig
	if s.lookup(ctx, configKey(agentID), &cfg) {
		return &cfg, nil
	}

	got, err := s.primary.GetConfiguration(ctx, agentID)
	if err != nil {
		return nil, err
	}
	s.cache(ctx, configKey(agentID), got)
	return got, nil
}

func (s *CachedStore) GetCurrentPortfolio(ctx context.Context, agentID string) (*models.Portfolio, error) {
	var p models.Portfolio
	if s.lookup(ctx, portfolioKey(agentID), &p) {
		return &p, nil
	}

	got, err := s.primary.GetCurrentPortfolio(ctx, agentID)
	if err != nil {
		return nil, err
	}
	s.cache(ctx, portfolioKey(agentID), got)
	return got, nil
}

func (s *CachedStore) GetTrades(ctx context.Context, agentID string, limit int) ([]models.Trade, error) {
	limit = clampLimit(limit, MaxTrades)

	var trades []models.Trade
	if s.lookup(ctx, tradesKey(agentID), &trades) {
		if len(trades) > limit {
			trades = trades[len(trades)-limit:]
		}
		return trades, nil
	}

	// Cache the full window so any limit can be served from it.
	all, err := s.primary.GetTrades(ctx, agentID, MaxTrades)
	if err != nil {
		return nil, err
	}
	s.cache(ctx, tradesKey(agentID), all)
	if len(all) > limit {
		all = all[len(all)-limit:]
	}
	return all, nil
}

func (s *CachedStore) ListAgents(ctx context.Context) ([]models.AgentConfig, error) {
	var configs []models.AgentConfig
	if s.lookup(ctx, agentsKey, &configs) {
		return configs, nil
	}

	configs, err := s.primary.ListAgents(ctx)
	if err != nil {
		return nil, err
	}
	s.cache(ctx, agentsKey, configs)
	return configs, nil
}

// --- Passthrough (not cached) ---

func (s *CachedStore) SaveActivity(ctx context.Context, entry models.ActivityEntry) error {
	return s.primary.SaveActivity(ctx, entry)
}

func (s *CachedStore) GetActivity(ctx context.Context, limit int) ([]models.ActivityEntry, error) {
	return s.primary.GetActivity(ctx, limit)
}

// --- Cache helpers ---

func (s *CachedStore) cache(ctx context.Context, key string, v any) {
	if data, err := json.Marshal(v); err == nil {
		s.rdb.Set(ctx, key, data, s.ttl)
	}
}

func (s *CachedStore) lookup(ctx context.Context, key string, v any) bool {
	data, err := s.rdb.Get(ctx, key).Bytes()
	if err != nil {
		return false
	}
	return json.Unmarshal(data, v) == nil
}

const agentsKey = "papertrader:agents"

func configKey(id string) string    { return fmt.Sprintf("papertrader:config:%s", id) }
func portfolioKey(id string) string { return fmt.Sprintf("papertrader:portfolio:%s", id) }
func tradesKey(id string) string    { return fmt.Sprintf("papertrader:trades:%s", id) }
