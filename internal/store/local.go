package store

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"

	apperrors "papertrader/internal/errors"
	"papertrader/internal/models"
)

// LocalStore is the always-available fallback. State lives in memory and,
// when a path is set, is snapshotted to a JSON file after every mutation
// so it survives a restart.
type LocalStore struct {
	mu   sync.RWMutex
	path string
	data localData
}

type localData struct {
	Agents     map[string]models.AgentConfig `json:"agents"`
	Portfolios map[string]models.Portfolio   `json:"portfolios"`
	Trades     map[string][]models.Trade     `json:"trades"`
	Activity   []models.ActivityEntry        `json:"activity"`
}

func newLocalData() localData {
	return localData{
		Agents:     make(map[string]models.AgentConfig),
		Portfolios: make(map[string]models.Portfolio),
		Trades:     make(map[string][]models.Trade),
	}
}

// NewLocalStore creates a local store. An empty path keeps everything in
// memory; otherwise an existing snapshot at path is loaded.
func NewLocalStore(path string) (*LocalStore, error) {
	s := &LocalStore{path: path, data: newLocalData()}
	if path == "" {
		return s, nil
	}

	raw, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return s, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read local store: %w", err)
	}
	if len(raw) == 0 {
		return s, nil
	}

	if err := json.Unmarshal(raw, &s.data); err != nil {
		return nil, fmt.Errorf("decode local store %s: %w", path, err)
	}
	if s.data.Agents == nil {
		s.data.Agents = make(map[string]models.AgentConfig)
	}
	if s.data.Portfolios == nil {
		s.data.Portfolios = make(map[string]models.Portfolio)
	}
	if s.data.Trades == nil {
		s.data.Trades = make(map[string][]models.Trade)
	}
	return s, nil
}

// NewMemoryStore returns a LocalStore with no snapshot file.
func NewMemoryStore() *LocalStore {
	s, _ := NewLocalStore("")
	return s
}

func (s *LocalStore) Name() string { return "local" }

func (s *LocalStore) IsAvailable(context.Context) bool { return true }

func (s *LocalStore) Close() error { return nil }

// persist writes the snapshot. Callers hold s.mu.
func (s *LocalStore) persist() error {
	if s.path == "" {
		return nil
	}

	raw, err := json.Marshal(s.data)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return err
	}

	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, raw, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, s.path)
}

// Clear drops everything, including the snapshot file.
func (s *LocalStore) Clear() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.data = newLocalData()
	if s.path == "" {
		return nil
	}
	if err := os.Remove(s.path); err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}

func (s *LocalStore) SaveConfiguration(_ context.Context, cfg models.AgentConfig) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data.Agents[cfg.ID] = cfg
	return s.persist()
}

func (s *LocalStore) SavePortfolioState(_ context.Context, agentID string, p models.Portfolio) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data.Portfolios[agentID] = p.Clone()
	return s.persist()
}

func (s *LocalStore) SaveTrade(_ context.Context, agentID string, t models.Trade) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	trades := append(s.data.Trades[agentID], t)
	if len(trades) > MaxTrades {
		trades = append([]models.Trade(nil), trades[len(trades)-MaxTrades:]...)
	}
	s.data.Trades[agentID] = trades
	return s.persist()
}

func (s *LocalStore) SaveActivity(_ context.Context, entry models.ActivityEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.data.Activity = append(s.data.Activity, entry)
	if n := len(s.data.Activity); n > MaxActivity {
		s.data.Activity = append([]models.ActivityEntry(nil), s.data.Activity[n-MaxActivity:]...)
	}
	return s.persist()
}

func (s *LocalStore) GetConfiguration(_ context.Context, agentID string) (*models.AgentConfig, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	cfg, ok := s.data.Agents[agentID]
	if !ok {
		return nil, apperrors.ErrDataNotFound
	}
	return &cfg, nil
}

func (s *LocalStore) GetCurrentPortfolio(_ context.Context, agentID string) (*models.Portfolio, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	p, ok := s.data.Portfolios[agentID]
	if !ok {
		return nil, apperrors.ErrDataNotFound
	}
	p = p.Clone()
	return &p, nil
}

func (s *LocalStore) GetTrades(_ context.Context, agentID string, limit int) ([]models.Trade, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	trades := s.data.Trades[agentID]
	if limit = clampLimit(limit, MaxTrades); len(trades) > limit {
		trades = trades[len(trades)-limit:]
	}
	return append([]models.Trade(nil), trades...), nil
}

func (s *LocalStore) GetActivity(_ context.Context, limit int) ([]models.ActivityEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	entries := s.data.Activity
	if limit = clampLimit(limit, MaxActivity); len(entries) > limit {
		entries = entries[len(entries)-limit:]
	}
	return append([]models.ActivityEntry(nil), entries...), nil
}

func (s *LocalStore) ListAgents(context.Context) ([]models.AgentConfig, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	configs := make([]models.AgentConfig, 0, len(s.data.Agents))
	for _, cfg := range s.data.Agents {
		configs = append(configs, cfg)
	}
	sort.Slice(configs, func(i, j int) bool {
		if !configs[i].CreatedAt.Equal(configs[j].CreatedAt) {
			return configs[i].CreatedAt.Before(configs[j].CreatedAt)
		}
		return configs[i].ID < configs[j].ID
	})
	return configs, nil
}

func (s *LocalStore) DeleteAgent(_ context.Context, agentID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.data.Agents, agentID)
	delete(s.data.Portfolios, agentID)
	delete(s.data.Trades, agentID)
	return s.persist()
}
