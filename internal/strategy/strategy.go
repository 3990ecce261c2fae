// Package strategy implements the rule-based evaluators agents trade with.
//
// Strategies are pure: they look at a window of market data and a portfolio
// snapshot and return a decision. They hold no state between calls, so one
// instance can be shared by every agent.
package strategy

import (
	"fmt"
	"sort"
	"strings"
	"sync"

	"papertrader/internal/errors"
	"papertrader/internal/models"
)

// ConfidenceThreshold is the confidence a decision must exceed to be acted on.
const ConfidenceThreshold = 50.0

// Strategy evaluates entry and exit signals.
type Strategy interface {
	Kind() models.StrategyKind
	Name() string
	Description() string
	ShouldBuy(window []models.MarketDataPoint, portfolio models.Portfolio, cfg models.AgentConfig) models.StrategyDecision
	ShouldSell(window []models.MarketDataPoint, portfolio models.Portfolio, cfg models.AgentConfig) models.StrategyDecision
}

// Registry maps strategy kinds onto evaluators.
type Registry struct {
	mu         sync.RWMutex
	strategies map[models.StrategyKind]Strategy
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{strategies: make(map[models.StrategyKind]Strategy)}
}

// DefaultRegistry returns a registry holding every built-in strategy.
func DefaultRegistry() *Registry {
	r := NewRegistry()
	r.Register(Momentum{})
	r.Register(MeanReversion{})
	r.Register(WhaleFollower{})
	r.Register(Scalper{})
	r.Register(Conservative{})
	r.Register(Aggressive{})
	return r
}

// Register adds or replaces the evaluator for s.Kind().
func (r *Registry) Register(s Strategy) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.strategies[s.Kind()] = s
}

// Lookup returns the evaluator for kind.
func (r *Registry) Lookup(kind models.StrategyKind) (Strategy, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.strategies[kind]
	if !ok {
		return nil, fmt.Errorf("%w: %s", errors.ErrUnknownStrategy, kind)
	}
	return s, nil
}

// Strategies returns the registered evaluators sorted by kind.
func (r *Registry) Strategies() []Strategy {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Strategy, 0, len(r.strategies))
	for _, s := range r.strategies {
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Kind() < out[j].Kind() })
	return out
}

// ParseKind resolves a strategy name case-insensitively. Both the enum value
// and the display name are accepted.
func ParseKind(name string) (models.StrategyKind, error) {
	n := strings.ToLower(strings.NewReplacer(" ", "", "_", "", "-", "").Replace(name))
	for _, k := range models.AllStrategyKinds() {
		if strings.ToLower(string(k)) == n {
			return k, nil
		}
	}
	switch n {
	case "whalefollower":
		return models.StrategyWhale, nil
	case "meanrev":
		return models.StrategyMeanReversion, nil
	}
	return "", fmt.Errorf("%w: %q", errors.ErrUnknownStrategy, name)
}

func hold(reason string) models.StrategyDecision {
	return models.StrategyDecision{Reason: reason}
}

func act(confidence float64, reason string) models.StrategyDecision {
	return models.StrategyDecision{Should: true, Confidence: confidence, Reason: reason}
}

func last(window []models.MarketDataPoint) models.MarketDataPoint {
	return window[len(window)-1]
}

// pctChange returns (to-from)/from*100, or 0 when from is not positive.
func pctChange(from, to float64) float64 {
	if from <= 0 {
		return 0
	}
	return (to - from) / from * 100
}

func mean(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	var sum float64
	for _, v := range values {
		sum += v
	}
	return sum / float64(len(values))
}

func prices(window []models.MarketDataPoint) []float64 {
	out := make([]float64, len(window))
	for i, p := range window {
		out[i] = p.Price
	}
	return out
}

func volumes(window []models.MarketDataPoint) []float64 {
	out := make([]float64, len(window))
	for i, p := range window {
		out[i] = p.Volume
	}
	return out
}

// unrealisedPct is the open position's P&L percent at the latest price.
func unrealisedPct(window []models.MarketDataPoint, portfolio models.Portfolio) float64 {
	return pctChange(portfolio.Position.AveragePrice, last(window).Price)
}
