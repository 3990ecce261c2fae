package orchestrator

import (
	"sort"
	"strings"

	"papertrader/internal/models"
)

// DefaultTemplates returns the built-in agent presets.
func DefaultTemplates() []models.AgentTemplate {
	return []models.AgentTemplate{
		{
			Name:         "Conservative Growth",
			Description:  "Low-risk mean reversion strategy focused on steady gains",
			Strategy:     models.StrategyMeanReversion,
			RiskLevel:    models.RiskLow,
			PositionSize: 5,
			TradingSpeed: models.SpeedConservative,
			MaxDrawdown:  5,
			ProfitTarget: 15,
		},
		{
			Name:         "Aggressive Momentum",
			Description:  "High-risk momentum trading for maximum returns",
			Strategy:     models.StrategyMomentum,
			RiskLevel:    models.RiskHigh,
			PositionSize: 25,
			TradingSpeed: models.SpeedAggressive,
			MaxDrawdown:  20,
			ProfitTarget: 50,
		},
		{
			Name:         "Balanced Trader",
			Description:  "Balanced approach with moderate risk and returns",
			Strategy:     models.StrategyMomentum,
			RiskLevel:    models.RiskMedium,
			PositionSize: 15,
			TradingSpeed: models.SpeedModerate,
			MaxDrawdown:  10,
			ProfitTarget: 25,
		},
		{
			Name:         "Whale Hunter",
			Description:  "Follows large volume movements and whale activity",
			Strategy:     models.StrategyWhale,
			RiskLevel:    models.RiskMedium,
			PositionSize: 20,
			TradingSpeed: models.SpeedAggressive,
			MaxDrawdown:  15,
			ProfitTarget: 40,
		},
		{
			Name:         "Scalper Pro",
			Description:  "High-frequency scalping for small, consistent profits",
			Strategy:     models.StrategyScalper,
			RiskLevel:    models.RiskMedium,
			PositionSize: 10,
			TradingSpeed: models.SpeedExtreme,
			MaxDrawdown:  8,
			ProfitTarget: 20,
		},
		{
			Name:         "Steady Compounder",
			Description:  "Waits for confirmed uptrends and exits early on weakness",
			Strategy:     models.StrategyConservative,
			RiskLevel:    models.RiskLow,
			PositionSize: 12,
			TradingSpeed: models.SpeedModerate,
			MaxDrawdown:  6,
			ProfitTarget: 18,
		},
	}
}

// templateSet is a case-insensitive template catalogue. Callers hold the
// manager lock.
type templateSet struct {
	byKey map[string]models.AgentTemplate
}

func newTemplateSet(templates []models.AgentTemplate) *templateSet {
	s := &templateSet{byKey: make(map[string]models.AgentTemplate, len(templates))}
	for _, t := range templates {
		s.add(t)
	}
	return s
}

func templateKey(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}

func (s *templateSet) add(t models.AgentTemplate) {
	if t.Name == "" {
		return
	}
	t.TradingSpeed = models.ParseTradingSpeed(string(t.TradingSpeed))
	s.byKey[templateKey(t.Name)] = t
}

func (s *templateSet) get(name string) (models.AgentTemplate, bool) {
	t, ok := s.byKey[templateKey(name)]
	return t, ok
}

func (s *templateSet) list() []models.AgentTemplate {
	out := make([]models.AgentTemplate, 0, len(s.byKey))
	for _, t := range s.byKey {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}
