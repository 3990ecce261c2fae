package strategy

import (
	"fmt"
	"math"

	"papertrader/internal/models"
)

// Momentum buys short rallies confirmed by rising volume.
type Momentum struct{}

func (Momentum) Kind() models.StrategyKind { return models.StrategyMomentum }
func (Momentum) Name() string              { return "Momentum" }
func (Momentum) Description() string {
	return "Buys when price is trending up, sells when trending down"
}

func (Momentum) ShouldBuy(window []models.MarketDataPoint, _ models.Portfolio, _ models.AgentConfig) models.StrategyDecision {
	if len(window) < 5 {
		return hold("Not enough data")
	}

	recent := window[len(window)-5:]
	change := pctChange(recent[0].Price, recent[4].Price)
	volumeSpike := recent[4].Volume > recent[0].Volume*1.2

	if change > 0.5 && volumeSpike {
		return act(math.Min(change*10, 80), fmt.Sprintf("Strong upward momentum: +%.2f%% with volume spike", change))
	}
	return hold(fmt.Sprintf("Weak momentum: %.2f%%", change))
}

func (Momentum) ShouldSell(window []models.MarketDataPoint, portfolio models.Portfolio, _ models.AgentConfig) models.StrategyDecision {
	if len(window) < 3 || !portfolio.HasPosition() {
		return hold("No position or insufficient data")
	}

	recent := window[len(window)-3:]
	change := pctChange(recent[0].Price, recent[2].Price)
	pnl := unrealisedPct(window, portfolio)

	// Exit checks run in priority order.
	if pnl >= 2 {
		return act(90, fmt.Sprintf("Take profit: +%.2f%%", pnl))
	}
	if pnl <= -1 {
		return act(95, fmt.Sprintf("Stop loss: %.2f%%", pnl))
	}
	if change < -0.3 {
		return act(60, fmt.Sprintf("Momentum reversal: %.2f%%", change))
	}
	return hold(fmt.Sprintf("Holding: P&L %.2f%%", pnl))
}
