package strategy

import (
	"fmt"
	"math"
	"time"

	"papertrader/internal/models"
)

const (
	scalperLookback    = 10
	scalperMaxSpread   = 0.1 // percent of price
	scalperMinMomentum = 0.0005
	scalperTakeProfit  = 0.002
	scalperStopLoss    = 0.001
	scalperMaxHold     = 5 * time.Minute
)

// Scalper takes small quick profits when spreads are tight.
//
// Holding time is measured against the newest point's timestamp, so replayed
// data behaves the same as live data.
type Scalper struct{}

func (Scalper) Kind() models.StrategyKind { return models.StrategyScalper }
func (Scalper) Name() string              { return "Scalper" }
func (Scalper) Description() string {
	return "High-frequency trading with small, quick profits"
}

func (Scalper) ShouldBuy(window []models.MarketDataPoint, _ models.Portfolio, _ models.AgentConfig) models.StrategyDecision {
	if len(window) < scalperLookback {
		return hold("Not enough data for scalping")
	}

	current := last(window)
	if current.Price <= 0 || current.Spread/current.Price*100 > scalperMaxSpread {
		return hold("Spread too wide for scalping")
	}

	recent := window[len(window)-scalperLookback:]
	if recent[0].Price <= 0 {
		return hold("No scalping opportunity detected")
	}
	momentum := (current.Price - recent[0].Price) / recent[0].Price
	if momentum > scalperMinMomentum {
		return act(math.Min(momentum*10000, 85), fmt.Sprintf("Scalping opportunity: %.3f%% momentum, tight spread", momentum*100))
	}
	return hold("No scalping opportunity detected")
}

func (Scalper) ShouldSell(window []models.MarketDataPoint, portfolio models.Portfolio, _ models.AgentConfig) models.StrategyDecision {
	if !portfolio.HasPosition() || len(window) == 0 {
		return hold("No position to sell")
	}

	current := last(window)
	change := (current.Price - portfolio.Position.AveragePrice) / portfolio.Position.AveragePrice

	if change >= scalperTakeProfit {
		return act(95, fmt.Sprintf("Scalping profit target hit: +%.3f%%", change*100))
	}
	if change <= -scalperStopLoss {
		return act(90, fmt.Sprintf("Scalping stop loss triggered: %.3f%%", change*100))
	}

	held := current.Timestamp.Sub(portfolio.Position.EntryTime)
	if held > scalperMaxHold && change > 0 {
		return act(70, fmt.Sprintf("Scalping time exit: held for %ds with profit", int(held.Seconds())))
	}
	return hold("Holding scalping position")
}
