package strategy

import (
	"fmt"
	"math"

	"papertrader/internal/models"
)

// Aggressive chases strong momentum and breakouts with wide stops.
type Aggressive struct{}

func (Aggressive) Kind() models.StrategyKind { return models.StrategyAggressive }
func (Aggressive) Name() string              { return "Aggressive" }
func (Aggressive) Description() string {
	return "High-risk, high-reward momentum chasing"
}

func (Aggressive) ShouldBuy(window []models.MarketDataPoint, _ models.Portfolio, _ models.AgentConfig) models.StrategyDecision {
	if len(window) < 20 {
		return hold("Aggressive strategy initializing")
	}

	current := last(window)
	recent10 := window[len(window)-10:]
	recent20 := window[len(window)-20:]

	change10 := pctChange(recent10[0].Price, current.Price) / 100
	change20 := pctChange(recent20[0].Price, current.Price) / 100

	avgVolume := mean(volumes(recent20))
	var volumeRatio float64
	if avgVolume > 0 {
		volumeRatio = current.Volume / avgVolume
	}

	if change10 > 0.02 && change20 > 0.03 && volumeRatio > 1.5 {
		return act(math.Min(change20*1000+volumeRatio*20, 95),
			fmt.Sprintf("Aggressive momentum: +%.1f%% with %.1fx volume", change20*100, volumeRatio))
	}

	// Breakout above the highest price or ask of the prior points.
	maxRecent := 0.0
	for _, p := range recent20[:len(recent20)-1] {
		maxRecent = math.Max(maxRecent, math.Max(p.Price, p.Ask))
	}
	if maxRecent > 0 && current.Price > maxRecent*1.01 && volumeRatio > 2 {
		return act(85, fmt.Sprintf("Aggressive breakout: +%.2f%% above recent high", (current.Price/maxRecent-1)*100))
	}
	return hold("No aggressive setup detected")
}

func (Aggressive) ShouldSell(window []models.MarketDataPoint, portfolio models.Portfolio, _ models.AgentConfig) models.StrategyDecision {
	if !portfolio.HasPosition() || len(window) == 0 {
		return hold("No position for aggressive exit")
	}

	profit := unrealisedPct(window, portfolio)
	if profit >= 50 {
		return act(95, fmt.Sprintf("Aggressive profit target hit: +%.1f%%", profit))
	}
	if profit <= -15 {
		return act(95, fmt.Sprintf("Aggressive stop loss: %.1f%%", profit))
	}

	if len(window) >= 5 && profit > 10 {
		recent5 := window[len(window)-5:]
		if pctChange(recent5[0].Price, recent5[4].Price) < -2 {
			return act(80, fmt.Sprintf("Aggressive momentum reversal exit: +%.1f%% profit", profit))
		}
	}
	return hold("Aggressive holding for bigger gains")
}
