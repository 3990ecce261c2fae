package strategy

import (
	"fmt"
	"math"

	"papertrader/internal/models"
)

// Conservative only enters confirmed uptrends and exits early.
type Conservative struct{}

func (Conservative) Kind() models.StrategyKind { return models.StrategyConservative }
func (Conservative) Name() string              { return "Conservative" }
func (Conservative) Description() string {
	return "Low-risk approach with capital preservation focus"
}

func (Conservative) ShouldBuy(window []models.MarketDataPoint, _ models.Portfolio, _ models.AgentConfig) models.StrategyDecision {
	if len(window) < 50 {
		return hold("Conservative strategy needs more data")
	}

	recent30 := window[len(window)-30:]
	sma20 := mean(prices(window[len(window)-20:]))
	sma50 := mean(prices(window[len(window)-50:]))
	current := last(window)

	avgVolume := mean(volumes(recent30))
	normalVolume := current.Volume < avgVolume*2

	if current.Price > sma20 && current.Price > sma50 && sma20 > sma50 && normalVolume {
		strength := pctChange(sma50, current.Price)
		return act(math.Min(strength*10+40, 75),
			fmt.Sprintf("Conservative entry: above SMAs with normal volume (+%.2f%% above 50 SMA)", strength))
	}
	return hold("Conservative criteria not met")
}

func (Conservative) ShouldSell(window []models.MarketDataPoint, portfolio models.Portfolio, _ models.AgentConfig) models.StrategyDecision {
	if !portfolio.HasPosition() || len(window) == 0 {
		return hold("No position to sell")
	}

	profit := unrealisedPct(window, portfolio)
	if profit >= 15 {
		return act(95, fmt.Sprintf("Conservative profit target reached: +%.1f%%", profit))
	}
	if profit <= -5 {
		return act(95, fmt.Sprintf("Conservative stop loss: %.1f%%", profit))
	}

	if profit > 5 && len(window) >= 10 {
		recent5 := window[len(window)-5:]
		if pctChange(recent5[0].Price, recent5[4].Price) < -1 {
			return act(80, fmt.Sprintf("Conservative exit on decline: +%.1f%% profit secured", profit))
		}
	}
	return hold("Conservative holding")
}
