package strategy

import (
	"fmt"
	"math"

	"papertrader/internal/models"
)

const meanReversionPeriod = 20

// MeanReversion fades moves away from the 20-point mean.
type MeanReversion struct{}

func (MeanReversion) Kind() models.StrategyKind { return models.StrategyMeanReversion }
func (MeanReversion) Name() string              { return "Mean Reversion" }
func (MeanReversion) Description() string {
	return "Buys when oversold, sells when overbought"
}

func deviationFromMean(window []models.MarketDataPoint) float64 {
	recent := prices(window[len(window)-meanReversionPeriod:])
	return pctChange(mean(recent), recent[len(recent)-1])
}

func (MeanReversion) ShouldBuy(window []models.MarketDataPoint, _ models.Portfolio, _ models.AgentConfig) models.StrategyDecision {
	if len(window) < meanReversionPeriod {
		return hold("Not enough data for mean reversion")
	}

	dev := deviationFromMean(window)
	if dev < -2 {
		return act(math.Min(math.Abs(dev)*15, 85), fmt.Sprintf("Oversold: %.2f%% below mean", dev))
	}
	return hold(fmt.Sprintf("Price near mean: %.2f%%", dev))
}

func (MeanReversion) ShouldSell(window []models.MarketDataPoint, portfolio models.Portfolio, _ models.AgentConfig) models.StrategyDecision {
	if len(window) < meanReversionPeriod || !portfolio.HasPosition() {
		return hold("No position or insufficient data")
	}

	dev := deviationFromMean(window)
	if dev > 1.5 {
		return act(math.Min(dev*20, 80), fmt.Sprintf("Overbought: %.2f%% above mean", dev))
	}
	return hold(fmt.Sprintf("Not overbought: %.2f%%", dev))
}
