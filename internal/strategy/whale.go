package strategy

import (
	"fmt"
	"math"

	"papertrader/internal/models"
)

// WhaleFollower trades in the direction of sudden volume surges.
type WhaleFollower struct{}

func (WhaleFollower) Kind() models.StrategyKind { return models.StrategyWhale }
func (WhaleFollower) Name() string              { return "Whale Follower" }
func (WhaleFollower) Description() string {
	return "Follows large trades and whale movements"
}

// surge returns the last-over-previous volume ratio and price move percent.
// ok is false when the previous volume gives no usable ratio.
func surge(window []models.MarketDataPoint) (ratio, move float64, ok bool) {
	current := window[len(window)-1]
	previous := window[len(window)-2]
	if previous.Volume <= 0 {
		return 0, 0, false
	}
	return current.Volume / previous.Volume, pctChange(previous.Price, current.Price), true
}

func (WhaleFollower) ShouldBuy(window []models.MarketDataPoint, _ models.Portfolio, _ models.AgentConfig) models.StrategyDecision {
	if len(window) < 2 {
		return hold("Insufficient data")
	}

	ratio, move, ok := surge(window)
	if ok && ratio > 2 && move > 0.1 {
		return act(math.Min(ratio*15+move*10, 85), fmt.Sprintf("Whale activity: %.1fx volume, +%.2f%%", ratio, move))
	}
	return hold("No whale activity detected")
}

func (WhaleFollower) ShouldSell(window []models.MarketDataPoint, portfolio models.Portfolio, _ models.AgentConfig) models.StrategyDecision {
	if len(window) < 2 || !portfolio.HasPosition() {
		return hold("No position or insufficient data")
	}

	ratio, move, ok := surge(window)
	if ok && ratio > 2 && move < -0.1 {
		return act(80, fmt.Sprintf("Whale dumping: %.1fx volume, %.2f%%", ratio, move))
	}
	return hold("No whale selling detected")
}
