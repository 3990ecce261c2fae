// Package models provides domain models for the paper trading engine.
package models

import (
	"strings"
	"time"
)

// Side represents the side of a simulated fill.
type Side string

const (
	SideBuy  Side = "buy"
	SideSell Side = "sell"
)

// TradingSpeed controls how often an agent evaluates its strategy.
type TradingSpeed string

const (
	SpeedConservative TradingSpeed = "conservative"
	SpeedModerate     TradingSpeed = "moderate"
	SpeedAggressive   TradingSpeed = "aggressive"
	SpeedExtreme      TradingSpeed = "extreme"
)

// Interval returns the tick interval for the speed. Unknown speeds tick
// at the moderate rate.
func (s TradingSpeed) Interval() time.Duration {
	switch s {
	case SpeedConservative:
		return 5 * time.Minute
	case SpeedAggressive:
		return 30 * time.Second
	case SpeedExtreme:
		return 10 * time.Second
	default:
		return time.Minute
	}
}

// ParseTradingSpeed normalises a speed name, falling back to moderate.
func ParseTradingSpeed(s string) TradingSpeed {
	switch TradingSpeed(strings.ToLower(strings.TrimSpace(s))) {
	case SpeedConservative:
		return SpeedConservative
	case SpeedAggressive:
		return SpeedAggressive
	case SpeedExtreme:
		return SpeedExtreme
	default:
		return SpeedModerate
	}
}

// RiskLevel is a coarse label carried on agent configs.
type RiskLevel string

const (
	RiskLow    RiskLevel = "low"
	RiskMedium RiskLevel = "medium"
	RiskHigh   RiskLevel = "high"
)

// StrategyKind names one of the built-in strategy evaluators.
type StrategyKind string

const (
	StrategyMomentum      StrategyKind = "momentum"
	StrategyMeanReversion StrategyKind = "meanReversion"
	StrategyWhale         StrategyKind = "whale"
	StrategyScalper       StrategyKind = "scalper"
	StrategyConservative  StrategyKind = "conservative"
	StrategyAggressive    StrategyKind = "aggressive"
)

// AllStrategyKinds lists every built-in strategy in display order.
func AllStrategyKinds() []StrategyKind {
	return []StrategyKind{
		StrategyMomentum,
		StrategyMeanReversion,
		StrategyWhale,
		StrategyScalper,
		StrategyConservative,
		StrategyAggressive,
	}
}

// Valid reports whether k is a known strategy kind.
func (k StrategyKind) Valid() bool {
	for _, known := range AllStrategyKinds() {
		if k == known {
			return true
		}
	}
	return false
}
