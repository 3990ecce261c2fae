package models

import (
	"fmt"
	"math"
	"time"
)

// AgentConfig identifies an agent and fixes its strategy and risk limits.
// PositionSize, MaxDrawdown and ProfitTarget are percentages.
type AgentConfig struct {
	ID             string       `json:"id"`
	Name           string       `json:"name"`
	Template       string       `json:"template,omitempty"`
	Exchange       string       `json:"exchange"`
	Asset          string       `json:"asset"`
	Strategy       StrategyKind `json:"strategy"`
	InitialCapital float64      `json:"initialCapital"`
	TradingSpeed   TradingSpeed `json:"tradingSpeed"`
	RiskLevel      RiskLevel    `json:"riskLevel"`
	PositionSize   float64      `json:"positionSize"`
	MaxDrawdown    float64      `json:"maxDrawdown"`
	ProfitTarget   float64      `json:"profitTarget"`
	AutoRestart    bool         `json:"autoRestart"`
	IsActive       bool         `json:"isActive"`
	CreatedAt      time.Time    `json:"createdAt"`
}

// DefaultAgentConfig returns the baseline every template is merged onto.
func DefaultAgentConfig() AgentConfig {
	return AgentConfig{
		Exchange:       "binance",
		Asset:          "BTCUSDT",
		Strategy:       StrategyMomentum,
		InitialCapital: 10000,
		TradingSpeed:   SpeedModerate,
		RiskLevel:      RiskMedium,
		PositionSize:   10,
		MaxDrawdown:    10,
		ProfitTarget:   25,
	}
}

// Validate checks the numeric limits of the config.
func (c AgentConfig) Validate() error {
	switch {
	case c.InitialCapital <= 0:
		return fmt.Errorf("initial capital must be positive, got %.2f", c.InitialCapital)
	case c.PositionSize <= 0 || c.PositionSize > 100:
		return fmt.Errorf("position size must be in (0, 100], got %.2f", c.PositionSize)
	case c.MaxDrawdown <= 0 || c.MaxDrawdown > 100:
		return fmt.Errorf("max drawdown must be in (0, 100], got %.2f", c.MaxDrawdown)
	case c.ProfitTarget < 0:
		return fmt.Errorf("profit target must be non-negative, got %.2f", c.ProfitTarget)
	case c.Asset == "":
		return fmt.Errorf("asset is required")
	case !c.Strategy.Valid():
		return fmt.Errorf("unknown strategy %q", c.Strategy)
	}
	return nil
}

// ConfigOverrides carries optional per-field overrides applied on top of a
// template. Nil fields keep the template value.
type ConfigOverrides struct {
	Exchange       *string       `json:"exchange,omitempty"`
	Asset          *string       `json:"asset,omitempty"`
	Strategy       *StrategyKind `json:"strategy,omitempty"`
	InitialCapital *float64      `json:"initialCapital,omitempty"`
	TradingSpeed   *TradingSpeed `json:"tradingSpeed,omitempty"`
	RiskLevel      *RiskLevel    `json:"riskLevel,omitempty"`
	PositionSize   *float64      `json:"positionSize,omitempty"`
	MaxDrawdown    *float64      `json:"maxDrawdown,omitempty"`
	ProfitTarget   *float64      `json:"profitTarget,omitempty"`
	AutoRestart    *bool         `json:"autoRestart,omitempty"`
}

// Apply returns c with every non-nil override copied in.
func (o ConfigOverrides) Apply(c AgentConfig) AgentConfig {
	if o.Exchange != nil {
		c.Exchange = *o.Exchange
	}
	if o.Asset != nil {
		c.Asset = *o.Asset
	}
	if o.Strategy != nil {
		c.Strategy = *o.Strategy
	}
	if o.InitialCapital != nil {
		c.InitialCapital = *o.InitialCapital
	}
	if o.TradingSpeed != nil {
		c.TradingSpeed = ParseTradingSpeed(string(*o.TradingSpeed))
	}
	if o.RiskLevel != nil {
		c.RiskLevel = *o.RiskLevel
	}
	if o.PositionSize != nil {
		c.PositionSize = *o.PositionSize
	}
	if o.MaxDrawdown != nil {
		c.MaxDrawdown = *o.MaxDrawdown
	}
	if o.ProfitTarget != nil {
		c.ProfitTarget = *o.ProfitTarget
	}
	if o.AutoRestart != nil {
		c.AutoRestart = *o.AutoRestart
	}
	return c
}

// ProfitFactor is gross profit over gross loss. Infinite is set when there
// are profits and no losses, in which case Value is meaningless.
type ProfitFactor struct {
	Value    float64 `json:"value"`
	Infinite bool    `json:"infinite"`
}

// Float returns the factor as a float64, using +Inf for the infinite case.
func (p ProfitFactor) Float() float64 {
	if p.Infinite {
		return math.Inf(1)
	}
	return p.Value
}

func (p ProfitFactor) String() string {
	if p.Infinite {
		return "inf"
	}
	return fmt.Sprintf("%.2f", p.Value)
}

// AgentPerformance is derived from a portfolio and its trade history.
type AgentPerformance struct {
	AgentID            string       `json:"agentId"`
	Name               string       `json:"name"`
	TotalValue         float64      `json:"totalValue"`
	PeakValue          float64      `json:"peakValue"`
	TotalReturn        float64      `json:"totalReturn"`
	TotalReturnPercent float64      `json:"totalReturnPercent"`
	DailyReturnPercent float64      `json:"dailyReturnPercent"`
	TotalTrades        int          `json:"totalTrades"`
	WinRate            float64      `json:"winRate"`
	ProfitFactor       ProfitFactor `json:"profitFactor"`
	SharpeRatio        float64      `json:"sharpeRatio"`
	MaxDrawdown        float64      `json:"maxDrawdown"`
	CurrentDrawdown    float64      `json:"currentDrawdown"`
	IsRunning          bool         `json:"isRunning"`
	CurrentThought     string       `json:"currentThought,omitempty"`
	Confidence         float64      `json:"confidence,omitempty"`
	UpdatedAt          time.Time    `json:"updatedAt"`
}

// AgentTemplate is a named preset used to seed new agent configs.
type AgentTemplate struct {
	Name         string       `json:"name" mapstructure:"name"`
	Description  string       `json:"description" mapstructure:"description"`
	Strategy     StrategyKind `json:"strategy" mapstructure:"strategy"`
	RiskLevel    RiskLevel    `json:"riskLevel" mapstructure:"risk_level"`
	PositionSize float64      `json:"positionSize" mapstructure:"position_size"`
	TradingSpeed TradingSpeed `json:"tradingSpeed" mapstructure:"trading_speed"`
	MaxDrawdown  float64      `json:"maxDrawdown" mapstructure:"max_drawdown"`
	ProfitTarget float64      `json:"profitTarget" mapstructure:"profit_target"`
}

// Apply merges the template onto base.
func (t AgentTemplate) Apply(base AgentConfig) AgentConfig {
	base.Template = t.Name
	if t.Strategy != "" {
		base.Strategy = t.Strategy
	}
	if t.RiskLevel != "" {
		base.RiskLevel = t.RiskLevel
	}
	if t.PositionSize > 0 {
		base.PositionSize = t.PositionSize
	}
	if t.TradingSpeed != "" {
		base.TradingSpeed = ParseTradingSpeed(string(t.TradingSpeed))
	}
	if t.MaxDrawdown > 0 {
		base.MaxDrawdown = t.MaxDrawdown
	}
	if t.ProfitTarget > 0 {
		base.ProfitTarget = t.ProfitTarget
	}
	return base
}
