package models

import "time"

// MarketDataPoint is a single observation from a market-data feed.
type MarketDataPoint struct {
	Price     float64   `json:"price"`
	Timestamp time.Time `json:"timestamp"`
	Volume    float64   `json:"volume"`
	Bid       float64   `json:"bid"`
	Ask       float64   `json:"ask"`
	Spread    float64   `json:"spread"`
}

// Position is the single open holding of a portfolio.
type Position struct {
	Asset        string    `json:"asset"`
	Quantity     float64   `json:"quantity"`
	AveragePrice float64   `json:"averagePrice"`
	EntryTime    time.Time `json:"entryTime"`
}

// CostBasis returns quantity times average price.
func (p Position) CostBasis() float64 {
	return p.Quantity * p.AveragePrice
}

// Portfolio is an agent's private virtual account.
type Portfolio struct {
	Cash          float64   `json:"cash"`
	Position      *Position `json:"position,omitempty"`
	TotalValue    float64   `json:"totalValue"`
	InitialValue  float64   `json:"initialValue"`
	DayStartValue float64   `json:"dayStartValue"`
}

// NewPortfolio returns a flat portfolio holding only cash.
func NewPortfolio(capital float64) Portfolio {
	return Portfolio{
		Cash:          capital,
		TotalValue:    capital,
		InitialValue:  capital,
		DayStartValue: capital,
	}
}

// HasPosition reports whether a position is open.
func (p Portfolio) HasPosition() bool {
	return p.Position != nil
}

// MarkToMarket returns cash plus the open position valued at price.
func (p Portfolio) MarkToMarket(price float64) float64 {
	if p.Position == nil {
		return p.Cash
	}
	return p.Cash + p.Position.Quantity*price
}

// Clone returns a deep copy safe to hand to other goroutines.
func (p Portfolio) Clone() Portfolio {
	out := p
	if p.Position != nil {
		pos := *p.Position
		out.Position = &pos
	}
	return out
}

// Trade is an immutable record of a simulated fill.
type Trade struct {
	ID        string    `json:"id"`
	Timestamp time.Time `json:"timestamp"`
	Side      Side      `json:"side"`
	Asset     string    `json:"asset"`
	Price     float64   `json:"price"`
	Quantity  float64   `json:"quantity"`
	Value     float64   `json:"value"`
	Fee       float64   `json:"fee"`
	PnL       float64   `json:"pnl"`
	Strategy  string    `json:"strategy"`
	Reason    string    `json:"reason"`
}

// ExchangeFees holds fractional maker and taker rates (0.001 = 0.1%).
type ExchangeFees struct {
	Maker float64 `json:"maker"`
	Taker float64 `json:"taker"`
	Note  string  `json:"note,omitempty"`
}

// StrategyDecision is a strategy's verdict for a single evaluation.
type StrategyDecision struct {
	Should     bool    `json:"should"`
	Confidence float64 `json:"confidence"`
	Reason     string  `json:"reason"`
}

// Actionable reports whether the decision clears the execution threshold.
func (d StrategyDecision) Actionable(threshold float64) bool {
	return d.Should && d.Confidence > threshold
}
