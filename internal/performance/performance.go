// Package performance derives agent performance metrics from portfolio
// state and trade history.
package performance

import (
	"math"
	"sync"
	"time"

	"papertrader/internal/models"
)

// Tracker remembers the running peak value and the worst drawdown seen for
// one agent. MaxDrawdown never decreases over a tracker's lifetime.
type Tracker struct {
	mu          sync.Mutex
	peak        float64
	maxDrawdown float64
}

// NewTracker starts tracking from initialValue.
func NewTracker(initialValue float64) *Tracker {
	return &Tracker{peak: initialValue}
}

// Observe folds totalValue into the tracker and returns the current and
// maximum drawdown percentages plus the peak.
func (t *Tracker) Observe(totalValue float64) (current, max, peak float64) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if totalValue > t.peak {
		t.peak = totalValue
	}
	if t.peak > 0 {
		current = (t.peak - totalValue) / t.peak * 100
	}
	if current > t.maxDrawdown {
		t.maxDrawdown = current
	}
	return current, t.maxDrawdown, t.peak
}

// Reset restarts tracking from value, clearing the max drawdown.
func (t *Tracker) Reset(value float64) {
	t.mu.Lock()
	t.peak = value
	t.maxDrawdown = 0
	t.mu.Unlock()
}

// MaxDrawdown returns the worst drawdown seen so far.
func (t *Tracker) MaxDrawdown() float64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.maxDrawdown
}

// TradeStats summarises realised results over sell trades.
type TradeStats struct {
	Sells        int
	Winners      int
	GrossProfit  float64
	GrossLoss    float64
	WinRate      float64
	ProfitFactor models.ProfitFactor
	SharpeRatio  float64
}

// SummariseTrades computes win rate, profit factor and Sharpe ratio. Only
// sells realise P&L; buys are ignored. The Sharpe ratio is the mean over
// the sample standard deviation of per-sell returns (pnl over cost
// basis), unannualised, and is zero with fewer than two sells.
func SummariseTrades(trades []models.Trade) TradeStats {
	var s TradeStats
	returns := make([]float64, 0, len(trades))

	for _, tr := range trades {
		if tr.Side != models.SideSell {
			continue
		}
		s.Sells++
		switch {
		case tr.PnL > 0:
			s.Winners++
			s.GrossProfit += tr.PnL
		case tr.PnL < 0:
			s.GrossLoss += -tr.PnL
		}
		if cost := tr.Value - tr.PnL; cost > 0 {
			returns = append(returns, tr.PnL/cost)
		}
	}

	if s.Sells > 0 {
		s.WinRate = float64(s.Winners) / float64(s.Sells) * 100
	}

	switch {
	case s.GrossLoss > 0:
		s.ProfitFactor = models.ProfitFactor{Value: s.GrossProfit / s.GrossLoss}
	case s.GrossProfit > 0:
		s.ProfitFactor = models.ProfitFactor{Infinite: true}
	}

	s.SharpeRatio = sharpe(returns)
	return s
}

func sharpe(returns []float64) float64 {
	n := len(returns)
	if n < 2 {
		return 0
	}

	var sum float64
	for _, r := range returns {
		sum += r
	}
	mean := sum / float64(n)

	var sq float64
	for _, r := range returns {
		sq += (r - mean) * (r - mean)
	}
	std := math.Sqrt(sq / float64(n-1))
	if std == 0 {
		return 0
	}
	return mean / std
}

// Snapshot is everything Compute needs about one agent.
type Snapshot struct {
	Config     models.AgentConfig
	Portfolio  models.Portfolio
	Trades     []models.Trade
	IsRunning  bool
	Thought    models.Thought
	ComputedAt time.Time
}

// Compute derives AgentPerformance from snap, updating tracker with the
// portfolio's current value.
func Compute(snap Snapshot, tracker *Tracker) models.AgentPerformance {
	p := snap.Portfolio
	initial := snap.Config.InitialCapital
	if initial <= 0 {
		initial = p.InitialValue
	}

	perf := models.AgentPerformance{
		AgentID:        snap.Config.ID,
		Name:           snap.Config.Name,
		TotalValue:     p.TotalValue,
		TotalReturn:    p.TotalValue - initial,
		TotalTrades:    len(snap.Trades),
		IsRunning:      snap.IsRunning,
		CurrentThought: snap.Thought.Message,
		Confidence:     snap.Thought.Confidence,
		UpdatedAt:      snap.ComputedAt,
	}
	if initial > 0 {
		perf.TotalReturnPercent = (p.TotalValue/initial - 1) * 100
	}
	if p.DayStartValue > 0 {
		perf.DailyReturnPercent = (p.TotalValue/p.DayStartValue - 1) * 100
	}

	stats := SummariseTrades(snap.Trades)
	perf.WinRate = stats.WinRate
	perf.ProfitFactor = stats.ProfitFactor
	perf.SharpeRatio = stats.SharpeRatio

	if tracker != nil {
		perf.CurrentDrawdown, perf.MaxDrawdown, perf.PeakValue = tracker.Observe(p.TotalValue)
	}
	return perf
}
