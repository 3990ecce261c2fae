package performance

import (
	"math"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"papertrader/internal/models"
)

func sell(pnl, value float64) models.Trade {
	return models.Trade{Side: models.SideSell, PnL: pnl, Value: value}
}

func TestSummariseTrades(t *testing.T) {
	trades := []models.Trade{
		{Side: models.SideBuy, Value: 1000},
		sell(20, 1020),
		{Side: models.SideBuy, Value: 1000},
		sell(-10, 990),
		{Side: models.SideBuy, Value: 1000},
		sell(30, 1030),
	}

	s := SummariseTrades(trades)
	if s.Sells != 3 || s.Winners != 2 {
		t.Fatalf("unexpected counts %+v", s)
	}
	if math.Abs(s.WinRate-66.6666666) > 1e-4 {
		t.Fatalf("win rate %v", s.WinRate)
	}
	if s.ProfitFactor.Infinite || s.ProfitFactor.Value != 5 {
		t.Fatalf("profit factor %+v", s.ProfitFactor)
	}
	if s.SharpeRatio <= 0 {
		t.Fatalf("expected positive sharpe, got %v", s.SharpeRatio)
	}
}

func TestProfitFactorEdgeCases(t *testing.T) {
	if pf := SummariseTrades([]models.Trade{sell(5, 105)}).ProfitFactor; !pf.Infinite || pf.String() != "inf" || !math.IsInf(pf.Float(), 1) {
		t.Fatalf("profits without losses should be infinite, got %+v", pf)
	}
	if pf := SummariseTrades(nil).ProfitFactor; pf.Infinite || pf.Value != 0 {
		t.Fatalf("no trades should be zero, got %+v", pf)
	}
	if pf := SummariseTrades([]models.Trade{sell(-5, 95)}).ProfitFactor; pf.Infinite || pf.Value != 0 {
		t.Fatalf("only losses should be zero, got %+v", pf)
	}
}

func TestComputeReturnsAndDrawdown(t *testing.T) {
	cfg := models.DefaultAgentConfig()
	cfg.ID = "a1"
	tracker := NewTracker(cfg.InitialCapital)

	p := models.NewPortfolio(10000)
	perf := Compute(Snapshot{Config: cfg, Portfolio: p}, tracker)
	if perf.TotalReturnPercent != 0 || perf.CurrentDrawdown != 0 {
		t.Fatalf("flat portfolio: %+v", perf)
	}

	p.TotalValue = 8900
	perf = Compute(Snapshot{Config: cfg, Portfolio: p, IsRunning: true}, tracker)
	if math.Abs(perf.CurrentDrawdown-11) > 1e-9 || math.Abs(perf.MaxDrawdown-11) > 1e-9 {
		t.Fatalf("expected 11%% drawdown, got %+v", perf)
	}
	if math.Abs(perf.TotalReturnPercent+11) > 1e-9 || perf.TotalReturn != -1100 {
		t.Fatalf("unexpected returns %+v", perf)
	}

	p.TotalValue = 9500
	perf = Compute(Snapshot{Config: cfg, Portfolio: p}, tracker)
	if perf.CurrentDrawdown >= 11 || math.Abs(perf.MaxDrawdown-11) > 1e-9 {
		t.Fatalf("recovery must lower current but keep max: %+v", perf)
	}
}

func TestDailyReturn(t *testing.T) {
	p := models.NewPortfolio(10000)
	p.DayStartValue = 10500
	p.TotalValue = 10710
	perf := Compute(Snapshot{Config: models.DefaultAgentConfig(), Portfolio: p}, nil)
	if math.Abs(perf.DailyReturnPercent-2) > 1e-9 {
		t.Fatalf("daily return %v", perf.DailyReturnPercent)
	}
}

func TestProperty_MaxDrawdownNeverDecreases(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	properties := gopter.NewProperties(parameters)

	properties.Property("max drawdown is monotonic and bounds current drawdown", prop.ForAll(
		func(values []float64) bool {
			tracker := NewTracker(10000)
			prevMax := 0.0
			for _, v := range values {
				current, max, _ := tracker.Observe(v)
				if max < prevMax || current > max+1e-12 || current < 0 {
					return false
				}
				prevMax = max
			}
			return true
		},
		gen.SliceOf(gen.Float64Range(1, 20000)),
	))

	properties.TestingRun(t)
}
