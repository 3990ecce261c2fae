package engine

import (
	"context"
	"math"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/rs/zerolog"
	apperrors "papertrader/internal/errors"
	"papertrader/internal/models"
	"papertrader/internal/scheduler"
	"papertrader/internal/strategy"
)

// scripted always returns the configured decisions.
type scripted struct {
	buy, sell models.StrategyDecision
}

func (scripted) Kind() models.StrategyKind { return models.StrategyMomentum }
func (scripted) Name() string              { return "Scripted" }
func (scripted) Description() string       { return "test double" }

func (s scripted) ShouldBuy([]models.MarketDataPoint, models.Portfolio, models.AgentConfig) models.StrategyDecision {
	return s.buy
}

func (s scripted) ShouldSell([]models.MarketDataPoint, models.Portfolio, models.AgentConfig) models.StrategyDecision {
	return s.sell
}

type flatFees float64

func (f flatFees) Resolve(context.Context, string, string) models.ExchangeFees {
	return models.ExchangeFees{Maker: float64(f), Taker: float64(f)}
}

type recorder struct {
	mu     sync.Mutex
	events []models.Event
	trades []models.Trade
	saves  int
}

func (r *recorder) listen(ev models.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
}

func (r *recorder) SaveConfiguration(models.AgentConfig) {
	r.mu.Lock()
	r.saves++
	r.mu.Unlock()
}

func (r *recorder) SavePortfolioState(string, models.Portfolio) {}

func (r *recorder) SaveTrade(_ string, t models.Trade) {
	r.mu.Lock()
	r.trades = append(r.trades, t)
	r.mu.Unlock()
}

func (r *recorder) kinds() []models.EventKind {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]models.EventKind, len(r.events))
	for i, ev := range r.events {
		out[i] = ev.Kind
	}
	return out
}

type testFeed struct {
	mu   sync.Mutex
	subs map[string]int
}

func (f *testFeed) Subscribe(asset string) <-chan models.MarketDataPoint {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.subs == nil {
		f.subs = make(map[string]int)
	}
	f.subs[asset]++
	return make(chan models.MarketDataPoint)
}

func (f *testFeed) Unsubscribe(asset string, _ <-chan models.MarketDataPoint) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.subs[asset]--
}

func (f *testFeed) count(asset string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.subs[asset]
}

var fixedNow = time.Date(2025, 3, 14, 12, 0, 0, 0, time.UTC)

type harness struct {
	engine *Engine
	sched  *scheduler.ManualScheduler
	rec    *recorder
	feed   *testFeed
}

func newHarness(t *testing.T, s scripted, taker float64, mutate func(*models.AgentConfig)) *harness {
	t.Helper()

	reg := strategy.NewRegistry()
	reg.Register(s)

	cfg := models.DefaultAgentConfig()
	cfg.ID = "agent-1"
	cfg.Name = "Test Agent"
	if mutate != nil {
		mutate(&cfg)
	}

	h := &harness{sched: scheduler.NewManualScheduler(), rec: &recorder{}, feed: &testFeed{}}
	e, err := New(cfg, Options{
		Strategies: reg,
		Fees:       flatFees(taker),
		Feed:       h.feed,
		Scheduler:  h.sched,
		Persister:  h.rec,
		Listener:   h.rec.listen,
		Logger:     zerolog.Nop(),
		Clock:      func() time.Time { return fixedNow },
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	h.engine = e
	return h
}

func (h *harness) feedPrices(prices ...float64) {
	for i, p := range prices {
		h.engine.Ingest(models.MarketDataPoint{Price: p, Volume: 1000, Timestamp: fixedNow.Add(time.Duration(i) * time.Second)})
	}
}

var (
	alwaysBuy  = models.StrategyDecision{Should: true, Confidence: 80, Reason: "test entry"}
	alwaysSell = models.StrategyDecision{Should: true, Confidence: 80, Reason: "test exit"}
)

func approx(a, b float64) bool { return math.Abs(a-b) < 1e-6 }

func TestBuyThenSellAppliesFees(t *testing.T) {
	h := newHarness(t, scripted{buy: alwaysBuy, sell: alwaysSell}, 0.001, nil)
	h.engine.Start()
	h.feedPrices(100, 100, 100, 100, 100)

	h.engine.Tick(context.Background())

	trades := h.engine.Trades()
	if len(trades) != 1 {
		t.Fatalf("expected one trade, got %d", len(trades))
	}
	buy := trades[0]
	if buy.Side != models.SideBuy || !approx(buy.Fee, 1) || !approx(buy.Quantity, 9.99) || !approx(buy.Value, 1000) {
		t.Fatalf("unexpected buy %+v", buy)
	}
	p := h.engine.Portfolio()
	if !approx(p.Cash, 9000) || p.Position == nil || p.Position.AveragePrice != 100 {
		t.Fatalf("unexpected portfolio after buy %+v", p)
	}
	if !approx(p.TotalValue, 9999) {
		t.Fatalf("total value after buy: %v", p.TotalValue)
	}
	if th := h.engine.Thought(); th.Message != "Bought! Reason: test entry" || th.Confidence != 80 {
		t.Fatalf("thought %+v", th)
	}

	h.feedPrices(102)
	h.engine.Tick(context.Background())

	trades = h.engine.Trades()
	if len(trades) != 2 {
		t.Fatalf("expected two trades, got %d", len(trades))
	}
	sell := trades[1]
	if sell.Side != models.SideSell || !approx(sell.Fee, 1.01898) || !approx(sell.PnL, 18.96102) {
		t.Fatalf("unexpected sell %+v", sell)
	}
	p = h.engine.Portfolio()
	if p.HasPosition() || !approx(p.Cash, 10017.96102) || !approx(p.TotalValue, p.Cash) {
		t.Fatalf("unexpected portfolio after sell %+v", p)
	}
	if th := h.engine.Thought(); th.Message != "Sold! P&L: +$18.96. Reason: test exit" {
		t.Fatalf("sell thought %q", th.Message)
	}
	if len(h.rec.trades) != 2 {
		t.Fatalf("expected both trades persisted, got %d", len(h.rec.trades))
	}
}

func TestTradeEventsAreOrdered(t *testing.T) {
	h := newHarness(t, scripted{buy: alwaysBuy, sell: alwaysSell}, 0.001, nil)
	h.engine.Start()
	h.feedPrices(100, 100, 100, 100, 100)
	h.rec.events = nil

	h.engine.Tick(context.Background())

	got := h.rec.kinds()
	want := []models.EventKind{models.EventTrade, models.EventThought, models.EventPortfolioUpdate}
	if len(got) != len(want) {
		t.Fatalf("events %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("events %v, want %v", got, want)
		}
	}
}

func TestSecondBuyIsRejected(t *testing.T) {
	h := newHarness(t, scripted{buy: alwaysBuy}, 0.001, nil)
	h.engine.Start()
	h.feedPrices(100, 100, 100, 100, 100)
	h.engine.Tick(context.Background())

	e := h.engine
	e.mu.Lock()
	_, err := e.executeBuyLocked(100, alwaysBuy, 0.001, fixedNow)
	e.mu.Unlock()

	if !apperrors.Is(err, apperrors.ErrPositionOpen) {
		t.Fatalf("expected ErrPositionOpen, got %v", err)
	}
	if n := len(e.Trades()); n != 1 {
		t.Fatalf("rejected buy must not record a trade, have %d", n)
	}
}

func TestBuyWithNoCashIsRejected(t *testing.T) {
	h := newHarness(t, scripted{buy: alwaysBuy}, 0.001, nil)
	e := h.engine
	empty := models.NewPortfolio(10000)
	empty.Cash = 0
	e.Restore(&empty, nil)

	e.Start()
	h.feedPrices(100, 100, 100, 100, 100)
	e.Tick(context.Background())

	if len(e.Trades()) != 0 {
		t.Fatal("no trade expected without cash")
	}
	if th := e.Thought(); th.Message != "Insufficient funds for buy order" {
		t.Fatalf("thought %q", th.Message)
	}
}

func TestLowConfidenceOnlyUpdatesThought(t *testing.T) {
	weak := models.StrategyDecision{Should: true, Confidence: 50, Reason: "Weak signal"}
	h := newHarness(t, scripted{buy: weak}, 0.001, nil)
	h.engine.Start()
	h.feedPrices(100, 100, 100, 100, 100)
	h.engine.Tick(context.Background())

	if len(h.engine.Trades()) != 0 {
		t.Fatal("confidence of exactly 50 must not trade")
	}
	if th := h.engine.Thought(); th.Message != `"Weak signal" (50% confidence)` {
		t.Fatalf("thought %q", th.Message)
	}
}

func TestTickSkipsWithInsufficientData(t *testing.T) {
	h := newHarness(t, scripted{buy: alwaysBuy}, 0.001, nil)
	h.engine.Start()
	h.feedPrices(100, 100, 100, 100)
	before := h.engine.Thought()

	h.engine.Tick(context.Background())

	if len(h.engine.Trades()) != 0 || h.engine.Thought() != before {
		t.Fatal("tick with four points must be a no-op")
	}
}

func TestTickIgnoredWhileStopped(t *testing.T) {
	h := newHarness(t, scripted{buy: alwaysBuy}, 0.001, nil)
	h.feedPrices(100, 100, 100, 100, 100)
	h.engine.Tick(context.Background())
	if len(h.engine.Trades()) != 0 {
		t.Fatal("idle engine must not trade")
	}
}

func TestWindowIsBounded(t *testing.T) {
	h := newHarness(t, scripted{}, 0.001, nil)
	for i := 0; i < 150; i++ {
		h.engine.Ingest(models.MarketDataPoint{Price: float64(100 + i)})
	}
	w := h.engine.Window()
	if len(w) != DefaultWindowSize || w[0].Price != 150 {
		t.Fatalf("window len %d first %v", len(w), w[0].Price)
	}
}

func TestSessionKeepsEveryTrade(t *testing.T) {
	h := newHarness(t, scripted{buy: alwaysBuy, sell: alwaysSell}, 0.001, nil)
	h.engine.Start()
	h.feedPrices(100, 100, 100, 100, 100)

	for i := 0; i < 130; i++ {
		h.engine.Tick(context.Background())
	}

	trades := h.engine.Trades()
	if len(trades) != 130 {
		t.Fatalf("session trades %d, want 130", len(trades))
	}
	if trades[0].Side != models.SideBuy || trades[129].Side != models.SideSell {
		t.Fatalf("first %s last %s", trades[0].Side, trades[129].Side)
	}
}

func TestRestoreLoadsAtMostTradeHistory(t *testing.T) {
	h := newHarness(t, scripted{}, 0.001, nil)
	history := make([]models.Trade, DefaultTradeHistory+30)
	for i := range history {
		history[i] = models.Trade{ID: strconv.Itoa(i), Side: models.SideBuy}
	}
	h.engine.Restore(nil, history)

	trades := h.engine.Trades()
	if len(trades) != DefaultTradeHistory || trades[0].ID != "30" {
		t.Fatalf("restored %d trades, first %s", len(trades), trades[0].ID)
	}
}

func TestStartStopAreIdempotent(t *testing.T) {
	h := newHarness(t, scripted{}, 0.001, nil)
	e := h.engine

	if !e.Start() || e.Start() {
		t.Fatal("first Start should succeed and the second report no change")
	}
	if h.sched.Len() != 1 || h.feed.count("BTCUSDT") != 1 || !e.Config().IsActive {
		t.Fatalf("running engine should hold one timer and one subscription")
	}
	if !e.Stop() || e.Stop() {
		t.Fatal("first Stop should succeed and the second report no change")
	}
	if h.sched.Len() != 0 || h.feed.count("BTCUSDT") != 0 || e.IsRunning() || e.Config().IsActive {
		t.Fatal("stopped engine should hold no timer or subscription")
	}
}

func TestSchedulerDrivesTicks(t *testing.T) {
	h := newHarness(t, scripted{buy: alwaysBuy, sell: alwaysSell}, 0.001, func(c *models.AgentConfig) {
		c.TradingSpeed = models.SpeedExtreme
	})
	h.engine.Start()
	h.feedPrices(100, 100, 100, 100, 100)

	h.sched.Advance(9 * time.Second)
	if len(h.engine.Trades()) != 0 {
		t.Fatal("no tick expected before the first interval")
	}
	h.sched.Advance(time.Second)
	if len(h.engine.Trades()) != 1 {
		t.Fatal("expected a buy on the first tick")
	}

	h.engine.Stop()
	h.sched.Advance(time.Minute)
	if len(h.engine.Trades()) != 1 {
		t.Fatal("stopped engine must not tick")
	}
}

func TestUpdateConfigResetsOnCapitalChange(t *testing.T) {
	h := newHarness(t, scripted{buy: alwaysBuy}, 0.001, nil)
	e := h.engine
	e.Start()
	h.feedPrices(100, 100, 100, 100, 100)
	e.Tick(context.Background())

	next := e.Config()
	next.InitialCapital = 5000
	next.Exchange = "kraken"
	if err := e.UpdateConfig(next); err != nil {
		t.Fatalf("UpdateConfig: %v", err)
	}

	p := e.Portfolio()
	if p.Cash != 5000 || p.HasPosition() || len(e.Trades()) != 0 {
		t.Fatalf("capital change must reset, got %+v", p)
	}
	if th := e.Thought(); th.Message != "Configuration updated: kraken - BTCUSDT" {
		t.Fatalf("thought %q", th.Message)
	}
	if !e.IsRunning() || e.Config().ID != "agent-1" {
		t.Fatal("update must keep identity and running state")
	}
}

func TestUpdateConfigMovesSubscription(t *testing.T) {
	h := newHarness(t, scripted{}, 0.001, nil)
	e := h.engine
	e.Start()
	h.feedPrices(100, 100)

	next := e.Config()
	next.Asset = "ETHUSDT"
	next.TradingSpeed = models.SpeedAggressive
	if err := e.UpdateConfig(next); err != nil {
		t.Fatalf("UpdateConfig: %v", err)
	}

	if h.feed.count("BTCUSDT") != 0 || h.feed.count("ETHUSDT") != 1 {
		t.Fatal("subscription should follow the asset")
	}
	if len(e.Window()) != 0 {
		t.Fatal("window must be cleared on asset change")
	}
	if h.sched.Len() != 1 {
		t.Fatalf("expected exactly one timer, have %d", h.sched.Len())
	}
}

func TestUpdateConfigRejectsInvalid(t *testing.T) {
	h := newHarness(t, scripted{}, 0.001, nil)
	bad := h.engine.Config()
	bad.PositionSize = 0
	if err := h.engine.UpdateConfig(bad); err == nil {
		t.Fatal("expected validation error")
	}
}

func TestNewRejectsUnknownStrategy(t *testing.T) {
	cfg := models.DefaultAgentConfig()
	cfg.Strategy = models.StrategyScalper
	_, err := New(cfg, Options{Strategies: strategy.NewRegistry(), Logger: zerolog.Nop(), Scheduler: scheduler.NewManualScheduler()})
	if !apperrors.Is(err, apperrors.ErrUnknownStrategy) {
		t.Fatalf("expected ErrUnknownStrategy, got %v", err)
	}
}

func TestResetClearsHistory(t *testing.T) {
	h := newHarness(t, scripted{buy: alwaysBuy}, 0.001, nil)
	h.engine.Start()
	h.feedPrices(100, 100, 100, 100, 100)
	h.engine.Tick(context.Background())

	h.engine.Reset()
	if p := h.engine.Portfolio(); p.Cash != 10000 || p.HasPosition() || len(h.engine.Trades()) != 0 {
		t.Fatalf("reset portfolio %+v", p)
	}
	if !strings.Contains(h.engine.Thought().Message, "cleared") {
		t.Fatal("reset should leave a thought")
	}
}

func TestDayRolloverResetsDayStart(t *testing.T) {
	now := fixedNow
	reg := strategy.NewRegistry()
	reg.Register(scripted{buy: alwaysBuy})
	e, err := New(models.AgentConfig{
		ID: "a", Asset: "BTCUSDT", Strategy: models.StrategyMomentum,
		InitialCapital: 1000, PositionSize: 50, MaxDrawdown: 10,
	}, Options{
		Strategies: reg, Fees: flatFees(0), Scheduler: scheduler.NewManualScheduler(),
		Logger: zerolog.Nop(), Clock: func() time.Time { return now },
	})
	if err != nil {
		t.Fatal(err)
	}
	e.Start()
	for i := 0; i < 5; i++ {
		e.Ingest(models.MarketDataPoint{Price: 10})
	}
	e.Tick(context.Background())

	e.Ingest(models.MarketDataPoint{Price: 12})
	now = now.Add(24 * time.Hour)
	e.Tick(context.Background())

	p := e.Portfolio()
	if !approx(p.DayStartValue, 1100) {
		t.Fatalf("day start should be the marked value at rollover, got %v", p.DayStartValue)
	}
}

func TestProperty_RoundTripConservesCash(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	properties := gopter.NewProperties(parameters)

	properties.Property("cash after buy and sell equals capital plus pnl minus buy fee", prop.ForAll(
		func(capital, size, taker, entry, exit float64) bool {
			buy := ComputeBuy(capital, size, taker, entry)
			cash := capital - buy.CashToUse
			sell := ComputeSell(buy.Quantity, entry, taker, exit)
			cash += sell.NetValue

			want := capital + sell.PnL - buy.Fee
			return math.Abs(cash-want) < 1e-6*math.Max(1, capital)
		},
		gen.Float64Range(100, 1e6),
		gen.Float64Range(1, 100),
		gen.Float64Range(0, 0.01),
		gen.Float64Range(0.01, 1e5),
		gen.Float64Range(0.01, 1e5),
	))

	properties.TestingRun(t)
}

func TestProperty_HigherFeesNeverHelp(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	properties := gopter.NewProperties(parameters)

	properties.Property("a higher taker rate buys less and nets less", prop.ForAll(
		func(capital, price, low, extra float64) bool {
			high := low + extra
			a := ComputeBuy(capital, 10, low, price)
			b := ComputeBuy(capital, 10, high, price)
			if b.Quantity > a.Quantity || b.Fee < a.Fee {
				return false
			}
			sa := ComputeSell(a.Quantity, price, low, price)
			sb := ComputeSell(a.Quantity, price, high, price)
			return sb.NetValue <= sa.NetValue && sb.PnL <= sa.PnL
		},
		gen.Float64Range(100, 1e6),
		gen.Float64Range(0.01, 1e5),
		gen.Float64Range(0, 0.01),
		gen.Float64Range(0, 0.01),
	))

	properties.TestingRun(t)
}

func TestProperty_FlatRoundTripLosesExactlyFees(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	properties := gopter.NewProperties(parameters)

	properties.Property("selling at the entry price loses both fees", prop.ForAll(
		func(price, taker float64) bool {
			buy := ComputeBuy(10000, 10, taker, price)
			sell := ComputeSell(buy.Quantity, price, taker, price)
			return math.Abs(sell.PnL+sell.Fee) < 1e-6 && sell.PnL <= 0
		},
		gen.Float64Range(0.01, 1e5),
		gen.Float64Range(0, 0.01),
	))

	properties.TestingRun(t)
}
