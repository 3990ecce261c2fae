package feed

import (
	"bytes"
	"context"
	"testing"
	"time"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"papertrader/internal/models"
	"papertrader/internal/scheduler"
)

func receive(t *testing.T, ch <-chan models.MarketDataPoint) models.MarketDataPoint {
	t.Helper()
	select {
	case p, ok := <-ch:
		if !ok {
			t.Fatalf("channel closed")
		}
		return p
	case <-time.After(time.Second):
		t.Fatalf("timed out waiting for point")
	}
	return models.MarketDataPoint{}
}

func TestHubRoutesByAsset(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	hub := NewHub()
	hub.Start(ctx)
	defer hub.Stop()

	btc := hub.Subscribe("BTCUSDT")
	eth := hub.Subscribe("ETHUSDT")

	hub.Publish("BTCUSDT", models.MarketDataPoint{Price: 45000})
	hub.Publish("ETHUSDT", models.MarketDataPoint{Price: 3000})

	if p := receive(t, btc); p.Price != 45000 {
		t.Fatalf("btc got %v", p.Price)
	}
	if p := receive(t, eth); p.Price != 3000 {
		t.Fatalf("eth got %v", p.Price)
	}

	if latest, ok := hub.Latest("BTCUSDT"); !ok || latest.Price != 45000 {
		t.Fatalf("latest = %+v, %v", latest, ok)
	}
	if got := hub.Assets(); len(got) != 2 || got[0] != "BTCUSDT" {
		t.Fatalf("assets = %v", got)
	}
}

func TestHubRestartsAfterStop(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	hub := NewHub()
	hub.Start(ctx)
	first := hub.Subscribe("BTCUSDT")
	hub.Stop()
	if _, ok := <-first; ok {
		t.Fatal("stop should close subscriber channels")
	}

	hub.Start(ctx)
	defer hub.Stop()
	if !hub.IsStarted() {
		t.Fatal("hub should report started after restart")
	}
	ch := hub.Subscribe("BTCUSDT")
	hub.Publish("BTCUSDT", models.MarketDataPoint{Price: 46000})
	if p := receive(t, ch); p.Price != 46000 {
		t.Fatalf("got %v after restart", p.Price)
	}
}

func TestHubUnsubscribeClosesChannel(t *testing.T) {
	hub := NewHub()
	ch := hub.Subscribe("BTCUSDT")
	hub.Unsubscribe("BTCUSDT", ch)

	if _, ok := <-ch; ok {
		t.Fatalf("expected closed channel")
	}
	if hub.SubscriberCount("BTCUSDT") != 0 {
		t.Fatalf("subscriber not removed")
	}
}

func TestHubDropsForSlowSubscriber(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	hub := NewHubWithConfig(HubConfig{BufferSize: 100, SubscriberBufferSize: 2})
	hub.Start(ctx)
	defer hub.Stop()

	hub.Subscribe("BTCUSDT")
	for i := 0; i < 10; i++ {
		hub.Publish("BTCUSDT", models.MarketDataPoint{Price: float64(i)})
	}

	deadline := time.Now().Add(time.Second)
	for m := hub.Metrics(); m.TicksBroadcast+m.TicksDropped < 10 && time.Now().Before(deadline); m = hub.Metrics() {
		time.Sleep(time.Millisecond)
	}
	m := hub.Metrics()
	if m.TicksBroadcast != 2 || m.TicksDropped != 8 {
		t.Fatalf("unexpected metrics %+v", m)
	}
}

type capture struct {
	points map[string][]models.MarketDataPoint
}

func (c *capture) Publish(asset string, p models.MarketDataPoint) {
	if c.points == nil {
		c.points = make(map[string][]models.MarketDataPoint)
	}
	c.points[asset] = append(c.points[asset], p)
}

func TestSimulatorIsDeterministic(t *testing.T) {
	cfg := SimulatorConfig{BasePrices: map[string]float64{"BTCUSDT": 45000, "ETHUSDT": 3000}, Seed: 7}
	clock := func() time.Time { return time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC) }

	a, b := &capture{}, &capture{}
	sa, sb := NewSimulator(cfg, a), NewSimulator(cfg, b)
	sa.SetClock(clock)
	sb.SetClock(clock)

	sched := scheduler.NewManualScheduler()
	sa.Run(sched, time.Second)
	sb.Run(sched, time.Second)
	sched.Advance(20 * time.Second)

	if len(a.points["BTCUSDT"]) != 20 || len(a.points["ETHUSDT"]) != 20 {
		t.Fatalf("unexpected point counts %d/%d", len(a.points["BTCUSDT"]), len(a.points["ETHUSDT"]))
	}
	for i := range a.points["BTCUSDT"] {
		if a.points["BTCUSDT"][i] != b.points["BTCUSDT"][i] {
			t.Fatalf("point %d differs", i)
		}
	}
}

func TestProperty_SimulatedPointsAreWellFormed(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 50
	properties := gopter.NewProperties(parameters)

	properties.Property("bid < price < ask, price floor holds, spread tight", prop.ForAll(
		func(seed int64, base float64) bool {
			c := &capture{}
			sim := NewSimulator(SimulatorConfig{BasePrices: map[string]float64{"X": base}, Volatility: 0.05, Seed: seed}, c)
			for i := 0; i < 200; i++ {
				sim.Step()
			}
			for _, p := range c.points["X"] {
				if p.Price < base*0.8-1e-9 || !(p.Bid < p.Price && p.Price < p.Ask) {
					return false
				}
				if p.Spread/p.Price*100 > 0.1 || p.Volume <= 0 {
					return false
				}
			}
			return true
		},
		gen.Int64Range(1, 1<<40),
		gen.Float64Range(1, 100000),
	))

	properties.TestingRun(t)
}

func TestCSVRoundTripAndReplay(t *testing.T) {
	rec := NewRecorder(nil)
	start := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	for i := 0; i < 5; i++ {
		rec.Publish("BTCUSDT", models.MarketDataPoint{
			Price:     100 + float64(i),
			Timestamp: start.Add(time.Duration(i) * time.Minute),
			Volume:    10,
			Bid:       99.5,
			Ask:       100.5,
			Spread:    1,
		})
	}

	var buf bytes.Buffer
	if err := WriteCSV(&buf, rec.Rows()); err != nil {
		t.Fatalf("WriteCSV: %v", err)
	}
	rows, err := ReadCSV(&buf)
	if err != nil {
		t.Fatalf("ReadCSV: %v", err)
	}
	if len(rows) != 5 {
		t.Fatalf("expected 5 rows, got %d", len(rows))
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	hub := NewHub()
	hub.Start(ctx)
	defer hub.Stop()
	ch := hub.Subscribe("BTCUSDT")

	n, err := Replay(ctx, hub, rows, 0)
	if err != nil || n != 5 {
		t.Fatalf("Replay = %d, %v", n, err)
	}
	for i := 0; i < 5; i++ {
		p := receive(t, ch)
		if p.Price != 100+float64(i) || !p.Timestamp.Equal(start.Add(time.Duration(i)*time.Minute)) {
			t.Fatalf("point %d = %+v", i, p)
		}
	}
}

func TestReplayRejectsBadTimestamp(t *testing.T) {
	hub := NewHub()
	_, err := Replay(context.Background(), hub, []Row{{Asset: "X", Timestamp: "yesterday", Price: 1}}, 0)
	if err == nil {
		t.Fatalf("expected timestamp error")
	}
}
