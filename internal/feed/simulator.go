package feed

import (
	"math"
	"math/rand"
	"sort"
	"sync"
	"time"

	"papertrader/internal/models"
	"papertrader/internal/scheduler"
)

// Publisher accepts market data for distribution.
type Publisher interface {
	Publish(asset string, point models.MarketDataPoint)
}

// SimulatorConfig describes the synthetic market.
type SimulatorConfig struct {
	// BasePrices maps asset to starting price. Prices never fall below
	// 80% of their base.
	BasePrices map[string]float64
	// Volatility is the largest fractional move per step.
	Volatility float64
	// BaseVolume is the minimum volume per step; volume ranges up to six
	// times this value.
	BaseVolume float64
	// Seed makes the walk reproducible. Zero seeds from the clock.
	Seed int64
}

// DefaultSimulatorConfig returns a single BTCUSDT walk.
func DefaultSimulatorConfig() SimulatorConfig {
	return SimulatorConfig{
		BasePrices: map[string]float64{"BTCUSDT": 45000},
		Volatility: 0.002,
		BaseVolume: 1000,
	}
}

// Simulator generates a random walk per asset.
type Simulator struct {
	config SimulatorConfig
	out    Publisher
	now    func() time.Time

	mu     sync.Mutex
	rng    *rand.Rand
	prices map[string]float64
	assets []string
}

// NewSimulator creates a simulator publishing to out.
func NewSimulator(config SimulatorConfig, out Publisher) *Simulator {
	seed := config.Seed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	if config.Volatility <= 0 {
		config.Volatility = DefaultSimulatorConfig().Volatility
	}
	if config.BaseVolume <= 0 {
		config.BaseVolume = DefaultSimulatorConfig().BaseVolume
	}

	s := &Simulator{
		config: config,
		out:    out,
		now:    time.Now,
		rng:    rand.New(rand.NewSource(seed)),
		prices: make(map[string]float64, len(config.BasePrices)),
	}
	for asset, price := range config.BasePrices {
		s.prices[asset] = price
		s.assets = append(s.assets, asset)
	}
	sort.Strings(s.assets)
	return s
}

// SetClock overrides the timestamp source.
func (s *Simulator) SetClock(now func() time.Time) {
	s.mu.Lock()
	s.now = now
	s.mu.Unlock()
}

// Step publishes one point for every asset.
func (s *Simulator) Step() {
	s.mu.Lock()
	points := make([]models.MarketDataPoint, len(s.assets))
	ts := s.now()
	for i, asset := range s.assets {
		points[i] = s.next(asset, ts)
	}
	s.mu.Unlock()

	for i, asset := range s.assets {
		s.out.Publish(asset, points[i])
	}
}

func (s *Simulator) next(asset string, ts time.Time) models.MarketDataPoint {
	base := s.config.BasePrices[asset]
	price := s.prices[asset]

	change := (s.rng.Float64() - 0.5) * 2 * s.config.Volatility * price
	price = math.Max(price+change, base*0.8)
	s.prices[asset] = price

	volume := s.config.BaseVolume * (1 + s.rng.Float64()*5)
	spreadPct := 0.01 + s.rng.Float64()*0.05
	bid := price * (1 - spreadPct/200)
	ask := price * (1 + spreadPct/200)

	return models.MarketDataPoint{
		Price:     price,
		Timestamp: ts,
		Volume:    volume,
		Bid:       bid,
		Ask:       ask,
		Spread:    ask - bid,
	}
}

// Run publishes a step every interval until the returned cancel is called.
func (s *Simulator) Run(sched scheduler.Scheduler, interval time.Duration) scheduler.CancelFunc {
	return sched.ScheduleRepeating(interval, s.Step)
}

// Assets returns the simulated assets, sorted.
func (s *Simulator) Assets() []string {
	return append([]string(nil), s.assets...)
}
