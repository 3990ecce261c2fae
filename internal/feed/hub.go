// Package feed distributes market data to agents.
package feed

import (
	"context"
	"sort"
	"sync"
	"time"

	"papertrader/internal/metrics"
	"papertrader/internal/models"
)

// HubConfig holds configuration for the Hub.
type HubConfig struct {
	// BufferSize is the size of the internal publish buffer.
	BufferSize int
	// SubscriberBufferSize is the size of each subscriber's channel buffer.
	SubscriberBufferSize int
}

// DefaultHubConfig returns the default hub configuration.
func DefaultHubConfig() HubConfig {
	return HubConfig{
		BufferSize:           1000,
		SubscriberBufferSize: 100,
	}
}

// Tick is a market data point tagged with its asset.
type Tick struct {
	Asset string
	Point models.MarketDataPoint
}

// Hub fans market data out to per-asset subscribers. Publishing never
// blocks on a slow subscriber; points that do not fit are dropped.
type Hub struct {
	config      HubConfig
	mu          sync.RWMutex
	subscribers map[string][]*Subscriber
	latest      map[string]models.MarketDataPoint
	tickChan    chan Tick
	done        chan struct{}
	started     bool

	metricsMu      sync.Mutex
	ticksReceived  uint64
	ticksBroadcast uint64
	ticksDropped   uint64
}

// Subscriber is one consumer channel for an asset.
type Subscriber struct {
	Channel      chan models.MarketDataPoint
	DroppedCount int
	CreatedAt    time.Time
}

// NewHub creates a hub with the default configuration.
func NewHub() *Hub {
	return NewHubWithConfig(DefaultHubConfig())
}

// NewHubWithConfig creates a hub with a custom configuration.
func NewHubWithConfig(config HubConfig) *Hub {
	if config.BufferSize <= 0 {
		config.BufferSize = DefaultHubConfig().BufferSize
	}
	if config.SubscriberBufferSize <= 0 {
		config.SubscriberBufferSize = DefaultHubConfig().SubscriberBufferSize
	}
	return &Hub{
		config:      config,
		subscribers: make(map[string][]*Subscriber),
		latest:      make(map[string]models.MarketDataPoint),
		tickChan:    make(chan Tick, config.BufferSize),
		done:        make(chan struct{}),
	}
}

// Start launches the distribution loop. It returns immediately. A stopped
// hub may be started again; earlier subscribers must resubscribe.
func (h *Hub) Start(ctx context.Context) {
	h.mu.Lock()
	if h.started {
		h.mu.Unlock()
		return
	}
	h.started = true
	select {
	case <-h.done:
		h.done = make(chan struct{})
	default:
	}
	done := h.done
	h.mu.Unlock()

	go h.broadcastLoop(ctx, done)
}

func (h *Hub) broadcastLoop(ctx context.Context, done <-chan struct{}) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-done:
			return
		case tick := <-h.tickChan:
			h.metricsMu.Lock()
			h.ticksReceived++
			h.metricsMu.Unlock()

			h.broadcast(tick)
		}
	}
}

// Stop ends distribution and closes every subscriber channel.
func (h *Hub) Stop() {
	h.mu.Lock()
	defer h.mu.Unlock()

	if !h.started {
		return
	}
	close(h.done)
	h.started = false

	for asset, subs := range h.subscribers {
		for _, sub := range subs {
			close(sub.Channel)
		}
		delete(h.subscribers, asset)
	}
}

// Subscribe returns a channel receiving every point published for asset.
func (h *Hub) Subscribe(asset string) <-chan models.MarketDataPoint {
	ch := make(chan models.MarketDataPoint, h.config.SubscriberBufferSize)

	h.mu.Lock()
	h.subscribers[asset] = append(h.subscribers[asset], &Subscriber{
		Channel:   ch,
		CreatedAt: time.Now(),
	})
	h.mu.Unlock()

	return ch
}

// Unsubscribe removes and closes a channel returned by Subscribe.
func (h *Hub) Unsubscribe(asset string, ch <-chan models.MarketDataPoint) {
	h.mu.Lock()
	defer h.mu.Unlock()

	subs := h.subscribers[asset]
	for i, sub := range subs {
		if sub.Channel == ch {
			close(sub.Channel)
			h.subscribers[asset] = append(subs[:i], subs[i+1:]...)
			break
		}
	}

	if len(h.subscribers[asset]) == 0 {
		delete(h.subscribers, asset)
	}
}

// Publish queues a point for distribution. It never blocks; when the
// internal buffer is full the point is dropped.
func (h *Hub) Publish(asset string, point models.MarketDataPoint) {
	select {
	case h.tickChan <- Tick{Asset: asset, Point: point}:
	default:
		h.countDrop(asset)
	}
}

// PublishWait queues a point, waiting for buffer space until ctx is done.
func (h *Hub) PublishWait(ctx context.Context, asset string, point models.MarketDataPoint) error {
	select {
	case h.tickChan <- Tick{Asset: asset, Point: point}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// broadcast delivers a tick to every subscriber of its asset. The read
// lock is held across the non-blocking sends so Unsubscribe cannot close
// a channel mid-send.
func (h *Hub) broadcast(tick Tick) {
	h.mu.Lock()
	h.latest[tick.Asset] = tick.Point
	h.mu.Unlock()

	h.mu.RLock()
	defer h.mu.RUnlock()

	for _, sub := range h.subscribers[tick.Asset] {
		select {
		case sub.Channel <- tick.Point:
			h.metricsMu.Lock()
			h.ticksBroadcast++
			h.metricsMu.Unlock()
		default:
			sub.DroppedCount++
			h.countDrop(tick.Asset)
		}
	}
}

func (h *Hub) countDrop(asset string) {
	h.metricsMu.Lock()
	h.ticksDropped++
	h.metricsMu.Unlock()
	metrics.FeedDrops.WithLabelValues(asset).Inc()
}

// Latest returns the most recent point distributed for asset.
func (h *Hub) Latest(asset string) (models.MarketDataPoint, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	p, ok := h.latest[asset]
	return p, ok
}

// SubscriberCount returns the number of subscribers for asset.
func (h *Hub) SubscriberCount(asset string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subscribers[asset])
}

// Assets returns every asset with at least one subscriber, sorted.
func (h *Hub) Assets() []string {
	h.mu.RLock()
	defer h.mu.RUnlock()

	assets := make([]string, 0, len(h.subscribers))
	for asset := range h.subscribers {
		assets = append(assets, asset)
	}
	sort.Strings(assets)
	return assets
}

// Metrics returns hub counters.
func (h *Hub) Metrics() HubMetrics {
	h.mu.RLock()
	subscribers := 0
	for _, subs := range h.subscribers {
		subscribers += len(subs)
	}
	assets := len(h.subscribers)
	h.mu.RUnlock()

	h.metricsMu.Lock()
	defer h.metricsMu.Unlock()
	return HubMetrics{
		TicksReceived:  h.ticksReceived,
		TicksBroadcast: h.ticksBroadcast,
		TicksDropped:   h.ticksDropped,
		Subscribers:    subscribers,
		Assets:         assets,
	}
}

// HubMetrics contains hub counters.
type HubMetrics struct {
	TicksReceived  uint64
	TicksBroadcast uint64
	TicksDropped   uint64
	Subscribers    int
	Assets         int
}

// IsStarted returns whether the hub is running.
func (h *Hub) IsStarted() bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.started
}
