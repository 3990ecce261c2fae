// Package engine runs a single simulated trading agent: it buffers market
// data, evaluates the agent's strategy on a schedule and executes simulated
// fills against a private portfolio.
package engine

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	apperrors "papertrader/internal/errors"
	"papertrader/internal/fees"
	"papertrader/internal/logging"
	"papertrader/internal/metrics"
	"papertrader/internal/models"
	"papertrader/internal/scheduler"
	"papertrader/internal/strategy"
)

const (
	DefaultWindowSize   = 100
	DefaultMinPoints    = 5
	DefaultTradeHistory = 100
	feeLookupTimeout    = 10 * time.Second
)

// Feed delivers market data for an asset. Unsubscribe closes the channel.
type Feed interface {
	Subscribe(asset string) <-chan models.MarketDataPoint
	Unsubscribe(asset string, ch <-chan models.MarketDataPoint)
}

// FeeResolver returns the fee schedule for an exchange and asset. It must
// not fail; lookup errors resolve to a default schedule.
type FeeResolver interface {
	Resolve(ctx context.Context, exchange, asset string) models.ExchangeFees
}

// Persister receives fire-and-forget writes. Implementations must not block.
type Persister interface {
	SaveConfiguration(cfg models.AgentConfig)
	SavePortfolioState(agentID string, p models.Portfolio)
	SaveTrade(agentID string, t models.Trade)
}

// Listener receives engine events. It is called outside the engine's state
// lock but inside the tick, so events of one engine arrive in causal order.
type Listener func(models.Event)

// Options configures an Engine. Zero values select defaults.
type Options struct {
	Strategies          *strategy.Registry
	Fees                FeeResolver
	Feed                Feed
	Scheduler           scheduler.Scheduler
	Persister           Persister
	Listener            Listener
	Logger              zerolog.Logger
	Clock               func() time.Time
	WindowSize          int
	MinPoints           int
	// TradeHistory bounds the trades loaded by Restore. Trades made in
	// the running session are never dropped.
	TradeHistory        int
	ConfidenceThreshold float64
}

func (o *Options) applyDefaults() {
	if o.Strategies == nil {
		o.Strategies = strategy.DefaultRegistry()
	}
	if o.Fees == nil {
		o.Fees = fees.NewResolver(nil, o.Logger)
	}
	if o.Scheduler == nil {
		o.Scheduler = scheduler.NewTickerScheduler(context.Background())
	}
	if o.Clock == nil {
		o.Clock = time.Now
	}
	if o.WindowSize <= 0 {
		o.WindowSize = DefaultWindowSize
	}
	if o.MinPoints <= 0 {
		o.MinPoints = DefaultMinPoints
	}
	if o.TradeHistory <= 0 {
		o.TradeHistory = DefaultTradeHistory
	}
	if o.ConfidenceThreshold <= 0 {
		o.ConfidenceThreshold = strategy.ConfidenceThreshold
	}
}

// Engine is one agent's trading loop. It is safe for concurrent use.
type Engine struct {
	opts   Options
	logger zerolog.Logger

	// lifeMu serialises Start, Stop and subscription changes.
	lifeMu     sync.Mutex
	cancelTick scheduler.CancelFunc
	sub        <-chan models.MarketDataPoint
	subAsset   string
	done       chan struct{}

	// tickMu serialises ticks and config changes so events stay ordered.
	tickMu sync.Mutex

	mu        sync.Mutex
	cfg       models.AgentConfig
	strat     strategy.Strategy
	portfolio models.Portfolio
	trades    []models.Trade
	window    []models.MarketDataPoint
	thought   models.Thought
	fees      *models.ExchangeFees
	running   bool
	day       string
}

// New creates an idle engine with a fresh portfolio sized to
// cfg.InitialCapital.
func New(cfg models.AgentConfig, opts Options) (*Engine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, apperrors.NewValidationError("config", cfg.ID, err.Error())
	}
	opts.applyDefaults()

	strat, err := opts.Strategies.Lookup(cfg.Strategy)
	if err != nil {
		return nil, err
	}
	cfg.TradingSpeed = models.ParseTradingSpeed(string(cfg.TradingSpeed))
	cfg.IsActive = false

	e := &Engine{
		opts:      opts,
		logger:    logging.WithAsset(logging.WithAgent(opts.Logger, cfg.ID, cfg.Name), cfg.Asset),
		cfg:       cfg,
		strat:     strat,
		portfolio: models.NewPortfolio(cfg.InitialCapital),
	}
	e.day = dayKey(opts.Clock())
	return e, nil
}

// Restore replaces the portfolio and trade history with previously
// persisted state. It should be called before Start.
func (e *Engine) Restore(p *models.Portfolio, trades []models.Trade) {
	e.tickMu.Lock()
	defer e.tickMu.Unlock()
	e.mu.Lock()
	defer e.mu.Unlock()

	if p != nil {
		e.portfolio = p.Clone()
	}
	e.trades = e.capTrades(append([]models.Trade(nil), trades...))
	e.thought = models.Thought{Message: "Previous state loaded", Timestamp: e.opts.Clock()}
}

func dayKey(t time.Time) string {
	return t.UTC().Format("2006-01-02")
}

// ID returns the agent ID.
func (e *Engine) ID() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.cfg.ID
}

// Config returns a copy of the agent's configuration.
func (e *Engine) Config() models.AgentConfig {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.cfg
}

// Portfolio returns a snapshot of the portfolio.
func (e *Engine) Portfolio() models.Portfolio {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.portfolio.Clone()
}

// Trades returns a copy of the trade history, oldest first.
func (e *Engine) Trades() []models.Trade {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]models.Trade(nil), e.trades...)
}

// Window returns a copy of the buffered market data.
func (e *Engine) Window() []models.MarketDataPoint {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]models.MarketDataPoint(nil), e.window...)
}

// Thought returns the agent's latest reasoning.
func (e *Engine) Thought() models.Thought {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.thought
}

// IsRunning reports whether the engine is ticking.
func (e *Engine) IsRunning() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.running
}

// Start begins ticking and subscribes to the feed. It returns false if the
// engine was already running.
func (e *Engine) Start() bool {
	e.lifeMu.Lock()
	defer e.lifeMu.Unlock()

	e.mu.Lock()
	if e.running {
		e.mu.Unlock()
		return false
	}
	e.running = true
	e.cfg.IsActive = true
	cfg := e.cfg
	events := e.setThoughtLocked("Starting trading operations", 0)
	e.mu.Unlock()

	e.subscribe(cfg.Asset)
	e.cancelTick = e.opts.Scheduler.ScheduleRepeating(cfg.TradingSpeed.Interval(), func() {
		e.Tick(context.Background())
	})

	e.persistConfig(cfg)
	e.emit(events...)
	e.logger.Info().Dur("interval", cfg.TradingSpeed.Interval()).Str("strategy", string(cfg.Strategy)).Msg("Agent started")
	return true
}

// Stop cancels future ticks and unsubscribes from the feed. A tick already
// in progress completes. It returns false if the engine was idle.
func (e *Engine) Stop() bool {
	e.lifeMu.Lock()
	defer e.lifeMu.Unlock()

	e.mu.Lock()
	if !e.running {
		e.mu.Unlock()
		return false
	}
	e.running = false
	e.cfg.IsActive = false
	cfg := e.cfg
	events := e.setThoughtLocked("Trading operations stopped", 0)
	e.mu.Unlock()

	if e.cancelTick != nil {
		e.cancelTick()
		e.cancelTick = nil
	}
	e.unsubscribe()

	e.persistConfig(cfg)
	e.emit(events...)
	e.logger.Info().Msg("Agent stopped")
	return true
}

// subscribe attaches to the feed for asset. Callers hold lifeMu.
func (e *Engine) subscribe(asset string) {
	if e.opts.Feed == nil {
		return
	}
	ch := e.opts.Feed.Subscribe(asset)
	done := make(chan struct{})
	e.sub, e.subAsset, e.done = ch, asset, done

	go func() {
		for {
			select {
			case <-done:
				return
			case point, ok := <-ch:
				if !ok {
					return
				}
				e.Ingest(point)
			}
		}
	}()
}

// unsubscribe detaches from the feed. Callers hold lifeMu.
func (e *Engine) unsubscribe() {
	if e.sub == nil {
		return
	}
	close(e.done)
	e.opts.Feed.Unsubscribe(e.subAsset, e.sub)
	e.sub, e.subAsset, e.done = nil, "", nil
}

// Ingest appends a market data point to the window and marks the portfolio
// to market at its price.
func (e *Engine) Ingest(point models.MarketDataPoint) {
	if point.Price <= 0 {
		return
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	e.window = append(e.window, point)
	if n := len(e.window); n > e.opts.WindowSize {
		e.window = append([]models.MarketDataPoint(nil), e.window[n-e.opts.WindowSize:]...)
	}
	e.portfolio.TotalValue = e.portfolio.MarkToMarket(point.Price)
}

// Tick runs one decision cycle. It is a no-op while idle or while fewer
// than MinPoints data points are buffered.
func (e *Engine) Tick(ctx context.Context) {
	e.tickMu.Lock()
	defer e.tickMu.Unlock()

	start := time.Now()

	e.mu.Lock()
	if !e.running || len(e.window) < e.opts.MinPoints {
		e.mu.Unlock()
		return
	}
	window := append([]models.MarketDataPoint(nil), e.window...)
	price := window[len(window)-1].Price
	now := e.opts.Clock()

	e.portfolio.TotalValue = e.portfolio.MarkToMarket(price)
	if d := dayKey(now); d != e.day {
		e.day = d
		e.portfolio.DayStartValue = e.portfolio.TotalValue
	}
	portfolio := e.portfolio.Clone()
	cfg := e.cfg
	strat := e.strat
	cached := e.fees
	e.mu.Unlock()

	defer func() {
		metrics.TickDuration.WithLabelValues(string(cfg.Strategy)).Observe(time.Since(start).Seconds())
	}()

	side := models.SideBuy
	var decision models.StrategyDecision
	if portfolio.HasPosition() {
		side = models.SideSell
		decision = strat.ShouldSell(window, portfolio, cfg)
	} else {
		decision = strat.ShouldBuy(window, portfolio, cfg)
	}
	logging.LogDecision(e.logger, cfg.Asset, string(side), decision.Should, decision.Confidence, decision.Reason)

	if !decision.Actionable(e.opts.ConfidenceThreshold) {
		e.mu.Lock()
		events := e.setThoughtLocked(fmt.Sprintf("\"%s\" (%.0f%% confidence)", decision.Reason, decision.Confidence), decision.Confidence)
		e.mu.Unlock()
		e.emit(events...)
		return
	}

	taker := e.takerRate(ctx, cfg, cached)

	e.mu.Lock()
	var (
		trade  models.Trade
		err    error
		events []models.Event
	)
	if side == models.SideBuy {
		trade, err = e.executeBuyLocked(price, decision, taker, now)
	} else {
		trade, err = e.executeSellLocked(price, decision, taker, now)
	}

	if err != nil {
		events = e.setThoughtLocked(rejectionThought(err), decision.Confidence)
		e.mu.Unlock()

		metrics.TradeRejections.WithLabelValues(string(side), rejectionReason(err)).Inc()
		e.logger.Debug().Err(err).Msg("Trade rejected")
		e.emit(events...)
		return
	}

	events = append(events, models.Event{Kind: models.EventTrade, AgentID: cfg.ID, Timestamp: now, Trade: &trade})
	events = append(events, e.setThoughtLocked(tradeThought(trade), decision.Confidence)...)
	snapshot := e.portfolio.Clone()
	events = append(events, models.Event{Kind: models.EventPortfolioUpdate, AgentID: cfg.ID, Timestamp: now, Portfolio: &snapshot})
	cfg = e.cfg
	e.mu.Unlock()

	metrics.TradesTotal.WithLabelValues(string(cfg.Strategy), string(trade.Side)).Inc()
	logging.LogTrade(e.logger, trade.Asset, string(trade.Side), trade.Quantity, trade.Price, trade.Fee, trade.PnL)

	if p := e.opts.Persister; p != nil {
		p.SaveTrade(cfg.ID, trade)
		p.SaveConfiguration(cfg)
		p.SavePortfolioState(cfg.ID, snapshot)
	}
	e.emit(events...)
}

// takerRate returns the session's taker fee, resolving it on first use.
// The lookup runs without the state lock held.
func (e *Engine) takerRate(ctx context.Context, cfg models.AgentConfig, cached *models.ExchangeFees) float64 {
	if cached != nil {
		return cached.Taker
	}

	lookupCtx, cancel := context.WithTimeout(ctx, feeLookupTimeout)
	defer cancel()
	schedule := e.opts.Fees.Resolve(lookupCtx, cfg.Exchange, cfg.Asset)

	e.mu.Lock()
	if e.cfg.Exchange == cfg.Exchange {
		e.fees = &schedule
	}
	e.mu.Unlock()
	return schedule.Taker
}

func (e *Engine) executeBuyLocked(price float64, d models.StrategyDecision, taker float64, now time.Time) (models.Trade, error) {
	asset := e.cfg.Asset
	if e.portfolio.HasPosition() {
		return models.Trade{}, apperrors.NewTradeError("buy", asset, "position already open", apperrors.ErrPositionOpen)
	}

	fill := ComputeBuy(e.portfolio.Cash, e.cfg.PositionSize, taker, price)
	if fill.Quantity <= 0 {
		return models.Trade{}, apperrors.NewTradeError("buy", asset, "quantity not positive", apperrors.ErrInvalidQuantity)
	}
	if fill.CashToUse > e.portfolio.Cash {
		return models.Trade{}, apperrors.NewTradeError("buy", asset, "spend exceeds cash", apperrors.ErrInsufficientFunds)
	}

	e.portfolio.Cash -= fill.CashToUse
	e.portfolio.Position = &models.Position{
		Asset:        asset,
		Quantity:     fill.Quantity,
		AveragePrice: price,
		EntryTime:    now,
	}
	e.portfolio.TotalValue = e.portfolio.MarkToMarket(price)

	trade := models.Trade{
		ID:        uuid.NewString(),
		Timestamp: now,
		Side:      models.SideBuy,
		Asset:     asset,
		Price:     price,
		Quantity:  fill.Quantity,
		Value:     fill.CashToUse,
		Fee:       fill.Fee,
		Strategy:  string(e.cfg.Strategy),
		Reason:    d.Reason,
	}
	e.trades = append(e.trades, trade)
	return trade, nil
}

func (e *Engine) executeSellLocked(price float64, d models.StrategyDecision, taker float64, now time.Time) (models.Trade, error) {
	pos := e.portfolio.Position
	if pos == nil {
		return models.Trade{}, apperrors.NewTradeError("sell", e.cfg.Asset, "nothing to sell", apperrors.ErrNoPosition)
	}

	fill := ComputeSell(pos.Quantity, pos.AveragePrice, taker, price)
	e.portfolio.Cash += fill.NetValue
	e.portfolio.Position = nil
	e.portfolio.TotalValue = e.portfolio.Cash

	trade := models.Trade{
		ID:        uuid.NewString(),
		Timestamp: now,
		Side:      models.SideSell,
		Asset:     pos.Asset,
		Price:     price,
		Quantity:  pos.Quantity,
		Value:     fill.NetValue,
		Fee:       fill.Fee,
		PnL:       fill.PnL,
		Strategy:  string(e.cfg.Strategy),
		Reason:    d.Reason,
	}
	e.trades = append(e.trades, trade)
	return trade, nil
}

func (e *Engine) capTrades(trades []models.Trade) []models.Trade {
	if n := len(trades); n > e.opts.TradeHistory {
		return append([]models.Trade(nil), trades[n-e.opts.TradeHistory:]...)
	}
	return trades
}

func tradeThought(t models.Trade) string {
	if t.Side == models.SideBuy {
		return "Bought! Reason: " + t.Reason
	}
	sign := "+"
	if t.PnL < 0 {
		sign = "-"
	}
	pnl := t.PnL
	if pnl < 0 {
		pnl = -pnl
	}
	return fmt.Sprintf("Sold! P&L: %s$%.2f. Reason: %s", sign, pnl, t.Reason)
}

func rejectionThought(err error) string {
	switch {
	case apperrors.Is(err, apperrors.ErrPositionOpen):
		return "Position already open, buy skipped"
	case apperrors.Is(err, apperrors.ErrNoPosition):
		return "No open position to sell"
	default:
		return "Insufficient funds for buy order"
	}
}

func rejectionReason(err error) string {
	switch {
	case apperrors.Is(err, apperrors.ErrPositionOpen):
		return "position_open"
	case apperrors.Is(err, apperrors.ErrNoPosition):
		return "no_position"
	case apperrors.Is(err, apperrors.ErrInsufficientFunds):
		return "insufficient_funds"
	default:
		return "invalid_quantity"
	}
}

// setThoughtLocked records a thought and returns the event announcing it.
func (e *Engine) setThoughtLocked(message string, confidence float64) []models.Event {
	now := e.opts.Clock()
	e.thought = models.Thought{Message: message, Confidence: confidence, Timestamp: now}
	t := e.thought
	return []models.Event{{Kind: models.EventThought, AgentID: e.cfg.ID, Timestamp: now, Thought: &t}}
}

func (e *Engine) emit(events ...models.Event) {
	if e.opts.Listener == nil {
		return
	}
	for _, ev := range events {
		e.opts.Listener(ev)
	}
}

func (e *Engine) persistConfig(cfg models.AgentConfig) {
	if e.opts.Persister != nil {
		e.opts.Persister.SaveConfiguration(cfg)
	}
}

// UpdateConfig applies a new configuration. The agent ID, creation time and
// running state are kept. Changing InitialCapital resets the portfolio and
// trade history; changing the asset clears the data window and, if running,
// moves the feed subscription; changing the exchange drops cached fees.
func (e *Engine) UpdateConfig(next models.AgentConfig) error {
	if err := next.Validate(); err != nil {
		return apperrors.NewValidationError("config", next.ID, err.Error())
	}
	strat, err := e.opts.Strategies.Lookup(next.Strategy)
	if err != nil {
		return err
	}
	next.TradingSpeed = models.ParseTradingSpeed(string(next.TradingSpeed))

	e.lifeMu.Lock()
	defer e.lifeMu.Unlock()
	e.tickMu.Lock()
	defer e.tickMu.Unlock()

	e.mu.Lock()
	prev := e.cfg
	next.ID = prev.ID
	next.CreatedAt = prev.CreatedAt
	next.IsActive = prev.IsActive
	e.cfg = next
	e.strat = strat

	if next.InitialCapital != e.portfolio.InitialValue {
		e.portfolio = models.NewPortfolio(next.InitialCapital)
		e.trades = nil
	}
	if next.Exchange != prev.Exchange || next.Asset != prev.Asset {
		e.fees = nil
	}
	if next.Asset != prev.Asset {
		e.window = nil
	}
	running := e.running
	snapshot := e.portfolio.Clone()
	now := e.opts.Clock()
	events := e.setThoughtLocked(fmt.Sprintf("Configuration updated: %s - %s", next.Exchange, next.Asset), 0)
	events = append(events, models.Event{Kind: models.EventPortfolioUpdate, AgentID: next.ID, Timestamp: now, Portfolio: &snapshot})
	e.logger = logging.WithAsset(logging.WithAgent(e.opts.Logger, next.ID, next.Name), next.Asset)
	e.mu.Unlock()

	if running && next.Asset != prev.Asset {
		e.unsubscribe()
		e.subscribe(next.Asset)
	}
	if running && next.TradingSpeed != prev.TradingSpeed {
		if e.cancelTick != nil {
			e.cancelTick()
		}
		e.cancelTick = e.opts.Scheduler.ScheduleRepeating(next.TradingSpeed.Interval(), func() {
			e.Tick(context.Background())
		})
	}

	if p := e.opts.Persister; p != nil {
		p.SaveConfiguration(next)
		p.SavePortfolioState(next.ID, snapshot)
	}
	e.emit(events...)
	return nil
}

// Reset returns the agent to a flat portfolio at its initial capital and
// clears its trade history.
func (e *Engine) Reset() {
	e.tickMu.Lock()
	defer e.tickMu.Unlock()

	e.mu.Lock()
	e.portfolio = models.NewPortfolio(e.cfg.InitialCapital)
	e.trades = nil
	snapshot := e.portfolio.Clone()
	id := e.cfg.ID
	events := e.setThoughtLocked("Trading history cleared", 0)
	events = append(events, models.Event{Kind: models.EventPortfolioUpdate, AgentID: id, Timestamp: e.opts.Clock(), Portfolio: &snapshot})
	e.mu.Unlock()

	if p := e.opts.Persister; p != nil {
		p.SavePortfolioState(id, snapshot)
	}
	e.emit(events...)
}
