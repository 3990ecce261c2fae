// Package orchestrator manages a fleet of trading agents: creation from
// templates, lifecycle under a concurrency cap, periodic performance
// monitoring with drawdown enforcement, and the shared activity log.
package orchestrator

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"papertrader/internal/engine"
	apperrors "papertrader/internal/errors"
	"papertrader/internal/logging"
	"papertrader/internal/metrics"
	"papertrader/internal/models"
	"papertrader/internal/performance"
	"papertrader/internal/scheduler"
	"papertrader/internal/store"
	"papertrader/internal/strategy"
)

// Config holds orchestrator limits.
type Config struct {
	MaxRunningAgents int
	MonitorInterval  time.Duration
	ActivityLogSize  int
	EventBuffer      int
	SubscriberBuffer int

	// Engine tuning passed to every agent.
	WindowSize          int
	MinPoints           int
	TradeHistory        int
	ConfidenceThreshold float64
}

// DefaultConfig returns the stock limits.
func DefaultConfig() Config {
	return Config{
		MaxRunningAgents:    10,
		MonitorInterval:     5 * time.Second,
		ActivityLogSize:     store.MaxActivity,
		EventBuffer:         1024,
		SubscriberBuffer:    256,
		WindowSize:          engine.DefaultWindowSize,
		MinPoints:           engine.DefaultMinPoints,
		TradeHistory:        engine.DefaultTradeHistory,
		ConfidenceThreshold: strategy.ConfidenceThreshold,
	}
}

// Persister is the asynchronous write side used by the orchestrator and
// its engines. *store.Writer satisfies it.
type Persister interface {
	engine.Persister
	SaveActivity(entry models.ActivityEntry)
	DeleteAgent(agentID string)
}

// Notifier receives every activity entry and decides what to deliver.
type Notifier interface {
	Notify(ctx context.Context, entry models.ActivityEntry) error
}

// Deps are the collaborators shared by every agent.
type Deps struct {
	Strategies *strategy.Registry
	Fees       engine.FeeResolver
	Feed       engine.Feed
	Scheduler  scheduler.Scheduler
	Persister  Persister
	Store      store.Store
	Notifier   Notifier
	Templates  []models.AgentTemplate
	Logger     zerolog.Logger
	Clock      func() time.Time
}

type agentEntry struct {
	engine  *engine.Engine
	tracker *performance.Tracker
	name    string
	running bool
	// targetHit suppresses repeated profit-target notices until the
	// return falls back under the target.
	targetHit bool
}

// Manager owns every agent. It never calls into an engine while holding
// its own lock.
type Manager struct {
	cfg    Config
	deps   Deps
	logger zerolog.Logger

	mu        sync.RWMutex
	agents    map[string]*agentEntry
	order     []string
	activity  []models.ActivityEntry
	templates *templateSet

	subMu       sync.RWMutex
	subscribers map[int]chan models.Event
	nextSub     int

	events      chan models.Event
	done        chan struct{}
	closeOnce   sync.Once
	dispatchWG  sync.WaitGroup
	monitorMu   sync.Mutex
	stopMonitor scheduler.CancelFunc
}

// New creates a manager and starts its event dispatcher.
func New(cfg Config, deps Deps) *Manager {
	def := DefaultConfig()
	if cfg.MaxRunningAgents <= 0 {
		cfg.MaxRunningAgents = def.MaxRunningAgents
	}
	if cfg.MonitorInterval <= 0 {
		cfg.MonitorInterval = def.MonitorInterval
	}
	if cfg.ActivityLogSize <= 0 {
		cfg.ActivityLogSize = def.ActivityLogSize
	}
	if cfg.EventBuffer <= 0 {
		cfg.EventBuffer = def.EventBuffer
	}
	if cfg.SubscriberBuffer <= 0 {
		cfg.SubscriberBuffer = def.SubscriberBuffer
	}
	if deps.Strategies == nil {
		deps.Strategies = strategy.DefaultRegistry()
	}
	if deps.Scheduler == nil {
		deps.Scheduler = scheduler.NewTickerScheduler(context.Background())
	}
	if deps.Clock == nil {
		deps.Clock = time.Now
	}

	templates := newTemplateSet(DefaultTemplates())
	for _, t := range deps.Templates {
		templates.add(t)
	}

	m := &Manager{
		cfg:         cfg,
		deps:        deps,
		logger:      logging.WithComponent(deps.Logger, "orchestrator"),
		agents:      make(map[string]*agentEntry),
		templates:   templates,
		subscribers: make(map[int]chan models.Event),
		events:      make(chan models.Event, cfg.EventBuffer),
		done:        make(chan struct{}),
	}

	m.dispatchWG.Add(1)
	go m.dispatch()
	return m
}

// =============================================================================
// Events
// =============================================================================

// Subscribe returns a channel of every outbound event and a function that
// detaches it. Slow subscribers miss events rather than block agents.
func (m *Manager) Subscribe() (<-chan models.Event, func()) {
	m.subMu.Lock()
	defer m.subMu.Unlock()

	id := m.nextSub
	m.nextSub++
	ch := make(chan models.Event, m.cfg.SubscriberBuffer)
	m.subscribers[id] = ch

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			m.subMu.Lock()
			defer m.subMu.Unlock()
			if c, ok := m.subscribers[id]; ok {
				delete(m.subscribers, id)
				close(c)
			}
		})
	}
}

func (m *Manager) broadcast(ev models.Event) {
	m.subMu.RLock()
	defer m.subMu.RUnlock()
	for _, ch := range m.subscribers {
		select {
		case ch <- ev:
		default:
			m.logger.Debug().Str("kind", string(ev.Kind)).Msg("Subscriber full, event dropped")
		}
	}
}

// listen is the engine Listener. Trade and portfolio events update the
// agent's drawdown tracker before they are queued, so a peak reached at
// trade time is never missed. It blocks only until the dispatcher takes
// the event, which keeps per-agent ordering intact.
func (m *Manager) listen(ev models.Event) {
	switch ev.Kind {
	case models.EventTrade, models.EventPortfolioUpdate:
		m.recompute(ev.AgentID)
	}
	select {
	case m.events <- ev:
	case <-m.done:
	}
}

// recompute folds the agent's current value into its tracker.
func (m *Manager) recompute(agentID string) {
	m.mu.RLock()
	a, ok := m.agents[agentID]
	var (
		e       *engine.Engine
		tracker *performance.Tracker
	)
	if ok {
		e, tracker = a.engine, a.tracker
	}
	m.mu.RUnlock()
	if !ok {
		return
	}

	perf := performance.Compute(m.snapshot(e), tracker)
	metrics.PortfolioValue.WithLabelValues(agentID).Set(perf.TotalValue)
}

func (m *Manager) dispatch() {
	defer m.dispatchWG.Done()
	for {
		select {
		case <-m.done:
			return
		case ev := <-m.events:
			m.broadcast(ev)
			if ev.Kind == models.EventTrade && ev.Trade != nil {
				m.mu.RLock()
				name := ev.AgentID
				if a, ok := m.agents[ev.AgentID]; ok {
					name = a.name
				}
				m.mu.RUnlock()
				m.logActivity(models.LevelInfo, ev.AgentID, fmt.Sprintf("%s: %s %s @ $%.2f",
					name, strings.ToUpper(string(ev.Trade.Side)), ev.Trade.Asset, ev.Trade.Price))
			}
		}
	}
}

// =============================================================================
// Activity log
// =============================================================================

func (m *Manager) logActivity(level models.LogLevel, agentID, message string) {
	entry := models.ActivityEntry{
		Timestamp: m.deps.Clock(),
		Level:     level,
		AgentID:   agentID,
		Message:   message,
	}

	m.mu.Lock()
	m.activity = append(m.activity, entry)
	if n := len(m.activity); n > m.cfg.ActivityLogSize {
		m.activity = append([]models.ActivityEntry(nil), m.activity[n-m.cfg.ActivityLogSize:]...)
	}
	m.mu.Unlock()

	lvl := zerolog.InfoLevel
	switch level {
	case models.LevelWarning:
		lvl = zerolog.WarnLevel
	case models.LevelError:
		lvl = zerolog.ErrorLevel
	}
	m.logger.WithLevel(lvl).Str("agent_id", agentID).Str("level", string(level)).Msg(message)

	if m.deps.Persister != nil {
		m.deps.Persister.SaveActivity(entry)
	}
	if m.deps.Notifier != nil {
		if err := m.deps.Notifier.Notify(context.Background(), entry); err != nil {
			m.logger.Warn().Err(err).Msg("Notification failed")
		}
	}
	m.broadcast(models.Event{Kind: models.EventActivity, AgentID: agentID, Timestamp: entry.Timestamp, Activity: &entry})
}

// Activity returns up to limit of the most recent entries, oldest first.
// A non-positive limit returns the whole log.
func (m *Manager) Activity(limit int) []models.ActivityEntry {
	m.mu.RLock()
	defer m.mu.RUnlock()

	entries := m.activity
	if limit > 0 && len(entries) > limit {
		entries = entries[len(entries)-limit:]
	}
	return append([]models.ActivityEntry(nil), entries...)
}

// =============================================================================
// Templates
// =============================================================================

// Templates returns the available presets sorted by name.
func (m *Manager) Templates() []models.AgentTemplate {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.templates.list()
}

// AddTemplate registers or replaces a preset.
func (m *Manager) AddTemplate(t models.AgentTemplate) error {
	if strings.TrimSpace(t.Name) == "" {
		return apperrors.NewValidationError("template.name", t.Name, "template name is required")
	}
	if t.Strategy != "" && !t.Strategy.Valid() {
		return fmt.Errorf("%w: %s", apperrors.ErrUnknownStrategy, t.Strategy)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.templates.add(t)
	return nil
}

// =============================================================================
// Lifecycle
// =============================================================================

func (m *Manager) engineOptions() engine.Options {
	return engine.Options{
		Strategies:          m.deps.Strategies,
		Fees:                m.deps.Fees,
		Feed:                m.deps.Feed,
		Scheduler:           m.deps.Scheduler,
		Persister:           m.deps.Persister,
		Listener:            m.listen,
		Logger:              m.deps.Logger,
		Clock:               m.deps.Clock,
		WindowSize:          m.cfg.WindowSize,
		MinPoints:           m.cfg.MinPoints,
		TradeHistory:        m.cfg.TradeHistory,
		ConfidenceThreshold: m.cfg.ConfidenceThreshold,
	}
}

// CreateAgent builds an idle agent from a template. An empty name defaults
// to "<Template> #N"; overrides may be nil.
func (m *Manager) CreateAgent(templateName, name string, overrides *models.ConfigOverrides) (models.AgentConfig, error) {
	m.mu.RLock()
	tmpl, ok := m.templates.get(templateName)
	count := len(m.agents)
	m.mu.RUnlock()
	if !ok {
		return models.AgentConfig{}, fmt.Errorf("%w: Template %q not found", apperrors.ErrTemplateNotFound, templateName)
	}

	cfg := tmpl.Apply(models.DefaultAgentConfig())
	if overrides != nil {
		cfg = overrides.Apply(cfg)
	}
	cfg.ID = uuid.NewString()
	cfg.Name = strings.TrimSpace(name)
	if cfg.Name == "" {
		cfg.Name = fmt.Sprintf("%s #%d", tmpl.Name, count+1)
	}
	cfg.CreatedAt = m.deps.Clock()
	cfg.IsActive = false

	e, err := engine.New(cfg, m.engineOptions())
	if err != nil {
		return models.AgentConfig{}, err
	}
	m.register(e, nil)

	cfg = e.Config()
	if p := m.deps.Persister; p != nil {
		p.SaveConfiguration(cfg)
		p.SavePortfolioState(cfg.ID, e.Portfolio())
	}
	m.logActivity(models.LevelSuccess, cfg.ID, "Created new agent: "+cfg.Name)
	return cfg, nil
}

func (m *Manager) register(e *engine.Engine, tracker *performance.Tracker) {
	cfg := e.Config()
	if tracker == nil {
		tracker = performance.NewTracker(cfg.InitialCapital)
	}

	m.mu.Lock()
	m.agents[cfg.ID] = &agentEntry{engine: e, tracker: tracker, name: cfg.Name}
	m.order = append(m.order, cfg.ID)
	n := len(m.agents)
	m.mu.Unlock()

	metrics.RegisteredAgents.Set(float64(n))
}

func (m *Manager) runningLocked() int {
	n := 0
	for _, a := range m.agents {
		if a.running {
			n++
		}
	}
	return n
}

// StartAgent starts an agent. Starting a running agent is a no-op. At the
// running cap it fails with ErrAgentCapReached and changes nothing.
func (m *Manager) StartAgent(id string) error {
	m.mu.Lock()
	a, ok := m.agents[id]
	if !ok {
		m.mu.Unlock()
		return apperrors.NewAgentError(id, "start", apperrors.ErrAgentNotFound)
	}
	if a.running {
		m.mu.Unlock()
		return nil
	}
	if m.runningLocked() >= m.cfg.MaxRunningAgents {
		m.mu.Unlock()
		err := fmt.Errorf("%w: Maximum concurrent agents (%d) reached", apperrors.ErrAgentCapReached, m.cfg.MaxRunningAgents)
		m.logActivity(models.LevelWarning, id, err.Error())
		return err
	}
	// Reserve the slot before releasing the lock so concurrent starts
	// cannot overshoot the cap.
	a.running = true
	running := m.runningLocked()
	e, name := a.engine, a.name
	m.mu.Unlock()

	e.Start()
	metrics.RunningAgents.Set(float64(running))
	m.logActivity(models.LevelSuccess, id, "Started agent: "+name)
	return nil
}

// StopAgent stops an agent. Stopping an idle agent is a no-op.
func (m *Manager) StopAgent(id string) error {
	name, stopped, err := m.stop(id)
	if err != nil {
		return err
	}
	if stopped {
		m.logActivity(models.LevelWarning, id, "Stopped agent: "+name)
	}
	return nil
}

func (m *Manager) stop(id string) (name string, stopped bool, err error) {
	m.mu.Lock()
	a, ok := m.agents[id]
	if !ok {
		m.mu.Unlock()
		return "", false, apperrors.NewAgentError(id, "stop", apperrors.ErrAgentNotFound)
	}
	if !a.running {
		m.mu.Unlock()
		return a.name, false, nil
	}
	a.running = false
	running := m.runningLocked()
	e, name := a.engine, a.name
	m.mu.Unlock()

	e.Stop()
	metrics.RunningAgents.Set(float64(running))
	return name, true, nil
}

// PauseAll stops every running agent and returns how many were stopped.
func (m *Manager) PauseAll() int {
	n := 0
	for _, id := range m.ids() {
		if _, stopped, err := m.stop(id); err == nil && stopped {
			n++
		}
	}
	m.logActivity(models.LevelWarning, "", "Paused all agents")
	return n
}

// ResumeAll starts idle agents that have AutoRestart set, in creation
// order, until the running cap is reached. It returns how many started.
func (m *Manager) ResumeAll() int {
	n := 0
	for _, id := range m.ids() {
		m.mu.RLock()
		a, ok := m.agents[id]
		eligible := ok && !a.running
		var e *engine.Engine
		if eligible {
			e = a.engine
		}
		m.mu.RUnlock()
		if !eligible || !e.Config().AutoRestart {
			continue
		}

		if err := m.StartAgent(id); err != nil {
			if apperrors.Is(err, apperrors.ErrAgentCapReached) {
				break
			}
			continue
		}
		n++
	}
	m.logActivity(models.LevelSuccess, "", fmt.Sprintf("Resumed %d agents", n))
	return n
}

// DeleteAgent stops and discards an agent and its persisted state.
func (m *Manager) DeleteAgent(id string) error {
	name, _, err := m.stop(id)
	if err != nil {
		return apperrors.NewAgentError(id, "delete", apperrors.ErrAgentNotFound)
	}

	m.mu.Lock()
	delete(m.agents, id)
	for i, v := range m.order {
		if v == id {
			m.order = append(m.order[:i:i], m.order[i+1:]...)
			break
		}
	}
	n := len(m.agents)
	m.mu.Unlock()

	metrics.RegisteredAgents.Set(float64(n))
	metrics.PortfolioValue.DeleteLabelValues(id)
	if m.deps.Persister != nil {
		m.deps.Persister.DeleteAgent(id)
	}
	m.logActivity(models.LevelWarning, id, "Deleted agent: "+name)
	return nil
}

// UpdateAgentConfig applies overrides to a live agent. A capital change
// resets its portfolio, trades and drawdown tracking.
func (m *Manager) UpdateAgentConfig(id string, overrides models.ConfigOverrides) (models.AgentConfig, error) {
	e, tracker, err := m.lookup(id)
	if err != nil {
		return models.AgentConfig{}, err
	}

	prev := e.Config()
	if err := e.UpdateConfig(overrides.Apply(prev)); err != nil {
		return models.AgentConfig{}, err
	}
	next := e.Config()
	if next.InitialCapital != prev.InitialCapital {
		tracker.Reset(next.InitialCapital)
	}

	m.mu.Lock()
	if a, ok := m.agents[id]; ok {
		a.name = next.Name
		a.targetHit = false
	}
	m.mu.Unlock()
	return next, nil
}

// RenameAgent changes an agent's display name.
func (m *Manager) RenameAgent(id, name string) (models.AgentConfig, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return models.AgentConfig{}, apperrors.NewValidationError("name", name, "name is required")
	}
	e, _, err := m.lookup(id)
	if err != nil {
		return models.AgentConfig{}, err
	}
	cfg := e.Config()
	cfg.Name = name
	if err := e.UpdateConfig(cfg); err != nil {
		return models.AgentConfig{}, err
	}

	m.mu.Lock()
	if a, ok := m.agents[id]; ok {
		a.name = name
	}
	m.mu.Unlock()
	return e.Config(), nil
}

// ResetAgent clears an agent's portfolio and trade history.
func (m *Manager) ResetAgent(id string) error {
	e, tracker, err := m.lookup(id)
	if err != nil {
		return err
	}
	e.Reset()
	tracker.Reset(e.Config().InitialCapital)
	return nil
}

func (m *Manager) lookup(id string) (*engine.Engine, *performance.Tracker, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	a, ok := m.agents[id]
	if !ok {
		return nil, nil, apperrors.NewAgentError(id, "lookup", apperrors.ErrAgentNotFound)
	}
	return a.engine, a.tracker, nil
}

// Agent returns the engine for id.
func (m *Manager) Agent(id string) (*engine.Engine, error) {
	e, _, err := m.lookup(id)
	return e, err
}

func (m *Manager) ids() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]string(nil), m.order...)
}

// Agents returns every agent config in creation order.
func (m *Manager) Agents() []models.AgentConfig {
	engines := m.engines()
	out := make([]models.AgentConfig, 0, len(engines))
	for _, e := range engines {
		out = append(out, e.Config())
	}
	return out
}

func (m *Manager) engines() []*engine.Engine {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*engine.Engine, 0, len(m.order))
	for _, id := range m.order {
		out = append(out, m.agents[id].engine)
	}
	return out
}

// RunningCount returns the number of running agents.
func (m *Manager) RunningCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.runningLocked()
}

// =============================================================================
// Monitoring
// =============================================================================

// StartMonitor runs MonitorOnce every MonitorInterval until Close.
func (m *Manager) StartMonitor(ctx context.Context) {
	m.monitorMu.Lock()
	defer m.monitorMu.Unlock()
	if m.stopMonitor != nil {
		return
	}
	m.stopMonitor = m.deps.Scheduler.ScheduleRepeating(m.cfg.MonitorInterval, func() {
		m.MonitorOnce(ctx)
	})
}

// MonitorOnce recomputes performance for running agents and enforces each
// agent's drawdown limit. Profit targets are reported, never enforced.
func (m *Manager) MonitorOnce(ctx context.Context) {
	if ctx.Err() != nil {
		return
	}

	type job struct {
		id      string
		engine  *engine.Engine
		tracker *performance.Tracker
	}
	m.mu.RLock()
	jobs := make([]job, 0, len(m.order))
	for _, id := range m.order {
		if a := m.agents[id]; a.running {
			jobs = append(jobs, job{id: id, engine: a.engine, tracker: a.tracker})
		}
	}
	m.mu.RUnlock()

	for _, j := range jobs {
		perf := performance.Compute(m.snapshot(j.engine), j.tracker)
		metrics.PortfolioValue.WithLabelValues(j.id).Set(perf.TotalValue)
		cfg := j.engine.Config()

		m.mu.Lock()
		a, ok := m.agents[j.id]
		var announceTarget bool
		if ok {
			hit := cfg.ProfitTarget > 0 && perf.TotalReturnPercent > cfg.ProfitTarget
			announceTarget = hit && !a.targetHit
			a.targetHit = hit
		}
		m.mu.Unlock()
		if !ok {
			continue
		}

		if riskErr := checkDrawdown(cfg, perf); riskErr != nil {
			if _, stopped, err := m.stop(j.id); err == nil && stopped {
				m.logger.Debug().Err(riskErr).Str("agent_id", j.id).Msg("Risk limit breached")
				metrics.RiskStops.Inc()
				logging.LogRiskStop(m.logger, j.id, perf.CurrentDrawdown, cfg.MaxDrawdown)
				m.logActivity(models.LevelError, j.id, fmt.Sprintf("%s: Stopped due to max drawdown (%.2f%%)", cfg.Name, perf.CurrentDrawdown))
			}
			continue
		}
		if announceTarget {
			m.logActivity(models.LevelSuccess, j.id, fmt.Sprintf("%s: Profit target reached (%.2f%%)", cfg.Name, perf.TotalReturnPercent))
		}
	}
}

// checkDrawdown returns a RiskError when the agent's current drawdown is
// beyond its configured limit.
func checkDrawdown(cfg models.AgentConfig, perf models.AgentPerformance) error {
	if perf.CurrentDrawdown > cfg.MaxDrawdown {
		return apperrors.NewRiskError("max_drawdown", perf.CurrentDrawdown, cfg.MaxDrawdown, "drawdown limit exceeded")
	}
	return nil
}

func (m *Manager) snapshot(e *engine.Engine) performance.Snapshot {
	return performance.Snapshot{
		Config:     e.Config(),
		Portfolio:  e.Portfolio(),
		Trades:     e.Trades(),
		IsRunning:  e.IsRunning(),
		Thought:    e.Thought(),
		ComputedAt: m.deps.Clock(),
	}
}

// =============================================================================
// Aggregates
// =============================================================================

// Performance computes the current performance of one agent.
func (m *Manager) Performance(id string) (models.AgentPerformance, error) {
	e, tracker, err := m.lookup(id)
	if err != nil {
		return models.AgentPerformance{}, err
	}
	return performance.Compute(m.snapshot(e), tracker), nil
}

// Ranked returns every agent's performance sorted by total return,
// best first.
func (m *Manager) Ranked() []models.AgentPerformance {
	out := make([]models.AgentPerformance, 0)
	for _, id := range m.ids() {
		if perf, err := m.Performance(id); err == nil {
			out = append(out, perf)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].TotalReturnPercent > out[j].TotalReturnPercent
	})
	return out
}

// BestAgent returns the agent with the highest total return.
func (m *Manager) BestAgent() (models.AgentPerformance, bool) {
	ranked := m.Ranked()
	if len(ranked) == 0 {
		return models.AgentPerformance{}, false
	}
	return ranked[0], true
}

// TotalPortfolioValue sums every agent's marked-to-market value.
func (m *Manager) TotalPortfolioValue() float64 {
	var total float64
	for _, e := range m.engines() {
		total += e.Portfolio().TotalValue
	}
	return total
}

// =============================================================================
// Restore and shutdown
// =============================================================================

// Restore recreates agents persisted in the store and restarts those with
// AutoRestart set. It returns how many agents were loaded.
func (m *Manager) Restore(ctx context.Context) (int, error) {
	s := m.deps.Store
	if s == nil {
		return 0, nil
	}

	configs, err := s.ListAgents(ctx)
	if err != nil {
		return 0, apperrors.Wrap(err, "list persisted agents")
	}

	if entries, err := s.GetActivity(ctx, m.cfg.ActivityLogSize); err == nil {
		m.mu.Lock()
		m.activity = append(entries, m.activity...)
		if n := len(m.activity); n > m.cfg.ActivityLogSize {
			m.activity = m.activity[n-m.cfg.ActivityLogSize:]
		}
		m.mu.Unlock()
	}

	loaded := 0
	var restart []string
	for _, cfg := range configs {
		if _, _, err := m.lookup(cfg.ID); err == nil {
			continue
		}

		e, err := engine.New(cfg, m.engineOptions())
		if err != nil {
			m.logger.Warn().Err(err).Str("agent_id", cfg.ID).Msg("Skipping unloadable agent")
			continue
		}

		portfolio, err := s.GetCurrentPortfolio(ctx, cfg.ID)
		if err != nil && !apperrors.Is(err, apperrors.ErrDataNotFound) {
			m.logger.Warn().Err(err).Str("agent_id", cfg.ID).Msg("Portfolio unavailable, starting fresh")
		}
		trades, err := s.GetTrades(ctx, cfg.ID, m.cfg.TradeHistory)
		if err != nil {
			m.logger.Warn().Err(err).Str("agent_id", cfg.ID).Msg("Trade history unavailable")
			trades = nil
		}
		e.Restore(portfolio, trades)

		tracker := performance.NewTracker(cfg.InitialCapital)
		tracker.Observe(e.Portfolio().TotalValue)
		m.register(e, tracker)
		loaded++

		if cfg.AutoRestart {
			restart = append(restart, cfg.ID)
		}
	}

	for _, id := range restart {
		if err := m.StartAgent(id); err != nil {
			m.logger.Warn().Err(err).Str("agent_id", id).Msg("Auto-restart skipped")
		}
	}

	m.logger.Info().Int("agents", loaded).Int("restarted", len(restart)).Msg("Restored agents")
	return loaded, nil
}

// Close stops monitoring, every agent and the event dispatcher.
func (m *Manager) Close() {
	m.closeOnce.Do(func() {
		m.monitorMu.Lock()
		if m.stopMonitor != nil {
			m.stopMonitor()
			m.stopMonitor = nil
		}
		m.monitorMu.Unlock()

		for _, id := range m.ids() {
			_, _, _ = m.stop(id)
		}

		close(m.done)
		m.dispatchWG.Wait()

		m.subMu.Lock()
		for id, ch := range m.subscribers {
			delete(m.subscribers, id)
			close(ch)
		}
		m.subMu.Unlock()
	})
}
