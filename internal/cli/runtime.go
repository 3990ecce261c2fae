package cli

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog"
	"papertrader/internal/config"
	"papertrader/internal/engine"
	"papertrader/internal/fees"
	"papertrader/internal/feed"
	"papertrader/internal/models"
	"papertrader/internal/notify"
	"papertrader/internal/orchestrator"
	"papertrader/internal/resilience"
	"papertrader/internal/scheduler"
	"papertrader/internal/store"
)

// Runtime is the wired service graph shared by serve and simulate.
type Runtime struct {
	Config    *config.Config
	Logger    zerolog.Logger
	Store     store.Store
	Writer    *store.Writer
	Fees      *fees.Resolver
	Hub       *feed.Hub
	Scheduler scheduler.Scheduler
	Manager   *orchestrator.Manager
	Notifier  *notify.MultiNotifier
}

// RuntimeOptions override pieces of the default wiring.
type RuntimeOptions struct {
	// Store replaces the configured backend.
	Store store.Store
	// Scheduler drives agent ticks and monitoring. Defaults to wall-clock
	// tickers bound to the build context.
	Scheduler scheduler.Scheduler
	Clock     func() time.Time
	// Feed delivers market data to agents. Defaults to a started Hub.
	Feed engine.Feed
	// DirectFeed leaves agents unsubscribed; the caller pushes points
	// with Engine.Ingest.
	DirectFeed bool
	NotifyW    io.Writer
}

// NewRuntime wires every component from cfg. Close releases them in
// reverse order.
func NewRuntime(ctx context.Context, cfg *config.Config, logger zerolog.Logger, opts RuntimeOptions) (*Runtime, error) {
	rt := &Runtime{Config: cfg, Logger: logger}

	rt.Store = opts.Store
	if rt.Store == nil {
		s, err := openStore(ctx, cfg.Store, logger)
		if err != nil {
			return nil, err
		}
		rt.Store = s
	}
	rt.Writer = store.NewWriter(rt.Store, cfg.Store.QueueSize, logger)
	rt.Fees = newFeeResolver(cfg.Fees, logger)

	rt.Scheduler = opts.Scheduler
	if rt.Scheduler == nil {
		rt.Scheduler = scheduler.NewTickerScheduler(ctx)
	}

	feedSrc := opts.Feed
	if feedSrc == nil && !opts.DirectFeed {
		rt.Hub = feed.NewHub()
		rt.Hub.Start(ctx)
		feedSrc = rt.Hub
	}

	deps := orchestrator.Deps{
		Fees:      rt.Fees,
		Feed:      feedSrc,
		Scheduler: rt.Scheduler,
		Persister: rt.Writer,
		Store:     rt.Store,
		Templates: cfg.Templates,
		Logger:    logger,
		Clock:     opts.Clock,
	}
	notifyW := opts.NotifyW
	if notifyW == nil {
		notifyW = os.Stderr
	}
	if n := newNotifier(cfg.Notifications, notifyW, logger); n != nil {
		rt.Notifier = n
		deps.Notifier = n
	}

	rt.Manager = orchestrator.New(orchestratorConfig(cfg), deps)
	return rt, nil
}

// Close stops agents, drains pending writes and closes the store.
func (rt *Runtime) Close() {
	rt.Manager.Close()
	if rt.Hub != nil {
		rt.Hub.Stop()
	}
	rt.Writer.Close()
	if rt.Notifier != nil {
		rt.Notifier.Close()
	}
	if err := rt.Store.Close(); err != nil {
		rt.Logger.Warn().Err(err).Msg("Closing store")
	}
}

func orchestratorConfig(cfg *config.Config) orchestrator.Config {
	oc := orchestrator.DefaultConfig()
	oc.MaxRunningAgents = cfg.Orchestrator.MaxRunningAgents
	oc.MonitorInterval = cfg.Orchestrator.MonitorInterval
	oc.ActivityLogSize = cfg.Orchestrator.ActivityLogSize
	oc.WindowSize = cfg.Engine.WindowSize
	oc.MinPoints = cfg.Engine.MinPoints
	oc.TradeHistory = cfg.Engine.TradeHistory
	oc.ConfidenceThreshold = cfg.Engine.ConfidenceThreshold
	return oc
}

// openStore builds the configured durable backend, optionally behind a
// Redis cache, and lets store.Select fall back to the local snapshot when
// it is unreachable.
func openStore(ctx context.Context, cfg config.StoreConfig, logger zerolog.Logger) (store.Store, error) {
	if cfg.Driver == "memory" {
		return store.NewMemoryStore(), nil
	}

	if cfg.FallbackPath != "" {
		if err := os.MkdirAll(filepath.Dir(cfg.FallbackPath), 0755); err != nil {
			return nil, err
		}
	}
	fallback, err := store.NewLocalStore(cfg.FallbackPath)
	if err != nil {
		return nil, err
	}

	var durable store.Store
	switch cfg.Driver {
	case "sqlite":
		if err := os.MkdirAll(filepath.Dir(cfg.SQLitePath), 0755); err != nil {
			return nil, err
		}
		s, err := store.NewSQLiteStore(cfg.SQLitePath)
		if err != nil {
			logger.Warn().Err(err).Str("path", cfg.SQLitePath).Msg("SQLite unavailable")
		} else {
			durable = s
		}
	case "postgres":
		s, err := store.OpenPostgres(ctx, cfg.PostgresDSN)
		if err != nil {
			logger.Warn().Err(err).Msg("PostgreSQL unavailable")
		} else {
			durable = s
		}
	}

	if durable != nil && cfg.RedisURL != "" {
		rdb, err := store.NewRedisClient(cfg.RedisURL)
		if err != nil {
			logger.Warn().Err(err).Msg("Redis cache disabled")
		} else {
			durable = store.NewCachedStore(durable, rdb, cfg.RedisTTL)
		}
	}

	sel := store.DefaultSelectConfig()
	sel.Logger = logger
	selected := store.Select(ctx, durable, fallback, sel)
	if durable != nil && selected != durable {
		if err := durable.Close(); err != nil {
			logger.Warn().Err(err).Str("backend", durable.Name()).Msg("Closing unused store")
		}
	}
	logger.Info().Str("backend", selected.Name()).Msg("Persistence ready")
	return selected, nil
}

// newFeeResolver consults static schedules first, then the fee service
// behind per-exchange circuit breakers.
func newFeeResolver(cfg config.FeesConfig, logger zerolog.Logger) *fees.Resolver {
	var chain fees.ChainProvider
	if len(cfg.Schedule) > 0 {
		schedules := make(map[string]fees.FeeInfo, len(cfg.Schedule))
		for exchange, s := range cfg.Schedule {
			schedules[exchange] = fees.FeeInfo{MakerRate: s.MakerRate, TakerRate: s.TakerRate, Note: s.Note}
		}
		chain = append(chain, fees.NewStaticProvider(schedules))
	}
	if cfg.BaseURL != "" {
		httpProvider := fees.NewHTTPProvider(cfg.BaseURL, cfg.Timeout)
		chain = append(chain, fees.NewGuardedProvider(httpProvider, resilience.NewRegistry(resilience.DefaultConfig())))
	}

	var provider fees.Provider
	if len(chain) > 0 {
		provider = chain
	}
	return fees.NewResolver(provider, logger).WithFallback(models.ExchangeFees{Maker: cfg.DefaultMaker, Taker: cfg.DefaultTaker})
}

func newNotifier(cfg config.NotificationConfig, out io.Writer, logger zerolog.Logger) *notify.MultiNotifier {
	var channels []notify.Channel
	if cfg.WebhookURL != "" {
		channels = append(channels, notify.NewWebhookNotifier(cfg.WebhookURL, cfg.Timeout))
	}
	if cfg.Terminal {
		channels = append(channels, notify.NewTerminalNotifier(out))
	}
	if len(channels) == 0 {
		return nil
	}
	return notify.NewMultiNotifier(models.LogLevel(cfg.MinLevel), cfg.Timeout, logger, channels...)
}
