package cli

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"papertrader/internal/feed"
	"papertrader/internal/server"
)

func newServeCmd(app *App) *cobra.Command {
	var (
		addr     string
		noServer bool
		create   []string
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run agents against the market feed and serve the API",
		Long: `Restores persisted agents, restarts those marked auto-restart, starts the
configured market feed and serves the HTTP API with a WebSocket event
stream until interrupted.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := app.Config
			logger := app.Logger
			if addr != "" {
				cfg.Server.Addr = addr
			}
			if noServer {
				cfg.Server.Enabled = false
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			rt, err := NewRuntime(ctx, cfg, logger, RuntimeOptions{})
			if err != nil {
				return err
			}
			defer rt.Close()

			if _, err := rt.Manager.Restore(ctx); err != nil {
				logger.Warn().Err(err).Msg("Restore failed, starting with an empty fleet")
			}
			for _, name := range create {
				agent, err := rt.Manager.CreateAgent(name, "", nil)
				if err != nil {
					return err
				}
				if err := rt.Manager.StartAgent(agent.ID); err != nil {
					logger.Warn().Err(err).Str("agent", agent.Name).Msg("Created agent not started")
				}
			}
			rt.Manager.StartMonitor(ctx)

			group, gctx := errgroup.WithContext(ctx)

			switch cfg.Feed.Source {
			case "replay":
				group.Go(func() error {
					n, err := feed.ReplayFile(gctx, cfg.Feed.ReplayPath, rt.Hub, cfg.Feed.Pace)
					if err != nil && !errors.Is(err, context.Canceled) {
						return fmt.Errorf("replay %s: %w", cfg.Feed.ReplayPath, err)
					}
					logger.Info().Int("points", n).Msg("Replay finished")
					return nil
				})
			default:
				sim := feed.NewSimulator(feed.SimulatorConfig{
					BasePrices: cfg.Feed.Prices(),
					Volatility: cfg.Feed.Volatility,
					Seed:       cfg.Feed.Seed,
				}, rt.Hub)
				cancel := sim.Run(rt.Scheduler, cfg.Feed.Interval)
				defer cancel()
				logger.Info().Strs("assets", sim.Assets()).Dur("interval", cfg.Feed.Interval).Msg("Simulated feed started")
			}

			if cfg.Server.Enabled {
				srv := server.New(server.Config{
					Addr:      cfg.Server.Addr,
					RateLimit: cfg.Server.RateLimit,
					RateBurst: cfg.Server.RateBurst,
				}, rt.Manager, logger)
				group.Go(func() error {
					return srv.Run(gctx)
				})
			}

			group.Go(func() error {
				<-gctx.Done()
				return nil
			})

			NewOutput(cmd).Info("Paper Trader running with %d agents (%d active). Press Ctrl+C to stop.",
				len(rt.Manager.Agents()), rt.Manager.RunningCount())

			if err := group.Wait(); err != nil && !errors.Is(err, context.Canceled) {
				return err
			}
			logger.Info().Msg("Shutting down")
			return nil
		},
	}

	cmd.Flags().StringVar(&addr, "addr", "", "listen address (overrides server.addr)")
	cmd.Flags().BoolVar(&noServer, "no-server", false, "run agents without the HTTP API")
	cmd.Flags().StringSliceVar(&create, "create", nil, "create and start an agent from each named template")
	return cmd
}
