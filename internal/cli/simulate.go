package cli

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/spf13/cobra"

	"papertrader/internal/engine"
	"papertrader/internal/export"
	"papertrader/internal/feed"
	"papertrader/internal/models"
	"papertrader/internal/orchestrator"
	"papertrader/internal/scheduler"
	"papertrader/internal/store"
	"papertrader/pkg/utils"
)

// SimulateOptions configures an offline run.
type SimulateOptions struct {
	Templates []string
	Asset     string
	Steps     int
	Step      time.Duration
	Seed      int64
	Start     time.Time
	// ReplayPath feeds recorded points instead of the random walk.
	ReplayPath string
	// RecordPath saves the generated feed as replayable CSV.
	RecordPath string
	// ExportDir receives one trade CSV per agent.
	ExportDir string
}

// SimulationResult is the outcome of Simulate.
type SimulationResult struct {
	Steps    int                       `json:"steps"`
	Elapsed  string                    `json:"simulatedTime"`
	Ranking  []models.AgentPerformance `json:"ranking"`
	Activity []models.ActivityEntry    `json:"activity"`
	Exported []string                  `json:"exported,omitempty"`
}

// virtualClock is advanced explicitly by the simulation loop.
type virtualClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *virtualClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *virtualClock) Set(t time.Time) {
	c.mu.Lock()
	c.now = t
	c.mu.Unlock()
}

// ingestFanout hands every point synchronously to the agents trading its
// asset so a simulated step is fully absorbed before the scheduler moves.
type ingestFanout struct {
	byAsset map[string][]*engine.Engine
}

func newIngestFanout(mgr *orchestrator.Manager) *ingestFanout {
	f := &ingestFanout{byAsset: make(map[string][]*engine.Engine)}
	for _, cfg := range mgr.Agents() {
		if e, err := mgr.Agent(cfg.ID); err == nil {
			f.byAsset[cfg.Asset] = append(f.byAsset[cfg.Asset], e)
		}
	}
	return f
}

func (f *ingestFanout) Publish(asset string, point models.MarketDataPoint) {
	for _, e := range f.byAsset[asset] {
		e.Ingest(point)
	}
}

// Simulate runs agents created from templates over a simulated or replayed
// feed on virtual time and returns their final ranking.
func Simulate(ctx context.Context, rt *Runtime, sched *scheduler.ManualScheduler, clock *virtualClock, opts SimulateOptions) (*SimulationResult, error) {
	mgr := rt.Manager
	asset := opts.Asset
	for _, name := range opts.Templates {
		cfg, err := mgr.CreateAgent(name, "", &models.ConfigOverrides{Asset: &asset})
		if err != nil {
			return nil, err
		}
		if err := mgr.StartAgent(cfg.ID); err != nil {
			return nil, err
		}
	}
	mgr.StartMonitor(ctx)

	fanout := newIngestFanout(mgr)
	var publisher feed.Publisher = fanout
	var recorder *feed.Recorder
	if opts.RecordPath != "" {
		recorder = feed.NewRecorder(fanout)
		publisher = recorder
	}

	steps := 0
	if opts.ReplayPath != "" {
		rows, err := readReplay(opts.ReplayPath)
		if err != nil {
			return nil, err
		}
		for _, row := range rows {
			if ctx.Err() != nil {
				break
			}
			point, err := row.Point()
			if err != nil {
				return nil, fmt.Errorf("replay row %d: %w", steps+1, err)
			}
			clock.Set(point.Timestamp)
			publisher.Publish(row.Asset, point)
			sched.Advance(opts.Step)
			steps++
		}
	} else {
		prices := rt.Config.Feed.Prices()
		base, ok := prices[asset]
		if !ok {
			return nil, fmt.Errorf("asset %s has no base price in [feed.base_prices]", asset)
		}
		sim := feed.NewSimulator(feed.SimulatorConfig{
			BasePrices: map[string]float64{asset: base},
			Volatility: rt.Config.Feed.Volatility,
			Seed:       opts.Seed,
		}, publisher)
		sim.SetClock(clock.Now)

		for ; steps < opts.Steps && ctx.Err() == nil; steps++ {
			clock.Set(clock.Now().Add(opts.Step))
			sim.Step()
			sched.Advance(opts.Step)
		}
	}

	mgr.MonitorOnce(ctx)
	rt.Writer.Flush()

	result := &SimulationResult{
		Steps:    steps,
		Elapsed:  (time.Duration(steps) * opts.Step).String(),
		Ranking:  mgr.Ranked(),
		Activity: mgr.Activity(0),
	}

	if recorder != nil {
		if err := recorder.Save(opts.RecordPath); err != nil {
			return result, fmt.Errorf("save recording: %w", err)
		}
	}
	if opts.ExportDir != "" {
		files, err := exportAll(mgr, opts.ExportDir, clock.Now())
		result.Exported = files
		if err != nil {
			return result, err
		}
	}
	return result, nil
}

func readReplay(path string) ([]feed.Row, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return feed.ReadCSV(f)
}

func exportAll(mgr *orchestrator.Manager, dir string, now time.Time) ([]string, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, err
	}
	var files []string
	for _, cfg := range mgr.Agents() {
		e, err := mgr.Agent(cfg.ID)
		if err != nil {
			continue
		}
		data, err := export.TradesCSV(e.Trades())
		if errors.Is(err, export.ErrNoTrades) {
			continue
		}
		if err != nil {
			return files, err
		}
		path := filepath.Join(dir, cfg.ID+"-"+export.FileName(now))
		if err := os.WriteFile(path, data, 0644); err != nil {
			return files, err
		}
		files = append(files, path)
	}
	return files, nil
}

func newSimulateCmd(app *App) *cobra.Command {
	var opts SimulateOptions
	var start string

	cmd := &cobra.Command{
		Use:   "simulate",
		Short: "Run agents offline on virtual time and rank them",
		Long: `Creates one agent per template, drives them with a seeded random walk (or
a recorded CSV) on virtual time and prints the leaderboard. Nothing is
persisted; use --export to keep the trades.`,
		Example: `  papertrader simulate --template "Aggressive Momentum" --template "Scalper Pro" --steps 7200
  papertrader simulate --seed 42 --record feed.csv
  papertrader simulate --replay feed.csv --export ./trades`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if opts.Steps <= 0 {
				return fmt.Errorf("--steps must be positive")
			}
			if opts.Step <= 0 {
				opts.Step = app.Config.Feed.Interval
			}
			opts.Start = time.Now().UTC().Truncate(time.Second)
			if start != "" {
				t, err := time.Parse(time.RFC3339, start)
				if err != nil {
					return fmt.Errorf("--start: %w", err)
				}
				opts.Start = t
			}

			sched := scheduler.NewManualScheduler()
			clock := &virtualClock{now: opts.Start}
			output := NewOutput(cmd)

			rt, err := NewRuntime(cmd.Context(), app.Config, app.Logger, RuntimeOptions{
				Store:      store.NewMemoryStore(),
				Scheduler:  sched,
				Clock:      clock.Now,
				DirectFeed: true,
				NotifyW:    cmd.ErrOrStderr(),
			})
			if err != nil {
				return err
			}
			defer rt.Close()

			result, err := Simulate(cmd.Context(), rt, sched, clock, opts)
			if err != nil {
				return err
			}

			if output.IsJSON() {
				return output.JSON(result)
			}
			printSimulation(output, result, opts)
			return nil
		},
	}

	cmd.Flags().StringSliceVar(&opts.Templates, "template", []string{"Balanced Trader"}, "template to instantiate (repeatable)")
	cmd.Flags().StringVar(&opts.Asset, "asset", "BTCUSDT", "asset every agent trades")
	cmd.Flags().IntVar(&opts.Steps, "steps", 3600, "number of simulated feed steps")
	cmd.Flags().DurationVar(&opts.Step, "step", 0, "virtual time per step (default feed.interval)")
	cmd.Flags().Int64Var(&opts.Seed, "seed", 0, "random walk seed (0 = random)")
	cmd.Flags().StringVar(&start, "start", "", "virtual start time, RFC 3339")
	cmd.Flags().StringVar(&opts.ReplayPath, "replay", "", "replay a recorded CSV instead of simulating")
	cmd.Flags().StringVar(&opts.RecordPath, "record", "", "save the simulated feed to a CSV file")
	cmd.Flags().StringVar(&opts.ExportDir, "export", "", "write each agent's trades to this directory")
	return cmd
}

func printSimulation(output *Output, result *SimulationResult, opts SimulateOptions) {
	output.Bold("Simulation: %d steps over %s of %s", result.Steps, result.Elapsed, opts.Asset)
	output.Println()

	table := NewTable(output, "#", "AGENT", "VALUE", "RETURN", "TRADES", "WIN RATE", "PROFIT FACTOR", "MAX DD", "STATUS")
	for i, p := range result.Ranking {
		status := "stopped"
		if p.IsRunning {
			status = "running"
		}
		table.AddRow(
			fmt.Sprintf("%d", i+1),
			p.Name,
			utils.FormatMoney(p.TotalValue),
			output.Percent(p.TotalReturnPercent),
			fmt.Sprintf("%d", p.TotalTrades),
			fmt.Sprintf("%.1f%%", p.WinRate),
			p.ProfitFactor.String(),
			fmt.Sprintf("%.2f%%", p.MaxDrawdown),
			status,
		)
	}
	table.Render()

	var alerts []models.ActivityEntry
	for _, a := range result.Activity {
		if a.Level == models.LevelWarning || a.Level == models.LevelError || a.Level == models.LevelSuccess {
			alerts = append(alerts, a)
		}
	}
	if len(alerts) > 0 {
		output.Println()
		output.Bold("Notable activity")
		for _, a := range alerts {
			switch a.Level {
			case models.LevelError:
				output.Error("  %s", a.Message)
			case models.LevelWarning:
				output.Warning("  %s", a.Message)
			default:
				output.Success("  %s", a.Message)
			}
		}
	}

	for _, f := range result.Exported {
		output.Dim("Exported %s", f)
	}
}
