// Package cli provides the command-line interface for the paper trading
// service.
package cli

import (
	"sort"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"papertrader/internal/config"
	"papertrader/internal/logging"
	"papertrader/pkg/utils"
)

// Version information
const (
	Version   = "0.1.0"
	BuildDate = "2025-01-01"
)

// App holds the application dependencies.
type App struct {
	Config *config.Config
	Logger zerolog.Logger
}

// NewRootCmd creates the root command for the CLI.
func NewRootCmd() *cobra.Command {
	app := &App{Logger: zerolog.Nop()}

	rootCmd := &cobra.Command{
		Use:   "papertrader",
		Short: "Paper Trader - simulated multi-agent crypto trading",
		Long: `Paper Trader runs a fleet of simulated trading agents against live-like
market data. Each agent follows a rule-based strategy, pays realistic
exchange fees and is stopped automatically when it breaches its drawdown
limit. Nothing is ever sent to an exchange.

Use 'papertrader serve' to run the HTTP/WebSocket service and
'papertrader simulate' for a fast offline run.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if cmd.Annotations["skipConfig"] == "true" {
				return nil
			}
			return app.load(cmd)
		},
	}

	rootCmd.PersistentFlags().String("config", "", "config directory (default: ~/.config/papertrader)")
	rootCmd.PersistentFlags().Bool("json", false, "output in JSON format")
	rootCmd.PersistentFlags().Bool("debug", false, "enable debug logging")

	rootCmd.AddCommand(newVersionCmd())
	rootCmd.AddCommand(newConfigCmd(app))
	rootCmd.AddCommand(newServeCmd(app))
	rootCmd.AddCommand(newSimulateCmd(app))
	rootCmd.AddCommand(newTemplatesCmd(app))
	rootCmd.AddCommand(newAgentsCmd(app))

	return rootCmd
}

func (app *App) load(cmd *cobra.Command) error {
	dir, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(dir)
	if err != nil {
		return err
	}
	app.Config = cfg

	lc := cfg.Logging.LogConfig()
	if debug, _ := cmd.Flags().GetBool("debug"); debug {
		lc.Level = "debug"
	}
	app.Logger = logging.NewLoggerWithConfig(lc)
	app.Logger.Debug().Str("path", cfg.Path).Msg("Configuration loaded")
	return nil
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:         "version",
		Short:       "Print version information",
		Annotations: map[string]string{"skipConfig": "true"},
		Run: func(cmd *cobra.Command, args []string) {
			output := NewOutput(cmd)
			if output.IsJSON() {
				output.JSON(map[string]string{
					"version":    Version,
					"build_date": BuildDate,
				})
			} else {
				output.Printf("Paper Trader v%s\n", Version)
				output.Dim("Build date: %s", BuildDate)
			}
		},
	}
}

func newConfigCmd(app *App) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Configuration management",
		Long:  "View and validate application configuration.",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "show",
		Short: "Show current configuration",
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			if output.IsJSON() {
				return output.JSON(app.Config)
			}
			showConfig(output, app.Config)
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "path",
		Short: "Show configuration file path",
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			if output.IsJSON() {
				return output.JSON(map[string]string{"path": app.Config.Path})
			}
			output.Println(app.Config.Path)
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "validate",
		Short: "Validate the configuration file",
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			if err := app.Config.Validate(); err != nil {
				output.Error("Configuration validation failed: %v", err)
				return err
			}
			if output.IsJSON() {
				return output.JSON(map[string]bool{"valid": true})
			}
			output.Success("Configuration is valid")
			return nil
		},
	})

	return cmd
}

func showConfig(output *Output, cfg *config.Config) {
	output.Bold("Engine")
	output.Printf("  Window Size:      %d\n", cfg.Engine.WindowSize)
	output.Printf("  Min Points:       %d\n", cfg.Engine.MinPoints)
	output.Printf("  Confidence:       > %.0f%%\n", cfg.Engine.ConfidenceThreshold)
	output.Println()

	output.Bold("Orchestrator")
	output.Printf("  Max Running:      %d\n", cfg.Orchestrator.MaxRunningAgents)
	output.Printf("  Monitor Interval: %s\n", cfg.Orchestrator.MonitorInterval)
	output.Println()

	output.Bold("Fees")
	output.Printf("  Default Taker:    %s\n", utils.FormatPercent(cfg.Fees.DefaultTaker*100))
	output.Printf("  Static Schedules: %d\n", len(cfg.Fees.Schedule))
	if cfg.Fees.BaseURL != "" {
		output.Printf("  Fee Service:      %s\n", cfg.Fees.BaseURL)
	}
	output.Println()

	output.Bold("Store")
	output.Printf("  Driver:           %s\n", cfg.Store.Driver)
	switch cfg.Store.Driver {
	case "sqlite":
		output.Printf("  Path:             %s\n", cfg.Store.SQLitePath)
	case "postgres":
		output.Printf("  DSN:              (set)\n")
	}
	output.Printf("  Redis Cache:      %v\n", cfg.Store.RedisURL != "")
	output.Println()

	output.Bold("Feed")
	output.Printf("  Source:           %s\n", cfg.Feed.Source)
	if cfg.Feed.Source == "replay" {
		output.Printf("  Replay File:      %s\n", cfg.Feed.ReplayPath)
	} else {
		prices := cfg.Feed.Prices()
		assets := make([]string, 0, len(prices))
		for asset := range prices {
			assets = append(assets, asset)
		}
		sort.Strings(assets)
		for _, asset := range assets {
			output.Printf("  %-17s %s\n", asset+":", utils.FormatMoney(prices[asset]))
		}
	}
	output.Println()

	output.Bold("Server")
	output.Printf("  Enabled:          %v\n", cfg.Server.Enabled)
	output.Printf("  Address:          %s\n", cfg.Server.Addr)
}
