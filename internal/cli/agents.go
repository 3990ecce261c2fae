package cli

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	apperrors "papertrader/internal/errors"
	"papertrader/internal/export"
	"papertrader/internal/models"
	"papertrader/internal/store"
	"papertrader/pkg/utils"
)

var clockNow = time.Now

// agentRow is the persisted state of one agent.
type agentRow struct {
	Config    models.AgentConfig `json:"config"`
	Portfolio *models.Portfolio  `json:"portfolio,omitempty"`
}

func newAgentsCmd(app *App) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "agents",
		Short: "Inspect persisted agents",
		Long:  "Read agents, portfolios and trades straight from the configured store.",
	}

	withStore := func(cmd *cobra.Command, fn func(ctx context.Context, s store.Store) error) error {
		ctx := cmd.Context()
		s, err := openStore(ctx, app.Config.Store, app.Logger)
		if err != nil {
			return err
		}
		defer s.Close()
		return fn(ctx, s)
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List persisted agents",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStore(cmd, func(ctx context.Context, s store.Store) error {
				configs, err := s.ListAgents(ctx)
				if err != nil {
					return err
				}
				rows := make([]agentRow, 0, len(configs))
				for _, cfg := range configs {
					p, err := s.GetCurrentPortfolio(ctx, cfg.ID)
					if err != nil && !apperrors.Is(err, apperrors.ErrDataNotFound) {
						return err
					}
					rows = append(rows, agentRow{Config: cfg, Portfolio: p})
				}
				return printAgents(NewOutput(cmd), rows)
			})
		},
	})

	var out string
	exportCmd := &cobra.Command{
		Use:   "export <agent-id>",
		Short: "Export an agent's trades as CSV",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStore(cmd, func(ctx context.Context, s store.Store) error {
				output := NewOutput(cmd)
				id := args[0]
				if _, err := s.GetConfiguration(ctx, id); err != nil {
					if apperrors.Is(err, apperrors.ErrDataNotFound) {
						return fmt.Errorf("%w: %s", apperrors.ErrAgentNotFound, id)
					}
					return err
				}
				trades, err := s.GetTrades(ctx, id, 0)
				if err != nil {
					return err
				}
				data, err := export.TradesCSV(trades)
				if errors.Is(err, export.ErrNoTrades) {
					output.Warning("No trades to export")
					return nil
				}
				if err != nil {
					return err
				}

				if out == "-" {
					_, err := cmd.OutOrStdout().Write(data)
					return err
				}
				path := out
				if path == "" {
					path = export.FileName(clockNow())
				}
				if err := os.WriteFile(path, data, 0644); err != nil {
					return err
				}
				output.Success("Exported %d trades to %s", len(trades), path)
				return nil
			})
		},
	}
	exportCmd.Flags().StringVarP(&out, "out", "o", "", "output file, - for stdout (default paper-trades-<ms>.csv)")
	cmd.AddCommand(exportCmd)

	cmd.AddCommand(&cobra.Command{
		Use:   "delete <agent-id>",
		Short: "Delete an agent and its history",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStore(cmd, func(ctx context.Context, s store.Store) error {
				if err := s.DeleteAgent(ctx, args[0]); err != nil {
					return err
				}
				NewOutput(cmd).Success("Deleted agent %s", args[0])
				return nil
			})
		},
	})

	return cmd
}

func printAgents(output *Output, rows []agentRow) error {
	if output.IsJSON() {
		return output.JSON(rows)
	}
	if len(rows) == 0 {
		output.Dim("No agents persisted yet")
		return nil
	}

	table := NewTable(output, "ID", "NAME", "STRATEGY", "ASSET", "VALUE", "P&L", "AUTO")
	for _, r := range rows {
		value, pnl := "-", "-"
		if r.Portfolio != nil {
			value = utils.FormatMoney(r.Portfolio.TotalValue)
			pnl = output.PnL(r.Portfolio.TotalValue - r.Config.InitialCapital)
		}
		auto := ""
		if r.Config.AutoRestart {
			auto = "yes"
		}
		table.AddRow(r.Config.ID, r.Config.Name, string(r.Config.Strategy), r.Config.Asset, value, pnl, auto)
	}
	table.Render()
	return nil
}
