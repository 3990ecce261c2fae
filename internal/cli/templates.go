package cli

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"papertrader/internal/models"
	"papertrader/internal/orchestrator"
)

// allTemplates returns the built-in templates followed by configured ones.
// A configured template replaces a built-in of the same name.
func allTemplates(configured []models.AgentTemplate) []models.AgentTemplate {
	out := orchestrator.DefaultTemplates()
	for _, t := range configured {
		replaced := false
		for i := range out {
			if strings.EqualFold(out[i].Name, t.Name) {
				out[i], replaced = t, true
			}
		}
		if !replaced {
			out = append(out, t)
		}
	}
	return out
}

func newTemplatesCmd(app *App) *cobra.Command {
	return &cobra.Command{
		Use:   "templates",
		Short: "List agent templates",
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			templates := allTemplates(app.Config.Templates)
			if output.IsJSON() {
				return output.JSON(templates)
			}

			table := NewTable(output, "NAME", "STRATEGY", "RISK", "POSITION", "SPEED", "MAX DD", "TARGET")
			for _, t := range templates {
				table.AddRow(
					t.Name,
					string(t.Strategy),
					string(t.RiskLevel),
					fmt.Sprintf("%.0f%%", t.PositionSize),
					string(t.TradingSpeed),
					fmt.Sprintf("%.0f%%", t.MaxDrawdown),
					fmt.Sprintf("%.0f%%", t.ProfitTarget),
				)
			}
			table.Render()
			return nil
		},
	}
}
