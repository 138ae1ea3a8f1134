package main

import (
	"fmt"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"

	"github.com/fyrsmithlabs/agentjj/internal/monitor"
)

var (
	monitorAPI      string
	monitorInterval time.Duration
)

var monitorCmd = &cobra.Command{
	Use:   "monitor",
	Short: "Terminal dashboard over a running daemon",
	Long: `Render a live terminal dashboard of sessions, operation throughput,
conflicts, and learning sync from a running daemon's observation API.

Press q to quit, r to refresh immediately.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		model := monitor.NewModel(monitorAPI, monitorInterval)
		p := tea.NewProgram(model, tea.WithAltScreen())
		if _, err := p.Run(); err != nil {
			return fmt.Errorf("running dashboard: %w", err)
		}
		return nil
	},
}

func init() {
	monitorCmd.Flags().StringVar(&monitorAPI, "api", "http://127.0.0.1:8611", "observation API base URL")
	monitorCmd.Flags().DurationVar(&monitorInterval, "interval", 5*time.Second, "poll interval")
}
