package main

import (
	"context"
	"fmt"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"

	"github.com/veo3pk/studio/internal/tui"
)

var tuiRefresh time.Duration

var tuiCmd = &cobra.Command{
	Use:   "tui",
	Short: "Launch the interactive token pool monitor",
	Long:  "Launch a terminal UI showing pool eligibility and per-token health, refreshed in place.",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd, func(ctx context.Context, a *app) error {
			p := tea.NewProgram(
				tui.NewModel(a.services.Tokens, tuiRefresh),
				tea.WithAltScreen(),
				tea.WithContext(ctx),
			)
			if _, err := p.Run(); err != nil {
				return fmt.Errorf("run tui: %w", err)
			}
			return nil
		})
	},
}

func init() {
	tuiCmd.Flags().DurationVar(&tuiRefresh, "refresh", 5*time.Second, "Refresh interval")
	rootCmd.AddCommand(tuiCmd)
}
