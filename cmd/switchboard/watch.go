package main

import (
	"strings"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"

	"github.com/mattjoyce/switchboard/internal/events"
	"github.com/mattjoyce/switchboard/internal/tui/watch"
)

func newWatchCommand() *cobra.Command {
	var (
		apiURL string
		token  string
		types  string
	)
	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Live view of scheduler progress, credit alerts and the event feed",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			m := watch.New(strings.TrimRight(apiURL, "/"), token, events.ParseFilter(types))
			_, err := tea.NewProgram(m, tea.WithAltScreen(), tea.WithContext(cmd.Context())).Run()
			return err
		},
	}
	cmd.Flags().StringVar(&apiURL, "url", envOr("SWITCHBOARD_API_URL", "http://localhost:8081"), "Base URL of the events feed or billing API")
	cmd.Flags().StringVar(&token, "token", envOr("SWITCHBOARD_API_TOKEN", ""), "Bearer token with events:ro scope")
	cmd.Flags().StringVar(&types, "types", "", "Comma separated event type prefixes to follow (default all)")
	return cmd
}
