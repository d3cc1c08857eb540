// Command switchboard runs the campaign control plane and its billing
// service, and administers accounts, routing tables and tag pools.
package main

import (
	"context"
	"database/sql"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/mattjoyce/switchboard/internal/config"
	"github.com/mattjoyce/switchboard/internal/state"
	"github.com/mattjoyce/switchboard/internal/storage"
)

const version = "0.4.0"

const defaultConfigPath = "switchboard.yaml"

type rootOptions struct {
	configPath string
}

func newRootCommand() *cobra.Command {
	opts := &rootOptions{}

	cmd := &cobra.Command{
		Use:           "switchboard",
		Short:         "SMS/USSD campaign control plane",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	cmd.PersistentFlags().StringVarP(&opts.configPath, "config", "c", envOr("SWITCHBOARD_CONFIG", defaultConfigPath),
		"Path to configuration file")

	cmd.AddCommand(
		newServeCommand(opts),
		newBillingCommand(opts),
		newRoutingCommand(opts),
		newCommandCommand(opts),
		newEventCommand(opts),
		newAccountCommand(opts),
		newConversationCommand(opts),
		newTagsCommand(opts),
		newConfigCommand(opts),
		newWatchCommand(),
		newVersionCommand(),
	)
	return cmd
}

func newVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "switchboard version %s\n", version)
		},
	}
}

func envOr(key, fallback string) string {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		return v
	}
	return fallback
}

func (o *rootOptions) load() (*config.Config, error) {
	cfg, err := config.Load(o.configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	return cfg, nil
}

// openState loads the config and opens the state database.
func (o *rootOptions) openState(ctx context.Context) (*config.Config, *sql.DB, *state.Store, error) {
	cfg, err := o.load()
	if err != nil {
		return nil, nil, nil, err
	}
	db, err := storage.OpenSQLite(ctx, cfg.State.Path)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("failed to open database %s: %w", cfg.State.Path, err)
	}
	return cfg, db, state.NewStore(db), nil
}

func main() {
	if err := newRootCommand().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
