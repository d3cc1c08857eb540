package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/mattjoyce/switchboard/internal/api"
	"github.com/mattjoyce/switchboard/internal/events"
	"github.com/mattjoyce/switchboard/internal/ledger"
	"github.com/mattjoyce/switchboard/internal/log"
	"github.com/mattjoyce/switchboard/internal/webhook"
)

func newBillingCommand(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "billing",
		Short: "Billing service and cost model",
	}
	cmd.AddCommand(newBillingServeCommand(opts), newBillingCostCommand(opts))
	return cmd
}

func newBillingServeCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the billing REST service (ledger, routing documents, event feed)",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			cfg, db, store, err := opts.openState(ctx)
			if err != nil {
				return err
			}
			defer db.Close()

			log.Setup(cfg.Service.LogLevel, cfg.Service.LogFormat)
			logger := log.WithComponent("billing_service")
			logger.Info("billing service starting", "version", version, "fingerprint", cfg.Fingerprint)

			hub := events.NewHub(256)
			l := ledger.New(db, ledger.Options{
				CreditFactor:    cfg.Ledger.CreditFactor,
				AlertThresholds: cfg.Ledger.AlertThresholds,
				Events:          hub,
				Logger:          log.WithComponent("ledger"),
			})
			apiCfg := api.Config{
				Listen:     cfg.API.Listen,
				AdminToken: cfg.API.AdminToken,
				Tokens:     cfg.API.Tokens,
			}
			if len(cfg.API.Webhooks) > 0 {
				if apiCfg.Webhooks, err = webhook.New(cfg.API.Webhooks, l, log.WithComponent("webhook")); err != nil {
					return err
				}
				logger.Info("top-up webhooks mounted", "endpoints", apiCfg.Webhooks.Len())
			}
			srv := api.New(apiCfg, l, store, hub, log.WithComponent("api"))

			return serveUntilDone(logger, func() error { return srv.Start(ctx) })
		},
	}
}

func newBillingCostCommand(opts *rootOptions) *cobra.Command {
	var cost ledger.Cost
	cmd := &cobra.Command{
		Use:   "cost <tag-pool> <Inbound|Outbound>",
		Short: "Set the message and session cost of a tag pool in one direction",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			if args[1] != "Inbound" && args[1] != "Outbound" {
				return fmt.Errorf("direction must be Inbound or Outbound, got %q", args[1])
			}
			cfg, db, _, err := opts.openState(cmd.Context())
			if err != nil {
				return err
			}
			defer db.Close()

			cost.TagPool, cost.Direction = args[0], args[1]
			l := ledger.New(db, ledger.Options{CreditFactor: cfg.Ledger.CreditFactor})
			if err := l.SetCost(cmd.Context(), cost); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s %s: message=%d session=%d markup=%g%% (%d credits per message)\n",
				cost.TagPool, cost.Direction, cost.MessageCost, cost.SessionCost, cost.MarkupPercent,
				l.Credits(cost, false))
			return nil
		},
	}
	cmd.Flags().Int64Var(&cost.MessageCost, "message-cost", 0, "Cost per message")
	cmd.Flags().Int64Var(&cost.SessionCost, "session-cost", 0, "Additional cost when a message opens a session")
	cmd.Flags().Float64Var(&cost.MarkupPercent, "markup", 0, "Markup percentage")
	return cmd
}
