package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sort"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/mattjoyce/switchboard/internal/api"
	"github.com/mattjoyce/switchboard/internal/billing"
	"github.com/mattjoyce/switchboard/internal/bus"
	"github.com/mattjoyce/switchboard/internal/config"
	"github.com/mattjoyce/switchboard/internal/dispatch"
	"github.com/mattjoyce/switchboard/internal/events"
	"github.com/mattjoyce/switchboard/internal/lock"
	"github.com/mattjoyce/switchboard/internal/log"
	"github.com/mattjoyce/switchboard/internal/scheduler"
	"github.com/mattjoyce/switchboard/internal/state"
	"github.com/mattjoyce/switchboard/internal/storage"
	"github.com/mattjoyce/switchboard/internal/worker"
)

func newServeCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the control plane: dispatchers, workers, scheduler and billing dispatcher",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := opts.load()
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return runServe(ctx, cfg)
		},
	}
}

func runServe(ctx context.Context, cfg *config.Config) error {
	log.Setup(cfg.Service.LogLevel, cfg.Service.LogFormat)
	logger := log.WithComponent("main")
	logger.Info("switchboard starting", "version", version, "config", cfg.SourcePath, "fingerprint", cfg.Fingerprint)

	pidLock, err := lock.AcquirePIDLock(cfg.Service.PIDFile)
	if err != nil {
		return fmt.Errorf("failed to acquire PID lock %s: %w", cfg.Service.PIDFile, err)
	}
	defer func() { _ = pidLock.Release() }()
	logger.Info("acquired PID lock", "path", pidLock.Path())

	db, err := storage.OpenSQLite(ctx, cfg.State.Path)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	defer db.Close()
	store := state.NewStore(db)

	client, err := bus.Connect(cfg.NATS.URL, log.WithComponent("bus"))
	if err != nil {
		return err
	}
	defer func() { _ = client.Close() }()
	subjects := cfg.NATS.Subjects
	publisher := bus.NewPublisher(client, subjects)
	hub := events.NewHub(256)

	registry := dispatch.NewRegistry()
	for _, name := range knownWorkers(cfg) {
		if err := registry.Register(name, bus.NewSubjectInbox(client, name)); err != nil {
			return err
		}
	}
	commands := dispatch.NewCommandDispatcher(registry, log.WithComponent("command_dispatcher"))
	if _, err := client.ServeCommands(ctx, subjects.Commands, commands); err != nil {
		return err
	}

	handlers := dispatch.NewHandlerRegistry()
	if err := dispatch.RegisterBuiltins(handlers, commands, log.WithComponent("event_log")); err != nil {
		return err
	}
	eventDispatcher := dispatch.NewEventDispatcher(handlers, cfg.HandlerConfig(), log.WithComponent("event_dispatcher"))
	if _, err := client.ServeEvents(ctx, subjects.Events, eventDispatcher); err != nil {
		return err
	}

	planes, err := startWorkers(ctx, cfg, client, store, publisher)
	if err != nil {
		return err
	}
	defer func() {
		for _, cp := range planes {
			cp.Wait()
		}
	}()

	if cfg.Billing.Enabled {
		if err := startBillingDispatcher(ctx, cfg, client, store, publisher, hub); err != nil {
			return err
		}
	}

	if cfg.Scheduler.Enabled {
		sched := scheduler.New(scheduler.Config{
			Interval:    cfg.Scheduler.Interval,
			Granularity: cfg.Scheduler.Granularity,
		}, store, scheduler.WorkerMap(cfg.Scheduler.Workers), commands, hub, log.WithComponent("scheduler"))
		sched.Start(ctx)
		defer sched.Stop()
	}

	if cfg.Service.EventsListen != "" {
		feed := api.New(api.Config{
			Listen:     cfg.Service.EventsListen,
			AdminToken: cfg.API.AdminToken,
			Tokens:     cfg.API.Tokens,
		}, nil, nil, hub, log.WithComponent("events_api"))
		go func() {
			if err := serveUntilDone(log.WithComponent("events_api"), func() error { return feed.Start(ctx) }); err != nil {
				logger.Error("event feed stopped", "error", err)
			}
		}()
	}

	logger.Info("switchboard running (press Ctrl+C to stop)",
		"workers", len(planes), "routed_workers", len(registry.Names()))
	<-ctx.Done()
	logger.Info("received shutdown signal")
	return nil
}

// knownWorkers lists every worker a command may be routed to.
func knownWorkers(cfg *config.Config) []string {
	seen := make(map[string]bool)
	for _, w := range cfg.Workers {
		seen[w] = true
	}
	for _, w := range cfg.Scheduler.Workers {
		seen[w] = true
	}
	for _, acct := range cfg.Accounts {
		for _, chains := range acct.Conversations {
			for _, specs := range chains {
				for _, spec := range specs {
					if w, ok := spec.Config["worker_name"].(string); ok && w != "" {
						seen[w] = true
					}
				}
			}
		}
	}
	out := make([]string, 0, len(seen))
	for w := range seen {
		out = append(out, w)
	}
	sort.Strings(out)
	return out
}

func startWorkers(ctx context.Context, cfg *config.Config, client *bus.Client, store *state.Store, pub *bus.Publisher) ([]*worker.ControlPlane, error) {
	planes := make([]*worker.ControlPlane, 0, len(cfg.Workers))
	for _, name := range cfg.Workers {
		cp, err := worker.New(worker.Options{
			WorkerName:     name,
			Store:          store,
			ReconcileDelta: cfg.Metrics.ReconcileDelta,
			Logger:         log.WithWorker(name),
		})
		if err != nil {
			return nil, err
		}
		if _, err := client.ServeWorker(ctx, name, cp); err != nil {
			return nil, err
		}
		go cp.Metrics().Run(ctx, cfg.Metrics.Interval, pub, log.WithWorker(name))
		planes = append(planes, cp)
	}
	return planes, nil
}

func startBillingDispatcher(ctx context.Context, cfg *config.Config, client *bus.Client, store *state.Store, pub *bus.Publisher, hub *events.Hub) error {
	billingClient := billing.NewClient(cfg.Billing.URL,
		billing.WithToken(cfg.Billing.Token),
		billing.WithRetryDelay(cfg.Billing.RetryDelay),
		billing.WithHTTPClient(&http.Client{Timeout: cfg.Billing.Timeout}),
		billing.WithLogger(log.WithComponent("billing_client")),
	)
	d, err := billing.NewDispatcher(billing.Options{
		Billing:      billingClient,
		Forwarder:    pub,
		Accounts:     store,
		CutoffNotice: cfg.Billing.CutoffNotice,
		Events:       hub,
		Logger:       log.WithComponent("billing_dispatcher"),
	})
	if err != nil {
		return err
	}
	_, err = client.ServeBilling(ctx, cfg.NATS.Subjects, d)
	return err
}

// serveUntilDone runs fn and treats context cancellation as a clean exit.
func serveUntilDone(logger *slog.Logger, fn func() error) error {
	err := fn()
	if err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	logger.Info("stopped")
	return nil
}
