// Package worker is the command substrate embedded in every account-facing
// worker. It receives control commands from the worker's inbox, guards the
// expensive idempotent ones against concurrent duplicates, and owns the
// worker's metrics.
package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"github.com/mattjoyce/switchboard/internal/log"
	"github.com/mattjoyce/switchboard/internal/metrics"
	"github.com/mattjoyce/switchboard/internal/protocol"
	"github.com/mattjoyce/switchboard/internal/state"
)

const (
	CommandCollectMetrics = "collect_metrics"
	CommandReconcileCache = "reconcile_cache"

	// DefaultReconcileDelta is the relative drift tolerated before a batch
	// count is recomputed.
	DefaultReconcileDelta = 0.01
)

var (
	// ErrUnknownCommand is returned for commands with no registered handler.
	ErrUnknownCommand = errors.New("unknown command")
	// ErrInFlight is returned when a guarded command is already running for
	// the same account and conversation.
	ErrInFlight = errors.New("command already in flight")
)

// Store is the slice of the object store the control plane reads.
type Store interface {
	GetConversation(ctx context.Context, accountKey, conversationKey string) (*state.Conversation, error)
	CountByDirection(ctx context.Context, batchID, direction string) (int64, error)
	Count(ctx context.Context, batchID string) (int64, error)
	CachedCount(ctx context.Context, batchID string) (int64, error)
	Recompute(ctx context.Context, batchID string) (int64, error)
}

// CommandFunc handles a worker-specific command.
type CommandFunc func(ctx context.Context, cmd protocol.Command) error

// Options configures a ControlPlane.
type Options struct {
	WorkerName     string
	Store          Store
	Metrics        *metrics.Aggregator
	ReconcileDelta float64
	Logger         *slog.Logger
}

type convKey struct {
	account      string
	conversation string
}

// ControlPlane processes control commands for one worker.
type ControlPlane struct {
	name    string
	store   Store
	metrics *metrics.Aggregator
	delta   float64
	logger  *slog.Logger

	mu       sync.Mutex
	inFlight map[string]map[convKey]struct{}
	handlers map[string]CommandFunc

	wg sync.WaitGroup
}

// New creates a ControlPlane with the built-in commands registered.
func New(opts Options) (*ControlPlane, error) {
	if opts.WorkerName == "" {
		return nil, fmt.Errorf("worker name is required")
	}
	if opts.Store == nil {
		return nil, fmt.Errorf("worker %q: store is required", opts.WorkerName)
	}
	if opts.Metrics == nil {
		opts.Metrics = metrics.NewAggregator()
	}
	if opts.ReconcileDelta <= 0 {
		opts.ReconcileDelta = DefaultReconcileDelta
	}
	if opts.Logger == nil {
		opts.Logger = log.WithWorker(opts.WorkerName)
	}

	cp := &ControlPlane{
		name:     opts.WorkerName,
		store:    opts.Store,
		metrics:  opts.Metrics,
		delta:    opts.ReconcileDelta,
		logger:   opts.Logger,
		inFlight: make(map[string]map[convKey]struct{}),
		handlers: make(map[string]CommandFunc),
	}
	cp.handlers[CommandCollectMetrics] = cp.guarded(CommandCollectMetrics, cp.collectMetricsCommand)
	cp.handlers[CommandReconcileCache] = cp.guarded(CommandReconcileCache, cp.reconcileCacheCommand)
	return cp, nil
}

// Name returns the worker name.
func (cp *ControlPlane) Name() string { return cp.name }

// Metrics returns the worker's metric aggregator.
func (cp *ControlPlane) Metrics() *metrics.Aggregator { return cp.metrics }

// Handle registers a worker-specific command. Built-in commands cannot be
// replaced.
func (cp *ControlPlane) Handle(command string, fn CommandFunc) error {
	if command == "" || fn == nil {
		return fmt.Errorf("command name and handler are required")
	}
	cp.mu.Lock()
	defer cp.mu.Unlock()
	if _, exists := cp.handlers[command]; exists {
		return fmt.Errorf("command %q already registered", command)
	}
	cp.handlers[command] = fn
	return nil
}

// Commands returns the registered command names, sorted.
func (cp *ControlPlane) Commands() []string {
	cp.mu.Lock()
	defer cp.mu.Unlock()
	out := make([]string, 0, len(cp.handlers))
	for name := range cp.handlers {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// ProcessCommand runs one command to completion.
func (cp *ControlPlane) ProcessCommand(ctx context.Context, cmd protocol.Command) error {
	cp.mu.Lock()
	fn, ok := cp.handlers[cmd.Command]
	cp.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: %q", ErrUnknownCommand, cmd.Command)
	}
	return fn(ctx, cmd)
}

// Deliver implements dispatch.Inbox. The payload is decoded and processed in
// the background so a slow command does not hold up the inbox; failures are
// logged.
func (cp *ControlPlane) Deliver(ctx context.Context, payload []byte) error {
	cmd, err := protocol.DecodeCommand(payload)
	if err != nil {
		cp.logger.Error("dropping malformed command", "error", err)
		return nil
	}
	if cmd.WorkerName != cp.name {
		cp.logger.Warn("command addressed to another worker", "target", cmd.WorkerName, "command", cmd.Command)
	}

	cp.wg.Add(1)
	go func() {
		defer cp.wg.Done()
		if err := cp.ProcessCommand(context.WithoutCancel(ctx), cmd); err != nil && !errors.Is(err, ErrInFlight) {
			cp.logger.Error("command failed",
				"command", cmd.Command,
				"account_key", cmd.Kwarg("user_account_key"),
				"conversation_key", cmd.Kwarg("conversation_key"),
				"error", err,
			)
		}
	}()
	return nil
}

// Wait blocks until every command started by Deliver has finished.
func (cp *ControlPlane) Wait() {
	cp.wg.Wait()
}

// guarded wraps fn so at most one invocation per (account, conversation) runs
// at a time. A duplicate is logged and dropped.
func (cp *ControlPlane) guarded(command string, fn func(ctx context.Context, account, conversation string, cmd protocol.Command) error) CommandFunc {
	return func(ctx context.Context, cmd protocol.Command) error {
		account := cmd.Kwarg("user_account_key")
		conversation := cmd.Kwarg("conversation_key")
		if account == "" || conversation == "" {
			return fmt.Errorf("%s: user_account_key and conversation_key are required", command)
		}
		key := convKey{account: account, conversation: conversation}

		cp.mu.Lock()
		running, ok := cp.inFlight[command]
		if !ok {
			running = make(map[convKey]struct{})
			cp.inFlight[command] = running
		}
		if _, busy := running[key]; busy {
			cp.mu.Unlock()
			cp.logger.Info("dropping duplicate command",
				"command", command,
				"account_key", account,
				"conversation_key", conversation,
			)
			return ErrInFlight
		}
		running[key] = struct{}{}
		cp.mu.Unlock()

		defer func() {
			cp.mu.Lock()
			delete(running, key)
			cp.mu.Unlock()
		}()
		return fn(ctx, account, conversation, cmd)
	}
}

// InFlight reports whether a guarded command is running for the pair.
func (cp *ControlPlane) InFlight(command, accountKey, conversationKey string) bool {
	cp.mu.Lock()
	defer cp.mu.Unlock()
	_, ok := cp.inFlight[command][convKey{account: accountKey, conversation: conversationKey}]
	return ok
}
