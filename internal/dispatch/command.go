package dispatch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/mattjoyce/switchboard/internal/log"
	"github.com/mattjoyce/switchboard/internal/protocol"
)

// ErrUnroutable is returned by Send when no live inbox exists for the worker.
var ErrUnroutable = errors.New("unroutable command")

// CommandDispatcher forwards control commands to worker inboxes by name.
type CommandDispatcher struct {
	registry *Registry
	logger   *slog.Logger
}

// NewCommandDispatcher creates a CommandDispatcher. A nil logger falls back to
// the component logger.
func NewCommandDispatcher(reg *Registry, logger *slog.Logger) *CommandDispatcher {
	if logger == nil {
		logger = log.WithComponent("command_dispatcher")
	}
	return &CommandDispatcher{registry: reg, logger: logger}
}

// DispatchRaw routes a command payload received from the transport. Failures
// are logged and the payload dropped; nothing is returned to the transport.
func (d *CommandDispatcher) DispatchRaw(ctx context.Context, payload []byte) {
	cmd, err := protocol.DecodeCommand(payload)
	if err != nil {
		d.logger.Error("dropping malformed command",
			"worker_name", cmd.WorkerName,
			"command", cmd.Command,
			"error", err,
		)
		return
	}
	_ = d.route(ctx, cmd, payload)
}

// Send routes a command built in-process. It logs exactly like DispatchRaw and
// additionally reports the outcome to the caller.
func (d *CommandDispatcher) Send(ctx context.Context, cmd protocol.Command) error {
	payload, err := protocol.EncodeCommand(cmd)
	if err != nil {
		d.logger.Error("dropping malformed command",
			"worker_name", cmd.WorkerName,
			"command", cmd.Command,
			"error", err,
		)
		return err
	}
	return d.route(ctx, cmd, payload)
}

func (d *CommandDispatcher) route(ctx context.Context, cmd protocol.Command, payload []byte) error {
	inbox, ok := d.registry.Lookup(cmd.WorkerName)
	if !ok {
		d.logger.Error("unroutable command",
			"worker_name", cmd.WorkerName,
			"command", cmd.Command,
		)
		return fmt.Errorf("%w: worker %q", ErrUnroutable, cmd.WorkerName)
	}
	if err := inbox.Deliver(ctx, payload); err != nil {
		d.logger.Error("command delivery failed",
			"worker_name", cmd.WorkerName,
			"command", cmd.Command,
			"error", err,
		)
		return fmt.Errorf("deliver to %q: %w", cmd.WorkerName, err)
	}
	d.logger.Debug("command routed", "worker_name", cmd.WorkerName, "command", cmd.Command)
	return nil
}
