package dispatch

import (
	"context"
	"fmt"
	"log/slog"
	"maps"

	"github.com/mattjoyce/switchboard/internal/protocol"
)

// Built-in handler names.
const (
	HandlerSendCommand = "send_command"
	HandlerLog         = "log"
)

// CommandSender delivers a command to a worker.
type CommandSender interface {
	Send(ctx context.Context, cmd protocol.Command) error
}

// SendCommandHandler turns an event into a worker command. Handler config:
//
//	worker_name: bulk_message_application   (required)
//	command:     send_message               (required)
//	kwargs:      {...}                      (optional, merged)
//
// The event's account, conversation and content are always passed as kwargs.
func SendCommandHandler(sender CommandSender) Handler {
	return HandlerFunc(func(ctx context.Context, ev protocol.Event, cfg map[string]any) error {
		worker, _ := cfg["worker_name"].(string)
		command, _ := cfg["command"].(string)
		if worker == "" || command == "" {
			return fmt.Errorf("send_command: worker_name and command are required")
		}

		kwargs := make(map[string]any)
		if extra, ok := cfg["kwargs"].(map[string]any); ok {
			maps.Copy(kwargs, extra)
		}
		kwargs["user_account_key"] = ev.AccountKey
		kwargs["conversation_key"] = ev.ConversationKey
		kwargs["event_type"] = ev.EventType
		kwargs["content"] = ev.Content

		return sender.Send(ctx, protocol.Command{
			WorkerName: worker,
			Command:    command,
			Args:       []any{},
			Kwargs:     kwargs,
		})
	})
}

// LogHandler records the event at the configured level ("info" by default).
func LogHandler(logger *slog.Logger) Handler {
	return HandlerFunc(func(ctx context.Context, ev protocol.Event, cfg map[string]any) error {
		level := slog.LevelInfo
		if s, ok := cfg["level"].(string); ok {
			if err := level.UnmarshalText([]byte(s)); err != nil {
				return fmt.Errorf("log: invalid level %q: %w", s, err)
			}
		}
		logger.Log(ctx, level, "account event",
			"account_key", ev.AccountKey,
			"conversation_key", ev.ConversationKey,
			"event_type", ev.EventType,
			"content", ev.Content,
		)
		return nil
	})
}

// RegisterBuiltins adds the built-in handlers to r.
func RegisterBuiltins(r *HandlerRegistry, sender CommandSender, logger *slog.Logger) error {
	if err := r.Register(HandlerSendCommand, SendCommandHandler(sender)); err != nil {
		return err
	}
	return r.Register(HandlerLog, LogHandler(logger))
}
