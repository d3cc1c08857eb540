package main

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/mattjoyce/switchboard/internal/bus"
	"github.com/mattjoyce/switchboard/internal/log"
	"github.com/mattjoyce/switchboard/internal/protocol"
)

const publishTimeout = 5 * time.Second

func newCommandCommand(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "command",
		Short: "Send control commands to workers",
	}
	cmd.AddCommand(newCommandSendCommand(opts))
	return cmd
}

func newCommandSendCommand(opts *rootOptions) *cobra.Command {
	var kwargs []string
	cmd := &cobra.Command{
		Use:     "send <worker> <command>",
		Short:   "Publish a command onto the command bus",
		Example: "  switchboard command send bulk_message_application reconcile_cache --kwarg conversation_key=c1",
		Args:    cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			kw, err := parseKeyValues(kwargs)
			if err != nil {
				return err
			}
			c := protocol.Command{WorkerName: args[0], Command: args[1], Args: []any{}, Kwargs: kw}
			if err := c.Validate(); err != nil {
				return err
			}
			return withPublisher(cmd.Context(), opts, func(ctx context.Context, p *bus.Publisher) error {
				if err := p.Send(ctx, c); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Sent %s to %s.\n", c.Command, c.WorkerName)
				return nil
			})
		},
	}
	cmd.Flags().StringArrayVar(&kwargs, "kwarg", nil, "Keyword argument as key=value (repeatable)")
	return cmd
}

func newEventCommand(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "event",
		Short: "Publish account events",
	}

	var content []string
	publish := &cobra.Command{
		Use:   "publish <account> <conversation> <event-type>",
		Short: "Publish an event onto the event bus",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := parseKeyValues(content)
			if err != nil {
				return err
			}
			ev := protocol.Event{AccountKey: args[0], ConversationKey: args[1], EventType: args[2], Content: c}
			return withPublisher(cmd.Context(), opts, func(ctx context.Context, p *bus.Publisher) error {
				if err := p.PublishEvent(ctx, ev); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Published %s for %s/%s.\n", ev.EventType, ev.AccountKey, ev.ConversationKey)
				return nil
			})
		},
	}
	publish.Flags().StringArrayVar(&content, "content", nil, "Content field as key=value (repeatable)")
	cmd.AddCommand(publish)
	return cmd
}

// withPublisher connects to the configured bus, runs fn and flushes before
// disconnecting.
func withPublisher(ctx context.Context, opts *rootOptions, fn func(context.Context, *bus.Publisher) error) error {
	cfg, err := opts.load()
	if err != nil {
		return err
	}
	log.Setup(cfg.Service.LogLevel, cfg.Service.LogFormat)

	client, err := bus.Connect(cfg.NATS.URL, log.WithComponent("bus"))
	if err != nil {
		return err
	}
	defer func() { _ = client.Close() }()

	ctx, cancel := context.WithTimeout(ctx, publishTimeout)
	defer cancel()
	if err := fn(ctx, bus.NewPublisher(client, cfg.NATS.Subjects)); err != nil {
		return err
	}
	return client.Flush(ctx)
}

// parseKeyValues turns key=value pairs into a map. Values that parse as JSON
// (numbers, booleans, quoted strings, objects) keep their decoded type.
func parseKeyValues(pairs []string) (map[string]any, error) {
	out := make(map[string]any, len(pairs))
	for _, pair := range pairs {
		k, v, ok := strings.Cut(pair, "=")
		if !ok || k == "" {
			return nil, fmt.Errorf("invalid key=value %q", pair)
		}
		var decoded any
		if err := json.Unmarshal([]byte(v), &decoded); err == nil {
			out[k] = decoded
			continue
		}
		out[k] = v
	}
	return out, nil
}
