// Package bus carries commands, events, metrics and billed messages over
// NATS subjects.
package bus

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/mattjoyce/switchboard/internal/log"
)

// Subjects names the shared subjects. Worker control inboxes are not listed
// here; they are derived from the worker name.
type Subjects struct {
	Commands        string `yaml:"commands" env:"COMMANDS"`
	Events          string `yaml:"events" env:"EVENTS"`
	Metrics         string `yaml:"metrics" env:"METRICS"`
	BillingInbound  string `yaml:"billing_inbound" env:"BILLING_INBOUND"`
	BillingOutbound string `yaml:"billing_outbound" env:"BILLING_OUTBOUND"`
	ForwardInbound  string `yaml:"forward_inbound" env:"FORWARD_INBOUND"`
	ForwardOutbound string `yaml:"forward_outbound" env:"FORWARD_OUTBOUND"`
}

// DefaultSubjects returns the standard subject layout.
func DefaultSubjects() Subjects {
	return Subjects{
		Commands:        "switchboard.control",
		Events:          "switchboard.events",
		Metrics:         "switchboard.metrics",
		BillingInbound:  "billing.inbound",
		BillingOutbound: "billing.outbound",
		ForwardInbound:  "conversations.inbound",
		ForwardOutbound: "transports.outbound",
	}
}

// WithDefaults fills empty subjects from DefaultSubjects.
func (s Subjects) WithDefaults() Subjects {
	d := DefaultSubjects()
	fill := func(v *string, def string) {
		if *v == "" {
			*v = def
		}
	}
	fill(&s.Commands, d.Commands)
	fill(&s.Events, d.Events)
	fill(&s.Metrics, d.Metrics)
	fill(&s.BillingInbound, d.BillingInbound)
	fill(&s.BillingOutbound, d.BillingOutbound)
	fill(&s.ForwardInbound, d.ForwardInbound)
	fill(&s.ForwardOutbound, d.ForwardOutbound)
	return s
}

// Client is a NATS connection with automatic reconnection.
type Client struct {
	conn   *nats.Conn
	logger *slog.Logger
}

// Connect dials url. Extra options are appended to the reconnect defaults.
func Connect(url string, logger *slog.Logger, opts ...nats.Option) (*Client, error) {
	if logger == nil {
		logger = log.WithComponent("bus")
	}
	defaults := []nats.Option{
		nats.Name("switchboard"),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				logger.Warn("nats disconnected", "error", err)
			}
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			logger.Info("nats reconnected", "url", nc.ConnectedUrl())
		}),
	}
	nc, err := nats.Connect(url, append(defaults, opts...)...)
	if err != nil {
		return nil, fmt.Errorf("connecting to NATS at %s: %w", url, err)
	}
	return &Client{conn: nc, logger: logger}, nil
}

// Conn returns the underlying connection.
func (c *Client) Conn() *nats.Conn { return c.conn }

// Publish sends data on subject.
func (c *Client) Publish(subject string, data []byte) error {
	if err := c.conn.Publish(subject, data); err != nil {
		return fmt.Errorf("publishing to %s: %w", subject, err)
	}
	return nil
}

// Flush waits until the server has processed everything published so far.
func (c *Client) Flush(ctx context.Context) error {
	return c.conn.FlushWithContext(ctx)
}

// Close drains subscriptions and closes the connection.
func (c *Client) Close() error {
	if err := c.conn.Drain(); err != nil {
		c.conn.Close()
		return err
	}
	return nil
}

// subscribe registers fn on subject. Messages on one subscription are
// delivered serially, in publish order. The subscription is flushed so it is
// active on the server when subscribe returns.
func (c *Client) subscribe(ctx context.Context, subject string, fn func(ctx context.Context, data []byte)) (*nats.Subscription, error) {
	sub, err := c.conn.Subscribe(subject, func(msg *nats.Msg) {
		if ctx.Err() != nil {
			return
		}
		fn(ctx, msg.Data)
	})
	if err != nil {
		return nil, fmt.Errorf("subscribing to %s: %w", subject, err)
	}
	if err := c.conn.Flush(); err != nil {
		_ = sub.Unsubscribe()
		return nil, fmt.Errorf("flushing subscription: %w", err)
	}
	c.logger.Debug("subscribed", "subject", subject)
	return sub, nil
}
