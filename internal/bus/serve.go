package bus

import (
	"context"
	"errors"

	"github.com/nats-io/nats.go"

	"github.com/mattjoyce/switchboard/internal/protocol"
)

// RawDispatcher consumes undecoded payloads. Both dispatch.CommandDispatcher
// and dispatch.EventDispatcher implement it.
type RawDispatcher interface {
	DispatchRaw(ctx context.Context, payload []byte)
}

// Inbox receives a worker's control payloads. worker.ControlPlane
// implements it.
type Inbox interface {
	Deliver(ctx context.Context, payload []byte) error
}

// MessageProcessor bills and forwards messages. billing.Dispatcher
// implements it.
type MessageProcessor interface {
	ProcessInbound(ctx context.Context, msg protocol.Message) error
	ProcessOutbound(ctx context.Context, msg protocol.Message) error
}

// ServeCommands feeds the shared command subject into d.
func (c *Client) ServeCommands(ctx context.Context, subject string, d RawDispatcher) (*nats.Subscription, error) {
	return c.subscribe(ctx, subject, d.DispatchRaw)
}

// ServeEvents feeds the shared event subject into d. Events are dispatched
// one at a time.
func (c *Client) ServeEvents(ctx context.Context, subject string, d RawDispatcher) (*nats.Subscription, error) {
	return c.subscribe(ctx, subject, d.DispatchRaw)
}

// ServeWorker subscribes inbox to the control subject of workerName.
func (c *Client) ServeWorker(ctx context.Context, workerName string, inbox Inbox) (*nats.Subscription, error) {
	subject := protocol.ControlSubject(workerName)
	return c.subscribe(ctx, subject, func(ctx context.Context, data []byte) {
		if err := inbox.Deliver(ctx, data); err != nil {
			c.logger.Error("worker rejected command", "worker_name", workerName, "error", err)
		}
	})
}

// ServeBilling feeds the billing inbound and outbound subjects into p.
func (c *Client) ServeBilling(ctx context.Context, subjects Subjects, p MessageProcessor) ([]*nats.Subscription, error) {
	subjects = subjects.WithDefaults()
	in, err := c.subscribe(ctx, subjects.BillingInbound, c.messageHandler(protocol.Inbound, p.ProcessInbound))
	if err != nil {
		return nil, err
	}
	out, err := c.subscribe(ctx, subjects.BillingOutbound, c.messageHandler(protocol.Outbound, p.ProcessOutbound))
	if err != nil {
		return nil, errors.Join(err, in.Unsubscribe())
	}
	return []*nats.Subscription{in, out}, nil
}

func (c *Client) messageHandler(dir protocol.Direction, process func(context.Context, protocol.Message) error) func(context.Context, []byte) {
	return func(ctx context.Context, data []byte) {
		msg, err := protocol.DecodeMessage(data)
		if err != nil {
			c.logger.Error("dropping malformed message", "direction", string(dir), "error", err)
			return
		}
		if err := process(ctx, msg); err != nil {
			c.logger.Error("failed to forward message",
				"direction", string(dir), "message_id", msg.MessageID, "error", err)
		}
	}
}
