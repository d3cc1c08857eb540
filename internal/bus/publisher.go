package bus

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/mattjoyce/switchboard/internal/metrics"
	"github.com/mattjoyce/switchboard/internal/protocol"
)

// SubjectInbox delivers a worker's commands to its control subject
// unmodified.
type SubjectInbox struct {
	client  *Client
	subject string
}

// NewSubjectInbox returns the remote inbox of workerName.
func NewSubjectInbox(c *Client, workerName string) *SubjectInbox {
	return &SubjectInbox{client: c, subject: protocol.ControlSubject(workerName)}
}

// Deliver implements dispatch.Inbox.
func (i *SubjectInbox) Deliver(_ context.Context, payload []byte) error {
	return i.client.Publish(i.subject, payload)
}

// Publisher publishes commands, metric samples and forwarded messages on
// the shared subjects.
type Publisher struct {
	client   *Client
	subjects Subjects
}

// NewPublisher creates a Publisher. Empty subjects take their defaults.
func NewPublisher(c *Client, subjects Subjects) *Publisher {
	return &Publisher{client: c, subjects: subjects.WithDefaults()}
}

// Send publishes cmd on the shared command subject for routing.
func (p *Publisher) Send(_ context.Context, cmd protocol.Command) error {
	data, err := protocol.EncodeCommand(cmd)
	if err != nil {
		return err
	}
	return p.client.Publish(p.subjects.Commands, data)
}

// PublishEvent publishes ev on the shared event subject.
func (p *Publisher) PublishEvent(_ context.Context, ev protocol.Event) error {
	data, err := protocol.EncodeEvent(ev)
	if err != nil {
		return fmt.Errorf("encoding event: %w", err)
	}
	return p.client.Publish(p.subjects.Events, data)
}

// PublishMetrics implements metrics.Publisher. Samples are sent as one JSON
// array per flush.
func (p *Publisher) PublishMetrics(_ context.Context, samples []metrics.Sample) error {
	data, err := json.Marshal(samples)
	if err != nil {
		return fmt.Errorf("encoding metrics: %w", err)
	}
	return p.client.Publish(p.subjects.Metrics, data)
}

// ForwardInbound implements billing.Forwarder.
func (p *Publisher) ForwardInbound(_ context.Context, msg protocol.Message) error {
	return p.publishMessage(p.subjects.ForwardInbound, msg)
}

// ForwardOutbound implements billing.Forwarder.
func (p *Publisher) ForwardOutbound(_ context.Context, msg protocol.Message) error {
	return p.publishMessage(p.subjects.ForwardOutbound, msg)
}

func (p *Publisher) publishMessage(subject string, msg protocol.Message) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("encoding message %s: %w", msg.MessageID, err)
	}
	return p.client.Publish(subject, data)
}
