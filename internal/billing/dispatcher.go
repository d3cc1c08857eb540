// Package billing meters messages flowing between channels and
// conversations, and enforces the per-account credit cutoff.
//
// Billing failures never block delivery. A message whose metadata cannot be
// resolved, or whose transaction cannot be recorded, is forwarded unbilled.
// The only intentional drop is the outbound credit cutoff.
package billing

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"

	"github.com/mattjoyce/switchboard/internal/events"
	"github.com/mattjoyce/switchboard/internal/log"
	"github.com/mattjoyce/switchboard/internal/protocol"
)

// DefaultCutoffNotice replaces in-session outbound content once an account
// has run out of credit.
const DefaultCutoffNotice = "This service has run out of credits."

// Forwarder delivers messages onwards once billing is done.
type Forwarder interface {
	ForwardInbound(ctx context.Context, msg protocol.Message) error
	ForwardOutbound(ctx context.Context, msg protocol.Message) error
}

// TransactionCreator records billing transactions. *Client implements it.
type TransactionCreator interface {
	CreateTransaction(ctx context.Context, req TransactionRequest) (*TransactionResponse, error)
}

// AccountResolver maps an account key to its billing account number.
type AccountResolver interface {
	AccountNumber(ctx context.Context, accountKey string) (string, error)
}

// Stats counts dispatcher outcomes.
type Stats struct {
	Billed      int64
	Unbilled    int64
	AlreadyPaid int64
	CutoffNotes int64
	CutoffDrops int64
}

// Options configures a Dispatcher.
type Options struct {
	Billing      TransactionCreator
	Forwarder    Forwarder
	Accounts     AccountResolver
	CutoffNotice string
	Events       *events.Hub
	Logger       *slog.Logger
}

// Dispatcher sits between transports and conversations and bills each
// message exactly once.
type Dispatcher struct {
	billing  TransactionCreator
	forward  Forwarder
	accounts AccountResolver
	notice   string
	events   *events.Hub
	logger   *slog.Logger

	billed, unbilled, paid, notes, drops atomic.Int64
}

// NewDispatcher creates a Dispatcher.
func NewDispatcher(opts Options) (*Dispatcher, error) {
	if opts.Billing == nil {
		return nil, fmt.Errorf("billing client is required")
	}
	if opts.Forwarder == nil {
		return nil, fmt.Errorf("forwarder is required")
	}
	if opts.CutoffNotice == "" {
		opts.CutoffNotice = DefaultCutoffNotice
	}
	if opts.Logger == nil {
		opts.Logger = log.WithComponent("billing_dispatcher")
	}
	return &Dispatcher{
		billing:  opts.Billing,
		forward:  opts.Forwarder,
		accounts: opts.Accounts,
		notice:   opts.CutoffNotice,
		events:   opts.Events,
		logger:   opts.Logger,
	}, nil
}

// Stats returns a snapshot of the outcome counters.
func (d *Dispatcher) Stats() Stats {
	return Stats{
		Billed:      d.billed.Load(),
		Unbilled:    d.unbilled.Load(),
		AlreadyPaid: d.paid.Load(),
		CutoffNotes: d.notes.Load(),
		CutoffDrops: d.drops.Load(),
	}
}

// ProcessInbound bills an inbound message and forwards it. Inbound messages
// are forwarded even when the account has no credit left.
func (d *Dispatcher) ProcessInbound(ctx context.Context, msg protocol.Message) error {
	msg, _ = d.meter(ctx, msg, protocol.Inbound)
	return d.forward.ForwardInbound(ctx, msg)
}

// ProcessOutbound bills an outbound message and forwards it, applying the
// credit cutoff policy.
func (d *Dispatcher) ProcessOutbound(ctx context.Context, msg protocol.Message) error {
	msg, cutoff := d.meter(ctx, msg, protocol.Outbound)
	if !cutoff {
		return d.forward.ForwardOutbound(ctx, msg)
	}

	logger := d.logger.With(
		"message_id", msg.MessageID,
		"account_key", msg.Metadata.AccountKey,
		"session_event", string(msg.SessionEvent),
	)
	if !msg.InSession() {
		d.drops.Add(1)
		logger.Info("credit cutoff reached, dropping outbound message")
		d.publish(events.TypeBillingCutoff, msg, "dropped")
		return nil
	}

	msg.Content = d.notice
	msg.SessionEvent = protocol.SessionClose
	d.notes.Add(1)
	logger.Info("credit cutoff reached, closing session")
	d.publish(events.TypeBillingCutoff, msg, "session_closed")
	return d.forward.ForwardOutbound(ctx, msg)
}

// meter records a transaction for msg and reports whether the account hit
// its credit cutoff. Every failure path is logged and the message returned
// unbilled with cutoff false.
func (d *Dispatcher) meter(ctx context.Context, msg protocol.Message, dir protocol.Direction) (protocol.Message, bool) {
	logger := d.logger.With("message_id", msg.MessageID, "direction", string(dir))

	if msg.Metadata.Paid {
		d.paid.Add(1)
		logger.Warn("message already paid, not billing again")
		return msg, false
	}

	req, err := d.buildRequest(ctx, msg, dir)
	if err != nil {
		d.unbilled.Add(1)
		logger.Error("billing metadata error, forwarding unbilled", "error", err)
		return msg, false
	}

	resp, err := d.billing.CreateTransaction(ctx, req)
	if err != nil {
		d.unbilled.Add(1)
		kind := "service"
		var netErr *NetworkError
		if errors.As(err, &netErr) {
			kind = "network"
		}
		logger.Error("billing failed, forwarding unbilled",
			"account_number", req.AccountNumber,
			"kind", kind,
			"error", err,
		)
		return msg, false
	}

	d.billed.Add(1)
	msg.Metadata.Paid = true
	logger.Debug("message billed",
		"account_number", req.AccountNumber,
		"transaction_id", resp.Transaction.ID,
		"credit_amount", resp.Transaction.CreditAmount,
	)
	return msg, resp.CreditCutoffReached
}

func (d *Dispatcher) buildRequest(ctx context.Context, msg protocol.Message, dir protocol.Direction) (TransactionRequest, error) {
	md := msg.Metadata
	if md.AccountKey == "" {
		return TransactionRequest{}, fmt.Errorf("account key missing from message metadata")
	}
	if md.TagPool == "" || md.Tag == "" {
		return TransactionRequest{}, fmt.Errorf("tag missing from message metadata")
	}

	number := md.AccountKey
	if d.accounts != nil {
		n, err := d.accounts.AccountNumber(ctx, md.AccountKey)
		if err != nil {
			return TransactionRequest{}, fmt.Errorf("resolve account %q: %w", md.AccountKey, err)
		}
		number = n
	}

	req := TransactionRequest{
		AccountNumber:    number,
		MessageID:        msg.MessageID,
		TagPoolName:      md.TagPool,
		TagName:          md.Tag,
		Provider:         md.Provider,
		MessageDirection: directionName(dir),
		SessionCreated:   msg.SessionEvent == protocol.SessionNew,
		TransactionType:  TransactionTypeMessage,
	}
	if md.SessionStart != nil && md.SessionEnd != nil {
		length := md.SessionEnd.Sub(*md.SessionStart).Seconds()
		req.SessionLength = &length
	}
	return req, nil
}

func directionName(dir protocol.Direction) string {
	if dir == protocol.Inbound {
		return "Inbound"
	}
	return "Outbound"
}

func (d *Dispatcher) publish(eventType string, msg protocol.Message, action string) {
	if d.events == nil {
		return
	}
	d.events.Publish(eventType, map[string]any{
		"message_id":  msg.MessageID,
		"account_key": msg.Metadata.AccountKey,
		"action":      action,
	})
}
