// Package inspect renders a per-account report: state, running
// conversations with batch counts, routing entries and, when the account has
// a ledger record, its balance and recent transactions.
package inspect

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/mattjoyce/switchboard/internal/billing"
	"github.com/mattjoyce/switchboard/internal/ledger"
	"github.com/mattjoyce/switchboard/internal/protocol"
	"github.com/mattjoyce/switchboard/internal/state"
)

// DefaultTransactions is how many recent transactions a report lists.
const DefaultTransactions = 10

// Report is the structured JSON representation of an account report.
type Report struct {
	AccountKey       string         `json:"account_key"`
	AccountNumber    string         `json:"account_number"`
	Enabled          bool           `json:"enabled"`
	Conversations    []Conversation `json:"conversations"`
	RoutingRevision  int64          `json:"routing_revision"`
	Routes           []string       `json:"routes"`
	RoutingError     string         `json:"routing_error,omitempty"`
	Credit           *Credit        `json:"credit,omitempty"`
	LastTransactions []Transaction  `json:"last_transactions,omitempty"`
}

// Conversation is one running conversation with its message counts.
type Conversation struct {
	Key      string `json:"key"`
	Type     string `json:"type"`
	Name     string `json:"name,omitempty"`
	Sent     int64  `json:"sent"`
	Received int64  `json:"received"`
	Cached   int64  `json:"cached"`
}

// Credit is the ledger view of the account.
type Credit struct {
	Balance    int64 `json:"balance"`
	LastTopup  int64 `json:"last_topup"`
	AlertLevel int   `json:"alert_level"`
}

// Transaction is a condensed ledger transaction.
type Transaction struct {
	MessageID string `json:"message_id"`
	Direction string `json:"direction"`
	TagPool   string `json:"tag_pool"`
	Credits   int64  `json:"credits"`
}

// Source bundles what a report reads. Ledger may be nil.
type Source struct {
	Store  *state.Store
	Ledger *ledger.Ledger
	Limit  int
}

// BuildReport renders a terminal-friendly account report.
func BuildReport(ctx context.Context, src Source, accountKey string) (string, error) {
	report, err := gatherReportData(ctx, src, accountKey)
	if err != nil {
		return "", err
	}

	var out strings.Builder
	fmt.Fprintf(&out, "Account Report\n")
	fmt.Fprintf(&out, "Account     : %s\n", report.AccountKey)
	fmt.Fprintf(&out, "Number      : %s\n", renderUnset(report.AccountNumber, "<none>"))
	fmt.Fprintf(&out, "Enabled     : %t\n", report.Enabled)
	if report.Credit != nil {
		fmt.Fprintf(&out, "Balance     : %d (last top-up %d, alert level %d%%)\n",
			report.Credit.Balance, report.Credit.LastTopup, report.Credit.AlertLevel)
	} else {
		fmt.Fprintf(&out, "Balance     : <no ledger account>\n")
	}
	fmt.Fprintf(&out, "\n")

	fmt.Fprintf(&out, "Conversations (%d running)\n", len(report.Conversations))
	for _, c := range report.Conversations {
		fmt.Fprintf(&out, "  %s [%s] sent=%d received=%d cached=%d\n", c.Key, c.Type, c.Sent, c.Received, c.Cached)
	}
	fmt.Fprintf(&out, "\n")

	fmt.Fprintf(&out, "Routing (revision %d, %d entries)\n", report.RoutingRevision, len(report.Routes))
	if report.RoutingError != "" {
		fmt.Fprintf(&out, "  INVALID: %s\n", report.RoutingError)
	}
	for _, r := range report.Routes {
		fmt.Fprintf(&out, "  %s\n", r)
	}

	if len(report.LastTransactions) > 0 {
		fmt.Fprintf(&out, "\nRecent transactions\n")
		for _, tx := range report.LastTransactions {
			fmt.Fprintf(&out, "  %s %-8s %-10s %d\n", tx.MessageID, tx.Direction, tx.TagPool, tx.Credits)
		}
	}

	return strings.TrimRight(out.String(), "\n") + "\n", nil
}

// BuildJSONReport returns the machine-readable account report.
func BuildJSONReport(ctx context.Context, src Source, accountKey string) (string, error) {
	report, err := gatherReportData(ctx, src, accountKey)
	if err != nil {
		return "", err
	}

	data, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		return "", fmt.Errorf("marshal json report: %w", err)
	}
	return string(data), nil
}

func gatherReportData(ctx context.Context, src Source, accountKey string) (*Report, error) {
	if strings.TrimSpace(accountKey) == "" {
		return nil, fmt.Errorf("account key is required")
	}

	acct, err := src.Store.GetAccount(ctx, accountKey)
	if errors.Is(err, state.ErrNotFound) {
		return nil, fmt.Errorf("account %q not found", accountKey)
	}
	if err != nil {
		return nil, fmt.Errorf("load account %q: %w", accountKey, err)
	}

	report := &Report{
		AccountKey:    acct.Key,
		AccountNumber: acct.Number,
		Enabled:       acct.Enabled,
		Conversations: make([]Conversation, 0),
		Routes:        make([]string, 0),
	}

	convs, err := src.Store.ListRunningConversations(ctx, accountKey)
	if err != nil {
		return nil, fmt.Errorf("list conversations: %w", err)
	}
	for _, c := range convs {
		row, err := conversationRow(ctx, src.Store, c)
		if err != nil {
			return nil, err
		}
		report.Conversations = append(report.Conversations, row)
	}

	table, rev, err := src.Store.GetRoutingTable(ctx, accountKey)
	if err != nil {
		return nil, fmt.Errorf("load routing table: %w", err)
	}
	report.RoutingRevision = rev
	for _, e := range table.Entries() {
		report.Routes = append(report.Routes, fmt.Sprintf("%s[%s] -> %s[%s]",
			e.Source, e.SourceEndpoint, e.Target, e.TargetEndpoint))
	}
	if err := table.Validate(); err != nil {
		report.RoutingError = err.Error()
	}

	if src.Ledger != nil && acct.Number != "" {
		if err := addLedger(ctx, src, acct.Number, report); err != nil {
			return nil, err
		}
	}
	return report, nil
}

func conversationRow(ctx context.Context, store *state.Store, c state.Conversation) (Conversation, error) {
	row := Conversation{Key: c.Key, Type: c.Type, Name: c.Name}
	for _, batch := range c.BatchIDs {
		sent, err := store.CountByDirection(ctx, batch, string(protocol.Outbound))
		if err != nil {
			return row, fmt.Errorf("count batch %s: %w", batch, err)
		}
		received, err := store.CountByDirection(ctx, batch, string(protocol.Inbound))
		if err != nil {
			return row, fmt.Errorf("count batch %s: %w", batch, err)
		}
		cached, err := store.CachedCount(ctx, batch)
		if err != nil {
			return row, fmt.Errorf("cached count %s: %w", batch, err)
		}
		row.Sent += sent
		row.Received += received
		row.Cached += cached
	}
	return row, nil
}

func addLedger(ctx context.Context, src Source, number string, report *Report) error {
	la, err := src.Ledger.GetAccount(ctx, number)
	if errors.Is(err, ledger.ErrAccountNotFound) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("load ledger account: %w", err)
	}
	report.Credit = &Credit{Balance: la.CreditBalance, LastTopup: la.LastTopup, AlertLevel: la.AlertLevel}

	limit := src.Limit
	if limit <= 0 {
		limit = DefaultTransactions
	}
	txs, err := src.Ledger.Transactions(ctx, number, limit)
	if err != nil {
		return fmt.Errorf("list transactions: %w", err)
	}
	for _, tx := range txs {
		report.LastTransactions = append(report.LastTransactions, condense(tx))
	}
	return nil
}

func condense(tx billing.Transaction) Transaction {
	return Transaction{
		MessageID: tx.MessageID,
		Direction: tx.MessageDirection,
		TagPool:   tx.TagPoolName,
		Credits:   tx.CreditAmount,
	}
}

func renderUnset(v, fallback string) string {
	if strings.TrimSpace(v) == "" {
		return fallback
	}
	return v
}
