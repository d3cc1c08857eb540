package ledger

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/mattjoyce/switchboard/internal/billing"
	"github.com/mattjoyce/switchboard/internal/events"
)

// CreateTransaction records a message transaction and debits the account in
// one SQL transaction. Recording the same message twice returns the original
// transaction without debiting again. The response flags a credit cutoff
// once the balance is zero or below.
func (l *Ledger) CreateTransaction(ctx context.Context, req billing.TransactionRequest) (*billing.TransactionResponse, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}

	tx, err := l.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	existing, err := findTransaction(ctx, tx, req.AccountNumber, req.MessageID)
	if err != nil {
		return nil, err
	}

	var (
		balance, lastTopup int64
		alertLevel         int
	)
	err = tx.QueryRowContext(ctx, `
SELECT credit_balance, last_topup, alert_level FROM billing_accounts WHERE account_number = ?;
`, req.AccountNumber).Scan(&balance, &lastTopup, &alertLevel)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%q: %w", req.AccountNumber, ErrAccountNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("read balance: %w", err)
	}

	if existing != nil {
		l.logger.Info("duplicate transaction ignored", "account_number", req.AccountNumber, "message_id", req.MessageID)
		return &billing.TransactionResponse{Transaction: *existing, CreditCutoffReached: balance <= 0}, nil
	}

	var cost Cost
	err = tx.QueryRowContext(ctx, `
SELECT message_cost, session_cost, markup_percent FROM message_costs WHERE tag_pool = ? AND direction = ?;
`, req.TagPoolName, req.MessageDirection).Scan(&cost.MessageCost, &cost.SessionCost, &cost.MarkupPercent)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%s/%s: %w", req.TagPoolName, req.MessageDirection, ErrNoCost)
	}
	if err != nil {
		return nil, fmt.Errorf("read cost: %w", err)
	}

	credits := l.Credits(cost, req.SessionCreated)
	now := l.now().UTC()
	t := billing.Transaction{
		ID:               uuid.New().String(),
		AccountNumber:    req.AccountNumber,
		MessageID:        req.MessageID,
		TagPoolName:      req.TagPoolName,
		TagName:          req.TagName,
		Provider:         req.Provider,
		MessageDirection: req.MessageDirection,
		SessionCreated:   req.SessionCreated,
		SessionLength:    req.SessionLength,
		MessageCost:      cost.MessageCost,
		SessionCost:      cost.SessionCost,
		Markup:           cost.MarkupPercent,
		CreditAmount:     -credits,
		Status:           StatusCompleted,
		Created:          now,
	}

	_, err = tx.ExecContext(ctx, `
INSERT INTO transactions(id, account_number, message_id, tag_pool, tag, provider, direction,
  session_created, session_length, message_cost, session_cost, markup_percent, credit_amount, status, created_at)
VALUES(?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?);
`, t.ID, t.AccountNumber, t.MessageID, t.TagPoolName, t.TagName, t.Provider, t.MessageDirection,
		t.SessionCreated, nullableFloat(t.SessionLength), t.MessageCost, t.SessionCost, t.Markup, t.CreditAmount, t.Status,
		now.Format(time.RFC3339Nano))
	if err != nil {
		return nil, fmt.Errorf("insert transaction: %w", err)
	}

	newBalance := balance - credits
	newLevel := l.alertLevel(newBalance, lastTopup, alertLevel)
	_, err = tx.ExecContext(ctx, `
UPDATE billing_accounts SET credit_balance = ?, alert_level = ?, updated_at = ? WHERE account_number = ?;
`, newBalance, newLevel, now.Format(time.RFC3339Nano), req.AccountNumber)
	if err != nil {
		return nil, fmt.Errorf("debit account: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit tx: %w", err)
	}

	if newLevel > alertLevel {
		l.raiseAlert(req.AccountNumber, l.thresholds[newLevel-1], newBalance, lastTopup)
	}
	cutoff := newBalance <= 0
	if cutoff && balance > 0 {
		l.logger.Warn("credit cutoff reached", "account_number", req.AccountNumber, "balance", newBalance)
	}
	return &billing.TransactionResponse{Transaction: t, CreditCutoffReached: cutoff}, nil
}

// alertLevel returns how many thresholds the balance has fallen below. The
// level never decreases between top-ups, so hovering around a threshold
// raises one alert.
func (l *Ledger) alertLevel(balance, lastTopup int64, current int) int {
	if lastTopup <= 0 {
		return current
	}
	level := 0
	for i, pct := range l.thresholds {
		if balance*100 < lastTopup*int64(pct) {
			level = i + 1
		}
	}
	return max(level, current)
}

func (l *Ledger) raiseAlert(number string, threshold int, balance, lastTopup int64) {
	l.logger.Warn("low credit",
		"account_number", number,
		"threshold_percent", threshold,
		"balance", balance,
		"last_topup", lastTopup,
	)
	if l.events != nil {
		l.events.Publish(events.TypeLowCredit, map[string]any{
			"account_number":    number,
			"threshold_percent": threshold,
			"balance":           balance,
		})
	}
}

func findTransaction(ctx context.Context, tx *sql.Tx, number, messageID string) (*billing.Transaction, error) {
	var (
		t       billing.Transaction
		length  sql.NullFloat64
		created string
	)
	err := tx.QueryRowContext(ctx, `
SELECT id, account_number, message_id, tag_pool, tag, provider, direction, session_created, session_length,
  message_cost, session_cost, markup_percent, credit_amount, status, created_at
FROM transactions WHERE account_number = ? AND message_id = ?;
`, number, messageID).Scan(&t.ID, &t.AccountNumber, &t.MessageID, &t.TagPoolName, &t.TagName, &t.Provider,
		&t.MessageDirection, &t.SessionCreated, &length, &t.MessageCost, &t.SessionCost, &t.Markup,
		&t.CreditAmount, &t.Status, &created)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read transaction: %w", err)
	}
	if length.Valid {
		v := length.Float64
		t.SessionLength = &v
	}
	t.Created, _ = time.Parse(time.RFC3339Nano, created)
	return &t, nil
}

// Transactions lists an account's transactions, newest first.
func (l *Ledger) Transactions(ctx context.Context, number string, limit int) ([]billing.Transaction, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := l.db.QueryContext(ctx, `
SELECT id, message_id, tag_pool, tag, provider, direction, session_created, credit_amount, status, created_at
FROM transactions WHERE account_number = ?
ORDER BY rowid DESC
LIMIT ?;
`, number, limit)
	if err != nil {
		return nil, fmt.Errorf("list transactions: %w", err)
	}
	defer rows.Close()

	var out []billing.Transaction
	for rows.Next() {
		t := billing.Transaction{AccountNumber: number}
		var created string
		if err := rows.Scan(&t.ID, &t.MessageID, &t.TagPoolName, &t.TagName, &t.Provider, &t.MessageDirection,
			&t.SessionCreated, &t.CreditAmount, &t.Status, &created); err != nil {
			return nil, fmt.Errorf("scan transaction: %w", err)
		}
		t.Created, _ = time.Parse(time.RFC3339Nano, created)
		out = append(out, t)
	}
	return out, rows.Err()
}

func nullableFloat(p *float64) any {
	if p == nil {
		return nil
	}
	return *p
}
