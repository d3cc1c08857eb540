package ledger

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// Topup is a credit purchase reported by a payment provider. Reference is the
// provider's unique id for the payment.
type Topup struct {
	AccountNumber string
	Credits       int64
	Reference     string
	Provider      string
}

// ApplyTopup loads a provider-reported top-up at most once per reference.
// A repeated reference leaves the balance untouched and reports applied=false.
func (l *Ledger) ApplyTopup(ctx context.Context, t Topup) (*Account, bool, error) {
	if t.Credits <= 0 {
		return nil, false, fmt.Errorf("credit amount must be positive")
	}
	if t.Reference == "" {
		return nil, false, fmt.Errorf("top-up reference is required")
	}

	tx, err := l.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, false, fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var exists int
	err = tx.QueryRowContext(ctx, `SELECT 1 FROM billing_accounts WHERE account_number = ?;`, t.AccountNumber).Scan(&exists)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, fmt.Errorf("%q: %w", t.AccountNumber, ErrAccountNotFound)
	}
	if err != nil {
		return nil, false, fmt.Errorf("read billing account: %w", err)
	}

	now := l.now().UTC().Format(time.RFC3339Nano)
	res, err := tx.ExecContext(ctx, `
INSERT OR IGNORE INTO credit_topups(reference, account_number, provider, credits, created_at)
VALUES(?, ?, ?, ?, ?);
`, t.Reference, t.AccountNumber, t.Provider, t.Credits, now)
	if err != nil {
		return nil, false, fmt.Errorf("record top-up: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		_ = tx.Rollback()
		l.logger.Warn("duplicate top-up ignored", "account_number", t.AccountNumber, "reference", t.Reference)
		acct, err := l.GetAccount(ctx, t.AccountNumber)
		return acct, false, err
	}

	if _, err := tx.ExecContext(ctx, `
UPDATE billing_accounts
SET credit_balance = credit_balance + ?, last_topup = credit_balance + ?, alert_level = 0, updated_at = ?
WHERE account_number = ?;
`, t.Credits, t.Credits, now, t.AccountNumber); err != nil {
		return nil, false, fmt.Errorf("load credits: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return nil, false, fmt.Errorf("commit top-up: %w", err)
	}

	l.logger.Info("top-up applied", "account_number", t.AccountNumber, "credits", t.Credits,
		"reference", t.Reference, "provider", t.Provider)
	acct, err := l.GetAccount(ctx, t.AccountNumber)
	return acct, true, err
}
