// Package ledger is the billing service's bookkeeping: credit balances, the
// message cost table and the append-only transaction log.
package ledger

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sort"
	"time"

	"github.com/mattjoyce/switchboard/internal/events"
	"github.com/mattjoyce/switchboard/internal/log"
)

const StatusCompleted = "Completed"

var (
	ErrAccountNotFound = errors.New("billing account not found")
	ErrAccountExists   = errors.New("billing account already exists")
	ErrNoCost          = errors.New("no message cost configured")
)

// Account is a billing account.
type Account struct {
	Number        string    `json:"account_number"`
	CreditBalance int64     `json:"credit_balance"`
	LastTopup     int64     `json:"last_topup"`
	AlertLevel    int       `json:"alert_level"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// Cost is the price of one message through a tag pool in one direction.
// Costs are in the smallest currency unit; markup is a percentage.
type Cost struct {
	TagPool       string  `json:"tag_pool_name"`
	Direction     string  `json:"message_direction"`
	MessageCost   int64   `json:"message_cost"`
	SessionCost   int64   `json:"session_cost"`
	MarkupPercent float64 `json:"markup_percent"`
}

// Options configures a Ledger.
type Options struct {
	// CreditFactor converts cost units to credits.
	CreditFactor float64
	// AlertThresholds are remaining-credit percentages of the last top-up.
	AlertThresholds []int
	Events          *events.Hub
	Logger          *slog.Logger
}

// Ledger records transactions against credit balances in SQLite.
type Ledger struct {
	db         *sql.DB
	factor     float64
	thresholds []int
	events     *events.Hub
	logger     *slog.Logger
	now        func() time.Time
}

// New creates a Ledger over an open, bootstrapped database.
func New(db *sql.DB, opts Options) *Ledger {
	if opts.CreditFactor <= 0 {
		opts.CreditFactor = 1
	}
	thresholds := append([]int(nil), opts.AlertThresholds...)
	sort.Sort(sort.Reverse(sort.IntSlice(thresholds)))
	if opts.Logger == nil {
		opts.Logger = log.WithComponent("ledger")
	}
	return &Ledger{
		db:         db,
		factor:     opts.CreditFactor,
		thresholds: thresholds,
		events:     opts.Events,
		logger:     opts.Logger,
		now:        time.Now,
	}
}

// CreateAccount opens a billing account with a zero balance.
func (l *Ledger) CreateAccount(ctx context.Context, number string) (*Account, error) {
	if number == "" {
		return nil, fmt.Errorf("account number is required")
	}
	now := l.now().UTC()
	res, err := l.db.ExecContext(ctx, `
INSERT OR IGNORE INTO billing_accounts(account_number, credit_balance, last_topup, alert_level, updated_at)
VALUES(?, 0, 0, 0, ?);
`, number, now.Format(time.RFC3339Nano))
	if err != nil {
		return nil, fmt.Errorf("insert billing account: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return nil, fmt.Errorf("%q: %w", number, ErrAccountExists)
	}
	return &Account{Number: number, UpdatedAt: now}, nil
}

// GetAccount returns a billing account.
func (l *Ledger) GetAccount(ctx context.Context, number string) (*Account, error) {
	var (
		a       Account
		updated string
	)
	err := l.db.QueryRowContext(ctx, `
SELECT account_number, credit_balance, last_topup, alert_level, updated_at
FROM billing_accounts WHERE account_number = ?;
`, number).Scan(&a.Number, &a.CreditBalance, &a.LastTopup, &a.AlertLevel, &updated)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%q: %w", number, ErrAccountNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("read billing account: %w", err)
	}
	a.UpdatedAt, _ = time.Parse(time.RFC3339Nano, updated)
	return &a, nil
}

// LoadCredits tops up an account. The top-up becomes the reference for
// low-credit alerts and clears any alert already raised.
func (l *Ledger) LoadCredits(ctx context.Context, number string, credits int64) (*Account, error) {
	if credits <= 0 {
		return nil, fmt.Errorf("credit amount must be positive")
	}
	res, err := l.db.ExecContext(ctx, `
UPDATE billing_accounts
SET credit_balance = credit_balance + ?, last_topup = credit_balance + ?, alert_level = 0, updated_at = ?
WHERE account_number = ?;
`, credits, credits, l.now().UTC().Format(time.RFC3339Nano), number)
	if err != nil {
		return nil, fmt.Errorf("load credits: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return nil, fmt.Errorf("%q: %w", number, ErrAccountNotFound)
	}
	l.logger.Info("credits loaded", "account_number", number, "credits", credits)
	return l.GetAccount(ctx, number)
}

// SetCost upserts the cost of a (tag pool, direction).
func (l *Ledger) SetCost(ctx context.Context, c Cost) error {
	if c.TagPool == "" || (c.Direction != "Inbound" && c.Direction != "Outbound") {
		return fmt.Errorf("cost needs a tag pool and an Inbound/Outbound direction")
	}
	_, err := l.db.ExecContext(ctx, `
INSERT INTO message_costs(tag_pool, direction, message_cost, session_cost, markup_percent)
VALUES(?, ?, ?, ?, ?)
ON CONFLICT(tag_pool, direction) DO UPDATE SET
  message_cost = excluded.message_cost,
  session_cost = excluded.session_cost,
  markup_percent = excluded.markup_percent;
`, c.TagPool, c.Direction, c.MessageCost, c.SessionCost, c.MarkupPercent)
	if err != nil {
		return fmt.Errorf("upsert cost: %w", err)
	}
	return nil
}

// Credits converts a cost to the credits it consumes, rounding up.
func (l *Ledger) Credits(c Cost, sessionCreated bool) int64 {
	base := c.MessageCost
	if sessionCreated {
		base += c.SessionCost
	}
	return int64(math.Ceil(float64(base) * (1 + c.MarkupPercent/100) * l.factor))
}
