package state

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

var (
	// ErrNotFound is returned when an account, conversation, or tag is missing.
	ErrNotFound = errors.New("not found")
	// ErrVersionConflict is returned when a routing table was modified
	// concurrently since it was read.
	ErrVersionConflict = errors.New("routing table revision conflict")
	// ErrNoFreeTags is returned when a tag pool is exhausted.
	ErrNoFreeTags = errors.New("no free tags in pool")
)

// ConversationStatus is the lifecycle state of a conversation.
type ConversationStatus string

const (
	StatusDraft    ConversationStatus = "draft"
	StatusRunning  ConversationStatus = "running"
	StatusStopped  ConversationStatus = "stopped"
	StatusArchived ConversationStatus = "archived"
)

// Account is a tenant of the platform.
type Account struct {
	Key       string
	Number    string
	Enabled   bool
	CreatedAt time.Time
}

// Conversation is a campaign instance owned by one account.
type Conversation struct {
	AccountKey string
	Key        string
	Type       string
	Name       string
	Status     ConversationStatus
	BatchIDs   []string
	CreatedAt  time.Time
}

// Running reports whether the conversation is currently running.
func (c Conversation) Running() bool {
	return c.Status == StatusRunning
}

// Store is the SQLite-backed object store for accounts, conversations,
// routing tables, tag pools, and message batch counts.
type Store struct {
	db *sql.DB
}

// NewStore wraps an open database. The schema must already be bootstrapped.
func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

// CreateAccount inserts a new account.
func (s *Store) CreateAccount(ctx context.Context, a Account) error {
	if a.Key == "" || a.Number == "" {
		return fmt.Errorf("account key and number are required")
	}
	created := a.CreatedAt
	if created.IsZero() {
		created = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx, `
INSERT INTO accounts(account_key, account_number, enabled, created_at)
VALUES(?, ?, ?, ?);
`, a.Key, a.Number, a.Enabled, created.Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("insert account: %w", err)
	}
	return nil
}

// SetAccountEnabled enables or disables an account.
func (s *Store) SetAccountEnabled(ctx context.Context, accountKey string, enabled bool) error {
	res, err := s.db.ExecContext(ctx, `UPDATE accounts SET enabled = ? WHERE account_key = ?;`, enabled, accountKey)
	if err != nil {
		return fmt.Errorf("update account: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("account %q: %w", accountKey, ErrNotFound)
	}
	return nil
}

// GetAccount returns one account.
func (s *Store) GetAccount(ctx context.Context, accountKey string) (*Account, error) {
	row := s.db.QueryRowContext(ctx, `
SELECT account_key, account_number, enabled, created_at FROM accounts WHERE account_key = ?;
`, accountKey)
	a, err := scanAccount(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("account %q: %w", accountKey, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("read account: %w", err)
	}
	return a, nil
}

// ListEnabledAccounts returns every enabled account ordered by key.
func (s *Store) ListEnabledAccounts(ctx context.Context) ([]Account, error) {
	rows, err := s.db.QueryContext(ctx, `
SELECT account_key, account_number, enabled, created_at
FROM accounts
WHERE enabled = 1
ORDER BY account_key ASC;
`)
	if err != nil {
		return nil, fmt.Errorf("list accounts: %w", err)
	}
	defer rows.Close()

	var out []Account
	for rows.Next() {
		a, err := scanAccount(rows)
		if err != nil {
			return nil, fmt.Errorf("scan account: %w", err)
		}
		out = append(out, *a)
	}
	return out, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanAccount(row scanner) (*Account, error) {
	var (
		a        Account
		created  string
		enabledI int
	)
	if err := row.Scan(&a.Key, &a.Number, &enabledI, &created); err != nil {
		return nil, err
	}
	a.Enabled = enabledI != 0
	if t, err := time.Parse(time.RFC3339Nano, created); err == nil {
		a.CreatedAt = t
	}
	return &a, nil
}

// PutConversation inserts or replaces a conversation.
func (s *Store) PutConversation(ctx context.Context, c Conversation) error {
	if c.AccountKey == "" || c.Key == "" || c.Type == "" {
		return fmt.Errorf("conversation account, key and type are required")
	}
	if c.Status == "" {
		c.Status = StatusDraft
	}
	batches := c.BatchIDs
	if batches == nil {
		batches = []string{}
	}
	batchJSON, err := json.Marshal(batches)
	if err != nil {
		return fmt.Errorf("marshal batch ids: %w", err)
	}
	created := c.CreatedAt
	if created.IsZero() {
		created = time.Now().UTC()
	}
	_, err = s.db.ExecContext(ctx, `
INSERT INTO conversations(account_key, conversation_key, conversation_type, name, status, batch_ids, created_at)
VALUES(?, ?, ?, ?, ?, ?, ?)
ON CONFLICT(account_key, conversation_key) DO UPDATE SET
  conversation_type = excluded.conversation_type,
  name = excluded.name,
  status = excluded.status,
  batch_ids = excluded.batch_ids;
`, c.AccountKey, c.Key, c.Type, c.Name, string(c.Status), string(batchJSON), created.Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("upsert conversation: %w", err)
	}
	return nil
}

// GetConversation returns one conversation.
func (s *Store) GetConversation(ctx context.Context, accountKey, conversationKey string) (*Conversation, error) {
	row := s.db.QueryRowContext(ctx, `
SELECT account_key, conversation_key, conversation_type, name, status, batch_ids, created_at
FROM conversations
WHERE account_key = ? AND conversation_key = ?;
`, accountKey, conversationKey)
	c, err := scanConversation(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("conversation %s/%s: %w", accountKey, conversationKey, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("read conversation: %w", err)
	}
	return c, nil
}

// ListRunningConversations returns the account's running conversations
// ordered by key.
func (s *Store) ListRunningConversations(ctx context.Context, accountKey string) ([]Conversation, error) {
	rows, err := s.db.QueryContext(ctx, `
SELECT account_key, conversation_key, conversation_type, name, status, batch_ids, created_at
FROM conversations
WHERE account_key = ? AND status = ?
ORDER BY conversation_key ASC;
`, accountKey, string(StatusRunning))
	if err != nil {
		return nil, fmt.Errorf("list conversations: %w", err)
	}
	defer rows.Close()

	var out []Conversation
	for rows.Next() {
		c, err := scanConversation(rows)
		if err != nil {
			return nil, fmt.Errorf("scan conversation: %w", err)
		}
		out = append(out, *c)
	}
	return out, rows.Err()
}

func scanConversation(row scanner) (*Conversation, error) {
	var (
		c         Conversation
		status    string
		batchJSON string
		created   string
	)
	if err := row.Scan(&c.AccountKey, &c.Key, &c.Type, &c.Name, &status, &batchJSON, &created); err != nil {
		return nil, err
	}
	c.Status = ConversationStatus(status)
	if err := json.Unmarshal([]byte(batchJSON), &c.BatchIDs); err != nil {
		return nil, fmt.Errorf("decode batch ids: %w", err)
	}
	if t, err := time.Parse(time.RFC3339Nano, created); err == nil {
		c.CreatedAt = t
	}
	return &c, nil
}

// AccountNumber resolves an account key to its billing account number.
func (s *Store) AccountNumber(ctx context.Context, accountKey string) (string, error) {
	a, err := s.GetAccount(ctx, accountKey)
	if err != nil {
		return "", err
	}
	return a.Number, nil
}
