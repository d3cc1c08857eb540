package storage

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

// OpenSQLite opens (and creates if needed) the SQLite database at path and
// ensures required tables exist.
func OpenSQLite(ctx context.Context, path string) (*sql.DB, error) {
	if path == "" {
		return nil, fmt.Errorf("sqlite path is empty")
	}
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("create sqlite directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// One writer at a time; SQLite serializes writes anyway and this avoids
	// SQLITE_BUSY between pooled connections.
	db.SetMaxOpenConns(1)

	pctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if _, err := db.ExecContext(pctx, "PRAGMA foreign_keys = ON;"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("enable foreign_keys: %w", err)
	}
	if _, err := db.ExecContext(pctx, "PRAGMA busy_timeout = 5000;"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("set busy_timeout: %w", err)
	}
	if err := BootstrapSQLite(ctx, db); err != nil {
		_ = db.Close()
		return nil, err
	}
	return db, nil
}

// BootstrapSQLite creates tables/indexes if missing.
func BootstrapSQLite(ctx context.Context, db *sql.DB) error {
	stmts := []string{
		// Control-plane object store.
		`CREATE TABLE IF NOT EXISTS accounts (
  account_key    TEXT PRIMARY KEY,
  account_number TEXT NOT NULL UNIQUE,
  enabled        INTEGER NOT NULL DEFAULT 1,
  created_at     TEXT NOT NULL
);`,
		`CREATE TABLE IF NOT EXISTS conversations (
  account_key       TEXT NOT NULL REFERENCES accounts(account_key),
  conversation_key  TEXT NOT NULL,
  conversation_type TEXT NOT NULL,
  name              TEXT NOT NULL DEFAULT '',
  status            TEXT NOT NULL,
  batch_ids         JSON NOT NULL DEFAULT '[]',
  created_at        TEXT NOT NULL,
  PRIMARY KEY (account_key, conversation_key)
);`,
		`CREATE TABLE IF NOT EXISTS routing_tables (
  account_key TEXT PRIMARY KEY REFERENCES accounts(account_key),
  revision    INTEGER NOT NULL,
  document    JSON NOT NULL,
  updated_at  TEXT NOT NULL
);`,
		`CREATE TABLE IF NOT EXISTS tags (
  pool        TEXT NOT NULL,
  tag         TEXT NOT NULL,
  account_key TEXT,
  acquired_at TEXT,
  PRIMARY KEY (pool, tag)
);`,
		`CREATE TABLE IF NOT EXISTS batch_messages (
  batch_id   TEXT NOT NULL,
  message_id TEXT NOT NULL,
  direction  TEXT NOT NULL,
  created_at TEXT NOT NULL,
  PRIMARY KEY (batch_id, message_id)
);`,
		`CREATE TABLE IF NOT EXISTS batch_counts (
  batch_id     TEXT PRIMARY KEY,
  cached_count INTEGER NOT NULL,
  updated_at   TEXT NOT NULL
);`,
		// Billing ledger.
		`CREATE TABLE IF NOT EXISTS billing_accounts (
  account_number TEXT PRIMARY KEY,
  credit_balance INTEGER NOT NULL DEFAULT 0,
  last_topup     INTEGER NOT NULL DEFAULT 0,
  alert_level    INTEGER NOT NULL DEFAULT 0,
  updated_at     TEXT NOT NULL
);`,
		`CREATE TABLE IF NOT EXISTS message_costs (
  tag_pool       TEXT NOT NULL,
  direction      TEXT NOT NULL,
  message_cost   INTEGER NOT NULL,
  session_cost   INTEGER NOT NULL DEFAULT 0,
  markup_percent REAL NOT NULL DEFAULT 0,
  PRIMARY KEY (tag_pool, direction)
);`,
		`CREATE TABLE IF NOT EXISTS transactions (
  id              TEXT PRIMARY KEY,
  account_number  TEXT NOT NULL REFERENCES billing_accounts(account_number),
  message_id      TEXT NOT NULL,
  tag_pool        TEXT NOT NULL,
  tag             TEXT NOT NULL,
  provider        TEXT NOT NULL DEFAULT '',
  direction       TEXT NOT NULL,
  session_created INTEGER NOT NULL DEFAULT 0,
  session_length  REAL,
  message_cost    INTEGER NOT NULL,
  session_cost    INTEGER NOT NULL,
  markup_percent  REAL NOT NULL,
  credit_amount   INTEGER NOT NULL,
  status          TEXT NOT NULL,
  created_at      TEXT NOT NULL,
  UNIQUE (account_number, message_id)
);`,
		`CREATE TABLE IF NOT EXISTS credit_topups (
  reference      TEXT PRIMARY KEY,
  account_number TEXT NOT NULL REFERENCES billing_accounts(account_number),
  provider       TEXT NOT NULL DEFAULT '',
  credits        INTEGER NOT NULL,
  created_at     TEXT NOT NULL
);`,
		`CREATE INDEX IF NOT EXISTS conversations_status_idx ON conversations(account_key, status);`,
		`CREATE INDEX IF NOT EXISTS tags_free_idx ON tags(pool, account_key);`,
		`CREATE INDEX IF NOT EXISTS transactions_account_created_idx ON transactions(account_number, created_at);`,
	}

	for _, stmt := range stmts {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("bootstrap sqlite: %w", err)
		}
	}
	return nil
}
