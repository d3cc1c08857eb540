package state

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/mattjoyce/switchboard/internal/routing"
)

// GetRoutingTable loads an account's routing table and its revision. An
// account without a stored table gets an empty table at revision 0.
func (s *Store) GetRoutingTable(ctx context.Context, accountKey string) (*routing.Table, int64, error) {
	var raw string
	err := s.db.QueryRowContext(ctx, `SELECT document FROM routing_tables WHERE account_key = ?;`, accountKey).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return routing.NewTable(), 0, nil
	}
	if err != nil {
		return nil, 0, fmt.Errorf("read routing table: %w", err)
	}
	doc, table, err := routing.UnmarshalDocument([]byte(raw))
	if err != nil {
		return nil, 0, fmt.Errorf("routing table for %q: %w", accountKey, err)
	}
	return table, doc.Revision, nil
}

// SaveRoutingTable validates and persists a routing table. expectedRevision
// must match the stored revision (0 for a first write); the new revision is
// returned. A table failing validation is rejected with its
// *routing.StructuralError and nothing is written.
func (s *Store) SaveRoutingTable(ctx context.Context, accountKey string, table *routing.Table, expectedRevision int64) (int64, error) {
	if err := table.Validate(); err != nil {
		return 0, err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var current int64
	err = tx.QueryRowContext(ctx, `SELECT revision FROM routing_tables WHERE account_key = ?;`, accountKey).Scan(&current)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return 0, fmt.Errorf("read routing revision: %w", err)
	}
	if current != expectedRevision {
		return 0, fmt.Errorf("account %q at revision %d, expected %d: %w", accountKey, current, expectedRevision, ErrVersionConflict)
	}

	next := current + 1
	doc, err := routing.MarshalDocument(accountKey, next, table)
	if err != nil {
		return 0, fmt.Errorf("encode routing table: %w", err)
	}

	now := time.Now().UTC().Format(time.RFC3339Nano)
	_, err = tx.ExecContext(ctx, `
INSERT INTO routing_tables(account_key, revision, document, updated_at)
VALUES(?, ?, ?, ?)
ON CONFLICT(account_key) DO UPDATE SET
  revision = excluded.revision,
  document = excluded.document,
  updated_at = excluded.updated_at;
`, accountKey, next, string(doc), now)
	if err != nil {
		return 0, fmt.Errorf("upsert routing table: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit tx: %w", err)
	}
	return next, nil
}
