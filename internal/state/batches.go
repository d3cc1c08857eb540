package state

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// RecordMessage stores a message against a batch and bumps the cached count.
// Recording the same message twice is a no-op.
func (s *Store) RecordMessage(ctx context.Context, batchID, messageID, direction string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	now := time.Now().UTC().Format(time.RFC3339Nano)
	res, err := tx.ExecContext(ctx, `
INSERT OR IGNORE INTO batch_messages(batch_id, message_id, direction, created_at)
VALUES(?, ?, ?, ?);
`, batchID, messageID, direction, now)
	if err != nil {
		return fmt.Errorf("insert batch message: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return tx.Commit()
	}

	_, err = tx.ExecContext(ctx, `
INSERT INTO batch_counts(batch_id, cached_count, updated_at)
VALUES(?, 1, ?)
ON CONFLICT(batch_id) DO UPDATE SET
  cached_count = cached_count + 1,
  updated_at = excluded.updated_at;
`, batchID, now)
	if err != nil {
		return fmt.Errorf("bump cached count: %w", err)
	}
	return tx.Commit()
}

// Count returns the authoritative number of messages in a batch.
func (s *Store) Count(ctx context.Context, batchID string) (int64, error) {
	var n int64
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM batch_messages WHERE batch_id = ?;`, batchID).Scan(&n); err != nil {
		return 0, fmt.Errorf("count batch messages: %w", err)
	}
	return n, nil
}

// CountByDirection returns the authoritative number of messages in a batch
// flowing in one direction.
func (s *Store) CountByDirection(ctx context.Context, batchID, direction string) (int64, error) {
	var n int64
	err := s.db.QueryRowContext(ctx, `
SELECT COUNT(*) FROM batch_messages WHERE batch_id = ? AND direction = ?;
`, batchID, direction).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count batch messages: %w", err)
	}
	return n, nil
}

// CachedCount returns the cached message count of a batch (0 when uncached).
func (s *Store) CachedCount(ctx context.Context, batchID string) (int64, error) {
	var n int64
	err := s.db.QueryRowContext(ctx, `SELECT cached_count FROM batch_counts WHERE batch_id = ?;`, batchID).Scan(&n)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("read cached count: %w", err)
	}
	return n, nil
}

// SetCachedCount overwrites the cached count of a batch.
func (s *Store) SetCachedCount(ctx context.Context, batchID string, n int64) error {
	now := time.Now().UTC().Format(time.RFC3339Nano)
	_, err := s.db.ExecContext(ctx, `
INSERT INTO batch_counts(batch_id, cached_count, updated_at)
VALUES(?, ?, ?)
ON CONFLICT(batch_id) DO UPDATE SET
  cached_count = excluded.cached_count,
  updated_at = excluded.updated_at;
`, batchID, n, now)
	if err != nil {
		return fmt.Errorf("write cached count: %w", err)
	}
	return nil
}

// Recompute rebuilds the cached count of a batch from the authoritative one.
func (s *Store) Recompute(ctx context.Context, batchID string) (int64, error) {
	n, err := s.Count(ctx, batchID)
	if err != nil {
		return 0, err
	}
	if err := s.SetCachedCount(ctx, batchID, n); err != nil {
		return 0, err
	}
	return n, nil
}
