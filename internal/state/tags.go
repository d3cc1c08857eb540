package state

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// AddTags declares tags in a pool. Existing tags are left untouched.
func (s *Store) AddTags(ctx context.Context, pool string, tags ...string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	for _, tag := range tags {
		if _, err := tx.ExecContext(ctx, `INSERT OR IGNORE INTO tags(pool, tag) VALUES(?, ?);`, pool, tag); err != nil {
			return fmt.Errorf("insert tag %s:%s: %w", pool, tag, err)
		}
	}
	return tx.Commit()
}

// AcquireTag allocates the first free tag from pool to accountKey.
func (s *Store) AcquireTag(ctx context.Context, pool, accountKey string) (string, error) {
	now := time.Now().UTC().Format(time.RFC3339Nano)
	var tag string
	err := s.db.QueryRowContext(ctx, `
UPDATE tags
SET account_key = ?, acquired_at = ?
WHERE rowid = (
  SELECT rowid FROM tags
  WHERE pool = ? AND account_key IS NULL
  ORDER BY tag ASC
  LIMIT 1
)
RETURNING tag;
`, accountKey, now, pool).Scan(&tag)
	if errors.Is(err, sql.ErrNoRows) {
		return "", fmt.Errorf("pool %q: %w", pool, ErrNoFreeTags)
	}
	if err != nil {
		return "", fmt.Errorf("acquire tag: %w", err)
	}
	return tag, nil
}

// ReleaseTag returns a tag to its pool.
func (s *Store) ReleaseTag(ctx context.Context, pool, tag string) error {
	res, err := s.db.ExecContext(ctx, `
UPDATE tags SET account_key = NULL, acquired_at = NULL
WHERE pool = ? AND tag = ? AND account_key IS NOT NULL;
`, pool, tag)
	if err != nil {
		return fmt.Errorf("release tag: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("tag %s:%s not acquired: %w", pool, tag, ErrNotFound)
	}
	return nil
}
