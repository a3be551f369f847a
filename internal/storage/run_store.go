// Package storage provides SQLite persistence for Second Brain.
package storage

import (
	"context"
	"database/sql"
	"time"

	"github.com/secondbrain-hq/secondbrain/internal/core"
)

// staleLockAfter bounds how long a crashed run can hold the pipeline lock.
const staleLockAfter = 10 * time.Minute

// RunStore backs pipeline idempotence: a processed-id guard so an item is
// filed at most once, and a single-row lock so only one run is active.
type RunStore struct {
	db *DB
}

// NewRunStore creates a new run store.
func NewRunStore(db *DB) *RunStore {
	return &RunStore{db: db}
}

// Claim marks a source item as processed. Returns false when it was already
// claimed by an earlier run; the caller skips the item.
func (s *RunStore) Claim(ctx context.Context, sourceID string) (bool, error) {
	res, err := s.db.conn.ExecContext(ctx, `
		INSERT OR IGNORE INTO processed_items (source_id, processed_at)
		VALUES (?, ?)
	`, sourceID, time.Now().UTC())
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// Unclaim releases a claim after filing failed, so a retry of the same source
// id is allowed to try again.
func (s *RunStore) Unclaim(ctx context.Context, sourceID string) error {
	_, err := s.db.conn.ExecContext(ctx,
		"DELETE FROM processed_items WHERE source_id = ?", sourceID)
	return err
}

// AcquireLock takes the pipeline run lock. A lock held longer than
// staleLockAfter is treated as abandoned and stolen.
func (s *RunStore) AcquireLock(ctx context.Context) error {
	now := time.Now().UTC()
	res, err := s.db.conn.ExecContext(ctx, `
		UPDATE run_lock SET locked_at = ?
		WHERE name = 'pipeline' AND (locked_at IS NULL OR locked_at < ?)
	`, now, now.Add(-staleLockAfter))
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return core.ErrRunInProgress
	}
	return nil
}

// ReleaseLock releases the pipeline run lock.
func (s *RunStore) ReleaseLock(ctx context.Context) error {
	_, err := s.db.conn.ExecContext(ctx,
		"UPDATE run_lock SET locked_at = NULL WHERE name = 'pipeline'")
	return err
}

// LockedAt reports when the lock was taken, or zero when free.
func (s *RunStore) LockedAt(ctx context.Context) (time.Time, error) {
	var lockedAt sql.NullTime
	err := s.db.conn.QueryRowContext(ctx,
		"SELECT locked_at FROM run_lock WHERE name = 'pipeline'").Scan(&lockedAt)
	if err != nil {
		return time.Time{}, err
	}
	if !lockedAt.Valid {
		return time.Time{}, nil
	}
	return lockedAt.Time, nil
}
