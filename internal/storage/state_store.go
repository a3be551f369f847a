// Package storage provides SQLite persistence for Second Brain.
package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/secondbrain-hq/secondbrain/internal/core"
	"github.com/secondbrain-hq/secondbrain/internal/logging"
)

// StateStore persists per-thread PendingOperation blobs. Writes replace the
// row wholesale; a conditional overwrite (matching the previously read
// UpdatedAt) guards against two concurrent messages in the same thread.
type StateStore struct {
	db *DB
}

// NewStateStore creates a new conversation state store.
func NewStateStore(db *DB) *StateStore {
	return &StateStore{db: db}
}

// Get returns the thread's pending operation, or nil when none exists or the
// stored one has expired. Expired rows are removed as a side effect.
func (s *StateStore) Get(ctx context.Context, threadID string) (*core.PendingOperation, error) {
	var blob string
	var updatedAt, expiresAt time.Time

	err := s.db.conn.QueryRowContext(ctx, `
		SELECT state, updated_at, expires_at
		FROM conversation_state WHERE thread_id = ?
	`, threadID).Scan(&blob, &updatedAt, &expiresAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	op := &core.PendingOperation{}
	if err := json.Unmarshal([]byte(blob), op); err != nil {
		return nil, fmt.Errorf("unmarshal state for thread %s: %w", threadID, err)
	}
	op.ThreadID = threadID
	op.UpdatedAt = updatedAt
	op.ExpiresAt = expiresAt

	if op.Expired(time.Now().UTC()) {
		// Expiry reads as absent either way; PruneExpired sweeps up later if
		// this delete loses.
		if err := s.Clear(ctx, threadID); err != nil {
			logging.WithField("thread", threadID).Warn("failed to clear expired state: %v", err)
		}
		return nil, nil
	}
	return op, nil
}

// Put replaces the thread's state. When prev is non-nil the write only
// succeeds if the stored row still carries prev.UpdatedAt; a mismatch means
// another message won the race and the caller gets ErrStateConflict.
func (s *StateStore) Put(ctx context.Context, op *core.PendingOperation, prev *core.PendingOperation) error {
	if op.ThreadID == "" {
		return fmt.Errorf("%w: thread id", core.ErrMissingRequired)
	}
	op.UpdatedAt = time.Now().UTC()

	blob, err := json.Marshal(op)
	if err != nil {
		return fmt.Errorf("marshal state: %w", err)
	}

	if prev == nil {
		_, err = s.db.conn.ExecContext(ctx, `
			INSERT INTO conversation_state (thread_id, state, updated_at, expires_at)
			VALUES (?, ?, ?, ?)
			ON CONFLICT(thread_id) DO UPDATE SET
			    state = excluded.state,
			    updated_at = excluded.updated_at,
			    expires_at = excluded.expires_at
		`, op.ThreadID, string(blob), op.UpdatedAt, op.ExpiresAt.UTC())
		return err
	}

	res, err := s.db.conn.ExecContext(ctx, `
		UPDATE conversation_state
		SET state = ?, updated_at = ?, expires_at = ?
		WHERE thread_id = ? AND updated_at = ?
	`, string(blob), op.UpdatedAt, op.ExpiresAt.UTC(), op.ThreadID, prev.UpdatedAt)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return core.ErrStateConflict
	}
	return nil
}

// Clear removes the thread's state. Clearing an absent row is not an error.
func (s *StateStore) Clear(ctx context.Context, threadID string) error {
	_, err := s.db.conn.ExecContext(ctx,
		"DELETE FROM conversation_state WHERE thread_id = ?", threadID)
	return err
}

// PruneExpired removes every expired row. Called opportunistically from the
// webhook path so abandoned threads don't accumulate.
func (s *StateStore) PruneExpired(ctx context.Context) error {
	_, err := s.db.conn.ExecContext(ctx,
		"DELETE FROM conversation_state WHERE expires_at < ?", time.Now().UTC())
	return err
}
