// Package storage provides SQLite persistence for Second Brain.
package storage

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"

	"github.com/secondbrain-hq/secondbrain/internal/core"
)

// QueueStore is the SQLite-backed capture queue. Enqueue appends a thought;
// Fetch drains pending items and advances the cursor in the same transaction,
// so an item is returned at most once.
type QueueStore struct {
	db *DB
}

// NewQueueStore creates a new capture queue.
func NewQueueStore(db *DB) *QueueStore {
	return &QueueStore{db: db}
}

// Enqueue appends a raw thought to the queue.
func (s *QueueStore) Enqueue(ctx context.Context, text, source string, receivedAt time.Time) (core.CaptureItem, error) {
	if receivedAt.IsZero() {
		receivedAt = time.Now().UTC()
	}
	item := core.CaptureItem{
		ID:         uuid.New().String(),
		Text:       text,
		Source:     source,
		ReceivedAt: receivedAt.UTC(),
	}

	_, err := s.db.conn.ExecContext(ctx, `
		INSERT INTO capture_queue (id, text, source, received_at)
		VALUES (?, ?, ?, ?)
	`, item.ID, item.Text, item.Source, item.ReceivedAt)
	if err != nil {
		return core.CaptureItem{}, err
	}
	return item, nil
}

// Fetch returns all unconsumed items in arrival order and marks them
// consumed. Marking happens in the same transaction as the read, so a crash
// mid-fetch re-delivers (at-least-once) but a completed fetch never does.
func (s *QueueStore) Fetch(ctx context.Context) ([]core.CaptureItem, error) {
	var items []core.CaptureItem

	err := s.db.Transaction(func(tx *sql.Tx) error {
		rows, err := tx.QueryContext(ctx, `
			SELECT id, text, source, received_at
			FROM capture_queue
			WHERE consumed_at IS NULL
			ORDER BY received_at ASC
		`)
		if err != nil {
			return err
		}
		defer rows.Close()

		for rows.Next() {
			var item core.CaptureItem
			if err := rows.Scan(&item.ID, &item.Text, &item.Source, &item.ReceivedAt); err != nil {
				return err
			}
			items = append(items, item)
		}
		if err := rows.Err(); err != nil {
			return err
		}

		now := time.Now().UTC()
		for _, item := range items {
			if _, err := tx.ExecContext(ctx, `
				UPDATE capture_queue SET consumed_at = ? WHERE id = ?
			`, now, item.ID); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return items, nil
}

// PendingCount returns the number of unconsumed items.
func (s *QueueStore) PendingCount(ctx context.Context) (int, error) {
	var count int
	err := s.db.conn.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM capture_queue WHERE consumed_at IS NULL").Scan(&count)
	return count, err
}
