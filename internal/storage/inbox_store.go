// Package storage provides SQLite persistence for Second Brain.
package storage

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"

	"github.com/secondbrain-hq/secondbrain/internal/core"
)

// InboxStore handles the append-only inbox audit log.
type InboxStore struct {
	db *DB
}

// NewInboxStore creates a new inbox store.
func NewInboxStore(db *DB) *InboxStore {
	return &InboxStore{db: db}
}

// Append writes one audit entry. The entry's ID and CreatedAt are assigned
// here when unset.
func (s *InboxStore) Append(ctx context.Context, entry *core.InboxLogEntry) error {
	if entry.ID == "" {
		entry.ID = uuid.New().String()
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}

	_, err := s.db.conn.ExecContext(ctx, `
		INSERT INTO inbox_log (
		    id, source_id, source, captured_text, category, title,
		    confidence, status, record_id, thread_id, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		entry.ID, entry.SourceID, entry.Source, entry.CapturedText, entry.Category,
		entry.Title, entry.Confidence, entry.Status, entry.RecordID, entry.ThreadID,
		entry.CreatedAt,
	)
	return err
}

// LatestForThread returns the most recent entry originated by a thread.
// Used by "fix: <category>" to find what to re-file.
func (s *InboxStore) LatestForThread(ctx context.Context, threadID string) (*core.InboxLogEntry, error) {
	row := s.db.conn.QueryRowContext(ctx, `
		SELECT id, source_id, source, captured_text, category, title,
		       confidence, status, record_id, thread_id, created_at
		FROM inbox_log
		WHERE thread_id = ?
		ORDER BY created_at DESC
		LIMIT 1
	`, threadID)

	entry := &core.InboxLogEntry{}
	var sourceID, source, title, recordID, thread sql.NullString
	err := row.Scan(
		&entry.ID, &sourceID, &source, &entry.CapturedText, &entry.Category,
		&title, &entry.Confidence, &entry.Status, &recordID, &thread, &entry.CreatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, core.ErrNothingToFix
	}
	if err != nil {
		return nil, err
	}

	entry.SourceID = sourceID.String
	entry.Source = source.String
	entry.Title = title.String
	entry.RecordID = recordID.String
	entry.ThreadID = thread.String
	return entry, nil
}

// MarkFiled flips a needs_review entry to filed and attaches the record it
// became.
func (s *InboxStore) MarkFiled(ctx context.Context, entryID, recordID string) error {
	res, err := s.db.conn.ExecContext(ctx, `
		UPDATE inbox_log SET status = ?, record_id = ? WHERE id = ?
	`, core.InboxFiled, recordID, entryID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return core.ErrRecordNotFound
	}
	return nil
}

// CountByStatus returns inbox entry counts per status, for stats endpoints.
func (s *InboxStore) CountByStatus(ctx context.Context) (map[core.InboxStatus]int, error) {
	rows, err := s.db.conn.QueryContext(ctx, `
		SELECT status, COUNT(*) FROM inbox_log GROUP BY status
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	counts := make(map[core.InboxStatus]int)
	for rows.Next() {
		var status core.InboxStatus
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			return nil, err
		}
		counts[status] = count
	}
	return counts, rows.Err()
}
