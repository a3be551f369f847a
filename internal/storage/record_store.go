// Package storage provides SQLite persistence for Second Brain.
package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/secondbrain-hq/secondbrain/internal/core"
)

// RecordStore handles filed record persistence, partitioned by category.
type RecordStore struct {
	db *DB
}

// NewRecordStore creates a new record store.
func NewRecordStore(db *DB) *RecordStore {
	return &RecordStore{db: db}
}

// Create files a new record in the given category.
func (s *RecordStore) Create(ctx context.Context, category core.Category, fields map[string]string) (*core.Record, error) {
	if !category.Valid() {
		return nil, fmt.Errorf("%w: %q", core.ErrInvalidCategory, category)
	}
	now := time.Now().UTC()
	record := &core.Record{
		ID:        uuid.New().String(),
		Category:  category,
		Fields:    fields,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if record.Fields == nil {
		record.Fields = map[string]string{}
	}

	fieldsJSON, err := json.Marshal(record.Fields)
	if err != nil {
		return nil, fmt.Errorf("marshal fields: %w", err)
	}

	_, err = s.db.conn.ExecContext(ctx, `
		INSERT INTO records (id, category, fields, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?)
	`, record.ID, record.Category, string(fieldsJSON), record.CreatedAt, record.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return record, nil
}

// Get returns a record by ID.
func (s *RecordStore) Get(ctx context.Context, id string) (*core.Record, error) {
	row := s.db.conn.QueryRowContext(ctx, `
		SELECT id, category, fields, created_at, updated_at
		FROM records WHERE id = ?
	`, id)
	return scanRecord(row)
}

// Update applies field changes to a record and bumps UpdatedAt.
func (s *RecordStore) Update(ctx context.Context, id string, changes map[string]string) (*core.Record, error) {
	record, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	for k, v := range changes {
		record.Fields[k] = v
	}
	record.UpdatedAt = time.Now().UTC()

	fieldsJSON, err := json.Marshal(record.Fields)
	if err != nil {
		return nil, fmt.Errorf("marshal fields: %w", err)
	}

	res, err := s.db.conn.ExecContext(ctx, `
		UPDATE records SET fields = ?, updated_at = ? WHERE id = ?
	`, string(fieldsJSON), record.UpdatedAt, id)
	if err != nil {
		return nil, err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return nil, core.ErrRecordNotFound
	}
	return record, nil
}

// List returns records in the given categories updated at or after since
// (zero since means all), most recently updated first.
func (s *RecordStore) List(ctx context.Context, categories []core.Category, since time.Time) ([]*core.Record, error) {
	if len(categories) == 0 {
		categories = core.Categories
	}

	placeholders := make([]string, len(categories))
	args := make([]interface{}, 0, len(categories)+1)
	for i, c := range categories {
		placeholders[i] = "?"
		args = append(args, c)
	}

	query := fmt.Sprintf(`
		SELECT id, category, fields, created_at, updated_at
		FROM records
		WHERE category IN (%s)
	`, strings.Join(placeholders, ", "))
	if !since.IsZero() {
		query += " AND updated_at >= ?"
		args = append(args, since.UTC())
	}
	query += " ORDER BY updated_at DESC"

	rows, err := s.db.conn.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []*core.Record
	for rows.Next() {
		record, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, record)
	}
	return records, rows.Err()
}

// FindByName returns the record in category whose name field matches exactly.
// Multiple matches are an error so CLI updates never pick silently.
func (s *RecordStore) FindByName(ctx context.Context, category core.Category, name string) (*core.Record, error) {
	records, err := s.List(ctx, []core.Category{category}, time.Time{})
	if err != nil {
		return nil, err
	}

	var match *core.Record
	for _, r := range records {
		if r.Title() == name {
			if match != nil {
				return nil, fmt.Errorf("%w: multiple records named %q in %s", core.ErrDuplicateRecord, name, category)
			}
			match = r
		}
	}
	if match == nil {
		return nil, core.ErrRecordNotFound
	}
	return match, nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanRecord(row rowScanner) (*core.Record, error) {
	record := &core.Record{}
	var fieldsJSON string

	err := row.Scan(&record.ID, &record.Category, &fieldsJSON, &record.CreatedAt, &record.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, core.ErrRecordNotFound
	}
	if err != nil {
		return nil, err
	}

	record.Fields = map[string]string{}
	if err := json.Unmarshal([]byte(fieldsJSON), &record.Fields); err != nil {
		return nil, fmt.Errorf("unmarshal fields for %s: %w", record.ID, err)
	}
	return record, nil
}
