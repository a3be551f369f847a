// Package core defines the fundamental types for Second Brain.
// Everything else in the system is built around these.
package core

import (
	"time"
)

// -----------------------------------------------------------------------------
// CATEGORY - The four buckets every thought is filed into
// -----------------------------------------------------------------------------

// Category is a type-safe identifier for the filing buckets.
type Category string

const (
	CategoryPerson  Category = "person"
	CategoryProject Category = "project"
	CategoryIdea    Category = "idea"
	CategoryAdmin   Category = "admin"
)

// Categories lists all categories in digest display order.
var Categories = []Category{CategoryProject, CategoryPerson, CategoryIdea, CategoryAdmin}

// ParseCategory maps a user-supplied token (singular or plural) to a Category.
func ParseCategory(token string) (Category, bool) {
	switch token {
	case "person", "people":
		return CategoryPerson, true
	case "project", "projects":
		return CategoryProject, true
	case "idea", "ideas":
		return CategoryIdea, true
	case "admin":
		return CategoryAdmin, true
	}
	return "", false
}

// Valid reports whether c is one of the known categories.
func (c Category) Valid() bool {
	switch c {
	case CategoryPerson, CategoryProject, CategoryIdea, CategoryAdmin:
		return true
	}
	return false
}

// FieldSchema returns the ordered editable field keys for a category.
// The ordering is what users see in numbered field lists, so it is stable.
func (c Category) FieldSchema() []string {
	switch c {
	case CategoryPerson:
		return []string{"name", "context", "follow_ups", "last_touched"}
	case CategoryProject:
		return []string{"name", "status", "next_action", "notes"}
	case CategoryIdea:
		return []string{"name", "one_liner", "notes"}
	default:
		return []string{"name", "status", "due_date", "notes"}
	}
}

// -----------------------------------------------------------------------------
// CAPTURE - A raw thought before classification
// -----------------------------------------------------------------------------

// CaptureItem is a raw user-submitted note waiting to be classified.
// Produced by a capture adapter and consumed exactly once by the pipeline.
type CaptureItem struct {
	ID         string    `json:"id"`
	Text       string    `json:"text"`
	Source     string    `json:"source"` // "cli", "webhook", ...
	ReceivedAt time.Time `json:"received_at"`
}

// ClassificationResult is the classifier's verdict on a capture's text.
type ClassificationResult struct {
	Category   Category          `json:"category"`
	Confidence float64           `json:"confidence"` // 0-1
	Title      string            `json:"title"`
	Fields     map[string]string `json:"fields"`
}

// -----------------------------------------------------------------------------
// RECORD - A filed thought
// -----------------------------------------------------------------------------

// Record is one filed item in a category partition.
type Record struct {
	ID        string            `json:"id"`
	Category  Category          `json:"category"`
	Fields    map[string]string `json:"fields"`
	CreatedAt time.Time         `json:"created_at"`
	UpdatedAt time.Time         `json:"updated_at"`
}

// Title returns the record's display name.
func (r *Record) Title() string {
	if name := r.Fields["name"]; name != "" {
		return name
	}
	if title := r.Fields["title"]; title != "" {
		return title
	}
	return "Untitled"
}

// RecordRef is a lightweight pointer to a record plus the field values it had
// when a list was rendered. Digest lists are snapshotted as RecordRefs so that
// a later "update N" resolves against what the user actually saw.
type RecordRef struct {
	RecordID string            `json:"record_id"`
	Category Category          `json:"category"`
	Title    string            `json:"title"`
	Fields   map[string]string `json:"fields"`
}

// -----------------------------------------------------------------------------
// INBOX LOG - Append-only audit trail
// -----------------------------------------------------------------------------

// InboxStatus is the routing outcome recorded in the inbox log.
type InboxStatus string

const (
	InboxFiled       InboxStatus = "filed"
	InboxNeedsReview InboxStatus = "needs_review"
)

// InboxLogEntry records every processed capture, filed or not.
// Distinct from category Records; never deleted.
type InboxLogEntry struct {
	ID           string      `json:"id"`
	SourceID     string      `json:"source_id"`
	Source       string      `json:"source"`
	CapturedText string      `json:"captured_text"`
	Category     Category    `json:"category"`
	Title        string      `json:"title"`
	Confidence   float64     `json:"confidence"`
	Status       InboxStatus `json:"status"`
	RecordID     string      `json:"record_id,omitempty"`
	ThreadID     string      `json:"thread_id,omitempty"`
	CreatedAt    time.Time   `json:"created_at"`
}

// -----------------------------------------------------------------------------
// PENDING OPERATION - The only cross-message conversation memory
// -----------------------------------------------------------------------------

// PendingKind discriminates the conversation state machine's non-idle states.
type PendingKind string

const (
	AwaitingUpdateSelection PendingKind = "awaiting_update_selection"
	AwaitingFieldSelection  PendingKind = "awaiting_field_selection"
	AwaitingFieldValue      PendingKind = "awaiting_field_value"
)

// PendingOperation is the persisted per-thread state blob. At most one exists
// per thread; transitions replace it wholesale or clear it, never mutate it in
// place, so the machine is resumable after a crash between messages.
type PendingOperation struct {
	ThreadID     string      `json:"thread_id"`
	Kind         PendingKind `json:"kind"`
	ListSnapshot []RecordRef `json:"list_snapshot,omitempty"`
	Selected     *RecordRef  `json:"selected,omitempty"`
	FieldKey     string      `json:"field_key,omitempty"`
	FieldName    string      `json:"field_name,omitempty"`
	ExpiresAt    time.Time   `json:"expires_at"`
	UpdatedAt    time.Time   `json:"updated_at"`
}

// Expired reports whether the operation has outlived its TTL at time now.
func (p *PendingOperation) Expired(now time.Time) bool {
	return !p.ExpiresAt.IsZero() && now.After(p.ExpiresAt)
}

// -----------------------------------------------------------------------------
// PIPELINE - Run accounting
// -----------------------------------------------------------------------------

// RunSummary tallies one pipeline run.
type RunSummary struct {
	Filed       int `json:"filed"`
	NeedsReview int `json:"needs_review"`
	Failed      int `json:"failed"`
	Skipped     int `json:"skipped"` // already-processed items
}

// Processed returns the number of items the run handled in any way.
func (s RunSummary) Processed() int {
	return s.Filed + s.NeedsReview + s.Failed + s.Skipped
}

// DigestKind selects a digest window.
type DigestKind string

const (
	DigestNext  DigestKind = "next"  // last 14 days, focus list
	DigestToday DigestKind = "today" // same calendar day
	DigestWeek  DigestKind = "week"  // last 7 days
)
