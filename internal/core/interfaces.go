// Package core defines the fundamental types for Second Brain.
package core

import (
	"context"
	"time"
)

// The adapter contracts. Concrete implementations are selected by name in the
// config and constructed by internal/registry before the core ever runs.

// Capture produces raw thoughts to process. Fetch must not return an item
// more than once; cursor persistence is the adapter's job.
type Capture interface {
	Fetch(ctx context.Context) ([]CaptureItem, error)
	Enqueue(ctx context.Context, text, source string, receivedAt time.Time) (CaptureItem, error)
}

// Classifier maps raw text to a category plus a confidence score.
// Rate-limit and network failures must come back wrapped as transient
// (core.Transient) so the pipeline can decide retry eligibility.
type Classifier interface {
	Classify(ctx context.Context, text string) (ClassificationResult, error)
}

// RecordStore is the category-partitioned persistence for filed records.
type RecordStore interface {
	Create(ctx context.Context, category Category, fields map[string]string) (*Record, error)
	Get(ctx context.Context, id string) (*Record, error)
	Update(ctx context.Context, id string, changes map[string]string) (*Record, error)
	// List returns records in the given categories whose UpdatedAt falls at or
	// after since (zero since means everything), most recently updated first.
	List(ctx context.Context, categories []Category, since time.Time) ([]*Record, error)
	FindByName(ctx context.Context, category Category, name string) (*Record, error)
}

// InboxLog is the append-only audit trail of processed captures.
type InboxLog interface {
	Append(ctx context.Context, entry *InboxLogEntry) error
	LatestForThread(ctx context.Context, threadID string) (*InboxLogEntry, error)
	MarkFiled(ctx context.Context, entryID, recordID string) error
}

// Notifier delivers filed/review/digest messages to wherever the user is.
type Notifier interface {
	NotifyFiled(ctx context.Context, record *Record, confidence float64) error
	NotifyNeedsReview(ctx context.Context, entry *InboxLogEntry) error
	NotifyDigest(ctx context.Context, kind DigestKind, message string) error
	// Reply answers a specific conversation thread.
	Reply(ctx context.Context, threadID, message string) error
}

// StateStore persists the per-thread PendingOperation blobs.
type StateStore interface {
	Get(ctx context.Context, threadID string) (*PendingOperation, error)
	// Put replaces the thread's state wholesale. When prev is non-nil the write
	// is conditional on the stored UpdatedAt still matching prev.UpdatedAt and
	// fails with ErrStateConflict otherwise.
	Put(ctx context.Context, op *PendingOperation, prev *PendingOperation) error
	Clear(ctx context.Context, threadID string) error
}
