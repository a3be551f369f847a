// Package pipeline drains captured thoughts through classification, routing
// and filing.
package pipeline

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/secondbrain-hq/secondbrain/internal/classify"
	"github.com/secondbrain-hq/secondbrain/internal/core"
	"github.com/secondbrain-hq/secondbrain/internal/logging"
	"github.com/secondbrain-hq/secondbrain/internal/retry"
	"github.com/secondbrain-hq/secondbrain/internal/router"
)

// RunGuard is the persistence behind idempotent runs: a per-item processed
// claim and a single-runner lock.
type RunGuard interface {
	Claim(ctx context.Context, sourceID string) (bool, error)
	Unclaim(ctx context.Context, sourceID string) error
	AcquireLock(ctx context.Context) error
	ReleaseLock(ctx context.Context) error
}

// Orchestrator wires the capture source, classifier, stores and notifier
// into the filing flow.
type Orchestrator struct {
	capture    core.Capture
	classifier core.Classifier
	records    core.RecordStore
	inbox      core.InboxLog
	notifier   core.Notifier
	guard      RunGuard

	threshold float64
	retryCfg  retry.Config
	logger    *logging.Logger
}

// Options configures an Orchestrator.
type Options struct {
	Capture    core.Capture
	Classifier core.Classifier
	Records    core.RecordStore
	Inbox      core.InboxLog
	Notifier   core.Notifier
	Guard      RunGuard

	Threshold float64
	Retry     retry.Config
	Logger    *logging.Logger
}

// New creates an Orchestrator.
func New(opts Options) *Orchestrator {
	if opts.Logger == nil {
		opts.Logger = logging.Default()
	}
	return &Orchestrator{
		capture:    opts.Capture,
		classifier: opts.Classifier,
		records:    opts.Records,
		inbox:      opts.Inbox,
		notifier:   opts.Notifier,
		guard:      opts.Guard,
		threshold:  opts.Threshold,
		retryCfg:   opts.Retry,
		logger:     opts.Logger,
	}
}

// Outcome reports what happened to one capture.
type Outcome struct {
	Status core.InboxStatus
	Record *core.Record
	Entry  *core.InboxLogEntry
}

// Run drains the capture source. One runner at a time: a second concurrent
// Run fails fast with ErrRunInProgress rather than double-filing. Item
// failures are isolated; the run always continues to the next item.
func (o *Orchestrator) Run(ctx context.Context) (core.RunSummary, error) {
	var summary core.RunSummary

	if err := o.guard.AcquireLock(ctx); err != nil {
		return summary, err
	}
	defer func() {
		if err := o.guard.ReleaseLock(context.WithoutCancel(ctx)); err != nil {
			o.logger.Error("failed to release run lock: %v", err)
		}
	}()

	items, err := o.capture.Fetch(ctx)
	if err != nil {
		return summary, fmt.Errorf("fetch captures: %w", err)
	}

	for _, item := range items {
		claimed, err := o.guard.Claim(ctx, item.ID)
		if err != nil {
			summary.Failed++
			o.logger.WithField("item", item.ID).Error("claim failed: %v", err)
			continue
		}
		if !claimed {
			summary.Skipped++
			continue
		}

		outcome, err := o.fileItem(ctx, item, "")
		if err != nil {
			summary.Failed++
			o.requeue(ctx, item, err)
			continue
		}
		if outcome.Status == core.InboxFiled {
			summary.Filed++
		} else {
			summary.NeedsReview++
		}
	}

	o.logger.WithFields(map[string]interface{}{
		"filed":        summary.Filed,
		"needs_review": summary.NeedsReview,
		"failed":       summary.Failed,
		"skipped":      summary.Skipped,
	}).Info("pipeline run complete")
	return summary, nil
}

// requeue decides what happens to a consumed queue item whose filing failed.
// The fetch already marked it consumed, so a transient failure puts a fresh
// copy back on the queue for the next run; a permanent one is abandoned
// (retrying can't fix it) with its inbox-less failure on the log.
func (o *Orchestrator) requeue(ctx context.Context, item core.CaptureItem, cause error) {
	if !core.IsTransient(cause) {
		o.logger.WithField("item", item.ID).Error("abandoning item after permanent failure: %v", cause)
		return
	}
	if _, err := o.capture.Enqueue(ctx, item.Text, item.Source, item.ReceivedAt); err != nil {
		o.logger.WithField("item", item.ID).Error("re-enqueue failed, item lost: %v", err)
		return
	}
	o.logger.WithField("item", item.ID).Warn("re-enqueued after transient failure: %v", cause)
}

// ProcessText files a single thought immediately, bypassing the queue. Used
// by the chat surface, which needs a per-thread audit trail and a synchronous
// outcome for its reply. sourceID keys the processed-item guard: webhook
// surfaces pass their platform message id so redeliveries come back as
// ErrAlreadyCaptured instead of filing twice. An empty sourceID gets a fresh
// uuid and is never deduplicated.
func (o *Orchestrator) ProcessText(ctx context.Context, sourceID, text, source, threadID string) (Outcome, error) {
	if sourceID == "" {
		sourceID = uuid.New().String()
	}
	item := core.CaptureItem{
		ID:         sourceID,
		Text:       text,
		Source:     source,
		ReceivedAt: time.Now().UTC(),
	}
	claimed, err := o.guard.Claim(ctx, item.ID)
	if err != nil {
		return Outcome{}, err
	}
	if !claimed {
		return Outcome{}, fmt.Errorf("%w: %s", core.ErrAlreadyCaptured, item.ID)
	}
	outcome, err := o.fileItem(ctx, item, threadID)
	if err != nil {
		if uerr := o.guard.Unclaim(ctx, item.ID); uerr != nil {
			o.logger.WithField("item", item.ID).Error("unclaim failed: %v", uerr)
		}
		return Outcome{}, err
	}
	return outcome, nil
}

// fileItem runs classify -> route -> file for one capture. An InboxLogEntry
// is written whichever way the decision goes.
func (o *Orchestrator) fileItem(ctx context.Context, item core.CaptureItem, threadID string) (Outcome, error) {
	var result core.ClassificationResult
	err := retry.Do(ctx, o.retryCfg, "classify", func(ctx context.Context) error {
		var cerr error
		result, cerr = o.classifier.Classify(ctx, item.Text)
		return cerr
	})
	if err != nil {
		return Outcome{}, fmt.Errorf("classify: %w", err)
	}

	decision := router.Route(item, result, o.threshold)

	entry := &core.InboxLogEntry{
		SourceID:     item.ID,
		Source:       item.Source,
		CapturedText: decision.Text,
		Category:     decision.Category,
		Title:        decision.Title,
		Confidence:   decision.Confidence,
		ThreadID:     threadID,
	}

	if !decision.Accept {
		entry.Status = core.InboxNeedsReview
		if err := o.inbox.Append(ctx, entry); err != nil {
			return Outcome{}, fmt.Errorf("append inbox entry: %w", err)
		}
		o.notify(ctx, "notify_needs_review", func(ctx context.Context) error {
			return o.notifier.NotifyNeedsReview(ctx, entry)
		})
		return Outcome{Status: core.InboxNeedsReview, Entry: entry}, nil
	}

	record, err := o.createRecord(ctx, decision)
	if err != nil {
		return Outcome{}, fmt.Errorf("create record: %w", err)
	}

	entry.Status = core.InboxFiled
	entry.RecordID = record.ID
	if err := o.inbox.Append(ctx, entry); err != nil {
		return Outcome{}, fmt.Errorf("append inbox entry: %w", err)
	}
	o.notify(ctx, "notify_filed", func(ctx context.Context) error {
		return o.notifier.NotifyFiled(ctx, record, decision.Confidence)
	})
	return Outcome{Status: core.InboxFiled, Record: record, Entry: entry}, nil
}

// Refile files a reviewed capture under a user-chosen category, bypassing the
// classifier, and flips its inbox entry to filed. Powers "fix: <category>".
func (o *Orchestrator) Refile(ctx context.Context, entry *core.InboxLogEntry, category core.Category) (*core.Record, error) {
	if !category.Valid() {
		return nil, fmt.Errorf("%w: %q", core.ErrInvalidCategory, category)
	}

	title := classify.SimpleTitle(entry.CapturedText)
	decision := router.Decision{
		Category: category,
		Title:    title,
		Fields:   classify.TemplateFields(category, title, entry.CapturedText, time.Now().UTC()),
	}

	record, err := o.createRecord(ctx, decision)
	if err != nil {
		return nil, fmt.Errorf("create record: %w", err)
	}
	if err := o.inbox.MarkFiled(ctx, entry.ID, record.ID); err != nil {
		return nil, fmt.Errorf("mark filed: %w", err)
	}
	o.notify(ctx, "notify_filed", func(ctx context.Context) error {
		return o.notifier.NotifyFiled(ctx, record, 1)
	})
	return record, nil
}

// createRecord applies per-category field fixups and persists the record.
func (o *Orchestrator) createRecord(ctx context.Context, decision router.Decision) (*core.Record, error) {
	fields := make(map[string]string, len(decision.Fields)+1)
	for k, v := range decision.Fields {
		fields[k] = v
	}
	if fields["name"] == "" && fields["title"] == "" {
		fields["name"] = decision.Title
	}
	switch decision.Category {
	case core.CategoryPerson:
		// Filing counts as touching the person.
		fields["last_touched"] = time.Now().UTC().Format("2006-01-02")
	case core.CategoryAdmin:
		if !reasonableDueDate(fields["due_date"]) {
			fields["due_date"] = ""
		}
	}

	var record *core.Record
	err := retry.Do(ctx, o.retryCfg, "store_record", func(ctx context.Context) error {
		var cerr error
		record, cerr = o.records.Create(ctx, decision.Category, fields)
		return cerr
	})
	return record, err
}

// notify runs a notifier call with retries. A capture that is already filed
// stays filed even if every delivery attempt fails, so exhaustion here is
// logged rather than surfaced as an item failure.
func (o *Orchestrator) notify(ctx context.Context, op string, fn func(ctx context.Context) error) {
	if err := retry.Do(ctx, o.retryCfg, op, fn); err != nil {
		o.logger.WithField("op", op).Warn("notification failed: %v", err)
	}
}

// reasonableDueDate accepts only a parseable date that is not in the past.
// Classifiers hallucinate stale dates; an empty due_date beats a wrong one.
func reasonableDueDate(value string) bool {
	if value == "" {
		return false
	}
	due, err := time.Parse("2006-01-02", value)
	if err != nil {
		return false
	}
	today := time.Now().UTC().Truncate(24 * time.Hour)
	return !due.Before(today)
}
