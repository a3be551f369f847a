package scheduler

import (
	"context"
	"errors"
	"time"

	"github.com/secondbrain-hq/secondbrain/internal/core"
	"github.com/secondbrain-hq/secondbrain/internal/digest"
	"github.com/secondbrain-hq/secondbrain/internal/pipeline"
	"github.com/secondbrain-hq/secondbrain/internal/storage"
)

// JobOptions supplies the components the standing jobs run against.
type JobOptions struct {
	Digests  *digest.Generator
	Notifier core.Notifier
	Orch     *pipeline.Orchestrator
	States   *storage.StateStore

	DailyAt  string // "HH:MM", empty disables the daily digest
	WeeklyAt string // "HH:MM", empty disables the weekly digest

	// DrainEvery is how often the capture queue is drained. Zero disables.
	DrainEvery time.Duration
}

// RegisterJobs wires the standing jobs onto the scheduler: morning and weekly
// digests, the capture-queue drain, and pending-state pruning.
func RegisterJobs(s *Scheduler, opts JobOptions) error {
	if opts.DailyAt != "" {
		task := DailyTask("digest-daily", "Morning digest", opts.DailyAt, digestJob(opts, core.DigestToday))
		if err := s.Register(task); err != nil {
			return err
		}
	}

	if opts.WeeklyAt != "" {
		task := WeeklyTask("digest-weekly", "Weekly review digest", opts.WeeklyAt,
			[]time.Weekday{time.Friday}, digestJob(opts, core.DigestWeek))
		if err := s.Register(task); err != nil {
			return err
		}
	}

	if opts.DrainEvery > 0 && opts.Orch != nil {
		task := IntervalTask("capture-drain", "Capture queue drain", opts.DrainEvery, func(ctx context.Context) error {
			_, err := opts.Orch.Run(ctx)
			// Overlap with a manual run is not a job failure.
			if errors.Is(err, core.ErrRunInProgress) {
				return nil
			}
			return err
		})
		if err := s.Register(task); err != nil {
			return err
		}
	}

	if opts.States != nil {
		task := IntervalTask("state-prune", "Expired conversation state pruning", 10*time.Minute, func(ctx context.Context) error {
			return opts.States.PruneExpired(ctx)
		})
		if err := s.Register(task); err != nil {
			return err
		}
	}

	return nil
}

func digestJob(opts JobOptions, kind core.DigestKind) TaskHandler {
	return func(ctx context.Context) error {
		refs, err := opts.Digests.Build(ctx, kind, time.Now().UTC())
		if err != nil {
			return err
		}
		return opts.Notifier.NotifyDigest(ctx, kind, digest.Render(kind, refs))
	}
}
