// Package notify delivers filed/review/digest messages to wherever the user
// listens.
package notify

import (
	"context"
	"fmt"

	"github.com/secondbrain-hq/secondbrain/internal/core"
	"github.com/secondbrain-hq/secondbrain/internal/logging"
)

// Console writes notifications to the log. The default for CLI usage and the
// fallback when no chat room is configured.
type Console struct {
	logger *logging.Logger
}

// NewConsole creates a console notifier.
func NewConsole(logger *logging.Logger) *Console {
	if logger == nil {
		logger = logging.Default()
	}
	return &Console{logger: logger}
}

func (c *Console) NotifyFiled(_ context.Context, record *core.Record, confidence float64) error {
	c.logger.Info("Filed as %s: %s (%.2f)", record.Category, record.Title(), confidence)
	return nil
}

func (c *Console) NotifyNeedsReview(_ context.Context, entry *core.InboxLogEntry) error {
	c.logger.Info("Needs review: '%s' (%s, %.2f)", entry.Title, entry.Category, entry.Confidence)
	return nil
}

func (c *Console) NotifyDigest(_ context.Context, _ core.DigestKind, message string) error {
	fmt.Println(message)
	return nil
}

func (c *Console) Reply(_ context.Context, threadID, message string) error {
	c.logger.WithField("thread", threadID).Info("%s", message)
	return nil
}
