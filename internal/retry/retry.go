// Package retry wraps external calls with bounded exponential backoff.
package retry

import (
	"context"
	"time"

	"github.com/secondbrain-hq/secondbrain/internal/core"
	"github.com/secondbrain-hq/secondbrain/internal/logging"
)

// Config bounds a retry loop.
type Config struct {
	MaxAttempts int           // total attempts, including the first
	BackoffBase time.Duration // wait before attempt 2; doubles each retry
	MaxBackoff  time.Duration // cap on a single wait
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		MaxAttempts: 4,
		BackoffBase: 500 * time.Millisecond,
		MaxBackoff:  8 * time.Second,
	}
}

func (c Config) normalized() Config {
	if c.MaxAttempts < 1 {
		c.MaxAttempts = 1
	}
	if c.BackoffBase <= 0 {
		c.BackoffBase = 500 * time.Millisecond
	}
	if c.MaxBackoff <= 0 {
		c.MaxBackoff = 8 * time.Second
	}
	return c
}

// Do runs fn until it succeeds, fails permanently, or attempts are exhausted.
// Only errors marked transient (core.Transient) are retried; the last error is
// returned on exhaustion. Context cancellation stops the loop immediately.
func Do(ctx context.Context, cfg Config, op string, fn func(ctx context.Context) error) error {
	cfg = cfg.normalized()

	var err error
	wait := cfg.BackoffBase
	for attempt := 1; attempt <= cfg.MaxAttempts; attempt++ {
		err = fn(ctx)
		if err == nil {
			return nil
		}
		if !core.IsTransient(err) {
			return err
		}
		if attempt == cfg.MaxAttempts {
			break
		}

		logging.WithFields(map[string]interface{}{
			"op":      op,
			"attempt": attempt,
			"wait":    wait,
		}).Warn("transient failure, retrying: %v", err)

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(wait):
		}
		wait *= 2
		if wait > cfg.MaxBackoff {
			wait = cfg.MaxBackoff
		}
	}
	return err
}
