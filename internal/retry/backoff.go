// Package retry provides configurable retry logic with backoff for transient
// failures.
package retry

import (
	"context"
	"fmt"
	"time"
)

// Config holds retry configuration. Permanent, when set, classifies errors
// that must not be retried; the loop stops and returns them immediately.
type Config struct {
	MaxAttempts int
	Delays      []time.Duration
	Permanent   func(error) bool
}

// Do executes fn with backoff retry logic. It attempts the function up to
// MaxAttempts times, with delays between attempts. Errors classified as
// permanent are returned as-is without further attempts. If MaxAttempts is
// exceeded, the last error is returned wrapped with context.
func Do(ctx context.Context, cfg Config, fn func() error) error {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 1
	}

	var lastErr error
	for attempt := 0; attempt < cfg.MaxAttempts; attempt++ {
		if attempt > 0 {
			delayIndex := attempt - 1
			if delayIndex >= len(cfg.Delays) {
				delayIndex = len(cfg.Delays) - 1 // Use last delay if we run out
			}
			delay := time.Duration(0)
			if delayIndex >= 0 && len(cfg.Delays) > 0 {
				delay = cfg.Delays[delayIndex]
			}

			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return fmt.Errorf("retry cancelled: %w", ctx.Err())
			}
		}

		err := fn()
		if err == nil {
			return nil
		}
		if cfg.Permanent != nil && cfg.Permanent(err) {
			return err
		}
		lastErr = err
	}

	return fmt.Errorf("failed after %d attempts: %w", cfg.MaxAttempts, lastErr)
}
