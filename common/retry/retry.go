// Package retry runs an operation repeatedly with exponential backoff until
// it succeeds, the attempt budget is spent, or the context is cancelled.
//
// The agent uses it for calls that are expected to fail transiently, such as
// registering with the Core control plane while it is still coming up:
//
//	err := retry.Do(ctx, retry.Config{MaxAttempts: 5, InitialDelay: time.Second}, func() error {
//	    return client.Register(ctx, req)
//	})
package retry

import (
	"context"
	"errors"
	"log/slog"
	"time"
)

// Config controls the retry behaviour.
type Config struct {
	// MaxAttempts is the total number of attempts (including the first).
	// Zero or negative values are treated as 1 (no retries).
	MaxAttempts int
	// InitialDelay is the wait before the second attempt.
	// Subsequent delays double up to MaxDelay.
	InitialDelay time.Duration
	// MaxDelay caps the per-attempt wait.
	MaxDelay time.Duration
	// ShouldRetry is an optional predicate that lets callers classify errors
	// as retryable. When nil, every non-nil error is retried.
	ShouldRetry func(err error) bool
}

const (
	fallbackInitialDelay = 500 * time.Millisecond
	fallbackMaxDelay     = 10 * time.Second
)

// Do calls fn up to cfg.MaxAttempts times, backing off exponentially between
// attempts. It stops early when ctx is cancelled or fn returns nil.
// The error from the last attempt is returned.
func Do(ctx context.Context, cfg Config, fn func() error) error {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 1
	}
	if cfg.InitialDelay <= 0 {
		cfg.InitialDelay = fallbackInitialDelay
	}
	if cfg.MaxDelay <= 0 {
		cfg.MaxDelay = fallbackMaxDelay
	}
	shouldRetry := cfg.ShouldRetry
	if shouldRetry == nil {
		shouldRetry = func(error) bool { return true }
	}

	delay := cfg.InitialDelay
	var lastErr error

	for attempt := 1; attempt <= cfg.MaxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return errors.Join(lastErr, err)
		}

		lastErr = fn()
		if lastErr == nil {
			return nil
		}
		if !shouldRetry(lastErr) {
			return lastErr
		}

		if attempt == cfg.MaxAttempts {
			break
		}
		slog.Debug("retry: attempt failed",
			"attempt", attempt, "max", cfg.MaxAttempts,
			"err", lastErr, "next_delay", delay)

		select {
		case <-ctx.Done():
			return errors.Join(lastErr, ctx.Err())
		case <-time.After(delay):
		}

		delay = min(delay*2, cfg.MaxDelay)
	}

	return lastErr
}
