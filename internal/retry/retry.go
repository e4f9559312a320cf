// Package retry provides a bounded retry-with-backoff wrapper used by every
// remote call in the automation core.
package retry

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/postpilot/postpilot/internal/breaker"
)

// ErrExhausted matches (via errors.Is) the error returned once MaxAttempts
// is reached.
var ErrExhausted = errors.New("retries exhausted")

// ExhaustedError carries the last underlying error after the retry budget
// is spent. errors.Is(err, ErrExhausted) and errors.Is/As against the
// underlying error both work.
type ExhaustedError struct {
	Attempts int
	Last     error
}

func (e *ExhaustedError) Error() string {
	return fmt.Sprintf("retries exhausted after %d attempts: %v", e.Attempts, e.Last)
}

func (e *ExhaustedError) Unwrap() error { return e.Last }

func (e *ExhaustedError) Is(target error) bool { return target == ErrExhausted }

// Options configures a retry run.
type Options struct {
	MaxAttempts  int
	InitialDelay time.Duration
	Multiplier   float64
	MaxDelay     time.Duration
	// ShouldRetry classifies errors; nil means retry everything. A
	// breaker-open signal is never retried regardless of the classifier.
	ShouldRetry func(error) bool
}

// Do invokes op, retrying on failure with exponential backoff
// (InitialDelay * Multiplier^(attempt-1), capped at MaxDelay) until it
// succeeds, the classifier rejects the error, ctx is cancelled, or
// MaxAttempts is reached.
func Do(ctx context.Context, op func() error, opts Options) error {
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = 3
	}
	if opts.InitialDelay <= 0 {
		opts.InitialDelay = time.Second
	}
	if opts.Multiplier < 1 {
		opts.Multiplier = 2
	}

	delay := opts.InitialDelay
	var lastErr error

	for attempt := 1; attempt <= opts.MaxAttempts; attempt++ {
		lastErr = op()
		if lastErr == nil {
			return nil
		}

		// The breaker's open signal is definitionally non-retryable: the
		// dependency is gated and the scheduler should defer, not burn budget.
		if errors.Is(lastErr, breaker.ErrOpen) {
			return lastErr
		}
		if opts.ShouldRetry != nil && !opts.ShouldRetry(lastErr) {
			return lastErr
		}
		if attempt == opts.MaxAttempts {
			break
		}

		wait := delay
		if opts.MaxDelay > 0 && wait > opts.MaxDelay {
			wait = opts.MaxDelay
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(wait):
		}
		delay = time.Duration(float64(delay) * opts.Multiplier)
	}

	return &ExhaustedError{Attempts: opts.MaxAttempts, Last: lastErr}
}
