package toolexecutor

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"time"

	"github.com/kskip310/luminous/internal/observability"
	"github.com/rs/zerolog"
)

// StatusError is a response from a remote service with a non-success
// status code.
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("remote returned status %d", e.StatusCode)
	}
	return fmt.Sprintf("remote returned status %d: %s", e.StatusCode, e.Body)
}

type transientError struct {
	err error
}

func (e *transientError) Error() string { return e.err.Error() }
func (e *transientError) Unwrap() error { return e.err }

// Transient marks err as worth retrying, e.g. a connection reset.
func Transient(err error) error {
	if err == nil {
		return nil
	}
	return &transientError{err: err}
}

// IsRetryable reports whether err is a server-class failure or was marked
// transient. Client-class failures and unclassified errors are final.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	var se *StatusError
	if errors.As(err, &se) {
		return se.StatusCode >= 500 && se.StatusCode < 600
	}
	var te *transientError
	return errors.As(err, &te)
}

// RetryPolicy bounds the retry loop.
type RetryPolicy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxJitter   time.Duration
	// Operation labels retries in metrics and logs.
	Operation string
	Logger    zerolog.Logger
}

// DefaultRetryPolicy is three attempts starting at 500ms.
func DefaultRetryPolicy(operation string) RetryPolicy {
	return RetryPolicy{
		MaxAttempts: 3,
		BaseDelay:   500 * time.Millisecond,
		MaxJitter:   250 * time.Millisecond,
		Operation:   operation,
		Logger:      zerolog.Nop(),
	}
}

// Delay returns the wait before retry number attempt (0-based):
// base × 2^attempt plus up to MaxJitter.
func (p RetryPolicy) Delay(attempt int) time.Duration {
	d := p.BaseDelay * time.Duration(1<<attempt)
	if p.MaxJitter > 0 {
		d += time.Duration(rand.Int64N(int64(p.MaxJitter)))
	}
	return d
}

// Retry runs op until it succeeds, returns a non-retryable error, the
// attempts run out, or ctx ends.
func Retry(ctx context.Context, p RetryPolicy, op func(ctx context.Context) error) error {
	attempts := p.MaxAttempts
	if attempts <= 0 {
		attempts = 3
	}

	var lastErr error
	for attempt := 0; attempt < attempts; attempt++ {
		lastErr = op(ctx)
		if lastErr == nil {
			return nil
		}
		if !IsRetryable(lastErr) {
			return lastErr
		}
		if attempt == attempts-1 {
			break
		}

		delay := p.Delay(attempt)
		observability.RecordToolRetry(p.Operation)
		p.Logger.Info().
			Str("operation", p.Operation).
			Int("attempt", attempt+1).
			Dur("delay", delay).
			Err(lastErr).
			Msg("Retrying after error")

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
	return fmt.Errorf("max attempts (%d) exceeded: %w", attempts, lastErr)
}
