package toolexecutor

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fastPolicy() RetryPolicy {
	return RetryPolicy{MaxAttempts: 3, BaseDelay: time.Millisecond, MaxJitter: time.Millisecond, Operation: "test", Logger: zerolog.Nop()}
}

func TestIsRetryable(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{name: "nil", err: nil, want: false},
		{name: "server error", err: &StatusError{StatusCode: 503}, want: true},
		{name: "wrapped server error", err: errors.Join(errors.New("ctx"), &StatusError{StatusCode: 500}), want: true},
		{name: "client error", err: &StatusError{StatusCode: 404}, want: false},
		{name: "rate limited", err: &StatusError{StatusCode: 429}, want: false},
		{name: "transient", err: Transient(errors.New("connection reset")), want: true},
		{name: "plain", err: errors.New("dns failure"), want: false},
		{name: "cancelled", err: context.Canceled, want: false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, IsRetryable(tt.err))
		})
	}
}

func TestRetry(t *testing.T) {
	ctx := context.Background()

	t.Run("should retry server errors up to the attempt limit", func(t *testing.T) {
		calls := 0
		err := Retry(ctx, fastPolicy(), func(ctx context.Context) error {
			calls++
			return &StatusError{StatusCode: 502}
		})

		require.Error(t, err)
		assert.Equal(t, 3, calls)
		var se *StatusError
		assert.ErrorAs(t, err, &se)
	})

	t.Run("should stop on success", func(t *testing.T) {
		calls := 0
		err := Retry(ctx, fastPolicy(), func(ctx context.Context) error {
			calls++
			if calls < 2 {
				return &StatusError{StatusCode: 500}
			}
			return nil
		})

		require.NoError(t, err)
		assert.Equal(t, 2, calls)
	})

	t.Run("should not retry client errors", func(t *testing.T) {
		calls := 0
		err := Retry(ctx, fastPolicy(), func(ctx context.Context) error {
			calls++
			return &StatusError{StatusCode: 400}
		})

		require.Error(t, err)
		assert.Equal(t, 1, calls)
	})

	t.Run("should not retry unclassified errors", func(t *testing.T) {
		calls := 0
		_ = Retry(ctx, fastPolicy(), func(ctx context.Context) error {
			calls++
			return errors.New("no such host")
		})
		assert.Equal(t, 1, calls)
	})

	t.Run("should stop when the context ends", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		p := fastPolicy()
		p.BaseDelay = time.Hour
		calls := 0

		err := Retry(ctx, p, func(ctx context.Context) error {
			calls++
			cancel()
			return Transient(errors.New("reset"))
		})

		assert.ErrorIs(t, err, context.Canceled)
		assert.Equal(t, 1, calls)
	})
}

func TestRetryPolicy_Delay(t *testing.T) {
	t.Run("should grow exponentially within the jitter bound", func(t *testing.T) {
		p := RetryPolicy{BaseDelay: 100 * time.Millisecond, MaxJitter: 10 * time.Millisecond}
		for attempt, base := range []time.Duration{100, 200, 400} {
			d := p.Delay(attempt)
			assert.GreaterOrEqual(t, d, base*time.Millisecond)
			assert.Less(t, d, base*time.Millisecond+10*time.Millisecond)
		}
	})
}
