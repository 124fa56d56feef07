package tracing

import (
	"bytes"
	"context"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
)

func TestTurnContext(t *testing.T) {
	t.Run("should carry identity and fresh ids", func(t *testing.T) {
		ctx := NewTurnContext(context.Background(), "alice")

		tc := FromContext(ctx)
		assert.Equal(t, "alice", tc.Identity)
		assert.NotEmpty(t, tc.TraceID)
		assert.NotEmpty(t, tc.TurnID)
	})

	t.Run("should keep an existing trace id", func(t *testing.T) {
		ctx := WithTraceID(context.Background(), "trace-1")
		ctx = NewTurnContext(ctx, "bob")

		assert.Equal(t, "trace-1", GetTraceID(ctx))
	})

	t.Run("should return empty values for a bare context", func(t *testing.T) {
		tc := FromContext(context.Background())
		assert.Empty(t, tc.TraceID)
		assert.Empty(t, tc.Identity)
	})
}

func TestLoggerFromContext(t *testing.T) {
	t.Run("should add tracing fields", func(t *testing.T) {
		var buf bytes.Buffer
		base := zerolog.New(&buf)
		ctx := WithRequestID(WithIdentity(context.Background(), "alice"), "req-9")

		logger := LoggerFromContext(ctx, base)
		logger.Info().Msg("hello")

		assert.Contains(t, buf.String(), `"identity":"alice"`)
		assert.Contains(t, buf.String(), `"request_id":"req-9"`)
		assert.NotContains(t, buf.String(), "turn_id")
	})
}
