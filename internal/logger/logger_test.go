package logger

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew(t *testing.T) {
	t.Run("should write to the console output", func(t *testing.T) {
		var buf bytes.Buffer
		l, err := New(Config{Level: "info", Console: true, Output: &buf})
		require.NoError(t, err)
		defer l.Close()

		zl := l.GetZerolog()
		zl.Info().Str("identity", "alice").Msg("hello")
		assert.Contains(t, buf.String(), `"identity":"alice"`)
		assert.Contains(t, buf.String(), `"message":"hello"`)
	})

	t.Run("should write to a rotating file", func(t *testing.T) {
		logFile := filepath.Join(t.TempDir(), "logs", "luminous.log")
		l, err := New(Config{Level: "debug", File: logFile, MaxSize: 1})
		require.NoError(t, err)

		zl := l.GetZerolog()
		zl.Debug().Msg("to file")
		require.NoError(t, l.Close())

		content, err := os.ReadFile(logFile)
		require.NoError(t, err)
		assert.Contains(t, string(content), "to file")
	})

	t.Run("should redact configured secrets", func(t *testing.T) {
		var buf bytes.Buffer
		l, err := New(Config{Console: true, Output: &buf, Redaction: true, Secrets: []string{"remote-token-123"}})
		require.NoError(t, err)
		l.AddSecret("shared-secret-456")

		zl := l.GetZerolog()
		zl.Info().Str("token", "remote-token-123").Msg("remote configured")
		zl.Info().Msg("secret is shared-secret-456")

		assert.NotContains(t, buf.String(), "remote-token-123")
		assert.NotContains(t, buf.String(), "shared-secret-456")
		assert.Contains(t, buf.String(), "[REDACTED]")
	})

	t.Run("should fall back to info on a bad level", func(t *testing.T) {
		l, err := New(Config{Level: "loud", Output: &bytes.Buffer{}})
		require.NoError(t, err)
		assert.Equal(t, zerolog.InfoLevel, l.Level())
	})
}

func TestSetLevel(t *testing.T) {
	var buf bytes.Buffer
	l, err := New(Config{Level: "info", Console: true, Output: &buf})
	require.NoError(t, err)
	child := l.Component("agent")

	t.Run("should drop events below the level", func(t *testing.T) {
		child.Debug().Msg("hidden")
		assert.NotContains(t, buf.String(), "hidden")
	})

	t.Run("should apply to loggers already handed out", func(t *testing.T) {
		require.NoError(t, l.SetLevel("debug"))
		child.Debug().Msg("visible")
		assert.Contains(t, buf.String(), "visible")
		assert.Contains(t, buf.String(), `"component":"agent"`)
	})

	t.Run("should reject unknown levels", func(t *testing.T) {
		assert.Error(t, l.SetLevel("loud"))
		assert.Equal(t, zerolog.DebugLevel, l.Level())
	})
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	assert.Equal(t, "info", cfg.Level)
	assert.True(t, cfg.Console)
	assert.True(t, cfg.Redaction)
	assert.Equal(t, 100, cfg.MaxSize)
}
