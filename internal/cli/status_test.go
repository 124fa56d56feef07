package cli

import (
	"os"
	"path/filepath"
	"strconv"
	"testing"
	"time"

	"github.com/kskip310/luminous/internal/daemon"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStatusCommand(t *testing.T) {
	t.Run("command exists", func(t *testing.T) {
		cmd := GetRootCmd()
		found, _, err := cmd.Find([]string{"status"})
		require.NoError(t, err)
		assert.Equal(t, "status", found.Name())
	})

	t.Run("should report stopped without a pid file", func(t *testing.T) {
		path, _ := writeTestConfig(t)

		out, err := run(t, "--config", path, "status")
		require.NoError(t, err)
		assert.Contains(t, out, "Status: stopped")
	})

	t.Run("should report a live worker", func(t *testing.T) {
		path, cfg := writeTestConfig(t)
		require.NoError(t, os.MkdirAll(cfg.DataDir, 0o700))
		pidFile := daemon.PIDPath(cfg.DataDir)
		require.NoError(t, os.WriteFile(pidFile, []byte(strconv.Itoa(os.Getpid())), 0o600))

		out, err := run(t, "--config", path, "status")
		require.NoError(t, err)
		assert.Contains(t, out, "Status: running")
		assert.Contains(t, out, "PID: "+strconv.Itoa(os.Getpid()))
		assert.Contains(t, out, "Identity: alice")
	})

	t.Run("should ignore a stale pid file", func(t *testing.T) {
		path, cfg := writeTestConfig(t)
		require.NoError(t, os.MkdirAll(cfg.DataDir, 0o700))
		require.NoError(t, os.WriteFile(filepath.Join(cfg.DataDir, daemon.PIDFile), []byte("not-a-pid"), 0o600))

		out, err := run(t, "--config", path, "status")
		require.NoError(t, err)
		assert.Contains(t, out, "Status: stopped")
	})
}

func TestStopCommand(t *testing.T) {
	t.Run("command exists", func(t *testing.T) {
		cmd := GetRootCmd()
		found, _, err := cmd.Find([]string{"stop"})
		require.NoError(t, err)
		assert.Equal(t, "stop", found.Name())

		timeout := found.Flags().Lookup("timeout")
		require.NotNil(t, timeout)
		assert.Equal(t, "30s", timeout.DefValue)
	})

	t.Run("should do nothing when no worker runs", func(t *testing.T) {
		path, _ := writeTestConfig(t)

		out, err := run(t, "--config", path, "stop")
		require.NoError(t, err)
		assert.Contains(t, out, "Worker is not running")
	})
}

func TestFormatDuration(t *testing.T) {
	tests := []struct {
		name     string
		duration time.Duration
		want     string
	}{
		{"seconds only", 45 * time.Second, "45s"},
		{"minutes and seconds", 5*time.Minute + 30*time.Second, "5m30s"},
		{"hours, minutes, seconds", 2*time.Hour + 15*time.Minute + 30*time.Second, "2h15m30s"},
		{"rounds to seconds", 1500 * time.Millisecond, "2s"},
		{"zero", 0, "0s"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, formatDuration(tt.duration))
		})
	}
}
