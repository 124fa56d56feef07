package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewWatcher(t *testing.T) {
	t.Run("should require a path and callback", func(t *testing.T) {
		_, err := NewWatcher(WatcherConfig{OnChange: func(*Config) {}})
		assert.Error(t, err)

		_, err = NewWatcher(WatcherConfig{Path: "luminous.json"})
		assert.Error(t, err)
	})
}

func TestWatcher(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "luminous.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"data_dir": "`+dir+`"}`), 0o600))

	changes := make(chan *Config, 4)
	w, err := NewWatcher(WatcherConfig{
		Path:     path,
		Debounce: 20 * time.Millisecond,
		OnChange: func(cfg *Config) { changes <- cfg },
		Logger:   zerolog.Nop(),
	})
	require.NoError(t, err)
	require.NoError(t, w.Start())
	t.Cleanup(func() { w.Stop() })

	t.Run("should reload on write", func(t *testing.T) {
		require.NoError(t, os.WriteFile(path, []byte(`{"data_dir": "`+dir+`", "logging": {"level": "debug"}}`), 0o600))

		select {
		case cfg := <-changes:
			assert.Equal(t, "debug", cfg.Logging.Level)
		case <-time.After(3 * time.Second):
			t.Fatal("no reload")
		}
	})

	t.Run("should skip an invalid reload", func(t *testing.T) {
		require.NoError(t, os.WriteFile(path, []byte(`{"data_dir": "`+dir+`", "logging": {"level": "loud"}}`), 0o600))

		select {
		case cfg := <-changes:
			t.Fatalf("unexpected reload with level %s", cfg.Logging.Level)
		case <-time.After(300 * time.Millisecond):
		}
	})

	t.Run("should ignore sibling files", func(t *testing.T) {
		require.NoError(t, os.WriteFile(filepath.Join(dir, "other.json"), []byte(`{}`), 0o600))

		select {
		case <-changes:
			t.Fatal("unexpected reload")
		case <-time.After(200 * time.Millisecond):
		}
	})
}
