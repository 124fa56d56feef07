package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewLoader(t *testing.T) {
	loader := NewLoader("/tmp/luminous.json")
	assert.Equal(t, "/tmp/luminous.json", loader.GetConfigPath())
}

func TestLoaderLoad(t *testing.T) {
	t.Run("should return defaults when the file does not exist", func(t *testing.T) {
		dir := t.TempDir()
		loader := NewLoader(filepath.Join(dir, "missing.json"))

		cfg, err := loader.Load()
		require.NoError(t, err)

		assert.Equal(t, "default", cfg.Identity)
		assert.Equal(t, 8787, cfg.Gateway.Port)
		assert.Equal(t, "*/5 * * * *", cfg.Sync.Schedule)
		assert.NotEmpty(t, cfg.DataDir)
	})

	t.Run("should overlay file values on defaults", func(t *testing.T) {
		dir := t.TempDir()
		path := filepath.Join(dir, "luminous.json")
		content := `{
			"identity": "alice",
			"data_dir": "` + dir + `",
			"model": {"provider": "anthropic", "api_key": "sk-ant-test"},
			"gateway": {"port": 9999}
		}`
		require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

		cfg, err := NewLoader(path).Load()
		require.NoError(t, err)

		assert.Equal(t, "alice", cfg.Identity)
		assert.Equal(t, "anthropic", cfg.Model.Provider)
		assert.Equal(t, "sk-ant-test", cfg.Model.APIKey)
		assert.Equal(t, 9999, cfg.Gateway.Port)
		assert.Equal(t, "127.0.0.1", cfg.Gateway.Host)
		assert.Equal(t, 10, cfg.Model.MaxLoops)
		assert.Equal(t, filepath.Join(dir, "luminous.log"), cfg.Logging.File)
	})

	t.Run("should apply environment overrides", func(t *testing.T) {
		dir := t.TempDir()
		path := filepath.Join(dir, "luminous.json")
		require.NoError(t, os.WriteFile(path, []byte(`{"model": {"api_key": "from-file"}}`), 0o600))
		t.Setenv("LUMINOUS_MODEL_API_KEY", "from-env")
		t.Setenv("LUMINOUS_GATEWAY_PORT", "7000")

		cfg, err := NewLoader(path).Load()
		require.NoError(t, err)

		assert.Equal(t, "from-env", cfg.Model.APIKey)
		assert.Equal(t, 7000, cfg.Gateway.Port)
	})

	t.Run("should fail on invalid JSON", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "luminous.json")
		require.NoError(t, os.WriteFile(path, []byte("{invalid"), 0o600))

		_, err := NewLoader(path).Load()
		assert.Error(t, err)
	})
}

func TestLoaderSave(t *testing.T) {
	t.Run("should round trip through the file", func(t *testing.T) {
		dir := t.TempDir()
		path := filepath.Join(dir, "nested", "luminous.json")
		loader := NewLoader(path)

		cfg := validConfig()
		cfg.DataDir = dir
		cfg.Identity = "bob"
		cfg.Remote.URL = "https://kv.example.com"
		cfg.Remote.Token = "token"
		require.NoError(t, loader.Save(cfg))

		info, err := os.Stat(path)
		require.NoError(t, err)
		assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())

		loaded, err := loader.Load()
		require.NoError(t, err)
		assert.Equal(t, "bob", loaded.Identity)
		assert.Equal(t, "https://kv.example.com", loaded.Remote.URL)
		assert.Equal(t, cfg.Gateway.SharedSecret, loaded.Gateway.SharedSecret)
		assert.Equal(t, cfg.Tools.MaxBodyBytes, loaded.Tools.MaxBodyBytes)
	})
}

func TestLoaderGetConfigPath(t *testing.T) {
	t.Run("should use a custom path", func(t *testing.T) {
		assert.Equal(t, "/custom/path.json", NewLoader("/custom/path.json").GetConfigPath())
	})

	t.Run("should default under the home directory", func(t *testing.T) {
		home, err := os.UserHomeDir()
		require.NoError(t, err)
		assert.Equal(t, filepath.Join(home, ".luminous", "luminous.json"), NewLoader("").GetConfigPath())
	})
}
