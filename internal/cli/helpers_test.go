package cli

import (
	"bytes"
	"path/filepath"
	"testing"

	"github.com/kskip310/luminous/internal/config"
	"github.com/stretchr/testify/require"
)

// writeTestConfig saves a valid config with its data dir under a temp dir
// and returns the config path.
func writeTestConfig(t *testing.T) (string, *config.Config) {
	t.Helper()
	dir := t.TempDir()
	cfg := config.DefaultConfig()
	cfg.Identity = "alice"
	cfg.DataDir = filepath.Join(dir, "data")
	cfg.Model.APIKey = "test-key"
	cfg.Gateway.SharedSecret = "test-secret"

	path := filepath.Join(dir, "luminous.json")
	require.NoError(t, config.NewLoader(path).Save(cfg))
	return path, cfg
}

// run executes the CLI with args and returns stdout.
func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := GetRootCmd()
	cmd.SetArgs(args)
	out := &bytes.Buffer{}
	cmd.SetOut(out)
	cmd.SetErr(&bytes.Buffer{})
	err := cmd.Execute()
	return out.String(), err
}
