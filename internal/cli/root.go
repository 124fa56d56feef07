package cli

import (
	"fmt"
	"io"
	"os"

	"github.com/kskip310/luminous/internal/config"
	"github.com/kskip310/luminous/internal/logger"
	"github.com/spf13/cobra"
)

const version = "0.1.0"

// rootOptions holds the global flags shared by every command.
type rootOptions struct {
	cfgFile  string
	logLevel string
}

// NewRootCmd builds the command tree.
func NewRootCmd() *cobra.Command {
	opts := &rootOptions{}

	cmd := &cobra.Command{
		Use:   "luminous",
		Short: "Luminous - a persistent conversational agent runtime",
		Long: `Luminous runs a tool-using conversational agent whose state survives
restarts. The worker serves a websocket gateway for the UI, persists state to a
local sqlite tier and an optional remote tier, and keeps them in sync.`,
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.PersistentFlags().StringVar(&opts.cfgFile, "config", "", "config file (default is $HOME/.luminous/luminous.json)")
	cmd.PersistentFlags().StringVar(&opts.logLevel, "log-level", "", "override the configured log level (debug, info, warn, error)")
	cmd.SetVersionTemplate(`{{with .Name}}{{printf "%s " .}}{{end}}{{printf "version %s" .Version}}
`)

	cmd.AddCommand(
		newInitCmd(opts),
		newWorkerCmd(opts),
		newStatusCmd(opts),
		newStopCmd(opts),
		newExportCmd(opts),
		newImportCmd(opts),
		newHistoryCmd(opts),
	)
	return cmd
}

// Execute runs the CLI.
func Execute() error {
	cmd := NewRootCmd()
	if err := cmd.Execute(); err != nil {
		fmt.Fprintln(cmd.ErrOrStderr(), "Error:", err)
		return err
	}
	return nil
}

// GetRootCmd returns a fresh root command for testing
func GetRootCmd() *cobra.Command {
	return NewRootCmd()
}

// GetVersion returns the current version
func GetVersion() string {
	return version
}

// loadConfig loads the config file with environment overrides and the
// --log-level flag applied.
func (o *rootOptions) loadConfig() (*config.Config, *config.Loader, error) {
	loader := config.NewLoader(o.cfgFile)
	cfg, err := loader.Load()
	if err != nil {
		return nil, nil, err
	}
	if o.logLevel != "" {
		cfg.Logging.Level = o.logLevel
	}
	return cfg, loader, nil
}

// commandLogger is the logger for short-lived commands: warnings and
// errors only, on stderr.
func (o *rootOptions) commandLogger(cfg *config.Config, out io.Writer) (*logger.Logger, error) {
	level := "warn"
	if o.logLevel != "" {
		level = o.logLevel
	}
	if out == nil {
		out = os.Stderr
	}
	return logger.New(logger.Config{
		Level:     level,
		Console:   true,
		Pretty:    true,
		Output:    out,
		Redaction: cfg.Logging.Redaction,
		Secrets:   []string{cfg.Model.APIKey, cfg.Remote.Token, cfg.Gateway.SharedSecret},
	})
}
