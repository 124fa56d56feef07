package cli

import (
	"context"
	"fmt"
	"time"

	"github.com/kskip310/luminous/internal/daemon"
	"github.com/kskip310/luminous/internal/logger"
	"github.com/spf13/cobra"
)

func newWorkerCmd(opts *rootOptions) *cobra.Command {
	var shutdownTimeout time.Duration

	cmd := &cobra.Command{
		Use:     "worker",
		Aliases: []string{"start"},
		Short:   "Run the agent worker in the foreground",
		Long: `Run the agent worker: load the session, serve the websocket gateway
and keep the state tiers in sync until SIGINT or SIGTERM.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, loader, err := opts.loadConfig()
			if err != nil {
				return err
			}
			if err := cfg.Validate(); err != nil {
				return fmt.Errorf("invalid configuration: %w", err)
			}
			if pid, running := daemon.Running(cfg.DataDir); running {
				return fmt.Errorf("worker is already running (pid %d)", pid)
			}

			log, err := logger.New(logger.Config{
				Level:     cfg.Logging.Level,
				File:      cfg.Logging.File,
				Console:   true,
				Pretty:    cfg.Logging.Pretty,
				Output:    cmd.ErrOrStderr(),
				Redaction: cfg.Logging.Redaction,
				MaxSize:   cfg.Logging.MaxSize,
				MaxAge:    cfg.Logging.MaxAge,
				Compress:  cfg.Logging.Compress,
			})
			if err != nil {
				return fmt.Errorf("failed to create logger: %w", err)
			}
			defer log.Close()

			d, err := daemon.New(cfg, log, daemon.WithConfigPath(loader.GetConfigPath()))
			if err != nil {
				return err
			}
			if err := d.Start(cmd.Context()); err != nil {
				stopCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
				defer cancel()
				d.Stop(stopCtx)
				return err
			}

			fmt.Fprintf(cmd.OutOrStdout(), "Luminous worker listening on %s (identity %s)\n", d.Gateway().Addr(), cfg.Identity)
			return d.Wait(shutdownTimeout)
		},
	}

	cmd.Flags().DurationVar(&shutdownTimeout, "shutdown-timeout", 30*time.Second, "time to wait for in-flight work on shutdown")
	return cmd
}
