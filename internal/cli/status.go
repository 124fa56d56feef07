package cli

import (
	"fmt"
	"os"
	"time"

	"github.com/kskip310/luminous/internal/daemon"
	"github.com/spf13/cobra"
)

func newStatusCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show worker status",
		Long:  `Show whether a worker owns the configured data directory.`,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, _, err := opts.loadConfig()
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()

			pid, running := daemon.Running(cfg.DataDir)
			if !running {
				fmt.Fprintln(out, "Status: stopped")
				return nil
			}

			fmt.Fprintln(out, "Status: running")
			fmt.Fprintf(out, "PID: %d\n", pid)
			if info, err := os.Stat(daemon.PIDPath(cfg.DataDir)); err == nil {
				fmt.Fprintf(out, "Uptime: %s\n", formatDuration(time.Since(info.ModTime())))
			}
			fmt.Fprintf(out, "Identity: %s\n", cfg.Identity)
			fmt.Fprintf(out, "Gateway: %s:%d\n", cfg.Gateway.Host, cfg.Gateway.Port)
			return nil
		},
	}
}

func formatDuration(d time.Duration) string {
	d = d.Round(time.Second)
	h := d / time.Hour
	d -= h * time.Hour
	m := d / time.Minute
	d -= m * time.Minute
	s := d / time.Second

	if h > 0 {
		return fmt.Sprintf("%dh%dm%ds", h, m, s)
	}
	if m > 0 {
		return fmt.Sprintf("%dm%ds", m, s)
	}
	return fmt.Sprintf("%ds", s)
}
