package cli

import (
	"fmt"
	"os"
	"syscall"
	"time"

	"github.com/kskip310/luminous/internal/daemon"
	"github.com/spf13/cobra"
)

func newStopCmd(opts *rootOptions) *cobra.Command {
	var timeout time.Duration

	cmd := &cobra.Command{
		Use:   "stop",
		Short: "Stop a running worker",
		Long: `Stop the worker gracefully.
Sends SIGTERM and waits; sends SIGKILL when the timeout expires.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, _, err := opts.loadConfig()
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()

			pid, running := daemon.Running(cfg.DataDir)
			if !running {
				fmt.Fprintln(out, "Worker is not running")
				return nil
			}

			process, err := os.FindProcess(pid)
			if err != nil {
				return fmt.Errorf("failed to find process: %w", err)
			}
			if err := process.Signal(syscall.SIGTERM); err != nil {
				return fmt.Errorf("failed to send SIGTERM: %w", err)
			}

			deadline := time.Now().Add(timeout)
			for time.Now().Before(deadline) {
				if !daemon.ProcessAlive(pid) {
					fmt.Fprintln(out, "Worker stopped")
					return nil
				}
				time.Sleep(100 * time.Millisecond)
			}

			fmt.Fprintln(out, "Timeout reached, sending SIGKILL...")
			if err := process.Signal(syscall.SIGKILL); err != nil {
				return fmt.Errorf("failed to send SIGKILL: %w", err)
			}
			os.Remove(daemon.PIDPath(cfg.DataDir))
			fmt.Fprintln(out, "Worker killed")
			return nil
		},
	}

	cmd.Flags().DurationVar(&timeout, "timeout", 30*time.Second, "time to wait for the worker to stop")
	return cmd
}
