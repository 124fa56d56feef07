package cli

import (
	"errors"
	"fmt"
	"os"

	"github.com/kskip310/luminous/internal/daemon"
	"github.com/kskip310/luminous/pkg/snapshot"
	"github.com/spf13/cobra"
)

func newImportCmd(opts *rootOptions) *cobra.Command {
	var identity string

	cmd := &cobra.Command{
		Use:   "import <file>",
		Short: "Restore an identity from a snapshot",
		Long: `Replace the stored agent state and message history of an identity with a
snapshot produced by export. The worker must be stopped; a running worker
restores snapshots through the state.restore gateway method instead.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := os.ReadFile(args[0])
			if err != nil {
				return fmt.Errorf("failed to read snapshot: %w", err)
			}

			// The worker caches state in memory and would overwrite the import.
			cfg, _, err := opts.loadConfig()
			if err != nil {
				return err
			}
			if pid, running := daemon.Running(cfg.DataDir); running {
				return fmt.Errorf("worker is running (pid %d); stop it first", pid)
			}

			cfg, core, cleanup, err := opts.openCore(cmd)
			if err != nil {
				return err
			}
			defer cleanup()

			id := identityOrDefault(identity, cfg)
			outcome, err := core.Import(cmd.Context(), id, data)
			if errors.Is(err, snapshot.ErrNotSnapshot) {
				return fmt.Errorf("%s is not a luminous snapshot", args[0])
			}
			if err != nil {
				return err
			}

			fmt.Fprintf(cmd.OutOrStdout(), "Imported %s into %s (saved to %s tier)\n", args[0], id, outcome.Tier)
			return nil
		},
	}

	cmd.Flags().StringVar(&identity, "identity", "", "identity to restore (default is the configured identity)")
	return cmd
}
