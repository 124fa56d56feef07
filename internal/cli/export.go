package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

func newExportCmd(opts *rootOptions) *cobra.Command {
	var identity string

	cmd := &cobra.Command{
		Use:   "export [file]",
		Short: "Export an identity's state and history as a snapshot",
		Long: `Write a snapshot of the stored agent state and the full message history.
The snapshot goes to stdout unless a file is given.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, core, cleanup, err := opts.openCore(cmd)
			if err != nil {
				return err
			}
			defer cleanup()

			id := identityOrDefault(identity, cfg)
			data, err := core.Export(cmd.Context(), id)
			if err != nil {
				return fmt.Errorf("export failed: %w", err)
			}

			if len(args) == 0 {
				_, err := cmd.OutOrStdout().Write(append(data, '\n'))
				return err
			}
			if err := os.WriteFile(args[0], data, 0o600); err != nil {
				return fmt.Errorf("failed to write snapshot: %w", err)
			}
			fmt.Fprintf(cmd.ErrOrStderr(), "Exported %s to %s\n", id, args[0])
			return nil
		},
	}

	cmd.Flags().StringVar(&identity, "identity", "", "identity to export (default is the configured identity)")
	return cmd
}
