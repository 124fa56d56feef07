package cli

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"
)

func newHistoryCmd(opts *rootOptions) *cobra.Command {
	var (
		identity string
		limit    int
		before   int64
		asJSON   bool
	)

	cmd := &cobra.Command{
		Use:   "history",
		Short: "Show stored conversation history",
		Long: `Show one page of an identity's message history, oldest first.
Use the printed cursor with --before to page further back.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, core, cleanup, err := opts.openCore(cmd)
			if err != nil {
				return err
			}
			defer cleanup()

			page, err := core.History(cmd.Context(), identityOrDefault(identity, cfg), before, limit)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if asJSON {
				enc := json.NewEncoder(out)
				enc.SetIndent("", "  ")
				return enc.Encode(page)
			}

			if len(page.Messages) == 0 {
				fmt.Fprintln(out, "No messages")
				return nil
			}
			for i := len(page.Messages) - 1; i >= 0; i-- {
				msg := page.Messages[i]
				ts := time.UnixMilli(msg.Timestamp).Format(time.DateTime)
				fmt.Fprintf(out, "[%s] %s: %s\n", ts, msg.Sender, strings.TrimSpace(msg.Text))
			}
			if page.HasOlder {
				fmt.Fprintf(out, "More history available: --before %d\n", page.Before)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&identity, "identity", "", "identity to read (default is the configured identity)")
	cmd.Flags().IntVar(&limit, "limit", 20, "number of messages to show")
	cmd.Flags().Int64Var(&before, "before", 0, "only show messages older than this timestamp (ms)")
	cmd.Flags().BoolVar(&asJSON, "json", false, "print the page as JSON")
	return cmd
}
