package cmd

import (
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/goccy/go-json"
	"github.com/spf13/cobra"

	"github.com/ssargent/stdfconv/pkg/ledger"
)

// historyCmd represents the history command
var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "List recorded conversion jobs",
	Long: `List conversion jobs from the ledger, newest first.

Examples:
  stdfconv history
  stdfconv history --limit 5 --json`,
	RunE: func(cmd *cobra.Command, args []string) error {
		rt := runtimeFrom(cmd)
		limit, _ := cmd.Flags().GetInt("limit")
		asJSON, _ := cmd.Flags().GetBool("json")

		l, err := container.OpenLedger(rt.cfg.Paths.LedgerDir)
		if err != nil {
			return err
		}
		defer l.Close()

		entries, err := l.List(limit)
		if err != nil {
			return err
		}

		out := cmd.OutOrStdout()
		if asJSON {
			enc := json.NewEncoder(out)
			enc.SetIndent("", "  ")
			return enc.Encode(entries)
		}
		if len(entries) == 0 {
			fmt.Fprintln(out, "No jobs recorded.")
			return nil
		}

		tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
		fmt.Fprintln(tw, "ID\tSTARTED\tSTATUS\tDEVICES\tRECORDS\tINPUT\tRESULT")
		for _, e := range entries {
			fmt.Fprintf(tw, "%s\t%s\t%s\t%d\t%d\t%s\t%s\n",
				e.ID, e.StartedAt.Local().Format(time.DateTime), e.Status, e.Devices, e.Records, e.Input, historyResult(e))
		}
		return tw.Flush()
	},
}

func historyResult(e ledger.Entry) string {
	if e.Status == ledger.StatusFailed {
		return e.Error
	}
	return e.Output
}

func init() {
	rootCmd.AddCommand(historyCmd)

	historyCmd.Flags().Int("limit", 20, "Maximum number of jobs to list (0 for all)")
	historyCmd.Flags().Bool("json", false, "Print entries as JSON")
}
