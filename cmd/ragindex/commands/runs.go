package commands

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/54b3r/ragindex-go/internal/store"
)

// NewRunsCmd constructs the `ragindex runs` command, which lists recent
// processing runs from the run ledger.
func NewRunsCmd() *cobra.Command {
	var (
		sourceID string
		limit    int
		asJSON   bool
	)

	cmd := &cobra.Command{
		Use:   "runs",
		Short: "List recent processing runs",
		Long: `List recent processing runs recorded in the run ledger, newest first.
The ledger lives at RAGINDEX_HISTORY_DB (default ~/.ragindex/runs.db).

Examples:
  ragindex runs
  ragindex runs --source docs/handbook.pdf --limit 5
  ragindex runs --json`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if limit <= 0 {
				return errors.New("runs: --limit must be positive")
			}
			dbPath := os.Getenv("RAGINDEX_HISTORY_DB")
			if dbPath == "disabled" {
				return errors.New("runs: history is disabled (RAGINDEX_HISTORY_DB=disabled)")
			}
			if dbPath == "" {
				var err error
				if dbPath, err = store.DefaultDBPath(); err != nil {
					return fmt.Errorf("runs: %w", err)
				}
			}
			ledger, err := store.Open(dbPath)
			if err != nil {
				return fmt.Errorf("runs: %w", err)
			}
			defer ledger.Close()

			runs, err := ledger.Recent(cmd.Context(), sourceID, limit)
			if err != nil {
				return fmt.Errorf("runs: %w", err)
			}
			if asJSON {
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(runs)
			}
			return printRuns(cmd.OutOrStdout(), runs)
		},
	}

	cmd.Flags().StringVar(&sourceID, "source", "", "Only show runs for this source ID")
	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "Maximum runs to show")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print runs as JSON")

	return cmd
}

// printRuns renders runs as an aligned table.
func printRuns(w io.Writer, runs []store.Run) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "FINISHED\tSOURCE\tSTATUS\tCHUNKS\tINDEXED\tFAILED\tSTALE\tDURATION")
	for _, r := range runs {
		status := "ok"
		if !r.Success {
			status = "failed"
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%d\t%d\t%d\t%d\t%s\n",
			r.FinishedAt.Local().Format(time.DateTime), r.SourceID, status,
			r.ChunksCreated, r.ChunksIndexed, r.ChunksFailed, r.StaleDeleted,
			r.Duration.Round(time.Millisecond))
	}
	return tw.Flush()
}
