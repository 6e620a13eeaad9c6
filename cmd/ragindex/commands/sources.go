package commands

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/54b3r/ragindex-go/internal/logging"
	"github.com/54b3r/ragindex-go/internal/rag"
)

// NewSourcesCmd constructs the `ragindex sources` command, which lists the
// sources held by the index and how many entries each has.
func NewSourcesCmd() *cobra.Command {
	var (
		backend string
		limit   int
		asJSON  bool
	)

	cmd := &cobra.Command{
		Use:   "sources",
		Short: "List indexed sources and their entry counts",
		Long: `List every source ID in the index with the number of entries it holds,
ordered by source ID, followed by the total entry count.

Examples:
  ragindex sources
  ragindex sources --store qdrant --limit 50
  ragindex sources --json`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if limit < 0 {
				return errors.New("sources: --limit must not be negative")
			}
			ctx := cmd.Context()

			p, err := buildPipeline(ctx, logging.FromContext(ctx), pipelineOptions{skipEmbedding: true, backend: backend})
			if err != nil {
				return fmt.Errorf("sources: %w", err)
			}
			defer p.Close()

			inv, ok := p.store.(rag.Inventory)
			if !ok {
				return fmt.Errorf("sources: %T cannot list its contents", p.store)
			}
			total, err := inv.Count(ctx)
			if err != nil {
				return fmt.Errorf("sources: %w", err)
			}
			sources, err := inv.Sources(ctx, limit)
			if err != nil {
				return fmt.Errorf("sources: %w", err)
			}

			if asJSON {
				if sources == nil {
					sources = []rag.SourceCount{}
				}
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(struct {
					Total   int               `json:"total"`
					Sources []rag.SourceCount `json:"sources"`
				}{total, sources})
			}
			return printSources(cmd.OutOrStdout(), sources, total)
		},
	}

	cmd.Flags().StringVar(&backend, "store", "", "Index backend override: badger, qdrant, weaviate, memory")
	cmd.Flags().IntVarP(&limit, "limit", "n", 0, "Maximum sources to show (0 for all)")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print sources as JSON")

	return cmd
}

// printSources renders sources as an aligned table with a total line.
func printSources(w io.Writer, sources []rag.SourceCount, total int) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "SOURCE\tCHUNKS")
	for _, s := range sources {
		fmt.Fprintf(tw, "%s\t%d\n", s.SourceID, s.Chunks)
	}
	fmt.Fprintf(tw, "\t\nTOTAL\t%d\n", total)
	return tw.Flush()
}
