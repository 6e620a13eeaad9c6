package commands

import (
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/54b3r/ragindex-go/internal/logging"
	"github.com/54b3r/ragindex-go/internal/queue"
)

// NewPurgeCmd constructs the `ragindex purge` command, which removes every
// index entry belonging to the given sources.
func NewPurgeCmd() *cobra.Command {
	var (
		backend string
		async   bool
	)

	cmd := &cobra.Command{
		Use:   "purge <source-id>...",
		Short: "Delete all indexed entries for one or more sources",
		Long: `Delete every index entry whose source ID matches one of the arguments.
Purging a source that has no entries is not an error.

Examples:
  ragindex purge docs/handbook.pdf
  ragindex purge --async https://example.com/policy.pdf`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			log := logging.FromContext(ctx)

			if async {
				addr := os.Getenv("NSQD_ADDR")
				if addr == "" {
					return errors.New("purge: --async requires NSQD_ADDR")
				}
				producer, conn, err := queue.DialProducer(addr, log)
				if err != nil {
					return fmt.Errorf("purge: %w", err)
				}
				defer conn.Stop()
				for _, id := range args {
					req := queue.Request{Action: queue.ActionPurge, SourceID: id, CorrelationID: uuid.NewString()}
					if err := producer.Publish(req); err != nil {
						return fmt.Errorf("purge: %w", err)
					}
					fmt.Fprintf(cmd.OutOrStdout(), "%s queued\n", id)
				}
				return nil
			}

			p, err := buildPipeline(ctx, log, pipelineOptions{skipEmbedding: true, backend: backend})
			if err != nil {
				return fmt.Errorf("purge: %w", err)
			}
			defer p.Close()

			total := 0
			for _, id := range args {
				n, err := p.proc.Purge(ctx, id)
				if err != nil {
					return fmt.Errorf("purge: %s: %w", id, err)
				}
				total += n
				fmt.Fprintf(cmd.OutOrStdout(), "%s deleted=%d\n", id, n)
			}
			log.Info("purge complete", slog.Int("sources", len(args)), slog.Int("deleted", total))
			return nil
		},
	}

	cmd.Flags().StringVar(&backend, "store", "", "Index backend override: badger, qdrant, weaviate, memory")
	cmd.Flags().BoolVar(&async, "async", false, "Publish purge requests to NSQ instead of purging here")

	return cmd
}
