package commands

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/54b3r/ragindex-go/internal/ingestion"
	"github.com/54b3r/ragindex-go/internal/logging"
	"github.com/54b3r/ragindex-go/internal/queue"
	"github.com/54b3r/ragindex-go/internal/watch"
)

// NewWatchCmd constructs the `ragindex watch` command, which keeps the index
// in step with a directory tree.
func NewWatchCmd() *cobra.Command {
	var (
		prefix   string
		backend  string
		debounce time.Duration
		scan     bool
		async    bool
		noEmbed  bool
	)

	cmd := &cobra.Command{
		Use:   "watch <dir>",
		Short: "Reprocess documents as they change on disk",
		Long: `Watch a directory tree and reconcile supported files (.pdf, .txt, .md,
.markdown) as they are created, modified or removed. Events for a file are
coalesced until it has been quiet for --debounce. Removed files are purged
from the index.

With --scan every existing file is processed once at startup. With --async
changes are published to NSQ (NSQD_ADDR) for workers instead of being
processed here.

Examples:
  ragindex watch ./docs --scan
  ragindex watch --prefix docs/ --debounce 2s ./docs
  NSQD_ADDR=127.0.0.1:4150 ragindex watch --async ./docs`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			log := logging.Component(ctx, "watcher")

			var sink watch.Sink
			if async {
				addr := os.Getenv("NSQD_ADDR")
				if addr == "" {
					return errors.New("watch: --async requires NSQD_ADDR")
				}
				producer, conn, err := queue.DialProducer(addr, log)
				if err != nil {
					return fmt.Errorf("watch: %w", err)
				}
				defer conn.Stop()
				sink = queueSink(producer, log)
			} else {
				p, err := buildPipeline(ctx, log, pipelineOptions{
					skipEmbedding: noEmbed,
					backend:       backend,
					registry:      prometheus.DefaultRegisterer,
				})
				if err != nil {
					return fmt.Errorf("watch: %w", err)
				}
				defer p.Close()
				sink = watch.ProcessorSink(p.proc, log)
			}

			w, err := watch.New(watch.Config{
				Root:         args[0],
				SourcePrefix: prefix,
				Debounce:     debounce,
				Match:        ingestion.Supported,
				Logger:       log,
			}, sink)
			if err != nil {
				return err
			}

			if scan {
				if err := w.Scan(ctx); err != nil {
					return err
				}
			}

			log.Info("watching", slog.String("root", args[0]), slog.Duration("debounce", debounce))
			return w.Run(ctx)
		},
	}

	cmd.Flags().StringVar(&prefix, "prefix", "", "Prefix prepended to every source ID (e.g. docs/)")
	cmd.Flags().StringVar(&backend, "store", "", "Index backend override: badger, qdrant, weaviate, memory")
	cmd.Flags().DurationVar(&debounce, "debounce", watch.DefaultDebounce, "Quiet period before a changed file is processed")
	cmd.Flags().BoolVar(&scan, "scan", false, "Process every existing file once before watching")
	cmd.Flags().BoolVar(&async, "async", false, "Publish changes to NSQ instead of processing them here")
	cmd.Flags().BoolVar(&noEmbed, "no-embed", false, "Index chunks without calling the embedding service")

	return cmd
}

// queuePublisher is the part of *queue.Producer queueSink needs.
type queuePublisher interface {
	Publish(req queue.Request) error
}

// queueSink turns settled changes into NSQ process or purge requests.
func queueSink(pub queuePublisher, log *slog.Logger) watch.Sink {
	return func(_ context.Context, changes []watch.Change) {
		for _, c := range changes {
			req := queue.Request{
				Action:        queue.ActionProcess,
				SourceID:      c.SourceID,
				Path:          c.Path,
				CorrelationID: uuid.NewString(),
			}
			if c.Removed {
				req.Action = queue.ActionPurge
				req.Path = ""
			}
			if err := pub.Publish(req); err != nil {
				log.Error("watch: publish failed",
					slog.String("source_id", c.SourceID),
					slog.String("error", err.Error()),
				)
				continue
			}
			log.Debug("watch: queued",
				slog.String("source_id", c.SourceID),
				slog.String("action", req.Action),
				slog.String("correlation_id", req.CorrelationID),
			)
		}
	}
}
