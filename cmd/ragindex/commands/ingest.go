package commands

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"github.com/google/uuid"
	"github.com/panjf2000/ants/v2"
	"github.com/spf13/cobra"

	"github.com/54b3r/ragindex-go/internal/extract"
	"github.com/54b3r/ragindex-go/internal/ingestion"
	"github.com/54b3r/ragindex-go/internal/logging"
	"github.com/54b3r/ragindex-go/internal/queue"
)

// NewIngestCmd constructs the `ragindex ingest` command, which (re)processes
// local files and reconciles their chunks against the index.
func NewIngestCmd() *cobra.Command {
	var (
		prefix      string
		backend     string
		noEmbed     bool
		async       bool
		concurrency int
	)

	cmd := &cobra.Command{
		Use:   "ingest <file|dir>...",
		Short: "Process documents and reconcile them against the index",
		Long: `Extract, split, embed and index the given files. Directories are walked
recursively for .pdf, .txt, .md and .markdown files.

Each file is indexed under a source ID: its path as given, or its path
relative to the directory argument, prefixed with --prefix. Re-running ingest
on a changed file replaces its entries; entries for chunks that no longer
exist are deleted.

With --async the files are published to NSQ (NSQD_ADDR) for a worker to
process instead of being processed here.

Environment variables:
  EMBEDDING_PROVIDER   openai (default), azure, ollama, gemini
  INDEX_BACKEND        badger (default), qdrant, weaviate, memory
  CHUNK_SIZE           Target chunk size in characters (default 1000)
  CHUNK_OVERLAP        Overlap between chunks (default 200)

Examples:
  ragindex ingest ./docs
  ragindex ingest --prefix docs/ --store memory --no-embed handbook.pdf
  NSQD_ADDR=127.0.0.1:4150 ragindex ingest --async ./docs`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			log := logging.FromContext(ctx)

			files, err := collectFiles(args, prefix)
			if err != nil {
				return fmt.Errorf("ingest: %w", err)
			}
			if len(files) == 0 {
				return errors.New("ingest: no supported files found")
			}

			if async {
				return publishFiles(cmd, log, files)
			}

			p, err := buildPipeline(ctx, log, pipelineOptions{skipEmbedding: noEmbed, backend: backend})
			if err != nil {
				return fmt.Errorf("ingest: %w", err)
			}
			defer p.Close()

			log.Info("starting ingestion", slog.Int("files", len(files)), slog.Int("concurrency", concurrency))
			results, err := processFiles(ctx, log, p.proc, files, concurrency)
			if err != nil {
				return fmt.Errorf("ingest: %w", err)
			}

			failed := 0
			out := cmd.OutOrStdout()
			for _, res := range results {
				status := "ok"
				if !res.Success {
					status = "FAILED: " + res.Error
					failed++
				}
				fmt.Fprintf(out, "%-50s chunks=%d indexed=%d stale_deleted=%d %s\n",
					res.SourceID, res.ChunksCreated, res.ChunksIndexed, res.StaleDeleted, status)
			}
			log.Info("ingestion complete", slog.Int("files", len(results)), slog.Int("failed", failed))
			if failed > 0 {
				return fmt.Errorf("ingest: %d of %d documents failed", failed, len(results))
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&prefix, "prefix", "", "Prefix prepended to every source ID (e.g. docs/)")
	cmd.Flags().StringVar(&backend, "store", "", "Index backend override: badger, qdrant, weaviate, memory")
	cmd.Flags().BoolVar(&noEmbed, "no-embed", false, "Index chunks without calling the embedding service")
	cmd.Flags().BoolVar(&async, "async", false, "Publish the files to NSQ instead of processing them here")
	cmd.Flags().IntVarP(&concurrency, "concurrency", "c", 2, "Documents processed in parallel")

	return cmd
}

// processFiles extracts and processes files on a bounded worker pool and
// returns the results in input order. Extraction failures become failed
// results.
func processFiles(ctx context.Context, log *slog.Logger, proc *ingestion.Processor, files []inputFile, concurrency int) ([]ingestion.Result, error) {
	if concurrency < 1 {
		concurrency = 1
	}
	pool, err := ants.NewPool(concurrency)
	if err != nil {
		return nil, fmt.Errorf("worker pool: %w", err)
	}
	defer pool.Release()

	results := make([]ingestion.Result, len(files))
	var wg sync.WaitGroup
	for i, f := range files {
		wg.Add(1)
		task := func() {
			defer wg.Done()
			results[i] = processFile(ctx, log, proc, f)
		}
		if err := pool.Submit(task); err != nil {
			wg.Done()
			results[i] = ingestion.Result{SourceID: f.sourceID, Error: err.Error()}
		}
	}
	wg.Wait()
	return results, ctx.Err()
}

// processFile extracts one file and runs it through proc.
func processFile(ctx context.Context, log *slog.Logger, proc *ingestion.Processor, f inputFile) ingestion.Result {
	content, err := extract.File(f.path, log.With(slog.String("source_id", f.sourceID)))
	if err != nil {
		return ingestion.Result{
			SourceID:    f.sourceID,
			DisplayName: ingestion.DisplayNameFor(f.sourceID),
			Error:       err.Error(),
		}
	}
	return proc.Process(ctx, ingestion.Document{
		SourceID: f.sourceID,
		Text:     content.Text,
		Pages:    content.Pages,
	})
}

// publishFiles sends one process request per file to NSQ. Paths are made
// absolute so a worker on the same host can read them.
func publishFiles(cmd *cobra.Command, log *slog.Logger, files []inputFile) error {
	addr := os.Getenv("NSQD_ADDR")
	if addr == "" {
		return errors.New("ingest: --async requires NSQD_ADDR")
	}
	producer, conn, err := queue.DialProducer(addr, log)
	if err != nil {
		return fmt.Errorf("ingest: %w", err)
	}
	defer conn.Stop()

	for _, f := range files {
		abs, err := filepath.Abs(f.path)
		if err != nil {
			return fmt.Errorf("ingest: %s: %w", f.path, err)
		}
		req := queue.Request{
			Action:        queue.ActionProcess,
			SourceID:      f.sourceID,
			Path:          abs,
			CorrelationID: uuid.NewString(),
		}
		if err := producer.Publish(req); err != nil {
			return fmt.Errorf("ingest: %w", err)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%-50s queued correlation_id=%s\n", f.sourceID, req.CorrelationID)
	}
	log.Info("published", slog.Int("files", len(files)), slog.String("topic", queue.Topic))
	return nil
}
