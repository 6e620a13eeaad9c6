package commands

import (
	"context"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/54b3r/ragindex-go/internal/chunk"
	"github.com/54b3r/ragindex-go/internal/embedder"
	"github.com/54b3r/ragindex-go/internal/index"
	"github.com/54b3r/ragindex-go/internal/ingestion"
	"github.com/54b3r/ragindex-go/internal/metrics"
	"github.com/54b3r/ragindex-go/internal/rag"
	"github.com/54b3r/ragindex-go/internal/store"
	"github.com/54b3r/ragindex-go/internal/tracing"
)

// Chunking defaults used when CHUNK_SIZE / CHUNK_OVERLAP are unset.
const (
	defaultChunkSize    = 1000
	defaultChunkOverlap = 200
)

// pipelineOptions selects what buildPipeline wires up.
type pipelineOptions struct {
	// skipEmbedding indexes chunks without vectors.
	skipEmbedding bool
	// backend overrides INDEX_BACKEND when non-empty.
	backend string
	// registry receives pipeline metrics. Nil disables them.
	registry prometheus.Registerer
}

// pipeline bundles the long-lived objects behind an ingestion.Processor so
// commands can close them in one place.
type pipeline struct {
	proc    *ingestion.Processor
	store   rag.IndexStore
	ledger  store.RunLedger
	batcher *embedder.Batcher
	log     *slog.Logger
	// flushTraces sends buffered Langfuse traces.
	flushTraces func()
}

// Close releases every resource the pipeline holds.
func (p *pipeline) Close() {
	if p.batcher != nil {
		p.batcher.Release()
	}
	if p.flushTraces != nil {
		p.flushTraces()
	}
	if p.ledger != nil {
		if err := p.ledger.Close(); err != nil {
			p.log.Warn("history: close failed", slog.Any("error", err))
		}
	}
	if err := p.store.Close(); err != nil {
		p.log.Warn("index: close failed", slog.Any("error", err))
	}
}

// buildPipeline constructs splitter → batcher → reconciler → processor from
// the environment.
func buildPipeline(ctx context.Context, log *slog.Logger, opts pipelineOptions) (*pipeline, error) {
	splitter, err := chunk.NewSplitter(
		getEnvInt("CHUNK_SIZE", defaultChunkSize),
		getEnvInt("CHUNK_OVERLAP", defaultChunkOverlap),
	)
	if err != nil {
		return nil, err
	}

	var m *metrics.Metrics
	if opts.registry != nil {
		m = metrics.New(opts.registry)
	}

	p := &pipeline{log: log}

	// A nil *Batcher must not reach the Processor as a non-nil interface.
	var emb ingestion.Embedder
	if !opts.skipEmbedding {
		if err := embedder.ValidateConfig(log); err != nil {
			return nil, err
		}
		provider, err := embedder.NewFromEnv(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to initialise embedder: %w", err)
		}
		if ep, ok := provider.(*embedder.EinoEmbedder); ok {
			ep.WithHandlers(embedder.LogHandler(log))
			if flush, on := tracing.Register(); on {
				p.flushTraces = flush
				log.Info("langfuse tracing enabled for embedding runs")
			}
		}
		bcfg := embedder.BatcherConfigFromEnv()
		bcfg.Logger = log
		bcfg.Metrics = m
		p.batcher, err = embedder.NewBatcher(provider, bcfg)
		if err != nil {
			return nil, err
		}
		emb = p.batcher
		log.Info("embedder initialised", slog.String("provider", embedder.Backend()))
	} else {
		log.Info("embedding disabled; chunks are indexed without vectors")
	}

	if opts.backend != "" {
		if err := os.Setenv("INDEX_BACKEND", opts.backend); err != nil {
			return nil, err
		}
	}
	p.store, err = rag.NewStoreFromEnv(ctx, embedder.DefaultDimensions(embedder.Backend()), log)
	if err != nil {
		if p.batcher != nil {
			p.batcher.Release()
		}
		return nil, fmt.Errorf("failed to open index: %w", err)
	}
	log.Info("index store ready", slog.String("backend", getEnvOrDefault("INDEX_BACKEND", rag.BackendBadger)))

	rec, err := index.NewReconciler(p.store, &index.Config{
		QueryLimit:      getEnvInt("INDEX_QUERY_LIMIT", 0),
		DeleteBatchSize: getEnvInt("INDEX_DELETE_BATCH_SIZE", 0),
		UpsertBatchSize: getEnvInt("INDEX_UPSERT_BATCH_SIZE", 0),
		Logger:          log,
		Metrics:         m,
	})
	if err != nil {
		p.Close()
		return nil, err
	}

	p.ledger = openLedger(log)

	p.proc, err = ingestion.NewProcessor(splitter, emb, rec, &ingestion.Config{
		Ledger:  p.ledger,
		Metrics: m,
		Logger:  log,
	})
	if err != nil {
		p.Close()
		return nil, err
	}
	return p, nil
}

// openLedger opens the run ledger. RAGINDEX_HISTORY_DB overrides the default
// path (~/.ragindex/runs.db); "disabled" turns it off. Failures are logged
// and disable the ledger.
func openLedger(log *slog.Logger) store.RunLedger {
	dbPath := os.Getenv("RAGINDEX_HISTORY_DB")
	if dbPath == "disabled" {
		log.Info("history: disabled via RAGINDEX_HISTORY_DB=disabled")
		return nil
	}
	if dbPath == "" {
		var err error
		dbPath, err = store.DefaultDBPath()
		if err != nil {
			log.Warn("history: could not resolve default DB path, disabling", slog.Any("error", err))
			return nil
		}
	}
	s, err := store.Open(dbPath)
	if err != nil {
		log.Warn("history: failed to open store, disabling", slog.Any("error", err))
		return nil
	}
	log.Info("history: store opened", slog.String("path", dbPath))
	return s
}

// inputFile is one file selected for ingestion.
type inputFile struct {
	// path is the file on disk.
	path string
	// sourceID is the identifier it is indexed under.
	sourceID string
}

// collectFiles expands args into supported files. Directories are walked
// recursively and their files are identified relative to the directory;
// files named directly keep the path as given. prefix is prepended to every
// source ID.
func collectFiles(args []string, prefix string) ([]inputFile, error) {
	var out []inputFile
	seen := map[string]bool{}
	add := func(path, id string) {
		if seen[path] {
			return
		}
		seen[path] = true
		out = append(out, inputFile{path: path, sourceID: prefix + filepath.ToSlash(id)})
	}

	for _, arg := range args {
		info, err := os.Stat(arg)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", arg, err)
		}
		if !info.IsDir() {
			if !ingestion.Supported(arg) {
				return nil, fmt.Errorf("%s: unsupported file type", arg)
			}
			add(arg, filepath.Clean(arg))
			continue
		}

		var found []inputFile
		err = filepath.WalkDir(arg, func(path string, d fs.DirEntry, err error) error {
			if err != nil {
				return err
			}
			if d.IsDir() {
				if path != arg && strings.HasPrefix(d.Name(), ".") {
					return filepath.SkipDir
				}
				return nil
			}
			if !ingestion.Supported(path) {
				return nil
			}
			rel, err := filepath.Rel(arg, path)
			if err != nil {
				return err
			}
			found = append(found, inputFile{path: path, sourceID: rel})
			return nil
		})
		if err != nil {
			return nil, fmt.Errorf("walk %s: %w", arg, err)
		}
		sort.Slice(found, func(i, j int) bool { return found[i].path < found[j].path })
		for _, f := range found {
			add(f.path, f.sourceID)
		}
	}
	return out, nil
}

// splitList splits a comma-separated list, dropping blanks.
func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// getEnvOrDefault returns the value of the named environment variable, or
// fallback if the variable is unset or empty.
func getEnvOrDefault(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

// getEnvInt returns the integer value of the named environment variable, or
// fallback if the variable is unset, empty, or not parseable.
func getEnvInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return fallback
}

// getEnvFloat is getEnvInt for floats.
func getEnvFloat(key string, fallback float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return fallback
}

// getEnvDuration parses a Go duration string, falling back when unset or
// invalid.
func getEnvDuration(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}
