// Package ingestion runs one source document through the indexing pipeline:
// split the extracted text into chunks, embed the chunks, and reconcile them
// against the index so that the source's entries exactly match the new chunk
// set. Every entry point (CLI, HTTP, queue, watcher) funnels through
// Processor.Process.
package ingestion

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/54b3r/ragindex-go/internal/chunk"
	"github.com/54b3r/ragindex-go/internal/index"
	"github.com/54b3r/ragindex-go/internal/metrics"
	"github.com/54b3r/ragindex-go/internal/store"
)

// ErrNoText is reported when a document has no extractable text.
var ErrNoText = errors.New("no text content extracted from document")

// Document is one source document ready for processing.
type Document struct {
	// SourceID is the logical path or URL that identifies the document.
	SourceID string
	// DisplayName is the human-readable name. Empty means DisplayNameFor(SourceID).
	DisplayName string
	// Text is the full extracted text. Ignored when Pages is non-empty.
	Text string
	// Pages holds per-page text when the extractor knows page boundaries.
	Pages []chunk.Page
}

// Result is the outcome of processing one document.
type Result struct {
	SourceID      string        `json:"source_id"`
	DisplayName   string        `json:"display_name"`
	Success       bool          `json:"success"`
	ChunksCreated int           `json:"chunks_created"`
	ChunksIndexed int           `json:"chunks_indexed"`
	ChunksFailed  int           `json:"chunks_failed"`
	StaleDeleted  int           `json:"stale_deleted"`
	Error         string        `json:"error,omitempty"`
	Duration      time.Duration `json:"duration_ns"`
}

// Embedder turns chunk texts into vectors aligned with the input.
// *embedder.Batcher satisfies it.
type Embedder interface {
	Embed(ctx context.Context, texts []string) ([][]float32, error)
}

// Indexer reconciles a source's chunks against the index.
// *index.Reconciler satisfies it.
type Indexer interface {
	Reconcile(ctx context.Context, sourceID string, chunks []chunk.Chunk, vectors [][]float32) (index.Result, error)
	Purge(ctx context.Context, sourceID string) (int, error)
}

// Config holds the Processor's optional collaborators.
type Config struct {
	// Ledger records every run. Optional.
	Ledger store.RunLedger
	// Metrics is optional.
	Metrics *metrics.Metrics
	// Logger defaults to slog.Default().
	Logger *slog.Logger
	// Clock defaults to time.Now.
	Clock func() time.Time
}

// Processor orchestrates split → embed → reconcile for one document at a
// time per source. Calls for different sources run concurrently; calls for
// the same source are serialized so two reconciliations never interleave
// their delete and upsert phases.
type Processor struct {
	// splitter produces the chunks.
	splitter *chunk.Splitter
	// embedder attaches vectors. Nil indexes chunks without vectors.
	embedder Embedder
	// indexer applies delete-stale-then-upsert.
	indexer Indexer
	// cfg holds the resolved optional collaborators.
	cfg Config
	// locks serializes work per source ID.
	locks *keyedMutex
}

// NewProcessor constructs a Processor. embedder may be nil, in which case
// chunks are indexed without vectors.
func NewProcessor(splitter *chunk.Splitter, embedder Embedder, indexer Indexer, cfg *Config) (*Processor, error) {
	if splitter == nil {
		return nil, fmt.Errorf("ingestion: splitter must not be nil")
	}
	if indexer == nil {
		return nil, fmt.Errorf("ingestion: indexer must not be nil")
	}
	c := Config{}
	if cfg != nil {
		c = *cfg
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
	if c.Clock == nil {
		c.Clock = time.Now
	}
	return &Processor{
		splitter: splitter,
		embedder: embedder,
		indexer:  indexer,
		cfg:      c,
		locks:    newKeyedMutex(),
	}, nil
}

// Process runs doc through the pipeline. It never returns an error: every
// failure is reported in Result.Error with Success false. Success requires
// that every chunk was indexed.
func (p *Processor) Process(ctx context.Context, doc Document) Result {
	start := p.cfg.Clock()
	if doc.DisplayName == "" {
		doc.DisplayName = DisplayNameFor(doc.SourceID)
	}
	res := Result{SourceID: doc.SourceID, DisplayName: doc.DisplayName}
	log := p.cfg.Logger.With(slog.String("source_id", doc.SourceID))

	err := p.process(ctx, log, doc, &res)
	res.Duration = p.cfg.Clock().Sub(start)
	if err != nil {
		res.Success = false
		res.Error = err.Error()
		log.Error("ingestion: document failed",
			slog.String("error", res.Error),
			slog.Duration("duration", res.Duration),
		)
	} else {
		log.Info("ingestion: document processed",
			slog.Int("chunks", res.ChunksCreated),
			slog.Int("indexed", res.ChunksIndexed),
			slog.Int("stale_deleted", res.StaleDeleted),
			slog.Duration("duration", res.Duration),
		)
	}

	p.cfg.Metrics.DocumentProcessed(res.Success, res.ChunksCreated, res.Duration)
	p.record(ctx, log, res, start.Add(res.Duration))
	return res
}

func (p *Processor) process(ctx context.Context, log *slog.Logger, doc Document, res *Result) error {
	if strings.TrimSpace(doc.SourceID) == "" {
		return errors.New("source_id must not be empty")
	}

	unlock, err := p.locks.lock(ctx, doc.SourceID)
	if err != nil {
		return err
	}
	defer unlock()

	var chunks []chunk.Chunk
	if len(doc.Pages) > 0 {
		chunks = p.splitter.SplitPages(doc.Pages, doc.SourceID, doc.DisplayName)
	} else {
		chunks = p.splitter.Split(doc.Text, doc.SourceID, doc.DisplayName)
	}
	res.ChunksCreated = len(chunks)
	if len(chunks) == 0 {
		return ErrNoText
	}
	log.Debug("ingestion: split", slog.Int("chunks", len(chunks)))

	var vectors [][]float32
	if p.embedder != nil {
		texts := make([]string, len(chunks))
		for i, c := range chunks {
			texts[i] = c.Content
		}
		// A partial embedding never reaches the index: reconciling it would
		// delete the previous entries and replace them with an incomplete set.
		vectors, err = p.embedder.Embed(ctx, texts)
		if err != nil {
			return fmt.Errorf("embedding failed: %w", err)
		}
		log.Debug("ingestion: embedded", slog.Int("vectors", len(vectors)))
	}

	ir, err := p.indexer.Reconcile(ctx, doc.SourceID, chunks, vectors)
	res.StaleDeleted = ir.Deleted
	res.ChunksIndexed = ir.Succeeded
	res.ChunksFailed = ir.Failed
	if err != nil {
		return fmt.Errorf("indexing failed: %w", err)
	}
	if ir.Failed > 0 {
		return fmt.Errorf("%d of %d chunks failed to index", ir.Failed, len(chunks))
	}
	res.Success = true
	return nil
}

// Purge removes every indexed entry for sourceID, serialized with any
// in-flight Process call for the same source.
func (p *Processor) Purge(ctx context.Context, sourceID string) (int, error) {
	if strings.TrimSpace(sourceID) == "" {
		return 0, errors.New("ingestion: source_id must not be empty")
	}
	unlock, err := p.locks.lock(ctx, sourceID)
	if err != nil {
		return 0, err
	}
	defer unlock()

	n, err := p.indexer.Purge(ctx, sourceID)
	if err != nil {
		return n, fmt.Errorf("ingestion: purge %s: %w", sourceID, err)
	}
	p.cfg.Logger.Info("ingestion: source purged",
		slog.String("source_id", sourceID),
		slog.Int("deleted", n),
	)
	return n, nil
}

// record appends res to the ledger. Ledger failures are logged, never
// surfaced: the index is the source of truth.
func (p *Processor) record(ctx context.Context, log *slog.Logger, res Result, finished time.Time) {
	if p.cfg.Ledger == nil {
		return
	}
	run := store.Run{
		SourceID:      res.SourceID,
		DisplayName:   res.DisplayName,
		Success:       res.Success,
		ChunksCreated: res.ChunksCreated,
		ChunksIndexed: res.ChunksIndexed,
		ChunksFailed:  res.ChunksFailed,
		StaleDeleted:  res.StaleDeleted,
		Error:         res.Error,
		Duration:      res.Duration,
		FinishedAt:    finished,
	}
	if err := p.cfg.Ledger.Record(context.WithoutCancel(ctx), run); err != nil {
		log.Warn("ingestion: could not record run", slog.String("error", err.Error()))
	}
}
