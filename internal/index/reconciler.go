// Package index reconciles a source document's chunks against an IndexStore.
//
// The store offers only non-transactional batch delete and upsert, so a
// reconciliation first removes every entry previously indexed for the source
// and then upserts the new chunks under deterministic keys. Any number of
// resubmissions of the same source converge to the same indexed state.
package index

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/54b3r/ragindex-go/internal/chunk"
	"github.com/54b3r/ragindex-go/internal/metrics"
	"github.com/54b3r/ragindex-go/internal/rag"
)

// Reconciler defaults.
const (
	DefaultQueryLimit      = 10000
	DefaultDeleteBatchSize = 1000
	DefaultUpsertBatchSize = 1000
)

// ErrPrecondition is wrapped by every PreconditionError.
var ErrPrecondition = errors.New("index: precondition failed")

// PreconditionError reports that chunks and vectors cannot be paired. It is
// returned before any store call.
type PreconditionError struct {
	// Chunks is the number of chunks supplied.
	Chunks int
	// Vectors is the number of vectors supplied.
	Vectors int
}

// Error implements error.
func (e *PreconditionError) Error() string {
	return fmt.Sprintf("index: %d chunks but %d vectors", e.Chunks, e.Vectors)
}

// Unwrap returns ErrPrecondition.
func (e *PreconditionError) Unwrap() error { return ErrPrecondition }

// ErrStore is wrapped by every StoreError.
var ErrStore = errors.New("index: store failure")

// StoreError reports a failed query or delete. The reconciliation stops at
// the first one, before any upsert.
type StoreError struct {
	// Op is "query" or "delete".
	Op string
	// SourceID is the source being reconciled.
	SourceID string
	// Err is the underlying failure.
	Err error
}

// Error implements error.
func (e *StoreError) Error() string {
	return fmt.Sprintf("index: %s for source %q failed: %v", e.Op, e.SourceID, e.Err)
}

// Unwrap exposes both ErrStore and the underlying error.
func (e *StoreError) Unwrap() []error { return []error{ErrStore, e.Err} }

// Result counts the outcome of one reconciliation.
type Result struct {
	// Succeeded is the number of entries the store accepted.
	Succeeded int
	// Failed is the number of entries the store rejected.
	Failed int
	// Deleted is the number of stale entries removed first.
	Deleted int
}

// Config holds the reconciler's batch ceilings. Zero values take defaults.
type Config struct {
	// QueryLimit caps the keys fetched per source (default 10000). Entries
	// beyond it are not seen and survive as orphans.
	QueryLimit int
	// DeleteBatchSize is the maximum keys per delete call (default 1000).
	DeleteBatchSize int
	// UpsertBatchSize is the maximum entries per upsert call (default 1000).
	UpsertBatchSize int
	// Clock supplies the processedAt timestamp. Nil means time.Now.
	Clock func() time.Time
	// Logger receives per-item failure logs. Nil means slog.Default().
	Logger *slog.Logger
	// Metrics is optional.
	Metrics *metrics.Metrics
}

// Reconciler applies delete-stale-then-upsert against an IndexStore. It holds
// no per-source state and is safe for concurrent use on different sources.
type Reconciler struct {
	store rag.IndexStore
	cfg   Config
	log   *slog.Logger
}

// NewReconciler constructs a Reconciler over store.
func NewReconciler(store rag.IndexStore, cfg *Config) (*Reconciler, error) {
	if store == nil {
		return nil, errors.New("index: reconciler requires a store")
	}
	c := Config{}
	if cfg != nil {
		c = *cfg
	}
	if c.QueryLimit <= 0 {
		c.QueryLimit = DefaultQueryLimit
	}
	if c.DeleteBatchSize <= 0 {
		c.DeleteBatchSize = DefaultDeleteBatchSize
	}
	if c.UpsertBatchSize <= 0 {
		c.UpsertBatchSize = DefaultUpsertBatchSize
	}
	if c.Clock == nil {
		c.Clock = time.Now
	}
	log := c.Logger
	if log == nil {
		log = slog.Default()
	}
	return &Reconciler{store: store, cfg: c, log: log}, nil
}

// Reconcile makes the store's entries for sourceID equal to chunks. vectors,
// when non-nil, must pair one-to-one with chunks.
//
// A query or delete failure returns a *StoreError and nothing is upserted.
// Upsert failures never return an error; they are counted in Result.Failed.
func (r *Reconciler) Reconcile(ctx context.Context, sourceID string, chunks []chunk.Chunk, vectors [][]float32) (Result, error) {
	var res Result
	if vectors != nil && len(vectors) != len(chunks) {
		return res, &PreconditionError{Chunks: len(chunks), Vectors: len(vectors)}
	}

	deleted, err := r.purge(ctx, sourceID)
	res.Deleted = deleted
	if err != nil {
		return res, err
	}

	processedAt := r.cfg.Clock().UTC()
	entries := make([]rag.Entry, len(chunks))
	for i, c := range chunks {
		entries[i] = toEntry(sourceID, c, processedAt)
		if vectors != nil {
			entries[i].Vector = vectors[i]
		}
	}

	for start := 0; start < len(entries); start += r.cfg.UpsertBatchSize {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		batch := entries[start:min(start+r.cfg.UpsertBatchSize, len(entries))]

		results, err := r.store.Upsert(ctx, batch)
		if err != nil {
			res.Failed += len(batch)
			r.cfg.Metrics.IndexItems(metrics.OpUpsert, 0, len(batch))
			r.log.Error("index: upsert batch failed",
				slog.String("source_id", sourceID),
				slog.Int("batch_start", start),
				slog.Int("batch_size", len(batch)),
				slog.String("error", err.Error()),
			)
			continue
		}

		ok, failed := r.tally(sourceID, batch, results)
		res.Succeeded += ok
		res.Failed += failed
		r.cfg.Metrics.IndexItems(metrics.OpUpsert, ok, failed)
	}

	r.log.Info("index: source reconciled",
		slog.String("source_id", sourceID),
		slog.Int("deleted", res.Deleted),
		slog.Int("succeeded", res.Succeeded),
		slog.Int("failed", res.Failed),
	)
	return res, nil
}

// Purge removes every entry indexed for sourceID and returns how many were
// deleted.
func (r *Reconciler) Purge(ctx context.Context, sourceID string) (int, error) {
	return r.purge(ctx, sourceID)
}

func (r *Reconciler) purge(ctx context.Context, sourceID string) (int, error) {
	keys, err := r.store.KeysBySource(ctx, sourceID, r.cfg.QueryLimit)
	if err != nil {
		return 0, &StoreError{Op: "query", SourceID: sourceID, Err: err}
	}
	if len(keys) >= r.cfg.QueryLimit {
		r.log.Warn("index: stale key query hit its limit; older entries may survive",
			slog.String("source_id", sourceID),
			slog.Int("limit", r.cfg.QueryLimit),
		)
	}

	deleted := 0
	for start := 0; start < len(keys); start += r.cfg.DeleteBatchSize {
		if err := ctx.Err(); err != nil {
			return deleted, err
		}
		batch := keys[start:min(start+r.cfg.DeleteBatchSize, len(keys))]

		results, err := r.store.Delete(ctx, batch)
		if err != nil {
			return deleted, &StoreError{Op: "delete", SourceID: sourceID, Err: err}
		}
		for _, item := range results {
			if !item.Succeeded {
				r.cfg.Metrics.IndexItems(metrics.OpDelete, 0, 1)
				return deleted, &StoreError{
					Op:       "delete",
					SourceID: sourceID,
					Err:      fmt.Errorf("key %q: %s", item.Key, item.Error),
				}
			}
			deleted++
			r.cfg.Metrics.IndexItems(metrics.OpDelete, 1, 0)
		}
	}
	return deleted, nil
}

// tally counts per-item upsert results and logs each failure. Entries the
// store did not report on count as failed.
func (r *Reconciler) tally(sourceID string, batch []rag.Entry, results []rag.ItemResult) (ok, failed int) {
	reported := make(map[string]bool, len(results))
	for _, item := range results {
		reported[item.Key] = true
		if item.Succeeded {
			ok++
			continue
		}
		failed++
		r.log.Error("index: entry rejected",
			slog.String("source_id", sourceID),
			slog.String("key", item.Key),
			slog.String("reason", item.Error),
		)
	}
	for _, e := range batch {
		if !reported[e.Key] {
			failed++
			r.log.Error("index: entry missing from store response",
				slog.String("source_id", sourceID),
				slog.String("key", e.Key),
			)
		}
	}
	return ok, failed
}

// toEntry projects a chunk onto the stored entry shape. The reconciled
// sourceID wins over the chunk's own so keys always match the stale query.
func toEntry(sourceID string, c chunk.Chunk, processedAt time.Time) rag.Entry {
	e := rag.Entry{
		Key:         chunk.Key(sourceID, c.Index),
		Content:     c.Content,
		Vector:      c.Vector,
		SourceID:    sourceID,
		DisplayName: c.DisplayName,
		ChunkIndex:  c.Index,
		ProcessedAt: processedAt,
		PageNumber:  c.PageNumber,
	}
	if c.TotalChunks > 0 {
		total := c.TotalChunks
		e.TotalChunks = &total
	}
	return e
}
