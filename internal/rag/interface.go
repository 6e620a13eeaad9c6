// Package rag defines the capability interfaces the indexing pipeline talks
// to: an embedding service and an index store. Concrete backends (Qdrant,
// Weaviate, Badger, in-memory) satisfy IndexStore so the reconciler never
// depends on a specific store.
package rag

import (
	"context"
	"sort"
	"time"
)

// Embedding is one vector returned by an embedding service together with the
// position of its input text in the request.
type Embedding struct {
	// Index is the position of the source text in the request batch.
	Index int

	// Vector is the dense embedding.
	Vector []float32
}

// Embedder is the interface for a single remote embedding call.
// Implementations must be safe to call from multiple goroutines.
type Embedder interface {
	// Embed issues one remote call for texts. Results may arrive in any order;
	// each carries the index of the input it belongs to.
	Embed(ctx context.Context, texts []string) ([]Embedding, error)
}

// Entry is the persisted projection of a chunk in the index store.
type Entry struct {
	// Key is the stable primary key (see chunk.Key).
	Key string

	// Content is the chunk text.
	Content string

	// Vector is the chunk embedding. May be nil when indexing without vectors.
	Vector []float32

	// SourceID is the logical path or URL of the source document.
	SourceID string

	// DisplayName is the human-readable document name.
	DisplayName string

	// ChunkIndex is the zero-based chunk position within the document.
	ChunkIndex int

	// ProcessedAt is the timestamp shared by all entries of one reconciliation.
	ProcessedAt time.Time

	// PageNumber is the 1-based source page, when known.
	PageNumber *int

	// TotalChunks is the number of chunks the document produced, when known.
	TotalChunks *int
}

// ItemResult reports the outcome of one item in a batch delete or upsert.
type ItemResult struct {
	// Key identifies the item.
	Key string

	// Succeeded is true when the store accepted the item.
	Succeeded bool

	// Error is the store-reported reason when Succeeded is false.
	Error string
}

// IndexStore is the interface for persisting index entries. Each batch call
// reports success or failure per item. Implementations must be safe to call
// from multiple goroutines.
type IndexStore interface {
	// KeysBySource returns the keys of every entry whose source ID equals
	// sourceID, up to limit results.
	KeysBySource(ctx context.Context, sourceID string, limit int) ([]string, error)

	// Delete removes the entries with the given keys. A returned error means
	// the call itself failed; per-item failures are reported in the results.
	Delete(ctx context.Context, keys []string) ([]ItemResult, error)

	// Upsert inserts or replaces entries by key. A returned error means the
	// call itself failed; per-item failures are reported in the results.
	Upsert(ctx context.Context, entries []Entry) ([]ItemResult, error)

	// Close releases any resources held by the store.
	Close() error
}

// Pinger is implemented by stores that can report their own reachability.
// Every built-in backend implements it.
type Pinger interface {
	Ping(ctx context.Context) error
}

// SourceCount is one indexed source and the number of entries it holds.
type SourceCount struct {
	SourceID string `json:"source_id"`
	Chunks   int    `json:"chunks"`
}

// Inventory is implemented by stores that can enumerate what they hold.
// Every built-in backend implements it.
type Inventory interface {
	// Sources lists indexed sources ordered by source ID, up to limit.
	// A limit of zero or less means no limit.
	Sources(ctx context.Context, limit int) ([]SourceCount, error)

	// Count returns the total number of entries.
	Count(ctx context.Context) (int, error)
}

// sortedSources turns per-source counts into a slice ordered by source ID
// and truncated to limit.
func sortedSources(counts map[string]int, limit int) []SourceCount {
	out := make([]SourceCount, 0, len(counts))
	for id, n := range counts {
		out = append(out, SourceCount{SourceID: id, Chunks: n})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].SourceID < out[j].SourceID })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}

// failAll returns a failed ItemResult for each key, all carrying reason.
func failAll(keys []string, reason string) []ItemResult {
	results := make([]ItemResult, len(keys))
	for i, k := range keys {
		results[i] = ItemResult{Key: k, Error: reason}
	}
	return results
}

// succeedAll returns a successful ItemResult for each key.
func succeedAll(keys []string) []ItemResult {
	results := make([]ItemResult, len(keys))
	for i, k := range keys {
		results[i] = ItemResult{Key: k, Succeeded: true}
	}
	return results
}

// entryKeys returns the Key of every entry.
func entryKeys(entries []Entry) []string {
	keys := make([]string, len(entries))
	for i, e := range entries {
		keys[i] = e.Key
	}
	return keys
}
