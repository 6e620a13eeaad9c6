package rag

import (
	"context"
	"fmt"
	"time"

	"github.com/qdrant/go-client/qdrant"
)

// Payload field names written to every Qdrant point.
const (
	fieldKey         = "key"
	fieldContent     = "content"
	fieldSourceID    = "source_id"
	fieldDisplayName = "display_name"
	fieldChunkIndex  = "chunk_index"
	fieldProcessedAt = "processed_at"
	fieldPageNumber  = "page_number"
	fieldTotalChunks = "total_chunks"
)

// QdrantConfig holds connection parameters for a Qdrant vector store instance.
type QdrantConfig struct {
	// Host is the Qdrant server hostname (default: localhost).
	Host string

	// Port is the Qdrant gRPC port (default: 6334).
	Port int

	// Collection is the Qdrant collection name to use.
	Collection string

	// VectorSize is the dimensionality of the embeddings stored in this collection.
	VectorSize uint64

	// APIKey is the optional Qdrant API key for authenticated clusters.
	APIKey string

	// UseTLS enables TLS for the gRPC connection.
	UseTLS bool
}

// QdrantStore implements IndexStore backed by a Qdrant instance. Entry keys
// are mapped to point UUIDs with PointID; the original key travels in the
// payload so KeysBySource can return it.
type QdrantStore struct {
	// client is the underlying Qdrant gRPC client.
	client *qdrant.Client

	// cfg holds the resolved configuration for this store.
	cfg *QdrantConfig
}

// NewQdrantStore creates a new QdrantStore, ensuring the target collection
// and its source_id payload index exist.
func NewQdrantStore(ctx context.Context, cfg *QdrantConfig) (*QdrantStore, error) {
	if cfg.Host == "" {
		cfg.Host = "localhost"
	}
	if cfg.Port == 0 {
		cfg.Port = 6334
	}
	if cfg.Collection == "" {
		return nil, fmt.Errorf("qdrant: collection name is required")
	}

	client, err := qdrant.NewClient(&qdrant.Config{
		Host:   cfg.Host,
		Port:   cfg.Port,
		APIKey: cfg.APIKey,
		UseTLS: cfg.UseTLS,
	})
	if err != nil {
		return nil, fmt.Errorf("qdrant: failed to create client: %w", err)
	}

	store := &QdrantStore{client: client, cfg: cfg}
	if err := store.ensureCollection(ctx); err != nil {
		_ = client.Close()
		return nil, err
	}

	return store, nil
}

// Client exposes the underlying client for health probes.
func (s *QdrantStore) Client() *qdrant.Client { return s.client }

// ensureCollection creates the Qdrant collection and the keyword index on
// source_id if they do not already exist.
func (s *QdrantStore) ensureCollection(ctx context.Context) error {
	exists, err := s.client.CollectionExists(ctx, s.cfg.Collection)
	if err != nil {
		return fmt.Errorf("qdrant: failed to check collection existence: %w", err)
	}
	if exists {
		return nil
	}

	err = s.client.CreateCollection(ctx, &qdrant.CreateCollection{
		CollectionName: s.cfg.Collection,
		VectorsConfig: qdrant.NewVectorsConfig(&qdrant.VectorParams{
			Size:     s.cfg.VectorSize,
			Distance: qdrant.Distance_Cosine,
		}),
	})
	if err != nil {
		return fmt.Errorf("qdrant: failed to create collection %q: %w", s.cfg.Collection, err)
	}

	wait := true
	_, err = s.client.CreateFieldIndex(ctx, &qdrant.CreateFieldIndexCollection{
		CollectionName: s.cfg.Collection,
		Wait:           &wait,
		FieldName:      fieldSourceID,
		FieldType:      qdrant.FieldType_FieldTypeKeyword.Enum(),
	})
	if err != nil {
		return fmt.Errorf("qdrant: failed to index %s: %w", fieldSourceID, err)
	}

	return nil
}

// KeysBySource scrolls the points whose source_id matches and returns their
// entry keys.
func (s *QdrantStore) KeysBySource(ctx context.Context, sourceID string, limit int) ([]string, error) {
	lim := uint32(limit)
	points, err := s.client.Scroll(ctx, &qdrant.ScrollPoints{
		CollectionName: s.cfg.Collection,
		Filter: &qdrant.Filter{
			Must: []*qdrant.Condition{qdrant.NewMatch(fieldSourceID, sourceID)},
		},
		Limit:       &lim,
		WithPayload: qdrant.NewWithPayloadInclude(fieldKey),
	})
	if err != nil {
		return nil, fmt.Errorf("qdrant: scroll by source failed: %w", err)
	}

	keys := make([]string, 0, len(points))
	for _, p := range points {
		if v, ok := p.GetPayload()[fieldKey]; ok {
			keys = append(keys, v.GetStringValue())
		}
	}
	return keys, nil
}

// Delete removes points by entry key. Qdrant applies a delete atomically, so
// the outcome is reported identically for every key.
func (s *QdrantStore) Delete(ctx context.Context, keys []string) ([]ItemResult, error) {
	if len(keys) == 0 {
		return nil, nil
	}

	ids := make([]*qdrant.PointId, 0, len(keys))
	for _, k := range keys {
		ids = append(ids, qdrant.NewIDUUID(PointID(k)))
	}

	wait := true
	_, err := s.client.Delete(ctx, &qdrant.DeletePoints{
		CollectionName: s.cfg.Collection,
		Wait:           &wait,
		Points:         qdrant.NewPointsSelector(ids...),
	})
	if err != nil {
		return nil, fmt.Errorf("qdrant: delete failed: %w", err)
	}

	return succeedAll(keys), nil
}

// Upsert writes entries as points. Entries without a vector are rejected
// individually since the collection requires one.
func (s *QdrantStore) Upsert(ctx context.Context, entries []Entry) ([]ItemResult, error) {
	if len(entries) == 0 {
		return nil, nil
	}

	results := make([]ItemResult, len(entries))
	points := make([]*qdrant.PointStruct, 0, len(entries))
	pending := make([]int, 0, len(entries))
	for i, e := range entries {
		results[i].Key = e.Key
		if len(e.Vector) == 0 {
			results[i].Error = "entry has no vector"
			continue
		}
		points = append(points, &qdrant.PointStruct{
			Id:      qdrant.NewIDUUID(PointID(e.Key)),
			Vectors: qdrant.NewVectors(e.Vector...),
			Payload: qdrantPayload(e),
		})
		pending = append(pending, i)
	}
	if len(points) == 0 {
		return results, nil
	}

	wait := true
	_, err := s.client.Upsert(ctx, &qdrant.UpsertPoints{
		CollectionName: s.cfg.Collection,
		Wait:           &wait,
		Points:         points,
	})
	for _, i := range pending {
		if err != nil {
			results[i].Error = err.Error()
			continue
		}
		results[i].Succeeded = true
	}

	return results, nil
}

// qdrantPayload converts an entry's fields to a Qdrant payload.
func qdrantPayload(e Entry) map[string]*qdrant.Value {
	payload := map[string]*qdrant.Value{
		fieldKey:         qdrant.NewValueString(e.Key),
		fieldContent:     qdrant.NewValueString(e.Content),
		fieldSourceID:    qdrant.NewValueString(e.SourceID),
		fieldDisplayName: qdrant.NewValueString(e.DisplayName),
		fieldChunkIndex:  qdrant.NewValueInt(int64(e.ChunkIndex)),
		fieldProcessedAt: qdrant.NewValueString(e.ProcessedAt.UTC().Format(time.RFC3339Nano)),
	}
	if e.PageNumber != nil {
		payload[fieldPageNumber] = qdrant.NewValueInt(int64(*e.PageNumber))
	}
	if e.TotalChunks != nil {
		payload[fieldTotalChunks] = qdrant.NewValueInt(int64(*e.TotalChunks))
	}
	return payload
}

// maxFacetSources caps Sources when no limit is given.
const maxFacetSources = 10000

// Sources facets the collection on the indexed source_id payload field.
func (s *QdrantStore) Sources(ctx context.Context, limit int) ([]SourceCount, error) {
	lim := uint64(maxFacetSources)
	if limit > 0 {
		lim = uint64(limit)
	}
	exact := true
	hits, err := s.client.Facet(ctx, &qdrant.FacetCounts{
		CollectionName: s.cfg.Collection,
		Key:            fieldSourceID,
		Limit:          &lim,
		Exact:          &exact,
	})
	if err != nil {
		return nil, fmt.Errorf("qdrant: facet on %s failed: %w", fieldSourceID, err)
	}

	counts := make(map[string]int, len(hits))
	for _, h := range hits {
		counts[h.GetValue().GetStringValue()] = int(h.GetCount())
	}
	return sortedSources(counts, limit), nil
}

// Count returns the exact number of points in the collection.
func (s *QdrantStore) Count(ctx context.Context) (int, error) {
	exact := true
	n, err := s.client.Count(ctx, &qdrant.CountPoints{
		CollectionName: s.cfg.Collection,
		Exact:          &exact,
	})
	if err != nil {
		return 0, fmt.Errorf("qdrant: count failed: %w", err)
	}
	return int(n), nil
}

// Close closes the underlying Qdrant gRPC connection.
func (s *QdrantStore) Close() error {
	return s.client.Close()
}

// Ping calls the Qdrant HealthCheck RPC.
func (s *QdrantStore) Ping(ctx context.Context) error {
	if _, err := s.client.HealthCheck(ctx); err != nil {
		return fmt.Errorf("qdrant: health check failed: %w", err)
	}
	return nil
}
