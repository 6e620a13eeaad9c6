package rag

import (
	"context"
	"fmt"
	"time"

	"github.com/go-openapi/strfmt"
	"github.com/weaviate/weaviate-go-client/v5/weaviate"
	"github.com/weaviate/weaviate-go-client/v5/weaviate/auth"
	"github.com/weaviate/weaviate-go-client/v5/weaviate/filters"
	"github.com/weaviate/weaviate-go-client/v5/weaviate/graphql"
	"github.com/weaviate/weaviate/entities/models"
)

// WeaviateConfig holds connection parameters for a Weaviate instance.
type WeaviateConfig struct {
	// Host is the Weaviate host:port (default: localhost:8080).
	Host string

	// Scheme is http or https (default: http).
	Scheme string

	// Class is the Weaviate class that holds index entries (default: DocumentChunk).
	Class string

	// APIKey is the optional API key for authenticated clusters.
	APIKey string
}

// WeaviateStore implements IndexStore backed by a Weaviate class. Object IDs
// are derived from entry keys with PointID.
type WeaviateStore struct {
	client *weaviate.Client
	class  string
}

// NewWeaviateStore connects to Weaviate and ensures the entry class exists.
func NewWeaviateStore(ctx context.Context, cfg *WeaviateConfig) (*WeaviateStore, error) {
	if cfg.Host == "" {
		cfg.Host = "localhost:8080"
	}
	if cfg.Scheme == "" {
		cfg.Scheme = "http"
	}
	if cfg.Class == "" {
		cfg.Class = "DocumentChunk"
	}

	wCfg := weaviate.Config{Host: cfg.Host, Scheme: cfg.Scheme}
	if cfg.APIKey != "" {
		wCfg.AuthConfig = auth.ApiKey{Value: cfg.APIKey}
	}
	client, err := weaviate.NewClient(wCfg)
	if err != nil {
		return nil, fmt.Errorf("weaviate: failed to create client: %w", err)
	}

	store := &WeaviateStore{client: client, class: cfg.Class}
	if err := store.ensureClass(ctx); err != nil {
		return nil, err
	}
	return store, nil
}

// ensureClass creates the entry class with an explicit schema if missing.
func (s *WeaviateStore) ensureClass(ctx context.Context) error {
	exists, err := s.client.Schema().ClassExistenceChecker().WithClassName(s.class).Do(ctx)
	if err != nil {
		return fmt.Errorf("weaviate: failed to check class %q: %w", s.class, err)
	}
	if exists {
		return nil
	}

	exact := func(name string) *models.Property {
		return &models.Property{Name: name, DataType: []string{"text"}, Tokenization: "field"}
	}
	class := &models.Class{
		Class:      s.class,
		Vectorizer: "none",
		Properties: []*models.Property{
			exact("key"),
			exact("sourceId"),
			{Name: "content", DataType: []string{"text"}},
			{Name: "displayName", DataType: []string{"text"}},
			{Name: "chunkIndex", DataType: []string{"int"}},
			{Name: "processedAt", DataType: []string{"date"}},
			{Name: "pageNumber", DataType: []string{"int"}},
			{Name: "totalChunks", DataType: []string{"int"}},
		},
	}
	if err := s.client.Schema().ClassCreator().WithClass(class).Do(ctx); err != nil {
		return fmt.Errorf("weaviate: failed to create class %q: %w", s.class, err)
	}
	return nil
}

// KeysBySource returns the key property of every object whose sourceId matches.
func (s *WeaviateStore) KeysBySource(ctx context.Context, sourceID string, limit int) ([]string, error) {
	where := filters.Where().
		WithPath([]string{"sourceId"}).
		WithOperator(filters.Equal).
		WithValueText(sourceID)

	res, err := s.client.GraphQL().Get().
		WithClassName(s.class).
		WithWhere(where).
		WithLimit(limit).
		WithFields(graphql.Field{Name: "key"}).
		Do(ctx)
	if err != nil {
		return nil, fmt.Errorf("weaviate: query by source failed: %w", err)
	}
	if len(res.Errors) > 0 {
		return nil, fmt.Errorf("weaviate: query by source failed: %s", res.Errors[0].Message)
	}

	var keys []string
	if data, ok := res.Data["Get"].(map[string]interface{}); ok {
		if objs, ok := data[s.class].([]interface{}); ok {
			for _, o := range objs {
				if props, ok := o.(map[string]interface{}); ok {
					if k, ok := props["key"].(string); ok {
						keys = append(keys, k)
					}
				}
			}
		}
	}
	return keys, nil
}

// Delete removes objects whose key is in keys with a single batch delete.
// Keys that matched nothing are reported as deleted.
func (s *WeaviateStore) Delete(ctx context.Context, keys []string) ([]ItemResult, error) {
	if len(keys) == 0 {
		return nil, nil
	}

	res, err := s.client.Batch().ObjectsBatchDeleter().
		WithClassName(s.class).
		WithOutput("verbose").
		WithWhere(filters.Where().
			WithPath([]string{"key"}).
			WithOperator(filters.ContainsAny).
			WithValueText(keys...)).
		Do(ctx)
	if err != nil {
		return nil, fmt.Errorf("weaviate: batch delete failed: %w", err)
	}

	failed := make(map[strfmt.UUID]string)
	if res != nil && res.Results != nil {
		for _, o := range res.Results.Objects {
			if o == nil || o.Status == nil || *o.Status != "FAILED" {
				continue
			}
			failed[o.ID] = errorMessage(o.Errors, "delete failed")
		}
	}

	results := succeedAll(keys)
	for i, k := range keys {
		if reason, ok := failed[strfmt.UUID(PointID(k))]; ok {
			results[i] = ItemResult{Key: k, Error: reason}
		}
	}
	return results, nil
}

// Upsert writes entries with the objects batcher; Weaviate replaces objects
// that already exist under the same ID.
func (s *WeaviateStore) Upsert(ctx context.Context, entries []Entry) ([]ItemResult, error) {
	if len(entries) == 0 {
		return nil, nil
	}

	objs := make([]*models.Object, len(entries))
	byID := make(map[strfmt.UUID]int, len(entries))
	for i, e := range entries {
		id := strfmt.UUID(PointID(e.Key))
		byID[id] = i
		objs[i] = &models.Object{
			Class:      s.class,
			ID:         id,
			Properties: weaviateProperties(e),
			Vector:     e.Vector,
		}
	}

	resp, err := s.client.Batch().ObjectsBatcher().WithObjects(objs...).Do(ctx)
	if err != nil {
		return nil, fmt.Errorf("weaviate: batch upsert failed: %w", err)
	}

	results := succeedAll(entryKeys(entries))
	for _, r := range resp {
		if r.Result == nil || r.Result.Errors == nil || len(r.Result.Errors.Error) == 0 {
			continue
		}
		if i, ok := byID[r.ID]; ok {
			results[i].Succeeded = false
			results[i].Error = errorMessage(r.Result.Errors, "upsert failed")
		}
	}
	return results, nil
}

// weaviateProperties converts an entry's fields to object properties.
func weaviateProperties(e Entry) map[string]interface{} {
	props := map[string]interface{}{
		"key":         e.Key,
		"content":     e.Content,
		"sourceId":    e.SourceID,
		"displayName": e.DisplayName,
		"chunkIndex":  e.ChunkIndex,
		"processedAt": e.ProcessedAt.UTC().Format(time.RFC3339Nano),
	}
	if e.PageNumber != nil {
		props["pageNumber"] = *e.PageNumber
	}
	if e.TotalChunks != nil {
		props["totalChunks"] = *e.TotalChunks
	}
	return props
}

// errorMessage returns the first message in a Weaviate error response.
func errorMessage(resp *models.ErrorResponse, fallback string) string {
	if resp == nil {
		return fallback
	}
	for _, e := range resp.Error {
		if e != nil && e.Message != "" {
			return e.Message
		}
	}
	return fallback
}

// Sources aggregates the class grouped by sourceId.
func (s *WeaviateStore) Sources(ctx context.Context, limit int) ([]SourceCount, error) {
	groups, err := s.aggregate(ctx, "sourceId",
		graphql.Field{Name: "groupedBy", Fields: []graphql.Field{{Name: "value"}}},
		graphql.Field{Name: "meta", Fields: []graphql.Field{{Name: "count"}}},
	)
	if err != nil {
		return nil, fmt.Errorf("weaviate: aggregate sources failed: %w", err)
	}

	counts := make(map[string]int, len(groups))
	for _, g := range groups {
		by, _ := g["groupedBy"].(map[string]interface{})
		id, ok := by["value"].(string)
		if !ok {
			continue
		}
		counts[id] = metaCount(g)
	}
	return sortedSources(counts, limit), nil
}

// Count aggregates meta { count } over the whole class.
func (s *WeaviateStore) Count(ctx context.Context) (int, error) {
	groups, err := s.aggregate(ctx, "",
		graphql.Field{Name: "meta", Fields: []graphql.Field{{Name: "count"}}},
	)
	if err != nil {
		return 0, fmt.Errorf("weaviate: aggregate count failed: %w", err)
	}
	if len(groups) == 0 {
		return 0, nil
	}
	return metaCount(groups[0]), nil
}

// aggregate runs an Aggregate query on the class, optionally grouped by a
// property, and returns the result rows.
func (s *WeaviateStore) aggregate(ctx context.Context, groupBy string, fields ...graphql.Field) ([]map[string]interface{}, error) {
	q := s.client.GraphQL().Aggregate().WithClassName(s.class).WithFields(fields...)
	if groupBy != "" {
		q = q.WithGroupBy(groupBy)
	}
	res, err := q.Do(ctx)
	if err != nil {
		return nil, err
	}
	if len(res.Errors) > 0 {
		return nil, fmt.Errorf("%s", res.Errors[0].Message)
	}

	var rows []map[string]interface{}
	if data, ok := res.Data["Aggregate"].(map[string]interface{}); ok {
		if objs, ok := data[s.class].([]interface{}); ok {
			for _, o := range objs {
				if row, ok := o.(map[string]interface{}); ok {
					rows = append(rows, row)
				}
			}
		}
	}
	return rows, nil
}

// metaCount reads meta.count from an aggregate row. JSON numbers decode as
// float64.
func metaCount(row map[string]interface{}) int {
	meta, _ := row["meta"].(map[string]interface{})
	n, _ := meta["count"].(float64)
	return int(n)
}

// Close is a no-op; the Weaviate client holds no persistent connection.
func (s *WeaviateStore) Close() error { return nil }

// Ping asks Weaviate whether it is ready to serve requests.
func (s *WeaviateStore) Ping(ctx context.Context) error {
	ready, err := s.client.Misc().ReadyChecker().Do(ctx)
	if err != nil {
		return fmt.Errorf("weaviate: readiness check failed: %w", err)
	}
	if !ready {
		return fmt.Errorf("weaviate: not ready")
	}
	return nil
}
