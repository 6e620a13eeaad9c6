package rag

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"reflect"
	"strings"
	"testing"

	"github.com/weaviate/weaviate-go-client/v5/weaviate"
)

// newMockWeaviate starts a fake Weaviate REST server and returns a store
// pointed at it. handler sees every request except /v1/meta.
func newMockWeaviate(t *testing.T, handler http.HandlerFunc) *WeaviateStore {
	t.Helper()
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/v1/meta" {
			_, _ = w.Write([]byte(`{"version": "1.25.0"}`))
			return
		}
		handler(w, r)
	}))
	t.Cleanup(ts.Close)

	client, err := weaviate.NewClient(weaviate.Config{Host: ts.Listener.Addr().String(), Scheme: "http"})
	if err != nil {
		t.Fatalf("weaviate client: %v", err)
	}
	return &WeaviateStore{client: client, class: "DocumentChunk"}
}

func TestWeaviateStore_UpsertReportsPerObjectErrors(t *testing.T) {
	t.Parallel()
	bad := PointID("a#chunk_1")

	s := newMockWeaviate(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/batch/objects" || r.Method != http.MethodPost {
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
			http.Error(w, "unexpected", http.StatusNotFound)
			return
		}
		var body struct {
			Objects []map[string]any `json:"objects"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			t.Errorf("decode batch: %v", err)
		}
		out := make([]map[string]any, 0, len(body.Objects))
		for _, o := range body.Objects {
			res := map[string]any{"id": o["id"], "class": o["class"]}
			if o["id"] == bad {
				res["result"] = map[string]any{
					"errors": map[string]any{"error": []map[string]any{{"message": "vector length mismatch"}}},
				}
			} else {
				res["result"] = map[string]any{}
			}
			out = append(out, res)
		}
		_ = json.NewEncoder(w).Encode(out)
	})

	results, err := s.Upsert(context.Background(), []Entry{testEntry("a", 0), testEntry("a", 1)})
	if err != nil {
		t.Fatalf("upsert: %v", err)
	}
	if len(results) != 2 {
		t.Fatalf("want 2 results, got %d", len(results))
	}
	if !results[0].Succeeded {
		t.Errorf("result 0 = %+v, want success", results[0])
	}
	if results[1].Succeeded || results[1].Error != "vector length mismatch" {
		t.Errorf("result 1 = %+v, want failure with message", results[1])
	}
}

func TestWeaviateStore_UpsertCallFailure(t *testing.T) {
	t.Parallel()
	s := newMockWeaviate(t, func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, `{"error":[{"message":"down"}]}`, http.StatusInternalServerError)
	})

	if _, err := s.Upsert(context.Background(), []Entry{testEntry("a", 0)}); err == nil {
		t.Fatal("expected error for failed batch call")
	}
}

func TestWeaviateStore_DeleteMapsFailedObjects(t *testing.T) {
	t.Parallel()
	bad := PointID("a#chunk_0")
	failed := "FAILED"

	s := newMockWeaviate(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/batch/objects" || r.Method != http.MethodDelete {
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		_ = json.NewEncoder(w).Encode(map[string]any{
			"output": "verbose",
			"results": map[string]any{
				"matches": 2,
				"failed":  1,
				"objects": []map[string]any{
					{"id": bad, "status": failed, "errors": map[string]any{"error": []map[string]any{{"message": "locked"}}}},
					{"id": PointID("a#chunk_1"), "status": "SUCCESS"},
				},
			},
		})
	})

	results, err := s.Delete(context.Background(), []string{"a#chunk_0", "a#chunk_1", "a#chunk_2"})
	if err != nil {
		t.Fatalf("delete: %v", err)
	}
	if results[0].Succeeded || results[0].Error != "locked" {
		t.Errorf("result 0 = %+v, want locked failure", results[0])
	}
	if !results[1].Succeeded || !results[2].Succeeded {
		t.Errorf("results 1-2 = %+v, want success", results[1:])
	}
}

func TestWeaviateStore_SourcesAndCount(t *testing.T) {
	t.Parallel()
	s := newMockWeaviate(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/graphql" {
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
			http.Error(w, "unexpected", http.StatusNotFound)
			return
		}
		var body struct {
			Query string `json:"query"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			t.Errorf("decode graphql: %v", err)
		}
		var rows []map[string]any
		if strings.Contains(body.Query, "groupBy") {
			rows = []map[string]any{
				{"groupedBy": map[string]any{"value": "b.pdf", "path": []string{"sourceId"}}, "meta": map[string]any{"count": 1}},
				{"groupedBy": map[string]any{"value": "a.pdf", "path": []string{"sourceId"}}, "meta": map[string]any{"count": 4}},
			}
		} else {
			rows = []map[string]any{{"meta": map[string]any{"count": 5}}}
		}
		_ = json.NewEncoder(w).Encode(map[string]any{
			"data": map[string]any{"Aggregate": map[string]any{"DocumentChunk": rows}},
		})
	})
	ctx := context.Background()

	got, err := s.Sources(ctx, 0)
	if err != nil {
		t.Fatalf("sources: %v", err)
	}
	if want := []SourceCount{{"a.pdf", 4}, {"b.pdf", 1}}; !reflect.DeepEqual(got, want) {
		t.Errorf("Sources = %+v, want %+v", got, want)
	}

	n, err := s.Count(ctx)
	if err != nil || n != 5 {
		t.Errorf("Count = %d, %v; want 5", n, err)
	}
}

func TestWeaviateStore_SourcesGraphQLError(t *testing.T) {
	t.Parallel()
	s := newMockWeaviate(t, func(w http.ResponseWriter, _ *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{
			"errors": []map[string]any{{"message": "no such class"}},
		})
	})

	if _, err := s.Sources(context.Background(), 0); err == nil || !strings.Contains(err.Error(), "no such class") {
		t.Errorf("err = %v, want graphql error", err)
	}
}
