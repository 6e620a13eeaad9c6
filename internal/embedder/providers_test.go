package embedder

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/cloudwego/eino/callbacks"
	"github.com/cloudwego/eino/components/embedding"

	"github.com/54b3r/ragindex-go/internal/rag"
)

func TestOpenAIEmbedder_ReturnsReportedIndices(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/embeddings" {
			t.Errorf("path = %s, want /embeddings", r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer sk-test" {
			t.Errorf("Authorization = %q", got)
		}
		var req openaiEmbedRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decode: %v", err)
		}
		if req.Model != "text-embedding-3-small" || len(req.Input) != 2 {
			t.Errorf("request = %+v", req)
		}
		_, _ = io.WriteString(w, `{"data":[{"index":1,"embedding":[0.2]},{"index":0,"embedding":[0.1]}]}`)
	}))
	t.Cleanup(srv.Close)

	e := NewOpenAIEmbedder(&OpenAIConfig{BaseURL: srv.URL, APIKey: "sk-test", Model: "text-embedding-3-small"})
	got, err := e.Embed(context.Background(), []string{"a", "b"})
	if err != nil {
		t.Fatalf("Embed: %v", err)
	}
	if len(got) != 2 || got[0].Index != 1 || got[0].Vector[0] != 0.2 || got[1].Index != 0 {
		t.Errorf("embeddings = %+v", got)
	}
}

func TestOpenAIEmbedder_AzureRouting(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/openai/deployments/ada/embeddings" {
			t.Errorf("path = %s", r.URL.Path)
		}
		if r.URL.Query().Get("api-version") != "2024-02-01" {
			t.Errorf("api-version = %q", r.URL.Query().Get("api-version"))
		}
		if r.Header.Get("api-key") != "azure-key" {
			t.Errorf("api-key header = %q", r.Header.Get("api-key"))
		}
		_, _ = io.WriteString(w, `{"data":[{"index":0,"embedding":[1]}]}`)
	}))
	t.Cleanup(srv.Close)

	e := NewOpenAIEmbedder(&OpenAIConfig{
		BaseURL: srv.URL + "/openai", APIKey: "azure-key", Model: "ada", Azure: true, APIVersion: "2024-02-01",
	})
	if _, err := e.Embed(context.Background(), []string{"a"}); err != nil {
		t.Fatalf("Embed: %v", err)
	}
}

func TestOpenAIEmbedder_ErrorMapping(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name       string
		status     int
		retryAfter string
		body       string
		wantClass  Class
		wantWait   time.Duration
		wantMsg    string
	}{
		{"rate limited", http.StatusTooManyRequests, "3", `{"error":{"message":"slow down"}}`, Retryable, 3 * time.Second, "slow down"},
		{"server error", http.StatusBadGateway, "", `<html>bad gateway</html>`, Retryable, 0, ""},
		{"bad request", http.StatusBadRequest, "", `{"error":{"message":"too many tokens"}}`, Fatal, 0, "too many tokens"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
				if tt.retryAfter != "" {
					w.Header().Set("Retry-After", tt.retryAfter)
				}
				w.WriteHeader(tt.status)
				_, _ = io.WriteString(w, tt.body)
			}))
			t.Cleanup(srv.Close)

			e := NewOpenAIEmbedder(&OpenAIConfig{BaseURL: srv.URL, APIKey: "k", Model: "m"})
			_, err := e.Embed(context.Background(), []string{"a"})

			var apiErr *APIError
			if !errors.As(err, &apiErr) {
				t.Fatalf("err = %v, want *APIError", err)
			}
			if apiErr.StatusCode != tt.status || apiErr.RetryAfter != tt.wantWait || apiErr.Message != tt.wantMsg {
				t.Errorf("APIError = %+v", apiErr)
			}
			if got := Classify(err); got != tt.wantClass {
				t.Errorf("Classify = %v, want %v", got, tt.wantClass)
			}
		})
	}
}

func TestOpenAIEmbedder_ConnectionFailure(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	e := NewOpenAIEmbedder(&OpenAIConfig{BaseURL: url, APIKey: "k", Model: "m"})
	_, err := e.Embed(context.Background(), []string{"a"})

	var connErr *ConnectionError
	if !errors.As(err, &connErr) {
		t.Fatalf("err = %v, want *ConnectionError", err)
	}
	if Classify(err) != Retryable {
		t.Error("connection failure should be retryable")
	}
}

func TestOllamaEmbedder_PositionalIndices(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/embed" {
			t.Errorf("path = %s", r.URL.Path)
		}
		_, _ = io.WriteString(w, `{"embeddings":[[1,1],[2,2],[3,3]]}`)
	}))
	t.Cleanup(srv.Close)

	e := NewOllamaEmbedder(&OllamaConfig{Host: srv.URL, Model: "nomic-embed-text"})
	got, err := e.Embed(context.Background(), []string{"a", "b", "c"})
	if err != nil {
		t.Fatalf("Embed: %v", err)
	}
	for i, emb := range got {
		if emb.Index != i || emb.Vector[0] != float32(i+1) {
			t.Errorf("embedding %d = %+v", i, emb)
		}
	}
}

func TestOllamaEmbedder_ServerError(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = io.WriteString(w, `{"error":"model is loading"}`)
	}))
	t.Cleanup(srv.Close)

	e := NewOllamaEmbedder(&OllamaConfig{Host: srv.URL, Model: "m"})
	_, err := e.Embed(context.Background(), []string{"a"})
	var apiErr *APIError
	if !errors.As(err, &apiErr) || apiErr.Message != "model is loading" || Classify(err) != Retryable {
		t.Errorf("err = %v, want retryable APIError with message", err)
	}
}

// fakeEino is an Eino embedding component returning float64 vectors.
type fakeEino struct {
	err error
}

func (f *fakeEino) EmbedStrings(_ context.Context, texts []string, _ ...embedding.Option) ([][]float64, error) {
	if f.err != nil {
		return nil, f.err
	}
	out := make([][]float64, len(texts))
	for i := range texts {
		out[i] = []float64{float64(i) + 0.5}
	}
	return out, nil
}

func TestEinoEmbedder(t *testing.T) {
	t.Parallel()
	e, err := NewEinoEmbedder(&fakeEino{})
	if err != nil {
		t.Fatalf("NewEinoEmbedder: %v", err)
	}

	b := mustBatcher(t, e, &BatcherConfig{BatchSize: 2})
	vecs, err := b.Embed(context.Background(), []string{"a", "b", "c"})
	if err != nil {
		t.Fatalf("Embed: %v", err)
	}
	want := []float32{0.5, 1.5, 0.5}
	for i, v := range vecs {
		if v[0] != want[i] {
			t.Errorf("vector %d = %v, want [%v]", i, v, want[i])
		}
	}
}

func TestEinoEmbedder_PropagatesError(t *testing.T) {
	t.Parallel()
	boom := errors.New("boom")
	e, _ := NewEinoEmbedder(&fakeEino{err: boom})
	if _, err := e.Embed(context.Background(), []string{"a"}); !errors.Is(err, boom) {
		t.Errorf("err = %v, want boom", err)
	}
	if _, err := NewEinoEmbedder(nil); err == nil {
		t.Error("expected error for nil inner embedder")
	}
}

// callbackRecorder counts the Eino callbacks an embedding run fires.
type callbackRecorder struct {
	mu      sync.Mutex
	starts  int
	ends    int
	errs    int
	texts   int
	vectors int
	names   []string
}

func (c *callbackRecorder) handler() callbacks.Handler {
	return callbacks.NewHandlerBuilder().
		OnStartFn(func(ctx context.Context, info *callbacks.RunInfo, input callbacks.CallbackInput) context.Context {
			c.mu.Lock()
			defer c.mu.Unlock()
			c.starts++
			c.names = append(c.names, info.Name)
			if in := embedding.ConvCallbackInput(input); in != nil {
				c.texts += len(in.Texts)
			}
			return ctx
		}).
		OnEndFn(func(ctx context.Context, _ *callbacks.RunInfo, output callbacks.CallbackOutput) context.Context {
			c.mu.Lock()
			defer c.mu.Unlock()
			c.ends++
			if out := embedding.ConvCallbackOutput(output); out != nil {
				c.vectors += len(out.Embeddings)
			}
			return ctx
		}).
		OnErrorFn(func(ctx context.Context, _ *callbacks.RunInfo, _ error) context.Context {
			c.mu.Lock()
			defer c.mu.Unlock()
			c.errs++
			return ctx
		}).
		Build()
}

func TestEinoEmbedder_RunsCallbacks(t *testing.T) {
	t.Parallel()

	rec := &callbackRecorder{}
	e, err := NewEinoEmbedder(&fakeEino{})
	if err != nil {
		t.Fatal(err)
	}
	e.WithHandlers(rec.handler(), LogHandler(slog.New(slog.NewTextHandler(io.Discard, nil))))

	b := mustBatcher(t, e, &BatcherConfig{BatchSize: 2})
	if _, err := b.Embed(context.Background(), []string{"a", "b", "c"}); err != nil {
		t.Fatalf("Embed: %v", err)
	}
	if rec.starts != 2 || rec.ends != 2 || rec.errs != 0 {
		t.Errorf("starts/ends/errs = %d/%d/%d, want 2/2/0", rec.starts, rec.ends, rec.errs)
	}
	if rec.texts != 3 || rec.vectors != 3 {
		t.Errorf("texts/vectors = %d/%d, want 3/3", rec.texts, rec.vectors)
	}
	for _, n := range rec.names {
		if n != einoRunName {
			t.Errorf("run name = %q, want %q", n, einoRunName)
		}
	}

	failing := &callbackRecorder{}
	bad, _ := NewEinoEmbedder(&fakeEino{err: errors.New("boom")})
	bad.WithHandlers(failing.handler())
	if _, err := bad.Embed(context.Background(), []string{"a"}); err == nil {
		t.Fatal("expected error")
	}
	if failing.starts != 1 || failing.errs != 1 || failing.ends != 0 {
		t.Errorf("starts/ends/errs = %d/%d/%d, want 1/0/1", failing.starts, failing.ends, failing.errs)
	}
}

func TestNewArkEmbedder_RequiresCredentials(t *testing.T) {
	t.Parallel()

	if _, err := NewArkEmbedder(context.Background(), &ArkConfig{Model: "ep-1"}); err == nil {
		t.Error("expected error without API key")
	}
	if _, err := NewArkEmbedder(context.Background(), &ArkConfig{APIKey: "k"}); err == nil {
		t.Error("expected error without endpoint ID")
	}
}

func TestValidateConfig(t *testing.T) {
	log := slog.New(slog.NewTextHandler(io.Discard, nil))

	tests := []struct {
		name    string
		env     map[string]string
		wantErr bool
	}{
		{"openai with key", map[string]string{"EMBEDDING_PROVIDER": "openai", "OPENAI_API_KEY": "k"}, false},
		{"openai missing key", map[string]string{"EMBEDDING_PROVIDER": "openai"}, true},
		{"azure missing endpoint", map[string]string{"EMBEDDING_PROVIDER": "azure", "AZURE_OPENAI_API_KEY": "k"}, true},
		{"azure complete", map[string]string{"EMBEDDING_PROVIDER": "azure", "EMBEDDING_API_KEY": "k", "AZURE_OPENAI_ENDPOINT": "https://x"}, false},
		{"gemini missing key", map[string]string{"EMBEDDING_PROVIDER": "gemini"}, true},
		{"ark missing endpoint id", map[string]string{"EMBEDDING_PROVIDER": "ark", "ARK_API_KEY": "k"}, true},
		{"ark complete", map[string]string{"EMBEDDING_PROVIDER": "ark", "ARK_API_KEY": "k", "EMBEDDING_MODEL": "ep-20250101-abc"}, false},
		{"ollama needs nothing", map[string]string{"EMBEDDING_PROVIDER": "ollama"}, false},
		{"unknown backend", map[string]string{"EMBEDDING_PROVIDER": "bedrock"}, true},
		{"bad batch size", map[string]string{"EMBEDDING_PROVIDER": "ollama", "EMBEDDING_BATCH_SIZE": "zero"}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for _, k := range []string{"EMBEDDING_PROVIDER", "EMBEDDING_API_KEY", "EMBEDDING_ENDPOINT", "EMBEDDING_BATCH_SIZE",
				"OPENAI_API_KEY", "AZURE_OPENAI_API_KEY", "AZURE_OPENAI_ENDPOINT", "GEMINI_API_KEY", "ARK_API_KEY", "EMBEDDING_MODEL"} {
				t.Setenv(k, "")
			}
			for k, v := range tt.env {
				t.Setenv(k, v)
			}
			if err := ValidateConfig(log); (err != nil) != tt.wantErr {
				t.Errorf("ValidateConfig() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestDefaultDimensions(t *testing.T) {
	t.Setenv("EMBEDDING_DIMENSIONS", "")
	if got := DefaultDimensions("openai"); got != 1536 {
		t.Errorf("openai = %d, want 1536", got)
	}
	if got := DefaultDimensions("ollama"); got != 768 {
		t.Errorf("ollama = %d, want 768", got)
	}
	if got := DefaultDimensions("ark"); got != 2560 {
		t.Errorf("ark = %d, want 2560", got)
	}
	t.Setenv("EMBEDDING_DIMENSIONS", "256")
	if got := DefaultDimensions("openai"); got != 256 {
		t.Errorf("override = %d, want 256", got)
	}
}

func TestBatcherConfigFromEnv(t *testing.T) {
	t.Setenv("EMBEDDING_BATCH_SIZE", "8")
	t.Setenv("EMBEDDING_MAX_ATTEMPTS", "5")
	t.Setenv("EMBEDDING_RETRY_BASE_DELAY", "250ms")
	t.Setenv("EMBEDDING_CONCURRENCY", "")
	t.Setenv("EMBEDDING_DIMENSIONS", "")
	t.Setenv("EMBEDDING_PROVIDER", "ollama")

	cfg := BatcherConfigFromEnv()
	if cfg.BatchSize != 8 || cfg.Retry.MaxAttempts != 5 || cfg.Retry.BaseDelay != 250*time.Millisecond {
		t.Errorf("cfg = %+v", cfg)
	}
	if cfg.Concurrency != 1 || cfg.MaxChars != DefaultMaxChars {
		t.Errorf("defaults not applied: %+v", cfg)
	}
	if cfg.Dimensions != DefaultDimensions("ollama") {
		t.Errorf("Dimensions = %d, want the index size %d", cfg.Dimensions, DefaultDimensions("ollama"))
	}
}

// TestBatcherConfigFromEnv_EnforcesIndexDimensions checks that, with
// EMBEDDING_DIMENSIONS unset, vectors of the wrong length are still rejected
// before anything reaches the index.
func TestBatcherConfigFromEnv_EnforcesIndexDimensions(t *testing.T) {
	t.Setenv("EMBEDDING_DIMENSIONS", "")
	t.Setenv("EMBEDDING_PROVIDER", "openai")
	t.Setenv("EMBEDDING_BATCH_SIZE", "")

	p := &fakeProvider{respond: func(_ int, texts []string) ([]rag.Embedding, error) {
		out := make([]rag.Embedding, len(texts))
		for i := range texts {
			out[i] = rag.Embedding{Index: i, Vector: []float32{1, 2, 3}}
		}
		return out, nil
	}}
	b := mustBatcher(t, p, BatcherConfigFromEnv())

	vecs, err := b.Embed(context.Background(), inputs(2))
	if !errors.Is(err, ErrMalformedResponse) {
		t.Fatalf("err = %v, want ErrMalformedResponse", err)
	}
	for i, v := range vecs {
		if v != nil {
			t.Errorf("vector %d attached despite wrong dimension", i)
		}
	}

	t.Setenv("EMBEDDING_DIMENSIONS", "3")
	b = mustBatcher(t, p, BatcherConfigFromEnv())
	if _, err := b.Embed(context.Background(), inputs(2)); err != nil {
		t.Errorf("explicit EMBEDDING_DIMENSIONS=3: %v", err)
	}
}
