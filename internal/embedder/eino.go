package embedder

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	arkembed "github.com/cloudwego/eino-ext/components/embedding/ark"
	"github.com/cloudwego/eino/callbacks"
	"github.com/cloudwego/eino/components"
	"github.com/cloudwego/eino/components/embedding"

	"github.com/54b3r/ragindex-go/internal/rag"
)

// einoRunName labels embedding runs in Eino callback handlers (Langfuse traces,
// the slog handler below).
const einoRunName = "ragindex.embed"

// EinoEmbedder adapts an Eino embedding component to rag.Embedder so
// eino-ext providers (Ark today) feed the Batcher. Every call runs inside an
// Eino callback scope: global handlers registered with
// callbacks.AppendGlobalHandlers (Langfuse) see it, as do handlers passed to
// WithHandlers.
type EinoEmbedder struct {
	inner    embedding.Embedder
	opts     []embedding.Option
	typ      string
	handlers []callbacks.Handler
}

// NewEinoEmbedder wraps inner. opts are passed to every EmbedStrings call.
func NewEinoEmbedder(inner embedding.Embedder, opts ...embedding.Option) (*EinoEmbedder, error) {
	if inner == nil {
		return nil, errors.New("eino embedder: inner embedder is required")
	}
	typ, ok := components.GetType(inner)
	if !ok {
		typ = "Eino"
	}
	return &EinoEmbedder{inner: inner, opts: opts, typ: typ}, nil
}

// WithHandlers scopes handlers to this embedder's runs, in addition to the
// global ones.
func (e *EinoEmbedder) WithHandlers(handlers ...callbacks.Handler) *EinoEmbedder {
	e.handlers = append(e.handlers, handlers...)
	return e
}

// Embed calls EmbedStrings and narrows the float64 vectors to float32.
// Eino components return vectors in input order.
func (e *EinoEmbedder) Embed(ctx context.Context, texts []string) ([]rag.Embedding, error) {
	// InitCallbacks always includes the global handlers.
	ctx = callbacks.InitCallbacks(ctx, &callbacks.RunInfo{
		Name:      einoRunName,
		Type:      e.typ,
		Component: components.ComponentOfEmbedding,
	}, e.handlers...)

	// Components that report their own callbacks get no second set.
	managed := !components.IsCallbacksEnabled(e.inner)
	if managed {
		ctx = callbacks.OnStart(ctx, &embedding.CallbackInput{Texts: texts})
	}

	vecs, err := e.inner.EmbedStrings(ctx, texts, e.opts...)
	if err != nil {
		if managed {
			callbacks.OnError(ctx, err)
		}
		return nil, err
	}
	if managed {
		callbacks.OnEnd(ctx, &embedding.CallbackOutput{Embeddings: vecs})
	}

	out := make([]rag.Embedding, len(vecs))
	for i, v := range vecs {
		f := make([]float32, len(v))
		for j, x := range v {
			f[j] = float32(x)
		}
		out[i] = rag.Embedding{Index: i, Vector: f}
	}
	return out, nil
}

// ArkConfig configures a Volcengine Ark embedding endpoint.
type ArkConfig struct {
	// APIKey is the Ark API key (ARK_API_KEY).
	APIKey string
	// Model is the Ark embedding endpoint ID, e.g. "ep-2024...".
	Model string
	// BaseURL overrides the regional Ark endpoint.
	BaseURL string
	// Region defaults to cn-beijing.
	Region string
	// Timeout bounds each call. Zero leaves the SDK default.
	Timeout time.Duration
}

// NewArkEmbedder builds the eino-ext Ark embedding component and wraps it in
// an EinoEmbedder.
func NewArkEmbedder(ctx context.Context, cfg *ArkConfig) (*EinoEmbedder, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("embedder: ark requires ARK_API_KEY or EMBEDDING_API_KEY")
	}
	if cfg.Model == "" {
		return nil, errors.New("embedder: ark requires EMBEDDING_MODEL (the endpoint ID)")
	}
	ac := &arkembed.EmbeddingConfig{
		APIKey:  cfg.APIKey,
		Model:   cfg.Model,
		BaseURL: cfg.BaseURL,
		Region:  cfg.Region,
	}
	if cfg.Timeout > 0 {
		t := cfg.Timeout
		ac.Timeout = &t
	}
	inner, err := arkembed.NewEmbedder(ctx, ac)
	if err != nil {
		return nil, fmt.Errorf("embedder: ark: %w", err)
	}
	return NewEinoEmbedder(inner)
}

// LogHandler is an Eino callback handler that logs embedding runs at DEBUG
// and failures at WARN.
func LogHandler(log *slog.Logger) callbacks.Handler {
	return callbacks.NewHandlerBuilder().
		OnStartFn(func(ctx context.Context, info *callbacks.RunInfo, input callbacks.CallbackInput) context.Context {
			if in := embedding.ConvCallbackInput(input); in != nil {
				log.Debug("eino embed start",
					slog.String("type", info.Type),
					slog.Int("texts", len(in.Texts)),
				)
			}
			return ctx
		}).
		OnEndFn(func(ctx context.Context, info *callbacks.RunInfo, output callbacks.CallbackOutput) context.Context {
			if out := embedding.ConvCallbackOutput(output); out != nil {
				attrs := []any{slog.String("type", info.Type), slog.Int("vectors", len(out.Embeddings))}
				if out.TokenUsage != nil {
					attrs = append(attrs, slog.Int("total_tokens", out.TokenUsage.TotalTokens))
				}
				log.Debug("eino embed done", attrs...)
			}
			return ctx
		}).
		OnErrorFn(func(ctx context.Context, info *callbacks.RunInfo, err error) context.Context {
			log.Warn("eino embed failed", slog.String("type", info.Type), slog.Any("error", err))
			return ctx
		}).
		Build()
}
