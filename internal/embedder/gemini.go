package embedder

import (
	"context"
	"errors"
	"fmt"
	"net/url"

	"google.golang.org/genai"

	"github.com/54b3r/ragindex-go/internal/rag"
)

// GeminiConfig holds the settings for constructing a GeminiEmbedder.
type GeminiConfig struct {
	// APIKey is the Gemini API key.
	APIKey string
	// Model is the embedding model name (e.g. "text-embedding-004").
	Model string
	// Dimensions requests a reduced output dimensionality (0 = model default).
	Dimensions int
}

// GeminiEmbedder implements rag.Embedder with the Gemini embedContent API.
type GeminiEmbedder struct {
	models *genai.Models
	model  string
	dims   int
}

// NewGeminiEmbedder constructs a GeminiEmbedder.
func NewGeminiEmbedder(ctx context.Context, cfg *GeminiConfig) (*GeminiEmbedder, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("gemini embedder: API key is required")
	}
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  cfg.APIKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("gemini embedder: create client: %w", err)
	}
	return &GeminiEmbedder{models: client.Models, model: cfg.Model, dims: cfg.Dimensions}, nil
}

// Embed sends texts as one embedContent request. Embeddings come back in
// request order.
func (e *GeminiEmbedder) Embed(ctx context.Context, texts []string) ([]rag.Embedding, error) {
	contents := make([]*genai.Content, len(texts))
	for i, t := range texts {
		contents[i] = genai.NewContentFromText(t, genai.RoleUser)
	}

	var cfg *genai.EmbedContentConfig
	if e.dims > 0 {
		dims := int32(e.dims)
		cfg = &genai.EmbedContentConfig{OutputDimensionality: &dims}
	}

	res, err := e.models.EmbedContent(ctx, e.model, contents, cfg)
	if err != nil {
		return nil, mapGeminiError(err)
	}

	embeddings := make([]rag.Embedding, 0, len(res.Embeddings))
	for i, emb := range res.Embeddings {
		if emb == nil {
			continue
		}
		embeddings = append(embeddings, rag.Embedding{Index: i, Vector: emb.Values})
	}
	return embeddings, nil
}

// mapGeminiError converts SDK errors to the package's classified errors.
func mapGeminiError(err error) error {
	var apiErr genai.APIError
	if errors.As(err, &apiErr) {
		return &APIError{Provider: "gemini", StatusCode: apiErr.Code, Message: apiErr.Message}
	}
	var apiErrPtr *genai.APIError
	if errors.As(err, &apiErrPtr) {
		return &APIError{Provider: "gemini", StatusCode: apiErrPtr.Code, Message: apiErrPtr.Message}
	}
	var urlErr *url.Error
	if errors.As(err, &urlErr) {
		return &ConnectionError{Provider: "gemini", Err: err}
	}
	return fmt.Errorf("gemini embedder: %w", err)
}
