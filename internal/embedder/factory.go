package embedder

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/54b3r/ragindex-go/internal/rag"
)

// Default embedding models per backend.
const (
	defaultOllamaModel = "nomic-embed-text"
	defaultOpenAIModel = "text-embedding-3-small"
	defaultGeminiModel = "text-embedding-004"

	// defaultOllamaDimensions is the output dimension of nomic-embed-text.
	// Other Ollama models may differ; override with EMBEDDING_DIMENSIONS.
	defaultOllamaDimensions = 768
	// defaultOpenAIDimensions is the output dimension of text-embedding-3-small
	// and text-embedding-ada-002.
	defaultOpenAIDimensions = 1536
	// defaultGeminiDimensions is the output dimension of text-embedding-004.
	defaultGeminiDimensions = 768
	// defaultArkDimensions is the output dimension of doubao-embedding.
	defaultArkDimensions = 2560

	defaultArkRegion = "cn-beijing"
)

// Backend returns the configured embedding backend (EMBEDDING_PROVIDER,
// default openai).
func Backend() string {
	return getEnvOrDefault("EMBEDDING_PROVIDER", "openai")
}

// DefaultDimensions returns the default embedding vector size for the given
// backend name. Callers that need to pre-size an index (e.g. Qdrant
// collection creation) should use this rather than hardcoding a value.
// EMBEDDING_DIMENSIONS always takes precedence when set.
func DefaultDimensions(backend string) int {
	if v := getEnvInt("EMBEDDING_DIMENSIONS", 0); v > 0 {
		return v
	}
	switch backend {
	case "ollama":
		return defaultOllamaDimensions
	case "gemini":
		return defaultGeminiDimensions
	case "ark":
		return defaultArkDimensions
	default:
		return defaultOpenAIDimensions
	}
}

// NewFromEnv constructs the rag.Embedder selected by EMBEDDING_PROVIDER.
//
// Resolution order:
//
//  1. EMBEDDING_PROVIDER: openai (default), azure, ollama, gemini or ark
//  2. Per-backend credentials: OPENAI_API_KEY, AZURE_OPENAI_API_KEY,
//     AZURE_OPENAI_ENDPOINT, OLLAMA_HOST, GEMINI_API_KEY, ARK_API_KEY
//     (plus ARK_REGION)
//  3. EMBEDDING_MODEL overrides the default model for the resolved backend
//  4. EMBEDDING_API_KEY overrides the backend API key
//  5. EMBEDDING_ENDPOINT overrides the backend endpoint
//  6. EMBEDDING_DIMENSIONS requests a specific vector size where supported
func NewFromEnv(ctx context.Context) (rag.Embedder, error) {
	backend := Backend()

	switch backend {
	case "ollama":
		host := getEnv("EMBEDDING_ENDPOINT")
		if host == "" {
			host = getEnvOrDefault("OLLAMA_HOST", "http://localhost:11434")
		}
		model := getEnvOrDefault("EMBEDDING_MODEL", defaultOllamaModel)
		return NewOllamaEmbedder(&OllamaConfig{
			Host:  host,
			Model: model,
		}), nil

	case "openai":
		apiKey := firstEnv("EMBEDDING_API_KEY", "OPENAI_API_KEY")
		if apiKey == "" {
			return nil, fmt.Errorf("embedder: openai requires OPENAI_API_KEY or EMBEDDING_API_KEY")
		}
		baseURL := getEnvOrDefault("EMBEDDING_ENDPOINT", "https://api.openai.com/v1")
		return NewOpenAIEmbedder(&OpenAIConfig{
			BaseURL:    baseURL,
			APIKey:     apiKey,
			Model:      getEnvOrDefault("EMBEDDING_MODEL", defaultOpenAIModel),
			Dimensions: getEnvInt("EMBEDDING_DIMENSIONS", 0),
		}), nil

	case "azure":
		apiKey := firstEnv("EMBEDDING_API_KEY", "AZURE_OPENAI_API_KEY")
		if apiKey == "" {
			return nil, fmt.Errorf("embedder: azure requires AZURE_OPENAI_API_KEY or EMBEDDING_API_KEY")
		}
		endpoint := firstEnv("EMBEDDING_ENDPOINT", "AZURE_OPENAI_ENDPOINT")
		if endpoint == "" {
			return nil, fmt.Errorf("embedder: azure requires AZURE_OPENAI_ENDPOINT or EMBEDDING_ENDPOINT")
		}
		return NewOpenAIEmbedder(&OpenAIConfig{
			BaseURL:    strings.TrimRight(endpoint, "/") + "/openai",
			APIKey:     apiKey,
			Model:      getEnvOrDefault("EMBEDDING_MODEL", defaultOpenAIModel),
			Dimensions: getEnvInt("EMBEDDING_DIMENSIONS", 0),
			Azure:      true,
			APIVersion: getEnvOrDefault("AZURE_OPENAI_API_VERSION", "2024-02-01"),
		}), nil

	case "gemini":
		apiKey := firstEnv("EMBEDDING_API_KEY", "GEMINI_API_KEY")
		if apiKey == "" {
			return nil, fmt.Errorf("embedder: gemini requires GEMINI_API_KEY or EMBEDDING_API_KEY")
		}
		return NewGeminiEmbedder(ctx, &GeminiConfig{
			APIKey:     apiKey,
			Model:      getEnvOrDefault("EMBEDDING_MODEL", defaultGeminiModel),
			Dimensions: getEnvInt("EMBEDDING_DIMENSIONS", 0),
		})

	case "ark":
		return NewArkEmbedder(ctx, &ArkConfig{
			APIKey:  firstEnv("EMBEDDING_API_KEY", "ARK_API_KEY"),
			Model:   getEnv("EMBEDDING_MODEL"),
			BaseURL: getEnv("EMBEDDING_ENDPOINT"),
			Region:  getEnvOrDefault("ARK_REGION", defaultArkRegion),
			Timeout: getEnvDuration("EMBEDDING_TIMEOUT", 0),
		})

	default:
		return nil, fmt.Errorf("embedder: unknown backend %q (valid: openai, azure, ollama, gemini, ark)", backend)
	}
}

// BatcherConfigFromEnv reads Batcher settings: EMBEDDING_BATCH_SIZE,
// EMBEDDING_MAX_CHARS, EMBEDDING_CONCURRENCY, EMBEDDING_RPS,
// EMBEDDING_MAX_ATTEMPTS, EMBEDDING_RETRY_BASE_DELAY, EMBEDDING_RETRY_MAX_DELAY
// and EMBEDDING_RETRY_JITTER. Dimensions is always DefaultDimensions(Backend()),
// the same size the index is created with, so a model returning any other
// length fails before reconciliation.
func BatcherConfigFromEnv() *BatcherConfig {
	policy := DefaultRetryPolicy()
	policy.MaxAttempts = getEnvInt("EMBEDDING_MAX_ATTEMPTS", policy.MaxAttempts)
	policy.BaseDelay = getEnvDuration("EMBEDDING_RETRY_BASE_DELAY", policy.BaseDelay)
	policy.MaxDelay = getEnvDuration("EMBEDDING_RETRY_MAX_DELAY", policy.MaxDelay)
	policy.Jitter, _ = strconv.ParseBool(getEnv("EMBEDDING_RETRY_JITTER"))

	rps, _ := strconv.ParseFloat(getEnv("EMBEDDING_RPS"), 64)
	return &BatcherConfig{
		BatchSize:         getEnvInt("EMBEDDING_BATCH_SIZE", DefaultBatchSize),
		MaxChars:          getEnvInt("EMBEDDING_MAX_CHARS", DefaultMaxChars),
		Dimensions:        DefaultDimensions(Backend()),
		Concurrency:       getEnvInt("EMBEDDING_CONCURRENCY", 1),
		RequestsPerSecond: rps,
		Retry:             policy,
	}
}

// firstEnv returns the first non-empty value among the named variables.
func firstEnv(keys ...string) string {
	for _, k := range keys {
		if v := os.Getenv(k); v != "" {
			return v
		}
	}
	return ""
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

// getEnv returns the value of the named environment variable, or empty string.
func getEnv(key string) string {
	return os.Getenv(key)
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
