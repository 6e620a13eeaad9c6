package rag

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
)

// Index backend names accepted by INDEX_BACKEND.
const (
	BackendBadger   = "badger"
	BackendQdrant   = "qdrant"
	BackendWeaviate = "weaviate"
	BackendMemory   = "memory"
)

// NewStoreFromEnv constructs the IndexStore selected by INDEX_BACKEND
// (default: badger). dims sizes the Qdrant collection when it has to be
// created.
//
// Per-backend variables:
//
//	badger:   BADGER_DIR (default ~/.ragindex/index)
//	qdrant:   QDRANT_HOST, QDRANT_PORT, QDRANT_COLLECTION, QDRANT_API_KEY, QDRANT_TLS
//	weaviate: WEAVIATE_HOST, WEAVIATE_SCHEME, WEAVIATE_CLASS, WEAVIATE_API_KEY
func NewStoreFromEnv(ctx context.Context, dims int, log *slog.Logger) (IndexStore, error) {
	backend := getEnvOrDefault("INDEX_BACKEND", BackendBadger)

	switch backend {
	case BackendBadger:
		dir := os.Getenv("BADGER_DIR")
		if dir == "" {
			home, err := os.UserHomeDir()
			if err != nil {
				return nil, fmt.Errorf("rag: resolve home directory: %w", err)
			}
			dir = filepath.Join(home, ".ragindex", "index")
		}
		return OpenBadgerStore(dir, log)

	case BackendQdrant:
		port, _ := strconv.Atoi(os.Getenv("QDRANT_PORT"))
		useTLS, _ := strconv.ParseBool(os.Getenv("QDRANT_TLS"))
		return NewQdrantStore(ctx, &QdrantConfig{
			Host:       os.Getenv("QDRANT_HOST"),
			Port:       port,
			Collection: getEnvOrDefault("QDRANT_COLLECTION", "ragindex"),
			VectorSize: uint64(dims),
			APIKey:     os.Getenv("QDRANT_API_KEY"),
			UseTLS:     useTLS,
		})

	case BackendWeaviate:
		return NewWeaviateStore(ctx, &WeaviateConfig{
			Host:   os.Getenv("WEAVIATE_HOST"),
			Scheme: os.Getenv("WEAVIATE_SCHEME"),
			Class:  os.Getenv("WEAVIATE_CLASS"),
			APIKey: os.Getenv("WEAVIATE_API_KEY"),
		})

	case BackendMemory:
		return NewMemoryStore(), nil

	default:
		return nil, fmt.Errorf("rag: unknown index backend %q (valid: badger, qdrant, weaviate, memory)", backend)
	}
}

// getEnvOrDefault returns the value of the named environment variable, or
// fallback if the variable is unset or empty.
func getEnvOrDefault(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
