// Package config provides YAML-based configuration for ragindex.
// Configuration is loaded with a layered precedence: defaults → YAML file →
// .env file → env vars. Environment variables always win, so container and
// CI workflows keep working unchanged.
//
// File search order:
//  1. --config CLI flag (explicit path)
//  2. RAGINDEX_CONFIG environment variable
//  3. ~/.ragindex/config.yaml
//  4. ./ragindex.yaml
//
// If no file is found the system runs entirely from env vars.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config is the top-level YAML configuration structure.
// Field names use yaml tags that mirror the env var naming (lowercase, underscored).
type Config struct {
	// Embedding configures the embedding provider and the batcher.
	Embedding EmbeddingConfig `yaml:"embedding"`

	// Chunking configures the recursive splitter.
	Chunking ChunkingConfig `yaml:"chunking"`

	// Index selects the index backend and sizes reconciler batches.
	Index IndexConfig `yaml:"index"`

	// Qdrant configures the Qdrant vector store connection.
	Qdrant QdrantConfig `yaml:"qdrant"`

	// Weaviate configures the Weaviate connection.
	Weaviate WeaviateConfig `yaml:"weaviate"`

	// Badger configures the embedded Badger index.
	Badger BadgerConfig `yaml:"badger"`

	// Server configures the HTTP server.
	Server ServerConfig `yaml:"server"`

	// NSQ configures the asynchronous work queue.
	NSQ NSQConfig `yaml:"nsq"`

	// History configures the processing-run ledger.
	History HistoryConfig `yaml:"history"`

	// Logging configures structured logging.
	Logging LoggingConfig `yaml:"logging"`

	// Tracing configures Langfuse traces of embedding runs.
	Tracing TracingConfig `yaml:"tracing"`
}

// EmbeddingConfig holds embedding provider and batching settings.
type EmbeddingConfig struct {
	// Provider selects the embedding backend: openai, azure, ollama, gemini, ark.
	Provider string `yaml:"provider"`
	// Model is the embedding model name.
	Model string `yaml:"model"`
	// Dimensions overrides the embedding vector size.
	Dimensions int `yaml:"dimensions"`
	// APIKey is the embedding API key. Prefer env var EMBEDDING_API_KEY.
	APIKey string `yaml:"api_key"`
	// Endpoint is the embedding API endpoint.
	Endpoint string `yaml:"endpoint"`
	// BatchSize is the maximum texts per embedding call.
	BatchSize int `yaml:"batch_size"`
	// MaxChars truncates each text before embedding.
	MaxChars int `yaml:"max_chars"`
	// Concurrency is the number of groups embedded in parallel.
	Concurrency int `yaml:"concurrency"`
	// RPS caps embedding calls per second.
	RPS float64 `yaml:"rps"`
	// MaxAttempts bounds retries per group.
	MaxAttempts int `yaml:"max_attempts"`
	// RetryBaseDelay is the first backoff, as a Go duration string.
	RetryBaseDelay string `yaml:"retry_base_delay"`
	// RetryMaxDelay caps the backoff, as a Go duration string.
	RetryMaxDelay string `yaml:"retry_max_delay"`

	// Ollama holds Ollama-specific settings.
	Ollama OllamaConfig `yaml:"ollama"`
	// OpenAI holds OpenAI-specific settings.
	OpenAI OpenAIConfig `yaml:"openai"`
	// Azure holds Azure OpenAI-specific settings.
	Azure AzureConfig `yaml:"azure"`
	// Gemini holds Google Gemini-specific settings.
	Gemini GeminiConfig `yaml:"gemini"`
	// Ark holds Volcengine Ark settings.
	Ark ArkConfig `yaml:"ark"`
}

// OllamaConfig holds Ollama provider settings.
type OllamaConfig struct {
	// Host is the Ollama API endpoint.
	Host string `yaml:"host"`
}

// OpenAIConfig holds OpenAI provider settings.
type OpenAIConfig struct {
	// APIKey is the OpenAI API key. Prefer env var OPENAI_API_KEY.
	APIKey string `yaml:"api_key"`
}

// AzureConfig holds Azure OpenAI provider settings.
type AzureConfig struct {
	// APIKey is the Azure OpenAI API key. Prefer env var AZURE_OPENAI_API_KEY.
	APIKey string `yaml:"api_key"`
	// Endpoint is the Azure OpenAI resource endpoint.
	Endpoint string `yaml:"endpoint"`
	// APIVersion is the Azure OpenAI API version.
	APIVersion string `yaml:"api_version"`
}

// GeminiConfig holds Google Gemini provider settings.
type GeminiConfig struct {
	// APIKey is the Gemini API key. Prefer env var GEMINI_API_KEY.
	APIKey string `yaml:"api_key"`
}

// ArkConfig holds Volcengine Ark embedding settings. The endpoint ID goes in
// embedding.model.
type ArkConfig struct {
	// APIKey is the Ark API key. Prefer env var ARK_API_KEY.
	APIKey string `yaml:"api_key"`
	// Region is the Ark region, e.g. cn-beijing.
	Region string `yaml:"region"`
}

// ChunkingConfig holds splitter settings.
type ChunkingConfig struct {
	// Size is the target chunk size in characters.
	Size int `yaml:"size"`
	// Overlap is the number of trailing characters repeated in the next chunk.
	Overlap int `yaml:"overlap"`
}

// IndexConfig holds index backend and reconciler settings.
type IndexConfig struct {
	// Backend selects the store: badger, qdrant, weaviate, memory.
	Backend string `yaml:"backend"`
	// QueryLimit caps keys fetched per source.
	QueryLimit int `yaml:"query_limit"`
	// DeleteBatchSize caps keys per delete call.
	DeleteBatchSize int `yaml:"delete_batch_size"`
	// UpsertBatchSize caps entries per upsert call.
	UpsertBatchSize int `yaml:"upsert_batch_size"`
}

// QdrantConfig holds Qdrant vector store settings.
type QdrantConfig struct {
	// Host is the Qdrant server hostname.
	Host string `yaml:"host"`
	// Port is the Qdrant gRPC port.
	Port int `yaml:"port"`
	// Collection is the Qdrant collection name.
	Collection string `yaml:"collection"`
	// APIKey is the Qdrant API key. Prefer env var QDRANT_API_KEY.
	APIKey string `yaml:"api_key"`
	// TLS enables TLS for the Qdrant connection.
	TLS bool `yaml:"tls"`
}

// WeaviateConfig holds Weaviate settings.
type WeaviateConfig struct {
	// Host is host:port of the Weaviate REST endpoint.
	Host string `yaml:"host"`
	// Scheme is http or https.
	Scheme string `yaml:"scheme"`
	// Class is the Weaviate class holding the entries.
	Class string `yaml:"class"`
	// APIKey is the Weaviate API key. Prefer env var WEAVIATE_API_KEY.
	APIKey string `yaml:"api_key"`
}

// BadgerConfig holds embedded index settings.
type BadgerConfig struct {
	// Dir is the Badger data directory.
	Dir string `yaml:"dir"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	// Host is the bind address.
	Host string `yaml:"host"`
	// Port is the TCP port.
	Port int `yaml:"port"`
	// APIKey is the Bearer token for API authentication. Prefer env var RAGINDEX_API_KEY.
	APIKey string `yaml:"api_key"`
	// ProcessTimeout bounds one process request, as a Go duration string.
	ProcessTimeout string `yaml:"process_timeout"`
	// RateLimit is the sustained per-IP request rate.
	RateLimit float64 `yaml:"rate_limit"`
	// RateBurst is the per-IP burst.
	RateBurst int `yaml:"rate_burst"`
}

// NSQConfig holds work queue settings.
type NSQConfig struct {
	// NSQDAddr is the nsqd TCP address used for publishing.
	NSQDAddr string `yaml:"nsqd_addr"`
	// LookupdAddrs is a comma-separated list of nsqlookupd HTTP addresses.
	LookupdAddrs string `yaml:"lookupd_addrs"`
	// Channel is the consumer channel name.
	Channel string `yaml:"channel"`
	// Concurrency is the number of concurrent message handlers.
	Concurrency int `yaml:"concurrency"`
	// MaxAttempts bounds redeliveries before a message is dropped.
	MaxAttempts int `yaml:"max_attempts"`
	// TouchInterval is a Go duration string, e.g. "30s".
	TouchInterval string `yaml:"touch_interval"`
	// MsgTimeout is a Go duration string requested from nsqd.
	MsgTimeout string `yaml:"msg_timeout"`
}

// HistoryConfig holds processing-run ledger settings.
type HistoryConfig struct {
	// DBPath is the SQLite database path. Set to "disabled" to disable.
	DBPath string `yaml:"db_path"`
}

// LoggingConfig holds structured logging settings.
type LoggingConfig struct {
	// Level is the minimum log level: debug, info, warn, error.
	Level string `yaml:"level"`
	// Format is the log output format: json, text.
	Format string `yaml:"format"`
}

// TracingConfig holds Langfuse settings.
type TracingConfig struct {
	Host      string `yaml:"langfuse_host"`
	PublicKey string `yaml:"langfuse_public_key"`
	SecretKey string `yaml:"langfuse_secret_key"`
}

// envMapping maps YAML config fields to their corresponding env var names.
// Only non-empty YAML values are applied; env vars always take precedence.
var envMapping = []struct {
	envKey string
	value  func(*Config) string
}{
	{"EMBEDDING_PROVIDER", func(c *Config) string { return c.Embedding.Provider }},
	{"EMBEDDING_MODEL", func(c *Config) string { return c.Embedding.Model }},
	{"EMBEDDING_DIMENSIONS", func(c *Config) string { return intStr(c.Embedding.Dimensions) }},
	{"EMBEDDING_API_KEY", func(c *Config) string { return c.Embedding.APIKey }},
	{"EMBEDDING_ENDPOINT", func(c *Config) string { return c.Embedding.Endpoint }},
	{"EMBEDDING_BATCH_SIZE", func(c *Config) string { return intStr(c.Embedding.BatchSize) }},
	{"EMBEDDING_MAX_CHARS", func(c *Config) string { return intStr(c.Embedding.MaxChars) }},
	{"EMBEDDING_CONCURRENCY", func(c *Config) string { return intStr(c.Embedding.Concurrency) }},
	{"EMBEDDING_RPS", func(c *Config) string { return floatStr(c.Embedding.RPS) }},
	{"EMBEDDING_MAX_ATTEMPTS", func(c *Config) string { return intStr(c.Embedding.MaxAttempts) }},
	{"EMBEDDING_RETRY_BASE_DELAY", func(c *Config) string { return c.Embedding.RetryBaseDelay }},
	{"EMBEDDING_RETRY_MAX_DELAY", func(c *Config) string { return c.Embedding.RetryMaxDelay }},
	{"OLLAMA_HOST", func(c *Config) string { return c.Embedding.Ollama.Host }},
	{"OPENAI_API_KEY", func(c *Config) string { return c.Embedding.OpenAI.APIKey }},
	{"AZURE_OPENAI_API_KEY", func(c *Config) string { return c.Embedding.Azure.APIKey }},
	{"AZURE_OPENAI_ENDPOINT", func(c *Config) string { return c.Embedding.Azure.Endpoint }},
	{"AZURE_OPENAI_API_VERSION", func(c *Config) string { return c.Embedding.Azure.APIVersion }},
	{"GEMINI_API_KEY", func(c *Config) string { return c.Embedding.Gemini.APIKey }},
	{"ARK_API_KEY", func(c *Config) string { return c.Embedding.Ark.APIKey }},
	{"ARK_REGION", func(c *Config) string { return c.Embedding.Ark.Region }},
	{"CHUNK_SIZE", func(c *Config) string { return intStr(c.Chunking.Size) }},
	{"CHUNK_OVERLAP", func(c *Config) string { return intStr(c.Chunking.Overlap) }},
	{"INDEX_BACKEND", func(c *Config) string { return c.Index.Backend }},
	{"INDEX_QUERY_LIMIT", func(c *Config) string { return intStr(c.Index.QueryLimit) }},
	{"INDEX_DELETE_BATCH_SIZE", func(c *Config) string { return intStr(c.Index.DeleteBatchSize) }},
	{"INDEX_UPSERT_BATCH_SIZE", func(c *Config) string { return intStr(c.Index.UpsertBatchSize) }},
	{"QDRANT_HOST", func(c *Config) string { return c.Qdrant.Host }},
	{"QDRANT_PORT", func(c *Config) string { return intStr(c.Qdrant.Port) }},
	{"QDRANT_COLLECTION", func(c *Config) string { return c.Qdrant.Collection }},
	{"QDRANT_API_KEY", func(c *Config) string { return c.Qdrant.APIKey }},
	{"QDRANT_TLS", func(c *Config) string { return boolStr(c.Qdrant.TLS) }},
	{"WEAVIATE_HOST", func(c *Config) string { return c.Weaviate.Host }},
	{"WEAVIATE_SCHEME", func(c *Config) string { return c.Weaviate.Scheme }},
	{"WEAVIATE_CLASS", func(c *Config) string { return c.Weaviate.Class }},
	{"WEAVIATE_API_KEY", func(c *Config) string { return c.Weaviate.APIKey }},
	{"BADGER_DIR", func(c *Config) string { return c.Badger.Dir }},
	{"RAGINDEX_HOST", func(c *Config) string { return c.Server.Host }},
	{"RAGINDEX_PORT", func(c *Config) string { return intStr(c.Server.Port) }},
	{"RAGINDEX_API_KEY", func(c *Config) string { return c.Server.APIKey }},
	{"RAGINDEX_PROCESS_TIMEOUT", func(c *Config) string { return c.Server.ProcessTimeout }},
	{"RAGINDEX_RATE_LIMIT", func(c *Config) string { return floatStr(c.Server.RateLimit) }},
	{"RAGINDEX_RATE_BURST", func(c *Config) string { return intStr(c.Server.RateBurst) }},
	{"NSQD_ADDR", func(c *Config) string { return c.NSQ.NSQDAddr }},
	{"NSQ_LOOKUPD_ADDRS", func(c *Config) string { return c.NSQ.LookupdAddrs }},
	{"NSQ_CHANNEL", func(c *Config) string { return c.NSQ.Channel }},
	{"NSQ_CONCURRENCY", func(c *Config) string { return intStr(c.NSQ.Concurrency) }},
	{"NSQ_MAX_ATTEMPTS", func(c *Config) string { return intStr(c.NSQ.MaxAttempts) }},
	{"NSQ_TOUCH_INTERVAL", func(c *Config) string { return c.NSQ.TouchInterval }},
	{"NSQ_MSG_TIMEOUT", func(c *Config) string { return c.NSQ.MsgTimeout }},
	{"RAGINDEX_HISTORY_DB", func(c *Config) string { return c.History.DBPath }},
	{"LOG_LEVEL", func(c *Config) string { return c.Logging.Level }},
	{"LOG_FORMAT", func(c *Config) string { return c.Logging.Format }},
	{"LANGFUSE_HOST", func(c *Config) string { return c.Tracing.Host }},
	{"LANGFUSE_PUBLIC_KEY", func(c *Config) string { return c.Tracing.PublicKey }},
	{"LANGFUSE_SECRET_KEY", func(c *Config) string { return c.Tracing.SecretKey }},
}

// Load reads ./.env (if present) and then a YAML config file, applying
// non-empty values as environment variables. Existing env vars are never
// overwritten, so values in .env take precedence over the YAML file.
// Returns the YAML path that was loaded, or empty string if none was found.
func Load(explicitPath string, log *slog.Logger) (string, error) {
	if err := LoadDotEnv(".env"); err != nil {
		return "", err
	}

	path := resolveConfigPath(explicitPath)
	if path == "" {
		log.Debug("config: no YAML config file found, using env vars only")
		return "", nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("config: failed to read %s: %w", path, err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return "", fmt.Errorf("config: failed to parse %s: %w", path, err)
	}

	applied := 0
	for _, m := range envMapping {
		yamlVal := m.value(&cfg)
		if yamlVal == "" {
			continue
		}
		if os.Getenv(m.envKey) != "" {
			continue // env var already set, do not override
		}
		if err := os.Setenv(m.envKey, yamlVal); err != nil {
			return "", fmt.Errorf("config: set %s: %w", m.envKey, err)
		}
		applied++
	}

	log.Info("config: loaded YAML config",
		slog.String("path", path),
		slog.Int("keys_applied", applied),
	)

	return path, nil
}

// LoadDotEnv loads KEY=VALUE pairs from path without overriding variables
// that are already set. A missing file is not an error.
func LoadDotEnv(path string) error {
	if err := godotenv.Load(path); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("config: failed to load %s: %w", path, err)
	}
	return nil
}

// resolveConfigPath returns the first config file path that exists.
func resolveConfigPath(explicit string) string {
	if explicit != "" {
		if _, err := os.Stat(explicit); err == nil {
			return explicit
		}
		return ""
	}

	if envPath := os.Getenv("RAGINDEX_CONFIG"); envPath != "" {
		if _, err := os.Stat(envPath); err == nil {
			return envPath
		}
	}

	home, err := os.UserHomeDir()
	if err == nil {
		p := filepath.Join(home, ".ragindex", "config.yaml")
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}

	if _, err := os.Stat("ragindex.yaml"); err == nil {
		return "ragindex.yaml"
	}

	return ""
}

// intStr converts an int to string, returning "" for zero values.
func intStr(v int) string {
	if v == 0 {
		return ""
	}
	return strconv.Itoa(v)
}

// floatStr converts a float64 to string, returning "" for zero values.
func floatStr(v float64) string {
	if v == 0 {
		return ""
	}
	return strings.TrimRight(strings.TrimRight(strconv.FormatFloat(v, 'f', 4, 64), "0"), ".")
}

// boolStr converts a bool to string, returning "" for false.
func boolStr(v bool) string {
	if !v {
		return ""
	}
	return "true"
}
