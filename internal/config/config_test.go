package config

import (
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestLoad_NoFile(t *testing.T) {
	t.Parallel()

	path, err := Load("/nonexistent/path/config.yaml", quietLogger())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if path != "" {
		t.Errorf("expected empty path, got %q", path)
	}
}

func TestLoad_ValidFile(t *testing.T) {
	dir := t.TempDir()
	cfgPath := filepath.Join(dir, "config.yaml")

	content := []byte(`
embedding:
  provider: azure
  batch_size: 64
  rps: 2.5
  retry_base_delay: 250ms
  azure:
    endpoint: https://my-resource.openai.azure.com
    api_version: "2024-02-01"
chunking:
  size: 1200
  overlap: 150
index:
  backend: qdrant
  upsert_batch_size: 500
qdrant:
  host: qdrant.internal
  port: 6334
  collection: my-docs
  tls: true
nsq:
  nsqd_addr: 127.0.0.1:4150
  lookupd_addrs: 10.0.0.1:4161,10.0.0.2:4161
server:
  port: 9090
  process_timeout: 2m
logging:
  level: debug
  format: text
`)

	if err := os.WriteFile(cfgPath, content, 0o644); err != nil {
		t.Fatal(err)
	}

	checks := map[string]string{
		"EMBEDDING_PROVIDER":         "azure",
		"EMBEDDING_BATCH_SIZE":       "64",
		"EMBEDDING_RPS":              "2.5",
		"EMBEDDING_RETRY_BASE_DELAY": "250ms",
		"AZURE_OPENAI_ENDPOINT":      "https://my-resource.openai.azure.com",
		"AZURE_OPENAI_API_VERSION":   "2024-02-01",
		"CHUNK_SIZE":                 "1200",
		"CHUNK_OVERLAP":              "150",
		"INDEX_BACKEND":              "qdrant",
		"INDEX_UPSERT_BATCH_SIZE":    "500",
		"QDRANT_HOST":                "qdrant.internal",
		"QDRANT_PORT":                "6334",
		"QDRANT_COLLECTION":          "my-docs",
		"QDRANT_TLS":                 "true",
		"NSQD_ADDR":                  "127.0.0.1:4150",
		"NSQ_LOOKUPD_ADDRS":          "10.0.0.1:4161,10.0.0.2:4161",
		"RAGINDEX_PORT":              "9090",
		"RAGINDEX_PROCESS_TIMEOUT":   "2m",
		"LOG_LEVEL":                  "debug",
		"LOG_FORMAT":                 "text",
	}

	// Clear env vars that the YAML should set.
	for k := range checks {
		t.Setenv(k, "")
		os.Unsetenv(k)
	}
	t.Setenv("INDEX_QUERY_LIMIT", "")
	os.Unsetenv("INDEX_QUERY_LIMIT")

	loaded, err := Load(cfgPath, quietLogger())
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if loaded != cfgPath {
		t.Errorf("loaded path: got %q, want %q", loaded, cfgPath)
	}

	for k, want := range checks {
		if got := os.Getenv(k); got != want {
			t.Errorf("%s: got %q, want %q", k, got, want)
		}
	}
	if v, ok := os.LookupEnv("INDEX_QUERY_LIMIT"); ok {
		t.Errorf("INDEX_QUERY_LIMIT: zero YAML value should not be applied, got %q", v)
	}
}

func TestLoad_EnvOverridesYAML(t *testing.T) {
	dir := t.TempDir()
	cfgPath := filepath.Join(dir, "config.yaml")

	content := []byte(`
index:
  backend: weaviate
`)
	if err := os.WriteFile(cfgPath, content, 0o644); err != nil {
		t.Fatal(err)
	}

	// Set env var BEFORE loading; it should NOT be overwritten.
	t.Setenv("INDEX_BACKEND", "badger")

	if _, err := Load(cfgPath, quietLogger()); err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if got := os.Getenv("INDEX_BACKEND"); got != "badger" {
		t.Errorf("INDEX_BACKEND: expected env override %q, got %q", "badger", got)
	}
}

func TestLoad_InvalidYAML(t *testing.T) {
	dir := t.TempDir()
	cfgPath := filepath.Join(dir, "config.yaml")

	if err := os.WriteFile(cfgPath, []byte("{{invalid yaml"), 0o644); err != nil {
		t.Fatal(err)
	}

	if _, err := Load(cfgPath, quietLogger()); err == nil {
		t.Fatal("expected error for invalid YAML")
	}
}

func TestLoadDotEnv(t *testing.T) {
	dir := t.TempDir()
	envPath := filepath.Join(dir, ".env")

	content := []byte("CHUNK_SIZE=800\nNSQ_CHANNEL=from-dotenv\n# comment\n")
	if err := os.WriteFile(envPath, content, 0o600); err != nil {
		t.Fatal(err)
	}

	t.Setenv("CHUNK_SIZE", "")
	os.Unsetenv("CHUNK_SIZE")
	t.Setenv("NSQ_CHANNEL", "from-env")

	if err := LoadDotEnv(envPath); err != nil {
		t.Fatalf("LoadDotEnv: %v", err)
	}
	if got := os.Getenv("CHUNK_SIZE"); got != "800" {
		t.Errorf("CHUNK_SIZE: got %q, want %q", got, "800")
	}
	if got := os.Getenv("NSQ_CHANNEL"); got != "from-env" {
		t.Errorf("NSQ_CHANNEL: existing env should win, got %q", got)
	}
}

func TestLoadDotEnv_Missing(t *testing.T) {
	t.Parallel()
	if err := LoadDotEnv(filepath.Join(t.TempDir(), ".env")); err != nil {
		t.Errorf("missing .env should be ignored, got %v", err)
	}
}

func TestResolveConfigPath_EnvVar(t *testing.T) {
	dir := t.TempDir()
	cfgPath := filepath.Join(dir, "custom.yaml")
	if err := os.WriteFile(cfgPath, []byte("logging:\n  level: warn\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	t.Setenv("RAGINDEX_CONFIG", cfgPath)

	if got := resolveConfigPath(""); got != cfgPath {
		t.Errorf("resolveConfigPath: got %q, want %q", got, cfgPath)
	}
}

func TestFloatStr(t *testing.T) {
	t.Parallel()
	tests := []struct {
		in   float64
		want string
	}{
		{0.0, ""},
		{0.2, "0.2"},
		{2.5, "2.5"},
		{10, "10"},
	}
	for _, tt := range tests {
		if got := floatStr(tt.in); got != tt.want {
			t.Errorf("floatStr(%v) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
