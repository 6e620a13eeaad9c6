package server

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/54b3r/ragindex-go/internal/ingestion"
	"github.com/54b3r/ragindex-go/internal/rag"
	"github.com/54b3r/ragindex-go/internal/store"
)

// Config holds the HTTP server configuration.
type Config struct {
	// Host is the address to bind to (default: 127.0.0.1).
	Host string
	// Port is the TCP port to listen on (default: 8080).
	Port int
	// ReadTimeout is the maximum duration for reading the request.
	ReadTimeout time.Duration
	// WriteTimeout is the maximum duration for writing the response. It must
	// exceed ProcessTimeout.
	WriteTimeout time.Duration
	// ShutdownTimeout is the maximum duration for a graceful shutdown.
	ShutdownTimeout time.Duration
	// ProcessTimeout bounds one POST /api/process request (default: 10m).
	ProcessTimeout time.Duration
	// MaxBodyBytes caps request bodies (default: 32 MiB).
	MaxBodyBytes int64
	// Logger is the structured logger used by the server and its handlers.
	// If nil, slog.Default() is used.
	Logger *slog.Logger
	// Pingers is the ordered list of dependency probes run by GET /api/ready.
	// If empty, /api/ready returns 200 with no checks (liveness-only mode).
	Pingers []Pinger
	// RateLimit is the sustained request rate allowed per IP on rate-limited
	// endpoints (requests/second). Defaults to 10 if zero.
	RateLimit float64
	// RateBurst is the maximum instantaneous burst per IP. Defaults to 20 if zero.
	RateBurst int
	// APIKey must be presented as a Bearer token or X-Api-Key header on all
	// protected /api/* routes.
	// If empty, authentication is disabled (development mode).
	APIKey string
	// Ledger backs GET /api/runs. Optional.
	Ledger store.RunLedger
	// Inventory backs GET /api/sources. Optional.
	Inventory rag.Inventory
	// MetricsRegistry receives the server collectors. Defaults to
	// prometheus.DefaultRegisterer.
	MetricsRegistry prometheus.Registerer
	// MetricsGatherer backs GET /metrics. Defaults to prometheus.DefaultGatherer.
	MetricsGatherer prometheus.Gatherer
}

// Processor runs documents through the pipeline. *ingestion.Processor
// satisfies it; tests inject a fake.
type Processor interface {
	Process(ctx context.Context, doc ingestion.Document) ingestion.Result
	Purge(ctx context.Context, sourceID string) (int, error)
}

// Server is the HTTP front end of the indexing pipeline.
type Server struct {
	// proc handles process and purge requests.
	proc Processor
	// cfg holds the resolved server configuration.
	cfg *Config
	// httpServer is the underlying net/http server.
	httpServer *http.Server
	// log is the structured logger for this server instance.
	log *slog.Logger
	// pingers is the ordered list of dependency probes for GET /api/ready.
	pingers []Pinger
	// metrics holds the server's Prometheus collectors.
	metrics *serverMetrics
	// stopRL stops the rate limiter's background eviction goroutine on shutdown.
	stopRL func()
}

// processRequest is the JSON body for POST /api/process.
type processRequest struct {
	// SourceID is the logical path or URL of the document.
	SourceID string `json:"source_id"`
	// DisplayName is optional; derived from SourceID when empty.
	DisplayName string `json:"display_name,omitempty"`
	// Text is the extracted document text.
	Text string `json:"text"`
}

// purgeResponse is the JSON response for DELETE /api/sources.
type purgeResponse struct {
	// SourceID is the purged source.
	SourceID string `json:"source_id"`
	// Deleted is the number of entries removed.
	Deleted int `json:"deleted"`
}

// sourcesResponse is the JSON response for GET /api/sources.
type sourcesResponse struct {
	// Total is the number of entries in the index, across all sources.
	Total int `json:"total"`
	// Sources lists indexed sources ordered by source ID.
	Sources []rag.SourceCount `json:"sources"`
}

// runResponse is one element of the GET /api/runs response.
type runResponse struct {
	SourceID      string    `json:"source_id"`
	DisplayName   string    `json:"display_name"`
	Success       bool      `json:"success"`
	ChunksCreated int       `json:"chunks_created"`
	ChunksIndexed int       `json:"chunks_indexed"`
	ChunksFailed  int       `json:"chunks_failed"`
	StaleDeleted  int       `json:"stale_deleted"`
	Error         string    `json:"error,omitempty"`
	DurationMS    int64     `json:"duration_ms"`
	FinishedAt    time.Time `json:"finished_at"`
}
