package commands

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/nsqio/go-nsq"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/54b3r/ragindex-go/internal/embedder"
	"github.com/54b3r/ragindex-go/internal/logging"
	"github.com/54b3r/ragindex-go/internal/rag"
	"github.com/54b3r/ragindex-go/internal/server"
	"github.com/54b3r/ragindex-go/internal/version"
)

// NewServeCmd constructs the `ragindex serve` command, which starts the HTTP
// API in front of the processing pipeline.
func NewServeCmd() *cobra.Command {
	var host string
	var port int
	var backend string
	var noEmbed bool

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the ragindex HTTP API",
		Long: `Start the ragindex HTTP server.

Endpoints:
  POST   /api/process              Process a document (JSON or multipart upload)
  DELETE /api/sources?source_id=   Purge a source
  GET    /api/runs                 Recent processing runs
  GET    /api/health               Liveness
  GET    /api/ready                Readiness (index store, NSQ, embedding endpoint)
  GET    /metrics                  Prometheus metrics

Protected endpoints require "Authorization: Bearer $RAGINDEX_API_KEY" (or an
X-Api-Key header) when the key is set.

Examples:
  ragindex serve
  ragindex serve --port 9090
  INDEX_BACKEND=qdrant ragindex serve`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			log := logging.FromContext(ctx)
			log.Info("serve starting", slog.String("version", version.String()))

			p, err := buildPipeline(ctx, log, pipelineOptions{
				skipEmbedding: noEmbed,
				backend:       backend,
				registry:      prometheus.DefaultRegisterer,
			})
			if err != nil {
				return fmt.Errorf("serve: %w", err)
			}
			defer p.Close()

			pingers, closePingers := buildPingers(p.store, noEmbed, log)
			defer closePingers()

			if !cmd.Flags().Changed("host") {
				host = getEnvOrDefault("RAGINDEX_HOST", host)
			}
			if !cmd.Flags().Changed("port") {
				port = getEnvInt("RAGINDEX_PORT", port)
			}

			inventory, _ := p.store.(rag.Inventory)
			srv, err := server.New(p.proc, &server.Config{
				Host:           host,
				Port:           port,
				ProcessTimeout: getEnvDuration("RAGINDEX_PROCESS_TIMEOUT", 0),
				Logger:         log,
				Pingers:        pingers,
				RateLimit:      getEnvFloat("RAGINDEX_RATE_LIMIT", 0),
				RateBurst:      getEnvInt("RAGINDEX_RATE_BURST", 0),
				APIKey:         os.Getenv("RAGINDEX_API_KEY"),
				Ledger:         p.ledger,
				Inventory:      inventory,
			})
			if err != nil {
				return fmt.Errorf("serve: failed to create server: %w", err)
			}

			return srv.Start(ctx)
		},
	}

	cmd.Flags().StringVar(&host, "host", "127.0.0.1", "Host address to bind to")
	cmd.Flags().IntVarP(&port, "port", "p", 8080, "TCP port to listen on")
	cmd.Flags().StringVar(&backend, "store", "", "Index backend override: badger, qdrant, weaviate, memory")
	cmd.Flags().BoolVar(&noEmbed, "no-embed", false, "Index chunks without calling the embedding service")

	return cmd
}

// buildPingers assembles the readiness probes for /api/ready: the index
// store, nsqd when NSQD_ADDR is set, and Ollama when it is the embedding
// backend. The returned func releases probe connections.
func buildPingers(idx rag.IndexStore, noEmbed bool, log *slog.Logger) ([]server.Pinger, func()) {
	var pingers []server.Pinger
	cleanup := func() {}

	if sp, ok := idx.(rag.Pinger); ok {
		pingers = append(pingers, server.NewStorePinger(sp, getEnvOrDefault("INDEX_BACKEND", rag.BackendBadger)))
	}

	if addr := os.Getenv("NSQD_ADDR"); addr != "" {
		conn, err := nsq.NewProducer(addr, nsq.NewConfig())
		if err != nil {
			log.Warn("readiness: nsq probe disabled", slog.Any("error", err))
		} else {
			conn.SetLogger(slog.NewLogLogger(log.Handler(), slog.LevelWarn), nsq.LogLevelWarning)
			pingers = append(pingers, server.NewFuncPinger("nsq", func(context.Context) error {
				return conn.Ping()
			}))
			cleanup = conn.Stop
		}
	}

	if !noEmbed && embedder.Backend() == "ollama" {
		host := getEnvOrDefault("EMBEDDING_ENDPOINT", getEnvOrDefault("OLLAMA_HOST", "http://localhost:11434"))
		pingers = append(pingers, server.NewHTTPPinger("ollama", strings.TrimRight(host, "/")+"/api/tags", nil))
	}

	log.Info("readiness probes configured", slog.Int("count", len(pingers)), slog.Duration("timeout", 5*time.Second))
	return pingers, cleanup
}
