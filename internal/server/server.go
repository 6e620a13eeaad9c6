// Package server implements the HTTP API of the indexing pipeline: submit a
// document for (re)processing, purge or list sources, list recent runs, and
// the usual health, readiness and metrics endpoints.
// The server is started by the `ragindex serve` CLI command.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/54b3r/ragindex-go/internal/extract"
	"github.com/54b3r/ragindex-go/internal/ingestion"
	"github.com/54b3r/ragindex-go/internal/logging"
	"github.com/54b3r/ragindex-go/internal/rag"
)

// New constructs a Server around proc.
func New(proc Processor, cfg *Config) (*Server, error) {
	if proc == nil {
		return nil, fmt.Errorf("server: processor must not be nil")
	}
	if cfg == nil {
		cfg = &Config{}
	}
	if cfg.Host == "" {
		cfg.Host = "127.0.0.1"
	}
	if cfg.Port == 0 {
		cfg.Port = 8080
	}
	if cfg.ReadTimeout == 0 {
		cfg.ReadTimeout = 30 * time.Second
	}
	if cfg.ProcessTimeout == 0 {
		cfg.ProcessTimeout = 10 * time.Minute
	}
	if cfg.WriteTimeout == 0 {
		cfg.WriteTimeout = cfg.ProcessTimeout + 30*time.Second
	}
	if cfg.ShutdownTimeout == 0 {
		cfg.ShutdownTimeout = 10 * time.Second
	}
	if cfg.MaxBodyBytes == 0 {
		cfg.MaxBodyBytes = 32 << 20
	}
	if cfg.RateLimit == 0 {
		cfg.RateLimit = defaultRateLimit
	}
	if cfg.RateBurst == 0 {
		cfg.RateBurst = defaultRateBurst
	}
	if cfg.MetricsRegistry == nil {
		cfg.MetricsRegistry = prometheus.DefaultRegisterer
	}
	if cfg.MetricsGatherer == nil {
		cfg.MetricsGatherer = prometheus.DefaultGatherer
	}
	log := cfg.Logger
	if log == nil {
		log = slog.Default()
	}

	s := &Server{
		proc:    proc,
		cfg:     cfg,
		log:     log,
		pingers: cfg.Pingers,
		metrics: newServerMetrics(cfg.MetricsRegistry),
	}

	rl, stop := newRateLimiter(cfg.RateLimit, cfg.RateBurst, log)
	s.stopRL = stop

	if cfg.APIKey == "" {
		log.Warn("server: API key not set; authentication is disabled")
	}
	protect := func(h http.HandlerFunc) http.Handler {
		return authMiddleware(cfg.APIKey, rl.middleware(h))
	}

	mux := http.NewServeMux()
	s.route(mux, "POST /api/process", "process", protect(s.handleProcess))
	s.route(mux, "DELETE /api/sources", "purge", protect(s.handlePurge))
	s.route(mux, "GET /api/sources", "sources", protect(s.handleSources))
	s.route(mux, "GET /api/runs", "runs", protect(s.handleRuns))
	s.route(mux, "GET /api/health", "health", http.HandlerFunc(s.handleHealth))
	s.route(mux, "GET /api/ready", "ready", http.HandlerFunc(s.handleReady))
	s.route(mux, "GET /metrics", "metrics", promhttp.HandlerFor(cfg.MetricsGatherer, promhttp.HandlerOpts{}))

	s.httpServer = &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Handler:      requestLogger(log, mux),
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	}

	return s, nil
}

// route registers h under pattern, instrumented as handler.
func (s *Server) route(mux *http.ServeMux, pattern, handler string, h http.Handler) {
	mux.Handle(pattern, s.metrics.instrument(handler, h))
}

// Handler returns the root handler, for tests and embedding.
func (s *Server) Handler() http.Handler { return s.httpServer.Handler }

// Start begins listening and serving HTTP requests. It blocks until the
// context is cancelled, then performs a graceful shutdown.
func (s *Server) Start(ctx context.Context) error {
	defer s.stopRL()
	errCh := make(chan error, 1)

	go func() {
		s.log.Info("server: listening", slog.String("addr", "http://"+s.httpServer.Addr))
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("server: listen error: %w", err)
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownTimeout)
		defer cancel()
		if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server: graceful shutdown failed: %w", err)
		}
		return nil
	}
}

// handleProcess handles POST /api/process. The body is either JSON
// ({"source_id","display_name","text"}) or a multipart form with a "file"
// part and optional "source_id" and "display_name" fields. It responds 200
// with the Result when every chunk was indexed, 422 with the Result when
// processing failed, and 400 for malformed requests.
func (s *Server) handleProcess(w http.ResponseWriter, r *http.Request) {
	log := logging.FromContext(r.Context())
	start := time.Now()
	s.metrics.processInFlight.Inc()
	defer s.metrics.processInFlight.Dec()

	r.Body = http.MaxBytesReader(w, r.Body, s.cfg.MaxBodyBytes)
	doc, status, err := s.decodeDocument(r)
	if err != nil {
		s.metrics.observeProcess(outcomeBadRequest, time.Since(start))
		log.Warn("process: bad request", slog.String("error", err.Error()))
		http.Error(w, err.Error(), status)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), s.cfg.ProcessTimeout)
	defer cancel()
	res := s.proc.Process(logging.WithLogger(ctx, log), doc)

	status = http.StatusOK
	outcome := outcomeSuccess
	if !res.Success {
		status = http.StatusUnprocessableEntity
		outcome = outcomeFailed
	}
	s.metrics.observeProcess(outcome, time.Since(start))
	writeJSON(w, log, status, res)
}

// decodeDocument reads the request body into a Document. On failure it
// returns the status code to respond with.
func (s *Server) decodeDocument(r *http.Request) (ingestion.Document, int, error) {
	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if mediaType == "multipart/form-data" {
		return s.decodeUpload(r)
	}

	var req processRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return ingestion.Document{}, http.StatusRequestEntityTooLarge, errors.New("request body too large")
		}
		return ingestion.Document{}, http.StatusBadRequest, errors.New("invalid request body")
	}
	if strings.TrimSpace(req.SourceID) == "" {
		return ingestion.Document{}, http.StatusBadRequest, errors.New("source_id is required")
	}
	return ingestion.Document{SourceID: req.SourceID, DisplayName: req.DisplayName, Text: req.Text}, 0, nil
}

// decodeUpload extracts an uploaded file. The source ID defaults to the
// uploaded file name.
func (s *Server) decodeUpload(r *http.Request) (ingestion.Document, int, error) {
	file, header, err := r.FormFile("file")
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return ingestion.Document{}, http.StatusRequestEntityTooLarge, errors.New("request body too large")
		}
		return ingestion.Document{}, http.StatusBadRequest, errors.New("multipart body requires a file part")
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		return ingestion.Document{}, http.StatusBadRequest, fmt.Errorf("read upload: %w", err)
	}
	content, err := extract.Bytes(header.Filename, data, logging.FromContext(r.Context()))
	switch {
	case errors.Is(err, extract.ErrUnsupported):
		return ingestion.Document{}, http.StatusUnsupportedMediaType, err
	case err != nil:
		return ingestion.Document{}, http.StatusBadRequest, err
	}

	sourceID := r.FormValue("source_id")
	if strings.TrimSpace(sourceID) == "" {
		sourceID = header.Filename
	}
	return ingestion.Document{
		SourceID:    sourceID,
		DisplayName: r.FormValue("display_name"),
		Text:        content.Text,
		Pages:       content.Pages,
	}, 0, nil
}

// handlePurge handles DELETE /api/sources?source_id=... by removing every
// indexed entry for the source.
func (s *Server) handlePurge(w http.ResponseWriter, r *http.Request) {
	log := logging.FromContext(r.Context())
	sourceID := r.URL.Query().Get("source_id")
	if strings.TrimSpace(sourceID) == "" {
		http.Error(w, "source_id is required", http.StatusBadRequest)
		return
	}

	n, err := s.proc.Purge(r.Context(), sourceID)
	if err != nil {
		log.Error("purge failed", slog.String("source_id", sourceID), slog.Any("error", err))
		http.Error(w, "purge failed", http.StatusBadGateway)
		return
	}
	writeJSON(w, log, http.StatusOK, purgeResponse{SourceID: sourceID, Deleted: n})
}

// handleSources handles GET /api/sources?limit= by listing indexed sources
// with their entry counts.
func (s *Server) handleSources(w http.ResponseWriter, r *http.Request) {
	log := logging.FromContext(r.Context())
	if s.cfg.Inventory == nil {
		http.Error(w, "source listing is not supported by this index backend", http.StatusNotFound)
		return
	}

	limit, ok := queryLimit(w, r, 1000, 100000)
	if !ok {
		return
	}

	total, err := s.cfg.Inventory.Count(r.Context())
	if err != nil {
		log.Error("sources count failed", slog.Any("error", err))
		http.Error(w, "could not count index entries", http.StatusBadGateway)
		return
	}
	sources, err := s.cfg.Inventory.Sources(r.Context(), limit)
	if err != nil {
		log.Error("sources query failed", slog.Any("error", err))
		http.Error(w, "could not list sources", http.StatusBadGateway)
		return
	}
	if sources == nil {
		sources = []rag.SourceCount{}
	}
	writeJSON(w, log, http.StatusOK, sourcesResponse{Total: total, Sources: sources})
}

// queryLimit parses the limit query parameter, writing a 400 and returning
// false when it is outside 1..maxLimit.
func queryLimit(w http.ResponseWriter, r *http.Request, def, maxLimit int) (int, bool) {
	v := r.URL.Query().Get("limit")
	if v == "" {
		return def, true
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 || n > maxLimit {
		http.Error(w, fmt.Sprintf("limit must be between 1 and %d", maxLimit), http.StatusBadRequest)
		return 0, false
	}
	return n, true
}

// handleRuns handles GET /api/runs?source_id=&limit= by listing recent
// processing runs, newest first.
func (s *Server) handleRuns(w http.ResponseWriter, r *http.Request) {
	log := logging.FromContext(r.Context())
	if s.cfg.Ledger == nil {
		http.Error(w, "run history is disabled", http.StatusNotFound)
		return
	}

	limit, ok := queryLimit(w, r, 20, 1000)
	if !ok {
		return
	}

	runs, err := s.cfg.Ledger.Recent(r.Context(), r.URL.Query().Get("source_id"), limit)
	if err != nil {
		log.Error("runs query failed", slog.Any("error", err))
		http.Error(w, "could not list runs", http.StatusInternalServerError)
		return
	}
	out := make([]runResponse, len(runs))
	for i, run := range runs {
		out[i] = runResponse{
			SourceID:      run.SourceID,
			DisplayName:   run.DisplayName,
			Success:       run.Success,
			ChunksCreated: run.ChunksCreated,
			ChunksIndexed: run.ChunksIndexed,
			ChunksFailed:  run.ChunksFailed,
			StaleDeleted:  run.StaleDeleted,
			Error:         run.Error,
			DurationMS:    run.Duration.Milliseconds(),
			FinishedAt:    run.FinishedAt.UTC(),
		}
	}
	writeJSON(w, log, http.StatusOK, out)
}

// handleHealth handles GET /api/health for liveness checks.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, logging.FromContext(r.Context()), http.StatusOK, map[string]string{"status": "ok"})
}

// writeJSON writes v as a JSON response with the given status.
func writeJSON(w http.ResponseWriter, log *slog.Logger, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Error("response encode error", slog.Any("error", err))
	}
}
