package server

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metric label values shared across registrations.
const (
	// labelHandler is the "handler" label value used to partition metrics by
	// the logical endpoint name rather than the raw URL path.
	labelHandler = "handler"
)

// Process outcome label values.
const (
	outcomeSuccess    = "success"
	outcomeFailed     = "failed"
	outcomeBadRequest = "bad_request"
)

// serverMetrics holds all Prometheus metrics owned by the HTTP server.
// A single instance is created in New and stored on Server so that tests can
// inject a fresh prometheus.Registry without polluting the default one.
type serverMetrics struct {
	// processRequestsTotal counts completed /api/process requests,
	// partitioned by outcome: "success", "failed", or "bad_request".
	processRequestsTotal *prometheus.CounterVec

	// processDurationSeconds records the wall-clock duration of each
	// /api/process request.
	processDurationSeconds *prometheus.HistogramVec

	// processInFlight is the number of /api/process requests being handled.
	processInFlight prometheus.Gauge

	// httpRequestsTotal counts all HTTP requests handled by the mux,
	// partitioned by method, handler, and status code.
	httpRequestsTotal *prometheus.CounterVec

	// httpDurationSeconds records the latency of all HTTP requests.
	httpDurationSeconds *prometheus.HistogramVec
}

// newServerMetrics registers all server metrics against reg and returns the
// populated serverMetrics. promauto.With(reg) is used so that each call
// registers into the provided registry rather than the global default.
func newServerMetrics(reg prometheus.Registerer) *serverMetrics {
	factory := promauto.With(reg)

	return &serverMetrics{
		processRequestsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "ragindex",
			Subsystem: "process",
			Name:      "requests_total",
			Help:      "Total number of /api/process requests completed, partitioned by outcome.",
		}, []string{"outcome"}),

		processDurationSeconds: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "ragindex",
			Subsystem: "process",
			Name:      "duration_seconds",
			Help:      "Wall-clock duration of /api/process requests.",
			Buckets:   []float64{0.1, 0.5, 1, 5, 10, 30, 60, 300},
		}, []string{"outcome"}),

		processInFlight: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: "ragindex",
			Subsystem: "process",
			Name:      "in_flight",
			Help:      "Number of /api/process requests currently being handled.",
		}),

		httpRequestsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "ragindex",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total number of HTTP requests handled by the server, partitioned by method, handler, and status code.",
		}, []string{"method", labelHandler, "code"}),

		httpDurationSeconds: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "ragindex",
			Subsystem: "http",
			Name:      "duration_seconds",
			Help:      "Latency of HTTP requests handled by the server.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", labelHandler}),
	}
}

// observeProcess records one finished /api/process request.
func (m *serverMetrics) observeProcess(outcome string, d time.Duration) {
	if m == nil {
		return
	}
	m.processRequestsTotal.WithLabelValues(outcome).Inc()
	m.processDurationSeconds.WithLabelValues(outcome).Observe(d.Seconds())
}

// instrument wraps next so every request is counted under handler.
func (m *serverMetrics) instrument(handler string, next http.Handler) http.Handler {
	if m == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rw, ok := w.(*responseWriter)
		if !ok {
			rw = &responseWriter{ResponseWriter: w, status: http.StatusOK}
		}
		start := time.Now()
		next.ServeHTTP(rw, r)
		m.httpRequestsTotal.WithLabelValues(r.Method, handler, strconv.Itoa(rw.status)).Inc()
		m.httpDurationSeconds.WithLabelValues(r.Method, handler).Observe(time.Since(start).Seconds())
	})
}
