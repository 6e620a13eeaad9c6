// Package metrics owns the Prometheus collectors for the indexing pipeline.
// Every method is safe to call on a nil *Metrics, so components can take an
// optional collector set without guarding each call site.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// namespace prefixes every metric name.
const namespace = "ragindex"

// Outcome label values.
const (
	OutcomeOK      = "ok"
	OutcomeRetry   = "retry"
	OutcomeError   = "error"
	OutcomeFailed  = "failed"
	OutcomeSuccess = "success"
)

// Index operation label values.
const (
	OpUpsert = "upsert"
	OpDelete = "delete"
)

// Metrics holds the pipeline collectors. Create one per registry with New.
type Metrics struct {
	// embedCallsTotal counts remote embedding calls by outcome: ok, retry or error.
	embedCallsTotal *prometheus.CounterVec

	// embedRetryWaitSeconds records each backoff wait before a retried call.
	embedRetryWaitSeconds prometheus.Histogram

	// embedGroupsFailedTotal counts embedding groups that produced no vectors.
	embedGroupsFailedTotal prometheus.Counter

	// indexItemsTotal counts store items by operation and outcome.
	indexItemsTotal *prometheus.CounterVec

	// documentsTotal counts processed documents by outcome.
	documentsTotal *prometheus.CounterVec

	// documentDurationSeconds records end-to-end document processing time.
	documentDurationSeconds prometheus.Histogram

	// chunksCreatedTotal counts chunks produced by the splitter.
	chunksCreatedTotal prometheus.Counter
}

// New registers the pipeline collectors against reg. promauto.With(reg)
// keeps tests hermetic when they pass a fresh prometheus.NewRegistry().
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		embedCallsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "embed",
			Name:      "calls_total",
			Help:      "Remote embedding calls, partitioned by outcome.",
		}, []string{"outcome"}),

		embedRetryWaitSeconds: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "embed",
			Name:      "retry_wait_seconds",
			Help:      "Backoff waits before retrying an embedding call.",
			Buckets:   []float64{0.5, 1, 2, 4, 8, 16, 32, 60},
		}),

		embedGroupsFailedTotal: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "embed",
			Name:      "groups_failed_total",
			Help:      "Embedding groups that yielded no vectors after retries.",
		}),

		indexItemsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "index",
			Name:      "items_total",
			Help:      "Index store items, partitioned by operation and outcome.",
		}, []string{"op", "outcome"}),

		documentsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "documents",
			Name:      "processed_total",
			Help:      "Documents processed, partitioned by outcome.",
		}, []string{"outcome"}),

		documentDurationSeconds: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "documents",
			Name:      "duration_seconds",
			Help:      "Wall-clock time to split, embed and reconcile one document.",
			Buckets:   []float64{0.1, 0.5, 1, 5, 10, 30, 60, 300},
		}),

		chunksCreatedTotal: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "documents",
			Name:      "chunks_created_total",
			Help:      "Chunks produced by the splitter.",
		}),
	}
}

// EmbedCall records one remote embedding call outcome.
func (m *Metrics) EmbedCall(outcome string) {
	if m == nil {
		return
	}
	m.embedCallsTotal.WithLabelValues(outcome).Inc()
}

// RetryWait records a backoff wait.
func (m *Metrics) RetryWait(d time.Duration) {
	if m == nil {
		return
	}
	m.embedRetryWaitSeconds.Observe(d.Seconds())
}

// EmbedGroupFailed records a group that yielded no vectors.
func (m *Metrics) EmbedGroupFailed() {
	if m == nil {
		return
	}
	m.embedGroupsFailedTotal.Inc()
}

// IndexItems records per-item outcomes for one store operation.
func (m *Metrics) IndexItems(op string, ok, failed int) {
	if m == nil {
		return
	}
	if ok > 0 {
		m.indexItemsTotal.WithLabelValues(op, OutcomeOK).Add(float64(ok))
	}
	if failed > 0 {
		m.indexItemsTotal.WithLabelValues(op, OutcomeFailed).Add(float64(failed))
	}
}

// DocumentProcessed records one finished document.
func (m *Metrics) DocumentProcessed(success bool, chunks int, d time.Duration) {
	if m == nil {
		return
	}
	outcome := OutcomeFailed
	if success {
		outcome = OutcomeSuccess
	}
	m.documentsTotal.WithLabelValues(outcome).Inc()
	m.documentDurationSeconds.Observe(d.Seconds())
	m.chunksCreatedTotal.Add(float64(chunks))
}
