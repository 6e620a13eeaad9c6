package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// counterValue returns the value of the counter named name whose labels
// include every pair in labels, or -1 when not found.
func counterValue(t *testing.T, reg *prometheus.Registry, name string, labels map[string]string) float64 {
	t.Helper()
	mfs, err := reg.Gather()
	if err != nil {
		t.Fatalf("gather: %v", err)
	}
	for _, mf := range mfs {
		if mf.GetName() != name {
			continue
		}
		for _, m := range mf.GetMetric() {
			matched := 0
			for _, lp := range m.GetLabel() {
				if v, ok := labels[lp.GetName()]; ok && v == lp.GetValue() {
					matched++
				}
			}
			if matched == len(labels) {
				return m.GetCounter().GetValue()
			}
		}
	}
	return -1
}

func Test_Metrics_NilIsSafe(t *testing.T) {
	t.Parallel()
	var m *Metrics
	m.EmbedCall(OutcomeOK)
	m.RetryWait(time.Second)
	m.EmbedGroupFailed()
	m.IndexItems(OpUpsert, 1, 1)
	m.DocumentProcessed(true, 3, time.Second)
}

func Test_Metrics_IndexItemsByOutcome(t *testing.T) {
	t.Parallel()
	reg := prometheus.NewRegistry()
	m := New(reg)

	m.IndexItems(OpUpsert, 4, 1)
	m.IndexItems(OpUpsert, 2, 0)

	if got := counterValue(t, reg, "ragindex_index_items_total", map[string]string{"op": OpUpsert, "outcome": OutcomeOK}); got != 6 {
		t.Errorf("ok upserts = %v, want 6", got)
	}
	if got := counterValue(t, reg, "ragindex_index_items_total", map[string]string{"op": OpUpsert, "outcome": OutcomeFailed}); got != 1 {
		t.Errorf("failed upserts = %v, want 1", got)
	}
}

func Test_Metrics_DocumentProcessed(t *testing.T) {
	t.Parallel()
	reg := prometheus.NewRegistry()
	m := New(reg)

	m.DocumentProcessed(true, 5, 2*time.Second)
	m.DocumentProcessed(false, 0, time.Second)

	if got := counterValue(t, reg, "ragindex_documents_processed_total", map[string]string{"outcome": OutcomeSuccess}); got != 1 {
		t.Errorf("success = %v, want 1", got)
	}
	if got := counterValue(t, reg, "ragindex_documents_chunks_created_total", nil); got != 5 {
		t.Errorf("chunks = %v, want 5", got)
	}
}
