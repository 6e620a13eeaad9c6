package rag

import (
	"context"
	"errors"
	"sort"
	"sync"
)

// ErrStoreClosed is returned by MemoryStore after Close.
var ErrStoreClosed = errors.New("rag: store is closed")

// MemoryStore is an in-process IndexStore. It backs dry runs and tests, and
// can be told to fail specific keys or whole calls.
type MemoryStore struct {
	// mu guards every field below.
	mu sync.Mutex
	// entries maps key to entry.
	entries map[string]Entry
	// failUpsert maps key to the reason an upsert of that key is rejected.
	failUpsert map[string]string
	// queryErr, deleteErr and upsertErr fail the whole call when non-nil.
	queryErr, deleteErr, upsertErr error
	// deleteCalls and upsertCalls record the batch size of every call.
	deleteCalls, upsertCalls []int
	// closed is set by Close.
	closed bool
}

// NewMemoryStore returns an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		entries:    make(map[string]Entry),
		failUpsert: make(map[string]string),
	}
}

// FailUpsert makes every subsequent upsert of key fail with reason.
func (m *MemoryStore) FailUpsert(key, reason string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failUpsert[key] = reason
}

// FailCalls makes the next KeysBySource, Delete or Upsert calls return the
// given errors. Nil clears a failure.
func (m *MemoryStore) FailCalls(query, del, upsert error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.queryErr, m.deleteErr, m.upsertErr = query, del, upsert
}

// Seed writes entries directly, bypassing failure injection.
func (m *MemoryStore) Seed(entries ...Entry) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, e := range entries {
		m.entries[e.Key] = e
	}
}

// Get returns the entry stored under key.
func (m *MemoryStore) Get(key string) (Entry, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.entries[key]
	return e, ok
}

// Len returns the total number of stored entries.
func (m *MemoryStore) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.entries)
}

// DeleteCalls returns the batch size of every Delete call so far.
func (m *MemoryStore) DeleteCalls() []int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]int(nil), m.deleteCalls...)
}

// UpsertCalls returns the batch size of every Upsert call so far.
func (m *MemoryStore) UpsertCalls() []int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]int(nil), m.upsertCalls...)
}

// KeysBySource returns the sorted keys of entries for sourceID, up to limit.
func (m *MemoryStore) KeysBySource(_ context.Context, sourceID string, limit int) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil, ErrStoreClosed
	}
	if m.queryErr != nil {
		return nil, m.queryErr
	}

	var keys []string
	for k, e := range m.entries {
		if e.SourceID == sourceID {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	if limit > 0 && len(keys) > limit {
		keys = keys[:limit]
	}
	return keys, nil
}

// Delete removes keys. Missing keys count as deleted.
func (m *MemoryStore) Delete(_ context.Context, keys []string) ([]ItemResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil, ErrStoreClosed
	}
	m.deleteCalls = append(m.deleteCalls, len(keys))
	if m.deleteErr != nil {
		return nil, m.deleteErr
	}

	for _, k := range keys {
		delete(m.entries, k)
	}
	return succeedAll(keys), nil
}

// Upsert stores entries, rejecting keys registered with FailUpsert.
func (m *MemoryStore) Upsert(_ context.Context, entries []Entry) ([]ItemResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil, ErrStoreClosed
	}
	m.upsertCalls = append(m.upsertCalls, len(entries))
	if m.upsertErr != nil {
		return nil, m.upsertErr
	}

	results := make([]ItemResult, len(entries))
	for i, e := range entries {
		if reason, fail := m.failUpsert[e.Key]; fail {
			results[i] = ItemResult{Key: e.Key, Error: reason}
			continue
		}
		m.entries[e.Key] = e
		results[i] = ItemResult{Key: e.Key, Succeeded: true}
	}
	return results, nil
}

// Close marks the store closed.
func (m *MemoryStore) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}

// Ping reports whether the store is still open.
func (m *MemoryStore) Ping(context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrStoreClosed
	}
	return nil
}

// Sources counts entries per source.
func (m *MemoryStore) Sources(_ context.Context, limit int) ([]SourceCount, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil, ErrStoreClosed
	}
	if m.queryErr != nil {
		return nil, m.queryErr
	}

	counts := make(map[string]int)
	for _, e := range m.entries {
		counts[e.SourceID]++
	}
	return sortedSources(counts, limit), nil
}

// Count returns the number of stored entries.
func (m *MemoryStore) Count(context.Context) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return 0, ErrStoreClosed
	}
	if m.queryErr != nil {
		return 0, m.queryErr
	}
	return len(m.entries), nil
}
