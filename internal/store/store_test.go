package store

import (
	"context"
	"testing"
	"time"
)

// openTestStore opens an in-memory SQLiteStore for use in tests.
func openTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	s, err := Open(":memory:")
	if err != nil {
		t.Fatalf("open in-memory store: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

var base = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

func Test_Store_RecordAndRecent(t *testing.T) {
	t.Parallel()
	s := openTestStore(t)
	ctx := context.Background()

	want := Run{
		SourceID:      "docs/a.pdf",
		DisplayName:   "a.pdf",
		Success:       false,
		ChunksCreated: 2,
		ChunksIndexed: 1,
		ChunksFailed:  1,
		StaleDeleted:  10,
		Error:         "1 of 2 chunks failed to index",
		Duration:      1500 * time.Millisecond,
		FinishedAt:    base,
	}
	if err := s.Record(ctx, want); err != nil {
		t.Fatalf("record: %v", err)
	}

	runs, err := s.Recent(ctx, "docs/a.pdf", 10)
	if err != nil {
		t.Fatalf("recent: %v", err)
	}
	if len(runs) != 1 {
		t.Fatalf("want 1 run, got %d", len(runs))
	}
	got := runs[0]
	if !got.FinishedAt.Equal(want.FinishedAt) {
		t.Errorf("FinishedAt: want %v, got %v", want.FinishedAt, got.FinishedAt)
	}
	got.FinishedAt = want.FinishedAt
	if got != want {
		t.Errorf("run mismatch:\nwant %+v\ngot  %+v", want, got)
	}
}

func Test_Store_NewestFirstAndLimit(t *testing.T) {
	t.Parallel()
	s := openTestStore(t)
	ctx := context.Background()

	for i := range 5 {
		run := Run{SourceID: "notes.txt", DisplayName: "notes.txt", Success: true, ChunksCreated: i, FinishedAt: base.Add(time.Duration(i) * time.Minute)}
		if err := s.Record(ctx, run); err != nil {
			t.Fatalf("record: %v", err)
		}
	}

	runs, err := s.Recent(ctx, "notes.txt", 3)
	if err != nil {
		t.Fatalf("recent: %v", err)
	}
	if len(runs) != 3 {
		t.Fatalf("want 3 runs, got %d", len(runs))
	}
	for i, want := range []int{4, 3, 2} {
		if runs[i].ChunksCreated != want {
			t.Errorf("run[%d]: want ChunksCreated %d, got %d", i, want, runs[i].ChunksCreated)
		}
	}
}

func Test_Store_SourceIsolation(t *testing.T) {
	t.Parallel()
	s := openTestStore(t)
	ctx := context.Background()

	if err := s.Record(ctx, Run{SourceID: "x.md", DisplayName: "x.md", FinishedAt: base}); err != nil {
		t.Fatalf("record x: %v", err)
	}
	if err := s.Record(ctx, Run{SourceID: "y.md", DisplayName: "y.md", FinishedAt: base.Add(time.Second)}); err != nil {
		t.Fatalf("record y: %v", err)
	}

	runsX, err := s.Recent(ctx, "x.md", 10)
	if err != nil {
		t.Fatalf("recent x: %v", err)
	}
	if len(runsX) != 1 || runsX[0].SourceID != "x.md" {
		t.Errorf("source x isolation failed: got %v", runsX)
	}

	all, err := s.Recent(ctx, "", 10)
	if err != nil {
		t.Fatalf("recent all: %v", err)
	}
	if len(all) != 2 || all[0].SourceID != "y.md" {
		t.Errorf("all sources: want [y.md x.md], got %v", all)
	}
}

func Test_Store_UnknownSourceReturnsNil(t *testing.T) {
	t.Parallel()
	s := openTestStore(t)

	runs, err := s.Recent(context.Background(), "missing.pdf", 10)
	if err != nil {
		t.Fatalf("recent: %v", err)
	}
	if len(runs) != 0 {
		t.Errorf("want 0 runs, got %d", len(runs))
	}
}

func Test_Store_ZeroFinishedAtDefaultsToNow(t *testing.T) {
	t.Parallel()
	s := openTestStore(t)
	ctx := context.Background()

	before := time.Now().Add(-time.Second)
	if err := s.Record(ctx, Run{SourceID: "now.txt", DisplayName: "now.txt"}); err != nil {
		t.Fatalf("record: %v", err)
	}
	runs, err := s.Recent(ctx, "now.txt", 1)
	if err != nil || len(runs) != 1 {
		t.Fatalf("recent: %v %v", runs, err)
	}
	if runs[0].FinishedAt.Before(before) {
		t.Errorf("FinishedAt %v not defaulted to now", runs[0].FinishedAt)
	}
}
