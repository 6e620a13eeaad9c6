package commands

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/54b3r/ragindex-go/internal/queue"
	"github.com/54b3r/ragindex-go/internal/rag"
	"github.com/54b3r/ragindex-go/internal/store"
	"github.com/54b3r/ragindex-go/internal/watch"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}
}

func TestCollectFiles(t *testing.T) {
	t.Parallel()
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "b.md"), "b")
	writeFile(t, filepath.Join(root, "a.txt"), "a")
	writeFile(t, filepath.Join(root, "sub", "c.pdf"), "c")
	writeFile(t, filepath.Join(root, "image.png"), "x")
	writeFile(t, filepath.Join(root, ".hidden", "d.md"), "d")

	files, err := collectFiles([]string{root, filepath.Join(root, "a.txt")}, "docs/")
	if err != nil {
		t.Fatalf("collectFiles: %v", err)
	}

	want := []string{"docs/a.txt", "docs/b.md", "docs/sub/c.pdf"}
	if len(files) != len(want) {
		t.Fatalf("got %d files (%+v), want %d", len(files), files, len(want))
	}
	for i, f := range files {
		if f.sourceID != want[i] {
			t.Errorf("file[%d] source id = %q, want %q", i, f.sourceID, want[i])
		}
	}
}

func TestCollectFiles_Errors(t *testing.T) {
	t.Parallel()
	root := t.TempDir()
	png := filepath.Join(root, "image.png")
	writeFile(t, png, "x")

	if _, err := collectFiles([]string{png}, ""); err == nil {
		t.Error("expected error for unsupported file argument")
	}
	if _, err := collectFiles([]string{filepath.Join(root, "missing.md")}, ""); err == nil {
		t.Error("expected error for missing file")
	}
}

func TestSplitList(t *testing.T) {
	t.Parallel()
	cases := map[string][]string{
		"":                     nil,
		"a":                    {"a"},
		" a , ,b ":             {"a", "b"},
		"10.0.0.1:4161,host:1": {"10.0.0.1:4161", "host:1"},
	}
	for in, want := range cases {
		got := splitList(in)
		if strings.Join(got, "|") != strings.Join(want, "|") {
			t.Errorf("splitList(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestGetEnvHelpers(t *testing.T) {
	t.Setenv("RAGINDEX_TEST_INT", "42")
	t.Setenv("RAGINDEX_TEST_BAD", "forty")
	t.Setenv("RAGINDEX_TEST_DUR", "90s")
	t.Setenv("RAGINDEX_TEST_FLOAT", "2.5")

	if got := getEnvInt("RAGINDEX_TEST_INT", 1); got != 42 {
		t.Errorf("getEnvInt = %d", got)
	}
	if got := getEnvInt("RAGINDEX_TEST_BAD", 7); got != 7 {
		t.Errorf("getEnvInt fallback = %d", got)
	}
	if got := getEnvDuration("RAGINDEX_TEST_DUR", 0); got != 90*time.Second {
		t.Errorf("getEnvDuration = %v", got)
	}
	if got := getEnvFloat("RAGINDEX_TEST_FLOAT", 0); got != 2.5 {
		t.Errorf("getEnvFloat = %v", got)
	}
	if got := getEnvOrDefault("RAGINDEX_TEST_UNSET", "x"); got != "x" {
		t.Errorf("getEnvOrDefault = %q", got)
	}
}

// recordingPublisher captures published requests.
type recordingPublisher struct {
	reqs []queue.Request
	err  error
}

func (r *recordingPublisher) Publish(req queue.Request) error {
	if r.err != nil {
		return r.err
	}
	r.reqs = append(r.reqs, req)
	return nil
}

func TestQueueSink(t *testing.T) {
	t.Parallel()
	pub := &recordingPublisher{}
	sink := queueSink(pub, quietLogger())

	sink(context.Background(), []watch.Change{
		{Path: "/docs/a.md", SourceID: "a.md"},
		{Path: "/docs/b.md", SourceID: "b.md", Removed: true},
	})

	if len(pub.reqs) != 2 {
		t.Fatalf("published %d requests, want 2", len(pub.reqs))
	}
	if r := pub.reqs[0]; r.Action != queue.ActionProcess || r.Path != "/docs/a.md" || r.CorrelationID == "" {
		t.Errorf("process request = %+v", r)
	}
	if r := pub.reqs[1]; r.Action != queue.ActionPurge || r.Path != "" || r.SourceID != "b.md" {
		t.Errorf("purge request = %+v", r)
	}

	// Publish failures are logged, not fatal.
	failing := &recordingPublisher{err: errors.New("nsqd down")}
	queueSink(failing, quietLogger())(context.Background(), []watch.Change{{Path: "/x.md", SourceID: "x.md"}})
}

func TestPrintRuns(t *testing.T) {
	t.Parallel()
	var buf bytes.Buffer
	err := printRuns(&buf, []store.Run{
		{SourceID: "a.md", Success: true, ChunksCreated: 3, ChunksIndexed: 3, Duration: 1500 * time.Millisecond, FinishedAt: time.Now()},
		{SourceID: "b.pdf", ChunksCreated: 2, ChunksIndexed: 1, ChunksFailed: 1, FinishedAt: time.Now()},
	})
	if err != nil {
		t.Fatalf("printRuns: %v", err)
	}
	out := buf.String()
	for _, want := range []string{"SOURCE", "a.md", "ok", "b.pdf", "failed", "1.5s"} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}
}

// TestIngestAndRuns drives the CLI end to end against the in-memory index
// without an embedding service.
func TestIngestAndRuns(t *testing.T) {
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "docs", "guide.md"), "# Guide\n\nFirst paragraph.\n\nSecond paragraph.")
	writeFile(t, filepath.Join(root, "docs", "empty.txt"), "   ")

	t.Setenv("INDEX_BACKEND", "")
	t.Setenv("RAGINDEX_CONFIG", "")
	t.Setenv("RAGINDEX_HISTORY_DB", filepath.Join(root, "runs.db"))
	t.Setenv("LOG_LEVEL", "error")

	var out bytes.Buffer
	cmd := NewRootCmd()
	cmd.SetOut(&out)
	cmd.SetErr(io.Discard)
	cmd.SetArgs([]string{"ingest", "--store", "memory", "--no-embed", "--prefix", "kb/", filepath.Join(root, "docs")})

	err := cmd.Execute()
	if err == nil || !strings.Contains(err.Error(), "1 of 2 documents failed") {
		t.Fatalf("Execute error = %v, want one failed document", err)
	}
	if !strings.Contains(out.String(), "kb/guide.md") || !strings.Contains(out.String(), "no text content") {
		t.Errorf("unexpected ingest output:\n%s", out.String())
	}

	out.Reset()
	cmd = NewRootCmd()
	cmd.SetOut(&out)
	cmd.SetArgs([]string{"runs", "--source", "kb/guide.md"})
	if err := cmd.Execute(); err != nil {
		t.Fatalf("runs: %v", err)
	}
	if !strings.Contains(out.String(), "kb/guide.md") || strings.Contains(out.String(), "kb/empty.txt") {
		t.Errorf("unexpected runs output:\n%s", out.String())
	}
}

// TestIngestAndSources indexes a tree into a Badger directory and lists it
// back with the sources command.
func TestIngestAndSources(t *testing.T) {
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "docs", "a.md"), "# A\n\nAlpha.")
	writeFile(t, filepath.Join(root, "docs", "b.md"), "# B\n\nBeta.")

	t.Setenv("INDEX_BACKEND", "badger")
	t.Setenv("BADGER_DIR", filepath.Join(root, "index"))
	t.Setenv("RAGINDEX_CONFIG", "")
	t.Setenv("RAGINDEX_HISTORY_DB", "disabled")
	t.Setenv("LOG_LEVEL", "error")

	cmd := NewRootCmd()
	cmd.SetOut(io.Discard)
	cmd.SetErr(io.Discard)
	cmd.SetArgs([]string{"ingest", "--no-embed", "--prefix", "kb/", filepath.Join(root, "docs")})
	if err := cmd.Execute(); err != nil {
		t.Fatalf("ingest: %v", err)
	}

	var out bytes.Buffer
	cmd = NewRootCmd()
	cmd.SetOut(&out)
	cmd.SetArgs([]string{"sources", "--json"})
	if err := cmd.Execute(); err != nil {
		t.Fatalf("sources: %v", err)
	}
	var got struct {
		Total   int `json:"total"`
		Sources []struct {
			SourceID string `json:"source_id"`
			Chunks   int    `json:"chunks"`
		} `json:"sources"`
	}
	if err := json.Unmarshal(out.Bytes(), &got); err != nil {
		t.Fatalf("decode %q: %v", out.String(), err)
	}
	if len(got.Sources) != 2 || got.Sources[0].SourceID != "kb/a.md" || got.Sources[1].SourceID != "kb/b.md" {
		t.Fatalf("sources = %+v", got.Sources)
	}
	if got.Total != got.Sources[0].Chunks+got.Sources[1].Chunks || got.Total == 0 {
		t.Errorf("total = %d, sources = %+v", got.Total, got.Sources)
	}
}

func TestPrintSources(t *testing.T) {
	t.Parallel()
	var buf bytes.Buffer
	if err := printSources(&buf, []rag.SourceCount{{SourceID: "kb/a.md", Chunks: 3}}, 3); err != nil {
		t.Fatal(err)
	}
	out := buf.String()
	for _, want := range []string{"SOURCE", "kb/a.md", "TOTAL"} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}
}

func TestVersionCmd(t *testing.T) {
	t.Setenv("RAGINDEX_CONFIG", "")
	var out bytes.Buffer
	cmd := NewRootCmd()
	cmd.SetOut(&out)
	cmd.SetArgs([]string{"version"})
	if err := cmd.Execute(); err != nil {
		t.Fatalf("version: %v", err)
	}
	if !strings.HasPrefix(out.String(), "ragindex ") {
		t.Errorf("version output = %q", out.String())
	}
}
