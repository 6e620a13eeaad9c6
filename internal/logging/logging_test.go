package logging

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"strings"
	"testing"
)

func TestParseLevel(t *testing.T) {
	t.Parallel()
	cases := map[string]slog.Level{
		"debug":   slog.LevelDebug,
		"DEBUG":   slog.LevelDebug,
		"warn":    slog.LevelWarn,
		"warning": slog.LevelWarn,
		"error":   slog.LevelError,
		"info":    slog.LevelInfo,
		"":        slog.LevelInfo,
		"verbose": slog.LevelInfo,
	}
	for in, want := range cases {
		if got := parseLevel(in); got != want {
			t.Errorf("parseLevel(%q) = %v, want %v", in, got, want)
		}
	}
}

func TestNewWriter_JSON(t *testing.T) {
	t.Parallel()
	var buf bytes.Buffer
	log := NewWriter(&buf, "warn", "json")

	log.Info("dropped")
	log.Warn("kept", slog.String("source_id", "a.md"))

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 1 {
		t.Fatalf("expected 1 line, got %d: %q", len(lines), buf.String())
	}
	var rec map[string]any
	if err := json.Unmarshal([]byte(lines[0]), &rec); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if rec["msg"] != "kept" || rec["service"] != "ragindex" || rec["source_id"] != "a.md" {
		t.Errorf("record = %v", rec)
	}
}

func TestNewWriter_Text(t *testing.T) {
	t.Parallel()
	var buf bytes.Buffer
	NewWriter(&buf, "", "TEXT").Info("hello")
	if !strings.Contains(buf.String(), "msg=hello") {
		t.Errorf("expected text output, got %q", buf.String())
	}
}

func TestContextRoundTrip(t *testing.T) {
	t.Parallel()
	if FromContext(context.Background()) != slog.Default() {
		t.Error("empty context should yield slog.Default()")
	}

	var buf bytes.Buffer
	log := NewWriter(&buf, "info", "json")
	ctx := WithLogger(context.Background(), log)
	if FromContext(ctx) != log {
		t.Error("FromContext did not return the stored logger")
	}

	Component(ctx, "watcher").Info("tick")
	if !strings.Contains(buf.String(), `"component":"watcher"`) {
		t.Errorf("missing component attr: %s", buf.String())
	}
}
