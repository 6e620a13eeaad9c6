package audit

import (
	"bytes"
	"log/slog"
	"os"
	"strings"
	"testing"
)

func TestSanitiseKey_Secret(t *testing.T) {
	t.Parallel()
	if got := SanitiseKey("OPENAI_API_KEY", "sk-abc123"); got != "set" {
		t.Errorf("expected 'set', got %q", got)
	}
	if got := SanitiseKey("OPENAI_API_KEY", ""); got != "unset" {
		t.Errorf("expected 'unset', got %q", got)
	}
}

func TestSanitiseKey_NonSecret(t *testing.T) {
	t.Parallel()
	if got := SanitiseKey("INDEX_BACKEND", "qdrant"); got != "qdrant" {
		t.Errorf("expected 'qdrant', got %q", got)
	}
	if got := SanitiseKey("INDEX_BACKEND", ""); got != "unset" {
		t.Errorf("expected 'unset', got %q", got)
	}
}

func TestPresence(t *testing.T) {
	t.Parallel()
	if got := presence("something"); got != "set" {
		t.Errorf("expected 'set', got %q", got)
	}
	if got := presence(""); got != "unset" {
		t.Errorf("expected 'unset', got %q", got)
	}
}

func TestSanitiseConfigPath(t *testing.T) {
	t.Parallel()
	if got := sanitiseConfigPath(""); got != "none" {
		t.Errorf("expected 'none', got %q", got)
	}
	if got := sanitiseConfigPath("/tmp/config.yaml"); got != "/tmp/config.yaml" {
		t.Errorf("expected '/tmp/config.yaml', got %q", got)
	}
	home, err := os.UserHomeDir()
	if err == nil {
		p := home + "/.ragindex/config.yaml"
		if got := sanitiseConfigPath(p); got != "~/.ragindex/config.yaml" {
			t.Errorf("expected '~/.ragindex/config.yaml', got %q", got)
		}
	}
}

func TestAuditKeys_SecretsAgree(t *testing.T) {
	t.Parallel()
	for _, e := range auditKeys {
		if e.secret != secretEnvKeys[e.key] {
			t.Errorf("%s: audit secret=%v, secretEnvKeys=%v", e.key, e.secret, secretEnvKeys[e.key])
		}
	}
}

func TestLogCommandStart_RedactsSecrets(t *testing.T) {
	t.Setenv("QDRANT_API_KEY", "super-secret-value")
	t.Setenv("INDEX_BACKEND", "qdrant")

	var buf bytes.Buffer
	log := slog.New(slog.NewJSONHandler(&buf, nil))
	LogCommandStart(log, "ingest", "")

	out := buf.String()
	if strings.Contains(out, "super-secret-value") {
		t.Fatalf("secret leaked into audit log: %s", out)
	}
	if !strings.Contains(out, `"QDRANT_API_KEY":"set"`) || !strings.Contains(out, `"INDEX_BACKEND":"qdrant"`) {
		t.Errorf("unexpected audit log: %s", out)
	}
}
