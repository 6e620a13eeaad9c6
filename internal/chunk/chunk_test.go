package chunk

import (
	"strings"
	"testing"
)

func TestKey(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		sourceID string
		index    int
		want     string
	}{
		{"forward slashes", "docs/a.pdf", 3, "docs_a.pdf#chunk_3"},
		{"backslashes", `reports\2024\q1.pdf`, 0, "reports_2024_q1.pdf#chunk_0"},
		{"url", "https://store/container/x.pdf", 12, "https:__store_container_x.pdf#chunk_12"},
		{"plain name", "notes.txt", 7, "notes.txt#chunk_7"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if got := Key(tt.sourceID, tt.index); got != tt.want {
				t.Errorf("Key(%q, %d) = %q, want %q", tt.sourceID, tt.index, got, tt.want)
			}
		})
	}
}

func TestKey_DeterministicAndDistinct(t *testing.T) {
	t.Parallel()

	seen := make(map[string]int)
	for i := range 1000 {
		k := Key("docs/a.pdf", i)
		if again := Key("docs/a.pdf", i); again != k {
			t.Fatalf("Key not deterministic: %q != %q", k, again)
		}
		if prev, dup := seen[k]; dup {
			t.Fatalf("indices %d and %d share key %q", prev, i, k)
		}
		seen[k] = i
	}
}

func TestKey_LongSourceIsBounded(t *testing.T) {
	t.Parallel()

	base := strings.Repeat("très/long/chemin/", 60)
	a := Key(base+"a.pdf", 0)
	b := Key(base+"b.pdf", 0)

	if a == b {
		t.Fatal("long sources sharing a prefix must still produce distinct keys")
	}
	for _, k := range []string{a, b} {
		if len(k) > maxSourceKeyLen+len(keyDelimiter)+1 {
			t.Errorf("key length %d exceeds bound", len(k))
		}
		if !strings.HasSuffix(k, "#chunk_0") {
			t.Errorf("key %q lost its index suffix", k)
		}
		if strings.ContainsRune(k, '/') {
			t.Errorf("key %q still contains a path separator", k)
		}
		if !strings.Contains(k, "~") {
			t.Errorf("key %q missing digest marker", k)
		}
	}
}

func TestChunk_Key(t *testing.T) {
	t.Parallel()
	c := Chunk{Index: 4, SourceID: "a/b.txt"}
	if got := c.Key(); got != "a_b.txt#chunk_4" {
		t.Errorf("Chunk.Key() = %q", got)
	}
}
