// Package chunk turns extracted document text into an ordered set of
// size-bounded, overlapping chunks and derives the stable key each chunk is
// indexed under. Everything in this package is pure: no I/O, no shared state.
package chunk

import (
	"crypto/sha256"
	"encoding/hex"
	"strconv"
	"strings"
)

// keyDelimiter separates the sanitised source identifier from the chunk index.
const keyDelimiter = "#chunk_"

// maxSourceKeyLen bounds the sanitised source portion of a key. Longer source
// identifiers are truncated and suffixed with a digest of the full value so
// that keys stay unique.
const maxSourceKeyLen = 512

// pathSeparators maps path-separator characters to the safe replacement used
// in keys.
var pathSeparators = strings.NewReplacer("/", "_", "\\", "_")

// Chunk is a bounded-size contiguous span of a document's text. It only lives
// for the duration of one reprocessing run and is never persisted directly;
// see rag.Entry for the persisted projection.
type Chunk struct {
	// Index is the zero-based position of the chunk within its document.
	Index int

	// Content is the trimmed chunk text.
	Content string

	// SourceID is the logical path or URL of the source document.
	SourceID string

	// DisplayName is the human-readable document name (usually the file name).
	DisplayName string

	// PageNumber is the 1-based page the chunk was taken from, when known.
	PageNumber *int

	// TotalChunks is the number of chunks produced for the document.
	TotalChunks int

	// Vector is the embedding attached after the embedding stage. Nil before.
	Vector []float32
}

// Key returns the stable index key for this chunk.
func (c Chunk) Key() string {
	return Key(c.SourceID, c.Index)
}

// Key maps a source identifier and chunk index to the stable external key the
// chunk is indexed under, e.g. Key("docs/a.pdf", 3) == "docs_a.pdf#chunk_3".
func Key(sourceID string, index int) string {
	return sanitiseSource(sourceID) + keyDelimiter + strconv.Itoa(index)
}

// sanitiseSource replaces path separators and bounds the length of sourceID.
func sanitiseSource(sourceID string) string {
	safe := pathSeparators.Replace(sourceID)
	if len(safe) <= maxSourceKeyLen {
		return safe
	}
	sum := sha256.Sum256([]byte(sourceID))
	digest := hex.EncodeToString(sum[:8])
	limit := maxSourceKeyLen - len(digest) - 1
	cut := 0
	for i := range safe {
		if i > limit {
			break
		}
		cut = i
	}
	return safe[:cut] + "~" + digest
}
