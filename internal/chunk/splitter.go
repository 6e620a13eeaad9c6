package chunk

import (
	"errors"
	"fmt"
	"strings"
	"unicode"
	"unicode/utf8"
)

// ErrInvalidConfig is the sentinel wrapped by every ConfigError.
var ErrInvalidConfig = errors.New("chunk: invalid splitter configuration")

// ConfigError reports an invalid size/overlap combination. It is returned by
// NewSplitter and never at split time.
type ConfigError struct {
	// TargetSize is the rejected target chunk size.
	TargetSize int
	// Overlap is the rejected overlap.
	Overlap int
	// Reason describes which constraint was violated.
	Reason string
}

// Error implements error.
func (e *ConfigError) Error() string {
	return fmt.Sprintf("chunk: invalid splitter configuration (size=%d, overlap=%d): %s",
		e.TargetSize, e.Overlap, e.Reason)
}

// Unwrap returns ErrInvalidConfig so callers can use errors.Is.
func (e *ConfigError) Unwrap() error { return ErrInvalidConfig }

// Pattern is one boundary strategy. A non-empty Sep splits on that separator;
// the zero Pattern slices the text blindly into fixed-size pieces.
type Pattern struct {
	// Sep is the literal separator. Empty means character-level slicing.
	Sep string
}

// IsSlice reports whether p is the character-level slicing strategy.
func (p Pattern) IsSlice() bool { return p.Sep == "" }

// DefaultPatterns is the boundary list used when no WithPatterns option is
// given, coarsest first.
var DefaultPatterns = []Pattern{
	{Sep: "\n\n"}, // paragraphs
	{Sep: "\n"},   // lines
	{Sep: ". "},
	{Sep: "! "},
	{Sep: "? "},
	{Sep: "; "},
	{Sep: ", "},
	{Sep: " "},
	{}, // character slicing
}

// Page is a unit of extracted text with a known 1-based page number.
type Page struct {
	// Number is the 1-based page number.
	Number int
	// Text is the extracted page text.
	Text string
}

// Option customises a Splitter.
type Option func(*Splitter)

// WithPatterns replaces the default boundary pattern list.
func WithPatterns(patterns ...Pattern) Option {
	return func(s *Splitter) {
		s.patterns = append([]Pattern(nil), patterns...)
	}
}

// Splitter is a recursive, boundary-aware text splitter. A Splitter is
// immutable after construction and safe for concurrent use.
type Splitter struct {
	// size is the target chunk size in characters.
	size int
	// overlap is the number of trailing characters carried into the next chunk.
	overlap int
	// patterns is the ordered boundary list, coarsest first.
	patterns []Pattern
}

// NewSplitter constructs a Splitter. It returns a *ConfigError when size is
// not positive, overlap is negative, or overlap is not strictly less than size.
func NewSplitter(size, overlap int, opts ...Option) (*Splitter, error) {
	switch {
	case size <= 0:
		return nil, &ConfigError{TargetSize: size, Overlap: overlap, Reason: "size must be positive"}
	case overlap < 0:
		return nil, &ConfigError{TargetSize: size, Overlap: overlap, Reason: "overlap must not be negative"}
	case overlap >= size:
		return nil, &ConfigError{TargetSize: size, Overlap: overlap, Reason: "overlap must be less than size"}
	}

	s := &Splitter{size: size, overlap: overlap, patterns: DefaultPatterns}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Size returns the configured target chunk size.
func (s *Splitter) Size() int { return s.size }

// Overlap returns the configured overlap.
func (s *Splitter) Overlap() int { return s.overlap }

// Split splits text into ordered chunks for the given source. Empty or
// whitespace-only text yields an empty slice.
func (s *Splitter) Split(text, sourceID, displayName string) []Chunk {
	texts := s.chunkTexts(text)
	chunks := make([]Chunk, len(texts))
	for i, t := range texts {
		chunks[i] = Chunk{
			Index:       i,
			Content:     t,
			SourceID:    sourceID,
			DisplayName: displayName,
			TotalChunks: len(texts),
		}
	}
	return chunks
}

// SplitPages splits every page independently and numbers the resulting chunks
// as one contiguous range across the whole document. Chunks never span pages
// and carry the page number they came from.
func (s *Splitter) SplitPages(pages []Page, sourceID, displayName string) []Chunk {
	var chunks []Chunk
	for _, p := range pages {
		page := p.Number
		for _, t := range s.chunkTexts(p.Text) {
			chunks = append(chunks, Chunk{
				Content:     t,
				SourceID:    sourceID,
				DisplayName: displayName,
				PageNumber:  &page,
			})
		}
	}
	for i := range chunks {
		chunks[i].Index = i
		chunks[i].TotalChunks = len(chunks)
	}
	return chunks
}

// chunkTexts runs the split and merge passes and returns the trimmed,
// non-empty chunk texts in order.
func (s *Splitter) chunkTexts(text string) []string {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}

	merged := s.merge(s.split(text, s.patterns))

	out := make([]string, 0, len(merged))
	for _, m := range merged {
		if t := strings.TrimSpace(m); t != "" {
			out = append(out, t)
		}
	}
	return out
}

// split breaks text into atomic segments using patterns. Each recursive call
// receives a strictly shorter pattern list, so recursion depth is bounded by
// len(patterns).
func (s *Splitter) split(text string, patterns []Pattern) []string {
	if len(patterns) == 0 || patterns[0].IsSlice() {
		return s.slice(text)
	}

	p, rest := patterns[0], patterns[1:]
	if !strings.Contains(text, p.Sep) {
		return s.split(text, rest)
	}

	// Non-space characters of the separator (the "." of ". ") stay attached
	// to the preceding piece so no content is lost.
	keep := strings.TrimRightFunc(p.Sep, unicode.IsSpace)
	parts := strings.Split(text, p.Sep)

	var segments []string
	for i, part := range parts {
		if i < len(parts)-1 {
			part += keep
		}
		if runeLen(part) <= s.size {
			segments = append(segments, part)
			continue
		}
		segments = append(segments, s.split(part, rest)...)
	}
	return segments
}

// slice cuts text into pieces of exactly s.size characters (the last piece
// may be shorter). This is the last-resort strategy and may break words.
func (s *Splitter) slice(text string) []string {
	runes := []rune(text)
	pieces := make([]string, 0, len(runes)/s.size+1)
	for start := 0; start < len(runes); start += s.size {
		end := min(start+s.size, len(runes))
		pieces = append(pieces, string(runes[start:end]))
	}
	return pieces
}

// merge greedily packs segments into chunks joined by single spaces. When the
// next segment would push the buffer past s.size, the buffer is emitted and the
// next one is seeded with the trailing s.overlap characters of it. A single
// segment larger than s.size is emitted as-is.
func (s *Splitter) merge(segments []string) []string {
	var (
		merged []string
		buf    strings.Builder
		bufLen int
	)

	for _, seg := range segments {
		if strings.TrimSpace(seg) == "" {
			continue
		}
		segLen := runeLen(seg)

		if bufLen == 0 {
			buf.WriteString(seg)
			bufLen = segLen
			continue
		}

		if bufLen+1+segLen <= s.size {
			buf.WriteByte(' ')
			buf.WriteString(seg)
			bufLen += 1 + segLen
			continue
		}

		flushed := buf.String()
		merged = append(merged, flushed)

		buf.Reset()
		bufLen = 0
		if carry := tailRunes(flushed, s.overlap); carry != "" {
			buf.WriteString(carry)
			buf.WriteByte(' ')
			bufLen = runeLen(carry) + 1
		}
		buf.WriteString(seg)
		bufLen += segLen
	}

	if bufLen > 0 {
		merged = append(merged, buf.String())
	}
	return merged
}

// runeLen returns the length of s in characters.
func runeLen(s string) int { return utf8.RuneCountInString(s) }

// tailRunes returns the last n characters of s.
func tailRunes(s string, n int) string {
	if n <= 0 {
		return ""
	}
	total := runeLen(s)
	if total <= n {
		return s
	}
	skip := total - n
	for i := range s {
		if skip == 0 {
			return s[i:]
		}
		skip--
	}
	return ""
}
