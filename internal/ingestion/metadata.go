package ingestion

import (
	"net/url"
	"path"
	"strings"
)

// supportedExtensions lists the file extensions the extractors handle.
var supportedExtensions = map[string]bool{
	".pdf":      true,
	".txt":      true,
	".md":       true,
	".markdown": true,
}

// DisplayNameFor derives a human-readable document name from a source
// identifier. For URLs the last path segment is used and the query string is
// ignored; for local paths either separator is accepted. If nothing usable
// remains the identifier itself is returned.
//
//	https://host/container/docs/a.pdf?sv=x  ->  a.pdf
//	docs/guides/setup.md                    ->  setup.md
//	C:\reports\q3.pdf                       ->  q3.pdf
func DisplayNameFor(sourceID string) string {
	p := sourceID
	if parsed, err := url.Parse(sourceID); err == nil && parsed.Scheme != "" && parsed.Host != "" {
		p = parsed.Path
		if unescaped, err := url.PathUnescape(p); err == nil {
			p = unescaped
		}
	}

	segments := trimSegments(strings.ReplaceAll(p, "\\", "/"))
	if len(segments) == 0 {
		return sourceID
	}
	return segments[len(segments)-1]
}

// Supported reports whether name has an extension the extractors handle.
// The comparison is case-insensitive.
func Supported(name string) bool {
	return supportedExtensions[strings.ToLower(path.Ext(DisplayNameFor(name)))]
}

// trimSegments splits a slash-separated path into non-empty segments.
func trimSegments(p string) []string {
	parts := strings.Split(p, "/")
	out := make([]string, 0, len(parts))
	for _, s := range parts {
		if s != "" {
			out = append(out, s)
		}
	}
	return out
}
