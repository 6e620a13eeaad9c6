// Package extract reads text out of source files. Plain text and markdown are
// read whole; PDFs are read page by page so chunks can carry page numbers.
package extract

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"unicode/utf8"

	"github.com/ledongthuc/pdf"

	"github.com/54b3r/ragindex-go/internal/chunk"
)

// ErrUnsupported is returned for file types no extractor handles.
var ErrUnsupported = errors.New("extract: unsupported file type")

// Content is the text extracted from one file.
type Content struct {
	// Text is the whole document text. For paged formats it is the pages
	// joined by blank lines.
	Text string
	// Pages is set for paged formats, one element per page with text.
	Pages []chunk.Page
}

// Empty reports whether no non-whitespace text was extracted.
func (c Content) Empty() bool {
	return strings.TrimSpace(c.Text) == ""
}

// File extracts the text of the file at path.
func File(path string, log *slog.Logger) (Content, error) {
	if !supported(path) {
		return Content{}, fmt.Errorf("%w: %s", ErrUnsupported, filepath.Ext(path))
	}
	f, err := os.Open(path)
	if err != nil {
		return Content{}, fmt.Errorf("extract: open %s: %w", path, err)
	}
	defer f.Close()

	stat, err := f.Stat()
	if err != nil {
		return Content{}, fmt.Errorf("extract: stat %s: %w", path, err)
	}
	return Reader(filepath.Base(path), f, stat.Size(), log)
}

// Bytes extracts the text of an in-memory file named name.
func Bytes(name string, data []byte, log *slog.Logger) (Content, error) {
	return Reader(name, bytes.NewReader(data), int64(len(data)), log)
}

// Reader extracts the text of a file named name from r. The extension of
// name selects the extractor.
func Reader(name string, r io.ReaderAt, size int64, log *slog.Logger) (Content, error) {
	if log == nil {
		log = slog.Default()
	}
	switch ext := strings.ToLower(filepath.Ext(name)); ext {
	case ".pdf":
		return readPDF(name, r, size, log)
	case ".txt", ".md", ".markdown":
		return readText(name, r, size)
	default:
		return Content{}, fmt.Errorf("%w: %q", ErrUnsupported, ext)
	}
}

func supported(name string) bool {
	switch strings.ToLower(filepath.Ext(name)) {
	case ".pdf", ".txt", ".md", ".markdown":
		return true
	}
	return false
}

func readText(name string, r io.ReaderAt, size int64) (Content, error) {
	data, err := io.ReadAll(io.NewSectionReader(r, 0, size))
	if err != nil {
		return Content{}, fmt.Errorf("extract: read %s: %w", name, err)
	}
	if !utf8.Valid(data) {
		data = bytes.ToValidUTF8(data, []byte("�"))
	}
	return Content{Text: string(data)}, nil
}

// readPDF extracts plain text page by page. A page that fails to decode is
// logged and skipped; the document fails only if the file itself is unreadable.
func readPDF(name string, r io.ReaderAt, size int64, log *slog.Logger) (c Content, err error) {
	// The pdf reader panics on some malformed inputs.
	defer func() {
		if p := recover(); p != nil {
			c, err = Content{}, fmt.Errorf("extract: parse %s: %v", name, p)
		}
	}()

	reader, err := pdf.NewReader(r, size)
	if err != nil {
		return Content{}, fmt.Errorf("extract: parse %s: %w", name, err)
	}

	numPages := reader.NumPage()
	texts := make([]string, 0, numPages)
	for i := 1; i <= numPages; i++ {
		page := reader.Page(i)
		if page.V.IsNull() {
			continue
		}
		text, perr := page.GetPlainText(nil)
		if perr != nil {
			log.Warn("extract: page skipped",
				slog.String("file", name),
				slog.Int("page", i),
				slog.String("error", perr.Error()),
			)
			continue
		}
		if strings.TrimSpace(text) == "" {
			continue
		}
		c.Pages = append(c.Pages, chunk.Page{Number: i, Text: text})
		texts = append(texts, text)
	}
	c.Text = strings.Join(texts, "\n\n")

	if c.Empty() {
		log.Warn("extract: no text extracted; the PDF may be image-based or encrypted",
			slog.String("file", name),
			slog.Int("pages", numPages),
		)
	}
	return c, nil
}
