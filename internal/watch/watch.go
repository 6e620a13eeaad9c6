// Package watch keeps the index in step with a directory tree. It watches
// the tree with fsnotify, coalesces bursts of events per file, and hands each
// settled change to a Sink: existing files are reprocessed and removed files
// are purged.
package watch

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// DefaultDebounce is how long a file must be quiet before it is handed off.
const DefaultDebounce = 500 * time.Millisecond

// Change is one settled file change.
type Change struct {
	// Path is the absolute file path.
	Path string
	// SourceID is Path relative to the watched root with forward slashes,
	// prefixed by Config.SourcePrefix.
	SourceID string
	// Removed is set when the file no longer exists.
	Removed bool
}

// Sink receives settled changes in path order.
type Sink func(ctx context.Context, changes []Change)

// Config configures a Watcher.
type Config struct {
	// Root is the directory tree to watch.
	Root string
	// SourcePrefix is prepended to every SourceID, e.g. "docs/".
	SourcePrefix string
	// Debounce defaults to DefaultDebounce.
	Debounce time.Duration
	// Match selects the files of interest. Nil matches every file.
	Match func(name string) bool
	// Logger defaults to slog.Default().
	Logger *slog.Logger
}

// Watcher watches Root and feeds a Sink.
type Watcher struct {
	cfg     Config
	root    string
	sink    Sink
	watcher *fsnotify.Watcher

	mu sync.Mutex
	// pending maps path to the time of its last event.
	pending map[string]time.Time
}

// New creates a Watcher. Call Run to start it.
func New(cfg Config, sink Sink) (*Watcher, error) {
	if sink == nil {
		return nil, errors.New("watch: sink must not be nil")
	}
	root, err := filepath.Abs(cfg.Root)
	if err != nil {
		return nil, fmt.Errorf("watch: resolve %s: %w", cfg.Root, err)
	}
	info, err := os.Stat(root)
	if err != nil {
		return nil, fmt.Errorf("watch: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("watch: %s is not a directory", root)
	}
	if cfg.Debounce <= 0 {
		cfg.Debounce = DefaultDebounce
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("watch: create watcher: %w", err)
	}
	return &Watcher{
		cfg:     cfg,
		root:    root,
		sink:    sink,
		watcher: fw,
		pending: make(map[string]time.Time),
	}, nil
}

// Scan hands every matching file under Root to the sink once.
func (w *Watcher) Scan(ctx context.Context) error {
	var changes []Change
	err := filepath.WalkDir(w.root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			w.cfg.Logger.Warn("watch: skipping unreadable path", slog.String("path", path), slog.String("error", err.Error()))
			return nil
		}
		if d.IsDir() {
			if path != w.root && hidden(d.Name()) {
				return filepath.SkipDir
			}
			return nil
		}
		if w.matches(path) {
			changes = append(changes, w.change(path, false))
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("watch: scan %s: %w", w.root, err)
	}
	if len(changes) > 0 {
		w.sink(ctx, changes)
	}
	return nil
}

// Run watches until ctx is done, then closes the underlying watcher.
func (w *Watcher) Run(ctx context.Context) error {
	defer w.watcher.Close()

	if err := w.addTree(w.root); err != nil {
		return err
	}
	w.cfg.Logger.Info("watch: watching", slog.String("root", w.root))

	ticker := time.NewTicker(w.cfg.Debounce / 2)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil

		case event, ok := <-w.watcher.Events:
			if !ok {
				return nil
			}
			w.handleEvent(event)

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return nil
			}
			w.cfg.Logger.Warn("watch: watcher error", slog.String("error", err.Error()))

		case now := <-ticker.C:
			w.flush(ctx, now)
		}
	}
}

// addTree watches dir and every non-hidden directory below it.
func (w *Watcher) addTree(dir string) error {
	return filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if !d.IsDir() {
			return nil
		}
		if path != w.root && hidden(d.Name()) {
			return filepath.SkipDir
		}
		if err := w.watcher.Add(path); err != nil {
			w.cfg.Logger.Warn("watch: cannot watch directory", slog.String("path", path), slog.String("error", err.Error()))
		}
		return nil
	})
}

// handleEvent records a relevant event in the pending set.
func (w *Watcher) handleEvent(event fsnotify.Event) {
	if event.Has(fsnotify.Create) {
		if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
			if !hidden(filepath.Base(event.Name)) {
				_ = w.addTree(event.Name)
				w.enqueueTree(event.Name)
			}
			return
		}
	}
	if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) &&
		!event.Has(fsnotify.Remove) && !event.Has(fsnotify.Rename) {
		return
	}
	if !w.matches(event.Name) {
		return
	}
	w.mu.Lock()
	w.pending[event.Name] = time.Now()
	w.mu.Unlock()
}

// enqueueTree marks every matching file in a newly created directory, since
// files written before the watch was added raise no events.
func (w *Watcher) enqueueTree(dir string) {
	now := time.Now()
	_ = filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err == nil && !d.IsDir() && w.matches(path) {
			w.mu.Lock()
			w.pending[path] = now
			w.mu.Unlock()
		}
		return nil
	})
}

// flush hands every path quiet for at least Debounce to the sink.
func (w *Watcher) flush(ctx context.Context, now time.Time) {
	w.mu.Lock()
	var ready []string
	for path, last := range w.pending {
		if now.Sub(last) >= w.cfg.Debounce {
			ready = append(ready, path)
			delete(w.pending, path)
		}
	}
	w.mu.Unlock()
	if len(ready) == 0 {
		return
	}

	sort.Strings(ready)
	changes := make([]Change, 0, len(ready))
	for _, path := range ready {
		_, err := os.Stat(path)
		changes = append(changes, w.change(path, errors.Is(err, fs.ErrNotExist)))
	}
	w.cfg.Logger.Debug("watch: changes settled", slog.Int("files", len(changes)))
	w.sink(ctx, changes)
}

func (w *Watcher) change(path string, removed bool) Change {
	rel, err := filepath.Rel(w.root, path)
	if err != nil {
		rel = filepath.Base(path)
	}
	return Change{Path: path, SourceID: w.cfg.SourcePrefix + filepath.ToSlash(rel), Removed: removed}
}

func (w *Watcher) matches(path string) bool {
	name := filepath.Base(path)
	if hidden(name) {
		return false
	}
	return w.cfg.Match == nil || w.cfg.Match(name)
}

// hidden reports dot-files and editor swap files.
func hidden(name string) bool {
	return strings.HasPrefix(name, ".") || strings.HasSuffix(name, "~")
}
