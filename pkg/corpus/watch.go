package corpus

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"sort"
	"time"

	"github.com/fsnotify/fsnotify"
)

// DefaultDebounce is how long the watcher waits for writes to settle.
const DefaultDebounce = 500 * time.Millisecond

// Watcher reports corpus files that were created or written.
//
// Editors often write a file in several steps; events are collected until
// the directory has been quiet for the debounce interval, then the changed
// documents are handed to the callback in one batch.
type Watcher struct {
	dir      string
	debounce time.Duration
	logger   *log.Logger
	fsw      *fsnotify.Watcher
}

// WatchOption configures a Watcher.
type WatchOption func(*Watcher)

// WithDebounce sets the quiet interval.
func WithDebounce(d time.Duration) WatchOption {
	return func(w *Watcher) {
		if d > 0 {
			w.debounce = d
		}
	}
}

// WithWatchLogger sets the logger. Defaults to log.Default().
func WithWatchLogger(l *log.Logger) WatchOption {
	return func(w *Watcher) {
		if l != nil {
			w.logger = l
		}
	}
}

// NewWatcher starts watching dir. Call Close when done.
func NewWatcher(dir string, opts ...WatchOption) (*Watcher, error) {
	info, err := os.Stat(dir)
	if err != nil {
		return nil, fmt.Errorf("corpus: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("%w: %s", ErrNotDir, dir)
	}

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create watcher: %w", err)
	}
	if err := fsw.Add(dir); err != nil {
		fsw.Close()
		return nil, fmt.Errorf("failed to watch directory: %w", err)
	}

	w := &Watcher{
		dir:      dir,
		debounce: DefaultDebounce,
		logger:   log.Default(),
		fsw:      fsw,
	}
	for _, opt := range opts {
		opt(w)
	}
	return w, nil
}

// Run delivers batches of changed documents to fn until ctx is done. A
// file that cannot be read is logged and skipped. An error from fn is
// logged; watching continues.
func (w *Watcher) Run(ctx context.Context, fn func(context.Context, []Document) error) error {
	w.logger.Printf("[WATCH] 👀 watching %s", w.dir)

	pending := make(map[string]struct{})
	timer := time.NewTimer(w.debounce)
	if !timer.Stop() {
		<-timer.C
	}
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil

		case event, ok := <-w.fsw.Events:
			if !ok {
				return errors.New("watcher events channel closed")
			}
			if !IsDocument(event.Name) || !event.Has(fsnotify.Create|fsnotify.Write) {
				continue
			}
			pending[event.Name] = struct{}{}
			timer.Reset(w.debounce)

		case err, ok := <-w.fsw.Errors:
			if !ok {
				return errors.New("watcher errors channel closed")
			}
			w.logger.Printf("[WATCH] ⚠️ watcher error: %v", err)

		case <-timer.C:
			docs := w.flush(pending)
			pending = make(map[string]struct{})
			if len(docs) == 0 {
				continue
			}
			w.logger.Printf("[WATCH] %d document(s) changed", len(docs))
			if err := fn(ctx, docs); err != nil {
				w.logger.Printf("[WATCH] ⚠️ re-index failed: %v", err)
			}
		}
	}
}

func (w *Watcher) flush(pending map[string]struct{}) []Document {
	paths := make([]string, 0, len(pending))
	for p := range pending {
		paths = append(paths, p)
	}
	sort.Strings(paths)

	var docs []Document
	for _, p := range paths {
		doc, err := ReadFile(p)
		if err != nil {
			// Removed or renamed again before the debounce fired.
			w.logger.Printf("[WATCH] ⚠️ skipping %s: %v", p, err)
			continue
		}
		docs = append(docs, doc)
	}
	return docs
}

// Close stops watching.
func (w *Watcher) Close() error {
	return w.fsw.Close()
}
