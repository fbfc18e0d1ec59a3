package manifest

import (
	"context"
	"fmt"
	"log"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

const defaultDebounce = 500 * time.Millisecond

// Watcher reloads a manifest file when it changes and reports versions newer
// than the last one delivered.
type Watcher struct {
	path     string
	onChange func(context.Context, Manifest) error
	logger   *log.Logger
	debounce time.Duration

	mu          sync.Mutex
	timer       *time.Timer
	lastVersion int
}

// WatcherOption customizes a Watcher.
type WatcherOption func(*Watcher)

// WithDebounce overrides the quiet period before a reload.
func WithDebounce(d time.Duration) WatcherOption {
	return func(w *Watcher) {
		if d > 0 {
			w.debounce = d
		}
	}
}

// WithLogger sets the watcher logger.
func WithLogger(logger *log.Logger) WatcherOption {
	return func(w *Watcher) {
		if logger != nil {
			w.logger = logger
		}
	}
}

// NewWatcher builds a watcher for path. currentVersion is the version already
// installed; only greater versions reach onChange.
func NewWatcher(path string, currentVersion int, onChange func(context.Context, Manifest) error, opts ...WatcherOption) *Watcher {
	w := &Watcher{
		path:        filepath.Clean(path),
		onChange:    onChange,
		logger:      log.Default(),
		debounce:    defaultDebounce,
		lastVersion: currentVersion,
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Run watches the manifest's directory until ctx is canceled. Editors often
// replace files by rename, so the directory is watched rather than the file.
func (w *Watcher) Run(ctx context.Context) error {
	if w.onChange == nil {
		return fmt.Errorf("manifest change handler is required")
	}
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create manifest watcher: %w", err)
	}
	defer fsw.Close()
	if err := fsw.Add(filepath.Dir(w.path)); err != nil {
		return fmt.Errorf("watch %s: %w", filepath.Dir(w.path), err)
	}
	defer w.stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-fsw.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != w.path {
				continue
			}
			if event.Has(fsnotify.Write) || event.Has(fsnotify.Create) || event.Has(fsnotify.Rename) {
				w.schedule(ctx)
			}
		case err, ok := <-fsw.Errors:
			if !ok {
				return nil
			}
			w.logger.Printf("manifest watcher error: %v", err)
		}
	}
}

func (w *Watcher) schedule(ctx context.Context) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.timer != nil {
		w.timer.Stop()
	}
	w.timer = time.AfterFunc(w.debounce, func() {
		if ctx.Err() != nil {
			return
		}
		w.reload(ctx)
	})
}

func (w *Watcher) reload(ctx context.Context) {
	m, err := Load(w.path)
	if err != nil {
		w.logger.Printf("manifest reload skipped path=%s err=%v", w.path, err)
		return
	}
	w.mu.Lock()
	if m.Version <= w.lastVersion {
		w.mu.Unlock()
		return
	}
	w.mu.Unlock()

	if err := w.onChange(ctx, m); err != nil {
		w.logger.Printf("manifest version=%d rejected: %v", m.Version, err)
		return
	}
	w.mu.Lock()
	if m.Version > w.lastVersion {
		w.lastVersion = m.Version
	}
	w.mu.Unlock()
}

func (w *Watcher) stop() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.timer != nil {
		w.timer.Stop()
		w.timer = nil
	}
}
