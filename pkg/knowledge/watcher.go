package knowledge

import (
	"context"
	"io/fs"
	"log/slog"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// Watcher reconciles out-of-band edits: when a note file changes on disk
// outside the store (an editor, a sync client), the catalog and the vector
// index are refreshed. Events are debounced because editors commonly emit
// several writes per save.
type Watcher struct {
	store    *Store
	logger   *slog.Logger
	debounce time.Duration

	watcher *fsnotify.Watcher
	cancel  context.CancelFunc
	done    chan struct{}

	mu      sync.Mutex
	pending map[string]time.Time
}

// NewWatcher creates a watcher over the store's root directory tree.
func NewWatcher(store *Store, logger *slog.Logger) (*Watcher, error) {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	w := &Watcher{
		store:    store,
		logger:   logger.With("component", "knowledge_watcher"),
		debounce: 500 * time.Millisecond,
		watcher:  fw,
		done:     make(chan struct{}),
		pending:  map[string]time.Time{},
	}

	if err := w.addRecursive(store.rootDir); err != nil {
		fw.Close()
		return nil, err
	}
	return w, nil
}

func (w *Watcher) addRecursive(root string) error {
	return filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() {
			return nil
		}
		if name := d.Name(); path != root && strings.HasPrefix(name, ".") {
			return filepath.SkipDir
		}
		return w.watcher.Add(path)
	})
}

// Start runs the event loop until Stop or context cancellation.
func (w *Watcher) Start(ctx context.Context) {
	ctx, w.cancel = context.WithCancel(ctx)
	go w.run(ctx)
	w.logger.Info("Knowledge watcher started", "root", w.store.rootDir)
}

// Stop shuts down the event loop and closes the underlying watcher.
func (w *Watcher) Stop() {
	if w.cancel != nil {
		w.cancel()
	}
	<-w.done
	_ = w.watcher.Close()
	w.logger.Info("Knowledge watcher stopped")
}

func (w *Watcher) run(ctx context.Context) {
	defer close(w.done)

	ticker := time.NewTicker(w.debounce)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			w.handleEvent(event)
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.logger.Warn("Watcher error", "error", err)
		case now := <-ticker.C:
			w.flush(ctx, now)
		}
	}
}

func (w *Watcher) handleEvent(event fsnotify.Event) {
	rel, err := filepath.Rel(w.store.rootDir, event.Name)
	if err != nil || strings.HasPrefix(rel, ".") {
		return
	}

	// New subdirectories need their own watch.
	if event.Op.Has(fsnotify.Create) {
		if !strings.HasSuffix(event.Name, ".md") {
			_ = w.addRecursive(event.Name)
		}
	}

	if !strings.HasSuffix(event.Name, ".md") {
		return
	}

	w.mu.Lock()
	w.pending[event.Name] = time.Now()
	w.mu.Unlock()
}

// flush reconciles paths whose last event is older than the debounce window.
func (w *Watcher) flush(ctx context.Context, now time.Time) {
	w.mu.Lock()
	var ready []string
	for path, last := range w.pending {
		if now.Sub(last) >= w.debounce {
			ready = append(ready, path)
			delete(w.pending, path)
		}
	}
	w.mu.Unlock()

	for _, path := range ready {
		w.reconcile(ctx, path)
	}
}

func (w *Watcher) reconcile(ctx context.Context, path string) {
	note, err := w.store.readNoteFile(path)
	if err != nil {
		// Gone or unparsable: if we knew this file as a note, forget it.
		id := strings.TrimSuffix(filepath.Base(path), ".md")
		if _, getErr := w.store.Get(id); getErr == nil {
			if forgetErr := w.store.forget(id); forgetErr != nil {
				w.logger.Warn("Failed to drop removed note", "note_id", id, "error", forgetErr)
			} else {
				w.logger.Info("Note removed externally", "note_id", id)
			}
		}
		return
	}

	if err := w.store.reload(ctx, path); err != nil {
		w.logger.Warn("Failed to reload externally edited note", "path", path, "error", err)
		return
	}
	w.logger.Info("Note reloaded after external edit", "note_id", note.ID)
}
