// Package watcher forwards file system events under a corpus root to an
// edit handler.
package watcher

import (
	"context"
	"os"
	"path/filepath"

	"github.com/charmbracelet/log"
	"github.com/fsnotify/fsnotify"
)

// Handler receives document edits as corpus-relative slash paths.
type Handler interface {
	OnModify(path string)
	OnDelete(path string)
}

// Corpus resolves event paths and decides which ones are watched.
type Corpus interface {
	Root() string
	Rel(absPath string) (string, error)
	Ignored(relPath string, isDir bool) bool
}

// Event names passed to the event callback.
const (
	EventModify = "modify"
	EventDelete = "delete"
)

// Watcher watches a corpus directory tree.
type Watcher struct {
	corpus  Corpus
	handler Handler

	// callback for status updates
	onEvent func(event string, path string)
}

// Option configures the watcher.
type Option func(*Watcher)

// WithEventCallback sets a callback for forwarded events.
func WithEventCallback(fn func(event string, path string)) Option {
	return func(w *Watcher) {
		w.onEvent = fn
	}
}

// New creates a new file watcher.
func New(c Corpus, h Handler, opts ...Option) *Watcher {
	w := &Watcher{
		corpus:  c,
		handler: h,
		onEvent: func(string, string) {}, // noop default
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Start begins watching for file changes. Blocks until context is
// cancelled. ready, if non-nil, is closed once the initial directories are
// being watched.
func (w *Watcher) Start(ctx context.Context, ready chan<- struct{}) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer watcher.Close()

	if err := w.addDirectories(watcher, w.corpus.Root()); err != nil {
		return err
	}

	log.Info("Watching for file changes", "root", w.corpus.Root())
	if ready != nil {
		close(ready)
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			w.handleEvent(event, watcher)

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			log.Error("Watcher error", "error", err)
		}
	}
}

// addDirectories recursively adds directories below dir to the watcher.
func (w *Watcher) addDirectories(watcher *fsnotify.Watcher, dir string) error {
	return filepath.WalkDir(dir, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return nil // Skip errors
		}
		if !d.IsDir() {
			return nil
		}

		if rel, err := w.corpus.Rel(path); err == nil && rel != "." && w.corpus.Ignored(rel, true) {
			return filepath.SkipDir
		}

		if err := watcher.Add(path); err != nil {
			log.Debug("Failed to watch directory", "path", path, "error", err)
		}
		return nil
	})
}

// handleEvent processes a single file system event.
func (w *Watcher) handleEvent(event fsnotify.Event, watcher *fsnotify.Watcher) {
	relPath, err := w.corpus.Rel(event.Name)
	if err != nil || relPath == "." {
		return
	}

	info, statErr := os.Stat(event.Name)
	isDir := statErr == nil && info.IsDir()

	if isDir {
		// New directories are watched along with anything created inside
		// them before the watch was in place.
		if event.Has(fsnotify.Create) && !w.corpus.Ignored(relPath, true) {
			if err := w.addDirectories(watcher, event.Name); err != nil {
				log.Debug("Failed to watch new directory", "path", relPath, "error", err)
			}
			w.modifyTree(event.Name)
		}
		return
	}

	if w.corpus.Ignored(relPath, false) {
		return
	}

	switch {
	case event.Has(fsnotify.Remove) || event.Has(fsnotify.Rename):
		w.handler.OnDelete(relPath)
		w.onEvent(EventDelete, relPath)
	case event.Has(fsnotify.Create) || event.Has(fsnotify.Write):
		w.handler.OnModify(relPath)
		w.onEvent(EventModify, relPath)
	}
}

// modifyTree reports every file below dir as modified.
func (w *Watcher) modifyTree(dir string) {
	_ = filepath.WalkDir(dir, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		rel, err := w.corpus.Rel(path)
		if err != nil {
			return nil
		}
		if d.IsDir() {
			if path != dir && w.corpus.Ignored(rel, true) {
				return filepath.SkipDir
			}
			return nil
		}
		if !w.corpus.Ignored(rel, false) {
			w.handler.OnModify(rel)
			w.onEvent(EventModify, rel)
		}
		return nil
	})
}
