package indexer

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/charmbracelet/log"

	"github.com/nickcecere/vaultidx/internal/config"
	"github.com/nickcecere/vaultidx/internal/corpus"
	"github.com/nickcecere/vaultidx/internal/embeddings"
)

// pendingEdit is a scheduled re-embed of one document.
type pendingEdit struct {
	timer *time.Timer
	gen   uint64
}

// OnModify reacts to a created or modified document. The stale record is
// removed right away; the document is re-embedded once edits to it have
// been quiet for the debounce delay.
func (e *Engine) OnModify(path string) {
	if e.cfg.Indexing.Strategy == config.StrategyNever {
		return
	}
	if ok, err := e.await(e.ctx); err != nil || !ok {
		return
	}
	path = corpus.Clean(path)
	if !e.allowed(e.ctx, path) {
		return
	}

	if err := e.RemoveDocument(e.ctx, path); err != nil {
		log.Debug("Failed to drop stale record", "path", path, "error", err)
		return
	}
	e.schedule(path)
}

// OnDelete reacts to a deleted or renamed-away document. A path without a
// record of its own is treated as a directory and everything below it is
// removed.
func (e *Engine) OnDelete(path string) {
	if e.cfg.Indexing.Strategy == config.StrategyNever {
		return
	}
	if ok, err := e.await(e.ctx); err != nil || !ok {
		return
	}
	path = corpus.Clean(path)

	if _, ok := e.currentIndex().GetByPath(path); ok {
		if err := e.RemoveDocument(e.ctx, path); err != nil {
			log.Debug("Failed to remove record", "path", path, "error", err)
		}
		return
	}
	e.cancelPending(path)
	e.removeTree(path)
}

// removeTree drops records and pending edits of every document below dir.
func (e *Engine) removeTree(dir string) {
	prefix := dir + "/"

	e.debounceMu.Lock()
	for p, pending := range e.pending {
		if strings.HasPrefix(p, prefix) {
			pending.timer.Stop()
			delete(e.pending, p)
		}
	}
	e.debounceMu.Unlock()

	removed := 0
	for p := range e.currentIndex().Paths() {
		if !strings.HasPrefix(p, prefix) {
			continue
		}
		unlock := e.lockPath(p)
		e.mu.RLock()
		if e.index.RemoveByPath(p) {
			removed++
		}
		e.mu.RUnlock()
		unlock()
	}

	if removed > 0 {
		e.dirty.Store(true)
		log.Debug("Removed records below directory", "dir", dir, "count", removed)
	}
}

// schedule (re)arms the debounce timer for path. Only the latest edit fires.
func (e *Engine) schedule(path string) {
	e.debounceMu.Lock()
	defer e.debounceMu.Unlock()

	if e.closed {
		return
	}
	if p, ok := e.pending[path]; ok {
		p.timer.Stop()
	}

	e.generation++
	gen := e.generation
	delay := e.cfg.Indexing.DebounceDelay
	if delay <= 0 {
		delay = config.DefaultDebounceDelay
	}

	e.pending[path] = &pendingEdit{
		gen:   gen,
		timer: time.AfterFunc(delay, func() { e.fire(path, gen) }),
	}
}

func (e *Engine) fire(path string, gen uint64) {
	e.debounceMu.Lock()
	p, ok := e.pending[path]
	if !ok || p.gen != gen || e.closed {
		e.debounceMu.Unlock()
		return
	}
	delete(e.pending, path)
	e.inflight.Add(1)
	e.debounceMu.Unlock()

	defer e.inflight.Done()

	err := e.IndexDocument(e.ctx, path)
	switch {
	case err == nil:
	case embeddings.IsRateLimited(err):
		e.notify(Notice{Kind: NoticeRateLimited, Message: rateLimitMessage})
	case errors.Is(err, context.Canceled):
	default:
		log.Warn("Failed to index edited document", "path", path, "error", err)
	}
}

// IndexDocument embeds a single document now. A document that no longer
// exists has its record removed instead.
func (e *Engine) IndexDocument(ctx context.Context, path string) error {
	ok, err := e.await(ctx)
	if err != nil || !ok {
		return err
	}
	path = corpus.Clean(path)

	doc, err := e.corpus.Stat(ctx, path)
	if errors.Is(err, corpus.ErrNotExist) {
		return e.RemoveDocument(ctx, path)
	}
	if err != nil {
		return err
	}

	if err := e.indexDocument(ctx, doc); err != nil {
		return err
	}
	e.dirty.Store(true)
	return nil
}

// RemoveDocument drops the record for path and any pending edit of it.
func (e *Engine) RemoveDocument(ctx context.Context, path string) error {
	ok, err := e.await(ctx)
	if err != nil || !ok {
		return err
	}
	path = corpus.Clean(path)
	e.cancelPending(path)

	unlock := e.lockPath(path)
	defer unlock()

	e.mu.RLock()
	removed := e.index.RemoveByPath(path)
	e.mu.RUnlock()

	if removed {
		e.dirty.Store(true)
		log.Debug("Removed record", "path", path)
	}
	return nil
}

func (e *Engine) cancelPending(path string) {
	e.debounceMu.Lock()
	defer e.debounceMu.Unlock()

	if p, ok := e.pending[path]; ok {
		p.timer.Stop()
		delete(e.pending, path)
	}
}

// stopPending drops every scheduled edit and refuses new ones.
func (e *Engine) stopPending() {
	e.debounceMu.Lock()
	defer e.debounceMu.Unlock()

	e.closed = true
	for path, p := range e.pending {
		p.timer.Stop()
		delete(e.pending, path)
	}
}
