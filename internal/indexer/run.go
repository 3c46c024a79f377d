package indexer

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/log"

	"github.com/nickcecere/vaultidx/internal/config"
	"github.com/nickcecere/vaultidx/internal/corpus"
	"github.com/nickcecere/vaultidx/internal/embeddings"
	"github.com/nickcecere/vaultidx/internal/store"
)

// run is the state of one bulk indexing invocation.
type run struct {
	candidates []corpus.Document
	attempted  int
	processed  int
	removed    int
	errors     []string
	halted     bool
	cancelled  bool
	start      time.Time
}

func (r *run) progress(current string, paused bool) Progress {
	return Progress{
		Indexed: r.attempted,
		Total:   len(r.candidates),
		Errors:  len(r.errors),
		Paused:  paused,
		Current: current,
	}
}

// IndexAll indexes every document modified after the newest indexed one, or
// every document when overwrite is set or the schema guard rebuilt the store.
// It returns the number of documents attempted; 0 means the index was up to
// date or the engine is disabled (see Disabled).
func (e *Engine) IndexAll(ctx context.Context, overwrite bool) (int, error) {
	ok, err := e.await(ctx)
	if err != nil {
		return 0, err
	}
	if !ok {
		e.notify(Notice{Kind: NoticeUnavailable, Message: "Indexing unavailable"})
		return 0, nil
	}
	if !e.running.CompareAndSwap(false, true) {
		return 0, ErrRunInProgress
	}
	defer e.running.Store(false)

	e.paused.Store(false)
	e.cancelled.Store(false)

	r := &run{start: time.Now()}

	guard, err := e.ensureSchema(ctx)
	if err != nil {
		e.notify(Notice{Kind: NoticeProviderError, Message: err.Error()})
		return 0, err
	}
	r.removed = guard.discarded

	forced := e.forceFull.Swap(false)
	full := overwrite || guard.rebuilt || forced

	r.candidates, err = e.scan(ctx, full)
	if err != nil {
		return 0, err
	}

	if len(r.candidates) == 0 {
		if r.removed > 0 {
			if err := e.persist(); err != nil {
				e.notify(Notice{Kind: NoticeSaveFailed, Message: fmt.Sprintf("Failed to save index: %v", err)})
			}
		}
		e.notify(Notice{Kind: NoticeUpToDate, Message: "Index is already up to date"})
		return 0, nil
	}

	log.Info("Indexing documents", "count", len(r.candidates), "full", full)
	e.embedAll(ctx, r)
	e.finalize(ctx, r)

	if ctx.Err() != nil {
		return r.attempted, ctx.Err()
	}
	return r.attempted, nil
}

// scan selects candidate documents.
func (e *Engine) scan(ctx context.Context, full bool) ([]corpus.Document, error) {
	docs, err := e.corpus.ListDocuments(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list documents: %w", err)
	}

	watermark, hasWatermark := e.currentIndex().MaxMTime()

	var candidates []corpus.Document
	for _, doc := range docs {
		if !full && hasWatermark && !doc.MTime.After(watermark) {
			continue
		}
		if !e.allowed(ctx, doc.Path) {
			continue
		}
		candidates = append(candidates, doc)
	}

	log.Debug("Scanned corpus", "documents", len(docs), "candidates", len(candidates), "watermark", watermark)
	return candidates, nil
}

// embedAll is the embedding phase of a run.
func (e *Engine) embedAll(ctx context.Context, r *run) {
	for _, doc := range r.candidates {
		if !e.waitWhilePaused(ctx, r) {
			r.cancelled = true
			break
		}
		if e.cancelled.Load() || ctx.Err() != nil {
			r.cancelled = true
			break
		}

		err := e.indexDocument(ctx, doc)
		r.attempted++

		switch {
		case err == nil:
			r.processed++
		case embeddings.IsRateLimited(err):
			r.halted = true
			r.errors = append(r.errors, fmt.Sprintf("%s: %v", doc.Path, err))
			e.notify(Notice{Kind: NoticeRateLimited, Message: rateLimitMessage, Count: r.processed})
		default:
			log.Warn("Failed to index document", "path", doc.Path, "error", err)
			r.errors = append(r.errors, fmt.Sprintf("%s: %v", doc.Path, err))
		}

		e.progress(r.progress(doc.Path, false))
		if r.halted {
			break
		}
	}
}

// waitWhilePaused polls the pause flag. It returns false if the run was
// cancelled while paused.
func (e *Engine) waitWhilePaused(ctx context.Context, r *run) bool {
	if !e.paused.Load() {
		return true
	}

	e.progress(r.progress("", true))
	ticker := time.NewTicker(e.pollInterval())
	defer ticker.Stop()

	for e.paused.Load() {
		if e.cancelled.Load() {
			return false
		}
		select {
		case <-ctx.Done():
			return false
		case <-ticker.C:
		}
	}

	e.progress(r.progress("", false))
	return true
}

func (e *Engine) pollInterval() time.Duration {
	if d := e.cfg.Indexing.PausePollInterval; d > 0 {
		return d
	}
	return config.DefaultPausePollInterval
}

// finalize removes records of vanished documents and persists once.
func (e *Engine) finalize(ctx context.Context, r *run) {
	if d := e.cfg.Indexing.FinalizeDelay; d > 0 {
		time.Sleep(d)
	}

	if ctx.Err() == nil && !r.cancelled {
		removed, err := e.collectGarbage(ctx)
		if err != nil {
			log.Warn("Failed to collect stale records", "error", err)
		}
		r.removed += removed
	}

	if r.processed+r.removed > 0 {
		if err := e.persist(); err != nil {
			e.notify(Notice{
				Kind:    NoticeSaveFailed,
				Message: fmt.Sprintf("Failed to save index: %v", err),
				Count:   r.processed,
			})
		}
	}

	log.Debug("Indexing run finished",
		"attempted", r.attempted,
		"indexed", r.processed,
		"removed", r.removed,
		"errors", len(r.errors),
		"duration", time.Since(r.start).Round(time.Millisecond),
	)

	switch {
	case r.halted:
		// The rate-limit notice was already sent
	case r.cancelled:
		e.notify(Notice{
			Kind:    NoticeCancelled,
			Message: fmt.Sprintf("Indexing cancelled after %d of %d documents", r.attempted, len(r.candidates)),
			Count:   r.processed,
		})
	case len(r.errors) > 0:
		e.notify(Notice{
			Kind:    NoticeCompletedWithErrors,
			Message: fmt.Sprintf("Indexing completed with %d errors", len(r.errors)),
			Count:   r.processed,
			Errors:  r.errors,
		})
	default:
		e.notify(Notice{
			Kind:    NoticeCompleted,
			Message: fmt.Sprintf("Indexed %d documents", r.processed),
			Count:   r.processed,
		})
	}
}

// indexDocument reads, embeds and upserts one document.
func (e *Engine) indexDocument(ctx context.Context, doc corpus.Document) error {
	unlock := e.lockPath(doc.Path)
	defer unlock()

	content, err := e.corpus.Read(ctx, doc.Path)
	if err != nil {
		return err
	}

	meta, err := e.corpus.ReadMetadata(ctx, doc.Path)
	if err != nil {
		if errors.Is(err, corpus.ErrNotExist) {
			return err
		}
		log.Debug("Using partial metadata", "path", doc.Path, "error", err)
	}

	text := content
	if strings.TrimSpace(text) == "" {
		text = doc.Title()
	}

	vec, err := e.embedder.Embed(ctx, text)
	if err != nil {
		return err
	}
	if len(vec) == 0 {
		return embeddings.ErrEmptyEmbedding
	}

	ctime := doc.CTime
	if created, ok := meta.CreatedAt(); ok {
		ctime = created
	}
	if ctime.IsZero() {
		ctime = doc.MTime
	}

	rec := store.Record{
		ID:             store.RecordID(doc.Path),
		Path:           doc.Path,
		Title:          doc.Title(),
		Content:        content,
		Embedding:      vec,
		EmbeddingModel: embeddings.IdentityOf(e.embedder).String(),
		CreatedAt:      time.Now(),
		MTime:          doc.MTime,
		CTime:          ctime,
		Tags:           meta.Tags,
		Extension:      doc.Extension,
		Metadata:       meta.Frontmatter,
	}

	e.adoptDimensions(len(vec), rec.EmbeddingModel)

	e.mu.RLock()
	err = e.index.Upsert(rec)
	e.mu.RUnlock()
	if err != nil {
		return fmt.Errorf("failed to store record: %w", err)
	}

	log.Debug("Indexed document", "path", doc.Path)
	return nil
}

// GarbageCollect removes records whose documents no longer exist and
// persists the store when anything was removed.
func (e *Engine) GarbageCollect(ctx context.Context) (int, error) {
	ok, err := e.await(ctx)
	if err != nil || !ok {
		return 0, err
	}
	if !e.running.CompareAndSwap(false, true) {
		return 0, ErrRunInProgress
	}
	defer e.running.Store(false)

	removed, err := e.collectGarbage(ctx)
	if err != nil {
		return 0, err
	}
	if removed > 0 {
		if err := e.persist(); err != nil {
			return removed, err
		}
	}
	return removed, nil
}

func (e *Engine) collectGarbage(ctx context.Context) (int, error) {
	docs, err := e.corpus.ListDocuments(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to list documents: %w", err)
	}

	live := make(map[string]bool, len(docs))
	for _, doc := range docs {
		live[doc.Path] = true
	}

	var stale []string
	for p, id := range e.currentIndex().Paths() {
		if !live[p] {
			stale = append(stale, id)
			log.Debug("Removing stale record", "path", p)
		}
	}
	if len(stale) == 0 {
		return 0, nil
	}

	e.mu.RLock()
	removed := e.index.Remove(stale...)
	e.mu.RUnlock()

	return removed, nil
}

// Clear discards every record and persists the empty store.
func (e *Engine) Clear(ctx context.Context) error {
	ok, err := e.await(ctx)
	if err != nil || !ok {
		return err
	}
	if !e.running.CompareAndSwap(false, true) {
		return ErrRunInProgress
	}
	defer e.running.Store(false)

	fresh, err := store.NewIndex(e.currentIndex().Schema())
	if err != nil {
		return fmt.Errorf("failed to create index: %w", err)
	}
	old := e.replaceIndex(fresh)
	if err := old.Close(); err != nil {
		log.Debug("Failed to close cleared index", "error", err)
	}

	if fresh.Schema().Dimensions == 0 {
		return nil
	}
	return e.persist()
}

// adoptDimensions resizes an index that holds no records yet to the length of
// the first vector produced. Providers may only report a guessed length
// until they have answered a request.
func (e *Engine) adoptDimensions(dims int, model string) {
	if idx := e.currentIndex(); idx.Schema().Dimensions == dims || idx.Len() > 0 {
		return
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if e.index.Schema().Dimensions == dims || e.index.Len() > 0 {
		return
	}
	fresh, err := store.NewIndex(store.Schema{Dimensions: dims, Model: model})
	if err != nil {
		log.Debug("Failed to resize empty index", "dimensions", dims, "error", err)
		return
	}
	log.Debug("Resized empty index", "from", e.index.Schema().Dimensions, "to", dims)
	_ = e.index.Close()
	e.index = fresh
}
