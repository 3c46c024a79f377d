// Package indexer keeps a vector index in sync with a document corpus.
//
// An Engine owns one store instance. It loads or creates the store in the
// background, runs incremental bulk indexing (IndexAll) and reacts to live
// edits (OnModify, OnDelete). At most one bulk run is active at a time.
package indexer

import (
	"context"
	"errors"
	"fmt"
	"path"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/charmbracelet/log"
	"github.com/robfig/cron/v3"

	"github.com/nickcecere/vaultidx/internal/config"
	"github.com/nickcecere/vaultidx/internal/corpus"
	"github.com/nickcecere/vaultidx/internal/embeddings"
	"github.com/nickcecere/vaultidx/internal/filter"
	"github.com/nickcecere/vaultidx/internal/store"
)

const pathLockStripes = 64

// Options configures an Engine.
type Options struct {
	// Config supplies indexing settings. Defaults apply when nil.
	Config *config.Config

	// Corpus is the document source.
	Corpus corpus.Accessor

	// NewEmbedder builds the embedding service during initialization.
	// Defaults to embeddings.NewGatedService.
	NewEmbedder func(*config.Config) (embeddings.Service, error)

	// StorePath overrides the snapshot location derived from the config.
	StorePath string

	OnProgress ProgressFunc
	OnNotice   NoticeFunc
}

// Engine indexes a corpus into a store.
type Engine struct {
	cfg         *config.Config
	corpus      corpus.Accessor
	storePath   string
	newEmbedder func(*config.Config) (embeddings.Service, error)
	onProgress  ProgressFunc
	onNotice    NoticeFunc
	extensions  map[string]bool

	// Set by init before ready is closed
	ready    chan struct{}
	disabled bool
	embedder embeddings.Service

	mu    sync.RWMutex // guards index replacement
	index *store.Index

	running   atomic.Bool
	paused    atomic.Bool
	cancelled atomic.Bool
	forceFull atomic.Bool
	dirty     atomic.Bool

	policyMu sync.RWMutex
	policy   *filter.Policy

	pathLocks [pathLockStripes]sync.Mutex
	persistMu sync.Mutex

	debounceMu sync.Mutex
	pending    map[string]*pendingEdit
	generation uint64
	closed     bool
	inflight   sync.WaitGroup

	ctx       context.Context
	cancelCtx context.CancelFunc
	scheduler *cron.Cron
	closeOnce sync.Once
}

// New creates an Engine and starts loading its store in the background.
// Public operations wait for initialization to finish.
func New(opts Options) *Engine {
	cfg := opts.Config
	if cfg == nil {
		cfg = config.DefaultConfig()
	}

	newEmbedder := opts.NewEmbedder
	if newEmbedder == nil {
		newEmbedder = embeddings.NewGatedService
	}

	storePath := opts.StorePath
	if storePath == "" {
		storePath = store.PathFor(cfg.Storage.Dir, cfg.CorpusName())
	}

	ctx, cancel := context.WithCancel(context.Background())
	e := &Engine{
		cfg:         cfg,
		corpus:      opts.Corpus,
		storePath:   storePath,
		newEmbedder: newEmbedder,
		onProgress:  opts.OnProgress,
		onNotice:    opts.OnNotice,
		ready:       make(chan struct{}),
		policy:      filter.Parse(cfg.Indexing.Inclusions, cfg.Indexing.Exclusions),
		pending:     make(map[string]*pendingEdit),
		ctx:         ctx,
		cancelCtx:   cancel,
	}

	if len(cfg.Corpus.Extensions) > 0 {
		e.extensions = make(map[string]bool)
		for _, ext := range cfg.Corpus.Extensions {
			e.extensions[corpus.NormalizeExtension(ext)] = true
		}
	}

	go e.init()
	return e
}

func (e *Engine) init() {
	defer close(e.ready)

	if e.corpus == nil {
		e.disable(errors.New("no corpus configured"))
		return
	}

	svc, err := e.newEmbedder(e.cfg)
	if err != nil {
		e.disable(err)
		return
	}
	e.embedder = svc

	idx, err := store.Open(e.storePath)
	if err != nil {
		idx, err = store.NewIndex(store.Schema{
			Dimensions: svc.Dimensions(),
			Model:      embeddings.IdentityOf(svc).String(),
		})
		if err != nil {
			e.disable(fmt.Errorf("failed to create index: %w", err))
			return
		}
		log.Debug("Created empty index", "path", e.storePath, "dimensions", svc.Dimensions())
	}
	e.index = idx

	e.startAutosave()
}

func (e *Engine) disable(err error) {
	e.disabled = true
	e.notify(Notice{
		Kind:    NoticeUnavailable,
		Message: fmt.Sprintf("Indexing unavailable: %v", err),
	})
}

// Ready is closed once initialization has finished, successfully or not.
func (e *Engine) Ready() <-chan struct{} {
	return e.ready
}

// IsReady reports whether initialization finished with a usable store.
func (e *Engine) IsReady() bool {
	select {
	case <-e.ready:
		return !e.disabled
	default:
		return false
	}
}

// Disabled reports whether the engine ended up unavailable. It is false
// while initialization is still running.
func (e *Engine) Disabled() bool {
	select {
	case <-e.ready:
		return e.disabled
	default:
		return false
	}
}

// await blocks until initialization has finished. It reports false when the
// engine is disabled; callers then turn into no-ops.
func (e *Engine) await(ctx context.Context) (bool, error) {
	select {
	case <-e.ready:
	case <-ctx.Done():
		return false, fmt.Errorf("%w: %v", ErrNotReady, ctx.Err())
	}
	return !e.disabled, nil
}

func (e *Engine) currentIndex() *store.Index {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.index
}

// replaceIndex swaps in a new store instance and returns the old one.
// Callers hold the run-exclusivity flag.
func (e *Engine) replaceIndex(next *store.Index) *store.Index {
	e.mu.Lock()
	defer e.mu.Unlock()
	old := e.index
	e.index = next
	return old
}

// lockPath serializes writes to a single document.
func (e *Engine) lockPath(path string) func() {
	m := &e.pathLocks[xxhash.Sum64String(path)%pathLockStripes]
	m.Lock()
	return m.Unlock
}

// Pause suspends the active run before its next document.
func (e *Engine) Pause() {
	e.paused.Store(true)
}

// Resume continues a paused run.
func (e *Engine) Resume() {
	e.paused.Store(false)
}

// Cancel stops the active run before its next document. Records written so
// far are kept and persisted.
func (e *Engine) Cancel() {
	if e.running.Load() {
		e.cancelled.Store(true)
	}
}

// Running reports whether a bulk operation is active.
func (e *Engine) Running() bool {
	return e.running.Load()
}

// UpdateFilter replaces the inclusion/exclusion policy.
func (e *Engine) UpdateFilter(inclusions, exclusions string) {
	p := filter.Parse(inclusions, exclusions)

	e.policyMu.Lock()
	e.policy = p
	e.policyMu.Unlock()
}

func (e *Engine) currentPolicy() *filter.Policy {
	e.policyMu.RLock()
	defer e.policyMu.RUnlock()
	return e.policy
}

// indexable reports whether the corpus-wide content type accepts path.
func (e *Engine) indexable(p string) bool {
	if e.extensions == nil {
		return true
	}
	return e.extensions[strings.ToLower(path.Ext(p))]
}

// tagsOf returns a lazy tag lookup for filter evaluation.
func (e *Engine) tagsOf(ctx context.Context, path string) func() []string {
	return func() []string {
		meta, err := e.corpus.ReadMetadata(ctx, path)
		if err != nil {
			log.Debug("Failed to read metadata for filter", "path", path, "error", err)
		}
		return meta.Tags
	}
}

// allowed applies the content-type check and the current filter policy.
func (e *Engine) allowed(ctx context.Context, path string) bool {
	return e.indexable(path) && e.currentPolicy().Allows(path, e.tagsOf(ctx, path))
}

// GetRecordByID returns the record with the given ID, or nil.
func (e *Engine) GetRecordByID(ctx context.Context, id string) (*store.Record, error) {
	ok, err := e.await(ctx)
	if err != nil || !ok {
		return nil, err
	}
	rec, found := e.currentIndex().Get(id)
	if !found {
		return nil, nil
	}
	return rec, nil
}

// Search returns the k records most similar to query.
func (e *Engine) Search(ctx context.Context, query string, k int) ([]store.Hit, error) {
	ok, err := e.await(ctx)
	if err != nil || !ok {
		return nil, err
	}

	vec, err := e.embedder.EmbedQuery(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to embed query: %w", err)
	}
	return e.currentIndex().Search(vec, k)
}

// TextSearch runs a lexical search over record content.
func (e *Engine) TextSearch(ctx context.Context, query string, k int) ([]store.Hit, error) {
	ok, err := e.await(ctx)
	if err != nil || !ok {
		return nil, err
	}
	return e.currentIndex().TextSearch(ctx, query, k)
}

// Stats describes the engine and its store.
type Stats struct {
	Ready        bool
	Disabled     bool
	Running      bool
	Paused       bool
	Records      int
	Dimensions   int
	Model        string
	Watermark    time.Time
	SnapshotPath string
	PendingEdits int
	Unsaved      bool
}

// Stats returns a summary of the engine state.
func (e *Engine) Stats(ctx context.Context) (Stats, error) {
	ok, err := e.await(ctx)
	if err != nil {
		return Stats{}, err
	}

	s := Stats{
		Ready:        ok,
		Disabled:     !ok,
		Running:      e.running.Load(),
		Paused:       e.paused.Load(),
		SnapshotPath: e.storePath,
		Unsaved:      e.dirty.Load(),
	}
	if !ok {
		return s, nil
	}

	idx := e.currentIndex()
	schema := idx.Schema()
	s.Records = idx.Len()
	s.Dimensions = schema.Dimensions
	s.Model = schema.Model
	s.Watermark, _ = idx.MaxMTime()

	e.debounceMu.Lock()
	s.PendingEdits = len(e.pending)
	e.debounceMu.Unlock()

	return s, nil
}

// persist writes the current store to disk. Failures are logged and leave
// the store marked dirty for the next attempt.
func (e *Engine) persist() error {
	e.persistMu.Lock()
	defer e.persistMu.Unlock()

	e.dirty.Store(false)
	if err := store.Persist(e.currentIndex(), e.storePath); err != nil {
		e.dirty.Store(true)
		log.Error("Failed to persist index", "path", e.storePath, "error", err)
		return err
	}
	return nil
}

// Close stops pending edits and the autosave job, then flushes unsaved
// changes to disk.
func (e *Engine) Close() error {
	var err error
	e.closeOnce.Do(func() {
		<-e.ready

		for e.running.Load() {
			e.cancelled.Store(true)
			time.Sleep(e.pollInterval())
		}

		e.stopPending()
		e.cancelCtx()
		e.inflight.Wait()

		if e.scheduler != nil {
			<-e.scheduler.Stop().Done()
		}

		if e.disabled {
			return
		}
		if e.dirty.Load() {
			err = e.persist()
		}
		if cerr := e.currentIndex().Close(); err == nil {
			err = cerr
		}
	})
	return err
}
