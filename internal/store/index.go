package store

import (
	"context"
	"fmt"
	"math"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/blevesearch/bleve/v2"
	"github.com/coder/hnsw"
)

// compactThreshold is the minimum number of orphaned graph nodes before the
// vector graph is rebuilt.
const compactThreshold = 64

// textDocument is the full-text view of a record.
type textDocument struct {
	Title   string `json:"title"`
	Path    string `json:"path"`
	Content string `json:"content"`
	Tags    string `json:"tags"`
}

// Index is an in-memory store instance: one schema plus its records, a
// vector graph for similarity search and a full-text index for lexical search.
// At most one record exists per path.
type Index struct {
	mu     sync.RWMutex
	schema Schema
	closed bool

	records map[string]*Record // by record ID
	byPath  map[string]string  // path -> record ID

	// Graph nodes are never deleted; replaced or removed records orphan
	// their key until the next compaction.
	graph   *hnsw.Graph[uint64]
	keys    map[string]uint64 // record ID -> graph key
	ids     map[uint64]string // graph key -> record ID
	nextKey uint64

	text bleve.Index
}

// NewIndex creates an empty index with the given schema. Zero dimensions
// means the vector length is not known yet; such an index accepts no records.
func NewIndex(schema Schema) (*Index, error) {
	if schema.Dimensions < 0 {
		return nil, fmt.Errorf("invalid schema: negative dimensions %d", schema.Dimensions)
	}

	text, err := bleve.NewMemOnly(bleve.NewIndexMapping())
	if err != nil {
		return nil, fmt.Errorf("failed to create text index: %w", err)
	}

	return &Index{
		schema:  schema,
		records: make(map[string]*Record),
		byPath:  make(map[string]string),
		graph:   newGraph(),
		keys:    make(map[string]uint64),
		ids:     make(map[uint64]string),
		text:    text,
	}, nil
}

func newGraph() *hnsw.Graph[uint64] {
	g := hnsw.NewGraph[uint64]()
	g.Distance = hnsw.CosineDistance
	return g
}

// Schema returns the index schema.
func (x *Index) Schema() Schema {
	return x.schema
}

// Len returns the number of live records.
func (x *Index) Len() int {
	x.mu.RLock()
	defer x.mu.RUnlock()
	return len(x.records)
}

// Upsert inserts rec, first removing any record stored at the same path.
func (x *Index) Upsert(rec Record) error {
	if len(rec.Embedding) != x.schema.Dimensions {
		return fmt.Errorf("%w: expected %d, got %d", ErrDimensionMismatch, x.schema.Dimensions, len(rec.Embedding))
	}
	if rec.Path == "" {
		return fmt.Errorf("record has no path")
	}
	if rec.ID == "" {
		rec.ID = RecordID(rec.Path)
	}

	x.mu.Lock()
	defer x.mu.Unlock()

	if x.closed {
		return ErrClosed
	}

	if oldID, ok := x.byPath[rec.Path]; ok {
		x.removeLocked(oldID)
	}
	if _, ok := x.records[rec.ID]; ok {
		x.removeLocked(rec.ID)
	}

	stored := rec.clone()
	stored.Embedding = append([]float32(nil), rec.Embedding...)

	if err := x.text.Index(stored.ID, textDocument{
		Title:   stored.Title,
		Path:    stored.Path,
		Content: stored.Content,
		Tags:    strings.Join(stored.Tags, " "),
	}); err != nil {
		return fmt.Errorf("failed to index text for %s: %w", stored.Path, err)
	}

	x.records[stored.ID] = stored
	x.byPath[stored.Path] = stored.ID
	x.addNodeLocked(stored)
	x.maybeCompactLocked()

	return nil
}

func (x *Index) addNodeLocked(rec *Record) {
	key := x.nextKey
	x.nextKey++

	x.graph.Add(hnsw.MakeNode(key, normalize(rec.Embedding)))
	x.keys[rec.ID] = key
	x.ids[key] = rec.ID
}

// Remove deletes records by ID and returns how many existed.
func (x *Index) Remove(ids ...string) int {
	x.mu.Lock()
	defer x.mu.Unlock()

	removed := 0
	for _, id := range ids {
		if x.removeLocked(id) {
			removed++
		}
	}
	x.maybeCompactLocked()
	return removed
}

// RemoveByPath deletes the record stored at path, if any.
func (x *Index) RemoveByPath(path string) bool {
	x.mu.Lock()
	defer x.mu.Unlock()

	id, ok := x.byPath[path]
	if !ok {
		return false
	}
	x.removeLocked(id)
	x.maybeCompactLocked()
	return true
}

func (x *Index) removeLocked(id string) bool {
	rec, ok := x.records[id]
	if !ok {
		return false
	}

	delete(x.records, id)
	if x.byPath[rec.Path] == id {
		delete(x.byPath, rec.Path)
	}
	if key, ok := x.keys[id]; ok {
		delete(x.ids, key)
		delete(x.keys, id)
	}
	if !x.closed {
		_ = x.text.Delete(id)
	}
	return true
}

// maybeCompactLocked rebuilds the vector graph once orphaned nodes dominate.
func (x *Index) maybeCompactLocked() {
	orphans := x.graph.Len() - len(x.ids)
	if orphans <= compactThreshold || orphans <= len(x.ids) {
		return
	}

	x.graph = newGraph()
	x.keys = make(map[string]uint64, len(x.records))
	x.ids = make(map[uint64]string, len(x.records))
	x.nextKey = 0
	for _, id := range x.sortedIDsLocked() {
		x.addNodeLocked(x.records[id])
	}
}

// Get returns a copy of the record with the given ID.
func (x *Index) Get(id string) (*Record, bool) {
	x.mu.RLock()
	defer x.mu.RUnlock()

	rec, ok := x.records[id]
	if !ok {
		return nil, false
	}
	return rec.clone(), true
}

// GetByPath returns a copy of the record stored at path.
func (x *Index) GetByPath(path string) (*Record, bool) {
	x.mu.RLock()
	defer x.mu.RUnlock()

	id, ok := x.byPath[path]
	if !ok {
		return nil, false
	}
	return x.records[id].clone(), true
}

// Query returns records matching pred in path order. limit <= 0 means no limit.
func (x *Index) Query(pred Predicate, limit int) []*Record {
	x.mu.RLock()
	defer x.mu.RUnlock()

	var out []*Record
	for _, id := range x.sortedIDsLocked() {
		rec := x.records[id]
		if pred != nil && !pred(rec) {
			continue
		}
		out = append(out, rec.clone())
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out
}

// Paths returns the set of indexed paths.
func (x *Index) Paths() map[string]string {
	x.mu.RLock()
	defer x.mu.RUnlock()

	out := make(map[string]string, len(x.byPath))
	for p, id := range x.byPath {
		out[p] = id
	}
	return out
}

// MaxMTime returns the newest record mtime, or false for an empty index.
func (x *Index) MaxMTime() (time.Time, bool) {
	x.mu.RLock()
	defer x.mu.RUnlock()

	var newest time.Time
	found := false
	for _, rec := range x.records {
		if !found || rec.MTime.After(newest) {
			newest = rec.MTime
			found = true
		}
	}
	return newest, found
}

// Sample returns one record (the first by path), or false for an empty index.
func (x *Index) Sample() (*Record, bool) {
	recs := x.Query(nil, 1)
	if len(recs) == 0 {
		return nil, false
	}
	return recs[0], true
}

// Search returns the k records closest to vec by cosine similarity.
func (x *Index) Search(vec []float32, k int) ([]Hit, error) {
	if len(vec) != x.schema.Dimensions {
		return nil, fmt.Errorf("%w: expected %d, got %d", ErrDimensionMismatch, x.schema.Dimensions, len(vec))
	}
	if k <= 0 {
		return nil, nil
	}

	x.mu.RLock()
	defer x.mu.RUnlock()

	if x.closed {
		return nil, ErrClosed
	}
	if len(x.records) == 0 || x.graph.Len() == 0 {
		return nil, nil
	}

	// Over-fetch to make up for orphaned nodes
	fetch := k + x.graph.Len() - len(x.ids)
	if fetch > x.graph.Len() {
		fetch = x.graph.Len()
	}

	query := normalize(vec)
	nodes := x.graph.Search(query, fetch)

	hits := make([]Hit, 0, k)
	for _, node := range nodes {
		id, ok := x.ids[node.Key]
		if !ok {
			continue
		}
		distance := float64(x.graph.Distance(query, node.Value))
		hits = append(hits, Hit{
			Record:   x.records[id].clone(),
			Distance: distance,
			Score:    1 - distance,
		})
	}

	sort.SliceStable(hits, func(i, j int) bool { return hits[i].Distance < hits[j].Distance })
	if len(hits) > k {
		hits = hits[:k]
	}
	return hits, nil
}

// TextSearch runs a lexical match query over title, path, tags and content.
func (x *Index) TextSearch(ctx context.Context, query string, k int) ([]Hit, error) {
	if strings.TrimSpace(query) == "" || k <= 0 {
		return nil, nil
	}

	x.mu.RLock()
	defer x.mu.RUnlock()

	if x.closed {
		return nil, ErrClosed
	}

	req := bleve.NewSearchRequest(bleve.NewMatchQuery(query))
	req.Size = k

	result, err := x.text.SearchInContext(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("text search failed: %w", err)
	}

	hits := make([]Hit, 0, len(result.Hits))
	for _, h := range result.Hits {
		rec, ok := x.records[h.ID]
		if !ok {
			continue
		}
		hits = append(hits, Hit{Record: rec.clone(), Score: h.Score})
	}
	return hits, nil
}

// Close releases the full-text index. The records remain readable.
func (x *Index) Close() error {
	x.mu.Lock()
	defer x.mu.Unlock()

	if x.closed {
		return nil
	}
	x.closed = true
	return x.text.Close()
}

// snapshot returns the schema and all records in path order. Stored records
// are never mutated in place, so callers may read them without the lock.
func (x *Index) snapshot() (Schema, []*Record) {
	x.mu.RLock()
	defer x.mu.RUnlock()

	out := make([]*Record, 0, len(x.records))
	for _, id := range x.sortedIDsLocked() {
		out = append(out, x.records[id])
	}
	return x.schema, out
}

func (x *Index) sortedIDsLocked() []string {
	paths := make([]string, 0, len(x.byPath))
	for p := range x.byPath {
		paths = append(paths, p)
	}
	sort.Strings(paths)

	ids := make([]string, len(paths))
	for i, p := range paths {
		ids[i] = x.byPath[p]
	}
	return ids
}

// normalize returns a unit-length copy of v.
func normalize(v []float32) []float32 {
	out := make([]float32, len(v))
	var sum float64
	for _, f := range v {
		sum += float64(f) * float64(f)
	}
	if sum == 0 {
		copy(out, v)
		return out
	}
	norm := float32(math.Sqrt(sum))
	for i, f := range v {
		out[i] = f / norm
	}
	return out
}
