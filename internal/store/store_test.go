package store

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestIndex(t *testing.T, dims int) *Index {
	t.Helper()
	x, err := NewIndex(Schema{Dimensions: dims, Model: "ollama/test-model"})
	require.NoError(t, err)
	t.Cleanup(func() { _ = x.Close() })
	return x
}

func testRecord(path string, mtime time.Time, vec ...float32) Record {
	return Record{
		Path:           path,
		Title:          filepath.Base(path),
		Content:        "content of " + path,
		Embedding:      vec,
		EmbeddingModel: "ollama/test-model",
		CreatedAt:      mtime,
		MTime:          mtime,
		CTime:          mtime,
		Extension:      ".md",
	}
}

func TestNewIndexRejectsInvalidSchema(t *testing.T) {
	_, err := NewIndex(Schema{Dimensions: -1})
	assert.Error(t, err)

	x, err := NewIndex(Schema{})
	require.NoError(t, err)
	defer x.Close()
	assert.ErrorIs(t, x.Upsert(testRecord("a.md", time.Now(), 1)), ErrDimensionMismatch)
	assert.Error(t, Persist(x, filepath.Join(t.TempDir(), "x.db")))
}

func TestUpsertReplacesRecordAtPath(t *testing.T) {
	x := newTestIndex(t, 3)
	now := time.Now()

	require.NoError(t, x.Upsert(testRecord("a.md", now, 1, 0, 0)))
	require.NoError(t, x.Upsert(testRecord("a.md", now.Add(time.Second), 0, 1, 0)))

	assert.Equal(t, 1, x.Len())
	rec, ok := x.GetByPath("a.md")
	require.True(t, ok)
	assert.Equal(t, RecordID("a.md"), rec.ID)
	assert.Equal(t, []float32{0, 1, 0}, rec.Embedding)

	hits, err := x.Search([]float32{0, 1, 0}, 5)
	require.NoError(t, err)
	require.Len(t, hits, 1, "replaced vectors must not surface in search")
	assert.Equal(t, "a.md", hits[0].Record.Path)
}

func TestUpsertDimensionMismatch(t *testing.T) {
	x := newTestIndex(t, 3)

	err := x.Upsert(testRecord("a.md", time.Now(), 1, 2))
	assert.ErrorIs(t, err, ErrDimensionMismatch)
	assert.Equal(t, 0, x.Len())

	_, err = x.Search([]float32{1}, 1)
	assert.ErrorIs(t, err, ErrDimensionMismatch)
}

func TestRecordIDIsStable(t *testing.T) {
	assert.Equal(t, RecordID("Notes/a.md"), RecordID("Notes/a.md"))
	assert.NotEqual(t, RecordID("Notes/a.md"), RecordID("Notes/b.md"))
}

func TestRemove(t *testing.T) {
	x := newTestIndex(t, 2)
	now := time.Now()
	require.NoError(t, x.Upsert(testRecord("a.md", now, 1, 0)))
	require.NoError(t, x.Upsert(testRecord("b.md", now, 0, 1)))

	assert.Equal(t, 1, x.Remove(RecordID("a.md"), "missing"))
	assert.False(t, x.RemoveByPath("a.md"))
	assert.True(t, x.RemoveByPath("b.md"))
	assert.Equal(t, 0, x.Len())

	hits, err := x.Search([]float32{1, 0}, 3)
	require.NoError(t, err)
	assert.Empty(t, hits)
}

func TestQueryAndWatermark(t *testing.T) {
	x := newTestIndex(t, 2)

	_, ok := x.MaxMTime()
	assert.False(t, ok)
	_, ok = x.Sample()
	assert.False(t, ok)

	base := time.Unix(1_700_000_000, 0)
	require.NoError(t, x.Upsert(testRecord("c.md", base.Add(2*time.Second), 1, 0)))
	require.NoError(t, x.Upsert(testRecord("a.md", base, 1, 1)))
	require.NoError(t, x.Upsert(testRecord("b.md", base.Add(time.Second), 0, 1)))

	newest, ok := x.MaxMTime()
	require.True(t, ok)
	assert.True(t, newest.Equal(base.Add(2*time.Second)))

	all := x.Query(nil, 0)
	require.Len(t, all, 3)
	assert.Equal(t, "a.md", all[0].Path)

	old := x.Query(func(r *Record) bool { return r.MTime.Before(base.Add(2 * time.Second)) }, 1)
	require.Len(t, old, 1)
	assert.Equal(t, "a.md", old[0].Path)

	sample, ok := x.Sample()
	require.True(t, ok)
	assert.Equal(t, "ollama/test-model", sample.EmbeddingModel)

	// Returned records are copies
	all[0].Title = "changed"
	rec, _ := x.GetByPath("a.md")
	assert.Equal(t, "a.md", rec.Title)
}

func TestSearchRanksBySimilarity(t *testing.T) {
	x := newTestIndex(t, 3)
	now := time.Now()
	require.NoError(t, x.Upsert(testRecord("x.md", now, 1, 0, 0)))
	require.NoError(t, x.Upsert(testRecord("y.md", now, 0, 1, 0)))
	require.NoError(t, x.Upsert(testRecord("xy.md", now, 1, 1, 0)))

	hits, err := x.Search([]float32{1, 0.1, 0}, 2)
	require.NoError(t, err)
	require.Len(t, hits, 2)
	assert.Equal(t, "x.md", hits[0].Record.Path)
	assert.Equal(t, "xy.md", hits[1].Record.Path)
	assert.Greater(t, hits[0].Score, hits[1].Score)
}

func TestCompactionKeepsLiveRecords(t *testing.T) {
	x := newTestIndex(t, 2)
	now := time.Now()

	for i := 0; i < compactThreshold*2; i++ {
		require.NoError(t, x.Upsert(testRecord("churn.md", now, float32(i+1), 1)))
	}
	require.NoError(t, x.Upsert(testRecord("stable.md", now, 0, 1)))
	x.RemoveByPath("nothing.md")
	x.Remove("nothing")

	assert.Equal(t, 2, x.Len())
	hits, err := x.Search([]float32{0, 1}, 2)
	require.NoError(t, err)
	assert.Len(t, hits, 2)
}

func TestTextSearch(t *testing.T) {
	x := newTestIndex(t, 2)
	now := time.Now()

	rec := testRecord("Projects/Vault.md", now, 1, 0)
	rec.Content = "The watermark decides which notes are reindexed."
	require.NoError(t, x.Upsert(rec))
	require.NoError(t, x.Upsert(testRecord("Daily/today.md", now, 0, 1)))

	hits, err := x.TextSearch(context.Background(), "watermark", 5)
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, "Projects/Vault.md", hits[0].Record.Path)

	x.RemoveByPath("Projects/Vault.md")
	hits, err = x.TextSearch(context.Background(), "watermark", 5)
	require.NoError(t, err)
	assert.Empty(t, hits)

	hits, err = x.TextSearch(context.Background(), "  ", 5)
	require.NoError(t, err)
	assert.Nil(t, hits)
}

func TestPathFor(t *testing.T) {
	a := PathFor("/data", "work")
	b := PathFor("/data", "personal")

	assert.NotEqual(t, a, b)
	assert.Equal(t, a, PathFor("/data", "work"))
	assert.Equal(t, "/data", filepath.Dir(a))
	assert.Equal(t, ".db", filepath.Ext(a))
}

func TestPersistAndOpen(t *testing.T) {
	dir := t.TempDir()
	path := PathFor(filepath.Join(dir, "nested"), "vault")

	x := newTestIndex(t, 3)
	mtime := time.Unix(1_700_000_000, 123456789)
	rec := testRecord("Notes/a.md", mtime, 0.5, 0.25, -1)
	rec.Tags = []string{"project", "area/work"}
	rec.Metadata = map[string]any{"status": "draft", "priority": float64(2)}
	require.NoError(t, x.Upsert(rec))
	require.NoError(t, x.Upsert(testRecord("Notes/b.md", mtime.Add(time.Second), 1, 0, 0)))

	require.NoError(t, Persist(x, path))
	_, err := os.Stat(path + ".tmp")
	assert.True(t, os.IsNotExist(err), "temporary file must be renamed away")

	loaded, err := Open(path)
	require.NoError(t, err)
	defer loaded.Close()

	assert.Equal(t, x.Schema(), loaded.Schema())
	assert.Equal(t, 2, loaded.Len())

	got, ok := loaded.GetByPath("Notes/a.md")
	require.True(t, ok)
	assert.Equal(t, rec.Embedding, got.Embedding)
	assert.Equal(t, rec.Tags, got.Tags)
	assert.Equal(t, rec.Metadata, got.Metadata)
	assert.True(t, got.MTime.Equal(mtime), "mtime must round-trip exactly")
	assert.Equal(t, RecordID("Notes/a.md"), got.ID)

	newest, _ := loaded.MaxMTime()
	assert.True(t, newest.Equal(mtime.Add(time.Second)))

	hits, err := loaded.Search([]float32{1, 0, 0}, 1)
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, "Notes/b.md", hits[0].Record.Path)
}

func TestPersistOverwrites(t *testing.T) {
	path := filepath.Join(t.TempDir(), "index.db")

	x := newTestIndex(t, 2)
	for i := 0; i < 3; i++ {
		require.NoError(t, x.Upsert(testRecord(fmt.Sprintf("%d.md", i), time.Now(), 1, float32(i))))
	}
	require.NoError(t, Persist(x, path))

	empty := newTestIndex(t, 2)
	require.NoError(t, Persist(empty, path))

	loaded, err := Open(path)
	require.NoError(t, err)
	defer loaded.Close()
	assert.Equal(t, 0, loaded.Len())
}

func TestOpenMissingOrCorrupt(t *testing.T) {
	dir := t.TempDir()

	_, err := Open(filepath.Join(dir, "missing.db"))
	assert.ErrorIs(t, err, ErrNotFound)

	corrupt := filepath.Join(dir, "corrupt.db")
	require.NoError(t, os.WriteFile(corrupt, []byte("definitely not sqlite"), 0644))
	_, err = Open(corrupt)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestSerializeEmbedding(t *testing.T) {
	embedding := []float32{1.0, 2.0, 3.0, 4.0}
	serialized := serializeEmbedding(embedding)

	// Each float32 is 4 bytes
	assert.Len(t, serialized, 16)

	// 1.0f = 0x3f800000, little-endian
	assert.Equal(t, []byte{0x00, 0x00, 0x80, 0x3f}, serialized[:4])

	back, err := deserializeEmbedding(serialized)
	require.NoError(t, err)
	assert.Equal(t, embedding, back)

	_, err = deserializeEmbedding([]byte{1, 2, 3})
	assert.Error(t, err)
}
