package indexer

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nickcecere/vaultidx/internal/config"
	"github.com/nickcecere/vaultidx/internal/embeddings"
	"github.com/nickcecere/vaultidx/internal/store"
)

func recordContent(t *testing.T, e *Engine, path string) string {
	t.Helper()
	rec, err := e.GetRecordByID(context.Background(), store.RecordID(path))
	require.NoError(t, err)
	if rec == nil {
		return ""
	}
	return rec.Content
}

func TestOnModifyDebouncesEdits(t *testing.T) {
	env := newTestEnv(t)
	svc := newMockEmbedder(8, "test-model")
	e := env.engine(t, svc, nil, nil)

	for i, content := range []string{"draft one", "draft two", "draft three"} {
		env.write(t, "note.md", content, i+1)
		e.OnModify("note.md")
		time.Sleep(10 * time.Millisecond)
	}

	require.Eventually(t, func() bool {
		return recordContent(t, e, "note.md") == "draft three"
	}, 2*time.Second, 10*time.Millisecond)

	time.Sleep(100 * time.Millisecond)
	assert.Equal(t, []string{"draft three"}, svc.embedCalls())

	stats, err := e.Stats(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, stats.PendingEdits)
	assert.True(t, stats.Unsaved)
}

func TestOnModifyDropsStaleRecordImmediately(t *testing.T) {
	env := newTestEnv(t)
	env.write(t, "note.md", "original", 1)
	env.cfg.Indexing.DebounceDelay = time.Hour

	e := env.engine(t, newMockEmbedder(8, "test-model"), nil, nil)
	_, err := e.IndexAll(context.Background(), false)
	require.NoError(t, err)
	require.Equal(t, "original", recordContent(t, e, "note.md"))

	env.write(t, "note.md", "edited", 2)
	e.OnModify("note.md")

	assert.Empty(t, recordContent(t, e, "note.md"))
	stats, err := e.Stats(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, stats.PendingEdits)
}

func TestOnModifySkipsFilteredDocuments(t *testing.T) {
	env := newTestEnv(t)
	env.cfg.Indexing.Exclusions = "private"
	svc := newMockEmbedder(8, "test-model")
	e := env.engine(t, svc, nil, nil)

	env.write(t, "private/secret.md", "secret", 1)
	env.write(t, "image.png", "not a note", 1)
	e.OnModify("private/secret.md")
	e.OnModify("image.png")

	time.Sleep(150 * time.Millisecond)
	assert.Empty(t, svc.embedCalls())
}

func TestOnDeleteCancelsPendingEdit(t *testing.T) {
	env := newTestEnv(t)
	svc := newMockEmbedder(8, "test-model")
	e := env.engine(t, svc, nil, nil)

	env.write(t, "gone.md", "short lived", 1)
	e.OnModify("gone.md")
	require.NoError(t, os.Remove(filepath.Join(env.root, "gone.md")))
	e.OnDelete("gone.md")

	time.Sleep(150 * time.Millisecond)
	assert.Empty(t, svc.embedCalls())
	assert.Empty(t, recordContent(t, e, "gone.md"))
}

func TestNeverStrategyIgnoresEdits(t *testing.T) {
	env := newTestEnv(t)
	env.cfg.Indexing.Strategy = config.StrategyNever
	svc := newMockEmbedder(8, "test-model")
	e := env.engine(t, svc, nil, nil)

	env.write(t, "note.md", "ignored", 1)
	e.OnModify("note.md")

	time.Sleep(150 * time.Millisecond)
	assert.Empty(t, svc.embedCalls())
}

func TestIndexDocumentRemovesMissingDocument(t *testing.T) {
	env := newTestEnv(t)
	env.write(t, "a.md", "alpha", 1)

	e := env.engine(t, newMockEmbedder(8, "test-model"), nil, nil)
	ctx := context.Background()
	require.NoError(t, e.IndexDocument(ctx, "a.md"))
	require.Equal(t, "alpha", recordContent(t, e, "a.md"))

	require.NoError(t, os.Remove(filepath.Join(env.root, "a.md")))
	require.NoError(t, e.IndexDocument(ctx, "a.md"))
	assert.Empty(t, recordContent(t, e, "a.md"))
}

func TestCloseFlushesReactorEdits(t *testing.T) {
	env := newTestEnv(t)
	e := env.engine(t, newMockEmbedder(8, "test-model"), nil, nil)

	env.write(t, "note.md", "saved on close", 1)
	require.NoError(t, e.IndexDocument(context.Background(), "note.md"))
	require.NoError(t, e.Close())

	persisted, err := store.Open(env.storePath)
	require.NoError(t, err)
	defer persisted.Close()
	rec, ok := persisted.GetByPath("note.md")
	require.True(t, ok)
	assert.Equal(t, "saved on close", rec.Content)
}

func TestAutosavePersistsDirtyIndex(t *testing.T) {
	env := newTestEnv(t)
	env.cfg.Storage.Autosave = "@every 1s"
	e := env.engine(t, newMockEmbedder(8, "test-model"), nil, nil)

	env.write(t, "note.md", "autosaved", 1)
	require.NoError(t, e.IndexDocument(context.Background(), "note.md"))

	require.Eventually(t, func() bool {
		_, err := os.Stat(env.storePath)
		return err == nil
	}, 3*time.Second, 50*time.Millisecond)
	require.Eventually(t, func() bool {
		stats, err := e.Stats(context.Background())
		return err == nil && !stats.Unsaved
	}, time.Second, 10*time.Millisecond)
}

func TestIndexDocumentLearnsVectorLength(t *testing.T) {
	env := newTestEnv(t)
	env.write(t, "a.md", "alpha", 1)

	svc := newMockEmbedder(8, "test-model")
	svc.unknownDims = true
	e := env.engine(t, svc, nil, nil)
	ctx := context.Background()

	stats, err := e.Stats(ctx)
	require.NoError(t, err)
	require.Equal(t, 0, stats.Dimensions)

	require.NoError(t, e.IndexDocument(ctx, "a.md"))
	stats, err = e.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 8, stats.Dimensions)
	assert.Equal(t, 1, stats.Records)
}

// ollamaServer answers Ollama embed requests with vectors of length dims.
func ollamaServer(t *testing.T, dims int) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Input []string `json:"input"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}

		vectors := make([][]float32, len(req.Input))
		for i, text := range req.Input {
			vec := make([]float32, dims)
			for j := range vec {
				vec[j] = 1
			}
			vec[len(text)%dims] += 1
			vectors[i] = vec
		}

		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{"embeddings": vectors})
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestReactorAdoptsOllamaVectorLength(t *testing.T) {
	env := newTestEnv(t)
	env.write(t, "note.md", "first version", 1)

	srv := ollamaServer(t, 1024)
	svc, err := embeddings.NewOllamaService(srv.URL, "custom-embed")
	require.NoError(t, err)

	e := env.engine(t, svc, nil, nil)
	ctx := context.Background()

	stats, err := e.Stats(ctx)
	require.NoError(t, err)
	require.Equal(t, 768, stats.Dimensions)

	require.NoError(t, e.IndexDocument(ctx, "note.md"))
	stats, err = e.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1024, stats.Dimensions)
	assert.Equal(t, 1, stats.Records)

	env.write(t, "note.md", "second version", 2)
	e.OnModify("note.md")
	require.Eventually(t, func() bool {
		return recordContent(t, e, "note.md") == "second version"
	}, 2*time.Second, 10*time.Millisecond)
}

func TestOnModifyHonorsUpdatedFilter(t *testing.T) {
	env := newTestEnv(t)
	svc := newMockEmbedder(8, "test-model")
	e := env.engine(t, svc, nil, nil)

	env.write(t, "private/secret.md", "secret", 1)
	env.write(t, "public.md", "public", 1)

	e.UpdateFilter("", "private")
	e.OnModify("private/secret.md")
	e.OnModify("public.md")

	require.Eventually(t, func() bool {
		return recordContent(t, e, "public.md") == "public"
	}, 2*time.Second, 10*time.Millisecond)
	time.Sleep(100 * time.Millisecond)
	assert.Equal(t, []string{"public"}, svc.embedCalls())
	assert.Empty(t, recordContent(t, e, "private/secret.md"))
}

func TestDebounceIsPerDocument(t *testing.T) {
	env := newTestEnv(t)
	env.cfg.Indexing.DebounceDelay = 150 * time.Millisecond
	svc := newMockEmbedder(8, "test-model")
	e := env.engine(t, svc, nil, nil)

	env.write(t, "a.md", "alpha", 1)
	e.OnModify("a.md")

	// b.md keeps changing for three times the quiet period
	for i := 0; i < 15; i++ {
		env.write(t, "b.md", fmt.Sprintf("beta draft %d", i), i+1)
		e.OnModify("b.md")
		time.Sleep(30 * time.Millisecond)
	}

	assert.Equal(t, "alpha", recordContent(t, e, "a.md"))
	assert.Empty(t, recordContent(t, e, "b.md"))
	stats, err := e.Stats(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, stats.PendingEdits)

	require.Eventually(t, func() bool {
		return recordContent(t, e, "b.md") == "beta draft 14"
	}, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, []string{"alpha", "beta draft 14"}, svc.embedCalls())
}

func TestOnDeleteRemovesDirectory(t *testing.T) {
	env := newTestEnv(t)
	env.write(t, "projects/a.md", "alpha", 1)
	env.write(t, "projects/sub/b.md", "beta", 2)
	env.write(t, "projects-archive/c.md", "gamma", 3)
	env.write(t, "other.md", "delta", 4)

	e := env.engine(t, newMockEmbedder(8, "test-model"), nil, nil)
	ctx := context.Background()
	_, err := e.IndexAll(ctx, false)
	require.NoError(t, err)

	require.NoError(t, os.RemoveAll(filepath.Join(env.root, "projects")))
	e.OnDelete("projects")

	assert.Empty(t, recordContent(t, e, "projects/a.md"))
	assert.Empty(t, recordContent(t, e, "projects/sub/b.md"))
	assert.Equal(t, "gamma", recordContent(t, e, "projects-archive/c.md"))
	assert.Equal(t, "delta", recordContent(t, e, "other.md"))

	stats, err := e.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, stats.Records)
	assert.True(t, stats.Unsaved)
}
