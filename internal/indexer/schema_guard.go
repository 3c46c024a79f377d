package indexer

import (
	"context"
	"fmt"

	"github.com/charmbracelet/log"

	"github.com/nickcecere/vaultidx/internal/embeddings"
	"github.com/nickcecere/vaultidx/internal/store"
)

// probeText is embedded to learn the provider's current vector length.
const probeText = "vector length probe"

// guardResult describes what the schema guard did.
type guardResult struct {
	rebuilt   bool // Store was replaced; a full reindex is required
	discarded int  // Records dropped with the old store
}

// EnsureCorrectSchema checks the store against the embedding provider and
// rebuilds it when the vector length or the embedding model changed. A
// rebuild makes the next IndexAll a full run.
func (e *Engine) EnsureCorrectSchema(ctx context.Context) error {
	ok, err := e.await(ctx)
	if err != nil || !ok {
		return err
	}
	if !e.running.CompareAndSwap(false, true) {
		return ErrRunInProgress
	}
	defer e.running.Store(false)

	res, err := e.ensureSchema(ctx)
	if err != nil {
		return err
	}
	if res.rebuilt {
		e.forceFull.Store(true)
		if res.discarded > 0 {
			e.dirty.Store(true)
		}
	}
	return nil
}

// ensureSchema runs with run exclusivity held.
func (e *Engine) ensureSchema(ctx context.Context) (guardResult, error) {
	vec, err := e.embedder.Embed(ctx, probeText)
	if err != nil {
		return guardResult{}, fmt.Errorf("embedding provider probe failed: %w", err)
	}
	if len(vec) == 0 {
		return guardResult{}, fmt.Errorf("embedding provider probe failed: %w", embeddings.ErrEmptyEmbedding)
	}

	identity := embeddings.IdentityOf(e.embedder).String()
	current := e.currentIndex()
	schema := current.Schema()

	var reason string
	switch {
	case schema.Dimensions != len(vec):
		reason = fmt.Sprintf("vector length changed from %d to %d", schema.Dimensions, len(vec))
	default:
		if sample, ok := current.Sample(); ok {
			if !embeddings.EquivalentStrings(sample.EmbeddingModel, identity) {
				reason = fmt.Sprintf("embedding model changed from %s to %s", sample.EmbeddingModel, identity)
			}
		} else if schema.Model != "" && !embeddings.EquivalentStrings(schema.Model, identity) {
			reason = fmt.Sprintf("embedding model changed from %s to %s", schema.Model, identity)
		}
	}
	if reason == "" {
		return guardResult{}, nil
	}

	fresh, err := store.NewIndex(store.Schema{Dimensions: len(vec), Model: identity})
	if err != nil {
		return guardResult{}, fmt.Errorf("failed to create index: %w", err)
	}

	old := e.replaceIndex(fresh)
	discarded := old.Len()
	if err := old.Close(); err != nil {
		log.Debug("Failed to close discarded index", "error", err)
	}

	log.Debug("Replaced index", "reason", reason, "discarded", discarded)
	if discarded > 0 {
		e.notify(Notice{
			Kind:    NoticeRebuild,
			Message: fmt.Sprintf("Rebuilding index: %s", reason),
			Count:   discarded,
		})
	}

	return guardResult{rebuilt: true, discarded: discarded}, nil
}
