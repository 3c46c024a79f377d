package embeddings

import (
	"context"
	"fmt"

	"golang.org/x/sync/semaphore"
	"golang.org/x/time/rate"
)

// GateOptions configures a Gate.
type GateOptions struct {
	// RequestsPerSecond caps the provider call rate. Zero means unlimited.
	RequestsPerSecond float64

	// Burst is the number of calls allowed back to back before throttling.
	Burst int
}

// Gate serializes and throttles calls into an embedding provider. At most one
// call is in flight at a time, and calls are spaced by the configured rate.
// Waiting honors context cancellation; the provider call itself is never
// timed out here.
type Gate struct {
	inner   Service
	sem     *semaphore.Weighted
	limiter *rate.Limiter
}

// NewGate wraps inner with a single-flight, rate-limited gate.
func NewGate(inner Service, opts GateOptions) *Gate {
	limit := rate.Inf
	if opts.RequestsPerSecond > 0 {
		limit = rate.Limit(opts.RequestsPerSecond)
	}
	burst := opts.Burst
	if burst < 1 {
		burst = 1
	}

	return &Gate{
		inner:   inner,
		sem:     semaphore.NewWeighted(1),
		limiter: rate.NewLimiter(limit, burst),
	}
}

func (g *Gate) acquire(ctx context.Context) (func(), error) {
	if err := g.sem.Acquire(ctx, 1); err != nil {
		return nil, err
	}
	if err := g.limiter.Wait(ctx); err != nil {
		g.sem.Release(1)
		return nil, fmt.Errorf("embedding gate: %w", err)
	}
	return func() { g.sem.Release(1) }, nil
}

// Embed generates a document embedding through the gate.
func (g *Gate) Embed(ctx context.Context, text string) ([]float32, error) {
	release, err := g.acquire(ctx)
	if err != nil {
		return nil, err
	}
	defer release()
	return g.inner.Embed(ctx, text)
}

// EmbedQuery generates a query embedding through the gate.
func (g *Gate) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	release, err := g.acquire(ctx)
	if err != nil {
		return nil, err
	}
	defer release()
	return g.inner.EmbedQuery(ctx, text)
}

// EmbedBatch counts as a single call against the rate.
func (g *Gate) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	release, err := g.acquire(ctx)
	if err != nil {
		return nil, err
	}
	defer release()
	return g.inner.EmbedBatch(ctx, texts)
}

func (g *Gate) Dimensions() int    { return g.inner.Dimensions() }
func (g *Gate) Provider() Provider { return g.inner.Provider() }
func (g *Gate) ModelName() string  { return g.inner.ModelName() }

var _ Service = (*Gate)(nil)
