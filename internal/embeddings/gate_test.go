package embeddings

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// countingService records call counts and the peak number of concurrent calls.
type countingService struct {
	delay    time.Duration
	calls    atomic.Int32
	inFlight atomic.Int32
	peak     atomic.Int32
}

func (c *countingService) call() []float32 {
	c.calls.Add(1)
	n := c.inFlight.Add(1)
	for {
		p := c.peak.Load()
		if n <= p || c.peak.CompareAndSwap(p, n) {
			break
		}
	}
	time.Sleep(c.delay)
	c.inFlight.Add(-1)
	return []float32{1, 2, 3}
}

func (c *countingService) Embed(ctx context.Context, text string) ([]float32, error) {
	return c.call(), nil
}

func (c *countingService) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	return c.call(), nil
}

func (c *countingService) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	return [][]float32{c.call()}, nil
}

func (c *countingService) Dimensions() int    { return 3 }
func (c *countingService) Provider() Provider { return ProviderOllama }
func (c *countingService) ModelName() string  { return "counting" }

var _ Service = (*countingService)(nil)

func TestGateSerializesCalls(t *testing.T) {
	inner := &countingService{delay: 10 * time.Millisecond}
	gate := NewGate(inner, GateOptions{})

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := gate.Embed(context.Background(), "text")
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(8), inner.calls.Load())
	assert.Equal(t, int32(1), inner.peak.Load(), "gate must never allow concurrent provider calls")
}

func TestGateThrottles(t *testing.T) {
	inner := &countingService{}
	gate := NewGate(inner, GateOptions{RequestsPerSecond: 20, Burst: 1})

	start := time.Now()
	for i := 0; i < 5; i++ {
		_, err := gate.Embed(context.Background(), "text")
		require.NoError(t, err)
	}

	// First call uses the burst, the other four wait 50ms each
	assert.GreaterOrEqual(t, time.Since(start), 180*time.Millisecond)
}

func TestGateHonorsContext(t *testing.T) {
	inner := &countingService{}
	gate := NewGate(inner, GateOptions{RequestsPerSecond: 0.5, Burst: 1})

	_, err := gate.Embed(context.Background(), "first")
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err = gate.Embed(ctx, "second")
	assert.Error(t, err)
	assert.Equal(t, int32(1), inner.calls.Load())
}

func TestQueryCache(t *testing.T) {
	inner := &countingService{}
	svc := NewQueryCache(inner, 16, time.Minute)

	v1, err := svc.EmbedQuery(context.Background(), "what is a watermark")
	require.NoError(t, err)
	v2, err := svc.EmbedQuery(context.Background(), "what is a watermark")
	require.NoError(t, err)

	assert.Equal(t, v1, v2)
	assert.Equal(t, int32(1), inner.calls.Load())

	// Mutating a returned vector must not poison the cache
	v2[0] = 99
	v3, _ := svc.EmbedQuery(context.Background(), "what is a watermark")
	assert.Equal(t, float32(1), v3[0])

	// Document embeddings are never cached
	_, _ = svc.Embed(context.Background(), "doc")
	_, _ = svc.Embed(context.Background(), "doc")
	assert.Equal(t, int32(3), inner.calls.Load())
}

func TestQueryCacheDisabled(t *testing.T) {
	inner := &countingService{}
	assert.Same(t, Service(inner), NewQueryCache(inner, 0, time.Minute))
	assert.Same(t, Service(inner), NewQueryCache(inner, 10, 0))
}
