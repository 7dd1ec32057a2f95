package embed

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// ============================================================================
// Single embeddings
// ============================================================================

func TestCachedEmbedder_RepeatedQueryHitsCache(t *testing.T) {
	// Given: a cached embedder over a counting mock
	inner := newMockEmbedder(8)
	cached := NewCachedEmbedder(inner, 10)
	ctx := context.Background()

	// When: the same text is embedded twice
	first, err := cached.Embed(ctx, "hello")
	require.NoError(t, err)
	second, err := cached.Embed(ctx, "hello")
	require.NoError(t, err)

	// Then: the provider is called once and both results agree
	assert.Equal(t, int64(1), inner.embedCalls.Load())
	assert.Equal(t, first, second)
	stats := cached.Stats()
	assert.Equal(t, uint64(1), stats.Hits)
	assert.Equal(t, uint64(1), stats.Misses)
	assert.Equal(t, 1, stats.Size)
}

func TestCachedEmbedder_ErrorsAreNotCached(t *testing.T) {
	inner := newMockEmbedder(8)
	inner.err = assert.AnError
	inner.failures.Store(1)
	cached := NewCachedEmbedder(inner, 10)

	_, err := cached.Embed(context.Background(), "x")
	require.Error(t, err)

	_, err = cached.Embed(context.Background(), "x")
	require.NoError(t, err)
	assert.Equal(t, int64(2), inner.embedCalls.Load())
}

func TestCachedEmbedder_KeyIncludesModel(t *testing.T) {
	inner := newMockEmbedder(8)
	cached := NewCachedEmbedder(inner, 10)
	ctx := context.Background()

	_, _ = cached.Embed(ctx, "q")
	inner.modelName = "other-model"
	_, _ = cached.Embed(ctx, "q")

	assert.Equal(t, int64(2), inner.embedCalls.Load())
}

func TestCachedEmbedder_EvictsLeastRecentlyUsed(t *testing.T) {
	inner := newMockEmbedder(4)
	cached := NewCachedEmbedder(inner, 2)
	ctx := context.Background()

	for _, q := range []string{"a", "b", "c"} {
		_, err := cached.Embed(ctx, q)
		require.NoError(t, err)
	}
	_, _ = cached.Embed(ctx, "a")

	assert.Equal(t, int64(4), inner.embedCalls.Load(), "a was evicted by c")
}

// ============================================================================
// Batches
// ============================================================================

func TestCachedEmbedder_BatchForwardsOnlyMisses(t *testing.T) {
	// Given: one of three texts is already cached
	inner := newMockEmbedder(4)
	cached := NewCachedEmbedder(inner, 10)
	ctx := context.Background()
	_, err := cached.Embed(ctx, "bb")
	require.NoError(t, err)

	// When: embedding a batch containing it
	vecs, err := cached.EmbedBatch(ctx, []string{"a", "bb", "ccc"})
	require.NoError(t, err)

	// Then: results keep input order and one batch call was made
	require.Len(t, vecs, 3)
	assert.Equal(t, inner.vector("a"), vecs[0])
	assert.Equal(t, inner.vector("bb"), vecs[1])
	assert.Equal(t, inner.vector("ccc"), vecs[2])
	assert.Equal(t, int64(1), inner.batchCalls.Load())

	// And: a fully cached batch makes no call
	_, err = cached.EmbedBatch(ctx, []string{"a", "ccc"})
	require.NoError(t, err)
	assert.Equal(t, int64(1), inner.batchCalls.Load())
}

func TestCachedEmbedder_EmptyBatch(t *testing.T) {
	cached := NewCachedEmbedder(newMockEmbedder(4), 0)
	vecs, err := cached.EmbedBatch(context.Background(), nil)
	require.NoError(t, err)
	assert.Empty(t, vecs)
}

func TestCachedEmbedder_Passthrough(t *testing.T) {
	inner := newMockEmbedder(16)
	cached := NewCachedEmbedder(inner, 1)

	assert.Equal(t, 16, cached.Dimensions())
	assert.Equal(t, "mock-model", cached.ModelName())
	assert.True(t, cached.Available(context.Background()))
	assert.Same(t, inner, cached.Inner())

	_, _ = cached.Embed(context.Background(), "x")
	cached.Purge()
	assert.Equal(t, 0, cached.Stats().Size)
}

func TestCachedEmbedder_BatchDeduplicatesMisses(t *testing.T) {
	// Given: a batch repeating one uncached text
	inner := newMockEmbedder(4)
	cached := NewCachedEmbedder(inner, 10)

	// When: embedding it
	vecs, err := cached.EmbedBatch(context.Background(), []string{"dup", "x", "dup"})

	// Then: every position is filled and the repeat is cached once
	require.NoError(t, err)
	require.Len(t, vecs, 3)
	assert.Equal(t, vecs[0], vecs[2])
	assert.Equal(t, inner.vector("x"), vecs[1])
	assert.Equal(t, 2, cached.Stats().Size)
}

func TestCachedEmbedder_ConcurrentMissesShareCall(t *testing.T) {
	// Given: a provider that blocks until released
	inner := &blockingEmbedder{mockEmbedder: newMockEmbedder(4), release: make(chan struct{})}
	cached := NewCachedEmbedder(inner, 10)

	// When: several callers ask for the same text at once
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := cached.Embed(context.Background(), "same query")
			assert.NoError(t, err)
		}()
	}
	assert.Eventually(t, func() bool { return inner.embedCalls.Load() == 1 }, time.Second, time.Millisecond)
	time.Sleep(10 * time.Millisecond)
	close(inner.release)
	wg.Wait()

	// Then: one provider call served every caller
	assert.Equal(t, int64(1), inner.embedCalls.Load())
}

func TestCachedEmbedder_WaiterHonorsOwnContext(t *testing.T) {
	inner := &blockingEmbedder{mockEmbedder: newMockEmbedder(4), release: make(chan struct{})}
	defer close(inner.release)
	cached := NewCachedEmbedder(inner, 10)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err := cached.Embed(ctx, "slow")

	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestCachedEmbedder_CancelledStarterDoesNotFailOthers(t *testing.T) {
	// Given: caller A starts a shared call that blocks until released
	inner := &blockingEmbedder{mockEmbedder: newMockEmbedder(4), release: make(chan struct{})}
	cached := NewCachedEmbedder(inner, 10)
	ctxA, cancelA := context.WithCancel(context.Background())
	errA := make(chan error, 1)
	go func() {
		_, err := cached.Embed(ctxA, "shared query")
		errA <- err
	}()
	require.Eventually(t, func() bool { return inner.embedCalls.Load() == 1 }, time.Second, time.Millisecond)

	// When: caller B joins the same text and A disconnects
	type result struct {
		vec []float32
		err error
	}
	resB := make(chan result, 1)
	go func() {
		vec, err := cached.Embed(context.Background(), "shared query")
		resB <- result{vec, err}
	}()
	time.Sleep(10 * time.Millisecond)
	cancelA()
	require.ErrorIs(t, <-errA, context.Canceled)
	close(inner.release)

	// Then: B still gets the vector and it is cached
	got := <-resB
	require.NoError(t, got.err)
	assert.Equal(t, inner.vector("shared query"), got.vec)
	_, err := cached.Embed(context.Background(), "shared query")
	require.NoError(t, err)
	assert.Equal(t, int64(1), inner.embedCalls.Load())
}

func TestCachedEmbedder_SharedCallIsBounded(t *testing.T) {
	inner := &blockingEmbedder{mockEmbedder: newMockEmbedder(4), release: make(chan struct{})}
	defer close(inner.release)
	cached := NewCachedEmbedder(inner, 10)
	cached.callTimeout = 20 * time.Millisecond

	_, err := cached.Embed(context.Background(), "never answered")

	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Zero(t, cached.Stats().Size)
}

// blockingEmbedder holds Embed until release is closed or ctx ends.
type blockingEmbedder struct {
	*mockEmbedder
	release chan struct{}
}

func (b *blockingEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	b.embedCalls.Add(1)
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-b.release:
		return b.vector(text), nil
	}
}
