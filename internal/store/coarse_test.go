package store

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestCoarse(t *testing.T) *HNSWCoarseIndex {
	t.Helper()
	idx, err := NewHNSWCoarseIndex(CoarseConfig{Dimensions: 4})
	require.NoError(t, err)
	t.Cleanup(func() { _ = idx.Close() })

	err = idx.Add(context.Background(),
		[]string{"a", "b", "c"},
		[][]float32{{1, 0, 0, 0}, {0, 1, 0, 0}, {0.9, 0.1, 0, 0}})
	require.NoError(t, err)
	return idx
}

// =============================================================================
// ANN search
// =============================================================================

func TestHNSWCoarseIndex_Search(t *testing.T) {
	// Given: three vectors where c is close to a
	idx := newTestCoarse(t)

	// When: searching near a with the default ef and a custom ef
	for _, ef := range []int{0, 200} {
		hits, err := idx.Search(context.Background(), []float32{1, 0, 0, 0}, 2, ef)
		require.NoError(t, err)

		// Then: a comes first, then c
		require.Len(t, hits, 2)
		assert.Equal(t, "a", hits[0].ID)
		assert.Equal(t, "c", hits[1].ID)
		assert.Greater(t, hits[0].Score, float32(0.99))
	}
}

func TestHNSWCoarseIndex_CustomEfSearchesConcurrently(t *testing.T) {
	// Given: a reader holding the index open
	idx := newTestCoarse(t)
	idx.mu.RLock()

	// When: several searches with a tuned ef run meanwhile
	var wg sync.WaitGroup
	done := make(chan struct{})
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			hits, err := idx.Search(context.Background(), []float32{1, 0, 0, 0}, 2, 100)
			assert.NoError(t, err)
			assert.Len(t, hits, 2)
		}()
	}
	go func() { wg.Wait(); close(done) }()

	// Then: they finish without waiting for the reader
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("search with a custom ef waited for the read lock holder")
	}
	idx.mu.RUnlock()
	assert.Equal(t, 40, idx.graph.EfSearch)
}

func TestHNSWCoarseIndex_DeleteSkipsOrphans(t *testing.T) {
	// Given: a graph where a is deleted lazily
	idx := newTestCoarse(t)
	require.NoError(t, idx.Delete(context.Background(), []string{"a"}))

	// When: searching near a for 2 results
	hits, err := idx.Search(context.Background(), []float32{1, 0, 0, 0}, 2, 0)
	require.NoError(t, err)

	// Then: the orphan is skipped and two live vectors still come back
	require.Len(t, hits, 2)
	assert.Equal(t, "c", hits[0].ID)
	assert.Equal(t, "b", hits[1].ID)
	assert.Equal(t, 2, idx.Count())
	assert.Equal(t, 1, idx.Orphans())
}

func TestHNSWCoarseIndex_ReplaceExistingID(t *testing.T) {
	// Given: a re-added with a new vector
	idx := newTestCoarse(t)
	require.NoError(t, idx.Add(context.Background(), []string{"a"}, [][]float32{{0, 0, 0, 1}}))

	// When: searching along the new direction
	hits, err := idx.Search(context.Background(), []float32{0, 0, 0, 1}, 1, 0)
	require.NoError(t, err)

	// Then: a is found there and the count is unchanged
	require.Len(t, hits, 1)
	assert.Equal(t, "a", hits[0].ID)
	assert.Equal(t, 3, idx.Count())
}

func TestHNSWCoarseIndex_DimensionMismatch(t *testing.T) {
	idx := newTestCoarse(t)

	_, err := idx.Search(context.Background(), []float32{1, 0}, 1, 0)
	var dm ErrDimensionMismatch
	require.ErrorAs(t, err, &dm)
	assert.Equal(t, 4, dm.Expected)

	err = idx.Add(context.Background(), []string{"x"}, [][]float32{{1}})
	require.ErrorAs(t, err, &dm)
}

func TestHNSWCoarseIndex_EmptyGraph(t *testing.T) {
	idx, err := NewHNSWCoarseIndex(CoarseConfig{Dimensions: 4})
	require.NoError(t, err)

	hits, err := idx.Search(context.Background(), []float32{1, 0, 0, 0}, 5, 0)
	require.NoError(t, err)
	assert.Empty(t, hits)
}

// =============================================================================
// Exact scan
// =============================================================================

func TestHNSWCoarseIndex_Scan(t *testing.T) {
	// Given: three vectors
	idx := newTestCoarse(t)

	// When: scanning only b and c, plus an unknown id
	hits, err := idx.Scan(context.Background(), []float32{1, 0, 0, 0}, []string{"b", "c", "zzz"}, 10)
	require.NoError(t, err)

	// Then: only the requested known ids are scored, best first
	require.Len(t, hits, 2)
	assert.Equal(t, "c", hits[0].ID)
	assert.Equal(t, "b", hits[1].ID)
	assert.InDelta(t, 0.0, hits[1].Score, 1e-6)
}

func TestHNSWCoarseIndex_ScanTruncatesToK(t *testing.T) {
	idx := newTestCoarse(t)

	hits, err := idx.Scan(context.Background(), []float32{1, 0, 0, 0}, []string{"a", "b", "c"}, 1)
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, "a", hits[0].ID)
}

// =============================================================================
// Persistence
// =============================================================================

func TestHNSWCoarseIndex_SaveLoad(t *testing.T) {
	// Given: a saved graph
	idx := newTestCoarse(t)
	path := filepath.Join(t.TempDir(), CoarseFile)
	require.NoError(t, idx.Save(path))

	// When: loading into a fresh index
	loaded, err := NewHNSWCoarseIndex(CoarseConfig{Dimensions: 4})
	require.NoError(t, err)
	require.NoError(t, loaded.Load(path))

	// Then: search and scan behave the same
	hits, err := loaded.Search(context.Background(), []float32{1, 0, 0, 0}, 1, 0)
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, "a", hits[0].ID)

	scanned, err := loaded.Scan(context.Background(), []float32{0, 1, 0, 0}, []string{"b"}, 1)
	require.NoError(t, err)
	require.Len(t, scanned, 1)

	dims, err := ReadCoarseDimensions(path)
	require.NoError(t, err)
	assert.Equal(t, 4, dims)
}

func TestReadCoarseDimensions_Missing(t *testing.T) {
	dims, err := ReadCoarseDimensions(filepath.Join(t.TempDir(), "none.hnsw"))
	require.NoError(t, err)
	assert.Equal(t, 0, dims)
}

func TestHNSWCoarseIndex_LoadRejectsOtherDimensions(t *testing.T) {
	idx := newTestCoarse(t)
	path := filepath.Join(t.TempDir(), CoarseFile)
	require.NoError(t, idx.Save(path))

	other, err := NewHNSWCoarseIndex(CoarseConfig{Dimensions: 8})
	require.NoError(t, err)

	var dm ErrDimensionMismatch
	require.ErrorAs(t, other.Load(path), &dm)
}
