package index

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strconv"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Aman-CERP/amansearch/internal/embed"
	amanerrors "github.com/Aman-CERP/amansearch/internal/errors"
	"github.com/Aman-CERP/amansearch/internal/store"
)

const testDims = 768

func newStores(t *testing.T) Stores {
	t.Helper()
	terms, err := store.OpenBleveTermIndex("", store.TermIndexConfig{DefaultLanguage: "en"})
	require.NoError(t, err)
	coarse, err := store.NewHNSWCoarseIndex(store.CoarseConfig{Dimensions: 64})
	require.NoError(t, err)
	vectors, err := store.OpenBadgerVectorStore("", testDims)
	require.NoError(t, err)
	meta, err := store.OpenSQLiteMetadataStore("")
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = terms.Close()
		_ = coarse.Close()
		_ = vectors.Close()
		_ = meta.Close()
	})
	return Stores{Terms: terms, Coarse: coarse, Vectors: vectors, Metadata: meta}
}

func newLoader(t *testing.T, stores Stores, e embed.Embedder, cfg Config) *Loader {
	t.Helper()
	cfg.MRLDimensions = embed.DefaultMRLDimensions
	l, err := NewLoader(stores, e, cfg)
	require.NoError(t, err)
	return l
}

func corpus() []Document {
	return []Document{
		{
			ID:     "ml",
			Title:  "Intro to ML (Part 1/3)",
			Tags:   []string{"topic/ai"},
			Scheme: "kb/public",
			Chunks: []InputChunk{{Text: "Course outline."}, {Text: "Machine learning uses data."}, {Text: "Summary."}},
		},
		{ID: "zh", Title: "人工智能", Language: "zh", Tags: []string{"topic/ai"}, Text: "人工智能和机器学习"},
	}
}

// failingEmbedder fails every batch after the first.
type failingEmbedder struct {
	embed.Embedder
	calls atomic.Int32
}

func (f *failingEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if f.calls.Add(1) > 1 {
		return nil, errors.New("provider unavailable")
	}
	return f.Embedder.EmbedBatch(ctx, texts)
}

// =============================================================================
// Construction
// =============================================================================

func TestNewLoader_Validation(t *testing.T) {
	stores := newStores(t)

	_, err := NewLoader(Stores{}, embed.NewStaticEmbedder(testDims, nil), Config{})
	require.Error(t, err)

	_, err = NewLoader(stores, nil, Config{})
	require.Error(t, err)

	_, err = NewLoader(stores, embed.NewStaticEmbedder(256, nil), Config{})
	assert.True(t, amanerrors.HasCode(err, amanerrors.ErrCodeDimensionMismatch))

	_, err = NewLoader(stores, embed.NewStaticEmbedder(testDims, nil), Config{MRLDimensions: []int{768, 128}})
	assert.True(t, amanerrors.HasCode(err, amanerrors.ErrCodeUnsupportedDimension))
}

// =============================================================================
// Load
// =============================================================================

func TestLoad_WritesEveryStore(t *testing.T) {
	// Given: empty in-memory stores
	ctx := context.Background()
	stores := newStores(t)
	var progress []int
	l := newLoader(t, stores, embed.NewStaticEmbedder(testDims, embed.DefaultMRLDimensions), Config{
		BatchSize: 2,
		Workers:   2,
		Progress:  func(done, _ int) { progress = append(progress, done) },
	})

	// When: loading two documents with four chunks
	res, err := l.Load(ctx, corpus())

	// Then: every store holds every chunk
	require.NoError(t, err)
	assert.Equal(t, 2, res.Documents)
	assert.Equal(t, 4, res.Chunks)
	assert.Zero(t, res.Replaced)
	assert.Len(t, progress, 2)

	docs, err := stores.Metadata.DocumentCount(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, docs)

	meta, err := stores.Metadata.Chunks(ctx, []string{ChunkID("ml", 2)})
	require.NoError(t, err)
	m := meta[ChunkID("ml", 2)]
	assert.Equal(t, 2, m.Sequence)
	assert.Equal(t, 3, m.TotalChunks)
	assert.Equal(t, "Machine learning uses data.", m.Text)

	terms, err := stores.Terms.Count()
	require.NoError(t, err)
	assert.Equal(t, 4, terms)
	assert.Equal(t, 4, stores.Coarse.Count())
	n, err := stores.Vectors.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 4, n)

	dim, err := stores.Metadata.GetState(ctx, store.StateKeyIndexDimension)
	require.NoError(t, err)
	assert.Equal(t, "768", dim)
	coarseDim, err := stores.Metadata.GetState(ctx, store.StateKeyCoarseDimension)
	require.NoError(t, err)
	assert.Equal(t, "64", coarseDim)

	check, err := Check(ctx, stores)
	require.NoError(t, err)
	assert.True(t, check.OK(), "%v", check.Inconsistencies)
	assert.Equal(t, 4, check.Checked)
}

func TestLoad_ReplacesChain(t *testing.T) {
	// Given: a loaded three-chunk document
	ctx := context.Background()
	stores := newStores(t)
	l := newLoader(t, stores, embed.NewStaticEmbedder(testDims, embed.DefaultMRLDimensions), Config{})
	_, err := l.Load(ctx, corpus())
	require.NoError(t, err)

	// When: reloading it with one chunk
	res, err := l.Load(ctx, []Document{{ID: "ml", Title: "Intro to ML", Text: "Rewritten."}})

	// Then: stale chunks are gone from every store
	require.NoError(t, err)
	assert.Equal(t, 1, res.Replaced)

	chunks, err := stores.Metadata.ChunkCount(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, chunks)
	assert.False(t, stores.Coarse.Has(ChunkID("ml", 3)))
	assert.True(t, stores.Coarse.Has(ChunkID("ml", 1)))
	vecs, err := stores.Vectors.Get(ctx, []string{ChunkID("ml", 1), ChunkID("ml", 2), ChunkID("ml", 3)})
	require.NoError(t, err)
	assert.Len(t, vecs, 1)
	assert.Contains(t, vecs, ChunkID("ml", 1))

	check, err := Check(ctx, stores)
	require.NoError(t, err)
	assert.True(t, check.OK(), "%v", check.Inconsistencies)
}

func TestLoad_InvalidRecord(t *testing.T) {
	stores := newStores(t)
	l := newLoader(t, stores, embed.NewStaticEmbedder(testDims, embed.DefaultMRLDimensions), Config{})

	_, err := l.Load(context.Background(), []Document{{ID: "ok", Text: "x"}, {Title: "no id"}})

	require.Error(t, err)
	assert.True(t, amanerrors.HasCode(err, amanerrors.ErrCodeInvalidInput))
	assert.Contains(t, err.Error(), "record 2")
}

func TestLoad_DimensionRecordedMismatch(t *testing.T) {
	ctx := context.Background()
	stores := newStores(t)
	require.NoError(t, stores.Metadata.SetState(ctx, store.StateKeyIndexDimension, "1024"))
	l := newLoader(t, stores, embed.NewStaticEmbedder(testDims, embed.DefaultMRLDimensions), Config{})

	_, err := l.Load(ctx, corpus())

	assert.True(t, amanerrors.HasCode(err, amanerrors.ErrCodeDimensionMismatch))
}

func TestLoad_ModelRecordedMismatch(t *testing.T) {
	// Given: an index built by another model with the same dimension
	ctx := context.Background()
	stores := newStores(t)
	require.NoError(t, stores.Metadata.SetState(ctx, store.StateKeyIndexDimension, strconv.Itoa(testDims)))
	require.NoError(t, stores.Metadata.SetState(ctx, store.StateKeyIndexModel, "other-embedder"))
	l := newLoader(t, stores, embed.NewStaticEmbedder(testDims, embed.DefaultMRLDimensions), Config{})

	// When: loading
	_, err := l.Load(ctx, corpus())

	// Then: the load is refused before anything is written
	require.Error(t, err)
	assert.True(t, amanerrors.HasCode(err, amanerrors.ErrCodeModelMismatch))
	assert.Contains(t, err.Error(), "other-embedder")
	n, err := stores.Terms.Count()
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestCheckEmbedder(t *testing.T) {
	e := embed.NewStaticEmbedder(testDims, embed.DefaultMRLDimensions)
	tests := []struct {
		name     string
		dims     string
		model    string
		wantCode string
	}{
		{"nothing recorded", "", "", ""},
		{"same model", strconv.Itoa(testDims), e.ModelName(), ""},
		{"dimension only", strconv.Itoa(testDims), "", ""},
		{"other dimension", "1024", e.ModelName(), amanerrors.ErrCodeDimensionMismatch},
		{"other model", strconv.Itoa(testDims), "nomic-embed-text", amanerrors.ErrCodeModelMismatch},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx := context.Background()
			stores := newStores(t)
			if tt.dims != "" {
				require.NoError(t, stores.Metadata.SetState(ctx, store.StateKeyIndexDimension, tt.dims))
			}
			if tt.model != "" {
				require.NoError(t, stores.Metadata.SetState(ctx, store.StateKeyIndexModel, tt.model))
			}

			err := CheckEmbedder(ctx, stores.Metadata, e)

			if tt.wantCode == "" {
				assert.NoError(t, err)
				return
			}
			assert.True(t, amanerrors.HasCode(err, tt.wantCode), "got %v", err)
		})
	}
}

func TestLoad_EmbeddingFailure(t *testing.T) {
	// Given: a provider that fails after the first batch
	stores := newStores(t)
	e := &failingEmbedder{Embedder: embed.NewStaticEmbedder(testDims, embed.DefaultMRLDimensions)}
	l := newLoader(t, stores, e, Config{BatchSize: 1, Workers: 1})

	// When: loading
	_, err := l.Load(context.Background(), corpus())

	// Then: nothing is written
	require.Error(t, err)
	assert.True(t, amanerrors.HasCode(err, amanerrors.ErrCodeLoadFailed))
	n, cerr := stores.Metadata.DocumentCount(context.Background())
	require.NoError(t, cerr)
	assert.Zero(t, n)
}

func TestLoad_Canceled(t *testing.T) {
	stores := newStores(t)
	l := newLoader(t, stores, embed.NewStaticEmbedder(testDims, embed.DefaultMRLDimensions), Config{})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := l.Load(ctx, corpus())
	require.Error(t, err)
}

func TestLoad_DataDirLockAndGraph(t *testing.T) {
	// Given: a data directory whose lock is already held
	dir := t.TempDir()
	stores := newStores(t)
	l := newLoader(t, stores, embed.NewStaticEmbedder(testDims, embed.DefaultMRLDimensions), Config{DataDir: dir})

	held := store.NewIndexLock(dir)
	require.NoError(t, held.TryLock())

	// When/Then: loading fails while the lock is held
	_, err := l.Load(context.Background(), corpus())
	assert.True(t, amanerrors.HasCode(err, amanerrors.ErrCodeIndexLocked))

	// When/Then: after release the load persists the coarse graph
	require.NoError(t, held.Unlock())
	_, err = l.Load(context.Background(), corpus())
	require.NoError(t, err)
	_, statErr := os.Stat(filepath.Join(dir, store.CoarseFile))
	assert.NoError(t, statErr)
}

// =============================================================================
// Consistency
// =============================================================================

func TestCheck_DetectsMissingEntries(t *testing.T) {
	// Given: a loaded index with one vector removed behind the loader's back
	ctx := context.Background()
	stores := newStores(t)
	l := newLoader(t, stores, embed.NewStaticEmbedder(testDims, embed.DefaultMRLDimensions), Config{})
	_, err := l.Load(ctx, corpus())
	require.NoError(t, err)
	victim := ChunkID("zh", 1)
	require.NoError(t, stores.Vectors.Delete(ctx, []string{victim}))
	require.NoError(t, stores.Coarse.Delete(ctx, []string{victim}))

	// When: checking
	res, err := Check(ctx, stores)

	// Then: both missing entries are reported
	require.NoError(t, err)
	require.Len(t, res.Inconsistencies, 2)
	types := []string{res.Inconsistencies[0].Type.String(), res.Inconsistencies[1].Type.String()}
	assert.ElementsMatch(t, []string{"missing_vector", "missing_coarse"}, types)
	assert.Equal(t, victim, res.Inconsistencies[0].ChunkID)
}
