package store

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Aman-CERP/amansearch/internal/filter"
)

func newTestMetadata(t *testing.T) *SQLiteMetadataStore {
	t.Helper()
	s, err := OpenSQLiteMetadataStore("")
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })

	ctx := context.Background()
	require.NoError(t, s.UpsertDocument(ctx,
		Document{ID: "d1", Title: "Rust async (Part 1/2)", Tags: []string{"Lang/Rust", "async"}, Schemes: []string{"kb/eng"}},
		[]Chunk{{ID: "d1-0", DocumentID: "d1", Sequence: 0, Text: "futures"}, {ID: "d1-1", DocumentID: "d1", Sequence: 1, Text: "tokio"}}))
	require.NoError(t, s.UpsertDocument(ctx,
		Document{ID: "d2", Title: "Go channels", Tags: []string{"lang/go"}, Schemes: []string{"kb"}},
		[]Chunk{{ID: "d2-0", DocumentID: "d2", Sequence: 0, Text: "select"}}))
	require.NoError(t, s.UpsertDocument(ctx,
		Document{ID: "d3", Title: "Rustic furniture", Tags: []string{"langley"}},
		[]Chunk{{ID: "d3-0", DocumentID: "d3", Sequence: 0, Text: "oak"}}))
	return s
}

// =============================================================================
// Resolver
// =============================================================================

func TestSQLiteMetadataStore_DocumentsWithTag(t *testing.T) {
	s := newTestMetadata(t)
	ctx := context.Background()

	tests := []struct {
		name string
		tag  string
		want []string
	}{
		{"exact", "async", []string{"d1"}},
		{"parent matches children", "lang", []string{"d1", "d2"}},
		{"case insensitive", "LANG/RUST", []string{"d1"}},
		{"prefix without slash does not match", "lan", nil},
		{"trailing slash ignored", "lang/", []string{"d1", "d2"}},
		{"unknown", "python", nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := s.DocumentsWithTag(ctx, tt.tag)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestSQLiteMetadataStore_DocumentsInScheme(t *testing.T) {
	s := newTestMetadata(t)
	ctx := context.Background()

	got, err := s.DocumentsInScheme(ctx, "kb")
	require.NoError(t, err)
	assert.Equal(t, []string{"d1", "d2"}, got)

	got, err = s.DocumentsInScheme(ctx, "kb/eng")
	require.NoError(t, err)
	assert.Equal(t, []string{"d1"}, got)
}

func TestSQLiteMetadataStore_ResolveFilter(t *testing.T) {
	// Given: the metadata store as a filter resolver
	s := newTestMetadata(t)

	// When: resolving required lang minus excluded lang/go
	u, err := filter.Resolve(context.Background(), s, filter.StrictFilter{
		RequiredTags: []string{"lang"},
		ExcludedTags: []string{"lang/go"},
	})
	require.NoError(t, err)

	// Then: only d1's chunks are admitted
	assert.Equal(t, []string{"d1-0", "d1-1"}, u.ChunkIDs())
	assert.True(t, u.HasDocument("d1"))
	assert.False(t, u.HasDocument("d2"))
}

// =============================================================================
// Chain metadata
// =============================================================================

func TestSQLiteMetadataStore_Chunks(t *testing.T) {
	s := newTestMetadata(t)

	got, err := s.Chunks(context.Background(), []string{"d1-1", "d2-0", "nope"})
	require.NoError(t, err)
	require.Len(t, got, 2)

	m := got["d1-1"]
	assert.Equal(t, "d1", m.DocumentID)
	assert.Equal(t, 1, m.Sequence)
	assert.Equal(t, 2, m.TotalChunks)
	assert.Equal(t, "tokio", m.Text)
	assert.Equal(t, "Rust async (Part 1/2)", m.Title)
	assert.Equal(t, []string{"async", "lang/rust"}, m.Tags)

	assert.Equal(t, 1, got["d2-0"].TotalChunks)
}

func TestSQLiteMetadataStore_UpsertReplacesChain(t *testing.T) {
	// Given: d1 re-chunked into a single chunk
	s := newTestMetadata(t)
	ctx := context.Background()
	require.NoError(t, s.UpsertDocument(ctx,
		Document{ID: "d1", Title: "Rust async", Tags: []string{"async"}},
		[]Chunk{{ID: "d1-new", DocumentID: "d1", Sequence: 0, Text: "all"}}))

	// Then: the old chunks and tags are gone
	ids, err := s.ChunkIDs(ctx, []string{"d1"})
	require.NoError(t, err)
	assert.Equal(t, []string{"d1-new"}, ids)

	docs, err := s.DocumentsWithTag(ctx, "lang/rust")
	require.NoError(t, err)
	assert.Empty(t, docs)

	n, err := s.ChunkCount(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, n)
}

func TestSQLiteMetadataStore_DeleteDocument(t *testing.T) {
	s := newTestMetadata(t)
	ctx := context.Background()

	removed, err := s.DeleteDocument(ctx, "d1")
	require.NoError(t, err)
	assert.Equal(t, []string{"d1-0", "d1-1"}, removed)

	n, err := s.DocumentCount(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	all, err := s.AllDocuments(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"d2", "d3"}, all)
}

func TestSQLiteMetadataStore_State(t *testing.T) {
	s := newTestMetadata(t)
	ctx := context.Background()

	v, err := s.GetState(ctx, StateKeyIndexModel)
	require.NoError(t, err)
	assert.Empty(t, v)

	require.NoError(t, s.SetState(ctx, StateKeyIndexModel, "nomic-embed-text"))
	require.NoError(t, s.SetState(ctx, StateKeyIndexModel, "static"))
	v, err = s.GetState(ctx, StateKeyIndexModel)
	require.NoError(t, err)
	assert.Equal(t, "static", v)
}

func TestSQLiteMetadataStore_OnDisk(t *testing.T) {
	path := filepath.Join(t.TempDir(), MetadataFile)
	s, err := OpenSQLiteMetadataStore(path)
	require.NoError(t, err)
	require.NoError(t, s.UpsertDocument(context.Background(), Document{ID: "x"}, nil))
	require.NoError(t, s.Close())

	s, err = OpenSQLiteMetadataStore(path)
	require.NoError(t, err)
	defer func() { _ = s.Close() }()
	all, err := s.AllDocuments(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"x"}, all)
}
