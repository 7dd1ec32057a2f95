package index

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	amanerrors "github.com/Aman-CERP/amansearch/internal/errors"
)

// =============================================================================
// JSONL decoding
// =============================================================================

func TestReadJSONL(t *testing.T) {
	// Given: objects, bare-string chunks, a blank line and a repeated id
	input := `{"id":"ml","title":"Intro to ML","tags":["topic/ai"],"scheme":"kb/public","chunks":[{"id":"ml-1","text":"one"},"two"]}

{"id":"zh","language":"zh","text":"人工智能"}
{"id":"ml","title":"Intro to ML v2","chunks":["replaced"]}
`

	// When: reading
	docs, err := ReadJSONL(strings.NewReader(input))

	// Then: two documents, the later ml record wins
	require.NoError(t, err)
	require.Len(t, docs, 2)
	assert.Equal(t, "Intro to ML v2", docs[0].Title)
	assert.Equal(t, []InputChunk{{Text: "replaced"}}, docs[0].Chunks)
	assert.Equal(t, "人工智能", docs[1].Text)
}

func TestReadJSONL_MixedChunkForms(t *testing.T) {
	docs, err := ReadJSONL(strings.NewReader(`{"id":"a","chunks":[{"id":"a-1","text":"x"},"y"]}`))
	require.NoError(t, err)
	require.Len(t, docs, 1)
	assert.Equal(t, []InputChunk{{ID: "a-1", Text: "x"}, {Text: "y"}}, docs[0].Chunks)
}

func TestReadJSONL_ReportsLine(t *testing.T) {
	_, err := ReadJSONL(strings.NewReader("{\"id\":\"a\",\"text\":\"x\"}\n{not json}\n"))

	require.Error(t, err)
	assert.True(t, amanerrors.HasCode(err, amanerrors.ErrCodeInvalidInput))
	assert.Contains(t, err.Error(), "line 2")
}

// =============================================================================
// Chain preparation
// =============================================================================

func TestDocumentPrepare(t *testing.T) {
	// Given: a document with an empty chunk, one explicit id and a scheme
	d := Document{
		ID:       " ml ",
		Title:    "Intro to ML (Part 1/2)",
		Scheme:   "kb/public",
		Schemes:  []string{"kb/extra"},
		Language: "EN",
		Chunks:   []InputChunk{{Text: "first"}, {Text: "   "}, {ID: "custom", Text: "second"}},
	}

	// When: preparing
	p, err := d.prepare()

	// Then: empty chunks are dropped before numbering
	require.NoError(t, err)
	assert.Equal(t, "ml", p.doc.ID)
	assert.Equal(t, []string{"kb/public", "kb/extra"}, p.doc.Schemes)
	assert.Equal(t, "en", p.doc.Language)
	require.Len(t, p.chunks, 2)
	assert.Equal(t, ChunkID("ml", 1), p.chunks[0].ID)
	assert.Equal(t, 1, p.chunks[0].Sequence)
	assert.Equal(t, "custom", p.chunks[1].ID)
	assert.Equal(t, 2, p.chunks[1].Sequence)
}

func TestDocumentPrepare_Errors(t *testing.T) {
	tests := []struct {
		name string
		doc  Document
		want string
	}{
		{"missing id", Document{Text: "x"}, "id is required"},
		{"no text", Document{ID: "a", Chunks: []InputChunk{{Text: " "}}}, "has no text"},
		{"duplicate chunk id", Document{ID: "a", Chunks: []InputChunk{{ID: "c", Text: "x"}, {ID: "c", Text: "y"}}}, "duplicate chunk id"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := tt.doc.prepare()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestChunkID_Deterministic(t *testing.T) {
	assert.Equal(t, ChunkID("ml", 3), ChunkID("ml", 3))
	assert.NotEqual(t, ChunkID("ml", 3), ChunkID("ml", 4))
	assert.NotEqual(t, ChunkID("ml", 1), ChunkID("ml2", 1))
}
