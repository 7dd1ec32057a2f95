// Package store provides the indexes a query reads: the bleve term index,
// the coarse ANN graph (coder/hnsw), full-dimension vectors (badger) and
// chain and tag metadata (SQLite).
//
// Queries only read these stores. Writes happen through the loader, which
// holds the index directory lock while it runs.
package store

import (
	"context"
	"fmt"
)

// State keys recorded in the metadata store when an index is built.
const (
	// StateKeyIndexDimension stores the full embedding dimension.
	StateKeyIndexDimension = "index_embedding_dimension"
	// StateKeyIndexModel stores the embedding model name.
	StateKeyIndexModel = "index_embedding_model"
	// StateKeyCoarseDimension stores the MRL dimension of the coarse graph.
	StateKeyCoarseDimension = "index_coarse_dimension"
)

// File names inside the index data directory.
const (
	TermIndexDir   = "terms.bleve"
	VectorDir      = "vectors.badger"
	CoarseFile     = "coarse.hnsw"
	MetadataFile   = "metadata.db"
	LockFile       = ".index.lock"
	CurrentVersion = 1
)

// Document is a logical content unit with an ordered chain of chunks.
type Document struct {
	ID       string
	Title    string
	Tags     []string
	Schemes  []string
	Language string
}

// Chunk is one link in a document's chain.
type Chunk struct {
	ID         string
	DocumentID string
	Sequence   int
	Text       string
}

// ChunkMeta is what the result assembler needs about a chunk: its chain
// position plus the parent document's display fields.
type ChunkMeta struct {
	ChunkID     string
	DocumentID  string // chain id
	Sequence    int
	TotalChunks int
	Title       string
	Tags        []string
	Text        string
}

// MetadataStore persists documents, chains, tags and schemes. It also
// resolves tag and scheme membership for the strict filter.
type MetadataStore interface {
	// UpsertDocument replaces a document and its whole chain.
	UpsertDocument(ctx context.Context, doc Document, chunks []Chunk) error
	// DeleteDocument removes a document and returns its chunk ids.
	DeleteDocument(ctx context.Context, id string) ([]string, error)
	// Chunks returns metadata for the given chunk ids. Unknown ids are omitted.
	Chunks(ctx context.Context, chunkIDs []string) (map[string]ChunkMeta, error)

	AllDocuments(ctx context.Context) ([]string, error)
	DocumentsWithTag(ctx context.Context, tag string) ([]string, error)
	DocumentsInScheme(ctx context.Context, scheme string) ([]string, error)
	ChunkIDs(ctx context.Context, documentIDs []string) ([]string, error)

	DocumentCount(ctx context.Context) (int, error)
	ChunkCount(ctx context.Context) (int, error)

	GetState(ctx context.Context, key string) (string, error)
	SetState(ctx context.Context, key, value string) error

	Close() error
}

// MatchMode selects which analyzed field family a term operand is matched
// against.
type MatchMode int

const (
	// MatchStemmed matches language-stemmed fields.
	MatchStemmed MatchMode = iota
	// MatchBigram matches CJK bigram fields (unigrams included).
	MatchBigram
	// MatchNgram matches 2-3 character substrings.
	MatchNgram
	// MatchBasic matches unicode word tokens without stemming.
	MatchBasic
)

func (m MatchMode) String() string {
	switch m {
	case MatchStemmed:
		return "stemmed"
	case MatchBigram:
		return "bigram"
	case MatchNgram:
		return "ngram"
	case MatchBasic:
		return "basic"
	default:
		return "unknown"
	}
}

// TermOperand is a word or phrase matched with one analysis mode.
type TermOperand struct {
	Text     string
	Phrase   bool
	Mode     MatchMode
	Language string // stemming language for MatchStemmed
}

// TermClause is satisfied when any of its operands matches.
type TermClause struct {
	Any []TermOperand
}

// FieldWeights are the BM25F-style boosts applied per field.
type FieldWeights struct {
	Title float64
	Tags  float64
	Body  float64
}

// DefaultFieldWeights returns title 1.0, tags 0.4, body 0.2.
func DefaultFieldWeights() FieldWeights {
	return FieldWeights{Title: 1.0, Tags: 0.4, Body: 0.2}
}

// TermQuery is a boolean query over the term index. Every Must clause has
// to match and no MustNot operand may match. When Restricted is set only
// ChunkIDs are eligible.
type TermQuery struct {
	Must       []TermClause
	MustNot    []TermOperand
	ChunkIDs   []string
	Restricted bool
	Fields     FieldWeights
	Limit      int
}

// TermHit is a scored term index match.
type TermHit struct {
	ChunkID    string
	DocumentID string
	Score      float64
}

// IndexedChunk is the term index view of a chunk.
type IndexedChunk struct {
	ChunkID    string
	DocumentID string
	Title      string
	Tags       []string
	Text       string
	Language   string
}

// TermIndex supports per-script boolean, phrase and field-weighted queries.
type TermIndex interface {
	Index(ctx context.Context, chunks []IndexedChunk) error
	Delete(ctx context.Context, chunkIDs []string) error
	// Search returns hits ordered by raw score descending, then document
	// id and chunk id ascending.
	Search(ctx context.Context, q TermQuery) ([]TermHit, error)
	Count() (int, error)
	Close() error
}

// VectorHit is a chunk with its cosine similarity to a query.
type VectorHit struct {
	ID    string
	Score float32
}

// CoarseIndex is the ANN graph over the low-dimension MRL projection.
type CoarseIndex interface {
	Add(ctx context.Context, ids []string, vectors [][]float32) error
	Delete(ctx context.Context, ids []string) error
	// Search returns up to k approximate neighbours using the given ef.
	Search(ctx context.Context, query []float32, k, ef int) ([]VectorHit, error)
	// Scan scores ids exactly and returns the best k.
	Scan(ctx context.Context, query []float32, ids []string, k int) ([]VectorHit, error)
	Dimensions() int
	Count() int
	Save(path string) error
	Load(path string) error
	Close() error
}

// VectorStore holds full-dimension vectors for exact re-scoring.
type VectorStore interface {
	Put(ctx context.Context, ids []string, vectors [][]float32) error
	Get(ctx context.Context, ids []string) (map[string][]float32, error)
	Delete(ctx context.Context, ids []string) error
	Dimensions() int
	Count(ctx context.Context) (int, error)
	Close() error
}

// ErrDimensionMismatch indicates vector dimension mismatch.
type ErrDimensionMismatch struct {
	Expected int
	Got      int
}

func (e ErrDimensionMismatch) Error() string {
	return fmt.Sprintf("dimension mismatch: expected %d, got %d (rebuild the index with 'amansearch load --reset')", e.Expected, e.Got)
}
