package store

import (
	"bufio"
	"context"
	"encoding/gob"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/coder/hnsw"
)

// CoarseConfig configures the coarse ANN graph.
type CoarseConfig struct {
	// Dimensions is the MRL projection size (64 by default).
	Dimensions int
	// M is the max connections per layer.
	M int
	// EfSearch is the default query-time search width.
	EfSearch int
}

// HNSWCoarseIndex implements CoarseIndex using coder/hnsw. Vectors are
// unit-normalized on insert so cosine distance maps directly to similarity.
type HNSWCoarseIndex struct {
	mu     sync.RWMutex
	graph  *hnsw.Graph[uint64]
	config CoarseConfig

	// ID mapping (string <-> uint64). Deleted ids are removed from the maps
	// and their graph nodes are left as orphans.
	idMap   map[string]uint64
	keyMap  map[uint64]string
	nextKey uint64

	// vectors keeps the normalized projection of every live id for exact scans.
	vectors map[string][]float32

	closed bool
}

type coarseMetadata struct {
	IDMap   map[string]uint64
	NextKey uint64
	Config  CoarseConfig
	Vectors map[string][]float32
}

// NewHNSWCoarseIndex creates an empty coarse graph.
func NewHNSWCoarseIndex(cfg CoarseConfig) (*HNSWCoarseIndex, error) {
	if cfg.Dimensions <= 0 {
		return nil, fmt.Errorf("coarse dimensions must be positive, got %d", cfg.Dimensions)
	}
	if cfg.M == 0 {
		cfg.M = 16
	}
	if cfg.EfSearch == 0 {
		cfg.EfSearch = 40
	}
	return &HNSWCoarseIndex{
		graph:   newGraph(cfg),
		config:  cfg,
		idMap:   make(map[string]uint64),
		keyMap:  make(map[uint64]string),
		vectors: make(map[string][]float32),
	}, nil
}

func newGraph(cfg CoarseConfig) *hnsw.Graph[uint64] {
	g := hnsw.NewGraph[uint64]()
	g.Distance = hnsw.CosineDistance
	g.M = cfg.M
	g.EfSearch = cfg.EfSearch
	g.Ml = 0.25
	return g
}

// Dimensions returns the projection size.
func (s *HNSWCoarseIndex) Dimensions() int { return s.config.Dimensions }

// Add inserts vectors. An existing id is replaced.
func (s *HNSWCoarseIndex) Add(ctx context.Context, ids []string, vectors [][]float32) error {
	if len(ids) == 0 {
		return nil
	}
	if len(ids) != len(vectors) {
		return fmt.Errorf("ids and vectors length mismatch: %d vs %d", len(ids), len(vectors))
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return fmt.Errorf("coarse index is closed")
	}
	for _, v := range vectors {
		if len(v) != s.config.Dimensions {
			return ErrDimensionMismatch{Expected: s.config.Dimensions, Got: len(v)}
		}
	}

	for i, id := range ids {
		if err := ctx.Err(); err != nil {
			return err
		}
		if existing, ok := s.idMap[id]; ok {
			// coder/hnsw misbehaves when the last node is deleted, so the
			// old node is orphaned instead.
			delete(s.keyMap, existing)
			delete(s.idMap, id)
		}

		key := s.nextKey
		s.nextKey++

		vec := make([]float32, len(vectors[i]))
		copy(vec, vectors[i])
		normalizeVectorInPlace(vec)

		s.graph.Add(hnsw.MakeNode(key, vec))
		s.idMap[id] = key
		s.keyMap[key] = id
		s.vectors[id] = vec
	}
	return nil
}

// Delete removes ids lazily.
func (s *HNSWCoarseIndex) Delete(ctx context.Context, ids []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return fmt.Errorf("coarse index is closed")
	}
	for _, id := range ids {
		if key, ok := s.idMap[id]; ok {
			delete(s.keyMap, key)
			delete(s.idMap, id)
			delete(s.vectors, id)
		}
	}
	return nil
}

// Search returns up to k approximate neighbours. Orphaned nodes are
// over-fetched and skipped so deletions do not shrink the result.
func (s *HNSWCoarseIndex) Search(ctx context.Context, query []float32, k, ef int) ([]VectorHit, error) {
	if k <= 0 {
		return []VectorHit{}, nil
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, fmt.Errorf("coarse index is closed")
	}
	if len(query) != s.config.Dimensions {
		return nil, ErrDimensionMismatch{Expected: s.config.Dimensions, Got: len(query)}
	}
	if s.graph.Len() == 0 || len(s.idMap) == 0 {
		return []VectorHit{}, nil
	}

	// EfSearch is read once per Search, so a shallow copy of the graph
	// carries a per-query ef without touching the shared value.
	graph := s.graph
	if ef > 0 && ef != graph.EfSearch {
		view := *s.graph
		view.EfSearch = ef
		graph = &view
	}

	q := make([]float32, len(query))
	copy(q, query)
	normalizeVectorInPlace(q)

	fetch := k + (s.graph.Len() - len(s.idMap))
	nodes := graph.Search(q, fetch)

	hits := make([]VectorHit, 0, k)
	for _, node := range nodes {
		id, ok := s.keyMap[node.Key]
		if !ok {
			continue
		}
		hits = append(hits, VectorHit{ID: id, Score: 1 - s.graph.Distance(q, node.Value)})
	}
	sortHits(hits)
	if len(hits) > k {
		hits = hits[:k]
	}
	return hits, nil
}

// Scan scores the given ids exactly. Unknown ids are skipped.
func (s *HNSWCoarseIndex) Scan(ctx context.Context, query []float32, ids []string, k int) ([]VectorHit, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, fmt.Errorf("coarse index is closed")
	}
	if len(query) != s.config.Dimensions {
		return nil, ErrDimensionMismatch{Expected: s.config.Dimensions, Got: len(query)}
	}

	q := make([]float32, len(query))
	copy(q, query)
	normalizeVectorInPlace(q)

	hits := make([]VectorHit, 0, len(ids))
	for i, id := range ids {
		if i%1024 == 0 {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
		}
		vec, ok := s.vectors[id]
		if !ok {
			continue
		}
		hits = append(hits, VectorHit{ID: id, Score: dot(q, vec)})
	}
	sortHits(hits)
	if k > 0 && len(hits) > k {
		hits = hits[:k]
	}
	return hits, nil
}

// Count returns the number of live vectors.
func (s *HNSWCoarseIndex) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return 0
	}
	return len(s.idMap)
}

// Has reports whether id has a live vector.
func (s *HNSWCoarseIndex) Has(id string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.idMap[id]
	return ok
}

// Orphans is the number of lazily deleted graph nodes.
func (s *HNSWCoarseIndex) Orphans() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return 0
	}
	return s.graph.Len() - len(s.idMap)
}

// Save persists the graph and its id mapping using temp file + rename.
func (s *HNSWCoarseIndex) Save(path string) error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return fmt.Errorf("coarse index is closed")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create directory: %w", err)
	}

	tmp := path + ".tmp"
	file, err := os.Create(tmp)
	if err != nil {
		return fmt.Errorf("failed to create index file: %w", err)
	}
	if err := s.graph.Export(file); err != nil {
		file.Close()
		os.Remove(tmp)
		return fmt.Errorf("failed to export graph: %w", err)
	}
	if err := file.Close(); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("failed to close index file: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("failed to rename index file: %w", err)
	}

	if err := s.saveMetadata(path + ".meta"); err != nil {
		return fmt.Errorf("failed to save metadata: %w", err)
	}
	return nil
}

func (s *HNSWCoarseIndex) saveMetadata(path string) error {
	tmp := path + ".tmp"
	file, err := os.Create(tmp)
	if err != nil {
		return fmt.Errorf("create temp metadata file: %w", err)
	}

	meta := coarseMetadata{
		IDMap:   s.idMap,
		NextKey: s.nextKey,
		Config:  s.config,
		Vectors: s.vectors,
	}
	if err := gob.NewEncoder(file).Encode(meta); err != nil {
		if closeErr := file.Close(); closeErr != nil {
			slog.Warn("coarse_meta_close_failed", slog.String("error", closeErr.Error()))
		}
		os.Remove(tmp)
		return fmt.Errorf("encode metadata: %w", err)
	}
	if err := file.Close(); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("close metadata file: %w", err)
	}
	return os.Rename(tmp, path)
}

// Load replaces the in-memory graph with the one saved at path.
func (s *HNSWCoarseIndex) Load(path string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return fmt.Errorf("coarse index is closed")
	}

	meta, err := readCoarseMetadata(path + ".meta")
	if err != nil {
		return fmt.Errorf("failed to load metadata: %w", err)
	}
	if meta.Config.Dimensions != s.config.Dimensions {
		return ErrDimensionMismatch{Expected: s.config.Dimensions, Got: meta.Config.Dimensions}
	}

	file, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("failed to open index file: %w", err)
	}
	defer file.Close()

	graph := newGraph(s.config)
	// coder/hnsw Import needs an io.ByteReader.
	if err := graph.Import(bufio.NewReader(file)); err != nil {
		return fmt.Errorf("failed to import graph: %w", err)
	}

	s.graph = graph
	s.idMap = meta.IDMap
	s.nextKey = meta.NextKey
	s.vectors = meta.Vectors
	if s.vectors == nil {
		s.vectors = make(map[string][]float32)
	}
	s.keyMap = make(map[uint64]string, len(s.idMap))
	for id, key := range s.idMap {
		s.keyMap[key] = id
	}
	return nil
}

func readCoarseMetadata(path string) (coarseMetadata, error) {
	var meta coarseMetadata
	file, err := os.Open(path)
	if err != nil {
		return meta, fmt.Errorf("open metadata file: %w", err)
	}
	defer func() {
		if err := file.Close(); err != nil {
			slog.Warn("coarse_meta_close_failed", slog.String("error", err.Error()))
		}
	}()
	if err := gob.NewDecoder(file).Decode(&meta); err != nil {
		return meta, fmt.Errorf("decode coarse metadata: %w", err)
	}
	return meta, nil
}

// ReadCoarseDimensions reads the projection size of a saved graph.
// Returns 0 if nothing has been saved yet.
func ReadCoarseDimensions(path string) (int, error) {
	meta, err := readCoarseMetadata(path + ".meta")
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return 0, nil
		}
		return 0, err
	}
	return meta.Config.Dimensions, nil
}

// Close releases the graph.
func (s *HNSWCoarseIndex) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	s.graph = nil
	s.vectors = nil
	return nil
}

var _ CoarseIndex = (*HNSWCoarseIndex)(nil)

// sortHits orders by score descending, then id ascending.
func sortHits(hits []VectorHit) {
	sort.SliceStable(hits, func(i, j int) bool {
		if hits[i].Score != hits[j].Score {
			return hits[i].Score > hits[j].Score
		}
		return hits[i].ID < hits[j].ID
	})
}

// normalizeVectorInPlace normalizes a vector to unit length in place.
func normalizeVectorInPlace(v []float32) {
	var sumSquares float64
	for _, val := range v {
		sumSquares += float64(val) * float64(val)
	}
	if sumSquares == 0 {
		return
	}
	inv := float32(1.0 / math.Sqrt(sumSquares))
	for i := range v {
		v[i] *= inv
	}
}

func dot(a, b []float32) float32 {
	var sum float64
	for i := range a {
		sum += float64(a[i]) * float64(b[i])
	}
	return float32(sum)
}
