package index

import (
	"context"
	"fmt"
	"log/slog"
	"time"
)

// InconsistencyType categorizes detected issues.
type InconsistencyType int

const (
	// InconsistencyMissingTerms is a chunk with metadata but no term entry.
	InconsistencyMissingTerms InconsistencyType = iota
	// InconsistencyMissingVector is a chunk with metadata but no full vector.
	InconsistencyMissingVector
	// InconsistencyMissingCoarse is a chunk with metadata but no coarse vector.
	InconsistencyMissingCoarse
	// InconsistencyCountMismatch is a store holding more entries than metadata.
	InconsistencyCountMismatch
)

// String returns a short label for the inconsistency type.
func (t InconsistencyType) String() string {
	switch t {
	case InconsistencyMissingTerms:
		return "missing_terms"
	case InconsistencyMissingVector:
		return "missing_vector"
	case InconsistencyMissingCoarse:
		return "missing_coarse"
	case InconsistencyCountMismatch:
		return "count_mismatch"
	default:
		return "unknown"
	}
}

// MarshalText encodes the type as its label.
func (t InconsistencyType) MarshalText() ([]byte, error) { return []byte(t.String()), nil }

// Inconsistency represents a detected cross-store issue.
type Inconsistency struct {
	Type    InconsistencyType `json:"type"`
	ChunkID string            `json:"chunk_id,omitempty"`
	Details string            `json:"details"`
}

// CheckResult contains the outcome of a consistency check.
type CheckResult struct {
	// Checked is the number of chunks verified.
	Checked int `json:"checked"`
	// Inconsistencies contains all detected issues.
	Inconsistencies []Inconsistency `json:"inconsistencies"`
	// Duration is how long the check took.
	Duration time.Duration `json:"duration_ns"`
}

// OK reports whether no issue was found.
func (r *CheckResult) OK() bool { return len(r.Inconsistencies) == 0 }

// Check verifies that every chunk in the metadata store, the source of
// truth, is present in the term index and both vector stores, and that no
// store holds extra entries.
func Check(ctx context.Context, stores Stores) (*CheckResult, error) {
	start := time.Now()
	md := stores.Metadata

	docs, err := md.AllDocuments(ctx)
	if err != nil {
		return nil, err
	}
	ids, err := md.ChunkIDs(ctx, docs)
	if err != nil {
		return nil, err
	}

	var issues []Inconsistency
	add := func(t InconsistencyType, id, details string) {
		issues = append(issues, Inconsistency{Type: t, ChunkID: id, Details: details})
	}

	missing, err := stores.Terms.Missing(ctx, ids)
	if err != nil {
		return nil, err
	}
	for _, id := range missing {
		add(InconsistencyMissingTerms, id, "metadata entry missing from term index")
	}

	vecs, err := stores.Vectors.Get(ctx, ids)
	if err != nil {
		return nil, err
	}
	for _, id := range ids {
		if _, ok := vecs[id]; !ok {
			add(InconsistencyMissingVector, id, "metadata entry missing from vector store")
		}
		if !stores.Coarse.Has(id) {
			add(InconsistencyMissingCoarse, id, "metadata entry missing from coarse graph")
		}
	}

	terms, err := stores.Terms.Count()
	if err != nil {
		return nil, err
	}
	vectorCount, err := stores.Vectors.Count(ctx)
	if err != nil {
		return nil, err
	}
	for name, n := range map[string]int{"term index": terms, "vector store": vectorCount, "coarse graph": stores.Coarse.Count()} {
		if n > len(ids) {
			add(InconsistencyCountMismatch, "", fmt.Sprintf("%s holds %d entries for %d chunks", name, n, len(ids)))
		}
	}

	res := &CheckResult{
		Checked:         len(ids),
		Inconsistencies: issues,
		Duration:        time.Since(start),
	}
	if !res.OK() {
		slog.Warn("index_inconsistent",
			slog.Int("checked", res.Checked),
			slog.Int("issues", len(issues)))
	}
	return res, nil
}
