// Package semantic runs the vector branch of a query in two stages: an
// approximate search over a truncated MRL projection, then exact cosine
// re-scoring of those candidates at full dimension.
package semantic

import (
	"context"
	"fmt"
	"log/slog"
	"sort"

	"github.com/Aman-CERP/amansearch/internal/embed"
	amanerrors "github.com/Aman-CERP/amansearch/internal/errors"
	"github.com/Aman-CERP/amansearch/internal/filter"
	"github.com/Aman-CERP/amansearch/internal/fusion"
	"github.com/Aman-CERP/amansearch/internal/store"
)

// Defaults.
const (
	DefaultCoarseDimensions   = 64
	DefaultCoarseK            = 100
	DefaultMinSimilarity      = 0.3
	DefaultExactScanThreshold = 2000

	// oversample is the widening factor for ANN searches whose hits are
	// thinned by a strict filter.
	oversample = 4
)

// Config configures the semantic strategy.
type Config struct {
	CoarseDimensions int
	CoarseK          int
	Tuning           Tuning
	MinSimilarity    float64

	// ExactScanThreshold is the restricted universe size at or below
	// which the coarse stage scans exactly.
	ExactScanThreshold int

	// SupportedDimensions are the embedding model's MRL tiers.
	SupportedDimensions []int
}

// DefaultConfig returns the default two-stage configuration.
func DefaultConfig() Config {
	return Config{
		CoarseDimensions:    DefaultCoarseDimensions,
		CoarseK:             DefaultCoarseK,
		Tuning:              DefaultTuning(),
		MinSimilarity:       DefaultMinSimilarity,
		ExactScanThreshold:  DefaultExactScanThreshold,
		SupportedDimensions: embed.DefaultMRLDimensions,
	}
}

// Result is the outcome of the semantic branch.
type Result struct {
	Candidates []fusion.Candidate
	Degraded   bool
	Err        error

	// Ef is the ef_search used, or 0 for an exact scan.
	Ef              int
	Exact           bool
	CoarseCount     int
	EstimatedRecall float64
}

// Strategy executes semantic search.
type Strategy struct {
	embedder embed.Embedder
	mrl      *embed.MRL
	coarse   store.CoarseIndex
	vectors  store.VectorStore
	cfg      Config
}

// New validates the MRL contract between the embedder and the two vector
// stores. A coarse dimension the model was not trained for is rejected.
func New(embedder embed.Embedder, coarse store.CoarseIndex, vectors store.VectorStore, cfg Config) (*Strategy, error) {
	if cfg.CoarseDimensions <= 0 {
		cfg.CoarseDimensions = DefaultCoarseDimensions
	}
	if cfg.CoarseK <= 0 {
		cfg.CoarseK = DefaultCoarseK
	}
	if cfg.Tuning.Profile == "" {
		cfg.Tuning = DefaultTuning()
	}
	if cfg.ExactScanThreshold < 0 {
		cfg.ExactScanThreshold = 0
	}

	full := embedder.Dimensions()
	mrl, err := embed.NewMRL(full, cfg.SupportedDimensions, cfg.CoarseDimensions)
	if err != nil {
		return nil, err
	}
	if coarse.Dimensions() != cfg.CoarseDimensions {
		return nil, dimensionError("coarse index", cfg.CoarseDimensions, coarse.Dimensions())
	}
	if vectors.Dimensions() != full {
		return nil, dimensionError("vector store", full, vectors.Dimensions())
	}
	return &Strategy{embedder: embedder, mrl: mrl, coarse: coarse, vectors: vectors, cfg: cfg}, nil
}

func dimensionError(what string, want, got int) error {
	return amanerrors.New(amanerrors.ErrCodeDimensionMismatch,
		fmt.Sprintf("%s has %d dimensions, embedder needs %d", what, got, want), nil).
		WithSuggestion("rebuild the index: amansearch load --reset <file>")
}

// Config returns the strategy's configuration.
func (s *Strategy) Config() Config { return s.cfg }

// Search embeds text and returns candidates restricted to u. It never
// returns an error: provider or index failures yield a degraded result.
func (s *Strategy) Search(ctx context.Context, text string, u filter.Universe) Result {
	res := Result{Candidates: []fusion.Candidate{}}
	if text == "" || u.Empty() {
		return res
	}

	vec, err := s.embedder.Embed(ctx, text)
	if err != nil {
		return s.degrade(ctx, res, "embed", err)
	}
	if len(vec) != s.mrl.Full() {
		return s.degrade(ctx, res, "embed", dimensionError("query embedding", s.mrl.Full(), len(vec)))
	}
	coarseVec, err := s.mrl.Truncate(vec, s.cfg.CoarseDimensions)
	if err != nil {
		return s.degrade(ctx, res, "truncate", err)
	}

	hits, err := s.coarseStage(ctx, coarseVec, u, &res)
	if err != nil {
		return s.degrade(ctx, res, "coarse", err)
	}
	res.CoarseCount = len(hits)
	if len(hits) == 0 {
		return res
	}

	candidates, err := s.fineStage(ctx, embed.Normalize(vec), hits)
	if err != nil {
		return s.degrade(ctx, res, "fine", err)
	}
	res.Candidates = candidates

	slog.Debug("semantic_search_complete",
		slog.Int("coarse", res.CoarseCount),
		slog.Int("candidates", len(candidates)),
		slog.Int("ef", res.Ef),
		slog.Bool("exact", res.Exact))
	return res
}

// coarseStage returns up to CoarseK hits from the truncated projection.
func (s *Strategy) coarseStage(ctx context.Context, q []float32, u filter.Universe, res *Result) ([]store.VectorHit, error) {
	k := s.cfg.CoarseK
	if u.Restricted() && u.Size() <= s.cfg.ExactScanThreshold {
		res.Exact = true
		res.EstimatedRecall = 1
		return s.coarse.Scan(ctx, q, u.ChunkIDs(), k)
	}

	n := s.coarse.Count()
	ef := s.cfg.Tuning.Ef(n, k)
	res.Ef = ef
	res.EstimatedRecall = EstimatedRecall(ef)

	if !u.Restricted() {
		return s.coarse.Search(ctx, q, k, ef)
	}

	// The filter thins ANN hits, so widen the fetch until k admitted hits
	// are found or the whole graph has been requested.
	fetch := k * oversample
	for {
		hits, err := s.coarse.Search(ctx, q, fetch, max(ef, fetch))
		if err != nil {
			return nil, err
		}
		admitted := make([]store.VectorHit, 0, k)
		for _, h := range hits {
			if u.HasChunk(h.ID) {
				admitted = append(admitted, h)
				if len(admitted) == k {
					break
				}
			}
		}
		if len(admitted) == k || fetch >= n {
			return admitted, nil
		}
		fetch *= oversample
	}
}

// fineStage re-scores coarse hits against full-dimension vectors and drops
// those below MinSimilarity. Hits without a stored vector are skipped.
func (s *Strategy) fineStage(ctx context.Context, q []float32, hits []store.VectorHit) ([]fusion.Candidate, error) {
	ids := make([]string, len(hits))
	for i, h := range hits {
		ids[i] = h.ID
	}
	full, err := s.vectors.Get(ctx, ids)
	if err != nil {
		return nil, err
	}

	out := make([]fusion.Candidate, 0, len(full))
	for _, id := range ids {
		v, ok := full[id]
		if !ok {
			continue
		}
		sim := embed.Cosine(q, v)
		if sim < s.cfg.MinSimilarity {
			continue
		}
		out = append(out, fusion.Candidate{ChunkID: id, Raw: sim, Score: clamp01(sim)})
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Raw != out[j].Raw {
			return out[i].Raw > out[j].Raw
		}
		return out[i].ChunkID < out[j].ChunkID
	})
	return fusion.Rank(out), nil
}

func (s *Strategy) degrade(ctx context.Context, res Result, stage string, err error) Result {
	if ctx.Err() != nil {
		err = ctx.Err()
	}
	slog.Warn("semantic_branch_degraded",
		slog.String("stage", stage),
		slog.String("error", err.Error()))
	res.Candidates = []fusion.Candidate{}
	res.Degraded = true
	res.Err = amanerrors.BranchUnavailable("semantic", err)
	return res
}

func clamp01(v float64) float64 {
	switch {
	case v < 0:
		return 0
	case v > 1:
		return 1
	}
	return v
}
