// Package lexical runs the keyword branch of a query: it dispatches each
// sub-query of a Plan to the term index with the matching mode for its
// script and returns ranked candidates.
package lexical

import (
	"context"
	"log/slog"
	"sync"

	"golang.org/x/sync/errgroup"

	amanerrors "github.com/Aman-CERP/amansearch/internal/errors"
	"github.com/Aman-CERP/amansearch/internal/filter"
	"github.com/Aman-CERP/amansearch/internal/fusion"
	"github.com/Aman-CERP/amansearch/internal/query"
	"github.com/Aman-CERP/amansearch/internal/store"
)

// DefaultLimit is the candidate list size when Config.Limit is not set.
const DefaultLimit = 100

// Config configures the lexical strategy.
type Config struct {
	Fields store.FieldWeights
	// Limit caps the candidate list.
	Limit int
}

// DefaultConfig returns title 1.0, tags 0.4, body 0.2 and 100 candidates.
func DefaultConfig() Config {
	return Config{Fields: store.DefaultFieldWeights(), Limit: DefaultLimit}
}

// Result is the outcome of the lexical branch. A degraded result carries
// no candidates and the cause in Err.
type Result struct {
	Candidates []fusion.Candidate
	Strategy   query.Strategy
	Degraded   bool
	Err        error
}

// Strategy executes lexical sub-queries against a term index.
type Strategy struct {
	index store.TermIndex
	cfg   Config
}

// New creates a lexical strategy.
func New(index store.TermIndex, cfg Config) *Strategy {
	if cfg.Limit <= 0 {
		cfg.Limit = DefaultLimit
	}
	if cfg.Fields == (store.FieldWeights{}) {
		cfg.Fields = store.DefaultFieldWeights()
	}
	return &Strategy{index: index, cfg: cfg}
}

// ModeFor maps a lexical strategy to the term index match mode.
func ModeFor(s query.Strategy) store.MatchMode {
	switch s {
	case query.StrategyLatinStemmed:
		return store.MatchStemmed
	case query.StrategyCJKBigram:
		return store.MatchBigram
	case query.StrategyTrigram:
		return store.MatchNgram
	default:
		return store.MatchBasic
	}
}

// Search runs the plan's sub-queries restricted to u. It never returns an
// error: an index failure yields a degraded, empty result.
func (s *Strategy) Search(ctx context.Context, plan *query.Plan, u filter.Universe) Result {
	res := Result{Strategy: plan.Strategy, Candidates: []fusion.Candidate{}}
	if u.Empty() || len(plan.SubQueries) == 0 {
		return res
	}

	exclusions := s.exclusions(plan.Exclusions)
	restricted := u.Restricted()
	var universe []string
	if restricted {
		universe = u.ChunkIDs()
	}

	queries := make([]store.TermQuery, 0, len(plan.SubQueries))
	for _, sq := range plan.SubQueries {
		if len(sq.Must) == 0 {
			continue
		}
		queries = append(queries, store.TermQuery{
			Must:       s.clauses(sq),
			MustNot:    exclusions,
			ChunkIDs:   universe,
			Restricted: restricted,
			Fields:     s.cfg.Fields,
			Limit:      s.cfg.Limit,
		})
	}
	if len(queries) == 0 {
		return res
	}

	hits, err := s.run(ctx, queries)
	if err != nil {
		if ctx.Err() != nil {
			err = ctx.Err()
		}
		slog.Warn("lexical_branch_degraded",
			slog.String("strategy", plan.Strategy.String()),
			slog.String("error", err.Error()))
		res.Degraded = true
		res.Err = amanerrors.BranchUnavailable("lexical", err)
		return res
	}

	res.Candidates = toCandidates(hits, s.cfg.Limit, u)
	return res
}

// run executes the term queries concurrently and unions their hits by
// summing raw scores. Any failed sub-query fails the branch.
func (s *Strategy) run(ctx context.Context, queries []store.TermQuery) ([]store.TermHit, error) {
	if len(queries) == 1 {
		return s.index.Search(ctx, queries[0])
	}

	g, gctx := errgroup.WithContext(ctx)
	var mu sync.Mutex
	merged := make(map[string]store.TermHit)
	for _, q := range queries {
		g.Go(func() error {
			hits, err := s.index.Search(gctx, q)
			if err != nil {
				return err
			}
			mu.Lock()
			defer mu.Unlock()
			for _, h := range hits {
				if prev, ok := merged[h.ChunkID]; ok {
					h.Score += prev.Score
				}
				merged[h.ChunkID] = h
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	out := make([]store.TermHit, 0, len(merged))
	for _, h := range merged {
		out = append(out, h)
	}
	store.SortTermHits(out)
	return out, nil
}

func (s *Strategy) clauses(sq query.SubQuery) []store.TermClause {
	mode := ModeFor(sq.Strategy)
	out := make([]store.TermClause, 0, len(sq.Must))
	for _, c := range sq.Must {
		tc := store.TermClause{Any: make([]store.TermOperand, 0, len(c.Any))}
		for _, op := range c.Any {
			tc.Any = append(tc.Any, store.TermOperand{
				Text:     op.Text,
				Phrase:   op.Phrase,
				Mode:     mode,
				Language: sq.Language,
			})
		}
		out = append(out, tc)
	}
	return out
}

func (s *Strategy) exclusions(ex []query.Exclusion) []store.TermOperand {
	out := make([]store.TermOperand, 0, len(ex))
	for _, e := range ex {
		out = append(out, store.TermOperand{
			Text:     e.Text,
			Phrase:   e.Phrase,
			Mode:     ModeFor(e.Strategy),
			Language: e.Language,
		})
	}
	return out
}

// toCandidates converts sorted hits to ranked candidates. Hits outside u
// are dropped even though the index was asked to restrict; the filter is
// a hard guarantee.
func toCandidates(hits []store.TermHit, limit int, u filter.Universe) []fusion.Candidate {
	out := make([]fusion.Candidate, 0, min(len(hits), limit))
	for _, h := range hits {
		if !u.HasChunk(h.ChunkID) {
			continue
		}
		out = append(out, fusion.Candidate{
			ChunkID:    h.ChunkID,
			DocumentID: h.DocumentID,
			Raw:        h.Score,
			Score:      NormalizeScore(h.Score),
		})
		if len(out) == limit {
			break
		}
	}
	return fusion.Rank(out)
}

// NormalizeScore maps a non-negative raw score into [0,1).
func NormalizeScore(raw float64) float64 {
	if raw <= 0 {
		return 0
	}
	return raw / (raw + 1)
}
