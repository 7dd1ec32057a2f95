// Package fusion merges the lexical and semantic candidate lists into one
// ranking using Reciprocal Rank Fusion (RRF) or Relative Score Fusion (RSF).
package fusion

import (
	"fmt"
	"math"
	"sort"
	"strings"
)

// Candidate is one chunk hit from a single branch. Rank is 1-based within
// the branch's own ordering.
type Candidate struct {
	ChunkID    string  `json:"chunk_id"`
	DocumentID string  `json:"document_id"`
	Score      float64 `json:"score"` // normalized to [0,1]
	Raw        float64 `json:"raw"`   // branch-native score
	Rank       int     `json:"rank"`
}

// Method selects the fusion algorithm.
type Method string

const (
	MethodRRF Method = "rrf"
	MethodRSF Method = "rsf"
)

// ParseMethod validates a method name. The empty string means RRF.
func ParseMethod(s string) (Method, error) {
	switch Method(strings.ToLower(strings.TrimSpace(s))) {
	case "", MethodRRF:
		return MethodRRF, nil
	case MethodRSF:
		return MethodRSF, nil
	}
	return "", fmt.Errorf("unknown fusion method %q (use rrf or rsf)", s)
}

// Weights is the lexical/semantic weight pair.
type Weights struct {
	Lexical  float64 `json:"lexical"`
	Semantic float64 `json:"semantic"`
}

// Params configures one fusion call.
type Params struct {
	Method  Method
	Weights Weights
	// K is the RRF smoothing constant. Ignored by RSF.
	K int
}

// DefaultK is used when Params.K is not positive.
const DefaultK = 20

// Result is a fused chunk.
type Result struct {
	ChunkID    string  `json:"chunk_id"`
	DocumentID string  `json:"document_id"`
	Score      float64 `json:"score"`
	// Normalized is Score mapped to [0,1] without changing the order.
	Normalized float64 `json:"normalized"`

	LexicalRank   int     `json:"lexical_rank,omitempty"` // 0 when absent
	SemanticRank  int     `json:"semantic_rank,omitempty"`
	LexicalScore  float64 `json:"lexical_score,omitempty"`
	SemanticScore float64 `json:"semantic_score,omitempty"`
}

// InBoth reports whether both branches returned the chunk.
func (r Result) InBoth() bool { return r.LexicalRank > 0 && r.SemanticRank > 0 }

// Fuse merges the two lists. Either or both may be empty. A chunk absent
// from a list contributes nothing for that list.
//
// Results are ordered by score descending, then lexical rank ascending
// (absent last), then document id and chunk id ascending.
func Fuse(lexical, semantic []Candidate, p Params) []Result {
	if len(lexical) == 0 && len(semantic) == 0 {
		return []Result{}
	}
	w := effectiveWeights(p.Weights, len(lexical) > 0, len(semantic) > 0)

	byID := make(map[string]*Result, len(lexical)+len(semantic))
	get := func(c Candidate) *Result {
		r, ok := byID[c.ChunkID]
		if !ok {
			r = &Result{ChunkID: c.ChunkID, DocumentID: c.DocumentID}
			byID[c.ChunkID] = r
		}
		if r.DocumentID == "" {
			r.DocumentID = c.DocumentID
		}
		return r
	}
	for _, c := range lexical {
		r := get(c)
		r.LexicalRank = c.Rank
		r.LexicalScore = c.Raw
	}
	for _, c := range semantic {
		r := get(c)
		r.SemanticRank = c.Rank
		r.SemanticScore = c.Raw
	}

	switch p.Method {
	case MethodRSF:
		scoreRSF(byID, lexical, semantic, w)
	default:
		scoreRRF(byID, w, p.K)
	}

	results := make([]Result, 0, len(byID))
	for _, r := range byID {
		results = append(results, *r)
	}
	Sort(results)
	return results
}

// effectiveWeights gives a surviving branch full weight when its own weight
// is zero and the other branch returned nothing, so a degraded query still
// ranks by the branch that answered.
func effectiveWeights(w Weights, hasLex, hasSem bool) Weights {
	if hasLex && !hasSem && w.Lexical <= 0 {
		return Weights{Lexical: 1}
	}
	if hasSem && !hasLex && w.Semantic <= 0 {
		return Weights{Semantic: 1}
	}
	return w
}

func scoreRRF(byID map[string]*Result, w Weights, k int) {
	if k <= 0 {
		k = DefaultK
	}
	kf := float64(k)
	maxScore := (w.Lexical + w.Semantic) / (kf + 1)
	for _, r := range byID {
		if r.LexicalRank > 0 {
			r.Score += w.Lexical / (kf + float64(r.LexicalRank))
		}
		if r.SemanticRank > 0 {
			r.Score += w.Semantic / (kf + float64(r.SemanticRank))
		}
		if maxScore > 0 {
			r.Normalized = math.Min(1, r.Score/maxScore)
		}
	}
}

func scoreRSF(byID map[string]*Result, lexical, semantic []Candidate, w Weights) {
	lexNorm := minMax(lexical)
	semNorm := minMax(semantic)
	for id, r := range byID {
		if n, ok := lexNorm[id]; ok {
			r.Score += w.Lexical * n
		}
		if n, ok := semNorm[id]; ok {
			r.Score += w.Semantic * n
		}
		r.Normalized = math.Min(1, r.Score)
	}
}

// minMax maps raw scores to [0,1]. A list whose scores are all equal maps
// to 1.
func minMax(list []Candidate) map[string]float64 {
	out := make(map[string]float64, len(list))
	if len(list) == 0 {
		return out
	}
	lo, hi := list[0].Raw, list[0].Raw
	for _, c := range list[1:] {
		lo = math.Min(lo, c.Raw)
		hi = math.Max(hi, c.Raw)
	}
	for _, c := range list {
		if hi == lo {
			out[c.ChunkID] = 1
			continue
		}
		out[c.ChunkID] = (c.Raw - lo) / (hi - lo)
	}
	return out
}

// Sort orders results by the fusion ordering.
func Sort(results []Result) {
	sort.SliceStable(results, func(i, j int) bool {
		return Less(results[i], results[j])
	})
}

// Less reports whether a sorts before b: higher score, then lower lexical
// rank with absent ranks last, then document id, then chunk id.
func Less(a, b Result) bool {
	if a.Score != b.Score {
		return a.Score > b.Score
	}
	ra, rb := rankOrMax(a.LexicalRank), rankOrMax(b.LexicalRank)
	if ra != rb {
		return ra < rb
	}
	if a.DocumentID != b.DocumentID {
		return a.DocumentID < b.DocumentID
	}
	return a.ChunkID < b.ChunkID
}

func rankOrMax(rank int) int {
	if rank <= 0 {
		return math.MaxInt
	}
	return rank
}

// Rank assigns 1-based ranks in list order.
func Rank(list []Candidate) []Candidate {
	for i := range list {
		list[i].Rank = i + 1
	}
	return list
}
