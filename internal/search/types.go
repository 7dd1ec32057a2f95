// Package search runs the query pipeline: analyze, resolve the strict
// filter, run the lexical and semantic branches concurrently, fuse,
// deduplicate chunk chains and assemble a paginated response.
package search

import (
	"time"

	"github.com/Aman-CERP/amansearch/internal/dedup"
	"github.com/Aman-CERP/amansearch/internal/filter"
	"github.com/Aman-CERP/amansearch/internal/fusion"
	"github.com/Aman-CERP/amansearch/internal/query"
)

// Branch names as reported in degraded_branches.
const (
	BranchLexical  = "lexical"
	BranchSemantic = "semantic"
)

// Request is one query. Zero values select configured defaults.
type Request struct {
	Query  string              `json:"q"`
	Mode   string              `json:"mode,omitempty"`
	Lang   string              `json:"lang,omitempty"`
	Script string              `json:"script,omitempty"`
	Filter filter.StrictFilter `json:"strict_filter,omitempty"`
	Limit  int                 `json:"limit,omitempty"`
	Offset int                 `json:"offset,omitempty"`

	// Fusion is rrf or rsf.
	Fusion string `json:"fusion,omitempty"`

	// MinScore overrides the configured minimum normalized score when set.
	MinScore *float64 `json:"min_score,omitempty"`

	Explain bool `json:"explain,omitempty"`
}

// Result is one document-level hit.
type Result struct {
	DocumentID string          `json:"document_id"`
	Score      float64         `json:"score"`
	Snippet    string          `json:"snippet"`
	Title      string          `json:"title"`
	Tags       []string        `json:"tags"`
	ChainInfo  dedup.ChainInfo `json:"chain_info"`

	// Explain is set only when the request asked for it.
	Explain *ResultExplain `json:"explain,omitempty"`
}

// ResultExplain shows how a result was ranked.
type ResultExplain struct {
	ChunkID       string  `json:"chunk_id"`
	FusedScore    float64 `json:"fused_score"`
	LexicalRank   int     `json:"lexical_rank,omitempty"`
	SemanticRank  int     `json:"semantic_rank,omitempty"`
	LexicalScore  float64 `json:"lexical_score,omitempty"`
	SemanticScore float64 `json:"semantic_score,omitempty"`
}

// StrategyInfo names the strategy each branch used. A branch that did not
// run is empty.
type StrategyInfo struct {
	Lexical  string `json:"lexical,omitempty"`
	Semantic string `json:"semantic,omitempty"`
}

// Metadata describes how a query was executed.
type Metadata struct {
	DetectedScript   string       `json:"detected_script"`
	SearchStrategy   StrategyInfo `json:"search_strategy"`
	DegradedBranches []string     `json:"degraded_branches"`
	SearchTimeMs     float64      `json:"search_time_ms"`
	FTSHitCount      int          `json:"fts_hit_count"`
	SemanticHitCount int          `json:"semantic_hit_count"`
	FusedCount       int          `json:"fused_count"`

	// TotalResults counts deduplicated results before pagination.
	TotalResults int `json:"total_results"`

	Explain *ExplainData `json:"explain,omitempty"`
}

// Response is the answer to one Request.
type Response struct {
	Results  []Result `json:"results"`
	Metadata Metadata `json:"metadata"`
}

// ExplainData carries the pipeline decisions for debugging.
type ExplainData struct {
	Plan         *query.Plan         `json:"plan"`
	Confidence   float64             `json:"confidence"`
	ScriptsFound []query.ScriptShare `json:"scripts_found,omitempty"`

	FusionMethod fusion.Method  `json:"fusion_method"`
	Weights      fusion.Weights `json:"weights"`
	K            int            `json:"k"`

	// UniverseSize is -1 when no strict filter applied.
	UniverseSize int `json:"universe_size"`

	Ef               int     `json:"ef,omitempty"`
	ExactScan        bool    `json:"exact_scan,omitempty"`
	CoarseCandidates int     `json:"coarse_candidates"`
	EstimatedRecall  float64 `json:"estimated_recall,omitempty"`

	BranchErrors map[string]string `json:"branch_errors,omitempty"`
}

// Config configures the engine. Construct with DefaultConfig and override.
type Config struct {
	DefaultLimit int
	MaxLimit     int
	DefaultMode  query.Mode
	FusionMethod fusion.Method

	LexicalTimeout  time.Duration
	SemanticTimeout time.Duration

	MinScore float64

	// MaxQueryLength bounds the query in bytes.
	MaxQueryLength int
	// SnippetLength bounds the snippet in runes.
	SnippetLength int
}

// DefaultConfig returns the default engine configuration.
func DefaultConfig() Config {
	return Config{
		DefaultLimit:    20,
		MaxLimit:        100,
		DefaultMode:     query.ModeHybrid,
		FusionMethod:    fusion.MethodRRF,
		LexicalTimeout:  2 * time.Second,
		SemanticTimeout: 5 * time.Second,
		MaxQueryLength:  2048,
		SnippetLength:   300,
	}
}

// Stats summarizes the indexed corpus.
type Stats struct {
	Documents int  `json:"documents"`
	Chunks    int  `json:"chunks"`
	Lexical   bool `json:"lexical"`
	Semantic  bool `json:"semantic"`
}
