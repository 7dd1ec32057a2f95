package mcp

import (
	"github.com/Aman-CERP/amansearch/internal/dedup"
	"github.com/Aman-CERP/amansearch/internal/filter"
	"github.com/Aman-CERP/amansearch/internal/search"
)

// SearchInput defines the input schema for the search tool.
type SearchInput struct {
	Query        string               `json:"q" jsonschema:"the search query; supports quoted phrases, OR, parentheses and -exclusions"`
	Mode         string               `json:"mode,omitempty" jsonschema:"hybrid (default), fts or semantic"`
	Lang         string               `json:"lang,omitempty" jsonschema:"ISO 639-1 language hint, e.g. en, ru, zh"`
	Script       string               `json:"script,omitempty" jsonschema:"script override, e.g. latin, cyrillic, cjk"`
	StrictFilter *filter.StrictFilter `json:"strict_filter,omitempty" jsonschema:"hard tag and scheme constraints applied before ranking"`
	Limit        int                  `json:"limit,omitempty" jsonschema:"maximum number of results, 1-100, default 20"`
	Offset       int                  `json:"offset,omitempty" jsonschema:"number of results to skip"`
	Fusion       string               `json:"fusion,omitempty" jsonschema:"rrf (default) or rsf"`
	Explain      bool                 `json:"explain,omitempty" jsonschema:"include ranking diagnostics"`
}

// request converts the tool input into an engine request.
func (in SearchInput) request() search.Request {
	req := search.Request{
		Query:   in.Query,
		Mode:    in.Mode,
		Lang:    in.Lang,
		Script:  in.Script,
		Limit:   in.Limit,
		Offset:  in.Offset,
		Fusion:  in.Fusion,
		Explain: in.Explain,
	}
	if in.StrictFilter != nil {
		req.Filter = *in.StrictFilter
	}
	return req
}

// SearchOutput defines the output schema for the search tool.
type SearchOutput struct {
	Results  []SearchResultOutput `json:"results" jsonschema:"ranked documents, one per chain"`
	Metadata SearchMetadata       `json:"metadata" jsonschema:"how the query was executed"`
}

// SearchMetadata mirrors search.Metadata. Explain is left untyped so the
// inferred schema does not describe enum-backed plan fields as integers.
type SearchMetadata struct {
	DetectedScript   string              `json:"detected_script"`
	SearchStrategy   search.StrategyInfo `json:"search_strategy"`
	DegradedBranches []string            `json:"degraded_branches"`
	SearchTimeMs     float64             `json:"search_time_ms"`
	FTSHitCount      int                 `json:"fts_hit_count"`
	SemanticHitCount int                 `json:"semantic_hit_count"`
	FusedCount       int                 `json:"fused_count"`
	TotalResults     int                 `json:"total_results"`
	Explain          any                 `json:"explain,omitempty" jsonschema:"ranking diagnostics, present when explain was requested"`
}

func toSearchMetadata(md search.Metadata) SearchMetadata {
	out := SearchMetadata{
		DetectedScript:   md.DetectedScript,
		SearchStrategy:   md.SearchStrategy,
		DegradedBranches: md.DegradedBranches,
		SearchTimeMs:     md.SearchTimeMs,
		FTSHitCount:      md.FTSHitCount,
		SemanticHitCount: md.SemanticHitCount,
		FusedCount:       md.FusedCount,
		TotalResults:     md.TotalResults,
	}
	if out.DegradedBranches == nil {
		out.DegradedBranches = []string{}
	}
	if md.Explain != nil {
		out.Explain = md.Explain
	}
	return out
}

// SearchResultOutput is a single document hit.
type SearchResultOutput struct {
	DocumentID  string          `json:"document_id" jsonschema:"document identifier"`
	Title       string          `json:"title" jsonschema:"document title without part suffixes"`
	Score       float64         `json:"score" jsonschema:"relevance score between 0 and 1"`
	Snippet     string          `json:"snippet" jsonschema:"text of the best matching chunk"`
	Tags        []string        `json:"tags" jsonschema:"document tags"`
	ChainInfo   dedup.ChainInfo `json:"chain_info" jsonschema:"how many chunks of the document matched"`
	MatchReason string          `json:"match_reason,omitempty" jsonschema:"which branches found the result"`
}

// IndexStatusInput defines the input schema for the index_status tool (no parameters).
type IndexStatusInput struct{}

// IndexStatusOutput defines the output schema for the index_status tool.
type IndexStatusOutput struct {
	Documents int    `json:"documents"`
	Chunks    int    `json:"chunks"`
	Lexical   string `json:"lexical"`  // "ready" or "unavailable"
	Semantic  string `json:"semantic"` // "ready" or "unavailable"
	Version   string `json:"version"`
}
