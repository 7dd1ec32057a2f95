package mcp

import (
	"fmt"
	"strings"

	"github.com/Aman-CERP/amansearch/internal/search"
)

// FormatSearchResults formats a response as markdown.
func FormatSearchResults(query string, resp *search.Response) string {
	if resp == nil || len(resp.Results) == 0 {
		msg := fmt.Sprintf("No results found for \"%s\"", query)
		if resp != nil && len(resp.Metadata.DegradedBranches) > 0 {
			msg += fmt.Sprintf(" (degraded: %s)", strings.Join(resp.Metadata.DegradedBranches, ", "))
		}
		return msg
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "## Search Results for \"%s\"\n\n", query)
	fmt.Fprintf(&sb, "Showing %d of %d result", len(resp.Results), resp.Metadata.TotalResults)
	if resp.Metadata.TotalResults != 1 {
		sb.WriteString("s")
	}
	fmt.Fprintf(&sb, " (script: %s, %.1fms)", resp.Metadata.DetectedScript, resp.Metadata.SearchTimeMs)
	if len(resp.Metadata.DegradedBranches) > 0 {
		fmt.Fprintf(&sb, "\n\n**Degraded:** %s", strings.Join(resp.Metadata.DegradedBranches, ", "))
	}
	sb.WriteString("\n\n")

	for i, r := range resp.Results {
		formatResult(&sb, i+1, r)
	}
	return sb.String()
}

// formatResult formats a single result.
func formatResult(sb *strings.Builder, num int, r search.Result) {
	title := r.Title
	if title == "" {
		title = r.DocumentID
	}
	fmt.Fprintf(sb, "### %d. %s (score: %.2f)\n", num, title, r.Score)
	fmt.Fprintf(sb, "`%s`", r.DocumentID)
	if r.ChainInfo.TotalChunks > 1 {
		fmt.Fprintf(sb, " · part %d of %d, %d matched",
			r.ChainInfo.BestChunkSequence, r.ChainInfo.TotalChunks, r.ChainInfo.ChunksMatched)
	}
	sb.WriteString("\n")
	if len(r.Tags) > 0 {
		fmt.Fprintf(sb, "**Tags:** %s\n", strings.Join(r.Tags, ", "))
	}
	fmt.Fprintf(sb, "\n> %s\n\n", r.Snippet)
}

// ToSearchResultOutput converts a search result to the tool output format.
func ToSearchResultOutput(r search.Result) SearchResultOutput {
	return SearchResultOutput{
		DocumentID:  r.DocumentID,
		Title:       r.Title,
		Score:       r.Score,
		Snippet:     r.Snippet,
		Tags:        r.Tags,
		ChainInfo:   r.ChainInfo,
		MatchReason: generateMatchReason(r),
	}
}

// generateMatchReason explains which branches found a result.
func generateMatchReason(r search.Result) string {
	x := r.Explain
	if x == nil {
		return ""
	}

	var parts []string
	switch {
	case x.LexicalRank > 0 && x.SemanticRank > 0:
		parts = append(parts, fmt.Sprintf("keyword #%d and semantic #%d", x.LexicalRank, x.SemanticRank))
	case x.LexicalRank > 0:
		parts = append(parts, fmt.Sprintf("keyword #%d", x.LexicalRank))
	case x.SemanticRank > 0:
		parts = append(parts, fmt.Sprintf("semantic #%d", x.SemanticRank))
	}
	if r.ChainInfo.ChunksMatched > 1 {
		parts = append(parts, fmt.Sprintf("%d chunks matched", r.ChainInfo.ChunksMatched))
	}
	if len(parts) == 0 {
		return "matched content"
	}
	return strings.Join(parts, "; ")
}
