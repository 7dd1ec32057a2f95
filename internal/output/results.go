package output

import (
	"encoding/json"
	"fmt"
	"maps"
	"slices"
	"strings"

	"github.com/Aman-CERP/amansearch/internal/search"
)

// JSON writes v as indented JSON.
func (w *Writer) JSON(v any) error {
	enc := json.NewEncoder(w.out)
	enc.SetIndent("", "  ")
	enc.SetEscapeHTML(false)
	return enc.Encode(v)
}

// Results renders a search response as text.
func (w *Writer) Results(query string, resp *search.Response) {
	s := w.styles
	if resp == nil || len(resp.Results) == 0 {
		_, _ = fmt.Fprintf(w.out, "No results found for %q\n", query)
		if resp != nil {
			w.degraded(resp.Metadata.DegradedBranches)
		}
		return
	}

	md := resp.Metadata
	_, _ = fmt.Fprintf(w.out, "%s\n", s.Header.Render(fmt.Sprintf("Results for %q", query)))
	_, _ = fmt.Fprintf(w.out, "%s\n", s.Label.Render(fmt.Sprintf(
		"%d of %d · script %s · %s + %s · %.1fms",
		len(resp.Results), md.TotalResults, md.DetectedScript,
		orDash(md.SearchStrategy.Lexical), orDash(md.SearchStrategy.Semantic), md.SearchTimeMs)))
	w.degraded(md.DegradedBranches)
	w.Newline()

	for i, r := range resp.Results {
		title := r.Title
		if title == "" {
			title = r.DocumentID
		}
		_, _ = fmt.Fprintf(w.out, "%2d. %s %s\n", i+1, s.Title.Render(title), s.Score.Render(fmt.Sprintf("%.3f", r.Score)))

		meta := []string{r.DocumentID}
		if r.ChainInfo.TotalChunks > 1 {
			meta = append(meta, fmt.Sprintf("part %d/%d", r.ChainInfo.BestChunkSequence, r.ChainInfo.TotalChunks))
		}
		if r.ChainInfo.ChunksMatched > 1 {
			meta = append(meta, fmt.Sprintf("%d chunks matched", r.ChainInfo.ChunksMatched))
		}
		if len(r.Tags) > 0 {
			meta = append(meta, strings.Join(r.Tags, ", "))
		}
		_, _ = fmt.Fprintf(w.out, "    %s\n", s.Label.Render(strings.Join(meta, " · ")))

		if r.Explain != nil {
			_, _ = fmt.Fprintf(w.out, "    %s\n", s.Dim.Render(explainLine(r.Explain)))
		}
		if r.Snippet != "" {
			_, _ = fmt.Fprintf(w.out, "    %s\n", r.Snippet)
		}
		w.Newline()
	}

	if md.Explain != nil {
		w.explain(md.Explain)
	}
}

func (w *Writer) degraded(branches []string) {
	if len(branches) == 0 {
		return
	}
	_, _ = fmt.Fprintf(w.out, "%s\n", w.styles.Warning.Render("degraded: "+strings.Join(branches, ", ")))
}

func explainLine(e *search.ResultExplain) string {
	parts := []string{"chunk " + e.ChunkID}
	if e.LexicalRank > 0 {
		parts = append(parts, fmt.Sprintf("lexical #%d (%.3f)", e.LexicalRank, e.LexicalScore))
	}
	if e.SemanticRank > 0 {
		parts = append(parts, fmt.Sprintf("semantic #%d (%.3f)", e.SemanticRank, e.SemanticScore))
	}
	parts = append(parts, fmt.Sprintf("fused %.5f", e.FusedScore))
	return strings.Join(parts, " · ")
}

func (w *Writer) explain(e *search.ExplainData) {
	s := w.styles
	_, _ = fmt.Fprintf(w.out, "%s\n", s.Header.Render("Explain"))
	row := func(label, value string) {
		_, _ = fmt.Fprintf(w.out, "  %s %s\n", s.Label.Render(fmt.Sprintf("%-12s", label)), value)
	}

	row("fusion", fmt.Sprintf("%s k=%d lexical=%.2f semantic=%.2f", e.FusionMethod, e.K, e.Weights.Lexical, e.Weights.Semantic))
	scripts := make([]string, 0, len(e.ScriptsFound))
	for _, sh := range e.ScriptsFound {
		scripts = append(scripts, fmt.Sprintf("%s %.0f%%", sh.Script, sh.Share*100))
	}
	row("scripts", fmt.Sprintf("%s (confidence %.2f)", orDash(strings.Join(scripts, ", ")), e.Confidence))
	if e.Plan != nil {
		row("strategy", fmt.Sprintf("%s lang=%s tokens=%d", e.Plan.Strategy, orDash(e.Plan.Language), e.Plan.Tokens))
		for _, n := range e.Plan.Notes {
			row("note", n)
		}
	}
	if e.UniverseSize >= 0 {
		row("universe", fmt.Sprintf("%d chunks", e.UniverseSize))
	}
	coarse := fmt.Sprintf("%d candidates", e.CoarseCandidates)
	if e.ExactScan {
		coarse += ", exact scan"
	} else if e.Ef > 0 {
		coarse += fmt.Sprintf(", ef=%d, est. recall %.2f", e.Ef, e.EstimatedRecall)
	}
	row("coarse", coarse)
	for _, branch := range slices.Sorted(maps.Keys(e.BranchErrors)) {
		row(branch, s.Error.Render(e.BranchErrors[branch]))
	}
}

func orDash(v string) string {
	if v == "" {
		return "-"
	}
	return v
}
