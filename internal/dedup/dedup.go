// Package dedup collapses chunk-level fused results into one result per
// document chain.
package dedup

import (
	"regexp"
	"sort"
	"strings"

	"github.com/Aman-CERP/amansearch/internal/fusion"
	"github.com/Aman-CERP/amansearch/internal/store"
)

// ChainInfo describes how a document chain matched.
type ChainInfo struct {
	ChainID           string `json:"chain_id"`
	OriginalTitle     string `json:"original_title"`
	ChunksMatched     int    `json:"chunks_matched"`
	BestChunkSequence int    `json:"best_chunk_sequence"`
	TotalChunks       int    `json:"total_chunks"`
}

// Entry is the representative chunk of one chain.
type Entry struct {
	Result fusion.Result
	Chunk  store.ChunkMeta
	Chain  ChainInfo
}

// Deduplicate groups fused results by chain and keeps the highest scoring
// chunk of each. Results whose chunk has no metadata are dropped. The
// output is ordered by representative score with the fusion tie-break.
func Deduplicate(results []fusion.Result, meta map[string]store.ChunkMeta) []Entry {
	index := make(map[string]int)
	out := make([]Entry, 0, len(results))

	for _, r := range results {
		m, ok := meta[r.ChunkID]
		if !ok {
			continue
		}
		chain := m.DocumentID
		if chain == "" {
			chain = r.DocumentID
		}

		i, seen := index[chain]
		if !seen {
			index[chain] = len(out)
			out = append(out, Entry{
				Result: r,
				Chunk:  m,
				Chain: ChainInfo{
					ChainID:           chain,
					OriginalTitle:     CleanTitle(m.Title),
					ChunksMatched:     1,
					BestChunkSequence: m.Sequence,
					TotalChunks:       max(m.TotalChunks, 1),
				},
			})
			continue
		}

		e := &out[i]
		e.Chain.ChunksMatched++
		if fusion.Less(r, e.Result) {
			e.Result = r
			e.Chunk = m
			e.Chain.BestChunkSequence = m.Sequence
			e.Chain.OriginalTitle = CleanTitle(m.Title)
		}
		if m.TotalChunks > e.Chain.TotalChunks {
			e.Chain.TotalChunks = m.TotalChunks
		}
	}

	for i := range out {
		if out[i].Chain.TotalChunks < out[i].Chain.ChunksMatched {
			out[i].Chain.TotalChunks = out[i].Chain.ChunksMatched
		}
	}

	sort.SliceStable(out, func(i, j int) bool {
		return fusion.Less(out[i].Result, out[j].Result)
	})
	return out
}

var partSuffixes = []*regexp.Regexp{
	regexp.MustCompile(`\s*\(Part\s+\d+/\d+\)\s*$`),
	regexp.MustCompile(`\s*-\s*Part\s+\d+\s+of\s+\d+\s*$`),
	regexp.MustCompile(`\s*\[\d+/\d+\]\s*$`),
}

// CleanTitle strips a chunk suffix such as " (Part 1/3)", " - Part 2 of 5"
// or " [3/10]".
func CleanTitle(title string) string {
	title = strings.TrimSpace(title)
	for _, re := range partSuffixes {
		if loc := re.FindStringIndex(title); loc != nil {
			title = title[:loc[0]]
			break
		}
	}
	return strings.TrimSpace(title)
}
