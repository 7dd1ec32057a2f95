package embed

import (
	"context"
	"fmt"
	"hash/fnv"
	"slices"
	"strings"
	"sync/atomic"
	"unicode"
)

// Feature weights of the static embedder. Words and CJK bigrams carry the
// meaning; character trigrams add robustness to inflection and typos.
const (
	wordWeight    = 0.7
	bigramWeight  = 0.5
	trigramWeight = 0.3
)

// StaticEmbedder hashes text features into a fixed vector. It needs no
// model or network, so it serves offline use and tests, at the cost of
// only lexical similarity.
//
// Each feature is hashed into every prefix size of the MRL ladder, so a
// truncated vector still carries all features.
type StaticEmbedder struct {
	dims   int
	ladder []int
	closed atomic.Bool
}

var _ Embedder = (*StaticEmbedder)(nil)

// NewStaticEmbedder creates a static embedder of dims (0 means
// DefaultDimensions) whose prefixes at the ladder sizes stay meaningful.
func NewStaticEmbedder(dims int, ladder []int) *StaticEmbedder {
	if dims <= 0 {
		dims = DefaultDimensions
	}
	sizes := []int{dims}
	for _, d := range ladder {
		if d > 0 && d < dims {
			sizes = append(sizes, d)
		}
	}
	slices.Sort(sizes)
	return &StaticEmbedder{dims: dims, ladder: slices.Compact(sizes)}
}

// Embed returns the normalized feature vector of text; blank text gives
// the zero vector.
func (e *StaticEmbedder) Embed(_ context.Context, text string) ([]float32, error) {
	if e.closed.Load() {
		return nil, fmt.Errorf("embedder is closed")
	}
	vec := make([]float32, e.dims)
	text = strings.ToLower(strings.TrimSpace(text))
	if text == "" {
		return vec, nil
	}
	for f, w := range features(text) {
		h := hashFeature(f)
		for _, size := range e.ladder {
			vec[h%uint64(size)] += w
		}
	}
	return Normalize(vec), nil
}

// features yields the weighted features of lowercased text: each word,
// each rune and adjacent pair of an ideographic run, and the character
// trigrams of the text with separators removed.
func features(text string) func(func(string, float32) bool) {
	return func(yield func(string, float32) bool) {
		for _, w := range words(text) {
			r := []rune(w)
			if !isIdeographic(r[0]) {
				if !yield(w, wordWeight) {
					return
				}
				continue
			}
			for i := range r {
				if !yield(string(r[i]), wordWeight) {
					return
				}
				if i+1 < len(r) && !yield(string(r[i:i+2]), bigramWeight) {
					return
				}
			}
		}
		dense := []rune(strings.Map(func(r rune) rune {
			if unicode.IsLetter(r) || unicode.IsDigit(r) || unicode.IsSymbol(r) {
				return r
			}
			return -1
		}, text))
		for i := 0; i+3 <= len(dense); i++ {
			if !yield(string(dense[i:i+3]), trigramWeight) {
				return
			}
		}
	}
}

// words splits text into runs of letters, digits and marks. An
// ideographic run is split from adjacent Latin text but kept whole.
func words(text string) []string {
	var (
		out   []string
		start = -1
		ideo  bool
	)
	for i, r := range text {
		inWord := unicode.IsLetter(r) || unicode.IsDigit(r) || unicode.IsMark(r)
		if start >= 0 && (!inWord || isIdeographic(r) != ideo) {
			out = append(out, text[start:i])
			start = -1
		}
		if inWord && start < 0 {
			start, ideo = i, isIdeographic(r)
		}
	}
	if start >= 0 {
		out = append(out, text[start:])
	}
	return out
}

func isIdeographic(r rune) bool {
	return unicode.In(r, unicode.Han, unicode.Hiragana, unicode.Katakana, unicode.Hangul)
}

func hashFeature(s string) uint64 {
	h := fnv.New64a()
	_, _ = h.Write([]byte(s))
	return h.Sum64()
}

// EmbedBatch embeds each text in turn.
func (e *StaticEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, text := range texts {
		vec, err := e.Embed(ctx, text)
		if err != nil {
			return nil, fmt.Errorf("embed text %d: %w", i, err)
		}
		out[i] = vec
	}
	return out, nil
}

func (e *StaticEmbedder) Dimensions() int                  { return e.dims }
func (e *StaticEmbedder) ModelName() string                { return fmt.Sprintf("static-%d", e.dims) }
func (e *StaticEmbedder) Available(_ context.Context) bool { return !e.closed.Load() }

// Close marks the embedder closed; later calls fail.
func (e *StaticEmbedder) Close() error {
	e.closed.Store(true)
	return nil
}
