package telemetry

import (
	"hash/fnv"
	"strings"
	"time"
	"unicode"
	"unicode/utf8"
)

// QueryEvent describes one executed search.
type QueryEvent struct {
	Query       string
	Mode        string
	Script      string
	Strategy    string
	Degraded    []string
	ResultCount int
	Latency     time.Duration
	Timestamp   time.Time
}

// IsZeroResult reports whether the search returned nothing.
func (e QueryEvent) IsZeroResult() bool {
	return e.ResultCount == 0
}

// LatencyBucket names one latency histogram bucket by its upper bound.
type LatencyBucket string

const (
	BucketP10   LatencyBucket = "p10"
	BucketP50   LatencyBucket = "p50"
	BucketP100  LatencyBucket = "p100"
	BucketP500  LatencyBucket = "p500"
	BucketP1000 LatencyBucket = "p1000"
)

// latencyBounds are exclusive upper bounds in ascending order; anything
// slower lands in BucketP1000.
var latencyBounds = []struct {
	below  time.Duration
	bucket LatencyBucket
}{
	{10 * time.Millisecond, BucketP10},
	{50 * time.Millisecond, BucketP50},
	{100 * time.Millisecond, BucketP100},
	{500 * time.Millisecond, BucketP500},
}

// LatencyToBucket maps a search latency to its bucket.
func LatencyToBucket(d time.Duration) LatencyBucket {
	for _, b := range latencyBounds {
		if d < b.below {
			return b.bucket
		}
	}
	return BucketP1000
}

// TermCount is one query term and how often it was searched.
type TermCount struct {
	Term  string `json:"term"`
	Count int64  `json:"count"`
}

// ExtractTerms splits a query into lowercased terms for the top-terms
// table, dropping quotes, grouping, negation and the OR keyword. Words
// starting with an ideograph or kana count from two runes, others from
// three.
func ExtractTerms(query string) []string {
	fields := strings.FieldsFunc(strings.ToLower(query), func(r rune) bool {
		return unicode.IsSpace(r) || strings.ContainsRune(`"()`, r)
	})
	terms := fields[:0]
	for _, w := range fields {
		w = strings.TrimLeft(w, "-")
		if w == "" || w == "or" {
			continue
		}
		if utf8.RuneCountInString(w) >= minTermRunes(w) {
			terms = append(terms, w)
		}
	}
	if len(terms) == 0 {
		return nil
	}
	return terms
}

func minTermRunes(w string) int {
	r, _ := utf8.DecodeRuneInString(w)
	if unicode.In(r, unicode.Han, unicode.Hiragana, unicode.Katakana, unicode.Hangul) {
		return 2
	}
	return 3
}

// queryKey identifies a query for repeat detection, ignoring case and
// whitespace differences.
func queryKey(query string) uint64 {
	h := fnv.New64a()
	_, _ = h.Write([]byte(strings.Join(strings.Fields(strings.ToLower(query)), " ")))
	return h.Sum64()
}

// ring keeps the newest capacity items. Callers synchronize.
type ring[T any] struct {
	items []T
	next  int
	full  bool
}

func newRing[T any](capacity int) *ring[T] {
	return &ring[T]{items: make([]T, max(capacity, 1))}
}

func (r *ring[T]) add(item T) {
	r.items[r.next] = item
	r.next = (r.next + 1) % len(r.items)
	if r.next == 0 {
		r.full = true
	}
}

// list returns the items oldest first.
func (r *ring[T]) list() []T {
	if !r.full {
		return append([]T{}, r.items[:r.next]...)
	}
	return append(append([]T{}, r.items[r.next:]...), r.items[:r.next]...)
}
