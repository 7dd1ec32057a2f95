// Package telemetry records query patterns for tuning the search pipeline.
// Aggregates stay local: in memory, optionally flushed to SQLite, and
// exposed as Prometheus collectors.
package telemetry

import (
	"cmp"
	"maps"
	"slices"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
)

// Dimension names used for counters.
const (
	DimensionMode     = "mode"
	DimensionScript   = "script"
	DimensionStrategy = "strategy"
	DimensionDegraded = "degraded"
)

// QueryMetricsSnapshot is a copy of the aggregates at one point in time.
type QueryMetricsSnapshot struct {
	// Counts holds per-dimension value counts, e.g. Counts["mode"]["hybrid"].
	Counts              map[string]map[string]int64 `json:"counts"`
	TopTerms            []TermCount                 `json:"top_terms"`
	ZeroResultQueries   []string                    `json:"zero_result_queries"`
	LatencyDistribution map[LatencyBucket]int64     `json:"latency_distribution"`
	TotalQueries        int64                       `json:"total_queries"`
	ZeroResultCount     int64                       `json:"zero_result_count"`
	DegradedCount       int64                       `json:"degraded_count"`
	ExactRepeatCount    int64                       `json:"exact_repeat_count"`
	UniqueQueryCount    int64                       `json:"unique_query_count"`
	Since               time.Time                   `json:"since"`
}

func percent(n, total int64) float64 {
	if total == 0 {
		return 0
	}
	return float64(n) / float64(total) * 100
}

// ZeroResultPercentage is the share of searches that found nothing.
func (s *QueryMetricsSnapshot) ZeroResultPercentage() float64 {
	return percent(s.ZeroResultCount, s.TotalQueries)
}

// DegradedPercentage is the share of searches that lost a branch.
func (s *QueryMetricsSnapshot) DegradedPercentage() float64 {
	return percent(s.DegradedCount, s.TotalQueries)
}

// QueryMetricsStore persists aggregates between runs.
type QueryMetricsStore interface {
	SaveBatch(b Batch) error
	GetCounts(dimension, from, to string) (map[string]int64, error)
	GetTopTerms(limit int) ([]TermCount, error)
	GetZeroResultQueries(limit int) ([]ZeroResult, error)
	GetLatencyCounts(from, to string) (map[LatencyBucket]int64, error)
	Close() error
}

// QueryMetricsConfig sizes the in-memory aggregates. Zero values take the
// defaults; a zero FlushInterval disables the background flush.
type QueryMetricsConfig struct {
	TopTermsCapacity      int
	ZeroResultsCapacity   int
	RecentQueriesCapacity int
	FlushInterval         time.Duration
}

// DefaultQueryMetricsConfig returns the collector defaults.
func DefaultQueryMetricsConfig() QueryMetricsConfig {
	return QueryMetricsConfig{
		TopTermsCapacity:      100,
		ZeroResultsCapacity:   100,
		RecentQueriesCapacity: 500,
		FlushInterval:         time.Minute,
	}
}

func (c QueryMetricsConfig) withDefaults() QueryMetricsConfig {
	d := DefaultQueryMetricsConfig()
	c.TopTermsCapacity = cmp.Or(max(c.TopTermsCapacity, 0), d.TopTermsCapacity)
	c.ZeroResultsCapacity = cmp.Or(max(c.ZeroResultsCapacity, 0), d.ZeroResultsCapacity)
	c.RecentQueriesCapacity = cmp.Or(max(c.RecentQueriesCapacity, 0), d.RecentQueriesCapacity)
	return c
}

// QueryMetrics aggregates query events. It is safe for concurrent use.
type QueryMetrics struct {
	mu     sync.RWMutex
	closed bool
	since  time.Time

	counts    map[string]map[string]int64
	latencies map[LatencyBucket]int64
	terms     *lru.Cache[string, int64]
	misses    *ring[string]
	recent    *lru.Cache[uint64, struct{}]

	total, zero, degraded, repeats int64

	// pending holds the deltas not yet flushed.
	pending *Batch
	store   QueryMetricsStore

	stop chan struct{}
	done sync.WaitGroup
}

func newBatch() *Batch {
	return &Batch{
		Counts:    make(map[string]map[string]int64),
		Terms:     make(map[string]int64),
		Latencies: make(map[LatencyBucket]int64),
	}
}

// NewQueryMetrics creates a collector with default configuration. A nil
// store keeps metrics in memory only.
func NewQueryMetrics(store QueryMetricsStore) *QueryMetrics {
	return NewQueryMetricsWithConfig(store, DefaultQueryMetricsConfig())
}

// NewQueryMetricsWithConfig creates a collector. With a store and a flush
// interval, deltas are written in the background until Close.
func NewQueryMetricsWithConfig(store QueryMetricsStore, cfg QueryMetricsConfig) *QueryMetrics {
	cfg = cfg.withDefaults()
	terms, _ := lru.New[string, int64](cfg.TopTermsCapacity)
	recent, _ := lru.New[uint64, struct{}](cfg.RecentQueriesCapacity)

	m := &QueryMetrics{
		since:     time.Now(),
		counts:    make(map[string]map[string]int64),
		latencies: make(map[LatencyBucket]int64),
		terms:     terms,
		misses:    newRing[string](cfg.ZeroResultsCapacity),
		recent:    recent,
		pending:   newBatch(),
		store:     store,
		stop:      make(chan struct{}),
	}
	if store != nil && cfg.FlushInterval > 0 {
		m.done.Add(1)
		go m.flushEvery(cfg.FlushInterval)
	}
	return m
}

func (m *QueryMetrics) flushEvery(interval time.Duration) {
	defer m.done.Done()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			_ = m.Flush()
		case <-m.stop:
			return
		}
	}
}

func bump(counts map[string]map[string]int64, dimension, value string) {
	if value == "" {
		return
	}
	if counts[dimension] == nil {
		counts[dimension] = make(map[string]int64)
	}
	counts[dimension][value]++
}

// Record captures one query event. Events after Close are dropped.
func (m *QueryMetrics) Record(event QueryEvent) {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}
	bucket := LatencyToBucket(event.Latency)
	terms := ExtractTerms(event.Query)
	key := queryKey(event.Query)

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return
	}

	m.total++
	for _, counts := range [...]map[string]map[string]int64{m.counts, m.pending.Counts} {
		bump(counts, DimensionMode, event.Mode)
		bump(counts, DimensionScript, event.Script)
		bump(counts, DimensionStrategy, event.Strategy)
		for _, branch := range event.Degraded {
			bump(counts, DimensionDegraded, branch)
		}
	}
	if len(event.Degraded) > 0 {
		m.degraded++
	}

	for _, term := range terms {
		n, _ := m.terms.Get(term)
		m.terms.Add(term, n+1)
		m.pending.Terms[term]++
	}

	if event.IsZeroResult() {
		m.zero++
		m.misses.add(event.Query)
		m.pending.ZeroResults = append(m.pending.ZeroResults,
			ZeroResult{Query: event.Query, Script: event.Script, At: event.Timestamp})
	}

	m.latencies[bucket]++
	m.pending.Latencies[bucket]++

	if m.recent.Contains(key) {
		m.repeats++
	}
	m.recent.Add(key, struct{}{})
}

// Snapshot copies the current aggregates. Top terms are ordered by count,
// ties by term.
func (m *QueryMetrics) Snapshot() *QueryMetricsSnapshot {
	m.mu.RLock()
	defer m.mu.RUnlock()

	counts := make(map[string]map[string]int64, len(m.counts))
	for dim, values := range m.counts {
		counts[dim] = maps.Clone(values)
	}

	top := make([]TermCount, 0, m.terms.Len())
	for _, term := range m.terms.Keys() {
		if n, ok := m.terms.Peek(term); ok {
			top = append(top, TermCount{Term: term, Count: n})
		}
	}
	slices.SortFunc(top, func(a, b TermCount) int {
		return cmp.Or(cmp.Compare(b.Count, a.Count), cmp.Compare(a.Term, b.Term))
	})

	return &QueryMetricsSnapshot{
		Counts:              counts,
		TopTerms:            top,
		ZeroResultQueries:   m.misses.list(),
		LatencyDistribution: maps.Clone(m.latencies),
		TotalQueries:        m.total,
		ZeroResultCount:     m.zero,
		DegradedCount:       m.degraded,
		ExactRepeatCount:    m.repeats,
		UniqueQueryCount:    int64(m.recent.Len()),
		Since:               m.since,
	}
}

// Flush writes the deltas recorded since the last flush. Without a store
// it does nothing.
func (m *QueryMetrics) Flush() error {
	if m.store == nil {
		return nil
	}

	m.mu.Lock()
	b := m.pending
	m.pending = newBatch()
	m.mu.Unlock()

	b.Date = time.Now().Format(time.DateOnly)
	return m.store.SaveBatch(*b)
}

// Close stops the background flush and writes what is pending.
func (m *QueryMetrics) Close() error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	m.mu.Unlock()

	close(m.stop)
	m.done.Wait()
	return m.Flush()
}
