package telemetry

import (
	"database/sql"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Aman-CERP/amansearch/internal/store"
)

// setupTestDB shares an in-memory metadata database, as the server does.
func setupTestDB(t *testing.T) *sql.DB {
	t.Helper()

	meta, err := store.OpenSQLiteMetadataStore("")
	require.NoError(t, err)
	t.Cleanup(func() { _ = meta.Close() })
	return meta.DB()
}

func newTestStore(t *testing.T) *SQLiteMetricsStore {
	t.Helper()
	ms, err := NewSQLiteMetricsStore(setupTestDB(t))
	require.NoError(t, err)
	return ms
}

func TestNewSQLiteMetricsStore_RequiresDB(t *testing.T) {
	_, err := NewSQLiteMetricsStore(nil)
	assert.Error(t, err)
}

func TestNewSQLiteMetricsStore_SchemaIsIdempotent(t *testing.T) {
	db := setupTestDB(t)
	_, err := NewSQLiteMetricsStore(db)
	require.NoError(t, err)
	_, err = NewSQLiteMetricsStore(db)
	assert.NoError(t, err)
}

// =============================================================================
// Batches
// =============================================================================

func TestSaveBatch_AccumulatesCounts(t *testing.T) {
	// Given: a store on the shared metadata database
	ms := newTestStore(t)

	// When: two batches for the same day are saved
	require.NoError(t, ms.SaveBatch(Batch{
		Date: "2026-01-06",
		Counts: map[string]map[string]int64{
			DimensionMode:     {"hybrid": 10, "fts": 5},
			DimensionStrategy: {"cjk_bigram": 2},
		},
		Latencies: map[LatencyBucket]int64{BucketP10: 10, BucketP50: 3},
	}))
	require.NoError(t, ms.SaveBatch(Batch{
		Date:      "2026-01-06",
		Counts:    map[string]map[string]int64{DimensionMode: {"hybrid": 5}},
		Latencies: map[LatencyBucket]int64{BucketP10: 5},
	}))

	// Then: counts add up per dimension and bucket
	modes, err := ms.GetCounts(DimensionMode, "2026-01-06", "2026-01-06")
	require.NoError(t, err)
	assert.Equal(t, map[string]int64{"hybrid": 15, "fts": 5}, modes)

	strategies, err := ms.GetCounts(DimensionStrategy, "2026-01-06", "2026-01-06")
	require.NoError(t, err)
	assert.Equal(t, map[string]int64{"cjk_bigram": 2}, strategies)

	latency, err := ms.GetLatencyCounts("2026-01-06", "2026-01-06")
	require.NoError(t, err)
	assert.Equal(t, map[LatencyBucket]int64{BucketP10: 15, BucketP50: 3}, latency)
}

func TestGetCounts_DateRange(t *testing.T) {
	ms := newTestStore(t)
	for i, date := range []string{"2026-01-05", "2026-01-06", "2026-01-07"} {
		require.NoError(t, ms.SaveBatch(Batch{
			Date:   date,
			Counts: map[string]map[string]int64{DimensionDegraded: {"semantic": int64(10 * (i + 1))}},
		}))
	}

	result, err := ms.GetCounts(DimensionDegraded, "2026-01-05", "2026-01-06")

	require.NoError(t, err)
	assert.Equal(t, int64(30), result["semantic"])
}

func TestSaveBatch_TopTerms(t *testing.T) {
	// Given: term counts spread over two batches
	ms := newTestStore(t)
	require.NoError(t, ms.SaveBatch(Batch{Terms: map[string]int64{"rust": 10, "人工智能": 7, "golang": 3, "python": 3}}))
	require.NoError(t, ms.SaveBatch(Batch{Terms: map[string]int64{"rust": 5}}))

	// When: reading the top three
	result, err := ms.GetTopTerms(3)

	// Then: frequency orders them, ties broken by term
	require.NoError(t, err)
	assert.Equal(t, []TermCount{
		{Term: "rust", Count: 15},
		{Term: "人工智能", Count: 7},
		{Term: "golang", Count: 3},
	}, result)
}

func TestSaveBatch_ZeroResultsKeepScript(t *testing.T) {
	ms := newTestStore(t)
	now := time.Now().Truncate(time.Second)

	require.NoError(t, ms.SaveBatch(Batch{ZeroResults: []ZeroResult{
		{Query: "quantum gardening", Script: "latin", At: now},
		{Query: "量子园艺", Script: "han", At: now.Add(time.Minute)},
	}}))

	result, err := ms.GetZeroResultQueries(10)
	require.NoError(t, err)
	require.Len(t, result, 2)
	assert.Equal(t, "量子园艺", result[0].Query)
	assert.Equal(t, "han", result[0].Script)
	assert.True(t, result[0].At.Equal(now.Add(time.Minute)), "got %v", result[0].At)
	assert.Equal(t, "quantum gardening", result[1].Query)
}

func TestSaveBatch_ZeroResultsRetention(t *testing.T) {
	// Given: more zero-result queries than the log keeps
	ms := newTestStore(t)
	now := time.Now()
	var zs []ZeroResult
	for i := 0; i < zeroResultRetention+50; i++ {
		zs = append(zs, ZeroResult{Query: fmt.Sprintf("query-%03d", i), At: now.Add(time.Duration(i) * time.Second)})
	}

	// When: saving them and asking for more than exist
	require.NoError(t, ms.SaveBatch(Batch{ZeroResults: zs}))
	result, err := ms.GetZeroResultQueries(1000)

	// Then: only the newest are kept
	require.NoError(t, err)
	assert.Len(t, result, zeroResultRetention)
	assert.Equal(t, fmt.Sprintf("query-%03d", zeroResultRetention+49), result[0].Query)
}

func TestSaveBatch_Empty(t *testing.T) {
	ms := newTestStore(t)

	assert.True(t, Batch{}.Empty())
	assert.NoError(t, ms.SaveBatch(Batch{Terms: map[string]int64{}}))

	terms, err := ms.GetTopTerms(10)
	require.NoError(t, err)
	assert.Empty(t, terms)
}
