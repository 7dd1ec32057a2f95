package telemetry

import (
	"database/sql"
	"fmt"
	"time"
)

// zeroResultRetention bounds the persisted zero-result log.
const zeroResultRetention = 100

const telemetrySchema = `
CREATE TABLE IF NOT EXISTS query_counts (
	date TEXT NOT NULL,
	dimension TEXT NOT NULL,
	value TEXT NOT NULL,
	count INTEGER NOT NULL DEFAULT 0,
	PRIMARY KEY (date, dimension, value)
);

CREATE TABLE IF NOT EXISTS query_terms (
	term TEXT PRIMARY KEY,
	count INTEGER NOT NULL DEFAULT 0,
	last_seen TIMESTAMP DEFAULT CURRENT_TIMESTAMP
);
CREATE INDEX IF NOT EXISTS idx_query_terms_count ON query_terms(count DESC);

CREATE TABLE IF NOT EXISTS zero_result_queries (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	query TEXT NOT NULL,
	script TEXT NOT NULL DEFAULT '',
	at TIMESTAMP NOT NULL
);

CREATE TABLE IF NOT EXISTS query_latency (
	date TEXT NOT NULL,
	bucket TEXT NOT NULL,
	count INTEGER NOT NULL DEFAULT 0,
	PRIMARY KEY (date, bucket)
);
`

// Batch is one flush of aggregate deltas. Counts are keyed by dimension,
// then value.
type Batch struct {
	Date        string
	Counts      map[string]map[string]int64
	Terms       map[string]int64
	Latencies   map[LatencyBucket]int64
	ZeroResults []ZeroResult
}

// Empty reports whether b carries nothing to write.
func (b Batch) Empty() bool {
	return len(b.Counts) == 0 && len(b.Terms) == 0 && len(b.Latencies) == 0 && len(b.ZeroResults) == 0
}

// ZeroResult is one query that returned nothing, with the script it was
// detected as. Misses clustered in one script point at a tokenizer gap.
type ZeroResult struct {
	Query  string    `json:"query"`
	Script string    `json:"script,omitempty"`
	At     time.Time `json:"at"`
}

// SQLiteMetricsStore persists query telemetry next to the chain metadata.
type SQLiteMetricsStore struct {
	db *sql.DB
}

// NewSQLiteMetricsStore creates a metrics store on a shared database,
// typically the metadata store's. The telemetry tables are created if
// missing.
func NewSQLiteMetricsStore(db *sql.DB) (*SQLiteMetricsStore, error) {
	if db == nil {
		return nil, fmt.Errorf("database connection is required")
	}
	if _, err := db.Exec(telemetrySchema); err != nil {
		return nil, fmt.Errorf("create telemetry schema: %w", err)
	}
	return &SQLiteMetricsStore{db: db}, nil
}

// SaveBatch adds b to the stored aggregates in one transaction.
func (s *SQLiteMetricsStore) SaveBatch(b Batch) error {
	if b.Empty() {
		return nil
	}
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	for dim, counts := range b.Counts {
		err := upsert(tx, `
			INSERT INTO query_counts (date, dimension, value, count) VALUES (?, ?, ?, ?)
			ON CONFLICT(date, dimension, value) DO UPDATE SET count = count + excluded.count`,
			counts, func(value string, n int64) []any { return []any{b.Date, dim, value, n} })
		if err != nil {
			return fmt.Errorf("save %s counts: %w", dim, err)
		}
	}

	err = upsert(tx, `
		INSERT INTO query_terms (term, count, last_seen) VALUES (?, ?, CURRENT_TIMESTAMP)
		ON CONFLICT(term) DO UPDATE SET count = count + excluded.count, last_seen = CURRENT_TIMESTAMP`,
		b.Terms, func(term string, n int64) []any { return []any{term, n} })
	if err != nil {
		return fmt.Errorf("save term counts: %w", err)
	}

	latencies := make(map[string]int64, len(b.Latencies))
	for bucket, n := range b.Latencies {
		latencies[string(bucket)] = n
	}
	err = upsert(tx, `
		INSERT INTO query_latency (date, bucket, count) VALUES (?, ?, ?)
		ON CONFLICT(date, bucket) DO UPDATE SET count = count + excluded.count`,
		latencies, func(bucket string, n int64) []any { return []any{b.Date, bucket, n} })
	if err != nil {
		return fmt.Errorf("save latency counts: %w", err)
	}

	if len(b.ZeroResults) > 0 {
		for _, z := range b.ZeroResults {
			if _, err := tx.Exec(`INSERT INTO zero_result_queries (query, script, at) VALUES (?, ?, ?)`,
				z.Query, z.Script, z.At.UTC()); err != nil {
				return fmt.Errorf("save zero-result query: %w", err)
			}
		}
		if _, err := tx.Exec(`
			DELETE FROM zero_result_queries
			WHERE id NOT IN (SELECT id FROM zero_result_queries ORDER BY id DESC LIMIT ?)`,
			zeroResultRetention); err != nil {
			return fmt.Errorf("trim zero-result queries: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

// upsert runs one prepared statement per map entry.
func upsert(tx *sql.Tx, stmt string, rows map[string]int64, args func(string, int64) []any) error {
	if len(rows) == 0 {
		return nil
	}
	prepared, err := tx.Prepare(stmt)
	if err != nil {
		return err
	}
	defer func() { _ = prepared.Close() }()
	for key, n := range rows {
		if _, err := prepared.Exec(args(key, n)...); err != nil {
			return err
		}
	}
	return nil
}

// GetCounts sums a dimension's counts over an inclusive date range.
func (s *SQLiteMetricsStore) GetCounts(dimension, from, to string) (map[string]int64, error) {
	rows, err := s.db.Query(`
		SELECT value, SUM(count) FROM query_counts
		WHERE dimension = ? AND date >= ? AND date <= ?
		GROUP BY value`, dimension, from, to)
	if err != nil {
		return nil, fmt.Errorf("query %s counts: %w", dimension, err)
	}
	return scanCounts(rows)
}

// GetLatencyCounts sums the latency histogram over an inclusive date range.
func (s *SQLiteMetricsStore) GetLatencyCounts(from, to string) (map[LatencyBucket]int64, error) {
	rows, err := s.db.Query(`
		SELECT bucket, SUM(count) FROM query_latency
		WHERE date >= ? AND date <= ?
		GROUP BY bucket`, from, to)
	if err != nil {
		return nil, fmt.Errorf("query latency counts: %w", err)
	}
	counts, err := scanCounts(rows)
	if err != nil {
		return nil, err
	}
	out := make(map[LatencyBucket]int64, len(counts))
	for k, v := range counts {
		out[LatencyBucket(k)] = v
	}
	return out, nil
}

func scanCounts(rows *sql.Rows) (map[string]int64, error) {
	defer func() { _ = rows.Close() }()
	counts := make(map[string]int64)
	for rows.Next() {
		var (
			key string
			n   int64
		)
		if err := rows.Scan(&key, &n); err != nil {
			return nil, fmt.Errorf("scan row: %w", err)
		}
		counts[key] = n
	}
	return counts, rows.Err()
}

// GetTopTerms returns the most frequent terms, ties broken by term.
func (s *SQLiteMetricsStore) GetTopTerms(limit int) ([]TermCount, error) {
	rows, err := s.db.Query(`SELECT term, count FROM query_terms ORDER BY count DESC, term ASC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("query top terms: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var terms []TermCount
	for rows.Next() {
		var tc TermCount
		if err := rows.Scan(&tc.Term, &tc.Count); err != nil {
			return nil, fmt.Errorf("scan row: %w", err)
		}
		terms = append(terms, tc)
	}
	return terms, rows.Err()
}

// GetZeroResultQueries returns the newest zero-result queries first.
func (s *SQLiteMetricsStore) GetZeroResultQueries(limit int) ([]ZeroResult, error) {
	rows, err := s.db.Query(`SELECT query, script, at FROM zero_result_queries ORDER BY id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("query zero-result queries: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []ZeroResult
	for rows.Next() {
		var z ZeroResult
		if err := rows.Scan(&z.Query, &z.Script, &z.At); err != nil {
			return nil, fmt.Errorf("scan row: %w", err)
		}
		out = append(out, z)
	}
	return out, rows.Err()
}

// Close is a no-op: the database belongs to the metadata store.
func (s *SQLiteMetricsStore) Close() error {
	return nil
}
