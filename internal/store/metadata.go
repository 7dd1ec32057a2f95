package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"unicode/utf8"

	_ "modernc.org/sqlite" // Pure Go SQLite driver (no CGO)

	"github.com/Aman-CERP/amansearch/internal/filter"
)

// sqliteBatch bounds the number of bound parameters per IN (...) query.
const sqliteBatch = 500

const metadataSchema = `
CREATE TABLE IF NOT EXISTS documents (
	id TEXT PRIMARY KEY,
	title TEXT NOT NULL DEFAULT '',
	language TEXT NOT NULL DEFAULT '',
	total_chunks INTEGER NOT NULL DEFAULT 0,
	updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
);

CREATE TABLE IF NOT EXISTS chunks (
	id TEXT PRIMARY KEY,
	document_id TEXT NOT NULL,
	sequence INTEGER NOT NULL,
	text TEXT NOT NULL,
	FOREIGN KEY (document_id) REFERENCES documents(id) ON DELETE CASCADE
);
CREATE INDEX IF NOT EXISTS idx_chunks_document ON chunks(document_id, sequence);

CREATE TABLE IF NOT EXISTS document_tags (
	document_id TEXT NOT NULL,
	tag TEXT NOT NULL,
	PRIMARY KEY (document_id, tag),
	FOREIGN KEY (document_id) REFERENCES documents(id) ON DELETE CASCADE
);
CREATE INDEX IF NOT EXISTS idx_document_tags_tag ON document_tags(tag);

CREATE TABLE IF NOT EXISTS document_schemes (
	document_id TEXT NOT NULL,
	scheme TEXT NOT NULL,
	PRIMARY KEY (document_id, scheme),
	FOREIGN KEY (document_id) REFERENCES documents(id) ON DELETE CASCADE
);
CREATE INDEX IF NOT EXISTS idx_document_schemes_scheme ON document_schemes(scheme);

CREATE TABLE IF NOT EXISTS state (
	key TEXT PRIMARY KEY,
	value TEXT NOT NULL
);
`

// SQLiteMetadataStore implements MetadataStore on SQLite in WAL mode.
type SQLiteMetadataStore struct {
	db   *sql.DB
	path string
}

var (
	_ MetadataStore   = (*SQLiteMetadataStore)(nil)
	_ filter.Resolver = (*SQLiteMetadataStore)(nil)
)

// validateSQLiteIntegrity checks an existing database before it is opened.
// Returns nil if valid or absent.
func validateSQLiteIntegrity(path string) error {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return nil
	}
	db, err := sql.Open("sqlite", path+"?mode=ro")
	if err != nil {
		return fmt.Errorf("cannot open for validation: %w", err)
	}
	defer db.Close()

	var result string
	if err := db.QueryRow("PRAGMA integrity_check").Scan(&result); err != nil {
		return fmt.Errorf("integrity check failed: %w", err)
	}
	if result != "ok" {
		return fmt.Errorf("database corrupted: %s", result)
	}
	return nil
}

// OpenSQLiteMetadataStore opens or creates the metadata database. An empty
// path opens an in-memory database.
func OpenSQLiteMetadataStore(path string) (*SQLiteMetadataStore, error) {
	dsn := ":memory:"
	if path != "" {
		if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
			return nil, fmt.Errorf("failed to create directory: %w", err)
		}
		if err := validateSQLiteIntegrity(path); err != nil {
			// Metadata can be rebuilt by reloading, so a corrupt file is
			// reported rather than silently removed.
			slog.Error("metadata_store_corrupted",
				slog.String("path", path),
				slog.String("error", err.Error()))
			return nil, fmt.Errorf("metadata store at %s is corrupt, reload the index: %w", path, err)
		}
		dsn = path
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Single connection: keeps :memory: databases coherent and serializes
	// writers.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA foreign_keys = ON",
		"PRAGMA temp_store = MEMORY",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("failed to set pragma: %w", err)
		}
	}
	if _, err := db.Exec(metadataSchema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return &SQLiteMetadataStore{db: db, path: path}, nil
}

// DB exposes the connection so telemetry tables can share the file.
func (s *SQLiteMetadataStore) DB() *sql.DB { return s.db }

// UpsertDocument replaces a document and its chain in one transaction.
// Tags and schemes are stored normalized.
func (s *SQLiteMetadataStore) UpsertDocument(ctx context.Context, doc Document, chunks []Chunk) error {
	if doc.ID == "" {
		return fmt.Errorf("document id is required")
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `DELETE FROM documents WHERE id = ?`, doc.ID); err != nil {
		return fmt.Errorf("clear document %s: %w", doc.ID, err)
	}
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO documents (id, title, language, total_chunks) VALUES (?, ?, ?, ?)`,
		doc.ID, doc.Title, doc.Language, len(chunks)); err != nil {
		return fmt.Errorf("insert document %s: %w", doc.ID, err)
	}

	chunkStmt, err := tx.PrepareContext(ctx,
		`INSERT INTO chunks (id, document_id, sequence, text) VALUES (?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("prepare statement: %w", err)
	}
	defer chunkStmt.Close()
	for _, c := range chunks {
		if _, err := chunkStmt.ExecContext(ctx, c.ID, doc.ID, c.Sequence, c.Text); err != nil {
			return fmt.Errorf("insert chunk %s: %w", c.ID, err)
		}
	}

	for _, tag := range normalizedSet(doc.Tags) {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO document_tags (document_id, tag) VALUES (?, ?)`, doc.ID, tag); err != nil {
			return fmt.Errorf("insert tag %s: %w", tag, err)
		}
	}
	for _, scheme := range normalizedSet(doc.Schemes) {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO document_schemes (document_id, scheme) VALUES (?, ?)`, doc.ID, scheme); err != nil {
			return fmt.Errorf("insert scheme %s: %w", scheme, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit document %s: %w", doc.ID, err)
	}
	return nil
}

// DeleteDocument removes a document and returns the ids of its chunks.
func (s *SQLiteMetadataStore) DeleteDocument(ctx context.Context, id string) ([]string, error) {
	chunkIDs, err := s.ChunkIDs(ctx, []string{id})
	if err != nil {
		return nil, err
	}
	if _, err := s.db.ExecContext(ctx, `DELETE FROM documents WHERE id = ?`, id); err != nil {
		return nil, fmt.Errorf("delete document %s: %w", id, err)
	}
	return chunkIDs, nil
}

// Chunks returns chain metadata for the given chunk ids.
func (s *SQLiteMetadataStore) Chunks(ctx context.Context, chunkIDs []string) (map[string]ChunkMeta, error) {
	out := make(map[string]ChunkMeta, len(chunkIDs))
	docs := make(map[string]struct{})

	err := forBatches(chunkIDs, func(batch []string) error {
		rows, err := s.db.QueryContext(ctx, `
			SELECT c.id, c.document_id, c.sequence, c.text, d.title, d.total_chunks
			FROM chunks c JOIN documents d ON d.id = c.document_id
			WHERE c.id IN (`+placeholders(len(batch))+`)`, toArgs(batch)...)
		if err != nil {
			return fmt.Errorf("query chunks: %w", err)
		}
		defer rows.Close()
		for rows.Next() {
			var m ChunkMeta
			if err := rows.Scan(&m.ChunkID, &m.DocumentID, &m.Sequence, &m.Text, &m.Title, &m.TotalChunks); err != nil {
				return fmt.Errorf("scan chunk: %w", err)
			}
			out[m.ChunkID] = m
			docs[m.DocumentID] = struct{}{}
		}
		return rows.Err()
	})
	if err != nil {
		return nil, err
	}

	tags, err := s.documentTags(ctx, setKeys(docs))
	if err != nil {
		return nil, err
	}
	for id, m := range out {
		m.Tags = tags[m.DocumentID]
		out[id] = m
	}
	return out, nil
}

func (s *SQLiteMetadataStore) documentTags(ctx context.Context, docIDs []string) (map[string][]string, error) {
	out := make(map[string][]string, len(docIDs))
	err := forBatches(docIDs, func(batch []string) error {
		rows, err := s.db.QueryContext(ctx, `
			SELECT document_id, tag FROM document_tags
			WHERE document_id IN (`+placeholders(len(batch))+`)
			ORDER BY document_id, tag`, toArgs(batch)...)
		if err != nil {
			return fmt.Errorf("query tags: %w", err)
		}
		defer rows.Close()
		for rows.Next() {
			var doc, tag string
			if err := rows.Scan(&doc, &tag); err != nil {
				return fmt.Errorf("scan tag: %w", err)
			}
			out[doc] = append(out[doc], tag)
		}
		return rows.Err()
	})
	return out, err
}

// AllDocuments returns every document id.
func (s *SQLiteMetadataStore) AllDocuments(ctx context.Context) ([]string, error) {
	return s.queryStrings(ctx, `SELECT id FROM documents ORDER BY id`)
}

// DocumentsWithTag returns documents tagged tag or any tag below tag/.
func (s *SQLiteMetadataStore) DocumentsWithTag(ctx context.Context, tag string) ([]string, error) {
	tag = filter.NormalizeTag(tag)
	prefix := tag + "/"
	return s.queryStrings(ctx, `
		SELECT DISTINCT document_id FROM document_tags
		WHERE tag = ? OR substr(tag, 1, ?) = ?
		ORDER BY document_id`, tag, utf8.RuneCountInString(prefix), prefix)
}

// DocumentsInScheme returns documents in scheme or any scheme below it.
func (s *SQLiteMetadataStore) DocumentsInScheme(ctx context.Context, scheme string) ([]string, error) {
	scheme = filter.NormalizeTag(scheme)
	prefix := scheme + "/"
	return s.queryStrings(ctx, `
		SELECT DISTINCT document_id FROM document_schemes
		WHERE scheme = ? OR substr(scheme, 1, ?) = ?
		ORDER BY document_id`, scheme, utf8.RuneCountInString(prefix), prefix)
}

// ChunkIDs returns the chunk ids of the given documents.
func (s *SQLiteMetadataStore) ChunkIDs(ctx context.Context, documentIDs []string) ([]string, error) {
	var out []string
	err := forBatches(documentIDs, func(batch []string) error {
		ids, err := s.queryStrings(ctx, `
			SELECT id FROM chunks WHERE document_id IN (`+placeholders(len(batch))+`)`,
			toArgs(batch)...)
		if err != nil {
			return err
		}
		out = append(out, ids...)
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Strings(out)
	return out, nil
}

// DocumentCount returns the number of documents.
func (s *SQLiteMetadataStore) DocumentCount(ctx context.Context) (int, error) {
	return s.count(ctx, `SELECT COUNT(*) FROM documents`)
}

// ChunkCount returns the number of chunks.
func (s *SQLiteMetadataStore) ChunkCount(ctx context.Context) (int, error) {
	return s.count(ctx, `SELECT COUNT(*) FROM chunks`)
}

// GetState returns a state value, or "" when unset.
func (s *SQLiteMetadataStore) GetState(ctx context.Context, key string) (string, error) {
	var value string
	err := s.db.QueryRowContext(ctx, `SELECT value FROM state WHERE key = ?`, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("get state %s: %w", key, err)
	}
	return value, nil
}

// SetState upserts a state value.
func (s *SQLiteMetadataStore) SetState(ctx context.Context, key, value string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO state (key, value) VALUES (?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value`, key, value)
	if err != nil {
		return fmt.Errorf("set state %s: %w", key, err)
	}
	return nil
}

// Close closes the database.
func (s *SQLiteMetadataStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteMetadataStore) queryStrings(ctx context.Context, query string, args ...any) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query: %w", err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var v string
		if err := rows.Scan(&v); err != nil {
			return nil, fmt.Errorf("scan: %w", err)
		}
		out = append(out, v)
	}
	return out, rows.Err()
}

func (s *SQLiteMetadataStore) count(ctx context.Context, query string) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, query).Scan(&n); err != nil {
		return 0, fmt.Errorf("count: %w", err)
	}
	return n, nil
}

func forBatches(ids []string, fn func([]string) error) error {
	for start := 0; start < len(ids); start += sqliteBatch {
		end := start + sqliteBatch
		if end > len(ids) {
			end = len(ids)
		}
		if err := fn(ids[start:end]); err != nil {
			return err
		}
	}
	return nil
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?,", n), ",")
}

func toArgs(ids []string) []any {
	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id
	}
	return args
}

func normalizedSet(values []string) []string {
	seen := make(map[string]struct{}, len(values))
	for _, v := range values {
		if n := filter.NormalizeTag(v); n != "" {
			seen[n] = struct{}{}
		}
	}
	return setKeys(seen)
}

func setKeys(m map[string]struct{}) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
