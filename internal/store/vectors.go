package store

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"os"

	"github.com/dgraph-io/badger/v4"
	"github.com/dgraph-io/badger/v4/options"
)

var vectorPrefix = []byte("vec/")

// badgerLogger routes badger's logs into slog. Badger is chatty at info
// level, so those go to debug.
type badgerLogger struct {
	logger *slog.Logger
}

var _ badger.Logger = (*badgerLogger)(nil)

func (l *badgerLogger) Errorf(msg string, items ...any) {
	l.logger.Error(fmt.Sprintf(msg, items...), slog.String("component", "badger"))
}

func (l *badgerLogger) Warningf(msg string, items ...any) {
	l.logger.Warn(fmt.Sprintf(msg, items...), slog.String("component", "badger"))
}

func (l *badgerLogger) Infof(msg string, items ...any) {
	l.logger.Debug(fmt.Sprintf(msg, items...), slog.String("component", "badger"))
}

func (l *badgerLogger) Debugf(msg string, items ...any) {
	l.logger.Debug(fmt.Sprintf(msg, items...), slog.String("component", "badger"))
}

// BadgerVectorStore keeps full-dimension vectors keyed by chunk id for the
// fine re-scoring stage. Values are little-endian float32.
type BadgerVectorStore struct {
	db         *badger.DB
	dimensions int
}

// OpenBadgerVectorStore opens the store at dir. An empty dir opens an
// in-memory store.
func OpenBadgerVectorStore(dir string, dimensions int) (*BadgerVectorStore, error) {
	if dimensions <= 0 {
		return nil, fmt.Errorf("vector dimensions must be positive, got %d", dimensions)
	}

	var opts badger.Options
	if dir == "" {
		opts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create directory %s: %w", dir, err)
		}
		opts = badger.DefaultOptions(dir)
	}
	opts.Logger = &badgerLogger{logger: slog.Default()}
	opts.Compression = options.None

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open vector store: %w", err)
	}
	return &BadgerVectorStore{db: db, dimensions: dimensions}, nil
}

// Dimensions returns the full embedding size.
func (s *BadgerVectorStore) Dimensions() int { return s.dimensions }

// Put stores vectors, replacing existing ids.
func (s *BadgerVectorStore) Put(ctx context.Context, ids []string, vectors [][]float32) error {
	if len(ids) != len(vectors) {
		return fmt.Errorf("ids and vectors length mismatch: %d vs %d", len(ids), len(vectors))
	}
	for _, v := range vectors {
		if len(v) != s.dimensions {
			return ErrDimensionMismatch{Expected: s.dimensions, Got: len(v)}
		}
	}

	wb := s.db.NewWriteBatch()
	defer wb.Cancel()
	for i, id := range ids {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := wb.Set(vectorKey(id), encodeVector(vectors[i])); err != nil {
			return fmt.Errorf("failed to write vector %s: %w", id, err)
		}
	}
	if err := wb.Flush(); err != nil {
		return fmt.Errorf("failed to flush vectors: %w", err)
	}
	return nil
}

// Get loads vectors for ids. Missing ids are omitted from the result.
func (s *BadgerVectorStore) Get(ctx context.Context, ids []string) (map[string][]float32, error) {
	out := make(map[string][]float32, len(ids))
	err := s.db.View(func(txn *badger.Txn) error {
		for _, id := range ids {
			if err := ctx.Err(); err != nil {
				return err
			}
			item, err := txn.Get(vectorKey(id))
			if errors.Is(err, badger.ErrKeyNotFound) {
				continue
			}
			if err != nil {
				return fmt.Errorf("failed to read vector %s: %w", id, err)
			}
			raw, err := item.ValueCopy(nil)
			if err != nil {
				return fmt.Errorf("failed to copy vector %s: %w", id, err)
			}
			vec, err := decodeVector(raw)
			if err != nil {
				return fmt.Errorf("vector %s: %w", id, err)
			}
			if len(vec) != s.dimensions {
				return ErrDimensionMismatch{Expected: s.dimensions, Got: len(vec)}
			}
			out[id] = vec
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// Delete removes vectors. Unknown ids are ignored.
func (s *BadgerVectorStore) Delete(ctx context.Context, ids []string) error {
	wb := s.db.NewWriteBatch()
	defer wb.Cancel()
	for _, id := range ids {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := wb.Delete(vectorKey(id)); err != nil {
			return fmt.Errorf("failed to delete vector %s: %w", id, err)
		}
	}
	return wb.Flush()
}

// Count walks the key space without loading values.
func (s *BadgerVectorStore) Count(ctx context.Context) (int, error) {
	n := 0
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		opts.Prefix = vectorPrefix
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Rewind(); it.Valid(); it.Next() {
			if n%4096 == 0 {
				if err := ctx.Err(); err != nil {
					return err
				}
			}
			n++
		}
		return nil
	})
	return n, err
}

// Close closes the database.
func (s *BadgerVectorStore) Close() error {
	return s.db.Close()
}

var _ VectorStore = (*BadgerVectorStore)(nil)

func vectorKey(id string) []byte {
	key := make([]byte, 0, len(vectorPrefix)+len(id))
	key = append(key, vectorPrefix...)
	return append(key, id...)
}

func encodeVector(v []float32) []byte {
	buf := make([]byte, 4*len(v))
	for i, f := range v {
		binary.LittleEndian.PutUint32(buf[4*i:], math.Float32bits(f))
	}
	return buf
}

func decodeVector(buf []byte) ([]float32, error) {
	if len(buf)%4 != 0 {
		return nil, fmt.Errorf("corrupt vector encoding: %d bytes", len(buf))
	}
	v := make([]float32, len(buf)/4)
	for i := range v {
		v[i] = math.Float32frombits(binary.LittleEndian.Uint32(buf[4*i:]))
	}
	return v, nil
}
