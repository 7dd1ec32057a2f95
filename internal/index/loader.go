package index

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"runtime"
	"strconv"
	"sync"
	"time"

	"github.com/panjf2000/ants/v2"

	"github.com/Aman-CERP/amansearch/internal/embed"
	amanerrors "github.com/Aman-CERP/amansearch/internal/errors"
	"github.com/Aman-CERP/amansearch/internal/store"
)

// DefaultBatchSize is the number of chunks per embedding call.
const DefaultBatchSize = 32

// Stores are the indexes the loader writes.
type Stores struct {
	Terms    *store.BleveTermIndex
	Coarse   *store.HNSWCoarseIndex
	Vectors  *store.BadgerVectorStore
	Metadata *store.SQLiteMetadataStore
}

// Config configures a Loader.
type Config struct {
	// DataDir holds the directory lock and the persisted coarse graph.
	// Empty means in-memory stores: no lock and no graph file.
	DataDir string

	// Workers bounds concurrent embedding calls.
	Workers int
	// BatchSize is the number of chunks per embedding call.
	BatchSize int

	// MRLDimensions are the truncation tiers the embedding model supports.
	MRLDimensions []int

	// Progress, if set, is called after each embedded batch.
	Progress func(done, total int)
}

// Result summarizes a load.
type Result struct {
	Documents int
	Chunks    int
	// Replaced counts documents that already existed.
	Replaced int
	Duration time.Duration
}

// Loader writes documents into every store in one pass.
type Loader struct {
	stores   Stores
	embedder embed.Embedder
	mrl      *embed.MRL
	config   Config
	logger   *slog.Logger
}

// NewLoader validates that the embedder, vector store and coarse graph
// agree on dimensions.
func NewLoader(stores Stores, embedder embed.Embedder, cfg Config) (*Loader, error) {
	if stores.Terms == nil || stores.Coarse == nil || stores.Vectors == nil || stores.Metadata == nil {
		return nil, fmt.Errorf("all four stores are required")
	}
	if embedder == nil {
		return nil, fmt.Errorf("embedder is required")
	}
	if embedder.Dimensions() != stores.Vectors.Dimensions() {
		return nil, amanerrors.New(amanerrors.ErrCodeDimensionMismatch,
			fmt.Sprintf("embedder produces %d dimensions, vector store holds %d",
				embedder.Dimensions(), stores.Vectors.Dimensions()), nil)
	}
	mrl, err := embed.NewMRL(embedder.Dimensions(), cfg.MRLDimensions, stores.Coarse.Dimensions())
	if err != nil {
		return nil, err
	}

	if cfg.Workers <= 0 {
		cfg.Workers = max(runtime.NumCPU()/2, 1)
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = DefaultBatchSize
	}
	return &Loader{
		stores:   stores,
		embedder: embedder,
		mrl:      mrl,
		config:   cfg,
		logger:   slog.Default(),
	}, nil
}

// Load validates docs, embeds their chunks and writes them. A document
// that already exists is replaced along with its whole chain.
func (l *Loader) Load(ctx context.Context, docs []Document) (*Result, error) {
	start := time.Now()

	batch := make([]prepared, 0, len(docs))
	var texts []string
	for i, d := range docs {
		p, err := d.prepare()
		if err != nil {
			return nil, amanerrors.New(amanerrors.ErrCodeInvalidInput,
				fmt.Sprintf("record %d: %v", i+1, err), err)
		}
		batch = append(batch, p)
		for _, c := range p.chunks {
			texts = append(texts, c.Text)
		}
	}
	if len(batch) == 0 {
		return &Result{Duration: time.Since(start)}, nil
	}

	if l.config.DataDir != "" {
		lock := store.NewIndexLock(l.config.DataDir)
		if err := lock.TryLock(); err != nil {
			return nil, err
		}
		defer func() { _ = lock.Unlock() }()
	}

	if err := l.checkModel(ctx); err != nil {
		return nil, err
	}

	l.logger.Info("load_started",
		slog.Int("documents", len(batch)),
		slog.Int("chunks", len(texts)),
		slog.String("model", l.embedder.ModelName()))

	vectors, err := l.embedAll(ctx, texts)
	if err != nil {
		return nil, amanerrors.New(amanerrors.ErrCodeLoadFailed, "embedding failed", err)
	}

	replaced, err := l.write(ctx, batch, vectors)
	if err != nil {
		return nil, amanerrors.New(amanerrors.ErrCodeLoadFailed, "write failed", err)
	}

	res := &Result{
		Documents: len(batch),
		Chunks:    len(texts),
		Replaced:  replaced,
		Duration:  time.Since(start),
	}
	l.logger.Info("load_complete",
		slog.Int("documents", res.Documents),
		slog.Int("chunks", res.Chunks),
		slog.Int("replaced", res.Replaced),
		slog.Duration("duration", res.Duration))
	return res, nil
}

func (l *Loader) checkModel(ctx context.Context) error {
	return CheckEmbedder(ctx, l.stores.Metadata, l.embedder)
}

// CheckEmbedder refuses an embedder whose vectors live in another space
// than the index's: a different dimension or a different model. An index
// with nothing recorded accepts any embedder.
func CheckEmbedder(ctx context.Context, md store.MetadataStore, e embed.Embedder) error {
	dims, err := md.GetState(ctx, store.StateKeyIndexDimension)
	if err != nil {
		return amanerrors.StorageError("failed to read index state", err)
	}
	model, err := md.GetState(ctx, store.StateKeyIndexModel)
	if err != nil {
		return amanerrors.StorageError("failed to read index state", err)
	}

	if dims != "" {
		if n, _ := strconv.Atoi(dims); n != e.Dimensions() {
			return amanerrors.New(amanerrors.ErrCodeDimensionMismatch,
				fmt.Sprintf("index was built with %s-dimension embeddings, provider gives %d",
					dims, e.Dimensions()), nil).
				WithSuggestion("rebuild the index with 'amansearch load --reset'")
		}
	}
	if model != "" && model != e.ModelName() {
		return amanerrors.New(amanerrors.ErrCodeModelMismatch,
			fmt.Sprintf("index was built with model %q, provider uses %q", model, e.ModelName()), nil).
			WithDetail("index_model", model).
			WithSuggestion("set embeddings.model to " + model + " or rebuild with 'amansearch load --reset'")
	}
	return nil
}

// embedAll embeds texts in batches on a bounded worker pool. Results keep
// input order. The first failure cancels the remaining batches.
func (l *Loader) embedAll(ctx context.Context, texts []string) ([][]float32, error) {
	pool, err := ants.NewPool(l.config.Workers)
	if err != nil {
		return nil, fmt.Errorf("create worker pool: %w", err)
	}
	defer pool.Release()

	parent := ctx
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	out := make([][]float32, len(texts))
	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		firstErr error
		done     int
	)
	fail := func(err error) {
		if firstErr == nil {
			firstErr = err
			cancel()
		}
	}

	for start := 0; start < len(texts); start += l.config.BatchSize {
		end := min(start+l.config.BatchSize, len(texts))
		wg.Add(1)
		submitErr := pool.Submit(func() {
			defer wg.Done()
			if ctx.Err() != nil {
				return
			}
			vecs, err := l.embedder.EmbedBatch(ctx, texts[start:end])

			mu.Lock()
			defer mu.Unlock()
			switch {
			case err != nil:
				fail(err)
				return
			case len(vecs) != end-start:
				fail(fmt.Errorf("provider returned %d embeddings for %d texts", len(vecs), end-start))
				return
			}
			copy(out[start:end], vecs)
			done += end - start
			if l.config.Progress != nil {
				l.config.Progress(done, len(texts))
			}
		})
		if submitErr != nil {
			wg.Done()
			mu.Lock()
			fail(submitErr)
			mu.Unlock()
			break
		}
	}
	wg.Wait()

	if firstErr != nil {
		return nil, firstErr
	}
	if err := parent.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

// write replaces each document in the stores. Stale chunk ids from a
// previous load are removed first.
func (l *Loader) write(ctx context.Context, batch []prepared, vectors [][]float32) (int, error) {
	var stale []string
	replaced := 0
	for _, p := range batch {
		old, err := l.stores.Metadata.DeleteDocument(ctx, p.doc.ID)
		if err != nil {
			return 0, err
		}
		if len(old) > 0 {
			replaced++
			stale = append(stale, old...)
		}
	}
	if len(stale) > 0 {
		if err := l.stores.Terms.Delete(ctx, stale); err != nil {
			return 0, fmt.Errorf("delete stale terms: %w", err)
		}
		if err := l.stores.Vectors.Delete(ctx, stale); err != nil {
			return 0, fmt.Errorf("delete stale vectors: %w", err)
		}
		if err := l.stores.Coarse.Delete(ctx, stale); err != nil {
			return 0, fmt.Errorf("delete stale coarse vectors: %w", err)
		}
	}

	ids := make([]string, 0, len(vectors))
	indexed := make([]store.IndexedChunk, 0, len(vectors))
	for _, p := range batch {
		if err := l.stores.Metadata.UpsertDocument(ctx, p.doc, p.chunks); err != nil {
			return 0, err
		}
		for _, c := range p.chunks {
			ids = append(ids, c.ID)
			indexed = append(indexed, store.IndexedChunk{
				ChunkID:    c.ID,
				DocumentID: p.doc.ID,
				Title:      p.doc.Title,
				Tags:       p.doc.Tags,
				Text:       c.Text,
				Language:   p.doc.Language,
			})
		}
	}

	if err := l.stores.Terms.Index(ctx, indexed); err != nil {
		return 0, fmt.Errorf("index terms: %w", err)
	}

	full := make([][]float32, len(vectors))
	coarse := make([][]float32, len(vectors))
	for i, v := range vectors {
		f, err := l.mrl.Truncate(v, l.mrl.Full())
		if err != nil {
			return 0, fmt.Errorf("chunk %s: %w", ids[i], err)
		}
		c, err := l.mrl.Truncate(v, l.stores.Coarse.Dimensions())
		if err != nil {
			return 0, fmt.Errorf("chunk %s: %w", ids[i], err)
		}
		full[i], coarse[i] = f, c
	}
	if err := l.stores.Vectors.Put(ctx, ids, full); err != nil {
		return 0, fmt.Errorf("store vectors: %w", err)
	}
	if err := l.stores.Coarse.Add(ctx, ids, coarse); err != nil {
		return 0, fmt.Errorf("add coarse vectors: %w", err)
	}
	if l.config.DataDir != "" {
		if err := l.stores.Coarse.Save(filepath.Join(l.config.DataDir, store.CoarseFile)); err != nil {
			return 0, fmt.Errorf("save coarse graph: %w", err)
		}
	}

	state := map[string]string{
		store.StateKeyIndexDimension:  strconv.Itoa(l.embedder.Dimensions()),
		store.StateKeyIndexModel:      l.embedder.ModelName(),
		store.StateKeyCoarseDimension: strconv.Itoa(l.stores.Coarse.Dimensions()),
	}
	for k, v := range state {
		if err := l.stores.Metadata.SetState(ctx, k, v); err != nil {
			return 0, err
		}
	}
	return replaced, nil
}
