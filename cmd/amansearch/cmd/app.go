package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/Aman-CERP/amansearch/internal/config"
	"github.com/Aman-CERP/amansearch/internal/embed"
	amanerrors "github.com/Aman-CERP/amansearch/internal/errors"
	"github.com/Aman-CERP/amansearch/internal/fusion"
	"github.com/Aman-CERP/amansearch/internal/index"
	"github.com/Aman-CERP/amansearch/internal/lexical"
	"github.com/Aman-CERP/amansearch/internal/query"
	"github.com/Aman-CERP/amansearch/internal/search"
	"github.com/Aman-CERP/amansearch/internal/semantic"
	"github.com/Aman-CERP/amansearch/internal/store"
	"github.com/Aman-CERP/amansearch/internal/telemetry"
)

// openStores opens the four index stores under cfg.Storage.DataDir,
// creating the directory on first use.
func openStores(cfg *config.Config) (index.Stores, error) {
	dir := cfg.Storage.DataDir
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return index.Stores{}, amanerrors.StorageError("failed to create data directory "+dir, err)
	}

	var (
		s   index.Stores
		err error
	)
	fail := func(what string, cause error) (index.Stores, error) {
		closeStores(s)
		return index.Stores{}, amanerrors.StorageError("failed to open "+what, cause)
	}

	if s.Metadata, err = store.OpenSQLiteMetadataStore(filepath.Join(dir, store.MetadataFile)); err != nil {
		return fail("metadata store", err)
	}
	if s.Terms, err = store.OpenBleveTermIndex(filepath.Join(dir, store.TermIndexDir),
		store.TermIndexConfig{DefaultLanguage: cfg.Lexical.DefaultLanguage}); err != nil {
		return fail("term index", err)
	}
	if s.Vectors, err = store.OpenBadgerVectorStore(filepath.Join(dir, store.VectorDir), cfg.Embeddings.Dimensions); err != nil {
		return fail("vector store", err)
	}
	if s.Coarse, err = store.NewHNSWCoarseIndex(store.CoarseConfig{
		Dimensions: cfg.Semantic.CoarseDimensions,
		M:          cfg.Semantic.GraphM,
	}); err != nil {
		return fail("coarse graph", err)
	}

	graph := filepath.Join(dir, store.CoarseFile)
	if _, statErr := os.Stat(graph); statErr == nil {
		if err := s.Coarse.Load(graph); err != nil {
			var mismatch store.ErrDimensionMismatch
			if errors.As(err, &mismatch) {
				closeStores(s)
				return index.Stores{}, amanerrors.New(amanerrors.ErrCodeDimensionMismatch,
					fmt.Sprintf("coarse graph was built at %d dimensions, config asks for %d",
						mismatch.Got, mismatch.Expected), err).
					WithSuggestion("rebuild the index with 'amansearch load --reset'")
			}
			return fail("coarse graph", err)
		}
	}
	return s, nil
}

// closeStores closes every non-nil store.
func closeStores(s index.Stores) {
	if s.Terms != nil {
		_ = s.Terms.Close()
	}
	if s.Coarse != nil {
		_ = s.Coarse.Close()
	}
	if s.Vectors != nil {
		_ = s.Vectors.Close()
	}
	if s.Metadata != nil {
		_ = s.Metadata.Close()
	}
}

// resetStores deletes every index file in dir. The lock file is kept.
func resetStores(dir string) error {
	lock := store.NewIndexLock(dir)
	if err := lock.TryLock(); err != nil {
		return err
	}
	defer func() { _ = lock.Unlock() }()

	for _, name := range []string{
		store.TermIndexDir,
		store.VectorDir,
		store.CoarseFile,
		store.CoarseFile + ".meta",
		store.MetadataFile,
		store.MetadataFile + "-wal",
		store.MetadataFile + "-shm",
	} {
		if err := os.RemoveAll(filepath.Join(dir, name)); err != nil {
			return amanerrors.StorageError("failed to remove "+name, err)
		}
	}
	slog.Info("index_reset", slog.String("data_dir", dir))
	return nil
}

// embedOptions maps the embeddings config section onto the provider stack.
func embedOptions(cfg *config.Config) (embed.Options, error) {
	provider, err := embed.ParseProvider(cfg.Embeddings.Provider)
	if err != nil {
		return embed.Options{}, err
	}
	e := cfg.Embeddings
	opts := embed.DefaultOptions()
	opts.Provider = provider
	opts.Model = e.Model
	opts.OllamaHost = e.OllamaHost
	opts.BaseURL = e.BaseURL
	opts.APIKey = e.APIKey
	opts.Dimensions = e.Dimensions
	opts.MRLDimensions = e.MRLDimensions
	opts.Timeout = config.Duration(e.Timeout, embed.DefaultTimeout)
	opts.RateLimit = e.RateLimit
	opts.RateBurst = e.RateBurst
	opts.CacheSize = e.CacheSize
	return opts, nil
}

// newEmbedder builds the configured provider. When prom is set the whole
// stack is instrumented.
func newEmbedder(ctx context.Context, cfg *config.Config, prom *telemetry.Prometheus) (embed.Embedder, error) {
	opts, err := embedOptions(cfg)
	if err != nil {
		return nil, err
	}
	opts.Breaker = amanerrors.NewCircuitBreaker("embeddings",
		amanerrors.WithStateChange(func(name string, from, to amanerrors.State) {
			slog.Warn("embedding_circuit",
				slog.String("breaker", name),
				slog.String("from", from.String()),
				slog.String("to", to.String()))
			if prom != nil {
				prom.ObserveCircuit(name, to)
			}
		}))
	e, err := embed.NewEmbedder(ctx, opts)
	if err != nil {
		return nil, err
	}
	if prom != nil {
		e = telemetry.InstrumentEmbedder(e, prom)
	}
	return e, nil
}

// analyzerConfig maps the lexical and fusion sections onto the analyzer.
func analyzerConfig(cfg *config.Config) query.Config {
	f := cfg.Fusion
	pair := func(w config.WeightPair) query.Weights {
		return query.Weights{Lexical: w.Lexical, Semantic: w.Semantic}
	}
	qc := query.DefaultConfig()
	qc.DefaultLanguage = cfg.Lexical.DefaultLanguage
	qc.Flags = query.Flags{
		ScriptDetection:      cfg.Lexical.ScriptDetection,
		TrigramFallback:      cfg.Lexical.TrigramFallback,
		BigramCJK:            cfg.Lexical.BigramCJK,
		MultilingualStemming: cfg.Lexical.MultilingualStemming,
	}
	qc.Weighting = query.Weighting{
		Adaptive:         f.Adaptive,
		Static:           pair(f.StaticWeights),
		Phrase:           pair(f.PhraseWeights),
		Short:            pair(f.ShortWeights),
		Medium:           pair(f.MediumWeights),
		Long:             pair(f.LongWeights),
		ShortMaxTokens:   f.ShortMaxTokens,
		MediumMaxTokens:  f.MediumMaxTokens,
		BaseK:            f.BaseK,
		MinK:             f.MinK,
		MaxK:             f.MaxK,
		ShortMultiplier:  f.ShortMultiplier,
		LongMultiplier:   f.LongMultiplier,
		PhraseMultiplier: f.PhraseMultiplier,
	}
	return qc
}

// engineConfig maps the search section onto the engine.
func engineConfig(cfg *config.Config) (search.Config, error) {
	s := cfg.Search
	mode, err := query.ParseMode(s.DefaultMode)
	if err != nil {
		return search.Config{}, amanerrors.ConfigError(err.Error(), err)
	}
	method, err := fusion.ParseMethod(s.FusionMethod)
	if err != nil {
		return search.Config{}, amanerrors.ConfigError(err.Error(), err)
	}
	ec := search.DefaultConfig()
	ec.DefaultLimit = s.DefaultLimit
	ec.MaxLimit = s.MaxLimit
	ec.DefaultMode = mode
	ec.FusionMethod = method
	ec.LexicalTimeout = config.Duration(s.LexicalTimeout, ec.LexicalTimeout)
	ec.SemanticTimeout = config.Duration(s.SemanticTimeout, ec.SemanticTimeout)
	ec.MinScore = s.MinScore
	return ec, nil
}

// semanticStrategy builds the vector branch. It returns nil, leaving the
// branch degraded, when there is no embedder or the index was built with
// a different embedding size.
func semanticStrategy(ctx context.Context, cfg *config.Config, stores index.Stores, embedder embed.Embedder) *semantic.Strategy {
	if embedder == nil {
		return nil
	}
	if err := index.CheckEmbedder(ctx, stores.Metadata, embedder); err != nil {
		slog.Warn("semantic_disabled",
			slog.String("reason", "embedder_mismatch"),
			slog.String("model", embedder.ModelName()),
			slog.Int("dimensions", embedder.Dimensions()),
			slog.String("error", err.Error()))
		return nil
	}

	profile, err := semantic.ParseRecallProfile(cfg.Semantic.RecallProfile)
	if err != nil {
		profile = semantic.ProfileBalanced
	}
	sem, err := semantic.New(embedder, stores.Coarse, stores.Vectors, semantic.Config{
		CoarseDimensions: cfg.Semantic.CoarseDimensions,
		CoarseK:          cfg.Semantic.CoarseK,
		Tuning: semantic.Tuning{
			Profile:     profile,
			ScaleFactor: cfg.Semantic.ScaleFactor,
			MinEf:       cfg.Semantic.MinEf,
			MaxEf:       cfg.Semantic.MaxEf,
		},
		MinSimilarity:       cfg.Semantic.MinSimilarity,
		ExactScanThreshold:  cfg.Semantic.ExactScanThreshold,
		SupportedDimensions: cfg.Embeddings.MRLDimensions,
	})
	if err != nil {
		slog.Warn("semantic_disabled", slog.String("error", err.Error()))
		return nil
	}
	return sem
}

// newEngine assembles the query pipeline from cfg over open stores. A nil
// embedder leaves the semantic branch degraded.
func newEngine(
	ctx context.Context,
	cfg *config.Config,
	stores index.Stores,
	embedder embed.Embedder,
	opts ...search.EngineOption,
) (*search.Engine, error) {
	ec, err := engineConfig(cfg)
	if err != nil {
		return nil, err
	}
	lex := lexical.New(stores.Terms, lexical.Config{
		Fields: store.FieldWeights{
			Title: cfg.Lexical.TitleWeight,
			Tags:  cfg.Lexical.TagWeight,
			Body:  cfg.Lexical.BodyWeight,
		},
		Limit: cfg.Search.CandidateLimit,
	})
	return search.NewEngine(
		query.NewAnalyzer(analyzerConfig(cfg)),
		lex,
		semanticStrategy(ctx, cfg, stores, embedder),
		stores.Metadata,
		ec,
		opts...,
	)
}

// openEngine opens the index under cfg.Storage.DataDir and assembles a
// read-only engine over it. With withEmbedder unset, or when the provider
// is unreachable, the semantic branch is left degraded.
func openEngine(ctx context.Context, cfg *config.Config, withEmbedder bool) (*search.Engine, func(), error) {
	if !fileExists(filepath.Join(cfg.Storage.DataDir, store.MetadataFile)) {
		return nil, nil, amanerrors.New(amanerrors.ErrCodeIndexNotFound,
			"no index found in "+cfg.Storage.DataDir, nil).
			WithSuggestion("load documents first with 'amansearch load <file.jsonl>'")
	}

	stores, err := openStores(cfg)
	if err != nil {
		return nil, nil, err
	}

	var embedder embed.Embedder
	if withEmbedder {
		embedder, err = newEmbedder(ctx, cfg, nil)
		if err != nil {
			slog.Warn("embedder_unavailable", slog.String("error", err.Error()))
			embedder = nil
		}
	}
	cleanup := func() {
		if embedder != nil {
			_ = embedder.Close()
		}
		closeStores(stores)
	}

	engine, err := newEngine(ctx, cfg, stores, embedder)
	if err != nil {
		cleanup()
		return nil, nil, err
	}
	return engine, cleanup, nil
}

// queryMetrics records query telemetry in the metadata database.
func queryMetrics(meta *store.SQLiteMetadataStore) *telemetry.QueryMetrics {
	ms, err := telemetry.NewSQLiteMetricsStore(meta.DB())
	if err != nil {
		slog.Warn("telemetry_disabled", slog.String("error", err.Error()))
		return telemetry.NewQueryMetrics(nil)
	}
	return telemetry.NewQueryMetrics(ms)
}
