package search

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"
	"unicode/utf8"

	"golang.org/x/sync/errgroup"

	"github.com/Aman-CERP/amansearch/internal/dedup"
	amanerrors "github.com/Aman-CERP/amansearch/internal/errors"
	"github.com/Aman-CERP/amansearch/internal/filter"
	"github.com/Aman-CERP/amansearch/internal/fusion"
	"github.com/Aman-CERP/amansearch/internal/lexical"
	"github.com/Aman-CERP/amansearch/internal/profiling"
	"github.com/Aman-CERP/amansearch/internal/query"
	"github.com/Aman-CERP/amansearch/internal/semantic"
	"github.com/Aman-CERP/amansearch/internal/store"
	"github.com/Aman-CERP/amansearch/internal/telemetry"
)

// ErrNilDependency is returned when a required dependency is nil.
var ErrNilDependency = errors.New("nil dependency")

// errNotConfigured degrades a requested branch that has no strategy.
var errNotConfigured = errors.New("branch not configured")

// Engine runs hybrid queries. It holds no per-query state and is safe for
// concurrent use.
type Engine struct {
	analyzer *query.Analyzer
	lexical  *lexical.Strategy
	semantic *semantic.Strategy
	metadata store.MetadataStore
	config   Config

	metrics    *telemetry.QueryMetrics
	prometheus *telemetry.Prometheus
}

// EngineOption configures the search engine.
type EngineOption func(*Engine)

// WithMetrics sets an optional query metrics collector.
func WithMetrics(m *telemetry.QueryMetrics) EngineOption {
	return func(e *Engine) {
		e.metrics = m
	}
}

// WithPrometheus sets optional Prometheus collectors.
func WithPrometheus(p *telemetry.Prometheus) EngineOption {
	return func(e *Engine) {
		e.prometheus = p
	}
}

// NewEngine creates a search engine. The analyzer and metadata store are
// required. A nil branch strategy is allowed: queries that need it report
// the branch as degraded.
func NewEngine(
	analyzer *query.Analyzer,
	lex *lexical.Strategy,
	sem *semantic.Strategy,
	metadata store.MetadataStore,
	config Config,
	opts ...EngineOption,
) (*Engine, error) {
	if analyzer == nil {
		return nil, fmt.Errorf("%w: query analyzer is required", ErrNilDependency)
	}
	if metadata == nil {
		return nil, fmt.Errorf("%w: metadata store is required", ErrNilDependency)
	}
	e := &Engine{
		analyzer: analyzer,
		lexical:  lex,
		semantic: sem,
		metadata: metadata,
		config:   config.withDefaults(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e, nil
}

// Config returns the engine configuration.
func (e *Engine) Config() Config { return e.config }

// withDefaults fills zero fields from DefaultConfig.
func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.DefaultLimit <= 0 {
		c.DefaultLimit = d.DefaultLimit
	}
	if c.MaxLimit <= 0 {
		c.MaxLimit = d.MaxLimit
	}
	if c.DefaultLimit > c.MaxLimit {
		c.DefaultLimit = c.MaxLimit
	}
	if c.DefaultMode == "" {
		c.DefaultMode = d.DefaultMode
	}
	if c.FusionMethod == "" {
		c.FusionMethod = d.FusionMethod
	}
	if c.LexicalTimeout <= 0 {
		c.LexicalTimeout = d.LexicalTimeout
	}
	if c.SemanticTimeout <= 0 {
		c.SemanticTimeout = d.SemanticTimeout
	}
	if c.MaxQueryLength <= 0 {
		c.MaxQueryLength = d.MaxQueryLength
	}
	if c.SnippetLength <= 0 {
		c.SnippetLength = d.SnippetLength
	}
	return c
}

// params is a validated request.
type params struct {
	mode     query.Mode
	method   fusion.Method
	limit    int
	offset   int
	minScore float64
}

func (e *Engine) validate(req Request) (params, error) {
	var p params
	if strings.TrimSpace(req.Query) == "" {
		return p, amanerrors.New(amanerrors.ErrCodeQueryEmpty, "query is empty", nil).
			WithSuggestion("Provide at least one search term")
	}
	if len(req.Query) > e.config.MaxQueryLength {
		return p, amanerrors.New(amanerrors.ErrCodeQueryTooLong,
			fmt.Sprintf("query is %d bytes, maximum is %d", len(req.Query), e.config.MaxQueryLength), nil)
	}

	p.mode = e.config.DefaultMode
	if req.Mode != "" {
		m, err := query.ParseMode(req.Mode)
		if err != nil {
			return p, amanerrors.ValidationError(err.Error(), err)
		}
		p.mode = m
	}
	p.method = e.config.FusionMethod
	if req.Fusion != "" {
		m, err := fusion.ParseMethod(req.Fusion)
		if err != nil {
			return p, amanerrors.ValidationError(err.Error(), err)
		}
		p.method = m
	}

	switch {
	case req.Limit < 0:
		return p, amanerrors.ValidationError(fmt.Sprintf("limit must be between 1 and %d", e.config.MaxLimit), nil)
	case req.Limit == 0:
		p.limit = e.config.DefaultLimit
	default:
		p.limit = min(req.Limit, e.config.MaxLimit)
	}
	if req.Offset < 0 {
		return p, amanerrors.ValidationError("offset must not be negative", nil)
	}
	if err := req.Filter.Validate(); err != nil {
		return p, amanerrors.New(amanerrors.ErrCodeInvalidFilter, "invalid strict filter: "+err.Error(), err)
	}
	p.offset = req.Offset

	p.minScore = e.config.MinScore
	if req.MinScore != nil {
		p.minScore = *req.MinScore
	}
	return p, nil
}

// branches holds the owned outcome of each branch after the join.
type branches struct {
	lexical     lexical.Result
	semantic    semantic.Result
	runLexical  bool
	runSemantic bool
}

// Search runs one query. Only invalid input, a metadata failure, caller
// cancellation, or the failure of every requested branch is returned as
// an error. A single failed branch is reported in DegradedBranches.
func (e *Engine) Search(ctx context.Context, req Request) (*Response, error) {
	start := time.Now()

	p, err := e.validate(req)
	if err != nil {
		return nil, err
	}
	ctx, endTask := profiling.Task(ctx, "search")
	defer endTask()
	profiling.Log(ctx, "mode", string(p.mode))

	resp, err := e.search(ctx, req, p, start)
	if err != nil {
		if e.prometheus != nil {
			e.prometheus.ObserveFailure(string(p.mode), time.Since(start))
		}
		return nil, err
	}
	e.record(req.Query, p.mode, resp, time.Since(start))
	return resp, nil
}

func (e *Engine) search(ctx context.Context, req Request, p params, start time.Time) (*Response, error) {
	var plan *query.Plan
	profiling.Region(ctx, "analyze", func() {
		plan = e.analyzer.Analyze(req.Query, query.Options{Mode: p.mode, Language: req.Lang, Script: req.Script})
	})
	if plan.Detection.Ambiguous() {
		slog.Debug("script_detection_ambiguous",
			slog.String("code", amanerrors.ErrCodeScriptAmbiguous),
			slog.String("primary", plan.Detection.Primary.String()),
			slog.Float64("confidence", plan.Detection.Confidence))
	}

	var (
		universe filter.Universe
		err      error
	)
	profiling.Region(ctx, "strict_filter", func() {
		universe, err = filter.Resolve(ctx, e.metadata, req.Filter)
	})
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, amanerrors.StorageError("failed to resolve strict filter", err)
	}

	resp := &Response{Results: []Result{}}
	resp.Metadata = Metadata{
		DetectedScript:   plan.Script.String(),
		DegradedBranches: []string{},
	}
	if universe.Empty() {
		slog.Debug("strict_filter_empty", slog.String("query", req.Query))
		e.finish(resp, req, p, plan, universe, nil, start)
		return resp, nil
	}

	b := e.runBranches(ctx, plan, universe, p.mode)
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if b.runLexical {
		resp.Metadata.SearchStrategy.Lexical = plan.Strategy.String()
		if b.lexical.Degraded {
			resp.Metadata.DegradedBranches = append(resp.Metadata.DegradedBranches, BranchLexical)
		}
	}
	if b.runSemantic {
		resp.Metadata.SearchStrategy.Semantic = "mrl_two_stage"
		if b.semantic.Degraded {
			resp.Metadata.DegradedBranches = append(resp.Metadata.DegradedBranches, BranchSemantic)
		}
	}
	if failed := b.allFailed(); failed != nil {
		return nil, amanerrors.New(amanerrors.ErrCodeSearchFailed, "all search branches failed", failed)
	}

	meta, err := e.chunkMetadata(ctx, b)
	if err != nil {
		return nil, err
	}
	lex := admit(b.lexical.Candidates, meta, universe, req.Filter)
	sem := admit(b.semantic.Candidates, meta, universe, req.Filter)
	resp.Metadata.FTSHitCount = len(lex)
	resp.Metadata.SemanticHitCount = len(sem)
	if e.prometheus != nil {
		if b.runLexical {
			e.prometheus.ObserveBranch(BranchLexical, len(lex))
		}
		if b.runSemantic {
			e.prometheus.ObserveBranch(BranchSemantic, len(sem))
		}
	}

	var (
		fused   []fusion.Result
		entries []dedup.Entry
	)
	profiling.Region(ctx, "fuse", func() {
		fused = fusion.Fuse(lex, sem, fusion.Params{
			Method:  p.method,
			Weights: fusion.Weights{Lexical: plan.Weights.Lexical, Semantic: plan.Weights.Semantic},
			K:       plan.K,
		})
		entries = dedup.Deduplicate(fused, meta)
	})
	resp.Metadata.FusedCount = len(fused)

	if p.minScore > 0 {
		kept := entries[:0]
		for _, en := range entries {
			if en.Result.Normalized >= p.minScore {
				kept = append(kept, en)
			}
		}
		entries = kept
	}
	resp.Metadata.TotalResults = len(entries)

	for _, en := range paginate(entries, p.offset, p.limit) {
		resp.Results = append(resp.Results, e.assemble(en, req.Explain))
	}

	e.finish(resp, req, p, plan, universe, &b, start)
	return resp, nil
}

// runBranches starts the requested branches concurrently, each under its
// own timeout, and waits for both. Branch failures are captured in the
// results and never cancel the sibling branch.
func (e *Engine) runBranches(ctx context.Context, plan *query.Plan, u filter.Universe, mode query.Mode) branches {
	b := branches{
		runLexical:  mode.UsesLexical(),
		runSemantic: mode.UsesSemantic(),
	}
	var g errgroup.Group

	if b.runLexical {
		if e.lexical == nil {
			b.lexical = lexical.Result{Strategy: plan.Strategy, Degraded: true, Err: amanerrors.BranchUnavailable(BranchLexical, errNotConfigured)}
		} else {
			g.Go(func() error {
				lctx, cancel := context.WithTimeout(ctx, e.config.LexicalTimeout)
				defer cancel()
				profiling.Region(lctx, BranchLexical, func() {
					b.lexical = e.lexical.Search(lctx, plan, u)
				})
				return nil
			})
		}
	}
	if b.runSemantic {
		if e.semantic == nil {
			b.semantic = semantic.Result{Degraded: true, Err: amanerrors.BranchUnavailable(BranchSemantic, errNotConfigured)}
		} else {
			g.Go(func() error {
				sctx, cancel := context.WithTimeout(ctx, e.config.SemanticTimeout)
				defer cancel()
				profiling.Region(sctx, BranchSemantic, func() {
					b.semantic = e.semantic.Search(sctx, plan.SemanticText(), u)
				})
				return nil
			})
		}
	}

	_ = g.Wait()
	return b
}

// allFailed returns the joined causes when every requested branch degraded.
func (b branches) allFailed() error {
	lexFailed := !b.runLexical || b.lexical.Degraded
	semFailed := !b.runSemantic || b.semantic.Degraded
	if !lexFailed || !semFailed {
		return nil
	}
	return errors.Join(b.lexical.Err, b.semantic.Err)
}

// chunkMetadata fetches chain metadata once for the union of candidates.
func (e *Engine) chunkMetadata(ctx context.Context, b branches) (map[string]store.ChunkMeta, error) {
	seen := make(map[string]struct{}, len(b.lexical.Candidates)+len(b.semantic.Candidates))
	ids := make([]string, 0, len(b.lexical.Candidates)+len(b.semantic.Candidates))
	for _, list := range [][]fusion.Candidate{b.lexical.Candidates, b.semantic.Candidates} {
		for _, c := range list {
			if _, ok := seen[c.ChunkID]; !ok {
				seen[c.ChunkID] = struct{}{}
				ids = append(ids, c.ChunkID)
			}
		}
	}
	if len(ids) == 0 {
		return map[string]store.ChunkMeta{}, nil
	}
	meta, err := e.metadata.Chunks(ctx, ids)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, amanerrors.StorageError("failed to load chunk metadata", err)
	}
	return meta, nil
}

// admit fills document ids from chain metadata and drops candidates that
// are unknown, outside the universe, or whose tags fail the filter, then
// re-ranks the survivors.
func admit(list []fusion.Candidate, meta map[string]store.ChunkMeta, u filter.Universe, f filter.StrictFilter) []fusion.Candidate {
	out := make([]fusion.Candidate, 0, len(list))
	for _, c := range list {
		m, ok := meta[c.ChunkID]
		if !ok {
			continue
		}
		c.DocumentID = m.DocumentID
		if u.Restricted() && !(u.HasChunk(c.ChunkID) && u.HasDocument(c.DocumentID)) {
			continue
		}
		if u.Restricted() && !f.AdmitTags(m.Tags) {
			continue
		}
		out = append(out, c)
	}
	return fusion.Rank(out)
}

func paginate(entries []dedup.Entry, offset, limit int) []dedup.Entry {
	if offset >= len(entries) {
		return nil
	}
	end := min(offset+limit, len(entries))
	return entries[offset:end]
}

func (e *Engine) assemble(en dedup.Entry, explain bool) Result {
	tags := en.Chunk.Tags
	if tags == nil {
		tags = []string{}
	}
	r := Result{
		DocumentID: en.Chain.ChainID,
		Score:      en.Result.Normalized,
		Snippet:    Snippet(en.Chunk.Text, e.config.SnippetLength),
		Title:      en.Chain.OriginalTitle,
		Tags:       tags,
		ChainInfo:  en.Chain,
	}
	if explain {
		r.Explain = &ResultExplain{
			ChunkID:       en.Result.ChunkID,
			FusedScore:    en.Result.Score,
			LexicalRank:   en.Result.LexicalRank,
			SemanticRank:  en.Result.SemanticRank,
			LexicalScore:  en.Result.LexicalScore,
			SemanticScore: en.Result.SemanticScore,
		}
	}
	return r
}

// Snippet collapses whitespace and truncates text to n runes, cutting at
// the last space when one falls in the final fifth.
func Snippet(text string, n int) string {
	text = strings.Join(strings.Fields(text), " ")
	if n <= 0 || utf8.RuneCountInString(text) <= n {
		return text
	}
	runes := []rune(text)[:n]
	cut := len(runes)
	for i := len(runes) - 1; i >= n*4/5; i-- {
		if runes[i] == ' ' {
			cut = i
			break
		}
	}
	return strings.TrimSpace(string(runes[:cut])) + "…"
}

// finish stamps timing and explain data and logs the query.
func (e *Engine) finish(resp *Response, req Request, p params, plan *query.Plan, u filter.Universe, b *branches, start time.Time) {
	elapsed := time.Since(start)
	resp.Metadata.SearchTimeMs = float64(elapsed.Microseconds()) / 1000

	if req.Explain {
		x := &ExplainData{
			Plan:         plan,
			Confidence:   plan.Detection.Confidence,
			ScriptsFound: plan.Detection.Scripts,
			FusionMethod: p.method,
			Weights:      fusion.Weights{Lexical: plan.Weights.Lexical, Semantic: plan.Weights.Semantic},
			K:            plan.K,
			UniverseSize: u.Size(),
		}
		if b != nil {
			x.Ef = b.semantic.Ef
			x.ExactScan = b.semantic.Exact
			x.CoarseCandidates = b.semantic.CoarseCount
			x.EstimatedRecall = b.semantic.EstimatedRecall
			x.BranchErrors = map[string]string{}
			if b.lexical.Err != nil {
				x.BranchErrors[BranchLexical] = b.lexical.Err.Error()
			}
			if b.semantic.Err != nil {
				x.BranchErrors[BranchSemantic] = b.semantic.Err.Error()
			}
		}
		resp.Metadata.Explain = x
	}

	slog.Debug("search_complete",
		slog.String("mode", string(p.mode)),
		slog.String("script", resp.Metadata.DetectedScript),
		slog.String("strategy", plan.Strategy.String()),
		slog.Int("universe", u.Size()),
		slog.Int("fts_hits", resp.Metadata.FTSHitCount),
		slog.Int("semantic_hits", resp.Metadata.SemanticHitCount),
		slog.Int("fused", resp.Metadata.FusedCount),
		slog.Int("results", len(resp.Results)),
		slog.Any("degraded", resp.Metadata.DegradedBranches),
		slog.Duration("elapsed", elapsed))
}

// record sends the completed query to telemetry.
func (e *Engine) record(q string, mode query.Mode, resp *Response, latency time.Duration) {
	if e.metrics == nil && e.prometheus == nil {
		return
	}
	strategy := resp.Metadata.SearchStrategy.Lexical
	if strategy == "" {
		strategy = resp.Metadata.SearchStrategy.Semantic
	}
	ev := telemetry.QueryEvent{
		Query:       q,
		Mode:        string(mode),
		Script:      resp.Metadata.DetectedScript,
		Strategy:    strategy,
		Degraded:    resp.Metadata.DegradedBranches,
		ResultCount: resp.Metadata.TotalResults,
		Latency:     latency,
		Timestamp:   time.Now(),
	}
	if e.metrics != nil {
		e.metrics.Record(ev)
	}
	if e.prometheus != nil {
		e.prometheus.ObserveQuery(ev)
	}
}

// Stats reports corpus size and which branches are configured.
func (e *Engine) Stats(ctx context.Context) (Stats, error) {
	docs, err := e.metadata.DocumentCount(ctx)
	if err != nil {
		return Stats{}, amanerrors.StorageError("failed to count documents", err)
	}
	chunks, err := e.metadata.ChunkCount(ctx)
	if err != nil {
		return Stats{}, amanerrors.StorageError("failed to count chunks", err)
	}
	return Stats{
		Documents: docs,
		Chunks:    chunks,
		Lexical:   e.lexical != nil,
		Semantic:  e.semantic != nil,
	}, nil
}
