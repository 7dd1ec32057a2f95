package embed

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	amanerrors "github.com/Aman-CERP/amansearch/internal/errors"
)

const (
	// DefaultOllamaHost is the local Ollama endpoint.
	DefaultOllamaHost = "http://localhost:11434"

	// DefaultOllamaModel is a general text model trained with MRL, so its
	// vectors survive prefix truncation.
	DefaultOllamaModel = "nomic-embed-text"

	// DefaultOllamaKeepAlive keeps the model resident between queries.
	DefaultOllamaKeepAlive = "10m"

	ollamaConns      = 4
	ollamaErrorBytes = 4096
)

// FallbackOllamaModels are tried in order when the configured model is not
// installed. Both are MRL-trained.
var FallbackOllamaModels = []string{
	"mxbai-embed-large",
	"embeddinggemma",
}

// OllamaConfig configures the Ollama embedder.
type OllamaConfig struct {
	Host           string
	Model          string
	FallbackModels []string

	// Dimensions skips the probe request when set.
	Dimensions int

	// BatchSize caps inputs per /api/embed call.
	BatchSize int

	// Timeout bounds model discovery at construction. Embedding calls
	// take their deadline from the caller's context.
	Timeout time.Duration

	// KeepAlive is passed through to Ollama; empty leaves the server default.
	KeepAlive string

	SkipHealthCheck bool
}

// DefaultOllamaConfig returns the local defaults.
func DefaultOllamaConfig() OllamaConfig {
	return OllamaConfig{
		Host:           DefaultOllamaHost,
		Model:          DefaultOllamaModel,
		FallbackModels: FallbackOllamaModels,
		BatchSize:      DefaultBatchSize,
		Timeout:        DefaultTimeout,
		KeepAlive:      DefaultOllamaKeepAlive,
	}
}

// Wire types for /api/embed and /api/tags.
type (
	ollamaEmbedRequest struct {
		Model     string `json:"model"`
		Input     any    `json:"input"`
		Truncate  bool   `json:"truncate"`
		KeepAlive string `json:"keep_alive,omitempty"`
	}
	ollamaEmbedResponse struct {
		Model      string      `json:"model"`
		Embeddings [][]float64 `json:"embeddings"`
	}
	ollamaTags struct {
		Models []ollamaModel `json:"models"`
	}
	ollamaModel struct {
		Name string `json:"name"`
	}
)

// OllamaEmbedder embeds chunk text and queries through a local Ollama.
type OllamaEmbedder struct {
	cfg       OllamaConfig
	client    *http.Client
	transport *http.Transport
	model     string
	dims      int

	mu     sync.RWMutex
	closed bool
}

var _ Embedder = (*OllamaEmbedder)(nil)

// NewOllamaEmbedder connects to Ollama. Unless the health check is skipped
// it resolves an installed model from the configured candidates and probes
// its native dimension.
func NewOllamaEmbedder(ctx context.Context, cfg OllamaConfig) (*OllamaEmbedder, error) {
	cfg = cfg.withDefaults()

	transport := &http.Transport{
		MaxIdleConns:        ollamaConns,
		MaxIdleConnsPerHost: ollamaConns,
		IdleConnTimeout:     30 * time.Second,
	}
	// The client has no Timeout of its own so branch deadlines apply.
	e := &OllamaEmbedder{
		cfg:       cfg,
		client:    &http.Client{Transport: transport},
		transport: transport,
		model:     cfg.Model,
		dims:      cfg.Dimensions,
	}

	if !cfg.SkipHealthCheck {
		if err := e.discover(ctx); err != nil {
			transport.CloseIdleConnections()
			return nil, err
		}
	}
	if e.dims == 0 {
		e.dims = DefaultDimensions
	}

	slog.Debug("ollama_embedder_ready",
		slog.String("host", cfg.Host),
		slog.String("model", e.model),
		slog.Int("dimensions", e.dims))
	return e, nil
}

func (c OllamaConfig) withDefaults() OllamaConfig {
	if c.Host == "" {
		c.Host = DefaultOllamaHost
	}
	c.Host = strings.TrimRight(c.Host, "/")
	if c.Model == "" {
		c.Model = DefaultOllamaModel
	}
	if c.FallbackModels == nil {
		c.FallbackModels = FallbackOllamaModels
	}
	c.BatchSize = min(max(c.BatchSize, 0), MaxBatchSize)
	if c.BatchSize == 0 {
		c.BatchSize = DefaultBatchSize
	}
	if c.Timeout <= 0 {
		c.Timeout = DefaultTimeout
	}
	return c
}

// discover picks the model and, when no dimension is configured, embeds a
// probe string to learn it.
func (e *OllamaEmbedder) discover(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, e.cfg.Timeout)
	defer cancel()

	installed, err := e.installed(ctx)
	if err != nil {
		return err
	}
	candidates := append([]string{e.cfg.Model}, e.cfg.FallbackModels...)
	model, ok := resolveModel(installed, candidates)
	if !ok {
		return amanerrors.New(amanerrors.ErrCodeEmbeddingProvider,
			fmt.Sprintf("none of %s is installed in ollama", strings.Join(candidates, ", ")), nil).
			WithSuggestion("run: ollama pull " + e.cfg.Model)
	}
	e.model = model

	if e.dims > 0 {
		return nil
	}
	vecs, err := e.embed(ctx, []string{"dimension probe"})
	if err != nil {
		return fmt.Errorf("probe embedding dimension: %w", err)
	}
	if len(vecs) == 0 || len(vecs[0]) == 0 {
		return amanerrors.ProviderError("ollama returned no vector for the dimension probe", nil)
	}
	e.dims = len(vecs[0])
	return nil
}

// resolveModel returns the first candidate that is installed. A candidate
// without a tag matches any tag of the same base name.
func resolveModel(installed, candidates []string) (string, bool) {
	byName := make(map[string]string, 2*len(installed))
	for _, name := range installed {
		lower := strings.ToLower(name)
		byName[lower] = name
		if _, ok := byName[modelBase(lower)]; !ok {
			byName[modelBase(lower)] = name
		}
	}
	for _, c := range candidates {
		lower := strings.ToLower(c)
		if name, ok := byName[lower]; ok {
			return name, true
		}
		if name, ok := byName[modelBase(lower)]; ok {
			return name, true
		}
	}
	return "", false
}

func modelBase(name string) string {
	base, _, _ := strings.Cut(name, ":")
	return base
}

func (e *OllamaEmbedder) installed(ctx context.Context) ([]string, error) {
	var tags ollamaTags
	if err := e.call(ctx, http.MethodGet, "/api/tags", nil, &tags); err != nil {
		return nil, err
	}
	names := make([]string, len(tags.Models))
	for i, m := range tags.Models {
		names[i] = m.Name
	}
	return names, nil
}

// call sends an optional JSON body and decodes the JSON reply into out.
func (e *OllamaEmbedder) call(ctx context.Context, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("encode %s request: %w", path, err)
		}
		body = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, method, e.cfg.Host+path, body)
	if err != nil {
		return fmt.Errorf("build %s request: %w", path, err)
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := e.client.Do(req)
	if err != nil {
		return classifyTransportError(ctx, "ollama", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, ollamaErrorBytes))
		return classifyStatus("ollama", resp.StatusCode, string(msg))
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return amanerrors.ProviderError("decode ollama "+path+" response", err)
	}
	return nil
}

// Embed embeds one text.
func (e *OllamaEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	vecs, err := e.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vecs[0], nil
}

// EmbedBatch embeds texts in order, BatchSize inputs per request.
func (e *OllamaEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if e.isClosed() {
		return nil, fmt.Errorf("embedder is closed")
	}
	out := make([][]float32, 0, len(texts))
	for batch := range chunkTexts(texts, e.cfg.BatchSize) {
		vecs, err := e.embed(ctx, batch)
		if err != nil {
			return nil, err
		}
		if len(vecs) != len(batch) {
			return nil, amanerrors.ProviderError(
				fmt.Sprintf("ollama returned %d embeddings for %d inputs", len(vecs), len(batch)), nil)
		}
		out = append(out, vecs...)
	}
	return out, nil
}

// chunkTexts yields consecutive slices of at most size texts.
func chunkTexts(texts []string, size int) func(func([]string) bool) {
	return func(yield func([]string) bool) {
		for len(texts) > 0 {
			n := min(size, len(texts))
			if !yield(texts[:n]) {
				return
			}
			texts = texts[n:]
		}
	}
}

// embed is one /api/embed round trip. Inputs longer than the model context
// are truncated by the server; vectors come back normalized.
func (e *OllamaEmbedder) embed(ctx context.Context, texts []string) ([][]float32, error) {
	req := ollamaEmbedRequest{Model: e.model, Input: texts, Truncate: true, KeepAlive: e.cfg.KeepAlive}
	if len(texts) == 1 {
		req.Input = texts[0]
	}
	var resp ollamaEmbedResponse
	if err := e.call(ctx, http.MethodPost, "/api/embed", req, &resp); err != nil {
		return nil, err
	}

	out := make([][]float32, len(resp.Embeddings))
	for i, emb := range resp.Embeddings {
		vec := make([]float32, len(emb))
		for j, v := range emb {
			vec[j] = float32(v)
		}
		out[i] = Normalize(vec)
	}
	return out, nil
}

// Dimensions returns the native vector length.
func (e *OllamaEmbedder) Dimensions() int { return e.dims }

// ModelName returns the resolved model, including its tag.
func (e *OllamaEmbedder) ModelName() string { return e.model }

// Available reports whether Ollama answers and still has the model.
func (e *OllamaEmbedder) Available(ctx context.Context) bool {
	if e.isClosed() {
		return false
	}
	installed, err := e.installed(ctx)
	if err != nil {
		return false
	}
	_, ok := resolveModel(installed, []string{e.model})
	return ok
}

func (e *OllamaEmbedder) isClosed() bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.closed
}

// Close releases idle connections. It is safe to call twice.
func (e *OllamaEmbedder) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.closed {
		e.closed = true
		e.transport.CloseIdleConnections()
	}
	return nil
}
