package embed

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	amanerrors "github.com/Aman-CERP/amansearch/internal/errors"
)

// ProviderType represents an embedding provider
type ProviderType string

const (
	// ProviderOllama uses the Ollama HTTP API (default).
	ProviderOllama ProviderType = "ollama"

	// ProviderOpenAI uses any OpenAI-compatible /embeddings endpoint.
	ProviderOpenAI ProviderType = "openai"

	// ProviderStatic uses hash-based embeddings. Offline, deterministic.
	ProviderStatic ProviderType = "static"
)

// ParseProvider converts a provider name, case-insensitively.
func ParseProvider(s string) (ProviderType, error) {
	switch p := ProviderType(strings.ToLower(strings.TrimSpace(s))); p {
	case ProviderOllama, ProviderOpenAI, ProviderStatic:
		return p, nil
	case "":
		return ProviderOllama, nil
	default:
		return "", amanerrors.ConfigError(fmt.Sprintf("unknown embeddings provider %q", s), nil).
			WithSuggestion("use ollama, openai or static")
	}
}

// Options selects a provider and the decorators stacked on it.
type Options struct {
	Provider   ProviderType
	Model      string
	OllamaHost string
	BaseURL    string
	APIKey     string
	Dimensions int

	// MRLDimensions seeds the static embedder's nested hashing.
	MRLDimensions []int

	// Timeout bounds construction-time health checks.
	Timeout time.Duration

	// RateLimit is requests per second; zero disables limiting.
	RateLimit float64
	RateBurst int

	// CacheSize is the LRU size; negative disables caching.
	CacheSize int

	Retry   amanerrors.RetryConfig
	Breaker *amanerrors.CircuitBreaker
}

// DefaultOptions returns the Ollama stack with caching, retry and a breaker.
func DefaultOptions() Options {
	return Options{
		Provider:      ProviderOllama,
		Model:         DefaultOllamaModel,
		OllamaHost:    DefaultOllamaHost,
		Dimensions:    DefaultDimensions,
		MRLDimensions: DefaultMRLDimensions,
		Timeout:       DefaultTimeout,
		CacheSize:     DefaultEmbeddingCacheSize,
		Retry:         amanerrors.DefaultRetryConfig(),
		Breaker:       amanerrors.NewCircuitBreaker("embeddings"),
	}
}

// NewEmbedder builds the provider and wraps it, innermost first, in
// resilience, rate limiting and the query cache. The cache is outermost so
// hits never consume rate tokens.
func NewEmbedder(ctx context.Context, opts Options) (Embedder, error) {
	base, err := newProvider(ctx, opts)
	if err != nil {
		return nil, err
	}

	var e Embedder = base
	if opts.Provider != ProviderStatic {
		e = NewResilientEmbedder(e, opts.Retry, opts.Breaker)
	}
	if opts.RateLimit > 0 {
		e = NewRateLimitedEmbedder(e, opts.RateLimit, opts.RateBurst)
	}
	if opts.CacheSize >= 0 {
		e = NewCachedEmbedder(e, opts.CacheSize)
	}

	slog.Info("embedder_ready",
		slog.String("provider", string(opts.Provider)),
		slog.String("model", e.ModelName()),
		slog.Int("dimensions", e.Dimensions()))
	return e, nil
}

func newProvider(ctx context.Context, opts Options) (Embedder, error) {
	switch opts.Provider {
	case ProviderOllama, "":
		cfg := DefaultOllamaConfig()
		if opts.OllamaHost != "" {
			cfg.Host = opts.OllamaHost
		}
		if opts.Model != "" {
			cfg.Model = opts.Model
		}
		cfg.Dimensions = opts.Dimensions
		if opts.Timeout > 0 {
			cfg.Timeout = opts.Timeout
		}
		e, err := NewOllamaEmbedder(ctx, cfg)
		if err != nil {
			return nil, fmt.Errorf("ollama unavailable: %w", err)
		}
		return e, nil

	case ProviderOpenAI:
		return NewOpenAIEmbedder(OpenAIConfig{
			APIKey:     opts.APIKey,
			BaseURL:    opts.BaseURL,
			Model:      opts.Model,
			Dimensions: opts.Dimensions,
		})

	case ProviderStatic:
		return NewStaticEmbedder(opts.Dimensions, opts.MRLDimensions), nil

	default:
		_, err := ParseProvider(string(opts.Provider))
		return nil, err
	}
}

// Unwrap peels decorators until the provider is reached.
func Unwrap(e Embedder) Embedder {
	for {
		switch d := e.(type) {
		case *CachedEmbedder:
			e = d.inner
		case *RateLimitedEmbedder:
			e = d.inner
		case *ResilientEmbedder:
			e = d.inner
		default:
			return e
		}
	}
}
