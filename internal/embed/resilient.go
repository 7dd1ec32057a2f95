package embed

import (
	"context"
	"log/slog"
	"time"

	amanerrors "github.com/Aman-CERP/amansearch/internal/errors"
)

// ResilientEmbedder retries transient provider failures and stops calling a
// provider that keeps failing.
type ResilientEmbedder struct {
	inner   Embedder
	retry   amanerrors.RetryConfig
	breaker *amanerrors.CircuitBreaker
}

var _ Embedder = (*ResilientEmbedder)(nil)

// NewResilientEmbedder wraps inner with retry inside a circuit breaker. A nil
// breaker disables the circuit.
func NewResilientEmbedder(inner Embedder, retry amanerrors.RetryConfig, breaker *amanerrors.CircuitBreaker) *ResilientEmbedder {
	if retry.OnRetry == nil {
		retry.OnRetry = func(attempt int, err error, wait time.Duration) {
			slog.Debug("embedding_retry",
				slog.String("model", inner.ModelName()),
				slog.Int("attempt", attempt),
				slog.Duration("wait", wait),
				slog.String("error", err.Error()))
		}
	}
	return &ResilientEmbedder{inner: inner, retry: retry, breaker: breaker}
}

func run[T any](ctx context.Context, r *ResilientEmbedder, op string, fn func() (T, error)) (T, error) {
	attempt := func() (T, error) {
		return amanerrors.RetryWithResult(ctx, r.retry, fn)
	}
	if r.breaker == nil {
		return attempt()
	}
	out, err := amanerrors.CircuitExecute(ctx, r.breaker, attempt)
	if err != nil && amanerrors.HasCode(err, amanerrors.ErrCodeCircuitOpen) {
		slog.Debug("embedding_circuit_open",
			slog.String("op", op),
			slog.String("model", r.inner.ModelName()))
	}
	return out, err
}

// Embed delegates with retry and circuit breaking.
func (r *ResilientEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	return run(ctx, r, "embed", func() ([]float32, error) {
		return r.inner.Embed(ctx, text)
	})
}

// EmbedBatch delegates with retry and circuit breaking.
func (r *ResilientEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	return run(ctx, r, "embed_batch", func() ([][]float32, error) {
		return r.inner.EmbedBatch(ctx, texts)
	})
}

// Breaker exposes the circuit breaker, or nil.
func (r *ResilientEmbedder) Breaker() *amanerrors.CircuitBreaker { return r.breaker }

func (r *ResilientEmbedder) Dimensions() int                    { return r.inner.Dimensions() }
func (r *ResilientEmbedder) ModelName() string                  { return r.inner.ModelName() }
func (r *ResilientEmbedder) Available(ctx context.Context) bool { return r.inner.Available(ctx) }
func (r *ResilientEmbedder) Close() error                       { return r.inner.Close() }
