package embed

import (
	"context"

	"golang.org/x/time/rate"

	amanerrors "github.com/Aman-CERP/amansearch/internal/errors"
)

// RateLimitedEmbedder bounds the request rate sent to a provider.
// Each Embed or EmbedBatch call consumes one token.
type RateLimitedEmbedder struct {
	inner   Embedder
	limiter *rate.Limiter
}

var _ Embedder = (*RateLimitedEmbedder)(nil)

// NewRateLimitedEmbedder allows perSecond requests with the given burst.
// A burst below 1 is raised to 1.
func NewRateLimitedEmbedder(inner Embedder, perSecond float64, burst int) *RateLimitedEmbedder {
	if burst < 1 {
		burst = 1
	}
	return &RateLimitedEmbedder{inner: inner, limiter: rate.NewLimiter(rate.Limit(perSecond), burst)}
}

func (r *RateLimitedEmbedder) wait(ctx context.Context) error {
	if err := r.limiter.Wait(ctx); err != nil {
		// Wait fails early when the deadline cannot be met.
		if ctx.Err() == context.Canceled {
			return ctx.Err()
		}
		return amanerrors.New(amanerrors.ErrCodeNetworkTimeout, "rate limit wait exceeds deadline", err)
	}
	return nil
}

// Embed waits for a token, then delegates.
func (r *RateLimitedEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	if err := r.wait(ctx); err != nil {
		return nil, err
	}
	return r.inner.Embed(ctx, text)
}

// EmbedBatch waits for a token, then delegates.
func (r *RateLimitedEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if err := r.wait(ctx); err != nil {
		return nil, err
	}
	return r.inner.EmbedBatch(ctx, texts)
}

func (r *RateLimitedEmbedder) Dimensions() int                    { return r.inner.Dimensions() }
func (r *RateLimitedEmbedder) ModelName() string                  { return r.inner.ModelName() }
func (r *RateLimitedEmbedder) Available(ctx context.Context) bool { return r.inner.Available(ctx) }
func (r *RateLimitedEmbedder) Close() error                       { return r.inner.Close() }
