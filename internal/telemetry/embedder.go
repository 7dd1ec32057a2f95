package telemetry

import (
	"context"
	"time"

	"github.com/Aman-CERP/amansearch/internal/embed"
)

// InstrumentedEmbedder reports provider calls to Prometheus.
type InstrumentedEmbedder struct {
	embed.Embedder
	metrics *Prometheus
}

// InstrumentEmbedder wraps e. A nil metrics value returns e unchanged.
func InstrumentEmbedder(e embed.Embedder, metrics *Prometheus) embed.Embedder {
	if metrics == nil {
		return e
	}
	return &InstrumentedEmbedder{Embedder: e, metrics: metrics}
}

// Embed times a single embedding call.
func (i *InstrumentedEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	start := time.Now()
	v, err := i.Embedder.Embed(ctx, text)
	i.metrics.ObserveEmbedding(i.ModelName(), time.Since(start), err)
	return v, err
}

// EmbedBatch times a batch embedding call.
func (i *InstrumentedEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	start := time.Now()
	v, err := i.Embedder.EmbedBatch(ctx, texts)
	i.metrics.ObserveEmbedding(i.ModelName(), time.Since(start), err)
	return v, err
}
