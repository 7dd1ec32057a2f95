// Package embed provides the inference providers that turn text into
// embedding vectors: Ollama, OpenAI-compatible endpoints and an offline
// static embedder. Decorators add caching, rate limiting, retry and a
// circuit breaker.
package embed

import (
	"context"
	"time"
)

const (
	// DefaultDimensions is the full embedding size of nomic-embed-text.
	DefaultDimensions = 768

	// DefaultBatchSize is the default batch size for embedding requests.
	DefaultBatchSize = 32

	// MaxBatchSize caps a single provider request.
	MaxBatchSize = 256

	// DefaultTimeout bounds one provider call.
	DefaultTimeout = 5 * time.Second

	// DefaultLoadTimeout bounds one batch during loading, where cold
	// models may need to be pulled into memory first.
	DefaultLoadTimeout = 120 * time.Second
)

// DefaultMRLDimensions are the truncation targets nomic-embed-text was
// trained for.
var DefaultMRLDimensions = []int{768, 512, 256, 128, 64}

// Embedder generates vector embeddings for text.
type Embedder interface {
	// Embed generates the embedding for a single text.
	Embed(ctx context.Context, text string) ([]float32, error)

	// EmbedBatch generates embeddings for multiple texts, in order.
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)

	// Dimensions returns the embedding size.
	Dimensions() int

	// ModelName returns the model identifier.
	ModelName() string

	// Available reports whether the provider answers.
	Available(ctx context.Context) bool

	// Close releases resources.
	Close() error
}
