package embed

import (
	"context"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	amanerrors "github.com/Aman-CERP/amansearch/internal/errors"
)

func TestParseProvider(t *testing.T) {
	tests := []struct {
		in      string
		want    ProviderType
		wantErr bool
	}{
		{"ollama", ProviderOllama, false},
		{"OpenAI", ProviderOpenAI, false},
		{" static ", ProviderStatic, false},
		{"", ProviderOllama, false},
		{"mlx", "", true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseProvider(tt.in)
			if tt.wantErr {
				require.Error(t, err)
				assert.True(t, amanerrors.HasCode(err, amanerrors.ErrCodeConfigInvalid))
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

// ============================================================================
// Decorator stacking
// ============================================================================

func TestNewEmbedder_StaticStack(t *testing.T) {
	// Given: the static provider with rate limiting enabled
	opts := DefaultOptions()
	opts.Provider = ProviderStatic
	opts.Dimensions = 128
	opts.RateLimit = 1000

	// When: building the embedder
	e, err := NewEmbedder(context.Background(), opts)
	require.NoError(t, err)
	defer func() { _ = e.Close() }()

	// Then: cache wraps the rate limiter, which wraps the provider directly
	cached, ok := e.(*CachedEmbedder)
	require.True(t, ok)
	limited, ok := cached.Inner().(*RateLimitedEmbedder)
	require.True(t, ok)
	_, ok = limited.inner.(*StaticEmbedder)
	assert.True(t, ok, "static provider skips the resilience layer")

	_, ok = Unwrap(e).(*StaticEmbedder)
	assert.True(t, ok)
	assert.Equal(t, 128, e.Dimensions())
}

func TestNewEmbedder_CacheDisabled(t *testing.T) {
	opts := DefaultOptions()
	opts.Provider = ProviderStatic
	opts.CacheSize = -1

	e, err := NewEmbedder(context.Background(), opts)
	require.NoError(t, err)
	_, ok := e.(*StaticEmbedder)
	assert.True(t, ok)
}

func TestNewEmbedder_OllamaWrappedInResilience(t *testing.T) {
	srv, _ := fakeOllama(t, []string{"nomic-embed-text"}, http.StatusOK)
	opts := DefaultOptions()
	opts.OllamaHost = srv.URL
	opts.Dimensions = 0

	e, err := NewEmbedder(context.Background(), opts)
	require.NoError(t, err)

	cached := e.(*CachedEmbedder)
	_, ok := cached.Inner().(*ResilientEmbedder)
	assert.True(t, ok)
	assert.Equal(t, 4, e.Dimensions())
}

func TestNewEmbedder_OllamaUnavailable(t *testing.T) {
	opts := DefaultOptions()
	opts.OllamaHost = "http://127.0.0.1:1"

	_, err := NewEmbedder(context.Background(), opts)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "ollama unavailable")
}

func TestNewEmbedder_UnknownProvider(t *testing.T) {
	opts := DefaultOptions()
	opts.Provider = "bogus"

	_, err := NewEmbedder(context.Background(), opts)
	assert.Error(t, err)
}
