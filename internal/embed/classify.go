package embed

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"

	amanerrors "github.com/Aman-CERP/amansearch/internal/errors"
)

// classifyStatus maps a non-2xx provider response to a coded error.
func classifyStatus(provider string, status int, body string) error {
	body = strings.TrimSpace(body)
	msg := fmt.Sprintf("%s returned status %d", provider, status)
	if body != "" {
		msg += ": " + body
	}
	switch {
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return amanerrors.New(amanerrors.ErrCodeProviderAuth, msg, nil).
			WithSuggestion("check the embedding provider API key")
	case status == http.StatusTooManyRequests:
		return amanerrors.New(amanerrors.ErrCodeNetworkUnavailable, msg, nil).
			WithSuggestion("lower embeddings.rate_limit")
	case status == http.StatusRequestTimeout || status == http.StatusGatewayTimeout:
		return amanerrors.New(amanerrors.ErrCodeNetworkTimeout, msg, nil)
	case status >= 500:
		return amanerrors.ProviderError(msg, nil)
	default:
		// Remaining 4xx are request problems; retrying will not help.
		return amanerrors.New(amanerrors.ErrCodeEmbeddingFailed, msg, nil)
	}
}

// classifyTransportError maps a failed round trip to a coded error.
func classifyTransportError(ctx context.Context, provider string, err error) error {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return amanerrors.New(amanerrors.ErrCodeNetworkTimeout, provider+" request timed out", err)
	}
	if errors.Is(err, context.Canceled) {
		return err
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return amanerrors.New(amanerrors.ErrCodeNetworkTimeout, provider+" request timed out", err)
	}
	return amanerrors.New(amanerrors.ErrCodeNetworkUnavailable, provider+" is unreachable", err).
		WithSuggestion("check that the embedding provider is running")
}
