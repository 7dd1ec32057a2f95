package mcp

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	amerrors "github.com/Aman-CERP/amansearch/internal/errors"
)

func TestMapError_NilError(t *testing.T) {
	assert.Nil(t, MapError(nil))
}

func TestMapError(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		code     int
		contains string
	}{
		{"deadline", context.DeadlineExceeded, ErrCodeTimeout, "timed out"},
		{"canceled", fmt.Errorf("search: %w", context.Canceled), ErrCodeTimeout, "canceled"},
		{"tool not found", ErrToolNotFound, ErrCodeMethodNotFound, "Tool"},
		{"unknown", errors.New("boom"), ErrCodeInternalError, "Internal server error"},
		{"empty query", amerrors.New(amerrors.ErrCodeQueryEmpty, "query is empty", nil), ErrCodeInvalidParams, "query is empty"},
		{"bad mode", amerrors.ValidationError("unknown search mode", nil), ErrCodeInvalidParams, "unknown search mode"},
		{"missing index", amerrors.New(amerrors.ErrCodeIndexNotFound, "no index", nil), ErrCodeIndexNotFound, "no index"},
		{"storage", amerrors.StorageError("disk full", nil), ErrCodeInternalError, "disk full"},
		{"provider", amerrors.ProviderError("ollama down", nil), ErrCodeTimeout, "ollama down"},
		{"all branches", amerrors.New(amerrors.ErrCodeSearchFailed, "all search branches failed", nil), ErrCodeSearchFailed, "all search branches"},
		{"wrapped aman error", fmt.Errorf("outer: %w", amerrors.ValidationError("bad offset", nil)), ErrCodeInvalidParams, "bad offset"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := MapError(tt.err)
			require.NotNil(t, result)
			assert.Equal(t, tt.code, result.Code)
			assert.Contains(t, result.Message, tt.contains)
		})
	}
}

func TestMapError_AppendsSuggestion(t *testing.T) {
	// Given: an error with a suggestion
	err := amerrors.New(amerrors.ErrCodeQueryEmpty, "query is empty", nil).
		WithSuggestion("Provide at least one search term")

	// When: mapping the error
	result := MapError(err)

	// Then: the message carries both
	assert.Equal(t, "query is empty Provide at least one search term", result.Message)
}

func TestMCPError_Error(t *testing.T) {
	err := &MCPError{Code: ErrCodeInvalidParams, Message: "missing required field"}

	msg := err.Error()
	assert.Contains(t, msg, "MCP error")
	assert.Contains(t, msg, "-32602")
	assert.Contains(t, msg, "missing required field")
}

func TestNewErrorConstructors(t *testing.T) {
	assert.Equal(t, ErrCodeInvalidParams, NewInvalidParamsError("x").Code)

	nf := NewMethodNotFoundError("search_code")
	assert.Equal(t, ErrCodeMethodNotFound, nf.Code)
	assert.Contains(t, nf.Message, "search_code")

	rnf := NewResourceNotFoundError("amansearch://chunks/x")
	assert.Equal(t, ErrCodeMethodNotFound, rnf.Code)
	assert.Contains(t, rnf.Message, "amansearch://chunks/x")
}
