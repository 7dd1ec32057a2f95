// Package mcp serves the search engine to Model Context Protocol clients
// over stdio.
package mcp

import (
	"context"
	"errors"
	"fmt"

	amerrors "github.com/Aman-CERP/amansearch/internal/errors"
)

// JSON-RPC error codes. The -3200x range is server defined.
const (
	ErrCodeIndexNotFound = -32001
	ErrCodeSearchFailed  = -32002
	ErrCodeTimeout       = -32003

	ErrCodeInvalidRequest = -32600
	ErrCodeMethodNotFound = -32601
	ErrCodeInvalidParams  = -32602
	ErrCodeInternalError  = -32603
)

var (
	ErrToolNotFound     = errors.New("tool not found")
	ErrResourceNotFound = errors.New("resource not found")
)

// MCPError is a JSON-RPC error returned to the client.
type MCPError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (e *MCPError) Error() string {
	return fmt.Sprintf("MCP error %d: %s", e.Code, e.Message)
}

// byCode overrides the category mapping for specific error codes.
var byCode = map[string]int{
	amerrors.ErrCodeIndexNotFound: ErrCodeIndexNotFound,
	amerrors.ErrCodeCorruptIndex:  ErrCodeIndexNotFound,
	amerrors.ErrCodeSearchFailed:  ErrCodeSearchFailed,
}

// byCategory maps the remaining AmanErrors. Provider failures surface as
// timeouts since the client can retry them.
var byCategory = map[amerrors.Category]int{
	amerrors.CategoryValidation: ErrCodeInvalidParams,
	amerrors.CategoryProvider:   ErrCodeTimeout,
}

// MapError converts an engine error to the error sent to the client. An
// AmanError keeps its message and suggestion; anything unrecognized is
// reported as an opaque internal error.
func MapError(err error) *MCPError {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, context.DeadlineExceeded):
		return &MCPError{Code: ErrCodeTimeout, Message: "Request timed out."}
	case errors.Is(err, context.Canceled):
		return &MCPError{Code: ErrCodeTimeout, Message: "Request was canceled."}
	}

	var ae *amerrors.AmanError
	if errors.As(err, &ae) {
		msg := ae.Message
		if ae.Suggestion != "" {
			msg += " " + ae.Suggestion
		}
		code, ok := byCode[ae.Code]
		if !ok {
			code, ok = byCategory[ae.Category]
		}
		if !ok {
			code = ErrCodeInternalError
		}
		return &MCPError{Code: code, Message: msg}
	}

	switch {
	case errors.Is(err, ErrToolNotFound):
		return &MCPError{Code: ErrCodeMethodNotFound, Message: "Tool not found."}
	case errors.Is(err, ErrResourceNotFound):
		return &MCPError{Code: ErrCodeMethodNotFound, Message: "Resource not found."}
	}
	return &MCPError{Code: ErrCodeInternalError, Message: "Internal server error."}
}

// NewInvalidParamsError reports malformed tool arguments.
func NewInvalidParamsError(msg string) *MCPError {
	return &MCPError{Code: ErrCodeInvalidParams, Message: msg}
}

// NewMethodNotFoundError reports an unknown tool.
func NewMethodNotFoundError(name string) *MCPError {
	return &MCPError{Code: ErrCodeMethodNotFound, Message: fmt.Sprintf("Tool '%s' not found.", name)}
}

// NewResourceNotFoundError reports an unknown resource URI.
func NewResourceNotFoundError(uri string) *MCPError {
	return &MCPError{Code: ErrCodeMethodNotFound, Message: fmt.Sprintf("Resource '%s' not found.", uri)}
}
