package search

import (
	"context"
	"sync/atomic"
)

// Searcher is the query surface consumed by the CLI, MCP and HTTP layers.
type Searcher interface {
	Search(ctx context.Context, req Request) (*Response, error)
	Stats(ctx context.Context) (Stats, error)
}

var (
	_ Searcher = (*Engine)(nil)
	_ Searcher = (*Holder)(nil)
)

// Holder serves queries from an engine that can be replaced while queries
// are running. In-flight queries finish on the engine they started with.
type Holder struct {
	current atomic.Pointer[Engine]
}

// NewHolder returns a holder serving e.
func NewHolder(e *Engine) *Holder {
	h := &Holder{}
	h.current.Store(e)
	return h
}

// Swap installs e and returns the previous engine.
func (h *Holder) Swap(e *Engine) *Engine {
	return h.current.Swap(e)
}

// Engine returns the engine currently serving queries.
func (h *Holder) Engine() *Engine {
	return h.current.Load()
}

// Search runs req on the current engine.
func (h *Holder) Search(ctx context.Context, req Request) (*Response, error) {
	return h.current.Load().Search(ctx, req)
}

// Stats reports on the current engine.
func (h *Holder) Stats(ctx context.Context) (Stats, error) {
	return h.current.Load().Stats(ctx)
}
