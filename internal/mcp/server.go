package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/Aman-CERP/amansearch/internal/search"
	"github.com/Aman-CERP/amansearch/internal/store"
	"github.com/Aman-CERP/amansearch/internal/telemetry"
	"github.com/Aman-CERP/amansearch/pkg/version"
)

// Server bridges MCP clients with the search engine.
type Server struct {
	mcp      *mcp.Server
	engine   search.Searcher
	metadata store.MetadataStore
	logger   *slog.Logger

	// Query telemetry (optional, set via SetMetrics)
	metrics *telemetry.QueryMetrics

	mu sync.RWMutex
}

// ToolInfo contains information about a registered tool.
type ToolInfo struct {
	Name        string
	Description string
}

const (
	searchToolDescription = "Hybrid multilingual document search. Combines per-script keyword matching " +
		"(stemmed Latin and Cyrillic, CJK bigrams, trigram substrings) with semantic vector search. " +
		"Supports quoted phrases, OR, parentheses, -exclusions and a strict tag/scheme filter. " +
		"Returns one result per document with the best matching chunk."
	statusToolDescription = "Report how many documents and chunks are indexed and whether the keyword " +
		"and semantic branches are available."
)

// NewServer creates a new MCP server. The metadata store backs the chunk
// resource and may be nil.
func NewServer(engine search.Searcher, metadata store.MetadataStore) (*Server, error) {
	if engine == nil {
		return nil, errors.New("search engine is required")
	}

	s := &Server{
		engine:   engine,
		metadata: metadata,
		logger:   slog.Default(),
	}

	s.mcp = mcp.NewServer(
		&mcp.Implementation{
			Name:    version.Name,
			Version: version.Version,
		},
		nil, // capabilities are inferred from registered tools/resources
	)

	s.registerTools()
	if metadata != nil {
		s.registerChunkResource()
	}
	return s, nil
}

// SetMetrics sets the query metrics collector and registers the
// query_metrics resource.
func (s *Server) SetMetrics(m *telemetry.QueryMetrics) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.metrics = m

	if m != nil {
		s.registerQueryMetricsResource()
	}
}

// MCPServer returns the underlying MCP server instance.
func (s *Server) MCPServer() *mcp.Server {
	return s.mcp
}

// Tool names.
const (
	toolSearch      = "search"
	toolIndexStatus = "index_status"
)

// ListTools returns all registered tools.
func (s *Server) ListTools() []ToolInfo {
	return []ToolInfo{
		{Name: toolSearch, Description: searchToolDescription},
		{Name: toolIndexStatus, Description: statusToolDescription},
	}
}

// CallTool invokes a tool by name with decoded JSON arguments. The search
// tool returns markdown.
func (s *Server) CallTool(ctx context.Context, name string, args map[string]any) (any, error) {
	switch name {
	case toolSearch:
		var input SearchInput
		if err := decodeArgs(args, &input); err != nil {
			return nil, err
		}
		resp, err := s.runSearch(ctx, input)
		if err != nil {
			return "", err
		}
		return FormatSearchResults(input.Query, resp), nil
	case toolIndexStatus:
		return s.handleIndexStatus(ctx)
	default:
		return nil, NewMethodNotFoundError(name)
	}
}

func decodeArgs(args map[string]any, into *SearchInput) error {
	raw, err := json.Marshal(args)
	if err != nil {
		return NewInvalidParamsError(err.Error())
	}
	if err := json.Unmarshal(raw, into); err != nil {
		return NewInvalidParamsError(fmt.Sprintf("invalid search arguments: %v", err))
	}
	return nil
}

// runSearch executes a search under a request-scoped logger. Ranking
// diagnostics are always computed for match reasons and dropped from the
// metadata unless the caller asked for them.
func (s *Server) runSearch(ctx context.Context, input SearchInput) (*search.Response, error) {
	log := s.logger.With(slog.String("request_id", requestID()))
	log.Info("mcp_search",
		slog.String("query", input.Query),
		slog.String("mode", input.Mode),
		slog.String("lang", input.Lang),
		slog.Int("limit", input.Limit))

	req := input.request()
	req.Explain = true
	start := time.Now()
	resp, err := s.engine.Search(ctx, req)
	if err != nil {
		log.Warn("mcp_search_failed",
			slog.Duration("took", time.Since(start)),
			slog.String("error", err.Error()))
		return nil, MapError(err)
	}
	if !input.Explain {
		resp.Metadata.Explain = nil
	}

	log.Info("mcp_search_done",
		slog.Duration("took", time.Since(start)),
		slog.Int("results", len(resp.Results)),
		slog.Int("total", resp.Metadata.TotalResults),
		slog.String("script", resp.Metadata.DetectedScript),
		slog.Any("degraded", resp.Metadata.DegradedBranches))
	return resp, nil
}

func (s *Server) handleIndexStatus(ctx context.Context) (*IndexStatusOutput, error) {
	stats, err := s.engine.Stats(ctx)
	if err != nil {
		return nil, MapError(err)
	}
	return &IndexStatusOutput{
		Documents: stats.Documents,
		Chunks:    stats.Chunks,
		Lexical:   availability(stats.Lexical),
		Semantic:  availability(stats.Semantic),
		Version:   version.Version,
	}, nil
}

func availability(ok bool) string {
	if ok {
		return "ready"
	}
	return "unavailable"
}

// registerTools registers all tools with the MCP server.
func (s *Server) registerTools() {
	mcp.AddTool(s.mcp, &mcp.Tool{Name: toolSearch, Description: searchToolDescription}, s.mcpSearchHandler)
	mcp.AddTool(s.mcp, &mcp.Tool{Name: toolIndexStatus, Description: statusToolDescription}, s.mcpIndexStatusHandler)
}

// mcpSearchHandler is the MCP SDK handler for the search tool.
func (s *Server) mcpSearchHandler(ctx context.Context, _ *mcp.CallToolRequest, input SearchInput) (
	*mcp.CallToolResult,
	SearchOutput,
	error,
) {
	resp, err := s.runSearch(ctx, input)
	if err != nil {
		return nil, SearchOutput{}, err
	}

	output := SearchOutput{
		Results:  make([]SearchResultOutput, 0, len(resp.Results)),
		Metadata: toSearchMetadata(resp.Metadata),
	}
	for _, r := range resp.Results {
		output.Results = append(output.Results, ToSearchResultOutput(r))
	}
	return nil, output, nil
}

// mcpIndexStatusHandler is the MCP SDK handler for the index_status tool.
func (s *Server) mcpIndexStatusHandler(ctx context.Context, _ *mcp.CallToolRequest, _ IndexStatusInput) (
	*mcp.CallToolResult,
	*IndexStatusOutput,
	error,
) {
	output, err := s.handleIndexStatus(ctx)
	if err != nil {
		return nil, nil, err
	}
	return nil, output, nil
}

// Serve runs the server on the given transport until ctx is canceled.
// Only stdio is supported; HTTP clients use the REST API instead.
func (s *Server) Serve(ctx context.Context, transport string) error {
	if transport != "stdio" {
		return fmt.Errorf("unknown transport: %s (supported: stdio)", transport)
	}
	s.logger.Info("mcp_serving", slog.String("transport", transport))
	err := s.mcp.Run(ctx, &mcp.StdioTransport{})
	if errors.Is(err, context.Canceled) {
		err = nil
	}
	s.logger.Info("mcp_stopped", slog.Any("error", err))
	return err
}

// requestID is a short correlation id for log lines of one tool call.
func requestID() string {
	return uuid.NewString()[:8]
}
