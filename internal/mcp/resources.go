package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"strings"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/Aman-CERP/amansearch/internal/store"
)

const (
	uriScheme       = "amansearch://"
	chunkURIPrefix  = uriScheme + "chunks/"
	queryMetricsURI = uriScheme + "query_metrics"
)

// ChunkResource is the JSON body of a chunk resource.
type ChunkResource struct {
	ChunkID     string   `json:"chunk_id"`
	DocumentID  string   `json:"document_id"`
	Title       string   `json:"title"`
	Tags        []string `json:"tags"`
	Sequence    int      `json:"sequence"`
	TotalChunks int      `json:"total_chunks"`
	Text        string   `json:"text"`
}

// registerChunkResource exposes full chunk text, since search results only
// carry a snippet.
func (s *Server) registerChunkResource() {
	s.mcp.AddResourceTemplate(&mcp.ResourceTemplate{
		URITemplate: chunkURIPrefix + "{chunkId}",
		Name:        "chunk",
		Description: "Full text and chain position of an indexed chunk",
		MIMEType:    "application/json",
	}, s.handleChunkResource)
}

func (s *Server) handleChunkResource(ctx context.Context, req *mcp.ReadResourceRequest) (*mcp.ReadResourceResult, error) {
	text, err := s.ReadChunk(ctx, req.Params.URI)
	if err != nil {
		var me *MCPError
		if errors.As(err, &me) && me.Code == ErrCodeMethodNotFound {
			return nil, mcp.ResourceNotFoundError(req.Params.URI)
		}
		return nil, err
	}
	return &mcp.ReadResourceResult{
		Contents: []*mcp.ResourceContents{{
			URI:      req.Params.URI,
			MIMEType: "application/json",
			Text:     text,
		}},
	}, nil
}

// ReadChunk returns the JSON body of a chunk URI.
func (s *Server) ReadChunk(ctx context.Context, uri string) (string, error) {
	id, ok := strings.CutPrefix(uri, chunkURIPrefix)
	if !ok || id == "" || s.metadata == nil {
		return "", NewResourceNotFoundError(uri)
	}
	meta, err := s.metadata.Chunks(ctx, []string{id})
	if err != nil {
		return "", MapError(err)
	}
	m, ok := meta[id]
	if !ok {
		return "", NewResourceNotFoundError(uri)
	}

	data, err := json.MarshalIndent(toChunkResource(m), "", "  ")
	if err != nil {
		return "", MapError(err)
	}
	return string(data), nil
}

func toChunkResource(m store.ChunkMeta) ChunkResource {
	tags := m.Tags
	if tags == nil {
		tags = []string{}
	}
	return ChunkResource{
		ChunkID:     m.ChunkID,
		DocumentID:  m.DocumentID,
		Title:       m.Title,
		Tags:        tags,
		Sequence:    m.Sequence,
		TotalChunks: m.TotalChunks,
		Text:        m.Text,
	}
}

// QueryMetricsOutput is the JSON structure for the query_metrics resource.
type QueryMetricsOutput struct {
	Summary             QueryMetricsSummary         `json:"summary"`
	Counts              map[string]map[string]int64 `json:"counts"`
	TopTerms            []QueryTermCount            `json:"top_terms"`
	ZeroResultQueries   []string                    `json:"zero_result_queries"`
	LatencyDistribution map[string]int64            `json:"latency_distribution"`
}

// QueryMetricsSummary provides overview statistics.
type QueryMetricsSummary struct {
	TotalQueries  int64   `json:"total_queries"`
	TimePeriod    string  `json:"time_period"`
	ZeroResultPct float64 `json:"zero_result_pct"`
	DegradedPct   float64 `json:"degraded_pct"`
	UniqueQueries int64   `json:"unique_queries"`
	ExactRepeats  int64   `json:"exact_repeats"`
}

// QueryTermCount represents a term and its frequency.
type QueryTermCount struct {
	Term  string `json:"term"`
	Count int64  `json:"count"`
}

// registerQueryMetricsResource registers the query_metrics resource.
func (s *Server) registerQueryMetricsResource() {
	s.mcp.AddResource(
		&mcp.Resource{
			Name:        "query_metrics",
			URI:         queryMetricsURI,
			Description: "Query telemetry: modes, scripts, strategies, degraded branches, top terms and latency",
			MIMEType:    "application/json",
		},
		s.makeQueryMetricsHandler(),
	)
}

// QueryMetricsJSON renders the current metrics snapshot.
func (s *Server) QueryMetricsJSON() (string, error) {
	s.mu.RLock()
	metrics := s.metrics
	s.mu.RUnlock()

	if metrics == nil {
		return "", NewInvalidParamsError("query metrics not available")
	}

	snapshot := metrics.Snapshot()
	output := QueryMetricsOutput{
		Summary: QueryMetricsSummary{
			TotalQueries:  snapshot.TotalQueries,
			TimePeriod:    "session",
			ZeroResultPct: snapshot.ZeroResultPercentage(),
			DegradedPct:   snapshot.DegradedPercentage(),
			UniqueQueries: snapshot.UniqueQueryCount,
			ExactRepeats:  snapshot.ExactRepeatCount,
		},
		Counts:              make(map[string]map[string]int64, len(snapshot.Counts)),
		TopTerms:            make([]QueryTermCount, 0, len(snapshot.TopTerms)),
		ZeroResultQueries:   snapshot.ZeroResultQueries,
		LatencyDistribution: make(map[string]int64, len(snapshot.LatencyDistribution)),
	}
	for dim, counts := range snapshot.Counts {
		output.Counts[dim] = counts
	}
	for _, tc := range snapshot.TopTerms {
		output.TopTerms = append(output.TopTerms, QueryTermCount{Term: tc.Term, Count: tc.Count})
	}
	for bucket, count := range snapshot.LatencyDistribution {
		output.LatencyDistribution[string(bucket)] = count
	}

	content, err := json.MarshalIndent(output, "", "  ")
	if err != nil {
		return "", MapError(err)
	}
	return string(content), nil
}

// makeQueryMetricsHandler creates a handler for the query_metrics resource.
func (s *Server) makeQueryMetricsHandler() mcp.ResourceHandler {
	return func(_ context.Context, _ *mcp.ReadResourceRequest) (*mcp.ReadResourceResult, error) {
		content, err := s.QueryMetricsJSON()
		if err != nil {
			return nil, err
		}
		return &mcp.ReadResourceResult{
			Contents: []*mcp.ResourceContents{{
				URI:      queryMetricsURI,
				MIMEType: "application/json",
				Text:     content,
			}},
		}, nil
	}
}
