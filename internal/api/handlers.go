package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5/middleware"

	amerrors "github.com/Aman-CERP/amansearch/internal/errors"
	"github.com/Aman-CERP/amansearch/internal/filter"
	"github.com/Aman-CERP/amansearch/internal/search"
	"github.com/Aman-CERP/amansearch/pkg/version"
)

// maxBodyBytes caps the size of a search request body.
const maxBodyBytes = 1 << 20

// HealthResponse is the body of GET /healthz.
type HealthResponse struct {
	Status    string `json:"status"`
	Documents int    `json:"documents"`
	Chunks    int    `json:"chunks"`
	Lexical   bool   `json:"lexical"`
	Semantic  bool   `json:"semantic"`
	Version   string `json:"version"`
}

// ErrorResponse wraps a structured error.
type ErrorResponse struct {
	Error amerrors.JSONError `json:"error"`
}

func (s *Server) handleSearchJSON(w http.ResponseWriter, r *http.Request) {
	var req search.Request
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil {
		s.respondError(w, r, amerrors.New(amerrors.ErrCodeInvalidInput, "invalid request body", err))
		return
	}
	s.search(w, r, req)
}

func (s *Server) handleSearchQuery(w http.ResponseWriter, r *http.Request) {
	req, err := requestFromQuery(r.URL.Query())
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	s.search(w, r, req)
}

func (s *Server) search(w http.ResponseWriter, r *http.Request, req search.Request) {
	reqID := middleware.GetReqID(r.Context())
	s.logger.Debug("http_search",
		slog.String("request_id", reqID),
		slog.String("query", req.Query),
		slog.String("mode", req.Mode))

	resp, err := s.engine.Search(r.Context(), req)
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	s.respondJSON(w, http.StatusOK, resp)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	stats, err := s.engine.Stats(r.Context())
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	status := "ok"
	if !stats.Lexical || !stats.Semantic {
		status = "degraded"
	}
	s.respondJSON(w, http.StatusOK, HealthResponse{
		Status:    status,
		Documents: stats.Documents,
		Chunks:    stats.Chunks,
		Lexical:   stats.Lexical,
		Semantic:  stats.Semantic,
		Version:   version.Version,
	})
}

// requestFromQuery maps GET parameters onto a search request. List
// parameters accept repeated keys and comma-separated values.
func requestFromQuery(v url.Values) (search.Request, error) {
	req := search.Request{
		Query:  v.Get("q"),
		Mode:   v.Get("mode"),
		Lang:   v.Get("lang"),
		Script: v.Get("script"),
		Fusion: v.Get("fusion"),
		Filter: filter.StrictFilter{
			RequiredTags:    list(v, "required_tags"),
			AnyTags:         list(v, "any_tags"),
			ExcludedTags:    list(v, "excluded_tags"),
			RequiredSchemes: list(v, "required_schemes"),
			ExcludedSchemes: list(v, "excluded_schemes"),
		},
	}

	var err error
	if req.Limit, err = intParam(v, "limit"); err != nil {
		return req, err
	}
	if req.Offset, err = intParam(v, "offset"); err != nil {
		return req, err
	}
	if raw := v.Get("min_score"); raw != "" {
		f, perr := strconv.ParseFloat(raw, 64)
		if perr != nil {
			return req, invalidParam("min_score", raw, perr)
		}
		req.MinScore = &f
	}
	if raw := v.Get("explain"); raw != "" {
		b, perr := strconv.ParseBool(raw)
		if perr != nil {
			return req, invalidParam("explain", raw, perr)
		}
		req.Explain = b
	}
	return req, nil
}

func intParam(v url.Values, key string) (int, error) {
	raw := v.Get(key)
	if raw == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, invalidParam(key, raw, err)
	}
	return n, nil
}

func invalidParam(key, raw string, cause error) error {
	return amerrors.New(amerrors.ErrCodeInvalidInput, fmt.Sprintf("invalid %s: %q", key, raw), cause)
}

func list(v url.Values, key string) []string {
	var out []string
	for _, raw := range v[key] {
		for _, part := range strings.Split(raw, ",") {
			if part = strings.TrimSpace(part); part != "" {
				out = append(out, part)
			}
		}
	}
	return out
}

// statusFor maps an error onto an HTTP status.
func statusFor(err error) int {
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	case errors.Is(err, context.Canceled):
		return http.StatusServiceUnavailable
	case amerrors.HasCode(err, amerrors.ErrCodeIndexNotFound):
		return http.StatusNotFound
	case amerrors.HasCode(err, amerrors.ErrCodeSearchFailed):
		return http.StatusServiceUnavailable
	}
	switch amerrors.GetCategory(err) {
	case amerrors.CategoryValidation:
		return http.StatusBadRequest
	case amerrors.CategoryProvider:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) respondJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func (s *Server) respondError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	level := slog.LevelWarn
	if status >= http.StatusInternalServerError {
		level = slog.LevelError
	}
	s.logger.Log(r.Context(), level, "http_request_failed",
		slog.String("request_id", middleware.GetReqID(r.Context())),
		slog.String("path", r.URL.Path),
		slog.Int("status", status),
		slog.String("error", err.Error()))
	s.respondJSON(w, status, ErrorResponse{Error: amerrors.ToJSONError(err)})
}
