// Package api provides the HTTP query surface.
package api

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/Aman-CERP/amansearch/internal/search"
	"github.com/Aman-CERP/amansearch/internal/telemetry"
)

// shutdownTimeout bounds graceful shutdown when the serve context ends.
const shutdownTimeout = 10 * time.Second

// Server is the HTTP server for the search API.
type Server struct {
	engine  search.Searcher
	metrics *telemetry.Prometheus
	logger  *slog.Logger
	addr    string
	router  chi.Router
	server  *http.Server
}

// NewServer creates a server. metrics may be nil, in which case /metrics
// is not mounted.
func NewServer(engine search.Searcher, metrics *telemetry.Prometheus, addr string) (*Server, error) {
	if engine == nil {
		return nil, errors.New("search engine is required")
	}
	s := &Server{
		engine:  engine,
		metrics: metrics,
		logger:  slog.Default(),
		addr:    addr,
	}
	s.router = s.routes()
	return s, nil
}

func (s *Server) routes() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	if s.metrics != nil {
		r.Use(s.metrics.Middleware)
	}

	r.Route("/v1", func(r chi.Router) {
		r.Post("/search", s.handleSearchJSON)
		r.Get("/search", s.handleSearchQuery)
	})
	r.Get("/healthz", s.handleHealth)
	if s.metrics != nil {
		r.Method(http.MethodGet, "/metrics", s.metrics.Handler())
	}
	return r
}

// Handler returns the router, for tests and embedding.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Run serves until ctx is canceled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	s.server = &http.Server{
		Addr:              s.addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("http_server_starting", slog.String("addr", s.addr))
		errCh <- s.server.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		err := s.server.Shutdown(shutdownCtx)
		s.logger.Info("http_server_stopped")
		return err
	}
}
