package telemetry

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	amanerrors "github.com/Aman-CERP/amansearch/internal/errors"
)

const namespace = "amansearch"

// Prometheus holds the search, embedding and HTTP collectors on a private
// registry, so several engines or tests can coexist in one process.
type Prometheus struct {
	registry *prometheus.Registry

	searchTotal      *prometheus.CounterVec
	searchDuration   *prometheus.HistogramVec
	searchResults    prometheus.Histogram
	branchDegraded   *prometheus.CounterVec
	branchCandidates *prometheus.HistogramVec

	embeddingTotal    *prometheus.CounterVec
	embeddingDuration *prometheus.HistogramVec
	circuitState      *prometheus.GaugeVec

	httpTotal    *prometheus.CounterVec
	httpDuration *prometheus.HistogramVec
}

// NewPrometheus creates and registers all collectors, plus the Go runtime
// and process collectors.
func NewPrometheus() *Prometheus {
	p := &Prometheus{
		registry: prometheus.NewRegistry(),
		searchTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "search_queries_total",
			Help:      "Total number of search queries",
		}, []string{"mode", "strategy", "status"}),
		searchDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "search_duration_seconds",
			Help:      "End-to-end search latency in seconds",
			Buckets:   []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5},
		}, []string{"mode"}),
		searchResults: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "search_results",
			Help:      "Number of results returned per query",
			Buckets:   []float64{0, 1, 5, 10, 20, 50, 100},
		}),
		branchDegraded: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "search_branch_degraded_total",
			Help:      "Queries where a search branch returned no usable result",
		}, []string{"branch"}),
		branchCandidates: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "search_branch_candidates",
			Help:      "Candidates produced per branch",
			Buckets:   []float64{0, 1, 10, 25, 50, 100, 250},
		}, []string{"branch"}),
		embeddingTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "embedding_requests_total",
			Help:      "Total number of embedding requests",
		}, []string{"model", "status"}),
		embeddingDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "embedding_request_duration_seconds",
			Help:      "Embedding request duration in seconds",
			Buckets:   []float64{0.005, 0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
		}, []string{"model"}),
		circuitState: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "embedding_circuit_state",
			Help:      "Embedding circuit breaker state: 0 closed, 1 open, 2 half-open",
		}, []string{"breaker"}),
		httpTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "Total number of HTTP requests",
		}, []string{"method", "path", "status"}),
		httpDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request duration in seconds",
			Buckets:   []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
		}, []string{"method", "path", "status"}),
	}

	p.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		p.searchTotal, p.searchDuration, p.searchResults,
		p.branchDegraded, p.branchCandidates,
		p.embeddingTotal, p.embeddingDuration, p.circuitState,
		p.httpTotal, p.httpDuration,
	)
	return p
}

// Registry returns the private registry.
func (p *Prometheus) Registry() *prometheus.Registry { return p.registry }

// Handler serves the registry in the Prometheus exposition format.
func (p *Prometheus) Handler() http.Handler {
	return promhttp.HandlerFor(p.registry, promhttp.HandlerOpts{Registry: p.registry})
}

// ObserveQuery records a completed query.
func (p *Prometheus) ObserveQuery(e QueryEvent) {
	p.searchTotal.WithLabelValues(e.Mode, e.Strategy, "ok").Inc()
	p.searchDuration.WithLabelValues(e.Mode).Observe(e.Latency.Seconds())
	p.searchResults.Observe(float64(e.ResultCount))
	for _, b := range e.Degraded {
		p.branchDegraded.WithLabelValues(b).Inc()
	}
}

// ObserveFailure records a query that failed as a whole.
func (p *Prometheus) ObserveFailure(mode string, latency time.Duration) {
	p.searchTotal.WithLabelValues(mode, "", "error").Inc()
	p.searchDuration.WithLabelValues(mode).Observe(latency.Seconds())
}

// ObserveBranch records the candidate count of one branch.
func (p *Prometheus) ObserveBranch(branch string, candidates int) {
	p.branchCandidates.WithLabelValues(branch).Observe(float64(candidates))
}

// ObserveEmbedding records one provider call.
func (p *Prometheus) ObserveEmbedding(model string, d time.Duration, err error) {
	status := "ok"
	if err != nil {
		status = "error"
	}
	p.embeddingTotal.WithLabelValues(model, status).Inc()
	p.embeddingDuration.WithLabelValues(model).Observe(d.Seconds())
}

// ObserveCircuit records a breaker's current state.
func (p *Prometheus) ObserveCircuit(breaker string, state amanerrors.State) {
	p.circuitState.WithLabelValues(breaker).Set(float64(state))
}

// Middleware records HTTP request duration and count by chi route pattern.
func (p *Prometheus) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(ww, r)

		path := "unknown"
		if rctx := chi.RouteContext(r.Context()); rctx != nil && rctx.RoutePattern() != "" {
			path = rctx.RoutePattern()
		}
		status := strconv.Itoa(ww.status)
		p.httpDuration.WithLabelValues(r.Method, path, status).Observe(time.Since(start).Seconds())
		p.httpTotal.WithLabelValues(r.Method, path, status).Inc()
	})
}

// statusWriter captures the response status code.
type statusWriter struct {
	http.ResponseWriter
	status      int
	wroteHeader bool
}

func (w *statusWriter) WriteHeader(status int) {
	if !w.wroteHeader {
		w.status = status
		w.wroteHeader = true
	}
	w.ResponseWriter.WriteHeader(status)
}

func (w *statusWriter) Write(b []byte) (int, error) {
	w.wroteHeader = true
	return w.ResponseWriter.Write(b)
}
