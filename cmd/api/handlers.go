package main

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/WessleyAI/medknowledge/engine/domain"
	"github.com/WessleyAI/medknowledge/engine/ingest"
	"github.com/WessleyAI/medknowledge/engine/retrieval"
	"github.com/WessleyAI/medknowledge/pkg/metrics"
	"github.com/WessleyAI/medknowledge/pkg/resilience"
)

// server holds the HTTP surface. A nil svc means the knowledge base never
// loaded: health reports an error and searches answer 503.
type server struct {
	svc         *retrieval.Service
	serviceName string
	log         *slog.Logger
	reg         *metrics.Registry

	entries  *metrics.Gauge
	requests *metrics.Counter
	results  *metrics.Counter
	latency  *metrics.Histogram
}

func newServer(svc *retrieval.Service, serviceName string, reg *metrics.Registry, log *slog.Logger) *server {
	if reg == nil {
		reg = metrics.New()
	}
	if log == nil {
		log = slog.Default()
	}
	return &server{
		svc:         svc,
		serviceName: serviceName,
		log:         log,
		reg:         reg,
		entries:     reg.Gauge(metrics.IndexEntries, "Records in the knowledge index"),
		requests:    reg.Counter(metrics.SearchRequests, "Search requests"),
		results:     reg.Counter(metrics.SearchResults, "Results returned by searches"),
		latency:     reg.Histogram(metrics.SearchLatencySeconds, "Search latency", nil),
	}
}

func (s *server) routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("POST /search", s.handleSearchPost)
	mux.HandleFunc("GET /search", s.handleSearchGet)
	mux.Handle("GET /metrics", s.reg.Handler())
	return mux
}

// SearchRequest is the JSON body for POST /search.
type SearchRequest struct {
	Query string `json:"query"`
	TopK  *int   `json:"top_k,omitempty"`
}

type healthResponse struct {
	Status  string `json:"status"`
	Service string `json:"service,omitempty"`
	Entries *int   `json:"entries,omitempty"`
	Message string `json:"message,omitempty"`
}

func (s *server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if s.svc == nil {
		writeJSON(w, http.StatusOK, healthResponse{Status: "error", Message: "Knowledge base not loaded"})
		return
	}
	n, err := s.svc.Count(r.Context())
	if err != nil {
		s.log.Error("health: count failed", "err", err)
		writeJSON(w, http.StatusOK, healthResponse{Status: "error", Message: err.Error()})
		return
	}
	s.entries.Set(int64(n))
	writeJSON(w, http.StatusOK, healthResponse{Status: "healthy", Service: s.serviceName, Entries: &n})
}

func (s *server) handleSearchPost(w http.ResponseWriter, r *http.Request) {
	var req SearchRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20)).Decode(&req); err != nil {
		s.fail(w, http.StatusBadRequest, "invalid request body")
		return
	}
	topK := retrieval.DefaultTopK
	if req.TopK != nil {
		topK = *req.TopK
	}
	s.search(w, r, req.Query, topK)
}

func (s *server) handleSearchGet(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	if !q.Has("query") {
		s.fail(w, http.StatusBadRequest, "query parameter is required")
		return
	}
	topK := retrieval.DefaultTopK
	if v := q.Get("top_k"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			s.fail(w, http.StatusBadRequest, "top_k must be an integer")
			return
		}
		topK = n
	}
	s.search(w, r, q.Get("query"), topK)
}

func (s *server) search(w http.ResponseWriter, r *http.Request, query string, topK int) {
	start := time.Now()
	s.requests.Inc()
	defer s.latency.Since(start)

	if s.svc == nil {
		s.fail(w, http.StatusServiceUnavailable, "Knowledge base not ready")
		return
	}
	resp, err := s.svc.Search(r.Context(), query, topK)
	switch {
	case err == nil:
	case errors.Is(err, domain.ErrInvalidQuery):
		s.fail(w, http.StatusBadRequest, "Query too short")
		return
	case errors.Is(err, domain.ErrServiceNotReady):
		s.fail(w, http.StatusServiceUnavailable, "Knowledge base not ready")
		return
	case errors.Is(err, resilience.ErrCircuitOpen):
		s.fail(w, http.StatusServiceUnavailable, "Embedding service unavailable")
		return
	default:
		s.log.Error("search failed", "err", err)
		s.fail(w, http.StatusInternalServerError, "search failed")
		return
	}
	s.results.Add(int64(resp.TotalFound))
	writeJSON(w, http.StatusOK, resp)
}

// onIngestCompleted refreshes the entries gauge after a rebuild.
func (s *server) onIngestCompleted(ctx context.Context, ev ingest.CompletedEvent) {
	s.log.Info("ingest completed", "collection", ev.Collection, "accepted", ev.Stats.Accepted, "count", ev.Count)
	if s.svc == nil {
		return
	}
	n, err := s.svc.Count(ctx)
	if err != nil {
		s.log.Warn("refresh entries", "err", err)
		return
	}
	s.entries.Set(int64(n))
}

func (s *server) fail(w http.ResponseWriter, code int, detail string) {
	s.reg.Counter(metrics.WithLabels(metrics.SearchErrors, "code", strconv.Itoa(code)), "Failed searches").Inc()
	writeJSON(w, code, map[string]string{"detail": detail})
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}
