// Package handler serves the film search and aggregation endpoints.
package handler

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5/middleware"

	"github.com/Adithya-Monish-Kumar-K/filmsearch/internal/analytics"
	"github.com/Adithya-Monish-Kumar-K/filmsearch/internal/searcher/cache"
	"github.com/Adithya-Monish-Kumar-K/filmsearch/pkg/elastic"
	apperrors "github.com/Adithya-Monish-Kumar-K/filmsearch/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/filmsearch/pkg/logger"
	"github.com/Adithya-Monish-Kumar-K/filmsearch/pkg/metrics"
)

// Searcher runs a _search request. *elastic.Client satisfies it.
type Searcher interface {
	Search(ctx context.Context, body any) (*elastic.SearchResponse, error)
}

type Handler struct {
	index      Searcher
	cache      *cache.ResponseCache
	collector  *analytics.Collector
	metrics    *metrics.Metrics
	resultSize int
	logger     *slog.Logger
}

// New builds a Handler. The cache and collector may be nil.
func New(index Searcher, responseCache *cache.ResponseCache, collector *analytics.Collector, m *metrics.Metrics, resultSize int) *Handler {
	return &Handler{
		index:      index,
		cache:      responseCache,
		collector:  collector,
		metrics:    m,
		resultSize: resultSize,
		logger:     slog.Default().With("component", "search-handler"),
	}
}

// Root answers the bare status check.
func (h *Handler) Root(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *Handler) NotFound(w http.ResponseWriter, r *http.Request) {
	h.writeError(w, http.StatusNotFound, "not found")
}

func (h *Handler) MethodNotAllowed(w http.ResponseWriter, r *http.Request) {
	h.writeError(w, http.StatusMethodNotAllowed, "method not allowed")
}

// search runs body against the index and records its latency under endpoint.
func (h *Handler) search(ctx context.Context, endpoint string, body any) (*elastic.SearchResponse, error) {
	start := time.Now()
	res, err := h.index.Search(ctx, body)
	if h.metrics != nil {
		h.metrics.SearchLatency.WithLabelValues(endpoint).Observe(time.Since(start).Seconds())
	}
	return res, err
}

func (h *Handler) track(r *http.Request, ev analytics.SearchEvent, start time.Time) {
	ev.LatencyMs = time.Since(start).Milliseconds()
	ev.RequestID = middleware.GetReqID(r.Context())
	h.collector.Track(ev)
}

// fail logs err and writes the matching status. Details of index failures
// stay in the log.
func (h *Handler) fail(w http.ResponseWriter, r *http.Request, msg string, err error) {
	status := apperrors.HTTPStatusCode(err)
	logger.FromContext(r.Context()).Error(msg, "error", err, "status_code", status)
	h.writeError(w, status, msg)
}

func (h *Handler) writeRaw(w http.ResponseWriter, status int, body json.RawMessage) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if _, err := w.Write(body); err != nil {
		h.logger.Error("failed to write response", "error", err)
		return
	}
	w.Write([]byte("\n"))
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.logger.Error("failed to write response", "error", err)
	}
}

func (h *Handler) writeError(w http.ResponseWriter, status int, message string) {
	h.writeJSON(w, status, map[string]string{"error": message})
}
