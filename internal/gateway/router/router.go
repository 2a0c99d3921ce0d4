// Package router wires the public API routes and applies the middleware
// chain.
package router

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	gwmw "github.com/Adithya-Monish-Kumar-K/filmsearch/internal/gateway/middleware"
	"github.com/Adithya-Monish-Kumar-K/filmsearch/internal/gateway/ratelimit"
	"github.com/Adithya-Monish-Kumar-K/filmsearch/internal/searcher/handler"
	"github.com/Adithya-Monish-Kumar-K/filmsearch/pkg/config"
	"github.com/Adithya-Monish-Kumar-K/filmsearch/pkg/health"
	"github.com/Adithya-Monish-Kumar-K/filmsearch/pkg/metrics"
	pkgmw "github.com/Adithya-Monish-Kumar-K/filmsearch/pkg/middleware"
)

// New builds the HTTP handler for the API.
//
// Route table (a trailing slash is accepted on every route):
//
//	GET /                   → status check
//	GET /api/film/{type}    → film search, ?query= required
//	GET /api/aggs/movie     → movie count, mean duration, duration histogram
//	GET /api/aggs/show      → show count
//	GET /api/aggs           → catalog-wide top terms
//	GET /health/live        → liveness
//	GET /health/ready       → readiness (index, redis, postgres, kafka)
//
// Middleware chain (outermost first):
//
//	RequestID → RealIP → Metrics → Recoverer → StripSlashes → CORS → Timeout
//
// plus per-client rate limiting on /api when limiter is non-nil. m may be
// nil, in which case no HTTP metrics are recorded.
func New(h *handler.Handler, checker *health.Checker, m *metrics.Metrics, limiter *ratelimit.Limiter, cfg config.Config) http.Handler {
	r := chi.NewRouter()

	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	if m != nil {
		r.Use(pkgmw.Metrics(m))
	}
	r.Use(chimw.Recoverer)
	r.Use(chimw.StripSlashes)
	r.Use(gwmw.CORS(cfg.CORS))
	r.Use(pkgmw.Timeout(cfg.Server.RequestTimeout))

	r.NotFound(h.NotFound)
	r.MethodNotAllowed(h.MethodNotAllowed)

	r.Get("/", h.Root)

	r.Route("/api", func(r chi.Router) {
		if limiter != nil {
			r.Use(gwmw.RateLimit(limiter))
		}
		r.Get("/film/{type}", h.Film)
		r.Route("/aggs", func(r chi.Router) {
			r.Get("/", h.AllAggs)
			r.Get("/movie", h.MovieAggs)
			r.Get("/show", h.ShowAggs)
		})
	})

	r.Route("/health", func(r chi.Router) {
		r.Get("/live", checker.LiveHandler())
		r.Get("/ready", checker.ReadyHandler())
	})

	return r
}
