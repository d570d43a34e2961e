package gateway

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

// buildRouter constructs the chi mux with all routes wired.
func (g *Gateway) buildRouter() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	// Public, no auth required.
	r.Get("/health", g.handleHealth())
	r.Method(http.MethodGet, "/metrics", g.metrics.Handler())

	r.Route("/api", func(r chi.Router) {
		if g.config.Auth.IsConfigured() {
			r.Use(authMiddleware(g.config.Auth, g.logger))
		}
		r.Get("/jobs", g.handleListJobs())
		r.Get("/insights", g.handleListInsights())
		r.Get("/insights/{industry}", g.handleGetInsight())
	})

	return r
}
