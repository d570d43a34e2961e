package gateway

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/url"

	"github.com/flemzord/insightd/internal/cron"
	"github.com/flemzord/insightd/internal/insight"
	"github.com/go-chi/chi/v5"
)

// handleListJobs returns the scheduler's job status.
func (g *Gateway) handleListJobs() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		jobs := []cron.JobStatus{}
		if g.jobs != nil {
			jobs = append(jobs, g.jobs.Jobs(r.Context())...)
		}
		writeJSON(w, http.StatusOK, jobs)
	}
}

// handleListInsights returns every stored industry record.
func (g *Gateway) handleListInsights() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if g.insights == nil {
			writeError(w, http.StatusServiceUnavailable, "insight store not available")
			return
		}
		records, err := g.insights.List(r.Context())
		if err != nil {
			g.logger.Error("gateway: list insights failed", "error", err)
			writeError(w, http.StatusInternalServerError, "failed to list insights")
			return
		}
		if records == nil {
			records = []insight.Record{}
		}
		writeJSON(w, http.StatusOK, records)
	}
}

// handleGetInsight returns one industry record.
func (g *Gateway) handleGetInsight() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if g.insights == nil {
			writeError(w, http.StatusServiceUnavailable, "insight store not available")
			return
		}
		industry := chi.URLParam(r, "industry")
		if unescaped, err := url.PathUnescape(industry); err == nil {
			industry = unescaped
		}
		rec, err := g.insights.Get(r.Context(), industry)
		switch {
		case errors.Is(err, insight.ErrIndustryNotFound):
			writeError(w, http.StatusNotFound, "industry not found")
		case err != nil:
			g.logger.Error("gateway: get insight failed", "industry", industry, "error", err)
			writeError(w, http.StatusInternalServerError, "failed to load insight")
		default:
			writeJSON(w, http.StatusOK, rec)
		}
	}
}

// writeJSON encodes v as JSON with the given status code.
func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, map[string]string{"error": msg})
}
