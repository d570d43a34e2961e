package gateway

import (
	"context"
	"encoding/json"
	"net/http"
	"time"
)

// HealthResponse is the JSON response for GET /health.
type HealthResponse struct {
	Status   string `json:"status"` // "ok" or "degraded"
	Database string `json:"database"`
	Uptime   int64  `json:"uptime_seconds"`
	Error    string `json:"error,omitempty"`
}

// handleHealth returns an http.HandlerFunc for GET /health.
// Returns 200 when the database answers a ping, 503 otherwise.
func (g *Gateway) handleHealth() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		resp := HealthResponse{
			Status:   "ok",
			Database: "ok",
			Uptime:   int64(time.Since(g.startedAt).Seconds()),
		}

		if g.db == nil {
			resp.Status = "degraded"
			resp.Database = "unavailable"
		} else {
			ctx, cancel := context.WithTimeout(r.Context(), g.config.HealthTimeout)
			defer cancel()
			if err := g.db.PingContext(ctx); err != nil {
				resp.Status = "degraded"
				resp.Database = "unreachable"
				resp.Error = err.Error()
				g.logger.Warn("gateway: database ping failed", "error", err)
			}
		}

		w.Header().Set("Content-Type", "application/json")
		if resp.Status == "degraded" {
			w.WriteHeader(http.StatusServiceUnavailable)
		}
		_ = json.NewEncoder(w).Encode(resp)
	}
}
