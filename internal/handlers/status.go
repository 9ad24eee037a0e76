package handlers

import (
	"context"
	"net/http"
	"time"

	"ctrader_gateway/internal/database"
	"ctrader_gateway/internal/logger"
	"ctrader_gateway/internal/pool"
)

const serviceName = "cTrader Connection Pool"

// Endpoints is the route list reported by the root endpoint.
var Endpoints = []string{
	"/health",
	"/account/{account_id}",
	"/positions/{account_id}",
	"/orders/{account_id}",
	"/trade/execute",
	"/position/modify",
	"/position/close",
	"/streaming/initialize",
	"/streaming/subscribe",
	"/prices/{symbol}",
	"/prices",
	"/pool/stats",
	"/accounts/summary",
	"/symbols/mapping/{symbol}",
	"/symbols/{symbol}",
	"/accounts/{account_id}/symbols",
	"/accounts/{account_id}/metrics",
	"/accounts/{account_id}/trades",
	"/accounts/{account_id}/journal",
	"/accounts/{account_id}/daily-growth",
	"/accounts/{account_id}/risk-status",
	"/accounts/{account_id}/credentials",
}

// StatusHandler serves service metadata, health and pool statistics.
type StatusHandler struct {
	pool    *pool.Pool
	db      *database.DB
	version string
	now     func() time.Time
}

// NewStatusHandler creates a new StatusHandler.
func NewStatusHandler(d *Dependencies) *StatusHandler {
	return &StatusHandler{pool: d.Pool, db: d.DB, version: d.Version, now: d.Now}
}

// Root describes the service.
func (h *StatusHandler) Root(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"service":   serviceName + " API",
		"version":   h.version,
		"endpoints": Endpoints,
	})
}

// Health reports pool statistics, or 503 when the store is unreachable.
func (h *StatusHandler) Health(w http.ResponseWriter, r *http.Request) {
	timestamp := h.now().UTC().Format(time.RFC3339)

	if h.db != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := h.db.Health(ctx); err != nil {
			logger.Warn(r.Context(), "Health check failed", "error", err)
			writeJSON(w, http.StatusServiceUnavailable, map[string]any{
				"status":    "unhealthy",
				"error":     "database unavailable",
				"timestamp": timestamp,
			})
			return
		}
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"status":    "healthy",
		"service":   serviceName,
		"stats":     h.pool.Stats(),
		"timestamp": timestamp,
	})
}

// Stats returns the pool counters.
func (h *StatusHandler) Stats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.pool.Stats())
}

// AccountsSummary returns balance and equity of every connected account.
func (h *StatusHandler) AccountsSummary(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.pool.AccountsSummary(r.Context()))
}
