package handlers

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	apperrors "ctrader_gateway/internal/errors"
	"ctrader_gateway/internal/logger"
	"ctrader_gateway/internal/middleware"
	"ctrader_gateway/internal/models"
	"ctrader_gateway/internal/repository"
	"ctrader_gateway/internal/services"
)

// AnalyticsHandler serves journal and snapshot based account statistics.
// Store failures degrade to empty results, like the pool's read operations.
type AnalyticsHandler struct {
	analytics  *services.Analytics
	defaultEnv string
}

// NewAnalyticsHandler creates a new AnalyticsHandler.
func NewAnalyticsHandler(d *Dependencies) *AnalyticsHandler {
	return &AnalyticsHandler{analytics: d.Analytics, defaultEnv: d.DefaultEnvironment}
}

func (h *AnalyticsHandler) accountKey(w http.ResponseWriter, r *http.Request) (string, string, bool) {
	env := environmentOr(r.URL.Query().Get("environment"), h.defaultEnv)
	var errs middleware.ValidationErrors
	validateEnvironment(&errs, env)
	if errs.HasErrors() {
		errs.WriteJSON(w)
		return "", "", false
	}
	return chi.URLParam(r, "account_id"), env, true
}

// Metrics returns win/loss statistics over closed trades.
func (h *AnalyticsHandler) Metrics(w http.ResponseWriter, r *http.Request) {
	accountID, env, ok := h.accountKey(w, r)
	if !ok {
		return
	}

	metrics, err := h.analytics.Metrics(r.Context(), accountID, env)
	if err != nil {
		logger.ErrorWithErr(r.Context(), "Failed to get account metrics", err, "account", accountID)
		metrics = services.Metrics{}
	}
	writeJSON(w, http.StatusOK, metrics)
}

// Trades returns journal entries, ?days=30&limit=100.
func (h *AnalyticsHandler) Trades(w http.ResponseWriter, r *http.Request) {
	accountID, env, ok := h.accountKey(w, r)
	if !ok {
		return
	}
	days, err := queryInt(r, "days", 30)
	if err != nil {
		writeError(w, r, err)
		return
	}
	limit, err := queryInt(r, "limit", 100)
	if err != nil {
		writeError(w, r, err)
		return
	}

	history, err := h.analytics.TradeHistory(r.Context(), accountID, env, days, limit)
	if err != nil {
		logger.ErrorWithErr(r.Context(), "Failed to get trade history", err, "account", accountID)
		history = services.TradeHistory{Trades: []*models.Trade{}}
	}
	writeJSON(w, http.StatusOK, history)
}

// DailyGrowth returns per-day equity growth, ?days=30.
func (h *AnalyticsHandler) DailyGrowth(w http.ResponseWriter, r *http.Request) {
	accountID, env, ok := h.accountKey(w, r)
	if !ok {
		return
	}
	days, err := queryInt(r, "days", 30)
	if err != nil {
		writeError(w, r, err)
		return
	}

	growth, err := h.analytics.DailyGrowth(r.Context(), accountID, env, days)
	if err != nil {
		logger.ErrorWithErr(r.Context(), "Failed to get daily growth", err, "account", accountID)
		growth = []services.DailyGrowth{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"growth": growth})
}

// RiskStatus returns drawdown and risk level.
func (h *AnalyticsHandler) RiskStatus(w http.ResponseWriter, r *http.Request) {
	accountID, env, ok := h.accountKey(w, r)
	if !ok {
		return
	}

	status, err := h.analytics.RiskStatus(r.Context(), accountID, env)
	if err != nil {
		logger.ErrorWithErr(r.Context(), "Failed to get risk status", err, "account", accountID)
	}
	writeJSON(w, http.StatusOK, status)
}

// Journal returns a page of recorded trades, ?page=1&per_page=50&kind=open|close.
func (h *AnalyticsHandler) Journal(w http.ResponseWriter, r *http.Request) {
	accountID, env, ok := h.accountKey(w, r)
	if !ok {
		return
	}
	page, err := queryInt(r, "page", 1)
	if err != nil {
		writeError(w, r, err)
		return
	}
	perPage, err := queryInt(r, "per_page", repository.DefaultLimit)
	if err != nil {
		writeError(w, r, err)
		return
	}
	kind := r.URL.Query().Get("kind")
	if kind != "" && kind != models.TradeKindOpen && kind != models.TradeKindClose {
		writeError(w, r, apperrors.ValidationField("kind", "must be open or close"))
		return
	}

	result, err := h.analytics.Journal(r.Context(), accountID, env, kind, page, perPage)
	if err != nil {
		writeError(w, r, apperrors.Internal("listing journal", err))
		return
	}
	writeJSON(w, http.StatusOK, result)
}
