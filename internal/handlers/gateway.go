package handlers

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	apperrors "ctrader_gateway/internal/errors"
	"ctrader_gateway/internal/mapper"
	"ctrader_gateway/internal/middleware"
	"ctrader_gateway/internal/pool"
)

// GatewayHandler serves account queries and trading operations from the pool.
type GatewayHandler struct {
	pool       *pool.Pool
	defaultEnv string
}

// NewGatewayHandler creates a new GatewayHandler.
func NewGatewayHandler(d *Dependencies) *GatewayHandler {
	return &GatewayHandler{pool: d.Pool, defaultEnv: d.DefaultEnvironment}
}

// accountKey reads {account_id} and ?environment=.
func (h *GatewayHandler) accountKey(r *http.Request) (string, string, error) {
	accountID := chi.URLParam(r, "account_id")
	env := environmentOr(r.URL.Query().Get("environment"), h.defaultEnv)
	if !middleware.ValidateEnvironment(env) {
		return "", "", apperrors.ValidationField("environment", "must be demo or live")
	}
	return accountID, env, nil
}

// Account returns account info, or 404 when it cannot be fetched.
func (h *GatewayHandler) Account(w http.ResponseWriter, r *http.Request) {
	accountID, env, err := h.accountKey(r)
	if err != nil {
		writeError(w, r, err)
		return
	}

	info := h.pool.GetAccountInfo(r.Context(), accountID, env)
	if info == nil {
		writeError(w, r, apperrors.NotFound("Account"))
		return
	}
	writeJSON(w, http.StatusOK, info)
}

// Positions lists open positions.
func (h *GatewayHandler) Positions(w http.ResponseWriter, r *http.Request) {
	accountID, env, err := h.accountKey(r)
	if err != nil {
		writeError(w, r, err)
		return
	}

	positions := h.pool.GetPositions(r.Context(), accountID, env)
	writeJSON(w, http.StatusOK, map[string]any{
		"positions": positions,
		"count":     len(positions),
	})
}

// Orders lists pending orders.
func (h *GatewayHandler) Orders(w http.ResponseWriter, r *http.Request) {
	accountID, env, err := h.accountKey(r)
	if err != nil {
		writeError(w, r, err)
		return
	}

	orders := h.pool.GetOrders(r.Context(), accountID, env)
	writeJSON(w, http.StatusOK, map[string]any{
		"orders": orders,
		"count":  len(orders),
	})
}

// TradeRequest is the body of POST /trade/execute.
type TradeRequest struct {
	AccountID   string `json:"account_id"`
	Environment string `json:"environment"`
	mapper.TradeRequest
}

// ExecuteTrade submits an order. Rejections by the pool are reported with
// success false and status 200.
func (h *GatewayHandler) ExecuteTrade(w http.ResponseWriter, r *http.Request) {
	var req TradeRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	req.Environment = environmentOr(req.Environment, h.defaultEnv)
	req.Symbol = strings.TrimSpace(req.Symbol)
	req.Comment = middleware.SanitizeString(req.Comment)

	var errs middleware.ValidationErrors
	if !middleware.ValidateRequired(req.AccountID) {
		errs.Add("account_id", "is required")
	}
	validateEnvironment(&errs, req.Environment)
	validateSymbol(&errs, req.Symbol)
	if !middleware.ValidateActionType(req.ActionType) {
		errs.Add("actionType", "must be one of "+strings.Join(mapper.ActionTypes(), ", "))
	}
	if !middleware.ValidatePositive(req.Volume) {
		errs.Add("volume", "must be greater than zero")
	}
	if errs.HasErrors() {
		errs.WriteJSON(w)
		return
	}

	result := h.pool.ExecuteTrade(r.Context(), req.AccountID, req.Environment, req.TradeRequest)
	writeJSON(w, http.StatusOK, result)
}

// PositionRequest is the body of the position modify and close routes.
type PositionRequest struct {
	AccountID   string   `json:"account_id"`
	Environment string   `json:"environment"`
	PositionID  string   `json:"position_id"`
	StopLoss    *float64 `json:"stop_loss,omitempty"`
	TakeProfit  *float64 `json:"take_profit,omitempty"`
}

func (h *GatewayHandler) decodePosition(w http.ResponseWriter, r *http.Request) (PositionRequest, bool) {
	var req PositionRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, err)
		return req, false
	}
	req.Environment = environmentOr(req.Environment, h.defaultEnv)

	var errs middleware.ValidationErrors
	if !middleware.ValidateRequired(req.AccountID) {
		errs.Add("account_id", "is required")
	}
	validateEnvironment(&errs, req.Environment)
	if !middleware.ValidateRequired(req.PositionID) {
		errs.Add("position_id", "is required")
	}
	if req.StopLoss != nil && !middleware.ValidateNonNegative(*req.StopLoss) {
		errs.Add("stop_loss", "must not be negative")
	}
	if req.TakeProfit != nil && !middleware.ValidateNonNegative(*req.TakeProfit) {
		errs.Add("take_profit", "must not be negative")
	}
	if errs.HasErrors() {
		errs.WriteJSON(w)
		return req, false
	}
	return req, true
}

// ModifyPosition amends stop loss and take profit.
func (h *GatewayHandler) ModifyPosition(w http.ResponseWriter, r *http.Request) {
	req, ok := h.decodePosition(w, r)
	if !ok {
		return
	}
	success := h.pool.ModifyPosition(r.Context(), req.AccountID, req.Environment, req.PositionID, req.StopLoss, req.TakeProfit)
	writeJSON(w, http.StatusOK, map[string]bool{"success": success})
}

// ClosePosition closes a position.
func (h *GatewayHandler) ClosePosition(w http.ResponseWriter, r *http.Request) {
	req, ok := h.decodePosition(w, r)
	if !ok {
		return
	}
	success := h.pool.ClosePosition(r.Context(), req.AccountID, req.Environment, req.PositionID)
	writeJSON(w, http.StatusOK, map[string]bool{"success": success})
}
