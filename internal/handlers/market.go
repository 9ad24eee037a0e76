package handlers

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	apperrors "ctrader_gateway/internal/errors"
	"ctrader_gateway/internal/middleware"
	"ctrader_gateway/internal/pool"
)

// MarketHandler serves quotes, streaming control and the symbol mapping.
type MarketHandler struct {
	pool       *pool.Pool
	defaultEnv string
}

// NewMarketHandler creates a new MarketHandler.
func NewMarketHandler(d *Dependencies) *MarketHandler {
	return &MarketHandler{pool: d.Pool, defaultEnv: d.DefaultEnvironment}
}

// Price returns one quote, or 404 when none is available.
func (h *MarketHandler) Price(w http.ResponseWriter, r *http.Request) {
	symbol := chi.URLParam(r, "symbol")

	price := h.pool.GetPrice(r.Context(), symbol)
	if price == nil {
		writeError(w, r, apperrors.NotFound("Price"))
		return
	}
	writeJSON(w, http.StatusOK, price)
}

// Prices returns every available quote keyed by symbol.
func (h *MarketHandler) Prices(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.pool.GetAllPrices(r.Context()))
}

// InitializeStreaming opens a session for ?account_id=&environment=.
func (h *MarketHandler) InitializeStreaming(w http.ResponseWriter, r *http.Request) {
	accountID := r.URL.Query().Get("account_id")
	env := environmentOr(r.URL.Query().Get("environment"), h.defaultEnv)

	var errs middleware.ValidationErrors
	if !middleware.ValidateRequired(accountID) {
		errs.Add("account_id", "is required")
	}
	validateEnvironment(&errs, env)
	if errs.HasErrors() {
		errs.WriteJSON(w)
		return
	}

	success := h.pool.InitializeStreaming(r.Context(), accountID, env)
	writeJSON(w, http.StatusOK, map[string]bool{"success": success})
}

// SubscribeRequest is the body of POST /streaming/subscribe.
type SubscribeRequest struct {
	Symbol      string `json:"symbol"`
	AccountID   string `json:"account_id,omitempty"`
	Environment string `json:"environment,omitempty"`
}

// Subscribe asks for spot updates on a symbol, for one account or all.
func (h *MarketHandler) Subscribe(w http.ResponseWriter, r *http.Request) {
	var req SubscribeRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	req.Environment = environmentOr(req.Environment, h.defaultEnv)
	req.Symbol = strings.TrimSpace(req.Symbol)

	var errs middleware.ValidationErrors
	validateSymbol(&errs, req.Symbol)
	validateEnvironment(&errs, req.Environment)
	if errs.HasErrors() {
		errs.WriteJSON(w)
		return
	}

	success := h.pool.SubscribeSymbol(r.Context(), req.Symbol, req.AccountID, req.Environment)
	writeJSON(w, http.StatusOK, map[string]bool{"success": success})
}

// SymbolMapping returns the mapping entry of a neutral symbol.
func (h *MarketHandler) SymbolMapping(w http.ResponseWriter, r *http.Request) {
	symbol := chi.URLParam(r, "symbol")

	entry, ok := h.pool.Mapper().Symbols().ToVendor(symbol)
	if !ok {
		writeError(w, r, apperrors.NotFound("Symbol mapping"))
		return
	}
	writeJSON(w, http.StatusOK, entry)
}

// SymbolInfo returns the instrument specification of a symbol, with the
// latest quote when one is available.
func (h *MarketHandler) SymbolInfo(w http.ResponseWriter, r *http.Request) {
	symbol := chi.URLParam(r, "symbol")

	entry, ok := h.pool.Mapper().Symbols().ToVendor(symbol)
	if !ok {
		writeError(w, r, apperrors.UnknownSymbol(symbol))
		return
	}
	writeJSON(w, http.StatusOK, h.pool.Mapper().SymbolInfo(entry, h.pool.GetPrice(r.Context(), symbol)))
}

// AccountSymbols lists the symbols an account can trade.
func (h *MarketHandler) AccountSymbols(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string][]string{"symbols": h.pool.Mapper().Symbols().All()})
}
