package handlers

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"ctrader_gateway/internal/broker"
	apperrors "ctrader_gateway/internal/errors"
	"ctrader_gateway/internal/logger"
	"ctrader_gateway/internal/middleware"
	"ctrader_gateway/internal/pool"
	"ctrader_gateway/internal/repository"
	"ctrader_gateway/internal/services"
)

// CredentialHandler stores and removes broker credentials.
type CredentialHandler struct {
	vault      *services.CredentialVault
	pool       *pool.Pool
	defaultEnv string
}

// NewCredentialHandler creates a new CredentialHandler.
func NewCredentialHandler(d *Dependencies) *CredentialHandler {
	return &CredentialHandler{vault: d.Vault, pool: d.Pool, defaultEnv: d.DefaultEnvironment}
}

// CredentialRequest is the body of PUT /accounts/{account_id}/credentials.
type CredentialRequest struct {
	Environment   string `json:"environment"`
	CTIDAccountID int64  `json:"ctid_account_id"`
	AccessToken   string `json:"access_token"`
}

// Store encrypts and saves credentials and drops the pooled session so the
// next request connects with them.
func (h *CredentialHandler) Store(w http.ResponseWriter, r *http.Request) {
	accountID := chi.URLParam(r, "account_id")

	var req CredentialRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	req.Environment = environmentOr(req.Environment, h.defaultEnv)

	var errs middleware.ValidationErrors
	validateEnvironment(&errs, req.Environment)
	if req.CTIDAccountID <= 0 {
		errs.Add("ctid_account_id", "must be a positive integer")
	}
	if !middleware.ValidateRequired(req.AccessToken) {
		errs.Add("access_token", "is required")
	}
	if errs.HasErrors() {
		errs.WriteJSON(w)
		return
	}

	creds := broker.Credentials{AccessToken: req.AccessToken, CTIDAccountID: req.CTIDAccountID}
	if err := h.vault.Store(r.Context(), accountID, req.Environment, creds); err != nil {
		writeError(w, r, apperrors.Internal("storing credentials", err))
		return
	}

	h.pool.Remove(r.Context(), accountID, req.Environment)
	logger.Info(r.Context(), "Credentials stored", "account", accountID, "environment", req.Environment)
	writeJSON(w, http.StatusOK, map[string]any{
		"success":     true,
		"account_id":  accountID,
		"environment": req.Environment,
	})
}

// Delete removes credentials for ?environment=.
func (h *CredentialHandler) Delete(w http.ResponseWriter, r *http.Request) {
	accountID := chi.URLParam(r, "account_id")
	env := environmentOr(r.URL.Query().Get("environment"), h.defaultEnv)
	var errs middleware.ValidationErrors
	validateEnvironment(&errs, env)
	if errs.HasErrors() {
		errs.WriteJSON(w)
		return
	}

	err := h.vault.Delete(r.Context(), accountID, env)
	if errors.Is(err, repository.ErrCredentialNotFound) {
		writeError(w, r, apperrors.NotFound("Credentials"))
		return
	}
	if err != nil {
		writeError(w, r, apperrors.Internal("deleting credentials", err))
		return
	}

	h.pool.Remove(r.Context(), accountID, env)
	logger.Info(r.Context(), "Credentials deleted", "account", accountID, "environment", env)
	writeJSON(w, http.StatusOK, map[string]bool{"success": true})
}
