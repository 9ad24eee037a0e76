// Package handlers provides the HTTP handlers of the gateway.
package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"

	apperrors "ctrader_gateway/internal/errors"
	"ctrader_gateway/internal/logger"
	"ctrader_gateway/internal/middleware"
)

// maxBodyBytes bounds JSON request bodies.
const maxBodyBytes = 1 << 20

// writeJSON encodes v with the given status.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.Warn(context.Background(), "Encoding response failed", "error", err)
	}
}

// writeError maps err to a status and writes {"error": message}. Internal
// errors are logged and their cause is not exposed.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := apperrors.HTTPStatus(err)
	message := err.Error()

	var appErr *apperrors.AppError
	if errors.As(err, &appErr) {
		message = appErr.Message
	}
	if status >= http.StatusInternalServerError {
		logger.ErrorWithErr(r.Context(), "Request failed", err, "path", r.URL.Path)
		if appErr == nil {
			message = "internal error"
		}
	}
	writeJSON(w, status, map[string]string{"error": message})
}

// decodeJSON reads a JSON body into v.
func decodeJSON(r *http.Request, v any) error {
	body := io.LimitReader(r.Body, maxBodyBytes)
	if err := json.NewDecoder(body).Decode(v); err != nil {
		return apperrors.Validation("invalid JSON body: " + err.Error())
	}
	return nil
}

// environmentOr returns env, or the fallback when env is blank.
func environmentOr(env, fallback string) string {
	if env = strings.TrimSpace(env); env != "" {
		return env
	}
	return fallback
}

// queryInt reads a positive integer query parameter, or def when absent.
func queryInt(r *http.Request, name string, def int) (int, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return def, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n <= 0 {
		return 0, apperrors.ValidationField(name, name+" must be a positive integer")
	}
	return n, nil
}

// validateEnvironment adds an error for an unknown environment.
func validateEnvironment(errs *middleware.ValidationErrors, env string) {
	if !middleware.ValidateEnvironment(env) {
		errs.Add("environment", "must be demo or live")
	}
}

// validateSymbol adds an error for a missing or malformed symbol name.
func validateSymbol(errs *middleware.ValidationErrors, symbol string) {
	switch {
	case !middleware.ValidateRequired(symbol):
		errs.Add("symbol", "is required")
	case !middleware.ValidateSymbol(symbol):
		errs.Add("symbol", "must be 2-20 characters of A-Z, 0-9, '.' or '_'")
	}
}
