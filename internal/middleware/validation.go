package middleware

import (
	"encoding/json"
	"net/http"
	"regexp"
	"strings"

	"ctrader_gateway/internal/broker"
	"ctrader_gateway/internal/mapper"
)

// ValidationError represents a validation error.
type ValidationError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// ValidationErrors is a collection of validation errors.
type ValidationErrors struct {
	Errors []ValidationError `json:"errors"`
}

// Error implements the error interface.
func (v ValidationErrors) Error() string {
	if len(v.Errors) == 0 {
		return "validation failed"
	}
	var msgs []string
	for _, e := range v.Errors {
		msgs = append(msgs, e.Field+": "+e.Message)
	}
	return strings.Join(msgs, "; ")
}

// HasErrors returns true if there are validation errors.
func (v ValidationErrors) HasErrors() bool {
	return len(v.Errors) > 0
}

// Add adds a validation error.
func (v *ValidationErrors) Add(field, message string) {
	v.Errors = append(v.Errors, ValidationError{Field: field, Message: message})
}

// WriteJSON writes the validation errors as JSON response.
func (v ValidationErrors) WriteJSON(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusBadRequest)
	json.NewEncoder(w).Encode(v)
}

var symbolRegex = regexp.MustCompile(`^[A-Z0-9._]{2,20}$`)

// ValidateEnvironment accepts the two broker environments.
func ValidateEnvironment(env string) bool {
	return env == broker.EnvironmentDemo || env == broker.EnvironmentLive
}

// ValidateActionType accepts the neutral order action names.
func ValidateActionType(action string) bool {
	return mapper.IsActionType(action)
}

// ValidateSymbol checks the shape of a neutral symbol name.
func ValidateSymbol(symbol string) bool {
	return symbolRegex.MatchString(symbol)
}

// ValidateRequired checks if a string is non-empty.
func ValidateRequired(value string) bool {
	return strings.TrimSpace(value) != ""
}

// ValidatePositive checks if a float is positive.
func ValidatePositive(value float64) bool {
	return value > 0
}

// ValidateNonNegative checks if a float is non-negative.
func ValidateNonNegative(value float64) bool {
	return value >= 0
}

// SanitizeString trims whitespace and removes control characters.
func SanitizeString(s string) string {
	s = strings.TrimSpace(s)
	s = strings.Map(func(r rune) rune {
		if r < 32 && r != '\n' && r != '\r' && r != '\t' {
			return -1
		}
		return r
	}, s)
	return s
}
