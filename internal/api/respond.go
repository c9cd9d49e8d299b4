package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/gatescope/gatescope/internal/accounts"
	"github.com/gatescope/gatescope/internal/aiban"
	"github.com/gatescope/gatescope/internal/analytics"
	"github.com/gatescope/gatescope/internal/auth"
	"github.com/gatescope/gatescope/internal/logging"
	"github.com/gatescope/gatescope/internal/redemption"
	"github.com/gatescope/gatescope/internal/topup"
)

// Error codes of the response envelope.
const (
	codeInvalidParam = "INVALID_PARAM"
	codeNotFound     = "NOT_FOUND"
	codeUnauthorized = "UNAUTHORIZED"
	codeConflict     = "CONFLICT"
	codeRateLimit    = "RATE_LIMIT"
	codeUpstream     = "UPSTREAM_ERROR"
	codeDB           = "DB_ERROR"
	codeInternal     = "INTERNAL"
)

type envelope struct {
	Success bool           `json:"success"`
	Data    interface{}    `json:"data,omitempty"`
	Message string         `json:"message,omitempty"`
	Error   *envelopeError `json:"error,omitempty"`
}

type envelopeError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Detail  string `json:"detail,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		logging.Error("response encode failed", "error", err)
	}
}

func respondOK(w http.ResponseWriter, data interface{}) {
	writeJSON(w, http.StatusOK, envelope{Success: true, Data: data})
}

func respondMessage(w http.ResponseWriter, message string, data interface{}) {
	writeJSON(w, http.StatusOK, envelope{Success: true, Data: data, Message: message})
}

func respondError(w http.ResponseWriter, status int, code, message, detail string) {
	writeJSON(w, status, envelope{
		Success: false,
		Error:   &envelopeError{Code: code, Message: message, Detail: detail},
	})
}

// respondErr maps domain errors onto the envelope taxonomy.
func respondErr(w http.ResponseWriter, err error) {
	var rateLimited *auth.ErrRateLimited
	switch {
	case errors.Is(err, analytics.ErrInvalidParam),
		errors.Is(err, redemption.ErrInvalidParam):
		respondError(w, http.StatusBadRequest, codeInvalidParam, err.Error(), "")
	case errors.Is(err, analytics.ErrNotFound),
		errors.Is(err, topup.ErrNotFound),
		errors.Is(err, accounts.ErrNotFound):
		respondError(w, http.StatusNotFound, codeNotFound, err.Error(), "")
	case errors.Is(err, auth.ErrInvalidCredentials):
		respondError(w, http.StatusUnauthorized, codeUnauthorized, err.Error(), "")
	case errors.As(err, &rateLimited):
		writeJSON(w, http.StatusTooManyRequests, map[string]interface{}{
			"success":      false,
			"message":      "登录尝试过于频繁，请稍后再试",
			"error_type":   "rate_limit",
			"wait_seconds": rateLimited.WaitSeconds,
		})
	case errors.Is(err, topup.ErrAlreadyRefunded),
		errors.Is(err, aiban.ErrScanInProgress):
		respondError(w, http.StatusConflict, codeConflict, err.Error(), "")
	default:
		logging.Error("request failed", "error", err)
		respondError(w, http.StatusInternalServerError, codeInternal, "internal error", err.Error())
	}
}

func badRequest(w http.ResponseWriter, message string) {
	respondError(w, http.StatusBadRequest, codeInvalidParam, message, "")
}

// Query parameter helpers. Missing or malformed values fall back to the
// default; range validation stays in the engine.

func queryInt(r *http.Request, name string, def int) int {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return def
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return def
	}
	return v
}

func queryInt64(r *http.Request, name string, def int64) int64 {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return def
	}
	v, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return def
	}
	return v
}

func queryString(r *http.Request, name, def string) string {
	if v := r.URL.Query().Get(name); v != "" {
		return v
	}
	return def
}

func queryBool(r *http.Request, name string) bool {
	switch r.URL.Query().Get(name) {
	case "1", "true", "yes":
		return true
	}
	return false
}

func decodeBody(r *http.Request, out interface{}) error {
	defer r.Body.Close()
	dec := json.NewDecoder(r.Body)
	return dec.Decode(out)
}
