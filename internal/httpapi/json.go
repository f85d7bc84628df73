// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Appraise Contributors

package httpapi

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/appraise-dev/appraise/internal/auth"
)

// maxBodyBytes caps request bodies; auth payloads are tiny.
const maxBodyBytes = 1 << 16

// errorResponse is the JSON error envelope.
type errorResponse struct {
	Error string `json:"error"`
}

// readJSON decodes the request body into v, rejecting unknown fields and
// oversized bodies.
func readJSON(r *http.Request, v any) error {
	r.Body = http.MaxBytesReader(nil, r.Body, maxBodyBytes)
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return err //nolint:wrapcheck // Handlers answer 400 for any decode failure
	}
	// Trailing garbage after the JSON value is also a malformed request.
	if err := dec.Decode(&struct{}{}); !errors.Is(err, io.EOF) {
		return errors.New("unexpected data after JSON body")
	}
	return nil
}

// writeJSON encodes v with the given status.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Warn("response encode failed", "error", err)
	}
}

// writeError maps a core auth error to its HTTP status and a terse message
// that never leaks which failure occurred inside the credential path.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	status, message := statusFor(err)
	if status == http.StatusInternalServerError {
		slog.ErrorContext(r.Context(), "request failed",
			"method", r.Method,
			"path", r.URL.Path,
			"error", err,
		)
	}
	writeJSON(w, status, errorResponse{Error: message})
}

// statusFor implements the error taxonomy to status code mapping.
func statusFor(err error) (int, string) {
	switch {
	case errors.Is(err, auth.ErrStorageUnavailable):
		return http.StatusServiceUnavailable, "service temporarily unavailable"
	case errors.Is(err, auth.ErrInvalidCredentials):
		return http.StatusUnauthorized, "invalid email or password"
	case errors.Is(err, auth.ErrInvalidSession):
		return http.StatusUnauthorized, "not authenticated"
	case errors.Is(err, auth.ErrDuplicateEmail):
		return http.StatusConflict, "email already registered"
	case errors.Is(err, auth.ErrCodeExpired):
		return http.StatusGone, "verification code expired"
	case errors.Is(err, auth.ErrCodeMismatch), errors.Is(err, auth.ErrCodeConsumed):
		return http.StatusUnprocessableEntity, "invalid verification code"
	case errors.Is(err, auth.ErrNotFound):
		return http.StatusUnprocessableEntity, "invalid verification code"
	case errors.Is(err, auth.ErrValidation):
		return http.StatusUnprocessableEntity, "invalid input"
	default:
		return http.StatusInternalServerError, "internal error"
	}
}
