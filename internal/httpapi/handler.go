// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Appraise Contributors

// Package httpapi exposes the auth core over HTTP for the UI layer.
package httpapi

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"

	"github.com/appraise-dev/appraise/internal/auth"
	"github.com/appraise-dev/appraise/internal/config"
	"github.com/appraise-dev/appraise/internal/observability"
)

// Handler serves the auth endpoints.
type Handler struct {
	svc     *auth.Service
	cookie  config.CookieConfig
	metrics *observability.Metrics
}

// NewHandler creates the auth HTTP handler. metrics may be nil when the
// observability server is disabled.
func NewHandler(svc *auth.Service, cookie config.CookieConfig, metrics *observability.Metrics) *Handler {
	return &Handler{svc: svc, cookie: cookie, metrics: metrics}
}

// Router builds the chi router for the auth API.
func (h *Handler) Router() http.Handler {
	r := chi.NewRouter()

	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(chimiddleware.Recoverer)
	r.Use(RequestLogger)

	r.Route("/auth", func(r chi.Router) {
		r.Post("/login", h.handleLogin)
		r.Post("/logout", h.handleLogout)
		r.Get("/session", h.handleSession)
		r.Route("/register", func(r chi.Router) {
			r.Post("/send-code", h.handleSendCode)
			r.Post("/verify", h.handleVerify)
		})
	})

	return r
}

// accountDTO is the account shape the dashboard shell consumes.
type accountDTO struct {
	ID    string `json:"id"`
	Email string `json:"email"`
}

// handleLogin processes POST /auth/login {email,password}.
// Responds 200 {sessionToken} with the session cookie set, or 401.
func (h *Handler) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Email    string `json:"email"`
		Password string `json:"password"`
	}
	if err := readJSON(r, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "malformed request body"})
		return
	}

	session, token, err := h.svc.Login(r.Context(), req.Email, req.Password)
	if err != nil {
		h.countLogin(outcomeFor(err))
		writeError(w, r, err)
		return
	}
	h.countLogin("success")

	http.SetCookie(w, sessionCookie(h.cookie, token, session.ExpiresAt))
	writeJSON(w, http.StatusOK, map[string]string{"sessionToken": token})
}

// handleSendCode processes POST /auth/register/send-code {email,agree}.
// Responds 200 once the code is issued; delivery is out-of-band.
func (h *Handler) handleSendCode(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Email string `json:"email"`
		Agree bool   `json:"agree"`
	}
	if err := readJSON(r, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "malformed request body"})
		return
	}

	if err := h.svc.BeginRegistration(r.Context(), req.Email, req.Agree); err != nil {
		h.countRegistration("send_code", outcomeFor(err))
		writeError(w, r, err)
		return
	}
	h.countRegistration("send_code", "success")

	writeJSON(w, http.StatusOK, map[string]string{"status": "sent"})
}

// handleVerify processes POST /auth/register/verify {email,code,password}.
// Responds 200 {sessionToken} with the session cookie set, 410 for expired
// codes, 422 for mismatches, 409 for already-active accounts.
func (h *Handler) handleVerify(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Email    string `json:"email"`
		Code     string `json:"code"`
		Password string `json:"password"`
	}
	if err := readJSON(r, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "malformed request body"})
		return
	}

	session, token, err := h.svc.CompleteRegistration(r.Context(), req.Email, req.Code, req.Password)
	if err != nil {
		h.countRegistration("verify", outcomeFor(err))
		writeError(w, r, err)
		return
	}
	h.countRegistration("verify", "success")

	http.SetCookie(w, sessionCookie(h.cookie, token, session.ExpiresAt))
	writeJSON(w, http.StatusOK, map[string]string{"sessionToken": token})
}

// handleSession processes GET /auth/session: session introspection for the
// dashboard shell. An absent, invalid, or expired cookie answers 401.
func (h *Handler) handleSession(w http.ResponseWriter, r *http.Request) {
	token := sessionTokenFrom(r, h.cookie.Name)

	account, err := h.svc.CurrentAccount(r.Context(), token)
	if err != nil {
		h.countValidation(outcomeFor(err))
		writeError(w, r, err)
		return
	}
	h.countValidation("success")

	writeJSON(w, http.StatusOK, map[string]accountDTO{
		"account": {ID: account.ID.String(), Email: account.Email},
	})
}

// handleLogout processes POST /auth/logout. Idempotent: revoking an unknown
// or expired token still clears the cookie and answers 204.
func (h *Handler) handleLogout(w http.ResponseWriter, r *http.Request) {
	token := sessionTokenFrom(r, h.cookie.Name)

	if err := h.svc.Logout(r.Context(), token); err != nil {
		writeError(w, r, err)
		return
	}

	http.SetCookie(w, clearSessionCookie(h.cookie))
	w.WriteHeader(http.StatusNoContent)
}

// sessionTokenFrom extracts the session token, preferring the cookie and
// falling back to a bearer header for non-browser clients.
func sessionTokenFrom(r *http.Request, cookieName string) string {
	if cookie, err := r.Cookie(cookieName); err == nil && cookie.Value != "" {
		return cookie.Value
	}
	const prefix = "Bearer "
	if header := r.Header.Get("Authorization"); len(header) > len(prefix) && header[:len(prefix)] == prefix {
		return header[len(prefix):]
	}
	return ""
}

// outcomeFor buckets an error for metrics labels.
func outcomeFor(err error) string {
	switch {
	case errors.Is(err, auth.ErrInvalidCredentials):
		return "invalid_credentials"
	case errors.Is(err, auth.ErrInvalidSession):
		return "invalid_session"
	case errors.Is(err, auth.ErrDuplicateEmail):
		return "duplicate_email"
	case errors.Is(err, auth.ErrCodeExpired):
		return "code_expired"
	case errors.Is(err, auth.ErrCodeMismatch), errors.Is(err, auth.ErrCodeConsumed), errors.Is(err, auth.ErrNotFound):
		return "code_invalid"
	case errors.Is(err, auth.ErrValidation):
		return "validation"
	case errors.Is(err, auth.ErrStorageUnavailable):
		return "storage_unavailable"
	default:
		return "error"
	}
}

func (h *Handler) countLogin(outcome string) {
	if h.metrics != nil {
		h.metrics.LoginsTotal.WithLabelValues(outcome).Inc()
	}
}

func (h *Handler) countRegistration(phase, outcome string) {
	if h.metrics != nil {
		h.metrics.RegistrationsTotal.WithLabelValues(phase, outcome).Inc()
	}
}

func (h *Handler) countValidation(outcome string) {
	if h.metrics != nil {
		h.metrics.SessionValidationsTotal.WithLabelValues(outcome).Inc()
	}
}
