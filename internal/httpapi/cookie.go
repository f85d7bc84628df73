// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Appraise Contributors

package httpapi

import (
	"net/http"
	"time"

	"github.com/appraise-dev/appraise/internal/config"
)

// sameSiteFor maps the validated config value to the net/http mode.
func sameSiteFor(name string) http.SameSite {
	switch name {
	case "strict":
		return http.SameSiteStrictMode
	case "none":
		return http.SameSiteNoneMode
	default:
		return http.SameSiteLaxMode
	}
}

// sessionCookie builds the session cookie for a freshly issued token.
// The cookie is always HttpOnly; domain, secure, and same-site come from
// deployment configuration.
func sessionCookie(cfg config.CookieConfig, token string, expiresAt time.Time) *http.Cookie {
	return &http.Cookie{
		Name:     cfg.Name,
		Value:    token,
		Path:     "/",
		Domain:   cfg.Domain,
		Expires:  expiresAt,
		HttpOnly: true,
		Secure:   cfg.Secure,
		SameSite: sameSiteFor(cfg.SameSite),
	}
}

// clearSessionCookie builds the expired cookie that removes the session
// token from the client.
func clearSessionCookie(cfg config.CookieConfig) *http.Cookie {
	return &http.Cookie{
		Name:     cfg.Name,
		Value:    "",
		Path:     "/",
		Domain:   cfg.Domain,
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   cfg.Secure,
		SameSite: sameSiteFor(cfg.SameSite),
	}
}
