// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Appraise Contributors

package auth

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"
)

// SessionStore creates, validates, refreshes, and revokes sessions.
// Expiry is evaluated lazily at validation time; no background timers.
type SessionStore struct {
	sessions SessionRepository
	lifetime time.Duration
	logger   *slog.Logger
}

// NewSessionStore creates a SessionStore. A zero lifetime falls back to
// SessionLifetime; a nil logger falls back to slog.Default.
func NewSessionStore(sessions SessionRepository, lifetime time.Duration, logger *slog.Logger) (*SessionStore, error) {
	if sessions == nil {
		return nil, oops.Code("SESSION_STORE_INVALID").Errorf("session repository is required")
	}
	if lifetime <= 0 {
		lifetime = SessionLifetime
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &SessionStore{sessions: sessions, lifetime: lifetime, logger: logger}, nil
}

// Create issues a session for the account and returns it with the plaintext
// token for client-side cookie storage.
func (s *SessionStore) Create(ctx context.Context, accountID ulid.ULID) (*Session, string, error) {
	token, tokenHash, err := GenerateSessionToken()
	if err != nil {
		return nil, "", oops.Code("SESSION_CREATE_FAILED").
			With("operation", "GenerateSessionToken").
			Wrap(err)
	}

	session, err := NewSession(accountID, tokenHash, time.Now().Add(s.lifetime))
	if err != nil {
		return nil, "", oops.Code("SESSION_CREATE_FAILED").
			With("operation", "NewSession").
			Wrap(err)
	}

	if err := s.sessions.Create(ctx, session); err != nil {
		return nil, "", oops.Code("SESSION_CREATE_FAILED").
			With("operation", "persist session").
			Wrap(err)
	}

	return session, token, nil
}

// Validate resolves a token to its session. Missing or expired sessions yield
// ErrInvalidSession, never a storage error. A validated use inside the renewal
// window extends the expiry by the full lifetime.
func (s *SessionStore) Validate(ctx context.Context, token string) (*Session, error) {
	if token == "" {
		return nil, oops.Code("SESSION_TOKEN_EMPTY").Wrap(ErrInvalidSession)
	}

	tokenHash := HashSessionToken(token)

	session, err := s.sessions.GetByTokenHash(ctx, tokenHash)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, oops.Code("SESSION_INVALID").Wrap(ErrInvalidSession)
		}
		return nil, oops.Code("SESSION_VALIDATE_FAILED").
			With("operation", "GetByTokenHash").
			Wrap(err)
	}

	now := time.Now()
	if session.IsExpiredAt(now) {
		return nil, oops.Code("SESSION_EXPIRED").Wrap(ErrInvalidSession)
	}

	if session.InRenewalWindow(now, s.lifetime) {
		session.ExpiresAt = now.Add(s.lifetime)
		session.RefreshedAt = now
		// Best effort: validation succeeds even if the extension is lost.
		if err := s.sessions.UpdateExpiry(ctx, session.ID, session.ExpiresAt, session.RefreshedAt); err != nil {
			s.logger.WarnContext(ctx, "session renewal failed",
				"session_id", session.ID.String(),
				"error", err,
			)
		}
	}

	return session, nil
}

// Revoke deletes the session for the token. Revoking a nonexistent or
// expired token is a no-op.
func (s *SessionStore) Revoke(ctx context.Context, token string) error {
	if token == "" {
		return nil
	}

	tokenHash := HashSessionToken(token)
	if err := s.sessions.DeleteByTokenHash(ctx, tokenHash); err != nil {
		return oops.Code("SESSION_REVOKE_FAILED").
			With("operation", "DeleteByTokenHash").
			Wrap(err)
	}
	return nil
}

// Sweep garbage-collects expired sessions and returns the count removed.
func (s *SessionStore) Sweep(ctx context.Context) (int64, error) {
	count, err := s.sessions.DeleteExpired(ctx)
	if err != nil {
		return 0, oops.Code("SESSION_SWEEP_FAILED").
			With("operation", "DeleteExpired").
			Wrap(err)
	}
	return count, nil
}
