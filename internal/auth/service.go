// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Appraise Contributors

package auth

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/samber/oops"
)

// notifyTimeout bounds the fire-and-forget code dispatch.
const notifyTimeout = 10 * time.Second

// dummyPasswordHash is verified against when the account is unknown or still
// pending, so response time does not reveal which emails exist. It is a fake
// hash that can never match any password.
//
//nolint:gosec // G101: intentionally fake hash for timing hardening, not a credential.
const dummyPasswordHash = "$argon2id$v=19$m=65536,t=1,p=4$AAAAAAAAAAAAAAAAAAAAAA$AAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAA"

// Service is the auth orchestrator: it implements the login and two-phase
// registration flows by composing the account repository, code issuer,
// credential hasher, and session store.
type Service struct {
	accounts AccountRepository
	codes    *CodeIssuer
	sessions *SessionStore
	hasher   PasswordHasher
	notifier Notifier
	logger   *slog.Logger
}

// NewService creates the auth orchestrator. All collaborators are required
// except the logger, which falls back to slog.Default.
func NewService(
	accounts AccountRepository,
	codes *CodeIssuer,
	sessions *SessionStore,
	hasher PasswordHasher,
	notifier Notifier,
	logger *slog.Logger,
) (*Service, error) {
	if accounts == nil {
		return nil, oops.Code("AUTH_SERVICE_INVALID").Errorf("account repository is required")
	}
	if codes == nil {
		return nil, oops.Code("AUTH_SERVICE_INVALID").Errorf("code issuer is required")
	}
	if sessions == nil {
		return nil, oops.Code("AUTH_SERVICE_INVALID").Errorf("session store is required")
	}
	if hasher == nil {
		return nil, oops.Code("AUTH_SERVICE_INVALID").Errorf("password hasher is required")
	}
	if notifier == nil {
		return nil, oops.Code("AUTH_SERVICE_INVALID").Errorf("notifier is required")
	}
	if logger == nil {
		logger = slog.Default()
	}

	return &Service{
		accounts: accounts,
		codes:    codes,
		sessions: sessions,
		hasher:   hasher,
		notifier: notifier,
		logger:   logger,
	}, nil
}

// Login authenticates an account and creates a session.
// Returns the session and plaintext token.
// Unknown email, pending account, and wrong password all yield the same
// ErrInvalidCredentials; verification always runs to keep timing flat.
func (s *Service) Login(ctx context.Context, email, password string) (*Session, string, error) {
	normalized, err := NormalizeEmail(email)
	if err != nil {
		// Malformed email can never belong to an account; keep the generic error.
		normalized = ""
	}

	var account *Account
	targetHash := dummyPasswordHash
	if normalized != "" {
		found, lookupErr := s.accounts.GetByEmail(ctx, normalized)
		switch {
		case lookupErr == nil:
			if found.Active() {
				account = found
				targetHash = *found.PasswordHash
			}
		case errors.Is(lookupErr, ErrNotFound):
			// Keep the dummy hash.
		default:
			return nil, "", oops.Code("AUTH_LOGIN_FAILED").
				With("operation", "GetByEmail").
				Wrap(lookupErr)
		}
	}

	valid, verifyErr := s.hasher.Verify(password, targetHash)
	if verifyErr != nil {
		if account == nil {
			// Dummy hash verification errors are just invalid credentials.
			return nil, "", oops.Code("AUTH_INVALID_CREDENTIALS").Wrap(ErrInvalidCredentials)
		}
		return nil, "", oops.Code("AUTH_LOGIN_FAILED").
			With("operation", "Verify").
			Wrap(verifyErr)
	}

	if account == nil || !valid {
		return nil, "", oops.Code("AUTH_INVALID_CREDENTIALS").Wrap(ErrInvalidCredentials)
	}

	session, token, err := s.sessions.Create(ctx, account.ID)
	if err != nil {
		return nil, "", oops.Code("AUTH_LOGIN_FAILED").
			With("operation", "create session").
			Wrap(err)
	}

	return session, token, nil
}

// BeginRegistration starts the two-phase registration flow: it upserts a
// pending account for the email, issues a verification code, and dispatches
// it without waiting for delivery. Repeated calls for the same unverified
// email reissue a fresh code, superseding the old one.
func (s *Service) BeginRegistration(ctx context.Context, email string, agree bool) error {
	if !agree {
		return oops.Code("AUTH_AGREEMENT_REQUIRED").Wrap(ErrValidation)
	}

	normalized, err := NormalizeEmail(email)
	if err != nil {
		return err
	}

	account, err := s.accounts.GetByEmail(ctx, normalized)
	switch {
	case err == nil:
		if account.Active() {
			return oops.Code("AUTH_DUPLICATE_EMAIL").Wrap(ErrDuplicateEmail)
		}
	case errors.Is(err, ErrNotFound):
		pending, newErr := NewAccount(normalized)
		if newErr != nil {
			return newErr
		}
		if createErr := s.accounts.Create(ctx, pending); createErr != nil {
			// A concurrent begin-registration may have won the insert; that
			// is fine as long as the winner is still pending.
			if !errors.Is(createErr, ErrDuplicateEmail) {
				return oops.Code("AUTH_REGISTER_FAILED").
					With("operation", "Create").
					Wrap(createErr)
			}
			existing, getErr := s.accounts.GetByEmail(ctx, normalized)
			if getErr != nil {
				return oops.Code("AUTH_REGISTER_FAILED").
					With("operation", "GetByEmail after duplicate").
					Wrap(getErr)
			}
			if existing.Active() {
				return oops.Code("AUTH_DUPLICATE_EMAIL").Wrap(ErrDuplicateEmail)
			}
		}
	default:
		return oops.Code("AUTH_REGISTER_FAILED").
			With("operation", "GetByEmail").
			Wrap(err)
	}

	code, err := s.codes.Issue(ctx, normalized)
	if err != nil {
		return oops.Code("AUTH_REGISTER_FAILED").
			With("operation", "Issue").
			Wrap(err)
	}

	s.dispatchCode(normalized, code)

	return nil
}

// dispatchCode sends the code out-of-band without blocking the request.
// The goroutine carries its own deadline; delivery failures are logged only.
func (s *Service) dispatchCode(email, code string) {
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), notifyTimeout)
		defer cancel()

		if err := s.notifier.SendVerificationCode(ctx, email, code); err != nil {
			s.logger.Warn("verification code dispatch failed",
				"email", email,
				"error", err,
			)
		}
	}()
}

// CompleteRegistration validates the code, sets the password, activates the
// account, and creates a session. Any failure leaves the account pending so
// registration can be retried with a freshly issued code.
func (s *Service) CompleteRegistration(ctx context.Context, email, code, password string) (*Session, string, error) {
	normalized, err := NormalizeEmail(email)
	if err != nil {
		return nil, "", err
	}

	account, err := s.accounts.GetByEmail(ctx, normalized)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, "", oops.Code("AUTH_CODE_NOT_FOUND").Wrap(ErrNotFound)
		}
		return nil, "", oops.Code("AUTH_VERIFY_FAILED").
			With("operation", "GetByEmail").
			Wrap(err)
	}
	if account.Active() {
		return nil, "", oops.Code("AUTH_DUPLICATE_EMAIL").Wrap(ErrDuplicateEmail)
	}

	if err := s.codes.Validate(ctx, normalized, code); err != nil {
		return nil, "", err
	}

	// The code is consumed past this point. A hashing or storage failure here
	// leaves the account pending; the client requests a fresh code and retries.
	hash, err := s.hasher.Hash(password)
	if err != nil {
		return nil, "", err
	}

	if err := s.accounts.SetPassword(ctx, account.ID, hash); err != nil {
		return nil, "", oops.Code("AUTH_VERIFY_FAILED").
			With("operation", "SetPassword").
			Wrap(err)
	}

	session, token, err := s.sessions.Create(ctx, account.ID)
	if err != nil {
		return nil, "", oops.Code("AUTH_VERIFY_FAILED").
			With("operation", "create session").
			Wrap(err)
	}

	return session, token, nil
}

// Logout revokes the session for the token. Idempotent.
func (s *Service) Logout(ctx context.Context, token string) error {
	return s.sessions.Revoke(ctx, token)
}

// CurrentAccount resolves a session token to its owning account, used by the
// dashboard shell for session introspection. Invalid or expired sessions
// yield ErrInvalidSession.
func (s *Service) CurrentAccount(ctx context.Context, token string) (*Account, error) {
	session, err := s.sessions.Validate(ctx, token)
	if err != nil {
		return nil, err
	}

	account, err := s.accounts.GetByID(ctx, session.AccountID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			// No session without an active account: a dangling session is invalid.
			return nil, oops.Code("SESSION_ORPHANED").Wrap(ErrInvalidSession)
		}
		return nil, oops.Code("SESSION_RESOLVE_FAILED").
			With("operation", "GetByID").
			Wrap(err)
	}

	return account, nil
}
