// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Appraise Contributors

package auth

import (
	"context"
	"regexp"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"
)

// MaxEmailLength caps stored email addresses (RFC 5321 path limit).
const MaxEmailLength = 254

// emailRegex is a deliberately loose shape check: one @, no spaces, a dot in
// the domain. Real validation happens by delivering the verification code.
var emailRegex = regexp.MustCompile(`^[^\s@]+@[^\s@]+\.[^\s@]+$`)

// Account represents a registered or pending user account.
// PasswordHash is nil until registration completes; such accounts are
// "pending" and can never authenticate with a password.
type Account struct {
	ID           ulid.ULID
	Email        string
	PasswordHash *string
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// NewAccount creates a pending account for a normalized email.
func NewAccount(email string) (*Account, error) {
	normalized, err := NormalizeEmail(email)
	if err != nil {
		return nil, err
	}

	now := time.Now()
	return &Account{
		ID:        ulid.Make(),
		Email:     normalized,
		CreatedAt: now,
		UpdatedAt: now,
	}, nil
}

// Active reports whether the account has completed registration and can
// authenticate with a password.
func (a *Account) Active() bool {
	return a.PasswordHash != nil && *a.PasswordHash != ""
}

// NormalizeEmail lower-cases and trims an email address, validating its shape.
// All lookups and uniqueness checks operate on the normalized form.
func NormalizeEmail(email string) (string, error) {
	normalized := strings.ToLower(strings.TrimSpace(email))
	if normalized == "" {
		return "", oops.Code("AUTH_INVALID_EMAIL").Wrap(ErrValidation)
	}
	if len(normalized) > MaxEmailLength {
		return "", oops.Code("AUTH_INVALID_EMAIL").
			With("max", MaxEmailLength).
			Wrap(ErrValidation)
	}
	if !emailRegex.MatchString(normalized) {
		return "", oops.Code("AUTH_INVALID_EMAIL").Wrap(ErrValidation)
	}
	return normalized, nil
}

// AccountRepository manages account persistence. All mutations are single-row
// atomic; no multi-row transactions are required.
type AccountRepository interface {
	// Create stores a new account. Returns ErrDuplicateEmail when the email
	// is already present (case-insensitive).
	Create(ctx context.Context, account *Account) error

	// GetByID retrieves an account by ID. Returns ErrNotFound if absent.
	GetByID(ctx context.Context, id ulid.ULID) (*Account, error)

	// GetByEmail retrieves an account by normalized email.
	// Returns ErrNotFound if absent.
	GetByEmail(ctx context.Context, email string) (*Account, error)

	// SetPassword stores the password hash, transitioning a pending account
	// to active. Returns ErrNotFound if the account does not exist.
	SetPassword(ctx context.Context, id ulid.ULID, passwordHash string) error
}
