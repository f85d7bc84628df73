// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Appraise Contributors

package auth

import "errors"

// Sentinel errors for the auth core. Services wrap these with oops codes;
// callers branch with errors.Is and the HTTP layer maps them to status codes.
var (
	// ErrNotFound is returned when a requested entity does not exist.
	ErrNotFound = errors.New("not found")

	// ErrValidation is returned for malformed or incomplete input.
	ErrValidation = errors.New("invalid input")

	// ErrDuplicateEmail is returned when an email is already registered
	// to an active account.
	ErrDuplicateEmail = errors.New("email already registered")

	// ErrInvalidCredentials is deliberately generic: it never distinguishes
	// an unknown email from a wrong password or a pending account.
	ErrInvalidCredentials = errors.New("invalid email or password")

	// ErrCodeExpired is returned when a verification code is past its TTL.
	ErrCodeExpired = errors.New("verification code expired")

	// ErrCodeMismatch is returned when the presented verification code does
	// not match the most recently issued one.
	ErrCodeMismatch = errors.New("verification code mismatch")

	// ErrCodeConsumed is returned when a verification code was already spent,
	// typically by a concurrent request racing on the same code.
	ErrCodeConsumed = errors.New("verification code already used")

	// ErrInvalidSession marks a missing or expired session. The HTTP layer
	// treats it as "anonymous", not as a server failure.
	ErrInvalidSession = errors.New("invalid session")

	// ErrStorageUnavailable classifies transient storage failures (timeouts,
	// connection loss). Safe to retry with backoff; the core never retries.
	ErrStorageUnavailable = errors.New("storage unavailable")
)
