// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Appraise Contributors

package auth

import (
	"context"
	"time"

	"github.com/samber/oops"
)

// CodeIssuer generates, persists, and validates verification codes.
type CodeIssuer struct {
	codes VerificationCodeRepository
	ttl   time.Duration
}

// NewCodeIssuer creates a CodeIssuer. A zero ttl falls back to CodeTTL.
func NewCodeIssuer(codes VerificationCodeRepository, ttl time.Duration) (*CodeIssuer, error) {
	if codes == nil {
		return nil, oops.Code("CODE_ISSUER_INVALID").Errorf("code repository is required")
	}
	if ttl <= 0 {
		ttl = CodeTTL
	}
	return &CodeIssuer{codes: codes, ttl: ttl}, nil
}

// Issue generates a fresh code for the email, superseding any prior
// unconsumed code, and returns the plaintext for out-of-band delivery.
func (i *CodeIssuer) Issue(ctx context.Context, email string) (string, error) {
	plaintext, hash, err := GenerateCode()
	if err != nil {
		return "", oops.Code("CODE_ISSUE_FAILED").
			With("operation", "GenerateCode").
			Wrap(err)
	}

	code, err := NewVerificationCode(email, hash, time.Now().Add(i.ttl))
	if err != nil {
		return "", oops.Code("CODE_ISSUE_FAILED").
			With("operation", "NewVerificationCode").
			Wrap(err)
	}

	if err := i.codes.Replace(ctx, code); err != nil {
		return "", oops.Code("CODE_ISSUE_FAILED").
			With("operation", "Replace").
			Wrap(err)
	}

	return plaintext, nil
}

// Validate checks the presented code against the most recently issued one for
// the email and consumes it on success. Exactly one concurrent caller can
// consume a given code; losers get ErrCodeConsumed.
func (i *CodeIssuer) Validate(ctx context.Context, email, code string) error {
	if code == "" {
		return oops.Code("CODE_EMPTY").Wrap(ErrValidation)
	}

	latest, err := i.codes.GetLatestByEmail(ctx, email)
	if err != nil {
		return oops.Code("CODE_VALIDATE_FAILED").
			With("operation", "GetLatestByEmail").
			Wrap(err)
	}

	if latest.IsExpired() {
		return oops.Code("CODE_EXPIRED").Wrap(ErrCodeExpired)
	}

	if !VerifyCode(code, latest.CodeHash) {
		return oops.Code("CODE_MISMATCH").Wrap(ErrCodeMismatch)
	}

	// Conditional update: the consume step succeeds for exactly one caller.
	if err := i.codes.Consume(ctx, latest.ID); err != nil {
		return oops.Code("CODE_CONSUME_FAILED").
			With("operation", "Consume").
			Wrap(err)
	}

	return nil
}
