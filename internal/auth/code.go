// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Appraise Contributors

package auth

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"math/big"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"
)

// Verification code configuration.
const (
	CodeLength = 8                // characters
	CodeTTL    = 15 * time.Minute // expiry after issuance
)

// codeAlphabet excludes 0/O/1/I to keep codes unambiguous when read aloud.
const codeAlphabet = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"

// VerificationCode is a short-lived single-use code tied to an email address
// during registration. Only the sha256 of the code value is persisted.
type VerificationCode struct {
	ID         ulid.ULID
	Email      string
	CodeHash   string
	ExpiresAt  time.Time
	CreatedAt  time.Time
	ConsumedAt *time.Time
}

// NewVerificationCode creates a code record for a normalized email.
func NewVerificationCode(email, codeHash string, expiresAt time.Time) (*VerificationCode, error) {
	if email == "" {
		return nil, oops.Code("CODE_INVALID_EMAIL").Errorf("email cannot be empty")
	}
	if codeHash == "" {
		return nil, oops.Code("CODE_INVALID_HASH").Errorf("code hash cannot be empty")
	}
	if expiresAt.IsZero() {
		return nil, oops.Code("CODE_INVALID_EXPIRY").Errorf("expiry time cannot be zero")
	}

	return &VerificationCode{
		ID:        ulid.Make(),
		Email:     email,
		CodeHash:  codeHash,
		ExpiresAt: expiresAt,
		CreatedAt: time.Now(),
	}, nil
}

// IsExpired returns true if the code is past its TTL.
func (c *VerificationCode) IsExpired() bool {
	return time.Now().After(c.ExpiresAt)
}

// IsExpiredAt returns true if the code would be expired at the given time.
func (c *VerificationCode) IsExpiredAt(t time.Time) bool {
	return t.After(c.ExpiresAt)
}

// IsConsumed returns true if the code was already spent.
func (c *VerificationCode) IsConsumed() bool {
	return c.ConsumedAt != nil
}

// GenerateCode creates a cryptographically random fixed-length code and its
// hash. The plaintext goes to the out-of-band notifier; only the hash is stored.
func GenerateCode() (code, hash string, err error) {
	buf := make([]byte, CodeLength)
	alphabetLen := big.NewInt(int64(len(codeAlphabet)))
	for i := range buf {
		n, randErr := rand.Int(rand.Reader, alphabetLen)
		if randErr != nil {
			return "", "", oops.Code("CODE_GENERATE_FAILED").Wrap(randErr)
		}
		buf[i] = codeAlphabet[n.Int64()]
	}

	code = string(buf)
	hash = HashCode(code)

	return code, hash, nil
}

// HashCode computes the sha256 hash of a verification code value.
func HashCode(code string) string {
	h := sha256.Sum256([]byte(code))
	return hex.EncodeToString(h[:])
}

// VerifyCode checks the plaintext code against the stored hash in constant time.
func VerifyCode(code, hash string) bool {
	if code == "" || hash == "" {
		return false
	}
	computed := HashCode(code)
	return subtle.ConstantTimeCompare([]byte(computed), []byte(hash)) == 1
}

// VerificationCodeRepository manages verification code persistence.
type VerificationCodeRepository interface {
	// Replace atomically deletes all unconsumed codes for the email and
	// stores the new one, enforcing the supersede-on-reissue rule in a
	// single transaction.
	Replace(ctx context.Context, code *VerificationCode) error

	// GetLatestByEmail retrieves the most recently issued unconsumed code
	// for the email. Returns ErrNotFound if none exists.
	GetLatestByEmail(ctx context.Context, email string) (*VerificationCode, error)

	// Consume marks a code consumed via a conditional update that succeeds
	// for exactly one caller. Returns ErrCodeConsumed if the code was
	// already spent or superseded.
	Consume(ctx context.Context, id ulid.ULID) error

	// DeleteExpired removes expired codes and returns the count deleted.
	// Expired codes are inert either way; this is housekeeping.
	DeleteExpired(ctx context.Context) (int64, error)
}
