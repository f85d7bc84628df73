// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Appraise Contributors

package postgres

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"

	"github.com/appraise-dev/appraise/internal/auth"
)

// VerificationCodeRepository implements auth.VerificationCodeRepository
// using PostgreSQL.
type VerificationCodeRepository struct {
	db DB
}

// NewVerificationCodeRepository creates a new VerificationCodeRepository.
func NewVerificationCodeRepository(db DB) *VerificationCodeRepository {
	return &VerificationCodeRepository{db: db}
}

// Replace deletes all unconsumed codes for the email and inserts the new one
// in a single transaction. The supersede rule lives here, not in callers:
// concurrent issues serialize on the row deletes and the last insert wins.
func (r *VerificationCodeRepository) Replace(ctx context.Context, code *auth.VerificationCode) error {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return oops.Code("CODE_REPLACE_FAILED").
			With("operation", "begin transaction").
			Wrap(classify(err))
	}
	defer func() {
		_ = tx.Rollback(ctx) //nolint:errcheck // No-op after commit
	}()

	_, err = tx.Exec(ctx, `
		DELETE FROM verification_codes
		WHERE email = $1 AND consumed_at IS NULL
	`, code.Email)
	if err != nil {
		return oops.Code("CODE_REPLACE_FAILED").
			With("operation", "delete superseded codes").
			Wrap(classify(err))
	}

	_, err = tx.Exec(ctx, `
		INSERT INTO verification_codes (id, email, code_hash, expires_at, created_at, consumed_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`,
		code.ID.String(),
		code.Email,
		code.CodeHash,
		code.ExpiresAt,
		code.CreatedAt,
		code.ConsumedAt,
	)
	if err != nil {
		return oops.Code("CODE_REPLACE_FAILED").
			With("operation", "insert verification code").
			Wrap(classify(err))
	}

	if err := tx.Commit(ctx); err != nil {
		return oops.Code("CODE_REPLACE_FAILED").
			With("operation", "commit transaction").
			Wrap(classify(err))
	}
	return nil
}

// GetLatestByEmail retrieves the most recently issued unconsumed code for
// the email.
func (r *VerificationCodeRepository) GetLatestByEmail(ctx context.Context, email string) (*auth.VerificationCode, error) {
	row := r.db.QueryRow(ctx, `
		SELECT id, email, code_hash, expires_at, created_at, consumed_at
		FROM verification_codes
		WHERE email = $1 AND consumed_at IS NULL
		ORDER BY created_at DESC
		LIMIT 1
	`, email)

	code, err := r.scanCode(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, oops.Code("CODE_NOT_FOUND").Wrap(auth.ErrNotFound)
	}
	if err != nil {
		return nil, oops.Code("CODE_GET_LATEST_FAILED").
			With("operation", "get latest code by email").
			Wrap(classify(err))
	}
	return code, nil
}

// Consume marks a code consumed. The conditional update is the single-winner
// guarantee: of any number of concurrent callers, exactly one sees a row
// change; the rest get ErrCodeConsumed.
func (r *VerificationCodeRepository) Consume(ctx context.Context, id ulid.ULID) error {
	result, err := r.db.Exec(ctx, `
		UPDATE verification_codes SET consumed_at = $2
		WHERE id = $1 AND consumed_at IS NULL
	`, id.String(), time.Now())
	if err != nil {
		return oops.Code("CODE_CONSUME_FAILED").
			With("operation", "consume verification code").
			With("id", id.String()).
			Wrap(classify(err))
	}
	if result.RowsAffected() == 0 {
		return oops.Code("CODE_ALREADY_CONSUMED").
			With("id", id.String()).
			Wrap(auth.ErrCodeConsumed)
	}
	return nil
}

// DeleteExpired removes expired codes and returns the count.
func (r *VerificationCodeRepository) DeleteExpired(ctx context.Context) (int64, error) {
	result, err := r.db.Exec(ctx, `
		DELETE FROM verification_codes WHERE expires_at < $1
	`, time.Now())
	if err != nil {
		return 0, oops.Code("CODE_DELETE_EXPIRED_FAILED").
			With("operation", "delete expired codes").
			Wrap(classify(err))
	}
	return result.RowsAffected(), nil
}

// scanCode scans a single row into a VerificationCode.
// Callers are responsible for handling pgx.ErrNoRows.
func (r *VerificationCodeRepository) scanCode(row pgx.Row) (*auth.VerificationCode, error) {
	var (
		idStr      string
		email      string
		codeHash   string
		expiresAt  time.Time
		createdAt  time.Time
		consumedAt *time.Time
	)

	if err := row.Scan(&idStr, &email, &codeHash, &expiresAt, &createdAt, &consumedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, err //nolint:wrapcheck // Callers wrap with context-specific info
		}
		return nil, oops.Code("CODE_SCAN_FAILED").
			With("operation", "scan verification code").
			Wrap(err)
	}

	id, err := ulid.Parse(idStr)
	if err != nil {
		return nil, oops.Code("CODE_CORRUPT_ID").
			With("id", idStr).
			Wrap(err)
	}

	return &auth.VerificationCode{
		ID:         id,
		Email:      email,
		CodeHash:   codeHash,
		ExpiresAt:  expiresAt,
		CreatedAt:  createdAt,
		ConsumedAt: consumedAt,
	}, nil
}
