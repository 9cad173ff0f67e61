// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Pharmadiet Contributors

package postgres

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/samber/oops"

	"github.com/pharmadiet/pharmadiet/internal/auth"
)

const resetColumns = `id, user_id, token_hash, issued_by, expires_at, created_at`

// PasswordResetRepository implements auth.PasswordResetRepository using PostgreSQL.
type PasswordResetRepository struct {
	pool poolIface
}

// NewPasswordResetRepository creates a new PasswordResetRepository.
func NewPasswordResetRepository(pool poolIface) *PasswordResetRepository {
	return &PasswordResetRepository{pool: pool}
}

// Create stores a new password reset.
func (r *PasswordResetRepository) Create(ctx context.Context, reset *auth.PasswordReset) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO password_resets (`+resetColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, reset.ID, reset.UserID, reset.TokenHash, reset.IssuedBy, reset.ExpiresAt, reset.CreatedAt)
	if err != nil {
		return oops.Code("RESET_CREATE_FAILED").
			With("operation", "insert password_reset").
			With("user_id", reset.UserID).
			Wrap(err)
	}
	return nil
}

// GetByTokenHash retrieves a reset by its token hash.
func (r *PasswordResetRepository) GetByTokenHash(ctx context.Context, tokenHash string) (*auth.PasswordReset, error) {
	reset, err := scanReset(r.pool.QueryRow(ctx, `
		SELECT `+resetColumns+`
		FROM password_resets
		WHERE token_hash = $1
	`, tokenHash))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, oops.Code("RESET_NOT_FOUND").Wrap(auth.ErrNotFound)
	}
	if err != nil {
		return nil, oops.Code("RESET_GET_FAILED").
			With("operation", "get password_reset by token hash").
			Wrap(err)
	}
	return reset, nil
}

// ConsumeByTokenHash deletes a reset and returns the deleted row. The single
// DELETE ... RETURNING statement lets only one concurrent caller win.
func (r *PasswordResetRepository) ConsumeByTokenHash(ctx context.Context, tokenHash string) (*auth.PasswordReset, error) {
	reset, err := scanReset(r.pool.QueryRow(ctx, `
		DELETE FROM password_resets
		WHERE token_hash = $1
		RETURNING `+resetColumns, tokenHash))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, oops.Code("RESET_NOT_FOUND").Wrap(auth.ErrNotFound)
	}
	if err != nil {
		return nil, oops.Code("RESET_CONSUME_FAILED").
			With("operation", "consume password_reset by token hash").
			Wrap(err)
	}
	return reset, nil
}

// DeleteByUser removes all resets for a user. Deleting nothing is not an error.
func (r *PasswordResetRepository) DeleteByUser(ctx context.Context, userID string) error {
	_, err := r.pool.Exec(ctx, `DELETE FROM password_resets WHERE user_id = $1`, userID)
	if err != nil {
		return oops.Code("RESET_DELETE_BY_USER_FAILED").
			With("operation", "delete password_resets by user").
			With("user_id", userID).
			Wrap(err)
	}
	return nil
}

// DeleteExpired removes resets that expired at or before now and returns the count.
func (r *PasswordResetRepository) DeleteExpired(ctx context.Context, now time.Time) (int64, error) {
	result, err := r.pool.Exec(ctx, `DELETE FROM password_resets WHERE expires_at <= $1`, now)
	if err != nil {
		return 0, oops.Code("RESET_DELETE_EXPIRED_FAILED").
			With("operation", "delete expired password_resets").
			Wrap(err)
	}
	return result.RowsAffected(), nil
}

func scanReset(row pgx.Row) (*auth.PasswordReset, error) {
	var pr auth.PasswordReset
	if err := row.Scan(&pr.ID, &pr.UserID, &pr.TokenHash, &pr.IssuedBy, &pr.ExpiresAt, &pr.CreatedAt); err != nil {
		return nil, err //nolint:wrapcheck // callers wrap with operation context
	}
	return &pr, nil
}

var _ auth.PasswordResetRepository = (*PasswordResetRepository)(nil)
