// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Pharmadiet Contributors

// Package postgres provides PostgreSQL implementations of auth repositories.
package postgres

import (
	"context"
	"errors"
	"strings"

	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/samber/oops"

	"github.com/pharmadiet/pharmadiet/internal/access"
	"github.com/pharmadiet/pharmadiet/internal/auth"
)

// poolIface is the subset of pgxpool.Pool used by UserRepository.
// pgxmock.PgxPoolIface satisfies it in unit tests.
type poolIface interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

const userColumns = `id, username, email, role, password_hash, salt, is_active,
		       created_at, updated_at, last_login_at, failed_login_attempts, locked_until`

// UserRepository implements auth.UserRepository using PostgreSQL.
type UserRepository struct {
	pool poolIface
}

// NewUserRepository creates a new UserRepository.
func NewUserRepository(pool poolIface) *UserRepository {
	return &UserRepository{pool: pool}
}

// FindByUsernameOrEmail retrieves a user by username or email (email is case-insensitive).
// Active users are preferred over inactive ones.
func (r *UserRepository) FindByUsernameOrEmail(ctx context.Context, identifier string) (*auth.User, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT `+userColumns+`
		FROM users
		WHERE username = $1 OR email = $2
		ORDER BY is_active DESC, created_at DESC
		LIMIT 1
	`, identifier, strings.ToLower(identifier))

	user, err := scanUser(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, oops.Code(auth.CodeUserNotFound).
			With("identifier", identifier).
			Wrap(auth.ErrNotFound)
	}
	if err != nil {
		return nil, oops.Code("USER_FIND_FAILED").
			With("operation", "find user by username or email").
			Wrap(err)
	}
	return user, nil
}

// GetByID retrieves a user by ID.
func (r *UserRepository) GetByID(ctx context.Context, id string) (*auth.User, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT `+userColumns+`
		FROM users
		WHERE id = $1
	`, id)

	user, err := scanUser(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, oops.Code(auth.CodeUserNotFound).
			With("user_id", id).
			Wrap(auth.ErrNotFound)
	}
	if err != nil {
		return nil, oops.Code("USER_GET_BY_ID_FAILED").
			With("operation", "get user by id").
			With("user_id", id).
			Wrap(err)
	}
	return user, nil
}

// Save inserts a user or replaces every mutable column of an existing one.
// Partial unique indexes on active rows enforce username and email uniqueness.
func (r *UserRepository) Save(ctx context.Context, user *auth.User) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO users (
			id, username, email, role, password_hash, salt, is_active,
			created_at, updated_at, last_login_at, failed_login_attempts, locked_until
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		ON CONFLICT (id) DO UPDATE SET
			username = EXCLUDED.username,
			email = EXCLUDED.email,
			role = EXCLUDED.role,
			password_hash = EXCLUDED.password_hash,
			salt = EXCLUDED.salt,
			is_active = EXCLUDED.is_active,
			updated_at = EXCLUDED.updated_at,
			last_login_at = EXCLUDED.last_login_at,
			failed_login_attempts = EXCLUDED.failed_login_attempts,
			locked_until = EXCLUDED.locked_until
	`,
		user.ID,
		user.Username,
		user.Email,
		string(user.Role),
		user.PasswordHash,
		user.Salt,
		user.IsActive,
		user.CreatedAt,
		user.UpdatedAt,
		user.LastLoginAt,
		user.FailedLoginCount,
		user.LockedUntil,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgerrcode.UniqueViolation {
			return oops.Code(auth.CodeUserDuplicate).
				With("username", user.Username).
				With("email", user.Email).
				With("constraint", pgErr.ConstraintName).
				Wrap(err)
		}
		return oops.Code("USER_SAVE_FAILED").
			With("operation", "upsert user").
			With("user_id", user.ID).
			Wrap(err)
	}
	return nil
}

// ListActive returns active users ordered by creation time.
func (r *UserRepository) ListActive(ctx context.Context) ([]*auth.User, error) {
	return r.list(ctx, "list active users", `
		SELECT `+userColumns+`
		FROM users
		WHERE is_active
		ORDER BY created_at, id
	`)
}

// ListAll returns all users ordered by creation time.
func (r *UserRepository) ListAll(ctx context.Context) ([]*auth.User, error) {
	return r.list(ctx, "list all users", `
		SELECT `+userColumns+`
		FROM users
		ORDER BY created_at, id
	`)
}

// Count returns the number of stored users.
func (r *UserRepository) Count(ctx context.Context) (int, error) {
	var n int
	if err := r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM users`).Scan(&n); err != nil {
		return 0, oops.Code("USER_COUNT_FAILED").Wrap(err)
	}
	return n, nil
}

func (r *UserRepository) list(ctx context.Context, operation, query string) ([]*auth.User, error) {
	rows, err := r.pool.Query(ctx, query)
	if err != nil {
		return nil, oops.Code("USER_LIST_FAILED").With("operation", operation).Wrap(err)
	}
	defer rows.Close()

	var users []*auth.User
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, oops.Code("USER_LIST_FAILED").With("operation", "scan user").Wrap(err)
		}
		users = append(users, u)
	}
	if err := rows.Err(); err != nil {
		return nil, oops.Code("USER_LIST_FAILED").With("operation", "iterate users").Wrap(err)
	}
	return users, nil
}

// scanUser scans a user from a row.
func scanUser(row pgx.Row) (*auth.User, error) {
	var (
		u    auth.User
		role string
	)
	err := row.Scan(
		&u.ID,
		&u.Username,
		&u.Email,
		&role,
		&u.PasswordHash,
		&u.Salt,
		&u.IsActive,
		&u.CreatedAt,
		&u.UpdatedAt,
		&u.LastLoginAt,
		&u.FailedLoginCount,
		&u.LockedUntil,
	)
	if err != nil {
		return nil, err //nolint:wrapcheck // callers wrap with operation context
	}
	u.Role = access.Role(role)
	return &u, nil
}

// Compile-time interface check.
var _ auth.UserRepository = (*UserRepository)(nil)
