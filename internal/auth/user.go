// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Pharmadiet Contributors

package auth

import (
	"context"
	"regexp"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"

	"github.com/pharmadiet/pharmadiet/internal/access"
)

// Username validation constraints.
const (
	MinUsernameLength = 3
	MaxUsernameLength = 50
	MaxEmailLength    = 255
)

var (
	usernameRegex = regexp.MustCompile(`^[a-zA-Z0-9_-]+$`)
	emailRegex    = regexp.MustCompile(`^[a-zA-Z0-9._%+-]+@[a-zA-Z0-9.-]+\.[a-zA-Z]{2,}$`)
)

// User is an identity record.
type User struct {
	ID               string
	Username         string
	Email            string
	Role             access.Role
	PasswordHash     string
	Salt             string
	IsActive         bool
	CreatedAt        time.Time
	UpdatedAt        time.Time
	LastLoginAt      *time.Time
	FailedLoginCount int
	LockedUntil      *time.Time
}

// UserInfo is a User snapshot without credential material.
type UserInfo struct {
	ID               string      `json:"id"`
	Username         string      `json:"username"`
	Email            string      `json:"email"`
	Role             access.Role `json:"role"`
	IsActive         bool        `json:"is_active"`
	CreatedAt        time.Time   `json:"created_at"`
	LastLoginAt      *time.Time  `json:"last_login,omitempty"`
	FailedLoginCount int         `json:"failed_login_attempts"`
	IsLocked         bool        `json:"is_locked"`
}

// NewUser creates a validated, active User with a fresh ULID identifier.
func NewUser(username, email string, role access.Role, passwordHash, salt string, now time.Time) (*User, error) {
	if err := ValidateUsername(username); err != nil {
		return nil, err
	}
	normalized, err := NormalizeEmail(email)
	if err != nil {
		return nil, err
	}
	if !role.Valid() {
		return nil, oops.Code(CodeUserInvalid).
			With("role", role).
			Errorf("role must be one of: admin, pharmacist, nutritionist, assistant, viewer")
	}
	if strings.TrimSpace(passwordHash) == "" || strings.TrimSpace(salt) == "" {
		return nil, oops.Code(CodeUserInvalid).Errorf("password hash and salt are required")
	}

	return &User{
		ID:           ulid.Make().String(),
		Username:     username,
		Email:        normalized,
		Role:         role,
		PasswordHash: passwordHash,
		Salt:         salt,
		IsActive:     true,
		CreatedAt:    now,
		UpdatedAt:    now,
	}, nil
}

// IsLocked reports whether the lockout is still in force at now.
func (u *User) IsLocked(now time.Time) bool {
	return u.LockedUntil != nil && now.Before(*u.LockedUntil)
}

// Clone returns a deep copy of u.
func (u *User) Clone() *User {
	c := *u
	if u.LastLoginAt != nil {
		t := *u.LastLoginAt
		c.LastLoginAt = &t
	}
	if u.LockedUntil != nil {
		t := *u.LockedUntil
		c.LockedUntil = &t
	}
	return &c
}

// Public returns the snapshot of u as seen at now.
func (u *User) Public(now time.Time) UserInfo {
	info := UserInfo{
		ID:               u.ID,
		Username:         u.Username,
		Email:            u.Email,
		Role:             u.Role,
		IsActive:         u.IsActive,
		CreatedAt:        u.CreatedAt,
		FailedLoginCount: u.FailedLoginCount,
		IsLocked:         u.IsLocked(now),
	}
	if u.LastLoginAt != nil {
		t := *u.LastLoginAt
		info.LastLoginAt = &t
	}
	return info
}

// ValidateUsername validates a username.
// Usernames are MinUsernameLength to MaxUsernameLength characters of
// letters, digits, hyphens and underscores.
func ValidateUsername(username string) error {
	if username == "" {
		return oops.Code(CodeUserInvalid).Errorf("username cannot be empty")
	}
	if len(username) < MinUsernameLength {
		return oops.Code(CodeUserInvalid).
			With("min", MinUsernameLength).
			Errorf("username must be at least %d characters", MinUsernameLength)
	}
	if len(username) > MaxUsernameLength {
		return oops.Code(CodeUserInvalid).
			With("max", MaxUsernameLength).
			Errorf("username must be at most %d characters", MaxUsernameLength)
	}
	if !usernameRegex.MatchString(username) {
		return oops.Code(CodeUserInvalid).
			Errorf("username can only contain letters, numbers, hyphens, and underscores")
	}
	return nil
}

// NormalizeEmail validates an email address and returns it lower-cased.
func NormalizeEmail(email string) (string, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	if email == "" {
		return "", oops.Code(CodeUserInvalid).Errorf("email cannot be empty")
	}
	if len(email) > MaxEmailLength || !emailRegex.MatchString(email) {
		return "", oops.Code(CodeUserInvalid).
			With("email", email).
			Errorf("invalid email address format")
	}
	return email, nil
}

// UserRepository manages user persistence.
//
// Implementations return copies; mutating a returned *User has no effect
// until it is passed back to Save.
type UserRepository interface {
	// FindByUsernameOrEmail returns the user whose username or email equals
	// identifier. Active users take precedence over inactive ones.
	// Returns ErrNotFound if nothing matches.
	FindByUsernameOrEmail(ctx context.Context, identifier string) (*User, error)

	// GetByID retrieves a user by ID. Returns ErrNotFound if absent.
	GetByID(ctx context.Context, id string) (*User, error)

	// Save inserts or replaces a user. Fails with code USER_DUPLICATE when
	// the username or email collides with another active user.
	Save(ctx context.Context, user *User) error

	// ListActive returns active users ordered by creation time.
	ListActive(ctx context.Context) ([]*User, error)

	// ListAll returns every user ordered by creation time.
	ListAll(ctx context.Context) ([]*User, error)

	// Count returns the number of stored users.
	Count(ctx context.Context) (int, error)
}
