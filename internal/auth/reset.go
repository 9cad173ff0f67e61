// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Pharmadiet Contributors

package auth

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"sync"
	"time"

	"github.com/samber/oops"
)

// Reset token parameters.
const (
	ResetTokenBytes      = 32 // 64 hex chars
	DefaultResetTokenTTL = time.Hour
)

// PasswordReset is an outstanding one-time password reset.
// Only the SHA-256 of the token is kept.
type PasswordReset struct {
	ID        string
	UserID    string
	TokenHash string
	IssuedBy  string
	ExpiresAt time.Time
	CreatedAt time.Time
}

// Expired reports whether the reset can no longer be redeemed at now.
func (r *PasswordReset) Expired(now time.Time) bool {
	return !now.Before(r.ExpiresAt)
}

// GenerateResetToken returns a random token and the hash to store for it.
func GenerateResetToken() (token, hash string, err error) {
	b := make([]byte, ResetTokenBytes)
	if _, err = rand.Read(b); err != nil {
		return "", "", oops.Code("RESET_TOKEN_GENERATE_FAILED").Wrap(err)
	}
	token = hex.EncodeToString(b)
	return token, HashResetToken(token), nil
}

// HashResetToken computes the stored form of a reset token.
func HashResetToken(token string) string {
	h := sha256.Sum256([]byte(token))
	return hex.EncodeToString(h[:])
}

// VerifyResetToken compares token against hash in constant time.
func VerifyResetToken(token, hash string) bool {
	if token == "" || hash == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(HashResetToken(token)), []byte(hash)) == 1
}

// PasswordResetRepository persists outstanding password resets.
type PasswordResetRepository interface {
	// Create stores a reset.
	Create(ctx context.Context, reset *PasswordReset) error

	// GetByTokenHash returns the reset with the given token hash.
	// Misses wrap ErrNotFound.
	GetByTokenHash(ctx context.Context, tokenHash string) (*PasswordReset, error)

	// ConsumeByTokenHash deletes the reset with the given token hash and
	// returns it. Of concurrent callers only one gets the row; the rest see
	// ErrNotFound.
	ConsumeByTokenHash(ctx context.Context, tokenHash string) (*PasswordReset, error)

	// DeleteByUser removes every reset of a user.
	DeleteByUser(ctx context.Context, userID string) error

	// DeleteExpired removes resets that expired before now and reports how many.
	DeleteExpired(ctx context.Context, now time.Time) (int64, error)
}

// ResetStore is an in-memory PasswordResetRepository.
type ResetStore struct {
	mu     sync.Mutex
	byHash map[string]PasswordReset
}

// NewResetStore creates an empty ResetStore.
func NewResetStore() *ResetStore {
	return &ResetStore{byHash: make(map[string]PasswordReset)}
}

// Create implements PasswordResetRepository.
func (s *ResetStore) Create(_ context.Context, reset *PasswordReset) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.byHash[reset.TokenHash]; ok {
		return oops.Code("RESET_CREATE_FAILED").Errorf("token hash already stored")
	}
	s.byHash[reset.TokenHash] = *reset
	return nil
}

// GetByTokenHash implements PasswordResetRepository.
func (s *ResetStore) GetByTokenHash(_ context.Context, tokenHash string) (*PasswordReset, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.byHash[tokenHash]
	if !ok {
		return nil, oops.Code("RESET_NOT_FOUND").Wrap(ErrNotFound)
	}
	return &r, nil
}

// ConsumeByTokenHash implements PasswordResetRepository.
func (s *ResetStore) ConsumeByTokenHash(_ context.Context, tokenHash string) (*PasswordReset, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.byHash[tokenHash]
	if !ok {
		return nil, oops.Code("RESET_NOT_FOUND").Wrap(ErrNotFound)
	}
	delete(s.byHash, tokenHash)
	return &r, nil
}

// DeleteByUser implements PasswordResetRepository.
func (s *ResetStore) DeleteByUser(_ context.Context, userID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for hash, r := range s.byHash {
		if r.UserID == userID {
			delete(s.byHash, hash)
		}
	}
	return nil
}

// DeleteExpired implements PasswordResetRepository.
func (s *ResetStore) DeleteExpired(_ context.Context, now time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for hash, r := range s.byHash {
		if r.Expired(now) {
			delete(s.byHash, hash)
			n++
		}
	}
	return n, nil
}

var _ PasswordResetRepository = (*ResetStore)(nil)
