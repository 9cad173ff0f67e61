// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Pharmadiet Contributors

package auth

import (
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"

	"github.com/samber/oops"
	"golang.org/x/crypto/pbkdf2"
)

// PBKDF2 parameters.
const (
	DefaultHashIterations = 100_000 // PBKDF2-HMAC-SHA256 rounds
	SaltBytes             = 16      // salt length in bytes
	hashKeyLen            = 32      // derived key length in bytes
)

// CredentialHasher provides salted password hashing and verification.
type CredentialHasher interface {
	// GenerateSalt returns a fresh random salt, hex encoded.
	GenerateSalt() (string, error)

	// Hash derives the hex-encoded hash of password under salt.
	// The same (password, salt) pair always yields the same hash.
	Hash(password, salt string) string

	// Verify reports whether password hashes to hash under salt.
	Verify(password, hash, salt string) bool
}

// PBKDF2Hasher implements CredentialHasher with PBKDF2-HMAC-SHA256.
type PBKDF2Hasher struct {
	iterations int
}

// NewPBKDF2Hasher creates a hasher with the given iteration count.
// Non-positive values select DefaultHashIterations.
func NewPBKDF2Hasher(iterations int) *PBKDF2Hasher {
	if iterations <= 0 {
		iterations = DefaultHashIterations
	}
	return &PBKDF2Hasher{iterations: iterations}
}

// Iterations returns the configured PBKDF2 round count.
func (h *PBKDF2Hasher) Iterations() int {
	return h.iterations
}

// GenerateSalt returns SaltBytes of crypto/rand output, hex encoded.
func (h *PBKDF2Hasher) GenerateSalt() (string, error) {
	salt := make([]byte, SaltBytes)
	if _, err := rand.Read(salt); err != nil {
		return "", oops.Code("AUTH_SALT_FAILED").
			With("operation", "crypto/rand.Read").
			With("requested_bytes", SaltBytes).
			Wrap(err)
	}
	return hex.EncodeToString(salt), nil
}

// Hash derives the password hash. The salt is used as its textual bytes so
// stored hex salts round-trip without decoding.
func (h *PBKDF2Hasher) Hash(password, salt string) string {
	key := pbkdf2.Key([]byte(password), []byte(salt), h.iterations, hashKeyLen, sha256.New)
	return hex.EncodeToString(key)
}

// Verify recomputes the hash and compares the full byte sequences in
// constant time.
func (h *PBKDF2Hasher) Verify(password, hash, salt string) bool {
	computed := h.Hash(password, salt)
	return subtle.ConstantTimeCompare([]byte(computed), []byte(hash)) == 1
}
