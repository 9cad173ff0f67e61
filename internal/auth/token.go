// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Pharmadiet Contributors

package auth

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"log/slog"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/samber/oops"

	"github.com/pharmadiet/pharmadiet/internal/access"
)

// DefaultTokenTTL is the lifetime of an issued bearer token.
const DefaultTokenTTL = 24 * time.Hour

// Token verification failures.
var (
	ErrTokenExpired = errors.New("token expired")
	ErrTokenInvalid = errors.New("token invalid")
)

// Claims is the payload of a bearer token.
type Claims struct {
	UserID   string      `json:"user_id"`
	Username string      `json:"username"`
	Role     access.Role `json:"role"`
	jwt.RegisteredClaims
}

// TokenService issues and verifies stateless HS256 bearer tokens.
// Tokens are not checked against the session registry.
type TokenService struct {
	secret []byte
	ttl    time.Duration
	clock  func() time.Time
	logger *slog.Logger
}

// TokenOption configures a TokenService.
type TokenOption func(*TokenService)

// WithTokenClock sets the time source used for iat, exp and validation.
func WithTokenClock(clock func() time.Time) TokenOption {
	return func(s *TokenService) { s.clock = clock }
}

// WithTokenLogger sets the logger.
func WithTokenLogger(logger *slog.Logger) TokenOption {
	return func(s *TokenService) { s.logger = logger }
}

// NewTokenService creates a TokenService signing with secret.
// A non-positive ttl selects DefaultTokenTTL.
func NewTokenService(secret []byte, ttl time.Duration, opts ...TokenOption) (*TokenService, error) {
	if len(secret) == 0 {
		return nil, oops.Code("TOKEN_SECRET_MISSING").Errorf("token signing secret cannot be empty")
	}
	if ttl <= 0 {
		ttl = DefaultTokenTTL
	}
	s := &TokenService{
		secret: append([]byte(nil), secret...),
		ttl:    ttl,
		clock:  time.Now,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// TTL returns the lifetime of issued tokens.
func (s *TokenService) TTL() time.Duration {
	return s.ttl
}

// Issue signs a token for user.
func (s *TokenService) Issue(user *User) (string, error) {
	now := s.clock()
	claims := Claims{
		UserID:   user.ID,
		Username: user.Username,
		Role:     user.Role,
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(s.ttl)),
		},
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
	if err != nil {
		return "", oops.Code("TOKEN_SIGN_FAILED").With("user_id", user.ID).Wrap(err)
	}
	return signed, nil
}

// Verify checks the signature and expiry of token and returns its claims.
// Failures wrap ErrTokenExpired or ErrTokenInvalid.
func (s *TokenService) Verify(token string) (*Claims, error) {
	claims := &Claims{}
	_, err := jwt.ParseWithClaims(token, claims,
		func(*jwt.Token) (any, error) { return s.secret, nil },
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(s.clock),
		jwt.WithExpirationRequired(),
		jwt.WithIssuedAt(),
	)
	switch {
	case err == nil:
	case errors.Is(err, jwt.ErrTokenExpired):
		recordTokenVerification(ResultExpired)
		s.logger.Info("bearer token expired")
		return nil, oops.Code(CodeTokenExpired).Wrap(ErrTokenExpired)
	default:
		recordTokenVerification(ResultInvalid)
		s.logger.Warn("bearer token rejected", "reason", err.Error())
		return nil, oops.Code(CodeTokenInvalid).Wrapf(ErrTokenInvalid, "%s", err.Error())
	}

	if claims.UserID == "" || !claims.Role.Valid() {
		recordTokenVerification(ResultInvalid)
		return nil, oops.Code(CodeTokenInvalid).
			With("role", claims.Role).
			Wrapf(ErrTokenInvalid, "token claims incomplete")
	}

	recordTokenVerification(ResultSuccess)
	return claims, nil
}

// GenerateSecret returns 32 random bytes, hex encoded, for use as a signing secret.
func GenerateSecret() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", oops.Code("TOKEN_SECRET_GENERATE_FAILED").Wrap(err)
	}
	return hex.EncodeToString(b), nil
}
