// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Pharmadiet Contributors

package auth

import (
	"context"
	"errors"
	"strings"

	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"

	"github.com/pharmadiet/pharmadiet/internal/access"
)

// IssuePasswordReset creates a one-time code that lets the user found by
// identifier set a new password without knowing the old one. Requires
// user:manage. The code is returned once and handed over out of band; any
// earlier code for the same user stops working.
func (s *Service) IssuePasswordReset(ctx context.Context, identifier string) (string, error) {
	actor, err := s.RequirePermission(access.UserManage)
	if err != nil {
		return "", err
	}

	user, err := s.users.FindByUsernameOrEmail(ctx, strings.TrimSpace(identifier))
	if err != nil {
		return "", s.wrapLookupError(err, identifier)
	}
	if !user.IsActive {
		return "", oops.Code(CodeValidation).
			With("user_id", user.ID).
			Errorf("cannot reset the password of an inactive account")
	}

	now := s.clock()
	if n, err := s.resets.DeleteExpired(ctx, now); err != nil {
		s.logger.WarnContext(ctx, "best-effort reset cleanup failed", "error", err)
	} else if n > 0 {
		s.logger.DebugContext(ctx, "expired password resets removed", "count", n)
	}

	if err := s.resets.DeleteByUser(ctx, user.ID); err != nil {
		return "", oops.Code("RESET_ISSUE_FAILED").
			With("operation", "revoke previous resets").
			With("user_id", user.ID).
			Wrap(err)
	}

	token, hash, err := GenerateResetToken()
	if err != nil {
		return "", err
	}
	reset := &PasswordReset{
		ID:        ulid.Make().String(),
		UserID:    user.ID,
		TokenHash: hash,
		IssuedBy:  actor.UserID,
		ExpiresAt: now.Add(s.cfg.ResetTokenTTL),
		CreatedAt: now,
	}
	if err := s.resets.Create(ctx, reset); err != nil {
		return "", oops.Code("RESET_ISSUE_FAILED").
			With("operation", "store reset").
			With("user_id", user.ID).
			Wrap(err)
	}

	s.logger.InfoContext(ctx, "password reset issued",
		"user_id", user.ID, "username", user.Username, "actor_id", actor.UserID, "expires_at", reset.ExpiresAt)
	s.publish(EventPasswordResetIssued, user.ID, user.Username, actor.UserID, "")
	return token, nil
}

// RedeemPasswordReset sets a new password using a code from
// IssuePasswordReset. No session is needed. A successful reset clears any
// lockout, revokes the user's outstanding codes and ends the user's sessions.
func (s *Service) RedeemPasswordReset(ctx context.Context, token, newPassword string) error {
	if token == "" || newPassword == "" {
		return oops.Code(CodeValidation).Errorf("reset code and new password are required")
	}

	reset, err := s.resets.GetByTokenHash(ctx, HashResetToken(token))
	switch {
	case errors.Is(err, ErrNotFound):
		return oops.Code(CodeResetTokenInvalid).Errorf("reset code not recognized")
	case err != nil:
		return oops.Code("RESET_REDEEM_FAILED").With("operation", "find reset").Wrap(err)
	}

	now := s.clock()
	if reset.Expired(now) {
		s.revokeResets(ctx, reset.UserID)
		return oops.Code(CodeResetTokenExpired).
			With("user_id", reset.UserID).
			With("expired_at", reset.ExpiresAt).
			Errorf("reset code has expired")
	}
	if err := s.cfg.Password.Check(newPassword); err != nil {
		return err
	}

	unlock := s.lockUser(reset.UserID)
	defer unlock()

	// Only one redeem may take the code; a concurrent one finds it gone.
	reset, err = s.resets.ConsumeByTokenHash(ctx, reset.TokenHash)
	switch {
	case errors.Is(err, ErrNotFound):
		return oops.Code(CodeResetTokenInvalid).Errorf("reset code not recognized")
	case err != nil:
		return oops.Code("RESET_REDEEM_FAILED").With("operation", "consume reset").Wrap(err)
	}

	user, err := s.getUser(ctx, reset.UserID)
	if err != nil {
		return err
	}
	if !user.IsActive {
		s.revokeResets(ctx, user.ID)
		return oops.Code(CodeResetTokenInvalid).
			With("user_id", user.ID).
			Errorf("account is no longer active")
	}

	if err := s.setPassword(user, newPassword); err != nil {
		return err
	}
	s.cfg.Lockout.RecordSuccess(user)
	if err := s.users.Save(ctx, user); err != nil {
		return oops.Code("RESET_REDEEM_FAILED").With("operation", "save user").With("user_id", user.ID).Wrap(err)
	}

	s.revokeResets(ctx, user.ID)
	s.endUserSessions(user, reset.IssuedBy, "password_reset")

	s.logger.InfoContext(ctx, "password reset completed", "user_id", user.ID, "username", user.Username)
	s.publish(EventPasswordReset, user.ID, user.Username, reset.IssuedBy, "")
	return nil
}

// revokeResets drops a user's codes. The password change already happened
// or was refused, so failures are only logged.
func (s *Service) revokeResets(ctx context.Context, userID string) {
	if err := s.resets.DeleteByUser(ctx, userID); err != nil {
		s.logger.WarnContext(ctx, "best-effort reset cleanup failed",
			"operation", "delete_by_user", "user_id", userID, "error", err)
	}
}
