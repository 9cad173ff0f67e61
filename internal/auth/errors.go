// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Pharmadiet Contributors

package auth

import (
	"errors"
	"fmt"

	"github.com/samber/oops"
)

// ErrNotFound is returned when a requested entity does not exist.
var ErrNotFound = errors.New("not found")

// Error codes carried by oops errors returned from this package.
const (
	CodeValidation         = "AUTH_VALIDATION"
	CodeInvalidCredentials = "AUTH_INVALID_CREDENTIALS"
	CodeAccountLocked      = "AUTH_ACCOUNT_LOCKED"
	CodeNoSession          = "AUTH_NO_SESSION"
	CodePermissionDenied   = "AUTH_PERMISSION_DENIED"
	CodeLoginFailed        = "AUTH_LOGIN_FAILED"
	CodeUserNotFound       = "USER_NOT_FOUND"
	CodeUserDuplicate      = "USER_DUPLICATE"
	CodeUserInvalid        = "USER_INVALID"
	CodePasswordIncorrect  = "PASSWORD_INCORRECT"
	CodePasswordTooWeak    = "PASSWORD_TOO_WEAK"
	CodeSessionNotFound    = "SESSION_NOT_FOUND"
	CodeTokenExpired       = "TOKEN_EXPIRED"
	CodeTokenInvalid       = "TOKEN_INVALID"
	CodeResetTokenInvalid  = "RESET_TOKEN_INVALID"
	CodeResetTokenExpired  = "RESET_TOKEN_EXPIRED"
)

// ErrorCode returns the oops code attached to err, or "" if none.
func ErrorCode(err error) string {
	oopsErr, ok := oops.AsOops(err)
	if !ok {
		return ""
	}
	code, _ := oopsErr.Code().(string) //nolint:errcheck // non-string codes are treated as absent
	return code
}

// PublicMessage returns text that is safe to show to an end user.
// Login failures collapse unknown-user and wrong-password into one message.
func PublicMessage(err error) string {
	if err == nil {
		return ""
	}
	oopsErr, ok := oops.AsOops(err)
	if !ok {
		return "An unexpected error occurred"
	}
	ctx := oopsErr.Context()

	switch ErrorCode(err) {
	case CodeValidation, CodeUserInvalid, CodePasswordTooWeak:
		return oopsErr.Error()
	case CodeInvalidCredentials:
		if remaining, ok := ctx["attempts_remaining"].(int); ok && remaining > 0 {
			return fmt.Sprintf("Invalid username or password. %d attempts remaining.", remaining)
		}
		return "Invalid username or password"
	case CodeAccountLocked:
		return "Account is temporarily locked. Try again later."
	case CodeNoSession:
		return "No active session. Please log in."
	case CodePermissionDenied:
		if perm, ok := ctx["permission"]; ok {
			return fmt.Sprintf("You don't have permission: %v", perm)
		}
		return "Permission denied"
	case CodeUserNotFound:
		return "User not found"
	case CodeUserDuplicate:
		return "Username or email already exists"
	case CodePasswordIncorrect:
		return "Current password is incorrect"
	case CodeSessionNotFound:
		return "Session not found"
	case CodeTokenExpired, CodeTokenInvalid:
		return "Invalid or expired token"
	case CodeResetTokenInvalid, CodeResetTokenExpired:
		return "Invalid or expired password reset code"
	default:
		return "An unexpected error occurred"
	}
}
