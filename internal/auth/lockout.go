// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Pharmadiet Contributors

package auth

import (
	"time"
)

// Lockout defaults.
const (
	// DefaultMaxLoginAttempts is the number of consecutive failures that locks an account.
	DefaultMaxLoginAttempts = 5

	// DefaultLockoutDuration is how long a locked account stays locked.
	DefaultLockoutDuration = 30 * time.Minute
)

// LockoutPolicy decides when repeated login failures lock an account.
// It only mutates the User it is handed; persistence is the caller's job.
type LockoutPolicy struct {
	MaxAttempts int
	Duration    time.Duration
}

// DefaultLockoutPolicy returns the policy with default thresholds.
func DefaultLockoutPolicy() LockoutPolicy {
	return LockoutPolicy{MaxAttempts: DefaultMaxLoginAttempts, Duration: DefaultLockoutDuration}
}

// LockoutDecision is the result of a lockout check.
type LockoutDecision struct {
	// Locked indicates login must be denied.
	Locked bool

	// Remaining is the time until the lockout expires.
	Remaining time.Duration
}

// FailureOutcome describes the state after a failed attempt was recorded.
type FailureOutcome struct {
	// Locked is true only on the attempt that crossed the threshold.
	Locked bool

	// AttemptsRemaining is the number of failures left before lockout.
	AttemptsRemaining int

	// LockedUntil is set when Locked is true.
	LockedUntil time.Time
}

func (p LockoutPolicy) maxAttempts() int {
	if p.MaxAttempts <= 0 {
		return DefaultMaxLoginAttempts
	}
	return p.MaxAttempts
}

func (p LockoutPolicy) duration() time.Duration {
	if p.Duration <= 0 {
		return DefaultLockoutDuration
	}
	return p.Duration
}

// Check evaluates the lockout state at now.
func (p LockoutPolicy) Check(lockedUntil *time.Time, now time.Time) LockoutDecision {
	if lockedUntil != nil && now.Before(*lockedUntil) {
		return LockoutDecision{Locked: true, Remaining: lockedUntil.Sub(now)}
	}
	return LockoutDecision{}
}

// ClearExpired drops a lockout that has elapsed by now, resetting the
// failure count with it. Reports whether the user was modified.
func (p LockoutPolicy) ClearExpired(u *User, now time.Time) bool {
	if u.LockedUntil == nil || now.Before(*u.LockedUntil) {
		return false
	}
	u.LockedUntil = nil
	u.FailedLoginCount = 0
	return true
}

// RecordFailure counts a failed attempt against u and locks it once the
// threshold is reached.
func (p LockoutPolicy) RecordFailure(u *User, now time.Time) FailureOutcome {
	u.FailedLoginCount++
	limit := p.maxAttempts()

	if u.FailedLoginCount >= limit && u.LockedUntil == nil {
		until := now.Add(p.duration())
		u.LockedUntil = &until
		return FailureOutcome{Locked: true, LockedUntil: until}
	}

	remaining := limit - u.FailedLoginCount
	if remaining < 0 {
		remaining = 0
	}
	return FailureOutcome{AttemptsRemaining: remaining}
}

// RecordSuccess clears the failure count and any lockout.
func (p LockoutPolicy) RecordSuccess(u *User) {
	u.FailedLoginCount = 0
	u.LockedUntil = nil
}
