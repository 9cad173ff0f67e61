// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Pharmadiet Contributors

package auth

import (
	"fmt"
	"strings"
	"unicode"

	"github.com/samber/oops"
)

// Password strength defaults.
const (
	DefaultMinPasswordLength = 8
	DefaultMinPasswordScore  = 3

	// PasswordRequirementCount is the maximum strength score.
	PasswordRequirementCount = 5
)

const passwordSpecials = `!@#$%^&*(),.?":{}|<>`

// PasswordRequirements records which strength rules a password meets.
type PasswordRequirements struct {
	MinLength    bool `json:"min_length"`
	HasUppercase bool `json:"has_uppercase"`
	HasLowercase bool `json:"has_lowercase"`
	HasDigit     bool `json:"has_digit"`
	HasSpecial   bool `json:"has_special"`
}

// PasswordStrength is the result of evaluating a password.
type PasswordStrength struct {
	Score        int                  `json:"score"`
	Valid        bool                 `json:"is_valid"`
	Requirements PasswordRequirements `json:"requirements"`
	Suggestions  []string             `json:"suggestions"`
}

// PasswordPolicy scores candidate passwords.
type PasswordPolicy struct {
	MinLength int
	MinScore  int
}

// DefaultPasswordPolicy returns the policy with default thresholds.
func DefaultPasswordPolicy() PasswordPolicy {
	return PasswordPolicy{MinLength: DefaultMinPasswordLength, MinScore: DefaultMinPasswordScore}
}

// Evaluate scores password against the five strength rules.
// A password is valid when it meets the length rule and at least MinScore rules overall.
func (p PasswordPolicy) Evaluate(password string) PasswordStrength {
	minLength := p.MinLength
	if minLength <= 0 {
		minLength = DefaultMinPasswordLength
	}
	minScore := p.MinScore
	if minScore <= 0 {
		minScore = DefaultMinPasswordScore
	}

	var res PasswordStrength
	for _, r := range password {
		switch {
		case unicode.IsUpper(r):
			res.Requirements.HasUppercase = true
		case unicode.IsLower(r):
			res.Requirements.HasLowercase = true
		case unicode.IsDigit(r):
			res.Requirements.HasDigit = true
		case strings.ContainsRune(passwordSpecials, r):
			res.Requirements.HasSpecial = true
		}
	}
	res.Requirements.MinLength = len([]rune(password)) >= minLength

	rules := []struct {
		met        bool
		suggestion string
	}{
		{res.Requirements.MinLength, fmt.Sprintf("use at least %d characters", minLength)},
		{res.Requirements.HasUppercase, "add an uppercase letter"},
		{res.Requirements.HasLowercase, "add a lowercase letter"},
		{res.Requirements.HasDigit, "add a digit"},
		{res.Requirements.HasSpecial, "add a special character"},
	}
	for _, rule := range rules {
		if rule.met {
			res.Score++
			continue
		}
		res.Suggestions = append(res.Suggestions, rule.suggestion)
	}

	res.Valid = res.Requirements.MinLength && res.Score >= minScore
	return res
}

// Check returns a PASSWORD_TOO_WEAK error when password fails the policy.
func (p PasswordPolicy) Check(password string) error {
	strength := p.Evaluate(password)
	if strength.Valid {
		return nil
	}
	return oops.Code(CodePasswordTooWeak).
		With("score", strength.Score).
		With("total", PasswordRequirementCount).
		With("suggestions", strength.Suggestions).
		Errorf("password is too weak (score %d/%d): %s",
			strength.Score, PasswordRequirementCount, strings.Join(strength.Suggestions, ", "))
}
