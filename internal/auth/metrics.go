// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Pharmadiet Contributors

package auth

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Result labels for login and token metrics.
const (
	ResultSuccess            = "success"
	ResultInvalidCredentials = "invalid_credentials"
	ResultLocked             = "locked"
	ResultValidation         = "validation"
	ResultError              = "error"
	ResultExpired            = "expired"
	ResultInvalid            = "invalid"
)

// LoginAttempts counts login attempts by result.
// Use RegisterMetrics to register this with a Prometheus registry.
var LoginAttempts = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "pharmadiet_login_attempts_total",
		Help: "Total number of login attempts",
	},
	[]string{"result"},
)

// AccountLockouts counts accounts locked after repeated failures.
var AccountLockouts = prometheus.NewCounter(
	prometheus.CounterOpts{
		Name: "pharmadiet_account_lockouts_total",
		Help: "Total number of account lockouts",
	},
)

// ActiveSessions tracks sessions currently held by the registry.
var ActiveSessions = prometheus.NewGauge(
	prometheus.GaugeOpts{
		Name: "pharmadiet_active_sessions",
		Help: "Number of sessions currently registered",
	},
)

// SessionsExpired counts sessions removed by the expiry sweep.
var SessionsExpired = prometheus.NewCounter(
	prometheus.CounterOpts{
		Name: "pharmadiet_sessions_expired_total",
		Help: "Total number of sessions removed by the expiry sweep",
	},
)

// TokenVerifications counts bearer token verifications by result.
var TokenVerifications = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "pharmadiet_token_verifications_total",
		Help: "Total number of bearer token verifications",
	},
	[]string{"result"},
)

// RegisterMetrics registers auth package metrics with the given Prometheus registry.
// Panics if registration fails (following prometheus convention).
func RegisterMetrics(reg prometheus.Registerer) {
	reg.MustRegister(LoginAttempts)
	reg.MustRegister(AccountLockouts)
	reg.MustRegister(ActiveSessions)
	reg.MustRegister(SessionsExpired)
	reg.MustRegister(TokenVerifications)
}

func recordLogin(result string) {
	LoginAttempts.WithLabelValues(result).Inc()
}

func recordTokenVerification(result string) {
	TokenVerifications.WithLabelValues(result).Inc()
}
