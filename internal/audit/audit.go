// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Pharmadiet Contributors

// Package audit records authentication events as structured log lines.
package audit

import (
	"context"
	"log/slog"
	"time"

	"github.com/pharmadiet/pharmadiet/internal/auth"
)

// Logger is an auth.Observer that writes one line per event.
type Logger struct {
	logger *slog.Logger
}

// NewLogger returns a Logger writing to logger, or slog.Default() if nil.
// Every line carries component=audit.
func NewLogger(logger *slog.Logger) *Logger {
	if logger == nil {
		logger = slog.Default()
	}
	return &Logger{logger: logger.With("component", "audit")}
}

// Observe implements auth.Observer.
func (l *Logger) Observe(e auth.Event) {
	attrs := []slog.Attr{
		slog.String("event", string(e.Kind)),
		slog.Time("at", e.Timestamp.UTC().Truncate(time.Millisecond)),
	}
	if e.Subject != "" {
		attrs = append(attrs, slog.String("subject", e.Subject))
	}
	if e.SubjectID != "" {
		attrs = append(attrs, slog.String("subject_id", e.SubjectID))
	}
	if e.ActorID != "" {
		attrs = append(attrs, slog.String("actor_id", e.ActorID))
	}
	if e.SessionID != "" {
		attrs = append(attrs, slog.String("session_id", sessionRef(e.SessionID)))
	}
	if e.Reason != "" {
		attrs = append(attrs, slog.String("reason", e.Reason))
	}
	l.logger.LogAttrs(context.Background(), Level(e.Kind), "audit event", attrs...)
}

// Level is the severity an event kind is logged at.
func Level(kind auth.EventKind) slog.Level {
	switch kind {
	case auth.EventAccountLocked:
		return slog.LevelWarn
	case auth.EventSessionExpired:
		return slog.LevelDebug
	}
	return slog.LevelInfo
}

// sessionRef shortens a session ID so the bearer value never lands in logs
// while lines for one session stay correlatable.
func sessionRef(id string) string {
	const keep = 8
	if len(id) <= keep {
		return id
	}
	return id[:keep] + "..."
}

var _ auth.Observer = (*Logger)(nil)
