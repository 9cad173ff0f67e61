// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Pharmadiet Contributors

package main

import (
	"context"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/pharmadiet/pharmadiet/internal/auth"
	"github.com/pharmadiet/pharmadiet/internal/auth/postgres"
	"github.com/pharmadiet/pharmadiet/internal/observability"
	"github.com/pharmadiet/pharmadiet/internal/store"
)

// Database is an open durable user store.
type Database struct {
	Users  auth.UserRepository
	Resets auth.PasswordResetRepository
	Ping   func(ctx context.Context) error
	Close  func()
}

// AutoMigrator applies pending migrations at startup.
type AutoMigrator interface {
	Up() error
	Close() error
}

// ObservabilityServer is the part of observability.Server that serve drives.
type ObservabilityServer interface {
	Start() (<-chan error, error)
	Stop(ctx context.Context) error
	Addr() string
}

// ServeDeps contains injectable dependencies for the serve command.
// Nil fields use their default implementations.
type ServeDeps struct {
	// DatabaseFactory opens the user store for a database URL.
	// Default: store.Connect + postgres.NewUserRepository
	DatabaseFactory func(ctx context.Context, url string) (*Database, error)

	// MigratorFactory creates a migrator for auto-migration.
	// Default: store.NewMigrator
	MigratorFactory func(url string) (AutoMigrator, error)

	// ObservabilityServerFactory creates the metrics/health server.
	// Default: observability.NewServer with auth metrics registered
	ObservabilityServerFactory func(addr string, ready observability.ReadinessChecker) ObservabilityServer

	// SignalSource returns a channel of shutdown signals and a stop func.
	// Default: SIGINT and SIGTERM
	SignalSource func() (<-chan os.Signal, func())

	// LogWriter receives process logs. Default: os.Stderr
	LogWriter io.Writer
}

func (d *ServeDeps) withDefaults() *ServeDeps {
	out := ServeDeps{}
	if d != nil {
		out = *d
	}
	if out.DatabaseFactory == nil {
		out.DatabaseFactory = openDatabase
	}
	if out.MigratorFactory == nil {
		out.MigratorFactory = func(url string) (AutoMigrator, error) {
			return store.NewMigrator(url)
		}
	}
	if out.ObservabilityServerFactory == nil {
		out.ObservabilityServerFactory = func(addr string, ready observability.ReadinessChecker) ObservabilityServer {
			return observability.NewServer(addr, ready,
				observability.WithVersion(version),
				observability.WithRegistration(auth.RegisterMetrics))
		}
	}
	if out.SignalSource == nil {
		out.SignalSource = func() (<-chan os.Signal, func()) {
			ch := make(chan os.Signal, 1)
			signal.Notify(ch, syscall.SIGINT, syscall.SIGTERM)
			return ch, func() { signal.Stop(ch) }
		}
	}
	if out.LogWriter == nil {
		out.LogWriter = os.Stderr
	}
	return &out
}

func openDatabase(ctx context.Context, url string) (*Database, error) {
	pool, err := store.Connect(ctx, url, store.ConnectOptions{})
	if err != nil {
		return nil, err //nolint:wrapcheck // store errors carry codes
	}
	return &Database{
		Users:  postgres.NewUserRepository(pool),
		Resets: postgres.NewPasswordResetRepository(pool),
		Ping:   pool.Ping,
		Close:  pool.Close,
	}, nil
}
