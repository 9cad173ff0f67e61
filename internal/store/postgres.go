// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Pharmadiet Contributors

// Package store manages the PostgreSQL connection pool and schema migrations
// backing durable user storage.
package store

import (
	"context"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/samber/oops"
	"github.com/sethvargo/go-retry"
)

// Default connection retry settings.
const (
	DefaultConnectAttempts = 5
	DefaultConnectBackoff  = 500 * time.Millisecond
	maxConnectBackoff      = 5 * time.Second
)

// pinger is the part of *pgxpool.Pool used to probe readiness.
type pinger interface {
	Ping(ctx context.Context) error
}

// ConnectOptions tunes Connect.
type ConnectOptions struct {
	Attempts uint64
	Backoff  time.Duration
	Logger   *slog.Logger
}

func (o ConnectOptions) withDefaults() ConnectOptions {
	if o.Attempts == 0 {
		o.Attempts = DefaultConnectAttempts
	}
	if o.Backoff <= 0 {
		o.Backoff = DefaultConnectBackoff
	}
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
	return o
}

// Connect opens a pool for dsn and waits until the database answers a ping,
// retrying with capped exponential backoff. The database often starts
// alongside the service, so the first pings may fail.
func Connect(ctx context.Context, dsn string, opts ConnectOptions) (*pgxpool.Pool, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, oops.Code("DB_CONFIG_INVALID").With("operation", "parse database url").Wrap(err)
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, oops.Code("DB_CONNECT_FAILED").With("operation", "create pool").Wrap(err)
	}
	if err := waitReady(ctx, pool, opts); err != nil {
		pool.Close()
		return nil, err
	}
	return pool, nil
}

func waitReady(ctx context.Context, db pinger, opts ConnectOptions) error {
	opts = opts.withDefaults()

	backoff := retry.NewExponential(opts.Backoff)
	backoff = retry.WithCappedDuration(maxConnectBackoff, backoff)
	backoff = retry.WithMaxRetries(opts.Attempts-1, backoff)

	attempt := 0
	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		attempt++
		if err := db.Ping(ctx); err != nil {
			opts.Logger.WarnContext(ctx, "database not ready",
				"attempt", attempt,
				"max_attempts", opts.Attempts,
				"error", err)
			return retry.RetryableError(err)
		}
		return nil
	})
	if err != nil {
		return oops.Code("DB_CONNECT_FAILED").
			With("operation", "ping database").
			With("attempts", attempt).
			Wrap(err)
	}
	return nil
}
