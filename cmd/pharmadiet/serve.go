// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Pharmadiet Contributors

package main

import (
	"context"
	"log/slog"
	"time"

	"github.com/samber/oops"
	"github.com/spf13/cobra"

	"github.com/pharmadiet/pharmadiet/internal/audit"
	"github.com/pharmadiet/pharmadiet/internal/auth"
	"github.com/pharmadiet/pharmadiet/internal/config"
	"github.com/pharmadiet/pharmadiet/internal/logging"
	"github.com/pharmadiet/pharmadiet/pkg/errutil"
)

const shutdownTimeout = 5 * time.Second

// NewServeCmd creates the serve subcommand.
func NewServeCmd() *cobra.Command {
	var autoMigrate bool

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the authentication engine",
		Long: `Run the authentication engine: load configuration, open the user store,
create the default administrator on an empty store, sweep expired sessions
and serve metrics until interrupted.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runServeWithDeps(cmd.Context(), cmd, autoMigrate, nil)
		},
	}

	config.RegisterFlags(cmd.Flags())
	cmd.Flags().BoolVar(&autoMigrate, "auto-migrate", true, "apply pending migrations before serving (database mode only)")

	return cmd
}

func runServeWithDeps(ctx context.Context, cmd *cobra.Command, autoMigrate bool, deps *ServeDeps) error {
	if ctx == nil {
		ctx = context.Background()
	}
	deps = deps.withDefaults()

	cfg, err := loadConfig(cmd.Flags())
	if err != nil {
		return err
	}

	opts := cfg.LoggingOptions("pharmadiet", version)
	opts.Writer = deps.LogWriter
	logger := logging.SetDefault(opts)

	if err := cfg.EnsureJWTSecret(logger); err != nil {
		return err //nolint:wrapcheck // config errors carry codes
	}

	db, err := openUsers(ctx, cfg, autoMigrate, deps, logger)
	if err != nil {
		errutil.LogErrorContext(ctx, logger, "failed to open user store", err)
		return err
	}
	defer db.Close()

	svc, err := buildService(cfg, db, logger)
	if err != nil {
		return err
	}

	created, err := svc.Bootstrap(ctx)
	if err != nil {
		errutil.LogErrorContext(ctx, logger, "bootstrap failed", err)
		return err //nolint:wrapcheck // service errors carry codes
	}
	if created {
		cmd.Println("Created default administrator 'admin'; change its password now.")
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	if err := svc.Start(ctx); err != nil {
		return oops.Code("SERVE_START_FAILED").With("component", "session sweep").Wrap(err)
	}
	defer svc.Close()

	var obs ObservabilityServer
	if cfg.Metrics.Addr != "" {
		obs = deps.ObservabilityServerFactory(cfg.Metrics.Addr, db.Ping)
		obsErrCh, err := obs.Start()
		if err != nil {
			return oops.Code("SERVE_START_FAILED").With("component", "observability").Wrap(err)
		}
		go monitorServerErrors(ctx, cancel, obsErrCh, "observability", logger)
	}

	sigCh, stopSignals := deps.SignalSource()
	defer stopSignals()

	cmd.Println("Pharmadiet engine started")
	logger.InfoContext(ctx, "pharmadiet ready",
		"storage", storageKind(cfg),
		"max_login_attempts", cfg.Security.MaxLoginAttempts,
		"session_timeout", cfg.Security.SessionTimeout,
		"metrics_addr", cfg.Metrics.Addr)

	select {
	case sig := <-sigCh:
		logger.Info("received shutdown signal", "signal", sig)
	case <-ctx.Done():
		logger.Info("context cancelled, shutting down")
	}

	if obs != nil {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer shutdownCancel()
		if err := obs.Stop(shutdownCtx); err != nil {
			logger.Warn("error stopping observability server", "error", err)
		}
	}

	logger.Info("shutdown complete")
	return nil
}

// openUsers selects the user store. Without a database URL users and reset
// codes live in memory and vanish on exit.
func openUsers(
	ctx context.Context,
	cfg config.Config,
	autoMigrate bool,
	deps *ServeDeps,
	logger *slog.Logger,
) (*Database, error) {
	if cfg.Database.URL == "" {
		logger.Warn("database.url not set; users are kept in memory and lost on exit")
		return &Database{
			Users:  auth.NewDirectory(),
			Resets: auth.NewResetStore(),
			Close:  func() {},
		}, nil
	}

	if autoMigrate {
		if err := runAutoMigrate(cfg.Database.URL, deps, logger); err != nil {
			return nil, err
		}
	}

	db, err := deps.DatabaseFactory(ctx, cfg.Database.URL)
	if err != nil {
		return nil, oops.Code("DB_CONNECT_FAILED").Wrap(err)
	}
	logger.Info("connected to database")
	return db, nil
}

func runAutoMigrate(url string, deps *ServeDeps, logger *slog.Logger) (err error) {
	migrator, err := deps.MigratorFactory(url)
	if err != nil {
		return oops.Code("AUTO_MIGRATE_FAILED").With("operation", "create migrator").Wrap(err)
	}
	defer func() {
		if closeErr := migrator.Close(); closeErr != nil {
			logger.Warn("failed to close migrator", "error", closeErr)
		}
	}()

	if err := migrator.Up(); err != nil {
		return oops.Code("AUTO_MIGRATE_FAILED").With("operation", "apply migrations").Wrap(err)
	}
	logger.Info("database migrations applied")
	return nil
}

func buildService(cfg config.Config, db *Database, logger *slog.Logger) (*auth.Service, error) {
	tokens, err := auth.NewTokenService([]byte(cfg.Security.JWTSecret), cfg.Security.TokenTTL,
		auth.WithTokenLogger(logger))
	if err != nil {
		return nil, err //nolint:wrapcheck // auth errors carry codes
	}

	bus := auth.NewEventBus()
	bus.Subscribe(audit.NewLogger(logger))

	registry := auth.NewSessionRegistry(
		auth.WithSweepInterval(cfg.Session.SweepInterval),
		auth.WithSessionLogger(logger),
	)

	opts := []auth.ServiceOption{
		auth.WithConfig(cfg.AuthConfig()),
		auth.WithTokenService(tokens),
		auth.WithEventBus(bus),
		auth.WithLogger(logger),
	}
	if db.Resets != nil {
		opts = append(opts, auth.WithResetStore(db.Resets))
	}

	svc, err := auth.NewService(db.Users, auth.NewPBKDF2Hasher(cfg.Security.HashIterations), registry, opts...)
	if err != nil {
		return nil, err //nolint:wrapcheck // auth errors carry codes
	}
	return svc, nil
}

func storageKind(cfg config.Config) string {
	if cfg.Database.URL == "" {
		return "memory"
	}
	return "postgres"
}

// monitorServerErrors cancels ctx when a background server fails.
func monitorServerErrors(ctx context.Context, cancel context.CancelFunc, errCh <-chan error, name string, logger *slog.Logger) {
	select {
	case err, ok := <-errCh:
		if ok && err != nil {
			logger.Error("server error, triggering shutdown", "server", name, "error", err)
			cancel()
		}
	case <-ctx.Done():
	}
}
