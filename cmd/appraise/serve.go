// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Appraise Contributors

package main

import (
	"context"
	"log/slog"
	"os/signal"
	"syscall"
	"time"

	"github.com/samber/oops"
	"github.com/spf13/cobra"

	"github.com/appraise-dev/appraise/internal/auth"
	authpg "github.com/appraise-dev/appraise/internal/auth/postgres"
	"github.com/appraise-dev/appraise/internal/config"
	"github.com/appraise-dev/appraise/internal/httpapi"
	"github.com/appraise-dev/appraise/internal/logging"
	"github.com/appraise-dev/appraise/internal/observability"
	"github.com/appraise-dev/appraise/internal/store"
)

// shutdownTimeout bounds graceful shutdown of the HTTP servers.
const shutdownTimeout = 15 * time.Second

// newServeCmd creates the serve subcommand with all flags configured.
func newServeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the auth service",
		Long: `Start the auth HTTP service: login, two-phase registration,
session introspection, and logout endpoints, plus a metrics listener.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(configFile, cmd.Flags())
			if err != nil {
				return err
			}
			return runServe(cmd.Context(), cfg)
		},
	}

	// Flag names mirror config keys; flags beat the config file.
	cmd.Flags().String("server.addr", "", "API listen address")
	cmd.Flags().String("server.metrics-addr", "", "metrics/health HTTP address (empty = disabled)")
	cmd.Flags().String("database.url", "", "PostgreSQL connection string")
	cmd.Flags().String("log.format", "", "log format (json or text)")

	return cmd
}

// runServe wires the service together and blocks until shutdown.
func runServe(ctx context.Context, cfg config.Config) error {
	logging.SetDefault("appraise", version, cfg.Log.Format, logging.ParseLevel("info"))

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	slog.Info("starting auth service",
		"addr", cfg.Server.Addr,
		"metrics_addr", cfg.Server.MetricsAddr,
	)

	pool, err := store.Connect(ctx, cfg.Database.URL)
	if err != nil {
		return oops.Code("SERVE_FAILED").With("operation", "connect database").Wrap(err)
	}
	defer pool.Close()

	// Components are constructed explicitly and injected; no ambient globals.
	accounts := authpg.NewAccountRepository(pool)
	codes := authpg.NewVerificationCodeRepository(pool)
	sessions := authpg.NewSessionRepository(pool)

	hasher := auth.NewArgon2idHasher(auth.DefaultArgon2Params())

	issuer, err := auth.NewCodeIssuer(codes, cfg.Verification.TTL)
	if err != nil {
		return oops.Code("SERVE_FAILED").With("operation", "create code issuer").Wrap(err)
	}

	sessionStore, err := auth.NewSessionStore(sessions, cfg.Session.Lifetime, slog.Default())
	if err != nil {
		return oops.Code("SERVE_FAILED").With("operation", "create session store").Wrap(err)
	}

	notifier := auth.NewLogNotifier(slog.Default())

	svc, err := auth.NewService(accounts, issuer, sessionStore, hasher, notifier, slog.Default())
	if err != nil {
		return oops.Code("SERVE_FAILED").With("operation", "create auth service").Wrap(err)
	}

	// Metrics server (optional)
	var metrics *observability.Metrics
	var obsErrCh <-chan error
	var obsServer *observability.Server
	if cfg.Server.MetricsAddr != "" {
		obsServer = observability.NewServer(cfg.Server.MetricsAddr, func() bool {
			pingCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			return pool.Ping(pingCtx) == nil
		})
		obsErrCh, err = obsServer.Start()
		if err != nil {
			return oops.Code("SERVE_FAILED").With("operation", "start metrics server").Wrap(err)
		}
		metrics = obsServer.Metrics()
	}

	// Hourly housekeeping: expired sessions and verification codes are
	// inert either way, this just keeps the tables from growing.
	go runSweeper(ctx, sessionStore, codes)

	handler := httpapi.NewHandler(svc, cfg.Session.Cookie, metrics)
	apiServer := httpapi.NewServer(cfg.Server.Addr, handler.Router())
	apiErrCh, err := apiServer.Start()
	if err != nil {
		return oops.Code("SERVE_FAILED").With("operation", "start api server").Wrap(err)
	}

	select {
	case <-ctx.Done():
		slog.Info("shutdown signal received")
	case err := <-apiErrCh:
		if err != nil {
			slog.Error("api server failed", "error", err)
		}
	case err := <-obsErrCh:
		if err != nil {
			slog.Error("metrics server failed", "error", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if stopErr := apiServer.Stop(shutdownCtx); stopErr != nil {
		slog.Warn("api server shutdown failed", "error", stopErr)
	}
	if obsServer != nil {
		if stopErr := obsServer.Stop(shutdownCtx); stopErr != nil {
			slog.Warn("metrics server shutdown failed", "error", stopErr)
		}
	}

	return nil
}

// sweepInterval is how often expired sessions and codes are purged.
const sweepInterval = time.Hour

// runSweeper purges expired sessions and verification codes until the
// context is cancelled.
func runSweeper(ctx context.Context, sessions *auth.SessionStore, codes auth.VerificationCodeRepository) {
	ticker := time.NewTicker(sweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		if count, err := sessions.Sweep(ctx); err != nil {
			slog.Warn("session sweep failed", "error", err)
		} else if count > 0 {
			slog.Debug("swept expired sessions", "count", count)
		}

		if count, err := codes.DeleteExpired(ctx); err != nil {
			slog.Warn("code sweep failed", "error", err)
		} else if count > 0 {
			slog.Debug("swept expired codes", "count", count)
		}
	}
}
