// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/samber/oops"
	"github.com/spf13/cobra"

	"github.com/holomush/authd/internal/auth"
	"github.com/holomush/authd/internal/auth/memory"
	"github.com/holomush/authd/internal/auth/postgres"
	"github.com/holomush/authd/internal/config"
	"github.com/holomush/authd/internal/httpapi"
	"github.com/holomush/authd/internal/logging"
	"github.com/holomush/authd/internal/store"
)

const readinessTimeout = 2 * time.Second

// serveFlagKeys maps serve flags to config keys.
var serveFlagKeys = map[string]string{
	"addr":         "http.addr",
	"metrics-addr": "metrics.addr",
	"log-format":   "log.format",
	"store":        "store.driver",
	"database-url": "database.url",
	"auto-migrate": "database.auto_migrate",
}

// NewServeCmd creates the serve subcommand.
func NewServeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP API server",
		Long: `Start the authd HTTP API together with the metrics and health
endpoints. Runs until SIGINT or SIGTERM.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(cmd, serveFlagKeys)
			if err != nil {
				return err
			}
			return runServeWithDeps(cmd.Context(), cfg, cmd, nil)
		},
	}

	defaults := config.Defaults()
	cmd.Flags().String("addr", defaults["http.addr"].(string), "HTTP API listen address")
	cmd.Flags().String("metrics-addr", defaults["metrics.addr"].(string), "metrics/health HTTP address (empty = disabled)")
	cmd.Flags().String("log-format", defaults["log.format"].(string), "log format (json or text)")
	cmd.Flags().String("store", defaults["store.driver"].(string), "credential store (memory or postgres)")
	cmd.Flags().String("database-url", "", "PostgreSQL URL (default: DATABASE_URL)")
	cmd.Flags().Bool("auto-migrate", false, "apply pending migrations before serving")

	return cmd
}

// runServeWithDeps starts the server with injectable dependencies.
// If deps is nil, default implementations are used.
func runServeWithDeps(ctx context.Context, cfg *config.Config, cmd *cobra.Command, deps *ServeDeps) error {
	deps = deps.withDefaults()
	if ctx == nil {
		ctx = context.Background()
	}

	logger := logging.SetDefault("authd", version, cfg.Log.Format, cfg.Log.Redact)
	logger.Info("starting authd",
		"http_addr", cfg.HTTP.Addr,
		"store", cfg.Store.Driver,
		"hasher", cfg.Hasher.Algorithm,
	)

	credentials, ready, closeStore, err := openStore(ctx, cfg, deps, logger)
	if err != nil {
		return err
	}
	defer closeStore()

	hasher, err := auth.NewPasswordHasher(cfg.Hasher)
	if err != nil {
		return oops.Code("CONFIG_INVALID").With("key", "hasher").Wrap(err)
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	serviceOpts := []auth.ServiceOption{auth.WithLogger(logger)}
	httpOpts := []httpapi.Option{httpapi.WithLogger(logger)}

	var obsServer ObservabilityServer
	if cfg.Metrics.Addr != "" {
		obsServer = deps.ObservabilityServerFactory(cfg.Metrics.Addr, ready)
		if metrics := obsServer.Metrics(); metrics != nil {
			serviceOpts = append(serviceOpts, auth.WithRecorder(metrics))
			httpOpts = append(httpOpts, httpapi.WithObserver(metrics))
		}
		obsErrChan, startErr := obsServer.Start()
		if startErr != nil {
			return oops.Code("SERVE_FAILED").With("operation", "start observability server").Wrap(startErr)
		}
		go monitorServerErrors(ctx, cancel, obsErrChan, "observability")
		logger.Info("observability server started", "addr", obsServer.Addr())
	}

	svc, err := auth.NewService(credentials, hasher, auth.NewRandomTokenGenerator(), serviceOpts...)
	if err != nil {
		stopServer(logger, obsServer, "observability")
		return oops.Code("SERVE_FAILED").With("operation", "create auth service").Wrap(err)
	}

	apiServer, err := deps.HTTPServerFactory(svc, httpapi.Config{
		Addr:           cfg.HTTP.Addr,
		ReadTimeout:    cfg.HTTP.ReadTimeout,
		WriteTimeout:   cfg.HTTP.WriteTimeout,
		AllowedOrigins: cfg.HTTP.AllowedOrigins,
		PublicPaths:    cfg.HTTP.PublicPaths,
		CookieName:     cfg.Session.CookieName,
		CookieSecure:   cfg.Session.CookieSecure,
	}, httpOpts...)
	if err != nil {
		stopServer(logger, obsServer, "observability")
		return oops.Code("SERVE_FAILED").With("operation", "create http server").Wrap(err)
	}

	apiErrChan, err := apiServer.Start()
	if err != nil {
		stopServer(logger, obsServer, "observability")
		return oops.Code("SERVE_FAILED").With("operation", "start http server").Wrap(err)
	}
	go monitorServerErrors(ctx, cancel, apiErrChan, "http")

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	cmd.Println("authd started")
	logger.Info("authd ready", "http_addr", apiServer.Addr())

	select {
	case sig := <-sigChan:
		logger.Info("received shutdown signal", "signal", sig)
	case <-ctx.Done():
		logger.Info("context cancelled, shutting down")
	}

	timeout := cfg.HTTP.ShutdownTimeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), timeout)
	defer shutdownCancel()

	if err := apiServer.Stop(shutdownCtx); err != nil {
		logger.Warn("error stopping http server", "error", err)
	}
	if obsServer != nil {
		if err := obsServer.Stop(shutdownCtx); err != nil {
			logger.Warn("error stopping observability server", "error", err)
		}
	}

	logger.Info("shutdown complete")
	return nil
}

// openStore builds the credential store named by cfg.Store.Driver. The
// returned readiness checker reports whether the store can serve requests.
func openStore(ctx context.Context, cfg *config.Config, deps *ServeDeps, logger *slog.Logger) (auth.CredentialStore, func() bool, func(), error) {
	if cfg.Store.Driver != config.DriverPostgres {
		logger.Warn("using in-memory credential store; users are lost on restart")
		return memory.NewStore(), func() bool { return true }, func() {}, nil
	}

	if cfg.Database.AutoMigrate {
		if err := autoMigrate(cfg.Database.URL, deps, logger); err != nil {
			return nil, nil, nil, err
		}
	}

	db, err := deps.DatabaseConnector(ctx, cfg.Database.URL, store.ConnectOptions{
		Attempts: cfg.Database.ConnectAttempts,
		MaxConns: cfg.Database.MaxConns,
	})
	if err != nil {
		return nil, nil, nil, oops.Code("SERVE_FAILED").With("operation", "connect to database").Wrap(err)
	}
	logger.Info("connected to database")

	ready := func() bool {
		pingCtx, cancel := context.WithTimeout(context.Background(), readinessTimeout)
		defer cancel()
		return db.Ping(pingCtx) == nil
	}
	return postgres.NewUserRepository(db), ready, db.Close, nil
}

func autoMigrate(url string, deps *ServeDeps, logger *slog.Logger) error {
	migrator, err := deps.MigratorFactory(url)
	if err != nil {
		return oops.Code("MIGRATION_FAILED").With("operation", "create migrator").Wrap(err)
	}
	defer func() {
		if closeErr := migrator.Close(); closeErr != nil {
			logger.Warn("failed to close migrator", "error", closeErr)
		}
	}()

	if err := migrator.Up(); err != nil {
		return oops.Code("MIGRATION_FAILED").With("operation", "apply migrations").Wrap(err)
	}
	logger.Info("database schema up to date")
	return nil
}

type stopper interface {
	Stop(ctx context.Context) error
}

func stopServer(logger *slog.Logger, srv stopper, name string) {
	if srv == nil {
		return
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Stop(shutdownCtx); err != nil {
		logger.Warn("failed to stop server during cleanup", "server", name, "error", err)
	}
}

// monitorServerErrors monitors a server's error channel and cancels the context on error.
// It exits when either an error is received, the channel is closed, or the context is cancelled.
func monitorServerErrors(ctx context.Context, cancel context.CancelFunc, errCh <-chan error, serverName string) {
	select {
	case err, ok := <-errCh:
		if !ok {
			return
		}
		if err != nil {
			slog.Error("server error, triggering shutdown",
				"server", serverName,
				"error", err,
			)
			cancel()
		}
	case <-ctx.Done():
	}
}
