// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Keyfold Contributors

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

	"github.com/keyfold/keyfold/internal/auth"
	"github.com/keyfold/keyfold/internal/auth/postgres"
	"github.com/keyfold/keyfold/internal/config"
	"github.com/keyfold/keyfold/internal/httpapi"
	"github.com/keyfold/keyfold/internal/logging"
	"github.com/keyfold/keyfold/internal/mail"
	"github.com/keyfold/keyfold/internal/observability"
	"github.com/keyfold/keyfold/internal/store"
)

// sweepInterval is how often expired tokens and reset tickets are purged.
const sweepInterval = time.Hour

// NewServeCmd creates the serve subcommand.
func NewServeCmd() *cobra.Command {
	var autoMigrate bool

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the authentication service",
		Long: `Start the HTTP API server along with the metrics/health endpoint.
Configuration is merged from defaults, the config file, and flags.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			return runServe(cmd.Context(), cmd, cfg, autoMigrate)
		},
	}

	// Flag defaults mirror config.Default so an untouched flag never
	// shadows a config-file value.
	def := config.Default()
	flags := cmd.Flags()
	flags.String("server.addr", def.Server.Addr, "API listen address")
	flags.String("observability.addr", def.Observability.Addr, "metrics/health listen address (empty = disabled)")
	flags.String("database.url", def.Database.URL, "PostgreSQL connection URL")
	flags.String("logging.format", def.Logging.Format, "log format (json or text)")
	flags.String("logging.level", def.Logging.Level, "log level (debug, info, warn, error)")
	flags.String("mail.mode", def.Mail.Mode, "reset token delivery (log or smtp)")
	flags.Bool("auth.single_session", def.Auth.SingleSession, "revoke all prior tokens on login")
	flags.BoolVar(&autoMigrate, "auto-migrate", false, "run pending migrations before serving")

	return cmd
}

// loadConfig merges defaults, the config file, flags, and the DATABASE_URL
// environment variable. An explicit flag beats the environment.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	cfg, err := config.Load(configFile, cmd.Flags())
	if err != nil {
		return nil, err
	}
	if url := os.Getenv("DATABASE_URL"); url != "" && !cmd.Flags().Changed("database.url") {
		cfg.Database.URL = url
	}
	return cfg, nil
}

func runServe(ctx context.Context, cmd *cobra.Command, cfg *config.Config, autoMigrate bool) error {
	logging.SetDefault("keyfold", version, cfg.Logging.Format, cfg.Logging.Level)
	logger := slog.Default()

	if autoMigrate {
		if err := migrateUp(cfg.Database.URL); err != nil {
			return err
		}
		logger.Info("migrations applied")
	}

	pool, err := store.Connect(ctx, cfg.Database.URL)
	if err != nil {
		return oops.Code("SERVE_FAILED").With("operation", "connect to database").Wrap(err)
	}
	defer pool.Close()
	logger.Info("connected to database")

	users := postgres.NewUserRepository(pool)
	tokens := postgres.NewAccessTokenRepository(pool)
	tickets := postgres.NewResetTicketRepository(pool)
	audit := postgres.NewAuditRecorder(pool)
	hasher := auth.NewArgon2idHasher()

	authOpts := []auth.ServiceOption{auth.WithLogger(logger)}
	if cfg.Auth.SingleSession {
		authOpts = append(authOpts, auth.WithSingleSession())
	}
	authSvc, err := auth.NewService(users, tokens, hasher, audit, authOpts...)
	if err != nil {
		return oops.Code("SERVE_FAILED").With("operation", "build auth service").Wrap(err)
	}

	mailer, err := buildDispatcher(cfg, logger)
	if err != nil {
		return err
	}
	resetSvc, err := auth.NewResetService(users, tickets, tokens, hasher, mailer, audit, logger)
	if err != nil {
		return oops.Code("SERVE_FAILED").With("operation", "build reset service").Wrap(err)
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	serverOpts := []httpapi.ServerOption{httpapi.WithServerLogger(logger)}

	var obsServer *observability.Server
	if cfg.Observability.Addr != "" {
		obsServer = observability.NewServer(cfg.Observability.Addr, func() bool {
			return pool.Ping(ctx) == nil
		})
		obsErrChan, obsErr := obsServer.Start()
		if obsErr != nil {
			return oops.Code("SERVE_FAILED").With("operation", "start observability server").Wrap(obsErr)
		}
		go monitorServerErrors(ctx, cancel, obsErrChan, "observability")
		serverOpts = append(serverOpts, httpapi.WithMetrics(obsServer.Metrics()))
		logger.Info("observability server started", "addr", obsServer.Addr())
	}

	apiServer, err := httpapi.NewServer(cfg.Server.Addr, authSvc, resetSvc, serverOpts...)
	if err != nil {
		return oops.Code("SERVE_FAILED").With("operation", "build api server").Wrap(err)
	}
	apiErrChan, err := apiServer.Start()
	if err != nil {
		return oops.Code("SERVE_FAILED").With("operation", "start api server").Wrap(err)
	}
	go monitorServerErrors(ctx, cancel, apiErrChan, "api")

	go sweepExpired(ctx, logger, tokens, tickets)

	cmd.Println("Keyfold started")
	logger.Info("ready", "api_addr", apiServer.Addr())

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	select {
	case sig := <-sigChan:
		logger.Info("received shutdown signal", "signal", sig.String())
	case <-ctx.Done():
		logger.Info("context cancelled, shutting down")
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := apiServer.Stop(shutdownCtx); err != nil {
		logger.Warn("error stopping api server", "error", err)
	}
	if obsServer != nil {
		if err := obsServer.Stop(shutdownCtx); err != nil {
			logger.Warn("error stopping observability server", "error", err)
		}
	}

	logger.Info("shutdown complete")
	return nil
}

// buildDispatcher selects the reset token delivery mechanism.
func buildDispatcher(cfg *config.Config, logger *slog.Logger) (auth.Dispatcher, error) {
	switch cfg.Mail.Mode {
	case "smtp":
		dispatcher, err := mail.NewSMTPDispatcher(mail.SMTPConfig{
			Addr:     cfg.Mail.Addr,
			From:     cfg.Mail.From,
			Username: cfg.Mail.Username,
			Password: cfg.Mail.Password,
			ResetURL: cfg.Mail.ResetURL,
		})
		if err != nil {
			return nil, oops.Code("SERVE_FAILED").With("operation", "build smtp dispatcher").Wrap(err)
		}
		return dispatcher, nil
	default:
		return mail.NewLogDispatcher(logger), nil
	}
}

// expiredSweeper is the subset of a repository the janitor needs.
type expiredSweeper interface {
	DeleteExpired(ctx context.Context) (int64, error)
}

// sweepExpired periodically purges expired access tokens and reset tickets.
// Best effort; failures are logged and retried on the next tick.
func sweepExpired(ctx context.Context, logger *slog.Logger, tokens, tickets expiredSweeper) {
	ticker := time.NewTicker(sweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n, err := tokens.DeleteExpired(ctx); err != nil {
				logger.Warn("expired token sweep failed", "error", err)
			} else if n > 0 {
				logger.Info("expired tokens purged", "count", n)
			}
			if n, err := tickets.DeleteExpired(ctx); err != nil {
				logger.Warn("expired ticket sweep failed", "error", err)
			} else if n > 0 {
				logger.Info("expired reset tickets purged", "count", n)
			}
		}
	}
}

// monitorServerErrors cancels the context when a server fails, so one dead
// server takes the whole process through graceful shutdown.
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
