// Package app assembles the sync daemon: configuration, local database,
// transport, and the sync service, with graceful shutdown on OS signals.
package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/Akintomiwa200/aagc-sub000/internal/config"
	"github.com/Akintomiwa200/aagc-sub000/internal/logging"
	"github.com/Akintomiwa200/aagc-sub000/internal/repositories"
	"github.com/Akintomiwa200/aagc-sub000/internal/services"
	"github.com/Akintomiwa200/aagc-sub000/internal/transport"
)

// TokenEnvVar names the environment variable carrying the bearer token.
const TokenEnvVar = "SYNC_TOKEN"

// ErrNoToken is returned when no bearer token is configured.
var ErrNoToken = errors.New("no bearer token: set " + TokenEnvVar)

type App struct {
	config *config.Config
	logger logging.Logger
	db     *sql.DB
	svc    *services.SyncService
}

func NewApp(ctx context.Context, cfg *config.Config) (*App, error) {
	logger := logging.NewSlogLogger(slog.New(slog.NewJSONHandler(os.Stdout, nil)))

	repos, db, err := repositories.InitDatabase(ctx, cfg.DatabaseDSN)
	if err != nil {
		return nil, fmt.Errorf("db init error: %w", err)
	}

	tm := transport.New(transport.Config{
		RedisURL:             cfg.RedisURL,
		ReconnectBase:        cfg.ReconnectBase,
		ReconnectCap:         cfg.ReconnectCap,
		ReconnectMaxAttempts: cfg.ReconnectMaxAttempts,
	}, logger)

	svc := services.New(cfg, repos, tm, logger)

	return &App{config: cfg, logger: logger, db: db, svc: svc}, nil
}

func (app *App) initSignalHandler(cancelFunc context.CancelFunc) {
	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT)

	go func() {
		<-sigs
		cancelFunc()
	}()
}

// Run starts the service and blocks until the context is cancelled or an OS
// signal arrives, then shuts down in order.
func (app *App) Run(ctx context.Context) error {
	ctx, cancelFunc := context.WithCancel(ctx)
	defer cancelFunc()

	token := os.Getenv(TokenEnvVar)
	if token == "" {
		return ErrNoToken
	}

	app.logger.Info(ctx, "starting sync daemon")
	app.initSignalHandler(cancelFunc)

	app.svc.OnAuthExpired(func() {
		// The daemon cannot mint a fresh token itself; it exits and lets
		// the supervisor restart it with new credentials.
		app.logger.Warn(ctx, "credential expired, shutting down")
		cancelFunc()
	})
	app.svc.OnOffline(func(err error) {
		app.logger.Warn(ctx, "running offline from cached data", "error", err)
	})

	if err := app.svc.Start(ctx, token); err != nil {
		return fmt.Errorf("start sync service: %w", err)
	}

	<-ctx.Done()

	app.logger.Info(ctx, "shutting down")
	app.svc.Stop()
	if err := app.db.Close(); err != nil {
		app.logger.Error(ctx, "closing database failed", "error", err)
	}
	return nil
}
