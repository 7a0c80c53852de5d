// Package app wires the store, chat core, and HTTP transport together.
package app

import (
	"context"
	"errors"
	"fmt"
	"net"
	stdhttp "net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/vovakirdan/onechat-server/internal/auth"
	"github.com/vovakirdan/onechat-server/internal/config"
	"github.com/vovakirdan/onechat-server/internal/core"
	"github.com/vovakirdan/onechat-server/internal/log"
	"github.com/vovakirdan/onechat-server/internal/store"
	"github.com/vovakirdan/onechat-server/internal/store/postgres"
	"github.com/vovakirdan/onechat-server/internal/store/sqlite"
	transporthttp "github.com/vovakirdan/onechat-server/internal/transport/http"
)

const sqliteScheme = "sqlite://"

// App wires together core and transport layers.
type App struct {
	server          *stdhttp.Server
	shutdownTimeout time.Duration
	store           store.Store
	auth            *auth.Service
	stopWS          context.CancelFunc
	log             *zerolog.Logger
}

// New constructs the application with the provided configuration.
func New(ctx context.Context, cfg config.Config, logger *zerolog.Logger) (*App, error) {
	st, err := OpenStore(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("init store: %w", err)
	}

	logger.Info().Str("database_url", cfg.DatabaseURL).Msg("store initialized")

	authSvc := auth.NewService(st)
	registry := core.NewRegistry()
	hub := core.NewHub(registry, log.Named(logger, "hub"))
	dispatcher := core.NewDispatcher(registry, hub, authSvc, st, cfg.HistoryLimit, log.Named(logger, "dispatcher"))

	server := transporthttp.NewServer(registry, hub, dispatcher, cfg, logger)

	// WebSocket handlers inherit this context; cancelling it at shutdown
	// closes connections that Shutdown no longer tracks after the hijack.
	baseCtx, stopWS := context.WithCancel(context.Background())
	server.BaseContext = func(net.Listener) context.Context { return baseCtx }

	return &App{
		server:          server,
		shutdownTimeout: cfg.ShutdownTimeout,
		store:           st,
		auth:            authSvc,
		stopWS:          stopWS,
		log:             logger,
	}, nil
}

// OpenStore opens the backing store selected by the database URL scheme.
// sqlite:///messenger.db resolves relative to the working directory and
// sqlite:////var/data.db is absolute, following the usual URL convention;
// a bare path also opens SQLite. postgres:// and postgresql:// DSNs open
// PostgreSQL.
func OpenStore(ctx context.Context, databaseURL string) (store.Store, error) {
	switch {
	case databaseURL == "":
		return nil, errors.New("database url is empty")
	case strings.HasPrefix(databaseURL, "postgres://"), strings.HasPrefix(databaseURL, "postgresql://"):
		return postgres.New(ctx, databaseURL)
	case strings.HasPrefix(databaseURL, sqliteScheme):
		path := strings.TrimPrefix(databaseURL, sqliteScheme)
		path = strings.TrimPrefix(path, "/")
		if path == "" {
			path = ":memory:"
		}
		return sqlite.New(ctx, path)
	default:
		return sqlite.New(ctx, databaseURL)
	}
}

// Run starts the HTTP server and blocks until context cancellation or fatal error.
func (a *App) Run(ctx context.Context) error {
	serverErr := make(chan error, 1)

	go func() {
		a.log.Info().Str("addr", a.server.Addr).Msg("listening")
		if err := a.server.ListenAndServe(); err != nil && !errors.Is(err, stdhttp.ErrServerClosed) {
			serverErr <- err
			return
		}
		serverErr <- nil
	}()

	select {
	case err := <-serverErr:
		a.cleanup()
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), a.shutdownTimeout)
		defer cancel()

		a.log.Info().Msg("shutting down http server")
		if err := a.server.Shutdown(shutdownCtx); err != nil {
			a.cleanup()
			return err
		}

		a.cleanup()
		return <-serverErr
	}
}

// Close releases resources without running the server.
func (a *App) Close() {
	a.cleanup()
}

// cleanup closes live connections, then the store.
func (a *App) cleanup() {
	a.stopWS()

	if a.store != nil {
		if err := a.store.Close(); err != nil {
			a.log.Warn().Err(err).Msg("failed to close store")
		} else {
			a.log.Info().Msg("store closed")
		}
	}
}
