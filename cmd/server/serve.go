package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	gfshutdown "github.com/gelmium/graceful-shutdown"

	"github.com/Tyrowin/presencechat/internal/auth"
	"github.com/Tyrowin/presencechat/internal/config"
	"github.com/Tyrowin/presencechat/internal/metrics"
	"github.com/Tyrowin/presencechat/internal/observability"
	"github.com/Tyrowin/presencechat/internal/server"
	"github.com/Tyrowin/presencechat/internal/store"
)

func runServe(ctx context.Context, configPath string) error {
	if ctx == nil {
		ctx = context.Background()
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	logger := observability.NewLogger(observability.LogConfig{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		Output: os.Stdout,
	})
	slog.SetDefault(logger)

	db, err := store.Open(cfg.DBPath)
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}

	m := metrics.New()
	writer := store.NewAsyncWriter(db, cfg.PersistQueueSize, logger.With("component", "persister"),
		store.WithFailureHook(func(error) { m.PersistFailures.Inc() }))

	hub := server.NewHub(cfg,
		server.WithLogger(logger.With("component", "hub")),
		server.WithMetrics(m),
		server.WithPersister(writer),
	)

	sessions := auth.NewSessions(cfg.Session.Secret, cfg.Session.TTL)
	handlers := server.NewHandlers(server.Deps{
		Hub:      hub,
		Identity: auth.NewSessionProvider(sessions, db),
		Sessions: sessions,
		Users:    db,
		Messages: db,
		Content:  db,
		Metrics:  m,
		Health:   db,
		Logger:   logger.With("component", "http"),
	})

	httpServer := server.CreateServer(cfg.Port, server.SetupRoutes(handlers))

	serveErr := make(chan error, 1)
	go func() {
		serveErr <- server.StartServer(httpServer, logger)
	}()

	logger.Info("GoChat server started",
		"version", version,
		"addr", cfg.Port,
		"db", cfg.DBPath,
		"default_room", cfg.DefaultRoom,
		"duplicate_login", cfg.DuplicateLogin,
	)

	// Teardown order matters: stop accepting, close sessions, flush
	// pending chat messages, then close the database.
	wait := gfshutdown.GracefulShutdown(ctx, cfg.ShutdownTimeout, map[string]gfshutdown.Operation{
		"gochat": func(ctx context.Context) error {
			var errs []error
			if err := server.ShutdownServer(ctx, httpServer, logger); err != nil {
				errs = append(errs, fmt.Errorf("http: %w", err))
			}
			if err := hub.Shutdown(remaining(ctx, cfg)); err != nil {
				errs = append(errs, fmt.Errorf("hub: %w", err))
			}
			if err := writer.Close(ctx); err != nil {
				errs = append(errs, fmt.Errorf("persister: %w", err))
			}
			if err := db.Close(); err != nil {
				errs = append(errs, fmt.Errorf("database: %w", err))
			}
			return errors.Join(errs...)
		},
	})

	select {
	case err := <-serveErr:
		if err != nil {
			logger.Error("server stopped", "error", err)
			_ = hub.Shutdown(cfg.ShutdownTimeout)
			_ = writer.Close(context.Background())
			_ = db.Close()
			return err
		}
		// The listener only closes cleanly from inside the shutdown operation.
		return exitWith(logger, <-wait)
	case code := <-wait:
		return exitWith(logger, code)
	}
}

func exitWith(logger *slog.Logger, code int) error {
	logger.Info("shutdown complete", "exit_code", code)
	if code != 0 {
		return fmt.Errorf("shutdown finished with exit code %d", code)
	}
	return nil
}

// remaining converts the shutdown context deadline into a timeout for the hub.
func remaining(ctx context.Context, cfg config.Config) time.Duration {
	if deadline, ok := ctx.Deadline(); ok {
		if d := time.Until(deadline); d > 0 {
			return d
		}
		return time.Millisecond
	}
	return cfg.ShutdownTimeout
}
