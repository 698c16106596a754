package bootstrap

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/qslabs/schoolgate/config"
	"github.com/qslabs/schoolgate/internal/observability/metrics"
	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"
)

const defaultShutdownTimeout = 10 * time.Second

// ServerConfig contains dependencies for Serve.
type ServerConfig struct {
	Config      *config.AppConfig
	DB          *sql.DB // nil unless password login is enabled
	RedisClient redis.UniversalClient
	Logger      *slog.Logger
}

// Serve builds the auth service and HTTP handler and serves until ctx is done,
// then shuts the server down gracefully.
func Serve(ctx context.Context, cfg ServerConfig) error {
	if cfg.Config == nil {
		return errors.New("server config missing AppConfig")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	var m *metrics.Metrics
	if cfg.Config.Metrics.Enabled {
		m = metrics.New()
	}

	authSvc, err := BuildAuthService(ctx, AuthConfig{
		Config:      cfg.Config,
		DB:          cfg.DB,
		RedisClient: cfg.RedisClient,
		Metrics:     m,
		Logger:      logger,
	})
	if err != nil {
		return fmt.Errorf("build auth service: %w", err)
	}

	key, err := SigningKey(cfg.Config, logger)
	if err != nil {
		return err
	}

	handler, err := BuildHTTPHandler(HTTPHandlerConfig{
		Config:     cfg.Config,
		Auth:       authSvc,
		SigningKey: key,
		Deps: HandlerDeps{
			DB:          cfg.DB,
			RedisClient: cfg.RedisClient,
			Metrics:     m,
			Logger:      logger,
		},
	})
	if err != nil {
		return err
	}

	server := NewHTTPServer(cfg.Config.HTTP, handler)
	return runServer(ctx, server, cfg.Config.HTTP.ShutdownTimeout, logger)
}

func runServer(ctx context.Context, server *http.Server, shutdownTimeout time.Duration, logger *slog.Logger) error {
	if shutdownTimeout <= 0 {
		shutdownTimeout = defaultShutdownTimeout
	}
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		logger.Info("starting HTTP server", "addr", server.Addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down HTTP server")
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("shutdown http server: %w", err)
		}
		logger.Info("HTTP server stopped")
		return nil
	})

	return g.Wait()
}
