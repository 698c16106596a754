package bootstrap

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/qslabs/schoolgate/config"
	"github.com/qslabs/schoolgate/internal/adapters/cookie"
	httpx "github.com/qslabs/schoolgate/internal/http"
	"github.com/qslabs/schoolgate/internal/observability/metrics"
	"github.com/qslabs/schoolgate/internal/service"
	"github.com/redis/go-redis/v9"
)

// HTTPHandlerConfig contains everything needed to assemble the HTTP handler.
type HTTPHandlerConfig struct {
	Config     *config.AppConfig
	Auth       *service.AuthService
	SigningKey []byte
	Deps       HandlerDeps
}

// HandlerDeps are optional runtime dependencies of the HTTP handler.
type HandlerDeps struct {
	DB          *sql.DB
	RedisClient redis.UniversalClient
	Metrics     *metrics.Metrics
	Logger      *slog.Logger
}

// BuildHTTPHandler wires the cookie store, route guard and router.
func BuildHTTPHandler(cfg HTTPHandlerConfig) (http.Handler, error) {
	if cfg.Config == nil || cfg.Auth == nil {
		return nil, errors.New("http handler requires config and auth service")
	}
	logger := cfg.Deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	appCfg := cfg.Config

	store, err := cookie.NewStore(cookie.Config{
		Name:       appCfg.Session.CookieName,
		Domain:     appCfg.HTTP.CookieDomain,
		SigningKey: cfg.SigningKey,
	})
	if err != nil {
		return nil, fmt.Errorf("create session cookie store: %w", err)
	}

	guardCfg := httpx.GuardConfig{
		LoginPath: appCfg.Session.LoginPath,
		Logger:    logger,
	}
	if cfg.Deps.Metrics != nil {
		guardCfg.Observer = cfg.Deps.Metrics
	}
	guardOpts := httpx.GuardOptions{Store: store, Config: guardCfg}
	if appCfg.Session.RemoteVerify {
		guardOpts.Verifier = cfg.Auth.Coordinator()
	}

	return httpx.NewRouter(httpx.RouterServices{
		Auth:         cfg.Auth,
		Store:        store,
		Guard:        httpx.NewGuard(guardOpts),
		Metrics:      cfg.Deps.Metrics,
		Ready:        readinessChecks(cfg.Deps),
		CallbackURL:  appCfg.Auth.OAuth.RedirectURL,
		CookieDomain: appCfg.HTTP.CookieDomain,
		Logger:       logger,
	}), nil
}

func readinessChecks(deps HandlerDeps) map[string]httpx.ReadinessCheck {
	checks := make(map[string]httpx.ReadinessCheck, 2)
	if deps.RedisClient != nil {
		client := deps.RedisClient
		checks["redis"] = func(ctx context.Context) error { return client.Ping(ctx).Err() }
	}
	if deps.DB != nil {
		db := deps.DB
		checks["postgres"] = db.PingContext
	}
	return checks
}

// NewHTTPServer returns a server for handler using the configured timeouts.
func NewHTTPServer(cfg config.HTTPConfig, handler http.Handler) *http.Server {
	addr := cfg.Addr
	// Guard against empty addr to avoid listening on Go default
	if addr == "" {
		addr = ":8080"
	}
	return &http.Server{
		Addr:         addr,
		Handler:      handler,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  cfg.IdleTimeout,
	}
}
