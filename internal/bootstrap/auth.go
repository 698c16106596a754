package bootstrap

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"

	"github.com/qslabs/schoolgate/config"
	"github.com/qslabs/schoolgate/internal/adapters/authroles"
	"github.com/qslabs/schoolgate/internal/adapters/devauth"
	"github.com/qslabs/schoolgate/internal/adapters/oidc"
	redisadapter "github.com/qslabs/schoolgate/internal/adapters/redis"
	"github.com/qslabs/schoolgate/internal/data"
	"github.com/qslabs/schoolgate/internal/observability/metrics"
	"github.com/qslabs/schoolgate/internal/service"
	"github.com/redis/go-redis/v9"
)

// AuthConfig contains configuration for auth service.
type AuthConfig struct {
	Config      *config.AppConfig
	DB          *sql.DB               // Required in password mode
	RedisClient redis.UniversalClient // Required: token registry
	Metrics     *metrics.Metrics
	Logger      *slog.Logger
}

// NewSessionRegistry builds the Redis token registry from config.
func NewSessionRegistry(client redis.UniversalClient, cfg config.SessionConfig) *redisadapter.SessionStore {
	return redisadapter.NewSessionStoreWithOptions(client, redisadapter.StoreOptions{
		Prefix:     cfg.RegistryPrefix,
		DefaultTTL: cfg.TTL,
	})
}

// BuildAuthService creates an auth service for the configured auth mode.
func BuildAuthService(ctx context.Context, cfg AuthConfig) (*service.AuthService, error) {
	if cfg.Config == nil {
		return nil, errors.New("auth config requires AppConfig")
	}
	if cfg.RedisClient == nil {
		return nil, errors.New("auth service requires a redis client")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	backends, err := buildLoginBackends(ctx, cfg)
	if err != nil {
		return nil, err
	}

	session := cfg.Config.Session
	verification := verificationOptions(session, logger)
	if cfg.Metrics != nil {
		verification.Observer = cfg.Metrics
	}

	logger.Info("auth service configured",
		"mode", cfg.Config.Auth.Mode,
		"session_ttl", session.TTL,
		"remote_verify", session.RemoteVerify,
	)

	return service.NewAuthService(service.AuthServiceOptions{
		Sessions: NewSessionRegistry(cfg.RedisClient, session),
		Backends: backends,
		Config: service.AuthConfig{
			SessionTTL:   session.TTL,
			Verification: verification,
			Logger:       logger,
		},
	}), nil
}

func buildLoginBackends(ctx context.Context, cfg AuthConfig) (service.LoginBackends, error) {
	auth := cfg.Config.Auth
	roles := authroles.StaticRoleMapper{
		AdminGroup:   auth.AdminGroup,
		TeacherGroup: auth.TeacherGroup,
		StudentGroup: auth.StudentGroup,
	}

	switch auth.Mode {
	case config.AuthModePassword:
		if cfg.DB == nil {
			return service.LoginBackends{}, errors.New("password login requires a database")
		}
		return service.LoginBackends{Users: data.NewUserRepo(cfg.DB)}, nil

	case config.AuthModeMock:
		prov, err := devauth.NewProvider(devauth.Config{
			UserID:          auth.DevAuth.UserID,
			Username:        auth.DevAuth.Username,
			Email:           auth.DevAuth.Email,
			Groups:          auth.DevAuth.Groups,
			SessionDuration: cfg.Config.Session.TTL,
		})
		if err != nil {
			return service.LoginBackends{}, fmt.Errorf("create dev auth provider: %w", err)
		}
		return service.LoginBackends{Provider: prov, Roles: roles}, nil

	case config.AuthModeOAuth:
		prov, err := oidc.NewProvider(ctx, oidc.ProviderConfig{
			ClientID:     auth.OAuth.ClientID,
			ClientSecret: auth.OAuth.ClientSecret,
			RedirectURL:  auth.OAuth.RedirectURL,
			Scope:        auth.OAuth.Scope,
			IssuerURL:    auth.OAuth.DiscoveryURL,
			GroupsClaim:  auth.OAuth.GroupsClaim,
		})
		if err != nil {
			return service.LoginBackends{}, fmt.Errorf("create OIDC provider: %w", err)
		}
		return service.LoginBackends{Provider: prov, Roles: roles}, nil

	default:
		return service.LoginBackends{}, fmt.Errorf("unsupported auth mode %q", auth.Mode)
	}
}

// verificationOptions maps session config onto the coordinator. A zero
// VerifyCacheTTL turns the verdict cache off.
func verificationOptions(session config.SessionConfig, logger *slog.Logger) service.VerificationOptions {
	return service.VerificationOptions{
		CacheTTL:     session.VerifyCacheTTL,
		CacheSize:    session.VerifyCacheSize,
		Timeout:      session.VerifyTimeout,
		DisableCache: session.VerifyCacheTTL <= 0,
		Logger:       logger,
	}
}
