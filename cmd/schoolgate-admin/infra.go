package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/qslabs/schoolgate/config"
	"github.com/qslabs/schoolgate/internal/bootstrap"
	"github.com/qslabs/schoolgate/internal/data"
	domainauth "github.com/qslabs/schoolgate/internal/domain/auth"
	"github.com/qslabs/schoolgate/internal/domain/model"
	"github.com/qslabs/schoolgate/internal/migrate"
	"github.com/qslabs/schoolgate/internal/service"
	"github.com/redis/go-redis/v9"
)

type userAdmin interface {
	Register(ctx context.Context, req model.CreateUserRequest) (*model.User, error)
	Get(ctx context.Context, username string) (*model.User, error)
	List(ctx context.Context, opts model.UserListOptions) ([]*model.User, error)
	SetRole(ctx context.Context, id int64, role domainauth.Role) (*model.User, error)
	Delete(ctx context.Context, id int64) (bool, error)
}

type sessionAdmin interface {
	List(ctx context.Context) ([]domainauth.Session, error)
	Delete(ctx context.Context, token string) error
	DeleteByUser(ctx context.Context, userID string) (int, error)
}

type migrator interface {
	Migrate(ctx context.Context) error
	Status(ctx context.Context) ([]migrate.State, error)
}

// infra lazily connects the stores a command needs. Tests replace the factories.
type infra struct {
	verbose bool
	cfg     config.AppConfig
	logger  *slog.Logger

	loadConfig func() (config.AppConfig, error)
	users      func(ctx context.Context) (userAdmin, error)
	sessions   func(ctx context.Context) (sessionAdmin, error)
	migrations func(ctx context.Context) (migrator, error)

	db      *sql.DB
	redis   redis.UniversalClient
	closers []func() error
}

func newInfra() *infra {
	i := &infra{loadConfig: bootstrap.ParseConfig}
	i.users = i.realUsers
	i.sessions = i.realSessions
	i.migrations = i.realMigrations
	return i
}

func (i *infra) init() error {
	cfg, err := i.loadConfig()
	if err != nil {
		return err
	}
	i.cfg = cfg
	level := cfg.SlogLevel()
	if i.verbose {
		level = slog.LevelDebug
	}
	i.logger = bootstrap.NewLogger(os.Stderr, level)
	return nil
}

func (i *infra) close() error {
	var errs []error
	for j := len(i.closers) - 1; j >= 0; j-- {
		errs = append(errs, i.closers[j]())
	}
	i.closers = nil
	return errors.Join(errs...)
}

func (i *infra) database(ctx context.Context) (*sql.DB, error) {
	if i.db != nil {
		return i.db, nil
	}
	db, err := bootstrap.ConnectDB(ctx, i.cfg.Postgres, i.logger)
	if err != nil {
		return nil, fmt.Errorf("connect db: %w", err)
	}
	i.db = db
	i.closers = append(i.closers, db.Close)
	return db, nil
}

//nolint:ireturn // returning redis.UniversalClient keeps sentinel/cluster support flexible.
func (i *infra) redisClient(ctx context.Context) (redis.UniversalClient, error) {
	if i.redis != nil {
		return i.redis, nil
	}
	client, err := bootstrap.ConnectRedis(ctx, i.cfg.Redis, i.logger)
	if err != nil {
		return nil, fmt.Errorf("connect redis: %w", err)
	}
	i.redis = client
	i.closers = append(i.closers, client.Close)
	return client, nil
}

//nolint:ireturn // commands depend on the narrow admin interface.
func (i *infra) realSessions(ctx context.Context) (sessionAdmin, error) {
	client, err := i.redisClient(ctx)
	if err != nil {
		return nil, err
	}
	return bootstrap.NewSessionRegistry(client, i.cfg.Session), nil
}

//nolint:ireturn // commands depend on the narrow admin interface.
func (i *infra) realUsers(ctx context.Context) (userAdmin, error) {
	db, err := i.database(ctx)
	if err != nil {
		return nil, err
	}
	opts := service.UserServiceOptions{
		Repo:   data.NewUserRepo(db),
		Config: service.UserServiceConfig{BcryptCost: i.cfg.Auth.BcryptCost},
		Logger: i.logger,
	}
	// Role changes and deletions revoke sessions when the registry is reachable.
	if client, rerr := i.redisClient(ctx); rerr == nil {
		opts.Sessions = bootstrap.NewSessionRegistry(client, i.cfg.Session)
	} else {
		i.logger.WarnContext(ctx, "token registry unavailable; sessions will not be revoked", "error", rerr)
	}
	return service.NewUserService(opts)
}

//nolint:ireturn // commands depend on the narrow admin interface.
func (i *infra) realMigrations(ctx context.Context) (migrator, error) {
	db, err := i.database(ctx)
	if err != nil {
		return nil, err
	}
	return dbMigrator{db: db, logger: i.logger}, nil
}

type dbMigrator struct {
	db     *sql.DB
	logger *slog.Logger
}

func (m dbMigrator) Migrate(ctx context.Context) error {
	return bootstrap.RunMigrations(ctx, m.db, m.logger)
}

func (m dbMigrator) Status(ctx context.Context) ([]migrate.State, error) {
	return migrate.Status(ctx, m.db)
}
