package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"

	domainauth "github.com/qslabs/schoolgate/internal/domain/auth"
	"github.com/qslabs/schoolgate/internal/domain/model"
	apperrors "github.com/qslabs/schoolgate/internal/errors"
	"github.com/qslabs/schoolgate/internal/ports"
	"golang.org/x/crypto/bcrypt"
)

// sessionRevoker is implemented by token registries that can drop every session of a user.
type sessionRevoker interface {
	DeleteByUser(ctx context.Context, userID string) (int, error)
}

// UserServiceConfig tunes password hashing.
type UserServiceConfig struct {
	BcryptCost int // default bcrypt.DefaultCost
}

// UserServiceOptions groups dependencies for UserService.
type UserServiceOptions struct {
	Repo     ports.UserRepository // Required: user repository
	Sessions sessionRevoker       // Optional: revokes sessions when a user changes or goes away
	Config   UserServiceConfig
	Logger   *slog.Logger // Optional: structured logger
}

// UserService manages password-login accounts.
type UserService struct {
	repo     ports.UserRepository
	sessions sessionRevoker
	cost     int
	logger   *slog.Logger
}

// NewUserService constructs a new UserService.
func NewUserService(opts UserServiceOptions) (*UserService, error) {
	if opts.Repo == nil {
		return nil, errors.New("UserRepository is required")
	}
	cost := opts.Config.BcryptCost
	if cost == 0 {
		cost = bcrypt.DefaultCost
	}
	if cost < bcrypt.MinCost || cost > bcrypt.MaxCost {
		return nil, fmt.Errorf("bcrypt cost %d out of range [%d, %d]", cost, bcrypt.MinCost, bcrypt.MaxCost)
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &UserService{
		repo:     opts.Repo,
		sessions: opts.Sessions,
		cost:     cost,
		logger:   logger.With("component", "user_service"),
	}, nil
}

// MustNewUserService constructs a new UserService and panics on error.
func MustNewUserService(opts UserServiceOptions) *UserService {
	svc, err := NewUserService(opts)
	if err != nil {
		panic(err) //nolint:forbidigo // Must constructor fails fast when dependencies are invalid during startup
	}
	return svc
}

// Register validates req, hashes its password and stores the user.
func (s *UserService) Register(ctx context.Context, req model.CreateUserRequest) (*model.User, error) {
	req.Normalize()
	req.PasswordHash = ""
	if err := req.Validate(); err != nil {
		return nil, apperrors.Validation(err.Error())
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(req.Password), s.cost)
	if err != nil {
		return nil, fmt.Errorf("hash password: %w", err)
	}
	req.PasswordHash = string(hash)
	req.Password = ""

	user, err := s.repo.Create(ctx, &req)
	if err != nil {
		return nil, fmt.Errorf("create user: %w", err)
	}
	s.logger.InfoContext(ctx, "user registered", "user_id", user.ID, "username", user.Username, "role", user.Role)
	return user, nil
}

// Get returns the user with username.
func (s *UserService) Get(ctx context.Context, username string) (*model.User, error) {
	if err := model.ValidateUsername(username); err != nil {
		return nil, apperrors.Validation(err.Error())
	}
	return s.repo.GetByUsername(ctx, username)
}

// List returns users matching opts.
func (s *UserService) List(ctx context.Context, opts model.UserListOptions) ([]*model.User, error) {
	opts.Sanitize()
	return s.repo.List(ctx, opts)
}

// SetRole changes a user's role and revokes their sessions, which carry the old role.
func (s *UserService) SetRole(ctx context.Context, id int64, role domainauth.Role) (*model.User, error) {
	if !role.Valid() {
		return nil, apperrors.ValidationField("role", "role must be one of admin, teacher, student")
	}
	user, err := s.repo.UpdateRole(ctx, id, role)
	if err != nil {
		return nil, fmt.Errorf("update role: %w", err)
	}
	s.revoke(ctx, id)
	return user, nil
}

// Delete removes a user and revokes their sessions. It reports whether a user was removed.
func (s *UserService) Delete(ctx context.Context, id int64) (bool, error) {
	deleted, err := s.repo.Delete(ctx, id)
	if err != nil {
		return false, fmt.Errorf("delete user: %w", err)
	}
	if deleted {
		s.revoke(ctx, id)
	}
	return deleted, nil
}

func (s *UserService) revoke(ctx context.Context, id int64) {
	if s.sessions == nil {
		return
	}
	n, err := s.sessions.DeleteByUser(ctx, strconv.FormatInt(id, 10))
	if err != nil {
		s.logger.WarnContext(ctx, "failed to revoke user sessions", "user_id", id, "error", err)
		return
	}
	if n > 0 {
		s.logger.InfoContext(ctx, "user sessions revoked", "user_id", id, "count", n)
	}
}
