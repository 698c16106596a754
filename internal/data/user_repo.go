package data

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/qslabs/schoolgate/internal/data/pgxutil"
	domainauth "github.com/qslabs/schoolgate/internal/domain/auth"
	"github.com/qslabs/schoolgate/internal/domain/model"
	apperrors "github.com/qslabs/schoolgate/internal/errors"
	"github.com/qslabs/schoolgate/internal/ports"
)

const userColumns = `id, username, email, password_hash, role, created_at, last_login_at`

var _ ports.UserRepository = (*UserRepo)(nil)

// UserRepo persists password-login accounts in the users table.
type UserRepo struct {
	DB *sql.DB
}

// NewUserRepo creates a new UserRepo.
func NewUserRepo(db *sql.DB) *UserRepo {
	return &UserRepo{DB: db}
}

func (r *UserRepo) mapErr(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrUserNotFound
	}
	mapped := apperrors.MapDBError(err)
	if apperrors.IsConflict(mapped) {
		return fmt.Errorf("%w: %w", ErrUserExists, mapped)
	}
	return mapped
}

func (r *UserRepo) queryOne(ctx context.Context, query string, args ...any) (*model.User, error) {
	u, err := pgxutil.QueryOne[model.User](ctx, r.DB, query, args...)
	if err != nil {
		return nil, r.mapErr(err)
	}
	return &u, nil
}

// Create inserts a user. The request must already carry a password hash.
func (r *UserRepo) Create(ctx context.Context, req *model.CreateUserRequest) (*model.User, error) {
	if req == nil {
		return nil, errors.New("create user request is required")
	}
	req.Normalize()
	if err := req.Validate(); err != nil {
		return nil, apperrors.Validation(err.Error())
	}
	if req.PasswordHash == "" {
		return nil, apperrors.ValidationField("password", "password hash is required")
	}

	query := `INSERT INTO users (username, email, password_hash, role)
		VALUES ($1, $2, $3, $4)
		RETURNING ` + userColumns
	return r.queryOne(ctx, query, req.Username, req.Email, req.PasswordHash, string(req.Role))
}

// GetByUsername looks a user up case-insensitively.
func (r *UserRepo) GetByUsername(ctx context.Context, username string) (*model.User, error) {
	username = strings.TrimSpace(username)
	if username == "" {
		return nil, ErrUserNotFound
	}
	query := `SELECT ` + userColumns + ` FROM users WHERE lower(username) = lower($1)`
	return r.queryOne(ctx, query, username)
}

// List returns users ordered by username, optionally filtered by role.
func (r *UserRepo) List(ctx context.Context, opts model.UserListOptions) ([]*model.User, error) {
	opts.Sanitize()

	var (
		query strings.Builder
		args  []any
	)
	query.WriteString(`SELECT ` + userColumns + ` FROM users`)
	if opts.Role != nil {
		args = append(args, string(*opts.Role))
		fmt.Fprintf(&query, " WHERE role = $%d", len(args))
	}
	args = append(args, opts.Limit, opts.Offset)
	fmt.Fprintf(&query, " ORDER BY lower(username) LIMIT $%d OFFSET $%d", len(args)-1, len(args))

	out, err := pgxutil.QueryAll[model.User](ctx, r.DB, query.String(), args...)
	if err != nil {
		return nil, r.mapErr(err)
	}
	return out, nil
}

// UpdateRole changes a user's role and returns the updated row.
func (r *UserRepo) UpdateRole(ctx context.Context, id int64, role domainauth.Role) (*model.User, error) {
	if !role.Valid() {
		return nil, apperrors.ValidationField("role", "role must be one of admin, teacher, student")
	}
	query := `UPDATE users SET role = $2, updated_at = now() WHERE id = $1 RETURNING ` + userColumns
	return r.queryOne(ctx, query, id, string(role))
}

// Delete removes a user. It reports whether a row was deleted.
func (r *UserRepo) Delete(ctx context.Context, id int64) (bool, error) {
	res, err := r.DB.ExecContext(ctx, `DELETE FROM users WHERE id = $1`, id)
	if err != nil {
		return false, r.mapErr(err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("rows affected: %w", err)
	}
	return n > 0, nil
}

// TouchLogin records a successful password login.
func (r *UserRepo) TouchLogin(ctx context.Context, id int64, at time.Time) error {
	res, err := r.DB.ExecContext(ctx, `UPDATE users SET last_login_at = $2 WHERE id = $1`, id, at.UTC())
	if err != nil {
		return r.mapErr(err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrUserNotFound
	}
	return nil
}
