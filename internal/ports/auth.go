package ports

// Package ports defines interfaces (hexagonal ports) for auth-related behavior.
// Implementations live in internal/adapters; orchestration in internal/service.

import (
	"context"
	"errors"
	"net/http"
	"time"

	domainauth "github.com/qslabs/schoolgate/internal/domain/auth"
	"github.com/qslabs/schoolgate/internal/domain/model"
)

// BeginInput carries inputs for initiating an auth flow.
type BeginInput struct {
	RedirectURL string
}

// AuthProvider initiates and completes an authentication flow against an IdP.
type AuthProvider interface {
	// Begin starts the login flow and returns the provider auth URL, an opaque state, and a nonce.
	Begin(ctx context.Context, in BeginInput) (authURL, state, nonce string, err error)

	// Exchange completes the login flow, verifying state and nonce, and returns the authenticated identity.
	Exchange(ctx context.Context, in ExchangeInput) (domainauth.Identity, error)
}

// ExchangeInput groups parameters for the code/token exchange.
type ExchangeInput struct {
	Code  string
	State string
	Nonce string
}

// ErrSessionNotFound is reported (via errors.Is) when a token is not registered.
var ErrSessionNotFound = errors.New("session not found")

// SessionStore is the server-side token registry. It records issued tokens so a
// session can be verified remotely and revoked on logout.
type SessionStore interface {
	Save(ctx context.Context, sess domainauth.Session) error
	Get(ctx context.Context, token string) (domainauth.Session, error)
	Delete(ctx context.Context, token string) error
}

// ClientSessionStore persists the current session in client-side storage.
// Load never returns a partial session: on any read problem the session is
// empty and the error wraps domainauth.ErrStorageRead.
type ClientSessionStore interface {
	Load(r *http.Request) (domainauth.Session, error)
	Save(w http.ResponseWriter, r *http.Request, sess domainauth.Session) error
	Clear(w http.ResponseWriter, r *http.Request)
}

// RoleMapper maps provider groups to application roles.
type RoleMapper interface {
	Map(groups []string) domainauth.Role
}

// UserRepository stores school members that can sign in with a password.
type UserRepository interface {
	Create(ctx context.Context, req *model.CreateUserRequest) (*model.User, error)
	GetByUsername(ctx context.Context, username string) (*model.User, error)
	List(ctx context.Context, opts model.UserListOptions) ([]*model.User, error)
	UpdateRole(ctx context.Context, id int64, role domainauth.Role) (*model.User, error)
	Delete(ctx context.Context, id int64) (bool, error)
	TouchLogin(ctx context.Context, id int64, at time.Time) error
}
