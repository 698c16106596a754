package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	domainauth "github.com/qslabs/schoolgate/internal/domain/auth"
	"github.com/qslabs/schoolgate/internal/domain/model"
	"github.com/qslabs/schoolgate/internal/ports"
	"golang.org/x/crypto/bcrypt"
)

const defaultSessionTTL = 8 * time.Hour

var (
	// ErrNoRole is returned when an identity's groups map to no school role.
	ErrNoRole = errors.New("identity has no school role")
	// ErrLoginModeDisabled is returned when the requested login flow is not configured.
	ErrLoginModeDisabled = errors.New("login mode not configured")
)

// dummyHash keeps unknown-user logins as slow as wrong-password logins.
var dummyHash = sync.OnceValue(func() []byte {
	h, err := bcrypt.GenerateFromPassword([]byte("schoolgate-placeholder-password"), bcrypt.DefaultCost)
	if err != nil {
		panic(err)
	}
	return h
})

// LoginBackends groups the login flows an AuthService can drive.
// Users enables password login; Provider and Roles enable identity-provider login.
type LoginBackends struct {
	Users    ports.UserRepository
	Provider ports.AuthProvider
	Roles    ports.RoleMapper
}

// AuthConfig tunes session issuance and remote verification.
type AuthConfig struct {
	SessionTTL   time.Duration // lifetime of sessions whose identity carries no expiry, default 8h
	Verification VerificationOptions
	Now          func() time.Time
	Logger       *slog.Logger
}

// AuthServiceOptions groups dependencies for AuthService.
type AuthServiceOptions struct {
	Sessions ports.SessionStore // Required: server-side token registry
	Backends LoginBackends
	Config   AuthConfig
}

// AuthService issues, verifies and revokes sessions.
type AuthService struct {
	sessions    ports.SessionStore
	users       ports.UserRepository
	provider    ports.AuthProvider
	roles       ports.RoleMapper
	ttl         time.Duration
	now         func() time.Time
	logger      *slog.Logger
	coordinator *VerificationCoordinator
}

// NewAuthService constructs a new AuthService.
func NewAuthService(opts AuthServiceOptions) *AuthService {
	if opts.Sessions == nil {
		panic("AuthService requires a SessionStore")
	}
	cfg := opts.Config
	if cfg.SessionTTL <= 0 {
		cfg.SessionTTL = defaultSessionTTL
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	s := &AuthService{
		sessions: opts.Sessions,
		users:    opts.Backends.Users,
		provider: opts.Backends.Provider,
		roles:    opts.Backends.Roles,
		ttl:      cfg.SessionTTL,
		now:      cfg.Now,
		logger:   cfg.Logger.With("component", "auth_service"),
	}
	vopts := cfg.Verification
	if vopts.Logger == nil {
		vopts.Logger = s.logger
	}
	if vopts.Now == nil {
		vopts.Now = cfg.Now
	}
	s.coordinator = NewVerificationCoordinator(s, vopts)
	return s
}

// Coordinator returns the verification coordinator bound to this service's registry.
func (s *AuthService) Coordinator() *VerificationCoordinator { return s.coordinator }

// PasswordLoginEnabled reports whether Login can be used.
func (s *AuthService) PasswordLoginEnabled() bool { return s.users != nil }

// ProviderLoginEnabled reports whether BeginLogin and CompleteLogin can be used.
func (s *AuthService) ProviderLoginEnabled() bool { return s.provider != nil && s.roles != nil }

// Login authenticates a username and password and registers a new session.
// Unknown users and wrong passwords both yield domainauth.ErrInvalidCredentials.
func (s *AuthService) Login(ctx context.Context, username, password string) (domainauth.Session, error) {
	if !s.PasswordLoginEnabled() {
		return domainauth.Session{}, ErrLoginModeDisabled
	}
	username = strings.TrimSpace(username)
	if username == "" || password == "" {
		return domainauth.Session{}, domainauth.ErrInvalidCredentials
	}

	user, err := s.users.GetByUsername(ctx, username)
	switch {
	case errors.Is(err, model.ErrUserNotFound):
		_ = bcrypt.CompareHashAndPassword(dummyHash(), []byte(password))
		return domainauth.Session{}, domainauth.ErrInvalidCredentials
	case err != nil:
		return domainauth.Session{}, fmt.Errorf("lookup user: %w", err)
	}

	if cmpErr := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)); cmpErr != nil {
		return domainauth.Session{}, domainauth.ErrInvalidCredentials
	}

	sess, err := s.issue(ctx, domainauth.Session{
		UserID:   strconv.FormatInt(user.ID, 10),
		Username: user.Username,
		Role:     user.Role,
	}, time.Time{})
	if err != nil {
		return domainauth.Session{}, err
	}

	if touchErr := s.users.TouchLogin(ctx, user.ID, s.now()); touchErr != nil {
		s.logger.WarnContext(ctx, "failed to record login time", "user_id", user.ID, "error", touchErr)
	}
	return sess, nil
}

// BeginLoginResult contains the result of beginning a login flow.
type BeginLoginResult struct {
	AuthURL string
	State   string
	Nonce   string
}

// BeginLogin initiates an authentication flow and returns the provider auth URL with state and nonce.
func (s *AuthService) BeginLogin(ctx context.Context, redirectURL string) (*BeginLoginResult, error) {
	if !s.ProviderLoginEnabled() {
		return nil, ErrLoginModeDisabled
	}
	if redirectURL == "" {
		return nil, errors.New("redirect URL is required")
	}

	authURL, state, nonce, err := s.provider.Begin(ctx, ports.BeginInput{RedirectURL: redirectURL})
	if err != nil {
		return nil, fmt.Errorf("begin auth flow: %w", err)
	}

	return &BeginLoginResult{
		AuthURL: authURL,
		State:   state,
		Nonce:   nonce,
	}, nil
}

// CompleteLoginInput groups parameters for completing a login flow.
type CompleteLoginInput struct {
	Code  string
	State string
	Nonce string
}

// CompleteLoginResult contains the result of completing a login flow.
type CompleteLoginResult struct {
	Session domainauth.Session
}

// CompleteLogin exchanges the code for an identity, maps its groups to a role,
// and registers a session.
func (s *AuthService) CompleteLogin(ctx context.Context, input CompleteLoginInput) (*CompleteLoginResult, error) {
	if !s.ProviderLoginEnabled() {
		return nil, ErrLoginModeDisabled
	}
	if input.Code == "" {
		return nil, errors.New("authorization code is required")
	}
	if input.State == "" {
		return nil, errors.New("state parameter is required")
	}
	if input.Nonce == "" {
		return nil, errors.New("nonce parameter is required")
	}

	identity, err := s.provider.Exchange(ctx, ports.ExchangeInput{
		Code:  input.Code,
		State: input.State,
		Nonce: input.Nonce,
	})
	if err != nil {
		return nil, fmt.Errorf("exchange authorization code: %w", err)
	}

	role := s.roles.Map(identity.Groups)
	if role == "" {
		s.logger.InfoContext(ctx, "identity has no mapped role", "user_id", identity.UserID, "groups", identity.Groups)
		return nil, ErrNoRole
	}

	username := identity.Username
	if username == "" {
		username = identity.Email
	}
	if username == "" {
		username = identity.UserID
	}

	sess, err := s.issue(ctx, domainauth.Session{
		UserID:   identity.UserID,
		Username: username,
		Role:     role,
	}, identity.ExpiresAt)
	if err != nil {
		return nil, err
	}
	return &CompleteLoginResult{Session: sess}, nil
}

// issue mints a token for principal and records it in the registry.
// A zero expiresAt means now plus the configured session TTL.
func (s *AuthService) issue(ctx context.Context, principal domainauth.Session, expiresAt time.Time) (domainauth.Session, error) {
	if expiresAt.IsZero() {
		expiresAt = s.now().Add(s.ttl)
	}
	sess := principal.WithExpiry(expiresAt.UTC().Truncate(time.Second))
	sess.Token = uuid.NewString()

	if err := s.sessions.Save(ctx, sess); err != nil {
		return domainauth.Session{}, fmt.Errorf("save session: %w", err)
	}
	s.logger.InfoContext(ctx, "session issued", "user_id", sess.UserID, "role", sess.Role, "expires_at", expiresAt)
	return sess, nil
}

// Verify confirms token against the registry. It satisfies TokenVerifier.
func (s *AuthService) Verify(ctx context.Context, token string) (domainauth.Session, error) {
	if token == "" {
		return domainauth.Session{}, domainauth.ErrMissingCredential
	}
	sess, err := s.sessions.Get(ctx, token)
	if err != nil {
		if errors.Is(err, ports.ErrSessionNotFound) {
			return domainauth.Session{}, fmt.Errorf("%w: %w", domainauth.ErrMissingCredential, err)
		}
		return domainauth.Session{}, fmt.Errorf("%w: %w", domainauth.ErrVerificationFailure, err)
	}
	if err := domainauth.Evaluate(sess, s.now()).Err(); err != nil {
		return domainauth.Session{}, err
	}
	return sess, nil
}

// Logout revokes token. Cached verdicts are dropped even when the registry
// delete fails.
func (s *AuthService) Logout(ctx context.Context, token string) error {
	if token == "" {
		return nil
	}
	err := s.sessions.Delete(ctx, token)
	s.coordinator.Invalidate(token)
	if err != nil {
		return fmt.Errorf("delete session: %w", err)
	}
	return nil
}
