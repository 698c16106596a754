package httpx

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	domainauth "github.com/qslabs/schoolgate/internal/domain/auth"
	obserrors "github.com/qslabs/schoolgate/internal/observability/errors"
	"github.com/qslabs/schoolgate/internal/ports"
	"github.com/qslabs/schoolgate/internal/service"
)

// GuardState is the guard's progress through one request.
type GuardState int

const (
	GuardChecking GuardState = iota
	GuardAuthenticated
	GuardRedirecting
)

func (s GuardState) String() string {
	switch s {
	case GuardAuthenticated:
		return "authenticated"
	case GuardRedirecting:
		return "redirecting"
	default:
		return "checking"
	}
}

// Guard outcome labels reported to the observer.
const (
	GuardOutcomeAdmitted   = "admitted"
	GuardOutcomeRedirected = "redirected"
	GuardOutcomeForbidden  = "forbidden"
	GuardOutcomeAbandoned  = "abandoned"
)

const (
	DefaultLoginPath        = "/login"
	DefaultUnauthorizedPath = "/unauthorized"
)

// SessionVerifier confirms a locally valid session with the server.
type SessionVerifier interface {
	Check(ctx context.Context, token string) (service.Verification, error)
}

// GuardObserver receives one observation per guarded request.
type GuardObserver interface {
	ObserveGuard(outcome, verdict string)
}

// GuardConfig tunes guard behavior. Zero values select defaults.
type GuardConfig struct {
	LoginPath        string
	UnauthorizedPath string
	Now              func() time.Time
	Observer         GuardObserver
	Logger           *slog.Logger
}

// GuardOptions groups dependencies for Guard.
type GuardOptions struct {
	Store    ports.ClientSessionStore // Required: where the current session lives
	Verifier SessionVerifier          // Optional: remote confirmation of locally valid sessions
	Config   GuardConfig
}

// Guard gates protected handlers on the current session.
//
// Each request moves from Checking to either Authenticated, where the wrapped
// handler runs with the session in its context, or Redirecting. An expired
// session is cleared from the store before the redirect. Storage read
// failures and verification failures are treated as unauthenticated.
type Guard struct {
	store            ports.ClientSessionStore
	verifier         SessionVerifier
	loginPath        string
	unauthorizedPath string
	now              func() time.Time
	observer         GuardObserver
	logger           *slog.Logger
}

// NewGuard constructs a Guard.
func NewGuard(opts GuardOptions) *Guard {
	if opts.Store == nil {
		panic("guard requires a ClientSessionStore")
	}
	cfg := opts.Config
	if cfg.LoginPath == "" {
		cfg.LoginPath = DefaultLoginPath
	}
	if cfg.UnauthorizedPath == "" {
		cfg.UnauthorizedPath = DefaultUnauthorizedPath
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Guard{
		store:            opts.Store,
		verifier:         opts.Verifier,
		loginPath:        cfg.LoginPath,
		unauthorizedPath: cfg.UnauthorizedPath,
		now:              cfg.Now,
		observer:         cfg.Observer,
		logger:           cfg.Logger.With("component", "guard"),
	}
}

// LoginPath returns the login entry point the guard redirects to.
func (g *Guard) LoginPath() string { return g.loginPath }

// UnauthorizedPath returns where browsers lacking the required role are sent.
func (g *Guard) UnauthorizedPath() string { return g.unauthorizedPath }

// Protect admits any authenticated session.
func (g *Guard) Protect(next http.Handler) http.Handler { return g.Require()(next) }

// Require admits authenticated sessions whose role is in roles.
// No roles admits every authenticated session.
func (g *Guard) Require(roles ...domainauth.Role) func(http.Handler) http.Handler {
	allowed := append([]domainauth.Role(nil), roles...)
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			sess, verdict, ok := g.check(w, r)
			if !ok {
				return
			}

			if verdict != domainauth.Authenticated {
				g.redirect(w, r, verdict)
				return
			}

			if !sess.HasAnyRole(allowed...) {
				g.forbid(w, r, sess)
				return
			}

			g.logger.DebugContext(r.Context(), "guard admitted request",
				"state", GuardAuthenticated, "path", r.URL.Path, "user_id", sess.UserID, "role", sess.Role)
			g.observe(GuardOutcomeAdmitted, verdict)
			next.ServeHTTP(w, r.WithContext(SetSessionInContext(r.Context(), sess)))
		})
	}
}

// Check evaluates the current session without enforcing anything. Expired and
// revoked sessions are cleared from the store as a side effect.
func (g *Guard) Check(w http.ResponseWriter, r *http.Request) (domainauth.Session, domainauth.Verdict) {
	sess, verdict, ok := g.check(w, r)
	if !ok {
		return domainauth.Session{}, domainauth.Unauthenticated
	}
	if verdict != domainauth.Authenticated {
		return domainauth.Session{}, verdict
	}
	return sess, verdict
}

// check runs the Checking state. ok is false when the client went away during
// remote verification; nothing has been written to w in that case.
func (g *Guard) check(w http.ResponseWriter, r *http.Request) (domainauth.Session, domainauth.Verdict, bool) {
	ctx := r.Context()

	sess, err := g.store.Load(r)
	if err != nil {
		g.logger.WarnContext(ctx, "session storage read failed",
			"state", GuardChecking, "path", r.URL.Path, "error", err, "error_class", obserrors.Classify(err))
		g.store.Clear(w, r)
		return domainauth.Session{}, domainauth.Unauthenticated, true
	}

	verdict := domainauth.Evaluate(sess, g.now())
	switch verdict {
	case domainauth.Expired:
		g.store.Clear(w, r)
		return sess, verdict, true
	case domainauth.Unauthenticated:
		return sess, verdict, true
	}

	if g.verifier == nil {
		return sess, verdict, true
	}

	res, err := g.verifier.Check(ctx, sess.Token)
	switch {
	case err == nil:
	case ctx.Err() != nil || errors.Is(err, context.Canceled):
		g.logger.DebugContext(ctx, "client went away during session verification",
			"state", GuardChecking, "path", r.URL.Path)
		g.observe(GuardOutcomeAbandoned, verdict)
		return domainauth.Session{}, domainauth.Unauthenticated, false
	default:
		g.logger.WarnContext(ctx, "session verification failed",
			"state", GuardChecking, "path", r.URL.Path, "error", err, "error_class", obserrors.Classify(err))
		return domainauth.Session{}, domainauth.Unauthenticated, true
	}

	if res.Verdict != domainauth.Authenticated {
		// The server no longer recognizes this token.
		g.store.Clear(w, r)
	}
	return sess, res.Verdict, true
}

func (g *Guard) redirect(w http.ResponseWriter, r *http.Request, verdict domainauth.Verdict) {
	g.logger.InfoContext(r.Context(), "guard redirecting to login",
		"state", GuardRedirecting, "path", r.URL.Path, "verdict", verdict)
	g.observe(GuardOutcomeRedirected, verdict)

	if !IsBrowserRequest(r) {
		WriteError(w, ErrorParams{
			Code:    http.StatusUnauthorized,
			ErrCode: "authentication_required",
			Err:     errors.New("authentication required"),
		})
		return
	}
	navigate(w, r, LoginURL(g.loginPath, redirectPathForRequest(r)))
}

func (g *Guard) forbid(w http.ResponseWriter, r *http.Request, sess domainauth.Session) {
	g.logger.InfoContext(r.Context(), "guard denied role",
		"state", GuardRedirecting, "path", r.URL.Path, "user_id", sess.UserID, "role", sess.Role)
	g.observe(GuardOutcomeForbidden, domainauth.Authenticated)

	if !IsBrowserRequest(r) {
		WriteError(w, ErrorParams{
			Code:    http.StatusForbidden,
			ErrCode: "insufficient_permissions",
			Err:     errors.New("insufficient permissions"),
		})
		return
	}
	navigate(w, r, g.unauthorizedPath)
}

func (g *Guard) observe(outcome string, verdict domainauth.Verdict) {
	if g.observer != nil {
		g.observer.ObserveGuard(outcome, verdict.String())
	}
}

// LoginURL builds the login entry point URL carrying the post-login destination.
func LoginURL(loginPath, redirectPath string) string {
	redirectPath = safeRedirectPath(redirectPath)
	if redirectPath == "/" {
		return loginPath
	}
	return loginPath + "?redirect_uri=" + url.QueryEscape(redirectPath)
}

// navigate sends the browser to target without adding the current URL to history.
func navigate(w http.ResponseWriter, r *http.Request, target string) {
	if IsHTMX(r) {
		SetHXRedirect(w, target)
		w.WriteHeader(http.StatusOK)
		return
	}
	http.Redirect(w, r, target, http.StatusSeeOther)
}
