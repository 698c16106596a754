package httpx

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"net/url"
	"strings"

	"github.com/qslabs/schoolgate/internal/adapters/cookie"
	domainauth "github.com/qslabs/schoolgate/internal/domain/auth"
	"github.com/qslabs/schoolgate/internal/ports"
	"github.com/qslabs/schoolgate/internal/service"
)

// Login modes reported to the observer.
const (
	LoginModePassword = "password"
	LoginModeProvider = "provider"
)

// Login results reported to the observer.
const (
	LoginResultSuccess = "success"
	LoginResultInvalid = "invalid"
	LoginResultError   = "error"
)

const (
	oauthStateCookie    = "oauth_state"
	oauthNonceCookie    = "oauth_nonce"
	postLoginCookie     = "post_login_redirect"
	oauthCookieMaxAge   = 600
	invalidLoginMessage = "Invalid username or password."
)

// AuthServiceInterface defines the interface for auth service operations.
type AuthServiceInterface interface {
	Login(ctx context.Context, username, password string) (domainauth.Session, error)
	BeginLogin(ctx context.Context, redirectURL string) (*service.BeginLoginResult, error)
	CompleteLogin(ctx context.Context, input service.CompleteLoginInput) (*service.CompleteLoginResult, error)
	Logout(ctx context.Context, token string) error
	PasswordLoginEnabled() bool
	ProviderLoginEnabled() bool
}

// LoginObserver records login and logout metrics.
type LoginObserver interface {
	ObserveLogin(mode, result string)
	ObserveLogout()
}

// AuthHandlers provides HTTP handlers for the login entry point.
type AuthHandlers struct {
	Svc          AuthServiceInterface
	Store        ports.ClientSessionStore
	Guard        *Guard
	Pages        *Pages
	CallbackURL  string // absolute callback URL registered with the identity provider
	CookieDomain string
	Observer     LoginObserver
	Logger       *slog.Logger
}

func (h *AuthHandlers) logger() *slog.Logger {
	if h != nil && h.Logger != nil {
		return h.Logger
	}
	return slog.Default()
}

func (h *AuthHandlers) loginPath() string {
	if h.Guard != nil {
		return h.Guard.LoginPath()
	}
	return DefaultLoginPath
}

// LoginPage shows the password form, or starts the provider flow when password
// login is not configured. Signed-in users go straight to their destination.
// GET /login?redirect_uri=<optional_redirect>.
func (h *AuthHandlers) LoginPage(w http.ResponseWriter, r *http.Request) {
	redirectURI := safeRedirectPath(r.URL.Query().Get("redirect_uri"))

	if sess, verdict := h.Guard.Check(w, r); verdict == domainauth.Authenticated {
		http.Redirect(w, r, h.destination(redirectURI, sess.Role), http.StatusSeeOther)
		return
	}

	switch {
	case h.Svc.PasswordLoginEnabled():
		h.renderLogin(w, r, http.StatusOK, PageData{RedirectURI: redirectURI})
	case h.Svc.ProviderLoginEnabled():
		h.startProvider(w, r, redirectURI)
	default:
		WriteError(w, ErrorParams{
			Code:    http.StatusServiceUnavailable,
			ErrCode: "login_unavailable",
			Err:     errors.New("no login method is configured"),
		})
	}
}

// ProviderStart starts the identity-provider flow.
// GET /auth/start?redirect_uri=<optional_redirect>.
func (h *AuthHandlers) ProviderStart(w http.ResponseWriter, r *http.Request) {
	h.startProvider(w, r, safeRedirectPath(r.URL.Query().Get("redirect_uri")))
}

func (h *AuthHandlers) startProvider(w http.ResponseWriter, r *http.Request, redirectURI string) {
	result, err := h.Svc.BeginLogin(r.Context(), h.CallbackURL)
	if err != nil {
		h.logger().ErrorContext(r.Context(), "begin login failed", "error", err)
		h.observeLogin(LoginModeProvider, LoginResultError)
		WriteError(w, ErrorParams{
			Code:    http.StatusInternalServerError,
			ErrCode: "login_failed",
			Err:     errors.New("could not start sign-in"),
		})
		return
	}

	// Store state, nonce, and the original redirect URI in secure cookies
	h.setOAuthCookies(w, r, oauthCookieParams{State: result.State, Nonce: result.Nonce, RedirectURI: redirectURI})
	http.Redirect(w, r, result.AuthURL, http.StatusFound)
}

type loginRequest struct {
	Username    string `json:"username"`
	Password    string `json:"password"`
	RedirectURI string `json:"redirect_uri"`
}

// LoginSubmit authenticates form or JSON credentials and stores the session.
// POST /login.
func (h *AuthHandlers) LoginSubmit(w http.ResponseWriter, r *http.Request) {
	asJSON := strings.HasPrefix(r.Header.Get("Content-Type"), "application/json")

	var req loginRequest
	if asJSON {
		if !DecodeJSON(w, r, &req) {
			return
		}
	} else {
		if err := r.ParseForm(); err != nil {
			WriteError(w, ErrorParams{Code: http.StatusBadRequest, ErrCode: "invalid_form", Err: err})
			return
		}
		req = loginRequest{
			Username:    r.PostForm.Get("username"),
			Password:    r.PostForm.Get("password"),
			RedirectURI: r.PostForm.Get("redirect_uri"),
		}
	}
	redirectURI := safeRedirectPath(req.RedirectURI)

	sess, err := h.Svc.Login(r.Context(), req.Username, req.Password)
	if err != nil {
		h.loginFailed(w, r, asJSON, loginFailure{err: err, username: req.Username, redirectURI: redirectURI})
		return
	}

	if saveErr := h.Store.Save(w, r, sess); saveErr != nil {
		h.logger().ErrorContext(r.Context(), "storing session failed", "error", saveErr)
		h.observeLogin(LoginModePassword, LoginResultError)
		WriteError(w, ErrorParams{
			Code:    http.StatusInternalServerError,
			ErrCode: "session_store_failed",
			Err:     errors.New("could not store session"),
		})
		return
	}
	h.observeLogin(LoginModePassword, LoginResultSuccess)

	target := h.destination(redirectURI, sess.Role)
	if asJSON {
		WriteJSON(w, http.StatusOK, map[string]any{
			"redirect_to": target,
			"user":        userJSON(sess),
			"expires_at":  sess.ExpiresAt,
		})
		return
	}
	http.Redirect(w, r, target, http.StatusSeeOther)
}

type loginFailure struct {
	err         error
	username    string
	redirectURI string
}

func (h *AuthHandlers) loginFailed(w http.ResponseWriter, r *http.Request, asJSON bool, f loginFailure) {
	code, errCode, message := http.StatusUnauthorized, "invalid_credentials", invalidLoginMessage
	result := LoginResultInvalid
	switch {
	case errors.Is(f.err, domainauth.ErrInvalidCredentials):
	case errors.Is(f.err, service.ErrLoginModeDisabled):
		code, errCode, message = http.StatusNotFound, "login_mode_disabled", "Password sign-in is not enabled."
		result = LoginResultError
	default:
		h.logger().ErrorContext(r.Context(), "login failed", "error", f.err)
		code, errCode, message = http.StatusServiceUnavailable, "login_failed", "Sign-in is temporarily unavailable."
		result = LoginResultError
	}
	h.observeLogin(LoginModePassword, result)

	if asJSON {
		WriteError(w, ErrorParams{Code: code, ErrCode: errCode, Err: errors.New(message)})
		return
	}
	h.renderLogin(w, r, code, PageData{RedirectURI: f.redirectURI, Username: f.username, Error: message})
}

func (h *AuthHandlers) renderLogin(w http.ResponseWriter, r *http.Request, code int, data PageData) {
	data.Title = "Sign in"
	data.LoginPath = h.loginPath()
	data.PasswordLogin = h.Svc.PasswordLoginEnabled()
	data.ProviderLogin = h.Svc.ProviderLoginEnabled()
	if data.ProviderLogin {
		data.ProviderURL = "/auth/start?redirect_uri=" + url.QueryEscape(data.RedirectURI)
	}
	h.Pages.Render(w, r, code, PageLogin, data)
}

// Callback handles the identity-provider callback.
// GET /auth/callback?code=<code>&state=<state>.
func (h *AuthHandlers) Callback(w http.ResponseWriter, r *http.Request) {
	code := r.URL.Query().Get("code")
	state := r.URL.Query().Get("state")
	if code == "" {
		WriteError(w, ErrorParams{
			Code:    http.StatusBadRequest,
			ErrCode: "missing_code",
			Err:     errors.New("authorization code is required"),
		})
		return
	}
	if state == "" {
		WriteError(w, ErrorParams{
			Code:    http.StatusBadRequest,
			ErrCode: "missing_state",
			Err:     errors.New("state parameter is required"),
		})
		return
	}

	// Verify state and read nonce
	stateCookie, err := r.Cookie(oauthStateCookie)
	if err != nil || stateCookie.Value != state {
		WriteError(w, ErrorParams{
			Code:    http.StatusBadRequest,
			ErrCode: "invalid_state",
			Err:     errors.New("invalid or missing state parameter"),
		})
		return
	}
	nonceCookie, err := r.Cookie(oauthNonceCookie)
	if err != nil {
		WriteError(w, ErrorParams{
			Code:    http.StatusBadRequest,
			ErrCode: "missing_nonce",
			Err:     errors.New("missing nonce parameter"),
		})
		return
	}

	result, err := h.Svc.CompleteLogin(r.Context(), service.CompleteLoginInput{
		Code:  code,
		State: state,
		Nonce: nonceCookie.Value,
	})
	h.clearCookie(w, r, oauthStateCookie)
	h.clearCookie(w, r, oauthNonceCookie)
	if err != nil {
		h.observeLogin(LoginModeProvider, LoginResultInvalid)
		if errors.Is(err, service.ErrNoRole) {
			h.clearCookie(w, r, postLoginCookie)
			h.Pages.Render(w, r, http.StatusForbidden, PageUnauthorized, PageData{Title: "Access denied", LoginPath: h.loginPath()})
			return
		}
		h.logger().WarnContext(r.Context(), "login completion failed", "error", err)
		WriteError(w, ErrorParams{
			Code:    http.StatusUnauthorized,
			ErrCode: "login_completion_failed",
			Err:     errors.New("sign-in could not be completed"),
		})
		return
	}

	if saveErr := h.Store.Save(w, r, result.Session); saveErr != nil {
		h.logger().ErrorContext(r.Context(), "storing session failed", "error", saveErr)
		h.observeLogin(LoginModeProvider, LoginResultError)
		WriteError(w, ErrorParams{
			Code:    http.StatusInternalServerError,
			ErrCode: "session_store_failed",
			Err:     errors.New("could not store session"),
		})
		return
	}
	h.observeLogin(LoginModeProvider, LoginResultSuccess)

	redirectURI := h.getPostLoginRedirect(w, r)
	http.Redirect(w, r, h.destination(redirectURI, result.Session.Role), http.StatusFound)
}

// Logout revokes the current session and clears it from the client.
// POST /logout.
func (h *AuthHandlers) Logout(w http.ResponseWriter, r *http.Request) {
	sess, err := h.Store.Load(r)
	if err != nil {
		h.logger().DebugContext(r.Context(), "logout with unreadable session", "error", err)
	}
	if sess.HasToken() {
		if logoutErr := h.Svc.Logout(r.Context(), sess.Token); logoutErr != nil {
			h.logger().WarnContext(r.Context(), "logout failed", "error", logoutErr)
		}
	}
	h.Store.Clear(w, r)
	if h.Observer != nil {
		h.Observer.ObserveLogout()
	}

	target := h.loginPath()
	isAJAX := strings.Contains(r.Header.Get("Accept"), "application/json") ||
		strings.EqualFold(r.Header.Get("X-Requested-With"), "XMLHttpRequest")
	switch {
	case IsHTMX(r):
		navigate(w, r, target)
	case isAJAX:
		WriteJSON(w, http.StatusOK, map[string]string{
			"status":      "success",
			"redirect_to": target,
		})
	default:
		http.Redirect(w, r, target, http.StatusSeeOther)
	}
}

// Status returns the current authentication status.
// GET /auth/status.
func (h *AuthHandlers) Status(w http.ResponseWriter, r *http.Request) {
	sess, verdict := h.Guard.Check(w, r)
	if verdict != domainauth.Authenticated {
		WriteJSON(w, http.StatusOK, map[string]any{
			"authenticated": false,
			"verdict":       verdict.String(),
		})
		return
	}

	WriteJSON(w, http.StatusOK, map[string]any{
		"authenticated": true,
		"verdict":       verdict.String(),
		"user":          userJSON(sess),
		"expires_at":    sess.ExpiresAt,
	})
}

// Unauthorized renders the access denied page.
// GET /unauthorized.
func (h *AuthHandlers) Unauthorized(w http.ResponseWriter, r *http.Request) {
	sess, _ := h.Guard.Check(w, r)
	h.Pages.Render(w, r, http.StatusForbidden, PageUnauthorized, PageData{
		Title:     "Access denied",
		Session:   sess,
		LoginPath: h.loginPath(),
	})
}

// destination picks where a signed-in user goes next: the requested page, or
// the role's dashboard when none was requested.
func (h *AuthHandlers) destination(redirectURI string, role domainauth.Role) string {
	redirectURI = safeRedirectPath(redirectURI)
	if redirectURI == "/" || strings.HasPrefix(redirectURI, h.loginPath()) {
		return role.DashboardPath()
	}
	return redirectURI
}

func (h *AuthHandlers) observeLogin(mode, result string) {
	if h.Observer != nil {
		h.Observer.ObserveLogin(mode, result)
	}
}

func userJSON(sess domainauth.Session) map[string]any {
	return map[string]any{
		"id":       sess.UserID,
		"username": sess.Username,
		"role":     sess.Role,
	}
}

// clearCookie clears a cookie by setting it to expire immediately.
// It mirrors key attributes (Secure, Path, Domain, SameSite) used when setting cookies.
func (h *AuthHandlers) clearCookie(w http.ResponseWriter, r *http.Request, name string) {
	http.SetCookie(w, &http.Cookie{
		Name:     name,
		Value:    "",
		Path:     "/",
		Domain:   h.CookieDomain,
		HttpOnly: true,
		Secure:   cookie.IsSecureRequest(r),
		MaxAge:   -1,
		SameSite: http.SameSiteLaxMode,
	})
}

// oauthCookieParams groups values needed to set OAuth cookies (≤3 params rule).
type oauthCookieParams struct {
	State       string
	Nonce       string
	RedirectURI string
}

// setOAuthCookies stores OAuth state, nonce, and the post-login redirect in short-lived cookies.
func (h *AuthHandlers) setOAuthCookies(w http.ResponseWriter, r *http.Request, p oauthCookieParams) {
	for name, value := range map[string]string{
		oauthStateCookie: p.State,
		oauthNonceCookie: p.Nonce,
		postLoginCookie:  p.RedirectURI,
	} {
		http.SetCookie(w, &http.Cookie{
			Name:     name,
			Value:    value,
			Path:     "/",
			Domain:   h.CookieDomain,
			HttpOnly: true,
			Secure:   cookie.IsSecureRequest(r),
			SameSite: http.SameSiteLaxMode,
			MaxAge:   oauthCookieMaxAge,
		})
	}
}

// getPostLoginRedirect returns the post-login redirect URL and clears the cookie.
func (h *AuthHandlers) getPostLoginRedirect(w http.ResponseWriter, r *http.Request) string {
	redirectURI := "/"
	if redirectCookie, err := r.Cookie(postLoginCookie); err == nil {
		redirectURI = safeRedirectPath(redirectCookie.Value)
		h.clearCookie(w, r, postLoginCookie)
	}
	return redirectURI
}
