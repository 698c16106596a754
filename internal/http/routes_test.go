package httpx

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/qslabs/schoolgate/internal/adapters/cookie"
	redisadapter "github.com/qslabs/schoolgate/internal/adapters/redis"
	domainauth "github.com/qslabs/schoolgate/internal/domain/auth"
	"github.com/qslabs/schoolgate/internal/domain/model"
	"github.com/qslabs/schoolgate/internal/mocks"
	"github.com/qslabs/schoolgate/internal/observability/metrics"
	"github.com/qslabs/schoolgate/internal/service"
	sgtestutil "github.com/qslabs/schoolgate/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"
	"golang.org/x/crypto/bcrypt"
)

type routerFixture struct {
	handler  http.Handler
	metrics  *metrics.Metrics
	registry *redisadapter.SessionStore
	auth     *service.AuthService
}

func newRouterFixture(t *testing.T, remoteVerify bool) *routerFixture {
	t.Helper()

	hash, err := bcrypt.GenerateFromPassword([]byte("correct horse"), bcrypt.MinCost)
	require.NoError(t, err)
	users := mocks.NewMockUserRepository(gomock.NewController(t))
	users.EXPECT().GetByUsername(gomock.Any(), "ada").Return(&model.User{
		ID: 42, Username: "ada", Role: domainauth.RoleTeacher, PasswordHash: string(hash),
	}, nil).AnyTimes()
	users.EXPECT().GetByUsername(gomock.Any(), gomock.Any()).Return(nil, model.ErrUserNotFound).AnyTimes()
	users.EXPECT().TouchLogin(gomock.Any(), int64(42), gomock.Any()).Return(nil).AnyTimes()

	_, rdb := sgtestutil.SetupTestRedis(t)
	registry := redisadapter.NewSessionStore(rdb)
	m := metrics.NewWith(prometheus.NewRegistry())

	authSvc := service.NewAuthService(service.AuthServiceOptions{
		Sessions: registry,
		Backends: service.LoginBackends{Users: users},
		Config:   service.AuthConfig{Verification: service.VerificationOptions{Observer: m}},
	})

	store, err := cookie.NewStore(cookie.Config{SigningKey: []byte("0123456789abcdef0123456789abcdef")})
	require.NoError(t, err)

	opts := GuardOptions{Store: store, Config: GuardConfig{Observer: m}}
	if remoteVerify {
		opts.Verifier = authSvc.Coordinator()
	}

	handler := NewRouter(RouterServices{
		Auth:    authSvc,
		Store:   store,
		Guard:   NewGuard(opts),
		Metrics: m,
		Ready: map[string]ReadinessCheck{
			"redis": func(ctx context.Context) error { return rdb.Ping(ctx).Err() },
		},
	})
	return &routerFixture{handler: handler, metrics: m, registry: registry, auth: authSvc}
}

func (f *routerFixture) do(req *http.Request, cookies ...*http.Cookie) *httptest.ResponseRecorder {
	for _, c := range cookies {
		req.AddCookie(c)
	}
	rec := httptest.NewRecorder()
	f.handler.ServeHTTP(rec, req)
	return rec
}

func (f *routerFixture) login(t *testing.T, redirectURI string) (*httptest.ResponseRecorder, *http.Cookie) {
	t.Helper()
	rec := f.do(postForm("/login", url.Values{
		"username":     {"ada"},
		"password":     {"correct horse"},
		"redirect_uri": {redirectURI},
	}))
	for _, c := range rec.Result().Cookies() {
		if c.Name == cookie.DefaultName {
			return rec, c
		}
	}
	t.Fatalf("login did not set %s cookie (status %d)", cookie.DefaultName, rec.Code)
	return nil, nil
}

func TestRouter_LoginFlow(t *testing.T) {
	f := newRouterFixture(t, false)

	rec := f.do(browserRequest("/teacher/dashboard"))
	require.Equal(t, http.StatusSeeOther, rec.Code)
	assert.Equal(t, "/login?redirect_uri=%2Fteacher%2Fdashboard", rec.Header().Get("Location"))

	rec = f.do(browserRequest("/login?redirect_uri=%2Fteacher%2Fdashboard"))
	require.Equal(t, http.StatusOK, rec.Code)

	rec, sessionCookie := f.login(t, "/teacher/dashboard")
	assert.Equal(t, http.StatusSeeOther, rec.Code)
	assert.Equal(t, "/teacher/dashboard", rec.Header().Get("Location"))
	assert.True(t, sessionCookie.HttpOnly)

	rec = f.do(browserRequest("/teacher/dashboard"), sessionCookie)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "Signed in as <strong>ada</strong>")

	rec = f.do(browserRequest("/admin/dashboard"), sessionCookie)
	assert.Equal(t, http.StatusSeeOther, rec.Code)
	assert.Equal(t, "/unauthorized", rec.Header().Get("Location"))

	rec = f.do(httptest.NewRequest(http.MethodGet, "/api/me", nil), sessionCookie)
	require.Equal(t, http.StatusOK, rec.Code)
	var me map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &me))
	assert.Equal(t, "42", me["user"].(map[string]any)["id"])

	rec = f.do(browserRequest("/"), sessionCookie)
	assert.Equal(t, "/teacher/dashboard", rec.Header().Get("Location"))

	n, err := f.registry.Count(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	rec = f.do(httptest.NewRequest(http.MethodPost, "/logout", nil), sessionCookie)
	assert.Equal(t, http.StatusSeeOther, rec.Code)
	assert.Equal(t, "/login", rec.Header().Get("Location"))
	n, err = f.registry.Count(context.Background())
	require.NoError(t, err)
	assert.Zero(t, n)

	assert.InDelta(t, 1, testutil.ToFloat64(f.metrics.LoginAttempts.WithLabelValues("password", "success")), 0)
	assert.InDelta(t, 1, testutil.ToFloat64(f.metrics.Logouts), 0)
	assert.InDelta(t, 1, testutil.ToFloat64(f.metrics.GuardDecisions.WithLabelValues("forbidden", "authenticated")), 0)
}

func TestRouter_RemoteVerificationRejectsRevokedCookie(t *testing.T) {
	f := newRouterFixture(t, true)

	_, sessionCookie := f.login(t, "")

	rec := f.do(browserRequest("/teacher/dashboard"), sessionCookie)
	require.Equal(t, http.StatusOK, rec.Code)

	// Replaying the cookie after logout must not get back in.
	f.do(httptest.NewRequest(http.MethodPost, "/logout", nil), sessionCookie)
	rec = f.do(browserRequest("/teacher/dashboard"), sessionCookie)
	assert.Equal(t, http.StatusSeeOther, rec.Code)
	assert.True(t, strings.HasPrefix(rec.Header().Get("Location"), "/login"))
	assert.InDelta(t, 2, testutil.ToFloat64(f.metrics.Verifications.WithLabelValues(service.VerifyResultRegistry)), 0)
}

func TestRouter_InvalidLogin(t *testing.T) {
	f := newRouterFixture(t, false)

	rec := f.do(postForm("/login", url.Values{"username": {"mallory"}, "password": {"guess"}}))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Empty(t, rec.Result().Cookies())
}

func TestRouter_TamperedCookie(t *testing.T) {
	f := newRouterFixture(t, false)

	rec := f.do(browserRequest("/teacher/dashboard"), &http.Cookie{Name: cookie.DefaultName, Value: "not-a-session"})
	assert.Equal(t, http.StatusSeeOther, rec.Code)
	assert.Equal(t, "/login?redirect_uri=%2Fteacher%2Fdashboard", rec.Header().Get("Location"))
}

func TestRouter_Operational(t *testing.T) {
	f := newRouterFixture(t, false)

	rec := f.do(httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, healthResponse, rec.Body.String())
	assert.Equal(t, "nosniff", rec.Header().Get("X-Content-Type-Options"))

	rec = f.do(httptest.NewRequest(http.MethodGet, "/readyz", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"redis":"ok"`)

	rec = f.do(httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "schoolgate_http_requests_total")
}

func TestReadyHandler_Failure(t *testing.T) {
	h := readyHandler(map[string]ReadinessCheck{
		"postgres": func(context.Context) error { return errors.New("refused") },
		"redis":    func(context.Context) error { return nil },
	}, sgtestutil.DiscardLogger())

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Contains(t, rec.Body.String(), `"postgres":"unavailable"`)
	assert.Contains(t, rec.Body.String(), `"redis":"ok"`)
}
