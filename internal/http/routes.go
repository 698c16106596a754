package httpx

import (
	"log/slog"
	"net/http"

	domainauth "github.com/qslabs/schoolgate/internal/domain/auth"
	"github.com/qslabs/schoolgate/internal/observability/metrics"
	"github.com/qslabs/schoolgate/internal/ports"
)

// RouterServices holds everything the HTTP router needs.
type RouterServices struct {
	Auth  AuthServiceInterface     // Required
	Store ports.ClientSessionStore // Required: client-side session storage
	Guard *Guard                   // Required
	Pages *Pages                   // Optional: defaults to the embedded pages

	Metrics *metrics.Metrics          // Optional: enables /metrics and request metrics
	Ready   map[string]ReadinessCheck // Optional: dependencies probed by /readyz

	CallbackURL  string
	CookieDomain string
	Logger       *slog.Logger
}

// NewRouter creates and configures the HTTP router.
func NewRouter(services RouterServices) http.Handler {
	logger := services.Logger
	if logger == nil {
		logger = slog.Default()
	}
	pages := services.Pages
	if pages == nil {
		pages = MustNewPages(logger)
	}

	mux := http.NewServeMux()
	guard := services.Guard

	authHandlers := &AuthHandlers{
		Svc:          services.Auth,
		Store:        services.Store,
		Guard:        guard,
		Pages:        pages,
		CallbackURL:  services.CallbackURL,
		CookieDomain: services.CookieDomain,
		Logger:       logger,
	}
	if services.Metrics != nil {
		authHandlers.Observer = services.Metrics
	}
	registerAuthRoutes(mux, authHandlers)
	registerAreaRoutes(mux, &AreaHandlers{Pages: pages, Guard: guard})

	mux.Handle("GET /healthz", http.HandlerFunc(healthHandler))
	mux.Handle("HEAD /healthz", http.HandlerFunc(healthHandler))
	mux.Handle("GET /readyz", readyHandler(services.Ready, logger))

	var handler http.Handler = mux
	if services.Metrics != nil {
		mux.Handle("GET /metrics", services.Metrics.Handler())
		handler = Instrument(services.Metrics)(handler)
	}

	// Logging and Instrument must see the request the mux routes, so nothing
	// that replaces *http.Request sits between them and the mux.
	handler = Logging(logger)(handler)
	handler = SecurityHeaders()(handler)
	handler = BrowserDetection()(handler)
	return Recover(logger)(handler)
}

func registerAuthRoutes(mux *http.ServeMux, h *AuthHandlers) {
	mux.HandleFunc("GET "+h.loginPath(), h.LoginPage)
	mux.HandleFunc("POST "+h.loginPath(), h.LoginSubmit)
	mux.HandleFunc("GET /auth/start", h.ProviderStart)
	mux.HandleFunc("GET /auth/callback", h.Callback)
	mux.HandleFunc("POST /logout", h.Logout)
	mux.HandleFunc("GET /auth/status", h.Status)
	mux.HandleFunc("GET "+h.Guard.UnauthorizedPath(), h.Unauthorized)
}

func registerAreaRoutes(mux *http.ServeMux, h *AreaHandlers) {
	g := h.Guard
	mux.Handle("GET /admin/dashboard",
		g.Require(domainauth.RoleAdmin)(h.Dashboard("Administration")))
	mux.Handle("GET /teacher/dashboard",
		g.Require(domainauth.RoleTeacher, domainauth.RoleAdmin)(h.Dashboard("Teacher area")))
	mux.Handle("GET /student/dashboard",
		g.Require(domainauth.RoleStudent, domainauth.RoleAdmin)(h.Dashboard("Student area")))
	mux.Handle("GET /api/me", g.Protect(http.HandlerFunc(h.Me)))
	mux.HandleFunc("GET /{$}", h.Root)
}
