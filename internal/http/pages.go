package httpx

import (
	"bytes"
	"embed"
	"html/template"
	"log/slog"
	"net/http"

	domainauth "github.com/qslabs/schoolgate/internal/domain/auth"
)

//go:embed pages/*.html
var pageFS embed.FS

// Page names.
const (
	PageLogin        = "login"
	PageDashboard    = "dashboard"
	PageUnauthorized = "unauthorized"
)

// PageData is the view model shared by every page.
type PageData struct {
	Title   string
	Session domainauth.Session

	// Login page
	LoginPath     string
	RedirectURI   string
	Username      string
	Error         string
	PasswordLogin bool
	ProviderLogin bool
	ProviderURL   string
}

// Pages renders the HTML pages.
type Pages struct {
	set    map[string]*template.Template
	logger *slog.Logger
}

// NewPages parses the embedded page templates.
func NewPages(logger *slog.Logger) (*Pages, error) {
	if logger == nil {
		logger = slog.Default()
	}
	p := &Pages{set: make(map[string]*template.Template), logger: logger}
	for _, name := range []string{PageLogin, PageDashboard, PageUnauthorized} {
		t, err := template.ParseFS(pageFS, "pages/layout.html", "pages/"+name+".html")
		if err != nil {
			return nil, err
		}
		p.set[name] = t
	}
	return p, nil
}

// MustNewPages is NewPages that panics on a template error.
func MustNewPages(logger *slog.Logger) *Pages {
	p, err := NewPages(logger)
	if err != nil {
		panic(err)
	}
	return p
}

// Render writes page name with status code.
func (p *Pages) Render(w http.ResponseWriter, r *http.Request, code int, name string, data PageData) {
	t, ok := p.set[name]
	if !ok {
		p.logger.ErrorContext(r.Context(), "unknown page", "page", name)
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	var buf bytes.Buffer
	if err := t.ExecuteTemplate(&buf, "layout", data); err != nil {
		p.logger.ErrorContext(r.Context(), "page render failed", "page", name, "error", err)
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(code)
	if _, err := buf.WriteTo(w); err != nil {
		return
	}
}
