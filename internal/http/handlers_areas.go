package httpx

import (
	"net/http"

	domainauth "github.com/qslabs/schoolgate/internal/domain/auth"
)

// AreaHandlers renders the protected areas. Every handler expects the guard to
// have admitted the request.
type AreaHandlers struct {
	Pages *Pages
	Guard *Guard
}

// Dashboard returns a handler rendering the dashboard titled title.
func (h *AreaHandlers) Dashboard(title string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		sess, ok := SessionFromContext(r.Context())
		if !ok {
			http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
			return
		}
		h.Pages.Render(w, r, http.StatusOK, PageDashboard, PageData{Title: title, Session: sess})
	}
}

// Me returns the admitted session's principal.
// GET /api/me.
func (h *AreaHandlers) Me(w http.ResponseWriter, r *http.Request) {
	sess, ok := SessionFromContext(r.Context())
	if !ok {
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}
	WriteJSON(w, http.StatusOK, map[string]any{
		"user":       userJSON(sess),
		"expires_at": sess.ExpiresAt,
	})
}

// Root sends signed-in users to their dashboard and everyone else to the login page.
// GET /{$}.
func (h *AreaHandlers) Root(w http.ResponseWriter, r *http.Request) {
	sess, verdict := h.Guard.Check(w, r)
	if verdict != domainauth.Authenticated {
		http.Redirect(w, r, h.Guard.LoginPath(), http.StatusSeeOther)
		return
	}
	http.Redirect(w, r, sess.Role.DashboardPath(), http.StatusSeeOther)
}
