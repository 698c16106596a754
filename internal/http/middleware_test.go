package httpx

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/qslabs/schoolgate/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSafeRedirectPath(t *testing.T) {
	tests := map[string]string{
		"":                         "/",
		"/teacher/dashboard":       "/teacher/dashboard",
		"/a?b=c":                   "/a?b=c",
		"https://evil.example/":    "/",
		"//evil.example/path":      "/",
		`/\evil.example`:           "/",
		"relative/path":            "/",
		"javascript:alert(1)":      "/",
		"/student/dashboard#marks": "/student/dashboard#marks",
	}
	for in, want := range tests {
		assert.Equal(t, want, safeRedirectPath(in), "input %q", in)
	}
}

func TestSafeRedirectFromURL(t *testing.T) {
	assert.Equal(t, "/x?y=1", safeRedirectFromURL("https://school.example/x?y=1"))
	assert.Equal(t, "", safeRedirectFromURL("//evil.example/x"))
	assert.Equal(t, "", safeRedirectFromURL(""))
}

func TestIsBrowserRequest(t *testing.T) {
	tests := []struct {
		name   string
		path   string
		accept string
		htmx   bool
		want   bool
	}{
		{name: "html page", path: "/teacher/dashboard", accept: "text/html", want: true},
		{name: "no accept header", path: "/teacher/dashboard", want: true},
		{name: "json accept", path: "/teacher/dashboard", accept: "application/json", want: false},
		{name: "api prefix", path: "/api/me", accept: "text/html", want: false},
		{name: "htmx", path: "/fragment", accept: "*/*", htmx: true, want: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, tt.path, nil)
			if tt.accept != "" {
				req.Header.Set("Accept", tt.accept)
			}
			if tt.htmx {
				req.Header.Set("Hx-Request", "true")
			}
			assert.Equal(t, tt.want, isBrowserRequest(req))
			assert.Equal(t, tt.want, IsBrowserRequest(req))
		})
	}
}

type httpObs struct {
	route  string
	status int
}

func (o *httpObs) ObserveHTTP(_, route string, status int, _ time.Duration) {
	o.route, o.status = route, status
}

func TestInstrument_LabelsByPattern(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /classes/{id}", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	})
	obs := &httpObs{}
	h := Instrument(obs)(mux)

	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/classes/42", nil))
	assert.Equal(t, "GET /classes/{id}", obs.route)
	assert.Equal(t, http.StatusTeapot, obs.status)

	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/nowhere", nil))
	assert.Equal(t, "unmatched", obs.route)
	assert.Equal(t, http.StatusNotFound, obs.status)
}

func TestRecover(t *testing.T) {
	h := Recover(testutil.DiscardLogger())(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic("boom")
	}))

	t.Run("browser", func(t *testing.T) {
		rec := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodGet, "/admin/dashboard", nil)
		req.Header.Set("Accept", "text/html")
		assert.NotPanics(t, func() { h.ServeHTTP(rec, req) })
		assert.Equal(t, http.StatusInternalServerError, rec.Code)
		assert.Contains(t, rec.Header().Get("Content-Type"), "text/plain")
	})

	t.Run("api", func(t *testing.T) {
		rec := httptest.NewRecorder()
		assert.NotPanics(t, func() { h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/me", nil)) })
		assert.Equal(t, http.StatusInternalServerError, rec.Code)
		assert.JSONEq(t, `{"error":"internal","message":"internal error"}`, rec.Body.String())
	})
}

func TestRecover_RepanicsOnAbort(t *testing.T) {
	h := Recover(testutil.DiscardLogger())(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic(http.ErrAbortHandler)
	}))
	assert.Panics(t, func() { h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", nil)) })
}

func TestLogging_RecordsStatusAndSize(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, nil))

	h := Logging(logger)(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("upstream"))
	}))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/teacher/dashboard", nil))
	assert.Equal(t, http.StatusBadGateway, rec.Code)

	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "ERROR", entry["level"])
	assert.InDelta(t, http.StatusBadGateway, entry["status"], 0)
	assert.InDelta(t, len("upstream"), entry["bytes"], 0)
	assert.Equal(t, "unmatched", entry["route"])
}
