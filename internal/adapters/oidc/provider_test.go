package oidc

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"

	"github.com/qslabs/schoolgate/internal/ports"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/oauth2"
)

// newDiscoveryServer serves a minimal discovery document whose issuer matches its URL.
func newDiscoveryServer(t *testing.T) *httptest.Server {
	t.Helper()
	var srv *httptest.Server
	srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/.well-known/openid-configuration" {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"issuer":                 srv.URL,
			"authorization_endpoint": srv.URL + "/authorize",
			"token_endpoint":         srv.URL + "/token",
			"userinfo_endpoint":      srv.URL + "/userinfo",
			"jwks_uri":               srv.URL + "/jwks",
		})
	}))
	t.Cleanup(srv.Close)
	return srv
}

func createTestProvider(t *testing.T) (*Provider, *httptest.Server) {
	t.Helper()
	srv := newDiscoveryServer(t)
	p, err := NewProvider(context.Background(), ProviderConfig{
		ClientID:     "schoolgate",
		ClientSecret: "secret",
		RedirectURL:  "http://localhost:8080/auth/callback",
		Scope:        "profile email",
		IssuerURL:    srv.URL + "/.well-known/openid-configuration",
	})
	require.NoError(t, err)
	return p, srv
}

func TestNewProvider_Discovery(t *testing.T) {
	p, srv := createTestProvider(t)
	assert.Equal(t, srv.URL+"/authorize", p.config.Endpoint.AuthURL)
	assert.Equal(t, srv.URL+"/token", p.config.Endpoint.TokenURL)
	assert.Equal(t, []string{"openid", "profile", "email"}, p.config.Scopes)
	assert.Equal(t, "groups", p.groupClaim)
}

func TestNewProvider_ValidationErrors(t *testing.T) {
	tests := []struct {
		name   string
		config ProviderConfig
		errMsg string
	}{
		{name: "missing client ID", config: ProviderConfig{ClientSecret: "s", RedirectURL: "r", IssuerURL: "i"}, errMsg: "client ID is required"},
		{name: "missing client secret", config: ProviderConfig{ClientID: "c", RedirectURL: "r", IssuerURL: "i"}, errMsg: "client secret is required"},
		{name: "missing redirect URL", config: ProviderConfig{ClientID: "c", ClientSecret: "s", IssuerURL: "i"}, errMsg: "redirect URL is required"},
		{name: "missing issuer", config: ProviderConfig{ClientID: "c", ClientSecret: "s", RedirectURL: "r"}, errMsg: "issuer URL is required"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewProvider(context.Background(), tt.config)
			require.ErrorContains(t, err, tt.errMsg)
		})
	}
}

func TestProvider_Begin(t *testing.T) {
	p, srv := createTestProvider(t)

	authURL, state, nonce, err := p.Begin(context.Background(), ports.BeginInput{RedirectURL: "/teacher/dashboard"})
	require.NoError(t, err)
	assert.Len(t, state, 32)
	assert.Len(t, nonce, 32)

	u, err := url.Parse(authURL)
	require.NoError(t, err)
	assert.Equal(t, srv.URL+"/authorize", u.Scheme+"://"+u.Host+u.Path)
	q := u.Query()
	assert.Equal(t, "schoolgate", q.Get("client_id"))
	assert.Equal(t, state, q.Get("state"))
	assert.Equal(t, nonce, q.Get("nonce"))
}

func TestProvider_Begin_EmptyRedirectURL(t *testing.T) {
	p, _ := createTestProvider(t)
	_, _, _, err := p.Begin(context.Background(), ports.BeginInput{})
	require.ErrorContains(t, err, "redirect URL is required")
}

func TestProvider_Exchange_ValidationErrors(t *testing.T) {
	p, _ := createTestProvider(t)

	tests := []struct {
		name   string
		input  ports.ExchangeInput
		errMsg string
	}{
		{name: "missing code", input: ports.ExchangeInput{State: "s", Nonce: "n"}, errMsg: "authorization code is required"},
		{name: "missing state", input: ports.ExchangeInput{Code: "c", Nonce: "n"}, errMsg: "state is required"},
		{name: "missing nonce", input: ports.ExchangeInput{Code: "c", State: "s"}, errMsg: "nonce is required"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := p.Exchange(context.Background(), tt.input)
			require.ErrorContains(t, err, tt.errMsg)
		})
	}
}

func TestProvider_Exchange_TokenEndpointFailure(t *testing.T) {
	p, _ := createTestProvider(t)
	_, err := p.Exchange(context.Background(), ports.ExchangeInput{Code: "c", State: "s", Nonce: "n"})
	require.ErrorContains(t, err, "exchange code for token")
}

func TestIDTokenFrom(t *testing.T) {
	tok := (&oauth2.Token{}).WithExtra(map[string]any{"id_token": "abc.def.ghi"})
	raw, err := idTokenFrom(tok)
	require.NoError(t, err)
	assert.Equal(t, "abc.def.ghi", raw)

	_, err = idTokenFrom((&oauth2.Token{}).WithExtra(map[string]any{"other": "x"}))
	require.ErrorContains(t, err, "missing id_token")

	_, err = idTokenFrom(nil)
	require.ErrorContains(t, err, "nil token")
}

func TestMapClaims(t *testing.T) {
	p := &Provider{groupClaim: "roles"}

	c := p.mapClaims(map[string]any{
		"sub":                "u-1",
		"preferred_username": "ada",
		"email":              "ada@school.test",
		"roles":              []any{"teachers", 7, ""},
	})
	assert.Equal(t, claims{subject: "u-1", username: "ada", email: "ada@school.test", groups: []string{"teachers"}}, c)
	assert.False(t, c.incomplete())

	single := p.mapClaims(map[string]any{"sub": "u-2", "upn": "bob@school", "roles": "students"})
	assert.Equal(t, "bob@school", single.username)
	assert.Equal(t, []string{"students"}, single.groups)
}

func TestClaims_FillFromKeepsExisting(t *testing.T) {
	c := claims{subject: "keep", groups: []string{"x"}}
	c.fillFrom(claims{subject: "other", username: "ada", email: "a@b", groups: []string{"y"}})
	assert.Equal(t, claims{subject: "keep", username: "ada", email: "a@b", groups: []string{"x"}}, c)
}
