// Package oidc authenticates school members against an OpenID Connect provider.
package oidc

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"net/http"
	"slices"
	"strings"
	"time"

	gooidc "github.com/coreos/go-oidc/v3/oidc"
	domainauth "github.com/qslabs/schoolgate/internal/domain/auth"
	"github.com/qslabs/schoolgate/internal/ports"
	"golang.org/x/oauth2"
)

const defaultTokenLifetime = time.Hour

var _ ports.AuthProvider = (*Provider)(nil)

// Provider implements ports.AuthProvider using the authorization code flow.
type Provider struct {
	config     *oauth2.Config
	httpClient *http.Client
	provider   *gooidc.Provider
	verifier   *gooidc.IDTokenVerifier
	groupClaim string
}

// ProviderConfig holds configuration for the OIDC provider.
type ProviderConfig struct {
	ClientID     string
	ClientSecret string
	RedirectURL  string
	Scope        string
	IssuerURL    string       // issuer or full discovery document URL
	GroupsClaim  string       // claim carrying group membership, default "groups"
	HTTPClient   *http.Client // optional, defaults to a client with a 30s timeout
}

// NewProvider performs discovery against the issuer and returns a provider.
func NewProvider(ctx context.Context, cfg ProviderConfig) (*Provider, error) {
	switch {
	case cfg.ClientID == "":
		return nil, errors.New("client ID is required")
	case cfg.ClientSecret == "":
		return nil, errors.New("client secret is required")
	case cfg.RedirectURL == "":
		return nil, errors.New("redirect URL is required")
	case cfg.IssuerURL == "":
		return nil, errors.New("issuer URL is required")
	}

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	groupClaim := cfg.GroupsClaim
	if groupClaim == "" {
		groupClaim = "groups"
	}

	issuer := strings.TrimSuffix(cfg.IssuerURL, "/")
	issuer = strings.TrimSuffix(issuer, "/.well-known/openid-configuration")

	op, err := gooidc.NewProvider(gooidc.ClientContext(ctx, httpClient), issuer)
	if err != nil {
		return nil, fmt.Errorf("oidc discovery: %w", err)
	}

	scopes := strings.Fields(cfg.Scope)
	if !slices.Contains(scopes, gooidc.ScopeOpenID) {
		scopes = append([]string{gooidc.ScopeOpenID}, scopes...)
	}

	return &Provider{
		config: &oauth2.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			RedirectURL:  cfg.RedirectURL,
			Scopes:       scopes,
			Endpoint:     op.Endpoint(),
		},
		httpClient: httpClient,
		provider:   op,
		verifier:   op.Verifier(&gooidc.Config{ClientID: cfg.ClientID}),
		groupClaim: groupClaim,
	}, nil
}

// Begin returns the IdP authorization URL plus fresh state and nonce.
func (p *Provider) Begin(_ context.Context, in ports.BeginInput) (string, string, string, error) {
	if in.RedirectURL == "" {
		return "", "", "", errors.New("redirect URL is required")
	}
	state, err := randomString(32)
	if err != nil {
		return "", "", "", fmt.Errorf("generate state: %w", err)
	}
	nonce, err := randomString(32)
	if err != nil {
		return "", "", "", fmt.Errorf("generate nonce: %w", err)
	}
	authURL := p.config.AuthCodeURL(state, gooidc.Nonce(nonce))
	return authURL, state, nonce, nil
}

// Exchange redeems the authorization code, verifies the ID token and its nonce,
// and falls back to the UserInfo endpoint for missing claims.
func (p *Provider) Exchange(ctx context.Context, in ports.ExchangeInput) (domainauth.Identity, error) {
	switch {
	case in.Code == "":
		return domainauth.Identity{}, errors.New("authorization code is required")
	case in.State == "":
		return domainauth.Identity{}, errors.New("state is required")
	case in.Nonce == "":
		return domainauth.Identity{}, errors.New("nonce is required")
	}

	ctx = gooidc.ClientContext(ctx, p.httpClient)
	tok, err := p.config.Exchange(ctx, in.Code)
	if err != nil {
		return domainauth.Identity{}, fmt.Errorf("exchange code for token: %w", err)
	}

	rawID, err := idTokenFrom(tok)
	if err != nil {
		return domainauth.Identity{}, err
	}
	idTok, err := p.verifier.Verify(ctx, rawID)
	if err != nil {
		return domainauth.Identity{}, fmt.Errorf("verify id_token: %w", err)
	}
	if idTok.Nonce != in.Nonce {
		return domainauth.Identity{}, errors.New("invalid nonce")
	}

	var raw map[string]any
	if claimsErr := idTok.Claims(&raw); claimsErr != nil {
		return domainauth.Identity{}, fmt.Errorf("parse id_token claims: %w", claimsErr)
	}
	c := p.mapClaims(raw)

	if c.incomplete() {
		ui, uiErr := p.provider.UserInfo(ctx, oauth2.StaticTokenSource(tok))
		if uiErr != nil {
			return domainauth.Identity{}, fmt.Errorf("get user info: %w", uiErr)
		}
		var extra map[string]any
		if claimsErr := ui.Claims(&extra); claimsErr != nil {
			return domainauth.Identity{}, fmt.Errorf("decode user info: %w", claimsErr)
		}
		c.fillFrom(p.mapClaims(extra))
	}
	if c.subject == "" {
		return domainauth.Identity{}, errors.New("identity has no subject")
	}

	expiresAt := idTok.Expiry
	if expiresAt.IsZero() {
		expiresAt = time.Now().Add(defaultTokenLifetime)
	}

	return domainauth.Identity{
		UserID:    c.subject,
		Username:  firstNonEmpty(c.username, c.email, c.subject),
		Email:     c.email,
		Groups:    c.groups,
		ExpiresAt: expiresAt,
	}, nil
}

type claims struct {
	subject  string
	username string
	email    string
	groups   []string
}

func (c claims) incomplete() bool {
	return c.subject == "" || c.username == "" || len(c.groups) == 0
}

func (c *claims) fillFrom(o claims) {
	if c.subject == "" {
		c.subject = o.subject
	}
	if c.username == "" {
		c.username = o.username
	}
	if c.email == "" {
		c.email = o.email
	}
	if len(c.groups) == 0 {
		c.groups = o.groups
	}
}

func (p *Provider) mapClaims(raw map[string]any) claims {
	return claims{
		subject:  stringClaim(raw, "sub"),
		username: firstNonEmpty(stringClaim(raw, "preferred_username"), stringClaim(raw, "upn")),
		email:    stringClaim(raw, "email"),
		groups:   stringsClaim(raw, p.groupClaim),
	}
}

func stringClaim(raw map[string]any, key string) string {
	s, _ := raw[key].(string)
	return strings.TrimSpace(s)
}

// stringsClaim accepts either a JSON array of strings or a single string.
func stringsClaim(raw map[string]any, key string) []string {
	switch v := raw[key].(type) {
	case string:
		if v == "" {
			return nil
		}
		return []string{v}
	case []any:
		out := make([]string, 0, len(v))
		for _, item := range v {
			if s, ok := item.(string); ok && s != "" {
				out = append(out, s)
			}
		}
		return out
	default:
		return nil
	}
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}

func randomString(length int) (string, error) {
	b := make([]byte, length)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(b)[:length], nil
}

func idTokenFrom(tok *oauth2.Token) (string, error) {
	if tok == nil {
		return "", errors.New("nil token")
	}
	s, ok := tok.Extra("id_token").(string)
	if !ok || s == "" {
		return "", errors.New("missing id_token in token response")
	}
	return s, nil
}
