package devauth

import (
	"context"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/qslabs/schoolgate/internal/ports"
)

func TestProvider_BeginAndExchange(t *testing.T) {
	now := time.Date(2026, 9, 1, 7, 30, 0, 0, time.UTC)
	prov, err := NewProvider(Config{
		UserID:   "dev-1",
		Username: "devteacher",
		Email:    "dev@school.test",
		Groups:   []string{"teachers"},
		Now:      func() time.Time { return now },
	})
	if err != nil {
		t.Fatalf("NewProvider error: %v", err)
	}

	authURL, state, nonce, err := prov.Begin(context.Background(), ports.BeginInput{RedirectURL: "/"})
	if err != nil {
		t.Fatalf("Begin error: %v", err)
	}
	if !strings.HasPrefix(authURL, "/auth/callback?") {
		t.Fatalf("unexpected authURL: %s", authURL)
	}
	u, err := url.Parse(authURL)
	if err != nil {
		t.Fatalf("parse authURL: %v", err)
	}
	if u.Query().Get("state") != state {
		t.Fatalf("state mismatch: url=%q state=%q", u.Query().Get("state"), state)
	}
	if len(state) != 24 || len(nonce) != 24 {
		t.Fatalf("state and nonce should be 24 chars, got %d/%d", len(state), len(nonce))
	}

	id, err := prov.Exchange(context.Background(), ports.ExchangeInput{Code: "dev", State: state, Nonce: nonce})
	if err != nil {
		t.Fatalf("Exchange error: %v", err)
	}
	if id.UserID != "dev-1" || id.Username != "devteacher" || id.Email != "dev@school.test" {
		t.Fatalf("unexpected identity: %+v", id)
	}
	if !id.ExpiresAt.Equal(now.Add(8 * time.Hour)) {
		t.Fatalf("ExpiresAt = %v, want now+8h", id.ExpiresAt)
	}
}

func TestNewProvider_RequiresIdentity(t *testing.T) {
	if _, err := NewProvider(Config{Username: "x"}); err == nil {
		t.Fatal("expected error without UserID")
	}
	if _, err := NewProvider(Config{UserID: "x"}); err == nil {
		t.Fatal("expected error without Username")
	}
}
