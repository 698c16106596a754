// Package cookie keeps the current session in a signed browser cookie.
package cookie

import (
	"errors"
	"fmt"
	"math"
	"net/http"
	"strings"
	"time"

	domainauth "github.com/qslabs/schoolgate/internal/domain/auth"
	"github.com/qslabs/schoolgate/internal/ports"
)

// DefaultName is the namespaced cookie that holds the serialized session.
const DefaultName = "sms.session"

var _ ports.ClientSessionStore = (*Store)(nil)

// Config controls cookie attributes and signing.
type Config struct {
	Name       string
	Domain     string
	SigningKey []byte
	Now        func() time.Time // injectable clock for tests
}

// Store implements ports.ClientSessionStore on top of a single cookie.
type Store struct {
	name   string
	domain string
	codec  *Codec
	now    func() time.Time
}

// NewStore constructs a cookie-backed session store.
func NewStore(cfg Config) (*Store, error) {
	codec, err := NewCodec(cfg.SigningKey)
	if err != nil {
		return nil, err
	}
	name := strings.TrimSpace(cfg.Name)
	if name == "" {
		name = DefaultName
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	return &Store{name: name, domain: cfg.Domain, codec: codec, now: now}, nil
}

// Name returns the cookie name.
func (s *Store) Name() string { return s.name }

// Load reads the session cookie. A missing cookie is an empty session with no
// error; an unreadable one is an empty session with an ErrStorageRead error.
func (s *Store) Load(r *http.Request) (domainauth.Session, error) {
	c, err := r.Cookie(s.name)
	if err != nil {
		if errors.Is(err, http.ErrNoCookie) {
			return domainauth.Session{}, nil
		}
		return domainauth.Session{}, fmt.Errorf("%w: %w", domainauth.ErrStorageRead, err)
	}
	if c.Value == "" {
		return domainauth.Session{}, nil
	}

	sess, err := s.codec.Decode(c.Value)
	if err != nil {
		return domainauth.Session{}, fmt.Errorf("%w: %w", domainauth.ErrStorageRead, err)
	}
	return sess, nil
}

// Save overwrites the session cookie. Saving a session without a token clears it.
func (s *Store) Save(w http.ResponseWriter, r *http.Request, sess domainauth.Session) error {
	sess = sess.Normalize()
	if !sess.HasToken() {
		s.Clear(w, r)
		return nil
	}

	value, err := s.codec.Encode(sess)
	if err != nil {
		return fmt.Errorf("encode session: %w", err)
	}

	c := s.baseCookie(r)
	c.Value = value
	if sess.ExpiresAt != nil {
		// Already-expired sessions are still written (as a browser-session
		// cookie) so the guard can observe and clear them.
		if remaining := sess.ExpiresAt.Sub(s.now()); remaining > 0 {
			c.MaxAge = int(math.Ceil(remaining.Seconds()))
		}
	}
	http.SetCookie(w, c)
	return nil
}

// Clear removes the session cookie, mirroring the attributes used to set it.
func (s *Store) Clear(w http.ResponseWriter, r *http.Request) {
	c := s.baseCookie(r)
	c.MaxAge = -1
	c.Expires = time.Unix(0, 0).UTC()
	http.SetCookie(w, c)
}

func (s *Store) baseCookie(r *http.Request) *http.Cookie {
	return &http.Cookie{
		Name:     s.name,
		Path:     "/",
		Domain:   s.domain,
		HttpOnly: true,
		Secure:   IsSecureRequest(r),
		SameSite: http.SameSiteLaxMode,
	}
}

// IsSecureRequest reports whether r arrived over TLS, directly or via a proxy.
func IsSecureRequest(r *http.Request) bool {
	if r == nil {
		return false
	}
	return r.TLS != nil || strings.EqualFold(r.Header.Get("X-Forwarded-Proto"), "https")
}
