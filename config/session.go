package config

import (
	"errors"
	"strings"
	"time"
)

// MinSigningKeyLength is the shortest accepted cookie signing key, in bytes.
const MinSigningKeyLength = 32

// SessionConfig controls the session cookie and the server-side token registry.
type SessionConfig struct {
	// CookieName is the namespaced cookie holding the signed session.
	CookieName string `env:"SESSION_COOKIE_NAME" envDefault:"sms.session"`

	// SigningKey signs session cookies. Required outside dev mode; in dev mode
	// an empty key is replaced by a random one at startup.
	SigningKey string `env:"SESSION_SIGNING_KEY"`

	// LoginPath is where the route guard sends unauthenticated browsers.
	LoginPath string `env:"SESSION_LOGIN_PATH" envDefault:"/login"`

	// TTL is the lifetime of a newly issued session.
	TTL time.Duration `env:"SESSION_TTL" envDefault:"8h"`

	// RemoteVerify confirms locally valid cookies against the token registry
	// on every guarded request.
	RemoteVerify bool `env:"SESSION_REMOTE_VERIFY" envDefault:"false"`

	// VerifyCacheTTL bounds how long a registry answer is reused. Zero
	// disables the cache so every check reaches the registry.
	VerifyCacheTTL time.Duration `env:"SESSION_VERIFY_CACHE_TTL" envDefault:"15s"`

	// VerifyCacheSize bounds the number of cached registry answers.
	VerifyCacheSize int `env:"SESSION_VERIFY_CACHE_SIZE" envDefault:"4096"`

	// VerifyTimeout bounds a single registry call.
	VerifyTimeout time.Duration `env:"SESSION_VERIFY_TIMEOUT" envDefault:"5s"`

	// RegistryPrefix namespaces registry keys in Redis.
	RegistryPrefix string `env:"SESSION_REGISTRY_PREFIX" envDefault:"session:"`
}

// Sanitize applies defaults to out-of-range values.
func (c *SessionConfig) Sanitize() {
	c.CookieName = strings.TrimSpace(c.CookieName)
	if c.CookieName == "" {
		c.CookieName = "sms.session"
	}
	c.LoginPath = strings.TrimSpace(c.LoginPath)
	if c.LoginPath == "" {
		c.LoginPath = "/login"
	}
	if c.TTL <= 0 {
		c.TTL = 8 * time.Hour
	}
	if c.VerifyCacheTTL < 0 {
		c.VerifyCacheTTL = 0
	}
	if c.VerifyCacheSize <= 0 {
		c.VerifyCacheSize = 4096
	}
	if c.VerifyTimeout <= 0 {
		c.VerifyTimeout = 5 * time.Second
	}
	if c.RegistryPrefix == "" {
		c.RegistryPrefix = "session:"
	}
}

// Validate rejects a missing or short signing key outside dev mode and a
// login path that is not an absolute path.
func (c *SessionConfig) Validate(isDev bool) error {
	var errs []error
	if !strings.HasPrefix(c.LoginPath, "/") || strings.HasPrefix(c.LoginPath, "//") {
		errs = append(errs, errors.New("SESSION_LOGIN_PATH must be an absolute path"))
	}
	switch {
	case c.SigningKey == "" && !isDev:
		errs = append(errs, errors.New("SESSION_SIGNING_KEY is required outside dev mode"))
	case c.SigningKey != "" && len(c.SigningKey) < MinSigningKeyLength:
		errs = append(errs, errors.New("SESSION_SIGNING_KEY must be at least 32 bytes"))
	}
	return errors.Join(errs...)
}
