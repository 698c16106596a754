package config

import (
	"errors"
	"fmt"
	"strings"
)

// AuthMode represents the authentication mode for the application.
type AuthMode string

const (
	// AuthModePassword checks usernames and bcrypt hashes stored in Postgres.
	AuthModePassword AuthMode = "password"
	// AuthModeOAuth uses OAuth/OIDC for authentication.
	AuthModeOAuth AuthMode = "oauth"
	// AuthModeMock uses mock/dev authentication (for development only).
	AuthModeMock AuthMode = "mock"
)

// UnmarshalText implements encoding.TextUnmarshaler for AuthMode.
func (a *AuthMode) UnmarshalText(text []byte) error {
	v := strings.ToLower(strings.TrimSpace(string(text)))
	switch v {
	case "password", "oauth", "mock":
		*a = AuthMode(v)
		return nil
	default:
		return fmt.Errorf("invalid AuthMode: %q (valid options: password, oauth, mock)", v)
	}
}

// OAuthConfig contains OAuth/OIDC configuration.
type OAuthConfig struct {
	ClientID     string `env:"CLIENT_ID"`
	ClientSecret string `env:"CLIENT_SECRET"`
	RedirectURL  string `env:"REDIRECT_URL"` // default: APP_BASE_URL + /auth/callback
	Scope        string `env:"SCOPE"         envDefault:"openid profile email groups"`
	DiscoveryURL string `env:"DISCOVERY_URL"`
	GroupsClaim  string `env:"GROUPS_CLAIM"  envDefault:"groups"`
}

// DevAuthConfig controls mock/dev authentication identity.
// Used when AUTH_MODE=mock for development and testing.
type DevAuthConfig struct {
	UserID   string   `env:"USER_ID"  envDefault:"dev-user"`
	Username string   `env:"USERNAME" envDefault:"dev"`
	Email    string   `env:"EMAIL"    envDefault:"dev@example.com"`
	Groups   []string `env:"GROUPS"   envDefault:"admins"          envSeparator:";"`
}

// AuthConfig groups all authentication-related configuration.
type AuthConfig struct {
	// Mode determines how users log in.
	Mode AuthMode `env:"AUTH_MODE" envDefault:"password"`

	// OAuth configuration (used when Mode=oauth).
	OAuth OAuthConfig `envPrefix:"OAUTH_"`

	// DevAuth configuration (used when Mode=mock).
	DevAuth DevAuthConfig `envPrefix:"DEV_AUTH_"`

	// Groups mapped onto school roles for provider logins.
	AdminGroup   string `env:"ADMIN_GROUP"   envDefault:"admins"`
	TeacherGroup string `env:"TEACHER_GROUP" envDefault:"teachers"`
	StudentGroup string `env:"STUDENT_GROUP" envDefault:"students"`

	// BcryptCost is used when hashing passwords for new users.
	BcryptCost int `env:"BCRYPT_COST" envDefault:"12"`
}

// Sanitize trims values that are commonly pasted with whitespace.
func (c *AuthConfig) Sanitize() {
	c.OAuth.ClientID = strings.TrimSpace(c.OAuth.ClientID)
	c.OAuth.DiscoveryURL = strings.TrimSpace(c.OAuth.DiscoveryURL)
	c.OAuth.RedirectURL = strings.TrimSpace(c.OAuth.RedirectURL)
	if strings.TrimSpace(c.OAuth.GroupsClaim) == "" {
		c.OAuth.GroupsClaim = "groups"
	}
	c.AdminGroup = strings.TrimSpace(c.AdminGroup)
	c.TeacherGroup = strings.TrimSpace(c.TeacherGroup)
	c.StudentGroup = strings.TrimSpace(c.StudentGroup)
	if c.Mode == "" {
		c.Mode = AuthModePassword
	}
}

// Validate checks that the selected mode has what it needs.
func (c *AuthConfig) Validate(isDev bool) error {
	switch c.Mode {
	case AuthModePassword:
		return nil
	case AuthModeMock:
		if !isDev {
			return errors.New("AUTH_MODE=mock requires DEV=true")
		}
		if c.DevAuth.UserID == "" || c.DevAuth.Username == "" {
			return errors.New("AUTH_MODE=mock requires DEV_AUTH_USER_ID and DEV_AUTH_USERNAME")
		}
		return c.validateGroups()
	case AuthModeOAuth:
		var missing []string
		if c.OAuth.ClientID == "" {
			missing = append(missing, "OAUTH_CLIENT_ID")
		}
		if c.OAuth.ClientSecret == "" {
			missing = append(missing, "OAUTH_CLIENT_SECRET")
		}
		if c.OAuth.DiscoveryURL == "" {
			missing = append(missing, "OAUTH_DISCOVERY_URL")
		}
		if c.OAuth.RedirectURL == "" {
			missing = append(missing, "OAUTH_REDIRECT_URL")
		}
		if len(missing) > 0 {
			return fmt.Errorf("AUTH_MODE=oauth requires %s", strings.Join(missing, ", "))
		}
		return c.validateGroups()
	default:
		return fmt.Errorf("invalid AuthMode: %q", c.Mode)
	}
}

func (c *AuthConfig) validateGroups() error {
	if c.AdminGroup == "" && c.TeacherGroup == "" && c.StudentGroup == "" {
		return errors.New("at least one of ADMIN_GROUP, TEACHER_GROUP, STUDENT_GROUP is required")
	}
	return nil
}
