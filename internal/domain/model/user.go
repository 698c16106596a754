//revive:disable-next-line:var-naming // legacy package name used across the project
package model

import (
	"errors"
	"net/mail"
	"regexp"
	"strings"
	"time"
	"unicode/utf8"

	domainauth "github.com/qslabs/schoolgate/internal/domain/auth"
)

const (
	maxUsernameLen    = 64
	minPasswordLen    = 8
	maxPasswordLen    = 72 // bcrypt input limit
	defaultUserLimit  = 50
	maximumUserLimit  = 500
	maxEmailLen       = 254
	usernamePatternEx = "letters, digits, dots, underscores, or hyphens"
)

var (
	// ErrUserNotFound is returned when no user matches the lookup.
	ErrUserNotFound = errors.New("user not found")
	// ErrUserExists is returned when a username or email is already registered.
	ErrUserExists = errors.New("user already exists")
)

var usernameRe = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9._-]*$`)

// User is a school member who can sign in with a password.
// PasswordHash is never serialized.
type User struct {
	ID           int64           `json:"id"         db:"id"`
	Username     string          `json:"username"   db:"username"`
	Email        string          `json:"email"      db:"email"`
	PasswordHash string          `json:"-"          db:"password_hash"`
	Role         domainauth.Role `json:"role"       db:"role"`
	CreatedAt    time.Time       `json:"created_at" db:"created_at"`
	LastLoginAt  *time.Time      `json:"last_login_at,omitempty" db:"last_login_at"`
}

// CreateUserRequest contains fields to register a new user.
// Password is plaintext here; the service hashes it before it reaches the repository.
type CreateUserRequest struct {
	Username     string          `json:"username"`
	Email        string          `json:"email"`
	Password     string          `json:"password,omitempty"`
	PasswordHash string          `json:"-"`
	Role         domainauth.Role `json:"role"`
}

// Normalize trims user input in place.
func (r *CreateUserRequest) Normalize() {
	r.Username = strings.TrimSpace(r.Username)
	r.Email = strings.TrimSpace(r.Email)
	r.Role = domainauth.Role(strings.ToLower(strings.TrimSpace(string(r.Role))))
}

// Validate checks the request before hashing.
func (r *CreateUserRequest) Validate() error {
	if err := ValidateUsername(r.Username); err != nil {
		return err
	}
	if r.Email != "" {
		if utf8.RuneCountInString(r.Email) > maxEmailLen {
			return errors.New("email cannot exceed 254 characters")
		}
		if _, err := mail.ParseAddress(r.Email); err != nil {
			return errors.New("email is not a valid address")
		}
	}
	if !r.Role.Valid() {
		return errors.New("role must be one of admin, teacher, student")
	}
	if r.PasswordHash != "" {
		return nil
	}
	n := len(r.Password)
	if n < minPasswordLen {
		return errors.New("password must be at least 8 characters")
	}
	if n > maxPasswordLen {
		return errors.New("password cannot exceed 72 bytes")
	}
	return nil
}

// ValidateUsername checks username shape.
func ValidateUsername(username string) error {
	n := strings.TrimSpace(username)
	if n == "" {
		return errors.New("username is required and cannot be empty")
	}
	if utf8.RuneCountInString(n) > maxUsernameLen {
		return errors.New("username cannot exceed 64 characters")
	}
	if !usernameRe.MatchString(n) {
		return errors.New("username must start with a letter or digit and contain only " + usernamePatternEx)
	}
	return nil
}

// UserListOptions filters and pages user listings.
type UserListOptions struct {
	Role   *domainauth.Role
	Limit  int
	Offset int
}

// Sanitize clamps paging values.
func (o *UserListOptions) Sanitize() {
	if o.Limit <= 0 {
		o.Limit = defaultUserLimit
	}
	if o.Limit > maximumUserLimit {
		o.Limit = maximumUserLimit
	}
	if o.Offset < 0 {
		o.Offset = 0
	}
}
