package auth

// Package auth contains domain-level types for authentication and sessions.
// It is pure and free of framework/adapter concerns.

import (
	"fmt"
	"strings"
	"time"
)

// Role represents a school member's authorization role.
// Keep string form for easy persistence and cookies.
type Role string

const (
	RoleAdmin   Role = "admin"
	RoleTeacher Role = "teacher"
	RoleStudent Role = "student"
)

// ParseRole normalizes and validates a role string.
func ParseRole(s string) (Role, error) {
	r := Role(strings.ToLower(strings.TrimSpace(s)))
	if !r.Valid() {
		return "", fmt.Errorf("invalid role %q (valid: admin, teacher, student)", s)
	}
	return r, nil
}

// Valid reports whether r is one of the known roles.
func (r Role) Valid() bool {
	switch r {
	case RoleAdmin, RoleTeacher, RoleStudent:
		return true
	default:
		return false
	}
}

// DashboardPath is the landing page for the role's area.
func (r Role) DashboardPath() string {
	switch r {
	case RoleAdmin:
		return "/admin/dashboard"
	case RoleTeacher:
		return "/teacher/dashboard"
	case RoleStudent:
		return "/student/dashboard"
	default:
		return "/"
	}
}

// Identity represents the authenticated principal returned by an IdP.
// Adapters map provider-specific claims into this shape.
type Identity struct {
	UserID    string // stable user identifier (e.g., sub or username)
	Username  string
	Email     string
	Groups    []string
	ExpiresAt time.Time // absolute expiry from IdP token
}

// Session is the locally held proof of authentication.
// An empty Token means no credential is held; ExpiresAt nil means the
// credential carries no expiry of its own.
type Session struct {
	Token     string     `json:"token"`
	ExpiresAt *time.Time `json:"expires_at,omitempty"`
	UserID    string     `json:"user_id"`
	Username  string     `json:"username"`
	Role      Role       `json:"role"`
}

// HasToken reports whether a credential is present.
func (s Session) HasToken() bool { return s.Token != "" }

// IsZero reports whether s holds nothing at all.
func (s Session) IsZero() bool {
	return s.Token == "" && s.ExpiresAt == nil && s.UserID == "" && s.Username == "" && s.Role == ""
}

// Normalize enforces the invariant that a session without a token carries no
// expiry or principal. The returned ExpiresAt is a private copy.
func (s Session) Normalize() Session {
	if s.Token == "" {
		return Session{}
	}
	if s.ExpiresAt != nil {
		t := *s.ExpiresAt
		s.ExpiresAt = &t
	}
	return s
}

// WithExpiry returns a copy of s expiring at t.
func (s Session) WithExpiry(t time.Time) Session {
	s.ExpiresAt = &t
	return s
}

// Equal compares two sessions, treating ExpiresAt by instant rather than pointer.
func (s Session) Equal(o Session) bool {
	if s.Token != o.Token || s.UserID != o.UserID || s.Username != o.Username || s.Role != o.Role {
		return false
	}
	switch {
	case s.ExpiresAt == nil && o.ExpiresAt == nil:
		return true
	case s.ExpiresAt == nil || o.ExpiresAt == nil:
		return false
	default:
		return s.ExpiresAt.Equal(*o.ExpiresAt)
	}
}

// HasAnyRole reports whether the session role is among allowed.
// An empty allowed list admits every role.
func (s Session) HasAnyRole(allowed ...Role) bool {
	if len(allowed) == 0 {
		return true
	}
	for _, r := range allowed {
		if s.Role == r {
			return true
		}
	}
	return false
}
