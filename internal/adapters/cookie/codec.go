package cookie

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	domainauth "github.com/qslabs/schoolgate/internal/domain/auth"
)

const minKeyLen = 32

var (
	errEmptySession = errors.New("session has no token")
	errEmptyToken   = errors.New("decoded session has no token")
	errBadExpiry    = errors.New("decoded session has an invalid expiry")
)

// sessionClaims is the signed cookie payload.
// Subject carries the user id; exp is present only when the session expires.
// exp holds whole seconds, so ExpiryNanos carries the sub-second remainder.
type sessionClaims struct {
	Token       string `json:"tok"`
	Username    string `json:"usr,omitempty"`
	Role        string `json:"role,omitempty"`
	ExpiryNanos int64  `json:"exns,omitempty"`
	jwt.RegisteredClaims
}

// Codec turns sessions into HS256-signed opaque text and back.
type Codec struct {
	key    []byte
	parser *jwt.Parser
}

// NewCodec builds a codec with the given signing key (at least 32 bytes).
func NewCodec(key []byte) (*Codec, error) {
	if len(key) < minKeyLen {
		return nil, fmt.Errorf("session signing key must be at least %d bytes", minKeyLen)
	}
	return &Codec{
		key: append([]byte(nil), key...),
		// Expiry is judged by domainauth.Evaluate, not by the parser, so an
		// expired cookie still decodes and is reported as Expired.
		parser: jwt.NewParser(
			jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
			jwt.WithoutClaimsValidation(),
		),
	}, nil
}

// Encode serializes s. Sessions without a token cannot be encoded.
func (c *Codec) Encode(s domainauth.Session) (string, error) {
	s = s.Normalize()
	if !s.HasToken() {
		return "", errEmptySession
	}

	claims := sessionClaims{
		Token:    s.Token,
		Username: s.Username,
		Role:     string(s.Role),
		RegisteredClaims: jwt.RegisteredClaims{
			Subject: s.UserID,
		},
	}
	if s.ExpiresAt != nil {
		claims.ExpiresAt = jwt.NewNumericDate(*s.ExpiresAt)
		claims.ExpiryNanos = int64(s.ExpiresAt.Nanosecond())
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(c.key)
	if err != nil {
		return "", fmt.Errorf("sign session: %w", err)
	}
	return signed, nil
}

// Decode verifies and deserializes raw.
func (c *Codec) Decode(raw string) (domainauth.Session, error) {
	var claims sessionClaims
	_, err := c.parser.ParseWithClaims(raw, &claims, func(*jwt.Token) (any, error) {
		return c.key, nil
	})
	if err != nil {
		return domainauth.Session{}, fmt.Errorf("parse session: %w", err)
	}
	if claims.Token == "" {
		return domainauth.Session{}, errEmptyToken
	}

	s := domainauth.Session{
		Token:    claims.Token,
		UserID:   claims.Subject,
		Username: claims.Username,
		Role:     domainauth.Role(claims.Role),
	}
	if claims.ExpiresAt != nil {
		if claims.ExpiryNanos < 0 || claims.ExpiryNanos >= int64(time.Second) {
			return domainauth.Session{}, errBadExpiry
		}
		exp := time.Unix(claims.ExpiresAt.Unix(), claims.ExpiryNanos)
		s.ExpiresAt = &exp
	}
	return s, nil
}
