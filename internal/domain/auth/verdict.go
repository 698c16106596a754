package auth

import (
	"errors"
	"time"
)

// Verdict is the outcome of evaluating a Session at a point in time.
type Verdict int

const (
	Unauthenticated Verdict = iota
	Authenticated
	Expired
)

func (v Verdict) String() string {
	switch v {
	case Authenticated:
		return "authenticated"
	case Expired:
		return "expired"
	default:
		return "unauthenticated"
	}
}

// Failure kinds. The guard handles all of them the same way (redirect to login).
var (
	ErrStorageRead         = errors.New("session storage read failed")
	ErrExpiredCredential   = errors.New("credential expired")
	ErrMissingCredential   = errors.New("credential missing")
	ErrInvalidCredentials  = errors.New("invalid credentials")
	ErrVerificationFailure = errors.New("session verification failed")
)

// Err maps a non-admitting verdict to its failure kind; Authenticated maps to nil.
func (v Verdict) Err() error {
	switch v {
	case Authenticated:
		return nil
	case Expired:
		return ErrExpiredCredential
	default:
		return ErrMissingCredential
	}
}

// Evaluate decides whether s admits a request at now.
// The expiry instant itself counts as expired.
func Evaluate(s Session, now time.Time) Verdict {
	if !s.HasToken() {
		return Unauthenticated
	}
	if s.ExpiresAt != nil && !now.Before(*s.ExpiresAt) {
		return Expired
	}
	return Authenticated
}
