package auth

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func ptr(t time.Time) *time.Time { return &t }

func TestEvaluate(t *testing.T) {
	now := time.Unix(1000, 0)

	tests := []struct {
		name    string
		session Session
		want    Verdict
	}{
		{name: "no token, no expiry", session: Session{}, want: Unauthenticated},
		{name: "no token, future expiry", session: Session{ExpiresAt: ptr(now.Add(time.Hour))}, want: Unauthenticated},
		{name: "no token, past expiry", session: Session{ExpiresAt: ptr(now.Add(-time.Hour))}, want: Unauthenticated},
		{name: "token without expiry", session: Session{Token: "abc"}, want: Authenticated},
		{name: "token with future expiry", session: Session{Token: "abc", ExpiresAt: ptr(now.Add(time.Nanosecond))}, want: Authenticated},
		{name: "token at expiry boundary", session: Session{Token: "abc", ExpiresAt: ptr(now)}, want: Expired},
		{name: "token past expiry", session: Session{Token: "abc", ExpiresAt: ptr(now.Add(-time.Second))}, want: Expired},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Evaluate(tt.session, now))
		})
	}
}

func TestEvaluate_AbsentTokenAcrossClock(t *testing.T) {
	exp := time.Unix(500, 0)
	for _, sec := range []int64{0, 499, 500, 501, 1 << 40} {
		now := time.Unix(sec, 0)
		assert.Equal(t, Unauthenticated, Evaluate(Session{}, now))
		assert.Equal(t, Unauthenticated, Evaluate(Session{ExpiresAt: &exp}, now))
	}
}

func TestVerdict_StringAndErr(t *testing.T) {
	assert.Equal(t, "authenticated", Authenticated.String())
	assert.Equal(t, "expired", Expired.String())
	assert.Equal(t, "unauthenticated", Unauthenticated.String())

	assert.NoError(t, Authenticated.Err())
	assert.True(t, errors.Is(Expired.Err(), ErrExpiredCredential))
	assert.True(t, errors.Is(Unauthenticated.Err(), ErrMissingCredential))
}
