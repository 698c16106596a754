package errors

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestAppError_ErrorAndUnwrap(t *testing.T) {
	cause := errors.New("duplicate key")
	err := Wrap(cause, ErrCodeConflict, "Username is already taken.")

	assert.Equal(t, "Username is already taken.: duplicate key", err.Error())
	assert.ErrorIs(t, err, cause)
	assert.Equal(t, "Username is required", Validation("Username is required").Error())
	assert.Nil(t, Wrap(nil, ErrCodeInternal, "ignored"))
}

func TestPredicates(t *testing.T) {
	tests := []struct {
		name string
		err  error
		is   func(error) bool
	}{
		{name: "not found", err: NotFound("user not found"), is: IsNotFound},
		{name: "conflict", err: Wrap(errors.New("dup"), ErrCodeConflict, "taken"), is: IsConflict},
		{name: "validation", err: Validation("bad"), is: IsValidation},
		{name: "validation field", err: ValidationField("email", "bad"), is: IsValidation},
		{name: "timeout", err: Wrap(context.DeadlineExceeded, ErrCodeTimeout, "slow"), is: IsTimeout},
		{name: "canceled", err: Wrap(context.Canceled, ErrCodeCanceled, "gone"), is: IsCanceled},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.True(t, tt.is(tt.err))
			assert.True(t, tt.is(fmt.Errorf("outer: %w", tt.err)), "wrapped")
			assert.False(t, tt.is(errors.New(tt.name)), "plain error")
			assert.False(t, tt.is(nil))
		})
	}

	assert.False(t, IsNotFound(Validation("bad")))
}

func TestCodeAndField(t *testing.T) {
	err := fmt.Errorf("create user: %w", ValidationField("username", "Username is required"))
	assert.Equal(t, ErrCodeValidation, Code(err))
	assert.Equal(t, "username", Field(err))

	assert.Equal(t, ErrorCode(""), Code(errors.New("plain")))
	assert.Empty(t, Field(NotFound("missing")))
}

func TestDescribe(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want string
	}{
		{name: "nil", err: nil, want: ""},
		{name: "plain", err: errors.New("dial tcp: refused"), want: "dial tcp: refused"},
		{name: "field", err: fmt.Errorf("register: %w", ValidationField("email", "Email is invalid")), want: "validation (email): Email is invalid"},
		{name: "no field hides cause", err: Wrap(errors.New("pg 23505"), ErrCodeConflict, "Already exists."), want: "conflict: Already exists."},
		{name: "internal prints in full", err: Wrap(errors.New("disk full"), ErrCodeInternal, "save failed"), want: "save failed: disk full"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Describe(tt.err))
		})
	}
}
