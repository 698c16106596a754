package errors

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

func TestMapDBError_NilError(t *testing.T) {
	if err := MapDBError(nil); err != nil {
		t.Errorf("MapDBError(nil) = %v, want nil", err)
	}
}

func TestMapDBError_ContextErrors(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		wantCode ErrorCode
	}{
		{name: "deadline exceeded", err: context.DeadlineExceeded, wantCode: ErrCodeTimeout},
		{name: "canceled", err: context.Canceled, wantCode: ErrCodeCanceled},
		{name: "wrapped canceled", err: fmt.Errorf("query: %w", context.Canceled), wantCode: ErrCodeCanceled},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Code(MapDBError(tt.err)); got != tt.wantCode {
				t.Errorf("MapDBError() code = %v, want %v", got, tt.wantCode)
			}
		})
	}
}

func TestMapDBError_NoRows(t *testing.T) {
	err := MapDBError(pgx.ErrNoRows)
	if !IsNotFound(err) {
		t.Errorf("MapDBError(pgx.ErrNoRows) should be NotFound, got %v", Code(err))
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		t.Error("mapped error should unwrap to pgx.ErrNoRows")
	}
}

func TestMapDBError_UniqueViolation(t *testing.T) {
	tests := []struct {
		name      string
		pgErr     *pgconn.PgError
		wantField string
	}{
		{
			name:      "column metadata",
			pgErr:     &pgconn.PgError{Code: pgerrcode.UniqueViolation, ColumnName: "email"},
			wantField: "email",
		},
		{
			name: "expression index detail",
			pgErr: &pgconn.PgError{
				Code:           pgerrcode.UniqueViolation,
				ConstraintName: "users_username_key",
				Detail:         `Key (lower(username))=(ada) already exists.`,
			},
			wantField: "username",
		},
		{
			name: "plain detail",
			pgErr: &pgconn.PgError{
				Code:   pgerrcode.UniqueViolation,
				Detail: `Key (email)=(a@b.c) already exists.`,
			},
			wantField: "email",
		},
		{
			name:      "constraint name only",
			pgErr:     &pgconn.PgError{Code: pgerrcode.UniqueViolation, ConstraintName: "users_email_key"},
			wantField: "email",
		},
		{
			name:      "ambiguous constraint",
			pgErr:     &pgconn.PgError{Code: pgerrcode.UniqueViolation, ConstraintName: "users_email_role_key"},
			wantField: "",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := MapDBError(tt.pgErr)
			if !IsConflict(err) {
				t.Fatalf("MapDBError() should be Conflict, got %v", Code(err))
			}
			if field := Field(err); field != tt.wantField {
				t.Errorf("MapDBError() field = %q, want %q", field, tt.wantField)
			}
		})
	}
}

func TestMapDBError_CheckViolation(t *testing.T) {
	err := MapDBError(&pgconn.PgError{Code: pgerrcode.CheckViolation, ConstraintName: "users_role_check"})
	if !IsValidation(err) {
		t.Fatalf("MapDBError() should be Validation, got %v", Code(err))
	}
	if field := Field(err); field != "role" {
		t.Errorf("MapDBError() field = %q, want role", field)
	}
}

func TestMapDBError_NotNullViolation(t *testing.T) {
	err := MapDBError(&pgconn.PgError{Code: pgerrcode.NotNullViolation, ColumnName: "email"})
	if !IsValidation(err) || Field(err) != "email" {
		t.Errorf("MapDBError() = %v (field %q), want validation on email", Code(err), Field(err))
	}

	err = MapDBError(&pgconn.PgError{Code: pgerrcode.NotNullViolation})
	if !IsValidation(err) || Field(err) != "" {
		t.Errorf("MapDBError() = %v (field %q), want validation without field", Code(err), Field(err))
	}
}

func TestMapDBError_UnknownPgError(t *testing.T) {
	err := MapDBError(&pgconn.PgError{Code: "99999", TableName: "users"})
	if Code(err) != ErrCodeInternal {
		t.Errorf("MapDBError() should be Internal for unknown pg error, got %v", Code(err))
	}
}

func TestMapDBError_StandardError(t *testing.T) {
	stdErr := errors.New("standard error")
	if err := MapDBError(stdErr); !errors.Is(err, stdErr) {
		t.Errorf("MapDBError() should return original error for non-db errors, got %v", err)
	}
}

func TestInferFieldFromConstraint(t *testing.T) {
	tests := []struct {
		constraintName string
		want           string
	}{
		{constraintName: "users_email_key", want: "email"},
		{constraintName: "users_role_check", want: "role"},
		{constraintName: "users_lower_key", want: ""},
		{constraintName: "users_email_role_key", want: ""},
		{constraintName: "users_key", want: ""},
		{constraintName: "", want: ""},
	}

	for _, tt := range tests {
		t.Run(tt.constraintName, func(t *testing.T) {
			if got := inferFieldFromConstraint(tt.constraintName); got != tt.want {
				t.Errorf("inferFieldFromConstraint(%q) = %q, want %q", tt.constraintName, got, tt.want)
			}
		})
	}
}

func TestTableLabel(t *testing.T) {
	tests := map[string]string{
		"users":          "the user",
		" USERS ":        "the user",
		"":               "the record",
		"login_attempts": "login attempts",
	}
	for in, want := range tests {
		if got := tableLabel(in); got != want {
			t.Errorf("tableLabel(%q) = %q, want %q", in, got, want)
		}
	}
}
