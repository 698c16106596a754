// Package errors turns errors into short, stable labels for logs and metrics.
package errors

import (
	"context"
	goerrors "errors"
	"reflect"
	"strings"

	domainauth "github.com/qslabs/schoolgate/internal/domain/auth"
)

var known = []struct {
	err   error
	class string
}{
	{domainauth.ErrStorageRead, "storage_read"},
	{domainauth.ErrExpiredCredential, "expired_credential"},
	{domainauth.ErrMissingCredential, "missing_credential"},
	{domainauth.ErrInvalidCredentials, "invalid_credentials"},
	{domainauth.ErrVerificationFailure, "verification_failure"},
	{context.Canceled, "canceled"},
	{context.DeadlineExceeded, "timeout"},
}

// Classify returns a normalized label for err. Auth failure kinds and context
// errors map to fixed names; anything else is named after its innermost type.
func Classify(err error) string {
	if err == nil {
		return ""
	}
	for _, k := range known {
		if goerrors.Is(err, k.err) {
			return k.class
		}
	}

	for {
		unwrapped := goerrors.Unwrap(err)
		if unwrapped == nil {
			break
		}
		err = unwrapped
	}

	t := reflect.TypeOf(err)
	for t != nil && t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	if t == nil {
		return "unknown"
	}
	name := strings.ToLower(strings.ReplaceAll(t.String(), ".", "_"))
	if name == "" {
		return "unknown"
	}
	return name
}
