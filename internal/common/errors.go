package common

import (
	"errors"
	"fmt"
)

var (

	// request specific errors
	ErrorBadRequest   = errors.New("bad request")
	ErrorUnauthorized = errors.New("unauthorized")
	ErrorForbidden    = errors.New("forbidden")

	// repository specific errors
	ErrorNotFound = errors.New("not found")
	ErrorConflict = errors.New("conflict")

	// vault state errors
	ErrorFrozen    = errors.New("vault frozen")
	ErrorOverQuota = errors.New("over quota")

	ErrorChecksumFailed = errors.New("checksum failed")

	ErrorInternal = errors.New("internal error")

	// token errors, both are reported as unauthorized
	ErrInvalidToken = fmt.Errorf("invalid token: %w", ErrorUnauthorized)
	ErrTokenExpired = fmt.Errorf("token expired: %w", ErrorUnauthorized)
)

// BadRequestf formats a validation failure that matches ErrorBadRequest.
func BadRequestf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrorBadRequest, fmt.Sprintf(format, args...))
}

// NotFoundf formats a lookup failure that matches ErrorNotFound.
func NotFoundf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrorNotFound, fmt.Sprintf(format, args...))
}

// Conflictf formats a conflict that matches ErrorConflict.
func Conflictf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrorConflict, fmt.Sprintf(format, args...))
}
