// Package common defines shared constants, error kinds and small helpers used
// across the vault node. Callers should use errors.Is to match the sentinel
// errors and KindOf to classify an arbitrary error.
package common

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
)

// Kind is the numeric class of an error surfaced to callers.
type Kind int

const (
	KindInternal Kind = iota
	KindBadRequest
	KindUnauthorized
	KindForbidden
	KindNotFound
	KindConflict
	KindFrozen
	KindOverQuota
	KindChecksumFailed
)

var kinds = []struct {
	kind     Kind
	sentinel error
	name     string
	status   int
}{
	{KindBadRequest, ErrorBadRequest, "bad_request", http.StatusBadRequest},
	{KindUnauthorized, ErrorUnauthorized, "unauthorized", http.StatusUnauthorized},
	{KindForbidden, ErrorForbidden, "forbidden", http.StatusForbidden},
	{KindNotFound, ErrorNotFound, "not_found", http.StatusNotFound},
	{KindConflict, ErrorConflict, "conflict", http.StatusConflict},
	{KindFrozen, ErrorFrozen, "frozen", http.StatusLocked},
	{KindOverQuota, ErrorOverQuota, "over_quota", http.StatusInsufficientStorage},
	{KindChecksumFailed, ErrorChecksumFailed, "checksum_failed", http.StatusUnprocessableEntity},
	{KindInternal, ErrorInternal, "internal", http.StatusInternalServerError},
}

// KindOf classifies err. Errors that wrap none of the sentinels are internal.
func KindOf(err error) Kind {
	for _, k := range kinds {
		if errors.Is(err, k.sentinel) {
			return k.kind
		}
	}
	return KindInternal
}

func (k Kind) String() string {
	for _, e := range kinds {
		if e.kind == k {
			return e.name
		}
	}
	return "internal"
}

// HTTPStatus maps the kind to the status code used at the HTTP edge.
func (k Kind) HTTPStatus() int {
	for _, e := range kinds {
		if e.kind == k {
			return e.status
		}
	}
	return http.StatusInternalServerError
}

// ErrorFromMessage rebuilds a classified error from a message produced by a
// remote node. The sentinel text prefix selects the kind; a message with an
// unknown prefix is returned as an internal error.
func ErrorFromMessage(msg string) error {
	msg = strings.TrimSpace(msg)
	for _, k := range kinds {
		prefix := k.sentinel.Error()
		if msg == prefix {
			return k.sentinel
		}
		if strings.HasPrefix(msg, prefix+": ") {
			return fmt.Errorf("%w: %s", k.sentinel, strings.TrimPrefix(msg, prefix+": "))
		}
	}
	// token errors carry their own prefix
	for _, e := range []error{ErrInvalidToken, ErrTokenExpired} {
		if strings.HasPrefix(msg, strings.SplitN(e.Error(), ":", 2)[0]) {
			return fmt.Errorf("%w: %s", ErrorUnauthorized, msg)
		}
	}
	return fmt.Errorf("%w: %s", ErrorInternal, msg)
}

// Describe renders err so that its message starts with the sentinel text of
// its kind, which lets ErrorFromMessage recover the kind on the other side.
func Describe(err error) string {
	k := KindOf(err)
	for _, e := range kinds {
		if e.kind != k {
			continue
		}
		msg := err.Error()
		prefix := e.sentinel.Error()
		if msg == prefix || strings.HasPrefix(msg, prefix+": ") {
			return msg
		}
		return prefix + ": " + msg
	}
	return err.Error()
}
