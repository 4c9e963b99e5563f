// Package apperror carries the error taxonomy shared by the HTTP handlers and
// the onboarding worker. Every failure that crosses a layer boundary is an
// *Error so callers can decide between rejecting, retrying and parking.
package apperror

import (
	"errors"
	"fmt"
	"net/http"
)

type Kind string

const (
	KindValidation    Kind = "validation"
	KindExternal      Kind = "external"
	KindNotFound      Kind = "not_found"
	KindUnauthorized  Kind = "unauthorized"
	KindForbidden     Kind = "forbidden"
	KindConflict      Kind = "conflict"
	KindInconsistency Kind = "inconsistency"
	KindInternal      Kind = "internal"
)

// Error is an application-level error with an HTTP-equivalent status.
type Error struct {
	Kind    Kind
	Status  int
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches on kind so errors.Is(err, apperror.NotFound("")) style checks work.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind && (t.Message == "" || t.Message == e.Message)
}

func newErr(kind Kind, status int, msg string, err error) *Error {
	return &Error{Kind: kind, Status: status, Message: msg, Err: err}
}

func Validation(msg string) *Error { return newErr(KindValidation, http.StatusBadRequest, msg, nil) }

// External wraps a provider/broker failure. status is the upstream status when
// one is known; zero maps to 502.
func External(msg string, status int, err error) *Error {
	if status == 0 {
		status = http.StatusBadGateway
	}
	return newErr(KindExternal, status, msg, err)
}

func NotFound(msg string) *Error     { return newErr(KindNotFound, http.StatusNotFound, msg, nil) }
func Unauthorized(msg string) *Error { return newErr(KindUnauthorized, http.StatusUnauthorized, msg, nil) }
func Forbidden(msg string) *Error    { return newErr(KindForbidden, http.StatusForbidden, msg, nil) }
func Conflict(msg string) *Error     { return newErr(KindConflict, http.StatusConflict, msg, nil) }

func Inconsistency(msg string) *Error {
	return newErr(KindInconsistency, http.StatusInternalServerError, msg, nil)
}

func Internal(msg string, err error) *Error {
	return newErr(KindInternal, http.StatusInternalServerError, msg, err)
}

// KindOf returns the kind of the first *Error in the chain, or KindInternal.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}

// StatusOf returns the HTTP status of the first *Error in the chain, or 500.
func StatusOf(err error) int {
	var e *Error
	if errors.As(err, &e) && e.Status != 0 {
		return e.Status
	}
	return http.StatusInternalServerError
}

// MessageOf returns the client-safe message; unknown errors are not leaked.
func MessageOf(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Message
	}
	return "internal server error"
}

// IsPermanent reports whether retrying the same input can never succeed.
func IsPermanent(err error) bool {
	switch KindOf(err) {
	case KindValidation, KindInconsistency, KindForbidden:
		return true
	}
	return false
}
