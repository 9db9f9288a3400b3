// Package apperr implements the error taxonomy used to map internal
// failures to the handling policy described for the HTTP surfaces:
// user errors surface verbatim, quota errors carry a retry hint, upstream
// errors are retried or surfaced as degraded, and internal errors are
// logged with detail but reported to the caller generically.
package apperr

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind classifies an error for transport-layer mapping.
type Kind int

const (
	KindInternal Kind = iota
	KindUser
	KindQuota
	KindUpstreamTransient
	KindUpstreamPermanent
	KindNotFound
	KindForbidden
)

// Error wraps an underlying cause with a Kind and a message safe to show
// to callers. The underlying cause is preserved for logging via Unwrap.
type Error struct {
	Kind    Kind
	Message string
	Cause   error
	// RetryAfterSeconds is set only for KindQuota.
	RetryAfterSeconds int
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Cause)
	}
	return e.Message
}

func (e *Error) Unwrap() error { return e.Cause }

func newErr(k Kind, msg string, cause error) *Error {
	return &Error{Kind: k, Message: msg, Cause: cause}
}

func User(msg string, cause error) *Error     { return newErr(KindUser, msg, cause) }
func Internal(msg string, cause error) *Error { return newErr(KindInternal, msg, cause) }
func NotFound(msg string, cause error) *Error { return newErr(KindNotFound, msg, cause) }
func Forbidden(msg string, cause error) *Error { return newErr(KindForbidden, msg, cause) }

func UpstreamTransient(msg string, cause error) *Error {
	return newErr(KindUpstreamTransient, msg, cause)
}

func UpstreamPermanent(msg string, cause error) *Error {
	return newErr(KindUpstreamPermanent, msg, cause)
}

func Quota(msg string, retryAfterSeconds int) *Error {
	e := newErr(KindQuota, msg, nil)
	e.RetryAfterSeconds = retryAfterSeconds
	return e
}

// As extracts an *Error from err, falling back to a KindInternal wrapper
// so callers always get a Kind to switch on.
func As(err error) *Error {
	if err == nil {
		return nil
	}
	var e *Error
	if errors.As(err, &e) {
		return e
	}
	return &Error{Kind: KindInternal, Message: "internal error", Cause: err}
}

// HTTPStatus maps a Kind to the status code the gateway/memory HTTP
// surfaces should respond with.
func (k Kind) HTTPStatus() int {
	switch k {
	case KindUser:
		return http.StatusBadRequest
	case KindQuota:
		return http.StatusTooManyRequests
	case KindUpstreamTransient:
		return http.StatusBadGateway
	case KindUpstreamPermanent:
		return http.StatusUnprocessableEntity
	case KindNotFound:
		return http.StatusNotFound
	case KindForbidden:
		return http.StatusForbidden
	default:
		return http.StatusInternalServerError
	}
}
