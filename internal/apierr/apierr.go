// Package apierr defines the error taxonomy shared by every component, and
// the panic/recover convention handlers use to turn a typed error into an
// HTTP response in the Cargo {ok,data}/{errors:[...]} envelope.
package apierr

import (
	"fmt"
	"net/http"
)

// Kind is one of the semantic error kinds from the design's error taxonomy.
type Kind string

const (
	Unauthenticated      Kind = "unauthenticated"
	Forbidden            Kind = "forbidden"
	NotFound             Kind = "not_found"
	Conflict             Kind = "conflict"
	Invalid              Kind = "invalid"
	QueueFull            Kind = "queue_full"
	StorageUnavailable   Kind = "storage_unavailable"
	IndexUnavailable     Kind = "index_unavailable"
	UpstreamUnavailable  Kind = "upstream_unavailable"
	Internal             Kind = "internal"
)

// Code is the short Cargo-style error code reported in the response body.
type Code string

const (
	CodeNameCollision      Code = "name_collision"
	CodeVersionExists      Code = "version_exists"
	CodeOwnerPresent       Code = "owner_already_present"
	CodeBadManifest        Code = "bad_manifest"
	CodeBadSemver          Code = "bad_semver"
	CodeBodyTooLarge       Code = "body_too_large"
	CodeNotFound           Code = "not_found"
	CodeUnauthorized       Code = "unauthorized"
	CodeForbidden          Code = "forbidden"
	CodeQueueFull          Code = "queue_full"
	CodeStorageUnavailable Code = "storage_unavailable"
	CodeIndexUnavailable   Code = "index_unavailable"
	CodeUpstreamUnavailable Code = "upstream_unavailable"
	CodeInternal           Code = "internal"
)

// Error is the typed error returned (never panicked as a bare string) by
// every component along the request path, per the design's "explicit
// PipelineStep enumeration... never a generic error" note.
type Error struct {
	Kind    Kind
	Code    Code
	Message string
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

// Status maps a Kind to the HTTP status code used to report it.
func (e *Error) Status() int {
	switch e.Kind {
	case Unauthenticated:
		return http.StatusUnauthorized
	case Forbidden:
		return http.StatusForbidden
	case NotFound:
		return http.StatusNotFound
	case Conflict:
		return http.StatusConflict
	case Invalid:
		if e.Code == CodeBodyTooLarge {
			return http.StatusRequestEntityTooLarge
		}
		return http.StatusBadRequest
	case QueueFull:
		return http.StatusServiceUnavailable
	case StorageUnavailable, IndexUnavailable, UpstreamUnavailable:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func New(kind Kind, code Code, format string, args ...any) *Error {
	return &Error{Kind: kind, Code: code, Message: fmt.Sprintf(format, args...)}
}

func Unauthorizedf(format string, args ...any) *Error {
	return New(Unauthenticated, CodeUnauthorized, format, args...)
}

func Forbiddenf(format string, args ...any) *Error {
	return New(Forbidden, CodeForbidden, format, args...)
}

func NotFoundf(format string, args ...any) *Error {
	return New(NotFound, CodeNotFound, format, args...)
}

func Conflictf(code Code, format string, args ...any) *Error {
	return New(Conflict, code, format, args...)
}

func Invalidf(code Code, format string, args ...any) *Error {
	return New(Invalid, code, format, args...)
}

func QueueFullf(format string, args ...any) *Error {
	return New(QueueFull, CodeQueueFull, format, args...)
}

func StorageUnavailablef(format string, args ...any) *Error {
	return New(StorageUnavailable, CodeStorageUnavailable, format, args...)
}

func IndexUnavailablef(format string, args ...any) *Error {
	return New(IndexUnavailable, CodeIndexUnavailable, format, args...)
}

func UpstreamUnavailablef(format string, args ...any) *Error {
	return New(UpstreamUnavailable, CodeUpstreamUnavailable, format, args...)
}

func Internalf(format string, args ...any) *Error {
	return New(Internal, CodeInternal, format, args...)
}

// As reports whether err is an *Error, returning it if so. Mirrors the shape
// of a type switch the teacher uses in its panic-recover handlers.
func As(err error) (*Error, bool) {
	e, ok := err.(*Error)
	return e, ok
}

// Check panics with an Internal *Error wrapping err if err is non-nil. Used
// throughout like the teacher's xcheckf: guard an operation that "should not
// fail" and let the top-level recover turn it into a 500.
func Check(err error, format string, args ...any) {
	if err == nil {
		return
	}
	panic(Internalf("%s: %s", fmt.Sprintf(format, args...), err))
}

// Raise panics with err if it is an *Error, or wraps it as Internal otherwise.
func Raise(err error) {
	if err == nil {
		return
	}
	if e, ok := As(err); ok {
		panic(e)
	}
	panic(Internalf("%s", err))
}
