// Package apperr classifies pipeline failures into the closed set of kinds
// the HTTP surface and the chat channels know how to present. Every external
// call site wraps transport failures into one of these kinds; handlers map
// kinds to status codes without inspecting messages.
package apperr

import (
	"context"
	"errors"
	"fmt"
	"net/http"
)

// Kind classifies an error for status mapping and retry decisions.
type Kind int

const (
	Validation  Kind = iota // bad input, 400
	NotFound                // unresolved identifier, 404
	Unavailable             // LLM/speech/database transient, 503
	RateLimited             // inbound or provider limit, 429
	Timeout                 // deadline exceeded, 504
	Internal                // everything else, 500
)

// String returns a stable label for the kind.
func (k Kind) String() string {
	switch k {
	case Validation:
		return "validation"
	case NotFound:
		return "not_found"
	case Unavailable:
		return "unavailable"
	case RateLimited:
		return "rate_limited"
	case Timeout:
		return "timeout"
	case Internal:
		return "internal"
	default:
		return "unknown"
	}
}

// HTTPStatus maps the kind to its response status code.
func (k Kind) HTTPStatus() int {
	switch k {
	case Validation:
		return http.StatusBadRequest
	case NotFound:
		return http.StatusNotFound
	case Unavailable:
		return http.StatusServiceUnavailable
	case RateLimited:
		return http.StatusTooManyRequests
	case Timeout:
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

// Error carries a kind, a user-safe message, and optional structured details.
// RetryAfterSec is set for RateLimited errors when the provider told us.
type Error struct {
	Kind          Kind
	Message       string
	Details       any
	RetryAfterSec int
	cause         error
}

func (e *Error) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.cause }

// New builds an error of the given kind.
func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// Newf builds an error of the given kind with a formatted message.
func Newf(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Wrap attaches a kind and user-safe message to an underlying error.
func Wrap(kind Kind, message string, cause error) *Error {
	return &Error{Kind: kind, Message: message, cause: cause}
}

// WithDetails attaches structured details (rendered in the error envelope).
func (e *Error) WithDetails(details any) *Error {
	e.Details = details
	return e
}

// WithRetryAfter records the provider's Retry-After hint in seconds.
func (e *Error) WithRetryAfter(sec int) *Error {
	e.RetryAfterSec = sec
	return e
}

// KindOf extracts the kind from any error, defaulting to Internal. Context
// cancellation and deadline expiry classify as Timeout.
func KindOf(err error) Kind {
	if err == nil {
		return Internal
	}
	var ae *Error
	if errors.As(err, &ae) {
		return ae.Kind
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return Timeout
	}
	return Internal
}

// Is reports whether err carries the given kind.
func Is(err error, kind Kind) bool {
	var ae *Error
	if errors.As(err, &ae) {
		return ae.Kind == kind
	}
	return false
}

// AsError extracts the *Error from the chain, or wraps err as Internal so
// callers always get a presentable error.
func AsError(err error) *Error {
	var ae *Error
	if errors.As(err, &ae) {
		return ae
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return Wrap(Timeout, "request timed out", err)
	}
	return Wrap(Internal, "internal error", err)
}
