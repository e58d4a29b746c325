// Package llm – errors.go classifies provider failures for retry and
// surfacing decisions. Granular classification enables smarter retry
// behavior: transient 5xx retries, auth fails fast, rate limits carry the
// Retry-After hint up to the orchestrator.
package llm

import (
	"fmt"
	"strings"

	"github.com/kasioon/searchgw/pkg/searchgw/apperr"
)

// ErrorKind classifies API errors.
type ErrorKind int

const (
	ErrorRetryable  ErrorKind = iota // generic retryable (transient 5xx)
	ErrorRateLimit                   // 429 — rate limited, should respect Retry-After
	ErrorOverloaded                  // 529 or "overloaded" in body
	ErrorTimeout                     // request timeout / deadline exceeded
	ErrorAuth                        // 401, 403 — invalid/expired API key
	ErrorBilling                     // 402 or billing-related in body
	ErrorContext                     // context_length_exceeded
	ErrorBadRequest                  // 400 — malformed request
	ErrorFatal                       // everything else
)

// String returns a human-readable label for the error kind.
func (k ErrorKind) String() string {
	switch k {
	case ErrorRetryable:
		return "retryable"
	case ErrorRateLimit:
		return "rate_limit"
	case ErrorOverloaded:
		return "overloaded"
	case ErrorTimeout:
		return "timeout"
	case ErrorAuth:
		return "auth"
	case ErrorBilling:
		return "billing"
	case ErrorContext:
		return "context"
	case ErrorBadRequest:
		return "bad_request"
	case ErrorFatal:
		return "fatal"
	default:
		return "unknown"
	}
}

// Retryable returns true if the error kind warrants another attempt.
// Rate limits are excluded: those surface to the orchestrator instead of
// burning the retry budget inside the client.
func (k ErrorKind) Retryable() bool {
	return k == ErrorRetryable || k == ErrorOverloaded || k == ErrorTimeout
}

// apiError captures HTTP status, body, and optional Retry-After for 429.
type apiError struct {
	statusCode    int
	body          string
	retryAfterSec int
}

func (e *apiError) Error() string {
	return fmt.Sprintf("API returned %d: %s", e.statusCode, truncate(e.body, 200))
}

func (e *apiError) kind() ErrorKind {
	return classifyAPIError(e.statusCode, e.body)
}

// classifyAPIError determines the error kind from status code and response body.
func classifyAPIError(statusCode int, body string) ErrorKind {
	bodyLower := strings.ToLower(body)

	// Context overflow — highest priority check.
	if strings.Contains(bodyLower, "context_length_exceeded") ||
		strings.Contains(bodyLower, "maximum context length") {
		return ErrorContext
	}

	// Billing / quota exhausted.
	if statusCode == 402 ||
		strings.Contains(bodyLower, "billing") ||
		strings.Contains(bodyLower, "quota") ||
		strings.Contains(bodyLower, "insufficient_quota") ||
		strings.Contains(bodyLower, "payment required") {
		return ErrorBilling
	}

	// Rate limit.
	if statusCode == 429 ||
		strings.Contains(bodyLower, "rate_limit") ||
		strings.Contains(bodyLower, "rate limit") ||
		strings.Contains(bodyLower, "too many requests") {
		return ErrorRateLimit
	}

	// Overloaded.
	if statusCode == 529 ||
		strings.Contains(bodyLower, "overloaded") ||
		strings.Contains(bodyLower, "capacity") {
		return ErrorOverloaded
	}

	// Timeout.
	if strings.Contains(bodyLower, "timeout") ||
		strings.Contains(bodyLower, "deadline") ||
		strings.Contains(bodyLower, "timed out") {
		return ErrorTimeout
	}

	switch statusCode {
	case 400:
		return ErrorBadRequest
	case 401, 403:
		return ErrorAuth
	case 500, 502, 503, 521, 522, 523, 524:
		return ErrorRetryable
	default:
		if statusCode >= 500 {
			return ErrorRetryable
		}
		return ErrorFatal
	}
}

// toAppError translates a provider failure into the domain error the
// orchestrator can surface.
func toAppError(err error) error {
	ae, ok := err.(*apiError)
	if !ok {
		return apperr.Wrap(apperr.Unavailable, "language model unavailable", err)
	}
	switch ae.kind() {
	case ErrorRateLimit:
		out := apperr.Wrap(apperr.RateLimited, "language model rate limited", err)
		if ae.retryAfterSec > 0 {
			out.WithRetryAfter(ae.retryAfterSec)
		}
		return out
	case ErrorTimeout:
		return apperr.Wrap(apperr.Timeout, "language model timed out", err)
	default:
		return apperr.Wrap(apperr.Unavailable, "language model unavailable", err)
	}
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max] + "..."
}
