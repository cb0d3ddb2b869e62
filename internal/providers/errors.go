package providers

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"
)

// ErrorKind is the closed set of provider failure classes. Callers switch
// on the kind; nothing inspects error text.
type ErrorKind int

const (
	KindUnknown ErrorKind = iota
	KindTimeout
	KindRateLimited
	KindAuthFailed
	KindValidation
)

func (k ErrorKind) String() string {
	switch k {
	case KindTimeout:
		return "timeout"
	case KindRateLimited:
		return "rate_limited"
	case KindAuthFailed:
		return "auth_failed"
	case KindValidation:
		return "validation"
	default:
		return "unknown"
	}
}

// Error is a classified provider failure. RetryAfter carries a
// provider-advertised backoff when one was given (HTTP 429).
type Error struct {
	Kind       ErrorKind
	Provider   string
	RetryAfter time.Duration
	Err        error
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s provider %s: %v", e.Provider, e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Retryable reports whether the failure is transient. Timeouts, rate
// limits, and unclassified (network/5xx) failures are retried; auth and
// validation failures are not.
func (e *Error) Retryable() bool {
	switch e.Kind {
	case KindAuthFailed, KindValidation:
		return false
	default:
		return true
	}
}

// IsRetryable classifies an arbitrary error for retry purposes. Plain
// context deadline errors count as timeouts.
func IsRetryable(err error) bool {
	var pe *Error
	if errors.As(err, &pe) {
		return pe.Retryable()
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	return !errors.Is(err, context.Canceled)
}

// RetryAfter extracts the provider-advertised backoff from an error chain,
// or zero if none was given.
func RetryAfter(err error) time.Duration {
	var pe *Error
	if errors.As(err, &pe) {
		return pe.RetryAfter
	}
	return 0
}

// ClassifyHTTPStatus maps an HTTP status code onto an ErrorKind, reading
// Retry-After from the response headers for rate limits.
func ClassifyHTTPStatus(provider string, status int, header http.Header, err error) *Error {
	e := &Error{Provider: provider, Err: err}
	switch {
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		e.Kind = KindAuthFailed
	case status == http.StatusTooManyRequests:
		e.Kind = KindRateLimited
		if ra := header.Get("Retry-After"); ra != "" {
			if secs, parseErr := strconv.Atoi(ra); parseErr == nil {
				e.RetryAfter = time.Duration(secs) * time.Second
			}
		}
	case status == http.StatusRequestTimeout || status == http.StatusGatewayTimeout:
		e.Kind = KindTimeout
	case status >= 400 && status < 500:
		e.Kind = KindValidation
	default:
		e.Kind = KindUnknown
	}
	return e
}
