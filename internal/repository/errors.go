package repository

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// ErrNotFound covers missing files, unparseable repository references and
// oversized responses. It is an expected outcome, not a failure.
var ErrNotFound = errors.New("repository: file not found")

// errTooLarge is reported as ErrNotFound to callers.
var errTooLarge = errors.New("repository: response exceeds size limit")

// RateLimitError means the platform refused the request and the remaining
// budget is below the reserved buffer. It is never retried.
type RateLimitError struct {
	Remaining int
	ResetAt   time.Time
}

func (e *RateLimitError) Error() string {
	if e.ResetAt.IsZero() {
		return "repository: rate limit exceeded"
	}
	return fmt.Sprintf("repository: rate limit exceeded (remaining %d, resets at %s)", e.Remaining, e.ResetAt.UTC().Format(time.RFC3339))
}

// TimeoutError is returned when the final attempt timed out.
type TimeoutError struct {
	Path     string
	Attempts int
	Err      error
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("repository: fetching %s timed out after %d attempts", e.Path, e.Attempts)
}

func (e *TimeoutError) Unwrap() error { return e.Err }

// TransportError is a network failure or an unexpected HTTP status.
type TransportError struct {
	StatusCode int // 0 for network-level failures
	Err        error
}

func (e *TransportError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("repository: unexpected status %d", e.StatusCode)
	}
	return fmt.Sprintf("repository: transport error: %v", e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// ErrorKind is the closed set of fetch failure kinds.
type ErrorKind int

const (
	KindNone ErrorKind = iota
	KindNotFound
	KindRateLimit
	KindTimeout
	KindTransport
	KindUnknown
)

func (k ErrorKind) String() string {
	switch k {
	case KindNone:
		return "none"
	case KindNotFound:
		return "not_found"
	case KindRateLimit:
		return "rate_limited"
	case KindTimeout:
		return "timeout"
	case KindTransport:
		return "transport"
	default:
		return "unknown"
	}
}

// Classify maps an error from this package onto an ErrorKind.
func Classify(err error) ErrorKind {
	if err == nil {
		return KindNone
	}
	var (
		rl *RateLimitError
		to *TimeoutError
		tr *TransportError
	)
	switch {
	case errors.Is(err, ErrNotFound), errors.Is(err, errTooLarge):
		return KindNotFound
	case errors.As(err, &rl):
		return KindRateLimit
	case errors.As(err, &to), errors.Is(err, context.DeadlineExceeded):
		return KindTimeout
	case errors.As(err, &tr):
		return KindTransport
	default:
		return KindUnknown
	}
}

// IsTransient reports whether err should move resolution on to the next
// fallback level without trying further files.
func IsTransient(err error) bool {
	switch Classify(err) {
	case KindRateLimit, KindTimeout:
		return true
	}
	return false
}
