package platform

import (
	"errors"
	"fmt"
	"time"

	"github.com/onnwee/livetally/stream"
)

// Class tells the retry policy and the collector how to react to a failure.
type Class int

const (
	// ClassTransient covers connectivity problems, timeouts and 5xx responses.
	ClassTransient Class = iota
	// ClassRateLimit means the platform throttled us; retry after a delay.
	ClassRateLimit
	// ClassAuth means the bearer token or client credentials were rejected.
	ClassAuth
	// ClassPermanent means the request will not succeed if repeated.
	ClassPermanent
)

func (c Class) String() string {
	switch c {
	case ClassTransient:
		return "transient"
	case ClassRateLimit:
		return "rate_limit"
	case ClassAuth:
		return "auth"
	case ClassPermanent:
		return "permanent"
	default:
		return "unknown"
	}
}

// AuthError is returned for 401/403 responses and failed token exchanges.
type AuthError struct {
	Platform stream.Platform
	Err      error
}

func (e *AuthError) Error() string {
	return fmt.Sprintf("%s: authentication failed: %v", e.Platform, e.Err)
}

func (e *AuthError) Unwrap() error { return e.Err }

// RateLimitError is returned for 429 responses. RetryAfter is zero when the
// platform did not say how long to wait.
type RateLimitError struct {
	Platform   stream.Platform
	RetryAfter time.Duration
	Err        error
}

func (e *RateLimitError) Error() string {
	if e.RetryAfter > 0 {
		return fmt.Sprintf("%s: rate limited (retry after %s): %v", e.Platform, e.RetryAfter, e.Err)
	}
	return fmt.Sprintf("%s: rate limited: %v", e.Platform, e.Err)
}

func (e *RateLimitError) Unwrap() error { return e.Err }

// TransientError wraps network failures, timeouts and 5xx responses.
type TransientError struct {
	Platform stream.Platform
	Err      error
}

func (e *TransientError) Error() string {
	return fmt.Sprintf("%s: transient failure: %v", e.Platform, e.Err)
}

func (e *TransientError) Unwrap() error { return e.Err }

// PermanentError wraps malformed requests, unsupported parameters, other 4xx
// responses and bodies that cannot be decoded.
type PermanentError struct {
	Platform   stream.Platform
	StatusCode int
	Err        error
}

func (e *PermanentError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("%s: api error (status %d): %v", e.Platform, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("%s: api error: %v", e.Platform, e.Err)
}

func (e *PermanentError) Unwrap() error { return e.Err }

// NormalizationError marks a raw listing that cannot become a Record.
type NormalizationError struct {
	Platform stream.Platform
	Field    string
	Err      error
}

func (e *NormalizationError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("%s: unusable listing: missing %s", e.Platform, e.Field)
	}
	return fmt.Sprintf("%s: unusable listing: %v", e.Platform, e.Err)
}

func (e *NormalizationError) Unwrap() error { return e.Err }

// PersistenceError is a failed store write for one record. Platform and
// ChannelID are kept for manual reconciliation.
type PersistenceError struct {
	Platform  stream.Platform
	ChannelID string
	Op        string
	Err       error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("persist %s %s/%s: %v", e.Op, e.Platform, e.ChannelID, e.Err)
}

func (e *PersistenceError) Unwrap() error { return e.Err }

// ErrDuplicateSnapshot means the channel already has a snapshot for the cycle,
// e.g. a YouTube channel running two live videos at once. Nothing new was stored.
var ErrDuplicateSnapshot = errors.New("snapshot already recorded for this cycle")

// Classify maps an error returned by a platform call to its Class.
// Errors that match none of the typed errors are treated as transient so a
// collection does not give up on the first unexpected hiccup.
func Classify(err error) Class {
	var authErr *AuthError
	var rlErr *RateLimitError
	var permErr *PermanentError
	var normErr *NormalizationError
	switch {
	case errors.As(err, &authErr):
		return ClassAuth
	case errors.As(err, &rlErr):
		return ClassRateLimit
	case errors.As(err, &permErr), errors.As(err, &normErr):
		return ClassPermanent
	default:
		return ClassTransient
	}
}

// IsAuth reports whether err is (or wraps) an AuthError.
func IsAuth(err error) bool {
	var authErr *AuthError
	return errors.As(err, &authErr)
}

// RetryAfter returns the server-requested delay carried by a RateLimitError, if any.
func RetryAfter(err error) time.Duration {
	var rlErr *RateLimitError
	if errors.As(err, &rlErr) {
		return rlErr.RetryAfter
	}
	return 0
}
