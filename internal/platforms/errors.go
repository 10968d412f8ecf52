package platforms

import (
	"errors"
	"fmt"
	"time"
)

// TokenExpiredError reports a 401 from a provider. The caller is expected
// to move the connection to needs_reauth; extraction is not retried.
type TokenExpiredError struct {
	Platform string
}

func (e *TokenExpiredError) Error() string {
	return fmt.Sprintf("%s: access token expired or revoked", e.Platform)
}

// RateLimitedError reports a 429. It is not a hard failure; the caller may
// retry after RetryAfter.
type RateLimitedError struct {
	Platform   string
	RetryAfter time.Duration
}

func (e *RateLimitedError) Error() string {
	return fmt.Sprintf("%s: rate limited, retry after %s", e.Platform, e.RetryAfter)
}

// TransientError reports a 5xx or a network timeout. Calls are retried with
// bounded exponential backoff before this surfaces.
type TransientError struct {
	Platform string
	Cause    error
}

func (e *TransientError) Error() string {
	return fmt.Sprintf("%s: transient provider error: %v", e.Platform, e.Cause)
}

func (e *TransientError) Unwrap() error { return e.Cause }

// PermanentError reports a revoked grant or insufficient scope. The
// connection must be re-established by the user.
type PermanentError struct {
	Platform string
	Cause    error
}

func (e *PermanentError) Error() string {
	return fmt.Sprintf("%s: permanent provider error: %v", e.Platform, e.Cause)
}

func (e *PermanentError) Unwrap() error { return e.Cause }

// IsTokenExpired reports whether err is (or wraps) a TokenExpiredError.
func IsTokenExpired(err error) bool {
	var te *TokenExpiredError
	return errors.As(err, &te)
}

// IsRateLimited returns the RateLimitedError wrapped in err, if any.
func IsRateLimited(err error) (*RateLimitedError, bool) {
	var rl *RateLimitedError
	ok := errors.As(err, &rl)
	return rl, ok
}

// IsPermanent reports whether err is (or wraps) a PermanentError.
func IsPermanent(err error) bool {
	var pe *PermanentError
	return errors.As(err, &pe)
}
