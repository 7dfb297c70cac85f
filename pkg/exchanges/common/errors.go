package common

import (
	"errors"
	"fmt"
)

// Error taxonomy. Auth errors indicate a credential or permission problem and
// must never be retried; transient errors may be retried with backoff.
var (
	ErrAuth             = errors.New("exchange: authentication failed")
	ErrRateLimited      = errors.New("exchange: rate limited")
	ErrTransient        = errors.New("exchange: transient request failure")
	ErrInsufficientData = errors.New("exchange: insufficient data")
	ErrUnknownSymbol    = errors.New("exchange: unknown symbol")
)

// AuthError wraps an exchange message as a non-retryable credential failure.
func AuthError(msg string) error {
	return fmt.Errorf("%w: %s", ErrAuth, msg)
}

// TransientError wraps a network or server-side failure as retryable.
func TransientError(err error) error {
	return fmt.Errorf("%w: %v", ErrTransient, err)
}

// IsRetryable reports whether an error may be retried with backoff.
// Authentication and validation failures are excluded by construction.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrTransient) || errors.Is(err, ErrRateLimited)
}
