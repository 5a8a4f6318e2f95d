package domain

import (
	"context"
	"errors"
	"fmt"
	"time"
)

var (
	ErrProviderNotFound  = errors.New("provider not found")
	ErrModelNotFound     = errors.New("model not found")
	ErrNotImplemented    = errors.New("provider integration not implemented")
	ErrInvalidRequest    = errors.New("invalid request")
	ErrStreamClosed      = errors.New("stream closed")
	ErrRateLimitExceeded = errors.New("rate limit exceeded")
	ErrCircuitOpen       = errors.New("provider circuit open")
	ErrJobNotFound       = errors.New("job not found")
)

// UpstreamError wraps a failure from a provider's API. The gateway never
// retries these; retry policy belongs to the adapter or an outer caller.
type UpstreamError struct {
	Provider string
	Err      error
}

func (e *UpstreamError) Error() string {
	return fmt.Sprintf("upstream %s: %v", e.Provider, e.Err)
}

func (e *UpstreamError) Unwrap() error {
	return e.Err
}

// TimeoutError marks an awaited operation that exceeded its deadline. It is
// treated like an upstream failure by callers but stays distinguishable in
// logs and metadata.
type TimeoutError struct {
	Op      string
	Timeout time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("%s timed out after %s", e.Op, e.Timeout)
}

// IsTimeout reports whether err is a gateway timeout or a context deadline.
func IsTimeout(err error) bool {
	var te *TimeoutError
	return errors.As(err, &te) || errors.Is(err, context.DeadlineExceeded)
}

// IsConfiguration reports whether err is a configuration failure: unknown
// provider, unknown model, or an unconfigured type/provider pair. These
// fail fast before any upstream call and map to 4xx responses.
func IsConfiguration(err error) bool {
	return errors.Is(err, ErrProviderNotFound) ||
		errors.Is(err, ErrModelNotFound) ||
		errors.Is(err, ErrInvalidRequest)
}
