package scraper

import (
	"errors"
	"fmt"
	"time"
)

var (
	// ErrSkip is returned by a middleware to drop the request. The caller
	// sees it as the request's error.
	ErrSkip = errors.New("request skipped by middleware")

	// ErrRateLimited is returned when the rate limiter is configured to
	// fail rate-limited requests instead of waiting.
	ErrRateLimited = errors.New("rate limited")
)

// RetryAfterError asks the pipeline to wait and restart the request from the
// first middleware. Restarts are bounded; past the bound the error itself
// surfaces to the caller.
type RetryAfterError struct {
	Delay time.Duration
}

func (e *RetryAfterError) Error() string {
	return fmt.Sprintf("retry after %s", e.Delay)
}

// MiddlewareError wraps a middleware failure with the middleware's name so
// task results can point at the offender.
type MiddlewareError struct {
	Middleware string
	Err        error
}

func (e *MiddlewareError) Error() string {
	return fmt.Sprintf("middleware %s: %v", e.Middleware, e.Err)
}

func (e *MiddlewareError) Unwrap() error {
	return e.Err
}
