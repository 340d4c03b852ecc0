package ratelimit

import "errors"

var (
	// ErrRateLimitExceeded is returned when a rate limit is exceeded.
	ErrRateLimitExceeded = errors.New("rate limit exceeded")

	// ErrInvalidIdentity is returned when an identity is empty.
	ErrInvalidIdentity = errors.New("invalid identity")

	// ErrStoreUnavailable is returned when the counter store is
	// unreachable and the limiter is fail-closed.
	ErrStoreUnavailable = errors.New("rate limit store unavailable")

	// ErrUnknownClass is returned for an unconfigured endpoint class.
	ErrUnknownClass = errors.New("unknown endpoint class")
)
