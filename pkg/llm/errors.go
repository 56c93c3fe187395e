package llm

import "errors"

var (
	// ErrRateLimited means the tier's token bucket (or the provider itself)
	// refused the call. Retryable with backoff.
	ErrRateLimited = errors.New("rate limited")

	// ErrBreakerOpen means the tier's circuit breaker is open after repeated
	// failures. Callers escalate to another tier or defer the work.
	ErrBreakerOpen = errors.New("circuit breaker open")

	// ErrProviderError wraps a provider failure that survived retries.
	ErrProviderError = errors.New("provider error")

	// ErrUnknownTier means the requested tier has no binding.
	ErrUnknownTier = errors.New("unknown model tier")
)
