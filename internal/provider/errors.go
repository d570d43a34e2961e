package provider

import "errors"

// Model backend failures, as classified by StatusError, ConnectionError
// and the per-backend error mappers. The insight refresh retries the
// transient ones and records the rest against the industry.
var (
	// ErrRateLimit is HTTP 429 or a RESOURCE_EXHAUSTED quota answer.
	ErrRateLimit = errors.New("provider: rate limited")

	// ErrProviderDown is a 5xx answer or a network failure.
	ErrProviderDown = errors.New("provider: backend unavailable")

	// ErrAuth is a rejected or missing API key.
	ErrAuth = errors.New("provider: api key rejected")

	// ErrContextLength means the insight prompt did not fit the model.
	ErrContextLength = errors.New("provider: prompt exceeds model context")

	// ErrNoProvider means scheduler.cron names a provider module that is
	// not loaded.
	ErrNoProvider = errors.New("provider: backend not configured")
)

// IsRetryable reports whether err is worth another attempt after a
// backoff: rate limits and outages are, everything else fails the same
// way twice.
func IsRetryable(err error) bool {
	switch {
	case errors.Is(err, ErrRateLimit), errors.Is(err, ErrProviderDown):
		return true
	default:
		return false
	}
}
