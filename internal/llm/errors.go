package llm

import "errors"

// The provider failure taxonomy. Adapters wrap their errors with exactly
// one of these so the registry can decide what is retryable.
var (
	// ErrAuth is a bad or missing credential. Never retried.
	ErrAuth = errors.New("provider authentication failed")

	// ErrRateLimited is a provider 429. Retried with bounded backoff.
	ErrRateLimited = errors.New("provider rate limited")

	// ErrUnavailable is a provider 5xx or network failure. Retried once,
	// then the registry falls back to the default provider.
	ErrUnavailable = errors.New("provider unavailable")

	// ErrInvalidResponse is malformed provider output. Never retried.
	ErrInvalidResponse = errors.New("invalid provider response")
)

// classifyStatus maps an HTTP status code onto the failure taxonomy.
func classifyStatus(status int) error {
	switch {
	case status == 401 || status == 403:
		return ErrAuth
	case status == 429:
		return ErrRateLimited
	case status >= 500:
		return ErrUnavailable
	default:
		return ErrInvalidResponse
	}
}

// permanent reports whether err should never be retried.
func permanent(err error) bool {
	return errors.Is(err, ErrAuth) || errors.Is(err, ErrInvalidResponse)
}
