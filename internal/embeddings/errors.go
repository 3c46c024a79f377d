package embeddings

import (
	"errors"
	"fmt"
)

var (
	// ErrRateLimited matches any provider rejection caused by request quotas.
	ErrRateLimited = errors.New("embedding provider rate limit reached")

	// ErrUnavailable means no usable provider is configured (no credentials,
	// disabled, unknown provider).
	ErrUnavailable = errors.New("embedding provider unavailable")

	// ErrEmptyEmbedding is returned when a provider answers with a zero-length vector.
	ErrEmptyEmbedding = errors.New("embedding provider returned an empty vector")
)

// RateLimitError is the structured rate-limit failure returned by providers.
type RateLimitError struct {
	Provider   Provider
	StatusCode int
	Message    string
}

func (e *RateLimitError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("%s returned status %d: rate limit reached", e.Provider, e.StatusCode)
	}
	return fmt.Sprintf("%s returned status %d: %s", e.Provider, e.StatusCode, e.Message)
}

// Is reports whether target is ErrRateLimited.
func (e *RateLimitError) Is(target error) bool {
	return target == ErrRateLimited
}

// IsRateLimited reports whether err carries a provider rate-limit rejection.
func IsRateLimited(err error) bool {
	return errors.Is(err, ErrRateLimited)
}
