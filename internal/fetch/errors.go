package fetch

import (
	"errors"
	"fmt"
	"net/http"
)

// Common errors returned by the fetch client.
var (
	// ErrNotFound indicates the remote resource does not exist.
	ErrNotFound = errors.New("resource not found")

	// ErrRateLimited indicates the server answered 429.
	ErrRateLimited = errors.New("rate limit exceeded")

	// ErrUnavailable indicates an artifact the server will not serve
	// (404, 500 or 503 on a download).
	ErrUnavailable = errors.New("resource unavailable")

	// ErrNetworkError indicates a transport-level failure.
	ErrNetworkError = errors.New("network error")

	// ErrIdleTimeout indicates a response body that stopped arriving.
	ErrIdleTimeout = errors.New("response body idle")

	// ErrRetriesExhausted indicates every attempt allowed by the policy failed.
	ErrRetriesExhausted = errors.New("retries exhausted")

	// ErrInvalidResponse indicates a body that could not be decoded.
	ErrInvalidResponse = errors.New("invalid response")
)

// unavailableStatuses are the download statuses reported as ErrUnavailable.
var unavailableStatuses = map[int]bool{
	http.StatusNotFound:            true,
	http.StatusInternalServerError: true,
	http.StatusServiceUnavailable:  true,
}

// StatusError is a non-2xx response.
type StatusError struct {
	StatusCode int
	URL        string
	Attempts   int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("HTTP %d from %s after %d attempt(s)", e.StatusCode, e.URL, e.Attempts)
}

// Is lets callers match a StatusError against the package sentinels.
func (e *StatusError) Is(target error) bool {
	switch target {
	case ErrNotFound:
		return e.StatusCode == http.StatusNotFound
	case ErrRateLimited:
		return e.StatusCode == http.StatusTooManyRequests
	case ErrUnavailable:
		return unavailableStatuses[e.StatusCode]
	}
	return false
}

// IsNotFound returns true if the error indicates a resource was not found.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// IsRateLimited returns true if the error indicates rate limiting.
func IsRateLimited(err error) bool {
	return errors.Is(err, ErrRateLimited)
}

// IsUnavailable returns true if a download was refused by the server.
func IsUnavailable(err error) bool {
	return errors.Is(err, ErrUnavailable)
}

// StatusCode extracts the HTTP status from err, or 0.
func StatusCode(err error) int {
	var se *StatusError
	if errors.As(err, &se) {
		return se.StatusCode
	}
	return 0
}
