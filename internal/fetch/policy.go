package fetch

import (
	"net/http"
	"time"
)

// RetryPolicy decides how a request is retried. Attempts are counted from
// one; a request is tried at most MaxAttempts times.
type RetryPolicy struct {
	MaxAttempts int

	// Backoff is the sleep before retrying a retryable status.
	Backoff time.Duration

	// RetryStatuses are retried with Backoff (or StatusBackoff).
	RetryStatuses []int

	// RetryAllStatuses retries every non-2xx status except TerminalStatuses.
	RetryAllStatuses bool

	// StatusBackoff overrides Backoff for specific statuses.
	StatusBackoff map[int]time.Duration

	// TransportBackoff is the sleep after a connection error or timeout.
	TransportBackoff time.Duration

	// TerminalStatuses are returned immediately, never retried.
	TerminalStatuses []int
}

// DefaultPolicy retries transient statuses and transport failures with a
// short fixed backoff. It is used for page fetches and downloads.
func DefaultPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts:      4,
		Backoff:          500 * time.Millisecond,
		RetryStatuses:    []int{429, 500, 502, 503, 504},
		TransportBackoff: 500 * time.Millisecond,
	}
}

// BibliographicPolicy is the policy for the citation API: a 429 waits much
// longer than other failures, transport failures longer still, and a 404 is
// an authoritative answer.
func BibliographicPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts:      5,
		Backoff:          5 * time.Second,
		RetryAllStatuses: true,
		StatusBackoff:    map[int]time.Duration{http.StatusTooManyRequests: 10 * time.Second},
		TransportBackoff: 15 * time.Second,
		TerminalStatuses: []int{http.StatusNotFound},
	}
}

func (p RetryPolicy) attempts() int {
	if p.MaxAttempts < 1 {
		return 1
	}
	return p.MaxAttempts
}

func (p RetryPolicy) retryable(status int) bool {
	for _, s := range p.TerminalStatuses {
		if s == status {
			return false
		}
	}
	if p.RetryAllStatuses {
		return true
	}
	for _, s := range p.RetryStatuses {
		if s == status {
			return true
		}
	}
	return false
}

func (p RetryPolicy) backoffFor(status int) time.Duration {
	if d, ok := p.StatusBackoff[status]; ok {
		return d
	}
	return p.Backoff
}
