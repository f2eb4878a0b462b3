package clients

import (
	"net/http"
	"strconv"
	"time"
)

// RetryPolicy defines transient-failure handling for HTTP requests.
// Unsafe methods (POST, PUT, DELETE, PATCH) are excluded from the default
// retryable set and are never auto-retried unless explicitly whitelisted.
type RetryPolicy struct {
	// TotalAttempts is the maximum number of tries including the first.
	TotalAttempts int
	// BackoffFactor is the base delay; attempt n waits BackoffFactor * 2^n.
	BackoffFactor time.Duration
	// BackoffMax caps the computed delay.
	BackoffMax time.Duration
	// RetryableStatuses is the set of response codes worth retrying.
	RetryableStatuses map[int]bool
	// RetryableMethods is the set of methods safe to retry.
	RetryableMethods map[string]bool
}

// DefaultRetryPolicy returns the policy used for the public registries:
// three attempts, exponential backoff capped at 30s, retrying only
// idempotent methods on throttling and server-side failures.
func DefaultRetryPolicy() *RetryPolicy {
	return &RetryPolicy{
		TotalAttempts: 3,
		BackoffFactor: time.Second,
		BackoffMax:    30 * time.Second,
		RetryableStatuses: map[int]bool{
			http.StatusTooManyRequests:     true,
			http.StatusInternalServerError: true,
			http.StatusBadGateway:          true,
			http.StatusServiceUnavailable:  true,
			http.StatusGatewayTimeout:      true,
		},
		RetryableMethods: map[string]bool{
			http.MethodGet:     true,
			http.MethodHead:    true,
			http.MethodOptions: true,
		},
	}
}

// NoRetryPolicy returns a policy that never retries.
func NoRetryPolicy() *RetryPolicy {
	p := DefaultRetryPolicy()
	p.TotalAttempts = 1
	return p
}

// ShouldRetry reports whether a response with the given status to the given
// method is worth another attempt.
func (rp *RetryPolicy) ShouldRetry(method string, status int) bool {
	return rp.RetryableMethods[method] && rp.RetryableStatuses[status]
}

// MethodRetryable reports whether transport-level failures of the given
// method may be retried at all.
func (rp *RetryPolicy) MethodRetryable(method string) bool {
	return rp.RetryableMethods[method]
}

// Delay computes the wait before the next attempt. A Retry-After header
// value (integer seconds) overrides the exponential backoff.
func (rp *RetryPolicy) Delay(attempt int, retryAfter string) time.Duration {
	if retryAfter != "" {
		if secs, err := strconv.Atoi(retryAfter); err == nil && secs >= 0 {
			return time.Duration(secs) * time.Second
		}
	}

	delay := rp.BackoffFactor << uint(attempt)
	if delay > rp.BackoffMax || delay <= 0 {
		delay = rp.BackoffMax
	}
	return delay
}

// Clone creates a copy of the retry policy with independent sets.
func (rp *RetryPolicy) Clone() *RetryPolicy {
	statuses := make(map[int]bool, len(rp.RetryableStatuses))
	for k, v := range rp.RetryableStatuses {
		statuses[k] = v
	}
	methods := make(map[string]bool, len(rp.RetryableMethods))
	for k, v := range rp.RetryableMethods {
		methods[k] = v
	}
	return &RetryPolicy{
		TotalAttempts:     rp.TotalAttempts,
		BackoffFactor:     rp.BackoffFactor,
		BackoffMax:        rp.BackoffMax,
		RetryableStatuses: statuses,
		RetryableMethods:  methods,
	}
}

// AllowMethod whitelists an additional method for retrying. Callers opting
// unsafe methods in accept the risk of duplicate side effects.
func (rp *RetryPolicy) AllowMethod(method string) *RetryPolicy {
	policy := rp.Clone()
	policy.RetryableMethods[method] = true
	return policy
}
