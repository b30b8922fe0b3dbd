package splists

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/yasutakesougo/audit-management-system-mvp-sub007/internal/backoff"
)

// RetryPolicy decides whether a failed attempt is retried and how long to wait.
// retry is the zero-based count of retries already performed in the call; err
// is non-nil for transport failures, in which case status is 0.
type RetryPolicy interface {
	ShouldRetry(status int, header http.Header, err error, retry int) (time.Duration, bool)
}

// DefaultRetryPolicy retries 408, 429, 500, 502, 503, 504 and transport errors
// up to maxAttempts total attempts. A Retry-After header overrides the computed
// backoff for that attempt.
type DefaultRetryPolicy struct {
	maxAttempts int
	params      backoff.Params
	strategy    backoff.Strategy
	now         func() time.Time
}

// NewDefaultRetryPolicy creates a policy using exponential backoff with jitter.
func NewDefaultRetryPolicy(maxAttempts int, baseDelay, maxDelay time.Duration, multiplier, jitter float64) *DefaultRetryPolicy {
	return NewDefaultRetryPolicyWithStrategy(maxAttempts, baseDelay, maxDelay, multiplier, jitter, ExponentialJitter)
}

// NewDefaultRetryPolicyWithStrategy creates a policy with a specific backoff strategy.
func NewDefaultRetryPolicyWithStrategy(maxAttempts int, baseDelay, maxDelay time.Duration, multiplier, jitter float64, strategy BackoffStrategy) *DefaultRetryPolicy {
	policy := &DefaultRetryPolicy{
		maxAttempts: maxAttempts,
		params: backoff.Params{
			Base:       baseDelay,
			Max:        maxDelay,
			Multiplier: multiplier,
			Jitter:     jitter,
		},
		now: time.Now,
	}

	switch strategy {
	case DecorrelatedJitter:
		policy.strategy = backoff.Decorrelated{}
	default:
		policy.strategy = backoff.Exponential{}
	}

	return policy
}

// ShouldRetry implements RetryPolicy.
func (p *DefaultRetryPolicy) ShouldRetry(status int, header http.Header, err error, retry int) (time.Duration, bool) {
	if retry+1 >= p.maxAttempts {
		return 0, false
	}

	if err == nil && !IsRetryableStatus(status) {
		return 0, false
	}

	if err == nil {
		if delay, ok := parseRetryAfter(header.Get("Retry-After"), p.now()); ok {
			return delay, true
		}
	}

	return p.strategy.Delay(retry, p.params), true
}

// IsRetryableStatus reports whether status is one of the transient statuses.
func IsRetryableStatus(status int) bool {
	switch status {
	case http.StatusRequestTimeout,
		http.StatusTooManyRequests,
		http.StatusInternalServerError,
		http.StatusBadGateway,
		http.StatusServiceUnavailable,
		http.StatusGatewayTimeout:
		return true
	}
	return false
}

func reasonFor(status int) RetryReason {
	switch status {
	case 0:
		return ReasonNetwork
	case http.StatusTooManyRequests:
		return ReasonThrottle
	case http.StatusRequestTimeout:
		return ReasonTimeout
	case http.StatusUnauthorized:
		return ReasonAuth
	default:
		return ReasonServer
	}
}

// parseRetryAfter parses the Retry-After header value in either its
// delay-seconds or HTTP-date form. A date in the past yields a zero delay.
func parseRetryAfter(value string, now time.Time) (time.Duration, bool) {
	value = strings.TrimSpace(value)
	if value == "" {
		return 0, false
	}

	if seconds, err := strconv.Atoi(value); err == nil {
		if seconds < 0 {
			seconds = 0
		}
		return time.Duration(seconds) * time.Second, true
	}

	if t, err := http.ParseTime(value); err == nil {
		delay := t.Sub(now)
		if delay < 0 {
			delay = 0
		}
		return delay, true
	}

	return 0, false
}
