package authclient

import (
	"math/rand/v2"
	"net/http"
	"time"
)

// RetryConfig controls transient-failure retries.
//
// MaxAttempts counts retries after the initial attempt, so a request that
// always fails is sent MaxAttempts+1 times.
type RetryConfig struct {
	MaxAttempts int           `validate:"gt=0"`
	BaseDelay   time.Duration `validate:"gt=0"`
	MaxDelay    time.Duration `validate:"gt=0,gtefield=BaseDelay"`
	// Jitter adds up to 25% random delay on top of DelayFor, capped at MaxDelay.
	Jitter bool
}

// DefaultRetryConfig returns the platform defaults.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts: 3,
		BaseDelay:   300 * time.Millisecond,
		MaxDelay:    5 * time.Second,
	}
}

// IsRetryEligible classifies a failure. status is 0 when no response was
// received; networkOrTimeout marks transport errors and attempt timeouts.
//
// 401 is never retry-eligible: it is handled by the refresh path.
func IsRetryEligible(status int, networkOrTimeout bool) bool {
	if networkOrTimeout {
		return true
	}
	if status == http.StatusTooManyRequests {
		return true
	}
	return status >= 500 && status <= 599
}

// DelayFor returns min(BaseDelay * 2^(attempt-1), MaxDelay). attempt is
// 1-based; smaller values are treated as 1.
func (r RetryConfig) DelayFor(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	if r.BaseDelay <= 0 {
		return 0
	}
	delay := r.BaseDelay
	for i := 1; i < attempt; i++ {
		if delay >= r.MaxDelay || delay > (1<<62)/2 {
			break
		}
		delay *= 2
	}
	if r.MaxDelay > 0 && delay > r.MaxDelay {
		delay = r.MaxDelay
	}
	return delay
}

func (r RetryConfig) nextDelay(attempt int) time.Duration {
	delay := r.DelayFor(attempt)
	if !r.Jitter || delay <= 0 {
		return delay
	}
	extra := time.Duration(rand.Int64N(int64(delay)/4 + 1))
	delay += extra
	if r.MaxDelay > 0 && delay > r.MaxDelay {
		delay = r.MaxDelay
	}
	return delay
}
