package classifier

import (
	"time"

	"github.com/cenkalti/backoff/v5"
)

// Policy bounds how often and how quickly each category is retried.
// MaxAttempts counts the first attempt, so 1 means no retry.
type Policy struct {
	BaseDelay   time.Duration
	MaxDelay    time.Duration
	MaxAttempts map[Category]int
}

// DefaultPolicy returns the standard retry policy.
func DefaultPolicy() Policy {
	return Policy{
		BaseDelay: 500 * time.Millisecond,
		MaxDelay:  30 * time.Second,
		MaxAttempts: map[Category]int{
			Throttled:          5,
			Timeout:            5,
			NetworkOrDispatch:  5,
			ServiceUnavailable: 2,
			Unknown:            2,
			PermissionDenied:   1,
			NotFound:           1,
		},
	}
}

// Attempts returns the attempt budget for a category. Categories that are
// never retried get exactly one attempt whatever the configuration says.
func (p Policy) Attempts(c Category) int {
	if c == PermissionDenied || c == NotFound {
		return 1
	}
	if n, ok := p.MaxAttempts[c]; ok && n > 0 {
		return n
	}
	return 1
}

// Retryable reports whether a unit that has made attempts attempts and last
// failed with category c may try again.
func (p Policy) Retryable(c Category, attempts int) bool {
	return attempts < p.Attempts(c)
}

// Delay returns the wait before the retry that follows attempt number
// attempt (1-based): BaseDelay * 2^(attempt-1), capped at MaxDelay.
func (p Policy) Delay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	b := &backoff.ExponentialBackOff{
		InitialInterval:     p.BaseDelay,
		RandomizationFactor: 0,
		Multiplier:          2,
		MaxInterval:         p.maxDelay(),
	}
	b.Reset()

	d := b.NextBackOff()
	for i := 1; i < attempt; i++ {
		d = b.NextBackOff()
	}
	return d
}

func (p Policy) maxDelay() time.Duration {
	if p.MaxDelay <= 0 {
		return p.BaseDelay
	}
	return p.MaxDelay
}
