package classifier

import (
	"context"
	"time"
)

// Operation is one attempt of a unit of work.
type Operation func(ctx context.Context) error

// AttemptObserver is called right before each attempt.
type AttemptObserver func(attempt int, at time.Time)

// Outcome is the result of running an operation under the retry policy.
type Outcome struct {
	Attempts       int
	FirstAttemptAt time.Time
	LastAttemptAt  time.Time
	Err            *Error
	Retried        map[Category]int
}

// Succeeded reports whether the final attempt succeeded.
func (o Outcome) Succeeded() bool {
	return o.Err == nil
}

// Recovered reports whether the operation succeeded after at least one retry.
func (o Outcome) Recovered() bool {
	return o.Err == nil && o.Attempts > 1
}

// Retrier runs operations under a Policy.
type Retrier struct {
	policy Policy
	now    func() time.Time
	sleep  func(ctx context.Context, d time.Duration) error
}

// RetrierOption configures a Retrier.
type RetrierOption func(*Retrier)

// WithClock overrides the time source.
func WithClock(now func() time.Time) RetrierOption {
	return func(r *Retrier) { r.now = now }
}

// WithSleeper overrides how the retrier waits between attempts.
func WithSleeper(sleep func(ctx context.Context, d time.Duration) error) RetrierOption {
	return func(r *Retrier) { r.sleep = sleep }
}

// NewRetrier creates a retrier for the policy.
func NewRetrier(policy Policy, opts ...RetrierOption) *Retrier {
	r := &Retrier{
		policy: policy,
		now:    time.Now,
		sleep:  sleepContext,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Policy returns the retry policy in use.
func (r *Retrier) Policy() Policy {
	return r.policy
}

// Do runs op until it succeeds, fails terminally or exhausts the attempt
// budget of the last failure's category. Cancellation of ctx stops further
// attempts; the last classified error is returned.
func (r *Retrier) Do(ctx context.Context, op Operation, observe AttemptObserver) Outcome {
	var out Outcome

	for {
		out.Attempts++
		at := r.now()
		if out.Attempts == 1 {
			out.FirstAttemptAt = at
		}
		out.LastAttemptAt = at
		if observe != nil {
			observe(out.Attempts, at)
		}

		err := op(ctx)
		if err == nil {
			out.Err = nil
			return out
		}
		out.Err = Wrap(err)

		if !r.policy.Retryable(out.Err.Category, out.Attempts) {
			return out
		}
		if ctx.Err() != nil {
			return out
		}

		if out.Retried == nil {
			out.Retried = make(map[Category]int)
		}
		out.Retried[out.Err.Category]++

		if err := r.sleep(ctx, r.policy.Delay(out.Attempts)); err != nil {
			return out
		}
	}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
