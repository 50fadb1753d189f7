package classifier

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fibanez/aws-dash-architect-sub001/pkg/resource"
)

type recordingSleeper struct {
	delays []time.Duration
}

func (s *recordingSleeper) sleep(ctx context.Context, d time.Duration) error {
	s.delays = append(s.delays, d)
	return ctx.Err()
}

func newTestRetrier(s *recordingSleeper) *Retrier {
	p := DefaultPolicy()
	p.BaseDelay = 100 * time.Millisecond
	p.MaxDelay = 300 * time.Millisecond
	return NewRetrier(p, WithSleeper(s.sleep))
}

// failN returns an operation that fails with err n times, then succeeds.
func failN(n int, err error) (Operation, *int) {
	calls := 0
	return func(context.Context) error {
		calls++
		if calls <= n {
			return err
		}
		return nil
	}, &calls
}

func TestPolicy_Delay(t *testing.T) {
	p := Policy{BaseDelay: 100 * time.Millisecond, MaxDelay: time.Second}

	assert.Equal(t, 100*time.Millisecond, p.Delay(1))
	assert.Equal(t, 200*time.Millisecond, p.Delay(2))
	assert.Equal(t, 400*time.Millisecond, p.Delay(3))
	assert.Equal(t, 800*time.Millisecond, p.Delay(4))
	assert.Equal(t, time.Second, p.Delay(5))
	assert.Equal(t, time.Second, p.Delay(12))
}

func TestPolicy_Attempts(t *testing.T) {
	p := DefaultPolicy()
	p.MaxAttempts[PermissionDenied] = 9

	assert.Equal(t, 5, p.Attempts(Throttled))
	assert.Equal(t, 2, p.Attempts(ServiceUnavailable))
	assert.Equal(t, 2, p.Attempts(Unknown))
	assert.Equal(t, 1, p.Attempts(PermissionDenied))
	assert.Equal(t, 1, p.Attempts(NotFound))

	assert.True(t, p.Retryable(Unknown, 1))
	assert.False(t, p.Retryable(Unknown, 2))
}

func TestRetrier_ThrottledTwiceThenSucceeds(t *testing.T) {
	s := &recordingSleeper{}
	r := newTestRetrier(s)
	op, calls := failN(2, apiError("ThrottlingException", "Rate exceeded"))

	var observed []int
	out := r.Do(context.Background(), op, func(attempt int, _ time.Time) {
		observed = append(observed, attempt)
	})

	assert.True(t, out.Succeeded())
	assert.True(t, out.Recovered())
	assert.Equal(t, 3, out.Attempts)
	assert.Equal(t, 3, *calls)
	assert.Equal(t, []int{1, 2, 3}, observed)
	assert.Equal(t, []time.Duration{100 * time.Millisecond, 200 * time.Millisecond}, s.delays)
	assert.Equal(t, 2, out.Retried[Throttled])
}

func TestRetrier_PermissionDeniedIsTerminal(t *testing.T) {
	s := &recordingSleeper{}
	r := newTestRetrier(s)
	op, calls := failN(10, apiError("AccessDenied", "no"))

	out := r.Do(context.Background(), op, nil)

	require.NotNil(t, out.Err)
	assert.Equal(t, PermissionDenied, out.Err.Category)
	assert.Equal(t, 1, out.Attempts)
	assert.Equal(t, 1, *calls)
	assert.Empty(t, s.delays)
}

func TestRetrier_NotFoundIsTerminal(t *testing.T) {
	r := newTestRetrier(&recordingSleeper{})
	op, calls := failN(10, apiError("ResourceNotFoundException", "gone"))

	out := r.Do(context.Background(), op, nil)

	assert.Equal(t, NotFound, out.Err.Category)
	assert.Equal(t, 1, *calls)
}

func TestRetrier_UnknownRetriedOnce(t *testing.T) {
	r := newTestRetrier(&recordingSleeper{})
	op, calls := failN(10, errors.New("mystery"))

	out := r.Do(context.Background(), op, nil)

	assert.Equal(t, Unknown, out.Err.Category)
	assert.Equal(t, 2, out.Attempts)
	assert.Equal(t, 2, *calls)
}

func TestRetrier_ServiceUnavailableSmallBound(t *testing.T) {
	r := newTestRetrier(&recordingSleeper{})
	op, _ := failN(10, apiError("ServiceUnavailable", "try later"))

	out := r.Do(context.Background(), op, nil)

	assert.Equal(t, ServiceUnavailable, out.Err.Category)
	assert.Equal(t, 2, out.Attempts)
}

func TestRetrier_ExhaustsTransientBudgetWithCappedBackoff(t *testing.T) {
	s := &recordingSleeper{}
	r := newTestRetrier(s)
	op, calls := failN(10, apiError("RequestLimitExceeded", "slow down"))

	out := r.Do(context.Background(), op, nil)

	assert.Equal(t, Throttled, out.Err.Category)
	assert.Equal(t, 5, out.Attempts)
	assert.Equal(t, 5, *calls)
	assert.Equal(t, []time.Duration{
		100 * time.Millisecond,
		200 * time.Millisecond,
		300 * time.Millisecond,
		300 * time.Millisecond,
	}, s.delays)
}

func TestRetrier_StopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	r := newTestRetrier(&recordingSleeper{})

	calls := 0
	out := r.Do(ctx, func(context.Context) error {
		calls++
		cancel()
		return apiError("ThrottlingException", "busy")
	}, nil)

	assert.Equal(t, 1, calls)
	assert.Equal(t, Throttled, out.Err.Category)
}

func TestRetrier_RecordsTimestamps(t *testing.T) {
	base := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	tick := 0
	clock := func() time.Time {
		tick++
		return base.Add(time.Duration(tick) * time.Second)
	}
	r := NewRetrier(DefaultPolicy(), WithClock(clock), WithSleeper((&recordingSleeper{}).sleep))
	op, _ := failN(1, apiError("Throttling", "x"))

	out := r.Do(context.Background(), op, nil)

	assert.Equal(t, base.Add(time.Second), out.FirstAttemptAt)
	assert.Equal(t, base.Add(2*time.Second), out.LastAttemptAt)
}

func TestTracker_Summary(t *testing.T) {
	tr := NewTracker()
	k1 := resource.QueryKey{AccountID: "1", Region: "us-east-1", ResourceType: "T"}
	k2 := resource.QueryKey{AccountID: "2", Region: "us-east-1", ResourceType: "T"}

	tr.RecordRetry(k1, "", Throttled)
	tr.RecordRetry(k1, "", Throttled)
	tr.RecordSuccess(k1, "", 3)

	tr.RecordRetry(k2, "", Timeout)
	tr.RecordFailure(Failure{Key: k2, Category: PermissionDenied, Message: "denied", Attempts: 1})
	tr.RecordFailure(Failure{Key: k1, ResourceID: "fn-1", Category: Throttled, Message: "busy", Attempts: 5})

	s := tr.Summary()
	assert.Equal(t, 2, s.Failed)
	assert.Equal(t, 1, s.Recovered)
	assert.Equal(t, 0, s.ActiveRetries)
	assert.Equal(t, 1, s.ByCategory[PermissionDenied])
	assert.Equal(t, 1, s.ByCategory[Throttled])
	assert.Equal(t, 2, s.Retries[Throttled])
	assert.Equal(t, 1, s.Retries[Timeout])
	require.Len(t, s.Failures, 2)
	assert.Equal(t, k1, s.Failures[0].Key)
	assert.Equal(t, k2, s.Failures[1].Key)

	tr.Clear(k2)
	assert.Equal(t, 1, tr.Summary().Failed)

	tr.Dismiss()
	assert.Equal(t, 0, tr.Summary().Failed)
}
