package credentials

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/aws/smithy-go"
	smithyhttp "github.com/aws/smithy-go/transport/http"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fibanez/aws-dash-architect-sub001/internal/classifier"
)

// fakeSource counts issuances and can block until released.
type fakeSource struct {
	calls   atomic.Int64
	perAcct sync.Map // account -> *atomic.Int64
	release chan struct{}
	ttl     time.Duration
	now     func() time.Time
	errs    map[string]error
}

func newFakeSource() *fakeSource {
	return &fakeSource{ttl: time.Hour, now: time.Now}
}

func (f *fakeSource) Issue(ctx context.Context, accountID, roleName string) (Set, error) {
	f.calls.Add(1)
	v, _ := f.perAcct.LoadOrStore(accountID, &atomic.Int64{})
	v.(*atomic.Int64).Add(1)

	if f.release != nil {
		select {
		case <-f.release:
		case <-ctx.Done():
			return Set{}, ctx.Err()
		}
	}
	if err, ok := f.errs[accountID]; ok {
		return Set{}, err
	}
	return Set{
		AccessKeyID:     "AKIA" + accountID,
		SecretAccessKey: []byte("secret-" + accountID),
		SessionToken:    []byte("token-" + roleName),
		ExpiresAt:       f.now().Add(f.ttl),
	}, nil
}

func (f *fakeSource) callsFor(accountID string) int64 {
	v, ok := f.perAcct.Load(accountID)
	if !ok {
		return 0
	}
	return v.(*atomic.Int64).Load()
}

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func TestCoordinator_CoalescesConcurrentRequests(t *testing.T) {
	src := newFakeSource()
	src.release = make(chan struct{})
	c := NewCoordinator(src)

	const n = 100
	var wg sync.WaitGroup
	results := make([]Set, n)
	errs := make([]error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], errs[i] = c.Get(context.Background(), "111111111111")
		}(i)
	}

	// let the callers pile up behind the in-flight issuance
	require.Eventually(t, func() bool { return src.calls.Load() == 1 }, time.Second, time.Millisecond)
	time.Sleep(20 * time.Millisecond)
	close(src.release)
	wg.Wait()

	assert.Equal(t, int64(1), src.calls.Load())
	for i := 0; i < n; i++ {
		require.NoError(t, errs[i])
		assert.Equal(t, "AKIA111111111111", results[i].AccessKeyID)
		assert.Equal(t, "111111111111", results[i].AccountID)
	}
}

func TestCoordinator_CallersReceiveIndependentCopies(t *testing.T) {
	c := NewCoordinator(newFakeSource())

	a, err := c.Get(context.Background(), "1")
	require.NoError(t, err)
	a.Wipe()

	b, err := c.Get(context.Background(), "1")
	require.NoError(t, err)
	assert.Equal(t, []byte("secret-1"), b.SecretAccessKey)
}

func TestCoordinator_ServesCacheUntilSafetyMargin(t *testing.T) {
	clock := &fakeClock{now: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)}
	src := newFakeSource()
	src.now = clock.Now
	c := NewCoordinator(src, WithClock(clock.Now), WithSafetyMargin(5*time.Minute))
	ctx := context.Background()

	_, err := c.Get(ctx, "1")
	require.NoError(t, err)
	clock.Advance(54 * time.Minute)
	_, err = c.Get(ctx, "1")
	require.NoError(t, err)
	assert.Equal(t, int64(1), src.calls.Load())

	// inside the 5 minute margin before the 1h expiry
	clock.Advance(2 * time.Minute)
	_, err = c.Get(ctx, "1")
	require.NoError(t, err)
	assert.Equal(t, int64(2), src.calls.Load())
}

func TestCoordinator_FailureIsolation(t *testing.T) {
	src := newFakeSource()
	src.errs = map[string]error{
		"bad": &smithy.GenericAPIError{Code: "ForbiddenException", Message: "No access"},
	}
	c := NewCoordinator(src)
	ctx := context.Background()

	_, err := c.Get(ctx, "bad")
	require.Error(t, err)
	assert.Equal(t, classifier.PermissionDenied, classifier.Classify(err))

	set, err := c.Get(ctx, "good")
	require.NoError(t, err)
	assert.Equal(t, "AKIAgood", set.AccessKeyID)

	// failures are not cached; the next call tries again
	_, _ = c.Get(ctx, "bad")
	assert.Equal(t, int64(2), src.callsFor("bad"))
	assert.Equal(t, int64(1), src.callsFor("good"))
	assert.Equal(t, int64(2), c.Stats().Failed)
}

func TestCoordinator_FirstCallerCancelDoesNotFailOthers(t *testing.T) {
	src := newFakeSource()
	src.release = make(chan struct{})
	c := NewCoordinator(src)

	ctx1, cancel1 := context.WithCancel(context.Background())
	err1 := make(chan error, 1)
	go func() {
		_, err := c.Get(ctx1, "1")
		err1 <- err
	}()
	require.Eventually(t, func() bool { return src.calls.Load() == 1 }, time.Second, time.Millisecond)

	got := make(chan Set, 1)
	go func() {
		set, err := c.Get(context.Background(), "1")
		if err == nil {
			got <- set
		}
		close(got)
	}()

	cancel1()
	require.Error(t, <-err1)

	close(src.release)
	set, ok := <-got
	require.True(t, ok)
	assert.Equal(t, "AKIA1", set.AccessKeyID)
	assert.Equal(t, int64(1), src.calls.Load())
}

func TestClassifyIssue(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want classifier.Category
	}{
		{"access denied", &smithy.GenericAPIError{Code: "AccessDenied"}, classifier.PermissionDenied},
		{"unknown api code", &smithy.GenericAPIError{Code: "InvalidRequestException"}, classifier.PermissionDenied},
		{"transport", &smithyhttp.RequestSendError{Err: errors.New("refused")}, classifier.NetworkOrDispatch},
		{"opaque", errors.New("eof"), classifier.NetworkOrDispatch},
		{"throttled", &smithy.GenericAPIError{Code: "TooManyRequestsException"}, classifier.Throttled},
		{"token expired", fmt.Errorf("read sso token: %w", ErrTokenExpired), classifier.PermissionDenied},
		{"deadline", context.DeadlineExceeded, classifier.Timeout},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, classifyIssue(tt.err).Category)
		})
	}
}

func TestCoordinator_InvalidateAndRetain(t *testing.T) {
	src := newFakeSource()
	c := NewCoordinator(src)
	ctx := context.Background()
	for _, id := range []string{"1", "2", "3"} {
		_, err := c.Get(ctx, id)
		require.NoError(t, err)
	}

	c.mu.Lock()
	retired := c.cache["1"]
	c.mu.Unlock()

	c.Invalidate("1")
	assert.Nil(t, retired.SecretAccessKey)
	assert.Equal(t, 2, c.Stats().Total)

	assert.Equal(t, 1, c.Retain([]string{"2"}))
	assert.Equal(t, 1, c.Stats().Total)

	_, err := c.Get(ctx, "1")
	require.NoError(t, err)
	assert.Equal(t, int64(2), src.callsFor("1"))
}

func TestCoordinator_CleanupExpiredAndStats(t *testing.T) {
	clock := &fakeClock{now: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)}
	src := newFakeSource()
	src.now = clock.Now
	c := NewCoordinator(src, WithClock(clock.Now))
	ctx := context.Background()

	_, _ = c.Get(ctx, "1")
	clock.Advance(30 * time.Minute)
	_, _ = c.Get(ctx, "2")
	clock.Advance(26 * time.Minute)

	s := c.Stats()
	assert.Equal(t, 2, s.Total)
	assert.Equal(t, 1, s.Valid)
	assert.Equal(t, 1, s.Expired)
	assert.Equal(t, int64(2), s.Issued)

	assert.Equal(t, 1, c.CleanupExpired())
	assert.Equal(t, 1, c.Stats().Total)
}

func TestCoordinator_Preload(t *testing.T) {
	src := newFakeSource()
	src.errs = map[string]error{"3": &smithy.GenericAPIError{Code: "AccessDenied"}}
	c := NewCoordinator(src, WithPreloadConcurrency(2))

	errs := c.Preload(context.Background(), []string{"1", "2", "3", "4"})

	require.Len(t, errs, 1)
	assert.Contains(t, errs, "3")
	s := c.Stats()
	assert.Equal(t, 3, s.Valid)
}

func TestSet_Expired(t *testing.T) {
	now := time.Now()
	s := Set{ExpiresAt: now.Add(10 * time.Minute)}

	assert.False(t, s.Expired(now, 5*time.Minute))
	assert.True(t, s.Expired(now, 10*time.Minute))
	assert.False(t, Set{}.Expired(now, time.Hour))
}

func TestSet_AWS(t *testing.T) {
	exp := time.Now().Add(time.Hour)
	s := Set{AccountID: "1", AccessKeyID: "AK", SecretAccessKey: []byte("SK"), SessionToken: []byte("ST"), ExpiresAt: exp}

	creds := s.AWS()
	assert.Equal(t, "AK", creds.AccessKeyID)
	assert.Equal(t, "SK", creds.SecretAccessKey)
	assert.Equal(t, "ST", creds.SessionToken)
	assert.True(t, creds.CanExpire)
	assert.Equal(t, exp, creds.Expires)
}
