package daemon

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/aws/smithy-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fibanez/aws-dash-architect-sub001/internal/classifier"
	"github.com/fibanez/aws-dash-architect-sub001/internal/collector"
	"github.com/fibanez/aws-dash-architect-sub001/internal/credentials"
	"github.com/fibanez/aws-dash-architect-sub001/internal/orchestrator"
	"github.com/fibanez/aws-dash-architect-sub001/internal/store"
	"github.com/fibanez/aws-dash-architect-sub001/pkg/resource"
)

// fakeRunner records runs and applies deltas to an in-memory scope.
type fakeRunner struct {
	mu      sync.Mutex
	scope   resource.Scope
	runs    []orchestrator.RunOptions
	deltas  []resource.ScopeDelta
	results []orchestrator.Result
	retries int
	RunFunc func() error
}

func (f *fakeRunner) Run(_ context.Context, _ resource.Scope, opts orchestrator.RunOptions) (<-chan orchestrator.Result, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.RunFunc != nil {
		if err := f.RunFunc(); err != nil {
			return nil, err
		}
	}
	f.runs = append(f.runs, opts)
	ch := make(chan orchestrator.Result, len(f.results))
	for _, r := range f.results {
		ch <- r
	}
	close(ch)
	return ch, nil
}

func (f *fakeRunner) ApplyDelta(d resource.ScopeDelta) (orchestrator.DeltaOutcome, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deltas = append(f.deltas, d)
	f.scope = f.scope.Apply(d)
	added := make([]resource.QueryKey, len(d.AddedAccounts))
	return orchestrator.DeltaOutcome{Added: added}, nil
}

func (f *fakeRunner) RetryFailed() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.retries++
	return 2
}

func (f *fakeRunner) Scope() resource.Scope {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.scope.Clone()
}

func (f *fakeRunner) runCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.runs)
}

func testScope(accounts ...string) resource.Scope {
	s := resource.Scope{
		Regions:       []resource.Region{{Code: "us-east-1"}},
		ResourceTypes: []string{"AWS::EC2::Instance"},
	}
	for _, a := range accounts {
		s.Accounts = append(s.Accounts, resource.Account{ID: a})
	}
	return s
}

func staticSource(s resource.Scope) ScopeSource {
	return func() (resource.Scope, error) { return s, nil }
}

func TestNew(t *testing.T) {
	_, err := New(nil, staticSource(testScope()), Config{Interval: time.Minute})
	assert.Error(t, err)

	_, err = New(&fakeRunner{}, staticSource(testScope()), Config{})
	assert.Error(t, err)

	d, err := New(&fakeRunner{}, staticSource(testScope()), Config{Interval: time.Minute})
	require.NoError(t, err)
	assert.Equal(t, time.Minute, d.interval)
	assert.True(t, d.opts.Reload)
	assert.False(t, d.opts.IncludeFailed)
}

func TestDaemon_RunCycle(t *testing.T) {
	runner := &fakeRunner{results: []orchestrator.Result{
		{Phase: orchestrator.PhaseList, Entries: make([]resource.Entry, 3)},
		{Phase: orchestrator.PhaseList, Err: classifier.New(classifier.PermissionDenied, "AccessDenied", "no")},
		{Phase: orchestrator.PhaseEnrich, Entries: make([]resource.Entry, 1)},
	}}
	d, err := New(runner, staticSource(testScope("111111111111")), Config{Interval: time.Minute})
	require.NoError(t, err)

	rep := d.RunCycle(context.Background())
	assert.Equal(t, 3, rep.Units)
	assert.Equal(t, 1, rep.Failures)
	assert.Equal(t, 3, rep.Entries)
	assert.Equal(t, 1, rep.Added)
	assert.Empty(t, rep.Err)
	assert.True(t, d.Ready())

	require.Len(t, runner.deltas, 1)
	assert.Equal(t, "111111111111", runner.deltas[0].AddedAccounts[0].ID)
}

func TestDaemon_ScopeChangesBetweenCycles(t *testing.T) {
	runner := &fakeRunner{}
	scopes := []resource.Scope{
		testScope("111111111111", "222222222222"),
		testScope("111111111111", "222222222222"),
		testScope("222222222222"),
	}
	i := 0
	source := func() (resource.Scope, error) {
		s := scopes[i]
		i++
		return s, nil
	}
	d, err := New(runner, source, Config{Interval: time.Minute})
	require.NoError(t, err)

	for range 3 {
		d.RunCycle(context.Background())
	}

	require.Len(t, runner.deltas, 2)
	assert.Len(t, runner.deltas[0].AddedAccounts, 2)
	require.Len(t, runner.deltas[1].RemovedAccounts, 1)
	assert.Equal(t, "111111111111", runner.deltas[1].RemovedAccounts[0].ID)
	assert.Equal(t, 3, runner.runCount())
}

func TestDaemon_ScopeErrorKeepsPreviousScope(t *testing.T) {
	runner := &fakeRunner{scope: testScope("111111111111")}
	source := func() (resource.Scope, error) { return resource.Scope{}, errors.New("bad yaml") }
	d, err := New(runner, source, Config{Interval: time.Minute})
	require.NoError(t, err)

	rep := d.RunCycle(context.Background())
	assert.Empty(t, runner.deltas)
	assert.Empty(t, rep.Err)
	assert.Equal(t, 1, runner.runCount())
}

func TestDaemon_RunErrorIsDegraded(t *testing.T) {
	runner := &fakeRunner{RunFunc: func() error { return orchestrator.ErrRunActive }}
	d, err := New(runner, staticSource(testScope("111111111111")), Config{Interval: time.Minute})
	require.NoError(t, err)

	rep := d.RunCycle(context.Background())
	assert.Contains(t, rep.Err, "already active")
	assert.False(t, d.Ready())
	assert.Equal(t, "degraded", d.Health().Status)
}

func TestDaemon_Start(t *testing.T) {
	runner := &fakeRunner{}
	d, err := New(runner, staticSource(testScope("111111111111")), Config{Interval: 50 * time.Millisecond})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	errCh := make(chan error, 1)
	go func() {
		errCh <- d.Start(ctx)
	}()

	// initial cycle plus at least two ticks
	assert.Eventually(t, func() bool { return d.CycleCount() >= 3 }, 2*time.Second, 10*time.Millisecond)

	cancel()
	select {
	case err := <-errCh:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("daemon did not shut down")
	}
	for _, opts := range runner.runs {
		assert.True(t, opts.Reload)
	}
}

func TestDaemon_Health(t *testing.T) {
	d, err := New(&fakeRunner{}, staticSource(testScope()), Config{Interval: time.Minute})
	require.NoError(t, err)

	health := d.Health()
	assert.Equal(t, "healthy", health.Status)
	assert.GreaterOrEqual(t, health.Uptime, int64(0))
	assert.Nil(t, health.LastCycle)

	d.RunCycle(context.Background())
	health = d.Health()
	assert.Equal(t, int64(1), health.Cycles)
	require.NotNil(t, health.LastCycle)
}

func TestDaemon_HealthEndpoints(t *testing.T) {
	d, err := New(&fakeRunner{}, staticSource(testScope()), Config{Interval: time.Minute})
	require.NoError(t, err)

	mux := http.NewServeMux()
	d.RegisterHandlers(mux)
	srv := httptest.NewServer(mux)
	defer srv.Close()

	get := func(path string) *http.Response {
		resp, err := http.Get(srv.URL + path)
		require.NoError(t, err)
		t.Cleanup(func() { _ = resp.Body.Close() })
		return resp
	}

	assert.Equal(t, http.StatusOK, get("/-/healthy").StatusCode)
	assert.Equal(t, http.StatusServiceUnavailable, get("/-/ready").StatusCode)

	d.RunCycle(context.Background())
	assert.Equal(t, http.StatusOK, get("/-/ready").StatusCode)

	resp := get("/health")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	var h HealthStatus
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&h))
	assert.Equal(t, "healthy", h.Status)
	assert.Equal(t, int64(1), h.Cycles)
}

func TestDaemon_RetryFailedEndpoint(t *testing.T) {
	runner := &fakeRunner{}
	d, err := New(runner, staticSource(testScope()), Config{Interval: time.Minute})
	require.NoError(t, err)

	mux := http.NewServeMux()
	d.RegisterHandlers(mux)
	srv := httptest.NewServer(mux)
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/-/retry-failed")
	require.NoError(t, err)
	_ = resp.Body.Close()
	assert.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode)
	assert.Zero(t, runner.retries)

	resp, err = http.Post(srv.URL+"/-/retry-failed", "application/json", nil)
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	var body map[string]int
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, 2, body["retried"])
	assert.Equal(t, 1, runner.retries)
}

type staticCreds struct{}

func (staticCreds) Get(_ context.Context, accountID string) (credentials.Set, error) {
	return credentials.Set{AccountID: accountID, AccessKeyID: "AK", SecretAccessKey: []byte("sk")}, nil
}

func TestDaemon_TerminalFailuresAreNotRequeried(t *testing.T) {
	var (
		mu     sync.Mutex
		calls  int
		denied = true
	)
	registry := collector.NewRegistry()
	registry.MustRegister(collector.Descriptor{Type: "AWS::EC2::Instance", Service: "ec2"},
		collector.Func(func(context.Context, collector.Target) ([]collector.RawRecord, error) {
			mu.Lock()
			defer mu.Unlock()
			calls++
			if denied {
				return nil, &smithy.GenericAPIError{Code: "AccessDenied", Message: "not authorized"}
			}
			return []collector.RawRecord{{"InstanceId": "i-1"}}, nil
		}))
	st := store.New()
	orch := orchestrator.New(orchestrator.Deps{
		Registry:    registry,
		Credentials: staticCreds{},
		Store:       st,
		Retrier: classifier.NewRetrier(classifier.DefaultPolicy(),
			classifier.WithSleeper(func(ctx context.Context, _ time.Duration) error { return ctx.Err() })),
		Tracker: classifier.NewTracker(),
	}, orchestrator.Config{Workers: 1})

	d, err := New(orch, staticSource(testScope("111111111111")), Config{Interval: time.Minute})
	require.NoError(t, err)

	for range 3 {
		d.RunCycle(context.Background())
	}

	k := resource.QueryKey{AccountID: "111111111111", Region: "us-east-1", ResourceType: "AWS::EC2::Instance"}
	state, ok := st.State(k)
	require.True(t, ok)
	assert.Equal(t, store.StatusFailed, state.Status)
	mu.Lock()
	assert.Equal(t, 1, calls, "a denied key is listed once across cycles")
	denied = false
	mu.Unlock()

	assert.Equal(t, 1, d.RetryFailed())
	rep := d.RunCycle(context.Background())
	assert.Equal(t, 1, rep.Units)
	assert.Zero(t, rep.Failures)

	state, _ = st.State(k)
	assert.Equal(t, store.StatusSucceeded, state.Status)
	mu.Lock()
	assert.Equal(t, 2, calls)
	mu.Unlock()
}
