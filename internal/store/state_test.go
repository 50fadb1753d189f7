package store

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fibanez/aws-dash-architect-sub001/internal/classifier"
	"github.com/fibanez/aws-dash-architect-sub001/pkg/resource"
)

func TestQueryState_Lifecycle(t *testing.T) {
	s := New()
	k := key("1", "us-east-1")
	t0 := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	require.NoError(t, s.MarkPending(k))
	require.NoError(t, s.MarkRunning(k))
	for i := 0; i < 3; i++ {
		require.NoError(t, s.RecordAttempt(k, t0.Add(time.Duration(i)*time.Second)))
	}
	require.NoError(t, s.MarkSucceeded(k, 4, t0.Add(3*time.Second)))

	st, ok := s.State(k)
	require.True(t, ok)
	assert.Equal(t, StatusSucceeded, st.Status)
	assert.Equal(t, 3, st.AttemptCount)
	assert.Equal(t, t0, st.FirstAttemptAt)
	assert.Equal(t, t0.Add(2*time.Second), st.LastAttemptAt)
	assert.Equal(t, 4, st.ResourceCount)
	assert.Nil(t, st.LastError)
}

func TestQueryState_Failed(t *testing.T) {
	s := New()
	k := key("1", "us-east-1")
	require.NoError(t, s.MarkPending(k))
	require.NoError(t, s.MarkRunning(k))
	require.NoError(t, s.RecordAttempt(k, time.Now()))

	cerr := classifier.New(classifier.PermissionDenied, "AccessDenied", "User is not authorized")
	require.NoError(t, s.MarkFailed(k, cerr, time.Now()))

	st, _ := s.State(k)
	assert.Equal(t, StatusFailed, st.Status)
	assert.Equal(t, 1, st.AttemptCount)
	require.NotNil(t, st.LastError)
	assert.Equal(t, classifier.PermissionDenied, st.LastError.Category)
	assert.Equal(t, "AccessDenied", st.LastError.Code)
	assert.Equal(t, []resource.QueryKey{k}, s.FailedKeys())

	// failed keys never run again without going back to Pending
	assert.ErrorIs(t, s.MarkRunning(k), ErrInvalidTransition)
	require.NoError(t, s.MarkPending(k))
	st, _ = s.State(k)
	assert.Equal(t, StatusPending, st.Status)
	assert.Nil(t, st.LastError)
	assert.Empty(t, s.FailedKeys())
}

func TestQueryState_InvalidTransitions(t *testing.T) {
	s := New()
	k := key("1", "us-east-1")

	assert.ErrorIs(t, s.MarkRunning(k), ErrInvalidTransition)
	assert.ErrorIs(t, s.RecordAttempt(k, time.Now()), ErrInvalidTransition)
	assert.ErrorIs(t, s.MarkSucceeded(k, 0, time.Now()), ErrInvalidTransition)

	require.NoError(t, s.MarkPending(k))
	assert.ErrorIs(t, s.MarkFailed(k, nil, time.Now()), ErrInvalidTransition)

	require.NoError(t, s.MarkRunning(k))
	assert.ErrorIs(t, s.MarkPending(k), ErrInvalidTransition)
	assert.ErrorIs(t, s.MarkRunning(k), ErrInvalidTransition)

	require.NoError(t, s.MarkSucceeded(k, 0, time.Now()))
	err := s.MarkPending(k)
	assert.True(t, errors.Is(err, ErrInvalidTransition))
	assert.Contains(t, err.Error(), "Succeeded -> Pending")
}

func TestQueryState_RelistSucceeded(t *testing.T) {
	s := New()
	k := key("1", "us-east-1")
	require.NoError(t, s.MarkPending(k))
	require.NoError(t, s.MarkRunning(k))
	require.NoError(t, s.RecordAttempt(k, time.Now()))
	require.NoError(t, s.MarkSucceeded(k, 2, time.Now()))

	require.NoError(t, s.MarkRunning(k))
	st, _ := s.State(k)
	assert.Equal(t, StatusRunning, st.Status)
	assert.Zero(t, st.AttemptCount)
	assert.Equal(t, 2, st.ResourceCount)
}

func TestResetStateAndCounts(t *testing.T) {
	s := New()
	a, b := key("1", "us-east-1"), key("2", "us-east-1")
	require.NoError(t, s.MarkPending(a))
	require.NoError(t, s.MarkPending(b))
	require.NoError(t, s.MarkRunning(a))

	assert.Equal(t, map[Status]int{StatusRunning: 1, StatusPending: 1}, s.StatusCounts())
	s.ResetState(a, key("3", "us-east-1"))
	assert.Equal(t, map[Status]int{StatusPending: 2}, s.StatusCounts())
	_, ok := s.State(key("3", "us-east-1"))
	assert.False(t, ok)
}

func TestStates_Filter(t *testing.T) {
	s := New()
	keys := []resource.QueryKey{key("2", "us-east-1"), key("1", "eu-west-1"), key("1", "us-east-1")}
	for _, k := range keys {
		require.NoError(t, s.MarkPending(k))
	}
	require.NoError(t, s.MarkRunning(keys[0]))

	all := s.States(StateFilter{})
	require.Len(t, all, 3)
	assert.Equal(t, key("1", "eu-west-1"), all[0].Key)

	assert.Len(t, s.States(StateFilter{Accounts: []string{"1"}}), 2)
	assert.Len(t, s.States(StateFilter{Regions: []string{"eu-west-1"}}), 1)
	assert.Len(t, s.States(StateFilter{Statuses: []Status{StatusRunning}}), 1)
	assert.Len(t, s.States(StateFilter{ResourceTypes: []string{"AWS::S3::Bucket"}}), 0)
}

func TestStatus_Text(t *testing.T) {
	for _, st := range []Status{StatusPending, StatusRunning, StatusSucceeded, StatusFailed} {
		b, err := st.MarshalText()
		require.NoError(t, err)
		var back Status
		require.NoError(t, back.UnmarshalText(b))
		assert.Equal(t, st, back)
	}
	_, err := ParseStatus("bogus")
	assert.Error(t, err)
	assert.True(t, StatusFailed.Terminal())
	assert.False(t, StatusRunning.Terminal())
}
