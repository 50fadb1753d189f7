package store

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/fibanez/aws-dash-architect-sub001/internal/classifier"
	"github.com/fibanez/aws-dash-architect-sub001/pkg/resource"
)

// ErrInvalidTransition is returned for query state changes the lifecycle does
// not allow.
var ErrInvalidTransition = errors.New("invalid query state transition")

// Status is the lifecycle position of a query key.
type Status int

const (
	StatusPending Status = iota
	StatusRunning
	StatusSucceeded
	StatusFailed
)

var statusNames = [...]string{"Pending", "Running", "Succeeded", "Failed"}

func (s Status) String() string {
	if int(s) < len(statusNames) {
		return statusNames[s]
	}
	return fmt.Sprintf("Status(%d)", int(s))
}

// Terminal reports whether no further transition happens without user action.
func (s Status) Terminal() bool {
	return s == StatusSucceeded || s == StatusFailed
}

// MarshalText implements encoding.TextMarshaler.
func (s Status) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (s *Status) UnmarshalText(b []byte) error {
	parsed, err := ParseStatus(string(b))
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}

// ParseStatus parses a status name, case-insensitively.
func ParseStatus(name string) (Status, error) {
	for i, n := range statusNames {
		if strings.EqualFold(n, name) {
			return Status(i), nil
		}
	}
	return 0, fmt.Errorf("unknown query status %q", name)
}

// LastError is the terminal failure recorded on a key.
type LastError struct {
	Category classifier.Category `json:"category"`
	Code     string              `json:"code,omitempty"`
	Message  string              `json:"message"`
}

// QueryState tracks one query key through its lifecycle.
type QueryState struct {
	Key            resource.QueryKey `json:"key"`
	Status         Status            `json:"status"`
	AttemptCount   int               `json:"attempt_count"`
	FirstAttemptAt time.Time         `json:"first_attempt_at,omitzero"`
	LastAttemptAt  time.Time         `json:"last_attempted_at,omitzero"`
	CompletedAt    time.Time         `json:"completed_at,omitzero"`
	ResourceCount  int               `json:"resource_count"`
	LastError      *LastError        `json:"last_error,omitempty"`
}

func (q QueryState) clone() QueryState {
	if q.LastError != nil {
		e := *q.LastError
		q.LastError = &e
	}
	return q
}

func transitionError(key resource.QueryKey, from Status, to string) error {
	return fmt.Errorf("%w: %s %s -> %s", ErrInvalidTransition, key, from, to)
}

// MarkPending creates the key's state or moves a Failed key back to Pending.
// Pending keys are left untouched. Succeeded keys must be invalidated first.
func (s *Store) MarkPending(key resource.QueryKey) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	st, ok := s.states[key]
	if !ok {
		s.states[key] = &QueryState{Key: key, Status: StatusPending}
		return nil
	}
	switch st.Status {
	case StatusPending:
		return nil
	case StatusFailed:
		*st = QueryState{Key: key, Status: StatusPending}
		return nil
	}
	return transitionError(key, st.Status, "Pending")
}

// MarkRunning starts an execution of the key. Pending keys start fresh; a
// Succeeded key may be re-listed in place without losing its entries.
func (s *Store) MarkRunning(key resource.QueryKey) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	st, ok := s.states[key]
	if !ok {
		return transitionError(key, StatusPending, "Running: key not scheduled")
	}
	if st.Status != StatusPending && st.Status != StatusSucceeded {
		return transitionError(key, st.Status, "Running")
	}
	count := st.ResourceCount
	*st = QueryState{Key: key, Status: StatusRunning, ResourceCount: count}
	return nil
}

// RecordAttempt counts one attempt of a running key.
func (s *Store) RecordAttempt(key resource.QueryKey, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	st, ok := s.states[key]
	if !ok || st.Status != StatusRunning {
		return transitionError(key, s.statusLocked(key), "attempt")
	}
	st.AttemptCount++
	if st.FirstAttemptAt.IsZero() {
		st.FirstAttemptAt = at
	}
	st.LastAttemptAt = at
	return nil
}

// MarkSucceeded completes a running key.
func (s *Store) MarkSucceeded(key resource.QueryKey, resourceCount int, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	st, ok := s.states[key]
	if !ok || st.Status != StatusRunning {
		return transitionError(key, s.statusLocked(key), "Succeeded")
	}
	st.Status = StatusSucceeded
	st.ResourceCount = resourceCount
	st.CompletedAt = at
	st.LastError = nil
	return nil
}

// MarkFailed completes a running key with a terminal error.
func (s *Store) MarkFailed(key resource.QueryKey, err *classifier.Error, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	st, ok := s.states[key]
	if !ok || st.Status != StatusRunning {
		return transitionError(key, s.statusLocked(key), "Failed")
	}
	st.Status = StatusFailed
	st.CompletedAt = at
	st.LastError = &LastError{Category: classifier.Unknown, Message: "unknown error"}
	if err != nil {
		st.LastError = &LastError{Category: err.Category, Code: err.Code, Message: err.ShortMessage()}
	}
	return nil
}

// ResetState forces keys back to a fresh Pending state. Used when keys leave
// the scope mid-run.
func (s *Store) ResetState(keys ...resource.QueryKey) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, k := range keys {
		if _, ok := s.states[k]; ok {
			s.states[k] = &QueryState{Key: k, Status: StatusPending}
		}
	}
}

// State returns a copy of the key's state.
func (s *Store) State(key resource.QueryKey) (QueryState, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	st, ok := s.states[key]
	if !ok {
		return QueryState{}, false
	}
	return st.clone(), true
}

func (s *Store) statusLocked(key resource.QueryKey) Status {
	if st, ok := s.states[key]; ok {
		return st.Status
	}
	return StatusPending
}

// FailedKeys returns every key whose state is Failed, sorted.
func (s *Store) FailedKeys() []resource.QueryKey {
	states := s.States(StateFilter{Statuses: []Status{StatusFailed}})
	keys := make([]resource.QueryKey, len(states))
	for i, st := range states {
		keys[i] = st.Key
	}
	return keys
}

// IsStale reports whether a succeeded key completed longer ago than the
// staleness threshold. Staleness is informational only.
func (s *Store) IsStale(key resource.QueryKey) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.staleLocked(key, s.now())
}

func (s *Store) staleLocked(key resource.QueryKey, now time.Time) bool {
	st, ok := s.states[key]
	if !ok || st.Status != StatusSucceeded || s.staleAfter <= 0 {
		return false
	}
	return now.Sub(st.CompletedAt) > s.staleAfter
}

// StaleKeys returns the stale keys, sorted.
func (s *Store) StaleKeys() []resource.QueryKey {
	s.mu.RLock()
	now := s.now()
	var keys []resource.QueryKey
	for k := range s.states {
		if s.staleLocked(k, now) {
			keys = append(keys, k)
		}
	}
	s.mu.RUnlock()
	sortKeys(keys)
	return keys
}

// StatusCounts returns how many keys are in each status.
func (s *Store) StatusCounts() map[Status]int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	counts := make(map[Status]int, len(statusNames))
	for _, st := range s.states {
		counts[st.Status]++
	}
	return counts
}
