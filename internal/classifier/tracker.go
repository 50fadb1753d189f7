package classifier

import (
	"slices"
	"sync"
	"time"

	"github.com/fibanez/aws-dash-architect-sub001/pkg/resource"
)

// Failure is a terminal failure attributed to a query key, or to a single
// resource of that key when ResourceID is set (enrichment failures).
type Failure struct {
	Key        resource.QueryKey `json:"key"`
	ResourceID string            `json:"resource_id,omitempty"`
	Category   Category          `json:"category"`
	Code       string            `json:"code,omitempty"`
	Message    string            `json:"message"`
	Attempts   int               `json:"attempts"`
	At         time.Time         `json:"at"`
}

// Summary aggregates the failures and retries of a session.
type Summary struct {
	Failed        int              `json:"failed"`
	ByCategory    map[Category]int `json:"by_category"`
	Failures      []Failure        `json:"failures"`
	Recovered     int              `json:"recovered"`
	ActiveRetries int              `json:"active_retries"`
	Retries       map[Category]int `json:"retries"`
}

type subject struct {
	key        resource.QueryKey
	resourceID string
}

// Tracker records retries and terminal failures for user-facing reporting.
type Tracker struct {
	mu        sync.Mutex
	failures  map[subject]Failure
	active    map[subject]Category
	retries   map[Category]int
	recovered int
}

// NewTracker creates an empty tracker.
func NewTracker() *Tracker {
	return &Tracker{
		failures: make(map[subject]Failure),
		active:   make(map[subject]Category),
		retries:  make(map[Category]int),
	}
}

// RecordRetry notes that a unit is about to be retried after a failure.
func (t *Tracker) RecordRetry(key resource.QueryKey, resourceID string, c Category) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.active[subject{key, resourceID}] = c
	t.retries[c]++
}

// RecordSuccess clears any retry or failure state for the unit.
func (t *Tracker) RecordSuccess(key resource.QueryKey, resourceID string, attempts int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	s := subject{key, resourceID}
	delete(t.active, s)
	delete(t.failures, s)
	if attempts > 1 {
		t.recovered++
	}
}

// RecordFailure stores a terminal failure for the unit.
func (t *Tracker) RecordFailure(f Failure) {
	t.mu.Lock()
	defer t.mu.Unlock()
	s := subject{f.Key, f.ResourceID}
	delete(t.active, s)
	t.failures[s] = f
}

// Clear forgets failures and in-flight retries for exactly the given keys,
// including enrichment failures of resources under those keys.
func (t *Tracker) Clear(keys ...resource.QueryKey) {
	t.mu.Lock()
	defer t.mu.Unlock()
	drop := make(map[resource.QueryKey]struct{}, len(keys))
	for _, k := range keys {
		drop[k] = struct{}{}
	}
	for s := range t.failures {
		if _, ok := drop[s.key]; ok {
			delete(t.failures, s)
		}
	}
	for s := range t.active {
		if _, ok := drop[s.key]; ok {
			delete(t.active, s)
		}
	}
}

// Dismiss hides the current failures from the summary. New failures are
// reported again.
func (t *Tracker) Dismiss() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.failures = make(map[subject]Failure)
	t.recovered = 0
	t.retries = make(map[Category]int)
}

// Summary returns a point-in-time copy of the tracker state.
func (t *Tracker) Summary() Summary {
	t.mu.Lock()
	defer t.mu.Unlock()

	s := Summary{
		Failed:        len(t.failures),
		ByCategory:    make(map[Category]int),
		Failures:      make([]Failure, 0, len(t.failures)),
		Recovered:     t.recovered,
		ActiveRetries: len(t.active),
		Retries:       make(map[Category]int, len(t.retries)),
	}
	for _, f := range t.failures {
		s.ByCategory[f.Category]++
		s.Failures = append(s.Failures, f)
	}
	for c, n := range t.retries {
		s.Retries[c] = n
	}
	slices.SortFunc(s.Failures, func(a, b Failure) int {
		if c := resource.CompareKeys(a.Key, b.Key); c != 0 {
			return c
		}
		if a.ResourceID < b.ResourceID {
			return -1
		}
		if a.ResourceID > b.ResourceID {
			return 1
		}
		return 0
	})
	return s
}
