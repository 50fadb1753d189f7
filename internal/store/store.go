// Package store is the session cache of discovered resources and the query
// state of every key.
package store

import (
	"errors"
	"slices"
	"sync"
	"time"

	"github.com/google/btree"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/fibanez/aws-dash-architect-sub001/internal/classifier"
	"github.com/fibanez/aws-dash-architect-sub001/pkg/resource"
)

// ErrNotFound is returned when an entry is not in the store.
var ErrNotFound = errors.New("entry not found")

// DefaultStaleAfter marks succeeded keys as stale in reports.
const DefaultStaleAfter = 15 * time.Minute

// Listener receives change notifications. Listeners run outside the store
// lock and may read from the store, but must not mutate it.
type Listener interface {
	OnChanges(changes []resource.Change)
}

// ListenerFunc adapts a function to Listener.
type ListenerFunc func(changes []resource.Change)

// OnChanges implements Listener.
func (f ListenerFunc) OnChanges(changes []resource.Change) { f(changes) }

// EnrichmentFailure records a failed Phase 2 describe for one resource.
type EnrichmentFailure struct {
	Identity resource.Identity   `json:"identity"`
	Category classifier.Category `json:"category"`
	Message  string              `json:"message"`
	Attempts int                 `json:"attempts"`
	At       time.Time           `json:"at"`
}

type subscription struct {
	id       int
	listener Listener
}

type record struct {
	entry       resource.Entry
	fingerprint uint64
}

// Store holds entries keyed by identity and query state keyed by query key.
type Store struct {
	mu          sync.RWMutex
	entries     map[resource.Identity]*record
	index       *btree.BTreeG[resource.Identity]
	states      map[resource.QueryKey]*QueryState
	enrichFails map[resource.Identity]EnrichmentFailure
	listeners   []subscription
	nextSub     int

	// notifyMu is taken before mu is released so notifications are delivered
	// in the order the mutations were applied.
	notifyMu sync.Mutex

	staleAfter time.Duration
	now        func() time.Time
	logger     zerolog.Logger
}

// Option configures a Store.
type Option func(*Store)

// WithStaleAfter sets the staleness threshold. Zero disables staleness.
func WithStaleAfter(d time.Duration) Option {
	return func(s *Store) { s.staleAfter = d }
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// WithLogger sets the logger.
func WithLogger(l zerolog.Logger) Option {
	return func(s *Store) { s.logger = l }
}

// New creates an empty store.
func New(opts ...Option) *Store {
	s := &Store{
		entries:     make(map[resource.Identity]*record),
		index:       btree.NewG[resource.Identity](32, resource.Identity.Less),
		states:      make(map[resource.QueryKey]*QueryState),
		enrichFails: make(map[resource.Identity]EnrichmentFailure),
		staleAfter:  DefaultStaleAfter,
		now:         time.Now,
		logger:      log.Logger,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.With().Str("component", "store").Logger()
	return s
}

// Subscribe registers a listener. The returned function unsubscribes it.
func (s *Store) Subscribe(l Listener) func() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextSub++
	id := s.nextSub
	s.listeners = append(s.listeners, subscription{id: id, listener: l})
	return func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		s.listeners = slices.DeleteFunc(s.listeners, func(sub subscription) bool { return sub.id == id })
	}
}

// Merge upserts entries. A change is reported only when an entry's content
// fingerprint differs from what the store already holds.
func (s *Store) Merge(entries []resource.Entry) []resource.Change {
	s.mu.Lock()
	var changes []resource.Change
	for _, e := range entries {
		if c, ok := s.upsertLocked(e); ok {
			changes = append(changes, c)
		}
	}
	s.unlockAndNotify(changes)
	return changes
}

// MergeKey merges the complete listing of one key and removes the key's
// entries that are no longer listed. Entries belonging to other keys are
// ignored.
func (s *Store) MergeKey(key resource.QueryKey, entries []resource.Entry) []resource.Change {
	s.mu.Lock()
	listed := make(map[resource.Identity]struct{}, len(entries))
	var changes []resource.Change
	for _, e := range entries {
		if e.Key() != key {
			continue
		}
		listed[e.Identity()] = struct{}{}
		if c, ok := s.upsertLocked(e); ok {
			changes = append(changes, c)
		}
	}
	for _, id := range s.identitiesLocked(key) {
		if _, ok := listed[id]; !ok {
			changes = append(changes, s.removeLocked(id))
		}
	}
	s.unlockAndNotify(changes)
	return changes
}

// Enrich applies a detail merge to an existing entry. The read-modify-write
// happens under the store lock so it composes with concurrent merges. The
// returned change is nil when the content did not change.
func (s *Store) Enrich(id resource.Identity, apply func(*resource.Entry), at time.Time) (*resource.Change, error) {
	s.mu.Lock()
	rec, ok := s.entries[id]
	if !ok {
		s.mu.Unlock()
		return nil, ErrNotFound
	}

	prev := rec.entry
	next := prev.Clone()
	apply(&next)
	next.EnrichedAt = at
	delete(s.enrichFails, id)

	fp := fingerprint(next)
	rec.entry = next
	if fp == rec.fingerprint {
		s.mu.Unlock()
		return nil, nil
	}
	rec.fingerprint = fp
	out := next.Clone()
	c := resource.Change{
		Type:        resource.ChangeModified,
		Identity:    id,
		Fingerprint: fp,
		Entry:       &out,
		Fields:      diffEntries(prev, next),
	}
	s.unlockAndNotify([]resource.Change{c})
	return &c, nil
}

// RecordEnrichmentFailure remembers a failed describe. Phase 1 data of the
// entry is left untouched.
func (s *Store) RecordEnrichmentFailure(f EnrichmentFailure) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.entries[f.Identity]; ok {
		s.enrichFails[f.Identity] = f
	}
}

// EnrichmentFailures returns the recorded describe failures in identity order.
func (s *Store) EnrichmentFailures() []EnrichmentFailure {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]EnrichmentFailure, 0, len(s.enrichFails))
	for _, f := range s.enrichFails {
		out = append(out, f)
	}
	slices.SortFunc(out, func(a, b EnrichmentFailure) int {
		switch {
		case a.Identity.Less(b.Identity):
			return -1
		case b.Identity.Less(a.Identity):
			return 1
		}
		return 0
	})
	return out
}

// Unenriched returns the identities of a key's entries that have neither
// been enriched nor failed enrichment.
func (s *Store) Unenriched(key resource.QueryKey) []resource.Identity {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []resource.Identity
	for _, id := range s.identitiesLocked(key) {
		if s.entries[id].entry.Enriched() {
			continue
		}
		if _, failed := s.enrichFails[id]; failed {
			continue
		}
		out = append(out, id)
	}
	return out
}

// Get returns a copy of one entry.
func (s *Store) Get(id resource.Identity) (resource.Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.entries[id]
	if !ok {
		return resource.Entry{}, ErrNotFound
	}
	return rec.entry.Clone(), nil
}

// Entries returns copies of the entries of one key in identity order.
func (s *Store) Entries(key resource.QueryKey) []resource.Entry {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ids := s.identitiesLocked(key)
	out := make([]resource.Entry, 0, len(ids))
	for _, id := range ids {
		out = append(out, s.entries[id].entry.Clone())
	}
	return out
}

// Invalidate removes the entries, state and enrichment failures of the keys
// in one step and leaves the keys Pending.
func (s *Store) Invalidate(keys []resource.QueryKey) []resource.Change {
	s.mu.Lock()
	var changes []resource.Change
	for _, k := range keys {
		for _, id := range s.identitiesLocked(k) {
			changes = append(changes, s.removeLocked(id))
		}
		s.states[k] = &QueryState{Key: k, Status: StatusPending}
	}
	s.unlockAndNotify(changes)
	if len(keys) > 0 {
		s.logger.Debug().Int("keys", len(keys)).Int("removed", len(changes)).Msg("keys invalidated")
	}
	return changes
}

// Forget drops keys from the store entirely. Used when keys leave the scope.
func (s *Store) Forget(keys []resource.QueryKey) []resource.Change {
	s.mu.Lock()
	var changes []resource.Change
	for _, k := range keys {
		for _, id := range s.identitiesLocked(k) {
			changes = append(changes, s.removeLocked(id))
		}
		delete(s.states, k)
	}
	s.unlockAndNotify(changes)
	return changes
}

// Clear empties the store.
func (s *Store) Clear() []resource.Change {
	s.mu.Lock()
	changes := make([]resource.Change, 0, len(s.entries))
	s.index.Ascend(func(id resource.Identity) bool {
		changes = append(changes, resource.Change{Type: resource.ChangeRemoved, Identity: id})
		return true
	})
	clear(s.entries)
	clear(s.states)
	clear(s.enrichFails)
	s.index.Clear(false)
	s.unlockAndNotify(changes)
	return changes
}

// Len returns the number of entries.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries)
}

// unlockAndNotify releases the store lock and delivers changes. Must be
// called with mu held.
func (s *Store) unlockAndNotify(changes []resource.Change) {
	if len(changes) == 0 || len(s.listeners) == 0 {
		s.mu.Unlock()
		return
	}
	listeners := slices.Clone(s.listeners)
	s.notifyMu.Lock()
	s.mu.Unlock()
	defer s.notifyMu.Unlock()
	for _, sub := range listeners {
		sub.listener.OnChanges(changes)
	}
}

func (s *Store) upsertLocked(e resource.Entry) (resource.Change, bool) {
	id := e.Identity()
	rec, ok := s.entries[id]
	if !ok {
		stored := e.Clone()
		fp := fingerprint(stored)
		s.entries[id] = &record{entry: stored, fingerprint: fp}
		s.index.ReplaceOrInsert(id)
		out := stored.Clone()
		return resource.Change{Type: resource.ChangeAdded, Identity: id, Fingerprint: fp, Entry: &out}, true
	}

	prev := rec.entry
	next := mergeEntry(prev, e)
	fp := fingerprint(next)
	rec.entry = next
	if fp == rec.fingerprint {
		return resource.Change{}, false
	}
	rec.fingerprint = fp
	out := next.Clone()
	return resource.Change{
		Type:        resource.ChangeModified,
		Identity:    id,
		Fingerprint: fp,
		Entry:       &out,
		Fields:      diffEntries(prev, next),
	}, true
}

func (s *Store) removeLocked(id resource.Identity) resource.Change {
	fp := s.entries[id].fingerprint
	delete(s.entries, id)
	delete(s.enrichFails, id)
	s.index.Delete(id)
	return resource.Change{Type: resource.ChangeRemoved, Identity: id, Fingerprint: fp}
}

// identitiesLocked returns the identities of one key in order.
func (s *Store) identitiesLocked(key resource.QueryKey) []resource.Identity {
	var ids []resource.Identity
	from := resource.Identity{AccountID: key.AccountID, Region: key.Region, ResourceType: key.ResourceType}
	s.index.AscendGreaterOrEqual(from, func(id resource.Identity) bool {
		if id.Key() != key {
			return false
		}
		ids = append(ids, id)
		return true
	})
	return ids
}

// mergeEntry composes a fresh listing with what the store already holds.
// Properties are union-merged so detail from an earlier enrichment survives
// a re-list.
func mergeEntry(prev, next resource.Entry) resource.Entry {
	merged := next.Clone()
	props := resource.CloneProperties(prev.Properties)
	if props == nil {
		props = make(map[string]any, len(merged.Properties))
	}
	for k, v := range merged.Properties {
		props[k] = v
	}
	merged.Properties = props

	if merged.Status == "" {
		merged.Status = prev.Status
	}
	if len(merged.Tags) == 0 && len(prev.Tags) > 0 {
		merged.Tags = append([]resource.Tag(nil), prev.Tags...)
	}
	if prev.Enriched() {
		merged.EnrichedAt = prev.EnrichedAt
		merged.Relationships = unionRelationships(merged.Relationships, prev.Relationships)
	}
	return merged
}

func unionRelationships(a, b []resource.Relationship) []resource.Relationship {
	out := append([]resource.Relationship(nil), a...)
	for _, r := range b {
		if !slices.Contains(out, r) {
			out = append(out, r)
		}
	}
	return out
}

func sortKeys(keys []resource.QueryKey) {
	slices.SortFunc(keys, resource.CompareKeys)
}
