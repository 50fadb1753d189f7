package store

import (
	"slices"
	"strings"

	"github.com/fibanez/aws-dash-architect-sub001/pkg/resource"
)

// Filter selects entries for a snapshot. Empty fields match everything.
type Filter struct {
	Accounts      []string
	Regions       []string
	ResourceTypes []string
	Statuses      []string
	// IncludeTags must all match; any matching ExcludeTags entry excludes.
	IncludeTags map[string]string
	ExcludeTags map[string]string
	// Search matches display name or resource id, case-insensitively.
	Search string
	// FailedOnly keeps entries whose query key is Failed.
	FailedOnly bool
	// StaleOnly keeps entries whose query key is stale.
	StaleOnly bool
	Predicate func(resource.Entry) bool
}

// IsEmpty reports whether the filter matches everything.
func (f Filter) IsEmpty() bool {
	return len(f.Accounts) == 0 && len(f.Regions) == 0 && len(f.ResourceTypes) == 0 &&
		len(f.Statuses) == 0 && len(f.IncludeTags) == 0 && len(f.ExcludeTags) == 0 &&
		f.Search == "" && !f.FailedOnly && !f.StaleOnly && f.Predicate == nil
}

func (f Filter) matchesFields(e resource.Entry) bool {
	if len(f.Accounts) > 0 && !slices.Contains(f.Accounts, e.AccountID) {
		return false
	}
	if len(f.Regions) > 0 && !slices.Contains(f.Regions, e.Region) {
		return false
	}
	if len(f.ResourceTypes) > 0 && !slices.Contains(f.ResourceTypes, e.ResourceType) {
		return false
	}
	if len(f.Statuses) > 0 && !slices.ContainsFunc(f.Statuses, func(s string) bool {
		return strings.EqualFold(s, e.Status)
	}) {
		return false
	}
	return f.matchesTags(e) && f.matchesSearch(e)
}

func (f Filter) matchesTags(e resource.Entry) bool {
	for k, v := range f.IncludeTags {
		if got, ok := e.Tag(k); !ok || got != v {
			return false
		}
	}
	for k, v := range f.ExcludeTags {
		if got, ok := e.Tag(k); ok && got == v {
			return false
		}
	}
	return true
}

func (f Filter) matchesSearch(e resource.Entry) bool {
	if f.Search == "" {
		return true
	}
	q := strings.ToLower(f.Search)
	return strings.Contains(strings.ToLower(e.DisplayName), q) ||
		strings.Contains(strings.ToLower(e.ResourceID), q)
}

// Snapshot returns copies of the matching entries in identity order.
func (s *Store) Snapshot(f Filter) []resource.Entry {
	s.mu.RLock()
	now := s.now()
	var out []resource.Entry
	s.index.Ascend(func(id resource.Identity) bool {
		rec := s.entries[id]
		if !f.matchesFields(rec.entry) {
			return true
		}
		if f.FailedOnly && s.statusLocked(id.Key()) != StatusFailed {
			return true
		}
		if f.StaleOnly && !s.staleLocked(id.Key(), now) {
			return true
		}
		out = append(out, rec.entry.Clone())
		return true
	})
	s.mu.RUnlock()

	if f.Predicate == nil {
		return out
	}
	kept := out[:0]
	for _, e := range out {
		if f.Predicate(e) {
			kept = append(kept, e)
		}
	}
	return kept
}

// StateFilter selects query states.
type StateFilter struct {
	Statuses      []Status
	Accounts      []string
	Regions       []string
	ResourceTypes []string
}

func (f StateFilter) matches(st *QueryState) bool {
	if len(f.Statuses) > 0 && !slices.Contains(f.Statuses, st.Status) {
		return false
	}
	if len(f.Accounts) > 0 && !slices.Contains(f.Accounts, st.Key.AccountID) {
		return false
	}
	if len(f.Regions) > 0 && !slices.Contains(f.Regions, st.Key.Region) {
		return false
	}
	return len(f.ResourceTypes) == 0 || slices.Contains(f.ResourceTypes, st.Key.ResourceType)
}

// States returns copies of the matching query states, sorted by key.
func (s *Store) States(f StateFilter) []QueryState {
	s.mu.RLock()
	out := make([]QueryState, 0, len(s.states))
	for _, st := range s.states {
		if f.matches(st) {
			out = append(out, st.clone())
		}
	}
	s.mu.RUnlock()
	slices.SortFunc(out, func(a, b QueryState) int { return resource.CompareKeys(a.Key, b.Key) })
	return out
}
