package orchestrator

import (
	"fmt"
	"strings"

	"github.com/fibanez/aws-dash-architect-sub001/internal/journal"
	"github.com/fibanez/aws-dash-architect-sub001/internal/store"
	"github.com/fibanez/aws-dash-architect-sub001/pkg/resource"
)

// ApplyDelta changes the scope without restarting discovery. Added keys are
// scheduled in the active run, or left Pending for the next run. Queued units
// of removed keys are dropped and in-flight ones are discarded on arrival.
// Entries already merged for removed keys stay in the store.
func (o *Orchestrator) ApplyDelta(delta resource.ScopeDelta) (DeltaOutcome, error) {
	if unknown := o.registry.Unknown(delta.AddedTypes); len(unknown) > 0 {
		return DeltaOutcome{}, fmt.Errorf("%w: %s", ErrUnknownType, strings.Join(unknown, ", "))
	}

	o.mu.Lock()
	prev := keySet(o.scope.Keys(o.registry.IsGlobal))
	o.scope = o.scope.Apply(delta)
	next := keySet(o.scope.Keys(o.registry.IsGlobal))

	var out DeltaOutcome
	for k := range prev {
		if _, ok := next[k]; !ok {
			out.Removed = append(out.Removed, k)
		}
	}
	for k := range next {
		if _, ok := prev[k]; !ok {
			out.Added = append(out.Added, k)
		}
	}
	out.Removed = sortedKeys(keySet(out.Removed))
	out.Added = sortedKeys(keySet(out.Added))

	r := o.activeLocked()
	for _, k := range out.Removed {
		out.Cancelled += o.bumpLocked(r, k)
		if st, ok := o.store.State(k); ok && !st.Status.Terminal() {
			o.store.ResetState(k)
		}
	}
	for _, k := range out.Added {
		if r != nil {
			if o.prepareLocked(r, k) {
				out.Scheduled++
			}
			continue
		}
		if _, ok := o.store.State(k); !ok {
			_ = o.store.MarkPending(k)
		}
	}
	if r != nil {
		o.flushEnrichLocked(r)
		o.maybeFinishLocked(r)
	}
	o.mu.Unlock()

	if rel, ok := o.creds.(CredentialReleaser); ok {
		for _, a := range delta.RemovedAccounts {
			rel.Invalidate(a.ID)
		}
	}

	o.logger.Info().
		Int("added", len(out.Added)).
		Int("removed", len(out.Removed)).
		Int("scheduled", out.Scheduled).
		Int("cancelled", out.Cancelled).
		Msg("scope delta applied")
	return out, nil
}

// Retry moves Failed keys back to Pending and clears their failure records.
// Keys in any other state are ignored. In an active run the keys are
// scheduled immediately.
func (o *Orchestrator) Retry(keys []resource.QueryKey) int {
	o.mu.Lock()
	defer o.mu.Unlock()

	r := o.activeLocked()
	n := 0
	for _, k := range keys {
		st, ok := o.store.State(k)
		if !ok || st.Status != store.StatusFailed {
			continue
		}
		if err := o.store.MarkPending(k); err != nil {
			continue
		}
		o.tracker.Clear(k)
		n++
		if r != nil && o.scope.Contains(k, o.registry.IsGlobal) {
			o.pushLocked(r, &unit{phase: PhaseList, key: k, gen: o.gens[k]})
		}
	}
	o.logger.Info().Int("keys", n).Msg("retry requested")
	return n
}

// RetryFailed retries every Failed key in scope.
func (o *Orchestrator) RetryFailed() int {
	o.mu.Lock()
	var keys []resource.QueryKey
	for _, k := range o.store.FailedKeys() {
		if o.scope.Contains(k, o.registry.IsGlobal) {
			keys = append(keys, k)
		}
	}
	o.mu.Unlock()
	return o.Retry(keys)
}

// Refresh drops the entries, state and failure records of exactly the given
// keys and re-queries them. Units of those keys already queued or in flight
// are superseded.
func (o *Orchestrator) Refresh(keys []resource.QueryKey) int {
	keys = sortedKeys(keySet(keys))

	o.mu.Lock()
	defer o.mu.Unlock()

	r := o.activeLocked()
	for _, k := range keys {
		o.gens[k]++
	}
	o.store.Invalidate(keys)
	o.tracker.Clear(keys...)

	scheduled := 0
	if r != nil {
		// the replacement units are queued before the superseded ones are
		// released so the type's Phase 1 counter never drops to zero early
		for _, k := range keys {
			if !o.scope.Contains(k, o.registry.IsGlobal) {
				continue
			}
			o.pushLocked(r, &unit{phase: PhaseList, key: k, gen: o.gens[k]})
			scheduled++
		}
		for _, k := range keys {
			o.dropStaleLocked(r, k)
		}
		o.maybeFinishLocked(r)
	}

	o.logger.Info().
		Int("keys", len(keys)).
		Int("scheduled", scheduled).
		Msg("refresh requested")
	return len(keys)
}

// bumpLocked supersedes every outstanding unit of the key. Queued units are
// dropped and in-flight ones are discarded when they return.
func (o *Orchestrator) bumpLocked(r *run, k resource.QueryKey) int {
	o.gens[k]++
	if r == nil {
		return 0
	}
	return o.dropStaleLocked(r, k)
}

// dropStaleLocked removes the queued units of k scheduled under an older
// generation.
func (o *Orchestrator) dropStaleLocked(r *run, k resource.QueryKey) int {
	gen := o.gens[k]
	dropped := r.queue.removeIf(func(u *unit) bool { return u.key == k && u.gen != gen })
	for _, u := range dropped {
		o.record(r, u, journal.Entry{Event: journal.EventCancelled})
		o.releaseLocked(r, u)
	}
	return len(dropped)
}
