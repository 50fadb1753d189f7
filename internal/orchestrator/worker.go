package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/fibanez/aws-dash-architect-sub001/internal/classifier"
	"github.com/fibanez/aws-dash-architect-sub001/internal/collector"
	"github.com/fibanez/aws-dash-architect-sub001/internal/journal"
	"github.com/fibanez/aws-dash-architect-sub001/internal/normalizer"
	"github.com/fibanez/aws-dash-architect-sub001/internal/store"
	"github.com/fibanez/aws-dash-architect-sub001/pkg/resource"
)

func (o *Orchestrator) worker(r *run) {
	for {
		u, ok := o.next(r)
		if !ok {
			return
		}

		var (
			res  Result
			emit bool
		)
		switch u.phase {
		case PhaseList:
			res, emit = o.list(r, u)
		case PhaseEnrich:
			res, emit = o.enrich(r, u)
		}
		if emit {
			o.emit(r, res)
		}
	}
}

// next blocks until a unit is available or the run is finished.
func (o *Orchestrator) next(r *run) (*unit, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	for {
		if r.ctx.Err() != nil {
			o.cancelQueuedLocked(r)
			o.maybeFinishLocked(r)
		}
		if r.finished {
			return nil, false
		}
		if u, ok := r.queue.pop(); ok {
			return u, true
		}
		o.cond.Wait()
	}
}

func (o *Orchestrator) emit(r *run, res Result) {
	res.RunID = r.id
	select {
	case r.results <- res:
	case <-r.ctx.Done():
	}
}

// discardLocked finishes a unit whose key left the scope or was refreshed
// while it was queued or in flight.
func (o *Orchestrator) discardLocked(r *run, u *unit) {
	o.record(r, u, journal.Entry{Event: journal.EventDiscarded})
	o.releaseLocked(r, u)
	o.maybeFinishLocked(r)
}

// list runs the Phase 1 list call of one key.
func (o *Orchestrator) list(r *run, u *unit) (Result, bool) {
	logger := o.unitLogger(r, u)

	o.mu.Lock()
	if !o.currentLocked(u) {
		o.discardLocked(r, u)
		o.mu.Unlock()
		return Result{}, false
	}
	if err := o.store.MarkRunning(u.key); err != nil {
		logger.Debug().Err(err).Msg("unit no longer schedulable")
		o.discardLocked(r, u)
		o.mu.Unlock()
		return Result{}, false
	}
	o.record(r, u, journal.Entry{Event: journal.EventStarted})
	o.mu.Unlock()

	reg, _ := o.registry.Get(u.key.ResourceType)
	ctx, span := o.tracer.Start(r.ctx, "discovery.list",
		trace.WithAttributes(
			attribute.String("account_id", u.key.AccountID),
			attribute.String("region", u.key.Region),
			attribute.String("resource_type", u.key.ResourceType),
			attribute.Bool("reload", u.reload),
		))
	defer span.End()
	logger = logger.With().Ctx(ctx).Logger()

	start := o.now()
	var (
		entries []resource.Entry
		lastErr error
	)
	op := func(ctx context.Context) error {
		creds, err := o.creds.Get(ctx, u.key.AccountID)
		if err != nil {
			lastErr = err
			return err
		}
		defer creds.Wipe()

		queriedAt := o.now()
		recs, err := reg.Collector.List(ctx, collector.Target{
			AccountID:   u.key.AccountID,
			Region:      o.queryRegion(u.key),
			Credentials: creds,
		})
		if err != nil {
			lastErr = err
			return err
		}

		var skipped []error
		entries, skipped = o.normalizers.NormalizeAll(recs, normalizer.Context{
			Descriptor: reg.Descriptor,
			AccountID:  u.key.AccountID,
			Region:     u.key.Region,
			QueriedAt:  queriedAt,
		})
		for _, err := range skipped {
			logger.Warn().Err(err).Msg("record skipped")
		}
		return nil
	}

	out := o.retrier.Do(ctx, op, func(attempt int, at time.Time) {
		o.observeAttempt(ctx, r, u, attempt, at, lastErr)
	})
	took := o.now().Sub(start)

	o.mu.Lock()
	if !o.currentLocked(u) {
		o.discardLocked(r, u)
		o.mu.Unlock()
		logger.Debug().Msg("result discarded, key left scope")
		span.SetAttributes(attribute.Bool("discarded", true))
		return Result{}, false
	}

	res := Result{Key: u.key, Phase: PhaseList, Attempts: out.Attempts}
	switch {
	case out.Succeeded():
		if u.reload {
			o.store.MergeKey(u.key, entries)
		} else {
			o.store.Merge(entries)
		}
		_ = o.store.MarkSucceeded(u.key, len(entries), o.now())
		o.tracker.RecordSuccess(u.key, "", out.Attempts)
		if reg.Enrichable() {
			t := u.key.ResourceType
			for _, e := range entries {
				r.listed[t] = append(r.listed[t], listedEntry{id: e.Identity(), gen: u.gen, reload: u.reload})
			}
		}
		o.record(r, u, journal.Entry{Event: journal.EventSucceeded, Attempt: out.Attempts, Count: len(entries), Duration: took})
		res.Entries = entries

	case r.ctx.Err() != nil:
		// cancelled runs leave the key schedulable for the next run
		o.store.ResetState(u.key)
		o.record(r, u, journal.Entry{Event: journal.EventCancelled, Attempt: out.Attempts, Duration: took})
		res.Err = out.Err

	default:
		_ = o.store.MarkFailed(u.key, out.Err, o.now())
		o.tracker.RecordFailure(classifier.Failure{
			Key:      u.key,
			Category: out.Err.Category,
			Code:     out.Err.Code,
			Message:  out.Err.Message,
			Attempts: out.Attempts,
			At:       o.now(),
		})
		o.record(r, u, journal.Entry{
			Event:    journal.EventFailed,
			Attempt:  out.Attempts,
			Category: out.Err.Category.String(),
			Error:    out.Err.ShortMessage(),
			Duration: took,
		})
		res.Err = out.Err
	}
	o.releaseLocked(r, u)
	o.maybeFinishLocked(r)
	o.mu.Unlock()

	o.recorder.RecordUnit(ctx, u.key.ResourceType, PhaseList.String(), took, out.Err)
	if out.Succeeded() {
		o.recorder.RecordResources(ctx, u.key.ResourceType, len(entries))
		span.SetAttributes(attribute.Int("resources", len(entries)), attribute.Int("attempts", out.Attempts))
		logger.Debug().
			Int("resources", len(entries)).
			Int("attempts", out.Attempts).
			Dur("took", took).
			Msg("list succeeded")
	} else {
		span.SetStatus(codes.Error, out.Err.Category.String())
		span.RecordError(out.Err)
		logger.Warn().
			Stringer("category", out.Err.Category).
			Str("code", out.Err.Code).
			Int("attempts", out.Attempts).
			Msg(out.Err.ShortMessage())
	}
	return res, true
}

// enrich runs the Phase 2 describe call of one resource.
func (o *Orchestrator) enrich(r *run, u *unit) (Result, bool) {
	logger := o.unitLogger(r, u)
	id := resource.Identity{
		AccountID:    u.key.AccountID,
		Region:       u.key.Region,
		ResourceType: u.key.ResourceType,
		ResourceID:   u.resourceID,
	}

	o.mu.Lock()
	if !o.currentLocked(u) {
		o.discardLocked(r, u)
		o.mu.Unlock()
		return Result{}, false
	}
	o.record(r, u, journal.Entry{Event: journal.EventStarted})
	o.mu.Unlock()

	entry, err := o.store.Get(id)
	if err != nil {
		o.mu.Lock()
		o.discardLocked(r, u)
		o.mu.Unlock()
		return Result{}, false
	}

	reg, _ := o.registry.Get(u.key.ResourceType)
	describer, ok := reg.Collector.(collector.Describer)
	if !ok {
		o.mu.Lock()
		o.discardLocked(r, u)
		o.mu.Unlock()
		return Result{}, false
	}

	ctx, span := o.tracer.Start(r.ctx, "discovery.enrich",
		trace.WithAttributes(
			attribute.String("account_id", u.key.AccountID),
			attribute.String("region", u.key.Region),
			attribute.String("resource_type", u.key.ResourceType),
			attribute.String("resource_id", u.resourceID),
		))
	defer span.End()
	logger = logger.With().Ctx(ctx).Logger()

	start := o.now()
	var (
		detail  collector.RawRecord
		lastErr error
	)
	op := func(ctx context.Context) error {
		creds, err := o.creds.Get(ctx, u.key.AccountID)
		if err != nil {
			lastErr = err
			return err
		}
		defer creds.Wipe()

		detail, err = describer.Describe(ctx, collector.Target{
			AccountID:   u.key.AccountID,
			Region:      o.queryRegion(u.key),
			Credentials: creds,
		}, u.resourceID)
		if err != nil {
			lastErr = err
		}
		return err
	}

	out := o.retrier.Do(ctx, op, func(attempt int, at time.Time) {
		if attempt > 1 {
			o.observeRetry(ctx, r, u, attempt, lastErr)
		}
	})
	took := o.now().Sub(start)

	res := Result{Key: u.key, Phase: PhaseEnrich, ResourceID: u.resourceID, Attempts: out.Attempts}

	o.mu.Lock()
	if !o.currentLocked(u) {
		o.discardLocked(r, u)
		o.mu.Unlock()
		return Result{}, false
	}

	emit := true
	switch {
	case out.Succeeded():
		payload := normalizer.Enrich(entry, detail)
		c, err := o.store.Enrich(id, payload.Apply, o.now())
		switch {
		case errors.Is(err, store.ErrNotFound):
			// removed by a concurrent reload or invalidation
			o.record(r, u, journal.Entry{Event: journal.EventDiscarded})
			emit = false
		case err != nil:
			res.Err = classifier.Wrap(fmt.Errorf("apply enrichment: %w", err))
		default:
			o.tracker.RecordSuccess(u.key, u.resourceID, out.Attempts)
			o.record(r, u, journal.Entry{Event: journal.EventSucceeded, Attempt: out.Attempts, Duration: took})
			if c != nil && c.Entry != nil {
				res.Entries = []resource.Entry{*c.Entry}
			} else if updated, err := o.store.Get(id); err == nil {
				res.Entries = []resource.Entry{updated}
			}
		}

	case r.ctx.Err() != nil:
		o.record(r, u, journal.Entry{Event: journal.EventCancelled, Attempt: out.Attempts, Duration: took})
		res.Err = out.Err

	default:
		now := o.now()
		o.store.RecordEnrichmentFailure(store.EnrichmentFailure{
			Identity: id,
			Category: out.Err.Category,
			Message:  out.Err.ShortMessage(),
			Attempts: out.Attempts,
			At:       now,
		})
		o.tracker.RecordFailure(classifier.Failure{
			Key:        u.key,
			ResourceID: u.resourceID,
			Category:   out.Err.Category,
			Code:       out.Err.Code,
			Message:    out.Err.Message,
			Attempts:   out.Attempts,
			At:         now,
		})
		o.record(r, u, journal.Entry{
			Event:    journal.EventFailed,
			Attempt:  out.Attempts,
			Category: out.Err.Category.String(),
			Error:    out.Err.ShortMessage(),
			Duration: took,
		})
		res.Err = out.Err
	}
	o.releaseLocked(r, u)
	o.maybeFinishLocked(r)
	o.mu.Unlock()

	o.recorder.RecordUnit(ctx, u.key.ResourceType, PhaseEnrich.String(), took, res.Err)
	if res.Err != nil {
		span.SetStatus(codes.Error, res.Err.Category.String())
		span.RecordError(res.Err)
		logger.Warn().
			Stringer("category", res.Err.Category).
			Int("attempts", out.Attempts).
			Msg("enrichment failed: " + res.Err.ShortMessage())
	}
	return res, emit
}

// observeAttempt records a Phase 1 attempt on the key's state.
func (o *Orchestrator) observeAttempt(ctx context.Context, r *run, u *unit, attempt int, at time.Time, lastErr error) {
	o.mu.Lock()
	if o.currentLocked(u) {
		_ = o.store.RecordAttempt(u.key, at)
		o.record(r, u, journal.Entry{Event: journal.EventAttempt, Attempt: attempt})
	}
	o.mu.Unlock()

	if attempt > 1 {
		o.observeRetry(ctx, r, u, attempt, lastErr)
	}
}

func (o *Orchestrator) observeRetry(ctx context.Context, r *run, u *unit, attempt int, lastErr error) {
	cat := classifier.Classify(lastErr)
	o.tracker.RecordRetry(u.key, u.resourceID, cat)
	o.recorder.RecordRetry(ctx, u.key.ResourceType, cat)
	logger := o.unitLogger(r, u)
	logger.Debug().
		Int("attempt", attempt).
		Stringer("category", cat).
		Msg("retrying")
}
