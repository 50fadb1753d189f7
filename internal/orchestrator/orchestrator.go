// Package orchestrator drives discovery: it expands a scope into query keys,
// runs them on a bounded worker pool and applies the list-then-enrich
// protocol.
package orchestrator

import (
	"context"
	"fmt"
	"maps"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	"github.com/fibanez/aws-dash-architect-sub001/internal/classifier"
	"github.com/fibanez/aws-dash-architect-sub001/internal/collector"
	"github.com/fibanez/aws-dash-architect-sub001/internal/journal"
	"github.com/fibanez/aws-dash-architect-sub001/internal/normalizer"
	"github.com/fibanez/aws-dash-architect-sub001/internal/store"
	"github.com/fibanez/aws-dash-architect-sub001/pkg/resource"
)

const (
	DefaultWorkers      = 16
	DefaultResultBuffer = 64
)

// Deps are the collaborators of the orchestrator. Registry, Normalizers,
// Credentials, Store, Retrier and Tracker are required.
type Deps struct {
	Registry    *collector.Registry
	Normalizers *normalizer.Registry
	Credentials CredentialProvider
	Store       *store.Store
	Retrier     *classifier.Retrier
	Tracker     *classifier.Tracker

	Journal  Journal
	Recorder Recorder
	Tracer   trace.Tracer
	Logger   *zerolog.Logger
	Clock    func() time.Time
}

// Config sizes the orchestrator.
type Config struct {
	Workers      int
	GlobalRegion string
	ResultBuffer int
}

// Orchestrator owns the active run and the scope.
type Orchestrator struct {
	registry    *collector.Registry
	normalizers *normalizer.Registry
	creds       CredentialProvider
	store       *store.Store
	retrier     *classifier.Retrier
	tracker     *classifier.Tracker
	journal     Journal
	recorder    Recorder
	tracer      trace.Tracer
	logger      zerolog.Logger
	now         func() time.Time
	cfg         Config

	mu      sync.Mutex
	cond    *sync.Cond
	scope   resource.Scope
	gens    map[resource.QueryKey]uint64
	seq     uint64
	current *run
}

// run is the state of one Run call.
type run struct {
	id      string
	ctx     context.Context
	cancel  context.CancelFunc
	opts    RunOptions
	queue   *queue
	results chan Result
	done    chan struct{}
	started time.Time
	journal *journalWriter

	// pending counts non-terminal Phase 1 units per resource type.
	pending map[string]int
	// listed holds what successful Phase 1 units listed, per type, until the
	// type's Phase 2 is scheduled.
	listed      map[string][]listedEntry
	outstanding int
	finished    bool
	stopWake    func() bool
}

type listedEntry struct {
	id     resource.Identity
	gen    uint64
	reload bool
}

// New creates an orchestrator.
func New(deps Deps, cfg Config) *Orchestrator {
	if cfg.Workers <= 0 {
		cfg.Workers = DefaultWorkers
	}
	if cfg.GlobalRegion == "" {
		cfg.GlobalRegion = collector.GlobalQueryRegion
	}
	if cfg.ResultBuffer <= 0 {
		cfg.ResultBuffer = DefaultResultBuffer
	}

	o := &Orchestrator{
		registry:    deps.Registry,
		normalizers: deps.Normalizers,
		creds:       deps.Credentials,
		store:       deps.Store,
		retrier:     deps.Retrier,
		tracker:     deps.Tracker,
		journal:     deps.Journal,
		recorder:    deps.Recorder,
		tracer:      deps.Tracer,
		now:         deps.Clock,
		cfg:         cfg,
		gens:        make(map[resource.QueryKey]uint64),
	}
	if o.normalizers == nil {
		o.normalizers = normalizer.NewRegistry()
	}
	if o.journal == nil {
		o.journal = journal.Nop{}
	}
	if o.recorder == nil {
		o.recorder = nopRecorder{}
	}
	if o.tracer == nil {
		o.tracer = otel.Tracer("github.com/fibanez/aws-dash-architect-sub001/internal/orchestrator")
	}
	if o.now == nil {
		o.now = time.Now
	}
	logger := log.Logger
	if deps.Logger != nil {
		logger = *deps.Logger
	}
	o.logger = logger.With().Str("component", "orchestrator").Logger()
	o.cond = sync.NewCond(&o.mu)
	return o
}

// Run starts discovery for the scope and returns the result stream. The
// stream is closed once every scheduled unit has finished or ctx is done.
// Callers must drain the stream.
func (o *Orchestrator) Run(ctx context.Context, scope resource.Scope, opts RunOptions) (<-chan Result, error) {
	if unknown := o.registry.Unknown(scope.ResourceTypes); len(unknown) > 0 {
		return nil, fmt.Errorf("%w: %s", ErrUnknownType, strings.Join(unknown, ", "))
	}

	o.mu.Lock()
	defer o.mu.Unlock()

	if o.activeLocked() != nil {
		return nil, ErrRunActive
	}

	rctx, cancel := context.WithCancel(ctx)
	r := &run{
		id:      uuid.NewString(),
		ctx:     rctx,
		cancel:  cancel,
		opts:    opts,
		queue:   newQueue(),
		results: make(chan Result, o.cfg.ResultBuffer),
		done:    make(chan struct{}),
		started: o.now(),
		pending: make(map[string]int),
		listed:  make(map[string][]listedEntry),
		journal: newJournalWriter(o.journal, o.logger),
	}
	o.current = r
	o.scope = scope.Clone()

	keys := scope.Keys(o.registry.IsGlobal)
	for _, k := range keys {
		o.prepareLocked(r, k)
	}
	o.flushEnrichLocked(r)

	o.logger.Info().
		Str("run_id", r.id).
		Int("keys", len(keys)).
		Int("scheduled", r.outstanding).
		Int("workers", o.cfg.Workers).
		Bool("reload", opts.Reload).
		Msg("discovery run started")

	r.stopWake = context.AfterFunc(rctx, func() {
		o.mu.Lock()
		o.cond.Broadcast()
		o.mu.Unlock()
	})

	o.maybeFinishLocked(r)

	var wg sync.WaitGroup
	for range o.cfg.Workers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			o.worker(r)
		}()
	}
	go func() {
		wg.Wait()
		o.closeRun(r)
	}()

	return r.results, nil
}

// Wait blocks until the most recent run has completed, its stream is closed
// and its journal entries are written.
func (o *Orchestrator) Wait() {
	o.mu.Lock()
	r := o.current
	o.mu.Unlock()
	if r != nil {
		<-r.done
	}
}

// Active reports whether a run is in progress.
func (o *Orchestrator) Active() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.activeLocked() != nil
}

// Scope returns a copy of the current scope.
func (o *Orchestrator) Scope() resource.Scope {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.scope.Clone()
}

func (o *Orchestrator) activeLocked() *run {
	if o.current == nil || o.current.finished {
		return nil
	}
	return o.current
}

// prepareLocked brings a key into a schedulable state and queues its Phase 1
// unit when the run should execute it.
func (o *Orchestrator) prepareLocked(r *run, k resource.QueryKey) bool {
	st, ok := o.store.State(k)
	reload := false
	switch {
	case !ok:
		_ = o.store.MarkPending(k)
	case st.Status == store.StatusPending:
	case st.Status == store.StatusRunning:
		// left behind by a key that was removed and re-added mid-flight
		o.store.ResetState(k)
	case st.Status == store.StatusFailed:
		if !r.opts.IncludeFailed {
			return false
		}
		_ = o.store.MarkPending(k)
		o.tracker.Clear(k)
	case st.Status == store.StatusSucceeded:
		if !r.opts.Reload {
			o.resumeEnrichLocked(r, k)
			return false
		}
		reload = true
	}
	o.pushLocked(r, &unit{phase: PhaseList, key: k, gen: o.gens[k], reload: reload})
	return true
}

func (o *Orchestrator) pushLocked(r *run, u *unit) {
	o.seq++
	u.seq = o.seq
	r.queue.push(u)
	r.outstanding++
	if u.phase == PhaseList {
		r.pending[u.key.ResourceType]++
	}
	o.record(r, u, journal.Entry{Event: journal.EventScheduled})
	o.cond.Broadcast()
}

// currentLocked reports whether the unit still belongs to the key's latest
// schedule. Removal from scope and refresh bump the generation.
func (o *Orchestrator) currentLocked(u *unit) bool {
	return o.gens[u.key] == u.gen
}

// releaseLocked accounts for a unit that will not run again and triggers
// Phase 2 for its type when the last Phase 1 unit of the type is terminal.
func (o *Orchestrator) releaseLocked(r *run, u *unit) {
	r.outstanding--
	if u.phase != PhaseList {
		return
	}
	t := u.key.ResourceType
	r.pending[t]--
	if r.pending[t] <= 0 {
		delete(r.pending, t)
		o.triggerEnrichLocked(r, t)
	}
}

func (o *Orchestrator) triggerEnrichLocked(r *run, resourceType string) {
	listed := r.listed[resourceType]
	delete(r.listed, resourceType)
	if len(listed) == 0 || r.ctx.Err() != nil {
		return
	}

	scheduled := 0
	for _, le := range listed {
		if o.gens[le.id.Key()] != le.gen {
			continue
		}
		if le.reload {
			if e, err := o.store.Get(le.id); err == nil && e.Enriched() {
				continue
			}
		}
		o.pushLocked(r, &unit{
			phase:      PhaseEnrich,
			key:        le.id.Key(),
			resourceID: le.id.ResourceID,
			gen:        le.gen,
		})
		scheduled++
	}

	o.logger.Debug().
		Str("run_id", r.id).
		Str("resource_type", resourceType).
		Int("units", scheduled).
		Msg("enrichment scheduled")
}

// resumeEnrichLocked carries entries of a Succeeded key whose enrichment never
// ran, for example because the run that listed them was cancelled.
func (o *Orchestrator) resumeEnrichLocked(r *run, k resource.QueryKey) {
	if !o.registry.Enrichable(k.ResourceType) {
		return
	}
	for _, id := range o.store.Unenriched(k) {
		r.listed[k.ResourceType] = append(r.listed[k.ResourceType], listedEntry{id: id, gen: o.gens[k]})
	}
}

// flushEnrichLocked triggers Phase 2 for types that have carried entries but
// no Phase 1 unit left in the run.
func (o *Orchestrator) flushEnrichLocked(r *run) {
	for _, t := range slices.Sorted(maps.Keys(r.listed)) {
		if r.pending[t] == 0 {
			o.triggerEnrichLocked(r, t)
		}
	}
}

// maybeFinishLocked completes the run once no unit is queued or in flight.
func (o *Orchestrator) maybeFinishLocked(r *run) {
	if r.finished || r.outstanding > 0 {
		return
	}
	r.finished = true
	o.cond.Broadcast()
}

// cancelQueuedLocked drops every queued unit of a cancelled run.
func (o *Orchestrator) cancelQueuedLocked(r *run) {
	for _, u := range r.queue.clear() {
		o.record(r, u, journal.Entry{Event: journal.EventCancelled})
		o.releaseLocked(r, u)
	}
}

func (o *Orchestrator) closeRun(r *run) {
	r.stopWake()
	close(r.results)
	r.cancel()

	o.logger.Info().
		Str("run_id", r.id).
		Dur("took", o.now().Sub(r.started)).
		Msg("discovery run complete")
	r.journal.close()
	close(r.done)
}

func (o *Orchestrator) queryRegion(k resource.QueryKey) string {
	if k.IsGlobal() {
		return o.cfg.GlobalRegion
	}
	return k.Region
}

func (o *Orchestrator) unitLogger(r *run, u *unit) zerolog.Logger {
	c := o.logger.With().
		Str("run_id", r.id).
		Stringer("key", u.key).
		Stringer("phase", u.phase)
	if u.resourceID != "" {
		c = c.Str("resource_id", u.resourceID)
	}
	return c.Logger()
}

// record queues a journal entry; the run's writer appends it after the
// orchestrator lock is released.
func (o *Orchestrator) record(r *run, u *unit, e journal.Entry) {
	e.Timestamp = o.now()
	e.RunID = r.id
	e.Key = u.key
	e.Phase = u.phase.String()
	e.ResourceID = u.resourceID
	r.journal.add(e)
}

func keySet(keys []resource.QueryKey) map[resource.QueryKey]struct{} {
	m := make(map[resource.QueryKey]struct{}, len(keys))
	for _, k := range keys {
		m[k] = struct{}{}
	}
	return m
}

func sortedKeys(m map[resource.QueryKey]struct{}) []resource.QueryKey {
	keys := make([]resource.QueryKey, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	slices.SortFunc(keys, resource.CompareKeys)
	return keys
}
