// Package daemon runs discovery continuously: it re-reads the scope on every
// cycle, applies the difference to the orchestrator and reloads the store.
package daemon

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/fibanez/aws-dash-architect-sub001/internal/orchestrator"
	"github.com/fibanez/aws-dash-architect-sub001/pkg/resource"
)

// Runner is the part of the orchestrator the daemon drives.
type Runner interface {
	Run(ctx context.Context, scope resource.Scope, opts orchestrator.RunOptions) (<-chan orchestrator.Result, error)
	ApplyDelta(delta resource.ScopeDelta) (orchestrator.DeltaOutcome, error)
	RetryFailed() int
	Scope() resource.Scope
}

// ScopeSource returns the scope the next cycle should cover.
type ScopeSource func() (resource.Scope, error)

// Config holds daemon configuration
type Config struct {
	Interval time.Duration
	Logger   *zerolog.Logger
	Metrics  *Metrics
}

// CycleReport summarizes one discovery cycle.
type CycleReport struct {
	Started  time.Time     `json:"started"`
	Duration time.Duration `json:"duration"`
	Units    int           `json:"units"`
	Failures int           `json:"failures"`
	Entries  int           `json:"entries"`
	Added    int           `json:"scope_added"`
	Removed  int           `json:"scope_removed"`
	Err      string        `json:"error,omitempty"`
}

// Daemon manages continuous discovery
type Daemon struct {
	runner   Runner
	source   ScopeSource
	interval time.Duration
	opts     orchestrator.RunOptions
	logger   zerolog.Logger
	metrics  *Metrics

	startTime  time.Time
	cycleCount atomic.Int64
	ready      atomic.Bool

	mu   sync.Mutex
	last *CycleReport
}

// New creates a new daemon instance
func New(runner Runner, source ScopeSource, cfg Config) (*Daemon, error) {
	if runner == nil || source == nil {
		return nil, errors.New("daemon needs a runner and a scope source")
	}
	if cfg.Interval <= 0 {
		return nil, errors.New("daemon interval must be positive")
	}
	logger := log.Logger
	if cfg.Logger != nil {
		logger = *cfg.Logger
	}
	return &Daemon{
		runner:    runner,
		source:    source,
		interval:  cfg.Interval,
		opts:      orchestrator.RunOptions{Reload: true},
		logger:    logger.With().Str("component", "daemon").Logger(),
		metrics:   cfg.Metrics,
		startTime: time.Now(),
	}, nil
}

// Start runs a cycle immediately and then one per interval until ctx is
// done. A cycle that outlasts the interval delays the next tick.
func (d *Daemon) Start(ctx context.Context) error {
	d.logger.Info().Dur("interval", d.interval).Msg("daemon started")

	d.RunCycle(ctx)

	ticker := time.NewTicker(d.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			d.logger.Info().Int64("cycles", d.cycleCount.Load()).Msg("daemon stopped")
			return nil
		case <-ticker.C:
			d.RunCycle(ctx)
		}
	}
}

// RunCycle performs one cycle: scope refresh followed by a reload run. Failed
// keys are not listed again until RetryFailed is requested. The report is
// also kept for Health.
func (d *Daemon) RunCycle(ctx context.Context) CycleReport {
	d.cycleCount.Add(1)
	rep := CycleReport{Started: time.Now()}

	if err := d.refreshScope(&rep); err != nil {
		d.logger.Warn().Err(err).Msg("scope reload failed, keeping previous scope")
	}

	results, err := d.runner.Run(ctx, d.runner.Scope(), d.opts)
	if err != nil {
		rep.Err = err.Error()
		d.finish(ctx, &rep)
		d.logger.Error().Err(err).Msg("discovery cycle could not start")
		return rep
	}
	for res := range results {
		rep.Units++
		if res.Err != nil {
			rep.Failures++
		}
		if res.Phase == orchestrator.PhaseList {
			rep.Entries += len(res.Entries)
		}
	}
	if ctx.Err() != nil {
		rep.Err = ctx.Err().Error()
	}

	d.finish(ctx, &rep)
	d.logger.Info().
		Int("units", rep.Units).
		Int("failures", rep.Failures).
		Int("entries", rep.Entries).
		Dur("duration", rep.Duration).
		Msg("discovery cycle complete")
	return rep
}

func (d *Daemon) refreshScope(rep *CycleReport) error {
	next, err := d.source()
	if err != nil {
		return err
	}
	delta := resource.Diff(d.runner.Scope(), next)
	if delta.IsEmpty() {
		return nil
	}
	out, err := d.runner.ApplyDelta(delta)
	if err != nil {
		return err
	}
	rep.Added = len(out.Added)
	rep.Removed = len(out.Removed)
	if d.metrics != nil {
		d.metrics.RecordScopeChange(context.Background(), rep.Added, rep.Removed)
	}
	return nil
}

func (d *Daemon) finish(ctx context.Context, rep *CycleReport) {
	rep.Duration = time.Since(rep.Started)
	last := *rep
	d.mu.Lock()
	d.last = &last
	d.mu.Unlock()
	if rep.Err == "" {
		d.ready.Store(true)
	}
	if d.metrics != nil {
		d.metrics.RecordCycle(context.WithoutCancel(ctx), last)
	}
}

// Health returns daemon health status
func (d *Daemon) Health() HealthStatus {
	h := HealthStatus{
		Status: "healthy",
		Uptime: int64(time.Since(d.startTime).Seconds()),
		Cycles: d.cycleCount.Load(),
	}
	d.mu.Lock()
	if d.last != nil {
		last := *d.last
		h.LastCycle = &last
		if last.Err != "" || (last.Units > 0 && last.Failures == last.Units) {
			h.Status = "degraded"
		}
	}
	d.mu.Unlock()
	return h
}

// HealthStatus represents daemon health
type HealthStatus struct {
	Status    string       `json:"status"`
	Uptime    int64        `json:"uptime_seconds"`
	Cycles    int64        `json:"cycles"`
	LastCycle *CycleReport `json:"last_cycle,omitempty"`
}

// CycleCount returns total cycles run
func (d *Daemon) CycleCount() int64 {
	return d.cycleCount.Load()
}

// RetryFailed moves every Failed key back to Pending so the next cycle lists
// it again.
func (d *Daemon) RetryFailed() int {
	n := d.runner.RetryFailed()
	d.logger.Info().Int("keys", n).Msg("failed keys queued for the next cycle")
	return n
}

// Ready reports whether a cycle has completed without error.
func (d *Daemon) Ready() bool {
	return d.ready.Load()
}

// RegisterHandlers mounts /health, /-/healthy, /-/ready and
// POST /-/retry-failed on mux.
func (d *Daemon) RegisterHandlers(mux *http.ServeMux) {
	mux.HandleFunc("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(d.Health())
	})
	mux.HandleFunc("/-/healthy", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	mux.HandleFunc("/-/ready", func(w http.ResponseWriter, _ *http.Request) {
		if !d.Ready() {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
	})
	mux.HandleFunc("POST /-/retry-failed", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]int{"retried": d.RetryFailed()})
	})
}
