package orchestrator

import (
	"context"
	"errors"
	"time"

	"github.com/fibanez/aws-dash-architect-sub001/internal/classifier"
	"github.com/fibanez/aws-dash-architect-sub001/internal/credentials"
	"github.com/fibanez/aws-dash-architect-sub001/internal/journal"
	"github.com/fibanez/aws-dash-architect-sub001/pkg/resource"
)

var (
	// ErrRunActive is returned when Run is called while a run is in progress.
	ErrRunActive = errors.New("a discovery run is already active")
	// ErrUnknownType is returned when the scope names an unregistered type.
	ErrUnknownType = errors.New("unknown resource type")
)

// Phase is the step of the two-phase protocol a unit belongs to.
type Phase int

const (
	PhaseList Phase = iota + 1
	PhaseEnrich
)

func (p Phase) String() string {
	switch p {
	case PhaseList:
		return "list"
	case PhaseEnrich:
		return "enrich"
	}
	return "unknown"
}

// MarshalText implements encoding.TextMarshaler.
func (p Phase) MarshalText() ([]byte, error) {
	return []byte(p.String()), nil
}

// Result is delivered on the run stream for every finished unit.
type Result struct {
	RunID      string            `json:"run_id"`
	Key        resource.QueryKey `json:"key"`
	Phase      Phase             `json:"phase"`
	ResourceID string            `json:"resource_id,omitempty"`
	Entries    []resource.Entry  `json:"entries,omitempty"`
	Err        *classifier.Error `json:"error,omitempty"`
	Attempts   int               `json:"attempts"`
}

// RunOptions adjusts which keys a run schedules.
type RunOptions struct {
	// Reload re-lists Succeeded keys in place.
	Reload bool
	// IncludeFailed moves Failed keys back to Pending and lists them again.
	// Without it Failed keys wait for Retry, RetryFailed or Refresh. Only an
	// explicit user request sets it.
	IncludeFailed bool
}

// DeltaOutcome reports what ApplyDelta changed.
type DeltaOutcome struct {
	Added     []resource.QueryKey
	Removed   []resource.QueryKey
	Scheduled int
	Cancelled int
}

// CredentialProvider supplies per-account credentials.
type CredentialProvider interface {
	Get(ctx context.Context, accountID string) (credentials.Set, error)
}

// CredentialReleaser is implemented by providers that cache credentials and
// can drop them when an account leaves the scope.
type CredentialReleaser interface {
	Invalidate(accountID string)
}

// Recorder receives discovery metrics.
type Recorder interface {
	RecordUnit(ctx context.Context, resourceType, phase string, d time.Duration, err *classifier.Error)
	RecordResources(ctx context.Context, resourceType string, count int)
	RecordRetry(ctx context.Context, resourceType string, category classifier.Category)
}

// Journal receives lifecycle events.
type Journal interface {
	Append(e journal.Entry) error
}

type nopRecorder struct{}

func (nopRecorder) RecordUnit(context.Context, string, string, time.Duration, *classifier.Error) {}
func (nopRecorder) RecordResources(context.Context, string, int)                                 {}
func (nopRecorder) RecordRetry(context.Context, string, classifier.Category)                     {}
