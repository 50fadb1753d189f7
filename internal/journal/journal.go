// Package journal records per-query lifecycle events for timing analysis.
package journal

import (
	"time"

	"github.com/fibanez/aws-dash-architect-sub001/pkg/resource"
)

// Event is the kind of lifecycle transition recorded.
type Event string

const (
	EventScheduled Event = "scheduled"
	EventStarted   Event = "started"
	EventAttempt   Event = "attempt"
	EventSucceeded Event = "succeeded"
	EventFailed    Event = "failed"
	EventDiscarded Event = "discarded"
	EventCancelled Event = "cancelled"
)

// Entry is a single journal record.
type Entry struct {
	Timestamp  time.Time         `json:"timestamp"`
	Sequence   int64             `json:"sequence"`
	Event      Event             `json:"event"`
	RunID      string            `json:"run_id"`
	Key        resource.QueryKey `json:"key"`
	Phase      string            `json:"phase"`
	ResourceID string            `json:"resource_id,omitempty"`
	Attempt    int               `json:"attempt,omitempty"`
	Count      int               `json:"count,omitempty"`
	Category   string            `json:"category,omitempty"`
	Error      string            `json:"error,omitempty"`
	Duration   time.Duration     `json:"duration,omitempty"`
}

// Journal appends entries. Implementations assign the sequence number and
// fill a zero timestamp.
type Journal interface {
	Append(e Entry) error
	Close() error
}

// Nop discards entries.
type Nop struct{}

func (Nop) Append(Entry) error { return nil }
func (Nop) Close() error       { return nil }

func stamp(e *Entry, seq int64) {
	e.Sequence = seq
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now()
	}
}
