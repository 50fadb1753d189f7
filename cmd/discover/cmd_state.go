package main

import (
	"fmt"
	"os"
	"slices"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/fibanez/aws-dash-architect-sub001/internal/config"
	"github.com/fibanez/aws-dash-architect-sub001/internal/journal"
	"github.com/fibanez/aws-dash-architect-sub001/pkg/resource"
)

var (
	stateSince  time.Duration
	stateOutput string
	stateFailed bool
)

// stateCmd summarizes the query journal
var stateCmd = &cobra.Command{
	Use:   "state",
	Short: "Show the last known state of every query key from the journal",
	Long: `Replay the query journal and print, per query key, the outcome of the
most recent list query with its attempts and duration. Requires
journal.backend to be set.`,
	Example: `  discover state --since 6h
  discover state --failed -o json`,
	RunE: runState,
}

func init() {
	rootCmd.AddCommand(stateCmd)
	stateCmd.Flags().DurationVar(&stateSince, "since", 24*time.Hour, "Only replay entries this recent")
	stateCmd.Flags().StringVarP(&stateOutput, "output", "o", "table", "Output format: table, json")
	stateCmd.Flags().BoolVar(&stateFailed, "failed", false, "Only show keys whose last query failed")
}

// keyState is the replayed outcome of one query key.
type keyState struct {
	Key       resource.QueryKey `json:"key"`
	RunID     string            `json:"run_id"`
	Event     journal.Event     `json:"event"`
	Attempts  int               `json:"attempts"`
	Resources int               `json:"resources"`
	Duration  time.Duration     `json:"duration"`
	Category  string            `json:"category,omitempty"`
	Error     string            `json:"error,omitempty"`
	At        time.Time         `json:"at"`
}

func runState(_ *cobra.Command, _ []string) error {
	if err := validateOutput(stateOutput); err != nil {
		return err
	}
	entries, err := readJournal(cfg.Journal, time.Now().Add(-stateSince))
	if err != nil {
		return err
	}
	states := summarizeJournal(entries)
	if stateFailed {
		states = slices.DeleteFunc(states, func(s keyState) bool { return s.Event != journal.EventFailed })
	}

	if stateOutput == "json" {
		return writeJSON(os.Stdout, states)
	}
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "KEY\tEVENT\tATTEMPTS\tRESOURCES\tDURATION\tAT\tERROR")
	for _, s := range states {
		_, _ = fmt.Fprintf(w, "%s\t%s\t%d\t%d\t%s\t%s\t%s\n",
			s.Key, s.Event, s.Attempts, s.Resources,
			s.Duration.Round(time.Millisecond), s.At.Format(time.RFC3339),
			orDash(truncate(s.Error, 60)))
	}
	return w.Flush()
}

func readJournal(cfg config.JournalConfig, since time.Time) ([]journal.Entry, error) {
	switch cfg.Backend {
	case "jsonl":
		var out []journal.Entry
		err := journal.Replay(cfg.Path, since, func(e *journal.Entry) error {
			out = append(out, *e)
			return nil
		})
		return out, err
	case "bolt":
		j, err := journal.OpenBolt(cfg.Path)
		if err != nil {
			return nil, err
		}
		defer func() { _ = j.Close() }()
		return j.Entries(since)
	}
	return nil, fmt.Errorf("no journal configured: set journal.backend and journal.path")
}

// summarizeJournal folds list-phase events, replayed in sequence order, into
// the latest outcome per key.
func summarizeJournal(entries []journal.Entry) []keyState {
	byKey := make(map[resource.QueryKey]*keyState)
	for _, e := range entries {
		if e.Phase != "list" || e.ResourceID != "" {
			continue
		}
		s, ok := byKey[e.Key]
		if !ok || s.RunID != e.RunID || e.Event == journal.EventStarted {
			s = &keyState{Key: e.Key, RunID: e.RunID}
			byKey[e.Key] = s
		}
		s.Event = e.Event
		s.At = e.Timestamp
		s.Attempts = max(s.Attempts, e.Attempt)
		switch e.Event {
		case journal.EventSucceeded:
			s.Resources = e.Count
			s.Duration = e.Duration
		case journal.EventFailed, journal.EventCancelled:
			s.Category = e.Category
			s.Error = e.Error
			s.Duration = e.Duration
		}
	}

	out := make([]keyState, 0, len(byKey))
	for _, s := range byKey {
		out = append(out, *s)
	}
	slices.SortFunc(out, func(a, b keyState) int { return resource.CompareKeys(a.Key, b.Key) })
	return out
}
