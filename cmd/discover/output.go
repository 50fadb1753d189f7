package main

import (
	"encoding/json"
	"fmt"
	"io"
	"maps"
	"slices"
	"strings"
	"text/tabwriter"

	"github.com/fibanez/aws-dash-architect-sub001/internal/classifier"
	"github.com/fibanez/aws-dash-architect-sub001/internal/store"
	"github.com/fibanez/aws-dash-architect-sub001/pkg/resource"
)

var outputFormats = []string{"table", "json"}

func validateOutput(format string) error {
	if !slices.Contains(outputFormats, format) {
		return fmt.Errorf("invalid output format: %s (must be one of: %s)",
			format, strings.Join(outputFormats, ", "))
	}
	return nil
}

// scanReport is the JSON shape of a scan.
type scanReport struct {
	Entries  []resource.Entry    `json:"entries"`
	States   map[string]int      `json:"states"`
	Failures classifier.Summary  `json:"failures"`
	Stale    []resource.QueryKey `json:"stale,omitempty"`
}

func newScanReport(entries []resource.Entry, counts map[store.Status]int, summary classifier.Summary, stale []resource.QueryKey) scanReport {
	states := make(map[string]int, len(counts))
	for st, n := range counts {
		states[st.String()] = n
	}
	if entries == nil {
		entries = []resource.Entry{}
	}
	return scanReport{Entries: entries, States: states, Failures: summary, Stale: stale}
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// writeTable prints the entries followed by the query state and failure
// summaries.
func writeTable(w io.Writer, r scanReport) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(tw, "ACCOUNT\tREGION\tTYPE\tID\tNAME\tSTATUS\tENRICHED")
	for _, e := range r.Entries {
		enriched := "-"
		if e.Enriched() {
			enriched = "yes"
		}
		_, _ = fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\t%s\n",
			e.AccountID,
			e.Region,
			e.ResourceType,
			truncate(e.ResourceID, 40),
			truncate(e.DisplayName, 32),
			orDash(e.Status),
			enriched,
		)
	}
	if err := tw.Flush(); err != nil {
		return err
	}

	_, _ = fmt.Fprintf(w, "\n%d resources", len(r.Entries))
	for _, name := range slices.Sorted(maps.Keys(r.States)) {
		_, _ = fmt.Fprintf(w, ", %d %s", r.States[name], strings.ToLower(name))
	}
	_, _ = fmt.Fprintln(w)

	if len(r.Stale) > 0 {
		_, _ = fmt.Fprintf(w, "%d query keys are stale\n", len(r.Stale))
	}
	return writeFailures(w, r.Failures)
}

func writeFailures(w io.Writer, s classifier.Summary) error {
	if s.Recovered > 0 {
		_, _ = fmt.Fprintf(w, "%d queries recovered after retry\n", s.Recovered)
	}
	if s.Failed == 0 {
		return nil
	}

	_, _ = fmt.Fprintf(w, "\nFailures (%d):\n", s.Failed)
	for _, c := range classifier.Categories() {
		if n := s.ByCategory[c]; n > 0 {
			_, _ = fmt.Fprintf(w, "   %s: %d\n", c, n)
		}
	}

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(tw, "KEY\tRESOURCE\tCATEGORY\tATTEMPTS\tMESSAGE")
	for _, f := range s.Failures {
		_, _ = fmt.Fprintf(tw, "%s\t%s\t%s\t%d\t%s\n",
			f.Key, orDash(f.ResourceID), f.Category, f.Attempts, truncate(f.Message, 60))
	}
	return tw.Flush()
}

func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen-3] + "..."
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
