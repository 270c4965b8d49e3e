package batch

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"text/tabwriter"
	"time"
)

// Render writes the human-readable batch report.
func Render(w io.Writer, s Summary) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)

	fmt.Fprintln(tw, "BATCH PROCESSING REPORT")
	fmt.Fprintln(tw, strings.Repeat("=", 60))
	fmt.Fprintf(tw, "Run ID:\t%s\n", s.RunID)
	fmt.Fprintf(tw, "Items processed:\t%d\n", s.Total)
	fmt.Fprintf(tw, "Indexed:\t%d\n", s.Succeeded)
	fmt.Fprintf(tw, "Failed:\t%d\n", s.Failed)
	if s.Cancelled {
		fmt.Fprintf(tw, "Cancelled:\tyes\n")
	}
	fmt.Fprintf(tw, "Started:\t%s\n", s.StartedAt.Format(time.RFC3339))
	fmt.Fprintf(tw, "Duration:\t%s\n", s.Duration().Round(time.Millisecond))

	if byKind := s.FailuresByKind(); len(byKind) > 0 {
		kinds := make([]string, 0, len(byKind))
		for k, n := range byKind {
			kinds = append(kinds, fmt.Sprintf("%s=%d", k, n))
		}
		sort.Strings(kinds)
		fmt.Fprintf(tw, "Failure kinds:\t%s\n", strings.Join(kinds, ", "))
	}
	if err := tw.Flush(); err != nil {
		return err
	}

	if len(s.Failures) == 0 {
		return nil
	}

	fmt.Fprintln(w, "\nFailed items:")
	tw = tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "  LINE\tKIND\tINPUT\tMESSAGE")
	for _, f := range s.Failures {
		fmt.Fprintf(tw, "  %d\t%s\t%s\t%s\n", f.Line, f.Kind, f.Input, f.Message)
	}
	return tw.Flush()
}

// DefaultResultsPath names the JSON results file for a run started at t.
func DefaultResultsPath(t time.Time) string {
	return fmt.Sprintf("batch_results_%s.json", t.Format("20060102_150405"))
}

// WriteJSON saves the summary as indented JSON.
func WriteJSON(path string, s Summary) error {
	data, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal summary: %w", err)
	}
	if err := os.WriteFile(path, append(data, '\n'), 0o644); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	return nil
}
