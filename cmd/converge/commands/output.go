package commands

import (
	"encoding/json"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/openfroyo/converge/pkg/engine"
	"github.com/openfroyo/converge/pkg/telemetry"
)

func printJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func newTable(w io.Writer) *tabwriter.Writer {
	return tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
}

// printReport writes one line per step followed by a summary.
func printReport(w io.Writer, report *engine.Report) {
	if report == nil {
		return
	}
	tw := newTable(w)
	for _, s := range report.Steps {
		line := fmt.Sprintf("%s\t%s\t%s\t%s", s.Label, s.Name, s.Outcome, s.Duration.Round(time.Millisecond))
		if s.Error != "" {
			line += "\t" + s.Error
		}
		fmt.Fprintln(tw, line)
	}
	_ = tw.Flush()

	summary := []engine.Outcome{
		engine.OutcomeCreated, engine.OutcomeUpdated, engine.OutcomeUnchanged,
		engine.OutcomeDeleted, engine.OutcomeAbsent, engine.OutcomeFailed,
	}
	fmt.Fprintf(w, "\n%s %s:", report.Operation, report.Status)
	for _, o := range summary {
		if n := report.Count(o); n > 0 {
			fmt.Fprintf(w, " %s=%d", o, n)
		}
	}
	fmt.Fprintln(w)
}

// followProgress prints a line to w as each step starts and fails.
func followProgress(w io.Writer, events *telemetry.EventPublisher) {
	events.Subscribe(func(e telemetry.Event) {
		switch e.Type {
		case telemetry.EventTypeStepStarted:
			fmt.Fprintf(w, "... %s %s\n", e.Kind, e.Resource)
		case telemetry.EventTypeStepFailed:
			fmt.Fprintf(w, "!!! %s %s: %s\n", e.Kind, e.Resource, e.Message)
		}
	}, telemetry.FilterByType(telemetry.EventTypeStepStarted, telemetry.EventTypeStepFailed))
}

func printEntries(w io.Writer, entries []engine.Entry) {
	tw := newTable(w)
	for _, e := range entries {
		if e.Exists == nil {
			fmt.Fprintf(tw, "%s\t%s\n", e.Label, e.Name)
			continue
		}
		state := "absent"
		if *e.Exists {
			state = "present"
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\n", e.Label, e.Name, state)
	}
	_ = tw.Flush()
}

func formatElapsed(d time.Duration) string {
	return d.Round(10 * time.Millisecond).String()
}
