package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/specialistvlad/stagegrid/internal/stage"
	"github.com/specialistvlad/stagegrid/internal/stageid"
)

const timeLayout = "2006-01-02 15:04"

// render writes v as JSON or YAML, or calls text for the text format.
func render(w io.Writer, format string, v any, text func(io.Writer) error) error {
	switch strings.ToLower(format) {
	case "json":
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(v)
	case "yaml":
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(v); err != nil {
			return err
		}
		return enc.Close()
	case "text", "":
		return text(w)
	default:
		return &ExitError{Code: ExitUsage, Message: fmt.Sprintf("unknown output format %q: use text, json or yaml", format)}
	}
}

func stagesTable(stages []stage.Stage) func(io.Writer) error {
	return func(w io.Writer) error {
		tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
		fmt.Fprintln(tw, "ORDER\tID\tNAME\tRESOURCE\tSTART\tEND\tSTATUS\tPROGRESS")
		for _, st := range stages {
			fmt.Fprintf(tw, "%d\t%s\t%s\t%s\t%s\t%s\t%s\t%.0f%%\n",
				st.ExecutionOrder, st.ID, st.Name, st.Resource,
				st.ScheduledStart.Format(timeLayout), st.ScheduledEnd.Format(timeLayout),
				st.Status, st.Progress)
		}
		return tw.Flush()
	}
}

func dependenciesTable(deps []stage.Dependency) func(io.Writer) error {
	return func(w io.Writer) error {
		tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
		fmt.Fprintln(tw, "DEPENDENT\tREQUIRED\tTYPE\tMANDATORY")
		for _, d := range deps {
			fmt.Fprintf(tw, "%s\t%s\t%s\t%t\n", d.DependentID, d.RequiredID, d.Type, d.Mandatory)
		}
		return tw.Flush()
	}
}

func line(format string, args ...any) func(io.Writer) error {
	return func(w io.Writer) error {
		_, err := fmt.Fprintf(w, format+"\n", args...)
		return err
	}
}

func parseID(s string) (stageid.ID, error) {
	id, err := stageid.Parse(s)
	if err != nil {
		return "", &ExitError{Code: ExitUsage, Message: err.Error()}
	}
	return id, nil
}

func parseJob(s string) (stageid.JobID, error) {
	id, err := stageid.ParseJob(s)
	if err != nil {
		return "", &ExitError{Code: ExitUsage, Message: err.Error()}
	}
	return id, nil
}

// parseTime accepts RFC 3339 or "2006-01-02 15:04" in UTC.
func parseTime(flag, s string) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t, nil
	}
	if t, err := time.Parse(timeLayout, s); err == nil {
		return t, nil
	}
	return time.Time{}, &ExitError{Code: ExitUsage, Message: fmt.Sprintf("invalid --%s %q: use RFC 3339 or %q", flag, s, timeLayout)}
}
