package cli

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/specialistvlad/stagegrid/internal/app"
	"github.com/specialistvlad/stagegrid/internal/progress"
	"github.com/specialistvlad/stagegrid/internal/stage"
	"github.com/specialistvlad/stagegrid/internal/stageid"
)

func newJobCommand(o *options) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "job",
		Short: "Inspect jobs.",
	}
	cmd.AddCommand(newJobShowCommand(o), newJobProgressCommand(o), newJobPromoteCommand(o))
	return cmd
}

type jobView struct {
	JobID        stageid.JobID      `json:"job_id" yaml:"job_id"`
	Stages       []stage.Stage      `json:"stages" yaml:"stages"`
	Dependencies []stage.Dependency `json:"dependencies" yaml:"dependencies"`
}

func jobArgs(o *options, fn func(a *app.App, jobID stageid.JobID) error) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		jobID, err := parseJob(args[0])
		if err != nil {
			return err
		}
		return withApp(cmd, o, func(a *app.App) error { return fn(a, jobID) })
	}
}

func newJobShowCommand(o *options) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "show JOB_ID",
		Short: "Show the stages and dependencies of a job.",
		Args:  exactArgs(1),
	}
	cmd.RunE = jobArgs(o, func(a *app.App, jobID stageid.JobID) error {
		stages, err := a.Engine().JobStages(a.Context(), jobID)
		if err != nil {
			return err
		}
		deps, err := a.Engine().JobDependencies(a.Context(), jobID)
		if err != nil {
			return err
		}
		view := jobView{JobID: jobID, Stages: stages, Dependencies: deps}
		return render(cmd.OutOrStdout(), o.output, view, func(w io.Writer) error {
			if err := stagesTable(stages)(w); err != nil {
				return err
			}
			if len(deps) == 0 {
				return nil
			}
			fmt.Fprintln(w)
			return dependenciesTable(deps)(w)
		})
	})
	return cmd
}

func newJobProgressCommand(o *options) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "progress JOB_ID",
		Short: "Summarise the completion of a job.",
		Args:  exactArgs(1),
	}
	cmd.RunE = jobArgs(o, func(a *app.App, jobID stageid.JobID) error {
		sum, err := a.Engine().JobSummary(a.Context(), jobID)
		if err != nil {
			return err
		}
		return render(cmd.OutOrStdout(), o.output, sum, func(w io.Writer) error {
			return summaryText(w, jobID, sum)
		})
	})
	return cmd
}

func summaryText(w io.Writer, jobID stageid.JobID, sum progress.Summary) error {
	fmt.Fprintf(w, "job %s: %.2f%% complete, %d stages\n", jobID, sum.CompletionPercent, sum.Stages)
	for _, s := range stage.AllStatuses() {
		if n := sum.ByStatus[s]; n > 0 {
			fmt.Fprintf(w, "  %-10s %d\n", s, n)
		}
	}
	if sum.Stages > 0 {
		fmt.Fprintf(w, "window %s to %s (%s)\n", sum.Start.Format(timeLayout), sum.End.Format(timeLayout), sum.Duration)
	}
	_, err := fmt.Fprintf(w, "estimated %.2fh, actual cost %.2f\n", sum.EstimatedHours, sum.ActualCost)
	return err
}

func newJobPromoteCommand(o *options) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "promote JOB_ID",
		Short: "Promote every scheduled stage whose mandatory dependencies are completed.",
		Args:  exactArgs(1),
	}
	cmd.RunE = jobArgs(o, func(a *app.App, jobID stageid.JobID) error {
		promoted, err := a.Engine().PromoteReady(a.Context(), jobID)
		if err != nil {
			return err
		}
		return render(cmd.OutOrStdout(), o.output, promoted, stagesTable(promoted))
	})
	return cmd
}
