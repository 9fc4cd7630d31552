package cli

import (
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/specialistvlad/stagegrid/internal/app"
	"github.com/specialistvlad/stagegrid/internal/workflow"
)

func newTemplatesCommand(o *options) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "templates",
		Short: "Inspect the workflow templates loaded with --templates.",
	}

	list := &cobra.Command{
		Use:   "list",
		Short: "List the job types and their stages.",
		Args:  exactArgs(0),
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withApp(cmd, o, func(a *app.App) error {
				catalog := a.Catalog()
				templates := make([]workflow.Template, 0, catalog.Len())
				for _, jobType := range catalog.JobTypes() {
					t, _ := catalog.Lookup(jobType)
					templates = append(templates, t)
				}
				return render(cmd.OutOrStdout(), o.output, templates, func(w io.Writer) error {
					tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
					fmt.Fprintln(tw, "JOB TYPE\tSTAGE\tDEPARTMENT\tHOURS\tPRIORITY")
					for _, t := range templates {
						for _, s := range t.Steps {
							fmt.Fprintf(tw, "%s\t%s\t%s\t%g\t%d\n", t.JobType, s.Name, s.Department, s.DurationHours, s.Priority)
						}
						fmt.Fprintf(tw, "%s\t(total)\t\t%g\t\n", t.JobType, t.TotalHours())
					}
					return tw.Flush()
				})
			})
		},
	}

	validate := &cobra.Command{
		Use:   "validate",
		Short: "Load the templates and report problems.",
		Args:  exactArgs(0),
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withApp(cmd, o, func(a *app.App) error {
				m := a.Model()
				return line("ok: %d templates, %d resources from %d files",
					a.Catalog().Len(), len(m.Resources), len(m.Sources))(cmd.OutOrStdout())
			})
		},
	}

	cmd.AddCommand(list, validate)
	return cmd
}
