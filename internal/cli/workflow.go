package cli

import (
	"github.com/spf13/cobra"

	"github.com/specialistvlad/stagegrid/internal/app"
)

func newWorkflowCommand(o *options) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "workflow",
		Short: "Create default workflows from templates.",
	}

	var jobType, start string
	create := &cobra.Command{
		Use:   "create JOB_ID",
		Short: "Lay out the template of a job type for a job without stages.",
		Args:  exactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			jobID, err := parseJob(args[0])
			if err != nil {
				return err
			}
			at, err := parseTime("start", start)
			if err != nil {
				return err
			}
			return withApp(cmd, o, func(a *app.App) error {
				stages, err := a.Engine().CreateDefaultWorkflow(a.Context(), jobID, jobType, at)
				if err != nil {
					return err
				}
				return render(cmd.OutOrStdout(), o.output, stages, stagesTable(stages))
			})
		},
	}
	create.Flags().StringVar(&jobType, "type", "", "Job type naming the template.")
	create.Flags().StringVar(&start, "start", "", "Start of the first stage.")
	_ = create.MarkFlagRequired("type")
	_ = create.MarkFlagRequired("start")

	cmd.AddCommand(create)
	return cmd
}
