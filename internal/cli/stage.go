package cli

import (
	"errors"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/specialistvlad/stagegrid/internal/app"
	"github.com/specialistvlad/stagegrid/internal/engine"
	"github.com/specialistvlad/stagegrid/internal/stage"
	"github.com/specialistvlad/stagegrid/internal/stageid"
)

func newStageCommand(o *options) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "stage",
		Short: "Schedule stages and move them through their lifecycle.",
	}
	cmd.AddCommand(
		newStageScheduleCommand(o),
		newStageRescheduleCommand(o),
		newStageShowCommand(o),
		newStageStartCommand(o),
		newStageCompleteCommand(o),
		newStageProgressCommand(o),
		stageIDCommand(o, "cancel", "Cancel a stage. Its dependents are left as they are.",
			func(a *app.App, id stageid.ID) error { return a.Engine().CancelStage(a.Context(), id) }),
		stageIDCommand(o, "delete", "Delete a stage that has not started and is not required by another stage.",
			func(a *app.App, id stageid.ID) error { return a.Engine().DeleteStage(a.Context(), id) }),
		newStageReadyCommand(o),
	)
	return cmd
}

// stageIDCommand builds a command that takes a stage id and reports success.
func stageIDCommand(o *options, verb, short string, fn func(a *app.App, id stageid.ID) error) *cobra.Command {
	return &cobra.Command{
		Use:   verb + " STAGE_ID",
		Short: short,
		Args:  exactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			return withApp(cmd, o, func(a *app.App) error {
				if err := fn(a, id); err != nil {
					return err
				}
				return showStage(cmd, o, a, id)
			})
		},
	}
}

func showStage(cmd *cobra.Command, o *options, a *app.App, id stageid.ID) error {
	st, err := a.Engine().Stage(a.Context(), id)
	if errors.Is(err, stage.ErrNotFound) {
		return line("%s deleted", id)(cmd.OutOrStdout())
	}
	if err != nil {
		return err
	}
	return render(cmd.OutOrStdout(), o.output, st, stagesTable([]stage.Stage{st}))
}

func newStageScheduleCommand(o *options) *cobra.Command {
	var (
		req        engine.StageRequest
		start, end string
	)
	cmd := &cobra.Command{
		Use:   "schedule JOB_ID",
		Short: "Place a single stage on a resource.",
		Args:  exactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			jobID, err := parseJob(args[0])
			if err != nil {
				return err
			}
			req.JobID = jobID
			if req.Start, err = parseTime("start", start); err != nil {
				return err
			}
			if req.End, err = parseTime("end", end); err != nil {
				return err
			}
			return withApp(cmd, o, func(a *app.App) error {
				st, err := a.Engine().ScheduleStage(a.Context(), req)
				if err != nil {
					return err
				}
				return render(cmd.OutOrStdout(), o.output, st, stagesTable([]stage.Stage{st}))
			})
		},
	}
	f := cmd.Flags()
	f.StringVar(&req.Name, "name", "", "Stage name.")
	f.StringVar(&req.Resource, "resource", "", "Resource the stage books.")
	f.StringVar(&start, "start", "", "Scheduled start.")
	f.StringVar(&end, "end", "", "Scheduled end.")
	f.Float64Var(&req.EstimatedHours, "hours", 0, "Estimated hours. Defaults to the window length.")
	f.IntVar(&req.Priority, "priority", 0, "Priority; higher runs first among ready stages.")
	f.IntVar(&req.ExecutionOrder, "order", 0, "Execution order. Defaults to the next free one.")
	for _, name := range []string{"name", "resource", "start", "end"} {
		_ = cmd.MarkFlagRequired(name)
	}
	return cmd
}

func newStageRescheduleCommand(o *options) *cobra.Command {
	var start, end string
	cmd := &cobra.Command{
		Use:   "reschedule STAGE_ID",
		Short: "Move a stage that has not started to a new window.",
		Args:  exactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			from, err := parseTime("start", start)
			if err != nil {
				return err
			}
			to, err := parseTime("end", end)
			if err != nil {
				return err
			}
			return withApp(cmd, o, func(a *app.App) error {
				st, err := a.Engine().RescheduleStage(a.Context(), id, from, to)
				if err != nil {
					return err
				}
				return render(cmd.OutOrStdout(), o.output, st, stagesTable([]stage.Stage{st}))
			})
		},
	}
	cmd.Flags().StringVar(&start, "start", "", "New scheduled start.")
	cmd.Flags().StringVar(&end, "end", "", "New scheduled end.")
	_ = cmd.MarkFlagRequired("start")
	_ = cmd.MarkFlagRequired("end")
	return cmd
}

func newStageShowCommand(o *options) *cobra.Command {
	return &cobra.Command{
		Use:   "show STAGE_ID",
		Short: "Show one stage.",
		Args:  exactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			return withApp(cmd, o, func(a *app.App) error {
				st, err := a.Engine().Stage(a.Context(), id)
				if err != nil {
					return err
				}
				return render(cmd.OutOrStdout(), o.output, st, stagesTable([]stage.Stage{st}))
			})
		},
	}
}

func newStageStartCommand(o *options) *cobra.Command {
	var operator string
	cmd := stageIDCommand(o, "start", "Start a stage whose mandatory dependencies are completed.",
		func(a *app.App, id stageid.ID) error { return a.Engine().StartStage(a.Context(), id, operator) })
	cmd.Flags().StringVar(&operator, "operator", "", "Operator starting the stage.")
	return cmd
}

func newStageCompleteCommand(o *options) *cobra.Command {
	var cost float64
	cmd := stageIDCommand(o, "complete", "Complete a stage in progress and promote the dependents it unblocks.",
		func(a *app.App, id stageid.ID) error { return a.Engine().CompleteStage(a.Context(), id, cost) })
	cmd.Flags().Float64Var(&cost, "cost", 0, "Actual cost of the stage.")
	return cmd
}

func newStageProgressCommand(o *options) *cobra.Command {
	return &cobra.Command{
		Use:   "progress STAGE_ID PERCENT",
		Short: "Record the progress of a stage in progress.",
		Args:  exactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			pct, err := strconv.ParseFloat(args[1], 64)
			if err != nil {
				return &ExitError{Code: ExitUsage, Message: "invalid percent: " + err.Error()}
			}
			return withApp(cmd, o, func(a *app.App) error {
				if err := a.Engine().UpdateProgress(a.Context(), id, pct); err != nil {
					return err
				}
				return showStage(cmd, o, a, id)
			})
		},
	}
}

func newStageReadyCommand(o *options) *cobra.Command {
	var next bool
	cmd := &cobra.Command{
		Use:   "ready JOB_ID",
		Short: "List the stages of a job that may start now.",
		Args:  exactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			jobID, err := parseJob(args[0])
			if err != nil {
				return err
			}
			return withApp(cmd, o, func(a *app.App) error {
				if next {
					st, ok, err := a.Engine().NextStage(a.Context(), jobID)
					if err != nil {
						return err
					}
					if !ok {
						return line("no stage of %s can start", jobID)(cmd.OutOrStdout())
					}
					return render(cmd.OutOrStdout(), o.output, st, stagesTable([]stage.Stage{st}))
				}
				ready, err := a.Engine().ReadyStages(a.Context(), jobID)
				if err != nil {
					return err
				}
				return render(cmd.OutOrStdout(), o.output, ready, stagesTable(ready))
			})
		},
	}
	cmd.Flags().BoolVar(&next, "next", false, "Show only the highest-priority ready stage.")
	return cmd
}
