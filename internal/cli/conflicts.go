package cli

import (
	"io"

	"github.com/spf13/cobra"

	"github.com/specialistvlad/stagegrid/internal/app"
	"github.com/specialistvlad/stagegrid/internal/conflict"
)

type conflictsView struct {
	Resource string   `json:"resource" yaml:"resource"`
	Reasons  []string `json:"reasons" yaml:"reasons"`
}

func newConflictsCommand(o *options) *cobra.Command {
	var resource, start, end, stageID string
	cmd := &cobra.Command{
		Use:   "conflicts",
		Short: "Check whether a placement on a resource would be accepted.",
		Long: `conflicts lists every reason a stage could not occupy the resource for
the given window. Pass --stage to check a move of an existing stage; its
own booking is ignored and its mandatory dependencies are checked.`,
		Args: exactArgs(0),
		RunE: func(cmd *cobra.Command, _ []string) error {
			from, err := parseTime("start", start)
			if err != nil {
				return err
			}
			to, err := parseTime("end", end)
			if err != nil {
				return err
			}
			c := conflict.Candidate{Resource: resource, Start: from, End: to}
			if stageID != "" {
				if c.StageID, err = parseID(stageID); err != nil {
					return err
				}
			}
			return withApp(cmd, o, func(a *app.App) error {
				reasons, err := a.Engine().GetConflicts(a.Context(), c)
				if err != nil {
					return err
				}
				view := conflictsView{Resource: resource, Reasons: reasons}
				return render(cmd.OutOrStdout(), o.output, view, func(w io.Writer) error {
					if len(reasons) == 0 {
						return line("no conflicts on %s", resource)(w)
					}
					for _, r := range reasons {
						if err := line("%s", r)(w); err != nil {
							return err
						}
					}
					return nil
				})
			})
		},
	}
	cmd.Flags().StringVar(&resource, "resource", "", "Resource to check.")
	cmd.Flags().StringVar(&start, "start", "", "Window start.")
	cmd.Flags().StringVar(&end, "end", "", "Window end.")
	cmd.Flags().StringVar(&stageID, "stage", "", "Existing stage being moved.")
	for _, name := range []string{"resource", "start", "end"} {
		_ = cmd.MarkFlagRequired(name)
	}
	return cmd
}
