package cli

import (
	"github.com/spf13/cobra"

	"github.com/specialistvlad/stagegrid/internal/app"
)

func newDependencyCommand(o *options) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "dependency",
		Aliases: []string{"dep"},
		Short:   "Add or remove finish-to-start dependencies between stages.",
	}

	var optional bool
	add := &cobra.Command{
		Use:   "add DEPENDENT_ID REQUIRED_ID",
		Short: "Make a stage wait for another stage of its job, or of another job on the same resource.",
		Args:  exactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			dependent, err := parseID(args[0])
			if err != nil {
				return err
			}
			required, err := parseID(args[1])
			if err != nil {
				return err
			}
			return withApp(cmd, o, func(a *app.App) error {
				if err := a.Engine().AddDependency(a.Context(), dependent, required, !optional); err != nil {
					return err
				}
				return line("%s now depends on %s", dependent, required)(cmd.OutOrStdout())
			})
		},
	}
	add.Flags().BoolVar(&optional, "optional", false, "Record an advisory dependency that does not gate the start.")

	remove := &cobra.Command{
		Use:   "remove DEPENDENT_ID REQUIRED_ID",
		Short: "Drop a dependency.",
		Args:  exactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			dependent, err := parseID(args[0])
			if err != nil {
				return err
			}
			required, err := parseID(args[1])
			if err != nil {
				return err
			}
			return withApp(cmd, o, func(a *app.App) error {
				if err := a.Engine().RemoveDependency(a.Context(), dependent, required); err != nil {
					return err
				}
				return line("%s no longer depends on %s", dependent, required)(cmd.OutOrStdout())
			})
		},
	}

	cmd.AddCommand(add, remove)
	return cmd
}
