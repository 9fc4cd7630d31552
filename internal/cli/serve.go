package cli

import (
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/specialistvlad/stagegrid/internal/app"
)

func newServeCommand(o *options) *cobra.Command {
	var watch bool
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve /health and /metrics until interrupted.",
		Long: `serve keeps the engine open and exposes /health and /metrics. With --watch
the template files are reloaded when they change; a template set that fails
to load is logged and the previous one stays in use.`,
		Args: exactArgs(0),
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withApp(cmd, o, func(a *app.App) error {
				g, ctx := errgroup.WithContext(a.Context())
				g.Go(func() error { return a.Serve(ctx) })
				if watch {
					g.Go(func() error { return a.WatchTemplates(ctx, 250*time.Millisecond) })
				}
				return g.Wait()
			})
		},
	}
	cmd.Flags().IntVar(&o.metricsPort, "port", 9090, "Port for the health and metrics server.")
	cmd.Flags().BoolVar(&watch, "watch", false, "Reload templates when their files change.")
	return cmd
}
