package commands

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

func newDestroyCommand(opts *globalOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "destroy",
		Short: "Delete every resource of the deployment",
		Long: `Delete the deployment's resources in reverse order.

Resources that are already gone count as success. A failing step does not
stop the run: every resource is attempted and all failures are reported
together, so destroy can be repeated until it succeeds.`,
		Example: `  converge destroy -c prod.yaml`,
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			s, err := opts.openSession(ctx, sessionNeeds{client: true, journal: true})
			if err != nil {
				return err
			}
			defer s.Close(ctx)

			r, err := s.reconciler()
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if !opts.jsonOutput {
				followProgress(cmd.ErrOrStderr(), s.tel.Events)
			}
			start := time.Now()
			report, err := r.Destroy(ctx)
			if opts.jsonOutput {
				if perr := printJSON(out, report); perr != nil {
					return perr
				}
				return err
			}
			printReport(out, report)
			fmt.Fprintf(out, "destroy finished in %s\n", formatElapsed(time.Since(start)))
			return err
		},
	}
	return cmd
}
