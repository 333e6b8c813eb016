package commands

import (
	"github.com/spf13/cobra"
)

func newStatusCommand(opts *globalOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Report which resources exist",
		Long: `Check every resource of the deployment against the provider and report
whether it exists. Nothing is changed.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			s, err := opts.openSession(ctx, sessionNeeds{client: true})
			if err != nil {
				return err
			}
			defer s.Close(ctx)

			r, err := s.reconciler()
			if err != nil {
				return err
			}

			entries, err := r.Status(ctx)
			out := cmd.OutOrStdout()
			if opts.jsonOutput {
				if perr := printJSON(out, entries); perr != nil {
					return perr
				}
				return err
			}
			printEntries(out, entries)
			return err
		},
	}
	return cmd
}
