package commands

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/openfroyo/converge/pkg/journal"
)

func newHistoryCommand(opts *globalOptions) *cobra.Command {
	var (
		limit int
		all   bool
	)

	cmd := &cobra.Command{
		Use:   "history [run-id]",
		Short: "Show past deploy and destroy runs",
		Long: `List the runs recorded in the journal, newest first. With a run ID, print
every step of that run.`,
		Example: `  converge history
  converge history --limit 5
  converge history 0b6f1c9e-...`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if opts.noJournal {
				return fmt.Errorf("history needs the journal; drop --no-journal")
			}

			ctx := cmd.Context()
			s, err := opts.openSession(ctx, sessionNeeds{journal: true})
			if err != nil {
				return err
			}
			defer s.Close(ctx)

			out := cmd.OutOrStdout()
			if len(args) == 1 {
				run, err := s.journal.GetRun(ctx, args[0])
				if err != nil {
					return err
				}
				if opts.jsonOutput {
					return printJSON(out, run)
				}
				printRun(cmd, run)
				return nil
			}

			filter := journal.Filter{Limit: limit}
			if !all {
				filter.DeploymentID = s.cfg.DeploymentID
				filter.ServiceName = s.cfg.ServiceName
			}
			runs, err := s.journal.ListRuns(ctx, filter)
			if err != nil {
				return err
			}
			if opts.jsonOutput {
				return printJSON(out, runs)
			}

			tw := newTable(out)
			for _, r := range runs {
				fmt.Fprintf(tw, "%s\t%s\t%s/%s\t%s\t%s\t%s\n",
					r.ID, r.StartedAt.Local().Format(time.DateTime), r.DeploymentID, r.ServiceName,
					r.Operation, r.Status, formatElapsed(r.Duration()))
			}
			return tw.Flush()
		},
	}

	cmd.Flags().IntVarP(&limit, "limit", "n", journal.DefaultLimit, "maximum number of runs to list")
	cmd.Flags().BoolVar(&all, "all", false, "list runs of every deployment in the journal")

	return cmd
}

func printRun(cmd *cobra.Command, run *journal.Run) {
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "run %s: %s %s/%s in %s, %s\n",
		run.ID, run.Operation, run.DeploymentID, run.ServiceName, run.Region, run.Status)
	if run.Error != "" {
		fmt.Fprintf(out, "error: %s\n", run.Error)
	}

	tw := newTable(out)
	for _, st := range run.Steps {
		fmt.Fprintf(tw, "%d\t%s\t%s\t%s\t%s\t%s\n",
			st.Index, st.Label, st.Name, st.Outcome, st.Duration, st.Error)
	}
	_ = tw.Flush()
}
