package commands

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"github.com/openfroyo/converge/pkg/engine"
)

func newDeployCommand(opts *globalOptions) *cobra.Command {
	var (
		watch    bool
		debounce time.Duration
	)

	cmd := &cobra.Command{
		Use:   "deploy",
		Short: "Create or update every resource of the deployment",
		Long: `Converge the deployment to its configuration.

Resources are handled one at a time in a fixed order: bucket, code package,
layer package, table, role, layer and then the functions. Each step creates
the resource if it is missing, updates it if it differs and leaves it alone
otherwise. The first failing step stops the run; running deploy again resumes
where it stopped.

With --watch the code, source and manifest paths are watched and a change
triggers another deploy.`,
		Example: `  # Deploy using converge.yaml in the current directory
  converge deploy

  # Deploy against a local emulator
  CONVERGE_ENDPOINT=http://localhost:4566 converge deploy -c dev.yaml

  # Redeploy on every code change
  converge deploy --watch`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			s, err := opts.openSession(ctx, sessionNeeds{client: true, journal: true, guard: true})
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
			err = runDeploy(ctx, out, r, opts.jsonOutput)
			if !watch {
				return err
			}
			if err != nil {
				s.tel.Logger.WithError(err).Warn("deploy failed; waiting for changes")
			}

			paths := append(s.cfg.WatchPaths(), s.configPath)
			paths = append(paths, opts.policyPaths...)
			ignore := append([]string{s.cfg.ArtifactDir()}, journalFiles(opts.journalFile(s.cfg))...)
			return watchPaths(ctx, s.tel.Logger, paths, ignore, debounce, func(ctx context.Context) {
				if err := redeploy(ctx, out, s, opts.jsonOutput); err != nil {
					s.tel.Logger.WithError(err).Warn("deploy failed; waiting for changes")
				}
			})
		},
	}

	cmd.Flags().BoolVarP(&watch, "watch", "w", false, "redeploy when code or dependencies change")
	cmd.Flags().DurationVar(&debounce, "debounce", 500*time.Millisecond, "quiet period before a watched change triggers a deploy")

	return cmd
}

// redeploy reloads the configuration and policies, then deploys with a
// fresh reconciler so edits to either take effect.
func redeploy(ctx context.Context, out io.Writer, s *session, jsonOutput bool) error {
	if err := s.reload(ctx); err != nil {
		return err
	}
	r, err := s.reconciler()
	if err != nil {
		return err
	}
	return runDeploy(ctx, out, r, jsonOutput)
}

func runDeploy(ctx context.Context, out io.Writer, r *engine.Reconciler, jsonOutput bool) error {
	start := time.Now()
	report, err := r.Deploy(ctx)
	if jsonOutput {
		if perr := printJSON(out, report); perr != nil {
			return perr
		}
		return err
	}
	printReport(out, report)
	fmt.Fprintf(out, "deploy finished in %s\n", formatElapsed(time.Since(start)))
	return err
}
