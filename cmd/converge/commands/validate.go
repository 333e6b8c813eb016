package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/openfroyo/converge/pkg/config"
	"github.com/openfroyo/converge/pkg/engine"
	"github.com/openfroyo/converge/pkg/policy"
)

func newValidateCommand(opts *globalOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "validate",
		Short: "Validate the configuration and guardrail policies",
		Long: `Validate the deployment configuration without contacting the provider.

This command checks:
  - YAML, CUE or Starlark syntax and schema conformance
  - Field constraints (identifiers, limits, unique function names)
  - That the resource sequence is well ordered
  - That every guardrail policy, including --policy extras, compiles`,
		Example: `  converge validate
  converge validate -c prod.cue --policy ./policies`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			path, err := opts.resolveConfigPath()
			if err != nil {
				return err
			}
			cfg, err := config.Load(path)
			if err != nil {
				return err
			}

			seq := engine.Sequence(cfg)
			if err := engine.ValidateSequence(seq); err != nil {
				return err
			}

			ctx := cmd.Context()
			guard, err := policy.NewEngine(ctx, nil)
			if err != nil {
				return err
			}
			if len(opts.policyPaths) > 0 {
				if err := guard.LoadPolicies(ctx, opts.policyPaths); err != nil {
					return err
				}
			}

			out := cmd.OutOrStdout()
			if opts.jsonOutput {
				return printJSON(out, map[string]interface{}{
					"config":    path,
					"resources": len(seq),
					"policies":  len(guard.List()),
					"valid":     true,
				})
			}
			fmt.Fprintf(out, "%s is valid: %d resources, %d guardrail policies\n", path, len(seq), len(guard.List()))
			return nil
		},
	}
	return cmd
}
