package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/openfroyo/converge/pkg/config"
	"github.com/openfroyo/converge/pkg/engine"
)

func newShowCommand(opts *globalOptions) *cobra.Command {
	var dot bool

	cmd := &cobra.Command{
		Use:   "show",
		Short: "List the resources the deployment consists of",
		Long: `Print the resources of the deployment in the order deploy handles them.

Nothing is contacted; names are derived from the configuration alone. Use
--dot to render the dependency graph in Graphviz format.`,
		Example: `  converge show
  converge show --dot | dot -Tsvg > deployment.svg`,
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
			out := cmd.OutOrStdout()
			if dot {
				_, err := fmt.Fprint(out, engine.ToDOT(cfg, seq))
				return err
			}

			entries := engine.Entries(cfg, seq)
			if opts.jsonOutput {
				return printJSON(out, entries)
			}
			printEntries(out, entries)
			return nil
		},
	}

	cmd.Flags().BoolVar(&dot, "dot", false, "print the dependency graph in DOT format")
	return cmd
}
