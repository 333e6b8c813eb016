package commands

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/openfroyo/converge/pkg/provider"
)

// Provider names accepted by --provider.
const (
	providerAWS    = "aws"
	providerMemory = "memory"
)

// globalOptions holds the persistent flags.
type globalOptions struct {
	configPath    string
	verbose       bool
	jsonOutput    bool
	providerName  string
	profile       string
	journalPath   string
	noJournal     bool
	metricsListen string
	policyPaths   []string
	version       string

	// factory replaces the provider selected by --provider when set.
	factory provider.Factory
}

// Execute runs the root command
func Execute(ctx context.Context, version, commit, buildDate string) error {
	rootCmd := newRootCommand(&globalOptions{version: version}, commit, buildDate)
	return rootCmd.ExecuteContext(ctx)
}

func newRootCommand(opts *globalOptions, commit, buildDate string) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "converge",
		Short: "converge - idempotent serverless deployments",
		Long: `converge deploys a service as a fixed set of cloud resources: an artifact
bucket, code and layer packages, a state table, an execution role, a shared
layer and one function per entry point.

Every run compares the desired state with what exists and changes only what
differs. Running deploy twice in a row performs no changes the second time;
destroy removes everything in reverse order and ignores what is already gone.`,
		Version:       fmt.Sprintf("%s (commit: %s, built: %s)", opts.version, commit, buildDate),
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	flags := rootCmd.PersistentFlags()
	flags.StringVarP(&opts.configPath, "config", "c", "", "config file path (default converge.yaml or converge.cue)")
	flags.BoolVarP(&opts.verbose, "verbose", "v", false, "enable verbose output")
	flags.BoolVar(&opts.jsonOutput, "json", false, "output in JSON format")
	flags.StringVar(&opts.providerName, "provider", providerAWS, "cloud provider (aws, memory)")
	flags.StringVar(&opts.profile, "profile", "", "shared AWS config profile")
	flags.StringVar(&opts.journalPath, "journal", "", "run journal database (default <data_dir>/journal.db)")
	flags.BoolVar(&opts.noJournal, "no-journal", false, "do not record run history")
	flags.StringVar(&opts.metricsListen, "metrics-listen", "", "serve prometheus metrics on this address")
	flags.StringSliceVar(&opts.policyPaths, "policy", nil, "extra guardrail policy files or directories")

	rootCmd.AddCommand(newDeployCommand(opts))
	rootCmd.AddCommand(newDestroyCommand(opts))
	rootCmd.AddCommand(newShowCommand(opts))
	rootCmd.AddCommand(newStatusCommand(opts))
	rootCmd.AddCommand(newInvokeCommand(opts))
	rootCmd.AddCommand(newHistoryCommand(opts))
	rootCmd.AddCommand(newValidateCommand(opts))

	return rootCmd
}
