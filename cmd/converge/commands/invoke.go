package commands

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/openfroyo/converge/pkg/engine"
)

func newInvokeCommand(opts *globalOptions) *cobra.Command {
	var (
		payloadFile string
		showLogs    bool
	)

	cmd := &cobra.Command{
		Use:   "invoke <function> [payload]",
		Short: "Invoke a deployed function",
		Long: `Invoke one of the deployment's functions synchronously and print its
response. The payload is a JSON document given inline, read from a file with
--file, or read from standard input with --file -. Without a payload {} is
sent.`,
		Example: `  converge invoke new '{"exe":"job-1"}'
  converge invoke getoutput --file request.json --logs`,
		Args: cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			payload, err := readPayload(cmd.InOrStdin(), args, payloadFile)
			if err != nil {
				return err
			}

			ctx := cmd.Context()
			s, err := opts.openSession(ctx, sessionNeeds{client: true})
			if err != nil {
				return err
			}
			defer s.Close(ctx)

			inv, err := engine.NewGateway(s.cfg, s.client, s.tel).Invoke(ctx, args[0], payload)
			if inv == nil {
				return err
			}

			out := cmd.OutOrStdout()
			if opts.jsonOutput {
				if perr := printJSON(out, inv); perr != nil {
					return perr
				}
				return err
			}
			if showLogs && inv.Logs != "" {
				fmt.Fprint(cmd.ErrOrStderr(), inv.Logs)
			}
			fmt.Fprintln(out, inv.Response)
			if inv.FunctionError != "" {
				return fmt.Errorf("function %s returned an error: %s", args[0], inv.FunctionError)
			}
			return err
		},
	}

	cmd.Flags().StringVarP(&payloadFile, "file", "f", "", "read the payload from a file (- for stdin)")
	cmd.Flags().BoolVar(&showLogs, "logs", false, "print the tail of the execution log to stderr")

	return cmd
}

func readPayload(stdin io.Reader, args []string, file string) (json.RawMessage, error) {
	var raw []byte
	switch {
	case len(args) > 1 && file != "":
		return nil, fmt.Errorf("give the payload inline or with --file, not both")
	case len(args) > 1:
		raw = []byte(args[1])
	case file == "-":
		b, err := io.ReadAll(stdin)
		if err != nil {
			return nil, fmt.Errorf("failed to read payload: %w", err)
		}
		raw = b
	case file != "":
		b, err := os.ReadFile(file)
		if err != nil {
			return nil, fmt.Errorf("failed to read payload: %w", err)
		}
		raw = b
	default:
		return nil, nil
	}

	if !json.Valid(raw) {
		return nil, fmt.Errorf("payload is not valid JSON")
	}
	return json.RawMessage(raw), nil
}
