package cli

import (
	"github.com/spf13/cobra"
)

func newListCommand(a *app) *cobra.Command {
	var (
		running bool
		output  string
	)
	cmd := &cobra.Command{
		Use:   "list [--running] [MACHINE_NAME]",
		Short: "List machines",
		Long: `List registered machines with their CernVM version and forwarded API port.
Given a name, show that machine's resources and runtime facts.`,
		Args: maxArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			switch output {
			case OutputText, OutputJSON, OutputYAML:
			default:
				return invalidValue("--output must be %s, %s or %s, got %q", OutputText, OutputJSON, OutputYAML, output)
			}
			if len(args) == 1 {
				return a.handler.Detail(cmd.Context(), args[0], output)
			}
			return a.handler.List(cmd.Context(), running, output)
		},
	}
	cmd.Flags().BoolVar(&running, "running", false, "Only list running machines")
	cmd.Flags().StringVarP(&output, "output", "o", OutputText, "Output format (text, json, yaml)")
	return cmd
}
