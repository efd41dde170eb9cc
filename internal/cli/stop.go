package cli

import (
	"github.com/spf13/cobra"
)

func newStopCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "stop MACHINE_NAME",
		Short: "Hibernate a machine",
		Long:  `Save the machine's state to disk and power it off. The next start resumes where it left off.`,
		Args:  exactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.handler.Stop(cmd.Context(), args[0])
		},
	}
}
