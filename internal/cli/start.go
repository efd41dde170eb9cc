package cli

import (
	"github.com/spf13/cobra"
)

func newStartCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "start MACHINE_NAME",
		Short: "Start or resume a machine",
		Args:  exactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.handler.Start(cmd.Context(), args[0])
		},
	}
}
