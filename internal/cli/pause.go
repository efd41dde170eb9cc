package cli

import (
	"github.com/spf13/cobra"
)

func newPauseCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "pause MACHINE_NAME",
		Short: "Suspend a running machine",
		Args:  exactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.handler.Pause(cmd.Context(), args[0])
		},
	}
}
