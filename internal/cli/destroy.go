package cli

import (
	"github.com/spf13/cobra"
)

func newDestroyCommand(a *app) *cobra.Command {
	var force bool
	cmd := &cobra.Command{
		Use:   "destroy [--force] MACHINE_NAME",
		Short: "Delete a machine and its disks",
		Long: `Delete a machine and remove it from the registry. A running machine is
stopped first; without --force you are asked to confirm.`,
		Args: exactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.handler.Destroy(cmd.Context(), args[0], force)
		},
	}
	cmd.Flags().BoolVarP(&force, "force", "f", false, "Do not ask before destroying a running machine")
	return cmd
}
