package cli

import (
	"github.com/spf13/cobra"

	"github.com/javanstorm/vmlaunch/internal/config"
	"github.com/javanstorm/vmlaunch/pkg/hypervisor"
)

func newImportCommand(a *app) *cobra.Command {
	var f machineFlags
	cmd := &cobra.Command{
		Use:   "import [flags] OVA_FILE [PARAM_FILE]",
		Short: "Create a machine from an OVA image",
		Long: `Import an OVA appliance as a new machine. No user data is used; the
name defaults to the image's file name.

Examples:
  vmlaunch import cernvm4.ova
  vmlaunch import --no-start --name batch cernvm4.ova batch.conf`,
		Args: rangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			overrides, err := f.overrides(cmd)
			if err != nil {
				return err
			}
			image := args[0]
			overrides.Set(hypervisor.KeyOVAPath, image)

			req := config.Request{
				Overrides: overrides,
				NameHint:  image,
			}
			if len(args) == 2 {
				req.ParamFile = args[1]
			}
			return a.handler.Import(cmd.Context(), image, req, !f.noStart)
		},
	}
	f.register(cmd)
	return cmd
}
