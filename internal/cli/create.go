package cli

import (
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/javanstorm/vmlaunch/internal/config"
	"github.com/javanstorm/vmlaunch/pkg/hypervisor"
	"github.com/javanstorm/vmlaunch/pkg/params"
)

// machineFlags are the parameter overrides shared by create and import.
type machineFlags struct {
	noStart      bool
	name         string
	cpus         int
	memory       int
	disk         int
	sharedFolder string
	flags        uint32
	version      string
}

func (f *machineFlags) register(cmd *cobra.Command) {
	fs := cmd.Flags()
	fs.BoolVar(&f.noStart, "no-start", false, "Leave the machine hibernated after provisioning")
	fs.StringVar(&f.name, "name", "", "Machine name")
	fs.IntVar(&f.cpus, "cpus", 0, "Number of virtual CPUs")
	fs.IntVar(&f.memory, "memory", 0, "Memory in MB")
	fs.IntVar(&f.disk, "disk", 0, "Scratch disk size in MB")
	fs.StringVar(&f.sharedFolder, "sharedFolder", "", "Host directory shared with the machine")
	fs.Uint32Var(&f.flags, "flags", 0, "Deployment flags bitmask")
	fs.StringVar(&f.version, "cernvmVersion", "", "CernVM version")
}

// overrides returns the flags the user set, as parameters.
func (f *machineFlags) overrides(cmd *cobra.Command) (*params.Set, error) {
	set := params.New()
	fs := cmd.Flags()

	for _, str := range []struct {
		flag, key, value string
	}{
		{"name", hypervisor.KeyName, f.name},
		{"sharedFolder", hypervisor.KeySharedFolder, f.sharedFolder},
		{"cernvmVersion", hypervisor.KeyCernVMVersion, f.version},
	} {
		if !fs.Changed(str.flag) {
			continue
		}
		if strings.TrimSpace(str.value) == "" {
			return nil, invalidValue("--%s must not be empty", str.flag)
		}
		set.Set(str.key, str.value)
	}
	for _, n := range []struct {
		flag, key string
		value     int
	}{
		{"cpus", hypervisor.KeyCPUs, f.cpus},
		{"memory", hypervisor.KeyMemory, f.memory},
		{"disk", hypervisor.KeyDisk, f.disk},
	} {
		if !fs.Changed(n.flag) {
			continue
		}
		if n.value <= 0 {
			return nil, invalidValue("--%s must be positive, got %d", n.flag, n.value)
		}
		set.Set(n.key, strconv.Itoa(n.value))
	}
	if fs.Changed("flags") {
		set.Set(hypervisor.KeyFlags, hypervisor.Flags(f.flags).String())
	}
	return set, nil
}

func newCreateCommand(a *app) *cobra.Command {
	var f machineFlags
	cmd := &cobra.Command{
		Use:   "create [flags] USER_DATA_FILE [PARAM_FILE]",
		Short: "Create and provision a machine",
		Long: `Create a machine from a user-data file and an optional key=value parameter
file. The machine is started to provision it and keeps running; with
--no-start it is hibernated right after provisioning.

Examples:
  vmlaunch create user-data.txt
  vmlaunch create --name analysis --memory 4096 user-data.txt analysis.conf`,
		Args: rangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			overrides, err := f.overrides(cmd)
			if err != nil {
				return err
			}
			req := config.Request{
				Overrides:    overrides,
				UserDataFile: args[0],
			}
			if len(args) == 2 {
				req.ParamFile = args[1]
			}
			return a.handler.Create(cmd.Context(), req, !f.noStart)
		},
	}
	f.register(cmd)
	return cmd
}
