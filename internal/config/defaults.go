package config

import (
	"github.com/javanstorm/vmlaunch/pkg/hypervisor"
	"github.com/javanstorm/vmlaunch/pkg/params"
)

// KeyLaunchHomeFolder is the global configuration key naming the directory
// where the hypervisor stores machines.
const KeyLaunchHomeFolder = "launchHomeFolder"

// DefaultSecret is injected when no secret is configured.
const DefaultSecret = "vmlaunch-default-secret"

// FallbackName is proposed when no name can be derived.
const FallbackName = "cernvm"

// DefaultUserData is offered when create is run without a user-data file.
const DefaultUserData = `[amiconfig]
plugins=cernvm

[cernvm]
organisations=None
repositories=grid,sft
users=cernvm:users:cernvm
shell=/bin/bash
`

// Defaults returns the built-in machine parameters, the lowest precedence layer.
func Defaults() *params.Set {
	d := params.New()
	d.Set(hypervisor.KeyAPIPort, "22")
	d.Set(hypervisor.KeyCernVMVersion, "latest")
	d.Set(hypervisor.KeyCPUs, "1")
	d.Set(hypervisor.KeyMemory, "2048")
	d.Set(hypervisor.KeyDisk, "20000")
	d.Set(hypervisor.KeyExecutionCap, "80")
	d.Set(hypervisor.KeyFlags, hypervisor.DefaultFlags.String())
	return d
}
