package vbox

import (
	"context"
	"fmt"
	"path/filepath"
	"strconv"

	"github.com/javanstorm/vmlaunch/pkg/hypervisor"
	"github.com/javanstorm/vmlaunch/pkg/params"
)

const (
	storageController = "SATA"
	floppyController  = "Floppy"
	sharedFolderName  = "shared"
	userDataProperty  = "/CernVM/UserData"
)

// provision creates the VirtualBox machine described by the session
// parameters and records its local facts. It returns the machine name.
// A half-built machine is unregistered again on failure.
func (h *Hypervisor) provision(ctx context.Context, s *Session) (string, error) {
	p := s.Parameters()
	name := p.GetDefault(hypervisor.KeyName, "")
	if name == "" {
		name = s.ID()
	}
	flags, err := hypervisor.ParseFlags(p.GetDefault(hypervisor.KeyFlags, ""))
	if err != nil {
		return "", err
	}
	logger := h.logger.With().Str("machine", name).Logger()
	baseDir := h.BaseDir()
	machineDir := filepath.Join(baseDir, name)

	ova := flags.Has(hypervisor.FlagImportOVA) || p.GetDefault(hypervisor.KeyImportMode, "") == hypervisor.ImportModeOVA
	if ova {
		ovaPath := p.GetDefault(hypervisor.KeyOVAPath, "")
		if ovaPath == "" {
			return "", fmt.Errorf("provision %s: %s is not set", name, hypervisor.KeyOVAPath)
		}
		_, err = h.runner.Run(ctx, "import", ovaPath, "--vsys", "0", "--vmname", name, "--basefolder", baseDir)
	} else {
		osType := "Linux26"
		if flags.Has(hypervisor.Flag64Bit) {
			osType = "Linux26_64"
		}
		_, err = h.runner.Run(ctx, "createvm", "--name", name, "--ostype", osType, "--basefolder", baseDir, "--register")
	}
	if err != nil {
		return "", fmt.Errorf("provision %s: %w", name, err)
	}
	logger.Debug().Bool("ova", ova).Msg("machine registered")

	local, err := h.configure(ctx, name, machineDir, p, flags, !ova)
	if err != nil {
		if _, cleanupErr := h.runner.Run(ctx, "unregistervm", name, "--delete"); cleanupErr != nil {
			logger.Warn().Err(cleanupErr).Msg("remove partially provisioned machine")
		}
		return "", fmt.Errorf("provision %s: %w", name, err)
	}

	s.mu.Lock()
	s.rec.Local.Merge(local)
	s.mu.Unlock()
	if err := s.persist(ctx); err != nil {
		return "", err
	}
	logger.Info().Str("apiPort", local.GetDefault(hypervisor.LocalAPIPort, "")).Msg("machine provisioned")
	return name, nil
}

// configure applies hardware, storage and guest settings to a registered
// machine and returns the local facts to record.
func (h *Hypervisor) configure(ctx context.Context, name, machineDir string, p *params.Set, flags hypervisor.Flags, storage bool) (*params.Set, error) {
	local := params.New()
	local.Set(localVMName, name)
	local.Set(hypervisor.LocalBaseFolder, machineDir)

	apiPort, err := h.freePort()
	if err != nil {
		return nil, err
	}
	local.Set(hypervisor.LocalAPIPort, strconv.Itoa(apiPort))

	args := []string{
		"modifyvm", name,
		"--cpus", p.GetDefault(hypervisor.KeyCPUs, "1"),
		"--memory", p.GetDefault(hypervisor.KeyMemory, "2048"),
		"--cpuexecutioncap", p.GetDefault(hypervisor.KeyExecutionCap, "80"),
		"--nic1", "nat",
		"--natpf1", fmt.Sprintf("guestapi,tcp,127.0.0.1,%d,,%s", apiPort, p.GetDefault(hypervisor.KeyAPIPort, "22")),
	}
	if flags.Has(hypervisor.FlagDualNIC) {
		args = append(args, "--nic2", "nat")
	}
	if flags.Has(hypervisor.FlagGraphical) {
		args = append(args, "--vram", "32", "--graphicscontroller", "vmsvga")
	}
	if flags.Has(hypervisor.FlagSerialLogfile) {
		args = append(args, "--uart1", "0x3F8", "4", "--uartmode1", "file", filepath.Join(machineDir, "serial.log"))
	}
	if !flags.Has(hypervisor.FlagHeadful) {
		rdpPort, err := h.freePort()
		if err != nil {
			return nil, err
		}
		local.Set(hypervisor.LocalRDPPort, strconv.Itoa(rdpPort))
		args = append(args, "--vrde", "on", "--vrdeport", strconv.Itoa(rdpPort))
	}
	if _, err := h.runner.Run(ctx, args...); err != nil {
		return nil, err
	}

	if storage {
		if err := h.attachStorage(ctx, name, machineDir, p, flags); err != nil {
			return nil, err
		}
	}

	if folder, ok := p.Get(hypervisor.KeySharedFolder); ok && folder != "" {
		if _, err := h.runner.Run(ctx, "sharedfolder", "add", name, "--name", sharedFolderName, "--hostpath", folder, "--automount"); err != nil {
			return nil, err
		}
	}
	if userData, ok := p.Get(hypervisor.KeyUserData); ok && userData != "" {
		if _, err := h.runner.Run(ctx, "guestproperty", "set", name, userDataProperty, userData); err != nil {
			return nil, err
		}
	}
	return local, nil
}

// attachStorage creates the disk controllers and attaches the boot disk.
// Without a disk image a blank scratch disk of the configured size is used.
func (h *Hypervisor) attachStorage(ctx context.Context, name, machineDir string, p *params.Set, flags hypervisor.Flags) error {
	if _, err := h.runner.Run(ctx, "storagectl", name, "--name", storageController, "--add", "sata", "--portcount", "3"); err != nil {
		return err
	}

	var medium, mtype string
	switch {
	case flags.LocalDisk():
		medium = p.GetDefault(hypervisor.KeyDiskPath, "")
		mtype = "normal"
	case flags.RemoteDisk():
		path, err := h.fetchDisk(ctx, p.GetDefault(hypervisor.KeyDiskURL, ""), p.GetDefault(hypervisor.KeyDiskChecksum, ""))
		if err != nil {
			return err
		}
		medium = path
		mtype = "immutable"
	default:
		medium = filepath.Join(machineDir, name+"-scratch.vdi")
		mtype = "normal"
		if _, err := h.runner.Run(ctx, "createmedium", "disk", "--filename", medium, "--size", p.GetDefault(hypervisor.KeyDisk, "20000")); err != nil {
			return err
		}
	}
	if medium == "" {
		return fmt.Errorf("%s is not set", hypervisor.KeyDiskPath)
	}
	if _, err := h.runner.Run(ctx, "storageattach", name, "--storagectl", storageController,
		"--port", "0", "--device", "0", "--type", "hdd", "--mtype", mtype, "--medium", medium); err != nil {
		return err
	}

	if iso, ok := p.Get(hypervisor.KeyISOPath); ok && iso != "" {
		if _, err := h.runner.Run(ctx, "storageattach", name, "--storagectl", storageController,
			"--port", "1", "--device", "0", "--type", "dvddrive", "--medium", iso); err != nil {
			return err
		}
	}

	if flags.Has(hypervisor.FlagFloppyIO) {
		if _, err := h.runner.Run(ctx, "storagectl", name, "--name", floppyController, "--add", "floppy"); err != nil {
			return err
		}
	}
	return nil
}
