package vm

import (
	"context"
	"fmt"
	"sort"

	"github.com/javanstorm/vmlaunch/pkg/hypervisor"
)

// Machine is the listing view of one session.
type Machine struct {
	Name          string `json:"name" yaml:"name"`
	CernVMVersion string `json:"cernvmVersion" yaml:"cernvmVersion"`
	APIPort       string `json:"apiPort" yaml:"apiPort"`
	Running       bool   `json:"running" yaml:"running"`

	// Detail fields, filled by Detail only.
	CPUs       string `json:"cpus,omitempty" yaml:"cpus,omitempty"`
	Memory     string `json:"memory,omitempty" yaml:"memory,omitempty"`
	BaseFolder string `json:"baseFolder,omitempty" yaml:"baseFolder,omitempty"`
	RDPPort    string `json:"rdpPort,omitempty" yaml:"rdpPort,omitempty"`
}

func machineOf(s hypervisor.Session, running map[string]bool) Machine {
	p := s.Parameters()
	port, ok := s.Local().Get(hypervisor.LocalAPIPort)
	if !ok {
		port = p.GetDefault(hypervisor.KeyAPIPort, "")
	}
	return Machine{
		Name:          s.Name(),
		CernVMVersion: p.GetDefault(hypervisor.KeyCernVMVersion, ""),
		APIPort:       port,
		Running:       running[s.Name()],
	}
}

func (m *Manager) running(ctx context.Context) (map[string]bool, error) {
	names, err := m.hv.RunningMachines(ctx)
	if err != nil {
		return nil, fmt.Errorf("list running machines: %w", err)
	}
	out := make(map[string]bool, len(names))
	for _, n := range names {
		out[n] = true
	}
	return out, nil
}

// List returns every registered machine that has a name and a CernVM
// version, sorted by name. With runningOnly, machines the backend does not
// report as running are left out.
func (m *Manager) List(ctx context.Context, runningOnly bool) ([]Machine, error) {
	if err := m.hv.LoadSessions(ctx); err != nil {
		return nil, fmt.Errorf("reload sessions: %w", err)
	}
	running, err := m.running(ctx)
	if err != nil {
		return nil, err
	}

	var out []Machine
	for _, s := range m.hv.Sessions() {
		mc := machineOf(s, running)
		if mc.Name == "" || mc.CernVMVersion == "" {
			continue
		}
		if runningOnly && !mc.Running {
			continue
		}
		out = append(out, mc)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

// Detail returns the named machine with its resources and local facts.
func (m *Manager) Detail(ctx context.Context, name string) (*Machine, error) {
	if err := m.hv.LoadSessions(ctx); err != nil {
		return nil, fmt.Errorf("reload sessions: %w", err)
	}
	s, ok := m.hv.SessionByName(name)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, name)
	}
	running, err := m.running(ctx)
	if err != nil {
		return nil, err
	}

	mc := machineOf(s, running)
	p, local := s.Parameters(), s.Local()
	mc.CPUs = p.GetDefault(hypervisor.KeyCPUs, "")
	mc.Memory = p.GetDefault(hypervisor.KeyMemory, "")
	mc.BaseFolder = local.GetDefault(hypervisor.LocalBaseFolder, "")
	mc.RDPPort = local.GetDefault(hypervisor.LocalRDPPort, "")
	return &mc, nil
}
