package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"text/tabwriter"

	"gopkg.in/yaml.v3"

	"github.com/javanstorm/vmlaunch/internal/config"
	"github.com/javanstorm/vmlaunch/internal/vm"
	"github.com/javanstorm/vmlaunch/pkg/hypervisor"
)

// Output formats of list.
const (
	OutputText = "text"
	OutputJSON = "json"
	OutputYAML = "yaml"
)

// Handler is the facade each command calls into. It resolves parameters and
// hands them to the lifecycle manager; it holds no state of its own.
type Handler struct {
	manager  *vm.Manager
	resolver *config.Resolver
	out      io.Writer
}

// NewHandler returns a handler printing to out.
func NewHandler(m *vm.Manager, r *config.Resolver, out io.Writer) *Handler {
	return &Handler{manager: m, resolver: r, out: out}
}

// Manager returns the lifecycle manager.
func (h *Handler) Manager() *vm.Manager {
	return h.manager
}

// Create resolves req and creates the machine it describes.
func (h *Handler) Create(ctx context.Context, req config.Request, startAfter bool) error {
	p, err := h.resolver.Resolve(ctx, req)
	if err != nil {
		return err
	}
	return h.manager.Create(ctx, p, startAfter)
}

// Import resolves req without user data and imports the OVA at image. The
// image path is checked before any parameter is asked for.
func (h *Handler) Import(ctx context.Context, image string, req config.Request, startAfter bool) error {
	path, err := config.CanonicalPath(image)
	if err != nil {
		return &config.ParamError{Kind: config.ErrInvalidPath, Field: hypervisor.KeyOVAPath, Value: image, Err: err}
	}
	req.NoUserData = true
	if req.NameHint == "" {
		req.NameHint = image
	}
	p, err := h.resolver.Resolve(ctx, req)
	if err != nil {
		return err
	}
	return h.manager.Import(ctx, path, p, startAfter)
}

// Destroy removes the named machine. A declined confirmation is reported
// but is not an error.
func (h *Handler) Destroy(ctx context.Context, name string, force bool) error {
	destroyed, err := h.manager.Destroy(ctx, name, force)
	if err != nil {
		return err
	}
	if !destroyed {
		fmt.Fprintf(h.out, "%s was not destroyed\n", name)
	}
	return nil
}

// Start boots or resumes the named machine.
func (h *Handler) Start(ctx context.Context, name string) error {
	return h.manager.Start(ctx, name)
}

// Stop hibernates the named machine.
func (h *Handler) Stop(ctx context.Context, name string) error {
	return h.manager.Stop(ctx, name)
}

// Pause suspends the named machine.
func (h *Handler) Pause(ctx context.Context, name string) error {
	return h.manager.Pause(ctx, name)
}

// List prints every machine, or only running ones.
func (h *Handler) List(ctx context.Context, runningOnly bool, format string) error {
	machines, err := h.manager.List(ctx, runningOnly)
	if err != nil {
		return err
	}
	switch format {
	case OutputJSON:
		return writeJSON(h.out, machines)
	case OutputYAML:
		return writeYAML(h.out, machines)
	}

	tw := tabwriter.NewWriter(h.out, 0, 4, 1, ' ', 0)
	for _, m := range machines {
		writeMachineLine(tw, m)
	}
	return tw.Flush()
}

// Detail prints one machine with its resources and local facts.
func (h *Handler) Detail(ctx context.Context, name, format string) error {
	m, err := h.manager.Detail(ctx, name)
	if err != nil {
		return err
	}
	switch format {
	case OutputJSON:
		return writeJSON(h.out, m)
	case OutputYAML:
		return writeYAML(h.out, m)
	}

	tw := tabwriter.NewWriter(h.out, 0, 4, 1, ' ', 0)
	writeMachineLine(tw, *m)
	for _, kv := range [][2]string{
		{"cpus", m.CPUs},
		{"memory", m.Memory},
		{"baseFolder", m.BaseFolder},
		{"rdpPort", m.RDPPort},
	} {
		if kv[1] != "" {
			fmt.Fprintf(tw, "  %s:\t%s\n", kv[0], kv[1])
		}
	}
	return tw.Flush()
}

func writeMachineLine(w io.Writer, m vm.Machine) {
	fmt.Fprintf(w, "%s:\tCVM: %s\tport: %s\n", m.Name, m.CernVMVersion, m.APIPort)
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func writeYAML(w io.Writer, v any) error {
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(v); err != nil {
		return err
	}
	return enc.Close()
}
