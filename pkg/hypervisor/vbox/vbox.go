// Package vbox drives VirtualBox through the VBoxManage command-line tool.
//
// Sessions live in a SQLite registry inside the base directory, so a machine
// created by one vmlaunch process is visible to the next. VirtualBox itself
// stores the machines under the same directory.
package vbox

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/exec"
	"path/filepath"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/javanstorm/vmlaunch/pkg/hypervisor"
	"github.com/javanstorm/vmlaunch/pkg/params"
)

// Options configure detection of the VirtualBox backend.
type Options struct {
	// VBoxManage is the path or name of the VBoxManage binary. Empty searches
	// $VBOX_MSI_INSTALL_PATH and then PATH.
	VBoxManage string

	// BaseDir is where machines and the session registry are stored. Empty
	// selects VirtualBox's default machine folder.
	BaseDir string

	// Runner replaces the VBoxManage binary; used by tests.
	Runner Runner

	// HTTPClient downloads remote disk images.
	HTTPClient *http.Client

	Logger *zerolog.Logger
}

// Hypervisor is the VirtualBox backend.
type Hypervisor struct {
	runner   Runner
	version  string
	client   *http.Client
	logger   zerolog.Logger
	freePort func() (int, error)
	now      func() time.Time

	mu       sync.Mutex
	baseDir  string
	reg      *registry
	sessions []*Session
}

var _ hypervisor.Hypervisor = (*Hypervisor)(nil)

// Detector returns a hypervisor.Detector for opts.
func Detector(opts Options) hypervisor.Detector {
	return func(ctx context.Context) (hypervisor.Hypervisor, error) {
		return Detect(ctx, opts)
	}
}

// Detect locates VBoxManage and checks that it answers.
func Detect(ctx context.Context, opts Options) (*Hypervisor, error) {
	logger := log.With().Str("component", "vbox").Logger()
	if opts.Logger != nil {
		logger = *opts.Logger
	}

	runner := opts.Runner
	if runner == nil {
		path, err := findVBoxManage(opts.VBoxManage)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", hypervisor.ErrUnavailable, err)
		}
		runner = execRunner{path: path}
	}

	out, err := runner.Run(ctx, "--version")
	if err != nil {
		return nil, fmt.Errorf("%w: %v", hypervisor.ErrUnavailable, err)
	}
	version := strings.TrimSpace(string(out))

	client := opts.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Minute}
	}

	h := &Hypervisor{
		runner:   runner,
		version:  version,
		client:   client,
		logger:   logger,
		freePort: freeLoopbackPort,
		now:      func() time.Time { return time.Now().UTC() },
		baseDir:  opts.BaseDir,
	}
	if h.baseDir == "" {
		h.baseDir = h.defaultMachineFolder(ctx)
	}

	logger.Debug().Str("version", version).Str("baseDir", h.baseDir).Msg("virtualbox detected")
	return h, nil
}

func findVBoxManage(name string) (string, error) {
	if name != "" {
		return exec.LookPath(name)
	}
	if dir := os.Getenv("VBOX_MSI_INSTALL_PATH"); dir != "" {
		path := filepath.Join(dir, "VBoxManage.exe")
		if _, err := os.Stat(path); err == nil {
			return path, nil
		}
	}
	for _, candidate := range []string{"VBoxManage", "vboxmanage"} {
		if path, err := exec.LookPath(candidate); err == nil {
			return path, nil
		}
	}
	return "", fmt.Errorf("VBoxManage not found in PATH")
}

// defaultMachineFolder asks VirtualBox for its machine folder.
func (h *Hypervisor) defaultMachineFolder(ctx context.Context) string {
	out, err := h.runner.Run(ctx, "list", "systemproperties")
	if err == nil {
		if v, ok := parseColonList(out)["Default machine folder"]; ok && v != "" {
			return v
		}
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "VirtualBox VMs"
	}
	return filepath.Join(home, "VirtualBox VMs")
}

// Info implements hypervisor.Hypervisor.
func (h *Hypervisor) Info() hypervisor.Info {
	return hypervisor.Info{Name: "virtualbox", Version: h.version}
}

// BaseDir returns the directory machines are stored in.
func (h *Hypervisor) BaseDir() string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.baseDir
}

// SetBaseDir implements hypervisor.Hypervisor. The registry is reopened in
// the new directory on next use.
func (h *Hypervisor) SetBaseDir(dir string) error {
	abs, err := filepath.Abs(dir)
	if err != nil {
		return err
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	if abs == h.baseDir {
		return nil
	}
	if h.reg != nil {
		if err := h.reg.Close(); err != nil {
			h.logger.Warn().Err(err).Msg("close registry")
		}
		h.reg = nil
	}
	h.baseDir = abs
	h.sessions = nil
	return nil
}

// Close releases the session registry.
func (h *Hypervisor) Close() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.reg == nil {
		return nil
	}
	err := h.reg.Close()
	h.reg = nil
	return err
}

// registry returns the open registry, opening it on first use.
func (h *Hypervisor) registry(ctx context.Context) (*registry, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.reg != nil {
		return h.reg, nil
	}
	if err := os.MkdirAll(h.baseDir, 0755); err != nil {
		return nil, fmt.Errorf("create base dir: %w", err)
	}
	reg, err := openRegistry(ctx, filepath.Join(h.baseDir, registryFile))
	if err != nil {
		return nil, err
	}
	h.reg = reg
	return reg, nil
}

// LoadSessions implements hypervisor.Hypervisor. Sessions already known keep
// their identity so open handles stay valid.
func (h *Hypervisor) LoadSessions(ctx context.Context) error {
	reg, err := h.registry(ctx)
	if err != nil {
		return err
	}
	records, err := reg.list(ctx)
	if err != nil {
		return err
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	known := make(map[string]*Session, len(h.sessions))
	for _, s := range h.sessions {
		known[s.ID()] = s
	}

	sessions := make([]*Session, 0, len(records))
	for _, rec := range records {
		if s, ok := known[rec.ID]; ok {
			s.refresh(rec)
			sessions = append(sessions, s)
			continue
		}
		sessions = append(sessions, newSession(h, rec))
	}
	h.sessions = sessions
	return nil
}

// Sessions implements hypervisor.Hypervisor.
func (h *Hypervisor) Sessions() []hypervisor.Session {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]hypervisor.Session, 0, len(h.sessions))
	for _, s := range h.sessions {
		out = append(out, s)
	}
	return out
}

// SessionByName implements hypervisor.Hypervisor.
func (h *Hypervisor) SessionByName(name string) (hypervisor.Session, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, s := range h.sessions {
		if s.Name() == name {
			return s, true
		}
	}
	return nil, false
}

// AllocateSession implements hypervisor.Hypervisor.
func (h *Hypervisor) AllocateSession(ctx context.Context) (hypervisor.Session, error) {
	reg, err := h.registry(ctx)
	if err != nil {
		return nil, err
	}

	now := h.now()
	rec := &record{
		ID:         uuid.NewString(),
		Parameters: params.New(),
		Local:      params.New(),
		State:      hypervisor.StateAllocated,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	if err := reg.insert(ctx, rec); err != nil {
		return nil, err
	}

	s := newSession(h, rec)
	h.mu.Lock()
	h.sessions = append(h.sessions, s)
	h.mu.Unlock()

	h.logger.Debug().Str("session", rec.ID).Msg("session allocated")
	return s, nil
}

// OpenSession implements hypervisor.Hypervisor.
func (h *Hypervisor) OpenSession(ctx context.Context, hs hypervisor.Session) (hypervisor.Session, error) {
	s, err := h.own(hs)
	if err != nil {
		return nil, err
	}
	if err := s.open(ctx); err != nil {
		return nil, err
	}
	return s, nil
}

// DeleteSession implements hypervisor.Hypervisor.
func (h *Hypervisor) DeleteSession(ctx context.Context, hs hypervisor.Session) error {
	s, err := h.own(hs)
	if err != nil {
		return err
	}
	reg, err := h.registry(ctx)
	if err != nil {
		return err
	}
	if err := reg.delete(ctx, s.ID()); err != nil {
		return err
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	for i, known := range h.sessions {
		if known == s {
			h.sessions = append(h.sessions[:i], h.sessions[i+1:]...)
			break
		}
	}
	return nil
}

// RunningMachines implements hypervisor.Hypervisor.
func (h *Hypervisor) RunningMachines(ctx context.Context) ([]string, error) {
	out, err := h.runner.Run(ctx, "list", "runningvms")
	if err != nil {
		return nil, err
	}
	return parseVMList(out), nil
}

// registered reports whether VirtualBox knows a machine called name.
func (h *Hypervisor) registered(ctx context.Context, name string) (bool, error) {
	out, err := h.runner.Run(ctx, "list", "vms")
	if err != nil {
		return false, err
	}
	return slices.Contains(parseVMList(out), name), nil
}

func (h *Hypervisor) own(hs hypervisor.Session) (*Session, error) {
	s, ok := hs.(*Session)
	if !ok || s.hv != h {
		return nil, fmt.Errorf("%w: session %s belongs to another backend", hypervisor.ErrUnsupportedBackend, hs.ID())
	}
	return s, nil
}

// freeLoopbackPort returns a TCP port currently free on 127.0.0.1.
func freeLoopbackPort() (int, error) {
	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return 0, fmt.Errorf("find free port: %w", err)
	}
	defer l.Close()
	return l.Addr().(*net.TCPAddr).Port, nil
}
