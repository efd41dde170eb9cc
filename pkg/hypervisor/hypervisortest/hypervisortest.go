// Package hypervisortest provides an in-memory hypervisor for tests.
//
// Every call is recorded in Hypervisor.Calls as "op" or "op:name", so tests
// can assert the exact sequence the orchestrator issued. Issued calls complete
// immediately; their error is reported by the following Wait.
package hypervisortest

import (
	"context"
	"fmt"
	"strconv"
	"sync"

	"github.com/javanstorm/vmlaunch/pkg/hypervisor"
	"github.com/javanstorm/vmlaunch/pkg/params"
)

// Hypervisor is a fake hypervisor.Hypervisor.
type Hypervisor struct {
	mu       sync.Mutex
	sessions []*Session
	nextID   int

	// Calls records every operation in issue order.
	Calls []string

	// BaseDir is the last value passed to SetBaseDir.
	BaseDir string

	// Fail maps an operation name ("open", "start", "stop", "pause",
	// "allocate", "load", "delete", "running", "state") to the error it
	// returns. State queries are not recorded in Calls.
	Fail map[string]error

	// DestroyErrs is consumed one entry per Destroy attempt. Attempts past
	// the end of the slice succeed.
	DestroyErrs []error

	// NoDestroy makes opened sessions lack the Destroyer capability.
	NoDestroy bool
}

// New returns an empty fake hypervisor.
func New() *Hypervisor {
	return &Hypervisor{Fail: make(map[string]error)}
}

// AddMachine registers an existing machine named name in state st.
func (h *Hypervisor) AddMachine(name string, st hypervisor.State, p *params.Set) *Session {
	h.mu.Lock()
	defer h.mu.Unlock()

	s := h.newSessionLocked()
	if p != nil {
		s.params = p.Clone()
	}
	s.params.Set(hypervisor.KeyName, name)
	s.state = st
	return s
}

func (h *Hypervisor) newSessionLocked() *Session {
	h.nextID++
	s := &Session{
		hv:     h,
		id:     "session-" + strconv.Itoa(h.nextID),
		params: params.New(),
		local:  params.New(),
		state:  hypervisor.StateAllocated,
	}
	s.local.Set(hypervisor.LocalAPIPort, strconv.Itoa(22000+h.nextID))
	s.local.Set(hypervisor.LocalBaseFolder, "/fake/"+s.id)
	h.sessions = append(h.sessions, s)
	return s
}

func (h *Hypervisor) record(op, name string) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if name != "" {
		h.Calls = append(h.Calls, op+":"+name)
	} else {
		h.Calls = append(h.Calls, op)
	}
	return h.Fail[op]
}

// CallCount returns how many recorded calls equal call.
func (h *Hypervisor) CallCount(call string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	n := 0
	for _, c := range h.Calls {
		if c == call {
			n++
		}
	}
	return n
}

// Info implements hypervisor.Hypervisor.
func (h *Hypervisor) Info() hypervisor.Info {
	return hypervisor.Info{Name: "fake", Version: "test"}
}

// SetBaseDir implements hypervisor.Hypervisor.
func (h *Hypervisor) SetBaseDir(dir string) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.BaseDir = dir
	return nil
}

// LoadSessions implements hypervisor.Hypervisor.
func (h *Hypervisor) LoadSessions(ctx context.Context) error {
	return h.record("load", "")
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
		if v, _ := s.params.Get(hypervisor.KeyName); v == name {
			return s, true
		}
	}
	return nil, false
}

// AllocateSession implements hypervisor.Hypervisor.
func (h *Hypervisor) AllocateSession(ctx context.Context) (hypervisor.Session, error) {
	if err := h.record("allocate", ""); err != nil {
		return nil, err
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.newSessionLocked(), nil
}

// OpenSession implements hypervisor.Hypervisor.
func (h *Hypervisor) OpenSession(ctx context.Context, s hypervisor.Session) (hypervisor.Session, error) {
	fs, ok := s.(*Session)
	if !ok {
		return nil, fmt.Errorf("hypervisortest: foreign session %T", s)
	}
	if err := h.record("open", fs.Name()); err != nil {
		return nil, err
	}
	h.mu.Lock()
	fs.open = true
	if fs.state == hypervisor.StateAllocated {
		fs.state = hypervisor.StateOpened
	}
	fs.pending = nil
	fs.issued = true
	noDestroy := h.NoDestroy
	h.mu.Unlock()

	if noDestroy {
		return plainSession{fs}, nil
	}
	return fs, nil
}

// DeleteSession implements hypervisor.Hypervisor.
func (h *Hypervisor) DeleteSession(ctx context.Context, s hypervisor.Session) error {
	if err := h.record("delete", s.Name()); err != nil {
		return err
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	for i, fs := range h.sessions {
		if fs.id == s.ID() {
			h.sessions = append(h.sessions[:i], h.sessions[i+1:]...)
			return nil
		}
	}
	return hypervisor.ErrSessionNotFound
}

// RunningMachines implements hypervisor.Hypervisor.
func (h *Hypervisor) RunningMachines(ctx context.Context) ([]string, error) {
	if err := h.record("running", ""); err != nil {
		return nil, err
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	var names []string
	for _, s := range h.sessions {
		if s.state == hypervisor.StateRunning {
			names = append(names, s.Name())
		}
	}
	return names, nil
}

// Session is a fake hypervisor.Session.
type Session struct {
	hv      *Hypervisor
	id      string
	params  *params.Set
	local   *params.Set
	state   hypervisor.State
	open    bool
	issued  bool
	pending error
}

// plainSession hides the Destroyer capability of *Session.
type plainSession struct {
	hypervisor.Session
}

// ID implements hypervisor.Session.
func (s *Session) ID() string { return s.id }

// Name implements hypervisor.Session.
func (s *Session) Name() string {
	return s.params.GetDefault(hypervisor.KeyName, "")
}

// Parameters implements hypervisor.Session.
func (s *Session) Parameters() *params.Set { return s.params }

// Local implements hypervisor.Session.
func (s *Session) Local() *params.Set { return s.local }

// MachineState returns the fake's state without recording a call.
func (s *Session) MachineState() hypervisor.State {
	s.hv.mu.Lock()
	defer s.hv.mu.Unlock()
	return s.state
}

// SetParameters implements hypervisor.Session.
func (s *Session) SetParameters(p *params.Set, mode hypervisor.WriteMode) error {
	s.hv.mu.Lock()
	defer s.hv.mu.Unlock()
	if mode == hypervisor.WriteOverwrite {
		s.params = params.New()
	}
	s.params.Merge(p)
	s.issued = true
	s.pending = nil
	return nil
}

func (s *Session) issue(op string, next hypervisor.State) error {
	if !s.isOpen() {
		return hypervisor.ErrNotOpen
	}
	err := s.hv.record(op, s.Name())
	s.hv.mu.Lock()
	defer s.hv.mu.Unlock()
	s.issued = true
	s.pending = err
	if err == nil {
		s.state = next
	}
	return nil
}

func (s *Session) isOpen() bool {
	s.hv.mu.Lock()
	defer s.hv.mu.Unlock()
	return s.open
}

// Start implements hypervisor.Session.
func (s *Session) Start(ctx context.Context, extra *params.Set) error {
	return s.issue("start", hypervisor.StateRunning)
}

// Stop implements hypervisor.Session.
func (s *Session) Stop(ctx context.Context) error {
	return s.issue("stop", hypervisor.StateStopped)
}

// Pause implements hypervisor.Session.
func (s *Session) Pause(ctx context.Context) error {
	return s.issue("pause", hypervisor.StatePaused)
}

// Destroy implements hypervisor.Destroyer.
func (s *Session) Destroy(ctx context.Context) error {
	if !s.isOpen() {
		return hypervisor.ErrNotOpen
	}
	s.hv.record("destroy", s.Name())

	s.hv.mu.Lock()
	defer s.hv.mu.Unlock()
	var err error
	if len(s.hv.DestroyErrs) > 0 {
		err = s.hv.DestroyErrs[0]
		s.hv.DestroyErrs = s.hv.DestroyErrs[1:]
	}
	s.issued = true
	s.pending = err
	if err == nil {
		s.state = hypervisor.StateDestroyed
	}
	return nil
}

// Wait implements hypervisor.Session.
func (s *Session) Wait(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.hv.mu.Lock()
	defer s.hv.mu.Unlock()
	if !s.issued {
		return hypervisor.ErrNoPendingCall
	}
	err := s.pending
	s.pending = nil
	s.issued = false
	return err
}

// State implements hypervisor.Session.
func (s *Session) State(ctx context.Context) (hypervisor.State, error) {
	s.hv.mu.Lock()
	defer s.hv.mu.Unlock()
	if err := s.hv.Fail["state"]; err != nil {
		return hypervisor.StateUnknown, err
	}
	return s.state, nil
}
