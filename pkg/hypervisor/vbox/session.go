package vbox

import (
	"context"
	"fmt"
	"sync"

	"github.com/javanstorm/vmlaunch/pkg/hypervisor"
	"github.com/javanstorm/vmlaunch/pkg/params"
)

// localVMName records the VirtualBox machine a session was provisioned as.
const localVMName = "vmName"

// Session is one registered machine.
//
// Calls run on their own goroutine; Wait collects the result. Only one call
// may be in flight at a time.
type Session struct {
	hv *Hypervisor
	id string

	mu     sync.Mutex
	rec    *record
	opened bool
	call   *call
}

var (
	_ hypervisor.Session   = (*Session)(nil)
	_ hypervisor.Destroyer = (*Session)(nil)
)

type call struct {
	op   string
	done chan struct{}
	err  error
}

func newSession(h *Hypervisor, rec *record) *Session {
	return &Session{hv: h, id: rec.ID, rec: rec}
}

// refresh replaces the stored record with one read from the registry.
func (s *Session) refresh(rec *record) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.busyLocked() {
		return
	}
	s.rec = rec
}

func (s *Session) snapshot() *record {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *s.rec
	cp.Parameters = s.rec.Parameters.Clone()
	cp.Local = s.rec.Local.Clone()
	return &cp
}

func (s *Session) persist(ctx context.Context) error {
	rec := s.snapshot()
	reg, err := s.hv.registry(ctx)
	if err != nil {
		return err
	}
	if err := reg.update(ctx, rec); err != nil {
		return err
	}
	s.mu.Lock()
	s.rec.UpdatedAt = rec.UpdatedAt
	s.mu.Unlock()
	return nil
}

func (s *Session) busyLocked() bool {
	if s.call == nil {
		return false
	}
	select {
	case <-s.call.done:
		return false
	default:
		return true
	}
}

// issue runs fn on a new goroutine. Wait returns its error.
func (s *Session) issue(ctx context.Context, op string, requireOpen bool, fn func(ctx context.Context) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if requireOpen && !s.opened {
		return hypervisor.ErrNotOpen
	}
	if s.busyLocked() {
		return fmt.Errorf("%w: %s", hypervisor.ErrCallInProgress, s.call.op)
	}

	c := &call{op: op, done: make(chan struct{})}
	s.call = c
	go func() {
		c.err = fn(ctx)
		if c.err != nil {
			s.hv.logger.Debug().Err(c.err).Str("session", s.id).Str("op", op).Msg("call failed")
		}
		close(c.done)
	}()
	return nil
}

// ID implements hypervisor.Session.
func (s *Session) ID() string { return s.id }

// Name implements hypervisor.Session.
func (s *Session) Name() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rec.Name
}

// Parameters implements hypervisor.Session. The returned set is a copy.
func (s *Session) Parameters() *params.Set {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rec.Parameters.Clone()
}

// Local implements hypervisor.Session. The returned set is a copy.
func (s *Session) Local() *params.Set {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rec.Local.Clone()
}

func (s *Session) vmName() (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rec.Local.Get(localVMName)
}

func (s *Session) setState(st hypervisor.State) {
	s.mu.Lock()
	s.rec.State = st
	s.mu.Unlock()
}

func (s *Session) storedState() hypervisor.State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rec.State
}

// open marks the session interactive and syncs its state with VirtualBox.
func (s *Session) open(ctx context.Context) error {
	s.mu.Lock()
	s.opened = true
	s.mu.Unlock()

	return s.issue(ctx, "open", false, func(ctx context.Context) error {
		reg, err := s.hv.registry(ctx)
		if err != nil {
			return err
		}
		ok, err := reg.exists(ctx, s.id)
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("%w: %s", hypervisor.ErrSessionNotFound, s.id)
		}

		st, err := s.State(ctx)
		if err != nil {
			name, _ := s.vmName()
			if !s.unregistered(ctx, name) {
				return err
			}
			s.hv.logger.Warn().Str("machine", name).Msg("machine is no longer registered with VirtualBox")
			s.forget()
			st = hypervisor.StateDestroyed
		}
		if st == hypervisor.StateAllocated {
			st = hypervisor.StateOpened
		}
		s.setState(st)
		return s.persist(ctx)
	})
}

// unregistered reports whether the provisioned machine name has been
// removed from VirtualBox behind the registry's back.
func (s *Session) unregistered(ctx context.Context, name string) bool {
	if name == "" {
		return false
	}
	ok, err := s.hv.registered(ctx, name)
	return err == nil && !ok
}

// forget drops the runtime facts of a machine that no longer exists, so a
// later Start provisions it again and Destroy only clears the registry.
func (s *Session) forget() {
	s.mu.Lock()
	s.rec.Local = params.New()
	s.mu.Unlock()
}

// SetParameters implements hypervisor.Session.
func (s *Session) SetParameters(p *params.Set, mode hypervisor.WriteMode) error {
	return s.issue(context.Background(), "set-parameters", false, func(ctx context.Context) error {
		s.mu.Lock()
		if mode == hypervisor.WriteOverwrite {
			s.rec.Parameters = p.Clone()
		} else {
			s.rec.Parameters.Merge(p)
		}
		s.rec.Name = s.rec.Parameters.GetDefault(hypervisor.KeyName, "")
		s.mu.Unlock()
		return s.persist(ctx)
	})
}

// Start implements hypervisor.Session. The first start provisions the
// machine; a paused machine is resumed.
func (s *Session) Start(ctx context.Context, extra *params.Set) error {
	return s.issue(ctx, "start", true, func(ctx context.Context) error {
		if extra.Len() > 0 {
			s.mu.Lock()
			s.rec.Parameters.Merge(extra)
			s.mu.Unlock()
		}

		name, provisioned := s.vmName()
		if !provisioned {
			var err error
			if name, err = s.hv.provision(ctx, s); err != nil {
				return err
			}
		}

		st, err := s.State(ctx)
		if err != nil {
			return err
		}
		switch st {
		case hypervisor.StateRunning:
		case hypervisor.StatePaused:
			if _, err := s.hv.runner.Run(ctx, "controlvm", name, "resume"); err != nil {
				return err
			}
		default:
			flags, _ := hypervisor.ParseFlags(s.Parameters().GetDefault(hypervisor.KeyFlags, ""))
			startType := "headless"
			if flags.Has(hypervisor.FlagHeadful) {
				startType = "gui"
			}
			if _, err := s.hv.runner.Run(ctx, "startvm", name, "--type", startType); err != nil {
				return err
			}
		}

		s.setState(hypervisor.StateRunning)
		return s.persist(ctx)
	})
}

// Stop implements hypervisor.Session. The machine state is saved to disk.
func (s *Session) Stop(ctx context.Context) error {
	return s.issue(ctx, "stop", true, func(ctx context.Context) error {
		if name, ok := s.vmName(); ok {
			st, err := s.State(ctx)
			if err != nil {
				return err
			}
			if st == hypervisor.StateRunning || st == hypervisor.StatePaused {
				if _, err := s.hv.runner.Run(ctx, "controlvm", name, "savestate"); err != nil {
					return err
				}
			}
		}
		s.setState(hypervisor.StateStopped)
		return s.persist(ctx)
	})
}

// Pause implements hypervisor.Session.
func (s *Session) Pause(ctx context.Context) error {
	return s.issue(ctx, "pause", true, func(ctx context.Context) error {
		name, ok := s.vmName()
		if !ok {
			return fmt.Errorf("pause %s: machine was never started", s.Name())
		}
		if _, err := s.hv.runner.Run(ctx, "controlvm", name, "pause"); err != nil {
			return err
		}
		s.setState(hypervisor.StatePaused)
		return s.persist(ctx)
	})
}

// Destroy implements hypervisor.Destroyer. The machine is powered off and
// unregistered together with its disks.
func (s *Session) Destroy(ctx context.Context) error {
	return s.issue(ctx, "destroy", true, func(ctx context.Context) error {
		if name, ok := s.vmName(); ok {
			if _, err := s.hv.runner.Run(ctx, "controlvm", name, "poweroff"); err != nil {
				s.hv.logger.Debug().Err(err).Str("machine", name).Msg("poweroff before destroy")
			}
			if _, err := s.hv.runner.Run(ctx, "unregistervm", name, "--delete"); err != nil {
				return err
			}
		}
		s.setState(hypervisor.StateDestroyed)
		return s.persist(ctx)
	})
}

// Wait implements hypervisor.Session.
func (s *Session) Wait(ctx context.Context) error {
	s.mu.Lock()
	c := s.call
	s.mu.Unlock()
	if c == nil {
		return hypervisor.ErrNoPendingCall
	}

	select {
	case <-c.done:
		s.mu.Lock()
		if s.call == c {
			s.call = nil
		}
		s.mu.Unlock()
		return c.err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// State implements hypervisor.Session. Provisioned machines are queried
// from VirtualBox; others report their registry state.
func (s *Session) State(ctx context.Context) (hypervisor.State, error) {
	name, ok := s.vmName()
	if !ok {
		return s.storedState(), nil
	}
	out, err := s.hv.runner.Run(ctx, "showvminfo", name, "--machinereadable")
	if err != nil {
		return hypervisor.StateUnknown, err
	}
	return machineState(parseMachineReadable(out)["VMState"]), nil
}
