// Package hypervisor defines the collaborator interface through which vmlaunch
// drives machine sessions on a virtualization backend.
//
// The backend owns its session registry and the state machine behind every
// session. Callers issue one call at a time and block on Session.Wait before
// issuing the next.
package hypervisor

import (
	"context"

	"github.com/javanstorm/vmlaunch/pkg/params"
)

// Hypervisor is a detected virtualization backend and its session registry.
type Hypervisor interface {
	// Info returns backend metadata.
	Info() Info

	// SetBaseDir sets the directory where the backend stores machines.
	SetBaseDir(dir string) error

	// LoadSessions reloads the on-disk session registry, making sessions
	// created by other processes visible.
	LoadSessions(ctx context.Context) error

	// Sessions returns the sessions currently known to the registry.
	Sessions() []Session

	// SessionByName returns the session registered under name.
	SessionByName(name string) (Session, bool)

	// AllocateSession registers a new, empty session.
	AllocateSession(ctx context.Context) (Session, error)

	// OpenSession starts the backend worker for s and returns the
	// interactive handle. Completion is observed through Wait.
	OpenSession(ctx context.Context, s Session) (Session, error)

	// DeleteSession removes s from the registry.
	DeleteSession(ctx context.Context, s Session) error

	// RunningMachines returns the names of machines currently running.
	RunningMachines(ctx context.Context) ([]string, error)
}

// Session is one named machine's control handle.
//
// Start, Stop, Pause and SetParameters only issue work. Wait blocks until the
// last issued call completes or ctx is done.
type Session interface {
	// ID is the backend's unique identifier for the session.
	ID() string

	// Name is the machine name, unique within the registry.
	Name() string

	// Parameters returns the stored parameter set.
	Parameters() *params.Set

	// Local returns backend-assigned runtime facts (forwarded port, base folder).
	Local() *params.Set

	// SetParameters writes p into the session.
	SetParameters(p *params.Set, mode WriteMode) error

	// Start boots the machine, provisioning it first if needed.
	Start(ctx context.Context, extra *params.Set) error

	// Stop hibernates the machine: its state is saved, then it powers off.
	Stop(ctx context.Context) error

	// Pause suspends execution without saving state.
	Pause(ctx context.Context) error

	// Wait blocks until the last issued call completes.
	Wait(ctx context.Context) error

	// State queries the backend for the machine status.
	State(ctx context.Context) (State, error)
}

// Destroyer is implemented by sessions whose backend can delete machines.
type Destroyer interface {
	// Destroy powers off and deletes the machine and its disks.
	Destroy(ctx context.Context) error
}

// WriteMode controls how SetParameters combines with stored values.
type WriteMode int

const (
	// WriteAdditive keeps stored keys that p does not mention.
	WriteAdditive WriteMode = iota
	// WriteOverwrite clears stored values before writing p.
	WriteOverwrite
)

// State is a machine status as reported by the backend.
type State int

const (
	StateUnknown State = iota
	StateAllocated
	StateOpened
	StateRunning
	StatePaused
	StateStopped
	StateDestroyed
)

func (s State) String() string {
	switch s {
	case StateAllocated:
		return "allocated"
	case StateOpened:
		return "opened"
	case StateRunning:
		return "running"
	case StatePaused:
		return "paused"
	case StateStopped:
		return "stopped"
	case StateDestroyed:
		return "destroyed"
	default:
		return "unknown"
	}
}

// Info contains backend metadata.
type Info struct {
	Name    string // "virtualbox"
	Version string // backend version string
}
