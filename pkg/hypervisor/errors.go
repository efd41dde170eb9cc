package hypervisor

import "errors"

// Backend errors
var (
	ErrUnavailable        = errors.New("hypervisor: no usable hypervisor detected")
	ErrUnsupportedBackend = errors.New("hypervisor: operation not supported by this backend")
)

// Session errors
var (
	ErrSessionNotFound = errors.New("hypervisor: session not found")
	ErrNotOpen         = errors.New("hypervisor: session is not open")
	ErrNoPendingCall   = errors.New("hypervisor: no call in progress")
	ErrCallInProgress  = errors.New("hypervisor: another call is in progress")
)

// Parameter errors
var (
	ErrInvalidFlags = errors.New("hypervisor: flags must be a non-negative integer")
)
