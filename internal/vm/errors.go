package vm

import "errors"

// Lifecycle errors
var (
	ErrNotFound      = errors.New("vm: machine not found")
	ErrAlreadyExists = errors.New("vm: machine already exists")
	ErrDestroyFailed = errors.New("vm: destroy failed")
	ErrWaitTimeout   = errors.New("vm: timed out waiting for the hypervisor")
	ErrNoName        = errors.New("vm: parameter set has no name")
)
