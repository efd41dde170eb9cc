package hypervisor

import (
	"context"
	"errors"
	"fmt"
)

// Detector finds the backend available on this host.
type Detector func(ctx context.Context) (Hypervisor, error)

// Detect runs d. Every failure is reported as ErrUnavailable so callers can
// treat a missing backend uniformly.
func Detect(ctx context.Context, d Detector) (Hypervisor, error) {
	if d == nil {
		return nil, ErrUnavailable
	}
	hv, err := d(ctx)
	if err != nil {
		if errors.Is(err, ErrUnavailable) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	if hv == nil {
		return nil, ErrUnavailable
	}
	return hv, nil
}
