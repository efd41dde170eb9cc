package vm

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/javanstorm/vmlaunch/pkg/hypervisor"
)

// DefaultWaitTimeout bounds every wait on a hypervisor call.
const DefaultWaitTimeout = 10 * time.Minute

// Locator finds named sessions and opens them for interaction.
type Locator struct {
	hv      hypervisor.Hypervisor
	timeout time.Duration
	logger  zerolog.Logger
}

// NewLocator returns a locator over hv. A zero timeout selects DefaultWaitTimeout.
func NewLocator(hv hypervisor.Hypervisor, timeout time.Duration, logger zerolog.Logger) *Locator {
	if timeout <= 0 {
		timeout = DefaultWaitTimeout
	}
	return &Locator{hv: hv, timeout: timeout, logger: logger}
}

// Find returns the opened session named name. With refresh set, the
// registry is reloaded first so sessions created by other processes are
// visible. A session that cannot be opened is reported as not found.
func (l *Locator) Find(ctx context.Context, name string, refresh bool) (hypervisor.Session, error) {
	if refresh {
		if err := l.hv.LoadSessions(ctx); err != nil {
			return nil, fmt.Errorf("reload sessions: %w", err)
		}
	}

	s, ok := l.hv.SessionByName(name)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, name)
	}

	opened, err := l.hv.OpenSession(ctx, s)
	if err == nil {
		err = l.Wait(ctx, opened)
	}
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		l.logger.Debug().Err(err).Str("machine", name).Msg("open failed")
		return nil, fmt.Errorf("%w: %s: open: %v", ErrNotFound, name, err)
	}
	return opened, nil
}

// Wait blocks until the last call issued on s completes, bounded by the
// locator's timeout.
func (l *Locator) Wait(ctx context.Context, s hypervisor.Session) error {
	waitCtx, cancel := context.WithTimeout(ctx, l.timeout)
	defer cancel()

	err := s.Wait(waitCtx)
	if errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil {
		return fmt.Errorf("%w after %s", ErrWaitTimeout, l.timeout)
	}
	return err
}
