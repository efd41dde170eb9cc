package vm

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/javanstorm/vmlaunch/internal/config"
	"github.com/javanstorm/vmlaunch/internal/terminal"
	"github.com/javanstorm/vmlaunch/internal/timing"
	"github.com/javanstorm/vmlaunch/pkg/hypervisor"
	"github.com/javanstorm/vmlaunch/pkg/params"
)

// Destroy retry policy.
const (
	DefaultDestroyAttempts = 2
	DefaultDestroyDelay    = 2 * time.Second
)

// ManagerConfig holds configuration for the lifecycle manager.
type ManagerConfig struct {
	// Prompter answers the destroy confirmation. Nil selects defaults.
	Prompter terminal.Prompter

	// Out receives the human-readable creation summary.
	Out io.Writer

	// WaitTimeout bounds each wait on the hypervisor (0 = DefaultWaitTimeout).
	WaitTimeout time.Duration

	// DestroyAttempts is how many times destroy is tried (0 = DefaultDestroyAttempts).
	DestroyAttempts int

	// DestroyDelay is the pause between destroy attempts (0 = DefaultDestroyDelay).
	DestroyDelay time.Duration

	// Timer, if set, records the duration of each lifecycle phase.
	Timer *timing.Timer

	Logger *zerolog.Logger
}

// Manager orchestrates machine lifecycle operations.
type Manager struct {
	cfg     ManagerConfig
	hv      hypervisor.Hypervisor
	locator *Locator
	logger  zerolog.Logger

	// sleep waits between destroy attempts; tests replace it.
	sleep func(ctx context.Context, d time.Duration) error
}

// NewManager creates a manager driving hv.
func NewManager(hv hypervisor.Hypervisor, cfg ManagerConfig) *Manager {
	if cfg.Prompter == nil {
		cfg.Prompter = terminal.Defaults{}
	}
	if cfg.Out == nil {
		cfg.Out = io.Discard
	}
	if cfg.WaitTimeout <= 0 {
		cfg.WaitTimeout = DefaultWaitTimeout
	}
	if cfg.DestroyAttempts <= 0 {
		cfg.DestroyAttempts = DefaultDestroyAttempts
	}
	if cfg.DestroyDelay <= 0 {
		cfg.DestroyDelay = DefaultDestroyDelay
	}

	logger := log.With().Str("component", "vm").Logger()
	if cfg.Logger != nil {
		logger = *cfg.Logger
	}

	return &Manager{
		cfg:     cfg,
		hv:      hv,
		locator: NewLocator(hv, cfg.WaitTimeout, logger),
		logger:  logger,
		sleep:   sleepContext,
	}
}

// Hypervisor returns the backend the manager drives.
func (m *Manager) Hypervisor() hypervisor.Hypervisor {
	return m.hv
}

// Locator returns the manager's session locator.
func (m *Manager) Locator() *Locator {
	return m.locator
}

func (m *Manager) mark(phase string) {
	if m.cfg.Timer != nil {
		m.cfg.Timer.Mark(phase)
	}
}

// Create registers a new machine described by p, provisions it by starting
// it, and hibernates it again unless startAfter is set.
func (m *Manager) Create(ctx context.Context, p *params.Set, startAfter bool) error {
	name, _ := p.Get(hypervisor.KeyName)
	if name == "" {
		return ErrNoName
	}
	logger := m.logger.With().Str("machine", name).Logger()

	if err := m.hv.LoadSessions(ctx); err != nil {
		return fmt.Errorf("reload sessions: %w", err)
	}
	if _, exists := m.hv.SessionByName(name); exists {
		return fmt.Errorf("%w: %s", ErrAlreadyExists, name)
	}

	s, err := m.hv.AllocateSession(ctx)
	if err != nil {
		return fmt.Errorf("allocate session: %w", err)
	}
	if err := s.SetParameters(p, hypervisor.WriteAdditive); err != nil {
		return fmt.Errorf("write parameters: %w", err)
	}
	if err := m.locator.Wait(ctx, s); err != nil {
		return fmt.Errorf("write parameters: %w", err)
	}
	m.mark("allocate")
	logger.Debug().Str("session", s.ID()).Msg("session allocated")

	s, err = m.locator.Find(ctx, name, false)
	if err != nil {
		return err
	}
	m.mark("open")

	if err := m.call(ctx, s, "start", func() error { return s.Start(ctx, params.New()) }); err != nil {
		return err
	}
	m.mark("start")

	if !startAfter {
		if err := m.call(ctx, s, "stop", func() error { return s.Stop(ctx) }); err != nil {
			return err
		}
		m.mark("stop")
	}

	logger.Info().Bool("running", startAfter).Msg("machine created")
	WriteSummary(m.cfg.Out, s.Parameters())
	return nil
}

// Import creates a machine from the OVA image at image. The image path is
// canonicalized and the OVA import bit is added to the deployment flags.
func (m *Manager) Import(ctx context.Context, image string, p *params.Set, startAfter bool) error {
	path, err := config.CanonicalPath(image)
	if err != nil {
		return &config.ParamError{Kind: config.ErrInvalidPath, Field: hypervisor.KeyOVAPath, Value: image, Err: err}
	}

	p = p.Clone()
	raw := p.GetDefault(hypervisor.KeyFlags, "")
	flags := hypervisor.DefaultFlags
	if raw != "" {
		if flags, err = hypervisor.ParseFlags(raw); err != nil {
			return &config.ParamError{Kind: config.ErrInvalidValue, Field: hypervisor.KeyFlags, Value: raw, Err: err}
		}
	}

	p.Set(hypervisor.KeyOVAPath, path)
	p.Set(hypervisor.KeyImportMode, hypervisor.ImportModeOVA)
	p.Set(hypervisor.KeyFlags, (flags | hypervisor.FlagImportOVA).String())

	return m.Create(ctx, p, startAfter)
}

// Start boots the named machine, or resumes it when paused.
func (m *Manager) Start(ctx context.Context, name string) error {
	s, err := m.locator.Find(ctx, name, true)
	if err != nil {
		return err
	}
	return m.call(ctx, s, "start", func() error { return s.Start(ctx, params.New()) })
}

// Stop hibernates the named machine.
func (m *Manager) Stop(ctx context.Context, name string) error {
	s, err := m.locator.Find(ctx, name, true)
	if err != nil {
		return err
	}
	return m.call(ctx, s, "stop", func() error { return s.Stop(ctx) })
}

// Pause suspends the named machine.
func (m *Manager) Pause(ctx context.Context, name string) error {
	s, err := m.locator.Find(ctx, name, true)
	if err != nil {
		return err
	}
	return m.call(ctx, s, "pause", func() error { return s.Pause(ctx) })
}

// Destroy deletes the named machine and removes it from the registry.
//
// A running machine is stopped first. Without force the user is asked; a
// negative answer leaves the machine untouched and returns false with no
// error. Destroy is tried DestroyAttempts times, DestroyDelay apart.
func (m *Manager) Destroy(ctx context.Context, name string, force bool) (bool, error) {
	s, err := m.locator.Find(ctx, name, true)
	if err != nil {
		return false, err
	}
	d, ok := s.(hypervisor.Destroyer)
	if !ok {
		return false, fmt.Errorf("%w: destroy %s", hypervisor.ErrUnsupportedBackend, name)
	}
	logger := m.logger.With().Str("machine", name).Logger()

	// A machine whose state cannot be read is treated as running.
	st, err := s.State(ctx)
	unknown := err != nil
	if unknown {
		logger.Warn().Err(err).Msg("could not query machine state")
	}
	if st == hypervisor.StateRunning || unknown {
		if !force {
			question := fmt.Sprintf("Machine %q is running. Stop and destroy it?", name)
			if unknown {
				question = fmt.Sprintf("State of machine %q is unknown. Stop and destroy it?", name)
			}
			confirmed, err := m.cfg.Prompter.Confirm(question, false)
			if err != nil {
				return false, err
			}
			if !confirmed {
				logger.Info().Msg("destroy declined")
				return false, nil
			}
		}
		if err := m.call(ctx, s, "stop", func() error { return s.Stop(ctx) }); err != nil {
			if !unknown {
				return false, err
			}
			logger.Warn().Err(err).Msg("stop before destroy failed")
		}
	}

	var lastErr error
	for attempt := 1; attempt <= m.cfg.DestroyAttempts; attempt++ {
		lastErr = d.Destroy(ctx)
		if lastErr == nil {
			lastErr = m.locator.Wait(ctx, s)
		}
		if lastErr == nil {
			break
		}
		if ctx.Err() != nil {
			return false, ctx.Err()
		}
		logger.Warn().Err(lastErr).Int("attempt", attempt).Msg("destroy attempt failed")
		if attempt < m.cfg.DestroyAttempts {
			if err := m.sleep(ctx, m.cfg.DestroyDelay); err != nil {
				return false, err
			}
		}
	}
	if lastErr != nil {
		return false, fmt.Errorf("%w: %s after %d attempts: %v", ErrDestroyFailed, name, m.cfg.DestroyAttempts, lastErr)
	}

	if err := m.hv.DeleteSession(ctx, s); err != nil {
		return false, fmt.Errorf("remove %s from registry: %w", name, err)
	}
	logger.Info().Msg("machine destroyed")
	return true, nil
}

// call issues one lifecycle call on s and waits for it.
func (m *Manager) call(ctx context.Context, s hypervisor.Session, op string, issue func() error) error {
	m.logger.Debug().Str("machine", s.Name()).Str("op", op).Msg("issuing call")
	err := issue()
	if err == nil {
		err = m.locator.Wait(ctx, s)
	}
	if err != nil {
		return fmt.Errorf("%s %s: %w", op, s.Name(), err)
	}
	return nil
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
