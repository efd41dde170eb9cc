// Package cli provides the command-line interface for vmlaunch.
package cli

import (
	"context"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/javanstorm/vmlaunch/internal/config"
	"github.com/javanstorm/vmlaunch/internal/logging"
	"github.com/javanstorm/vmlaunch/internal/terminal"
	"github.com/javanstorm/vmlaunch/internal/timing"
	"github.com/javanstorm/vmlaunch/internal/version"
	"github.com/javanstorm/vmlaunch/internal/vm"
	"github.com/javanstorm/vmlaunch/pkg/hypervisor"
	"github.com/javanstorm/vmlaunch/pkg/hypervisor/vbox"
)

// Options replace the process environment of the CLI. Zero values select
// the real terminal, per-user paths and VirtualBox.
type Options struct {
	In       io.Reader
	Out      io.Writer
	Err      io.Writer
	Prompter terminal.Prompter
	Paths    *config.Paths

	// Detector finds the hypervisor. Nil detects VirtualBox.
	Detector hypervisor.Detector

	// DestroyDelay overrides the pause between destroy attempts.
	DestroyDelay time.Duration
}

// app carries the state shared by every command of one invocation.
type app struct {
	opts   Options
	viper  *viper.Viper
	logger zerolog.Logger

	settings *config.Settings
	store    *config.Store
	hv       hypervisor.Hypervisor
	handler  *Handler
	timer    *timing.Timer
}

// skipSetup lists commands that run without configuration or a hypervisor.
var skipSetup = map[string]bool{
	"version":    true,
	"help":       true,
	"completion": true,
	"ssh-keygen": true,
}

// NewRootCommand builds the vmlaunch command tree.
func NewRootCommand(opts Options) *cobra.Command {
	if opts.In == nil {
		opts.In = os.Stdin
	}
	if opts.Out == nil {
		opts.Out = os.Stdout
	}
	if opts.Err == nil {
		opts.Err = os.Stderr
	}
	if opts.Prompter == nil {
		opts.Prompter = terminal.NewLinePrompter(opts.In, opts.Err)
	}

	a := &app{opts: opts}

	root := &cobra.Command{
		Use:   "vmlaunch",
		Short: "vmlaunch - CernVM machines on VirtualBox",
		Long: `vmlaunch creates and drives CernVM virtual machines on VirtualBox.

Machine parameters come from command-line flags, an optional parameter file,
the global configuration (~/.vmlaunch.conf) and built-in defaults, in that
order of precedence.`,
		Version:       version.Version,
		SilenceUsage:  true,
		SilenceErrors: true,
		Args: func(cmd *cobra.Command, args []string) error {
			if len(args) > 0 {
				return &UsageError{Code: ExitUnknownOp, Err: fmt.Errorf("unknown command %q for %q", args[0], cmd.CommandPath())}
			}
			return nil
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.setup(cmd)
		},
		PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
			return a.teardown()
		},
	}
	root.SetIn(opts.In)
	root.SetOut(opts.Out)
	root.SetErr(opts.Err)
	root.SetFlagErrorFunc(flagError)
	root.SetVersionTemplate("vmlaunch {{.Version}}\n")
	root.Flags().BoolP("version", "v", false, "Print the version")

	pf := root.PersistentFlags()
	pf.String(config.SettingConfig, "", "Global configuration file (default ~/.vmlaunch.conf)")
	pf.String(config.SettingLogLevel, "warn", "Log level (trace, debug, info, warn, error)")
	pf.String(config.SettingLogFormat, logging.FormatConsole, "Log format (console, json)")
	pf.Duration(config.SettingWaitTimeout, vm.DefaultWaitTimeout, "Maximum wait for each hypervisor call")
	pf.String(config.SettingVBoxManage, "", "Path to the VBoxManage binary")
	pf.Bool(config.SettingTiming, false, "Print phase durations of lifecycle commands")

	root.AddCommand(
		newCreateCommand(a),
		newImportCommand(a),
		newDestroyCommand(a),
		newListCommand(a),
		newStartCommand(a),
		newStopCommand(a),
		newPauseCommand(a),
		newSSHCommand(a),
		newSSHKeygenCommand(a),
		newVersionCommand(a),
	)
	return root
}

// Execute runs vmlaunch with the process arguments.
func Execute(ctx context.Context) error {
	return NewRootCommand(Options{}).ExecuteContext(ctx)
}

func (a *app) paths() (*config.Paths, error) {
	if a.opts.Paths != nil {
		return a.opts.Paths, nil
	}
	return config.GetPaths()
}

// setup loads settings and the global configuration, then detects the
// hypervisor and points it at launchHomeFolder.
func (a *app) setup(cmd *cobra.Command) error {
	paths, err := a.paths()
	if err != nil {
		return fmt.Errorf("determine paths: %w", err)
	}

	a.viper = config.NewViper(paths)
	for _, name := range []string{config.SettingLogLevel, config.SettingLogFormat, config.SettingWaitTimeout, config.SettingVBoxManage, config.SettingTiming} {
		if err := a.viper.BindPFlag(name, cmd.Flags().Lookup(name)); err != nil {
			return err
		}
	}
	if f := cmd.Flags().Lookup(config.SettingConfig); f != nil && f.Changed {
		a.viper.Set(config.SettingConfig, f.Value.String())
	}

	a.settings, err = config.LoadSettings(a.viper)
	if err != nil {
		return &UsageError{Code: ExitInvalidValue, Err: err}
	}
	a.logger, err = logging.New(a.opts.Err, a.settings.LogLevel, a.settings.LogFormat)
	if err != nil {
		return &UsageError{Code: ExitInvalidValue, Err: err}
	}
	log.Logger = a.logger

	if skipSetup[cmd.Name()] {
		return nil
	}

	if err := paths.EnsureDirectories(); err != nil {
		return fmt.Errorf("create data directory: %w", err)
	}
	a.store = config.NewStore(a.settings.ConfigFile, paths.MachinesDir, a.opts.Prompter)
	home, ok, err := a.store.LaunchHomeFolder()
	if err != nil {
		return err
	}

	detector := a.opts.Detector
	if detector == nil {
		logger := a.logger.With().Str("component", "vbox").Logger()
		detector = vbox.Detector(vbox.Options{VBoxManage: a.settings.VBoxManage, Logger: &logger})
	}
	a.hv, err = hypervisor.Detect(cmd.Context(), detector)
	if err != nil {
		return err
	}
	if ok {
		if err := a.hv.SetBaseDir(home); err != nil {
			return fmt.Errorf("set machine folder: %w", err)
		}
	}

	if a.settings.Timing {
		a.timer = timing.New(cmd.Name())
	}
	vmLogger := a.logger.With().Str("component", "vm").Logger()
	manager := vm.NewManager(a.hv, vm.ManagerConfig{
		Prompter:     a.opts.Prompter,
		Out:          a.opts.Out,
		WaitTimeout:  a.settings.WaitTimeout,
		DestroyDelay: a.opts.DestroyDelay,
		Timer:        a.timer,
		Logger:       &vmLogger,
	})
	resolver := config.NewResolver(a.store, a.opts.Prompter).
		WithLogger(a.logger.With().Str("component", "resolver").Logger())
	a.handler = NewHandler(manager, resolver, a.opts.Out)
	return nil
}

func (a *app) teardown() error {
	if a.timer != nil {
		a.timer.Report(a.opts.Err)
		a.timer.Log(a.logger)
	}
	if c, ok := a.hv.(io.Closer); ok {
		return c.Close()
	}
	return nil
}
