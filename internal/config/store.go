package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/javanstorm/vmlaunch/internal/terminal"
	"github.com/javanstorm/vmlaunch/pkg/params"
)

const globalConfigHeader = `vmlaunch global configuration.
Values here are used for every new machine unless a parameter file or a
command-line flag sets them.`

// Store is the global configuration. It is loaded at most once; later calls
// to Get return the cached set. The file is not locked, so concurrent
// processes writing it race and the last writer wins.
type Store struct {
	path        string
	machinesDir string
	prompter    terminal.Prompter
	logger      zerolog.Logger

	once sync.Once
	set  *params.Set
	err  error
}

// NewStore returns a store backed by the file at path. If the file does not
// exist, Get creates it after asking p for the machines directory, proposing
// machinesDir.
func NewStore(path, machinesDir string, p terminal.Prompter) *Store {
	if p == nil {
		p = terminal.Defaults{}
	}
	return &Store{
		path:        path,
		machinesDir: machinesDir,
		prompter:    p,
		logger:      log.With().Str("component", "config").Logger(),
	}
}

// Path returns the configuration file path.
func (s *Store) Path() string {
	return s.path
}

// Get returns the global configuration, loading or creating it on first use.
func (s *Store) Get() (*params.Set, error) {
	s.once.Do(func() {
		s.set, s.err = s.loadOrCreate()
	})
	return s.set, s.err
}

func (s *Store) loadOrCreate() (*params.Set, error) {
	set, err := LoadKeyValueFile(s.path)
	if err == nil {
		s.logger.Debug().Str("path", s.path).Int("keys", set.Len()).Msg("loaded global config")
		return set, nil
	}
	if !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("%w: %s: %v", ErrConfigUnavailable, s.path, err)
	}

	if err := s.create(); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrConfigUnavailable, s.path, err)
	}

	set, err = LoadKeyValueFile(s.path)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrConfigUnavailable, s.path, err)
	}
	return set, nil
}

func (s *Store) create() error {
	s.logger.Info().Str("path", s.path).Msg("global config not found, creating")

	dir, err := s.prompter.Ask("Directory to store virtual machines in", s.machinesDir)
	if err != nil {
		return err
	}
	if dir == "" {
		return missing(KeyLaunchHomeFolder)
	}
	dir, err = filepath.Abs(expandHome(dir))
	if err != nil {
		return err
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("create %s: %w", dir, err)
	}

	set := params.New()
	set.Set(KeyLaunchHomeFolder, dir)
	set.AddMissing(Defaults())

	return WriteKeyValueFile(s.path, set, globalConfigHeader)
}

// LaunchHomeFolder returns the absolute launchHomeFolder, if configured.
func (s *Store) LaunchHomeFolder() (string, bool, error) {
	set, err := s.Get()
	if err != nil {
		return "", false, err
	}
	v, ok := set.Get(KeyLaunchHomeFolder)
	if !ok {
		return "", false, nil
	}
	abs, err := filepath.Abs(expandHome(v))
	if err != nil {
		return "", false, &ParamError{Kind: ErrInvalidPath, Field: KeyLaunchHomeFolder, Value: v, Err: err}
	}
	return abs, true, nil
}

func expandHome(p string) string {
	if p == "~" || (len(p) > 1 && p[0] == '~' && p[1] == filepath.Separator) {
		if home, err := os.UserHomeDir(); err == nil {
			return filepath.Join(home, p[1:])
		}
	}
	return p
}
