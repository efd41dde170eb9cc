// Package config resolves the parameters a machine is created with.
//
// Parameters come from four layers, highest precedence first: command-line
// overrides, an optional parameter file, the global configuration file and
// built-in defaults.
package config

import (
	"os"
	"path/filepath"
)

// Paths holds per-user file locations.
type Paths struct {
	// ConfigFile is the global configuration file: ~/.vmlaunch.conf
	ConfigFile string

	// DataDir holds vmlaunch's own state: ~/.vmlaunch
	DataDir string

	// MachinesDir is the default launchHomeFolder: ~/.vmlaunch/machines
	MachinesDir string
}

// GetPaths returns the per-user paths.
func GetPaths() (*Paths, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return nil, err
	}

	p := &Paths{
		ConfigFile: filepath.Join(home, ".vmlaunch.conf"),
		DataDir:    filepath.Join(home, ".vmlaunch"),
	}
	p.MachinesDir = filepath.Join(p.DataDir, "machines")
	return p, nil
}

// EnsureDirectories creates the data directory if it doesn't exist.
func (p *Paths) EnsureDirectories() error {
	return os.MkdirAll(p.DataDir, 0755)
}
