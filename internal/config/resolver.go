package config

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/javanstorm/vmlaunch/internal/terminal"
	"github.com/javanstorm/vmlaunch/pkg/hypervisor"
	"github.com/javanstorm/vmlaunch/pkg/params"
)

// Request describes the inputs of one resolution.
type Request struct {
	// Overrides are values given as command-line flags.
	Overrides *params.Set

	// ParamFile is an optional key=value parameter file.
	ParamFile string

	// UserDataFile is the user-data file. When empty, the default template
	// is offered.
	UserDataFile string

	// NoUserData skips user data entirely (OVA imports).
	NoUserData bool

	// NameHint is a file whose base name is proposed as machine name when
	// UserDataFile is empty.
	NameHint string
}

// Resolver merges the configuration layers into one parameter set.
type Resolver struct {
	store    *Store
	prompter terminal.Prompter
	logger   zerolog.Logger

	// Warnings collects non-fatal problems from the last Resolve.
	Warnings []string
}

// NewResolver returns a resolver reading global values from store.
func NewResolver(store *Store, p terminal.Prompter) *Resolver {
	if p == nil {
		p = terminal.Defaults{}
	}
	return &Resolver{
		store:    store,
		prompter: p,
		logger:   log.With().Str("component", "resolver").Logger(),
	}
}

// WithLogger sets the resolver's logger.
func (r *Resolver) WithLogger(l zerolog.Logger) *Resolver {
	r.logger = l
	return r
}

func (r *Resolver) warn(field, msg string) {
	r.Warnings = append(r.Warnings, msg)
	r.logger.Warn().Str("field", field).Msg(msg)
}

// Resolve builds the parameter set for a new machine.
func (r *Resolver) Resolve(ctx context.Context, req Request) (*params.Set, error) {
	r.Warnings = nil
	set := params.New()

	if req.ParamFile != "" {
		fileSet, err := LoadKeyValueFile(req.ParamFile)
		if err != nil {
			return nil, fileError("parameter file", req.ParamFile, err)
		}
		set.Merge(fileSet)
	}

	if set.Delete(hypervisor.KeyUserData) {
		r.warn(hypervisor.KeyUserData, "ignoring userData from the parameter file, user data comes from the user-data file")
	}

	if !req.NoUserData {
		userData, err := r.loadUserData(req.UserDataFile)
		if err != nil {
			return nil, err
		}
		set.Replace(hypervisor.KeyUserData, userData)
	}

	if r.store != nil {
		global, err := r.store.Get()
		if err != nil {
			return nil, err
		}
		global.Each(func(k, v string) {
			if k == hypervisor.KeyUserData {
				r.warn(k, "ignoring userData from the global configuration")
				return
			}
			if k == KeyLaunchHomeFolder {
				return
			}
			set.SetMissing(k, v)
		})
	}

	set.AddMissing(Defaults())

	req.Overrides.Each(func(k, v string) {
		if k == hypervisor.KeyUserData {
			r.warn(k, "ignoring userData override, user data comes from the user-data file")
			return
		}
		// Empty paths are rejected by canonicalizePaths below.
		if strings.TrimSpace(v) == "" && !slices.Contains(pathKeys, k) {
			r.warn(k, fmt.Sprintf("ignoring empty %s override", k))
			return
		}
		set.Replace(k, v)
	})

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	if err := r.resolveName(set, req); err != nil {
		return nil, err
	}
	if err := validateDeployment(set); err != nil {
		return nil, err
	}
	if err := canonicalizePaths(set); err != nil {
		return nil, err
	}

	set.SetMissing(hypervisor.KeySecret, DefaultSecret)
	return set, nil
}

func (r *Resolver) loadUserData(path string) (string, error) {
	if path == "" {
		ok, err := r.prompter.Confirm("No user-data file given. Use the default CernVM user data?", true)
		if err != nil {
			return "", err
		}
		if !ok {
			return "", ErrAborted
		}
		return DefaultUserData, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return "", fileError(hypervisor.KeyUserData, path, err)
	}
	return string(data), nil
}

func (r *Resolver) resolveName(set *params.Set, req Request) error {
	if name, _ := set.Get(hypervisor.KeyName); name != "" {
		return ValidateName(name)
	}

	candidate := FallbackName
	hint := req.UserDataFile
	if hint == "" {
		hint = req.NameHint
	}
	if hint != "" {
		base := filepath.Base(hint)
		if stem := strings.TrimSuffix(base, filepath.Ext(base)); stem != "" && stem != "." {
			candidate = stem
		}
	}

	name, err := r.prompter.Ask("Machine name", candidate)
	if err != nil {
		return err
	}
	name = strings.TrimSpace(name)
	if err := ValidateName(name); err != nil {
		return err
	}
	set.Set(hypervisor.KeyName, name)
	return nil
}
