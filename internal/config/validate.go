package config

import (
	"errors"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/javanstorm/vmlaunch/pkg/hypervisor"
	"github.com/javanstorm/vmlaunch/pkg/params"
)

// namePattern is the character set allowed in machine names.
var namePattern = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9_.-]*$`)

// pathKeys are the parameters that name host filesystem paths.
var pathKeys = []string{
	hypervisor.KeySharedFolder,
	hypervisor.KeyDiskPath,
	hypervisor.KeyOVAPath,
	hypervisor.KeyISOPath,
}

// ValidateName checks that name only uses letters, digits, '_', '.' and '-'.
func ValidateName(name string) error {
	if name == "" {
		return missing(hypervisor.KeyName)
	}
	if !namePattern.MatchString(name) {
		return &ParamError{Kind: ErrInvalidName, Field: hypervisor.KeyName, Value: name}
	}
	return nil
}

// errEmptyPath rejects empty path values, which filepath.Abs would turn
// into the working directory.
var errEmptyPath = errors.New("empty path")

// CanonicalPath returns the absolute, symlink-free form of an existing path.
func CanonicalPath(p string) (string, error) {
	if strings.TrimSpace(p) == "" {
		return "", errEmptyPath
	}
	abs, err := filepath.Abs(expandHome(p))
	if err != nil {
		return "", err
	}
	return filepath.EvalSymlinks(abs)
}

// canonicalizePaths replaces every path parameter with its canonical form.
func canonicalizePaths(set *params.Set) error {
	for _, key := range pathKeys {
		v, ok := set.Get(key)
		if !ok {
			continue
		}
		canonical, err := CanonicalPath(v)
		if err != nil {
			return &ParamError{Kind: ErrInvalidPath, Field: key, Value: v, Err: err}
		}
		set.Set(key, canonical)
	}
	return nil
}

// validateDeployment checks the parameters the deployment flags require.
func validateDeployment(set *params.Set) error {
	raw := set.GetDefault(hypervisor.KeyFlags, "")
	flags, err := hypervisor.ParseFlags(raw)
	if err != nil {
		return &ParamError{Kind: ErrInvalidValue, Field: hypervisor.KeyFlags, Value: raw, Err: err}
	}

	var required []string
	switch {
	case flags.LocalDisk():
		required = append(required, hypervisor.KeyDiskPath)
	case flags.RemoteDisk():
		required = append(required, hypervisor.KeyDiskURL, hypervisor.KeyDiskChecksum)
	}
	if flags.Has(hypervisor.FlagImportOVA) {
		required = append(required, hypervisor.KeyOVAPath)
	}

	for _, key := range required {
		if v, _ := set.Get(key); v == "" {
			return missing(key)
		}
	}
	return nil
}
