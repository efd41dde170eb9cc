package hypervisor

import (
	"strconv"
	"strings"
)

// Flags is the deployment bitmask stored under KeyFlags.
type Flags uint32

// Deployment flag bits.
const (
	Flag64Bit              Flags = 1 << 0
	FlagDeploymentHDD      Flags = 1 << 1
	FlagGuestAdditions     Flags = 1 << 2
	FlagFloppyIO           Flags = 1 << 3
	FlagHeadful            Flags = 1 << 4
	FlagGraphical          Flags = 1 << 5
	FlagDualNIC            Flags = 1 << 6
	FlagSerialLogfile      Flags = 1 << 7
	FlagDeploymentHDDLocal Flags = 1 << 8
	FlagImportOVA          Flags = 1 << 9
)

// DefaultFlags is a 64-bit, headful machine with graphical extensions (49).
const DefaultFlags = Flag64Bit | FlagHeadful | FlagGraphical

// ParseFlags parses a decimal flags value. Empty input yields zero.
func ParseFlags(s string) (Flags, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, nil
	}
	n, err := strconv.ParseUint(s, 10, 32)
	if err != nil {
		return 0, ErrInvalidFlags
	}
	return Flags(n), nil
}

// Has reports whether all bits of b are set.
func (f Flags) Has(b Flags) bool {
	return f&b == b
}

// LocalDisk reports whether the machine boots from a local disk image.
func (f Flags) LocalDisk() bool {
	return f.Has(FlagDeploymentHDDLocal)
}

// RemoteDisk reports whether the machine boots from a downloaded disk image.
func (f Flags) RemoteDisk() bool {
	return f.Has(FlagDeploymentHDD) && !f.LocalDisk()
}

// String returns the decimal form stored in parameter sets.
func (f Flags) String() string {
	return strconv.FormatUint(uint64(f), 10)
}
