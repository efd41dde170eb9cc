package cli

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"
)

// Process exit codes.
const (
	ExitOK           = 0
	ExitArgCount     = 1
	ExitInvalidValue = 2
	ExitUnknownOp    = 3
	ExitRuntime      = 4
)

// UsageError is a command line the CLI could not accept.
type UsageError struct {
	Code int
	Err  error
}

func (e *UsageError) Error() string {
	return e.Err.Error()
}

func (e *UsageError) Unwrap() error {
	return e.Err
}

// ExitCode maps an error returned by Execute to a process exit code.
func ExitCode(err error) int {
	if err == nil {
		return ExitOK
	}
	var usage *UsageError
	if errors.As(err, &usage) {
		return usage.Code
	}
	return ExitRuntime
}

// exactArgs is cobra.ExactArgs reporting a wrong count as a usage error.
func exactArgs(n int) cobra.PositionalArgs {
	return argCount(cobra.ExactArgs(n))
}

func rangeArgs(min, max int) cobra.PositionalArgs {
	return argCount(cobra.RangeArgs(min, max))
}

func maxArgs(n int) cobra.PositionalArgs {
	return argCount(cobra.MaximumNArgs(n))
}

func argCount(check cobra.PositionalArgs) cobra.PositionalArgs {
	return func(cmd *cobra.Command, args []string) error {
		if err := check(cmd, args); err != nil {
			return &UsageError{Code: ExitArgCount, Err: fmt.Errorf("%s: %w", cmd.CommandPath(), err)}
		}
		return nil
	}
}

// flagError reports an unparsable flag as an invalid value.
func flagError(cmd *cobra.Command, err error) error {
	return &UsageError{Code: ExitInvalidValue, Err: fmt.Errorf("%s: %w", cmd.CommandPath(), err)}
}

func invalidValue(format string, a ...any) error {
	return &UsageError{Code: ExitInvalidValue, Err: fmt.Errorf(format, a...)}
}
