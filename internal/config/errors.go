package config

import (
	"errors"
	"fmt"
)

// Error kinds. Match with errors.Is.
var (
	ErrFile              = errors.New("config: cannot read file")
	ErrMissingParameter  = errors.New("config: missing parameter")
	ErrInvalidName       = errors.New("config: invalid machine name")
	ErrInvalidPath       = errors.New("config: invalid path")
	ErrInvalidValue      = errors.New("config: invalid value")
	ErrConfigUnavailable = errors.New("config: global configuration unavailable")
	ErrAborted           = errors.New("config: aborted by user")
)

// ParamError reports a problem with one parameter.
type ParamError struct {
	Kind  error  // one of the Err* kinds above
	Field string // offending parameter or file role
	Value string // offending value, if any
	Err   error  // underlying cause, if any
}

func (e *ParamError) Error() string {
	msg := fmt.Sprintf("%v: %s", e.Kind, e.Field)
	if e.Value != "" {
		msg += fmt.Sprintf(" (%q)", e.Value)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

// Unwrap exposes both the kind and the cause.
func (e *ParamError) Unwrap() []error {
	if e.Err != nil {
		return []error{e.Kind, e.Err}
	}
	return []error{e.Kind}
}

func missing(field string) error {
	return &ParamError{Kind: ErrMissingParameter, Field: field}
}

func fileError(field, path string, err error) error {
	return &ParamError{Kind: ErrFile, Field: field, Value: path, Err: err}
}
