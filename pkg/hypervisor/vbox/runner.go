package vbox

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strings"
)

// Runner executes VBoxManage with args and returns its standard output.
type Runner interface {
	Run(ctx context.Context, args ...string) ([]byte, error)
}

// execRunner runs the VBoxManage binary at path.
type execRunner struct {
	path string
}

// Run implements Runner.
func (r execRunner) Run(ctx context.Context, args ...string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, r.path, args...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		msg := strings.TrimSpace(stderr.String())
		if msg == "" {
			msg = err.Error()
		}
		return nil, &CommandError{Args: args, Msg: msg, Err: err}
	}
	return stdout.Bytes(), nil
}

// CommandError reports a failed VBoxManage invocation.
type CommandError struct {
	Args []string
	Msg  string
	Err  error
}

func (e *CommandError) Error() string {
	op := "VBoxManage"
	if len(e.Args) > 0 {
		op += " " + e.Args[0]
	}
	return fmt.Sprintf("%s: %s", op, e.Msg)
}

func (e *CommandError) Unwrap() error {
	return e.Err
}
