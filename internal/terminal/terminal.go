// Package terminal provides TTY handling and interactive prompts.
package terminal

import (
	"fmt"
	"os"

	"golang.org/x/term"
)

// Console wraps the process's controlling terminal.
type Console struct {
	out *os.File
	fd  int
}

// Current returns the current console.
func Current() *Console {
	return &Console{
		out: os.Stderr,
		fd:  int(os.Stdin.Fd()),
	}
}

// IsTTY returns true if stdin is a terminal.
func IsTTY() bool {
	return term.IsTerminal(int(os.Stdin.Fd()))
}

// SetRaw puts the terminal into raw mode and returns restore function.
func (c *Console) SetRaw() (func(), error) {
	oldState, err := term.MakeRaw(c.fd)
	if err != nil {
		return nil, err
	}
	return func() {
		term.Restore(c.fd, oldState)
	}, nil
}

// Size returns the current terminal size.
func (c *Console) Size() (width, height int, err error) {
	return term.GetSize(c.fd)
}

// ReadPassword prints prompt and reads a line without echo.
func (c *Console) ReadPassword(prompt string) (string, error) {
	fmt.Fprint(c.out, prompt)
	b, err := term.ReadPassword(c.fd)
	fmt.Fprintln(c.out)
	if err != nil {
		return "", fmt.Errorf("read password: %w", err)
	}
	return string(b), nil
}
