package terminal

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"strings"
)

// Prompter asks the user questions on behalf of a command.
type Prompter interface {
	// Confirm asks a yes/no question. An empty answer selects defaultYes.
	Confirm(question string, defaultYes bool) (bool, error)

	// Ask asks for a value. An empty answer selects def.
	Ask(question, def string) (string, error)
}

// LinePrompter reads one answer per line.
type LinePrompter struct {
	r   *bufio.Reader
	out io.Writer
}

// NewLinePrompter returns a prompter reading answers from in and writing
// questions to out.
func NewLinePrompter(in io.Reader, out io.Writer) *LinePrompter {
	return &LinePrompter{r: bufio.NewReader(in), out: out}
}

func (p *LinePrompter) readLine() (string, error) {
	line, err := p.r.ReadString('\n')
	if err != nil && !(errors.Is(err, io.EOF) && line != "") {
		if errors.Is(err, io.EOF) {
			return "", nil
		}
		return "", fmt.Errorf("read answer: %w", err)
	}
	return strings.TrimSpace(line), nil
}

// Confirm implements Prompter.
func (p *LinePrompter) Confirm(question string, defaultYes bool) (bool, error) {
	defaultStr := "Y/n"
	if !defaultYes {
		defaultStr = "y/N"
	}

	fmt.Fprintf(p.out, "%s [%s]: ", question, defaultStr)
	input, err := p.readLine()
	if err != nil {
		return false, err
	}
	input = strings.ToLower(input)

	if input == "" {
		return defaultYes, nil
	}
	return input == "y" || input == "yes", nil
}

// Ask implements Prompter.
func (p *LinePrompter) Ask(question, def string) (string, error) {
	if def != "" {
		fmt.Fprintf(p.out, "%s [%s]: ", question, def)
	} else {
		fmt.Fprintf(p.out, "%s: ", question)
	}
	input, err := p.readLine()
	if err != nil {
		return "", err
	}
	if input == "" {
		return def, nil
	}
	return input, nil
}

// Defaults answers every question with its default. Components fall back to
// it when they are built without a prompter.
type Defaults struct{}

// Confirm implements Prompter.
func (Defaults) Confirm(question string, defaultYes bool) (bool, error) {
	return defaultYes, nil
}

// Ask implements Prompter.
func (Defaults) Ask(question, def string) (string, error) {
	return def, nil
}
