// Package testutil provides common test helpers for vmlaunch tests.
package testutil

import (
	"fmt"
	"os"
	"path/filepath"
	"testing"
)

// WriteFile writes content to name inside dir and returns the full path.
func WriteFile(t *testing.T, dir, name, content string) string {
	t.Helper()

	path := filepath.Join(dir, name)
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		t.Fatalf("failed to create directory for %s: %v", path, err)
	}
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("failed to write %s: %v", path, err)
	}
	return path
}

// CanonicalTempDir returns t.TempDir() with symlinks resolved, so it can be
// compared against canonicalized parameters (macOS /var -> /private/var).
func CanonicalTempDir(t *testing.T) string {
	t.Helper()

	dir, err := filepath.EvalSymlinks(t.TempDir())
	if err != nil {
		t.Fatalf("failed to resolve temp dir: %v", err)
	}
	return dir
}

// Prompter answers prompts from a fixed script and records the questions.
// When the script runs out, defaults are returned.
type Prompter struct {
	Answers   []string
	Questions []string
}

// Confirm implements terminal.Prompter. Script entries "y"/"yes" confirm.
func (p *Prompter) Confirm(question string, defaultYes bool) (bool, error) {
	p.Questions = append(p.Questions, question)
	answer, ok := p.next()
	if !ok || answer == "" {
		return defaultYes, nil
	}
	return answer == "y" || answer == "yes", nil
}

// Ask implements terminal.Prompter.
func (p *Prompter) Ask(question, def string) (string, error) {
	p.Questions = append(p.Questions, question)
	answer, ok := p.next()
	if !ok || answer == "" {
		return def, nil
	}
	return answer, nil
}

func (p *Prompter) next() (string, bool) {
	if len(p.Answers) == 0 {
		return "", false
	}
	a := p.Answers[0]
	p.Answers = p.Answers[1:]
	return a, true
}

// FailingPrompter fails every prompt; it proves a code path is non-interactive.
type FailingPrompter struct{}

// Confirm implements terminal.Prompter.
func (FailingPrompter) Confirm(question string, _ bool) (bool, error) {
	return false, fmt.Errorf("unexpected prompt: %s", question)
}

// Ask implements terminal.Prompter.
func (FailingPrompter) Ask(question, _ string) (string, error) {
	return "", fmt.Errorf("unexpected prompt: %s", question)
}
