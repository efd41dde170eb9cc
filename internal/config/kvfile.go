package config

import (
	"bufio"
	"bytes"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/javanstorm/vmlaunch/pkg/params"
)

const (
	keyValueSeparator = "="
	commentPrefix     = "#"
)

// ParseKeyValue reads key=value lines from r.
//
// Lines starting with '#' and lines without '=' are ignored. Keys and values
// are trimmed and a value wrapped in matching single or double quotes loses
// them. Entries with an empty key or value are dropped. A repeated key keeps
// the last value.
func ParseKeyValue(r io.Reader) (*params.Set, error) {
	out := params.New()
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	for scanner.Scan() {
		line := scanner.Text()
		if line == "" || strings.HasPrefix(line, commentPrefix) {
			continue
		}

		key, value, ok := strings.Cut(line, keyValueSeparator)
		if !ok {
			continue
		}
		key = strings.TrimSpace(key)
		value = unquote(strings.TrimSpace(value))

		if key == "" || value == "" {
			continue
		}
		out.Set(key, value)
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

func unquote(v string) string {
	if len(v) > 1 {
		first, last := v[0], v[len(v)-1]
		if (first == '"' && last == '"') || (first == '\'' && last == '\'') {
			return v[1 : len(v)-1]
		}
	}
	return v
}

// LoadKeyValueFile parses the key=value file at path.
func LoadKeyValueFile(path string) (*params.Set, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return ParseKeyValue(f)
}

// WriteKeyValueFile writes set to path as key=value lines, preceded by
// header as '#' comments. The file is replaced atomically.
func WriteKeyValueFile(path string, set *params.Set, header string) error {
	var buf bytes.Buffer
	for _, line := range strings.Split(strings.TrimSpace(header), "\n") {
		if line != "" {
			fmt.Fprintf(&buf, "%s %s\n", commentPrefix, line)
		}
	}
	set.Each(func(k, v string) {
		if strings.ContainsAny(v, " \t#") {
			v = `"` + v + `"`
		}
		fmt.Fprintf(&buf, "%s%s%s\n", k, keyValueSeparator, v)
	})

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("create config dir: %w", err)
	}

	tmpPath := path + ".tmp"
	if err := os.WriteFile(tmpPath, buf.Bytes(), 0644); err != nil {
		return fmt.Errorf("write config file: %w", err)
	}
	return os.Rename(tmpPath, path)
}
