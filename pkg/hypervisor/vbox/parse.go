package vbox

import (
	"bufio"
	"bytes"
	"strings"

	"github.com/javanstorm/vmlaunch/pkg/hypervisor"
)

// parseColonList parses "Key:   value" lines as printed by VBoxManage list.
func parseColonList(out []byte) map[string]string {
	m := make(map[string]string)
	sc := bufio.NewScanner(bytes.NewReader(out))
	for sc.Scan() {
		key, value, ok := strings.Cut(sc.Text(), ":")
		if !ok {
			continue
		}
		m[strings.TrimSpace(key)] = strings.TrimSpace(value)
	}
	return m
}

// parseVMList parses `"name" {uuid}` lines and returns the names.
func parseVMList(out []byte) []string {
	var names []string
	sc := bufio.NewScanner(bytes.NewReader(out))
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if !strings.HasPrefix(line, `"`) {
			continue
		}
		end := strings.LastIndex(line, `" {`)
		if end <= 0 {
			continue
		}
		names = append(names, line[1:end])
	}
	return names
}

// parseMachineReadable parses key="value" lines from
// showvminfo --machinereadable. Quotes around keys and values are removed.
func parseMachineReadable(out []byte) map[string]string {
	m := make(map[string]string)
	sc := bufio.NewScanner(bytes.NewReader(out))
	for sc.Scan() {
		key, value, ok := strings.Cut(sc.Text(), "=")
		if !ok {
			continue
		}
		m[unquote(key)] = unquote(value)
	}
	return m
}

func unquote(s string) string {
	s = strings.TrimSpace(s)
	if len(s) >= 2 && s[0] == '"' && s[len(s)-1] == '"' {
		return s[1 : len(s)-1]
	}
	return s
}

// machineState maps a VMState value to a session state.
func machineState(vmState string) hypervisor.State {
	switch vmState {
	case "running", "starting", "restoring":
		return hypervisor.StateRunning
	case "paused":
		return hypervisor.StatePaused
	case "saved", "poweroff", "aborted", "saving", "stopping":
		return hypervisor.StateStopped
	default:
		return hypervisor.StateUnknown
	}
}
