package hypervisor

import (
	"context"
	"errors"
	"testing"
)

func TestDefaultFlags(t *testing.T) {
	if DefaultFlags != 49 {
		t.Errorf("DefaultFlags = %d, want 49", DefaultFlags)
	}
	if DefaultFlags.String() != "49" {
		t.Errorf("DefaultFlags.String() = %q, want 49", DefaultFlags.String())
	}
}

func TestParseFlags(t *testing.T) {
	tests := []struct {
		in      string
		want    Flags
		wantErr bool
	}{
		{in: "", want: 0},
		{in: "49", want: 49},
		{in: " 561 ", want: 561},
		{in: "-1", wantErr: true},
		{in: "0x10", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseFlags(tt.in)
			if tt.wantErr {
				if !errors.Is(err, ErrInvalidFlags) {
					t.Errorf("ParseFlags(%q) error = %v, want ErrInvalidFlags", tt.in, err)
				}
				return
			}
			if err != nil {
				t.Fatalf("ParseFlags(%q): %v", tt.in, err)
			}
			if got != tt.want {
				t.Errorf("ParseFlags(%q) = %d, want %d", tt.in, got, tt.want)
			}
		})
	}
}

func TestDeploymentModes(t *testing.T) {
	local := DefaultFlags | FlagDeploymentHDD | FlagDeploymentHDDLocal
	if !local.LocalDisk() || local.RemoteDisk() {
		t.Errorf("flags %d: LocalDisk=%v RemoteDisk=%v", local, local.LocalDisk(), local.RemoteDisk())
	}

	remote := DefaultFlags | FlagDeploymentHDD
	if remote.LocalDisk() || !remote.RemoteDisk() {
		t.Errorf("flags %d: LocalDisk=%v RemoteDisk=%v", remote, remote.LocalDisk(), remote.RemoteDisk())
	}

	if DefaultFlags.LocalDisk() || DefaultFlags.RemoteDisk() {
		t.Error("default flags should not select a disk deployment")
	}
}

func TestStateString(t *testing.T) {
	if StateRunning.String() != "running" {
		t.Errorf("StateRunning = %q", StateRunning.String())
	}
	if State(99).String() != "unknown" {
		t.Errorf("State(99) = %q", State(99).String())
	}
}

func TestDetectWrapsFailures(t *testing.T) {
	_, err := Detect(context.Background(), func(context.Context) (Hypervisor, error) {
		return nil, errors.New("VBoxManage not found")
	})
	if !errors.Is(err, ErrUnavailable) {
		t.Errorf("Detect error = %v, want ErrUnavailable", err)
	}

	if _, err := Detect(context.Background(), nil); !errors.Is(err, ErrUnavailable) {
		t.Errorf("Detect(nil) error = %v, want ErrUnavailable", err)
	}
}
