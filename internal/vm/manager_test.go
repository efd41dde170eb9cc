package vm

import (
	"bytes"
	"context"
	"errors"
	"path/filepath"
	"reflect"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/javanstorm/vmlaunch/internal/config"
	"github.com/javanstorm/vmlaunch/internal/testutil"
	"github.com/javanstorm/vmlaunch/internal/timing"
	"github.com/javanstorm/vmlaunch/pkg/hypervisor"
	"github.com/javanstorm/vmlaunch/pkg/hypervisor/hypervisortest"
	"github.com/javanstorm/vmlaunch/pkg/params"
)

// newTestManager returns a manager over hv whose destroy delay is recorded
// instead of slept.
func newTestManager(hv *hypervisortest.Hypervisor, cfg ManagerConfig) (*Manager, *[]time.Duration) {
	nop := zerolog.Nop()
	cfg.Logger = &nop
	m := NewManager(hv, cfg)

	var slept []time.Duration
	m.sleep = func(ctx context.Context, d time.Duration) error {
		slept = append(slept, d)
		return nil
	}
	return m, &slept
}

func machineParams(name string) *params.Set {
	p := config.Defaults()
	p.Set(hypervisor.KeyName, name)
	p.Set(hypervisor.KeyUserData, "[cernvm]\n")
	p.Set(hypervisor.KeySecret, config.DefaultSecret)
	return p
}

func TestCreateNoStart(t *testing.T) {
	hv := hypervisortest.New()
	var out bytes.Buffer
	m, _ := newTestManager(hv, ManagerConfig{Out: &out})

	if err := m.Create(context.Background(), machineParams("myvm"), false); err != nil {
		t.Fatalf("Create: %v", err)
	}

	want := []string{"load", "allocate", "open:myvm", "start:myvm", "stop:myvm"}
	if !reflect.DeepEqual(hv.Calls, want) {
		t.Errorf("calls = %v, want %v", hv.Calls, want)
	}

	s, ok := hv.SessionByName("myvm")
	if !ok {
		t.Fatal("session not registered")
	}
	if st := s.(*hypervisortest.Session).MachineState(); st != hypervisor.StateStopped {
		t.Errorf("state = %s, want stopped", st)
	}
	if v, _ := s.Parameters().Get(hypervisor.KeyUserData); v != "[cernvm]\n" {
		t.Errorf("userData = %q", v)
	}

	summary := out.String()
	for _, want := range []string{"myvm", "cernvmVersion:", "latest", "flags:", "49"} {
		if !strings.Contains(summary, want) {
			t.Errorf("summary missing %q:\n%s", want, summary)
		}
	}
}

func TestCreateAndStart(t *testing.T) {
	hv := hypervisortest.New()
	timer := timing.New("create")
	m, _ := newTestManager(hv, ManagerConfig{Timer: timer})

	if err := m.Create(context.Background(), machineParams("vm1"), true); err != nil {
		t.Fatalf("Create: %v", err)
	}
	if n := hv.CallCount("stop:vm1"); n != 0 {
		t.Errorf("stop issued %d times, want 0", n)
	}
	s, _ := hv.SessionByName("vm1")
	if st := s.(*hypervisortest.Session).MachineState(); st != hypervisor.StateRunning {
		t.Errorf("state = %s, want running", st)
	}

	var phases []string
	for _, p := range timer.Phases() {
		phases = append(phases, p.Name)
	}
	if want := []string{"allocate", "open", "start"}; !reflect.DeepEqual(phases, want) {
		t.Errorf("phases = %v, want %v", phases, want)
	}
}

func TestCreateDuplicateName(t *testing.T) {
	hv := hypervisortest.New()
	m, _ := newTestManager(hv, ManagerConfig{})

	if err := m.Create(context.Background(), machineParams("vm1"), false); err != nil {
		t.Fatalf("first Create: %v", err)
	}
	err := m.Create(context.Background(), machineParams("vm1"), false)
	if !errors.Is(err, ErrAlreadyExists) {
		t.Errorf("got %v, want ErrAlreadyExists", err)
	}
	if n := hv.CallCount("allocate"); n != 1 {
		t.Errorf("allocate issued %d times, want 1", n)
	}
	if n := len(hv.Sessions()); n != 1 {
		t.Errorf("%d sessions registered, want 1", n)
	}
}

func TestCreateRequiresName(t *testing.T) {
	hv := hypervisortest.New()
	m, _ := newTestManager(hv, ManagerConfig{})

	if err := m.Create(context.Background(), params.New(), false); !errors.Is(err, ErrNoName) {
		t.Errorf("got %v, want ErrNoName", err)
	}
	if len(hv.Calls) != 0 {
		t.Errorf("calls = %v, want none", hv.Calls)
	}
}

func TestCreateStartFailure(t *testing.T) {
	hv := hypervisortest.New()
	startErr := errors.New("no disk space")
	hv.Fail["start"] = startErr
	m, _ := newTestManager(hv, ManagerConfig{})

	err := m.Create(context.Background(), machineParams("vm1"), false)
	if !errors.Is(err, startErr) {
		t.Errorf("got %v, want %v", err, startErr)
	}
	if n := hv.CallCount("stop:vm1"); n != 0 {
		t.Errorf("stop issued after failed start")
	}
}

func TestImport(t *testing.T) {
	dir := testutil.CanonicalTempDir(t)
	image := testutil.WriteFile(t, dir, "appliance.ova", "ova")

	tests := []struct {
		name      string
		flags     string
		wantFlags string
	}{
		{"default base", "", "561"},
		{"user flags kept", "51", "563"},
		{"bit already set", "561", "561"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			hv := hypervisortest.New()
			m, _ := newTestManager(hv, ManagerConfig{})

			p := params.New()
			p.Set(hypervisor.KeyName, "appliance")
			p.Set(hypervisor.KeyCernVMVersion, "latest")
			if tt.flags != "" {
				p.Set(hypervisor.KeyFlags, tt.flags)
			}

			if err := m.Import(context.Background(), image, p, false); err != nil {
				t.Fatalf("Import: %v", err)
			}
			s, _ := hv.SessionByName("appliance")
			stored := s.Parameters()
			if v, _ := stored.Get(hypervisor.KeyFlags); v != tt.wantFlags {
				t.Errorf("flags = %q, want %q", v, tt.wantFlags)
			}
			if v, _ := stored.Get(hypervisor.KeyOVAPath); v != image {
				t.Errorf("ovaPath = %q, want %q", v, image)
			}
			if v, _ := stored.Get(hypervisor.KeyImportMode); v != hypervisor.ImportModeOVA {
				t.Errorf("importMode = %q, want %q", v, hypervisor.ImportModeOVA)
			}
			if p.Has(hypervisor.KeyOVAPath) {
				t.Error("Import should not modify the caller's set")
			}
		})
	}
}

func TestImportInvalid(t *testing.T) {
	hv := hypervisortest.New()
	m, _ := newTestManager(hv, ManagerConfig{})
	p := machineParams("vm1")

	err := m.Import(context.Background(), filepath.Join(t.TempDir(), "missing.ova"), p, false)
	if !errors.Is(err, config.ErrInvalidPath) {
		t.Errorf("missing image: got %v, want ErrInvalidPath", err)
	}

	image := testutil.WriteFile(t, t.TempDir(), "a.ova", "ova")
	p.Set(hypervisor.KeyFlags, "-1")
	if err := m.Import(context.Background(), image, p, false); !errors.Is(err, config.ErrInvalidValue) {
		t.Errorf("bad flags: got %v, want ErrInvalidValue", err)
	}
	if len(hv.Calls) != 0 {
		t.Errorf("calls = %v, want none", hv.Calls)
	}
}

func TestStartStopPause(t *testing.T) {
	tests := []struct {
		op   string
		run  func(m *Manager, name string) error
		want hypervisor.State
	}{
		{"start", func(m *Manager, n string) error { return m.Start(context.Background(), n) }, hypervisor.StateRunning},
		{"stop", func(m *Manager, n string) error { return m.Stop(context.Background(), n) }, hypervisor.StateStopped},
		{"pause", func(m *Manager, n string) error { return m.Pause(context.Background(), n) }, hypervisor.StatePaused},
	}

	for _, tt := range tests {
		t.Run(tt.op, func(t *testing.T) {
			hv := hypervisortest.New()
			s := hv.AddMachine("vm1", hypervisor.StateOpened, nil)
			m, _ := newTestManager(hv, ManagerConfig{})

			if err := tt.run(m, "vm1"); err != nil {
				t.Fatalf("%s: %v", tt.op, err)
			}
			want := []string{"load", "open:vm1", tt.op + ":vm1"}
			if !reflect.DeepEqual(hv.Calls, want) {
				t.Errorf("calls = %v, want %v", hv.Calls, want)
			}
			if st := s.MachineState(); st != tt.want {
				t.Errorf("state = %s, want %s", st, tt.want)
			}

			if err := tt.run(m, "ghost"); !errors.Is(err, ErrNotFound) {
				t.Errorf("unknown machine: got %v, want ErrNotFound", err)
			}

			opErr := errors.New("backend refused")
			hv.Fail[tt.op] = opErr
			if err := tt.run(m, "vm1"); !errors.Is(err, opErr) {
				t.Errorf("failing backend: got %v, want %v", err, opErr)
			}
		})
	}
}

func TestDestroyRetrySucceeds(t *testing.T) {
	hv := hypervisortest.New()
	hv.AddMachine("vm1", hypervisor.StateStopped, nil)
	hv.DestroyErrs = []error{errors.New("machine locked")}
	m, slept := newTestManager(hv, ManagerConfig{DestroyDelay: 3 * time.Second})

	destroyed, err := m.Destroy(context.Background(), "vm1", false)
	if err != nil || !destroyed {
		t.Fatalf("Destroy = %v, %v; want true, nil", destroyed, err)
	}
	if n := hv.CallCount("destroy:vm1"); n != 2 {
		t.Errorf("destroy attempts = %d, want 2", n)
	}
	if !reflect.DeepEqual(*slept, []time.Duration{3 * time.Second}) {
		t.Errorf("slept %v, want one 3s delay", *slept)
	}
	if _, ok := hv.SessionByName("vm1"); ok {
		t.Error("session should be removed from the registry")
	}
}

func TestDestroyRetryExhausted(t *testing.T) {
	hv := hypervisortest.New()
	hv.AddMachine("vm1", hypervisor.StateStopped, nil)
	locked := errors.New("machine locked")
	hv.DestroyErrs = []error{locked, locked, locked}
	m, _ := newTestManager(hv, ManagerConfig{})

	destroyed, err := m.Destroy(context.Background(), "vm1", true)
	if !errors.Is(err, ErrDestroyFailed) {
		t.Errorf("got %v, want ErrDestroyFailed", err)
	}
	if destroyed {
		t.Error("Destroy reported success")
	}
	if n := hv.CallCount("destroy:vm1"); n != 2 {
		t.Errorf("destroy attempts = %d, want exactly 2", n)
	}
	if n := hv.CallCount("delete:vm1"); n != 0 {
		t.Errorf("registry delete issued %d times, want 0", n)
	}
	if _, ok := hv.SessionByName("vm1"); !ok {
		t.Error("session should remain in the registry")
	}
}

func TestDestroyUnsupportedBackend(t *testing.T) {
	hv := hypervisortest.New()
	hv.AddMachine("vm1", hypervisor.StateStopped, nil)
	hv.NoDestroy = true
	m, _ := newTestManager(hv, ManagerConfig{})

	_, err := m.Destroy(context.Background(), "vm1", true)
	if !errors.Is(err, hypervisor.ErrUnsupportedBackend) {
		t.Errorf("got %v, want ErrUnsupportedBackend", err)
	}
	if n := hv.CallCount("destroy:vm1"); n != 0 {
		t.Errorf("destroy attempted %d times, want 0", n)
	}
}

func TestDestroyRunning(t *testing.T) {
	tests := []struct {
		name          string
		force         bool
		answers       []string
		wantDestroyed bool
		wantCalls     []string
	}{
		{
			name:          "declined is a no-op",
			answers:       []string{"n"},
			wantDestroyed: false,
			wantCalls:     []string{"load", "open:vm1"},
		},
		{
			name:          "no answer defaults to no",
			wantDestroyed: false,
			wantCalls:     []string{"load", "open:vm1"},
		},
		{
			name:          "confirmed",
			answers:       []string{"y"},
			wantDestroyed: true,
			wantCalls:     []string{"load", "open:vm1", "stop:vm1", "destroy:vm1", "delete:vm1"},
		},
		{
			name:          "forced skips the question",
			force:         true,
			wantDestroyed: true,
			wantCalls:     []string{"load", "open:vm1", "stop:vm1", "destroy:vm1", "delete:vm1"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			hv := hypervisortest.New()
			hv.AddMachine("vm1", hypervisor.StateRunning, nil)
			p := &testutil.Prompter{Answers: tt.answers}
			m, _ := newTestManager(hv, ManagerConfig{Prompter: p})

			destroyed, err := m.Destroy(context.Background(), "vm1", tt.force)
			if err != nil {
				t.Fatalf("Destroy: %v", err)
			}
			if destroyed != tt.wantDestroyed {
				t.Errorf("destroyed = %v, want %v", destroyed, tt.wantDestroyed)
			}
			if !reflect.DeepEqual(hv.Calls, tt.wantCalls) {
				t.Errorf("calls = %v, want %v", hv.Calls, tt.wantCalls)
			}
			if tt.force && len(p.Questions) != 0 {
				t.Errorf("forced destroy asked %v", p.Questions)
			}
		})
	}
}

func TestDestroyUnknownState(t *testing.T) {
	tests := []struct {
		name          string
		force         bool
		answers       []string
		stopErr       error
		wantDestroyed bool
		wantCalls     []string
	}{
		{
			name:      "asks before destroying",
			answers:   []string{"n"},
			wantCalls: []string{"load", "open:vm1"},
		},
		{
			name:          "confirmed stops first",
			answers:       []string{"y"},
			wantDestroyed: true,
			wantCalls:     []string{"load", "open:vm1", "stop:vm1", "destroy:vm1", "delete:vm1"},
		},
		{
			name:          "forced ignores a failed stop",
			force:         true,
			stopErr:       errors.New("not running"),
			wantDestroyed: true,
			wantCalls:     []string{"load", "open:vm1", "stop:vm1", "destroy:vm1", "delete:vm1"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			hv := hypervisortest.New()
			hv.AddMachine("vm1", hypervisor.StateRunning, nil)
			hv.Fail["state"] = errors.New("showvminfo failed")
			if tt.stopErr != nil {
				hv.Fail["stop"] = tt.stopErr
			}
			p := &testutil.Prompter{Answers: tt.answers}
			m, _ := newTestManager(hv, ManagerConfig{Prompter: p})

			destroyed, err := m.Destroy(context.Background(), "vm1", tt.force)
			if err != nil {
				t.Fatalf("Destroy: %v", err)
			}
			if destroyed != tt.wantDestroyed {
				t.Errorf("destroyed = %v, want %v", destroyed, tt.wantDestroyed)
			}
			if !reflect.DeepEqual(hv.Calls, tt.wantCalls) {
				t.Errorf("calls = %v, want %v", hv.Calls, tt.wantCalls)
			}
			if !tt.force && (len(p.Questions) != 1 || !strings.Contains(p.Questions[0], "unknown")) {
				t.Errorf("questions = %q, want one about the unknown state", p.Questions)
			}
		})
	}
}

func TestDestroyNotFound(t *testing.T) {
	m, _ := newTestManager(hypervisortest.New(), ManagerConfig{})
	if _, err := m.Destroy(context.Background(), "ghost", true); !errors.Is(err, ErrNotFound) {
		t.Errorf("got %v, want ErrNotFound", err)
	}
}

func TestSleepContext(t *testing.T) {
	if err := sleepContext(context.Background(), time.Millisecond); err != nil {
		t.Errorf("sleepContext: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := sleepContext(ctx, time.Hour); !errors.Is(err, context.Canceled) {
		t.Errorf("got %v, want context.Canceled", err)
	}
}
