package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"path/filepath"
	"strings"
	"testing"

	"gopkg.in/yaml.v3"

	"github.com/javanstorm/vmlaunch/internal/config"
	"github.com/javanstorm/vmlaunch/internal/testutil"
	"github.com/javanstorm/vmlaunch/internal/vm"
	"github.com/javanstorm/vmlaunch/pkg/hypervisor"
	"github.com/javanstorm/vmlaunch/pkg/hypervisor/hypervisortest"
	"github.com/javanstorm/vmlaunch/pkg/params"
)

type testEnv struct {
	dir      string
	paths    *config.Paths
	hv       *hypervisortest.Hypervisor
	prompter *testutil.Prompter
	out      bytes.Buffer
	errOut   bytes.Buffer
}

// newTestEnv writes a global configuration pointing launchHomeFolder at a
// temp directory, so commands run without prompting for it.
func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	dir := testutil.CanonicalTempDir(t)
	env := &testEnv{
		dir: dir,
		paths: &config.Paths{
			ConfigFile:  filepath.Join(dir, ".vmlaunch.conf"),
			DataDir:     filepath.Join(dir, ".vmlaunch"),
			MachinesDir: filepath.Join(dir, "machines"),
		},
		hv:       hypervisortest.New(),
		prompter: &testutil.Prompter{},
	}
	testutil.WriteFile(t, dir, ".vmlaunch.conf", "launchHomeFolder="+filepath.Join(dir, "machines")+"\nmemory=1024\n")
	return env
}

func (e *testEnv) run(args ...string) error {
	e.out.Reset()
	e.errOut.Reset()
	root := NewRootCommand(Options{
		In:       strings.NewReader(""),
		Out:      &e.out,
		Err:      &e.errOut,
		Prompter: e.prompter,
		Paths:    e.paths,
		Detector: func(ctx context.Context) (hypervisor.Hypervisor, error) {
			return e.hv, nil
		},
		DestroyDelay: 1,
	})
	if args == nil {
		args = []string{}
	}
	root.SetArgs(args)
	return root.ExecuteContext(context.Background())
}

func TestExitCodes(t *testing.T) {
	tests := []struct {
		name string
		args []string
		want int
	}{
		{"help", []string{}, ExitOK},
		{"unknown command", []string{"bogus"}, ExitUnknownOp},
		{"missing name", []string{"start"}, ExitArgCount},
		{"extra argument", []string{"stop", "a", "b"}, ExitArgCount},
		{"create without user data", []string{"create"}, ExitArgCount},
		{"create too many files", []string{"create", "a", "b", "c"}, ExitArgCount},
		{"non-numeric cpus", []string{"create", "--cpus", "many", "ud"}, ExitInvalidValue},
		{"zero memory", []string{"create", "--memory", "0", "ud"}, ExitInvalidValue},
		{"unknown flag", []string{"list", "--colour"}, ExitInvalidValue},
		{"bad output format", []string{"list", "-o", "xml"}, ExitInvalidValue},
		{"bad wait timeout", []string{"list", "--wait-timeout", "soon"}, ExitInvalidValue},
		{"bad log format", []string{"list", "--log-format", "xml"}, ExitInvalidValue},
		{"empty shared folder", []string{"create", "--sharedFolder", "", "ud"}, ExitInvalidValue},
		{"empty version", []string{"import", "--cernvmVersion", "", "a.ova"}, ExitInvalidValue},
		{"empty name", []string{"create", "--name", " ", "ud"}, ExitInvalidValue},
		{"unknown machine", []string{"start", "ghost"}, ExitRuntime},
		{"missing user data file", []string{"create", "--name", "m", "/nonexistent/ud"}, ExitRuntime},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv(t)
			err := env.run(tt.args...)
			if got := ExitCode(err); got != tt.want {
				t.Errorf("exit code = %d, want %d (err: %v)", got, tt.want, err)
			}
		})
	}
}

func TestUnknownMachineIsNotFound(t *testing.T) {
	env := newTestEnv(t)
	for _, cmd := range []string{"start", "stop", "pause", "destroy"} {
		if err := env.run(cmd, "ghost"); !errors.Is(err, vm.ErrNotFound) {
			t.Errorf("%s ghost: error = %v, want ErrNotFound", cmd, err)
		}
	}
}

func TestVersionFlag(t *testing.T) {
	env := newTestEnv(t)
	if err := env.run("-v"); err != nil {
		t.Fatalf("run: %v", err)
	}
	if !strings.HasPrefix(env.out.String(), "vmlaunch ") {
		t.Errorf("output = %q", env.out.String())
	}
	if len(env.hv.Calls) != 0 {
		t.Errorf("version touched the hypervisor: %v", env.hv.Calls)
	}
}

func TestLaunchHomeFolderApplied(t *testing.T) {
	env := newTestEnv(t)
	if err := env.run("list"); err != nil {
		t.Fatalf("list: %v", err)
	}
	if want := filepath.Join(env.dir, "machines"); env.hv.BaseDir != want {
		t.Errorf("BaseDir = %q, want %q", env.hv.BaseDir, want)
	}
}

func TestGlobalConfigCreatedOnFirstRun(t *testing.T) {
	dir := testutil.CanonicalTempDir(t)
	machines := filepath.Join(dir, "vms")
	env := &testEnv{
		dir: dir,
		paths: &config.Paths{
			ConfigFile:  filepath.Join(dir, ".vmlaunch.conf"),
			DataDir:     filepath.Join(dir, ".vmlaunch"),
			MachinesDir: filepath.Join(dir, "machines"),
		},
		hv:       hypervisortest.New(),
		prompter: &testutil.Prompter{Answers: []string{machines}},
	}
	if err := env.run("list"); err != nil {
		t.Fatalf("list: %v", err)
	}
	if env.hv.BaseDir != machines {
		t.Errorf("BaseDir = %q, want %q", env.hv.BaseDir, machines)
	}
	set, err := config.LoadKeyValueFile(env.paths.ConfigFile)
	if err != nil {
		t.Fatalf("LoadKeyValueFile: %v", err)
	}
	if got := set.GetDefault(config.KeyLaunchHomeFolder, ""); got != machines {
		t.Errorf("launchHomeFolder = %q, want %q", got, machines)
	}
}

func TestCreate(t *testing.T) {
	env := newTestEnv(t)
	userData := testutil.WriteFile(t, env.dir, "analysis.txt", "[amiconfig]\n")
	paramFile := testutil.WriteFile(t, env.dir, "analysis.conf", "cpus=4\nmemory=8192\nuserData=ignored\n")

	if err := env.run("create", "--memory", "4096", userData, paramFile); err != nil {
		t.Fatalf("create: %v", err)
	}

	s, ok := env.hv.SessionByName("analysis")
	if !ok {
		t.Fatalf("machine not created; calls %v", env.hv.Calls)
	}
	p := s.Parameters()
	for key, want := range map[string]string{
		"cpus":          "4",
		"memory":        "4096",
		"disk":          "20000",
		"cernvmVersion": "latest",
		"userData":      "[amiconfig]\n",
	} {
		if got := p.GetDefault(key, ""); got != want {
			t.Errorf("%s = %q, want %q", key, got, want)
		}
	}
	if got := env.hv.CallCount("stop:analysis"); got != 0 {
		t.Errorf("machine was hibernated %d times, want running", got)
	}
	if !strings.Contains(env.out.String(), "Machine created with:") {
		t.Errorf("no summary in output %q", env.out.String())
	}
}

func TestCreateNoStartHibernates(t *testing.T) {
	env := newTestEnv(t)
	userData := testutil.WriteFile(t, env.dir, "ud.txt", "")

	if err := env.run("create", "--no-start", "--name", "batch", userData); err != nil {
		t.Fatalf("create: %v", err)
	}
	if got := env.hv.CallCount("stop:batch"); got != 1 {
		t.Errorf("stop calls = %d, want 1", got)
	}
}

func TestCreateDuplicate(t *testing.T) {
	env := newTestEnv(t)
	env.hv.AddMachine("dup", hypervisor.StateStopped, nil)
	userData := testutil.WriteFile(t, env.dir, "ud.txt", "")

	err := env.run("create", "--name", "dup", userData)
	if !errors.Is(err, vm.ErrAlreadyExists) {
		t.Errorf("create error = %v, want ErrAlreadyExists", err)
	}
	if ExitCode(err) != ExitRuntime {
		t.Errorf("exit code = %d, want %d", ExitCode(err), ExitRuntime)
	}
}

func TestImport(t *testing.T) {
	env := newTestEnv(t)
	image := testutil.WriteFile(t, env.dir, "cernvm4.ova", "ova")

	if err := env.run("import", "--no-start", "--flags", "8", image); err != nil {
		t.Fatalf("import: %v", err)
	}
	s, ok := env.hv.SessionByName("cernvm4")
	if !ok {
		t.Fatalf("machine not imported; calls %v", env.hv.Calls)
	}
	p := s.Parameters()
	if got := p.GetDefault(hypervisor.KeyFlags, ""); got != "520" {
		t.Errorf("flags = %q, want 520", got)
	}
	if got := p.GetDefault(hypervisor.KeyImportMode, ""); got != hypervisor.ImportModeOVA {
		t.Errorf("importMode = %q", got)
	}
	if got := p.GetDefault(hypervisor.KeyOVAPath, ""); got != image {
		t.Errorf("ovaPath = %q, want %q", got, image)
	}
	if p.Has(hypervisor.KeyUserData) {
		t.Error("import stored user data")
	}
	if len(env.prompter.Questions) != 1 {
		t.Errorf("questions = %q, want only the name prompt", env.prompter.Questions)
	}
}

func TestImportMissingImage(t *testing.T) {
	env := newTestEnv(t)
	err := env.run("import", filepath.Join(env.dir, "missing.ova"))
	if !errors.Is(err, config.ErrInvalidPath) {
		t.Fatalf("import: error = %v, want ErrInvalidPath", err)
	}
	if len(env.prompter.Questions) != 0 {
		t.Errorf("asked %q before checking the image", env.prompter.Questions)
	}
	if n := env.hv.CallCount("allocate"); n != 0 {
		t.Errorf("allocated %d sessions for a missing image", n)
	}
}

func TestLifecycleCommands(t *testing.T) {
	env := newTestEnv(t)
	s := env.hv.AddMachine("m", hypervisor.StateStopped, nil)

	steps := []struct {
		cmd  string
		want hypervisor.State
	}{
		{"start", hypervisor.StateRunning},
		{"pause", hypervisor.StatePaused},
		{"start", hypervisor.StateRunning},
		{"stop", hypervisor.StateStopped},
	}
	for _, step := range steps {
		if err := env.run(step.cmd, "m"); err != nil {
			t.Fatalf("%s: %v", step.cmd, err)
		}
		if got := s.MachineState(); got != step.want {
			t.Errorf("after %s: state = %v, want %v", step.cmd, got, step.want)
		}
	}
}

func TestDestroy(t *testing.T) {
	tests := []struct {
		name      string
		args      []string
		answers   []string
		destroyed bool
	}{
		{"declined", []string{"destroy", "m"}, []string{"n"}, false},
		{"confirmed", []string{"destroy", "m"}, []string{"y"}, true},
		{"forced", []string{"destroy", "--force", "m"}, nil, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv(t)
			env.prompter.Answers = tt.answers
			env.hv.AddMachine("m", hypervisor.StateRunning, nil)

			if err := env.run(tt.args...); err != nil {
				t.Fatalf("destroy: %v", err)
			}
			_, exists := env.hv.SessionByName("m")
			if exists == tt.destroyed {
				t.Errorf("machine exists = %v, want %v", exists, !tt.destroyed)
			}
			if !tt.destroyed && !strings.Contains(env.out.String(), "was not destroyed") {
				t.Errorf("output = %q", env.out.String())
			}
		})
	}
}

func TestList(t *testing.T) {
	env := newTestEnv(t)
	env.hv.AddMachine("beta", hypervisor.StateStopped, params.FromMap(map[string]string{"cernvmVersion": "4.0", "cpus": "2"}))
	env.hv.AddMachine("alpha", hypervisor.StateRunning, params.FromMap(map[string]string{"cernvmVersion": "latest"}))
	env.hv.AddMachine("unversioned", hypervisor.StateRunning, nil)

	if err := env.run("list"); err != nil {
		t.Fatalf("list: %v", err)
	}
	lines := strings.Split(strings.TrimSpace(env.out.String()), "\n")
	if len(lines) != 2 {
		t.Fatalf("list output = %q, want 2 lines", env.out.String())
	}
	if !strings.HasPrefix(lines[0], "alpha:") || !strings.Contains(lines[0], "CVM: latest") || !strings.Contains(lines[0], "port: 22002") {
		t.Errorf("first line = %q", lines[0])
	}
	if !strings.HasPrefix(lines[1], "beta:") {
		t.Errorf("second line = %q", lines[1])
	}

	if err := env.run("list", "--running"); err != nil {
		t.Fatalf("list --running: %v", err)
	}
	if out := env.out.String(); !strings.Contains(out, "alpha:") || strings.Contains(out, "beta:") {
		t.Errorf("list --running = %q", out)
	}

	if err := env.run("list", "-o", "json"); err != nil {
		t.Fatalf("list -o json: %v", err)
	}
	var machines []vm.Machine
	if err := json.Unmarshal(env.out.Bytes(), &machines); err != nil {
		t.Fatalf("decode json: %v", err)
	}
	if len(machines) != 2 || !machines[0].Running || machines[1].Running {
		t.Errorf("json machines = %+v", machines)
	}
}

func TestListDetail(t *testing.T) {
	env := newTestEnv(t)
	env.hv.AddMachine("beta", hypervisor.StateStopped, params.FromMap(map[string]string{"cernvmVersion": "4.0", "cpus": "2", "memory": "2048"}))

	if err := env.run("list", "beta"); err != nil {
		t.Fatalf("list beta: %v", err)
	}
	out := env.out.String()
	for _, want := range []string{"beta:", "CVM: 4.0", "cpus:", "2048", "baseFolder:", "/fake/session-1"} {
		if !strings.Contains(out, want) {
			t.Errorf("detail %q missing %q", out, want)
		}
	}

	if err := env.run("list", "-o", "yaml", "beta"); err != nil {
		t.Fatalf("list -o yaml beta: %v", err)
	}
	var m vm.Machine
	if err := yaml.Unmarshal(env.out.Bytes(), &m); err != nil {
		t.Fatalf("decode yaml: %v", err)
	}
	if m.Name != "beta" || m.CPUs != "2" || m.BaseFolder != "/fake/session-1" {
		t.Errorf("yaml machine = %+v", m)
	}

	if err := env.run("list", "ghost"); !errors.Is(err, vm.ErrNotFound) {
		t.Errorf("list ghost error = %v, want ErrNotFound", err)
	}
}

func TestSSHKeygen(t *testing.T) {
	env := newTestEnv(t)
	if err := env.run("ssh-keygen"); err != nil {
		t.Fatalf("ssh-keygen: %v", err)
	}
	if !strings.Contains(env.out.String(), "SSH key pair generated") || !strings.Contains(env.out.String(), "ssh-ed25519 ") {
		t.Errorf("output = %q", env.out.String())
	}
	if err := env.run("ssh-keygen"); err != nil {
		t.Fatalf("second ssh-keygen: %v", err)
	}
	if !strings.Contains(env.out.String(), "already exists") {
		t.Errorf("second output = %q", env.out.String())
	}
	if len(env.hv.Calls) != 0 {
		t.Errorf("ssh-keygen touched the hypervisor: %v", env.hv.Calls)
	}
}
