package streamer

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/danmuck/camctl/internal/events"
	"github.com/danmuck/camctl/internal/inventory"
	"github.com/danmuck/camctl/internal/testutil/testlog"
	"github.com/danmuck/camctl/internal/tools"
)

type installerFakeRunner struct {
	mu        sync.Mutex
	installed []string
	queryErr  bool
	fail      map[string]int
	onRun     func(cmd tools.Command)
	commands  []tools.Command
}

func (r *installerFakeRunner) Run(_ context.Context, cmd tools.Command, onLine tools.LineHandler) (tools.Result, error) {
	r.mu.Lock()
	r.commands = append(r.commands, cmd)
	installed := r.installed
	queryErr := r.queryErr
	fail := r.fail
	onRun := r.onRun
	r.mu.Unlock()

	if cmd.Name == "dpkg-query" {
		if queryErr {
			return tools.Result{ExitCode: 2, Stderr: []string{"dpkg-query: no db"}}, errors.New("exit status 2")
		}
		return tools.Result{Stdout: installed}, nil
	}
	if onRun != nil {
		onRun(cmd)
	}
	for prefix, code := range fail {
		if strings.HasPrefix(cmd.String(), prefix) {
			if onLine != nil {
				onLine(tools.StreamStderr, "boom: "+cmd.Name)
			}
			return tools.Result{ExitCode: code, Stderr: []string{"boom: " + cmd.Name}}, fmt.Errorf("exit status %d", code)
		}
	}
	if onLine != nil {
		onLine(tools.StreamStdout, "ok: "+cmd.Name)
	}
	return tools.Result{Stdout: []string{"ok: " + cmd.Name}}, nil
}

// executed returns every non-inventory command line.
func (r *installerFakeRunner) executed() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []string
	for _, cmd := range r.commands {
		if cmd.Name == "dpkg-query" {
			continue
		}
		out = append(out, cmd.String())
	}
	return out
}

func (r *installerFakeRunner) find(prefix string) (tools.Command, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, cmd := range r.commands {
		if strings.HasPrefix(cmd.String(), prefix) {
			return cmd, true
		}
	}
	return tools.Command{}, false
}

type sinkLine struct {
	level events.Level
	line  string
}

type recordingSink struct {
	mu    sync.Mutex
	lines []sinkLine
}

func (s *recordingSink) Log(level events.Level, lines ...string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, line := range lines {
		s.lines = append(s.lines, sinkLine{level: level, line: line})
	}
}

func (s *recordingSink) levelOf(line string) (events.Level, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, l := range s.lines {
		if l.line == line {
			return l.level, true
		}
	}
	return 0, false
}

type fixture struct {
	runner    *installerFakeRunner
	sink      *recordingSink
	installer *Installer
	paths     Paths
}

func newFixture(t *testing.T, runner *installerFakeRunner) fixture {
	t.Helper()
	testlog.Start(t)
	root := t.TempDir()
	paths := Paths{
		SourceDir: filepath.Join(root, "home", "camera-streamer"),
		Binary:    filepath.Join(root, "bin", "camera-streamer"),
	}
	sink := &recordingSink{}
	installer, err := New(Config{
		Runner:    runner,
		Inventory: inventory.New(inventory.Config{Runner: runner}),
		Paths:     paths,
		Sink:      sink,
	})
	if err != nil {
		t.Fatalf("new installer: %v", err)
	}
	return fixture{runner: runner, sink: sink, installer: installer, paths: paths}
}

func allInstalled() []string {
	return inventory.Requirements()
}

func TestNewRequiresPaths(t *testing.T) {
	if _, err := New(Config{Paths: Paths{Binary: "/usr/local/bin/x"}}); err == nil {
		t.Fatalf("expected missing source dir error")
	}
	if _, err := New(Config{Paths: Paths{SourceDir: "/tmp/x"}}); err == nil {
		t.Fatalf("expected missing binary error")
	}
}

func TestInstallDependenciesInstallsMissingInOrder(t *testing.T) {
	runner := &installerFakeRunner{installed: []string{"libavformat-dev", "cmake", "libdrm-dev"}}
	f := newFixture(t, runner)

	if err := f.installer.InstallDependencies(context.Background(), "raspberry"); err != nil {
		t.Fatalf("install dependencies: %v", err)
	}

	got := runner.executed()
	want := []string{
		"sudo -S apt-get install -y libcamera-dev",
		"sudo -S apt-get install -y liblivemedia-dev",
		"sudo -S apt-get install -y libjpeg-dev",
		"sudo -S apt-get install -y libboost-program-options-dev",
		"sudo -S apt-get install -y libexif-dev",
	}
	if strings.Join(got, "|") != strings.Join(want, "|") {
		t.Fatalf("unexpected commands\nwant: %v\ngot:  %v", want, got)
	}

	cmd, _ := runner.find("sudo -S apt-get install -y libcamera-dev")
	if cmd.Stdin != "raspberry" {
		t.Fatalf("secret must be supplied on stdin, got %q", cmd.Stdin)
	}
	if len(cmd.Env) != 1 || cmd.Env[0] != "DEBIAN_FRONTEND=noninteractive" {
		t.Fatalf("expected noninteractive env, got %v", cmd.Env)
	}
	for _, line := range got {
		if strings.Contains(line, "raspberry") {
			t.Fatalf("secret leaked into argv: %q", line)
		}
	}
}

func TestInstallDependenciesStopsAtFirstFailure(t *testing.T) {
	runner := &installerFakeRunner{
		installed: []string{"libavformat-dev"},
		fail:      map[string]int{"sudo -S apt-get install -y liblivemedia-dev": 100},
	}
	f := newFixture(t, runner)

	var last RunSnapshot
	err := f.installer.Execute(context.Background(), InstallDependencies{Password: "pw"}, func(s RunSnapshot) { last = s })

	var stepErr *StepError
	if !errors.As(err, &stepErr) {
		t.Fatalf("expected *StepError, got %v", err)
	}
	if stepErr.Package != "liblivemedia-dev" || stepErr.ExitCode != 100 {
		t.Fatalf("expected (100, liblivemedia-dev), got (%d, %s)", stepErr.ExitCode, stepErr.Package)
	}
	if !errors.Is(err, ErrCommandFailed) {
		t.Fatalf("expected ErrCommandFailed, got %v", err)
	}
	if _, ok := runner.find("sudo -S apt-get install -y libjpeg-dev"); ok {
		t.Fatalf("packages after the failure must not be attempted")
	}

	if last.State != RunFailed {
		t.Fatalf("expected failed run, got %s", last.State)
	}
	states := map[string]StepState{}
	for _, step := range last.Steps {
		states[step.Name] = step.State
	}
	if states["install-package:libcamera-dev"] != StepSucceeded ||
		states["install-package:liblivemedia-dev"] != StepFailed ||
		states["install-package:libjpeg-dev"] != StepSkipped {
		t.Fatalf("unexpected step states: %v", states)
	}
}

func TestInstallDependenciesInventoryUnavailable(t *testing.T) {
	runner := &installerFakeRunner{queryErr: true}
	f := newFixture(t, runner)

	err := f.installer.InstallDependencies(context.Background(), "pw")
	if !errors.Is(err, ErrInventoryUnavailable) {
		t.Fatalf("expected ErrInventoryUnavailable, got %v", err)
	}
	if got := runner.executed(); len(got) != 0 {
		t.Fatalf("no install commands expected, got %v", got)
	}
}

func TestInstallDependenciesNothingMissing(t *testing.T) {
	runner := &installerFakeRunner{installed: allInstalled()}
	f := newFixture(t, runner)

	if err := f.installer.InstallDependencies(context.Background(), "pw"); err != nil {
		t.Fatalf("install dependencies: %v", err)
	}
	if got := runner.executed(); len(got) != 0 {
		t.Fatalf("no install commands expected, got %v", got)
	}
}

func TestDownloadSourceExistingWithoutOverwriteChangesNothing(t *testing.T) {
	runner := &installerFakeRunner{}
	f := newFixture(t, runner)
	marker := filepath.Join(f.paths.SourceDir, "old.txt")
	if err := os.MkdirAll(f.paths.SourceDir, 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(marker, []byte("old"), 0o644); err != nil {
		t.Fatalf("write marker: %v", err)
	}

	err := f.installer.DownloadSource(context.Background(), false)
	if !errors.Is(err, ErrAlreadyExists) {
		t.Fatalf("expected ErrAlreadyExists, got %v", err)
	}
	if got := runner.executed(); len(got) != 0 {
		t.Fatalf("no commands expected, got %v", got)
	}
	if data, err := os.ReadFile(marker); err != nil || string(data) != "old" {
		t.Fatalf("existing checkout must be untouched, data=%q err=%v", data, err)
	}
}

func TestDownloadSourceOverwriteDeletesBeforeClone(t *testing.T) {
	runner := &installerFakeRunner{}
	f := newFixture(t, runner)
	oldMarker := filepath.Join(f.paths.SourceDir, "old.txt")
	if err := os.MkdirAll(f.paths.SourceDir, 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(oldMarker, []byte("old"), 0o644); err != nil {
		t.Fatalf("write marker: %v", err)
	}

	var existedAtClone bool
	runner.onRun = func(cmd tools.Command) {
		if cmd.Name != "git" {
			return
		}
		dest := cmd.Args[len(cmd.Args)-1]
		_, err := os.Stat(dest)
		existedAtClone = err == nil
		_ = os.MkdirAll(dest, 0o755)
		_ = os.WriteFile(filepath.Join(dest, "Makefile"), []byte("all:"), 0o644)
	}

	if err := f.installer.DownloadSource(context.Background(), true); err != nil {
		t.Fatalf("download: %v", err)
	}
	if existedAtClone {
		t.Fatalf("checkout must be removed before cloning")
	}
	if _, err := os.Stat(oldMarker); !os.IsNotExist(err) {
		t.Fatalf("old contents must not survive, stat err=%v", err)
	}
	if _, err := os.Stat(filepath.Join(f.paths.SourceDir, "Makefile")); err != nil {
		t.Fatalf("fresh clone contents expected: %v", err)
	}
}

func TestDownloadSourceShallowCloneCommand(t *testing.T) {
	runner := &installerFakeRunner{}
	f := newFixture(t, runner)

	if err := f.installer.DownloadSource(context.Background(), false); err != nil {
		t.Fatalf("download: %v", err)
	}
	got := runner.executed()
	want := "git clone --depth 1 " + DefaultRepoURL + " " + f.paths.SourceDir
	if len(got) != 1 || got[0] != want {
		t.Fatalf("unexpected clone command\nwant: %s\ngot:  %v", want, got)
	}
}

func TestDownloadSourceCloneFailureLeavesPartialState(t *testing.T) {
	runner := &installerFakeRunner{fail: map[string]int{"git clone": 128}}
	f := newFixture(t, runner)
	partial := filepath.Join(f.paths.SourceDir, ".git", "HEAD")
	runner.onRun = func(cmd tools.Command) {
		if cmd.Name == "git" {
			_ = os.MkdirAll(filepath.Dir(partial), 0o755)
			_ = os.WriteFile(partial, []byte("ref"), 0o644)
		}
	}

	err := f.installer.DownloadSource(context.Background(), false)
	if !errors.Is(err, ErrCloneFailed) {
		t.Fatalf("expected ErrCloneFailed, got %v", err)
	}
	var stepErr *StepError
	if !errors.As(err, &stepErr) || stepErr.ExitCode != 128 {
		t.Fatalf("expected exit 128 step error, got %v", err)
	}
	if !strings.Contains(err.Error(), "boom: git") {
		t.Fatalf("clone error should carry captured stderr: %v", err)
	}
	// no cleanup after a failed clone: whatever git left stays
	if _, err := os.Stat(partial); err != nil {
		t.Fatalf("partial clone state should remain: %v", err)
	}
}

func TestInstallStreamerBlockedByMissingDependencies(t *testing.T) {
	runner := &installerFakeRunner{installed: []string{"cmake"}}
	f := newFixture(t, runner)
	if err := os.MkdirAll(f.paths.SourceDir, 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}

	err := f.installer.InstallStreamer(context.Background(), "pw")
	if !errors.Is(err, ErrDependenciesMissing) {
		t.Fatalf("expected ErrDependenciesMissing, got %v", err)
	}
	var missingErr *MissingDependenciesError
	if !errors.As(err, &missingErr) || len(missingErr.Packages) != 7 {
		t.Fatalf("expected 7 missing packages, got %v", err)
	}
	if _, ok := runner.find("make"); ok {
		t.Fatalf("build must never run with missing dependencies")
	}
}

func TestInstallStreamerInventoryUnavailable(t *testing.T) {
	runner := &installerFakeRunner{queryErr: true}
	f := newFixture(t, runner)

	if err := f.installer.InstallStreamer(context.Background(), "pw"); !errors.Is(err, ErrInventoryUnavailable) {
		t.Fatalf("expected ErrInventoryUnavailable, got %v", err)
	}
	if got := runner.executed(); len(got) != 0 {
		t.Fatalf("no commands expected, got %v", got)
	}
}

func TestInstallStreamerRequiresSource(t *testing.T) {
	runner := &installerFakeRunner{installed: allInstalled()}
	f := newFixture(t, runner)

	if err := f.installer.InstallStreamer(context.Background(), "pw"); !errors.Is(err, ErrSourceNotDownloaded) {
		t.Fatalf("expected ErrSourceNotDownloaded, got %v", err)
	}
	if got := runner.executed(); len(got) != 0 {
		t.Fatalf("no commands expected, got %v", got)
	}
}

func TestInstallStreamerBuildFailureSkipsInstall(t *testing.T) {
	runner := &installerFakeRunner{installed: allInstalled(), fail: map[string]int{"make": 2}}
	f := newFixture(t, runner)
	if err := os.MkdirAll(f.paths.SourceDir, 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}

	if err := f.installer.InstallStreamer(context.Background(), "pw"); !errors.Is(err, ErrBuildFailed) {
		t.Fatalf("expected ErrBuildFailed, got %v", err)
	}
	if _, ok := runner.find("sudo -S make install"); ok {
		t.Fatalf("install must not run after a failed build")
	}
}

func TestInstallStreamerInstallFailureLeavesBinaryAbsent(t *testing.T) {
	runner := &installerFakeRunner{installed: allInstalled(), fail: map[string]int{"sudo -S make install": 1}}
	f := newFixture(t, runner)
	if err := os.MkdirAll(f.paths.SourceDir, 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}

	err := f.installer.InstallStreamer(context.Background(), "pw")
	if !errors.Is(err, ErrInstallFailed) {
		t.Fatalf("expected ErrInstallFailed, got %v", err)
	}
	if _, err := os.Stat(f.paths.Binary); !os.IsNotExist(err) {
		t.Fatalf("binary must remain absent, stat err=%v", err)
	}
	if st := f.installer.Status(context.Background()); st.Installed {
		t.Fatalf("status must not report installed")
	}
}

func TestInstallStreamerBuildsThenInstallsInCheckout(t *testing.T) {
	runner := &installerFakeRunner{installed: allInstalled()}
	f := newFixture(t, runner)
	if err := os.MkdirAll(f.paths.SourceDir, 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}

	var snapshots []RunSnapshot
	err := f.installer.Execute(context.Background(), InstallStreamer{Password: "pw"}, func(s RunSnapshot) {
		snapshots = append(snapshots, s)
	})
	if err != nil {
		t.Fatalf("install streamer: %v", err)
	}

	got := runner.executed()
	if strings.Join(got, "|") != "make|sudo -S make install" {
		t.Fatalf("unexpected commands: %v", got)
	}
	build, _ := runner.find("make")
	install, _ := runner.find("sudo -S make install")
	if build.Dir != f.paths.SourceDir || install.Dir != f.paths.SourceDir {
		t.Fatalf("commands must run in the checkout: build=%q install=%q", build.Dir, install.Dir)
	}
	if build.Stdin != "" || install.Stdin != "pw" {
		t.Fatalf("only the privileged install gets the secret: build=%q install=%q", build.Stdin, install.Stdin)
	}

	final := snapshots[len(snapshots)-1]
	if final.State != RunDone || len(final.Steps) != 4 {
		t.Fatalf("unexpected final run: %+v", final)
	}
	for _, step := range final.Steps {
		if step.State != StepSucceeded {
			t.Fatalf("step %s not succeeded: %s", step.Name, step.State)
		}
	}
}

func TestUninstallIsNoOp(t *testing.T) {
	runner := &installerFakeRunner{}
	f := newFixture(t, runner)

	if err := f.installer.UninstallStreamer(context.Background(), "pw"); err != nil {
		t.Fatalf("uninstall: %v", err)
	}
	if got := runner.executed(); len(got) != 0 {
		t.Fatalf("uninstall must not run commands, got %v", got)
	}
}

func TestStreamsOutputWithSeverity(t *testing.T) {
	runner := &installerFakeRunner{installed: allInstalled(), fail: map[string]int{"sudo -S make install": 1}}
	f := newFixture(t, runner)
	if err := os.MkdirAll(f.paths.SourceDir, 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	_ = f.installer.InstallStreamer(context.Background(), "pw")

	checks := map[string]events.Level{
		"make":                 events.LevelWarning,
		"ok: make":             events.LevelInfo,
		"sudo -S make install": events.LevelWarning,
		"boom: sudo":           events.LevelError,
	}
	for line, want := range checks {
		got, ok := f.sink.levelOf(line)
		if !ok || got != want {
			t.Fatalf("line %q: got level %v (found=%v), want %v", line, got, ok, want)
		}
	}
	if _, ok := f.sink.levelOf("pw"); ok {
		t.Fatalf("secret must never reach the sink")
	}
}

func TestConcurrentMutatingOperationIsRejected(t *testing.T) {
	entered := make(chan struct{})
	release := make(chan struct{})
	runner := &installerFakeRunner{installed: allInstalled()}
	runner.onRun = func(cmd tools.Command) {
		if cmd.Name == "make" {
			close(entered)
			<-release
		}
	}
	f := newFixture(t, runner)
	if err := os.MkdirAll(f.paths.SourceDir, 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}

	done := make(chan error, 1)
	go func() { done <- f.installer.InstallStreamer(context.Background(), "pw") }()

	select {
	case <-entered:
	case <-time.After(2 * time.Second):
		t.Fatalf("first operation never reached the build")
	}

	if err := f.installer.DownloadSource(context.Background(), true); !errors.Is(err, ErrBusy) {
		t.Fatalf("expected ErrBusy, got %v", err)
	}
	if err := f.installer.UninstallStreamer(context.Background(), "pw"); err != nil {
		t.Fatalf("non-mutating uninstall should not be blocked: %v", err)
	}
	_ = f.installer.Status(context.Background())

	close(release)
	if err := <-done; err != nil {
		t.Fatalf("first operation: %v", err)
	}
	if err := f.installer.DownloadSource(context.Background(), true); err != nil {
		t.Fatalf("lock should be released after completion: %v", err)
	}
}

func TestHostLockRejectsSecondInstaller(t *testing.T) {
	testlog.Start(t)
	lockPath := filepath.Join(t.TempDir(), "run", "camctl.lock")
	entered := make(chan struct{})
	release := make(chan struct{})
	blocking := &installerFakeRunner{installed: allInstalled()}
	blocking.onRun = func(cmd tools.Command) {
		if cmd.Name == "git" {
			close(entered)
			<-release
		}
	}

	mk := func(r *installerFakeRunner) *Installer {
		inst, err := New(Config{
			Runner:   r,
			Paths:    Paths{SourceDir: filepath.Join(t.TempDir(), "src"), Binary: filepath.Join(t.TempDir(), "bin")},
			LockPath: lockPath,
		})
		if err != nil {
			t.Fatalf("new installer: %v", err)
		}
		return inst
	}
	first := mk(blocking)
	second := mk(&installerFakeRunner{installed: allInstalled()})

	done := make(chan error, 1)
	go func() { done <- first.DownloadSource(context.Background(), false) }()
	<-entered

	if err := second.DownloadSource(context.Background(), false); !errors.Is(err, ErrBusy) {
		t.Fatalf("expected ErrBusy from host lock, got %v", err)
	}
	close(release)
	if err := <-done; err != nil {
		t.Fatalf("first download: %v", err)
	}
	if err := second.DownloadSource(context.Background(), false); err != nil {
		t.Fatalf("host lock should be released: %v", err)
	}
}

func TestHostLockFileIsSharedAcrossUsers(t *testing.T) {
	path := filepath.Join(t.TempDir(), "camctl.lock")
	lock, err := tryFileLock(path)
	if err != nil {
		t.Fatalf("first lock: %v", err)
	}
	info, err := os.Stat(path)
	if err != nil {
		t.Fatalf("stat lock: %v", err)
	}
	if mode := info.Mode().Perm(); mode != lockFileMode {
		t.Fatalf("lock file mode %o, want %o", mode, lockFileMode)
	}
	if _, err := tryFileLock(path); !errors.Is(err, ErrBusy) {
		t.Fatalf("expected ErrBusy while held, got %v", err)
	}
	if err := lock.release(); err != nil {
		t.Fatalf("release: %v", err)
	}

	// a lock file left read-only by another user still locks
	if err := os.Chmod(path, 0o444); err != nil {
		t.Fatalf("chmod: %v", err)
	}
	lock, err = tryFileLock(path)
	if err != nil {
		t.Fatalf("read-only lock file: %v", err)
	}
	if _, err := tryFileLock(path); !errors.Is(err, ErrBusy) {
		t.Fatalf("expected ErrBusy on read-only lock file, got %v", err)
	}
	if err := lock.release(); err != nil {
		t.Fatalf("release: %v", err)
	}
}

func TestStatusReportsUnknownInventory(t *testing.T) {
	runner := &installerFakeRunner{queryErr: true}
	f := newFixture(t, runner)
	if err := os.MkdirAll(f.paths.SourceDir, 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}

	st := f.installer.Status(context.Background())
	if st.Missing.Known {
		t.Fatalf("missing should be unknown")
	}
	if !strings.Contains(st.Error, "Unable to fetch missing packages") {
		t.Fatalf("unexpected error text: %q", st.Error)
	}
	if !st.Downloaded || st.Installed {
		t.Fatalf("unexpected flags: %+v", st)
	}
}

func TestErrorKindMapping(t *testing.T) {
	cases := map[string]error{
		"":                      nil,
		"busy":                  ErrBusy,
		"inventory_unavailable": &StepError{Kind: ErrInventoryUnavailable},
		"dependencies_missing":  &MissingDependenciesError{Packages: []string{"cmake"}},
		"already_exists":        &StepError{Kind: ErrAlreadyExists},
		"source_not_downloaded": &StepError{Kind: ErrSourceNotDownloaded},
		"clone_failed":          &StepError{Kind: ErrCloneFailed, Err: &tools.CommandError{ExitCode: 128}},
		"build_failed":          &StepError{Kind: ErrBuildFailed, Err: &tools.CommandError{ExitCode: 2}},
		"install_failed":        &StepError{Kind: ErrInstallFailed, Err: &tools.CommandError{ExitCode: 1}},
		"command_failed":        &StepError{Kind: ErrCommandFailed},
		"internal":              errors.New("other"),
	}
	for want, err := range cases {
		if got := ErrorKind(err); got != want {
			t.Fatalf("ErrorKind(%v) = %q want %q", err, got, want)
		}
	}
}

func TestExecuteRejectsNilCommand(t *testing.T) {
	f := newFixture(t, &installerFakeRunner{})
	if err := f.installer.Execute(context.Background(), nil, nil); !errors.Is(err, ErrUnknownCommand) {
		t.Fatalf("expected ErrUnknownCommand, got %v", err)
	}
}
