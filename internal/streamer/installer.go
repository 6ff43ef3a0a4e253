package streamer

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/danmuck/camctl/internal/events"
	"github.com/danmuck/camctl/internal/inventory"
	"github.com/danmuck/camctl/internal/observability"
	"github.com/danmuck/camctl/internal/tools"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

const noninteractiveEnv = "DEBIAN_FRONTEND=noninteractive"

// Config wires an Installer. Runner and FS must target the same host.
type Config struct {
	Runner     tools.Runner
	FS         tools.FS
	Inventory  *inventory.Inventory
	Paths      Paths
	RepoURL    string
	CloneDepth int
	Sink       events.Sink
	// LockPath enables a host-wide flock next to the single-flight mutex.
	LockPath string
	Logger   *zerolog.Logger
}

// Installer runs the install operations. The zero value is not usable; build
// one with New.
type Installer struct {
	runner   tools.Runner
	fs       tools.FS
	inv      *inventory.Inventory
	paths    Paths
	repoURL  string
	depth    int
	sink     events.Sink
	lockPath string
	logger   zerolog.Logger

	mu sync.Mutex
}

func New(cfg Config) (*Installer, error) {
	if strings.TrimSpace(cfg.Paths.SourceDir) == "" {
		return nil, fmt.Errorf("streamer: source dir is required")
	}
	if strings.TrimSpace(cfg.Paths.Binary) == "" {
		return nil, fmt.Errorf("streamer: binary path is required")
	}
	runner := cfg.Runner
	if runner == nil {
		runner = tools.ExecRunner{}
	}
	fs := cfg.FS
	if fs == nil {
		fs = tools.LocalFS{}
	}
	inv := cfg.Inventory
	if inv == nil {
		inv = inventory.New(inventory.Config{Runner: runner})
	}
	repoURL := strings.TrimSpace(cfg.RepoURL)
	if repoURL == "" {
		repoURL = DefaultRepoURL
	}
	depth := cfg.CloneDepth
	if depth <= 0 {
		depth = DefaultCloneDepth
	}
	sink := cfg.Sink
	if sink == nil {
		sink = events.Discard
	}
	logger := log.Logger.With().Str("component", "installer").Logger()
	if cfg.Logger != nil {
		logger = *cfg.Logger
	}
	return &Installer{
		runner:   runner,
		fs:       fs,
		inv:      inv,
		paths:    cfg.Paths,
		repoURL:  repoURL,
		depth:    depth,
		sink:     sink,
		lockPath: cfg.LockPath,
		logger:   logger,
	}, nil
}

// Paths returns the configured checkout and binary locations.
func (i *Installer) Paths() Paths {
	return i.paths
}

// Status is a read-only snapshot for the UI. It never takes the
// single-flight lock.
type Status struct {
	Error      string            `json:"error"`
	Missing    inventory.Missing `json:"missing"`
	Downloaded bool              `json:"downloaded"`
	Installed  bool              `json:"installed"`
}

func (i *Installer) Status(ctx context.Context) Status {
	var errs []string
	st := Status{Missing: i.inv.Missing(ctx)}
	if !st.Missing.Known {
		errs = append(errs, "Unable to fetch missing packages")
	}
	downloaded, err := i.fs.Exists(ctx, i.paths.SourceDir)
	if err != nil {
		errs = append(errs, "Unable to check source directory: "+err.Error())
	}
	installed, err := i.fs.Exists(ctx, i.paths.Binary)
	if err != nil {
		errs = append(errs, "Unable to check binary: "+err.Error())
	}
	st.Downloaded = downloaded
	st.Installed = installed
	st.Error = strings.Join(errs, "; ")
	return st
}

// MissingPackages exposes the inventory check on its own.
func (i *Installer) MissingPackages(ctx context.Context) inventory.Missing {
	return i.inv.Missing(ctx)
}

func (i *Installer) InstallDependencies(ctx context.Context, secret string) error {
	return i.Execute(ctx, InstallDependencies{Password: secret}, nil)
}

func (i *Installer) DownloadSource(ctx context.Context, overwrite bool) error {
	return i.Execute(ctx, DownloadSource{Overwrite: overwrite}, nil)
}

func (i *Installer) InstallStreamer(ctx context.Context, secret string) error {
	return i.Execute(ctx, InstallStreamer{Password: secret}, nil)
}

func (i *Installer) UninstallStreamer(ctx context.Context, secret string) error {
	return i.Execute(ctx, UninstallStreamer{Password: secret}, nil)
}

// Execute runs one command, reporting every state transition to observe.
// Mutating commands fail fast with ErrBusy while another one is running.
func (i *Installer) Execute(ctx context.Context, cmd Command, observe Observer) error {
	if cmd == nil {
		return ErrUnknownCommand
	}
	op := cmd.Operation()
	if op.Mutating() {
		if !i.mu.TryLock() {
			i.logger.Warn().Str("operation", string(op)).Msg("rejected: installer busy")
			return ErrBusy
		}
		defer i.mu.Unlock()
		if i.lockPath != "" {
			lock, err := tryFileLock(i.lockPath)
			if err != nil {
				i.logger.Warn().Err(err).Str("operation", string(op)).Msg("rejected: host lock")
				return err
			}
			defer func() {
				if err := lock.release(); err != nil {
					i.logger.Warn().Err(err).Msg("release host lock")
				}
			}()
		}
	}

	run := newRun(op, observe)
	err := cmd.run(ctx, i, run)
	run.finish()
	if err != nil {
		i.logger.Error().Err(err).Str("operation", string(op)).Msg("operation failed")
		return err
	}
	i.logger.Info().Str("operation", string(op)).Msg("operation complete")
	return nil
}

func (i *Installer) installDependencies(ctx context.Context, r *Run, secret string) error {
	const check = "check-dependencies"
	r.plan(check)
	missing, started, err := i.checkMissing(ctx, r, check)
	if err != nil {
		return err
	}
	i.succeedLocal(r, check, started)
	if len(missing.Packages) == 0 {
		i.sink.Log(events.LevelInfo, "All dependencies are already installed")
		return nil
	}

	steps := make([]string, 0, len(missing.Packages))
	for _, pkg := range missing.Packages {
		steps = append(steps, "install-package:"+pkg)
	}
	r.plan(steps...)

	for idx, pkg := range missing.Packages {
		i.logger.Info().Str("package", pkg).Msg("installing package")
		cmd := tools.Command{
			Name:  "sudo",
			Args:  []string{"-S", "apt-get", "install", "-y", pkg},
			Env:   []string{noninteractiveEnv},
			Stdin: secret,
		}
		if err := i.step(ctx, r, steps[idx], cmd, ErrCommandFailed, pkg); err != nil {
			return err
		}
	}
	return nil
}

// checkMissing starts step name and runs the inventory. An unknown inventory
// fails the step; otherwise the step is left running so the caller can judge
// the list and close it.
func (i *Installer) checkMissing(ctx context.Context, r *Run, name string) (inventory.Missing, time.Time, error) {
	i.startStep(r, name)
	started := time.Now()
	missing := i.inv.Missing(ctx)
	if !missing.Known {
		i.sink.Log(events.LevelError, "Unable to get package list")
		stepErr := &StepError{Operation: r.op, Step: name, Kind: ErrInventoryUnavailable}
		i.failLocal(r, name, started, stepErr)
		return missing, started, stepErr
	}
	return missing, started, nil
}

func (i *Installer) downloadSource(ctx context.Context, r *Run, overwrite bool) error {
	const check, remove, clone = "check-source", "remove-source", "clone"
	dir := i.paths.SourceDir
	r.plan(check)
	i.startStep(r, check)
	started := time.Now()

	exists, err := i.fs.Exists(ctx, dir)
	if err != nil {
		stepErr := &StepError{Operation: r.op, Step: check, Kind: ErrCommandFailed, Err: err}
		i.failLocal(r, check, started, stepErr)
		return stepErr
	}
	if exists {
		i.sink.Log(events.LevelWarning, fmt.Sprintf("Camera streamer appears to already exist at %s", dir))
		if !overwrite {
			stepErr := &StepError{Operation: r.op, Step: check, Kind: ErrAlreadyExists, Err: fmt.Errorf("path=%s", dir)}
			i.failLocal(r, check, started, stepErr)
			return stepErr
		}
		i.succeedLocal(r, check, started)

		r.plan(remove, clone)
		i.startStep(r, remove)
		started = time.Now()
		i.sink.Log(events.LevelWarning, "Overwriting existing camera streamer")
		if err := i.fs.RemoveAll(ctx, dir); err != nil {
			stepErr := &StepError{Operation: r.op, Step: remove, Kind: ErrCommandFailed, Err: err}
			i.failLocal(r, remove, started, stepErr)
			return stepErr
		}
		i.succeedLocal(r, remove, started)
	} else {
		i.succeedLocal(r, check, started)
		r.plan(clone)
	}

	i.sink.Log(events.LevelInfo, fmt.Sprintf("Downloading camera streamer to %s", dir))
	cmd := tools.Command{
		Name: "git",
		Args: []string{"clone", "--depth", fmt.Sprint(i.depth), i.repoURL, dir},
	}
	// a failed clone leaves whatever git wrote; see DESIGN.md
	return i.step(ctx, r, clone, cmd, ErrCloneFailed, "")
}

func (i *Installer) installStreamer(ctx context.Context, r *Run, secret string) error {
	const deps, check, build, install = "check-dependencies", "check-source", "build", "install"
	dir := i.paths.SourceDir
	r.plan(deps, check, build, install)

	missing, started, err := i.checkMissing(ctx, r, deps)
	if err != nil {
		return err
	}
	if len(missing.Packages) > 0 {
		missingErr := &MissingDependenciesError{Packages: missing.Packages}
		i.sink.Log(events.LevelError, "Unable to install camera streamer, missing dependencies: "+strings.Join(missing.Packages, ", "))
		i.failLocal(r, deps, started, missingErr)
		return missingErr
	}
	i.succeedLocal(r, deps, started)

	i.startStep(r, check)
	started = time.Now()
	exists, err := i.fs.Exists(ctx, dir)
	if err != nil {
		stepErr := &StepError{Operation: r.op, Step: check, Kind: ErrCommandFailed, Err: err}
		i.failLocal(r, check, started, stepErr)
		return stepErr
	}
	if !exists {
		i.sink.Log(events.LevelError, fmt.Sprintf("Unable to install camera streamer, it does not exist at %s", dir))
		stepErr := &StepError{Operation: r.op, Step: check, Kind: ErrSourceNotDownloaded, Err: fmt.Errorf("path=%s", dir)}
		i.failLocal(r, check, started, stepErr)
		return stepErr
	}
	i.succeedLocal(r, check, started)

	i.sink.Log(events.LevelInfo, "Building camera streamer")
	if err := i.step(ctx, r, build, tools.Command{Name: "make", Dir: dir}, ErrBuildFailed, ""); err != nil {
		return err
	}

	i.sink.Log(events.LevelInfo, "Installing camera streamer")
	return i.step(ctx, r, install, tools.Command{
		Name:  "sudo",
		Args:  []string{"-S", "make", "install"},
		Dir:   dir,
		Stdin: secret,
	}, ErrInstallFailed, "")
}

// uninstallStreamer is intentionally inert until the removal scope (binary,
// checkout, or both) is decided.
func (i *Installer) uninstallStreamer(_ context.Context, _ *Run) error {
	i.sink.Log(events.LevelWarning, "Uninstalling camera streamer is not supported yet; nothing was removed")
	return nil
}

// step runs one external command as the named step, streaming its output to
// the sink and converting a failure into a *StepError of the given kind.
func (i *Installer) step(ctx context.Context, r *Run, name string, cmd tools.Command, kind error, pkg string) error {
	i.startStep(r, name)
	started := time.Now()
	i.sink.Log(events.LevelWarning, cmd.String())

	res, err := tools.Exec(ctx, i.runner, cmd, i.stream)
	if err != nil {
		stepErr := &StepError{
			Operation: r.op,
			Step:      name,
			Package:   pkg,
			ExitCode:  res.ExitCode,
			Kind:      kind,
			Err:       err,
		}
		i.failLocal(r, name, started, stepErr)
		i.logger.Error().
			Str("step", name).
			Str("cmd", cmd.String()).
			Int("exit", res.ExitCode).
			Strs("stderr", res.Stderr).
			Msg("step failed")
		return stepErr
	}
	i.succeedLocal(r, name, started)
	return nil
}

func (i *Installer) stream(stream tools.Stream, line string) {
	if stream == tools.StreamStderr {
		i.sink.Log(events.LevelError, line)
		return
	}
	i.sink.Log(events.LevelInfo, line)
}

func (i *Installer) startStep(r *Run, name string) {
	i.checkTransition(r, name, r.start(name))
}

func (i *Installer) succeedLocal(r *Run, name string, started time.Time) {
	i.checkTransition(r, name, r.succeed(name))
	observability.RecordStep(string(r.op), metricStep(name), string(StepSucceeded), time.Since(started))
}

func (i *Installer) failLocal(r *Run, name string, started time.Time, cause error) {
	i.checkTransition(r, name, r.fail(name, cause))
	observability.RecordStep(string(r.op), metricStep(name), string(StepFailed), time.Since(started))
}

// checkTransition reports a step that was not planned or not in the expected
// state; the run snapshot is left unchanged.
func (i *Installer) checkTransition(r *Run, name string, err error) {
	if err == nil {
		return
	}
	i.logger.Warn().Err(err).Str("operation", string(r.op)).Str("step", name).Msg("invalid step transition")
}

// metricStep drops the package suffix so label cardinality stays fixed.
func metricStep(name string) string {
	if base, _, ok := strings.Cut(name, ":"); ok {
		return base
	}
	return name
}
