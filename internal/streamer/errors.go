package streamer

import (
	"errors"
	"fmt"
	"strings"

	"github.com/danmuck/camctl/internal/tools"
)

var (
	ErrInventoryUnavailable = errors.New("streamer: package inventory unavailable")
	ErrDependenciesMissing  = errors.New("streamer: dependencies missing")
	ErrAlreadyExists        = errors.New("streamer: source already exists")
	ErrSourceNotDownloaded  = errors.New("streamer: source not downloaded")
	ErrCloneFailed          = errors.New("streamer: clone failed")
	ErrBuildFailed          = errors.New("streamer: build failed")
	ErrInstallFailed        = errors.New("streamer: install failed")
	ErrBusy                 = errors.New("streamer: another install operation is running")
	ErrUnknownCommand       = errors.New("streamer: unknown command")

	// ErrCommandFailed is the generic non-zero exit shared with tools.
	ErrCommandFailed = tools.ErrCommandFailed
)

// StepError reports the step that stopped an operation. Kind is one of the
// package sentinels; Err carries the underlying *tools.CommandError when a
// process was involved.
type StepError struct {
	Operation Operation
	Step      string
	Package   string
	ExitCode  int
	Kind      error
	Err       error
}

func (e *StepError) Error() string {
	var b strings.Builder
	b.WriteString(e.Kind.Error())
	fmt.Fprintf(&b, " op=%s step=%s", e.Operation, e.Step)
	if e.Package != "" {
		fmt.Fprintf(&b, " package=%s", e.Package)
	}
	if e.ExitCode != 0 {
		fmt.Fprintf(&b, " exit=%d", e.ExitCode)
	}
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

func (e *StepError) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Err}
}

// MissingDependenciesError lists the packages that blocked a build.
type MissingDependenciesError struct {
	Packages []string
}

func (e *MissingDependenciesError) Error() string {
	return fmt.Sprintf("%s: %s", ErrDependenciesMissing, strings.Join(e.Packages, ", "))
}

func (e *MissingDependenciesError) Is(target error) bool {
	return target == ErrDependenciesMissing
}

// ErrorKind maps an operation error to a stable machine-readable code for
// API clients. nil maps to "".
func ErrorKind(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrBusy):
		return "busy"
	case errors.Is(err, ErrInventoryUnavailable):
		return "inventory_unavailable"
	case errors.Is(err, ErrDependenciesMissing):
		return "dependencies_missing"
	case errors.Is(err, ErrAlreadyExists):
		return "already_exists"
	case errors.Is(err, ErrSourceNotDownloaded):
		return "source_not_downloaded"
	case errors.Is(err, ErrCloneFailed):
		return "clone_failed"
	case errors.Is(err, ErrBuildFailed):
		return "build_failed"
	case errors.Is(err, ErrInstallFailed):
		return "install_failed"
	case errors.Is(err, ErrUnknownCommand):
		return "unknown_command"
	case errors.Is(err, ErrCommandFailed):
		return "command_failed"
	default:
		return "internal"
	}
}
