package tools

import (
	"errors"
	"fmt"
	"strings"
)

// ErrCommandFailed marks any non-zero exit or start failure.
var ErrCommandFailed = errors.New("command failed")

// CommandError captures a failed invocation with its exit code and output.
type CommandError struct {
	Name     string
	Args     []string
	ExitCode int
	Stdout   []string
	Stderr   []string
	Err      error
}

// NewCommandError wraps a runner failure. A nil err with exit code zero yields nil.
func NewCommandError(cmd Command, res Result, err error) *CommandError {
	if err == nil && res.ExitCode == 0 {
		return nil
	}
	exitCode := res.ExitCode
	if exitCode == 0 {
		exitCode = 1
	}
	return &CommandError{
		Name:     cmd.Name,
		Args:     append([]string(nil), cmd.Args...),
		ExitCode: exitCode,
		Stdout:   res.Stdout,
		Stderr:   res.Stderr,
		Err:      err,
	}
}

func (e *CommandError) Error() string {
	msg := fmt.Sprintf(
		"command failed cmd=%s args=%q exit=%d stderr=%q",
		e.Name,
		strings.Join(e.Args, " "),
		e.ExitCode,
		strings.TrimSpace(strings.Join(e.Stderr, "\n")),
	)
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *CommandError) Unwrap() []error {
	if e.Err == nil {
		return []error{ErrCommandFailed}
	}
	return []error{ErrCommandFailed, e.Err}
}
