package tools

import (
	"context"
	"errors"
	"fmt"
	"os"
)

// FS is the small filesystem surface the orchestrator needs. It must follow
// the same host as the Runner it is paired with.
type FS interface {
	Exists(ctx context.Context, path string) (bool, error)
	RemoveAll(ctx context.Context, path string) error
}

// LocalFS probes the local filesystem.
type LocalFS struct{}

func (LocalFS) Exists(_ context.Context, path string) (bool, error) {
	_, err := os.Stat(path)
	if err == nil {
		return true, nil
	}
	if errors.Is(err, os.ErrNotExist) {
		return false, nil
	}
	return false, err
}

func (LocalFS) RemoveAll(_ context.Context, path string) error {
	return os.RemoveAll(path)
}

// RunnerFS probes a remote filesystem through shell commands.
type RunnerFS struct {
	Runner Runner
}

func (f RunnerFS) Exists(ctx context.Context, path string) (bool, error) {
	res, err := f.Runner.Run(ctx, Command{Name: "test", Args: []string{"-e", path}}, nil)
	if err == nil {
		return true, nil
	}
	// test exits 1 for a missing path; anything else is a transport problem
	if res.ExitCode == 1 {
		return false, nil
	}
	return false, fmt.Errorf("probe %s: %w", path, err)
}

func (f RunnerFS) RemoveAll(ctx context.Context, path string) error {
	cmd := Command{Name: "rm", Args: []string{"-rf", "--", path}}
	_, err := Exec(ctx, f.Runner, cmd, nil)
	return err
}
