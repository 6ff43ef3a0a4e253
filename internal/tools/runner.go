package tools

import (
	"bytes"
	"context"
	"errors"
	"io"
	"os"
	"os/exec"
	"strings"
	"sync"
	"syscall"
	"time"
)

const maxLineBytes = 1 << 20

// Runner abstracts process execution so orchestration can run against fakes,
// the local host or a remote board.
type Runner interface {
	Run(ctx context.Context, cmd Command, onLine LineHandler) (Result, error)
}

// Exec runs cmd and converts any failure into a *CommandError.
func Exec(ctx context.Context, r Runner, cmd Command, onLine LineHandler) (Result, error) {
	res, err := r.Run(ctx, cmd, onLine)
	if cmdErr := NewCommandError(cmd, res, err); cmdErr != nil {
		return res, cmdErr
	}
	return res, nil
}

// ExecRunner executes commands on the local host.
type ExecRunner struct{}

// waitDelay bounds how long Run waits for pipes held open by descendants
// once the process exited or ctx was canceled.
const waitDelay = 2 * time.Second

// Run starts the process in its own process group and streams both pipes
// line by line until it exits. Canceling ctx kills the whole group.
func (ExecRunner) Run(ctx context.Context, c Command, onLine LineHandler) (Result, error) {
	cmd := exec.CommandContext(ctx, c.Name, c.Args...)
	cmd.Dir = c.Dir
	if len(c.Env) > 0 {
		cmd.Env = append(os.Environ(), c.Env...)
	}
	if c.Stdin != "" {
		cmd.Stdin = strings.NewReader(stdinPayload(c.Stdin))
	}
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	cmd.Cancel = func() error {
		err := syscall.Kill(-cmd.Process.Pid, syscall.SIGKILL)
		if errors.Is(err, syscall.ESRCH) {
			return os.ErrProcessDone
		}
		return err
	}
	cmd.WaitDelay = waitDelay

	collector := newLineCollector(onLine)
	stdout := collector.writer(StreamStdout)
	stderr := collector.writer(StreamStderr)
	cmd.Stdout = stdout
	cmd.Stderr = stderr

	if err := cmd.Start(); err != nil {
		return Result{ExitCode: startExitCode(err)}, err
	}

	err := cmd.Wait()
	_ = stdout.Close()
	_ = stderr.Close()
	res := collector.result()
	if err == nil {
		return res, nil
	}
	// a detached descendant kept a pipe open after a clean exit
	if errors.Is(err, exec.ErrWaitDelay) && cmd.ProcessState != nil && cmd.ProcessState.Success() {
		return res, nil
	}

	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		res.ExitCode = exitErr.ExitCode()
		if res.ExitCode < 0 {
			res.ExitCode = 1
		}
		return res, err
	}
	res.ExitCode = 1
	return res, err
}

func startExitCode(err error) int {
	var execErr *exec.Error
	if errors.As(err, &execErr) {
		return 127
	}
	if errors.Is(err, os.ErrNotExist) {
		return 127
	}
	return 1
}

// lineCollector serializes handler calls across the two pipe readers and keeps
// a copy of every line for the Result.
type lineCollector struct {
	mu     sync.Mutex
	onLine LineHandler
	stdout []string
	stderr []string
}

func newLineCollector(onLine LineHandler) *lineCollector {
	return &lineCollector{onLine: onLine}
}

// scan copies r through a line writer until EOF or a read error.
func (c *lineCollector) scan(stream Stream, r io.Reader) {
	w := c.writer(stream)
	_, _ = io.Copy(w, r)
	_ = w.Close()
}

func (c *lineCollector) writer(stream Stream) *lineWriter {
	return &lineWriter{collector: c, stream: stream}
}

func (c *lineCollector) add(stream Stream, line string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if stream == StreamStderr {
		c.stderr = append(c.stderr, line)
	} else {
		c.stdout = append(c.stdout, line)
	}
	if c.onLine != nil {
		c.onLine(stream, line)
	}
}

func (c *lineCollector) result() Result {
	c.mu.Lock()
	defer c.mu.Unlock()
	return Result{
		Stdout: append([]string(nil), c.stdout...),
		Stderr: append([]string(nil), c.stderr...),
	}
}

// truncatedSuffix marks a line cut at maxLineBytes.
const truncatedSuffix = " [truncated]"

// lineWriter splits writes into lines for the collector. Lines longer than
// maxLineBytes are cut and the rest of that line is dropped; later lines
// still stream. Writes after Close are discarded.
type lineWriter struct {
	mu        sync.Mutex
	collector *lineCollector
	stream    Stream
	buf       []byte
	truncated bool
	closed    bool
}

func (w *lineWriter) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return len(p), nil
	}
	n := len(p)
	for len(p) > 0 {
		i := bytes.IndexByte(p, '\n')
		if i < 0 {
			w.buffer(p)
			break
		}
		w.buffer(p[:i])
		w.emit()
		p = p[i+1:]
	}
	return n, nil
}

func (w *lineWriter) buffer(p []byte) {
	if w.truncated {
		return
	}
	room := maxLineBytes - len(w.buf)
	if len(p) > room {
		w.buf = append(w.buf, p[:room]...)
		w.truncated = true
		return
	}
	w.buf = append(w.buf, p...)
}

func (w *lineWriter) emit() {
	line := strings.TrimRight(string(w.buf), "\r")
	if w.truncated {
		line += truncatedSuffix
	}
	w.buf = w.buf[:0]
	w.truncated = false
	w.collector.add(w.stream, line)
}

// Close flushes a trailing line without a newline.
func (w *lineWriter) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return nil
	}
	w.closed = true
	if len(w.buf) > 0 || w.truncated {
		w.emit()
	}
	return nil
}
