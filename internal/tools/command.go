package tools

import (
	"strings"
)

// Command describes one external process invocation.
type Command struct {
	Name string
	Args []string
	// Dir is the working directory; empty means inherit.
	Dir string
	// Env holds extra KEY=VALUE entries layered over the host environment.
	Env []string
	// Stdin is written to the process and never appears in argv or logs.
	Stdin string
}

// Argv returns the command name followed by its arguments.
func (c Command) Argv() []string {
	argv := make([]string, 0, len(c.Args)+1)
	argv = append(argv, c.Name)
	return append(argv, c.Args...)
}

// String renders the command line for log notices.
func (c Command) String() string {
	return strings.Join(c.Argv(), " ")
}

// Stream identifies which process pipe produced a line.
type Stream int

const (
	StreamStdout Stream = iota
	StreamStderr
)

func (s Stream) String() string {
	if s == StreamStderr {
		return "stderr"
	}
	return "stdout"
}

// LineHandler receives output lines as they are read.
type LineHandler func(stream Stream, line string)

// Result is the transient outcome of one invocation.
type Result struct {
	ExitCode int
	Stdout   []string
	Stderr   []string
}

// stdinPayload terminates the secret with a newline so `sudo -S` stops reading.
func stdinPayload(in string) string {
	if in == "" || strings.HasSuffix(in, "\n") {
		return in
	}
	return in + "\n"
}

// JoinShell quotes argv for a POSIX shell.
func JoinShell(cmd string, args []string) string {
	if len(args) == 0 {
		return shellEscape(cmd)
	}

	var builder strings.Builder
	builder.WriteString(shellEscape(cmd))
	for _, arg := range args {
		builder.WriteByte(' ')
		builder.WriteString(shellEscape(arg))
	}

	return builder.String()
}

func shellEscape(value string) string {
	if value == "" {
		return "''"
	}

	return "'" + strings.ReplaceAll(value, "'", `'"'"'`) + "'"
}
