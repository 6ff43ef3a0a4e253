package main

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"golang.org/x/term"
)

var errNoPassword = errors.New("a sudo password is required: run in a terminal or pass --password-stdin")

// isTerminal is swapped in tests.
var isTerminal = func(fd int) bool { return term.IsTerminal(fd) }

type passwordFlags struct {
	fromStdin bool
}

func (p *passwordFlags) bind(cmd *cobra.Command) {
	cmd.Flags().BoolVar(&p.fromStdin, "password-stdin", false, "read the sudo password from the first line of stdin")
}

// read returns the sudo password without echoing it.
func (p *passwordFlags) read(cmd *cobra.Command) (string, error) {
	in := cmd.InOrStdin()
	if p.fromStdin {
		return readLine(in)
	}
	file, ok := in.(*os.File)
	if !ok || !isTerminal(int(file.Fd())) {
		return "", errNoPassword
	}
	_, _ = fmt.Fprint(cmd.ErrOrStderr(), "[sudo] password: ")
	secret, err := term.ReadPassword(int(file.Fd()))
	_, _ = fmt.Fprintln(cmd.ErrOrStderr())
	if err != nil {
		return "", fmt.Errorf("read password: %w", err)
	}
	return string(secret), nil
}

func readLine(in io.Reader) (string, error) {
	line, err := bufio.NewReader(in).ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return "", fmt.Errorf("read password: %w", err)
	}
	line = strings.TrimRight(line, "\r\n")
	if line == "" && errors.Is(err, io.EOF) {
		return "", errNoPassword
	}
	return line, nil
}
