package tools

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/knownhosts"
)

// transportExitCode matches the ssh client's exit status for connection errors.
const transportExitCode = 255

// SSHRunner runs commands on a remote board over ssh with the same streaming
// contract as ExecRunner.
type SSHRunner struct {
	Host                        string
	Port                        string
	User                        string
	KeyPath                     string
	Passphrase                  []byte
	KnownHostsPath              string
	InsecureSkipHostKeyChecking bool
	Timeout                     time.Duration
}

func (r SSHRunner) Run(ctx context.Context, c Command, onLine LineHandler) (Result, error) {
	client, err := r.dial(ctx)
	if err != nil {
		return Result{ExitCode: transportExitCode}, err
	}
	defer client.Close()

	session, err := client.NewSession()
	if err != nil {
		return Result{ExitCode: transportExitCode}, err
	}
	defer session.Close()

	if c.Stdin != "" {
		session.Stdin = strings.NewReader(stdinPayload(c.Stdin))
	}
	stdout, err := session.StdoutPipe()
	if err != nil {
		return Result{ExitCode: transportExitCode}, err
	}
	stderr, err := session.StderrPipe()
	if err != nil {
		return Result{ExitCode: transportExitCode}, err
	}

	if err := session.Start(remoteCommandLine(c)); err != nil {
		return Result{ExitCode: transportExitCode}, err
	}

	stop := context.AfterFunc(ctx, func() {
		_ = session.Signal(ssh.SIGTERM)
		_ = session.Close()
	})
	defer stop()

	collector := newLineCollector(onLine)
	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		collector.scan(StreamStdout, stdout)
	}()
	go func() {
		defer wg.Done()
		collector.scan(StreamStderr, stderr)
	}()
	wg.Wait()

	err = session.Wait()
	res := collector.result()
	if err == nil {
		return res, nil
	}

	var exitErr *ssh.ExitError
	if errors.As(err, &exitErr) {
		res.ExitCode = exitErr.ExitStatus()
		return res, err
	}
	res.ExitCode = transportExitCode
	return res, err
}

// remoteCommandLine folds Dir and Env into one shell line since ssh sessions
// have no working directory and most servers reject Setenv.
func remoteCommandLine(c Command) string {
	line := JoinShell(c.Name, c.Args)
	if len(c.Env) > 0 {
		line = JoinShell("env", c.Env) + " " + line
	}
	if c.Dir != "" {
		line = "cd " + shellEscape(c.Dir) + " && " + line
	}
	return line
}

func (r SSHRunner) dial(ctx context.Context) (*ssh.Client, error) {
	address, err := r.address()
	if err != nil {
		return nil, err
	}

	config, err := r.clientConfig()
	if err != nil {
		return nil, err
	}

	dialer := net.Dialer{Timeout: r.Timeout}
	conn, err := dialer.DialContext(ctx, "tcp", address)
	if err != nil {
		return nil, err
	}

	clientConn, chans, reqs, err := ssh.NewClientConn(conn, address, config)
	if err != nil {
		conn.Close()
		return nil, err
	}

	return ssh.NewClient(clientConn, chans, reqs), nil
}

func (r SSHRunner) address() (string, error) {
	host := strings.TrimSpace(r.Host)
	if host == "" {
		return "", fmt.Errorf("ssh host is required")
	}

	if r.Port != "" {
		return net.JoinHostPort(host, r.Port), nil
	}

	if _, _, err := net.SplitHostPort(host); err == nil {
		return host, nil
	}

	return net.JoinHostPort(host, "22"), nil
}

func (r SSHRunner) clientConfig() (*ssh.ClientConfig, error) {
	if r.User == "" {
		return nil, fmt.Errorf("ssh user is required")
	}

	signer, err := r.signer()
	if err != nil {
		return nil, err
	}

	var hostKeyCallback ssh.HostKeyCallback
	if r.InsecureSkipHostKeyChecking {
		hostKeyCallback = ssh.InsecureIgnoreHostKey()
	} else {
		callback, err := r.knownHostsCallback()
		if err != nil {
			return nil, err
		}
		hostKeyCallback = callback
	}

	return &ssh.ClientConfig{
		User:            r.User,
		Auth:            []ssh.AuthMethod{ssh.PublicKeys(signer)},
		HostKeyCallback: hostKeyCallback,
		Timeout:         r.Timeout,
	}, nil
}

func (r SSHRunner) signer() (ssh.Signer, error) {
	if r.KeyPath == "" {
		return nil, fmt.Errorf("ssh key path is required")
	}

	privateKey, err := os.ReadFile(r.KeyPath)
	if err != nil {
		return nil, err
	}

	if len(r.Passphrase) > 0 {
		return ssh.ParsePrivateKeyWithPassphrase(privateKey, r.Passphrase)
	}

	return ssh.ParsePrivateKey(privateKey)
}

func (r SSHRunner) knownHostsCallback() (ssh.HostKeyCallback, error) {
	path := strings.TrimSpace(r.KnownHostsPath)
	if path == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("known hosts path not set and home dir unavailable")
		}
		path = filepath.Join(home, ".ssh", "known_hosts")
	}

	return knownhosts.New(path)
}
