package main

import (
	"fmt"
	"strings"

	"github.com/danmuck/camctl/internal/config"
	"github.com/danmuck/camctl/internal/events"
	"github.com/danmuck/camctl/internal/inventory"
	"github.com/danmuck/camctl/internal/streamer"
	"github.com/danmuck/camctl/internal/tools"
	homedir "github.com/mitchellh/go-homedir"
	"github.com/rs/zerolog/log"
)

// newRunner is swapped in tests.
var newRunner = runnerFor

// app holds the pieces every subcommand shares.
type app struct {
	cfg       config.Config
	hub       *events.Hub
	sink      *events.DualSink
	installer *streamer.Installer
}

func runnerFor(cfg config.Config) (tools.Runner, tools.FS, error) {
	switch cfg.Runner.Kind {
	case config.RunnerSSH:
		timeout, err := cfg.Runner.SSH.TimeoutDuration()
		if err != nil {
			return nil, nil, err
		}
		keyPath, err := homedir.Expand(cfg.Runner.SSH.KeyPath)
		if err != nil {
			return nil, nil, fmt.Errorf("expand ssh key path: %w", err)
		}
		knownHosts, err := homedir.Expand(cfg.Runner.SSH.KnownHostsPath)
		if err != nil {
			return nil, nil, fmt.Errorf("expand known hosts path: %w", err)
		}
		runner := tools.SSHRunner{
			Host:                        cfg.Runner.SSH.Host,
			Port:                        cfg.Runner.SSH.Port,
			User:                        cfg.Runner.SSH.User,
			KeyPath:                     keyPath,
			KnownHostsPath:              knownHosts,
			InsecureSkipHostKeyChecking: cfg.Runner.SSH.InsecureSkipHostKeyChecking,
			Timeout:                     timeout,
		}
		return runner, tools.RunnerFS{Runner: runner}, nil
	default:
		return tools.ExecRunner{}, tools.LocalFS{}, nil
	}
}

func newApp(cfg config.Config) (*app, error) {
	runner, fs, err := newRunner(cfg)
	if err != nil {
		return nil, err
	}

	paths := streamer.Paths{SourceDir: cfg.Streamer.SourceDir, Binary: cfg.Streamer.Binary}
	if cfg.Runner.Kind != config.RunnerSSH {
		if paths, err = streamer.ExpandPaths(paths); err != nil {
			return nil, err
		}
	}

	consolePath := strings.TrimSpace(cfg.ConsoleLog)
	if consolePath != "" {
		if consolePath, err = homedir.Expand(consolePath); err != nil {
			return nil, fmt.Errorf("expand console log path: %w", err)
		}
	}
	hub := events.NewHub(0)
	sink, err := events.NewDualSink(events.SinkConfig{
		ConsolePath:     consolePath,
		ConsoleMaxBytes: cfg.ConsoleLogMaxBytes,
		Hub:             hub,
	})
	if err != nil {
		hub.Close()
		return nil, err
	}

	installer, err := streamer.New(streamer.Config{
		Runner:     runner,
		FS:         fs,
		Inventory:  inventory.New(inventory.Config{Runner: runner}),
		Paths:      paths,
		RepoURL:    cfg.Streamer.RepoURL,
		CloneDepth: cfg.Streamer.CloneDepth,
		Sink:       sink,
		LockPath:   cfg.LockPath,
	})
	if err != nil {
		_ = sink.Close()
		hub.Close()
		return nil, err
	}

	log.Info().
		Str("runner", cfg.Runner.Kind).
		Str("source_dir", paths.SourceDir).
		Str("binary", paths.Binary).
		Msg("installer ready")
	return &app{cfg: cfg, hub: hub, sink: sink, installer: installer}, nil
}

func (a *app) Close() {
	if err := a.sink.Close(); err != nil {
		log.Warn().Err(err).Msg("close console log")
	}
	a.hub.Close()
}
