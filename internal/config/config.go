package config

import (
	"fmt"
	"net"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/caarlos0/env/v11"
	"github.com/danmuck/camctl/internal/streamer"
)

const (
	RunnerLocal = "local"
	RunnerSSH   = "ssh"

	EnvPrefix = "CAMCTL_"
)

type Config struct {
	ID                 string   `toml:"id" env:"ID"`
	Addr               string   `toml:"addr" env:"ADDR"`
	CorsOrigins        []string `toml:"cors_origins" env:"CORS_ORIGINS"`
	APIKey             string   `toml:"api_key" env:"API_KEY"`
	ConsoleLog         string   `toml:"console_log" env:"CONSOLE_LOG"`
	ConsoleLogMaxBytes int64    `toml:"console_log_max_bytes" env:"CONSOLE_LOG_MAX_BYTES"`
	LockPath           string   `toml:"lock_path" env:"LOCK_PATH"`
	QueueSize          int      `toml:"queue_size" env:"QUEUE_SIZE"`
	JobHistory         int      `toml:"job_history" env:"JOB_HISTORY"`

	Streamer StreamerConfig `toml:"streamer" envPrefix:"STREAMER_"`
	Runner   RunnerConfig   `toml:"runner" envPrefix:"RUNNER_"`
}

type StreamerConfig struct {
	SourceDir  string `toml:"source_dir" env:"SOURCE_DIR"`
	Binary     string `toml:"binary" env:"BINARY"`
	RepoURL    string `toml:"repo_url" env:"REPO_URL"`
	CloneDepth int    `toml:"clone_depth" env:"CLONE_DEPTH"`
}

type RunnerConfig struct {
	Kind string    `toml:"kind" env:"KIND"`
	SSH  SSHConfig `toml:"ssh" envPrefix:"SSH_"`
}

type SSHConfig struct {
	Host                        string `toml:"host" env:"HOST"`
	Port                        string `toml:"port" env:"PORT"`
	User                        string `toml:"user" env:"USER"`
	KeyPath                     string `toml:"key_path" env:"KEY_PATH"`
	KnownHostsPath              string `toml:"known_hosts_path" env:"KNOWN_HOSTS_PATH"`
	InsecureSkipHostKeyChecking bool   `toml:"insecure_skip_host_key_checking" env:"INSECURE_SKIP_HOST_KEY_CHECKING"`
	Timeout                     string `toml:"timeout" env:"TIMEOUT"`
}

// TimeoutDuration parses Timeout. An empty value yields zero.
func (c SSHConfig) TimeoutDuration() (time.Duration, error) {
	raw := strings.TrimSpace(c.Timeout)
	if raw == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return 0, fmt.Errorf("parse runner.ssh.timeout: %w", err)
	}
	return d, nil
}

func Default() Config {
	return Config{
		ID:                 "camctl",
		Addr:               "127.0.0.1:5055",
		CorsOrigins:        []string{"http://localhost:3000"},
		ConsoleLog:         "~/.camctl/console.log",
		ConsoleLogMaxBytes: 2 << 20,
		LockPath:           "/tmp/camctl.lock",
		QueueSize:          8,
		JobHistory:         32,
		Streamer: StreamerConfig{
			SourceDir:  "~/" + streamer.DefaultSourceDirName,
			Binary:     streamer.DefaultBinaryPath,
			RepoURL:    streamer.DefaultRepoURL,
			CloneDepth: streamer.DefaultCloneDepth,
		},
		Runner: RunnerConfig{
			Kind: RunnerLocal,
			SSH: SSHConfig{
				Port:    "22",
				Timeout: "10s",
			},
		},
	}
}

// Load reads path over the defaults, applies CAMCTL_* environment overrides
// and validates the result. An empty path skips the file.
func Load(path string, environ map[string]string) (Config, error) {
	cfg := Default()
	if strings.TrimSpace(path) != "" {
		if err := decodeFile(path, &cfg); err != nil {
			return Config{}, err
		}
	}
	if err := ApplyEnv(&cfg, environ); err != nil {
		return Config{}, err
	}
	if err := Validate(cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func decodeFile(path string, cfg *Config) error {
	meta, err := toml.DecodeFile(path, cfg)
	if err != nil {
		return fmt.Errorf("config load failed (%s): %w", path, err)
	}
	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		keys := make([]string, 0, len(undecoded))
		for _, key := range undecoded {
			keys = append(keys, key.String())
		}
		return fmt.Errorf("config parse failed (%s): unknown keys %s", path, strings.Join(keys, ", "))
	}

	// an [runner.ssh] table without an explicit kind selects ssh
	if meta.IsDefined("runner", "ssh") && !meta.IsDefined("runner", "kind") {
		cfg.Runner.Kind = RunnerSSH
	}
	if meta.IsDefined("cors_origins") {
		cfg.CorsOrigins = normalizeList(cfg.CorsOrigins)
	}
	return nil
}

// ApplyEnv overrides cfg from CAMCTL_* variables. A nil environ reads the
// process environment.
func ApplyEnv(cfg *Config, environ map[string]string) error {
	opts := env.Options{Prefix: EnvPrefix}
	if environ != nil {
		opts.Environment = environ
	}
	if err := env.ParseWithOptions(cfg, opts); err != nil {
		return fmt.Errorf("config env overrides: %w", err)
	}
	cfg.CorsOrigins = normalizeList(cfg.CorsOrigins)
	return nil
}

func Validate(cfg Config) error {
	if strings.TrimSpace(cfg.ID) == "" {
		return fmt.Errorf("config missing id")
	}
	if strings.TrimSpace(cfg.Addr) == "" {
		return fmt.Errorf("config missing addr")
	}
	if _, _, err := net.SplitHostPort(cfg.Addr); err != nil {
		return fmt.Errorf("config addr invalid: %w", err)
	}
	if cfg.QueueSize < 1 {
		return fmt.Errorf("queue_size must be >= 1")
	}
	if cfg.JobHistory < 1 {
		return fmt.Errorf("job_history must be >= 1")
	}
	if cfg.ConsoleLogMaxBytes < 0 {
		return fmt.Errorf("console_log_max_bytes must be >= 0")
	}
	if err := validateStreamer(cfg.Streamer); err != nil {
		return fmt.Errorf("streamer invalid: %w", err)
	}
	if err := validateRunner(cfg.Runner, cfg.Streamer); err != nil {
		return fmt.Errorf("runner invalid: %w", err)
	}
	return nil
}

func validateStreamer(cfg StreamerConfig) error {
	if strings.TrimSpace(cfg.SourceDir) == "" {
		return fmt.Errorf("source_dir is required")
	}
	if strings.TrimSpace(cfg.Binary) == "" {
		return fmt.Errorf("binary is required")
	}
	if strings.TrimSpace(cfg.RepoURL) == "" {
		return fmt.Errorf("repo_url is required")
	}
	if cfg.CloneDepth < 1 {
		return fmt.Errorf("clone_depth must be >= 1")
	}
	return nil
}

func validateRunner(cfg RunnerConfig, paths StreamerConfig) error {
	switch cfg.Kind {
	case RunnerLocal:
		return nil
	case RunnerSSH:
	default:
		return fmt.Errorf("kind must be %q or %q, got %q", RunnerLocal, RunnerSSH, cfg.Kind)
	}
	if strings.TrimSpace(cfg.SSH.Host) == "" {
		return fmt.Errorf("ssh.host is required")
	}
	if strings.TrimSpace(cfg.SSH.User) == "" {
		return fmt.Errorf("ssh.user is required")
	}
	if strings.TrimSpace(cfg.SSH.KeyPath) == "" {
		return fmt.Errorf("ssh.key_path is required")
	}
	if strings.TrimSpace(cfg.SSH.KnownHostsPath) == "" && !cfg.SSH.InsecureSkipHostKeyChecking {
		return fmt.Errorf("ssh.known_hosts_path is required unless insecure_skip_host_key_checking is set")
	}
	if _, err := cfg.SSH.TimeoutDuration(); err != nil {
		return err
	}
	// remote paths are not expanded on this host
	if !filepath.IsAbs(paths.SourceDir) || !filepath.IsAbs(paths.Binary) {
		return fmt.Errorf("streamer paths must be absolute for the ssh runner")
	}
	return nil
}

func normalizeList(in []string) []string {
	out := make([]string, 0, len(in))
	for _, v := range in {
		v = strings.TrimSpace(v)
		if v == "" {
			continue
		}
		out = append(out, v)
	}
	return out
}
