package streamer

import (
	"fmt"
	"path/filepath"

	homedir "github.com/mitchellh/go-homedir"
)

const (
	DefaultRepoURL       = "https://github.com/ayufan/camera-streamer.git"
	DefaultBinaryPath    = "/usr/local/bin/camera-streamer"
	DefaultSourceDirName = "camera-streamer"
	DefaultCloneDepth    = 1
)

// Paths are the two locations the installer checks. Neither is created
// outside of the clone and make install steps.
type Paths struct {
	SourceDir string `json:"source_dir"`
	Binary    string `json:"binary"`
}

// DefaultPaths puts the checkout under the invoking user's home directory.
func DefaultPaths() (Paths, error) {
	home, err := homedir.Dir()
	if err != nil {
		return Paths{}, fmt.Errorf("resolve home dir: %w", err)
	}
	return Paths{
		SourceDir: filepath.Join(home, DefaultSourceDirName),
		Binary:    DefaultBinaryPath,
	}, nil
}

// ExpandPaths resolves a leading ~ in either path for the local host.
func ExpandPaths(p Paths) (Paths, error) {
	src, err := homedir.Expand(p.SourceDir)
	if err != nil {
		return Paths{}, fmt.Errorf("expand source dir: %w", err)
	}
	bin, err := homedir.Expand(p.Binary)
	if err != nil {
		return Paths{}, fmt.Errorf("expand binary path: %w", err)
	}
	return Paths{SourceDir: src, Binary: bin}, nil
}
