package streamer

import "context"

// Operation names one installer entry point.
type Operation string

const (
	OpInstallDependencies Operation = "install_dependencies"
	OpDownloadSource      Operation = "download"
	OpInstallStreamer     Operation = "install_streamer"
	OpUninstallStreamer   Operation = "uninstall_streamer"
)

// Mutating reports whether the operation needs the single-flight lock.
func (o Operation) Mutating() bool {
	switch o {
	case OpInstallDependencies, OpDownloadSource, OpInstallStreamer:
		return true
	default:
		return false
	}
}

// Command is the closed set of installer requests. Only types in this
// package implement it.
type Command interface {
	Operation() Operation
	run(ctx context.Context, i *Installer, r *Run) error
}

// InstallDependencies installs every missing required package.
type InstallDependencies struct {
	Password string
}

// DownloadSource clones the streamer source, replacing an existing checkout
// only when Overwrite is set.
type DownloadSource struct {
	Overwrite bool
}

// InstallStreamer builds the checkout and installs the binary.
type InstallStreamer struct {
	Password string
}

// UninstallStreamer is accepted but does nothing yet.
type UninstallStreamer struct {
	Password string
}

func (InstallDependencies) Operation() Operation { return OpInstallDependencies }
func (DownloadSource) Operation() Operation      { return OpDownloadSource }
func (InstallStreamer) Operation() Operation     { return OpInstallStreamer }
func (UninstallStreamer) Operation() Operation   { return OpUninstallStreamer }

func (c InstallDependencies) run(ctx context.Context, i *Installer, r *Run) error {
	return i.installDependencies(ctx, r, c.Password)
}

func (c DownloadSource) run(ctx context.Context, i *Installer, r *Run) error {
	return i.downloadSource(ctx, r, c.Overwrite)
}

func (c InstallStreamer) run(ctx context.Context, i *Installer, r *Run) error {
	return i.installStreamer(ctx, r, c.Password)
}

func (c UninstallStreamer) run(ctx context.Context, i *Installer, r *Run) error {
	return i.uninstallStreamer(ctx, r)
}
