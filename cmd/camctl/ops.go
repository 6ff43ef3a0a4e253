package main

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/danmuck/camctl/internal/events"
	"github.com/danmuck/camctl/internal/streamer"
	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

func newStatusCmd(opts *rootOptions) *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show missing packages and install state",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := opts.load()
			if err != nil {
				return err
			}
			a, err := newApp(cfg)
			if err != nil {
				return err
			}
			defer a.Close()

			st := a.installer.Status(cmd.Context())
			out := cmd.OutOrStdout()
			if asJSON {
				enc := json.NewEncoder(out)
				enc.SetIndent("", "  ")
				return enc.Encode(st)
			}
			printStatus(out, st, a.installer.Paths())
			return nil
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "print the raw status object")
	return cmd
}

func printStatus(out io.Writer, st streamer.Status, paths streamer.Paths) {
	switch {
	case !st.Missing.Known:
		_, _ = fmt.Fprintln(out, "dependencies: "+color.YellowString("unknown"))
	case st.Missing.None():
		_, _ = fmt.Fprintln(out, "dependencies: "+color.GreenString("ok"))
	default:
		_, _ = fmt.Fprintln(out, "dependencies: "+color.RedString("missing %s", strings.Join(st.Missing.Packages, ", ")))
	}
	_, _ = fmt.Fprintf(out, "source:       %s (%s)\n", yesNo(st.Downloaded), paths.SourceDir)
	_, _ = fmt.Fprintf(out, "binary:       %s (%s)\n", yesNo(st.Installed), paths.Binary)
	if st.Error != "" {
		_, _ = fmt.Fprintln(out, color.RedString("error: %s", st.Error))
	}
}

func yesNo(ok bool) string {
	if ok {
		return color.GreenString("present")
	}
	return color.YellowString("absent")
}

func newDepsCmd(opts *rootOptions) *cobra.Command {
	deps := &cobra.Command{Use: "deps", Short: "Manage build dependencies"}
	var pw passwordFlags
	install := &cobra.Command{
		Use:   "install",
		Short: "Install missing build dependencies with apt-get",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			secret, err := pw.read(cmd)
			if err != nil {
				return err
			}
			return runOperation(cmd, opts, streamer.InstallDependencies{Password: secret})
		},
	}
	pw.bind(install)
	deps.AddCommand(install)
	return deps
}

func newSourceCmd(opts *rootOptions) *cobra.Command {
	source := &cobra.Command{Use: "source", Short: "Manage the camera-streamer checkout"}
	var overwrite bool
	download := &cobra.Command{
		Use:   "download",
		Short: "Shallow-clone the camera-streamer source",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runOperation(cmd, opts, streamer.DownloadSource{Overwrite: overwrite})
		},
	}
	download.Flags().BoolVar(&overwrite, "overwrite", false, "replace an existing checkout")
	source.AddCommand(download)
	return source
}

func newStreamerCmd(opts *rootOptions) *cobra.Command {
	st := &cobra.Command{Use: "streamer", Short: "Build, install or remove camera-streamer"}

	var installPW passwordFlags
	install := &cobra.Command{
		Use:   "install",
		Short: "Build the checkout and install the binary",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			secret, err := installPW.read(cmd)
			if err != nil {
				return err
			}
			return runOperation(cmd, opts, streamer.InstallStreamer{Password: secret})
		},
	}
	installPW.bind(install)

	uninstall := &cobra.Command{
		Use:   "uninstall",
		Short: "Remove camera-streamer (not supported yet)",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runOperation(cmd, opts, streamer.UninstallStreamer{})
		},
	}

	st.AddCommand(install, uninstall)
	return st
}

// runOperation executes cmd in the foreground, echoing sink lines and step
// transitions to the terminal.
func runOperation(cmd *cobra.Command, opts *rootOptions, op streamer.Command) error {
	cfg, err := opts.load()
	if err != nil {
		return err
	}
	a, err := newApp(cfg)
	if err != nil {
		return err
	}
	defer a.Close()

	out := cmd.OutOrStdout()
	msgs, unsubscribe := a.hub.Subscribe()
	printed := make(chan struct{})
	go func() {
		defer close(printed)
		for msg := range msgs {
			if entry, ok := msg.Content.(events.LogEntry); ok {
				printLog(out, entry)
			}
		}
	}()

	seen := map[string]streamer.StepState{}
	err = a.installer.Execute(cmd.Context(), op, func(snap streamer.RunSnapshot) {
		for _, step := range snap.Steps {
			if seen[step.Name] == step.State {
				continue
			}
			seen[step.Name] = step.State
			if step.State == streamer.StepPending {
				continue
			}
			a.sink.Log(events.LevelDebug, fmt.Sprintf("step %s %s", step.Name, step.State))
		}
	})
	unsubscribe()
	<-printed

	if err != nil {
		_, _ = fmt.Fprintln(out, color.RedString("%s failed [%s]", op.Operation(), streamer.ErrorKind(err)))
		return err
	}
	_, _ = fmt.Fprintln(out, color.GreenString("%s done", op.Operation()))
	return nil
}

var (
	errorLine   = color.New(color.FgRed)
	commandLine = color.New(color.FgYellow)
	stepLine    = color.New(color.FgCyan)
)

func printLog(out io.Writer, entry events.LogEntry) {
	for _, line := range entry.Message {
		switch entry.Level {
		case events.LevelError:
			_, _ = errorLine.Fprintln(out, line)
		case events.LevelWarning:
			_, _ = commandLine.Fprintln(out, "$ "+line)
		case events.LevelDebug:
			_, _ = stepLine.Fprintln(out, "  "+line)
		default:
			_, _ = fmt.Fprintln(out, line)
		}
	}
}
