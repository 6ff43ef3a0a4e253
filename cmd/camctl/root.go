package main

import (
	"os"

	"github.com/danmuck/camctl/internal/config"
	"github.com/danmuck/camctl/internal/logging"
	"github.com/spf13/cobra"
)

const envConfigPath = "CAMCTL_CONFIG"

type rootOptions struct {
	configPath string
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}
	root := &cobra.Command{
		Use:           "camctl",
		Short:         "Install and manage the camera-streamer binary",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(*cobra.Command, []string) {
			logging.ConfigureRuntime()
		},
	}
	root.PersistentFlags().StringVarP(&opts.configPath, "config", "c", os.Getenv(envConfigPath), "path to camctl.toml")

	root.AddCommand(
		newServeCmd(opts),
		newStatusCmd(opts),
		newDepsCmd(opts),
		newSourceCmd(opts),
		newStreamerCmd(opts),
		newConfigCmd(opts),
	)
	return root
}

func (o *rootOptions) load() (config.Config, error) {
	return config.Load(o.configPath, nil)
}
