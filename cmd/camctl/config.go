package main

import (
	"fmt"

	"github.com/danmuck/camctl/internal/config"
	"github.com/fatih/color"
	homedir "github.com/mitchellh/go-homedir"
	"github.com/spf13/cobra"
)

const defaultConfigPath = "~/.camctl/camctl.toml"

func newConfigCmd(opts *rootOptions) *cobra.Command {
	cfgCmd := &cobra.Command{Use: "config", Short: "Create or check camctl.toml"}

	var force bool
	initCmd := &cobra.Command{
		Use:   "init",
		Short: "Write a config file with the default values",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			path := opts.configPath
			if path == "" {
				path = defaultConfigPath
			}
			path, err := homedir.Expand(path)
			if err != nil {
				return fmt.Errorf("expand config path: %w", err)
			}
			if err := config.WriteTemplate(path, force); err != nil {
				return err
			}
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "wrote %s\n", path)
			return nil
		},
	}
	initCmd.Flags().BoolVar(&force, "force", false, "overwrite an existing file")

	validate := &cobra.Command{
		Use:   "validate",
		Short: "Load the config with env overrides and report problems",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := opts.load()
			if err != nil {
				_, _ = fmt.Fprintln(cmd.OutOrStdout(), color.RedString("invalid: %v", err))
				return err
			}
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "%s runner=%s addr=%s\n", color.GreenString("ok"), cfg.Runner.Kind, cfg.Addr)
			return nil
		},
	}

	cfgCmd.AddCommand(initCmd, validate)
	return cfgCmd
}
