package main

import (
	"github.com/spf13/cobra"

	"github.com/podgate/podgate/internal/config"
)

func newConfigCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Inspect or create the configuration file",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "show",
		Short: "Show the effective configuration after all overrides",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return config.RenderEffective(resolvedCfg, cmd.OutOrStdout())
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "init",
		Short: "Write a commented default configuration file",
		Args:  cobra.NoArgs,
		RunE:  runConfigInit,
	})

	return cmd
}

func runConfigInit(_ *cobra.Command, _ []string) error {
	path := flagConfigPath

	if path == "" {
		env, err := config.ReadEnvOverrides()
		if err != nil {
			return err
		}

		path = env.ConfigPath
	}

	if path == "" {
		path = config.DefaultConfigPath()
	}

	if err := config.WriteDefault(path); err != nil {
		return err
	}

	statusf("Wrote %s.\n", path)

	return nil
}
