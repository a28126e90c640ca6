package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/podgate/podgate/internal/regfile"
)

func newRegistrationsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "registrations",
		Short: "List cached client registrations",
		Args:  cobra.NoArgs,
		RunE:  runRegistrationsList,
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "forget [provider]",
		Short: "Drop the cached registration for a provider",
		Long: `Drop the cached registration for a provider so the next command
registers again. Defaults to the configured provider.`,
		Args: cobra.MaximumNArgs(1),
		RunE: runRegistrationsForget,
	})

	return cmd
}

func runRegistrationsList(cmd *cobra.Command, _ []string) error {
	providers, err := regfile.Providers(resolvedCfg.RegistrationPath)
	if err != nil {
		return err
	}

	if flagJSON {
		if providers == nil {
			providers = []string{}
		}

		return printJSON(cmd.OutOrStdout(), providers)
	}

	if len(providers) == 0 {
		statusf("No cached registrations.\n")
		return nil
	}

	rows := make([][]string, 0, len(providers))

	for _, p := range providers {
		reg, err := regfile.Load(resolvedCfg.RegistrationPath, p)
		if err != nil {
			return err
		}

		if reg == nil {
			continue
		}

		rows = append(rows, []string{p, reg.ClientID, formatTime(reg.RegisteredAt)})
	}

	printTable(cmd.OutOrStdout(), []string{"PROVIDER", "CLIENT ID", "REGISTERED"}, rows)

	return nil
}

func runRegistrationsForget(cmd *cobra.Command, args []string) error {
	var provider string

	if len(args) == 1 {
		provider = args[0]
	} else {
		p, err := requireProvider()
		if err != nil {
			return err
		}

		provider = p
	}

	// Registrations are keyed by the discovered provider root.
	if !strings.HasSuffix(provider, "/") {
		provider += "/"
	}

	removed, err := regfile.Remove(resolvedCfg.RegistrationPath, provider)
	if err != nil {
		return err
	}

	if !removed {
		return fmt.Errorf("no cached registration for %s", provider)
	}

	statusf("Forgot registration for %s.\n", provider)

	return nil
}
