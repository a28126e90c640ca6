package main

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/spf13/cobra"

	"github.com/podgate/podgate/internal/session"
)

func newDiscoverCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "discover",
		Short: "Fetch and show the provider's OpenID configuration",
		Args:  cobra.NoArgs,
		RunE:  runDiscover,
	}
}

func newRegisterCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "register",
		Short: "Register podgate as a client with the provider",
		Long: `Register podgate with the provider's dynamic client registration endpoint.
The result is cached, so later commands reuse it. A cached registration is
shown instead of registering again unless --force is given.`,
		Args: cobra.NoArgs,
		RunE: runRegister,
	}

	cmd.Flags().Bool("force", false, "register again even when a cached registration exists")

	return cmd
}

func newLoginCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "login",
		Short: "Log in through the browser and print the WebID",
		Args:  cobra.NoArgs,
		RunE:  runLogin,
	}
}

func newWhoamiCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "whoami",
		Short: "Log in and show the WebID and profile name",
		Args:  cobra.NoArgs,
		RunE:  runWhoami,
	}
}

// discoverOutput is the JSON schema for `discover --json`.
type discoverOutput struct {
	Provider string                    `json:"provider"`
	Metadata *session.ProviderMetadata `json:"metadata"`
}

func runDiscover(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()
	pc := newPodClient(ctx)
	defer pc.Close()

	if err := pc.discover(ctx); err != nil {
		return err
	}

	sess := pc.gw.Session()
	meta := sess.Metadata

	if flagJSON {
		return printJSON(cmd.OutOrStdout(), discoverOutput{Provider: sess.ProviderURL, Metadata: meta})
	}

	printTable(cmd.OutOrStdout(), []string{"FIELD", "VALUE"}, [][]string{
		{"provider", sess.ProviderURL},
		{"issuer", meta.Issuer},
		{"authorization_endpoint", meta.AuthorizationEndpoint},
		{"token_endpoint", meta.TokenEndpoint},
		{"registration_endpoint", meta.RegistrationEndpoint},
		{"jwks_uri", meta.JWKSURI},
	})

	return nil
}

// registerOutput is the JSON schema for `register --json`. The client
// secret is never printed.
type registerOutput struct {
	Provider     string    `json:"provider"`
	ClientID     string    `json:"client_id"`
	RedirectURIs []string  `json:"redirect_uris"`
	RegisteredAt time.Time `json:"registered_at"`
	Cached       bool      `json:"cached"`
}

func runRegister(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()
	force, _ := cmd.Flags().GetBool("force")

	pc := newPodClient(ctx)
	defer pc.Close()

	if err := pc.discover(ctx); err != nil {
		return err
	}

	reg, cached, err := pc.ensureRegistered(ctx, force)
	if err != nil {
		return err
	}

	if flagJSON {
		return printJSON(cmd.OutOrStdout(), registerOutput{
			Provider:     reg.ProviderURL,
			ClientID:     reg.ClientID,
			RedirectURIs: reg.RedirectURIs,
			RegisteredAt: reg.RegisteredAt,
			Cached:       cached,
		})
	}

	if cached {
		statusf("Using registration from %s.\n", formatTime(reg.RegisteredAt))
	} else {
		statusf("Registered with %s.\n", reg.ProviderURL)
	}

	fmt.Fprintln(cmd.OutOrStdout(), reg.ClientID)

	return nil
}

func runLogin(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()
	pc := newPodClient(ctx)
	defer pc.Close()

	if err := pc.login(ctx); err != nil {
		return err
	}

	webID, err := pc.gw.WebID()
	if err != nil {
		return err
	}

	statusf("Login successful.\n")
	fmt.Fprintln(cmd.OutOrStdout(), webID)

	return nil
}

// whoamiOutput is the JSON schema for `whoami --json`.
type whoamiOutput struct {
	WebID string `json:"webid"`
	Name  string `json:"name,omitempty"`
	Root  string `json:"root"`
}

func runWhoami(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()
	pc := newPodClient(ctx)
	defer pc.Close()

	if err := pc.login(ctx); err != nil {
		return err
	}

	webID, err := pc.gw.WebID()
	if err != nil {
		return err
	}

	root, err := pc.gw.Root()
	if err != nil {
		return err
	}

	// A profile without a name is not an error for whoami.
	name, err := pc.gw.UserName(ctx)
	if err != nil {
		pc.logger.Debug("no profile name", slog.String("error", err.Error()))
	}

	info := whoamiOutput{WebID: webID, Name: name, Root: root.String()}

	if flagJSON {
		return printJSON(cmd.OutOrStdout(), info)
	}

	rows := [][]string{{"webid", info.WebID}, {"root", info.Root}}
	if info.Name != "" {
		rows = append(rows, []string{"name", info.Name})
	}

	printTable(cmd.OutOrStdout(), []string{"FIELD", "VALUE"}, rows)

	return nil
}
