package main

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"

	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"

	"github.com/podgate/podgate/internal/config"
	"github.com/podgate/podgate/internal/poderr"
)

// version is set at build time via ldflags.
var version = "dev"

// Global persistent flags, bound in newRootCmd().
var (
	flagConfigPath string
	flagProvider   string
	flagJSON       bool
	flagVerbose    bool
	flagQuiet      bool
)

// resolvedCfg holds the effective configuration loaded by PersistentPreRunE.
var resolvedCfg *config.Resolved

// skipConfigCommands lists commands that must run even when the config
// file is broken.
var skipConfigCommands = map[string]bool{
	"podgate config init": true,
}

// newRootCmd builds the root command with all subcommands registered.
func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "podgate",
		Short:   "Solid pod client",
		Long:    "Log in to a Solid identity provider with DPoP-bound tokens and manage pod resources.",
		Version: version,
		// Errors are printed by main.
		SilenceErrors: true,
		SilenceUsage:  true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			if skipConfigCommands[cmd.CommandPath()] {
				return nil
			}

			return loadConfig()
		},
	}

	cmd.PersistentFlags().StringVar(&flagConfigPath, "config", "", "config file path")
	cmd.PersistentFlags().StringVar(&flagProvider, "provider", "", "identity provider / pod URL")
	cmd.PersistentFlags().BoolVar(&flagJSON, "json", false, "output in JSON format")
	cmd.PersistentFlags().BoolVarP(&flagVerbose, "verbose", "v", false, "enable debug logging")
	cmd.PersistentFlags().BoolVarP(&flagQuiet, "quiet", "q", false, "suppress informational output")
	cmd.MarkFlagsMutuallyExclusive("verbose", "quiet")

	cmd.AddCommand(newDiscoverCmd())
	cmd.AddCommand(newRegisterCmd())
	cmd.AddCommand(newRegistrationsCmd())
	cmd.AddCommand(newLoginCmd())
	cmd.AddCommand(newWhoamiCmd())
	cmd.AddCommand(newLsCmd())
	cmd.AddCommand(newTreeCmd())
	cmd.AddCommand(newMkdirCmd())
	cmd.AddCommand(newCatCmd())
	cmd.AddCommand(newCreateCmd())
	cmd.AddCommand(newPutCmd())
	cmd.AddCommand(newRmCmd())
	cmd.AddCommand(newWatchCmd())
	cmd.AddCommand(newPushCmd())
	cmd.AddCommand(newHistoryCmd())
	cmd.AddCommand(newProofCmd())
	cmd.AddCommand(newConfigCmd())

	return cmd
}

// loadConfig resolves the effective configuration and stores it in
// resolvedCfg for use by subcommands.
func loadConfig() error {
	env, err := config.ReadEnvOverrides()
	if err != nil {
		return err
	}

	resolved, err := config.Resolve(env, config.CLIOverrides{
		ConfigPath:  flagConfigPath,
		ProviderURL: flagProvider,
	})
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	resolvedCfg = resolved

	return nil
}

// requireProvider returns the configured provider URL or a hint on how to
// set one.
func requireProvider() (string, error) {
	if resolvedCfg == nil || resolvedCfg.ProviderURL == "" {
		return "", errors.New("no provider configured: pass --provider, set PODGATE_PROVIDER_URL, or set provider.url")
	}

	return resolvedCfg.ProviderURL, nil
}

// logLevel returns the level from config, overridden by --verbose and
// --quiet.
func logLevel() slog.Level {
	level := slog.LevelInfo

	if resolvedCfg != nil {
		switch resolvedCfg.LogLevel {
		case "debug":
			level = slog.LevelDebug
		case "warn":
			level = slog.LevelWarn
		case "error":
			level = slog.LevelError
		}
	}

	if flagVerbose {
		level = slog.LevelDebug
	}

	if flagQuiet {
		level = slog.LevelError
	}

	return level
}

// buildLogger creates the stderr logger. The "auto" format writes text to
// a terminal and JSON otherwise.
func buildLogger() *slog.Logger {
	opts := &slog.HandlerOptions{Level: logLevel()}

	format := "auto"
	if resolvedCfg != nil {
		format = resolvedCfg.LogFormat
	}

	useJSON := format == "json" ||
		(format == "auto" && !isatty.IsTerminal(os.Stderr.Fd()) && !isatty.IsCygwinTerminal(os.Stderr.Fd()))

	if useJSON {
		return slog.New(slog.NewJSONHandler(os.Stderr, opts))
	}

	return slog.New(slog.NewTextHandler(os.Stderr, opts))
}

// newHTTPClient returns a client with the configured request timeout.
func newHTTPClient() *http.Client {
	c := &http.Client{}
	if resolvedCfg != nil {
		c.Timeout = resolvedCfg.Timeout
	}

	return c
}

// exitOnError prints a user-friendly error message to stderr and exits.
// Authentication failures exit with status 2 so scripts can re-run login.
func exitOnError(err error) {
	fmt.Fprintf(os.Stderr, "Error: %v\n", err)

	if errors.Is(err, poderr.ErrAuthentication) {
		os.Exit(2)
	}

	os.Exit(1)
}
