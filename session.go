package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"runtime"
	"slices"

	"github.com/podgate/podgate/internal/authflow"
	"github.com/podgate/podgate/internal/ledger"
	"github.com/podgate/podgate/internal/pod"
	"github.com/podgate/podgate/internal/regfile"
	"github.com/podgate/podgate/internal/session"
)

// podClient bundles a gateway with the history store it reports to.
type podClient struct {
	gw      *pod.Gateway
	history *ledger.Store
	logger  *slog.Logger
}

// Close releases the history database.
func (pc *podClient) Close() {
	if pc.history == nil {
		return
	}

	if err := pc.history.Close(); err != nil {
		pc.logger.Warn("closing history database", slog.String("error", err.Error()))
	}
}

// newPodClient builds a gateway from the resolved config. A history
// database that cannot be opened is logged and skipped: recording is
// never a reason to fail a resource command.
func newPodClient(ctx context.Context) *podClient {
	logger := buildLogger()
	pc := &podClient{logger: logger}

	opts := pod.Options{
		HTTPClient: newHTTPClient(),
		PodRoot:    resolvedCfg.PodRoot,
		UserAgent:  userAgent(),
		Auth: authflow.Options{
			Issuer:              resolvedCfg.Issuer,
			Audience:            resolvedCfg.Audience,
			VerifyIDToken:       resolvedCfg.VerifyIDToken,
			SendClientAssertion: resolvedCfg.SendClientAssertion,
		},
		Logger: logger,
	}

	if resolvedCfg.HistoryEnabled {
		store, err := ledger.Open(ctx, resolvedCfg.HistoryDB, logger)
		if err != nil {
			logger.Warn("operation history disabled", slog.String("error", err.Error()))
		} else {
			pc.history = store
			opts.Recorder = store
		}
	}

	pc.gw = pod.New(opts)

	return pc
}

func userAgent() string {
	if resolvedCfg.UserAgent != "" {
		return resolvedCfg.UserAgent
	}

	return "podgate/" + version
}

// discover fetches provider metadata for the configured provider.
func (pc *podClient) discover(ctx context.Context) error {
	provider, err := requireProvider()
	if err != nil {
		return err
	}

	return pc.gw.Auth().Discover(ctx, provider)
}

// ensureRegistered adopts the cached registration for the provider when its
// redirect URIs still match the config, otherwise registers and caches the
// result.
func (pc *podClient) ensureRegistered(ctx context.Context, force bool) (*session.Registration, bool, error) {
	providerURL := pc.gw.Session().ProviderURL

	if !force {
		reg, err := regfile.Load(resolvedCfg.RegistrationPath, providerURL)
		if err != nil {
			return nil, false, err
		}

		if reg != nil && slices.Equal(reg.RedirectURIs, resolvedCfg.RedirectURIs) {
			if err := pc.gw.Auth().UseRegistration(reg); err != nil {
				return nil, false, err
			}

			pc.logger.Debug("using cached registration", slog.String("client_id", reg.ClientID))

			return reg, true, nil
		}
	}

	reg, err := pc.gw.Auth().Register(ctx, resolvedCfg.RedirectURIs, resolvedCfg.AppName)
	if err != nil {
		return nil, false, err
	}

	if err := regfile.Save(resolvedCfg.RegistrationPath, reg); err != nil {
		pc.logger.Warn("could not cache registration", slog.String("error", err.Error()))
	}

	return reg, false, nil
}

// login runs discovery, registration, and the browser login. Tokens live
// only in memory, so every authenticated command logs in again.
func (pc *podClient) login(ctx context.Context) error {
	if err := pc.discover(ctx); err != nil {
		return err
	}

	if _, _, err := pc.ensureRegistered(ctx, false); err != nil {
		return err
	}

	loginCtx, cancel := context.WithTimeout(ctx, resolvedCfg.CallbackTimeout)
	defer cancel()

	return pc.gw.Auth().LoginWithBrowser(loginCtx, resolvedCfg.RedirectURI(), browserOpener, func(authURL string) {
		// The login URL must be visible even with --quiet.
		fmt.Fprintf(os.Stderr, "Open this URL in a browser to log in:\n  %s\n", authURL)
	})
}

// browserOpener is replaced in tests.
var browserOpener = openBrowser

// openBrowser opens url with the platform's default handler.
func openBrowser(url string) error {
	var cmd *exec.Cmd

	switch runtime.GOOS {
	case "darwin":
		cmd = exec.Command("open", url)
	case "windows":
		cmd = exec.Command("rundll32", "url.dll,FileProtocolHandler", url)
	default:
		cmd = exec.Command("xdg-open", url)
	}

	if err := cmd.Start(); err != nil {
		return fmt.Errorf("starting browser: %w", err)
	}

	// Reap the child without blocking the login.
	go func() { _ = cmd.Wait() }()

	return nil
}

// loggedIn returns a pod client that has completed login and loaded the
// container index.
func loggedIn(ctx context.Context) (*podClient, error) {
	pc := newPodClient(ctx)

	if err := pc.login(ctx); err != nil {
		pc.Close()
		return nil, err
	}

	if err := pc.gw.LoadContainers(ctx); err != nil {
		pc.Close()
		return nil, err
	}

	return pc, nil
}
