package authflow

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"time"

	"github.com/podgate/podgate/internal/poderr"
)

// shutdownTimeout is how long to wait for the callback server to drain.
const shutdownTimeout = 5 * time.Second

// callbackResult carries the authorization code or error from the callback handler.
type callbackResult struct {
	code string
	err  error
}

// LoginWithBrowser runs a complete interactive login on a registered
// client:
//  1. Binds a loopback HTTP server on the redirect URI's host and port
//  2. Prepares the login and hands the authorization URL to openURL
//  3. Receives the callback with the authorization code
//  4. Exchanges the code for tokens
//
// If openURL fails, the URL is passed to fallback so the user can open it
// manually.
func (c *Client) LoginWithBrowser(
	ctx context.Context,
	redirectURI string,
	openURL func(string) error,
	fallback func(string),
) error {
	const op = "authflow.LoginWithBrowser"

	if redirectURI == "" && len(c.sess.RedirectURIs) > 0 {
		redirectURI = c.sess.RedirectURIs[0]
	}

	addr, path, err := loopbackAddr(redirectURI)
	if err != nil {
		return poderr.Wrap(poderr.ErrConfiguration, op, err)
	}

	resultCh := make(chan callbackResult, 1)
	mux := http.NewServeMux()

	srv, err := startCallbackServer(ctx, addr, mux, resultCh, c.logger)
	if err != nil {
		return poderr.Wrap(poderr.ErrConfiguration, op, err)
	}

	defer shutdownCallbackServer(srv, c.logger)

	authURL, err := c.PrepareLogin(redirectURI)
	if err != nil {
		return err
	}

	registerCallbackHandler(mux, path, c.sess.OAuthState, resultCh)

	c.logger.Info("opening browser for authorization")

	if openErr := openURL(authURL); openErr != nil {
		c.logger.Warn("failed to open browser, printing URL", slog.String("error", openErr.Error()))
		fallback(authURL)
	}

	code, err := waitForCallback(ctx, resultCh)
	if err != nil {
		return poderr.Wrap(poderr.ErrAuthentication, op, err)
	}

	return c.Exchange(ctx, code)
}

// loopbackAddr extracts the listen address and path from a redirect URI,
// which must point at a loopback host.
func loopbackAddr(redirectURI string) (string, string, error) {
	u, err := url.Parse(redirectURI)
	if err != nil {
		return "", "", fmt.Errorf("redirect URI %q: %w", redirectURI, err)
	}

	if u.Scheme != "http" {
		return "", "", fmt.Errorf("redirect URI %q must use http on a loopback host", redirectURI)
	}

	host := u.Hostname()
	if host != "localhost" {
		ip := net.ParseIP(host)
		if ip == nil || !ip.IsLoopback() {
			return "", "", fmt.Errorf("redirect URI %q is not a loopback address", redirectURI)
		}
	}

	port := u.Port()
	if port == "" {
		port = "80"
	}

	path := u.Path
	if path == "" {
		path = "/"
	}

	return net.JoinHostPort(host, port), path, nil
}

// startCallbackServer binds addr and serves mux until shut down.
func startCallbackServer(
	ctx context.Context,
	addr string,
	mux *http.ServeMux,
	resultCh chan<- callbackResult,
	logger *slog.Logger,
) (*http.Server, error) {
	lc := net.ListenConfig{}

	listener, err := lc.Listen(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("binding callback listener %s: %w", addr, err)
	}

	logger.Info("callback server listening", slog.String("addr", listener.Addr().String()))

	srv := &http.Server{
		Handler:           mux,
		ReadHeaderTimeout: shutdownTimeout,
	}

	go func() {
		if serveErr := srv.Serve(listener); serveErr != nil && !errors.Is(serveErr, http.ErrServerClosed) {
			select {
			case resultCh <- callbackResult{err: fmt.Errorf("callback server error: %w", serveErr)}:
			default:
			}
		}
	}()

	return srv, nil
}

// registerCallbackHandler adds the callback route to the mux.
func registerCallbackHandler(mux *http.ServeMux, path, state string, resultCh chan<- callbackResult) {
	mux.HandleFunc("GET "+path, func(w http.ResponseWriter, r *http.Request) {
		handleOAuthCallback(w, r, state, resultCh)
	})
}

// handleOAuthCallback validates the state, extracts the code, and sends the result.
func handleOAuthCallback(w http.ResponseWriter, r *http.Request, state string, resultCh chan<- callbackResult) {
	q := r.URL.Query()

	var result callbackResult

	switch {
	case q.Get("state") != state:
		http.Error(w, "Invalid state parameter", http.StatusBadRequest)
		result.err = errors.New("OAuth2 state mismatch")
	case q.Get("error") != "":
		http.Error(w, "Authorization failed: "+q.Get("error"), http.StatusBadRequest)
		result.err = fmt.Errorf("authorization failed: %s: %s", q.Get("error"), q.Get("error_description"))
	case q.Get("code") == "":
		http.Error(w, "Missing authorization code", http.StatusBadRequest)
		result.err = errors.New("callback missing authorization code")
	default:
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		fmt.Fprint(w, "<html><body><h1>Signed in</h1>"+
			"<p>You can close this window and return to the terminal.</p></body></html>")

		result.code = q.Get("code")
	}

	// Only the first callback counts; later hits must not block the handler.
	select {
	case resultCh <- result:
	default:
	}
}

// shutdownCallbackServer gracefully shuts down the callback HTTP server.
func shutdownCallbackServer(srv *http.Server, logger *slog.Logger) {
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("callback server shutdown error", slog.String("error", err.Error()))
	}
}

// waitForCallback blocks until the callback fires or the context is canceled.
func waitForCallback(ctx context.Context, resultCh <-chan callbackResult) (string, error) {
	select {
	case result := <-resultCh:
		if result.err != nil {
			return "", result.err
		}

		return result.code, nil
	case <-ctx.Done():
		return "", fmt.Errorf("browser login canceled: %w", ctx.Err())
	}
}
