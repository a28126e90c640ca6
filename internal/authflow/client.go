// Package authflow drives the OpenID Connect login against a pod identity
// provider: discovery, dynamic client registration, authorization code with
// PKCE, and a DPoP-bound token exchange. Progress is recorded in a
// session.Session whose State moves
// Unconfigured -> ProviderDiscovered -> Registered -> LoginPrepared -> TokensIssued.
package authflow

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/coreos/go-oidc/v3/oidc"

	"github.com/podgate/podgate/internal/dpop"
	"github.com/podgate/podgate/internal/keys"
	"github.com/podgate/podgate/internal/poderr"
	"github.com/podgate/podgate/internal/session"
)

// wellKnownPath is appended to the provider URL for discovery.
const wellKnownPath = ".well-known/openid-configuration"

// maxMetadataBytes bounds discovery and registration response bodies.
const maxMetadataBytes = 1 << 20

// Options configure a Client. Zero values are usable.
type Options struct {
	// HTTPClient carries every provider request. Defaults to http.DefaultClient.
	HTTPClient *http.Client

	// Issuer and Audience populate the client assertion. Both default to
	// the origin of the redirect URI in use.
	Issuer   string
	Audience string

	// VerifyIDToken checks the identity token signature and claims against
	// the provider's published keys before it is stored.
	VerifyIDToken bool

	// SendClientAssertion adds the client assertion to the token request as
	// a jwt-bearer client_assertion.
	SendClientAssertion bool

	Logger *slog.Logger
}

// Client performs the login steps for one session.
type Client struct {
	sess       *session.Session
	keys       *keys.Manager
	proofs     *dpop.Builder
	httpClient *http.Client
	opts       Options
	logger     *slog.Logger

	provider *oidc.Provider

	// now is replaced in tests.
	now func() time.Time
}

// NewClient returns a Client that records progress in sess and signs with km.
func NewClient(sess *session.Session, km *keys.Manager, proofs *dpop.Builder, opts Options) *Client {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	hc := opts.HTTPClient
	if hc == nil {
		hc = http.DefaultClient
	}

	return &Client{
		sess:       sess,
		keys:       km,
		proofs:     proofs,
		httpClient: hc,
		opts:       opts,
		logger:     logger,
		now:        time.Now,
	}
}

// Session returns the session the client mutates.
func (c *Client) Session() *session.Session {
	return c.sess
}

// Discover fetches the provider's OpenID configuration. On any failure the
// session is left Unconfigured with no provider data.
func (c *Client) Discover(ctx context.Context, providerURL string) error {
	const op = "authflow.Discover"

	c.sess.ResetProvider()
	c.provider = nil

	root, err := providerRoot(providerURL)
	if err != nil {
		return poderr.Wrap(poderr.ErrConfiguration, op, err)
	}

	wellKnown := root + wellKnownPath
	c.logger.Info("discovering provider", slog.String("url", wellKnown))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, wellKnown, nil)
	if err != nil {
		return poderr.Wrap(poderr.ErrConfiguration, op, err)
	}

	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.logger.Warn("provider discovery failed", slog.String("error", err.Error()))
		return &poderr.Error{Kind: poderr.ErrTransport, Op: op, Method: http.MethodGet, URI: wellKnown, Err: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxMetadataBytes))
	if err != nil {
		return &poderr.Error{Kind: poderr.ErrTransport, Op: op, Method: http.MethodGet, URI: wellKnown, Err: err}
	}

	if resp.StatusCode != http.StatusOK {
		perr := poderr.FromResponse(op, http.MethodGet, wellKnown, resp.StatusCode, body)
		perr.Kind = poderr.ErrProtocol

		return perr
	}

	var meta session.ProviderMetadata
	if err := json.Unmarshal(body, &meta); err != nil {
		return &poderr.Error{Kind: poderr.ErrProtocol, Op: op, URI: wellKnown, Description: "metadata is not JSON", Err: err}
	}

	if missing := missingEndpoints(&meta); len(missing) > 0 {
		return &poderr.Error{
			Kind:        poderr.ErrProtocol,
			Op:          op,
			URI:         wellKnown,
			Description: "metadata missing " + strings.Join(missing, ", "),
		}
	}

	c.sess.ProviderURL = root
	c.sess.Metadata = &meta
	c.sess.State = session.ProviderDiscovered
	c.provider = c.buildProvider(&meta)

	c.logger.Info("provider discovered",
		slog.String("issuer", meta.Issuer),
		slog.String("token_endpoint", meta.TokenEndpoint),
	)

	return nil
}

// buildProvider assembles a go-oidc provider from metadata already fetched,
// so issuer spelling differences (trailing slash) do not fail discovery.
// Returns nil when the metadata does not allow identity token verification.
func (c *Client) buildProvider(meta *session.ProviderMetadata) *oidc.Provider {
	if meta.Issuer == "" || meta.JWKSURI == "" {
		return nil
	}

	cfg := &oidc.ProviderConfig{
		IssuerURL:   meta.Issuer,
		AuthURL:     meta.AuthorizationEndpoint,
		TokenURL:    meta.TokenEndpoint,
		JWKSURL:     meta.JWKSURI,
		UserInfoURL: meta.UserinfoEndpoint,
		Algorithms:  meta.SigningAlgs,
	}

	// The remote key set keeps this context for later fetches, so it must
	// not be tied to the discovery request.
	return cfg.NewProvider(oidc.ClientContext(context.Background(), c.httpClient))
}

func missingEndpoints(meta *session.ProviderMetadata) []string {
	var missing []string

	if meta.AuthorizationEndpoint == "" {
		missing = append(missing, "authorization_endpoint")
	}

	if meta.TokenEndpoint == "" {
		missing = append(missing, "token_endpoint")
	}

	if meta.RegistrationEndpoint == "" {
		missing = append(missing, "registration_endpoint")
	}

	return missing
}

// providerRoot validates raw and returns it with a trailing slash.
func providerRoot(raw string) (string, error) {
	if strings.TrimSpace(raw) == "" {
		return "", errors.New("provider URL is empty")
	}

	u, err := url.Parse(raw)
	if err != nil {
		return "", fmt.Errorf("provider URL %q: %w", raw, err)
	}

	if (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return "", fmt.Errorf("provider URL %q must be an absolute http(s) URL", raw)
	}

	u.RawQuery = ""
	u.Fragment = ""

	if !strings.HasSuffix(u.Path, "/") {
		u.Path += "/"
	}

	return u.String(), nil
}

// registrationRequest is the dynamic client registration body.
type registrationRequest struct {
	ApplicationType         string   `json:"application_type"`
	RedirectURIs            []string `json:"redirect_uris"`
	ClientName              string   `json:"client_name"`
	Scopes                  string   `json:"scopes"`
	Scope                   string   `json:"scope"`
	TokenEndpointAuthMethod string   `json:"token_endpoint_auth_method"`
}

type registrationResponse struct {
	ClientID     string `json:"client_id"`
	ClientSecret string `json:"client_secret"`
}

// Register performs dynamic client registration and stores the issued
// client credentials in the session.
func (c *Client) Register(ctx context.Context, redirectURIs []string, appName string) (*session.Registration, error) {
	const op = "authflow.Register"

	if c.sess.State < session.ProviderDiscovered || c.sess.Metadata == nil {
		return nil, poderr.Configuration(op, "provider not discovered")
	}

	if len(redirectURIs) == 0 {
		return nil, poderr.Configuration(op, "at least one redirect URI is required")
	}

	scope := strings.Join(c.sess.Scopes, " ")
	payload, err := json.Marshal(registrationRequest{
		ApplicationType:         "web",
		RedirectURIs:            redirectURIs,
		ClientName:              appName,
		Scopes:                  scope,
		Scope:                   scope,
		TokenEndpointAuthMethod: "client_secret_post",
	})
	if err != nil {
		return nil, poderr.Wrap(poderr.ErrConfiguration, op, err)
	}

	endpoint := c.sess.Metadata.RegistrationEndpoint
	c.logger.Info("registering client",
		slog.String("endpoint", endpoint),
		slog.String("client_name", appName),
	)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
	if err != nil {
		return nil, poderr.Wrap(poderr.ErrConfiguration, op, err)
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, &poderr.Error{Kind: poderr.ErrTransport, Op: op, Method: http.MethodPost, URI: endpoint, Err: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxMetadataBytes))
	if err != nil {
		return nil, &poderr.Error{Kind: poderr.ErrTransport, Op: op, Method: http.MethodPost, URI: endpoint, Err: err}
	}

	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		perr := poderr.FromResponse(op, http.MethodPost, endpoint, resp.StatusCode, body)
		perr.Kind = poderr.ErrProtocol

		return nil, perr
	}

	var out registrationResponse
	if err := json.Unmarshal(body, &out); err != nil {
		return nil, &poderr.Error{Kind: poderr.ErrProtocol, Op: op, URI: endpoint, Description: "registration response is not JSON", Err: err}
	}

	if out.ClientID == "" {
		return nil, &poderr.Error{Kind: poderr.ErrProtocol, Op: op, URI: endpoint, Description: "registration response missing client_id"}
	}

	reg := &session.Registration{
		ProviderURL:  c.sess.ProviderURL,
		ClientID:     out.ClientID,
		ClientSecret: out.ClientSecret,
		RedirectURIs: append([]string(nil), redirectURIs...),
		AppName:      appName,
		RegisteredAt: c.now().UTC(),
	}

	c.applyRegistration(reg)
	c.logger.Info("client registered", slog.String("client_id", reg.ClientID))

	return reg, nil
}

// UseRegistration adopts a registration obtained earlier for the same
// provider, skipping the registration request.
func (c *Client) UseRegistration(reg *session.Registration) error {
	const op = "authflow.UseRegistration"

	if c.sess.State < session.ProviderDiscovered {
		return poderr.Configuration(op, "provider not discovered")
	}

	if reg == nil || reg.ClientID == "" {
		return poderr.Configuration(op, "registration has no client_id")
	}

	if reg.ProviderURL != c.sess.ProviderURL {
		return poderr.Configuration(op, "registration is for %s, not %s", reg.ProviderURL, c.sess.ProviderURL)
	}

	c.applyRegistration(reg)

	return nil
}

func (c *Client) applyRegistration(reg *session.Registration) {
	c.sess.ClientID = reg.ClientID
	c.sess.ClientSecret = reg.ClientSecret
	c.sess.RedirectURIs = append([]string(nil), reg.RedirectURIs...)
	c.sess.AppName = reg.AppName
	c.sess.ClearLogin()
	c.sess.State = session.Registered
}
