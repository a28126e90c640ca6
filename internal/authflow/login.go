package authflow

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"slices"
	"time"

	"github.com/coreos/go-oidc/v3/oidc"
	"github.com/go-jose/go-jose/v4"
	josejwt "github.com/go-jose/go-jose/v4/jwt"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"golang.org/x/oauth2"

	"github.com/podgate/podgate/internal/dpop"
	"github.com/podgate/podgate/internal/keys"
	"github.com/podgate/podgate/internal/poderr"
	"github.com/podgate/podgate/internal/session"
)

const (
	// stateTokenBytes is the number of random bytes for the OAuth2 state parameter.
	stateTokenBytes = 16

	// assertionLifetime is how long a client assertion stays valid.
	assertionLifetime = 24 * time.Hour

	// assertionLeeway is the clock skew tolerated when self-validating.
	assertionLeeway = 5 * time.Minute

	clientAssertionType = "urn:ietf:params:oauth:client-assertion-type:jwt-bearer"
)

// PrepareLogin starts a new authorization-code login with PKCE and returns
// the URL the user must visit. redirectURI defaults to the first registered
// redirect URI.
func (c *Client) PrepareLogin(redirectURI string) (string, error) {
	const op = "authflow.PrepareLogin"

	if c.sess.State < session.Registered {
		return "", poderr.Configuration(op, "client not registered (state %s)", c.sess.State)
	}

	if redirectURI == "" {
		if len(c.sess.RedirectURIs) == 0 {
			return "", poderr.Configuration(op, "no redirect URI registered")
		}

		redirectURI = c.sess.RedirectURIs[0]
	}

	if len(c.sess.RedirectURIs) > 0 && !slices.Contains(c.sess.RedirectURIs, redirectURI) {
		return "", poderr.Configuration(op, "redirect URI %q was not registered", redirectURI)
	}

	state, err := generateState()
	if err != nil {
		return "", poderr.Wrap(poderr.ErrConfiguration, op, err)
	}

	c.sess.ClearLogin()
	c.sess.CodeVerifier = oauth2.GenerateVerifier()
	c.sess.OAuthState = state
	c.sess.RedirectURI = redirectURI

	cfg := c.oauthConfig()
	c.sess.AuthURL = cfg.AuthCodeURL(state,
		oauth2.S256ChallengeOption(c.sess.CodeVerifier),
		oauth2.SetAuthURLParam("prompt", "consent"),
		oauth2.SetAuthURLParam("response_mode", "query"),
	)
	c.sess.State = session.LoginPrepared

	c.logger.Info("login prepared",
		slog.String("authorization_endpoint", c.sess.Metadata.AuthorizationEndpoint),
		slog.String("redirect_uri", redirectURI),
	)

	return c.sess.AuthURL, nil
}

// Exchange trades an authorization code for identity and access tokens.
// The token request carries a DPoP proof bound to POST and the token
// endpoint. On failure the session stays LoginPrepared without tokens.
func (c *Client) Exchange(ctx context.Context, code string) error {
	const op = "authflow.Exchange"

	if c.sess.State != session.LoginPrepared {
		return poderr.Configuration(op, "no login in progress (state %s)", c.sess.State)
	}

	if code == "" {
		return poderr.Configuration(op, "authorization code is empty")
	}

	c.sess.AuthCode = code
	defer func() { c.sess.AuthCode = "" }()

	assertion, err := c.BuildClientAssertion()
	if err != nil {
		return err
	}

	if err := c.ValidateClientAssertion(assertion); err != nil {
		return err
	}

	c.sess.ClientAssertion = assertion

	opts := []oauth2.AuthCodeOption{oauth2.VerifierOption(c.sess.CodeVerifier)}
	if c.opts.SendClientAssertion {
		opts = append(opts,
			oauth2.SetAuthURLParam("client_assertion_type", clientAssertionType),
			oauth2.SetAuthURLParam("client_assertion", assertion),
		)
	}

	tokenEndpoint := c.sess.Metadata.TokenEndpoint
	ctx = context.WithValue(ctx, oauth2.HTTPClient, dpop.Client(c.proofs, c.httpClient, c.logger))

	c.logger.Info("exchanging authorization code", slog.String("token_endpoint", tokenEndpoint))

	tok, err := c.oauthConfig().Exchange(ctx, code, opts...)
	if err != nil {
		return c.exchangeError(op, tokenEndpoint, err)
	}

	idToken, _ := tok.Extra("id_token").(string)

	if c.opts.VerifyIDToken {
		if err := c.verifyIDToken(ctx, idToken); err != nil {
			return &poderr.Error{Kind: poderr.ErrProtocol, Op: op, URI: tokenEndpoint, Description: "identity token rejected", Err: err}
		}
	}

	c.sess.IDToken = idToken
	c.sess.AccessToken = tok.AccessToken
	c.sess.TokenType = tok.TokenType
	c.sess.State = session.TokensIssued

	c.logger.Info("tokens issued",
		slog.String("token_type", tok.TokenType),
		slog.Bool("id_token", idToken != ""),
		slog.Time("expiry", tok.Expiry),
	)

	return nil
}

func (c *Client) exchangeError(op, tokenEndpoint string, err error) error {
	var re *oauth2.RetrieveError
	if errors.As(err, &re) {
		perr := &poderr.Error{
			Kind:        poderr.ErrAuthentication,
			Op:          op,
			Method:      http.MethodPost,
			URI:         tokenEndpoint,
			Description: re.ErrorDescription,
			Err:         re,
		}

		if re.Response != nil {
			perr.Status = re.Response.StatusCode
		}

		if perr.Description == "" {
			perr.Description = re.ErrorCode
		}

		c.logger.Warn("token exchange rejected",
			slog.Int("status", perr.Status),
			slog.String("error_code", re.ErrorCode),
			slog.String("description", re.ErrorDescription),
		)

		return perr
	}

	var ue *url.Error
	if errors.As(err, &ue) {
		c.logger.Warn("token endpoint unreachable", slog.String("error", err.Error()))
		return &poderr.Error{Kind: poderr.ErrTransport, Op: op, Method: http.MethodPost, URI: tokenEndpoint, Err: err}
	}

	return &poderr.Error{Kind: poderr.ErrProtocol, Op: op, Method: http.MethodPost, URI: tokenEndpoint, Err: err}
}

func (c *Client) verifyIDToken(ctx context.Context, raw string) error {
	if raw == "" {
		return errors.New("token response has no id_token")
	}

	if c.provider == nil {
		return errors.New("provider metadata has no issuer or jwks_uri")
	}

	verifier := c.provider.Verifier(&oidc.Config{ClientID: c.sess.ClientID})

	_, err := verifier.Verify(oidc.ClientContext(ctx, c.httpClient), raw)

	return err
}

func (c *Client) oauthConfig() *oauth2.Config {
	return &oauth2.Config{
		ClientID:     c.sess.ClientID,
		ClientSecret: c.sess.ClientSecret,
		RedirectURL:  c.sess.RedirectURI,
		Scopes:       c.sess.Scopes,
		Endpoint: oauth2.Endpoint{
			AuthURL:   c.sess.Metadata.AuthorizationEndpoint,
			TokenURL:  c.sess.Metadata.TokenEndpoint,
			AuthStyle: oauth2.AuthStyleInParams,
		},
	}
}

// assertionClaims is the client assertion payload.
type assertionClaims struct {
	Issuer   string `json:"iss"`
	Audience string `json:"aud"`
	Expiry   int64  `json:"exp"`
	HTU      string `json:"htu"`
	HTM      string `json:"htm"`
	JTI      string `json:"jti"`
	IssuedAt int64  `json:"iat"`
}

// assertionParties returns the configured iss and aud, defaulting both to
// the origin of the redirect URI.
func (c *Client) assertionParties() (string, string) {
	iss, aud := c.opts.Issuer, c.opts.Audience

	if iss != "" && aud != "" {
		return iss, aud
	}

	origin := ""
	if u, err := url.Parse(c.sess.RedirectURI); err == nil && u.Host != "" {
		origin = u.Scheme + "://" + u.Host
	}

	if iss == "" {
		iss = origin
	}

	if aud == "" {
		aud = origin
	}

	return iss, aud
}

// BuildClientAssertion signs a client assertion for the token endpoint with
// the session key. The header carries typ dpop+jwt and the public jwk.
func (c *Client) BuildClientAssertion() (string, error) {
	const op = "authflow.BuildClientAssertion"

	if c.sess.Metadata == nil || c.sess.Metadata.TokenEndpoint == "" {
		return "", poderr.Configuration(op, "provider not discovered")
	}

	iss, aud := c.assertionParties()
	if iss == "" || aud == "" {
		return "", poderr.Configuration(op, "client assertion issuer and audience are required")
	}

	now := c.now()
	claims := assertionClaims{
		Issuer:   iss,
		Audience: aud,
		Expiry:   now.Add(assertionLifetime).Unix(),
		HTU:      c.sess.Metadata.TokenEndpoint,
		HTM:      http.MethodPost,
		JTI:      uuid.NewString(),
		IssuedAt: now.Unix(),
	}

	signer, err := c.keys.Signer((&jose.SignerOptions{}).WithType(dpop.TokenType))
	if err != nil {
		return "", err
	}

	signed, err := josejwt.Signed(signer).Claims(claims).Serialize()
	if err != nil {
		return "", poderr.Wrap(poderr.ErrConfiguration, op, err)
	}

	return signed, nil
}

// ValidateClientAssertion checks an assertion against the session public
// key and the configured issuer and audience.
func (c *Client) ValidateClientAssertion(assertion string) error {
	const op = "authflow.ValidateClientAssertion"

	pub, err := c.keys.PublicKey()
	if err != nil {
		return err
	}

	iss, aud := c.assertionParties()

	parser := jwt.NewParser(
		jwt.WithValidMethods([]string{string(keys.Algorithm)}),
		jwt.WithIssuer(iss),
		jwt.WithAudience(aud),
		jwt.WithExpirationRequired(),
		jwt.WithIssuedAt(),
		jwt.WithLeeway(assertionLeeway),
		jwt.WithTimeFunc(c.now),
	)

	_, err = parser.Parse(assertion, func(*jwt.Token) (any, error) { return pub, nil })
	if err != nil {
		return &poderr.Error{Kind: poderr.ErrConfiguration, Op: op, Description: "client assertion failed validation", Err: err}
	}

	return nil
}

// idClaims are the identity token claims the client reads.
type idClaims struct {
	Subject string `json:"sub"`
	WebID   string `json:"webid"`
}

// idTokenAlgorithms are accepted when decoding identity tokens locally.
var idTokenAlgorithms = []jose.SignatureAlgorithm{
	jose.RS256, jose.RS384, jose.RS512,
	jose.ES256, jose.ES384, jose.ES512,
	jose.PS256, jose.PS384, jose.PS512,
	jose.EdDSA,
}

// WebID returns the user's WebID from the identity token: the webid claim,
// or sub when that is absent. The token is decoded without verification.
func (c *Client) WebID() (string, error) {
	const op = "authflow.WebID"

	if c.sess.IDToken == "" {
		return "", poderr.Configuration(op, "no identity token")
	}

	tok, err := josejwt.ParseSigned(c.sess.IDToken, idTokenAlgorithms)
	if err != nil {
		return "", poderr.Wrap(poderr.ErrProtocol, op, err)
	}

	var claims idClaims
	if err := tok.UnsafeClaimsWithoutVerification(&claims); err != nil {
		return "", poderr.Wrap(poderr.ErrProtocol, op, err)
	}

	if claims.WebID != "" {
		return claims.WebID, nil
	}

	if claims.Subject == "" {
		return "", poderr.Protocol(op, "identity token has neither webid nor sub")
	}

	return claims.Subject, nil
}

// generateState produces a cryptographically random hex string for the
// OAuth2 state parameter.
func generateState() (string, error) {
	b := make([]byte, stateTokenBytes)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("authflow: generating state: %w", err)
	}

	return hex.EncodeToString(b), nil
}
