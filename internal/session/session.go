// Package session holds the progressively populated state of one
// authenticated pod session. A Session has a single owner and is not safe
// for concurrent mutation.
package session

import (
	"slices"
	"time"
)

// DefaultScopes are requested when the caller does not configure any.
var DefaultScopes = []string{"openid", "offline_access", "webid"}

// State is the position of a session in the login state machine.
type State int

const (
	Unconfigured State = iota
	ProviderDiscovered
	Registered
	LoginPrepared
	TokensIssued
)

func (s State) String() string {
	switch s {
	case Unconfigured:
		return "unconfigured"
	case ProviderDiscovered:
		return "provider-discovered"
	case Registered:
		return "registered"
	case LoginPrepared:
		return "login-prepared"
	case TokensIssued:
		return "tokens-issued"
	default:
		return "unknown"
	}
}

// ProviderMetadata is the subset of the OpenID discovery document the
// client consumes.
type ProviderMetadata struct {
	Issuer                string   `json:"issuer"`
	AuthorizationEndpoint string   `json:"authorization_endpoint"`
	TokenEndpoint         string   `json:"token_endpoint"`
	RegistrationEndpoint  string   `json:"registration_endpoint"`
	JWKSURI               string   `json:"jwks_uri"`
	UserinfoEndpoint      string   `json:"userinfo_endpoint"`
	ScopesSupported       []string `json:"scopes_supported"`
	SigningAlgs           []string `json:"id_token_signing_alg_values_supported"`
	DPoPSigningAlgs       []string `json:"dpop_signing_alg_values_supported"`
}

// Session is the mutable record of one login. Secrets in it are never
// logged or written to disk.
type Session struct {
	State State

	ProviderURL  string
	Metadata     *ProviderMetadata
	RedirectURIs []string
	AppName      string
	Scopes       []string

	ClientID     string
	ClientSecret string

	CodeVerifier    string
	OAuthState      string
	RedirectURI     string
	AuthCode        string
	AuthURL         string
	ClientAssertion string

	IDToken     string
	AccessToken string
	TokenType   string
}

// New returns an empty, unconfigured session.
func New() *Session {
	return &Session{Scopes: slices.Clone(DefaultScopes)}
}

// HasTokens reports whether the session can authenticate resource calls.
func (s *Session) HasTokens() bool {
	return s.State == TokensIssued && s.AccessToken != ""
}

// ResetProvider discards everything learned from a provider, returning the
// session to Unconfigured while keeping caller preferences.
func (s *Session) ResetProvider() {
	*s = Session{
		RedirectURIs: s.RedirectURIs,
		AppName:      s.AppName,
		Scopes:       s.Scopes,
	}
}

// ClearLogin drops the PKCE and token material of the current login.
func (s *Session) ClearLogin() {
	s.CodeVerifier = ""
	s.OAuthState = ""
	s.AuthCode = ""
	s.AuthURL = ""
	s.ClientAssertion = ""
	s.IDToken = ""
	s.AccessToken = ""
	s.TokenType = ""
}

// Registration is the result of dynamic client registration with a
// provider. It carries no tokens.
type Registration struct {
	ProviderURL  string    `json:"provider_url"`
	ClientID     string    `json:"client_id"`
	ClientSecret string    `json:"client_secret,omitempty"`
	RedirectURIs []string  `json:"redirect_uris"`
	AppName      string    `json:"app_name"`
	RegisteredAt time.Time `json:"registered_at"`
}
