package authflow

import (
	"context"
	"net/http"
	"net/url"
	"testing"
	"time"

	josejwt "github.com/go-jose/go-jose/v4/jwt"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/podgate/podgate/internal/dpop"
	"github.com/podgate/podgate/internal/keys"
	"github.com/podgate/podgate/internal/poderr"
	"github.com/podgate/podgate/internal/podtest"
	"github.com/podgate/podgate/internal/session"
)

func TestPrepareLogin_URL(t *testing.T) {
	srv := podtest.New(t)
	c := registeredClient(t, srv, Options{})

	authURL, err := c.PrepareLogin("")
	require.NoError(t, err)

	u, err := url.Parse(authURL)
	require.NoError(t, err)
	assert.Equal(t, srv.URL+"/.oidc/auth", u.Scheme+"://"+u.Host+u.Path)

	q := u.Query()
	assert.Equal(t, "code", q.Get("response_type"))
	assert.Equal(t, podtest.ClientID, q.Get("client_id"))
	assert.Equal(t, testRedirect, q.Get("redirect_uri"))
	assert.Equal(t, "openid offline_access webid", q.Get("scope"))
	assert.Equal(t, "S256", q.Get("code_challenge_method"))
	assert.NotEmpty(t, q.Get("code_challenge"))
	assert.Equal(t, "consent", q.Get("prompt"))
	assert.Equal(t, "query", q.Get("response_mode"))

	sess := c.Session()
	assert.Equal(t, session.LoginPrepared, sess.State)
	assert.Equal(t, sess.OAuthState, q.Get("state"))
	assert.NotEmpty(t, sess.CodeVerifier)
	assert.Equal(t, testRedirect, sess.RedirectURI)
	assert.Equal(t, authURL, sess.AuthURL)
}

func TestPrepareLogin_FreshVerifierEachTime(t *testing.T) {
	srv := podtest.New(t)
	c := registeredClient(t, srv, Options{})

	_, err := c.PrepareLogin("")
	require.NoError(t, err)

	first := c.Session().CodeVerifier

	_, err = c.PrepareLogin("")
	require.NoError(t, err)
	assert.NotEqual(t, first, c.Session().CodeVerifier)
}

func TestPrepareLogin_Errors(t *testing.T) {
	srv := podtest.New(t)

	t.Run("not registered", func(t *testing.T) {
		c := newTestClient(t, srv, Options{})
		require.NoError(t, c.Discover(context.Background(), srv.URL))

		_, err := c.PrepareLogin("")
		assert.ErrorIs(t, err, poderr.ErrConfiguration)
	})

	t.Run("unregistered redirect", func(t *testing.T) {
		c := registeredClient(t, srv, Options{})

		_, err := c.PrepareLogin("http://localhost:9999/other")
		assert.ErrorIs(t, err, poderr.ErrConfiguration)
		assert.Equal(t, session.Registered, c.Session().State)
	})
}

func TestExchange_Success(t *testing.T) {
	srv := podtest.New(t)
	c := registeredClient(t, srv, Options{})

	authURL, err := c.PrepareLogin("")
	require.NoError(t, err)

	code := srv.AuthorizeCode(authURL)
	require.NoError(t, c.Exchange(context.Background(), code))

	sess := c.Session()
	assert.Equal(t, session.TokensIssued, sess.State)
	assert.True(t, sess.HasTokens())
	assert.NotEmpty(t, sess.IDToken)
	assert.Equal(t, "DPoP", sess.TokenType)
	assert.Empty(t, sess.AuthCode, "code is single use")
	assert.NotEmpty(t, sess.ClientAssertion)

	webID, err := c.WebID()
	require.NoError(t, err)
	assert.Equal(t, srv.WebID(), webID)

	reqs := srv.RequestsTo(http.MethodPost, "/.oidc/token")
	require.Len(t, reqs, 1)
	assert.NotEmpty(t, reqs[0].Header.Get(dpop.HeaderName))

	form, err := url.ParseQuery(reqs[0].Body)
	require.NoError(t, err)
	assert.Equal(t, "authorization_code", form.Get("grant_type"))
	assert.Equal(t, sess.CodeVerifier, form.Get("code_verifier"))
	assert.Empty(t, form.Get("client_assertion"))
}

func TestExchange_ProofBoundToTokenEndpoint(t *testing.T) {
	srv := podtest.New(t)
	c := registeredClient(t, srv, Options{})

	authURL, err := c.PrepareLogin("")
	require.NoError(t, err)
	require.NoError(t, c.Exchange(context.Background(), srv.AuthorizeCode(authURL)))

	reqs := srv.RequestsTo(http.MethodPost, "/.oidc/token")
	require.Len(t, reqs, 1)

	proof, err := dpop.Decode(reqs[0].Header.Get(dpop.HeaderName))
	require.NoError(t, err)
	assert.Equal(t, http.MethodPost, proof.Claims.HTM)
	assert.Equal(t, srv.URL+"/.oidc/token", proof.Claims.HTU)
	assert.Equal(t, dpop.TokenType, proof.Header.Type)
}

func TestExchange_InvalidGrant(t *testing.T) {
	srv := podtest.New(t)
	srv.TokenError = "invalid_grant"
	srv.TokenErrorDescription = "grant request is invalid"

	c := registeredClient(t, srv, Options{})

	authURL, err := c.PrepareLogin("")
	require.NoError(t, err)

	err = c.Exchange(context.Background(), srv.AuthorizeCode(authURL))
	require.Error(t, err)
	assert.ErrorIs(t, err, poderr.ErrAuthentication)
	assert.Contains(t, err.Error(), "grant request is invalid")

	var perr *poderr.Error
	require.ErrorAs(t, err, &perr)
	assert.Equal(t, http.StatusBadRequest, perr.Status)

	sess := c.Session()
	assert.Equal(t, session.LoginPrepared, sess.State)
	assert.False(t, sess.HasTokens())
	assert.Empty(t, sess.AccessToken)
	assert.Empty(t, sess.IDToken)
}

func TestExchange_UnknownCode(t *testing.T) {
	srv := podtest.New(t)
	c := registeredClient(t, srv, Options{})

	_, err := c.PrepareLogin("")
	require.NoError(t, err)

	err = c.Exchange(context.Background(), "never-issued")
	assert.ErrorIs(t, err, poderr.ErrAuthentication)
	assert.Equal(t, session.LoginPrepared, c.Session().State)
}

func TestExchange_Preconditions(t *testing.T) {
	srv := podtest.New(t)
	c := registeredClient(t, srv, Options{})

	err := c.Exchange(context.Background(), "code")
	assert.ErrorIs(t, err, poderr.ErrConfiguration, "no login prepared")

	_, err = c.PrepareLogin("")
	require.NoError(t, err)

	err = c.Exchange(context.Background(), "")
	assert.ErrorIs(t, err, poderr.ErrConfiguration, "empty code")
	assert.Empty(t, srv.RequestsTo(http.MethodPost, "/.oidc/token"))
}

func TestExchange_VerifyIDToken(t *testing.T) {
	srv := podtest.New(t)
	c := registeredClient(t, srv, Options{VerifyIDToken: true})

	authURL, err := c.PrepareLogin("")
	require.NoError(t, err)
	require.NoError(t, c.Exchange(context.Background(), srv.AuthorizeCode(authURL)))

	assert.Equal(t, session.TokensIssued, c.Session().State)
	assert.NotEmpty(t, srv.RequestsTo(http.MethodGet, "/.oidc/jwks"))
}

func TestExchange_VerifyIDTokenWrongIssuer(t *testing.T) {
	srv := podtest.New(t)
	srv.Metadata = func(m map[string]any) { m["issuer"] = "https://impostor.example/" }

	c := registeredClient(t, srv, Options{VerifyIDToken: true})

	authURL, err := c.PrepareLogin("")
	require.NoError(t, err)

	err = c.Exchange(context.Background(), srv.AuthorizeCode(authURL))
	require.Error(t, err)
	assert.ErrorIs(t, err, poderr.ErrProtocol)
	assert.Contains(t, err.Error(), "identity token rejected")
	assert.False(t, c.Session().HasTokens())
	assert.Equal(t, session.LoginPrepared, c.Session().State)
}

func TestExchange_SendClientAssertion(t *testing.T) {
	srv := podtest.New(t)
	c := registeredClient(t, srv, Options{SendClientAssertion: true})

	authURL, err := c.PrepareLogin("")
	require.NoError(t, err)
	require.NoError(t, c.Exchange(context.Background(), srv.AuthorizeCode(authURL)))

	reqs := srv.RequestsTo(http.MethodPost, "/.oidc/token")
	require.Len(t, reqs, 1)

	form, err := url.ParseQuery(reqs[0].Body)
	require.NoError(t, err)
	assert.Equal(t, clientAssertionType, form.Get("client_assertion_type"))
	assert.Equal(t, c.Session().ClientAssertion, form.Get("client_assertion"))
}

func TestBuildClientAssertion_Claims(t *testing.T) {
	srv := podtest.New(t)
	c := registeredClient(t, srv, Options{})

	fixed := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	c.now = func() time.Time { return fixed }

	_, err := c.PrepareLogin("")
	require.NoError(t, err)

	assertion, err := c.BuildClientAssertion()
	require.NoError(t, err)
	require.NoError(t, c.ValidateClientAssertion(assertion))

	decoded, err := dpop.Decode(assertion)
	require.NoError(t, err, "assertion is signed by the embedded key")
	assert.Equal(t, dpop.TokenType, decoded.Header.Type)

	tok, err := josejwt.ParseSigned(assertion, idTokenAlgorithms)
	require.NoError(t, err)

	pub, err := c.keys.PublicKey()
	require.NoError(t, err)

	var claims assertionClaims
	require.NoError(t, tok.Claims(pub, &claims))
	assert.Equal(t, "http://localhost:3001", claims.Issuer)
	assert.Equal(t, "http://localhost:3001", claims.Audience)
	assert.Equal(t, srv.URL+"/.oidc/token", claims.HTU)
	assert.Equal(t, http.MethodPost, claims.HTM)
	assert.NotEmpty(t, claims.JTI)
	assert.Equal(t, fixed.Unix(), claims.IssuedAt)
	assert.Equal(t, fixed.Add(24*time.Hour).Unix(), claims.Expiry)
}

func TestBuildClientAssertion_ConfiguredParties(t *testing.T) {
	srv := podtest.New(t)
	c := registeredClient(t, srv, Options{Issuer: "https://app.example", Audience: "https://pod.example"})

	assertion, err := c.BuildClientAssertion()
	require.NoError(t, err)
	require.NoError(t, c.ValidateClientAssertion(assertion))

	c.opts.Audience = "https://other.example"
	err = c.ValidateClientAssertion(assertion)
	require.Error(t, err)
	assert.ErrorIs(t, err, poderr.ErrConfiguration)
}

func TestValidateClientAssertion_Expired(t *testing.T) {
	srv := podtest.New(t)
	c := registeredClient(t, srv, Options{Issuer: "https://app.example", Audience: "https://app.example"})

	issued := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	c.now = func() time.Time { return issued }

	assertion, err := c.BuildClientAssertion()
	require.NoError(t, err)

	c.now = func() time.Time { return issued.Add(48 * time.Hour) }
	assert.ErrorIs(t, c.ValidateClientAssertion(assertion), poderr.ErrConfiguration)
}

func TestValidateClientAssertion_OtherKey(t *testing.T) {
	srv := podtest.New(t)
	c := registeredClient(t, srv, Options{Issuer: "https://app.example", Audience: "https://app.example"})

	assertion, err := c.BuildClientAssertion()
	require.NoError(t, err)

	require.NoError(t, c.keys.Generate())
	assert.ErrorIs(t, c.ValidateClientAssertion(assertion), poderr.ErrConfiguration)
}

func TestBuildClientAssertion_BeforeDiscover(t *testing.T) {
	km := keys.NewManager(nil)
	c := NewClient(session.New(), km, dpop.NewBuilder(km, nil, nil), Options{})

	_, err := c.BuildClientAssertion()
	assert.ErrorIs(t, err, poderr.ErrConfiguration)
}

func TestWebID_NoToken(t *testing.T) {
	km := keys.NewManager(nil)
	c := NewClient(session.New(), km, dpop.NewBuilder(km, nil, nil), Options{})

	_, err := c.WebID()
	assert.ErrorIs(t, err, poderr.ErrConfiguration)

	c.sess.IDToken = "garbage"
	_, err = c.WebID()
	assert.ErrorIs(t, err, poderr.ErrProtocol)
}

func TestGenerateState(t *testing.T) {
	state1, err := generateState()
	require.NoError(t, err)
	assert.Len(t, state1, stateTokenBytes*2) // hex encoding doubles the length

	state2, err := generateState()
	require.NoError(t, err)
	assert.NotEqual(t, state1, state2, "consecutive states should differ")
}
