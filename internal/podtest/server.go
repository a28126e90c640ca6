// Package podtest runs an in-process pod provider for tests: an OpenID
// identity provider with dynamic registration and DPoP-bound tokens, a
// Turtle resource store with containers, and solid-0.1 change
// notifications over a websocket.
package podtest

import (
	"crypto"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-jose/go-jose/v4"
	"github.com/go-jose/go-jose/v4/jwt"

	"github.com/podgate/podgate/internal/dpop"
)

// Default credentials handed out by the fake provider.
const (
	ClientID     = "podtest-client"
	ClientSecret = "podtest-secret"
	signingKeyID = "podtest-key"
)

// Request is a recorded request to the fake provider.
type Request struct {
	Method string
	Path   string
	Header http.Header
	Body   string
}

type pendingCode struct {
	clientID    string
	redirectURI string
	challenge   string
}

// Server is the fake provider. Exported fields may be changed by tests
// before the first request.
type Server struct {
	*httptest.Server

	// TokenError, when set, makes the token endpoint fail with this OAuth
	// error code and TokenErrorDescription.
	TokenError            string
	TokenErrorDescription string

	// RequireAuth makes resource requests demand a valid DPoP-bound token.
	RequireAuth bool

	// Metadata is applied to the discovery document before it is served.
	Metadata func(map[string]any)

	t          testing.TB
	mu         sync.Mutex
	signingKey *rsa.PrivateKey
	codes      map[string]pendingCode
	tokens     map[string]string // access token -> jkt of the bound key
	requests   []Request
	resources  map[string]*resource
	subs       *subscribers
	lastReg    map[string]any
}

// New starts a fake provider. It is shut down with t.Cleanup.
func New(t testing.TB) *Server {
	t.Helper()

	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("podtest: generating signing key: %v", err)
	}

	s := &Server{
		RequireAuth: true,
		t:           t,
		signingKey:  key,
		codes:       make(map[string]pendingCode),
		tokens:      make(map[string]string),
		resources:   make(map[string]*resource),
		subs:        newSubscribers(),
	}

	s.seed()

	s.Server = httptest.NewServer(s.routes())
	t.Cleanup(s.Close)

	return s
}

// Root returns the provider root URL with a trailing slash.
func (s *Server) Root() string {
	return s.URL + "/"
}

// WebID returns the WebID of the single test user.
func (s *Server) WebID() string {
	return s.URL + "/profile/card#me"
}

// Requests returns a copy of every recorded request.
func (s *Server) Requests() []Request {
	s.mu.Lock()
	defer s.mu.Unlock()

	return append([]Request(nil), s.requests...)
}

// RequestsTo returns the recorded requests with the given method and path.
func (s *Server) RequestsTo(method, path string) []Request {
	var out []Request

	for _, r := range s.Requests() {
		if r.Method == method && r.Path == path {
			out = append(out, r)
		}
	}

	return out
}

// LastRegistration returns the body of the latest registration request.
func (s *Server) LastRegistration() map[string]any {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.lastReg
}

func (s *Server) routes() http.Handler {
	r := chi.NewRouter()
	r.Use(s.record)

	r.Get("/.well-known/openid-configuration", s.handleDiscovery)

	r.Route("/.oidc", func(r chi.Router) {
		r.Post("/reg", s.handleRegister)
		r.Get("/auth", s.handleAuthorize)
		r.Post("/token", s.handleToken)
		r.Get("/jwks", s.handleJWKS)
	})

	r.Get("/.notifications", s.handleNotifications)

	r.Group(func(r chi.Router) {
		r.Use(s.requireToken)
		r.Get("/*", s.handleGet)
		r.Head("/*", s.handleGet)
		r.Post("/*", s.handlePost)
		r.Put("/*", s.handlePut)
		r.Delete("/*", s.handleDelete)
	})

	return r
}

// record captures every request, restoring the body for the handler.
func (s *Server) record(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body strings.Builder
		if r.Body != nil {
			_, _ = copyAndRestore(&body, r)
		}

		s.mu.Lock()
		s.requests = append(s.requests, Request{
			Method: r.Method,
			Path:   r.URL.Path,
			Header: r.Header.Clone(),
			Body:   body.String(),
		})
		s.mu.Unlock()

		next.ServeHTTP(w, r)
	})
}

func (s *Server) metadata() map[string]any {
	m := map[string]any{
		"issuer":                                s.Root(),
		"authorization_endpoint":                s.URL + "/.oidc/auth",
		"token_endpoint":                        s.URL + "/.oidc/token",
		"registration_endpoint":                 s.URL + "/.oidc/reg",
		"jwks_uri":                              s.URL + "/.oidc/jwks",
		"scopes_supported":                      []string{"openid", "offline_access", "webid"},
		"id_token_signing_alg_values_supported": []string{"RS256"},
		"dpop_signing_alg_values_supported":     []string{"RS256", "ES256"},
	}

	if s.Metadata != nil {
		s.Metadata(m)
	}

	return m
}

func (s *Server) handleDiscovery(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.metadata())
}

func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	var body map[string]any
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid_client_metadata"})
		return
	}

	s.mu.Lock()
	s.lastReg = body
	s.mu.Unlock()

	writeJSON(w, http.StatusCreated, map[string]any{
		"client_id":     ClientID,
		"client_secret": ClientSecret,
		"redirect_uris": body["redirect_uris"],
	})
}

// Authorize plays the user's consent for authURL and returns the
// redirect location carrying the code.
func (s *Server) Authorize(authURL string) (string, error) {
	u, err := url.Parse(authURL)
	if err != nil {
		return "", err
	}

	q := u.Query()
	code := randomHex(16)

	s.mu.Lock()
	s.codes[code] = pendingCode{
		clientID:    q.Get("client_id"),
		redirectURI: q.Get("redirect_uri"),
		challenge:   q.Get("code_challenge"),
	}
	s.mu.Unlock()

	redirect, err := url.Parse(q.Get("redirect_uri"))
	if err != nil {
		return "", err
	}

	rq := redirect.Query()
	rq.Set("code", code)
	rq.Set("state", q.Get("state"))
	redirect.RawQuery = rq.Encode()

	return redirect.String(), nil
}

// AuthorizeCode is Authorize returning only the code.
func (s *Server) AuthorizeCode(authURL string) string {
	loc, err := s.Authorize(authURL)
	if err != nil {
		s.t.Fatalf("podtest: authorize: %v", err)
	}

	u, _ := url.Parse(loc)

	return u.Query().Get("code")
}

func (s *Server) handleAuthorize(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	if q.Get("code_challenge_method") != "S256" || q.Get("code_challenge") == "" {
		http.Error(w, "PKCE required", http.StatusBadRequest)
		return
	}

	loc, err := s.Authorize(s.URL + r.URL.RequestURI())
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	http.Redirect(w, r, loc, http.StatusFound)
}

func (s *Server) tokenError(w http.ResponseWriter, code, desc string) {
	writeJSON(w, http.StatusBadRequest, map[string]string{
		"error":             code,
		"error_description": desc,
	})
}

func (s *Server) handleToken(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		s.tokenError(w, "invalid_request", err.Error())
		return
	}

	if s.TokenError != "" {
		s.tokenError(w, s.TokenError, s.TokenErrorDescription)
		return
	}

	proof, err := dpop.Decode(r.Header.Get(dpop.HeaderName))
	if err != nil {
		s.tokenError(w, "invalid_dpop_proof", err.Error())
		return
	}

	if proof.Claims.HTM != http.MethodPost || proof.Claims.HTU != s.URL+"/.oidc/token" {
		s.tokenError(w, "invalid_dpop_proof", "proof not bound to token endpoint")
		return
	}

	if r.PostForm.Get("grant_type") != "authorization_code" {
		s.tokenError(w, "unsupported_grant_type", "")
		return
	}

	if r.PostForm.Get("client_id") != ClientID || r.PostForm.Get("client_secret") != ClientSecret {
		s.tokenError(w, "invalid_client", "client authentication failed")
		return
	}

	code := r.PostForm.Get("code")

	s.mu.Lock()
	pending, ok := s.codes[code]
	delete(s.codes, code)
	s.mu.Unlock()

	if !ok {
		s.tokenError(w, "invalid_grant", "grant request is invalid")
		return
	}

	if pending.redirectURI != r.PostForm.Get("redirect_uri") {
		s.tokenError(w, "invalid_grant", "redirect_uri mismatch")
		return
	}

	sum := sha256.Sum256([]byte(r.PostForm.Get("code_verifier")))
	if base64.RawURLEncoding.EncodeToString(sum[:]) != pending.challenge {
		s.tokenError(w, "invalid_grant", "PKCE verification failed")
		return
	}

	jkt, err := thumbprint(proof.Header.JWK)
	if err != nil {
		s.tokenError(w, "invalid_dpop_proof", err.Error())
		return
	}

	access := randomHex(24)

	s.mu.Lock()
	s.tokens[access] = jkt
	s.mu.Unlock()

	idToken, err := s.signIDToken(pending.clientID)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"access_token": access,
		"token_type":   "DPoP",
		"expires_in":   3600,
		"id_token":     idToken,
		"scope":        "openid offline_access webid",
	})
}

type idTokenClaims struct {
	jwt.Claims
	WebID string `json:"webid"`
	AZP   string `json:"azp"`
}

func (s *Server) signIDToken(clientID string) (string, error) {
	signer, err := jose.NewSigner(
		jose.SigningKey{Algorithm: jose.RS256, Key: s.signingKey},
		(&jose.SignerOptions{}).WithType("JWT").WithHeader("kid", signingKeyID),
	)
	if err != nil {
		return "", err
	}

	now := time.Now()
	claims := idTokenClaims{
		Claims: jwt.Claims{
			Issuer:   s.Root(),
			Subject:  s.WebID(),
			Audience: jwt.Audience{clientID},
			Expiry:   jwt.NewNumericDate(now.Add(time.Hour)),
			IssuedAt: jwt.NewNumericDate(now),
		},
		WebID: s.WebID(),
		AZP:   clientID,
	}

	return jwt.Signed(signer).Claims(claims).Serialize()
}

func (s *Server) handleJWKS(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, jose.JSONWebKeySet{Keys: []jose.JSONWebKey{{
		Key:       &s.signingKey.PublicKey,
		KeyID:     signingKeyID,
		Algorithm: string(jose.RS256),
		Use:       "sig",
	}}})
}

// requireToken checks the DPoP-bound access token and proof of resource
// requests.
func (s *Server) requireToken(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !s.RequireAuth {
			next.ServeHTTP(w, r)
			return
		}

		scheme, token, _ := strings.Cut(r.Header.Get("Authorization"), " ")
		if !strings.EqualFold(scheme, "DPoP") || token == "" {
			http.Error(w, "missing DPoP token", http.StatusUnauthorized)
			return
		}

		proof, err := dpop.Decode(r.Header.Get(dpop.HeaderName))
		if err != nil {
			http.Error(w, "invalid proof: "+err.Error(), http.StatusUnauthorized)
			return
		}

		if proof.Claims.HTM != r.Method || proof.Claims.HTU != s.URL+r.URL.EscapedPath() {
			http.Error(w, "proof not bound to request", http.StatusUnauthorized)
			return
		}

		jkt, err := thumbprint(proof.Header.JWK)

		s.mu.Lock()
		bound, ok := s.tokens[token]
		s.mu.Unlock()

		if err != nil || !ok || bound != jkt {
			http.Error(w, "token not bound to proof key", http.StatusUnauthorized)
			return
		}

		next.ServeHTTP(w, r)
	})
}

func thumbprint(jwk *jose.JSONWebKey) (string, error) {
	tp, err := jwk.Thumbprint(crypto.SHA256)
	if err != nil {
		return "", err
	}

	return base64.RawURLEncoding.EncodeToString(tp), nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func randomHex(n int) string {
	b := make([]byte, n)
	_, _ = rand.Read(b)

	return hex.EncodeToString(b)
}
