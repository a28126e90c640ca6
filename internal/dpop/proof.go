// Package dpop builds DPoP proof tokens (RFC 9449) that bind each HTTP
// request to the session key pair, and supplies an http.RoundTripper that
// attaches a fresh proof to every outgoing request.
package dpop

import (
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"time"

	"github.com/go-jose/go-jose/v4"
	"github.com/go-jose/go-jose/v4/jwt"
	"github.com/google/uuid"

	"github.com/podgate/podgate/internal/keys"
	"github.com/podgate/podgate/internal/poderr"
)

// TokenType is the typ header value of every proof.
const TokenType = "dpop+jwt"

// HeaderName is the request header carrying the proof.
const HeaderName = "DPoP"

// Claims is the proof payload. Nonce is only set when the server has
// handed out a DPoP-Nonce for the target origin.
type Claims struct {
	HTU   string `json:"htu"`
	HTM   string `json:"htm"`
	JTI   string `json:"jti"`
	IAT   int64  `json:"iat"`
	Nonce string `json:"nonce,omitempty"`
}

// Builder signs proofs with the session key pair. Proofs are never cached.
type Builder struct {
	keys   *keys.Manager
	nonces *NonceMemo
	logger *slog.Logger

	// now and newID are replaced in tests.
	now   func() time.Time
	newID func() string
}

// NewBuilder returns a Builder over km. nonces may be nil.
func NewBuilder(km *keys.Manager, nonces *NonceMemo, logger *slog.Logger) *Builder {
	if logger == nil {
		logger = slog.Default()
	}

	return &Builder{
		keys:   km,
		nonces: nonces,
		logger: logger,
		now:    time.Now,
		newID:  func() string { return uuid.NewString() },
	}
}

// Nonces returns the memo the builder consults, possibly nil.
func (b *Builder) Nonces() *NonceMemo {
	return b.nonces
}

// Build returns a signed proof for the request (method, targetURI).
// targetURI is used verbatim as htu; method is upper-cased into htm.
func (b *Builder) Build(method, targetURI string) (string, error) {
	if method == "" || targetURI == "" {
		return "", poderr.Configuration("dpop.Build", "method and target URI are required")
	}

	claims := Claims{
		HTU: targetURI,
		HTM: strings.ToUpper(method),
		JTI: b.newID(),
		IAT: b.now().Unix(),
	}

	if b.nonces != nil {
		claims.Nonce = b.nonces.Nonce(targetURI)
	}

	return b.sign(claims)
}

func (b *Builder) sign(claims any) (string, error) {
	signer, err := b.keys.Signer((&jose.SignerOptions{}).WithType(TokenType))
	if err != nil {
		return "", err
	}

	proof, err := jwt.Signed(signer).Claims(claims).Serialize()
	if err != nil {
		return "", poderr.Wrap(poderr.ErrConfiguration, "dpop.Build", err)
	}

	return proof, nil
}

// Header is the decoded protected header of a proof.
type Header struct {
	Type      string
	Algorithm string
	JWK       *jose.JSONWebKey
}

// Proof is a decoded and signature-checked proof.
type Proof struct {
	Header Header
	Claims Claims
	Raw    map[string]any
}

// Decode parses a proof, verifies it against its embedded public key and
// returns the header and claims. It does not check freshness.
func Decode(proof string) (*Proof, error) {
	tok, err := jwt.ParseSigned(proof, []jose.SignatureAlgorithm{keys.Algorithm})
	if err != nil {
		return nil, fmt.Errorf("dpop: parsing proof: %w", err)
	}

	if len(tok.Headers) != 1 {
		return nil, fmt.Errorf("dpop: expected one signature, got %d", len(tok.Headers))
	}

	h := tok.Headers[0]
	if h.JSONWebKey == nil {
		return nil, fmt.Errorf("dpop: proof has no embedded jwk")
	}

	typ, _ := h.ExtraHeaders[jose.HeaderType].(string)

	out := &Proof{
		Header: Header{Type: typ, Algorithm: h.Algorithm, JWK: h.JSONWebKey},
	}

	if err := tok.Claims(h.JSONWebKey.Key, &out.Claims, &out.Raw); err != nil {
		return nil, fmt.Errorf("dpop: verifying proof: %w", err)
	}

	return out, nil
}

// RequestURI returns the htu form of u: scheme, host and path with the
// query and fragment removed.
func RequestURI(u *url.URL) string {
	stripped := url.URL{
		Scheme:  u.Scheme,
		Host:    u.Host,
		Path:    u.Path,
		RawPath: u.RawPath,
	}

	return stripped.String()
}
