// Package keys owns the session's RSA signing key pair. The pair is created
// lazily on first use, lives only in memory, and signs every DPoP proof and
// client assertion for the session.
package keys

import (
	"crypto/rand"
	"crypto/rsa"
	"io"
	"log/slog"
	"sync"

	"github.com/go-jose/go-jose/v4"

	"github.com/podgate/podgate/internal/poderr"
)

// Algorithm is the JWS algorithm used for every signature.
const Algorithm = jose.RS256

// keyBits is the RSA modulus size.
const keyBits = 2048

// Manager holds the session key pair. Safe for concurrent use.
type Manager struct {
	mu     sync.Mutex
	key    *rsa.PrivateKey
	random io.Reader
	logger *slog.Logger
}

// NewManager returns a Manager with no key. Call Generate, or let the first
// accessor generate one.
func NewManager(logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}

	return &Manager{random: rand.Reader, logger: logger}
}

// Generate creates a new key pair, replacing any previous one.
func (m *Manager) Generate() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.generateLocked()
}

func (m *Manager) generateLocked() error {
	key, err := rsa.GenerateKey(m.random, keyBits)
	if err != nil {
		return poderr.Wrap(poderr.ErrConfiguration, "keys.Generate", err)
	}

	m.key = key
	m.logger.Debug("generated session key pair", slog.Int("bits", keyBits))

	return nil
}

// Ready reports whether a key pair exists.
func (m *Manager) Ready() bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.key != nil
}

// privateKey returns the current key, generating one if needed.
func (m *Manager) privateKey() (*rsa.PrivateKey, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.key == nil {
		if err := m.generateLocked(); err != nil {
			return nil, err
		}
	}

	return m.key, nil
}

// PublicKey returns the public half of the pair.
func (m *Manager) PublicKey() (*rsa.PublicKey, error) {
	key, err := m.privateKey()
	if err != nil {
		return nil, err
	}

	return &key.PublicKey, nil
}

// PublicJWK returns the public key as a JWK with alg RS256.
func (m *Manager) PublicJWK() (jose.JSONWebKey, error) {
	key, err := m.privateKey()
	if err != nil {
		return jose.JSONWebKey{}, err
	}

	return jose.JSONWebKey{
		Key:       &key.PublicKey,
		Algorithm: string(Algorithm),
		Use:       "sig",
	}, nil
}

// PrivateJWK returns the full key pair as a JWK with alg RS256.
func (m *Manager) PrivateJWK() (jose.JSONWebKey, error) {
	key, err := m.privateKey()
	if err != nil {
		return jose.JSONWebKey{}, err
	}

	return jose.JSONWebKey{
		Key:       key,
		Algorithm: string(Algorithm),
		Use:       "sig",
	}, nil
}

// Signer returns a JWS signer over the private key that embeds the public
// JWK in every protected header. opts may be nil.
func (m *Manager) Signer(opts *jose.SignerOptions) (jose.Signer, error) {
	key, err := m.privateKey()
	if err != nil {
		return nil, err
	}

	jwk := jose.JSONWebKey{Key: &key.PublicKey, Algorithm: string(Algorithm)}

	if opts == nil {
		opts = &jose.SignerOptions{}
	}

	opts = opts.WithHeader("jwk", jwk)

	signer, err := jose.NewSigner(jose.SigningKey{Algorithm: Algorithm, Key: key}, opts)
	if err != nil {
		return nil, poderr.Wrap(poderr.ErrConfiguration, "keys.Signer", err)
	}

	return signer, nil
}
