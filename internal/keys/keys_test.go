package keys

import (
	"crypto"
	"crypto/rsa"
	"errors"
	"sync"
	"testing"

	"github.com/go-jose/go-jose/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/podgate/podgate/internal/poderr"
)

type failingReader struct{}

func (failingReader) Read([]byte) (int, error) { return 0, errors.New("entropy exhausted") }

func thumbprint(t *testing.T, jwk jose.JSONWebKey) string {
	t.Helper()

	tp, err := jwk.Thumbprint(crypto.SHA256)
	require.NoError(t, err)

	return string(tp)
}

func TestManager_LazyGeneration(t *testing.T) {
	m := NewManager(nil)
	assert.False(t, m.Ready())

	jwk, err := m.PublicJWK()
	require.NoError(t, err)
	assert.True(t, m.Ready())
	assert.Equal(t, "RS256", jwk.Algorithm)
	assert.True(t, jwk.IsPublic())
	assert.True(t, jwk.Valid())

	pub, ok := jwk.Key.(*rsa.PublicKey)
	require.True(t, ok)
	assert.Equal(t, 2048, pub.N.BitLen())
}

func TestManager_SameKeyAcrossCalls(t *testing.T) {
	m := NewManager(nil)

	first, err := m.PublicJWK()
	require.NoError(t, err)

	second, err := m.PublicJWK()
	require.NoError(t, err)

	assert.Equal(t, thumbprint(t, first), thumbprint(t, second))
}

func TestManager_GenerateReplacesKey(t *testing.T) {
	m := NewManager(nil)
	require.NoError(t, m.Generate())

	before, err := m.PublicJWK()
	require.NoError(t, err)

	require.NoError(t, m.Generate())

	after, err := m.PublicJWK()
	require.NoError(t, err)

	assert.NotEqual(t, thumbprint(t, before), thumbprint(t, after))
}

func TestManager_PrivateJWKMatchesPublic(t *testing.T) {
	m := NewManager(nil)

	priv, err := m.PrivateJWK()
	require.NoError(t, err)
	assert.False(t, priv.IsPublic())
	assert.Equal(t, "RS256", priv.Algorithm)

	pub, err := m.PublicJWK()
	require.NoError(t, err)
	assert.Equal(t, thumbprint(t, pub), thumbprint(t, priv.Public()))
}

func TestManager_GenerationFailureIsConfigurationError(t *testing.T) {
	m := NewManager(nil)
	m.random = failingReader{}

	_, err := m.PublicJWK()
	require.Error(t, err)
	assert.ErrorIs(t, err, poderr.ErrConfiguration)
	assert.False(t, m.Ready())
}

func TestManager_SignerEmbedsJWK(t *testing.T) {
	m := NewManager(nil)

	signer, err := m.Signer(nil)
	require.NoError(t, err)

	jws, err := signer.Sign([]byte("payload"))
	require.NoError(t, err)

	compact, err := jws.CompactSerialize()
	require.NoError(t, err)

	parsed, err := jose.ParseSigned(compact, []jose.SignatureAlgorithm{jose.RS256})
	require.NoError(t, err)
	require.Len(t, parsed.Signatures, 1)

	embedded := parsed.Signatures[0].Protected.JSONWebKey
	require.NotNil(t, embedded)
	assert.Equal(t, "RS256", embedded.Algorithm)

	pub, err := m.PublicKey()
	require.NoError(t, err)

	payload, err := parsed.Verify(pub)
	require.NoError(t, err)
	assert.Equal(t, "payload", string(payload))
}

func TestManager_ConcurrentFirstUse(t *testing.T) {
	m := NewManager(nil)

	var wg sync.WaitGroup

	prints := make([]string, 8)

	for i := range prints {
		wg.Add(1)

		go func() {
			defer wg.Done()

			jwk, err := m.PublicJWK()
			if err == nil {
				tp, _ := jwk.Thumbprint(crypto.SHA256)
				prints[i] = string(tp)
			}
		}()
	}

	wg.Wait()

	for _, p := range prints {
		assert.Equal(t, prints[0], p)
	}
}
