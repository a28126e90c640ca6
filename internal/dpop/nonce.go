package dpop

import (
	"net/http"
	"net/url"
	"strings"
	"sync"
)

// NonceHeader is the response header a server uses to hand out a nonce.
const NonceHeader = "DPoP-Nonce"

// NonceMemo remembers the latest server-provided nonce per origin. A
// remembered nonce is added to the next proof for that origin; nothing is
// retried automatically.
type NonceMemo struct {
	mu     sync.Mutex
	nonces map[string]string
}

// NewNonceMemo returns an empty memo.
func NewNonceMemo() *NonceMemo {
	return &NonceMemo{nonces: make(map[string]string)}
}

// Observe records the DPoP-Nonce header of resp, if present.
func (m *NonceMemo) Observe(resp *http.Response) {
	if resp == nil || resp.Request == nil {
		return
	}

	nonce := resp.Header.Get(NonceHeader)
	if nonce == "" {
		return
	}

	m.Set(resp.Request.URL.String(), nonce)
}

// Set stores nonce for the origin of rawURI.
func (m *NonceMemo) Set(rawURI, nonce string) {
	origin := originOf(rawURI)
	if origin == "" {
		return
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	m.nonces[origin] = nonce
}

// Nonce returns the remembered nonce for the origin of rawURI, or "".
func (m *NonceMemo) Nonce(rawURI string) string {
	origin := originOf(rawURI)

	m.mu.Lock()
	defer m.mu.Unlock()

	return m.nonces[origin]
}

func originOf(rawURI string) string {
	u, err := url.Parse(rawURI)
	if err != nil || u.Host == "" {
		return ""
	}

	return strings.ToLower(u.Scheme) + "://" + strings.ToLower(u.Host)
}
