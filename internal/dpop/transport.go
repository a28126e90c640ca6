package dpop

import (
	"fmt"
	"log/slog"
	"net/http"
)

// Transport attaches a fresh proof, bound to the request's method and URL,
// to every request it carries. Server nonces seen in responses are fed back
// into the builder's memo.
type Transport struct {
	Builder *Builder
	Base    http.RoundTripper // nil means http.DefaultTransport
	Logger  *slog.Logger
}

// RoundTrip implements http.RoundTripper.
func (t *Transport) RoundTrip(req *http.Request) (*http.Response, error) {
	method := req.Method
	if method == "" {
		method = http.MethodGet
	}

	htu := RequestURI(req.URL)

	proof, err := t.Builder.Build(method, htu)
	if err != nil {
		// RoundTrippers close the body even on failure.
		if req.Body != nil {
			req.Body.Close()
		}

		return nil, fmt.Errorf("dpop: building proof for %s %s: %w", method, htu, err)
	}

	// RoundTrippers must not mutate the caller's request.
	out := req.Clone(req.Context())
	out.Header.Set(HeaderName, proof)

	if t.Logger != nil {
		t.Logger.Debug("attached dpop proof",
			slog.String("method", method),
			slog.String("htu", htu),
		)
	}

	base := t.Base
	if base == nil {
		base = http.DefaultTransport
	}

	resp, err := base.RoundTrip(out)
	if err != nil {
		return nil, err
	}

	if memo := t.Builder.Nonces(); memo != nil {
		memo.Observe(resp)
	}

	return resp, nil
}

// Client returns an *http.Client whose requests all carry proofs. base may
// be nil; its Timeout and transport are reused when present.
func Client(b *Builder, base *http.Client, logger *slog.Logger) *http.Client {
	c := &http.Client{}

	var rt http.RoundTripper
	if base != nil {
		*c = *base
		rt = base.Transport
	}

	c.Transport = &Transport{Builder: b, Base: rt, Logger: logger}

	return c
}
