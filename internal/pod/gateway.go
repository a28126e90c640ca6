// Package pod performs authenticated resource operations against a pod.
// A Gateway owns the login session, the signing key, and the container
// index. Every request carries a fresh DPoP proof bound to its method and
// target URI; folder names are resolved through the index before use.
package pod

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/elnormous/contenttype"

	"github.com/podgate/podgate/internal/authflow"
	"github.com/podgate/podgate/internal/containers"
	"github.com/podgate/podgate/internal/dpop"
	"github.com/podgate/podgate/internal/keys"
	"github.com/podgate/podgate/internal/linkeddata"
	"github.com/podgate/podgate/internal/poderr"
	"github.com/podgate/podgate/internal/session"
)

// maxBodyBytes bounds resource bodies read into memory.
const maxBodyBytes = 16 << 20

var turtleType = contenttype.NewMediaType(linkeddata.MediaType)

// Operation describes one completed resource request.
type Operation struct {
	Time   time.Time
	Op     string
	Method string
	URI    string
	Status int
	Err    string
}

// Recorder receives every resource operation the gateway performs.
// Defined at the consumer; the ledger package provides the implementation.
type Recorder interface {
	Record(ctx context.Context, op Operation) error
}

// Options configure a Gateway. Zero values are usable.
type Options struct {
	// HTTPClient carries provider and resource requests. Defaults to
	// http.DefaultClient.
	HTTPClient *http.Client

	// PodRoot is the storage root whose listing populates the container
	// index. Defaults to the provider URL.
	PodRoot string

	// UserAgent is sent on resource requests when set.
	UserAgent string

	// Auth configures the login client. Its HTTPClient and Logger default
	// to the gateway's.
	Auth authflow.Options

	Codec    linkeddata.Codec
	Recorder Recorder
	Logger   *slog.Logger
}

// Gateway is the single owner of a pod session. Not safe for concurrent use.
type Gateway struct {
	sess       *session.Session
	keys       *keys.Manager
	proofs     *dpop.Builder
	auth       *authflow.Client
	index      *containers.Index
	codec      linkeddata.Codec
	httpClient *http.Client
	recorder   Recorder
	logger     *slog.Logger
	podRoot    string
	userAgent  string

	now func() time.Time
}

// New builds a Gateway with an empty session, a fresh key manager, and an
// empty container index.
func New(opts Options) *Gateway {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	hc := opts.HTTPClient
	if hc == nil {
		hc = http.DefaultClient
	}

	codec := opts.Codec
	if codec == nil {
		codec = linkeddata.Turtle{}
	}

	authOpts := opts.Auth
	if authOpts.HTTPClient == nil {
		authOpts.HTTPClient = hc
	}

	if authOpts.Logger == nil {
		authOpts.Logger = logger
	}

	sess := session.New()
	km := keys.NewManager(logger)
	proofs := dpop.NewBuilder(km, dpop.NewNonceMemo(), logger)

	return &Gateway{
		sess:       sess,
		keys:       km,
		proofs:     proofs,
		auth:       authflow.NewClient(sess, km, proofs, authOpts),
		index:      containers.New(),
		codec:      codec,
		httpClient: hc,
		recorder:   opts.Recorder,
		logger:     logger,
		podRoot:    opts.PodRoot,
		userAgent:  opts.UserAgent,
		now:        time.Now,
	}
}

// Auth returns the login client sharing this gateway's session and key.
func (g *Gateway) Auth() *authflow.Client { return g.auth }

// Session returns the session owned by the gateway.
func (g *Gateway) Session() *session.Session { return g.sess }

// Index returns the container index.
func (g *Gateway) Index() *containers.Index { return g.index }

// Proofs returns the proof builder used for every request.
func (g *Gateway) Proofs() *dpop.Builder { return g.proofs }

// Root returns the storage root URI with a trailing slash.
func (g *Gateway) Root() (*url.URL, error) {
	raw := g.podRoot
	if raw == "" {
		raw = g.sess.ProviderURL
	}

	if raw == "" {
		return nil, poderr.Configuration("pod.Root", "no pod root: provider not discovered")
	}

	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return nil, poderr.Configuration("pod.Root", "invalid pod root %q", raw)
	}

	return withSlash(u), nil
}

// request is one resource call.
type request struct {
	op     string
	method string
	target *url.URL
	header http.Header
	body   string

	// anonymous allows the call without tokens; it is still authenticated
	// when tokens exist.
	anonymous bool
}

// response is a completed 2xx resource call.
type response struct {
	status int
	header http.Header
	body   []byte
}

// send performs r with a fresh proof. Non-2xx statuses, transport failures,
// and proof failures are logged and returned as *poderr.Error. No retries.
func (g *Gateway) send(ctx context.Context, r request) (*response, error) {
	htu := dpop.RequestURI(r.target)

	resp, err := g.sendOnce(ctx, r, htu)

	g.record(ctx, r, htu, resp, err)

	if err != nil {
		g.logger.Warn("resource request failed",
			slog.String("op", r.op),
			slog.String("method", r.method),
			slog.String("uri", htu),
			slog.String("error", err.Error()),
		)

		return nil, err
	}

	g.logger.Debug("resource request succeeded",
		slog.String("op", r.op),
		slog.String("method", r.method),
		slog.String("uri", htu),
		slog.Int("status", resp.status),
	)

	return resp, nil
}

func (g *Gateway) sendOnce(ctx context.Context, r request, htu string) (*response, error) {
	authenticated := g.sess.HasTokens()
	if !authenticated && !r.anonymous {
		return nil, poderr.Configuration(r.op, "not logged in (state %s)", g.sess.State)
	}

	var body io.Reader
	if r.body != "" {
		body = strings.NewReader(r.body)
	}

	req, err := http.NewRequestWithContext(ctx, r.method, htu, body)
	if err != nil {
		return nil, poderr.Wrap(poderr.ErrConfiguration, r.op, err)
	}

	for k, vs := range r.header {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}

	if g.userAgent != "" {
		req.Header.Set("User-Agent", g.userAgent)
	}

	if authenticated {
		proof, err := g.proofs.Build(r.method, htu)
		if err != nil {
			return nil, err
		}

		req.Header.Set("Authorization", "DPoP "+g.sess.AccessToken)
		req.Header.Set(dpop.HeaderName, proof)
	}

	resp, err := g.httpClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, &poderr.Error{Kind: poderr.ErrTransport, Op: r.op, Method: r.method, URI: htu, Description: "request canceled", Err: ctx.Err()}
		}

		return nil, &poderr.Error{Kind: poderr.ErrTransport, Op: r.op, Method: r.method, URI: htu, Err: err}
	}
	defer resp.Body.Close()

	if memo := g.proofs.Nonces(); memo != nil {
		memo.Observe(resp)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return nil, &poderr.Error{Kind: poderr.ErrTransport, Op: r.op, Method: r.method, URI: htu, Status: resp.StatusCode, Err: err}
	}

	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		return &response{status: resp.StatusCode}, poderr.FromResponse(r.op, r.method, htu, resp.StatusCode, data)
	}

	return &response{status: resp.StatusCode, header: resp.Header, body: data}, nil
}

func (g *Gateway) record(ctx context.Context, r request, htu string, resp *response, err error) {
	if g.recorder == nil {
		return
	}

	op := Operation{
		Time:   g.now().UTC(),
		Op:     r.op,
		Method: r.method,
		URI:    htu,
	}

	if resp != nil {
		op.Status = resp.status
	}

	if err != nil {
		op.Err = err.Error()
	}

	if recErr := g.recorder.Record(ctx, op); recErr != nil {
		g.logger.Warn("recording operation failed", slog.String("error", recErr.Error()))
	}
}

// fetchTurtle GETs target as Turtle and checks the response type.
func (g *Gateway) fetchTurtle(ctx context.Context, op string, target *url.URL, anonymous bool) (string, error) {
	resp, err := g.send(ctx, request{
		op:        op,
		method:    http.MethodGet,
		target:    target,
		header:    http.Header{"Accept": {linkeddata.MediaType}},
		anonymous: anonymous,
	})
	if err != nil {
		return "", err
	}

	if err := requireTurtle(resp.header); err != nil {
		return "", &poderr.Error{
			Kind:   poderr.ErrProtocol,
			Op:     op,
			Method: http.MethodGet,
			URI:    target.String(),
			Status: resp.status,
			Err:    err,
		}
	}

	return string(resp.body), nil
}

// requireTurtle reports an error unless the Content-Type header is
// text/turtle. A missing header is accepted.
func requireTurtle(h http.Header) error {
	if h.Get("Content-Type") == "" {
		return nil
	}

	ctype, err := contenttype.GetMediaType(&http.Request{Header: h})
	if err != nil {
		return err
	}

	if !ctype.Matches(turtleType) {
		return fmt.Errorf("response is %s/%s, not %s", ctype.Type, ctype.Subtype, linkeddata.MediaType)
	}

	return nil
}

// withSlash returns a copy of u whose path ends in "/".
func withSlash(u *url.URL) *url.URL {
	out := *u
	out.RawQuery = ""
	out.Fragment = ""

	if !strings.HasSuffix(out.Path, "/") {
		out.Path += "/"

		if out.RawPath != "" {
			out.RawPath += "/"
		}
	}

	return &out
}

// memberOf returns the URI of document name directly inside folder. A
// single trailing "/" names a child container. Names that would address
// anything outside folder are rejected.
func memberOf(op string, folder *url.URL, name string) (*url.URL, error) {
	if err := checkMemberName(op, name); err != nil {
		return nil, err
	}

	return withSlash(folder).JoinPath(name), nil
}

func checkMemberName(op, name string) error {
	seg := strings.TrimSuffix(name, "/")

	switch {
	case seg == "":
		return poderr.Configuration(op, "document name is empty")
	case seg == "." || seg == "..":
		return poderr.Configuration(op, "document name %q is a path segment", name)
	case strings.ContainsAny(seg, `/\`):
		return poderr.Configuration(op, "document name %q must not contain a path separator", name)
	}

	return nil
}
