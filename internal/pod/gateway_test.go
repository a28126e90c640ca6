package pod

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/podgate/podgate/internal/dpop"
	"github.com/podgate/podgate/internal/linkeddata"
	"github.com/podgate/podgate/internal/poderr"
	"github.com/podgate/podgate/internal/podtest"
	"github.com/podgate/podgate/internal/session"
)

const testRedirect = "http://localhost:9000/cb"

type fakeRecorder struct {
	mu  sync.Mutex
	ops []Operation
}

func (r *fakeRecorder) Record(_ context.Context, op Operation) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.ops = append(r.ops, op)

	return nil
}

// loggedIn returns a gateway that completed the full login against srv.
func loggedIn(t *testing.T, srv *podtest.Server, opts Options) *Gateway {
	t.Helper()

	if opts.HTTPClient == nil {
		opts.HTTPClient = srv.Client()
	}

	g := New(opts)
	ctx := context.Background()

	require.NoError(t, g.Auth().Discover(ctx, srv.URL))

	_, err := g.Auth().Register(ctx, []string{testRedirect}, "demo")
	require.NoError(t, err)

	authURL, err := g.Auth().PrepareLogin("")
	require.NoError(t, err)
	require.NoError(t, g.Auth().Exchange(ctx, srv.AuthorizeCode(authURL)))
	require.Equal(t, session.TokensIssued, g.Session().State)

	return g
}

func TestLoadContainers(t *testing.T) {
	srv := podtest.New(t)
	srv.PutResource("/todos/", "")
	srv.PutResource("/README", "<> a <#Doc> .")

	g := loggedIn(t, srv, Options{})
	require.NoError(t, g.LoadContainers(context.Background()))

	assert.Equal(t, 2, g.Index().Len())
	assert.True(t, g.Index().Contains("profile"))
	assert.True(t, g.Index().Contains("TODOS"))
	assert.False(t, g.Index().Contains("README"), "documents are not containers")

	u, err := g.Folder("todos")
	require.NoError(t, err)
	assert.Equal(t, srv.URL+"/todos/", u.String())
}

func TestLoadContainers_RebuildsIndex(t *testing.T) {
	srv := podtest.New(t)
	g := loggedIn(t, srv, Options{})
	ctx := context.Background()

	require.NoError(t, g.LoadContainers(ctx))
	require.Equal(t, 1, g.Index().Len())

	srv.PutResource("/a/", "")
	srv.PutResource("/b/", "")

	require.NoError(t, g.LoadContainers(ctx))

	var got []string
	for u := range g.Index().All() {
		got = append(got, u.Path)
	}

	assert.Equal(t, []string{"/profile/", "/a/", "/b/"}, got)
}

func TestLoadContainers_NotTurtle(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"not":"turtle"}`))
	}))
	t.Cleanup(srv.Close)

	g := New(Options{HTTPClient: srv.Client(), PodRoot: srv.URL})

	err := g.LoadContainers(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, poderr.ErrProtocol)
}

func TestLoadContainers_Unreachable(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	root := srv.URL
	srv.Close()

	g := New(Options{PodRoot: root})

	err := g.LoadContainers(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, poderr.ErrTransport)
}

func TestLoadContainers_NoRoot(t *testing.T) {
	g := New(Options{})
	assert.ErrorIs(t, g.LoadContainers(context.Background()), poderr.ErrConfiguration)
}

func TestGetOrCreateFolder_CreatesThenReloads(t *testing.T) {
	srv := podtest.New(t)
	g := loggedIn(t, srv, Options{})
	ctx := context.Background()

	require.Equal(t, 0, g.Index().Len())

	u, err := g.GetOrCreateFolder(ctx, "todos")
	require.NoError(t, err)
	assert.Equal(t, srv.URL+"/todos/", u.String())
	assert.True(t, g.Index().Contains("/todos/"))

	creates := srv.RequestsTo(http.MethodPost, "/")
	require.Len(t, creates, 1)
	assert.Equal(t, "todos", creates[0].Header.Get("Slug"))
	assert.Contains(t, creates[0].Header.Get("Link"), "ldp#BasicContainer")
	assert.Equal(t, "text/turtle", creates[0].Header.Get("Content-Type"))

	desc, err := linkeddata.Turtle{}.Parse(creates[0].Body, srv.URL+"/todos/")
	require.NoError(t, err)
	titles := linkeddata.ObjectsOf(desc, srv.URL+"/todos/", dcTitle)
	require.Len(t, titles, 1)
	assert.Equal(t, "Basic container", titles[0].Value)

	reloads := srv.RequestsTo(http.MethodGet, "/")
	require.Len(t, reloads, 1)

	// Known folders are served from the index.
	again, err := g.GetOrCreateFolder(ctx, "Todos")
	require.NoError(t, err)
	assert.Equal(t, u.String(), again.String())
	assert.Len(t, srv.RequestsTo(http.MethodPost, "/"), 1)
	assert.Len(t, srv.RequestsTo(http.MethodGet, "/"), 1)
}

func TestGetOrCreateFolder_ProviderRenames(t *testing.T) {
	srv := podtest.New(t)
	srv.PutResource("/todos/", "")

	g := loggedIn(t, srv, Options{})

	// The index is stale: the provider already has todos/ and picks
	// another name for the new container. The reload finds the original.
	u, err := g.GetOrCreateFolder(context.Background(), "todos")
	require.NoError(t, err)
	assert.Equal(t, "/todos/", u.Path)
	assert.Equal(t, 3, g.Index().Len())
}

func TestCreateFolder_EmptyName(t *testing.T) {
	srv := podtest.New(t)
	g := loggedIn(t, srv, Options{})

	_, err := g.CreateFolder(context.Background(), "/")
	assert.ErrorIs(t, err, poderr.ErrConfiguration)
}

func TestDocumentLifecycle(t *testing.T) {
	srv := podtest.New(t)
	g := loggedIn(t, srv, Options{})
	ctx := context.Background()

	_, err := g.GetOrCreateFolder(ctx, "todos")
	require.NoError(t, err)

	const first = `<#t1> <http://schema.org/text> "milk" .`

	loc, err := g.CreateDocument(ctx, "todos", "list", first)
	require.NoError(t, err)
	assert.Equal(t, srv.URL+"/todos/list", loc)

	body, err := g.GetDocument(ctx, "todos", "list")
	require.NoError(t, err)
	assert.Equal(t, first, body)

	const second = `<#t1> <http://schema.org/text> "oat milk" .`
	require.NoError(t, g.UpdateDocument(ctx, "todos", "list", second))

	stored, ok := srv.Resource("/todos/list")
	require.True(t, ok)
	assert.Equal(t, second, stored)

	require.NoError(t, g.DeleteDocument(ctx, "todos", "list"))

	_, err = g.GetDocument(ctx, "todos", "list")
	require.Error(t, err)
	assert.ErrorIs(t, err, poderr.ErrNotFound)

	var perr *poderr.Error
	require.ErrorAs(t, err, &perr)
	assert.Equal(t, http.StatusNotFound, perr.Status)
	assert.Equal(t, http.MethodGet, perr.Method)
	assert.Equal(t, srv.URL+"/todos/list", perr.URI)
}

func TestCreateDocument_Headers(t *testing.T) {
	srv := podtest.New(t)
	g := loggedIn(t, srv, Options{UserAgent: "podgate-test/1"})
	ctx := context.Background()

	_, err := g.GetOrCreateFolder(ctx, "todos")
	require.NoError(t, err)

	_, err = g.CreateDocument(ctx, "todos", "list", "<> a <#List> .")
	require.NoError(t, err)

	reqs := srv.RequestsTo(http.MethodPost, "/todos/")
	require.Len(t, reqs, 1)

	h := reqs[0].Header
	assert.Equal(t, "DPoP "+g.Session().AccessToken, h.Get("Authorization"))
	assert.Equal(t, "text/turtle", h.Get("Content-Type"))
	assert.Equal(t, "list", h.Get("Slug"))
	assert.Equal(t, linkResource, h.Get("Link"))
	assert.Equal(t, "podgate-test/1", h.Get("User-Agent"))

	proof, err := dpop.Decode(h.Get(dpop.HeaderName))
	require.NoError(t, err)
	assert.Equal(t, http.MethodPost, proof.Claims.HTM)
	assert.Equal(t, srv.URL+"/todos/", proof.Claims.HTU)
}

func TestEveryRequestGetsFreshProof(t *testing.T) {
	srv := podtest.New(t)
	g := loggedIn(t, srv, Options{})
	ctx := context.Background()

	require.NoError(t, g.LoadContainers(ctx))
	require.NoError(t, g.LoadContainers(ctx))

	reqs := srv.RequestsTo(http.MethodGet, "/")
	require.Len(t, reqs, 2)

	p1 := reqs[0].Header.Get(dpop.HeaderName)
	p2 := reqs[1].Header.Get(dpop.HeaderName)
	assert.NotEqual(t, p1, p2)

	d1, err := dpop.Decode(p1)
	require.NoError(t, err)
	d2, err := dpop.Decode(p2)
	require.NoError(t, err)
	assert.NotEqual(t, d1.Claims.JTI, d2.Claims.JTI)
}

func TestDocumentNameEscaping(t *testing.T) {
	srv := podtest.New(t)
	g := loggedIn(t, srv, Options{})
	ctx := context.Background()

	_, err := g.GetOrCreateFolder(ctx, "notes")
	require.NoError(t, err)

	require.NoError(t, g.UpdateDocument(ctx, "notes", "my notes", "<> a <#Note> ."))

	reqs := srv.RequestsTo(http.MethodPut, "/notes/my notes")
	require.Len(t, reqs, 1)

	proof, err := dpop.Decode(reqs[0].Header.Get(dpop.HeaderName))
	require.NoError(t, err)
	assert.Equal(t, srv.URL+"/notes/my%20notes", proof.Claims.HTU)

	body, err := g.GetDocument(ctx, "notes", "my notes")
	require.NoError(t, err)
	assert.Equal(t, "<> a <#Note> .", body)
}

func TestDocumentName_StaysInFolder(t *testing.T) {
	srv := podtest.New(t)
	g := loggedIn(t, srv, Options{})
	ctx := context.Background()

	_, err := g.GetOrCreateFolder(ctx, "notes")
	require.NoError(t, err)

	before := len(srv.Requests())

	for _, name := range []string{"../escaped.ttl", "..", ".", "", "/", "a/b", `a\b`, "../"} {
		t.Run(name, func(t *testing.T) {
			assert.ErrorIs(t, g.UpdateDocument(ctx, "notes", name, "<> a <#Note> ."), poderr.ErrConfiguration)
			assert.ErrorIs(t, g.DeleteDocument(ctx, "notes", name), poderr.ErrConfiguration)

			_, err := g.GetDocument(ctx, "notes", name)
			assert.ErrorIs(t, err, poderr.ErrConfiguration)

			_, err = g.CreateDocument(ctx, "notes", name, "<> a <#Note> .")
			assert.ErrorIs(t, err, poderr.ErrConfiguration)
		})
	}

	assert.Len(t, srv.Requests(), before)
	assert.Empty(t, srv.RequestsTo(http.MethodPut, "/escaped.ttl"))
}

func TestFolderNotFound(t *testing.T) {
	srv := podtest.New(t)
	g := loggedIn(t, srv, Options{})
	before := len(srv.Requests())

	_, err := g.GetDocument(context.Background(), "missing", "x")
	require.Error(t, err)
	assert.ErrorIs(t, err, poderr.ErrNotFound)
	assert.Contains(t, err.Error(), "folder")

	assert.ErrorIs(t, g.UpdateDocument(context.Background(), "missing", "x", "y"), poderr.ErrNotFound)
	assert.ErrorIs(t, g.DeleteDocument(context.Background(), "missing", "x"), poderr.ErrNotFound)

	_, err = g.CreateDocument(context.Background(), "missing", "x", "y")
	assert.ErrorIs(t, err, poderr.ErrNotFound)

	assert.Len(t, srv.Requests(), before, "nothing is sent for unknown folders")
}

func TestWritesRequireLogin(t *testing.T) {
	srv := podtest.New(t)
	g := New(Options{HTTPClient: srv.Client(), PodRoot: srv.URL})

	u, err := g.Root()
	require.NoError(t, err)
	require.NoError(t, g.Index().Add(u.JoinPath("todos/")))

	err = g.UpdateDocument(context.Background(), "todos", "list", "<> a <#L> .")
	require.Error(t, err)
	assert.ErrorIs(t, err, poderr.ErrConfiguration)
	assert.Empty(t, srv.RequestsTo(http.MethodPut, "/todos/list"))
}

func TestUnauthorizedStatus(t *testing.T) {
	srv := podtest.New(t)
	g := loggedIn(t, srv, Options{})
	ctx := context.Background()
	require.NoError(t, g.LoadContainers(ctx))

	g.Session().AccessToken = "revoked"

	_, err := g.GetDocument(ctx, "profile", "card")
	require.Error(t, err)
	assert.ErrorIs(t, err, poderr.ErrAuthentication)
}

func TestDeleteNonEmptyContainer(t *testing.T) {
	srv := podtest.New(t)
	srv.PutResource("/todos/", "")
	srv.PutResource("/todos/sub/", "")
	srv.PutResource("/todos/sub/x", "")

	g := loggedIn(t, srv, Options{})
	ctx := context.Background()
	require.NoError(t, g.LoadContainers(ctx))

	err := g.DeleteDocument(ctx, "todos", "sub/")
	require.Error(t, err)
	assert.ErrorIs(t, err, poderr.ErrProtocol)

	var perr *poderr.Error
	require.ErrorAs(t, err, &perr)
	assert.Equal(t, http.StatusConflict, perr.Status)
}

func TestRecorder(t *testing.T) {
	srv := podtest.New(t)
	rec := &fakeRecorder{}
	g := loggedIn(t, srv, Options{Recorder: rec})
	ctx := context.Background()

	require.NoError(t, g.LoadContainers(ctx))
	_, err := g.GetDocument(ctx, "profile", "nope")
	require.Error(t, err)

	rec.mu.Lock()
	defer rec.mu.Unlock()

	require.Len(t, rec.ops, 2)
	assert.Equal(t, "pod.LoadContainers", rec.ops[0].Op)
	assert.Equal(t, http.StatusOK, rec.ops[0].Status)
	assert.Empty(t, rec.ops[0].Err)
	assert.False(t, rec.ops[0].Time.IsZero())

	assert.Equal(t, http.MethodGet, rec.ops[1].Method)
	assert.Equal(t, srv.URL+"/profile/nope", rec.ops[1].URI)
	assert.Equal(t, http.StatusNotFound, rec.ops[1].Status)
	assert.True(t, strings.Contains(rec.ops[1].Err, "404"))
}
