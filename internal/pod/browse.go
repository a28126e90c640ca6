package pod

import (
	"context"
	"net/http"
	"net/url"
	"path"
	"strings"

	"github.com/podgate/podgate/internal/linkeddata"
	"github.com/podgate/podgate/internal/poderr"
)

// profilePath is where providers of this family publish the user profile
// when the identity token carries no WebID.
const profilePath = "profile/card#me"

// ListContainer returns the members of folder's listing: every IRI subject
// other than the container itself, in listing order.
func (g *Gateway) ListContainer(ctx context.Context, folder string) ([]*url.URL, error) {
	const op = "pod.ListContainer"

	dir, err := g.Folder(folder)
	if err != nil {
		return nil, err
	}

	return g.listURL(ctx, op, withSlash(dir))
}

// ListURL lists the container at an absolute URI without consulting the
// index.
func (g *Gateway) ListURL(ctx context.Context, container *url.URL) ([]*url.URL, error) {
	return g.listURL(ctx, "pod.ListURL", withSlash(container))
}

func (g *Gateway) listURL(ctx context.Context, op string, dir *url.URL) ([]*url.URL, error) {
	text, err := g.fetchTurtle(ctx, op, dir, false)
	if err != nil {
		return nil, err
	}

	triples, err := g.codec.Parse(text, dir.String())
	if err != nil {
		return nil, &poderr.Error{Kind: poderr.ErrProtocol, Op: op, Method: http.MethodGet, URI: dir.String(), Description: "listing is not valid turtle", Err: err}
	}

	var out []*url.URL

	for _, s := range linkeddata.SubjectIRIs(triples) {
		u, err := url.Parse(s)
		if err != nil || u.Path == dir.Path {
			continue
		}

		out = append(out, u)
	}

	return out, nil
}

// ContainerHasFile reports whether folder lists a member named name. Both
// documents and sub-containers match.
func (g *Gateway) ContainerHasFile(ctx context.Context, folder, name string) (bool, error) {
	members, err := g.ListContainer(ctx, folder)
	if err != nil {
		return false, err
	}

	want := strings.Trim(name, "/")

	for _, m := range members {
		if MemberName(m) == want {
			return true, nil
		}
	}

	return false, nil
}

// MemberName returns the last path segment of a member URI, unescaped and
// without a trailing "/".
func MemberName(u *url.URL) string {
	trimmed := strings.TrimSuffix(u.Path, "/")
	if trimmed == "" {
		return ""
	}

	return path.Base(trimmed)
}

// WebID returns the logged-in user's WebID, falling back to the profile
// location under the provider root.
func (g *Gateway) WebID() (string, error) {
	if id, err := g.auth.WebID(); err == nil {
		return id, nil
	}

	root, err := g.Root()
	if err != nil {
		return "", err
	}

	return root.String() + profilePath, nil
}

// UserName reads the user's profile and returns the first name literal
// (a predicate whose fragment is "fn"), preferring statements about the
// WebID itself.
func (g *Gateway) UserName(ctx context.Context) (string, error) {
	const op = "pod.UserName"

	webID, err := g.WebID()
	if err != nil {
		return "", err
	}

	profile, err := url.Parse(webID)
	if err != nil {
		return "", poderr.Configuration(op, "invalid WebID %q", webID)
	}

	doc := *profile
	doc.Fragment = ""

	text, err := g.fetchTurtle(ctx, op, &doc, true)
	if err != nil {
		return "", err
	}

	triples, err := g.codec.Parse(text, doc.String())
	if err != nil {
		return "", &poderr.Error{Kind: poderr.ErrProtocol, Op: op, URI: doc.String(), Description: "profile is not valid turtle", Err: err}
	}

	var fallback string

	for _, t := range triples {
		if t.Object.Kind != linkeddata.Literal || linkeddata.Fragment(t.Predicate.Value) != "fn" {
			continue
		}

		if t.Subject.Value == webID {
			return t.Object.Value, nil
		}

		if fallback == "" {
			fallback = t.Object.Value
		}
	}

	if fallback == "" {
		return "", poderr.NotFound(op, "profile %s has no name", doc.String())
	}

	return fallback, nil
}

// UpdatesVia returns the notification endpoint advertised for folder.
func (g *Gateway) UpdatesVia(ctx context.Context, folder string) (string, error) {
	const op = "pod.UpdatesVia"

	dir, err := g.Folder(folder)
	if err != nil {
		return "", err
	}

	resp, err := g.send(ctx, request{
		op:     op,
		method: http.MethodHead,
		target: withSlash(dir),
		header: http.Header{"Accept": {linkeddata.MediaType}},
	})
	if err != nil {
		return "", err
	}

	ws := resp.header.Get("Updates-Via")
	if ws == "" {
		return "", poderr.Protocol(op, "%s advertises no Updates-Via endpoint", dir)
	}

	return ws, nil
}
